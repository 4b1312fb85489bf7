package voice

import (
	"math/rand"
	"sync"
	"time"
)

// ReconnectOptions configures the backoff and retry ceiling used by the
// reconnect policy (C5). All fields are required; see DefaultReconnectOptions
// for sensible values.
type ReconnectOptions struct {
	FirstBackoff time.Duration
	MaxBackoff   time.Duration
	Factor       float64
	// Jitter is a fraction of the computed backoff added as random noise,
	// e.g. 0.1 adds up to 10% extra delay.
	Jitter float64
	// MaxAttempts caps consecutive retries; the count resets on every
	// CONNECTED (see ReconnectContext.Reset). Zero means unlimited.
	MaxAttempts uint32
}

// DefaultReconnectOptions mirrors the backoff shape the teacher's
// commented-out Reconnect() sketched by hand (double each attempt,
// capped, unlimited attempts) turned into configurable, testable values.
func DefaultReconnectOptions() ReconnectOptions {
	return ReconnectOptions{
		FirstBackoff: time.Second,
		MaxBackoff:   120 * time.Second,
		Factor:       2.0,
		Jitter:       0.1,
		MaxAttempts:  0,
	}
}

// ReconnectContext is the mutable per-`start` retry state: attempts made
// and the backoff to use for the next one. It is created once per start
// and reset on every successful CONNECTED.
type ReconnectContext struct {
	mu          sync.Mutex
	attempts    uint32
	nextBackoff time.Duration
	opts        ReconnectOptions
}

// NewReconnectContext creates a context seeded with opts.FirstBackoff.
func NewReconnectContext(opts ReconnectOptions) *ReconnectContext {
	return &ReconnectContext{nextBackoff: opts.FirstBackoff, opts: opts}
}

// Reset restores the context to its initial state, called whenever the
// state machine reaches CONNECTED.
func (c *ReconnectContext) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attempts = 0
	c.nextBackoff = c.opts.FirstBackoff
}

// Attempts returns the number of retries taken since the last Reset.
func (c *ReconnectContext) Attempts() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.attempts
}

// advance records one more attempt and returns the backoff to wait
// before it, then grows nextBackoff by Factor (capped at MaxBackoff,
// plus jitter) for the attempt after that (P6).
func (c *ReconnectContext) advance() (backoff time.Duration, attempts uint32, exceeded bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.attempts++
	backoff = c.nextBackoff

	grown := time.Duration(float64(c.nextBackoff) * c.opts.Factor)
	if grown > c.opts.MaxBackoff {
		grown = c.opts.MaxBackoff
	}
	if c.opts.Jitter > 0 {
		jitterRange := float64(grown) * c.opts.Jitter
		grown += time.Duration(rand.Float64() * jitterRange)
	}
	c.nextBackoff = grown

	exceeded = c.opts.MaxAttempts > 0 && c.attempts > c.opts.MaxAttempts
	return backoff, c.attempts, exceeded
}

// ActionKind discriminates the two shapes reconnectAction can take.
type ActionKind int

const (
	ActionStop ActionKind = iota
	ActionRetry
)

// reconnectAction is the pure result of classify: either stop (optionally
// with a terminal cause) or retry into a specific next state with a
// computed backoff.
type reconnectAction struct {
	Kind      ActionKind
	Cause     error
	NextState State
	Backoff   time.Duration
	Attempts  uint32
}

// classify is C5: a pure function from (whether CONNECTED was ever
// reached this attempt, the close status, the triggering cause, and the
// shared retry context) to the next Action. It never touches a
// scheduler, channel, or socket, so it is directly unit-testable.
func classify(reachedConnected bool, status CloseStatus, cause error, ctx *ReconnectContext) reconnectAction {
	if !status.Code.retryable() {
		return reconnectAction{Kind: ActionStop, Cause: cause}
	}

	backoff, attempts, exceeded := ctx.advance()
	if exceeded {
		return reconnectAction{Kind: ActionStop, Cause: cause}
	}

	next := StateConnecting
	if reachedConnected {
		next = StateResuming
	}
	return reconnectAction{Kind: ActionRetry, NextState: next, Backoff: backoff, Attempts: attempts}
}
