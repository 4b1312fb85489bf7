package voice

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// disconnectBehavior is the driver-internal disposition handleClose
// reaches for one attempt (glossary: DisconnectBehavior). STOP* dispose
// every resource and complete the disconnect notifier; RETRY* re-enter
// connect under the backoff the reconnect policy computed (or
// immediately, for the abrupt variants).
type disconnectBehavior int

const (
	behaviorStop disconnectBehavior = iota
	behaviorStopAbrupt
	behaviorRetry
	behaviorRetryAbrupt
)

func (b disconnectBehavior) String() string {
	switch b {
	case behaviorStop:
		return "STOP"
	case behaviorStopAbrupt:
		return "STOP_ABRUPTLY"
	case behaviorRetry:
		return "RETRY"
	case behaviorRetryAbrupt:
		return "RETRY_ABRUPTLY"
	default:
		return "UNKNOWN"
	}
}

type externalRequest int

const (
	requestDisconnect externalRequest = iota
	requestReconnect
)

var (
	errExternalDisconnect = errors.New("voice: disconnect requested")
	errExternalReconnect  = errors.New("voice: reconnect requested")
)

// Client drives one voice gateway session's lifecycle end to end (C7):
// WebSocket control plane, UDP media plane, heartbeat, resume/reconnect,
// and server migration. Construct with NewClient and call Start exactly
// once (invariant 5); Start returns a Connection (C8) once the first
// attempt reaches CONNECTED, or an error if it terminates before that.
type Client struct {
	opts VoiceGatewayOptions

	startMu sync.Mutex
	started bool

	serverOpts atomic.Pointer[VoiceServerOptions]
	session    atomic.Pointer[Session]
	ssrc       atomic.Uint32

	states *latestBroadcaster[State]
	events *latestBroadcaster[VoiceGatewayEvent]

	// mediaSocket and transformer persist across a resume (they are only
	// destroyed when an attempt transitions back to a fresh CONNECTING,
	// per invariant 1) but not across a full stop.
	mediaSocket atomic.Pointer[Socket]
	transformer atomic.Pointer[PacketTransformer]

	reconnectCtx *ReconnectContext

	disconnectCh   chan error
	disconnectOnce sync.Once

	externalCh chan externalRequest

	serverUpdateCh  <-chan VoiceServerOptions
	sessionUpdateCh <-chan Session
}

// NewClient constructs a driver for one guild's voice session. Call Start
// to begin connecting.
func NewClient(opts VoiceGatewayOptions) *Client {
	opts = opts.withDefaults()
	so := opts.ServerOptions
	sess := opts.Session

	c := &Client{
		opts:         opts,
		states:       newLatestBroadcaster[State](),
		events:       newLiveBroadcaster[VoiceGatewayEvent](),
		disconnectCh: make(chan error, 1),
		externalCh:   make(chan externalRequest, 1),
		reconnectCtx: NewReconnectContext(opts.ReconnectOptions),
	}
	c.serverOpts.Store(&so)
	c.session.Store(&sess)
	return c
}

// Start begins the connect/retry lifecycle and blocks until the first
// attempt reaches CONNECTED or terminates. It may be called only once per
// Client (invariant 5); subsequent calls return ErrAlreadyStarted
// deterministically.
func (c *Client) Start(ctx context.Context) (*Connection, error) {
	c.startMu.Lock()
	if c.started {
		c.startMu.Unlock()
		return nil, ErrAlreadyStarted
	}
	c.started = true
	c.startMu.Unlock()

	if c.opts.ServerUpdateTask != nil {
		c.serverUpdateCh = c.opts.ServerUpdateTask.Subscribe(ctx, c.opts.GuildID)
	}
	if c.opts.StateUpdateTask != nil {
		c.sessionUpdateCh = c.opts.StateUpdateTask.Subscribe(ctx, c.opts.GuildID)
		go c.watchSessionUpdates(ctx)
	}

	ready := make(chan error, 1)
	go c.run(ctx, ready)

	select {
	case err := <-ready:
		if err != nil {
			return nil, err
		}
		return newConnection(c), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// watchSessionUpdates applies host-signaled session id changes in place.
// Per design notes §9, a changed session id does not itself tear down and
// rebuild the running session; it is recorded for the next attempt that
// needs it (Identify/Resume).
func (c *Client) watchSessionUpdates(ctx context.Context) {
	entry := c.opts.Logger.WithField("guild_id", c.opts.GuildID)
	for {
		select {
		case sess, ok := <-c.sessionUpdateCh:
			if !ok {
				return
			}
			entry.Infof("session id updated to %s", sess.SessionID)
			c.session.Store(&sess)
		case <-ctx.Done():
			return
		}
	}
}

// run is the outer retry loop: it repeatedly attempts connect(), classifies
// the result via the reconnect policy, and either stops for good or waits
// out a backoff before trying again.
func (c *Client) run(ctx context.Context, ready chan error) {
	state := StateConnecting
	firstAttempt := true

	for {
		attemptID := uuid.New().String()
		logCtx := logContext{guildID: c.opts.GuildID, attemptID: attemptID}

		reachedConnected, status, err := c.connect(ctx, state, logCtx, ready, &firstAttempt)

		behavior, nextState, wait := c.decideBehavior(reachedConnected, status, err)
		logCtx.entry(c.opts.Logger, "driver").
			WithField("behavior", behavior.String()).
			WithField("close", status.String()).
			Debug("attempt ended")

		switch behavior {
		case behaviorStop:
			c.finish(firstAttempt, ready, nil)
			return
		case behaviorStopAbrupt:
			c.finish(firstAttempt, ready, err)
			return
		case behaviorRetry, behaviorRetryAbrupt:
			if nextState == StateConnecting {
				c.discardMedia()
			}
			c.states.publish(nextState)
			if behavior == behaviorRetry {
				if waitErr := c.waitBackoff(ctx, wait); waitErr != nil {
					c.finish(firstAttempt, ready, waitErr)
					return
				}
			}
			state = nextState
		}
	}
}

// waitBackoff sleeps for d, applying any server migration that arrives
// while idle between attempts so the next connect() dials the new
// endpoint.
func (c *Client) waitBackoff(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return nil
		case so, ok := <-c.serverUpdateCh:
			if ok {
				c.serverOpts.Store(&so)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (c *Client) discardMedia() {
	if sock := c.mediaSocket.Swap(nil); sock != nil {
		sock.Close()
	}
	c.transformer.Store(nil)
}

// finish completes the disconnect notifier exactly once, disposes any
// retained media resources, and notifies the host's disconnect task. If
// Start never observed a successful CONNECTED, it also unblocks Start
// with err.
func (c *Client) finish(firstAttempt bool, ready chan error, err error) {
	c.discardMedia()
	c.states.publish(StateDisconnected)
	c.disconnectOnce.Do(func() {
		c.disconnectCh <- err
		close(c.disconnectCh)
	})
	if firstAttempt {
		ready <- err
	}
	if c.opts.DisconnectTask != nil {
		c.opts.DisconnectTask.OnDisconnect(c.opts.GuildID, err)
	}
}

// decideBehavior maps a finished attempt's outcome to a DisconnectBehavior,
// applying the special cases in spec.md §7 (clean 4014, server migration,
// socket setup/timeout escalation, protocol errors) before falling back to
// the general reconnect policy (C5).
func (c *Client) decideBehavior(reachedConnected bool, status CloseStatus, err error) (disconnectBehavior, State, time.Duration) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// The host's own ctx ended the attempt (spec.md §5 Cancellation):
		// a clean STOP(null), not a candidate for the reconnect policy.
		return behaviorStop, StateDisconnected, 0
	}
	if errors.Is(err, errExternalDisconnect) {
		return behaviorStop, StateDisconnected, 0
	}
	if errors.Is(err, errExternalReconnect) {
		return behaviorRetryAbrupt, StateResuming, 0
	}

	var migration *ServerUpdateReconnectError
	if errors.As(err, &migration) {
		return behaviorRetryAbrupt, StateConnecting, 0
	}

	var protoErr *ProtocolError
	if errors.As(err, &protoErr) {
		return behaviorStopAbrupt, StateDisconnected, 0
	}

	if escalates(err) {
		action := classify(reachedConnected, status, err, c.reconnectCtx)
		if action.Kind == ActionStop {
			return behaviorStopAbrupt, StateDisconnected, 0
		}
		return behaviorRetryAbrupt, action.NextState, 0
	}

	if status.Code == CloseCodeDisconnected {
		return behaviorStop, StateDisconnected, 0
	}

	action := classify(reachedConnected, status, err, c.reconnectCtx)
	if action.Kind == ActionStop {
		return behaviorStop, StateDisconnected, 0
	}
	return behaviorRetry, action.NextState, action.Backoff
}

// escalates reports whether err is a socket-setup or timeout failure,
// which bypass the normal backoff wait and retry immediately (or stop
// immediately once the reconnect policy's attempt ceiling is hit).
func escalates(err error) bool {
	var setupErr *SocketSetupError
	var timeoutErr *TimeoutError
	return errors.As(err, &setupErr) || errors.As(err, &timeoutErr)
}

// connect runs one connection attempt: dial, optionally resume, then drive
// the receiver/heartbeat/writer pipelines until one of them ends. It
// returns whether CONNECTED was reached this attempt and why the attempt
// ended, for the reconnect policy to classify.
func (c *Client) connect(ctx context.Context, startState State, logCtx logContext, ready chan error, firstAttempt *bool) (reachedConnected bool, status CloseStatus, err error) {
	so := *c.serverOpts.Load()
	sess := *c.session.Load()

	sock, dialErr := dialGateway(ctx, so.Endpoint)
	if dialErr != nil {
		if *firstAttempt {
			*firstAttempt = false
			ready <- dialErr
		}
		return false, CloseStatus{}, dialErr
	}

	sc := newScope()
	sc.add(func() { sock.Close() })

	attemptCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	ticker := newHeartbeatTicker()
	sc.add(ticker.Stop)
	defer sc.close()

	if startState == StateResuming {
		if c.mediaSocket.Load() == nil {
			return false, CloseStatus{}, &ProtocolError{Reason: "resume requested with no retained media session"}
		}
		if sendErr := sendPayload(sock, Resume{GuildID: c.opts.GuildID, SelfID: c.opts.SelfID, SessionID: sess.SessionID}); sendErr != nil {
			return false, CloseStatus{}, sendErr
		}
	}

	// group's derived gctx cancels the moment any sibling returns a non-nil
	// error (a nil return cancels nothing), which is what actually unblocks
	// the others' selects below; the bare attemptCtx only ever changes when
	// the host's ctx does.
	group, gctx := errgroup.WithContext(attemptCtx)

	group.Go(func() error {
		return c.receiverLoop(gctx, sock, ticker, so, sess, startState, logCtx, ready, firstAttempt, &reachedConnected, sc)
	})
	group.Go(func() error {
		return c.heartbeatLoop(gctx, sock, ticker)
	})
	group.Go(func() error {
		return sock.runWriter(gctx)
	})
	if c.serverUpdateCh != nil {
		group.Go(func() error {
			select {
			case so, ok := <-c.serverUpdateCh:
				if !ok {
					return nil
				}
				c.serverOpts.Store(&so)
				return &ServerUpdateReconnectError{}
			case <-gctx.Done():
				return nil
			}
		})
	}
	group.Go(func() error {
		select {
		case req := <-c.externalCh:
			switch req {
			case requestDisconnect:
				return errExternalDisconnect
			case requestReconnect:
				return errExternalReconnect
			}
			return nil
		case <-gctx.Done():
			return nil
		}
	})

	joinErr := group.Wait()
	cancel()

	return reachedConnected, sock.CloseStatus(), joinErr
}

func sendPayload(sock *gatewaySocket, p Payload) error {
	data, err := Encode(p)
	if err != nil {
		return err
	}
	return sock.Send(data)
}

func (c *Client) heartbeatLoop(ctx context.Context, sock *gatewaySocket, ticker *heartbeatTicker) error {
	for {
		select {
		case nonce := <-ticker.Ticks():
			if err := sendPayload(sock, HeartbeatPayload{Nonce: nonce}); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// receiverLoop is the heart of the session state machine (C6) wired to
// live transports: it decodes inbound frames, advances State via
// advanceState, and performs each transition's side effect (spec.md
// §4.6's table) before looping.
func (c *Client) receiverLoop(
	ctx context.Context,
	sock *gatewaySocket,
	ticker *heartbeatTicker,
	so VoiceServerOptions,
	sess Session,
	startState State,
	logCtx logContext,
	ready chan error,
	firstAttempt *bool,
	reachedConnected *bool,
	sc *scope,
) error {
	entry := logCtx.entry(c.opts.Logger, "protocol.receiver")
	state := startState
	c.states.publish(state)

	for {
		select {
		case raw, ok := <-sock.Inbound():
			if !ok {
				// The read pump closing is what actually ends a healthy
				// attempt; it must be a non-nil error so the errgroup's
				// derived context cancels and the sibling pipelines
				// (heartbeat, writer, watchers) unblock. decideBehavior
				// falls through to the ordinary close-status classification
				// for this sentinel, exactly as it would for a nil error.
				return errConnectionClosed
			}
			logPayload(entry, raw)

			payload, decodeErr := Decode(raw)
			if decodeErr != nil {
				return decodeErr
			}
			c.events.publish(payload)

			next, sideEffectErr := c.applyPayload(ctx, payload, &state, sock, ticker, so, sess, ready, firstAttempt, reachedConnected, sc)
			if sideEffectErr != nil {
				return sideEffectErr
			}
			state = next

		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// applyPayload performs one transition's side effect and returns the
// resulting State. Unknown payloads are forwarded to events (already done
// by the caller) without advancing state (P2).
func (c *Client) applyPayload(
	ctx context.Context,
	payload Payload,
	state *State,
	sock *gatewaySocket,
	ticker *heartbeatTicker,
	so VoiceServerOptions,
	sess Session,
	ready chan error,
	firstAttempt *bool,
	reachedConnected *bool,
	sc *scope,
) (State, error) {
	switch p := payload.(type) {
	case Hello:
		next, err := advanceState(*state, triggerHello)
		if err != nil {
			return *state, err
		}
		interval := time.Duration(p.HeartbeatIntervalMs) * time.Millisecond
		ticker.Start(interval)
		if err := sendPayload(sock, Identify{GuildID: c.opts.GuildID, SelfID: c.opts.SelfID, SessionID: sess.SessionID, Token: so.Token}); err != nil {
			return *state, err
		}
		return next, nil

	case Ready:
		next, err := advanceState(*state, triggerReady)
		if err != nil {
			return *state, err
		}
		c.ssrc.Store(p.SSRC)

		media := NewSocket()
		if err := media.Setup(p.IP, p.Port); err != nil {
			return *state, err
		}
		sc.add(func() { media.Close() })

		discoverCtx, cancel := context.WithTimeout(ctx, c.opts.IPDiscoveryTimeout)
		extIP, extPort, err := media.PerformIPDiscovery(discoverCtx, p.SSRC, c.opts.IPDiscoveryRetrySpec)
		cancel()
		if err != nil {
			return *state, err
		}

		mode := selectMode(p.Modes)
		if err := sendPayload(sock, NewSelectProtocol(extIP, extPort, mode)); err != nil {
			return *state, err
		}
		c.mediaSocket.Store(media)
		return next, nil

	case SessionDescription:
		next, err := advanceState(*state, triggerSessionDescription)
		if err != nil {
			return *state, err
		}
		transformer := NewPacketTransformer(uint32(c.ssrc.Load()), p.SecretKey)
		c.transformer.Store(transformer)
		c.reconnectCtx.Reset()
		*reachedConnected = true

		c.startAudioTasks(ctx, sc, transformer, sock)
		c.states.publish(next)

		if *firstAttempt {
			*firstAttempt = false
			ready <- nil
		}
		return next, nil

	case Resumed:
		next, err := advanceState(*state, triggerResumed)
		if err != nil {
			return *state, err
		}
		c.reconnectCtx.Reset()
		*reachedConnected = true

		if transformer := c.transformer.Load(); transformer != nil {
			c.startAudioTasks(ctx, sc, transformer, sock)
		}
		c.states.publish(next)
		return next, nil

	case HeartbeatAck:
		// No ack watchdog: a missed ack is not itself fatal (spec.md §5,
		// open question in spec.md §9).
		return *state, nil

	case Unknown:
		return *state, nil

	default:
		return *state, nil
	}
}

// startAudioTasks builds the send/receive pumps for the span that just
// reached CONNECTED, registering their disposers with the attempt scope
// so they stop when the attempt ends.
func (c *Client) startAudioTasks(ctx context.Context, sc *scope, transformer *PacketTransformer, sock *gatewaySocket) {
	mediaSocket := c.mediaSocket.Load()
	if mediaSocket == nil {
		return
	}

	stopSend, err := c.opts.SendTaskFactory.BuildSendTask(ctx, mediaSocket, transformer, c.opts.AudioProvider, func(speaking bool) error {
		return sendPayload(sock, Speaking{Flags: speakingFlag(speaking), SSRC: c.ssrc.Load()})
	})
	if err == nil && stopSend != nil {
		sc.add(stopSend)
	}

	stopReceive, err := c.opts.ReceiveTaskFactory.BuildReceiveTask(ctx, mediaSocket, transformer, c.opts.AudioReceiver)
	if err == nil && stopReceive != nil {
		sc.add(stopReceive)
	}
}

func speakingFlag(speaking bool) uint32 {
	if speaking {
		return 1
	}
	return 0
}

// selectMode picks xsalsa20_poly1305 when offered, matching the
// transformer's secretbox encryption, else falls back to the server's
// first advertised mode.
func selectMode(modes []string) string {
	for _, m := range modes {
		if m == "xsalsa20_poly1305" {
			return m
		}
	}
	if len(modes) > 0 {
		return modes[0]
	}
	return "xsalsa20_poly1305"
}

