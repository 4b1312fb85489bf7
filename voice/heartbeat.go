package voice

import (
	"sync"
	"time"
)

// heartbeatTicker produces a lazy, infinite sequence of monotonically
// increasing nonces at a requested period, starting one interval after
// Start. It can be safely restarted with a new interval without leaking
// the previous timer, the Go analogue of discord4j's ResettableInterval.
type heartbeatTicker struct {
	mu     sync.Mutex
	ticker *time.Ticker
	stopCh chan struct{}
	nonces chan uint64
}

func newHeartbeatTicker() *heartbeatTicker {
	return &heartbeatTicker{
		nonces: make(chan uint64),
	}
}

// Start begins (or restarts) the ticker at the given period. Any
// previously running timer goroutine is stopped first so it cannot leak
// or emit stale nonces into the new period.
func (h *heartbeatTicker) Start(interval time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stopLocked()

	ticker := time.NewTicker(interval)
	stop := make(chan struct{})
	h.ticker = ticker
	h.stopCh = stop

	go func() {
		var nonce uint64
		for {
			select {
			case <-stop:
				ticker.Stop()
				return
			case <-ticker.C:
				select {
				case h.nonces <- nonce:
				case <-stop:
					ticker.Stop()
					return
				}
				nonce++
			}
		}
	}()
}

// Stop halts the ticker. It is idempotent and safe to call even if the
// ticker was never started.
func (h *heartbeatTicker) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stopLocked()
}

func (h *heartbeatTicker) stopLocked() {
	if h.stopCh != nil {
		close(h.stopCh)
		h.stopCh = nil
	}
	h.ticker = nil
}

// Ticks returns the channel of nonces. Every started period shares the
// same channel; callers should select on it alongside a cancellation
// signal since it only ever produces values while the ticker is running.
func (h *heartbeatTicker) Ticks() <-chan uint64 {
	return h.nonces
}
