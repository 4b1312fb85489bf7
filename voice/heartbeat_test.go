package voice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestHeartbeatTickerEmitsIncreasingNonces(t *testing.T) {
	h := newHeartbeatTicker()
	h.Start(5 * time.Millisecond)
	defer h.Stop()

	var last uint64
	for i := 0; i < 3; i++ {
		select {
		case nonce := <-h.Ticks():
			if i > 0 {
				assert.Equal(t, last+1, nonce)
			}
			last = nonce
		case <-time.After(time.Second):
			t.Fatal("expected a heartbeat tick")
		}
	}
}

func TestHeartbeatTickerRestartUsesNewInterval(t *testing.T) {
	h := newHeartbeatTicker()
	h.Start(time.Hour)
	h.Start(5 * time.Millisecond)
	defer h.Stop()

	select {
	case <-h.Ticks():
	case <-time.After(time.Second):
		t.Fatal("restart did not apply the new interval")
	}
}

func TestHeartbeatTickerStopIsIdempotent(t *testing.T) {
	h := newHeartbeatTicker()
	h.Start(time.Millisecond)
	h.Stop()
	assert.NotPanics(t, func() { h.Stop() })
}
