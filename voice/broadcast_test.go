package voice

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatestBroadcasterSubscribeReceivesLastValue(t *testing.T) {
	b := newLatestBroadcaster[State]()
	b.publish(StateConnecting)

	ch, unsubscribe := b.subscribe()
	defer unsubscribe()

	select {
	case v := <-ch:
		assert.Equal(t, StateConnecting, v)
	case <-time.After(time.Second):
		t.Fatal("did not receive replayed value")
	}
}

func TestLatestBroadcasterCurrent(t *testing.T) {
	b := newLatestBroadcaster[State]()
	_, ok := b.current()
	assert.False(t, ok)

	b.publish(StateConnected)
	v, ok := b.current()
	require.True(t, ok)
	assert.Equal(t, StateConnected, v)
}

// TestLatestBroadcasterDropsBacklog is the broadcaster half of P3's
// "at-most-one per transition" guarantee: a subscriber that never drains
// only ever sees the newest published value, not an accumulating backlog.
func TestLatestBroadcasterDropsBacklog(t *testing.T) {
	b := newLatestBroadcaster[State]()
	ch, unsubscribe := b.subscribe()
	defer unsubscribe()

	b.publish(StateConnecting)
	b.publish(StateResuming)
	b.publish(StateConnected)

	select {
	case v := <-ch:
		assert.Equal(t, StateConnected, v)
	case <-time.After(time.Second):
		t.Fatal("expected the latest published value")
	}

	select {
	case v := <-ch:
		t.Fatalf("expected no further backlog, got %v", v)
	default:
	}
}

// TestLiveBroadcasterDoesNotReplayToLateSubscriber covers the
// EmitterProcessor half of the ReplayProcessor/EmitterProcessor split:
// Connection.Events() is a live stream, so a subscriber that arrives after
// a value was published must not see that stale value, unlike State.
func TestLiveBroadcasterDoesNotReplayToLateSubscriber(t *testing.T) {
	b := newLiveBroadcaster[VoiceGatewayEvent]()
	b.publish(Hello{HeartbeatIntervalMs: 1000})

	ch, unsubscribe := b.subscribe()
	defer unsubscribe()

	select {
	case v := <-ch:
		t.Fatalf("expected no replay of a pre-existing published value, got %v", v)
	case <-time.After(100 * time.Millisecond):
	}

	want := Ready{SSRC: 42}
	b.publish(want)
	select {
	case v := <-ch:
		assert.Equal(t, want, v)
	case <-time.After(time.Second):
		t.Fatal("expected delivery of a value published after subscribe")
	}
}

func TestLatestBroadcasterUnsubscribeStopsDelivery(t *testing.T) {
	b := newLatestBroadcaster[State]()
	ch, unsubscribe := b.subscribe()
	unsubscribe()

	b.publish(StateConnected)

	select {
	case v, ok := <-ch:
		if ok {
			t.Fatalf("expected no delivery after unsubscribe, got %v", v)
		}
	default:
	}
}
