package voice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdvanceStateHappyPath(t *testing.T) {
	state := StateConnecting

	state, err := advanceState(state, triggerHello)
	require.NoError(t, err)
	assert.Equal(t, StateConnecting, state)

	state, err = advanceState(state, triggerReady)
	require.NoError(t, err)
	assert.Equal(t, StateConnecting, state)

	state, err = advanceState(state, triggerSessionDescription)
	require.NoError(t, err)
	assert.Equal(t, StateConnected, state)
}

func TestAdvanceStateResumePath(t *testing.T) {
	state, err := advanceState(StateResuming, triggerResumed)
	require.NoError(t, err)
	assert.Equal(t, StateConnected, state)
}

// TestAdvanceStateMonotonic exercises P3: within one attempt, state never
// regresses, and any trigger arriving out of order is rejected rather than
// silently accepted.
func TestAdvanceStateMonotonic(t *testing.T) {
	cases := []struct {
		name    string
		current State
		trigger trigger
	}{
		{"hello outside connecting", StateConnected, triggerHello},
		{"ready outside connecting", StateResuming, triggerReady},
		{"session description outside connecting", StateConnected, triggerSessionDescription},
		{"resumed outside resuming", StateConnecting, triggerResumed},
		{"resumed while already connected", StateConnected, triggerResumed},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			next, err := advanceState(tc.current, tc.trigger)
			require.Error(t, err)
			assert.Equal(t, tc.current, next, "state must not change on a rejected trigger")

			var protoErr *ProtocolError
			assert.ErrorAs(t, err, &protoErr)
		})
	}
}

func TestAdvanceStateUnknownTriggerIsNoop(t *testing.T) {
	next, err := advanceState(StateConnected, trigger(99))
	require.NoError(t, err)
	assert.Equal(t, StateConnected, next)
}
