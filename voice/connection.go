package voice

import (
	"context"
	"fmt"
)

// Connection is the external façade (C8) returned by Client.Start once the
// first attempt reaches CONNECTED. It never touches the protocol directly:
// every method reads the driver's published state or nudges it through the
// same externalCh the reconnect/disconnect requests already flow through.
type Connection struct {
	client *Client
}

func newConnection(c *Client) *Connection {
	return &Connection{client: c}
}

// Events returns a channel of decoded VoiceGatewayEvents with LATEST
// overflow (a slow subscriber sees the newest payload, never a backlog)
// and the unsubscribe func to release it.
func (conn *Connection) Events() (<-chan VoiceGatewayEvent, func()) {
	return conn.client.events.subscribe()
}

// StateEvents returns a replay-last channel of State transitions and the
// unsubscribe func to release it. The first value delivered is whatever
// State was last published, even if that happened before this call.
func (conn *Connection) StateEvents() (<-chan State, func()) {
	return conn.client.states.subscribe()
}

// State returns the most recently published State, or StateDisconnected if
// nothing has published yet.
func (conn *Connection) State() State {
	s, ok := conn.client.states.current()
	if !ok {
		return StateDisconnected
	}
	return s
}

// Disconnect requests a clean shutdown if the connection is currently
// CONNECTED; otherwise it is a no-op (spec.md §4.8).
func (conn *Connection) Disconnect() {
	if conn.State() != StateConnected {
		return
	}
	select {
	case conn.client.externalCh <- requestDisconnect:
	default:
		// A request is already queued for this attempt; nothing more to do.
	}
}

// Reconnect requests a RETRY_ABRUPT if the connection is currently
// CONNECTED and blocks until the next CONNECTED is reached or ctx is done.
// It returns ErrNotConnected if called outside CONNECTED (spec.md §4.8).
func (conn *Connection) Reconnect(ctx context.Context) error {
	if conn.State() != StateConnected {
		return ErrNotConnected
	}

	states, unsubscribe := conn.client.states.subscribe()
	defer unsubscribe()

	select {
	case conn.client.externalCh <- requestReconnect:
	case <-ctx.Done():
		return ctx.Err()
	}

	left := false
	for {
		select {
		case s := <-states:
			if s != StateConnected {
				left = true
				continue
			}
			if left {
				return nil
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Done returns a channel that receives once, when the driver's retry loop
// has permanently stopped: nil for a clean disconnect (spec.md's
// disconnectNotifier completing without error), non-nil for a terminal
// failure.
func (conn *Connection) Done() <-chan error {
	return conn.client.disconnectCh
}

// GuildID returns the guild this connection was started for.
func (conn *Connection) GuildID() string {
	return conn.client.opts.GuildID
}

// ChannelID resolves the voice channel currently associated with this
// connection's guild via the injected VoiceChannelRetrieveTask. It returns
// ErrNotConnected if called outside CONNECTED (spec.md §4.6).
func (conn *Connection) ChannelID(ctx context.Context) (string, error) {
	if conn.State() != StateConnected {
		return "", ErrNotConnected
	}
	if conn.client.opts.ChannelRetrieveTask == nil {
		return "", fmt.Errorf("voice: no channel retrieve task configured")
	}
	return conn.client.opts.ChannelRetrieveTask.ChannelID(ctx, conn.client.opts.GuildID)
}
