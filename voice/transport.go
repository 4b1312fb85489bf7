package voice

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/gorilla/websocket"
)

// userAgent is sent on every gateway dial, matching the teacher's wsapi.go
// identification string.
const userAgent = "DiscordBot(https://discord4j.com, 3)"

// gatewaySocket wraps a single WebSocket connection to the voice gateway.
// It exposes an inbound frame stream and a bounded outbound frame stream.
// The inbound stream is an unbuffered channel, not an unbounded queue: the
// read pump waits for the receiver to take each frame before reading the
// next one. Control traffic must never be silently dropped, so an
// outbound overflow surfaces ErrOutboundFull instead of discarding the
// frame (spec.md §4.7 step 2).
type gatewaySocket struct {
	conn *websocket.Conn

	inbound  chan []byte
	outbound chan []byte

	closeStatus chan CloseStatus
}

// dialGateway opens the control-plane WebSocket at {endpoint}?v=4 and
// starts its read pump. ctx bounds only the dial; the read pump runs until
// a read fails (the connection closes), at which point it records the
// close status and closes the inbound channel so the receiver pipeline can
// observe EOF.
func dialGateway(ctx context.Context, endpoint string) (*gatewaySocket, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("voice: parse gateway endpoint %q: %w", endpoint, err)
	}
	q := u.Query()
	q.Set("v", "4")
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("User-Agent", userAgent)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return nil, fmt.Errorf("voice: dial gateway %s: %w", u.Redacted(), err)
	}

	s := &gatewaySocket{
		conn:        conn,
		inbound:     make(chan []byte),
		outbound:    make(chan []byte, 16),
		closeStatus: make(chan CloseStatus, 1),
	}
	go s.readPump()
	return s, nil
}

func (s *gatewaySocket) readPump() {
	defer close(s.inbound)
	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.recordClose(err)
			return
		}
		s.inbound <- data
	}
}

func (s *gatewaySocket) recordClose(err error) {
	status := CloseStatus{Code: CloseCode(websocket.CloseNormalClosure)}
	if ce, ok := err.(*websocket.CloseError); ok {
		status.Code = CloseCode(ce.Code)
		status.Reason = ce.Text
	} else {
		status.Reason = err.Error()
	}
	select {
	case s.closeStatus <- status:
	default:
	}
}

// Inbound yields raw frames as they arrive. The channel is closed when the
// connection drops; CloseStatus then reports why.
func (s *gatewaySocket) Inbound() <-chan []byte { return s.inbound }

// Send enqueues a raw frame for the write pump. Control traffic must never
// be silently dropped (spec.md §4.7 step 2), so a full buffer is reported
// as ErrOutboundFull immediately rather than applying back-pressure to the
// caller.
func (s *gatewaySocket) Send(data []byte) error {
	select {
	case s.outbound <- data:
		return nil
	default:
		return ErrOutboundFull
	}
}

// runWriter drains the outbound channel onto the wire until ctx is
// cancelled or a write fails. It is the one and only writer goroutine,
// satisfying the "single consumer" ordering guarantee in spec.md §5.
func (s *gatewaySocket) runWriter(ctx context.Context) error {
	for {
		select {
		case data := <-s.outbound:
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return fmt.Errorf("voice: write gateway frame: %w", err)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// CloseStatus returns the reason the connection ended, once known. It must
// only be read after Inbound() has closed.
func (s *gatewaySocket) CloseStatus() CloseStatus {
	select {
	case status := <-s.closeStatus:
		return status
	default:
		return CloseStatus{Code: CloseCode(websocket.CloseNormalClosure)}
	}
}

// Close sends a close frame and releases the underlying connection. It is
// safe to call more than once.
func (s *gatewaySocket) Close() error {
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}
