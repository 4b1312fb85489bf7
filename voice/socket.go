package voice

import (
	"context"
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

const (
	ipDiscoveryRequestType = 0x0001
	ipDiscoveryPacketLen   = 74
	ipDiscoveryPayloadLen  = 70
)

// RetrySpec bounds how many times IP discovery retries a single attempt
// and how long it waits between them. It is injected so tests can shrink
// the timing to milliseconds.
type RetrySpec struct {
	MaxRetries int
	Backoff    time.Duration
}

// DefaultIPDiscoveryRetrySpec matches what a production deployment would
// use against a real voice server: a handful of quick retries.
func DefaultIPDiscoveryRetrySpec() RetrySpec {
	return RetrySpec{MaxRetries: 3, Backoff: 500 * time.Millisecond}
}

// udpDialer abstracts dialing a UDP socket so tests can substitute a
// local loopback listener instead of a real remote host. Production code
// uses dialUDP.
type udpDialer func(ip string, port int) (net.Conn, error)

func dialUDP(ip string, port int) (net.Conn, error) {
	addr := net.JoinHostPort(ip, fmt.Sprintf("%d", port))
	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("voice: resolve udp addr %s: %w", addr, err)
	}
	return net.DialUDP("udp", nil, raddr)
}

// Socket wraps the UDP media transport: IP discovery and unreliable
// datagram I/O. One Socket is reused for the lifetime of a single
// CONNECTED span (invariant 2) and discarded on any close.
type Socket struct {
	conn   net.Conn
	dialer udpDialer
	inbox  chan []byte
	done   chan struct{}
}

// NewSocket constructs an unconnected Socket. Setup must be called
// before Send/PerformIPDiscovery/Inbound are useful.
func NewSocket() *Socket {
	return &Socket{dialer: dialUDP, inbox: make(chan []byte, 16), done: make(chan struct{})}
}

// Setup resolves and connects to the server-assigned (ip, port),
// fixing the remote for the lifetime of this Socket.
func (s *Socket) Setup(ip string, port int) error {
	conn, err := s.dialer(ip, port)
	if err != nil {
		return &SocketSetupError{Cause: err}
	}
	s.conn = conn
	go s.readLoop()
	return nil
}

func (s *Socket) readLoop() {
	buf := make([]byte, 4096)
	for {
		n, err := s.conn.Read(buf)
		if err != nil {
			return
		}
		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		select {
		case s.inbox <- datagram:
		case <-s.done:
			return
		}
	}
}

// PerformIPDiscovery sends the 74-byte discovery packet and waits, until
// ctx is done, for the first datagram to come back, which must be 74
// bytes long. A failed send is retried up to retrySpec.MaxRetries times,
// retrySpec.Backoff apart, after which it returns a *SocketSetupError; ctx
// ending first yields a *TimeoutError. It returns this client's
// externally visible IP and port as seen by the voice server.
func (s *Socket) PerformIPDiscovery(ctx context.Context, ssrc uint32, retrySpec RetrySpec) (externalIP string, externalPort int, err error) {
	if s.conn == nil {
		return "", 0, &SocketSetupError{Cause: fmt.Errorf("socket not set up")}
	}

	request := make([]byte, ipDiscoveryPacketLen)
	binary.BigEndian.PutUint16(request[0:2], ipDiscoveryRequestType)
	binary.BigEndian.PutUint16(request[2:4], ipDiscoveryPayloadLen)
	binary.BigEndian.PutUint32(request[4:8], ssrc)

	attempts := 0
	for {
		attempts++
		resp, rerr := s.discoveryRoundTrip(ctx, request)
		if rerr == nil {
			return parseDiscoveryResponse(resp)
		}
		if ctx.Err() != nil {
			return "", 0, &TimeoutError{Op: "ip discovery"}
		}
		if attempts > retrySpec.MaxRetries {
			return "", 0, &SocketSetupError{Cause: rerr}
		}
		select {
		case <-time.After(retrySpec.Backoff):
		case <-ctx.Done():
			return "", 0, &TimeoutError{Op: "ip discovery"}
		}
	}
}

func (s *Socket) discoveryRoundTrip(ctx context.Context, request []byte) ([]byte, error) {
	if _, err := s.conn.Write(request); err != nil {
		return nil, fmt.Errorf("voice: write discovery packet: %w", err)
	}
	select {
	case datagram := <-s.inbox:
		return datagram, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func parseDiscoveryResponse(resp []byte) (string, int, error) {
	if len(resp) != ipDiscoveryPacketLen {
		return "", 0, &ProtocolError{Reason: fmt.Sprintf("ip discovery response length %d, want %d", len(resp), ipDiscoveryPacketLen)}
	}
	ipBytes := resp[8:72]
	n := 0
	for n < len(ipBytes) && ipBytes[n] != 0 {
		n++
	}
	ip := string(ipBytes[:n])
	port := binary.BigEndian.Uint16(resp[72:74])
	return ip, int(port), nil
}

// Send writes a datagram to the fixed remote. No back-pressure is
// applied to media: a blocked write simply blocks the caller's send
// task, matching the "back-pressure is not applied to media" design
// constraint.
func (s *Socket) Send(b []byte) error {
	if s.conn == nil {
		return fmt.Errorf("voice: socket not set up")
	}
	_, err := s.conn.Write(b)
	return err
}

// Inbound returns the channel of raw datagrams read from the socket.
// Discovery responses are also delivered here, but PerformIPDiscovery is
// expected to run to completion before any audio consumer starts
// draining this channel.
func (s *Socket) Inbound() <-chan []byte {
	return s.inbox
}

// Close releases the underlying UDP connection. It is idempotent.
func (s *Socket) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}
