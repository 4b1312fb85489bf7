package voice

import (
	"encoding/json"
	"fmt"
)

// Payload is the closed discriminated union of control-plane messages
// exchanged over the voice gateway WebSocket. Concrete types below
// implement it; Encode/Decode are the only places that know the wire
// envelope.
type Payload interface {
	Opcode() Opcode
}

// envelope is the wire shape of every frame: {"op": <int>, "d": <data>}.
type envelope struct {
	Op Opcode          `json:"op"`
	D  json.RawMessage `json:"d"`
}

// --- inbound payloads ---------------------------------------------------

type Hello struct {
	HeartbeatIntervalMs float64 `json:"heartbeat_interval"`
}

func (Hello) Opcode() Opcode { return OpHello }

type Ready struct {
	SSRC  uint32   `json:"ssrc"`
	IP    string   `json:"ip"`
	Port  int      `json:"port"`
	Modes []string `json:"modes"`
}

func (Ready) Opcode() Opcode { return OpReady }

type SessionDescription struct {
	SecretKey [32]byte `json:"secret_key"`
	Mode      string   `json:"mode"`
}

func (SessionDescription) Opcode() Opcode { return OpSessionDescription }

type Resumed struct{}

func (Resumed) Opcode() Opcode { return OpResumed }

type HeartbeatAck struct {
	Nonce uint64 `json:"d"`
}

func (HeartbeatAck) Opcode() Opcode { return OpHeartbeatACK }

// Unknown is the lenient fallback for any opcode this client does not
// model explicitly (P2): forward-compatible servers must not break the
// session by sending something new.
type Unknown struct {
	Op  Opcode
	Raw json.RawMessage
}

func (u Unknown) Opcode() Opcode { return u.Op }

// --- outbound payloads ---------------------------------------------------

type Identify struct {
	GuildID   string `json:"guild_id"`
	SelfID    string `json:"user_id"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
}

func (Identify) Opcode() Opcode { return OpIdentify }

type Resume struct {
	GuildID   string `json:"guild_id"`
	SelfID    string `json:"user_id"`
	SessionID string `json:"session_id"`
}

func (Resume) Opcode() Opcode { return OpResume }

type HeartbeatPayload struct {
	Nonce uint64 `json:"d"`
}

func (HeartbeatPayload) Opcode() Opcode { return OpHeartbeat }

type SelectProtocol struct {
	Protocol string             `json:"protocol"`
	Data     selectProtocolData `json:"data"`
}

type selectProtocolData struct {
	Address string `json:"address"`
	Port    int    `json:"port"`
	Mode    string `json:"mode"`
}

// NewSelectProtocol builds the opcode-1 response sent once IP discovery
// resolves this client's externally visible address.
func NewSelectProtocol(address string, port int, mode string) SelectProtocol {
	return SelectProtocol{
		Protocol: "udp",
		Data:     selectProtocolData{Address: address, Port: port, Mode: mode},
	}
}

func (SelectProtocol) Opcode() Opcode { return OpSelectProtocol }

type Speaking struct {
	Flags uint32 `json:"speaking"`
	Delay uint32 `json:"delay"`
	SSRC  uint32 `json:"ssrc"`
}

func (Speaking) Opcode() Opcode { return OpSpeaking }

// Encode serializes a Payload to its wire envelope. Encoding failures are
// fatal: a Payload that cannot be marshaled indicates a programming error,
// not a transient condition.
func Encode(p Payload) ([]byte, error) {
	data, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("voice: encode payload op=%d: %w", p.Opcode(), err)
	}
	out, err := json.Marshal(envelope{Op: p.Opcode(), D: data})
	if err != nil {
		return nil, fmt.Errorf("voice: encode envelope op=%d: %w", p.Opcode(), err)
	}
	return out, nil
}

// Decode parses a wire frame into a Payload. Unknown opcodes decode to
// Unknown rather than failing (P2). Decoding failures on a recognized
// opcode return a *ProtocolError, which the driver treats as
// non-retryable.
func Decode(raw []byte) (Payload, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &ProtocolError{Reason: fmt.Sprintf("malformed envelope: %s", err)}
	}

	switch env.Op {
	case OpHello:
		var p Hello
		if err := json.Unmarshal(env.D, &p); err != nil {
			return nil, &ProtocolError{Op: env.Op, Reason: fmt.Sprintf("malformed op %d payload: %s", env.Op, err)}
		}
		return p, nil
	case OpReady:
		var p Ready
		if err := json.Unmarshal(env.D, &p); err != nil {
			return nil, &ProtocolError{Op: env.Op, Reason: fmt.Sprintf("malformed op %d payload: %s", env.Op, err)}
		}
		return p, nil
	case OpSessionDescription:
		var p SessionDescription
		if err := json.Unmarshal(env.D, &p); err != nil {
			return nil, &ProtocolError{Op: env.Op, Reason: fmt.Sprintf("malformed op %d payload: %s", env.Op, err)}
		}
		return p, nil
	case OpResumed:
		return Resumed{}, nil
	case OpHeartbeatACK:
		var p HeartbeatAck
		if len(env.D) > 0 {
			if err := json.Unmarshal(env.D, &p); err != nil {
				return nil, &ProtocolError{Op: env.Op, Reason: fmt.Sprintf("malformed op %d payload: %s", env.Op, err)}
			}
		}
		return p, nil
	default:
		return Unknown{Op: env.Op, Raw: env.D}, nil
	}
}
