package voice

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
)

// VoiceServerOptions identifies the remote session to negotiate: the
// gateway endpoint, the opaque authentication token, and the guild the
// session belongs to. It is supplied at Start and replaced atomically on
// server-migration events (spec.md §3).
type VoiceServerOptions struct {
	Endpoint string
	Token    string
	GuildID  string
}

// Session is the host-assigned session identifier, updated whenever the
// host signals a voice-state change carrying a new one.
type Session struct {
	SessionID string
}

// AudioFrame is the unit the core hands to and receives from the pluggable
// audio producer/consumer. Its contents (opus framing, codec) are entirely
// out of scope for this module (spec.md §1 Non-goals); the core only
// carries the bytes between the transport and the factories below.
type AudioFrame struct {
	Opus      []byte
	SSRC      uint32
	Sequence  uint16
	Timestamp uint32
}

// AudioProvider supplies outgoing opus frames. Implementations decide
// pacing and codec; the core only pulls frames and seals them.
type AudioProvider interface {
	// NextFrame blocks until a frame is ready to send or ctx is done.
	NextFrame(ctx context.Context) ([]byte, error)
}

// AudioReceiver consumes decoded inbound audio frames.
type AudioReceiver interface {
	ReceiveFrame(frame AudioFrame)
}

// VoiceSendTaskFactory builds the outgoing audio pump for one CONNECTED
// span. It receives the socket to write sealed datagrams on, the
// transformer that seals them, and the provider of raw frames, and
// returns a disposer run when the span ends.
type VoiceSendTaskFactory interface {
	BuildSendTask(ctx context.Context, socket *Socket, transformer *PacketTransformer, provider AudioProvider, speaking func(bool) error) (stop func(), err error)
}

// VoiceReceiveTaskFactory builds the incoming audio pump for one CONNECTED
// span, opening sealed datagrams with transformer and handing the result
// to receiver.
type VoiceReceiveTaskFactory interface {
	BuildReceiveTask(ctx context.Context, socket *Socket, transformer *PacketTransformer, receiver AudioReceiver) (stop func(), err error)
}

// VoiceDisconnectTask is notified once, when the driver stops for good,
// with the terminal cause (nil for a clean disconnect).
type VoiceDisconnectTask interface {
	OnDisconnect(guildID string, cause error)
}

// VoiceServerUpdateTask lets the host push a fresh VoiceServerOptions into
// a running client (e.g. on a Discord VOICE_SERVER_UPDATE); the driver
// reacts by tearing down and rebuilding the session (spec.md §4.6).
type VoiceServerUpdateTask interface {
	Subscribe(ctx context.Context, guildID string) <-chan VoiceServerOptions
}

// VoiceStateUpdateTask lets the host push a fresh Session when the voice
// state's session id changes.
type VoiceStateUpdateTask interface {
	Subscribe(ctx context.Context, guildID string) <-chan Session
}

// VoiceChannelRetrieveTask resolves the voice channel id currently
// associated with a guild, used by Connection.ChannelID.
type VoiceChannelRetrieveTask interface {
	ChannelID(ctx context.Context, guildID string) (string, error)
}

// VoiceGatewayOptions is the full set of inputs a host supplies to start a
// voice gateway client (spec.md §6). Only GuildID, SelfID, ServerOptions,
// and Session are required; the rest fall back to sensible defaults.
type VoiceGatewayOptions struct {
	GuildID string
	SelfID  string

	ServerOptions VoiceServerOptions
	Session       Session

	ReconnectOptions ReconnectOptions

	AudioProvider AudioProvider
	AudioReceiver AudioReceiver

	SendTaskFactory    VoiceSendTaskFactory
	ReceiveTaskFactory VoiceReceiveTaskFactory

	DisconnectTask      VoiceDisconnectTask
	ServerUpdateTask    VoiceServerUpdateTask
	StateUpdateTask     VoiceStateUpdateTask
	ChannelRetrieveTask VoiceChannelRetrieveTask

	IPDiscoveryTimeout   time.Duration
	IPDiscoveryRetrySpec RetrySpec

	// Logger is the base logger every per-attempt LogContext derives
	// from (A1). Defaults to logrus.StandardLogger() if nil.
	Logger *logrus.Logger
}

// withDefaults fills in zero-valued optional fields so callers only need
// to supply what they care about.
func (o VoiceGatewayOptions) withDefaults() VoiceGatewayOptions {
	if o.ReconnectOptions == (ReconnectOptions{}) {
		o.ReconnectOptions = DefaultReconnectOptions()
	}
	if o.IPDiscoveryTimeout == 0 {
		o.IPDiscoveryTimeout = 5 * time.Second
	}
	if o.IPDiscoveryRetrySpec == (RetrySpec{}) {
		o.IPDiscoveryRetrySpec = DefaultIPDiscoveryRetrySpec()
	}
	if o.Logger == nil {
		o.Logger = logrus.StandardLogger()
	}
	if o.SendTaskFactory == nil {
		o.SendTaskFactory = noopSendTaskFactory{}
	}
	if o.ReceiveTaskFactory == nil {
		o.ReceiveTaskFactory = noopReceiveTaskFactory{}
	}
	return o
}

// noopSendTaskFactory is used when a host only wants a receiving client
// (or a test harness that never sends audio).
type noopSendTaskFactory struct{}

func (noopSendTaskFactory) BuildSendTask(context.Context, *Socket, *PacketTransformer, AudioProvider, func(bool) error) (func(), error) {
	return func() {}, nil
}

type noopReceiveTaskFactory struct{}

func (noopReceiveTaskFactory) BuildReceiveTask(context.Context, *Socket, *PacketTransformer, AudioReceiver) (func(), error) {
	return func() {}, nil
}
