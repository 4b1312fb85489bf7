package voice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestEncodeDecodeRoundTrip is P1 for Hello: it encodes to the
// {"op":...,"d":...} envelope and decodes back to an equivalent value.
// TestEncodeDecodeReady covers the same round trip for Ready.
func TestEncodeDecodeRoundTrip(t *testing.T) {
	hello := Hello{HeartbeatIntervalMs: 41250}
	raw, err := Encode(hello)
	require.NoError(t, err)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, hello, decoded)
}

func TestEncodeDecodeReady(t *testing.T) {
	ready := Ready{SSRC: 12345, IP: "203.0.113.1", Port: 50000, Modes: []string{"xsalsa20_poly1305"}}
	raw, err := Encode(ready)
	require.NoError(t, err)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	assert.Equal(t, ready, decoded)
}

func TestDecodeResumedHasNoBody(t *testing.T) {
	decoded, err := Decode([]byte(`{"op":9,"d":null}`))
	require.NoError(t, err)
	assert.Equal(t, Resumed{}, decoded)
}

// TestDecodeUnknownOpcodeIsLenient is P2: an opcode this client does not
// model explicitly must decode to Unknown rather than failing, so a server
// adding a new payload kind never breaks an otherwise-healthy session.
func TestDecodeUnknownOpcodeIsLenient(t *testing.T) {
	decoded, err := Decode([]byte(`{"op":200,"d":{"anything":"goes"}}`))
	require.NoError(t, err)

	unknown, ok := decoded.(Unknown)
	require.True(t, ok)
	assert.Equal(t, Opcode(200), unknown.Op)
	assert.JSONEq(t, `{"anything":"goes"}`, string(unknown.Raw))
}

func TestDecodeMalformedEnvelopeIsProtocolError(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	var protoErr *ProtocolError
	assert.ErrorAs(t, err, &protoErr)
}

func TestDecodeMalformedKnownOpcodeIsProtocolError(t *testing.T) {
	_, err := Decode([]byte(`{"op":2,"d":"not an object"}`))
	var protoErr *ProtocolError
	assert.ErrorAs(t, err, &protoErr)
	var asErr *ProtocolError
	require.ErrorAs(t, err, &asErr)
	assert.Equal(t, OpReady, asErr.Op)
}

func TestSelectProtocolEnvelope(t *testing.T) {
	p := NewSelectProtocol("198.51.100.7", 55555, "xsalsa20_poly1305")
	raw, err := Encode(p)
	require.NoError(t, err)
	assert.JSONEq(t, `{"op":1,"d":{"protocol":"udp","data":{"address":"198.51.100.7","port":55555,"mode":"xsalsa20_poly1305"}}}`, string(raw))
}
