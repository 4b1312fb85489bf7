package voice

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(b byte) [32]byte {
	var k [32]byte
	for i := range k {
		k[i] = b
	}
	return k
}

func TestPacketTransformerSealOpenRoundTrip(t *testing.T) {
	key := testKey(0x42)
	sealer := NewPacketTransformer(9001, key)
	opener := NewPacketTransformer(9001, key)

	frame := []byte("opus frame contents")
	sealed, err := sealer.Seal(frame, 960)
	require.NoError(t, err)

	opus, ssrc, seq, ts, ok := opener.Open(sealed)
	require.True(t, ok)
	assert.Equal(t, frame, opus)
	assert.Equal(t, uint32(9001), ssrc)
	assert.Equal(t, uint16(0), seq)
	assert.Equal(t, uint32(0), ts)
}

func TestPacketTransformerSequenceAdvancesEachSeal(t *testing.T) {
	transformer := NewPacketTransformer(1, testKey(0x01))

	first, err := transformer.Seal([]byte("a"), 960)
	require.NoError(t, err)
	second, err := transformer.Seal([]byte("b"), 960)
	require.NoError(t, err)

	_, _, seq1, ts1, ok := transformer.Open(first)
	require.True(t, ok)
	_, _, seq2, ts2, ok := transformer.Open(second)
	require.True(t, ok)

	assert.Equal(t, seq1+1, seq2)
	assert.Equal(t, ts1+960, ts2)
}

// TestPacketTransformerOpenRejectsWrongKey is the observable half of P5:
// a datagram sealed under one session's key must not open under another's,
// so a stale or foreign key can never be mistaken for the live one.
func TestPacketTransformerOpenRejectsWrongKey(t *testing.T) {
	sealer := NewPacketTransformer(1, testKey(0x01))
	wrongKeyOpener := NewPacketTransformer(1, testKey(0x02))

	sealed, err := sealer.Seal([]byte("secret"), 960)
	require.NoError(t, err)

	_, _, _, _, ok := wrongKeyOpener.Open(sealed)
	assert.False(t, ok)
}

func TestPacketTransformerOpenRejectsShortDatagram(t *testing.T) {
	transformer := NewPacketTransformer(1, testKey(0x01))
	_, _, _, _, ok := transformer.Open([]byte{1, 2, 3})
	assert.False(t, ok)
}
