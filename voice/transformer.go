package voice

import (
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"golang.org/x/crypto/nacl/secretbox"
)

const (
	rtpVersion     = 0x80
	rtpPayloadType = 0x78
	rtpHeaderSize  = 12
	nonceSize      = 24
)

// PacketTransformer seals and opens audio datagrams using a secret-key
// box, managing the RTP header, nonce, and sequence/timestamp state. It
// is constructed once per CONNECTED span from the key delivered in
// SessionDescription (invariant 1) and is the only place that secret key
// is ever held.
type PacketTransformer struct {
	mu        sync.Mutex
	ssrc      uint32
	secretKey [32]byte
	sequence  uint16
	timestamp uint32
}

// NewPacketTransformer constructs a transformer bound to one SSRC and
// secret key. The key is copied; callers should not retain their copy
// longer than necessary.
func NewPacketTransformer(ssrc uint32, secretKey [32]byte) *PacketTransformer {
	return &PacketTransformer{ssrc: ssrc, secretKey: secretKey}
}

// Seal builds an RTP header, advances sequence (by 1) and timestamp (by
// samplesPerFrame), and returns header||sealed(frame). The nonce is the
// 12-byte RTP header right-padded with zeros to 24 bytes.
func (t *PacketTransformer) Seal(frame []byte, samplesPerFrame uint32) ([]byte, error) {
	t.mu.Lock()
	seq := t.sequence
	ts := t.timestamp
	t.sequence++
	if t.timestamp+samplesPerFrame < t.timestamp {
		t.timestamp = 0
	} else {
		t.timestamp += samplesPerFrame
	}
	key := t.secretKey
	ssrc := t.ssrc
	t.mu.Unlock()

	header := rtp.Header{
		Version:        2,
		PayloadType:    rtpPayloadType,
		SequenceNumber: seq,
		Timestamp:      ts,
		SSRC:           ssrc,
	}
	headerBytes, err := header.Marshal()
	if err != nil {
		return nil, fmt.Errorf("voice: marshal rtp header: %w", err)
	}
	// Discord's voice RTP header is a fixed 12 bytes with no extensions;
	// pion/rtp's minimal marshal already produces exactly that, but we
	// pin byte 0 to the version/flags byte the protocol actually expects.
	headerBytes = headerBytes[:rtpHeaderSize]
	headerBytes[0] = rtpVersion

	var nonce [nonceSize]byte
	copy(nonce[:], headerBytes)

	sealed := secretbox.Seal(nil, frame, &nonce, &key)
	return append(headerBytes, sealed...), nil
}

// Open extracts the RTP header from an inbound datagram, reconstructs the
// nonce, and opens the sealed payload. Packets that fail authentication
// are discarded: Open returns a nil slice and ok == false, matching the
// "discard on failure" behavior of the media path (media loss is not
// fatal to the session).
func (t *PacketTransformer) Open(datagram []byte) (opus []byte, ssrc uint32, sequence uint16, timestamp uint32, ok bool) {
	if len(datagram) < rtpHeaderSize {
		return nil, 0, 0, 0, false
	}

	header := datagram[:rtpHeaderSize]
	var hdr rtp.Header
	if _, err := hdr.Unmarshal(datagram); err != nil {
		return nil, 0, 0, 0, false
	}

	var nonce [nonceSize]byte
	copy(nonce[:], header)

	t.mu.Lock()
	key := t.secretKey
	t.mu.Unlock()

	opened, success := secretbox.Open(nil, datagram[rtpHeaderSize:], &nonce, &key)
	if !success {
		return nil, 0, 0, 0, false
	}
	return opened, hdr.SSRC, hdr.SequenceNumber, hdr.Timestamp, true
}
