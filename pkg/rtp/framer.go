package rtp

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/cloudwebrtc/go-sip-ptt/pkg/media/g711"
	prtp "github.com/pion/rtp"
)

var (
	ErrUnsupportedPayload = errors.New("unsupported RTP payload")
	// ErrForeignSource marks packets from an SSRC other than the one the
	// receiver locked on to.
	ErrForeignSource = errors.New("unexpected RTP source")
)

const (
	Version             = 2
	HeaderSize          = 12
	DefaultFrameSamples = 160
)

// Framer is the send side of one RTP stream: fixed SSRC, sequence number
// advancing by one and timestamp by the frame size per packet.
type Framer struct {
	ssrc        uint32
	payloadType uint8
	samples     uint32
	seq         uint16
	ts          uint32
}

func NewFramer(ssrc uint32, payloadType uint8, samples int, seq uint16, ts uint32) *Framer {
	return &Framer{
		ssrc:        ssrc,
		payloadType: payloadType,
		samples:     uint32(samples),
		seq:         seq,
		ts:          ts,
	}
}

// NewRandomFramer starts a stream with random SSRC, sequence and timestamp.
func NewRandomFramer(payloadType uint8, samples int) *Framer {
	return NewFramer(rand.Uint32(), payloadType, samples, uint16(rand.Uint32()), rand.Uint32())
}

func (f *Framer) SSRC() uint32      { return f.ssrc }
func (f *Framer) Sequence() uint16  { return f.seq }
func (f *Framer) Timestamp() uint32 { return f.ts }

// Encode compands one frame of linear PCM and wraps it in an RTP packet.
func (f *Framer) Encode(pcm []int16) ([]byte, error) {
	if uint32(len(pcm)) != f.samples {
		return nil, fmt.Errorf("encode: frame has %d samples, want %d", len(pcm), f.samples)
	}
	return f.EncodePayload(g711.Encode(pcm))
}

// EncodePayload wraps an already companded payload.
func (f *Framer) EncodePayload(payload []byte) ([]byte, error) {
	p := prtp.Packet{
		Header: prtp.Header{
			Version:        Version,
			PayloadType:    f.payloadType,
			SequenceNumber: f.seq,
			Timestamp:      f.ts,
			SSRC:           f.ssrc,
		},
		Payload: payload,
	}
	raw, err := p.Marshal()
	if err != nil {
		return nil, err
	}
	f.seq++
	f.ts += f.samples
	return raw, nil
}

// Frame is one decoded inbound packet.
type Frame struct {
	SSRC      uint32
	Sequence  uint16
	Timestamp uint32
	Marker    bool
	PCM       []int16
}

// Depacketizer is the receive side: it validates packets and locks on to
// the first SSRC it accepts.
type Depacketizer struct {
	payloadType uint8
	ssrc        uint32
	locked      bool
}

func NewDepacketizer(payloadType uint8) *Depacketizer {
	return &Depacketizer{payloadType: payloadType}
}

// Decode parses data and expands its μ-law payload.
func (d *Depacketizer) Decode(data []byte) (*Frame, error) {
	if len(data) < HeaderSize {
		return nil, fmt.Errorf("%w: %d byte packet", ErrUnsupportedPayload, len(data))
	}
	if v := data[0] >> 6; v != Version {
		return nil, fmt.Errorf("%w: version %d", ErrUnsupportedPayload, v)
	}
	var p prtp.Packet
	if err := p.Unmarshal(data); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedPayload, err)
	}
	if p.PayloadType != d.payloadType {
		return nil, fmt.Errorf("%w: payload type %d", ErrUnsupportedPayload, p.PayloadType)
	}
	if d.locked && p.SSRC != d.ssrc {
		return nil, fmt.Errorf("%w: ssrc %#x", ErrForeignSource, p.SSRC)
	}
	d.ssrc, d.locked = p.SSRC, true

	return &Frame{
		SSRC:      p.SSRC,
		Sequence:  p.SequenceNumber,
		Timestamp: p.Timestamp,
		Marker:    p.Marker,
		PCM:       g711.Decode(p.Payload),
	}, nil
}

// Reset forgets the locked SSRC.
func (d *Depacketizer) Reset() {
	d.ssrc, d.locked = 0, false
}
