// Package g711 frames ITU-T G.711 μ-law audio for RTP.
package g711

import (
	"math"

	"github.com/zaf/g711"
)

// clip is the largest magnitude μ-law represents before saturating.
const clip = 32635

// EncodeSample compands one 16-bit linear sample to μ-law.
func EncodeSample(sample int16) byte {
	if sample == math.MinInt16 {
		// its negation does not fit an int16
		sample = -math.MaxInt16
	}
	return g711.EncodeUlawFrame(sample)
}

// DecodeSample expands one μ-law byte to 16-bit linear.
func DecodeSample(u byte) int16 {
	return g711.DecodeUlawFrame(u)
}

// Encode compands a frame of linear samples.
func Encode(pcm []int16) []byte {
	out := make([]byte, len(pcm))
	for i, s := range pcm {
		out[i] = EncodeSample(s)
	}
	return out
}

// Decode expands a frame of μ-law bytes.
func Decode(ulaw []byte) []int16 {
	out := make([]int16, len(ulaw))
	for i, u := range ulaw {
		out[i] = DecodeSample(u)
	}
	return out
}

// Silence is the μ-law code for a zero sample.
const Silence byte = 0xFF
