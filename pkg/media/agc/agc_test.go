package agc

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func tone(amplitude float64) []int16 {
	frame := make([]int16, 160)
	for i := range frame {
		frame[i] = int16(amplitude * math.Sin(2*math.Pi*float64(i)/20))
	}
	return frame
}

func TestQuietSpeechIsRaised(t *testing.T) {
	a := New(DefaultConfig())
	var rms int
	for i := 0; i < 200; i++ {
		frame := tone(1000)
		a.Process(frame)
		rms = RMS(frame)
	}
	assert.Greater(t, rms, 5000)
}

func TestLoudInputIsLimited(t *testing.T) {
	a := New(DefaultConfig())
	frame := tone(30000)
	a.Process(frame)
	for _, s := range frame {
		assert.LessOrEqual(t, int(s), math.MaxInt16)
		assert.GreaterOrEqual(t, int(s), math.MinInt16)
	}
	assert.Less(t, a.Gain(), q12(DefaultConfig().StartGain))
}

func TestNoiseGateHoldsGain(t *testing.T) {
	a := New(DefaultConfig())
	start := a.Gain()
	for i := 0; i < 50; i++ {
		a.Process(tone(50))
	}
	assert.Equal(t, start, a.Gain())
}

func TestSilence(t *testing.T) {
	a := New(DefaultConfig())
	frame := make([]int16, 160)
	assert.Equal(t, 0, a.Process(frame))
	for _, s := range frame {
		assert.Equal(t, int16(0), s)
	}
}
