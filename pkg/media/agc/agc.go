// Package agc levels captured speech before it is encoded. Gains are Q12
// fixed point (4096 = 1.0).
package agc

import "math"

const one = 4096

// Config tunes the controller. Attack and Release are smoothing factors out
// of 256 applied when the gain falls or rises.
type Config struct {
	TargetRMS    int     `mapstructure:"target_rms"`
	NoiseGateRMS int     `mapstructure:"noise_gate_rms"`
	StartGain    float64 `mapstructure:"start_gain"`
	MinGain      float64 `mapstructure:"min_gain"`
	MaxGain      float64 `mapstructure:"max_gain"`
	Attack       int     `mapstructure:"attack"`
	Release      int     `mapstructure:"release"`
	Limiter      int     `mapstructure:"limiter"`
}

func DefaultConfig() Config {
	return Config{
		TargetRMS:    16000,
		NoiseGateRMS: 150,
		StartGain:    3.0,
		MinGain:      0.5,
		MaxGain:      32.0,
		Attack:       96,
		Release:      16,
		Limiter:      28500,
	}
}

type AGC struct {
	cfg     Config
	gain    int32
	minGain int32
	maxGain int32
}

func New(cfg Config) *AGC {
	return &AGC{
		cfg:     cfg,
		gain:    q12(cfg.StartGain),
		minGain: q12(cfg.MinGain),
		maxGain: q12(cfg.MaxGain),
	}
}

// Gain returns the current gain in Q12.
func (a *AGC) Gain() int32 {
	return a.gain
}

// Process levels frame in place and returns the measured RMS.
func (a *AGC) Process(frame []int16) int {
	rms := RMS(frame)

	desired := a.maxGain
	if rms > 0 {
		desired = int32((int64(a.cfg.TargetRMS) << 12) / int64(rms))
	}
	if desired < a.minGain {
		desired = a.minGain
	}
	if desired > a.maxGain {
		desired = a.maxGain
	}
	// Below the gate the gain may fall but never rise.
	if rms < a.cfg.NoiseGateRMS && desired > a.gain {
		desired = a.gain
	}

	alpha := int32(a.cfg.Release)
	if desired < a.gain {
		alpha = int32(a.cfg.Attack)
	}
	a.gain += ((desired - a.gain) * alpha) >> 8

	applyGain(frame, a.gain, int32(a.cfg.Limiter))
	return rms
}

// RMS is the root mean square of frame.
func RMS(frame []int16) int {
	if len(frame) == 0 {
		return 0
	}
	var sum int64
	for _, s := range frame {
		sum += int64(s) * int64(s)
	}
	return int(math.Sqrt(float64(sum / int64(len(frame)))))
}

// applyGain scales by gain and compresses anything above thresh 4:1.
func applyGain(frame []int16, gain, thresh int32) {
	t := int64(thresh)
	for i, s := range frame {
		y := (int64(s) * int64(gain)) >> 12
		if y > t {
			y = t + (y-t)>>2
		} else if y < -t {
			y = -t + (y+t)>>2
		}
		if y > math.MaxInt16 {
			y = math.MaxInt16
		} else if y < math.MinInt16 {
			y = math.MinInt16
		}
		frame[i] = int16(y)
	}
}

func q12(f float64) int32 {
	return int32(f * one)
}
