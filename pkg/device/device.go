// Package device holds the contracts of the hardware the phone drives:
// microphone, speaker, the talk button, the status indicator and a clock.
package device

import "time"

// AudioInput fills one frame of linear PCM per call.
type AudioInput interface {
	Read(frame []int16) error
}

// AudioOutput plays one frame of linear PCM per call.
type AudioOutput interface {
	Write(frame []int16) error
}

type ButtonEvent int

const (
	Press ButtonEvent = iota
	Release
	LongPress
)

func (e ButtonEvent) String() string {
	switch e {
	case Press:
		return "Press"
	case Release:
		return "Release"
	case LongPress:
		return "LongPress"
	}
	return "Unknown"
}

// Button delivers debounced button transitions.
type Button interface {
	Events() <-chan ButtonEvent
}

type IndicatorState string

const (
	IndicatorUnregistered IndicatorState = "Unregistered"
	IndicatorIdle         IndicatorState = "Idle"
	IndicatorCalling      IndicatorState = "Calling"
	IndicatorRinging      IndicatorState = "Ringing"
	IndicatorListen       IndicatorState = "Listen"
	IndicatorTalk         IndicatorState = "Talk"
	IndicatorError        IndicatorState = "Error"
)

// Indicator shows the phone state to the user (LED, display, log line).
type Indicator interface {
	Set(state IndicatorState)
}

type Clock interface {
	Now() time.Time
}
