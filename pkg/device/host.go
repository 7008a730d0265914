package device

import (
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ghettovoice/gosip/log"
)

// SilenceInput is a microphone that never hears anything.
type SilenceInput struct{}

func (SilenceInput) Read(frame []int16) error {
	for i := range frame {
		frame[i] = 0
	}
	return nil
}

// ToneInput generates a continuous sine wave at 8 kHz.
type ToneInput struct {
	Frequency float64
	Amplitude float64
	phase     float64
}

func (t *ToneInput) Read(frame []int16) error {
	step := 2 * math.Pi * t.Frequency / 8000
	for i := range frame {
		frame[i] = int16(t.Amplitude * math.Sin(t.phase))
		t.phase += step
		if t.phase > 2*math.Pi {
			t.phase -= 2 * math.Pi
		}
	}
	return nil
}

// DiscardOutput drops audio and counts frames.
type DiscardOutput struct {
	frames atomic.Uint64
}

func (d *DiscardOutput) Write(frame []int16) error {
	d.frames.Add(1)
	return nil
}

func (d *DiscardOutput) Frames() uint64 {
	return d.frames.Load()
}

// ChanButton is a button pushed from software, e.g. a console.
type ChanButton struct {
	events chan ButtonEvent
}

func NewChanButton(size int) *ChanButton {
	return &ChanButton{events: make(chan ButtonEvent, size)}
}

func (b *ChanButton) Events() <-chan ButtonEvent {
	return b.events
}

// Push queues e, dropping it when nobody keeps up.
func (b *ChanButton) Push(e ButtonEvent) bool {
	select {
	case b.events <- e:
		return true
	default:
		return false
	}
}

// LogIndicator prints state changes.
type LogIndicator struct {
	mu    sync.Mutex
	state IndicatorState
	log   log.Logger
}

func NewLogIndicator(logger log.Logger) *LogIndicator {
	return &LogIndicator{log: logger.WithPrefix("Indicator")}
}

func (l *LogIndicator) Set(state IndicatorState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.state == state {
		return
	}
	l.state = state
	l.log.Infof("[%s]", state)
}

func (l *LogIndicator) State() IndicatorState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

type SystemClock struct{}

func (SystemClock) Now() time.Time {
	return time.Now()
}
