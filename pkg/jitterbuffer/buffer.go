package jitterbuffer

import (
	"sync"
	"time"

	"github.com/cloudwebrtc/go-sip-ptt/pkg/metrics"
)

// UnderrunPolicy selects what Pop returns when the expected frame is
// missing.
type UnderrunPolicy string

const (
	Silence UnderrunPolicy = "silence"
	Repeat  UnderrunPolicy = "repeat"
)

// PushResult tells what happened to a pushed frame.
type PushResult int

const (
	Inserted PushResult = iota
	// Evicted means the frame was inserted and the oldest one dropped.
	Evicted
	Duplicate
	TooLate
)

func (r PushResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Evicted:
		return "evicted"
	case Duplicate:
		return "duplicate"
	case TooLate:
		return "late"
	}
	return "unknown"
}

type Config struct {
	// Latency is the buffering depth; the media unit turns it into
	// Capacity for its packetization interval.
	Latency time.Duration `mapstructure:"latency"`
	// Capacity is the number of frames retained.
	Capacity int `mapstructure:"-"`
	// Window is how far, in sequence numbers, the oldest retained frame may
	// lead the playout point before playout jumps forward to it.
	Window int `mapstructure:"window"`
	// Prefill is the number of frames collected before playout starts.
	Prefill      int            `mapstructure:"prefill"`
	Policy       UnderrunPolicy `mapstructure:"policy"`
	FrameSamples int            `mapstructure:"-"`
}

// CapacityFor sizes a buffer for the given latency.
func CapacityFor(latency, frame time.Duration) int {
	n := int(latency / frame)
	if n < 1 {
		n = 1
	}
	return n
}

func DefaultConfig() Config {
	return Config{
		Latency:      200 * time.Millisecond,
		Capacity:     CapacityFor(200*time.Millisecond, 20*time.Millisecond),
		Window:       50,
		Prefill:      0,
		Policy:       Silence,
		FrameSamples: 160,
	}
}

type Stats struct {
	Pushed     uint64
	Popped     uint64
	Late       uint64
	Duplicates uint64
	Evicted    uint64
	Underruns  uint64
	Skipped    uint64
}

type slot struct {
	seq     uint16
	arrival time.Time
	order   uint64
	frame   []int16
}

// Buffer reorders decoded frames by RTP sequence number. Push and Pop may
// be called from different goroutines; each holds the lock only for its
// own duration.
type Buffer struct {
	mu       sync.Mutex
	cfg      Config
	slots    []slot
	expected uint16
	started  bool
	last     []int16
	arrivals uint64
	stats    Stats
}

func NewJitterBuffer(cfg Config) *Buffer {
	if cfg.Capacity < 1 {
		cfg.Capacity = 1
	}
	if cfg.FrameSamples <= 0 {
		cfg.FrameSamples = 160
	}
	if cfg.Policy == "" {
		cfg.Policy = Silence
	}
	return &Buffer{
		cfg:   cfg,
		slots: make([]slot, 0, cfg.Capacity),
	}
}

// distance is the signed sequence distance from b to a.
func distance(a, b uint16) int {
	return int(int16(a - b))
}

// Push stores frame under seq.
func (b *Buffer) Push(seq uint16, arrival time.Time, frame []int16) PushResult {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.arrivals++
	b.stats.Pushed++

	if b.started && distance(seq, b.expected) < 0 {
		b.stats.Late++
		metrics.JitterEvents.WithLabelValues("late").Inc()
		return TooLate
	}

	for _, s := range b.slots {
		if s.seq == seq {
			b.stats.Duplicates++
			metrics.JitterEvents.WithLabelValues("duplicate").Inc()
			return Duplicate
		}
	}

	result := Inserted
	if len(b.slots) == b.cfg.Capacity {
		b.slots = b.slots[1:]
		b.stats.Evicted++
		metrics.JitterEvents.WithLabelValues("evicted").Inc()
		result = Evicted
	}

	i := len(b.slots)
	for i > 0 && distance(seq, b.slots[i-1].seq) < 0 {
		i--
	}
	b.slots = append(b.slots, slot{})
	copy(b.slots[i+1:], b.slots[i:])
	b.slots[i] = slot{seq: seq, arrival: arrival, order: b.arrivals, frame: frame}
	return result
}

// Pop returns the next frame for playout. It never blocks: a missing frame
// yields silence or the previous frame and the playout point still
// advances. underrun is true when the frame was synthesised.
func (b *Buffer) Pop() (frame []int16, underrun bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.started {
		prefill := b.cfg.Prefill
		if prefill < 1 {
			prefill = 1
		}
		if len(b.slots) < prefill {
			return b.underrunLocked(), true
		}
		b.expected = b.slots[0].seq
		b.started = true
	}

	if len(b.slots) > 0 {
		head := b.slots[0]
		d := distance(head.seq, b.expected)
		switch {
		case d == 0:
			return b.deliverLocked(), false
		case len(b.slots) == b.cfg.Capacity || d > b.cfg.Window:
			b.stats.Skipped++
			metrics.JitterEvents.WithLabelValues("skipped").Inc()
			b.expected = head.seq
			return b.deliverLocked(), false
		}
	}

	b.expected++
	return b.underrunLocked(), true
}

func (b *Buffer) deliverLocked() []int16 {
	s := b.slots[0]
	b.slots = b.slots[1:]
	b.expected = s.seq + 1
	b.last = s.frame
	b.stats.Popped++
	return s.frame
}

func (b *Buffer) underrunLocked() []int16 {
	b.stats.Underruns++
	metrics.JitterEvents.WithLabelValues("underrun").Inc()
	out := make([]int16, b.cfg.FrameSamples)
	if b.cfg.Policy == Repeat && b.last != nil {
		copy(out, b.last)
	}
	return out
}

// Len is the number of frames waiting.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.slots)
}

func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Reset empties the buffer for a new stream.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resetLocked()
	b.last = nil
}

func (b *Buffer) resetLocked() {
	b.slots = b.slots[:0]
	b.started = false
	b.expected = 0
}
