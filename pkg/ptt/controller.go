// Package ptt is the media unit: it gates the microphone and speaker by
// push-to-talk mode and moves audio between the devices and the RTP socket.
package ptt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cloudwebrtc/go-sip-ptt/pkg/bus"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/device"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/jitterbuffer"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/media"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/media/agc"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/metrics"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/rtp"
	"github.com/ghettovoice/gosip/log"
	"github.com/tevino/abool"
)

// PlaybackPolicy is what the speaker does while the local user talks.
type PlaybackPolicy string

const (
	Mute PlaybackPolicy = "mute"
	Duck PlaybackPolicy = "duck"
)

const (
	MinInterval = 10 * time.Millisecond
	MaxInterval = 60 * time.Millisecond
)

type Config struct {
	// Interval is the packetization interval. It fixes the frame size.
	Interval     time.Duration  `mapstructure:"interval"`
	TalkPlayback PlaybackPolicy `mapstructure:"talk_playback"`
	// DuckShift attenuates playback by 6 dB per step under Duck.
	DuckShift    uint                `mapstructure:"duck_shift"`
	AGCEnabled   bool                `mapstructure:"agc_enabled"`
	AGC          agc.Config          `mapstructure:"agc"`
	Jitter       jitterbuffer.Config `mapstructure:"jitter"`
	RTCPInterval time.Duration       `mapstructure:"rtcp_interval"`
}

func DefaultConfig() Config {
	return Config{
		Interval:     20 * time.Millisecond,
		TalkPlayback: Mute,
		DuckShift:    3,
		AGCEnabled:   true,
		AGC:          agc.DefaultConfig(),
		Jitter:       jitterbuffer.DefaultConfig(),
		RTCPInterval: 5 * time.Second,
	}
}

// FrameSamples is the number of 8 kHz samples in one interval.
func (c Config) FrameSamples() int {
	return int(c.Interval * media.ClockRate / time.Second)
}

// ValidateInterval rejects an interval that does not hold a whole number
// of samples.
func (c Config) ValidateInterval() error {
	if c.Interval < MinInterval || c.Interval > MaxInterval {
		return fmt.Errorf("interval %v outside %v..%v", c.Interval, MinInterval, MaxInterval)
	}
	if c.Interval*media.ClockRate%time.Second != 0 {
		return fmt.Errorf("interval %v is not a whole number of samples", c.Interval)
	}
	return nil
}

// JitterConfig sizes the jitter buffer: capacity is the latency divided
// by the interval, frames are one interval long.
func (c Config) JitterConfig() jitterbuffer.Config {
	jc := c.Jitter
	jc.FrameSamples = c.FrameSamples()
	if jc.Latency > 0 {
		jc.Capacity = jitterbuffer.CapacityFor(jc.Latency, c.Interval)
	}
	return jc
}

// Sender writes one datagram; rtp.RtpUDPStream is the production one.
type Sender interface {
	Send(pkt []byte, raddr *net.UDPAddr) (int, error)
}

// Controller owns the media session of the active call. Everything except
// OnPacket runs on the goroutine that calls Run.
type Controller struct {
	cfg    Config
	bus    *bus.Bus
	sender Sender
	input  device.AudioInput
	output device.AudioOutput
	jitter *jitterbuffer.Buffer
	gain   *agc.AGC

	mode       bus.AudioMode
	endpoint   media.Endpoint
	framer     *rtp.Framer
	reporter   *rtp.Reporter
	lastReport time.Time
	capture    []int16
	active     *abool.AtomicBool

	// receive side, shared with OnPacket
	mu      sync.Mutex
	remote  *net.UDPAddr
	latched bool
	depack  *rtp.Depacketizer

	log log.Logger
}

func NewController(cfg Config, sender Sender, b *bus.Bus, input device.AudioInput, output device.AudioOutput, logger log.Logger) *Controller {
	if cfg.ValidateInterval() != nil {
		cfg.Interval = 20 * time.Millisecond
	}
	if cfg.TalkPlayback == "" {
		cfg.TalkPlayback = Mute
	}
	return &Controller{
		cfg:     cfg,
		bus:     b,
		sender:  sender,
		input:   input,
		output:  output,
		jitter:  jitterbuffer.NewJitterBuffer(cfg.JitterConfig()),
		mode:    bus.ModeIdle,
		capture: make([]int16, cfg.FrameSamples()),
		active:  abool.New(),
		log:     logger.WithPrefix("Media"),
	}
}

func (c *Controller) Mode() bus.AudioMode {
	return c.mode
}

// Remote is where outbound RTP goes: the signalled endpoint until the
// first accepted packet latches its source address.
func (c *Controller) Remote() *net.UDPAddr {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.remote
}

func (c *Controller) JitterStats() jitterbuffer.Stats {
	return c.jitter.Stats()
}

// Run drives the capture and playback ticks every interval until ctx is
// done, handling the events queued for the media unit at each boundary.
func (c *Controller) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			c.close(time.Now(), "shutdown")
			return nil
		case now := <-ticker.C:
			c.Step(now)
		}
	}
}

// Step is one packetization interval.
func (c *Controller) Step(now time.Time) {
	for _, ev := range c.bus.Media.Drain() {
		c.HandleEvent(ev, now)
	}
	if err := c.CaptureTick(now); err != nil {
		c.log.Warnf("capture: %v", err)
	}
	if err := c.PlaybackTick(); err != nil {
		c.log.Warnf("playback: %v", err)
	}
}

func (c *Controller) HandleEvent(ev bus.Event, now time.Time) {
	switch e := ev.(type) {
	case bus.CallEvent:
		switch {
		case e.Kind == bus.CallEstablished:
			c.open(e.Remote)
		case e.IsTerminal():
			c.close(now, string(e.Kind))
		}
	case bus.UserEvent:
		switch e.Action {
		case bus.Talk:
			c.gate(bus.ModeTalk)
		case bus.Listen:
			c.gate(bus.ModeListen)
		}
	}
}

func (c *Controller) gate(mode bus.AudioMode) {
	if !c.active.IsSet() {
		c.log.Debugf("%s ignored without an active call", mode)
		return
	}
	c.setMode(mode)
}

func (c *Controller) open(ep media.Endpoint) {
	if ep.IsZero() {
		c.log.Warnf("established without a media endpoint")
		return
	}
	if c.active.IsSet() {
		c.close(time.Now(), "replaced")
	}
	c.mu.Lock()
	c.remote = ep.UDPAddr()
	c.latched = false
	c.depack = rtp.NewDepacketizer(ep.PayloadType)
	c.mu.Unlock()

	c.endpoint = ep
	c.jitter.Reset()
	c.framer = rtp.NewRandomFramer(ep.PayloadType, c.cfg.FrameSamples())
	c.reporter = rtp.NewReporter(c.framer.SSRC())
	c.lastReport = time.Time{}
	c.gain = agc.New(c.cfg.AGC)
	c.active.Set()
	c.log.Infof("media open to %v, ssrc %#x", ep, c.framer.SSRC())
	c.setMode(bus.ModeListen)
}

func (c *Controller) close(now time.Time, reason string) {
	if !c.active.SetToIf(true, false) {
		c.setMode(bus.ModeIdle)
		return
	}
	remote := c.Remote()
	if bye, err := c.reporter.Goodbye(now, reason); err == nil && remote != nil {
		if _, err := c.sender.Send(bye, rtp.RTCPAddr(remote)); err != nil {
			c.log.Debugf("rtcp bye: %v", err)
		}
	}
	c.mu.Lock()
	c.remote = nil
	c.depack = nil
	c.mu.Unlock()
	c.jitter.Reset()
	c.framer = nil
	c.reporter = nil
	c.log.Infof("media closed: %s", reason)
	c.setMode(bus.ModeIdle)
}

func (c *Controller) setMode(mode bus.AudioMode) {
	if c.mode == mode {
		return
	}
	c.log.Debugf("mode %s -> %s", c.mode, mode)
	c.mode = mode
	c.bus.PublishMode(bus.ModeEvent{Mode: mode})
}

// CaptureTick reads one frame from the microphone and sends it while
// talking. The microphone is read whenever a call is up so its buffer
// never backs up.
func (c *Controller) CaptureTick(now time.Time) error {
	if !c.active.IsSet() {
		return nil
	}
	if err := c.input.Read(c.capture); err != nil {
		return err
	}
	if c.mode != bus.ModeTalk {
		return nil
	}
	if c.cfg.AGCEnabled {
		c.gain.Process(c.capture)
	}
	remote := c.Remote()
	if remote == nil {
		return errors.New("no remote media address")
	}
	ts := c.framer.Timestamp()
	pkt, err := c.framer.Encode(c.capture)
	if err != nil {
		return err
	}
	if _, err := c.sender.Send(pkt, remote); err != nil {
		return err
	}
	metrics.RTPPackets.WithLabelValues("sent").Inc()
	c.reporter.OnSent(ts, len(pkt)-rtp.HeaderSize)

	if c.cfg.RTCPInterval > 0 && now.Sub(c.lastReport) >= c.cfg.RTCPInterval {
		c.lastReport = now
		if sr, err := c.reporter.SenderReport(now); err == nil {
			if _, err := c.sender.Send(sr, rtp.RTCPAddr(remote)); err != nil {
				c.log.Debugf("rtcp sr: %v", err)
			}
		}
	}
	return nil
}

// PlaybackTick writes the next frame of the jitter buffer to the speaker.
func (c *Controller) PlaybackTick() error {
	if !c.active.IsSet() {
		return nil
	}
	frame, _ := c.jitter.Pop()
	if c.mode == bus.ModeTalk {
		frame = c.attenuate(frame)
	}
	return c.output.Write(frame)
}

func (c *Controller) attenuate(frame []int16) []int16 {
	out := make([]int16, len(frame))
	if c.cfg.TalkPlayback != Duck {
		return out
	}
	for i, s := range frame {
		out[i] = s >> c.cfg.DuckShift
	}
	return out
}

// OnPacket is the RTP socket callback. It runs on the socket's reader
// goroutine and only touches the receive side and the jitter buffer.
func (c *Controller) OnPacket(data []byte, from *net.UDPAddr, now time.Time) {
	if !c.active.IsSet() {
		metrics.RTPDropped.WithLabelValues("inactive").Inc()
		return
	}
	c.mu.Lock()
	if c.depack == nil {
		c.mu.Unlock()
		metrics.RTPDropped.WithLabelValues("inactive").Inc()
		return
	}
	frame, err := c.depack.Decode(data)
	if err != nil {
		c.mu.Unlock()
		reason := "unsupported"
		if errors.Is(err, rtp.ErrForeignSource) {
			reason = "foreign"
		}
		metrics.RTPDropped.WithLabelValues(reason).Inc()
		c.log.Tracef("drop rtp from %v: %v", from, err)
		return
	}
	if !c.latched && from != nil {
		c.latched = true
		if c.remote == nil || !c.remote.IP.Equal(from.IP) || c.remote.Port != from.Port {
			c.log.Infof("latched media to %v", from)
			c.remote = &net.UDPAddr{IP: from.IP, Port: from.Port, Zone: from.Zone}
		}
	}
	c.mu.Unlock()

	metrics.RTPPackets.WithLabelValues("received").Inc()
	c.jitter.Push(frame.Sequence, now, frame.PCM)
}
