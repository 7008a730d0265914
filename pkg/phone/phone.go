// Package phone assembles the signaling, media and panel units around one
// bus and runs them until the context ends.
package phone

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/cloudwebrtc/go-sip-ptt/pkg/account"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/bus"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/config"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/device"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/metrics"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/ptt"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/rtp"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/stack"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/ua"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/ui"
	"github.com/ghettovoice/gosip/log"
	"github.com/tevino/abool"
	"golang.org/x/sync/errgroup"
)

var ErrRunning = errors.New("phone is already running")

// Devices are the hardware collaborators. Nil members get host stand-ins.
type Devices struct {
	Input     device.AudioInput
	Output    device.AudioOutput
	Button    device.Button
	Indicator device.Indicator
}

type Phone struct {
	cfg     *config.Config
	profile *account.Profile
	bus     *bus.Bus
	stack   *stack.SipStack
	ua      *ua.UserAgent
	stream  *rtp.RtpUDPStream
	media   *ptt.Controller
	panel   *ui.Panel
	button  device.Button
	metrics *http.Server
	running *abool.AtomicBool
	log     log.Logger
}

// New binds the SIP and RTP sockets and builds every unit.
func New(cfg *config.Config, dev Devices, logger log.Logger) (*Phone, error) {
	if dev.Input == nil {
		dev.Input = device.SilenceInput{}
	}
	if dev.Output == nil {
		dev.Output = &device.DiscardOutput{}
	}
	if dev.Indicator == nil {
		dev.Indicator = device.NewLogIndicator(logger)
	}

	profile, err := cfg.Profile()
	if err != nil {
		return nil, err
	}

	b := bus.New(bus.DefaultCapacity)
	p := &Phone{
		cfg:     cfg,
		profile: profile,
		bus:     b,
		button:  dev.Button,
		running: abool.New(),
		log:     logger.WithPrefix("Phone"),
	}

	p.stack, err = stack.NewSipStack(&stack.SipStackConfig{
		Host:        cfg.SIP.Host,
		ListenAddr:  cfg.SIP.Listen,
		MaxDatagram: cfg.SIP.MaxDatagram,
	}, logger)
	if err != nil {
		return nil, err
	}

	mediaIP := cfg.Media.IP
	if mediaIP == "" {
		mediaIP = p.stack.Host()
	}
	p.stream, err = rtp.NewRtpUDPStream(mediaIP, cfg.Media.PortMin, cfg.Media.PortMax, func(pkt []byte, raddr *net.UDPAddr) {
		p.media.OnPacket(pkt, raddr, time.Now())
	}, logger)
	if err != nil {
		p.stack.Shutdown()
		return nil, fmt.Errorf("media socket: %w", err)
	}
	p.media = ptt.NewController(cfg.Media.PTT, p.stream, b, dev.Input, dev.Output, logger)

	p.ua, err = ua.NewUserAgent(&ua.UserAgentConfig{
		UserAgent:    cfg.SIP.UserAgent,
		Profile:      profile,
		Registrar:    cfg.Registrar,
		Proxies:      cfg.Proxies,
		Host:         p.stack.Host(),
		Port:         p.stack.Port(),
		MediaIP:      mediaIP,
		MediaPort:    p.stream.LocalAddr().Port,
		RingTimeout:  cfg.SIP.RingTimeout,
		RetryMin:     cfg.SIP.RetryMin,
		RetryMax:     cfg.SIP.RetryMax,
		TickInterval: cfg.SIP.Tick,
		Transaction:  cfg.SIP.Timers,
	}, p.stack, b, logger)
	if err != nil {
		p.stream.Close()
		p.stack.Shutdown()
		return nil, err
	}

	p.panel = ui.NewPanel(b, dev.Indicator, cfg.Dial, cfg.Registrar != "", logger)

	if cfg.Metrics.Listen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		p.metrics = &http.Server{Addr: cfg.Metrics.Listen, Handler: mux}
	}
	return p, nil
}

// Run blocks until ctx is done or a unit fails. On the way out the call is
// hung up and the binding removed before the sockets close.
func (p *Phone) Run(ctx context.Context) error {
	if !p.running.SetToIf(false, true) {
		return ErrRunning
	}
	defer p.running.UnSet()

	p.log.Infof("%s on %s:%d, media %v", p.profile.AOR(), p.stack.Host(), p.stack.Port(), p.stream.LocalAddr())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer p.stack.Shutdown()
		return p.ua.Run(ctx, p.stack.Packets())
	})
	g.Go(func() error {
		defer p.stream.Close()
		return p.media.Run(ctx)
	})
	g.Go(func() error {
		p.stream.Read()
		return nil
	})
	g.Go(func() error {
		return p.panel.Run(ctx, p.button)
	})
	if p.metrics != nil {
		g.Go(func() error {
			p.log.Infof("metrics on http://%s/metrics", p.metrics.Addr)
			if err := p.metrics.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics: %w", err)
			}
			return nil
		})
		g.Go(func() error {
			<-ctx.Done()
			return p.metrics.Shutdown(context.Background())
		})
	}
	return g.Wait()
}

func (p *Phone) IsRunning() bool {
	return p.running.IsSet()
}

// Publish injects a user action, as if a button had been pressed.
func (p *Phone) Publish(ev bus.UserEvent) {
	p.bus.PublishUser(ev)
}

// Press feeds a button event through the panel mapping.
func (p *Phone) Press(e device.ButtonEvent) {
	p.panel.HandleButton(e)
}

func (p *Phone) Status() string {
	return p.panel.Status()
}

func (p *Phone) Bus() *bus.Bus {
	return p.bus
}

// SIPAddr is the bound signaling address.
func (p *Phone) SIPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: net.ParseIP(p.stack.Host()), Port: p.stack.Port()}
}
