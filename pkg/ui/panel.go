// Package ui is the front panel: one button and one indicator.
package ui

import (
	"context"
	"fmt"
	"sync"

	"github.com/cloudwebrtc/go-sip-ptt/pkg/account"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/bus"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/device"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/session"
	"github.com/ghettovoice/gosip/log"
)

// Panel turns button presses into user events according to the call state
// and keeps the indicator in step with the call, registration and audio
// mode events it receives.
type Panel struct {
	mu           sync.Mutex
	bus          *bus.Bus
	indicator    device.Indicator
	target       string
	registrar    bool
	call         session.Status
	peer         string
	mode         bus.AudioMode
	registration account.RegistrationState
	failure      string
	shown        device.IndicatorState
	log          log.Logger
}

// NewPanel creates a panel. target is dialled on a press while idle; with
// registrar set the indicator shows Unregistered until the binding is up.
func NewPanel(b *bus.Bus, indicator device.Indicator, target string, registrar bool, logger log.Logger) *Panel {
	p := &Panel{
		bus:          b,
		indicator:    indicator,
		target:       target,
		registrar:    registrar,
		call:         session.Idle,
		mode:         bus.ModeIdle,
		registration: account.Unregistered,
		log:          logger.WithPrefix("Panel"),
	}
	p.refresh()
	return p
}

// Run serves button presses and UI events until ctx is done.
func (p *Panel) Run(ctx context.Context, button device.Button) error {
	var presses <-chan device.ButtonEvent
	if button != nil {
		presses = button.Events()
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-presses:
			if !ok {
				presses = nil
				continue
			}
			p.HandleButton(e)
		case <-p.bus.UI.Ready():
			for _, ev := range p.bus.UI.Drain() {
				p.HandleEvent(ev)
			}
		}
	}
}

// Action is what a button event means in the current state, false when it
// means nothing.
func (p *Panel) Action(e device.ButtonEvent) (bus.UserAction, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.action(e)
}

func (p *Panel) action(e device.ButtonEvent) (bus.UserAction, bool) {
	switch e {
	case device.Press:
		switch p.call {
		case session.Idle:
			return bus.Dial, p.target != ""
		case session.RingingLocal:
			return bus.Accept, true
		case session.Active:
			return bus.Talk, true
		}
	case device.Release:
		if p.call == session.Active {
			return bus.Listen, true
		}
	case device.LongPress:
		switch p.call {
		case session.RingingLocal:
			return bus.Reject, true
		case session.Calling, session.Active:
			return bus.Hangup, true
		}
	}
	return "", false
}

func (p *Panel) HandleButton(e device.ButtonEvent) {
	p.mu.Lock()
	action, ok := p.action(e)
	state := p.call
	p.mu.Unlock()
	if !ok {
		p.log.Debugf("%s ignored in %s", e, state)
		return
	}
	ev := bus.UserEvent{Action: action}
	if action == bus.Dial {
		ev.Target = p.target
	}
	p.log.Debugf("%s in %s -> %s", e, state, action)
	p.bus.PublishUser(ev)
}

func (p *Panel) HandleEvent(ev bus.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	switch e := ev.(type) {
	case bus.CallEvent:
		switch {
		case e.IsTerminal():
			p.call = session.Idle
			p.peer = ""
			p.mode = bus.ModeIdle
			if e.Kind == bus.CallFailed {
				p.failure = describe(e.Reason, e.StatusCode, e.Err)
			}
		default:
			p.call = e.State
			p.peer = e.Peer
			p.failure = ""
		}
	case bus.RegistrationEvent:
		p.registration = e.State
		switch {
		case e.Err != nil:
			p.failure = describe("registration failed", e.StatusCode, e.Err)
		case e.State == account.Registered:
			p.failure = ""
		}
	case bus.ModeEvent:
		p.mode = e.Mode
	}
	p.refresh()
}

func describe(reason string, code int, err error) string {
	switch {
	case err != nil && code > 0:
		return fmt.Sprintf("%s (%d): %v", reason, code, err)
	case err != nil:
		return fmt.Sprintf("%s: %v", reason, err)
	case code > 0:
		return fmt.Sprintf("%s (%d)", reason, code)
	}
	return reason
}

func (p *Panel) state() device.IndicatorState {
	switch p.call {
	case session.Calling:
		return device.IndicatorCalling
	case session.RingingLocal:
		return device.IndicatorRinging
	case session.Active:
		if p.mode == bus.ModeTalk {
			return device.IndicatorTalk
		}
		return device.IndicatorListen
	}
	if p.failure != "" {
		return device.IndicatorError
	}
	if p.registrar && p.registration != account.Registered {
		return device.IndicatorUnregistered
	}
	return device.IndicatorIdle
}

func (p *Panel) refresh() {
	s := p.state()
	if s == p.shown {
		return
	}
	p.shown = s
	p.indicator.Set(s)
}

// Indicator is the state last shown.
func (p *Panel) Indicator() device.IndicatorState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.shown
}

// Status is a one-line summary for consoles.
func (p *Panel) Status() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := fmt.Sprintf("[%s] call=%s registration=%s", p.shown, p.call, p.registration)
	if p.peer != "" {
		s += " peer=" + p.peer
	}
	if p.failure != "" {
		s += " error=" + p.failure
	}
	return s
}
