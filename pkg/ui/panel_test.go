package ui

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwebrtc/go-sip-ptt/pkg/account"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/bus"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/device"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/session"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/utils"
	"github.com/ghettovoice/gosip/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var logger = utils.NewLogrusLogger(log.DebugLevel, "Panel", nil)

type lamp struct {
	states []device.IndicatorState
}

func (l *lamp) Set(state device.IndicatorState) {
	l.states = append(l.states, state)
}

func call(kind bus.CallEventKind, state session.Status) bus.CallEvent {
	return bus.CallEvent{Kind: kind, State: state, Peer: "sip:200@127.0.0.1"}
}

func userActions(b *bus.Bus) []bus.UserEvent {
	var out []bus.UserEvent
	for _, q := range []*bus.Queue[bus.Event]{b.Control, b.Media} {
		for _, ev := range q.Drain() {
			out = append(out, ev.(bus.UserEvent))
		}
	}
	return out
}

func TestButtonMapping(t *testing.T) {
	b := bus.New(16)
	p := NewPanel(b, &lamp{}, "200", false, logger)

	cases := []struct {
		state  session.Status
		button device.ButtonEvent
		action bus.UserAction
		ok     bool
	}{
		{session.Idle, device.Press, bus.Dial, true},
		{session.Idle, device.Release, "", false},
		{session.Idle, device.LongPress, "", false},
		{session.Calling, device.Press, "", false},
		{session.Calling, device.LongPress, bus.Hangup, true},
		{session.RingingLocal, device.Press, bus.Accept, true},
		{session.RingingLocal, device.LongPress, bus.Reject, true},
		{session.Active, device.Press, bus.Talk, true},
		{session.Active, device.Release, bus.Listen, true},
		{session.Active, device.LongPress, bus.Hangup, true},
		{session.Terminating, device.Press, "", false},
	}
	for _, c := range cases {
		p.call = c.state
		action, ok := p.Action(c.button)
		assert.Equal(t, c.ok, ok, "%s in %s", c.button, c.state)
		assert.Equal(t, c.action, action, "%s in %s", c.button, c.state)
	}

	p.call = session.Idle
	p.HandleButton(device.Press)
	p.call = session.Active
	p.HandleButton(device.Press)
	p.HandleButton(device.Release)
	events := userActions(b)
	require.Len(t, events, 3)
	assert.Equal(t, bus.UserEvent{Action: bus.Dial, Target: "200"}, events[0])
	assert.Equal(t, bus.Talk, events[1].Action)
	assert.Equal(t, bus.Listen, events[2].Action)
}

func TestPressWithoutTargetIsIgnored(t *testing.T) {
	b := bus.New(16)
	p := NewPanel(b, &lamp{}, "", false, logger)
	p.HandleButton(device.Press)
	assert.Empty(t, userActions(b))
}

func TestIndicatorFollowsEvents(t *testing.T) {
	l := &lamp{}
	p := NewPanel(bus.New(16), l, "200", true, logger)
	assert.Equal(t, device.IndicatorUnregistered, p.Indicator())

	p.HandleEvent(bus.RegistrationEvent{State: account.Registering})
	p.HandleEvent(bus.RegistrationEvent{State: account.Registered, StatusCode: 200, Expires: time.Hour})
	assert.Equal(t, device.IndicatorIdle, p.Indicator())

	p.HandleEvent(call(bus.CallOutgoing, session.Calling))
	assert.Equal(t, device.IndicatorCalling, p.Indicator())
	p.HandleEvent(call(bus.CallEstablished, session.Active))
	p.HandleEvent(bus.ModeEvent{Mode: bus.ModeListen})
	assert.Equal(t, device.IndicatorListen, p.Indicator())
	p.HandleEvent(bus.ModeEvent{Mode: bus.ModeTalk})
	assert.Equal(t, device.IndicatorTalk, p.Indicator())
	assert.Contains(t, p.Status(), "peer=sip:200@127.0.0.1")

	p.HandleEvent(call(bus.CallEnded, session.Terminating))
	assert.Equal(t, device.IndicatorIdle, p.Indicator())

	p.HandleEvent(call(bus.CallIncoming, session.RingingLocal))
	assert.Equal(t, device.IndicatorRinging, p.Indicator())

	p.HandleEvent(bus.CallEvent{Kind: bus.CallFailed, StatusCode: 486, Reason: "Busy Here"})
	assert.Equal(t, device.IndicatorError, p.Indicator())
	assert.Contains(t, p.Status(), "Busy Here (486)")

	p.HandleEvent(bus.RegistrationEvent{State: account.Unregistered, Err: errors.New("timeout")})
	assert.Equal(t, device.IndicatorError, p.Indicator())

	assert.Equal(t, []device.IndicatorState{
		device.IndicatorUnregistered,
		device.IndicatorIdle,
		device.IndicatorCalling,
		device.IndicatorListen,
		device.IndicatorTalk,
		device.IndicatorIdle,
		device.IndicatorRinging,
		device.IndicatorError,
	}, l.states)
}

func TestRunServesButtonAndBus(t *testing.T) {
	b := bus.New(16)
	p := NewPanel(b, &lamp{}, "200", false, logger)
	button := device.NewChanButton(4)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx, button) }()

	b.PublishCall(call(bus.CallIncoming, session.RingingLocal))
	require.Eventually(t, func() bool {
		return p.Indicator() == device.IndicatorRinging
	}, time.Second, 5*time.Millisecond)

	require.True(t, button.Push(device.Press))
	require.Eventually(t, func() bool {
		return b.Control.Len() > 0
	}, time.Second, 5*time.Millisecond)
	ev, ok := b.Control.TryReceive()
	require.True(t, ok)
	assert.Equal(t, bus.Accept, ev.(bus.UserEvent).Action)

	cancel()
	assert.NoError(t, <-done)
}
