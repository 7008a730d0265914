package bus

import (
	"time"

	"github.com/cloudwebrtc/go-sip-ptt/pkg/account"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/media"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/session"
)

// Event is one of UserEvent, CallEvent, RegistrationEvent or ModeEvent.
type Event interface {
	event()
}

type UserAction string

const (
	Dial   UserAction = "Dial"
	Accept UserAction = "Accept"
	Reject UserAction = "Reject"
	Hangup UserAction = "Hangup"
	Talk   UserAction = "Talk"
	Listen UserAction = "Listen"
)

// UserEvent is a request from the button or the console.
type UserEvent struct {
	Action UserAction
	// Target is the dial string for Dial.
	Target string
}

type CallEventKind string

const (
	CallOutgoing      CallEventKind = "Outgoing"
	CallRemoteRinging CallEventKind = "RemoteRinging"
	CallIncoming      CallEventKind = "Incoming"
	CallEstablished   CallEventKind = "Established"
	CallFailed        CallEventKind = "Failed"
	CallEnded         CallEventKind = "Ended"
)

// CallEvent reports a call state change made by the signaling unit.
type CallEvent struct {
	Kind   CallEventKind
	State  session.Status
	CallID string
	Peer   string
	// Remote is set on Established.
	Remote media.Endpoint
	// Offer is set on Incoming.
	Offer      *media.Description
	StatusCode int
	Reason     string
	Err        error
}

// IsTerminal reports whether the call is over.
func (e CallEvent) IsTerminal() bool {
	return e.Kind == CallFailed || e.Kind == CallEnded
}

type RegistrationEvent struct {
	State      account.RegistrationState
	StatusCode int
	Expires    time.Duration
	Err        error
}

// AudioMode is the media unit's gate.
type AudioMode string

const (
	ModeIdle   AudioMode = "Idle"
	ModeListen AudioMode = "Listen"
	ModeTalk   AudioMode = "Talk"
)

// ModeEvent reports an AudioMode change made by the media unit.
type ModeEvent struct {
	Mode AudioMode
}

func (UserEvent) event()         {}
func (CallEvent) event()         {}
func (RegistrationEvent) event() {}
func (ModeEvent) event()         {}

const DefaultCapacity = 16

// Bus connects the signaling, media and UI units. Each unit consumes one
// queue and never blocks a producer.
type Bus struct {
	Control *Queue[Event]
	Media   *Queue[Event]
	UI      *Queue[Event]
}

func New(capacity int) *Bus {
	return &Bus{
		Control: NewQueue[Event]("control", capacity),
		Media:   NewPinnedQueue[Event]("media", capacity, isCallEvent),
		UI:      NewPinnedQueue[Event]("ui", capacity, isCallEvent),
	}
}

// isCallEvent pins call events: losing one would leave a unit out of step
// with the line.
func isCallEvent(ev Event) bool {
	_, ok := ev.(CallEvent)
	return ok
}

// PublishUser sends talk and listen requests to the media unit and the
// rest to the signaling unit.
func (b *Bus) PublishUser(ev UserEvent) {
	switch ev.Action {
	case Talk, Listen:
		b.Media.Publish(ev)
	default:
		b.Control.Publish(ev)
	}
}

// PublishCall fans a call event out to the media unit and the UI.
func (b *Bus) PublishCall(ev CallEvent) {
	b.Media.Publish(ev)
	b.UI.Publish(ev)
}

func (b *Bus) PublishRegistration(ev RegistrationEvent) {
	b.UI.Publish(ev)
}

func (b *Bus) PublishMode(ev ModeEvent) {
	b.UI.Publish(ev)
}
