package ua

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/cloudwebrtc/go-sip-ptt/pkg/account"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/auth"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/bus"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/media"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/message"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/metrics"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/session"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/stack"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/transaction"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/utils"
	"github.com/ghettovoice/gosip/log"
)

var (
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrCallInProgress       = errors.New("a call is already in progress")
	ErrNoCall               = errors.New("no call to act on")
)

const DefaultTickInterval = 50 * time.Millisecond

type UserAgentConfig struct {
	UserAgent string
	Profile   *account.Profile
	// Registrar URI; empty disables registration.
	Registrar string
	Proxies   account.ProxiesConfig
	// Host and Port are the signaling address advertised in Via and Contact.
	Host string
	Port int
	// MediaIP and MediaPort are advertised in SDP.
	MediaIP     string
	MediaPort   int
	RingTimeout time.Duration
	// RetryMin and RetryMax bound the registration retry backoff.
	RetryMin     time.Duration
	RetryMax     time.Duration
	TickInterval time.Duration
	Transaction  transaction.Config
}

// UserAgent is the signaling unit: the call state machine for the single
// line plus the registration sub-machine. Every method except Run must be
// called from the goroutine running Run, or with Run not started.
type UserAgent struct {
	config     *UserAgentConfig
	transport  transaction.Transport
	tm         *transaction.Manager
	bus        *bus.Bus
	call       *session.Session
	register   *Register
	// authorizer answers Digest challenges; nil without credentials.
	authorizer auth.Authorizer
	log        log.Logger
}

//NewUserAgent .
func NewUserAgent(config *UserAgentConfig, transport transaction.Transport, b *bus.Bus, logger log.Logger) (*UserAgent, error) {
	if config.Profile == nil {
		return nil, fmt.Errorf("user agent: missing profile")
	}
	if config.TickInterval <= 0 {
		config.TickInterval = DefaultTickInterval
	}
	if config.Transaction.T1 <= 0 {
		config.Transaction = transaction.DefaultConfig()
	}
	ua := &UserAgent{
		config:    config,
		transport: transport,
		tm:        transaction.NewManager(transport, config.Transaction, logger),
		bus:       b,
		log:       logger.WithPrefix("UserAgent"),
	}
	if creds := config.Profile.Auth; creds != nil {
		ua.authorizer = auth.NewClientAuthorizer(creds.AuthName, creds.Password)
	}
	if config.Registrar != "" {
		r, err := NewRegister(ua, config.Profile, config.Registrar)
		if err != nil {
			return nil, err
		}
		ua.register = r
	}
	return ua, nil
}

func (ua *UserAgent) Log() log.Logger {
	return ua.log
}

// State is the current call state.
func (ua *UserAgent) State() session.Status {
	if ua.call == nil {
		return session.Idle
	}
	return ua.call.Status()
}

// Call is the current dialog, nil when idle.
func (ua *UserAgent) Call() *session.Session {
	return ua.call
}

// Register is the registration sub-machine, nil without a registrar.
func (ua *UserAgent) Register() *Register {
	return ua.register
}

// Run drives the unit until ctx is done: it waits on an inbound datagram,
// the tick, or a user event, whichever comes first.
func (ua *UserAgent) Run(ctx context.Context, incoming <-chan stack.Packet) error {
	ticker := time.NewTicker(ua.config.TickInterval)
	defer ticker.Stop()

	ua.Start(time.Now())
	for {
		select {
		case <-ctx.Done():
			ua.Shutdown(time.Now())
			return nil
		case pkt, ok := <-incoming:
			if !ok {
				return fmt.Errorf("user agent: signaling transport closed")
			}
			ua.HandleMessage(pkt.Message, pkt.Source, time.Now())
		case now := <-ticker.C:
			ua.Tick(now)
		case <-ua.bus.Control.Ready():
			for _, ev := range ua.bus.Control.Drain() {
				if ue, ok := ev.(bus.UserEvent); ok {
					ua.HandleUserEvent(ue, time.Now())
				}
			}
		}
	}
}

// Start begins registration when a registrar is configured.
func (ua *UserAgent) Start(now time.Time) {
	if ua.register == nil {
		return
	}
	if err := ua.register.Start(now); err != nil {
		ua.log.Warnf("register: %v", err)
	}
}

// Shutdown ends the call and removes the binding. Responses are not
// waited for.
func (ua *UserAgent) Shutdown(now time.Time) {
	if call := ua.call; call != nil && (call.IsInProgress() || call.IsEstablished()) {
		if err := ua.Hangup(now); err != nil {
			ua.log.Warnf("hangup on shutdown: %v", err)
		}
	}
	if ua.register != nil && ua.register.State() != account.Unregistered {
		if err := ua.register.Unregister(now); err != nil {
			ua.log.Warnf("unregister on shutdown: %v", err)
		}
	}
}

func (ua *UserAgent) HandleUserEvent(ev bus.UserEvent, now time.Time) {
	var err error
	switch ev.Action {
	case bus.Dial:
		err = ua.Dial(ev.Target, now)
		if err != nil && !errors.Is(err, ErrCallInProgress) {
			ua.bus.PublishCall(bus.CallEvent{Kind: bus.CallFailed, State: ua.State(), Peer: ev.Target, Err: err})
		}
	case bus.Accept:
		err = ua.Accept(now)
	case bus.Reject:
		err = ua.Reject(now)
	case bus.Hangup:
		err = ua.Hangup(now)
	default:
		ua.log.Debugf("ignoring user event %s", ev.Action)
	}
	if err != nil {
		ua.log.Warnf("%s: %v", ev.Action, err)
	}
}

// Dial places a call: Idle -> Calling.
func (ua *UserAgent) Dial(target string, now time.Time) error {
	if ua.call != nil {
		return ErrCallInProgress
	}
	profile := ua.config.Profile
	uri, err := profile.Target(target)
	if err != nil {
		return err
	}
	dest, err := ua.config.Proxies.Destination(uri)
	if err != nil {
		return err
	}

	offer := media.BuildOffer(ua.config.MediaIP, ua.config.MediaPort, now.Unix())
	b := message.NewRequest(message.INVITE, uri).
		AddHeader("Via", ua.via()).
		AddHeader("Max-Forwards", fmt.Sprint(session.MaxForwards)).
		AddHeader("From", profile.Address(message.NewTag())).
		AddHeader("To", "<"+uri+">").
		AddHeader("Call-ID", message.NewCallID(ua.config.Host)).
		AddHeader("CSeq", "1 INVITE").
		AddHeader("Contact", ua.contact()).
		AddHeader("Allow", session.AllowedMethods)
	ua.decorate(b)
	req := b.SetBody(media.ContentType, offer.Marshal()).Build()

	call := session.NewInviteSession(session.UAC, ua.origin(), req, dest, ua.log)
	call.SetLocalDescription(offer)
	tx, err := ua.tm.Start(req, dest, now)
	if err != nil {
		return err
	}
	call.StoreTransaction(tx)
	call.SetState(session.Calling)
	ua.call = call
	ua.log.Infof("calling %s", uri)
	ua.notify(call, bus.CallEvent{Kind: bus.CallOutgoing})
	return nil
}

// Accept answers the ringing call: RingingLocal -> Active.
func (ua *UserAgent) Accept(now time.Time) error {
	call := ua.call
	if call == nil || call.Status() != session.RingingLocal {
		return fmt.Errorf("accept: %w", ErrNoCall)
	}
	ep, err := media.Negotiate(call.LocalDescription(), call.RemoteDescription())
	if err != nil {
		ua.respond(call.Transaction(), call.Reject(488, ""), now)
		ua.finish(call, bus.CallEvent{Kind: bus.CallFailed, StatusCode: 488, Err: err})
		return err
	}
	ua.respond(call.Transaction(), call.Accept(200, call.LocalDescription().Marshal()), now)
	call.SetDeadline(time.Time{})
	call.SetEndpoint(ep)
	call.SetState(session.Active)
	ua.log.Infof("accepted %s, media %v", call.RemoteURI(), ep)
	ua.notify(call, bus.CallEvent{Kind: bus.CallEstablished, Remote: ep})
	return nil
}

// Reject declines the ringing call with 603.
func (ua *UserAgent) Reject(now time.Time) error {
	call := ua.call
	if call == nil || call.Status() != session.RingingLocal {
		return fmt.Errorf("reject: %w", ErrNoCall)
	}
	ua.respond(call.Transaction(), call.Reject(603, ""), now)
	ua.finish(call, bus.CallEvent{Kind: bus.CallEnded, StatusCode: 603, Reason: "declined"})
	return nil
}

// Hangup ends the call in whatever phase it is in. CallEnded is published
// at once; the line returns to Idle when the BYE or CANCEL completes.
func (ua *UserAgent) Hangup(now time.Time) error {
	call := ua.call
	if call == nil {
		return fmt.Errorf("hangup: %w", ErrNoCall)
	}
	switch call.Status() {
	case session.RingingLocal:
		return ua.Reject(now)
	case session.Calling:
		if _, err := ua.tm.Start(call.Cancel(), call.Destination(), now); err != nil {
			ua.finish(call, bus.CallEvent{Kind: bus.CallEnded, Err: err})
			return err
		}
		call.SetState(session.Terminating)
		ua.notify(call, bus.CallEvent{Kind: bus.CallEnded, Reason: "cancelled"})
	case session.Active:
		call.SetState(session.Terminating)
		ua.bye(call, now)
		ua.notify(call, bus.CallEvent{Kind: bus.CallEnded, Reason: "hangup"})
	}
	return nil
}

// HandleMessage feeds one inbound message through the transactions into
// the state machine.
func (ua *UserAgent) HandleMessage(msg *message.Message, src *net.UDPAddr, now time.Time) {
	if msg.IsResponse() {
		ua.handleResponse(msg, now)
		return
	}
	ua.handleRequest(msg, src, now)
}

// Tick runs transaction timers, the ring timeout and registration refresh.
func (ua *UserAgent) Tick(now time.Time) {
	for _, terr := range ua.tm.Tick(now) {
		ua.handleTimeout(terr, now)
	}

	if call := ua.call; call != nil && !call.Deadline().IsZero() && !now.Before(call.Deadline()) {
		call.SetDeadline(time.Time{})
		switch call.Status() {
		case session.RingingLocal:
			ua.log.Infof("no answer from user, giving up on %s", call.RemoteURI())
			ua.respond(call.Transaction(), call.Reject(480, ""), now)
			ua.finish(call, bus.CallEvent{Kind: bus.CallEnded, StatusCode: 480, Reason: "no answer"})
		case session.Terminating:
			if tx := call.Transaction(); tx != nil {
				ua.tm.Terminate(tx)
			}
			ua.clear(call)
		}
	}

	if ua.register != nil {
		ua.register.Tick(now)
	}
}

func (ua *UserAgent) handleResponse(resp *message.Message, now time.Time) {
	res, err := ua.tm.OnResponse(resp, now)
	if err != nil {
		ua.log.Debugf("drop %s: %v", resp.Short(), err)
		metrics.SIPDropped.WithLabelValues("unmatched").Inc()
		return
	}
	switch res.Transaction.Key().Method {
	case message.INVITE:
		ua.handleInviteResponse(res, now)
	case message.BYE:
		if res.Final && !res.Duplicate {
			if call := ua.call; call != nil && call.CallID() == resp.CallID() && call.Status() == session.Terminating {
				ua.clear(call)
			}
		}
	case message.CANCEL:
		if res.Final && !res.Duplicate {
			if call := ua.call; call != nil && call.CallID() == resp.CallID() && call.Status() == session.Terminating {
				// the INVITE should now end with 487
				call.SetDeadline(now.Add(ua.config.Transaction.TimerB()))
			}
		}
	case message.REGISTER:
		if ua.register != nil && !res.Duplicate {
			ua.register.OnResponse(resp, now)
		}
	}
}

func (ua *UserAgent) handleInviteResponse(res transaction.Result, now time.Time) {
	resp := res.Response
	call := ua.call
	if call == nil || call.CallID() != resp.CallID() || call.Direction() != session.Outgoing {
		ua.log.Debugf("no call for %s", resp.Short())
		return
	}

	if res.Duplicate {
		if resp.IsSuccess() && call.LastAck() != nil {
			ua.send(call.LastAck(), call.Destination())
		}
		return
	}

	switch {
	case resp.IsProvisional():
		call.StoreResponse(resp)
		if resp.StatusCode() >= 180 && call.Status() == session.Calling && call.MarkRinging() {
			ua.notify(call, bus.CallEvent{Kind: bus.CallRemoteRinging, StatusCode: resp.StatusCode()})
		}

	case resp.IsSuccess():
		call.StoreResponse(resp)
		ua.send(call.Ack(), call.Destination())
		if call.Status() == session.Terminating {
			// answered while the CANCEL was in flight
			ua.bye(call, now)
			return
		}
		remote, err := media.Parse(resp.Body())
		var ep media.Endpoint
		if err == nil {
			ep, err = media.Negotiate(call.LocalDescription(), remote)
		}
		if err != nil {
			ua.log.Warnf("answer from %s unusable: %v", call.RemoteURI(), err)
			ua.bye(call, now)
			ua.finish(call, bus.CallEvent{Kind: bus.CallFailed, Err: err})
			return
		}
		call.SetRemoteDescription(remote)
		call.SetEndpoint(ep)
		call.SetState(session.Active)
		ua.log.Infof("call to %s established, media %v", call.RemoteURI(), ep)
		ua.notify(call, bus.CallEvent{Kind: bus.CallEstablished, Remote: ep})

	default:
		code := resp.StatusCode()
		if (code == 401 || code == 407) && call.Status() == session.Calling && ua.retryWithCredentials(call, resp, now) {
			return
		}
		if call.Status() == session.Terminating {
			ua.clear(call)
			return
		}
		ua.log.Infof("call to %s failed: %d %s", call.RemoteURI(), code, resp.Reason())
		ua.finish(call, bus.CallEvent{
			Kind:       bus.CallFailed,
			StatusCode: code,
			Reason:     resp.Reason(),
			Err:        fmt.Errorf("call rejected: %d %s", code, resp.Reason()),
		})
	}
}

// retryWithCredentials answers one Digest challenge to the INVITE.
func (ua *UserAgent) retryWithCredentials(call *session.Session, resp *message.Message, now time.Time) bool {
	if ua.authorizer == nil || !call.MarkAuthorized() {
		return false
	}
	req, err := ua.authorizer.AuthorizeRequest(call.Request(), resp)
	if err != nil {
		ua.log.Warnf("authorize INVITE: %v", err)
		return false
	}
	tx, err := ua.tm.Start(req, call.Destination(), now)
	if err != nil {
		ua.log.Warnf("resend INVITE: %v", err)
		return false
	}
	call.StoreRequest(req)
	call.StoreTransaction(tx)
	return true
}

func (ua *UserAgent) handleRequest(req *message.Message, src *net.UDPAddr, now time.Time) {
	tx, disposition, err := ua.tm.OnRequest(req, src, now)
	if err != nil {
		ua.log.Debugf("drop %s: %v", req.Short(), err)
		metrics.SIPDropped.WithLabelValues("unmatched").Inc()
		return
	}
	switch disposition {
	case transaction.Retransmission:
		return
	case transaction.Acknowledged:
		if call := ua.call; call != nil && call.CallID() == req.CallID() {
			ua.log.Debugf("%s confirmed", call)
		}
		return
	}

	switch req.Method() {
	case message.INVITE:
		ua.handleInvite(tx, req, src, now)
	case message.BYE:
		ua.handleBye(tx, req, now)
	case message.CANCEL:
		ua.handleCancel(tx, req, now)
	case message.OPTIONS:
		b := message.NewResponse(req, 200, "").
			SetHeader("To", message.WithTag(req.To(), message.NewTag())).
			AddHeader("Allow", session.AllowedMethods).
			AddHeader("Accept", session.AcceptedBody)
		ua.decorateResponse(b)
		ua.respond(tx, b.Build(), now)
	default:
		ua.reply(tx, req, 501, "", now)
	}
}

func (ua *UserAgent) handleInvite(tx *transaction.Transaction, req *message.Message, src *net.UDPAddr, now time.Time) {
	if call := ua.call; call != nil {
		if call.CallID() == req.CallID() {
			if req.ViaBranch() == call.Request().ViaBranch() {
				ua.tm.Terminate(tx)
				return
			}
			if req.ToTag() != "" {
				ua.reply(tx, req, 488, "", now)
				return
			}
		}
		ua.log.Infof("busy, rejecting %s", req.Short())
		ua.reply(tx, req, 486, "", now)
		return
	}
	if req.ToTag() != "" {
		ua.reply(tx, req, 481, "", now)
		return
	}

	offer, err := media.Parse(req.Body())
	var answer *media.Description
	if err == nil {
		answer, err = media.BuildAnswer(ua.config.MediaIP, ua.config.MediaPort, now.Unix(), offer)
	}
	if err != nil {
		ua.log.Warnf("rejecting %s: %v", req.Short(), err)
		ua.reply(tx, req, 488, "", now)
		return
	}

	call := session.NewInviteSession(session.UAS, ua.origin(), req, src, ua.log)
	call.StoreTransaction(tx)
	call.SetRemoteDescription(offer)
	call.SetLocalDescription(answer)
	if ua.config.RingTimeout > 0 {
		call.SetDeadline(now.Add(ua.config.RingTimeout))
	}
	ua.respond(tx, call.Provisional(180, ""), now)
	call.SetState(session.RingingLocal)
	ua.call = call
	ua.log.Infof("incoming call from %s", call.RemoteURI())
	ua.notify(call, bus.CallEvent{Kind: bus.CallIncoming, Offer: offer})
}

func (ua *UserAgent) handleBye(tx *transaction.Transaction, req *message.Message, now time.Time) {
	call := ua.call
	if call == nil || !call.Matches(req) {
		ua.reply(tx, req, 481, "", now)
		return
	}
	ua.reply(tx, req, 200, "", now)
	if call.IsEnded() {
		ua.clear(call)
		return
	}
	ua.log.Infof("%s hung up", call.RemoteURI())
	ua.finish(call, bus.CallEvent{Kind: bus.CallEnded, Reason: "remote hangup"})
}

func (ua *UserAgent) handleCancel(tx *transaction.Transaction, req *message.Message, now time.Time) {
	call := ua.call
	if call == nil || call.Status() != session.RingingLocal ||
		call.CallID() != req.CallID() || call.Request().ViaBranch() != req.ViaBranch() {
		ua.reply(tx, req, 481, "", now)
		return
	}
	ua.reply(tx, req, 200, "", now)
	ua.respond(call.Transaction(), call.Reject(487, ""), now)
	ua.finish(call, bus.CallEvent{Kind: bus.CallEnded, StatusCode: 487, Reason: "cancelled"})
}

func (ua *UserAgent) handleTimeout(terr *transaction.TimeoutError, now time.Time) {
	if terr.Key.Method == message.REGISTER {
		if ua.register != nil {
			ua.register.OnTimeout(terr, now)
		}
		return
	}
	call := ua.call
	if call == nil || terr.Request.CallID() != call.CallID() {
		return
	}
	switch {
	case terr.Kind == transaction.ClientInvite && call.Status() == session.Calling:
		ua.finish(call, bus.CallEvent{Kind: bus.CallFailed, Err: terr})
	case terr.Kind == transaction.ServerInvite && call.IsEstablished():
		ua.log.Warnf("no ACK from %s, ending call", call.RemoteURI())
		ua.bye(call, now)
		ua.finish(call, bus.CallEvent{Kind: bus.CallFailed, Err: terr})
	case call.IsEnded():
		if tx := call.Transaction(); tx != nil {
			ua.tm.Terminate(tx)
		}
		ua.clear(call)
	}
}

func (ua *UserAgent) bye(call *session.Session, now time.Time) {
	if _, err := ua.tm.Start(call.Bye(), call.Destination(), now); err != nil {
		ua.log.Warnf("send BYE: %v", err)
		ua.clear(call)
	}
}

// notify publishes ev for call with the current state filled in.
func (ua *UserAgent) notify(call *session.Session, ev bus.CallEvent) {
	ev.State = call.Status()
	ev.CallID = call.CallID()
	if ev.Peer == "" {
		ev.Peer = call.RemoteURI()
	}
	ua.bus.PublishCall(ev)
}

// finish returns the line to Idle and publishes the terminal event.
func (ua *UserAgent) finish(call *session.Session, ev bus.CallEvent) {
	ua.clear(call)
	ua.notify(call, ev)
}

func (ua *UserAgent) clear(call *session.Session) {
	call.SetState(session.Idle)
	if ua.call == call {
		ua.call = nil
	}
}

func (ua *UserAgent) reply(tx *transaction.Transaction, req *message.Message, code int, reason string, now time.Time) {
	b := message.NewResponse(req, code, reason)
	if code > 100 && req.ToTag() == "" {
		b.SetHeader("To", message.WithTag(req.To(), message.NewTag()))
	}
	if code == 501 {
		b.AddHeader("Allow", session.AllowedMethods)
	}
	ua.decorateResponse(b)
	ua.respond(tx, b.Build(), now)
}

func (ua *UserAgent) respond(tx *transaction.Transaction, resp *message.Message, now time.Time) {
	if err := ua.tm.Respond(tx, resp, now); err != nil {
		ua.log.Warnf("respond %s: %v", resp.Short(), err)
	}
}

func (ua *UserAgent) send(msg *message.Message, dest *net.UDPAddr) {
	if err := ua.transport.Send(msg, dest); err != nil {
		ua.log.Warnf("send %s: %v", msg.Short(), err)
	}
}

func (ua *UserAgent) via() string {
	return fmt.Sprintf("SIP/2.0/UDP %s;branch=%s", utils.HostPort(ua.config.Host, ua.config.Port), message.NewBranch())
}

func (ua *UserAgent) contact() string {
	return ua.config.Profile.Contact(ua.config.Host, ua.config.Port)
}

func (ua *UserAgent) origin() session.Origin {
	return session.Origin{
		SentBy:    utils.HostPort(ua.config.Host, ua.config.Port),
		Contact:   ua.contact(),
		UserAgent: ua.config.UserAgent,
	}
}

// decorate adds the headers every out-of-dialog request carries.
func (ua *UserAgent) decorate(b *message.Builder) {
	if route, ok := ua.config.Proxies.Route(); ok {
		b.AddHeader("Route", route)
	}
	if ua.config.UserAgent != "" {
		b.AddHeader("User-Agent", ua.config.UserAgent)
	}
}

func (ua *UserAgent) decorateResponse(b *message.Builder) {
	if ua.config.UserAgent != "" {
		b.AddHeader("Server", ua.config.UserAgent)
	}
}
