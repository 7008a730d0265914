package session

import (
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/cloudwebrtc/go-sip-ptt/pkg/media"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/message"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/transaction"
	"github.com/ghettovoice/gosip/log"
)

// Session is the one dialog the line can hold. Everything except the
// status is owned by the signaling goroutine.
type Session struct {
	lock         sync.Mutex
	status       Status
	callID       string
	uaType       string // UAS | UAC
	direction    Direction
	origin       Origin
	localURI     string
	remoteURI    string
	remoteTarget string
	routes       []string
	localCSeq    uint32
	remoteCSeq   uint32
	dest         *net.UDPAddr
	request      *message.Message
	response     *message.Message
	ack          *message.Message
	transaction  *transaction.Transaction
	local        *media.Description
	remote       *media.Description
	endpoint     media.Endpoint
	ringing      bool
	authorized   bool
	deadline     time.Time
	logger       log.Logger
}

// NewInviteSession builds the dialog around req, the INVITE this UA sent
// (UAC) or received (UAS). dest is where in-dialog requests are sent.
func NewInviteSession(uaType string, origin Origin, req *message.Message, dest *net.UDPAddr, logger log.Logger) *Session {
	s := &Session{
		uaType:  uaType,
		callID:  req.CallID(),
		origin:  origin,
		request: req,
		dest:    dest,
		status:  Idle,
	}
	s.logger = logger.WithPrefix("Session")

	seq, _, _ := req.CSeq()
	if uaType == UAS {
		s.direction = Incoming
		s.localURI = message.WithTag(req.To(), message.NewTag())
		s.remoteURI = req.From()
		s.remoteTarget = req.ContactURI()
		if s.remoteTarget == "" {
			s.remoteTarget = message.AddressURI(req.From())
		}
		s.remoteCSeq = seq
		s.routes = recordRoutes(req, false)
	} else {
		s.direction = Outgoing
		s.localURI = req.From()
		s.remoteURI = req.To()
		s.remoteTarget = req.RequestURI()
		s.localCSeq = seq
		s.routes = req.Headers("Route")
	}
	return s
}

func (s *Session) Log() log.Logger {
	return s.logger
}

func (s *Session) String() string {
	return "Local: " + s.localURI + ", Remote: " + s.remoteURI
}

func (s *Session) CallID() string {
	return s.callID
}

func (s *Session) Direction() Direction {
	return s.direction
}

// Request is the INVITE the dialog was created from.
func (s *Session) Request() *message.Message {
	return s.request
}

func (s *Session) Response() *message.Message {
	return s.response
}

// RemoteURI is the peer's address of record without parameters.
func (s *Session) RemoteURI() string {
	return message.AddressURI(s.remoteURI)
}

func (s *Session) RemoteTarget() string {
	return s.remoteTarget
}

func (s *Session) Destination() *net.UDPAddr {
	return s.dest
}

func (s *Session) LocalCSeq() uint32 {
	return s.localCSeq
}

func (s *Session) Transaction() *transaction.Transaction {
	return s.transaction
}

func (s *Session) StoreTransaction(tx *transaction.Transaction) {
	s.transaction = tx
}

// StoreRequest replaces the INVITE, as after a Digest retry.
func (s *Session) StoreRequest(req *message.Message) {
	s.request = req
	seq, _, _ := req.CSeq()
	if s.uaType == UAC && seq > s.localCSeq {
		s.localCSeq = seq
	}
}

// StoreResponse records what a response to our INVITE teaches about the
// peer: its tag, its target and, on 2xx, the route set.
func (s *Session) StoreResponse(resp *message.Message) {
	if s.uaType == UAC {
		if resp.ToTag() != "" {
			s.remoteURI = resp.To()
		}
		if contact := resp.ContactURI(); contact != "" {
			s.remoteTarget = contact
		}
		if resp.IsSuccess() {
			s.routes = recordRoutes(resp, true)
		}
	}
	if resp.IsFinal() {
		s.response = resp
	}
}

func (s *Session) SetLocalDescription(d *media.Description) {
	s.local = d
}

func (s *Session) SetRemoteDescription(d *media.Description) {
	s.remote = d
}

func (s *Session) LocalDescription() *media.Description {
	return s.local
}

func (s *Session) RemoteDescription() *media.Description {
	return s.remote
}

func (s *Session) SetEndpoint(ep media.Endpoint) {
	s.endpoint = ep
}

// Endpoint is the negotiated remote media address.
func (s *Session) Endpoint() media.Endpoint {
	return s.endpoint
}

// MarkRinging reports whether this is the first ringing indication.
func (s *Session) MarkRinging() bool {
	first := !s.ringing
	s.ringing = true
	return first
}

// MarkAuthorized reports whether the INVITE had not been retried with
// credentials yet.
func (s *Session) MarkAuthorized() bool {
	first := !s.authorized
	s.authorized = true
	return first
}

func (s *Session) SetDeadline(t time.Time) {
	s.deadline = t
}

// Deadline is when an unanswered incoming call gives up; zero for none.
func (s *Session) Deadline() time.Time {
	return s.deadline
}

func (s *Session) SetState(status Status) {
	s.lock.Lock()
	defer s.lock.Unlock()
	if s.status != status {
		s.logger.Debugf("%s -> %s (%s)", s.status, status, s.callID)
	}
	s.status = status
}

func (s *Session) Status() Status {
	s.lock.Lock()
	defer s.lock.Unlock()
	return s.status
}

func (s *Session) IsInProgress() bool {
	switch s.Status() {
	case Calling, RingingLocal:
		return true
	default:
		return false
	}
}

func (s *Session) IsEstablished() bool {
	return s.Status() == Active
}

func (s *Session) IsEnded() bool {
	switch s.Status() {
	case Idle, Terminating:
		return true
	default:
		return false
	}
}

// Matches reports whether req belongs to this dialog. Tags are only
// compared once both are known.
func (s *Session) Matches(req *message.Message) bool {
	if req.CallID() != s.callID {
		return false
	}
	localTag, _ := message.Param(s.localURI, "tag")
	if tag := req.ToTag(); tag != "" && localTag != "" && tag != localTag {
		return false
	}
	remoteTag, _ := message.Param(s.remoteURI, "tag")
	if tag := req.FromTag(); tag != "" && remoteTag != "" && tag != remoteTag {
		return false
	}
	return true
}

// Provisional builds a 1xx for the received INVITE.
func (s *Session) Provisional(statusCode int, reason string) *message.Message {
	b := message.NewResponse(s.request, statusCode, reason)
	if statusCode > 100 {
		b.SetHeader("To", s.localURI).AddHeader("Contact", s.origin.Contact)
	}
	return b.Build()
}

// Accept builds the 2xx for the received INVITE carrying the SDP answer.
func (s *Session) Accept(statusCode int, answer []byte) *message.Message {
	b := message.NewResponse(s.request, statusCode, "").
		SetHeader("To", s.localURI).
		AddHeader("Contact", s.origin.Contact).
		AddHeader("Allow", AllowedMethods).
		SetBody(media.ContentType, answer)
	for _, rr := range s.request.Headers("Record-Route") {
		b.AddHeader("Record-Route", rr)
	}
	if s.origin.UserAgent != "" {
		b.AddHeader("User-Agent", s.origin.UserAgent)
	}
	resp := b.Build()
	s.response = resp
	return resp
}

// Reject builds a final error response for the received INVITE.
func (s *Session) Reject(statusCode int, reason string) *message.Message {
	resp := message.NewResponse(s.request, statusCode, reason).
		SetHeader("To", s.localURI).
		Build()
	s.response = resp
	return resp
}

// Ack builds the ACK for a 2xx to our INVITE. It is not a transaction: the
// caller sends it and resends it for every retransmitted 2xx.
func (s *Session) Ack() *message.Message {
	seq, _, _ := s.request.CSeq()
	s.ack = s.inDialog(message.ACK, seq).Build()
	return s.ack
}

// LastAck is the ACK sent for the 2xx, nil before one was built.
func (s *Session) LastAck() *message.Message {
	return s.ack
}

// Bye builds a BYE with the next local CSeq.
func (s *Session) Bye() *message.Message {
	s.localCSeq++
	return s.inDialog(message.BYE, s.localCSeq).Build()
}

// Cancel builds the CANCEL for our pending INVITE: same Request-URI, Via
// and CSeq number.
func (s *Session) Cancel() *message.Message {
	seq, _, _ := s.request.CSeq()
	b := message.NewRequest(message.CANCEL, s.request.RequestURI()).
		AddHeader("Via", s.request.Via()).
		AddHeader("Max-Forwards", fmt.Sprint(MaxForwards)).
		AddHeader("From", s.request.From()).
		AddHeader("To", s.request.To()).
		AddHeader("Call-ID", s.callID).
		AddHeader("CSeq", fmt.Sprintf("%d %s", seq, message.CANCEL))
	for _, route := range s.request.Headers("Route") {
		b.AddHeader("Route", route)
	}
	return b.Build()
}

func (s *Session) inDialog(method message.Method, seq uint32) *message.Builder {
	b := message.NewRequest(method, s.remoteTarget).
		AddHeader("Via", fmt.Sprintf("SIP/2.0/UDP %s;branch=%s", s.origin.SentBy, message.NewBranch())).
		AddHeader("Max-Forwards", fmt.Sprint(MaxForwards)).
		AddHeader("From", s.localURI).
		AddHeader("To", s.remoteURI).
		AddHeader("Call-ID", s.callID).
		AddHeader("CSeq", fmt.Sprintf("%d %s", seq, method))
	if method != message.ACK {
		b.AddHeader("Contact", s.origin.Contact)
	}
	for _, route := range s.routes {
		b.AddHeader("Route", route)
	}
	if s.origin.UserAgent != "" {
		b.AddHeader("User-Agent", s.origin.UserAgent)
	}
	return b
}

// recordRoutes flattens the Record-Route headers of m into a route set.
// A UAC uses them in reverse order.
func recordRoutes(m *message.Message, reverse bool) []string {
	var routes []string
	for _, v := range m.Headers("Record-Route") {
		for _, r := range strings.Split(v, ",") {
			if r = strings.TrimSpace(r); r != "" {
				routes = append(routes, r)
			}
		}
	}
	if reverse {
		for i, j := 0, len(routes)-1; i < j; i, j = i+1, j-1 {
			routes[i], routes[j] = routes[j], routes[i]
		}
	}
	return routes
}
