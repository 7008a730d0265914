package ua

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/cloudwebrtc/go-sip-ptt/pkg/account"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/bus"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/message"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/session"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/transaction"
	"github.com/ghettovoice/gosip/log"
)

const (
	DefaultRetryMin = 5 * time.Second
	DefaultRetryMax = 5 * time.Minute
)

// Register keeps the binding at the registrar alive: it refreshes at half
// the granted expiry, answers one Digest challenge per attempt and backs
// off after failures.
type Register struct {
	ua            *UserAgent
	profile       *account.Profile
	recipient     string
	dest          *net.UDPAddr
	state         account.RegistrationState
	callID        string
	tag           string
	cseq          uint32
	request       *message.Message
	expires       uint32
	pending       bool
	authorized    bool
	unregistering bool
	granted       time.Duration
	expiry        time.Time
	refresh       time.Time
	retry         time.Time
	backoff       time.Duration
	log           log.Logger
}

func NewRegister(ua *UserAgent, profile *account.Profile, recipient string) (*Register, error) {
	dest, err := ua.config.Proxies.Destination(recipient)
	if err != nil {
		return nil, fmt.Errorf("registrar: %w", err)
	}
	return &Register{
		ua:        ua,
		profile:   profile,
		recipient: recipient,
		dest:      dest,
		state:     account.Unregistered,
		callID:    message.NewCallID(ua.config.Host),
		tag:       message.NewTag(),
		log:       ua.log.WithPrefix("Register"),
	}, nil
}

func (r *Register) State() account.RegistrationState {
	return r.state
}

// Expiry is when the current binding lapses.
func (r *Register) Expiry() time.Time {
	return r.expiry
}

// NextRefresh is when the binding will be renewed.
func (r *Register) NextRefresh() time.Time {
	return r.refresh
}

// NextRetry is when a failed registration is attempted again; zero when
// none is scheduled.
func (r *Register) NextRetry() time.Time {
	return r.retry
}

// Start registers with the profile's expiry.
func (r *Register) Start(now time.Time) error {
	r.unregistering = false
	if err := r.SendRegister(r.profile.Expires, now); err != nil {
		r.fail(err, 0, now)
		return err
	}
	return nil
}

// Unregister removes the binding with Expires: 0.
func (r *Register) Unregister(now time.Time) error {
	r.unregistering = true
	r.retry = time.Time{}
	return r.SendRegister(0, now)
}

func (r *Register) SendRegister(expires uint32, now time.Time) error {
	r.cseq++
	b := message.NewRequest(message.REGISTER, r.recipient).
		AddHeader("Via", r.ua.via()).
		AddHeader("Max-Forwards", fmt.Sprint(session.MaxForwards)).
		AddHeader("From", r.profile.Address(r.tag)).
		AddHeader("To", r.profile.Address("")).
		AddHeader("Call-ID", r.callID).
		AddHeader("CSeq", fmt.Sprintf("%d %s", r.cseq, message.REGISTER)).
		AddHeader("Contact", r.ua.contact()).
		AddHeader("Expires", strconv.FormatUint(uint64(expires), 10)).
		AddHeader("Allow", session.AllowedMethods)
	r.ua.decorate(b)
	req := b.Build()

	if _, err := r.ua.tm.Start(req, r.dest, now); err != nil {
		return err
	}
	r.request = req
	r.expires = expires
	r.authorized = false
	r.pending = true
	r.retry = time.Time{}
	if r.state == account.Unregistered && expires > 0 {
		r.setState(account.Registering, 0, nil)
	}
	r.log.Debugf("REGISTER expires=%d sent to %v", expires, r.dest)
	return nil
}

// OnResponse handles a final response to the pending REGISTER.
func (r *Register) OnResponse(resp *message.Message, now time.Time) {
	if resp.IsProvisional() || resp.CallID() != r.callID || !r.pending {
		return
	}
	code := resp.StatusCode()
	switch {
	case code == 401 || code == 407:
		if err := r.authorize(resp, now); err != nil {
			r.fail(err, code, now)
		}

	case resp.IsSuccess():
		r.pending = false
		r.backoff = 0
		if r.expires == 0 {
			r.granted = 0
			r.expiry = time.Time{}
			r.refresh = time.Time{}
			r.setState(account.Unregistered, code, nil)
			return
		}
		r.granted = r.grantedExpiry(resp)
		r.expiry = now.Add(r.granted)
		r.refresh = now.Add(r.granted / 2)
		r.log.Infof("registered as %s for %v, refresh at %v", r.profile.AOR(), r.granted, r.refresh)
		r.setState(account.Registered, code, nil)

	default:
		r.fail(fmt.Errorf("registrar answered %d %s", code, resp.Reason()), code, now)
	}
}

func (r *Register) authorize(resp *message.Message, now time.Time) error {
	if r.authorized {
		return fmt.Errorf("%w: credentials refused with %d", ErrAuthenticationFailed, resp.StatusCode())
	}
	if r.ua.authorizer == nil {
		return fmt.Errorf("%w: challenged without credentials", ErrAuthenticationFailed)
	}
	req, err := r.ua.authorizer.AuthorizeRequest(r.request, resp)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}
	if _, err := r.ua.tm.Start(req, r.dest, now); err != nil {
		return err
	}
	r.cseq, _, _ = req.CSeq()
	r.request = req
	r.authorized = true
	return nil
}

// grantedExpiry prefers the expires parameter on our Contact, then the
// Expires header, then what was asked for.
func (r *Register) grantedExpiry(resp *message.Message) time.Duration {
	ours := message.AddressURI(r.ua.contact())
	for _, c := range resp.Headers("Contact") {
		if message.AddressURI(c) != ours {
			continue
		}
		if v, ok := message.Param(c, "expires"); ok {
			if n, err := strconv.Atoi(v); err == nil && n > 0 {
				return time.Duration(n) * time.Second
			}
		}
	}
	if n, ok := resp.Expires(); ok && n > 0 {
		return time.Duration(n) * time.Second
	}
	return time.Duration(r.expires) * time.Second
}

func (r *Register) OnTimeout(terr *transaction.TimeoutError, now time.Time) {
	if terr.Request.CallID() != r.callID || !r.pending {
		return
	}
	r.fail(terr, 0, now)
}

// Tick refreshes a binding that is due and retries a failed one.
func (r *Register) Tick(now time.Time) {
	if r.pending {
		return
	}
	var due bool
	switch r.state {
	case account.Registered:
		due = !r.refresh.IsZero() && !now.Before(r.refresh)
	case account.Unregistered:
		due = !r.retry.IsZero() && !now.Before(r.retry)
	}
	if !due {
		return
	}
	if err := r.Start(now); err != nil {
		r.log.Warnf("register: %v", err)
	}
}

func (r *Register) fail(err error, code int, now time.Time) {
	r.pending = false
	r.granted = 0
	r.expiry = time.Time{}
	r.refresh = time.Time{}
	if r.unregistering {
		r.setState(account.Unregistered, code, err)
		return
	}
	floor, ceiling := r.ua.config.RetryMin, r.ua.config.RetryMax
	if floor <= 0 {
		floor = DefaultRetryMin
	}
	if ceiling <= 0 {
		ceiling = DefaultRetryMax
	}
	if r.backoff == 0 {
		r.backoff = floor
	} else {
		r.backoff *= 2
	}
	if r.backoff > ceiling {
		r.backoff = ceiling
	}
	r.retry = now.Add(r.backoff)
	r.log.Warnf("registration failed: %v, retry in %v", err, r.backoff)
	r.setState(account.Unregistered, code, err)
}

func (r *Register) setState(state account.RegistrationState, code int, err error) {
	r.state = state
	r.ua.bus.PublishRegistration(bus.RegistrationEvent{
		State:      state,
		StatusCode: code,
		Expires:    r.granted,
		Err:        err,
	})
}
