package registry

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwebrtc/go-sip-ptt/pkg/auth"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/message"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/stack"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/transaction"
	"github.com/ghettovoice/gosip/log"
)

const (
	DefaultExpires = 3600
	MaxExpires     = 7200
)

// Registrar answers REGISTER requests from a Registry, challenging them
// first when an authorizer is set.
type Registrar struct {
	tm    *transaction.Manager
	auth  *auth.ServerAuthorizer
	store Registry
	log   log.Logger
}

func NewRegistrar(transport transaction.Transport, authorizer *auth.ServerAuthorizer, store Registry, logger log.Logger) *Registrar {
	return &Registrar{
		tm:    transaction.NewManager(transport, transaction.DefaultConfig(), logger),
		auth:  authorizer,
		store: store,
		log:   logger.WithPrefix("Registrar"),
	}
}

func (r *Registrar) Store() Registry {
	return r.store
}

// Run serves incoming requests until ctx is done or the transport closes.
func (r *Registrar) Run(ctx context.Context, incoming <-chan stack.Packet) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case pkt, ok := <-incoming:
			if !ok {
				return fmt.Errorf("registrar: transport closed")
			}
			r.HandleMessage(pkt.Message, pkt.Source, time.Now())
		case now := <-ticker.C:
			r.tm.Tick(now)
			if r.auth != nil {
				r.auth.Expire(now)
			}
		}
	}
}

func (r *Registrar) HandleMessage(msg *message.Message, src *net.UDPAddr, now time.Time) {
	if msg.IsResponse() {
		return
	}
	tx, disposition, err := r.tm.OnRequest(msg, src, now)
	if err != nil {
		r.log.Debugf("drop %s: %v", msg.Short(), err)
		return
	}
	if disposition != transaction.New || msg.Method() == message.ACK {
		return
	}
	if err := r.tm.Respond(tx, r.Response(msg, src, now), now); err != nil {
		r.log.Warnf("respond to %s: %v", msg.Short(), err)
	}
}

// Response computes the answer to req.
func (r *Registrar) Response(req *message.Message, src *net.UDPAddr, now time.Time) *message.Message {
	switch req.Method() {
	case message.REGISTER:
	case message.OPTIONS:
		return reply(req, 200, "").AddHeader("Allow", "REGISTER, OPTIONS").Build()
	default:
		return reply(req, 405, "").AddHeader("Allow", "REGISTER, OPTIONS").Build()
	}

	if r.auth != nil {
		if _, challenge := r.auth.Authenticate(req, now); challenge != nil {
			return challenge
		}
	}

	aor := message.AddressURI(req.To())
	if aor == "" {
		return reply(req, 400, "Missing To").Build()
	}
	defaultExpires := DefaultExpires
	if n, ok := req.Expires(); ok {
		defaultExpires = n
	}

	for _, contact := range req.Headers("Contact") {
		if strings.TrimSpace(contact) == "*" {
			if defaultExpires != 0 {
				return reply(req, 400, "Wildcard Contact needs Expires: 0").Build()
			}
			r.store.RemoveAor(aor)
			r.log.Infof("%s: all bindings removed", aor)
			continue
		}
		expires := defaultExpires
		if v, ok := message.Param(contact, "expires"); ok {
			if n, err := strconv.Atoi(v); err == nil {
				expires = n
			}
		}
		if expires > MaxExpires {
			expires = MaxExpires
		}
		instance := NewContactInstanceForRequest(req, contact, src, now.Add(time.Duration(expires)*time.Second))
		if expires <= 0 {
			r.store.RemoveContact(aor, instance)
			r.log.Infof("%s: unbound %s", aor, instance.URI)
			continue
		}
		r.store.UpdateContact(aor, instance)
		r.log.Infof("%s: bound %s for %ds from %v", aor, instance.URI, expires, src)
	}

	b := reply(req, 200, "")
	for _, c := range r.store.GetContacts(aor, now) {
		b.AddHeader("Contact", fmt.Sprintf("<%s>;expires=%d", c.URI, c.Remaining(now)))
	}
	return b.Build()
}

func reply(req *message.Message, code int, reason string) *message.Builder {
	b := message.NewResponse(req, code, reason)
	if req.ToTag() == "" {
		b.SetHeader("To", message.WithTag(req.To(), message.NewTag()))
	}
	return b
}
