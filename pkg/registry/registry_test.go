package registry

import (
	"errors"
	"net"
	"testing"
	"time"

	"github.com/cloudwebrtc/go-sip-ptt/pkg/auth"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/message"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/utils"
	"github.com/ghettovoice/gosip/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	logger = utils.NewLogrusLogger(log.DebugLevel, "Registrar", nil)
	t0     = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	phone  = &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 5060}
)

const contact = `<sip:100@127.0.0.1:5060>;+sip.instance="<urn:uuid:00000000-0000-0000-0000-000000000001>"`

type wire struct {
	sent []*message.Message
}

func (w *wire) Send(msg *message.Message, dest *net.UDPAddr) error {
	w.sent = append(w.sent, msg)
	return nil
}

func register(seq, expires string) *message.Message {
	return message.NewRequest(message.REGISTER, "sip:127.0.0.1").
		AddHeader("Via", "SIP/2.0/UDP 127.0.0.1:5060;branch="+message.NewBranch()).
		AddHeader("From", "<sip:100@127.0.0.1>;tag=a").
		AddHeader("To", "<sip:100@127.0.0.1>").
		AddHeader("Call-ID", "reg-1").
		AddHeader("CSeq", seq+" REGISTER").
		AddHeader("Contact", contact).
		AddHeader("Expires", expires).
		Build()
}

func TestMemoryRegistryExpiry(t *testing.T) {
	mr := NewMemoryRegistry()
	short := &ContactInstance{URI: "sip:100@10.0.0.1", Expires: t0.Add(time.Minute)}
	long := &ContactInstance{URI: "sip:100@10.0.0.2", Expires: t0.Add(time.Hour)}
	require.NoError(t, mr.UpdateContact("sip:100@pbx", short))
	require.NoError(t, mr.UpdateContact("sip:100@pbx", long))

	contacts := mr.GetContacts("sip:100@pbx", t0)
	require.Len(t, contacts, 2)
	assert.Same(t, long, contacts[0])
	assert.Equal(t, uint32(60), short.Remaining(t0))

	assert.Len(t, mr.GetContacts("sip:100@pbx", t0.Add(2*time.Minute)), 1)
	assert.False(t, mr.AorIsRegistered("sip:100@pbx", t0.Add(2*time.Hour)))
	assert.Empty(t, mr.GetAllContacts(t0))
}

func TestRegistrarChallengesThenBinds(t *testing.T) {
	authorizer := auth.NewServerAuthorizer(func(username string) (string, string, error) {
		if username != "100" {
			return "", "", errors.New("unknown")
		}
		return "secret", "", nil
	}, "ptt", logger)
	r := NewRegistrar(&wire{}, authorizer, NewMemoryRegistry(), logger)

	req := register("1", "3600")
	challenge := r.Response(req, phone, t0)
	require.Equal(t, 401, challenge.StatusCode())
	assert.NotEmpty(t, challenge.ToTag())

	authorized, err := auth.AuthorizeRequest(req, challenge, "100", "secret")
	require.NoError(t, err)
	ok := r.Response(authorized, phone, t0)
	require.Equal(t, 200, ok.StatusCode())
	contacts := ok.Headers("Contact")
	require.Len(t, contacts, 1)
	assert.Equal(t, "sip:100@127.0.0.1:5060", message.AddressURI(contacts[0]))
	expires, _ := message.Param(contacts[0], "expires")
	assert.Equal(t, "3600", expires)

	bound := r.Store().GetContacts("sip:100@127.0.0.1", t0)
	require.Len(t, bound, 1)
	assert.Equal(t, "<urn:uuid:00000000-0000-0000-0000-000000000001>", bound[0].InstanceID)
	assert.Equal(t, phone, bound[0].Source)

	// unregistering is challenged again, then clears the binding
	bye := register("3", "0")
	challenge = r.Response(bye, phone, t0)
	require.Equal(t, 401, challenge.StatusCode())
	authorized, err = auth.AuthorizeRequest(bye, challenge, "100", "secret")
	require.NoError(t, err)
	ok = r.Response(authorized, phone, t0)
	require.Equal(t, 200, ok.StatusCode())
	assert.Empty(t, ok.Headers("Contact"))
	assert.False(t, r.Store().AorIsRegistered("sip:100@127.0.0.1", t0))
}

func TestRegistrarWithoutAuth(t *testing.T) {
	r := NewRegistrar(&wire{}, nil, NewMemoryRegistry(), logger)

	resp := r.Response(register("1", "99999"), phone, t0)
	require.Equal(t, 200, resp.StatusCode())
	expires, _ := message.Param(resp.Headers("Contact")[0], "expires")
	assert.Equal(t, "7200", expires, "expiry is capped")

	wildcard := message.Edit(register("2", "0")).SetHeader("Contact", "*").Build()
	resp = r.Response(wildcard, phone, t0)
	require.Equal(t, 200, resp.StatusCode())
	assert.False(t, r.Store().AorIsRegistered("sip:100@127.0.0.1", t0))

	bad := message.Edit(register("3", "60")).SetHeader("Contact", "*").Build()
	assert.Equal(t, 400, r.Response(bad, phone, t0).StatusCode())

	options := message.NewRequest(message.OPTIONS, "sip:127.0.0.1").
		AddHeader("Via", "SIP/2.0/UDP 127.0.0.1:5060;branch="+message.NewBranch()).
		AddHeader("From", "<sip:100@127.0.0.1>;tag=a").
		AddHeader("To", "<sip:127.0.0.1>").
		AddHeader("Call-ID", "o-1").
		AddHeader("CSeq", "1 OPTIONS").
		Build()
	assert.Equal(t, 200, r.Response(options, phone, t0).StatusCode())

	invite := message.NewRequest(message.INVITE, "sip:200@127.0.0.1").
		AddHeader("Via", "SIP/2.0/UDP 127.0.0.1:5060;branch="+message.NewBranch()).
		AddHeader("From", "<sip:100@127.0.0.1>;tag=a").
		AddHeader("To", "<sip:200@127.0.0.1>").
		AddHeader("Call-ID", "i-1").
		AddHeader("CSeq", "1 INVITE").
		Build()
	resp = r.Response(invite, phone, t0)
	assert.Equal(t, 405, resp.StatusCode())
	allow, _ := resp.Header("Allow")
	assert.Equal(t, "REGISTER, OPTIONS", allow)
}

func TestRegistrarAbsorbsRetransmissions(t *testing.T) {
	w := &wire{}
	r := NewRegistrar(w, nil, NewMemoryRegistry(), logger)
	req := register("1", "60")

	r.HandleMessage(req, phone, t0)
	r.HandleMessage(req, phone, t0.Add(500*time.Millisecond))
	require.Len(t, w.sent, 2)
	assert.Same(t, w.sent[0], w.sent[1], "the stored response is resent")
	assert.Equal(t, 200, w.sent[0].StatusCode())
}
