package session

import (
	"net"
	"testing"

	"github.com/cloudwebrtc/go-sip-ptt/pkg/message"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/utils"
	"github.com/ghettovoice/gosip/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	logger = utils.NewLogrusLogger(log.DebugLevel, "SessionTest", nil)
	origin = Origin{SentBy: "10.0.0.2:5060", Contact: "<sip:100@10.0.0.2:5060>", UserAgent: "test"}
	peer   = &net.UDPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5060}
)

func invite(from, to string) *message.Message {
	return message.NewRequest(message.INVITE, "sip:100@10.0.0.2").
		AddHeader("Via", "SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bKinv").
		AddHeader("Max-Forwards", "70").
		AddHeader("From", from).
		AddHeader("To", to).
		AddHeader("Call-ID", "call-1@10.0.0.1").
		AddHeader("CSeq", "4 INVITE").
		AddHeader("Contact", "<sip:alice@10.0.0.1:5060>").
		AddHeader("Record-Route", "<sip:p1;lr>, <sip:p2;lr>").
		Build()
}

func TestServerDialog(t *testing.T) {
	req := invite("<sip:alice@example.com>;tag=a1", "<sip:100@example.com>")
	s := NewInviteSession(UAS, origin, req, peer, logger)

	assert.Equal(t, Incoming, s.Direction())
	assert.Equal(t, "sip:alice@10.0.0.1:5060", s.RemoteTarget())
	assert.Equal(t, "sip:alice@example.com", s.RemoteURI())

	ringing := s.Provisional(180, "")
	tag := ringing.ToTag()
	require.NotEmpty(t, tag)
	assert.Equal(t, "Ringing", ringing.Reason())

	ok := s.Accept(200, []byte("v=0\r\n"))
	assert.Equal(t, tag, ok.ToTag(), "the To tag is stable across responses")
	assert.Equal(t, "application/sdp", ok.ContentType())
	assert.Len(t, ok.Headers("Record-Route"), 1)
	assert.Same(t, ok, s.Response())

	bye := s.Bye()
	seq, method, err := bye.CSeq()
	require.NoError(t, err)
	assert.Equal(t, message.BYE, method)
	assert.Equal(t, uint32(1), seq)
	assert.Equal(t, "sip:alice@10.0.0.1:5060", bye.RequestURI())
	assert.Equal(t, "a1", bye.ToTag())
	assert.Equal(t, tag, bye.FromTag())
	assert.Equal(t, []string{"<sip:p1;lr>", "<sip:p2;lr>"}, bye.Headers("Route"))

	inDialog := message.Edit(req).SetHeader("To", "<sip:100@example.com>;tag="+tag).Build()
	assert.True(t, s.Matches(inDialog))
	other := message.Edit(req).SetHeader("To", "<sip:100@example.com>;tag=zz").Build()
	assert.False(t, s.Matches(other))
}

func TestClientDialog(t *testing.T) {
	req := invite("<sip:100@example.com>;tag=l1", "<sip:alice@example.com>")
	s := NewInviteSession(UAC, origin, req, peer, logger)
	s.SetState(Calling)
	assert.True(t, s.IsInProgress())

	cancel := s.Cancel()
	assert.Equal(t, req.Via(), cancel.Via())
	seq, method, _ := cancel.CSeq()
	assert.Equal(t, uint32(4), seq)
	assert.Equal(t, message.CANCEL, method)

	ok := message.NewResponse(req, 200, "").
		SetHeader("To", "<sip:alice@example.com>;tag=r9").
		AddHeader("Contact", "<sip:alice@10.0.0.7>").
		AddHeader("Record-Route", "<sip:p1;lr>").
		AddHeader("Record-Route", "<sip:p2;lr>").
		Build()
	s.StoreResponse(ok)
	s.SetState(Active)
	assert.True(t, s.IsEstablished())

	ack := s.Ack()
	seq, method, _ = ack.CSeq()
	assert.Equal(t, uint32(4), seq)
	assert.Equal(t, message.ACK, method)
	assert.Equal(t, "sip:alice@10.0.0.7", ack.RequestURI())
	assert.Equal(t, "r9", ack.ToTag())
	assert.NotEqual(t, req.ViaBranch(), ack.ViaBranch())
	assert.Same(t, ack, s.LastAck())

	bye := s.Bye()
	seq, _, _ = bye.CSeq()
	assert.Equal(t, uint32(5), seq)
	assert.Equal(t, []string{"<sip:p2;lr>", "<sip:p1;lr>"}, bye.Headers("Route"))
}

func TestRingingOnce(t *testing.T) {
	s := NewInviteSession(UAC, origin, invite("<sip:100@example.com>;tag=l1", "<sip:alice@example.com>"), peer, logger)
	assert.True(t, s.MarkRinging())
	assert.False(t, s.MarkRinging())
	assert.True(t, s.MarkAuthorized())
	assert.False(t, s.MarkAuthorized())
}
