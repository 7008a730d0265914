package message

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const invite = "INVITE sip:100@192.168.1.10 SIP/2.0\r\n" +
	"v: SIP/2.0/UDP 192.168.1.20:5060;branch=z9hG4bK776asdhds;rport\r\n" +
	"Max-Forwards: 70\r\n" +
	"f: \"Alice\" <sip:alice@example.com>;tag=1928301774\r\n" +
	"t: <sip:100@example.com>\r\n" +
	"i: a84b4c76e66710@pc33.example.com\r\n" +
	"CSeq: 314159 INVITE\r\n" +
	"m: <sip:alice@192.168.1.20:5060>\r\n" +
	"X-Unknown: kept as is\r\n" +
	"c: application/sdp\r\n" +
	"l: 4\r\n" +
	"\r\n" +
	"v=0\ntrailing garbage"

func TestParseRequest(t *testing.T) {
	m, err := Parse([]byte(invite))
	require.NoError(t, err)

	assert.Equal(t, Request, m.Kind())
	assert.Equal(t, INVITE, m.Method())
	assert.Equal(t, "sip:100@192.168.1.10", m.RequestURI())
	assert.Equal(t, "a84b4c76e66710@pc33.example.com", m.CallID())
	assert.Equal(t, "z9hG4bK776asdhds", m.ViaBranch())
	assert.Equal(t, "1928301774", m.FromTag())
	assert.Equal(t, "", m.ToTag())
	assert.Equal(t, "sip:alice@192.168.1.20:5060", m.ContactURI())
	assert.Equal(t, "application/sdp", m.ContentType())
	assert.Equal(t, []byte("v=0\n"), m.Body())

	seq, method, err := m.CSeq()
	require.NoError(t, err)
	assert.Equal(t, uint32(314159), seq)
	assert.Equal(t, INVITE, method)

	v, ok := m.Header("x-unknown")
	assert.True(t, ok)
	assert.Equal(t, "kept as is", v)
}

func TestParseResponse(t *testing.T) {
	raw := "SIP/2.0 401 Unauthorized\r\n" +
		"Via: SIP/2.0/UDP 10.0.0.2:5060;branch=z9hG4bKabc\r\n" +
		"WWW-Authenticate: Digest realm=\"asterisk\", nonce=\"4a1b\"\r\n" +
		"WWW-Authenticate: Digest realm=\"other\", nonce=\"ffff\"\r\n" +
		"CSeq: 1 REGISTER\r\n" +
		"\r\n"
	m, err := Parse([]byte(raw))
	require.NoError(t, err)
	assert.Equal(t, Response, m.Kind())
	assert.Equal(t, 401, m.StatusCode())
	assert.Equal(t, "Unauthorized", m.Reason())
	assert.False(t, m.IsSuccess())
	assert.True(t, m.IsFinal())
	assert.Len(t, m.Headers("WWW-Authenticate"), 2)
	assert.Nil(t, m.Body())
}

func TestParseFoldedHeader(t *testing.T) {
	raw := "SIP/2.0 401 Unauthorized\r\n" +
		"Via: SIP/2.0/UDP 10.0.0.2:5060;branch=z9hG4bKabc\r\n" +
		"WWW-Authenticate: Digest realm=\"ptt\",\r\n" +
		"\tnonce=\"4a1b\"\r\n" +
		"CSeq: 1 REGISTER\r\n" +
		"\r\n"
	m, err := Parse([]byte(raw))
	require.NoError(t, err)
	v, ok := m.Header("WWW-Authenticate")
	require.True(t, ok)
	assert.Equal(t, `Digest realm="ptt", nonce="4a1b"`, v)
	seq, _, err := m.CSeq()
	require.NoError(t, err)
	assert.Equal(t, uint32(1), seq)
}

func TestParseMalformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		line int
	}{
		{"empty", "\r\n\r\n", 0},
		{"bad start line", "HELLO\r\nVia: x\r\n\r\n", 1},
		{"bad version", "INVITE sip:a@b SIP/3.0\r\n\r\n", 1},
		{"bad status", "SIP/2.0 99 Nope\r\n\r\n", 1},
		{"header without colon", "OPTIONS sip:a@b SIP/2.0\r\nCall-ID: x\r\nbroken header\r\n\r\n", 3},
		{"short body", "OPTIONS sip:a@b SIP/2.0\r\nContent-Length: 10\r\n\r\nabc", 2},
		{"leading continuation", "OPTIONS sip:a@b SIP/2.0\r\n  folded\r\n\r\n", 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformed))
			var me *MalformedError
			require.True(t, errors.As(err, &me))
			assert.Equal(t, tt.line, me.Line)
		})
	}
}

func TestRoundTrip(t *testing.T) {
	req := NewRequest(INVITE, "sip:100@example.com").
		AddHeader("Via", "SIP/2.0/UDP 10.0.0.2:5060;branch=z9hG4bK1;rport").
		AddHeader("Via", "SIP/2.0/UDP 10.0.0.1:5060;branch=z9hG4bK0").
		AddHeader("Max-Forwards", "70").
		AddHeader("To", "<sip:100@example.com>").
		AddHeader("From", "<sip:alice@example.com>;tag=abc").
		AddHeader("Call-ID", "xyz@10.0.0.2").
		AddHeader("CSeq", "1 INVITE").
		AddHeader("X-Custom", "1").
		SetBody("application/sdp", []byte("v=0\r\n")).
		Build()

	resp := NewResponse(req, 486, "").AddHeader("To", "ignored").Build()

	for _, m := range []*Message{req, resp} {
		parsed, err := Parse(m.Bytes())
		require.NoError(t, err)
		assert.Equal(t, m, parsed)
		assert.Equal(t, m.Bytes(), parsed.Bytes())
	}
}

func TestBuilderOrder(t *testing.T) {
	m := NewRequest(REGISTER, "sip:example.com").
		AddHeader("Content-Length", "99").
		AddHeader("User-Agent", "ua").
		AddHeader("CSeq", "2 REGISTER").
		AddHeader("Via", "SIP/2.0/UDP h;branch=z9hG4bKx").
		AddHeader("Call-ID", "c").
		Build()

	var names []string
	for _, h := range m.HeaderList() {
		names = append(names, h.Name)
	}
	assert.Equal(t, []string{"Via", "Call-ID", "CSeq", "User-Agent", "Content-Length"}, names)
	assert.True(t, strings.HasSuffix(m.String(), "Content-Length: 0\r\n\r\n"))
}

func TestNewResponseCopiesDialogHeaders(t *testing.T) {
	req, err := Parse([]byte(invite))
	require.NoError(t, err)
	resp := NewResponse(req, 180, "").SetHeader("To", WithTag(req.To(), "xyz")).Build()

	assert.Equal(t, "Ringing", resp.Reason())
	assert.Equal(t, req.ViaBranch(), resp.ViaBranch())
	assert.Equal(t, req.CallID(), resp.CallID())
	assert.Equal(t, "xyz", resp.ToTag())
	_, ok := resp.Header("Contact")
	assert.False(t, ok)
}

func TestParam(t *testing.T) {
	v, ok := Param("<sip:a@b;transport=udp>;tag=42;lr", "tag")
	assert.True(t, ok)
	assert.Equal(t, "42", v)

	_, ok = Param("<sip:a@b;tag=inner>", "tag")
	assert.False(t, ok)

	contact := `<sip:100@10.0.0.2:5060>;+sip.instance="<urn:uuid:1;x>";expires=60`
	v, ok = Param(contact, "+sip.instance")
	assert.True(t, ok)
	assert.Equal(t, "<urn:uuid:1;x>", v)
	v, ok = Param(contact, "expires")
	assert.True(t, ok)
	assert.Equal(t, "60", v)

	v, ok = Param("SIP/2.0/UDP 1.2.3.4;branch=z9hG4bKq;rport", "BRANCH")
	assert.True(t, ok)
	assert.Equal(t, "z9hG4bKq", v)

	assert.Equal(t, "sip:a@b", AddressURI("sip:a@b;tag=1"))
	assert.Equal(t, "sip:a@b;transport=udp", AddressURI(`"A" <sip:a@b;transport=udp>;tag=1`))
}

func TestGenerators(t *testing.T) {
	b := NewBranch()
	assert.True(t, strings.HasPrefix(b, "z9hG4bK"))
	assert.NotEqual(t, b, NewBranch())
	assert.Len(t, NewTag(), 8)
	assert.True(t, strings.HasSuffix(NewCallID("10.0.0.2"), "@10.0.0.2"))
}
