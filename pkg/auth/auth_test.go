package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/cloudwebrtc/go-sip-ptt/pkg/message"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/utils"
	"github.com/ghettovoice/gosip/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalcResponse(t *testing.T) {
	// RFC 2617 section 3.5, with and without qop.
	got := calcResponse("Mufasa", "testrealm@host.com", "Circle Of Life", "GET", "/dir/index.html",
		"dcd98b7102dd2f0e8b11d0f600bfb0c093", "", "", "")
	assert.Equal(t, "670fd8c2df070c60b045671b8b24ff02", got)
	got = calcResponse("Mufasa", "testrealm@host.com", "Circle Of Life", "GET", "/dir/index.html",
		"dcd98b7102dd2f0e8b11d0f600bfb0c093", "auth", "00000001", "0a4f113b")
	assert.Equal(t, "6629fae49393a05397450978507c4ef1", got)
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", md5Hex("abc"))
}

func TestAuthFromValue(t *testing.T) {
	a := AuthFromValue(`Digest realm="asterisk", nonce="1c4b5e1f", opaque="x1", algorithm=MD5, qop="auth"`)
	assert.Equal(t, "asterisk", a.Realm())
	assert.Equal(t, "1c4b5e1f", a.Nonce())
	assert.Equal(t, "x1", a.opaque)
	assert.Equal(t, "MD5", a.algorithm)
	assert.Equal(t, "auth", a.other["qop"])
}

func register() *message.Message {
	return message.NewRequest(message.REGISTER, "sip:example.com").
		AddHeader("Via", "SIP/2.0/UDP 10.0.0.2:5060;branch=z9hG4bKfirst;rport").
		AddHeader("From", "<sip:alice@example.com>;tag=aa").
		AddHeader("To", "<sip:alice@example.com>").
		AddHeader("Call-ID", "reg-1@10.0.0.2").
		AddHeader("CSeq", "1 REGISTER").
		Build()
}

func TestChallengeAndVerify(t *testing.T) {
	logger := utils.NewLogrusLogger(log.DebugLevel, "AuthTest", nil)
	server := NewServerAuthorizer(func(username string) (string, string, error) {
		if username != "alice" {
			return "", "", errors.New("unknown")
		}
		return "secret", "", nil
	}, "example.com", logger)
	now := time.Unix(1000, 0)

	req := register()
	user, challenge := server.Authenticate(req, now)
	require.NotNil(t, challenge)
	assert.Equal(t, "", user)
	assert.Equal(t, 401, challenge.StatusCode())

	www, _ := challenge.Header("WWW-Authenticate")
	assert.Contains(t, www, `qop="auth"`)

	authorized, err := NewClientAuthorizer("alice", "secret").AuthorizeRequest(req, challenge)
	require.NoError(t, err)
	creds, ok := authorized.Header("Authorization")
	require.True(t, ok)
	assert.Contains(t, creds, ",qop=auth,nc=00000001,cnonce=")

	seq, method, err := authorized.CSeq()
	require.NoError(t, err)
	assert.Equal(t, uint32(2), seq)
	assert.Equal(t, message.REGISTER, method)
	assert.NotEqual(t, req.ViaBranch(), authorized.ViaBranch())
	assert.Contains(t, authorized.Via(), ";rport")

	user, resp := server.Authenticate(authorized, now.Add(time.Second))
	assert.Nil(t, resp)
	assert.Equal(t, "alice", user)
}

func TestVerifyWrongPassword(t *testing.T) {
	logger := utils.NewLogrusLogger(log.DebugLevel, "AuthTest", nil)
	server := NewServerAuthorizer(func(string) (string, string, error) {
		return "secret", "", nil
	}, "example.com", logger)
	now := time.Unix(1000, 0)

	req := register()
	_, challenge := server.Authenticate(req, now)
	authorized, err := AuthorizeRequest(req, challenge, "alice", "wrong")
	require.NoError(t, err)

	_, resp := server.Authenticate(authorized, now)
	require.NotNil(t, resp)
	assert.Equal(t, 403, resp.StatusCode())
}

func TestAuthorizeRequestErrors(t *testing.T) {
	req := register()
	ok := message.NewResponse(req, 200, "").Build()
	_, err := AuthorizeRequest(req, ok, "alice", "secret")
	assert.Error(t, err)

	bare := message.NewResponse(req, 407, "").Build()
	_, err = AuthorizeRequest(req, bare, "alice", "secret")
	assert.Error(t, err)

	_, err = AuthorizeRequest(req, bare, "", "secret")
	assert.Error(t, err)
}

func TestAuthorizeAnswersQop(t *testing.T) {
	req := register()
	challenge := message.NewResponse(req, 401, "").
		AddHeader("WWW-Authenticate", `Digest realm="example.com",nonce="abc",qop="auth-int,auth",algorithm=MD5`).
		Build()
	authorized, err := AuthorizeRequest(req, challenge, "100", "secret")
	require.NoError(t, err)

	value, ok := authorized.Header("Authorization")
	require.True(t, ok)
	args := AuthFromValue(value)
	assert.Equal(t, "auth", args.other["qop"])
	assert.Equal(t, "00000001", args.other["nc"])
	require.NotEmpty(t, args.other["cnonce"])

	want := calcResponse("100", "example.com", "secret", "REGISTER", "sip:example.com",
		"abc", "auth", "00000001", args.other["cnonce"])
	assert.Equal(t, want, args.other["response"])
}

func TestAuthorizeWithoutQop(t *testing.T) {
	req := register()
	challenge := message.NewResponse(req, 401, "").
		AddHeader("WWW-Authenticate", `Digest realm="example.com",nonce="abc",algorithm=MD5`).
		Build()
	authorized, err := AuthorizeRequest(req, challenge, "100", "secret")
	require.NoError(t, err)

	value, _ := authorized.Header("Authorization")
	assert.NotContains(t, value, "qop=")
	assert.NotContains(t, value, "cnonce=")
}
