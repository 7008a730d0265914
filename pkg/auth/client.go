package auth

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/cloudwebrtc/go-sip-ptt/pkg/message"
	"github.com/ghettovoice/gosip/util"
)

var paramRe = regexp.MustCompile(`([\w-]+)=("([^"]*)"|([^\s,]+))`)

// currently only Digest and MD5
type Authorization struct {
	realm     string
	nonce     string
	algorithm string
	opaque    string
	username  string
	password  string
	uri       string
	response  string
	method    string
	qop       string
	nc        string
	cnonce    string
	other     map[string]string
}

func AuthFromValue(value string) *Authorization {
	auth := &Authorization{
		algorithm: "MD5",
		other:     make(map[string]string),
	}

	for _, match := range paramRe.FindAllStringSubmatch(value, -1) {
		value2 := strings.Replace(match[2], "\"", "", -1)
		switch strings.ToLower(match[1]) {
		case "realm":
			auth.realm = value2
		case "algorithm":
			auth.algorithm = value2
		case "nonce":
			auth.nonce = value2
		case "opaque":
			auth.opaque = value2
		default:
			auth.other[match[1]] = value2
		}
	}

	return auth
}

func (auth *Authorization) Realm() string { return auth.realm }
func (auth *Authorization) Nonce() string { return auth.nonce }

func (auth *Authorization) SetUsername(username string) *Authorization {
	auth.username = username

	return auth
}

func (auth *Authorization) SetUri(uri string) *Authorization {
	auth.uri = uri

	return auth
}

func (auth *Authorization) SetMethod(method string) *Authorization {
	auth.method = method

	return auth
}

func (auth *Authorization) SetPassword(password string) *Authorization {
	auth.password = password

	return auth
}

// offersAuth reports whether the challenge's qop list contains "auth".
func (auth *Authorization) offersAuth() bool {
	for _, q := range strings.Split(auth.other["qop"], ",") {
		if strings.TrimSpace(q) == "auth" {
			return true
		}
	}
	return false
}

func (auth *Authorization) CalcResponse() *Authorization {
	if auth.offersAuth() {
		auth.qop = "auth"
		auth.nc = "00000001"
		if auth.cnonce == "" {
			auth.cnonce = util.RandString(16)
		}
	}
	auth.response = calcResponse(
		auth.username,
		auth.realm,
		auth.password,
		auth.method,
		auth.uri,
		auth.nonce,
		auth.qop,
		auth.nc,
		auth.cnonce,
	)

	return auth
}

func (auth *Authorization) String() string {
	s := fmt.Sprintf(
		`Digest username="%s",realm="%s",nonce="%s",uri="%s",response="%s",algorithm=%s`,
		auth.username,
		auth.realm,
		auth.nonce,
		auth.uri,
		auth.response,
		auth.algorithm,
	)
	if auth.qop != "" {
		s += fmt.Sprintf(`,qop=%s,nc=%s,cnonce="%s"`, auth.qop, auth.nc, auth.cnonce)
	}
	if auth.opaque != "" {
		s += fmt.Sprintf(`,opaque="%s"`, auth.opaque)
	}
	return s
}

// calculates Authorization response https://www.ietf.org/rfc/rfc2617.txt
func calcResponse(username, realm, password, method, uri, nonce, qop, nc, cnonce string) string {
	ha1 := md5Hex(username + ":" + realm + ":" + password)
	ha2 := md5Hex(method + ":" + uri)
	if qop == "" {
		return md5Hex(ha1 + ":" + nonce + ":" + ha2)
	}
	return md5Hex(ha1 + ":" + nonce + ":" + nc + ":" + cnonce + ":" + qop + ":" + ha2)
}

func md5Hex(data string) string {
	sum := md5.Sum([]byte(data))
	return hex.EncodeToString(sum[:])
}

// AuthorizeRequest answers the challenge in response (401 or 407) and
// returns the request to resend: same headers, credentials attached, CSeq
// incremented and a fresh Via branch.
func AuthorizeRequest(request, response *message.Message, user, password string) (*message.Message, error) {
	if user == "" {
		return nil, fmt.Errorf("authorize request: user is empty")
	}

	var authenticateHeaderName, authorizeHeaderName string
	switch response.StatusCode() {
	case 401:
		authenticateHeaderName = "WWW-Authenticate"
		authorizeHeaderName = "Authorization"
	case 407:
		authenticateHeaderName = "Proxy-Authenticate"
		authorizeHeaderName = "Proxy-Authorization"
	default:
		return nil, fmt.Errorf("authorize request: status %d is not a challenge", response.StatusCode())
	}

	challenge, ok := response.Header(authenticateHeaderName)
	if !ok {
		return nil, fmt.Errorf("authorize request: header '%s' not found in response", authenticateHeaderName)
	}
	if !strings.HasPrefix(strings.ToLower(strings.TrimSpace(challenge)), "digest") {
		return nil, fmt.Errorf("authorize request: unsupported scheme in %q", challenge)
	}
	auth := AuthFromValue(challenge)
	if !strings.EqualFold(auth.algorithm, "MD5") {
		return nil, fmt.Errorf("authorize request: unsupported algorithm %s", auth.algorithm)
	}
	auth.SetMethod(string(request.Method())).
		SetUri(request.RequestURI()).
		SetUsername(user).
		SetPassword(password).
		CalcResponse()

	seq, method, err := request.CSeq()
	if err != nil {
		return nil, fmt.Errorf("authorize request: %w", err)
	}
	via := request.Via()
	if i := strings.Index(via, ";branch="); i >= 0 {
		rest := via[i+len(";branch="):]
		end := strings.IndexByte(rest, ';')
		if end < 0 {
			end = len(rest)
		}
		via = via[:i] + ";branch=" + message.NewBranch() + rest[end:]
	}

	return message.Edit(request).
		SetHeader("Via", via).
		SetHeader("CSeq", fmt.Sprintf("%d %s", seq+1, method)).
		SetHeader(authorizeHeaderName, auth.String()).
		Build(), nil
}

type Authorizer interface {
	AuthorizeRequest(request, response *message.Message) (*message.Message, error)
}

type ClientAuthorizer struct {
	user     string
	password string
}

func NewClientAuthorizer(u string, p string) *ClientAuthorizer {
	return &ClientAuthorizer{
		user:     u,
		password: p,
	}
}

func (auth *ClientAuthorizer) AuthorizeRequest(request, response *message.Message) (*message.Message, error) {
	return AuthorizeRequest(request, response, auth.user, auth.password)
}
