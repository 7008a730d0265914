package auth

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cloudwebrtc/go-sip-ptt/pkg/message"
	"github.com/ghettovoice/gosip/log"
	"github.com/ghettovoice/gosip/util"
)

const (
	NonceExpire = 180 * time.Second
)

// AuthSession .
type AuthSession struct {
	nonce   string
	created time.Time
}

type RequestCredentialCallback func(username string) (password string, ha1 string, err error)

// ServerAuthorizer issues WWW-Authenticate challenges and checks the
// Authorization that comes back. Sessions are keyed by Call-ID.
type ServerAuthorizer struct {
	sessions          map[string]AuthSession
	requestCredential RequestCredentialCallback
	realm             string
	log               log.Logger

	mx sync.Mutex
}

// NewServerAuthorizer .
func NewServerAuthorizer(callback RequestCredentialCallback, realm string, logger log.Logger) *ServerAuthorizer {
	return &ServerAuthorizer{
		sessions:          make(map[string]AuthSession),
		requestCredential: callback,
		realm:             realm,
		log:               logger.WithPrefix("ServerAuthorizer"),
	}
}

// Authenticate returns the authenticated user, or the response to send
// back (a challenge or a rejection) when the request is not authorized.
func (auth *ServerAuthorizer) Authenticate(request *message.Message, now time.Time) (string, *message.Message) {
	auth.log.Debugf("Request => %s", request.Short())

	callID := request.CallID()
	if callID == "" {
		return "", message.NewResponse(request, 400, "Missing required Call-ID header.").Build()
	}

	value, ok := request.Header("Authorization")
	if !ok {
		return "", auth.challenge(request, callID, now)
	}

	auth.mx.Lock()
	session, found := auth.sessions[callID]
	auth.mx.Unlock()
	if !found || now.After(session.created.Add(NonceExpire)) {
		return "", auth.challenge(request, callID, now)
	}

	args := AuthFromValue(value)
	username := args.other["username"]
	if user := message.AddressURI(request.From()); username == "" || !sameUser(user, username) {
		return "", auth.challenge(request, callID, now)
	}
	if args.nonce != session.nonce {
		return "", auth.challenge(request, callID, now)
	}

	password, ha1, err := auth.requestCredential(username)
	if err != nil {
		return "", message.NewResponse(request, 404, "User not found").Build()
	}
	if ha1 == "" {
		ha1 = md5Hex(username + ":" + args.realm + ":" + password)
	}

	uri := args.other["uri"]
	var result string
	if qop := args.other["qop"]; qop == "auth" {
		ha2 := md5Hex(string(request.Method()) + ":" + uri)
		result = md5Hex(ha1 + ":" + session.nonce + ":" + args.other["nc"] + ":" + args.other["cnonce"] + ":auth:" + ha2)
	} else {
		ha2 := md5Hex(string(request.Method()) + ":" + uri)
		result = md5Hex(ha1 + ":" + session.nonce + ":" + ha2)
	}

	if result != args.other["response"] {
		return "", message.NewResponse(request, 403, "Forbidden (Bad auth)").Build()
	}

	auth.mx.Lock()
	delete(auth.sessions, callID)
	auth.mx.Unlock()
	return username, nil
}

// Expire drops challenges older than NonceExpire.
func (auth *ServerAuthorizer) Expire(now time.Time) {
	auth.mx.Lock()
	defer auth.mx.Unlock()
	for k, v := range auth.sessions {
		if now.After(v.created.Add(NonceExpire)) {
			delete(auth.sessions, k)
		}
	}
}

func (auth *ServerAuthorizer) challenge(request *message.Message, callID string, now time.Time) *message.Message {
	nonce := util.RandString(16)
	auth.mx.Lock()
	auth.sessions[callID] = AuthSession{nonce: nonce, created: now}
	auth.mx.Unlock()

	to := message.WithTag(request.To(), message.NewTag())
	return message.NewResponse(request, 401, "Unauthorized").
		SetHeader("To", to).
		AddHeader("WWW-Authenticate", fmt.Sprintf(`Digest realm="%s",nonce="%s",opaque="%s",algorithm=MD5,qop="auth"`,
			auth.realm, nonce, util.RandString(8))).
		Build()
}

func sameUser(uri, username string) bool {
	u := strings.TrimPrefix(strings.TrimPrefix(uri, "sips:"), "sip:")
	if i := strings.IndexByte(u, '@'); i >= 0 {
		u = u[:i]
	}
	return u == username
}
