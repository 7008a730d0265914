package account

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/ghettovoice/gosip/sip/parser"
	"github.com/google/uuid"
)

const DefaultPort = 5060

//AuthInfo .
type AuthInfo struct {
	AuthName string
	Realm    string
	Password string
}

// Profile is the single identity this endpoint registers and calls as.
type Profile struct {
	User        string
	DisplayName string
	Domain      string
	Auth        *AuthInfo
	Expires     uint32
	InstanceID  string
}

//NewProfile .
func NewProfile(
	user string,
	displayName string,
	domain string,
	auth *AuthInfo,
	expires uint32,
) (*Profile, error) {
	p := &Profile{
		User:        user,
		DisplayName: displayName,
		Domain:      domain,
		Auth:        auth,
		Expires:     expires,
	}
	if _, err := parser.ParseSipUri(p.AOR()); err != nil {
		return nil, fmt.Errorf("invalid identity %s: %w", p.AOR(), err)
	}
	uid, err := uuid.NewUUID()
	if err != nil {
		return nil, fmt.Errorf("could not create UUID: %w", err)
	}
	p.InstanceID = fmt.Sprintf(`"<%s>"`, uid.URN())
	return p, nil
}

// AOR is the address of record, sip:user@domain.
func (p *Profile) AOR() string {
	return "sip:" + p.User + "@" + p.Domain
}

// Address renders the From/To value for the AOR, tagged when tag is set.
func (p *Profile) Address(tag string) string {
	v := "<" + p.AOR() + ">"
	if p.DisplayName != "" {
		v = strconv.Quote(p.DisplayName) + " " + v
	}
	if tag != "" {
		v += ";tag=" + tag
	}
	return v
}

// Contact renders the Contact value for a UA listening on host:port.
func (p *Profile) Contact(host string, port int) string {
	v := "<sip:" + p.User + "@" + net.JoinHostPort(host, strconv.Itoa(port)) + ">"
	if p.InstanceID != "" {
		v += ";+sip.instance=" + p.InstanceID
	}
	return v
}

// Target expands a dial string into a SIP URI. A bare user part is
// placed in the profile's domain.
func (p *Profile) Target(dial string) (string, error) {
	dial = strings.TrimSpace(dial)
	if dial == "" {
		return "", fmt.Errorf("empty dial target")
	}
	if !strings.HasPrefix(dial, "sip:") && !strings.HasPrefix(dial, "sips:") {
		if !strings.Contains(dial, "@") {
			dial += "@" + p.Domain
		}
		dial = "sip:" + dial
	}
	if _, err := parser.ParseSipUri(dial); err != nil {
		return "", fmt.Errorf("invalid target %q: %w", dial, err)
	}
	return dial, nil
}

// Resolve returns the UDP address requests for uri are sent to.
func Resolve(uri string) (*net.UDPAddr, error) {
	u, err := parser.ParseSipUri(uri)
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", uri, err)
	}
	port := DefaultPort
	if p := u.Port(); p != nil {
		port = int(*p)
	}
	addr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(u.Host(), strconv.Itoa(port)))
	if err != nil {
		return nil, fmt.Errorf("resolve %q: %w", uri, err)
	}
	return addr, nil
}

// RegistrationState is where the registration sub-machine stands.
type RegistrationState string

const (
	Unregistered RegistrationState = "Unregistered"
	Registering  RegistrationState = "Registering"
	Registered   RegistrationState = "Registered"
)
