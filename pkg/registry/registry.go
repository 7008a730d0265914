package registry

import (
	"net"
	"time"

	"github.com/cloudwebrtc/go-sip-ptt/pkg/message"
)

// ContactInstance is one registered Contact of an address of record.
type ContactInstance struct {
	Contact    string
	URI        string
	InstanceID string
	Source     *net.UDPAddr
	UserAgent  string
	Expires    time.Time
}

// Remaining is the lifetime left at now, rounded down to seconds.
func (c *ContactInstance) Remaining(now time.Time) uint32 {
	if !now.Before(c.Expires) {
		return 0
	}
	return uint32(c.Expires.Sub(now) / time.Second)
}

// Key identifies the instance: the +sip.instance when present, else the
// Contact URI.
func (c *ContactInstance) Key() string {
	if c.InstanceID != "" {
		return c.InstanceID
	}
	return c.URI
}

func NewContactInstanceForRequest(request *message.Message, contact string, src *net.UDPAddr, expires time.Time) *ContactInstance {
	instance, _ := message.Param(contact, "+sip.instance")
	userAgent, _ := request.Header("User-Agent")
	return &ContactInstance{
		Contact:    contact,
		URI:        message.AddressURI(contact),
		InstanceID: instance,
		Source:     src,
		UserAgent:  userAgent,
		Expires:    expires,
	}
}

// Registry Address-of-Record registry. AORs are compared as plain
// "sip:user@domain" strings.
type Registry interface {
	UpdateContact(aor string, instance *ContactInstance) error
	RemoveContact(aor string, instance *ContactInstance) error
	RemoveAor(aor string) error
	AorIsRegistered(aor string, now time.Time) bool
	GetContacts(aor string, now time.Time) []*ContactInstance
	GetAllContacts(now time.Time) map[string][]*ContactInstance
}
