package media

import (
	"errors"
	"net"
	"strconv"
)

var ErrNoCompatibleMedia = errors.New("no compatible media")

const (
	PayloadTypePCMU uint8 = 0
	ClockRate             = 8000
	EncodingName          = "PCMU"
	ContentType           = "application/sdp"
	Proto                 = "RTP/AVP"
)

// Description is the negotiated view of one SDP body: origin, connection
// address and the single audio section.
type Description struct {
	Username       string
	SessionID      int64
	SessionVersion int64
	Address        string
	Port           int
	Proto          string
	PayloadTypes   []uint8
	Mode           string
}

// Endpoint is where to send media for the active call.
type Endpoint struct {
	IP          net.IP
	Port        int
	PayloadType uint8
}

func (e Endpoint) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: e.IP, Port: e.Port}
}

func (e Endpoint) String() string {
	return net.JoinHostPort(e.IP.String(), strconv.Itoa(e.Port)) + " pt=" + strconv.Itoa(int(e.PayloadType))
}

// IsZero reports whether no endpoint was negotiated.
func (e Endpoint) IsZero() bool {
	return e.IP == nil && e.Port == 0
}

func (d *Description) offers(pt uint8) bool {
	for _, p := range d.PayloadTypes {
		if p == pt {
			return true
		}
	}
	return false
}
