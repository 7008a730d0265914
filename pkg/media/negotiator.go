package media

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pixelbender/go-sdp/sdp"
)

const sessionName = "go-sip-ptt"

// BuildOffer describes a single PCMU audio stream on ip:port.
func BuildOffer(ip string, port int, sessionID int64) *Description {
	return &Description{
		Username:       "-",
		SessionID:      sessionID,
		SessionVersion: sessionID,
		Address:        ip,
		Port:           port,
		Proto:          Proto,
		PayloadTypes:   []uint8{PayloadTypePCMU},
		Mode:           string(sdp.SendRecv),
	}
}

// BuildAnswer accepts a remote offer when it carries PCMU.
func BuildAnswer(ip string, port int, sessionID int64, offer *Description) (*Description, error) {
	if !offer.offers(PayloadTypePCMU) {
		return nil, fmt.Errorf("%w: offer lacks %s", ErrNoCompatibleMedia, EncodingName)
	}
	return BuildOffer(ip, port, sessionID), nil
}

// Parse decodes an SDP body, keeping only what a PCMU audio call needs.
// Unknown attributes are ignored.
func Parse(data []byte) (*Description, error) {
	sess, err := sdp.Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoCompatibleMedia, err)
	}

	var audio *sdp.Media
	for _, m := range sess.Media {
		if m.Type == "audio" && m.Port != 0 {
			audio = m
			break
		}
	}
	if audio == nil {
		return nil, fmt.Errorf("%w: no active audio section", ErrNoCompatibleMedia)
	}

	d := &Description{
		Port:  audio.Port,
		Proto: audio.Proto,
		Mode:  string(audio.Mode),
	}
	if sess.Origin != nil {
		d.Username = sess.Origin.Username
		d.SessionID = sess.Origin.SessionID
		d.SessionVersion = sess.Origin.SessionVersion
	}
	if len(audio.Connection) > 0 && audio.Connection[0].Address != "" {
		d.Address = audio.Connection[0].Address
	} else if sess.Connection != nil {
		d.Address = sess.Connection.Address
	}
	if d.Address == "" || net.ParseIP(d.Address) == nil {
		return nil, fmt.Errorf("%w: missing connection address", ErrNoCompatibleMedia)
	}

	for _, f := range audio.Format {
		if compatible(f) {
			d.PayloadTypes = append(d.PayloadTypes, f.Payload)
		}
	}
	if len(d.PayloadTypes) == 0 {
		return nil, fmt.Errorf("%w: no %s payload offered", ErrNoCompatibleMedia, EncodingName)
	}
	return d, nil
}

// compatible accepts static payload 0 without rtpmap, or any payload
// mapped to PCMU/8000.
func compatible(f *sdp.Format) bool {
	if f.Name == "" {
		return f.Payload == PayloadTypePCMU
	}
	return strings.EqualFold(f.Name, EncodingName) && (f.ClockRate == 0 || f.ClockRate == ClockRate)
}

// Negotiate checks the remote answer against the local offer and returns
// the remote media endpoint.
func Negotiate(local, remote *Description) (Endpoint, error) {
	ip := net.ParseIP(remote.Address)
	if ip == nil || remote.Port <= 0 {
		return Endpoint{}, fmt.Errorf("%w: remote endpoint %s:%d", ErrNoCompatibleMedia, remote.Address, remote.Port)
	}
	for _, pt := range remote.PayloadTypes {
		if local.offers(pt) {
			return Endpoint{IP: ip, Port: remote.Port, PayloadType: pt}, nil
		}
	}
	return Endpoint{}, fmt.Errorf("%w: answer %v does not match offer %v", ErrNoCompatibleMedia, remote.PayloadTypes, local.PayloadTypes)
}

// Session converts d into a go-sdp session.
func (d *Description) Session() *sdp.Session {
	formats := make([]*sdp.Format, 0, len(d.PayloadTypes))
	for _, pt := range d.PayloadTypes {
		f := &sdp.Format{Payload: pt}
		if pt == PayloadTypePCMU {
			f.Name = EncodingName
			f.ClockRate = ClockRate
		}
		formats = append(formats, f)
	}
	return &sdp.Session{
		Origin: &sdp.Origin{
			Username:       d.Username,
			Address:        d.Address,
			SessionID:      d.SessionID,
			SessionVersion: d.SessionVersion,
		},
		Name:       sessionName,
		Timing:     &sdp.Timing{Start: time.Time{}, Stop: time.Time{}},
		Connection: &sdp.Connection{Address: d.Address},
		Media: []*sdp.Media{
			{
				Type:   "audio",
				Port:   d.Port,
				Proto:  d.Proto,
				Mode:   sdp.SendRecv,
				Format: formats,
			},
		},
	}
}

// Marshal encodes d as an SDP body.
func (d *Description) Marshal() []byte {
	return []byte(d.Session().String())
}
