package mock

import (
	"time"

	"github.com/pixelbender/go-sdp/sdp"
)

// Host is the address the canned bodies advertise.
const Host = "127.0.0.1"

func session(port int, formats ...*sdp.Format) *sdp.Session {
	id := time.Now().UnixNano() / 1e6
	return &sdp.Session{
		Origin: &sdp.Origin{
			Username:       "-",
			Address:        Host,
			SessionID:      id,
			SessionVersion: id,
		},
		Name:   "mock",
		Timing: &sdp.Timing{Start: time.Time{}, Stop: time.Time{}},
		Connection: &sdp.Connection{
			Address: Host,
		},
		Media: []*sdp.Media{
			{
				Connection: []*sdp.Connection{{Address: Host}},
				Mode:       sdp.SendRecv,
				Type:       "audio",
				Port:       port,
				Proto:      "RTP/AVP",
				Format:     formats,
			},
		},
	}
}

// Offer is what a typical desk phone sends: PCMU among other codecs.
func Offer(port int) []byte {
	return []byte(session(port,
		&sdp.Format{Payload: 8, Name: "PCMA", ClockRate: 8000},
		&sdp.Format{Payload: 0, Name: "PCMU", ClockRate: 8000},
		&sdp.Format{Payload: 101, Name: "telephone-event", ClockRate: 8000, Params: []string{"0-16"}},
	).String())
}

// Answer selects PCMU only.
func Answer(port int) []byte {
	return []byte(session(port,
		&sdp.Format{Payload: 0, Name: "PCMU", ClockRate: 8000},
	).String())
}

// IncompatibleOffer carries no PCMU.
func IncompatibleOffer(port int) []byte {
	return []byte(session(port,
		&sdp.Format{Payload: 8, Name: "PCMA", ClockRate: 8000},
		&sdp.Format{Payload: 18, Name: "G729", ClockRate: 8000, Params: []string{"annexb=yes"}},
	).String())
}
