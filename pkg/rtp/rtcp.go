package rtp

import (
	"net"
	"time"

	"github.com/pion/rtcp"
)

// ntpEpochOffset is the number of seconds between 1900 and 1970.
const ntpEpochOffset = 2208988800

// Reporter keeps the sender statistics of the local stream and produces
// RTCP sender reports and the closing BYE.
type Reporter struct {
	ssrc    uint32
	packets uint32
	octets  uint32
	lastTS  uint32
}

func NewReporter(ssrc uint32) *Reporter {
	return &Reporter{ssrc: ssrc}
}

// OnSent records one outbound RTP packet.
func (r *Reporter) OnSent(timestamp uint32, payloadLen int) {
	r.packets++
	r.octets += uint32(payloadLen)
	r.lastTS = timestamp
}

func (r *Reporter) senderReport(now time.Time) *rtcp.SenderReport {
	return &rtcp.SenderReport{
		SSRC:        r.ssrc,
		NTPTime:     NTPTime(now),
		RTPTime:     r.lastTS,
		PacketCount: r.packets,
		OctetCount:  r.octets,
	}
}

// SenderReport is a compound packet holding one SR.
func (r *Reporter) SenderReport(now time.Time) ([]byte, error) {
	return rtcp.Marshal([]rtcp.Packet{r.senderReport(now)})
}

// Goodbye is a compound SR + BYE sent when the stream stops.
func (r *Reporter) Goodbye(now time.Time, reason string) ([]byte, error) {
	return rtcp.Marshal([]rtcp.Packet{
		r.senderReport(now),
		&rtcp.Goodbye{Sources: []uint32{r.ssrc}, Reason: reason},
	})
}

// NTPTime converts t to the 64-bit NTP format.
func NTPTime(t time.Time) uint64 {
	secs := uint64(t.Unix()) + ntpEpochOffset
	frac := uint64(t.Nanosecond()) << 32 / uint64(time.Second)
	return secs<<32 | frac
}

// RTCPAddr is the conventional RTCP address next to an RTP address.
func RTCPAddr(rtpAddr *net.UDPAddr) *net.UDPAddr {
	return &net.UDPAddr{IP: rtpAddr.IP, Port: rtpAddr.Port + 1, Zone: rtpAddr.Zone}
}
