package rtp

import (
	"net"

	"github.com/cloudwebrtc/go-sip-ptt/pkg/utils"
	"github.com/ghettovoice/gosip/log"
	"github.com/tevino/abool"
)

const (
	DefaultPortMin = 30000
	DefaultPortMax = 65530
	maxPacketSize  = 1500
)

type RtpUDPStream struct {
	conn     *net.UDPConn
	closed   *abool.AtomicBool
	onPacket func(pkt []byte, raddr *net.UDPAddr)
	laddr    *net.UDPAddr
	logger   log.Logger
}

// NewRtpUDPStream binds a media socket on bind, on a port from the range
// (a fixed port when portMin == portMax).
func NewRtpUDPStream(bind string, portMin, portMax int, callback func(pkt []byte, raddr *net.UDPAddr), logger log.Logger) (*RtpUDPStream, error) {
	lAddr := &net.UDPAddr{IP: net.ParseIP(bind), Port: 0}
	if portMin == portMax {
		lAddr.Port = portMin
	}
	conn, err := utils.ListenUDPInPortRange(portMin, portMax, lAddr)
	if err != nil {
		logger.Errorf("ListenUDP: err => %v", err)
		return nil, err
	}

	return &RtpUDPStream{
		conn:     conn,
		closed:   abool.New(),
		onPacket: callback,
		laddr:    conn.LocalAddr().(*net.UDPAddr),
		logger:   logger.WithPrefix("RtpUDPStream"),
	}, nil
}

func (r *RtpUDPStream) LocalAddr() *net.UDPAddr {
	return r.laddr
}

func (r *RtpUDPStream) Close() {
	if r.closed.SetToIf(false, true) {
		r.conn.Close()
	}
}

func (r *RtpUDPStream) Send(pkt []byte, raddr *net.UDPAddr) (int, error) {
	return r.conn.WriteToUDP(pkt, raddr)
}

// Read delivers packets to the callback until Close. The slice passed to
// the callback is reused for the next packet.
func (r *RtpUDPStream) Read() {
	buf := make([]byte, maxPacketSize)
	for {
		n, raddr, err := r.conn.ReadFromUDP(buf)
		if r.closed.IsSet() {
			r.logger.Debugf("Terminate: stop rtp conn now!")
			return
		}
		if err != nil {
			r.logger.Warnf("RTP Conn [%v] read failed, stop now: %v", r.laddr, err)
			return
		}
		r.onPacket(buf[0:n], raddr)
	}
}
