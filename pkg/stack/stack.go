package stack

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/cloudwebrtc/go-sip-ptt/pkg/message"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/metrics"
	"github.com/ghettovoice/gosip/log"
	"github.com/ghettovoice/gosip/util"
	"github.com/tevino/abool"
)

const (
	// DefaultUserAgent .
	DefaultUserAgent = "Go SIP PTT/1.0.0"
	// DefaultMaxDatagram is the largest SIP datagram accepted unless
	// configured otherwise.
	DefaultMaxDatagram = 4096
	queueSize          = 64
)

var (
	ErrClosed   = errors.New("sip stack is closed")
	ErrTooLarge = errors.New("datagram exceeds the configured maximum")
)

// Packet is one parsed inbound SIP message and where it came from.
type Packet struct {
	Message *message.Message
	Source  *net.UDPAddr
}

// SipStackConfig describes available options
type SipStackConfig struct {
	// Public IP address or domain name, if empty auto resolved IP will be used.
	Host string
	// ListenAddr is the local UDP address, e.g. "0.0.0.0:5060".
	ListenAddr string
	// MaxDatagram bounds inbound and outbound datagrams; 0 means
	// DefaultMaxDatagram.
	MaxDatagram int
}

// SipStack is the UDP signaling transport: it reads datagrams, drops what
// does not parse and hands the rest to the signaling unit in arrival order.
type SipStack struct {
	conn       *net.UDPConn
	host       string
	maxSize    int
	ip         net.IP
	packets    chan Packet
	inShutdown *abool.AtomicBool
	hwg        sync.WaitGroup
	log        log.Logger
}

// NewSipStack creates new instance of SipStack.
func NewSipStack(config *SipStackConfig, logger log.Logger) (*SipStack, error) {
	if config == nil {
		config = &SipStackConfig{}
	}

	logger = logger.WithPrefix("SipStack")

	var host string
	var ip net.IP
	if config.Host != "" {
		host = config.Host
		addr, err := net.ResolveIPAddr("ip", host)
		if err != nil {
			return nil, fmt.Errorf("resolve host IP failed: %w", err)
		}
		ip = addr.IP
	} else {
		v, err := util.ResolveSelfIP()
		if err != nil {
			return nil, fmt.Errorf("resolve host IP failed: %w", err)
		}
		ip = v
		host = v.String()
	}

	maxSize := config.MaxDatagram
	if maxSize <= 0 {
		maxSize = DefaultMaxDatagram
	}
	s := &SipStack{
		host:       host,
		maxSize:    maxSize,
		ip:         ip,
		packets:    make(chan Packet, queueSize),
		inShutdown: abool.New(),
		log:        logger,
	}
	if config.ListenAddr != "" {
		if err := s.Listen(config.ListenAddr); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Log .
func (s *SipStack) Log() log.Logger {
	return s.log
}

// Listen binds the UDP socket and starts reading.
func (s *SipStack) Listen(listenAddr string) error {
	if s.conn != nil {
		return fmt.Errorf("already listening on %v", s.conn.LocalAddr())
	}
	laddr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", listenAddr, err)
	}
	conn, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", listenAddr, err)
	}
	s.conn = conn
	s.log.Infof("listening on udp %v, advertising %s", conn.LocalAddr(), s.host)
	s.hwg.Add(1)
	go s.serve()
	return nil
}

// MaxDatagram is the largest datagram read or sent.
func (s *SipStack) MaxDatagram() int {
	return s.maxSize
}

// Host is the address advertised in Via and Contact.
func (s *SipStack) Host() string {
	return s.host
}

// Port is the bound UDP port, 0 before Listen.
func (s *SipStack) Port() int {
	if s.conn == nil {
		return 0
	}
	return s.conn.LocalAddr().(*net.UDPAddr).Port
}

// Packets delivers parsed inbound messages. It is closed on Shutdown.
func (s *SipStack) Packets() <-chan Packet {
	return s.packets
}

// Send serializes msg and writes it to dest.
func (s *SipStack) Send(msg *message.Message, dest *net.UDPAddr) error {
	if s.inShutdown.IsSet() || s.conn == nil {
		return ErrClosed
	}
	if dest == nil {
		return fmt.Errorf("send %s: no destination", msg.Short())
	}
	data := msg.Bytes()
	if len(data) > s.maxSize {
		return fmt.Errorf("send %s: %d bytes: %w", msg.Short(), len(data), ErrTooLarge)
	}
	s.log.Debugf("send to %v => \n%v", dest, msg)
	if _, err := s.conn.WriteToUDP(data, dest); err != nil {
		return fmt.Errorf("send %s: %w", msg.Short(), err)
	}
	return nil
}

func (s *SipStack) serve() {
	defer s.hwg.Done()
	defer close(s.packets)

	// one spare byte tells an oversize datagram from one that fits exactly
	buf := make([]byte, s.maxSize+1)
	for {
		n, raddr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if s.inShutdown.IsSet() {
				return
			}
			s.log.Errorf("read failed: %v", err)
			return
		}
		if n > s.maxSize {
			s.log.Warnf("drop datagram from %v: larger than %d bytes", raddr, s.maxSize)
			metrics.SIPDropped.WithLabelValues("oversize").Inc()
			continue
		}
		s.handleDatagram(buf[:n], raddr)
	}
}

func (s *SipStack) handleDatagram(data []byte, raddr *net.UDPAddr) {
	if len(bytes.TrimSpace(data)) == 0 {
		// keep-alive
		return
	}
	msg, err := message.Parse(data)
	if err != nil {
		s.log.Warnf("drop datagram from %v: %v", raddr, err)
		metrics.SIPDropped.WithLabelValues("malformed").Inc()
		return
	}
	s.log.Debugf("received from %v => \n%v", raddr, msg)
	select {
	case s.packets <- Packet{Message: msg, Source: raddr}:
	default:
		s.log.Warnf("drop %s: signaling queue full", msg.Short())
		metrics.SIPDropped.WithLabelValues("overflow").Inc()
	}
}

// Shutdown closes the socket and waits for the reader to exit.
func (s *SipStack) Shutdown() {
	if !s.inShutdown.SetToIf(false, true) {
		return
	}
	if s.conn != nil {
		s.conn.Close()
		s.hwg.Wait()
	} else {
		close(s.packets)
	}
}
