package utils

import (
	"errors"
	"math/rand"
	"net"
	"strconv"

	"github.com/ghettovoice/gosip/util"
)

var (
	ErrPort = errors.New("invalid port")
)

// LocalIP returns configured when set, otherwise the first non-loopback
// address of the host.
func LocalIP(configured string) (string, error) {
	if configured != "" {
		return configured, nil
	}
	ip, err := util.ResolveSelfIP()
	if err != nil {
		return "", err
	}
	return ip.String(), nil
}

// HostPort joins host and port for the UDP resolver.
func HostPort(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

func ListenUDPInPortRange(portMin, portMax int, laddr *net.UDPAddr) (*net.UDPConn, error) {
	if (laddr.Port != 0) || ((portMin == 0) && (portMax == 0)) {
		return net.ListenUDP("udp", laddr)
	}
	var i, j int
	i = portMin
	if i == 0 {
		i = 1
	}
	j = portMax
	if j == 0 {
		j = 0xFFFF
	}
	if i > j {
		return nil, ErrPort
	}
	portStart := rand.Intn(j-i+1) + i
	portCurrent := portStart
	for {
		*laddr = net.UDPAddr{IP: laddr.IP, Port: portCurrent}
		c, e := net.ListenUDP("udp", laddr)
		if e == nil {
			return c, e
		}
		portCurrent++
		if portCurrent > j {
			portCurrent = i
		}
		if portCurrent == portStart {
			break
		}
	}
	return nil, ErrPort
}
