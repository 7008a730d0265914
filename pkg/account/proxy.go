package account

import (
	"fmt"
	"net"
	"strings"
)

type ProxiesConfig struct {
	/*
	* URI of the outbound proxy that receives every outgoing request.
	* Empty means requests go straight to the registrar or call target.
	 */
	OutboundProxy string `mapstructure:"outbound_proxy"`
	/* Force loose-route: a Route header with ";lr" is added to every
	 * out-of-dialog request.
	 */
	ForceLooseRoute bool `mapstructure:"force_loose_route"`
}

// Route returns the Route header value for out-of-dialog requests.
func (c ProxiesConfig) Route() (string, bool) {
	if c.OutboundProxy == "" || !c.ForceLooseRoute {
		return "", false
	}
	uri := c.OutboundProxy
	if !strings.Contains(uri, ";lr") {
		uri += ";lr"
	}
	return "<" + uri + ">", true
}

// Destination picks where a request for uri goes: the outbound proxy when
// set, uri itself otherwise.
func (c ProxiesConfig) Destination(uri string) (*net.UDPAddr, error) {
	if c.OutboundProxy != "" {
		addr, err := Resolve(c.OutboundProxy)
		if err != nil {
			return nil, fmt.Errorf("outbound proxy: %w", err)
		}
		return addr, nil
	}
	return Resolve(uri)
}
