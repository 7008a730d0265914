package account

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileAddressing(t *testing.T) {
	p, err := NewProfile("100", "Desk", "10.0.0.1", &AuthInfo{AuthName: "100", Password: "secret"}, 3600)
	require.NoError(t, err)

	assert.Equal(t, "sip:100@10.0.0.1", p.AOR())
	assert.Equal(t, `"Desk" <sip:100@10.0.0.1>;tag=abc`, p.Address("abc"))
	assert.Contains(t, p.Contact("192.168.1.5", 5062), "<sip:100@192.168.1.5:5062>;+sip.instance=\"<urn:uuid:")

	target, err := p.Target("200")
	require.NoError(t, err)
	assert.Equal(t, "sip:200@10.0.0.1", target)

	target, err = p.Target("sip:300@10.0.0.9:5070")
	require.NoError(t, err)
	assert.Equal(t, "sip:300@10.0.0.9:5070", target)

	_, err = p.Target("  ")
	assert.Error(t, err)
}

func TestResolve(t *testing.T) {
	addr, err := Resolve("sip:200@127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:5060", addr.String())

	addr, err = Resolve("sip:200@127.0.0.1:5070;transport=udp")
	require.NoError(t, err)
	assert.Equal(t, 5070, addr.Port)
}

func TestProxies(t *testing.T) {
	c := ProxiesConfig{}
	_, ok := c.Route()
	assert.False(t, ok)
	addr, err := c.Destination("sip:200@127.0.0.1:5080")
	require.NoError(t, err)
	assert.Equal(t, 5080, addr.Port)

	c = ProxiesConfig{OutboundProxy: "sip:127.0.0.1:5090", ForceLooseRoute: true}
	route, ok := c.Route()
	assert.True(t, ok)
	assert.Equal(t, "<sip:127.0.0.1:5090;lr>", route)
	addr, err = c.Destination("sip:200@127.0.0.1:5080")
	require.NoError(t, err)
	assert.Equal(t, 5090, addr.Port)
}
