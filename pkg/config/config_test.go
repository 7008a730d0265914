package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cloudwebrtc/go-sip-ptt/pkg/jitterbuffer"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/ptt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "phone.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadWithDefaults(t *testing.T) {
	path := write(t, `
account:
  user: "100"
  display_name: Gate
  domain: pbx.example.com
  password: secret
registrar: sip:pbx.example.com
dial: "200"
media:
  port_min: 40000
  port_max: 40010
  ptt:
    talk_playback: duck
    jitter:
      policy: repeat
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "100", cfg.Account.User)
	assert.Equal(t, uint32(3600), cfg.Account.Expires)
	assert.Equal(t, "sip:pbx.example.com", cfg.Registrar)
	assert.Equal(t, "0.0.0.0:5060", cfg.SIP.Listen)
	assert.Equal(t, 4096, cfg.SIP.MaxDatagram)
	assert.Equal(t, 60*time.Second, cfg.SIP.RingTimeout)
	assert.Equal(t, 5*time.Minute, cfg.SIP.RetryMax)
	assert.Equal(t, 500*time.Millisecond, cfg.SIP.Timers.T1)
	assert.Equal(t, 6, cfg.SIP.Timers.InviteRetransmits)
	assert.Equal(t, 40000, cfg.Media.PortMin)
	assert.Equal(t, 20*time.Millisecond, cfg.Media.PTT.Interval)
	assert.Equal(t, ptt.Duck, cfg.Media.PTT.TalkPlayback)
	assert.Equal(t, jitterbuffer.Repeat, cfg.Media.PTT.Jitter.Policy)
	assert.Equal(t, 200*time.Millisecond, cfg.Media.PTT.Jitter.Latency)
	assert.Equal(t, 10, cfg.Media.PTT.JitterConfig().Capacity)
	assert.Equal(t, "info", cfg.Log.Level)

	profile, err := cfg.Profile()
	require.NoError(t, err)
	assert.Equal(t, "sip:100@pbx.example.com", profile.AOR())
	require.NotNil(t, profile.Auth)
	assert.Equal(t, "100", profile.Auth.AuthName)
}

func TestEnvironmentOverrides(t *testing.T) {
	path := write(t, `
account:
  user: "100"
  domain: pbx.example.com
`)
	t.Setenv("SIPPTT_ACCOUNT_PASSWORD", "from-env")
	t.Setenv("SIPPTT_SIP_RING_TIMEOUT", "15s")
	t.Setenv("SIPPTT_LOG_LEVEL", "debug")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "from-env", cfg.Account.Password)
	assert.Equal(t, 15*time.Second, cfg.SIP.RingTimeout)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestValidation(t *testing.T) {
	cases := map[string]string{
		"missing account": `
registrar: sip:pbx.example.com
`,
		"bad registrar": `
account: {user: "100", domain: pbx.example.com}
registrar: "pbx example"
`,
		"bad port range": `
account: {user: "100", domain: pbx.example.com}
media: {port_min: 5000, port_max: 4000}
`,
		"bad playback": `
account: {user: "100", domain: pbx.example.com}
media: {ptt: {talk_playback: loud}}
`,
		"tiny datagrams": `
account: {user: "100", domain: pbx.example.com}
sip: {max_datagram: 100}
`,
		"fractional interval": `
account: {user: "100", domain: pbx.example.com}
media: {ptt: {interval: 20100us}}
`,
		"latency below interval": `
account: {user: "100", domain: pbx.example.com}
media: {ptt: {interval: 40ms, jitter: {latency: 20ms}}}
`,
		"bad log level": `
account: {user: "100", domain: pbx.example.com}
log: {level: chatty}
`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(write(t, body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInvalid), err.Error())
		})
	}
}

func TestLatencyAndInterval(t *testing.T) {
	path := write(t, `
account:
  user: "100"
  domain: pbx.example.com
media:
  ptt:
    interval: 30ms
    jitter:
      latency: 150ms
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 30*time.Millisecond, cfg.Media.PTT.Interval)
	assert.Equal(t, 240, cfg.Media.PTT.FrameSamples())
	jc := cfg.Media.PTT.JitterConfig()
	assert.Equal(t, 5, jc.Capacity)
	assert.Equal(t, 240, jc.FrameSamples)
}

func TestMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
