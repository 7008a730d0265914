// Package config loads the phone configuration from a YAML file with
// SIPPTT_ environment overrides (e.g. SIPPTT_ACCOUNT_PASSWORD).
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/cloudwebrtc/go-sip-ptt/pkg/account"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/jitterbuffer"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/ptt"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/stack"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/transaction"
	"github.com/cloudwebrtc/go-sip-ptt/pkg/utils"
	"github.com/ghettovoice/gosip/sip/parser"
	"github.com/spf13/viper"
)

const EnvPrefix = "SIPPTT"

var ErrInvalid = errors.New("invalid configuration")

type AccountConfig struct {
	User        string `mapstructure:"user"`
	DisplayName string `mapstructure:"display_name"`
	Domain      string `mapstructure:"domain"`
	// AuthName defaults to User.
	AuthName string `mapstructure:"auth_name"`
	Realm    string `mapstructure:"realm"`
	Password string `mapstructure:"password"`
	Expires  uint32 `mapstructure:"expires"`
}

type SIPConfig struct {
	// Host is advertised in Via and Contact; empty resolves the local IP.
	Host        string             `mapstructure:"host"`
	Listen      string             `mapstructure:"listen"`
	MaxDatagram int                `mapstructure:"max_datagram"`
	UserAgent   string             `mapstructure:"user_agent"`
	RingTimeout time.Duration      `mapstructure:"ring_timeout"`
	RetryMin    time.Duration      `mapstructure:"retry_min"`
	RetryMax    time.Duration      `mapstructure:"retry_max"`
	Tick        time.Duration      `mapstructure:"tick"`
	Timers      transaction.Config `mapstructure:"timers"`
}

type MediaConfig struct {
	// IP is advertised in SDP and bound for RTP; empty uses the SIP host.
	IP      string     `mapstructure:"ip"`
	PortMin int        `mapstructure:"port_min"`
	PortMax int        `mapstructure:"port_max"`
	PTT     ptt.Config `mapstructure:"ptt"`
}

type LogConfig struct {
	Level string        `mapstructure:"level"`
	File  utils.LogFile `mapstructure:"file"`
}

type MetricsConfig struct {
	// Listen is the HTTP address serving /metrics; empty disables it.
	Listen string `mapstructure:"listen"`
}

type Config struct {
	Account   AccountConfig         `mapstructure:"account"`
	Registrar string                `mapstructure:"registrar"`
	Proxies   account.ProxiesConfig `mapstructure:"proxies"`
	// Dial is called when the button is pressed while idle.
	Dial    string        `mapstructure:"dial"`
	SIP     SIPConfig     `mapstructure:"sip"`
	Media   MediaConfig   `mapstructure:"media"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
}

// Load reads path (may be empty for defaults and environment only),
// applies overrides and validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("account.user", "")
	v.SetDefault("account.display_name", "")
	v.SetDefault("account.domain", "")
	v.SetDefault("account.auth_name", "")
	v.SetDefault("account.realm", "")
	v.SetDefault("account.password", "")
	v.SetDefault("account.expires", 3600)
	v.SetDefault("registrar", "")
	v.SetDefault("proxies.outbound_proxy", "")
	v.SetDefault("proxies.force_loose_route", false)
	v.SetDefault("dial", "")

	timers := transaction.DefaultConfig()
	v.SetDefault("sip.host", "")
	v.SetDefault("sip.listen", fmt.Sprintf("0.0.0.0:%d", account.DefaultPort))
	v.SetDefault("sip.max_datagram", stack.DefaultMaxDatagram)
	v.SetDefault("sip.user_agent", stack.DefaultUserAgent)
	v.SetDefault("sip.ring_timeout", "60s")
	v.SetDefault("sip.retry_min", "5s")
	v.SetDefault("sip.retry_max", "5m")
	v.SetDefault("sip.tick", "50ms")
	v.SetDefault("sip.timers.t1", timers.T1)
	v.SetDefault("sip.timers.t2", timers.T2)
	v.SetDefault("sip.timers.t4", timers.T4)
	v.SetDefault("sip.timers.invite_retransmits", timers.InviteRetransmits)
	v.SetDefault("sip.timers.non_invite_retransmits", timers.NonInviteRetransmits)
	v.SetDefault("sip.timers.proceeding_timeout", timers.ProceedingTimeout)

	p := ptt.DefaultConfig()
	v.SetDefault("media.ip", "")
	v.SetDefault("media.port_min", 30000)
	v.SetDefault("media.port_max", 30100)
	v.SetDefault("media.ptt.interval", p.Interval)
	v.SetDefault("media.ptt.talk_playback", string(p.TalkPlayback))
	v.SetDefault("media.ptt.duck_shift", p.DuckShift)
	v.SetDefault("media.ptt.agc_enabled", p.AGCEnabled)
	v.SetDefault("media.ptt.rtcp_interval", p.RTCPInterval)
	v.SetDefault("media.ptt.agc.target_rms", p.AGC.TargetRMS)
	v.SetDefault("media.ptt.agc.noise_gate_rms", p.AGC.NoiseGateRMS)
	v.SetDefault("media.ptt.agc.start_gain", p.AGC.StartGain)
	v.SetDefault("media.ptt.agc.min_gain", p.AGC.MinGain)
	v.SetDefault("media.ptt.agc.max_gain", p.AGC.MaxGain)
	v.SetDefault("media.ptt.agc.attack", p.AGC.Attack)
	v.SetDefault("media.ptt.agc.release", p.AGC.Release)
	v.SetDefault("media.ptt.agc.limiter", p.AGC.Limiter)
	v.SetDefault("media.ptt.jitter.latency", p.Jitter.Latency)
	v.SetDefault("media.ptt.jitter.window", p.Jitter.Window)
	v.SetDefault("media.ptt.jitter.prefill", p.Jitter.Prefill)
	v.SetDefault("media.ptt.jitter.policy", string(p.Jitter.Policy))

	v.SetDefault("log.level", "info")
	v.SetDefault("log.file.path", "")
	v.SetDefault("log.file.max_size_mb", 10)
	v.SetDefault("log.file.max_backups", 3)
	v.SetDefault("log.file.max_age_days", 7)
	v.SetDefault("metrics.listen", "")
}

// Validate checks the fields the phone cannot start without.
func (c *Config) Validate() error {
	if c.Account.User == "" || c.Account.Domain == "" {
		return fmt.Errorf("%w: account.user and account.domain are required", ErrInvalid)
	}
	if _, err := parser.ParseSipUri(fmt.Sprintf("sip:%s@%s", c.Account.User, c.Account.Domain)); err != nil {
		return fmt.Errorf("%w: account: %v", ErrInvalid, err)
	}
	for key, uri := range map[string]string{
		"registrar":              c.Registrar,
		"proxies.outbound_proxy": c.Proxies.OutboundProxy,
	} {
		if uri == "" {
			continue
		}
		if _, err := parser.ParseSipUri(uri); err != nil {
			return fmt.Errorf("%w: %s %q: %v", ErrInvalid, key, uri, err)
		}
	}
	if _, _, err := net.SplitHostPort(c.SIP.Listen); err != nil {
		return fmt.Errorf("%w: sip.listen %q: %v", ErrInvalid, c.SIP.Listen, err)
	}
	if c.SIP.MaxDatagram < 512 || c.SIP.MaxDatagram > 65507 {
		return fmt.Errorf("%w: sip.max_datagram %d outside 512..65507", ErrInvalid, c.SIP.MaxDatagram)
	}
	if c.Media.PortMin <= 0 || c.Media.PortMax < c.Media.PortMin || c.Media.PortMax > 65535 {
		return fmt.Errorf("%w: media port range %d-%d", ErrInvalid, c.Media.PortMin, c.Media.PortMax)
	}
	if err := c.Media.PTT.ValidateInterval(); err != nil {
		return fmt.Errorf("%w: media.ptt.interval: %v", ErrInvalid, err)
	}
	if c.Media.PTT.Jitter.Latency < c.Media.PTT.Interval {
		return fmt.Errorf("%w: media.ptt.jitter.latency %v is shorter than one interval", ErrInvalid, c.Media.PTT.Jitter.Latency)
	}
	switch c.Media.PTT.TalkPlayback {
	case ptt.Mute, ptt.Duck:
	default:
		return fmt.Errorf("%w: media.ptt.talk_playback %q", ErrInvalid, c.Media.PTT.TalkPlayback)
	}
	switch c.Media.PTT.Jitter.Policy {
	case jitterbuffer.Silence, jitterbuffer.Repeat:
	default:
		return fmt.Errorf("%w: media.ptt.jitter.policy %q", ErrInvalid, c.Media.PTT.Jitter.Policy)
	}
	if _, err := utils.ParseLogLevel(c.Log.Level); err != nil {
		return fmt.Errorf("%w: log.level: %v", ErrInvalid, err)
	}
	return nil
}

// Profile builds the account identity.
func (c *Config) Profile() (*account.Profile, error) {
	var creds *account.AuthInfo
	if c.Account.Password != "" {
		name := c.Account.AuthName
		if name == "" {
			name = c.Account.User
		}
		creds = &account.AuthInfo{AuthName: name, Realm: c.Account.Realm, Password: c.Account.Password}
	}
	return account.NewProfile(c.Account.User, c.Account.DisplayName, c.Account.Domain, creds, c.Account.Expires)
}
