package transaction

import "time"

// Config holds the RFC 3261 timer values and retry caps.
type Config struct {
	T1 time.Duration `mapstructure:"t1"`
	T2 time.Duration `mapstructure:"t2"`
	T4 time.Duration `mapstructure:"t4"`
	// InviteRetransmits and NonInviteRetransmits cap the number of resends
	// before the transaction times out.
	InviteRetransmits    int `mapstructure:"invite_retransmits"`
	NonInviteRetransmits int `mapstructure:"non_invite_retransmits"`
	// ProceedingTimeout bounds how long a client INVITE waits for a final
	// response after a provisional one.
	ProceedingTimeout time.Duration `mapstructure:"proceeding_timeout"`
}

func DefaultConfig() Config {
	return Config{
		T1:                   500 * time.Millisecond,
		T2:                   4 * time.Second,
		T4:                   5 * time.Second,
		InviteRetransmits:    6,
		NonInviteRetransmits: 10,
		ProceedingTimeout:    3 * time.Minute,
	}
}

// TimerB is the absolute client timeout, 64*T1 (also Timers F, H and J).
func (c Config) TimerB() time.Duration {
	return 64 * c.T1
}
