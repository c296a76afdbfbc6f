package transcribe

import "time"

// Default reconnection parameters.
const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 2 * time.Second
)

// ReconnectPolicy controls automatic reconnection after an abnormal close.
// The n-th attempt (1-based) waits BaseDelay × 2^(n-1).
type ReconnectPolicy struct {
	// MaxAttempts is the number of consecutive reconnects tried before giving
	// up. Zero means the default of 5; a negative value disables reconnects.
	MaxAttempts int

	// BaseDelay is the delay before the first attempt. Defaults to 2s.
	BaseDelay time.Duration

	// MaxDelay caps the delay. Zero leaves it uncapped.
	MaxDelay time.Duration
}

// DefaultReconnectPolicy returns the policy used when none is configured.
func DefaultReconnectPolicy() ReconnectPolicy {
	return ReconnectPolicy{MaxAttempts: DefaultMaxAttempts, BaseDelay: DefaultBaseDelay}
}

func (p ReconnectPolicy) withDefaults() ReconnectPolicy {
	if p.MaxAttempts == 0 {
		p.MaxAttempts = DefaultMaxAttempts
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = DefaultBaseDelay
	}
	return p
}

// Allow reports whether another attempt may be scheduled after attempts
// consecutive failures.
func (p ReconnectPolicy) Allow(attempts int) bool {
	return p.MaxAttempts > 0 && attempts < p.MaxAttempts
}

// Delay returns the wait before the given 1-based attempt.
func (p ReconnectPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d *= 2
		if p.MaxDelay > 0 && d >= p.MaxDelay {
			return p.MaxDelay
		}
		if d <= 0 {
			// Overflow; only reachable with an uncapped policy and absurd attempts.
			return time.Duration(1<<63 - 1)
		}
	}
	if p.MaxDelay > 0 && d > p.MaxDelay {
		return p.MaxDelay
	}
	return d
}
