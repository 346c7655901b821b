package retry

import "time"

// Policy is an immutable retry configuration, shared read-only across calls.
type Policy struct {
	// MaxAttempts bounds total attempts, the first call included.
	MaxAttempts int

	// InitialDelay is the wait before the first retry.
	InitialDelay time.Duration

	// MaxDelay caps the exponential growth.
	MaxDelay time.Duration

	// Multiplier grows the delay between consecutive retries.
	Multiplier float64

	// JitterFraction adds up to this fraction of the delay as random
	// jitter, spreading synchronized retries across concurrent callers.
	JitterFraction float64

	// Retryable classifies an error as transient (retry) or fatal (abort).
	// A nil predicate treats every error as fatal.
	Retryable func(error) bool
}

// DefaultPolicy suits general background work against inference backends.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:    3,
		InitialDelay:   2 * time.Second,
		MaxDelay:       300 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.2,
	}
}

// LatencySensitivePolicy suits interactive chat paths where a second slow
// retry is worse than failing fast.
func LatencySensitivePolicy() Policy {
	return Policy{
		MaxAttempts:    2,
		InitialDelay:   1 * time.Second,
		MaxDelay:       10 * time.Second,
		Multiplier:     2.0,
		JitterFraction: 0.2,
	}
}

func (p Policy) withDefaults() Policy {
	d := DefaultPolicy()

	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}

	if p.InitialDelay <= 0 {
		p.InitialDelay = d.InitialDelay
	}

	if p.MaxDelay <= 0 {
		p.MaxDelay = d.MaxDelay
	}

	if p.Multiplier < 1 {
		p.Multiplier = d.Multiplier
	}

	if p.JitterFraction < 0 {
		p.JitterFraction = 0
	}

	return p
}
