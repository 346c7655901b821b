package circuitbreaker

import "time"

// Config holds breaker thresholds and the open-state cooldown.
type Config struct {
	// FailureThreshold is the run of consecutive failures in CLOSED that
	// trips the breaker open.
	FailureThreshold int

	// SuccessThreshold is the run of consecutive HALF_OPEN trial successes
	// required to close the breaker again.
	SuccessThreshold int

	// OpenTimeout is how long the breaker stays OPEN before allowing a
	// trial call.
	OpenTimeout time.Duration
}

// DefaultConfig provides balanced settings for inference backends.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 2,
		OpenTimeout:      60 * time.Second,
	}
}

// AggressiveConfig trips faster and retries recovery sooner. Suitable for
// fast models where a broken backend is cheap to re-probe.
func AggressiveConfig() Config {
	return Config{
		FailureThreshold: 3,
		SuccessThreshold: 2,
		OpenTimeout:      30 * time.Second,
	}
}

// ConservativeConfig tolerates more failures before tripping. Suitable for
// large models with long, occasionally flaky generations.
func ConservativeConfig() Config {
	return Config{
		FailureThreshold: 8,
		SuccessThreshold: 3,
		OpenTimeout:      120 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()

	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}

	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}

	if c.OpenTimeout <= 0 {
		c.OpenTimeout = d.OpenTimeout
	}

	return c
}
