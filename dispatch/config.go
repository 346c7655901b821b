package dispatch

import (
	"os"
	"strconv"
	"time"

	"github.com/knowledgeos/lib-dispatch/dispatch/admission"
	"github.com/knowledgeos/lib-dispatch/dispatch/balancer"
	"github.com/knowledgeos/lib-dispatch/dispatch/circuitbreaker"
	"github.com/knowledgeos/lib-dispatch/dispatch/health"
	"github.com/knowledgeos/lib-dispatch/dispatch/retry"
)

// Environment variables read by ConfigFromEnv. Every one has a default; an
// unset or unparsable value keeps the default.
const (
	EnvMaxConcurrent           = "DISPATCH_MAX_CONCURRENT"
	EnvMaxQueueSize            = "DISPATCH_MAX_QUEUE_SIZE"
	EnvDefaultTimeout          = "DISPATCH_DEFAULT_TIMEOUT"
	EnvRequestTimeout          = "DISPATCH_REQUEST_TIMEOUT"
	EnvBreakerFailureThreshold = "DISPATCH_BREAKER_FAILURE_THRESHOLD"
	EnvBreakerSuccessThreshold = "DISPATCH_BREAKER_SUCCESS_THRESHOLD"
	EnvBreakerOpenTimeout      = "DISPATCH_BREAKER_OPEN_TIMEOUT"
	EnvRetryMaxAttempts        = "DISPATCH_RETRY_MAX_ATTEMPTS"
	EnvRetryInitialDelay       = "DISPATCH_RETRY_INITIAL_DELAY"
	EnvRetryMaxDelay           = "DISPATCH_RETRY_MAX_DELAY"
	EnvHealthInterval          = "DISPATCH_HEALTH_INTERVAL"
	EnvWarmupPassRate          = "DISPATCH_WARMUP_PASS_RATE"
)

// Config aggregates every component's configuration. Zero fields fall back
// to component defaults at construction.
type Config struct {
	Queue   admission.Config
	Breaker circuitbreaker.Config
	Health  health.Config
	Weights balancer.Weights

	// Retry applies to medium/low priority jobs; InteractiveRetry to
	// high priority where failing fast beats a long backoff.
	Retry            retry.Policy
	InteractiveRetry retry.Policy

	// RequestTimeout bounds a single backend HTTP round trip.
	RequestTimeout time.Duration
}

// DefaultConfig returns the production defaults of every component.
func DefaultConfig() Config {
	return Config{
		Queue:            admission.DefaultConfig(),
		Breaker:          circuitbreaker.DefaultConfig(),
		Health:           health.DefaultConfig(),
		Weights:          balancer.DefaultWeights(),
		Retry:            retry.DefaultPolicy(),
		InteractiveRetry: retry.LatencySensitivePolicy(),
		RequestTimeout:   120 * time.Second,
	}
}

// ConfigFromEnv builds a Config from the documented environment variables,
// starting from DefaultConfig.
func ConfigFromEnv() Config {
	cfg := DefaultConfig()

	cfg.Queue.MaxConcurrent = envInt(EnvMaxConcurrent, cfg.Queue.MaxConcurrent)
	cfg.Queue.MaxQueueSize = envInt(EnvMaxQueueSize, cfg.Queue.MaxQueueSize)
	cfg.Queue.DefaultTimeout = envDuration(EnvDefaultTimeout, cfg.Queue.DefaultTimeout)
	cfg.RequestTimeout = envDuration(EnvRequestTimeout, cfg.RequestTimeout)

	cfg.Breaker.FailureThreshold = envInt(EnvBreakerFailureThreshold, cfg.Breaker.FailureThreshold)
	cfg.Breaker.SuccessThreshold = envInt(EnvBreakerSuccessThreshold, cfg.Breaker.SuccessThreshold)
	cfg.Breaker.OpenTimeout = envDuration(EnvBreakerOpenTimeout, cfg.Breaker.OpenTimeout)

	cfg.Retry.MaxAttempts = envInt(EnvRetryMaxAttempts, cfg.Retry.MaxAttempts)
	cfg.Retry.InitialDelay = envDuration(EnvRetryInitialDelay, cfg.Retry.InitialDelay)
	cfg.Retry.MaxDelay = envDuration(EnvRetryMaxDelay, cfg.Retry.MaxDelay)

	cfg.Health.Interval = envDuration(EnvHealthInterval, cfg.Health.Interval)
	cfg.Health.WarmupPassRate = envFloat(EnvWarmupPassRate, cfg.Health.WarmupPassRate)

	return cfg
}

func envInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}

	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}

	return value
}

func envFloat(key string, fallback float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil || value <= 0 || value > 1 {
		return fallback
	}

	return value
}

func envDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}

	value, err := time.ParseDuration(raw)
	if err != nil || value <= 0 {
		return fallback
	}

	return value
}
