package dispatch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfig(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()

	assert.Equal(t, 5, cfg.Queue.MaxConcurrent)
	assert.Equal(t, 50, cfg.Queue.MaxQueueSize)
	assert.Equal(t, 300*time.Second, cfg.Queue.DefaultTimeout)
	assert.Equal(t, 5, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 2, cfg.Breaker.SuccessThreshold)
	assert.Equal(t, 60*time.Second, cfg.Breaker.OpenTimeout)
	assert.Equal(t, 3, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2, cfg.InteractiveRetry.MaxAttempts)
	assert.Equal(t, 120*time.Second, cfg.RequestTimeout)
}

func TestConfigFromEnv_Overrides(t *testing.T) {
	t.Setenv(EnvMaxConcurrent, "8")
	t.Setenv(EnvMaxQueueSize, "100")
	t.Setenv(EnvDefaultTimeout, "90s")
	t.Setenv(EnvBreakerFailureThreshold, "3")
	t.Setenv(EnvBreakerOpenTimeout, "30s")
	t.Setenv(EnvRetryMaxAttempts, "5")
	t.Setenv(EnvHealthInterval, "2m")
	t.Setenv(EnvWarmupPassRate, "0.9")

	cfg := ConfigFromEnv()

	assert.Equal(t, 8, cfg.Queue.MaxConcurrent)
	assert.Equal(t, 100, cfg.Queue.MaxQueueSize)
	assert.Equal(t, 90*time.Second, cfg.Queue.DefaultTimeout)
	assert.Equal(t, 3, cfg.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, cfg.Breaker.OpenTimeout)
	assert.Equal(t, 5, cfg.Retry.MaxAttempts)
	assert.Equal(t, 2*time.Minute, cfg.Health.Interval)
	assert.InDelta(t, 0.9, cfg.Health.WarmupPassRate, 1e-9)
}

func TestConfigFromEnv_InvalidValuesKeepDefaults(t *testing.T) {
	t.Setenv(EnvMaxConcurrent, "not-a-number")
	t.Setenv(EnvMaxQueueSize, "-5")
	t.Setenv(EnvBreakerOpenTimeout, "soon")
	t.Setenv(EnvWarmupPassRate, "1.5")

	cfg := ConfigFromEnv()
	defaults := DefaultConfig()

	assert.Equal(t, defaults.Queue.MaxConcurrent, cfg.Queue.MaxConcurrent)
	assert.Equal(t, defaults.Queue.MaxQueueSize, cfg.Queue.MaxQueueSize)
	assert.Equal(t, defaults.Breaker.OpenTimeout, cfg.Breaker.OpenTimeout)
	assert.InDelta(t, defaults.Health.WarmupPassRate, cfg.Health.WarmupPassRate, 1e-9)
}

func TestConfigFromEnv_UnsetKeepsDefaults(t *testing.T) {
	t.Setenv(EnvMaxConcurrent, "")

	cfg := ConfigFromEnv()
	assert.Equal(t, DefaultConfig().Queue.MaxConcurrent, cfg.Queue.MaxConcurrent)
}
