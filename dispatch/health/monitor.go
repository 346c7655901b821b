package health

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/knowledgeos/lib-dispatch/dispatch/backend"
)

// Status is the probe verdict for one backend.
type Status int

const (
	// StatusUnknown means the backend has not been probed yet. Unknown
	// backends stay eligible for traffic.
	StatusUnknown Status = iota
	StatusHealthy
	StatusDegraded
	StatusUnhealthy
)

// String returns the lowercase status name.
func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusDegraded:
		return "degraded"
	case StatusUnhealthy:
		return "unhealthy"
	default:
		return "unknown"
	}
}

// Config holds probe and warmup settings.
type Config struct {
	// Interval between full probe rounds.
	Interval time.Duration

	// ProbeTimeout bounds a single probe round trip.
	ProbeTimeout time.Duration

	// ProbeModel and ProbePrompt form the probe request body.
	ProbeModel  string
	ProbePrompt string

	// WarmupQueries are trivial prompts sent sequentially after a backend
	// comes back from unhealthy.
	WarmupQueries []string

	// WarmupPassRate is the fraction of warmup queries that must return a
	// non-empty response before the backend rejoins the candidate set.
	WarmupPassRate float64

	// WarmupPause separates consecutive warmup requests.
	WarmupPause time.Duration
}

// DefaultConfig mirrors the production probe cadence: a five-minute round
// with a short per-probe deadline.
func DefaultConfig() Config {
	return Config{
		Interval:       300 * time.Second,
		ProbeTimeout:   15 * time.Second,
		ProbePrompt:    "Hello",
		WarmupQueries:  []string{"Hello", "What is 2+2?", "Write a simple function"},
		WarmupPassRate: 0.7,
		WarmupPause:    500 * time.Millisecond,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()

	if c.Interval <= 0 {
		c.Interval = d.Interval
	}

	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = d.ProbeTimeout
	}

	if c.ProbePrompt == "" {
		c.ProbePrompt = d.ProbePrompt
	}

	if len(c.WarmupQueries) == 0 {
		c.WarmupQueries = d.WarmupQueries
	}

	if c.WarmupPassRate <= 0 || c.WarmupPassRate > 1 {
		c.WarmupPassRate = d.WarmupPassRate
	}

	if c.WarmupPause < 0 {
		c.WarmupPause = d.WarmupPause
	}

	return c
}

// Caller performs one backend round trip. *backend.Client satisfies it.
type Caller interface {
	Do(ctx context.Context, d backend.Descriptor, req backend.Request) (*backend.Result, error)
}

// BackendHealth is the monitor's view of one backend, for observability.
type BackendHealth struct {
	Status      Status
	LastChecked time.Time
	Restarts    int
}

type backendState struct {
	descriptor  backend.Descriptor
	status      Status
	lastChecked time.Time
	restarts    int
}

// Monitor probes a fixed set of backends on an interval and drives warmup
// for the ones that went unhealthy.
type Monitor struct {
	caller Caller
	cfg    Config
	logger *zap.Logger

	mu     sync.RWMutex
	states map[string]*backendState

	stopChan       chan struct{}
	immediateCheck chan string
	wg             sync.WaitGroup
}

// NewMonitor creates a monitor for the given backends. Probing starts with
// Start; until the first probe every backend is eligible.
func NewMonitor(caller Caller, backends []backend.Descriptor, cfg Config, logger *zap.Logger) *Monitor {
	if logger == nil {
		logger = zap.NewNop()
	}

	states := make(map[string]*backendState, len(backends))
	for _, d := range backends {
		states[d.RoutingKey] = &backendState{descriptor: d, status: StatusUnknown}
	}

	return &Monitor{
		caller:         caller,
		cfg:            cfg.withDefaults(),
		logger:         logger,
		states:         states,
		stopChan:       make(chan struct{}),
		immediateCheck: make(chan string, 10),
	}
}

// Start begins the monitor loop in its own goroutine.
func (m *Monitor) Start() {
	m.wg.Add(1)

	go m.loop()

	m.logger.Info("health monitor started", zap.Duration("interval", m.cfg.Interval))
}

// Stop halts the monitor loop and waits for it to exit.
func (m *Monitor) Stop() {
	close(m.stopChan)
	m.wg.Wait()
	m.logger.Info("health monitor stopped")
}

// Eligible reports whether a backend may receive traffic: everything except
// unhealthy. Unknown backends have not been probed and remain eligible.
func (m *Monitor) Eligible(routingKey string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.states[routingKey]
	if !ok {
		return false
	}

	return st.status != StatusUnhealthy
}

// CheckNow schedules an immediate re-probe of one backend, ahead of the
// interval. Non-blocking; a full scheduling channel falls back to the next
// interval round.
func (m *Monitor) CheckNow(routingKey string) {
	select {
	case m.immediateCheck <- routingKey:
	default:
		m.logger.Warn("immediate health check channel full",
			zap.String("backend", routingKey))
	}
}

// Snapshot returns the monitor's current per-backend view.
func (m *Monitor) Snapshot() map[string]BackendHealth {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]BackendHealth, len(m.states))
	for key, st := range m.states {
		out[key] = BackendHealth{
			Status:      st.status,
			LastChecked: st.lastChecked,
			Restarts:    st.restarts,
		}
	}

	return out
}

// Probe issues one lightweight generate request and classifies the outcome.
func (m *Monitor) Probe(ctx context.Context, d backend.Descriptor) Status {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
	defer cancel()

	_, err := m.caller.Do(probeCtx, d, backend.HealthProbe{
		Model:  m.cfg.ProbeModel,
		Prompt: m.cfg.ProbePrompt,
	})
	if err == nil {
		return StatusHealthy
	}

	if errors.Is(err, backend.ErrEmptyResponse) {
		return StatusDegraded
	}

	return StatusUnhealthy
}

// Warmup sends the configured batch of trivial prompts sequentially with a
// short pause between them. It succeeds when the configured fraction return
// a non-empty response. Until it succeeds the backend stays unhealthy.
func (m *Monitor) Warmup(ctx context.Context, d backend.Descriptor) bool {
	succeeded := 0

	for i, query := range m.cfg.WarmupQueries {
		if i > 0 && m.cfg.WarmupPause > 0 {
			timer := time.NewTimer(m.cfg.WarmupPause)
			select {
			case <-timer.C:
			case <-ctx.Done():
				timer.Stop()

				return false
			}
		}

		probeCtx, cancel := context.WithTimeout(ctx, m.cfg.ProbeTimeout)
		_, err := m.caller.Do(probeCtx, d, backend.HealthProbe{
			Model:  m.cfg.ProbeModel,
			Prompt: query,
		})

		cancel()

		if err == nil {
			succeeded++
		} else {
			m.logger.Debug("warmup query failed",
				zap.String("backend", d.RoutingKey),
				zap.String("query", query),
				zap.Error(err))
		}
	}

	rate := float64(succeeded) / float64(len(m.cfg.WarmupQueries))
	passed := rate >= m.cfg.WarmupPassRate

	if passed {
		m.logger.Info("backend warmed up",
			zap.String("backend", d.RoutingKey),
			zap.Int("succeeded", succeeded),
			zap.Int("total", len(m.cfg.WarmupQueries)))
	} else {
		m.logger.Warn("backend warmup incomplete",
			zap.String("backend", d.RoutingKey),
			zap.Int("succeeded", succeeded),
			zap.Int("total", len(m.cfg.WarmupQueries)))
	}

	return passed
}

func (m *Monitor) loop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.checkAll()
		case key := <-m.immediateCheck:
			m.checkOne(key)
		case <-m.stopChan:
			return
		}
	}
}

func (m *Monitor) checkAll() {
	m.mu.RLock()
	descriptors := make([]backend.Descriptor, 0, len(m.states))

	for _, st := range m.states {
		descriptors = append(descriptors, st.descriptor)
	}
	m.mu.RUnlock()

	for _, d := range descriptors {
		m.check(d)

		select {
		case <-m.stopChan:
			return
		default:
		}
	}
}

func (m *Monitor) checkOne(routingKey string) {
	m.mu.RLock()
	st, ok := m.states[routingKey]
	m.mu.RUnlock()

	if !ok {
		m.logger.Warn("immediate check for unknown backend",
			zap.String("backend", routingKey))

		return
	}

	m.check(st.descriptor)
}

func (m *Monitor) check(d backend.Descriptor) {
	ctx := context.Background()
	status := m.Probe(ctx, d)
	recovered := false

	if status == StatusUnhealthy {
		m.logger.Warn("backend unhealthy, attempting warmup",
			zap.String("backend", d.RoutingKey))

		if m.Warmup(ctx, d) {
			status = StatusHealthy
			recovered = true
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	st := m.states[d.RoutingKey]
	st.lastChecked = time.Now()
	st.status = status

	if recovered {
		st.restarts++
	}

	m.logger.Debug("backend probed",
		zap.String("backend", d.RoutingKey),
		zap.String("status", status.String()))
}
