package dispatch

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/knowledgeos/lib-dispatch/dispatch/admission"
	"github.com/knowledgeos/lib-dispatch/dispatch/backend"
	"github.com/knowledgeos/lib-dispatch/dispatch/balancer"
	"github.com/knowledgeos/lib-dispatch/dispatch/circuitbreaker"
	"github.com/knowledgeos/lib-dispatch/dispatch/health"
	"github.com/knowledgeos/lib-dispatch/dispatch/metrics"
	"github.com/knowledgeos/lib-dispatch/dispatch/retry"
)

// ErrNoBackendAvailable reports that no backend was both circuit-closed and
// health-eligible when a job reached the front of the queue.
var ErrNoBackendAvailable = errors.New("dispatch: no eligible backend available")

// Caller performs one backend round trip. *backend.Client is the production
// implementation; tests substitute stubs.
type Caller interface {
	Do(ctx context.Context, d backend.Descriptor, req backend.Request) (*backend.Result, error)
}

// Option adjusts System construction.
type Option func(*System)

// WithCaller replaces the HTTP backend client, mainly for tests.
func WithCaller(c Caller) Option {
	return func(s *System) { s.caller = c }
}

// WithMeter attaches an OpenTelemetry meter for the core's instruments.
// Without it, measurements are dropped.
func WithMeter(m metric.Meter) Option {
	return func(s *System) { s.metrics = metrics.NewFactory(m) }
}

// BackendStatus aggregates one backend's observability outputs.
type BackendStatus struct {
	Descriptor backend.Descriptor
	Load       balancer.Stats
	Breaker    circuitbreaker.Snapshot
	Health     health.BackendHealth
}

// Stats is the system-wide observability snapshot.
type Stats struct {
	Queue    admission.QueueStats
	Backends map[string]BackendStatus
}

// System wires the admission queue, balancer, breakers, retry policies, and
// health monitor over a fixed backend pool.
type System struct {
	cfg      Config
	logger   *zap.Logger
	backends []backend.Descriptor

	caller   Caller
	queue    *admission.Queue
	balancer *balancer.Balancer
	breakers *circuitbreaker.Manager
	monitor  *health.Monitor
	metrics  *metrics.Factory
}

// New constructs a System over the given backend pool. The caller owns the
// lifecycle: Start before submitting, Stop to drain.
func New(cfg Config, backends []backend.Descriptor, logger *zap.Logger, opts ...Option) *System {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &System{
		cfg:      cfg,
		logger:   logger,
		backends: backends,
		metrics:  metrics.NewFactory(nil),
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.caller == nil {
		s.caller = backend.NewClient(cfg.RequestTimeout, logger)
	}

	s.balancer = balancer.New(cfg.Weights, logger)
	s.breakers = circuitbreaker.NewManager(cfg.Breaker, logger)
	s.monitor = health.NewMonitor(s.caller, backends, cfg.Health, logger)
	s.queue = admission.NewQueue(cfg.Queue, s.execute, logger)
	s.queue.OnTerminal(s.recordTerminal)

	return s
}

// Start launches the dispatch loop and the health monitor.
func (s *System) Start() error {
	if err := s.queue.Start(); err != nil {
		return err
	}

	s.monitor.Start()

	return nil
}

// Stop drains in-flight work and halts the background loops.
func (s *System) Stop() {
	s.queue.Stop()
	s.monitor.Stop()
}

// Submit admits a request with the given urgency. The returned handle
// reports the job id, the estimated queue position, and delivers the result
// via Wait. A full backlog fails immediately with admission.ErrQueueFull.
func (s *System) Submit(priority admission.Priority, timeout time.Duration, req backend.Request, metadata map[string]any) (*admission.Handle, error) {
	handle, err := s.queue.Submit(priority, timeout, metadata, func(ctx context.Context) (any, error) {
		return s.dispatch(ctx, priority, req)
	})

	priorityAttr := attribute.String("priority", priority.String())

	if err != nil {
		if errors.Is(err, admission.ErrQueueFull) {
			s.metrics.Counter(metrics.MetricJobsRejected).WithAttributes(priorityAttr).AddOne(context.Background())
		}

		return nil, err
	}

	s.metrics.Counter(metrics.MetricJobsAdmitted).WithAttributes(priorityAttr).AddOne(context.Background())

	return handle, nil
}

// Cancel removes a job still waiting in the queue. Best effort: returns
// false once the job has been dispatched or finished.
func (s *System) Cancel(jobID string) bool {
	return s.queue.Cancel(jobID)
}

// Stats returns the queue counters plus per-backend load, breaker, and
// health views. Reads are synchronous and consistent.
func (s *System) Stats() Stats {
	load := s.balancer.Snapshot()
	breakers := s.breakers.Snapshots()
	healths := s.monitor.Snapshot()

	backends := make(map[string]BackendStatus, len(s.backends))
	for _, d := range s.backends {
		backends[d.RoutingKey] = BackendStatus{
			Descriptor: d,
			Load:       load[d.RoutingKey],
			Breaker:    breakers[d.RoutingKey],
			Health:     healths[d.RoutingKey],
		}
	}

	return Stats{
		Queue:    s.queue.Stats(),
		Backends: backends,
	}
}

// execute runs one dispatched job by invoking its closure, which routes
// through dispatch below.
func (s *System) execute(ctx context.Context, job *admission.Job) (any, error) {
	return job.Do(ctx)
}

// recordTerminal folds job outcomes into the otel instruments. Runs off the
// queue's lock path.
func (s *System) recordTerminal(job *admission.Job, state admission.State) {
	attrs := attribute.String("priority", job.Priority.String())
	ctx := context.Background()

	switch state {
	case admission.StateCompleted:
		s.metrics.Counter(metrics.MetricJobsCompleted).WithAttributes(attrs).AddOne(ctx)
	case admission.StateFailed:
		s.metrics.Counter(metrics.MetricJobsFailed).WithAttributes(attrs).AddOne(ctx)
	case admission.StateExpired:
		s.metrics.Counter(metrics.MetricJobsExpired).WithAttributes(attrs).AddOne(ctx)
	case admission.StateCanceled, admission.StateQueued, admission.StateDispatched:
	}
}

func (s *System) dispatch(ctx context.Context, priority admission.Priority, req backend.Request) (any, error) {
	candidates := s.eligible()
	if len(candidates) == 0 {
		s.logger.Warn("no eligible backend for job",
			zap.Int("pool_size", len(s.backends)))

		return nil, ErrNoBackendAvailable
	}

	chosen, ok := s.balancer.Select(candidates)
	if !ok {
		return nil, ErrNoBackendAvailable
	}

	policy := s.policyFor(priority)
	breaker := s.breakers.GetOrCreate(chosen.RoutingKey)
	stateBefore := breaker.State()

	release := s.balancer.Acquire(chosen)
	defer release()

	start := time.Now()

	result, err := breaker.Call(func() (any, error) {
		return retry.Execute(ctx, policy, func(ctx context.Context) (any, error) {
			return s.caller.Do(ctx, chosen, req)
		})
	})

	if errors.Is(err, circuitbreaker.ErrOpen) {
		// The backend was never invoked; nothing to fold into its sample.
		return nil, err
	}

	s.balancer.RecordOutcome(chosen, time.Since(start), err == nil)
	s.metrics.Histogram(metrics.MetricJobLatency).
		WithAttributes(attribute.String("backend", chosen.RoutingKey)).
		Record(context.Background(), time.Since(start).Seconds())

	if stateBefore != circuitbreaker.StateOpen && breaker.State() == circuitbreaker.StateOpen {
		s.metrics.Counter(metrics.MetricBreakerOpened).
			WithAttributes(attribute.String("backend", chosen.RoutingKey)).
			AddOne(context.Background())
		// An open breaker means live traffic is failing; probe the backend
		// ahead of the next interval round.
		s.monitor.CheckNow(chosen.RoutingKey)
	}

	return result, err
}

// eligible intersects "not circuit-open" with "not health-monitor-unhealthy".
func (s *System) eligible() []backend.Descriptor {
	out := make([]backend.Descriptor, 0, len(s.backends))

	for _, d := range s.backends {
		if !s.breakers.CanExecute(d.RoutingKey) {
			continue
		}

		if !s.monitor.Eligible(d.RoutingKey) {
			continue
		}

		out = append(out, d)
	}

	return out
}

func (s *System) policyFor(priority admission.Priority) retry.Policy {
	policy := s.cfg.Retry
	if priority == admission.PriorityHigh {
		policy = s.cfg.InteractiveRetry
	}

	if policy.MaxAttempts == 0 && policy.InitialDelay == 0 {
		policy = retry.DefaultPolicy()
	}

	if policy.Retryable == nil {
		policy.Retryable = backend.IsRetryable
	}

	return policy
}
