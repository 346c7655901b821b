package metrics

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// Instrument names recorded by the dispatch core.
const (
	MetricJobsAdmitted  = "dispatch.jobs.admitted"
	MetricJobsCompleted = "dispatch.jobs.completed"
	MetricJobsFailed    = "dispatch.jobs.failed"
	MetricJobsExpired   = "dispatch.jobs.expired"
	MetricJobsRejected  = "dispatch.jobs.rejected"
	MetricJobLatency    = "dispatch.job.latency"
	MetricBreakerOpened = "dispatch.breaker.opened"
)

// Factory caches OpenTelemetry instruments and exposes fluent recording.
// Safe for concurrent use. A nil meter records into a noop meter so call
// sites never need nil checks.
type Factory struct {
	meter metric.Meter

	mu         sync.Mutex
	counters   map[string]metric.Int64Counter
	histograms map[string]metric.Float64Histogram
}

// NewFactory creates an instrument factory on the given meter.
func NewFactory(meter metric.Meter) *Factory {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("dispatch")
	}

	return &Factory{
		meter:      meter,
		counters:   make(map[string]metric.Int64Counter),
		histograms: make(map[string]metric.Float64Histogram),
	}
}

// Counter returns a builder for the named counter.
func (f *Factory) Counter(name string) *CounterBuilder {
	f.mu.Lock()
	defer f.mu.Unlock()

	counter, ok := f.counters[name]
	if !ok {
		var err error

		counter, err = f.meter.Int64Counter(name)
		if err != nil {
			// Instrument creation only fails on invalid names; fall back
			// to a builder that drops measurements.
			return &CounterBuilder{}
		}

		f.counters[name] = counter
	}

	return &CounterBuilder{counter: counter}
}

// Histogram returns a builder for the named histogram.
func (f *Factory) Histogram(name string) *HistogramBuilder {
	f.mu.Lock()
	defer f.mu.Unlock()

	hist, ok := f.histograms[name]
	if !ok {
		var err error

		hist, err = f.meter.Float64Histogram(name)
		if err != nil {
			return &HistogramBuilder{}
		}

		f.histograms[name] = hist
	}

	return &HistogramBuilder{histogram: hist}
}

// CounterBuilder records counter increments with optional attributes.
type CounterBuilder struct {
	counter metric.Int64Counter
	attrs   []attribute.KeyValue
}

// WithAttributes returns a builder carrying the extra attributes.
func (c *CounterBuilder) WithAttributes(attrs ...attribute.KeyValue) *CounterBuilder {
	merged := make([]attribute.KeyValue, 0, len(c.attrs)+len(attrs))
	merged = append(merged, c.attrs...)
	merged = append(merged, attrs...)

	return &CounterBuilder{counter: c.counter, attrs: merged}
}

// Add records a counter increment.
func (c *CounterBuilder) Add(ctx context.Context, value int64) {
	if c.counter == nil {
		return
	}

	c.counter.Add(ctx, value, metric.WithAttributes(c.attrs...))
}

// AddOne increments the counter by one.
func (c *CounterBuilder) AddOne(ctx context.Context) {
	c.Add(ctx, 1)
}

// HistogramBuilder records histogram samples with optional attributes.
type HistogramBuilder struct {
	histogram metric.Float64Histogram
	attrs     []attribute.KeyValue
}

// WithAttributes returns a builder carrying the extra attributes.
func (h *HistogramBuilder) WithAttributes(attrs ...attribute.KeyValue) *HistogramBuilder {
	merged := make([]attribute.KeyValue, 0, len(h.attrs)+len(attrs))
	merged = append(merged, h.attrs...)
	merged = append(merged, attrs...)

	return &HistogramBuilder{histogram: h.histogram, attrs: merged}
}

// Record records one sample.
func (h *HistogramBuilder) Record(ctx context.Context, value float64) {
	if h.histogram == nil {
		return
	}

	h.histogram.Record(ctx, value, metric.WithAttributes(h.attrs...))
}
