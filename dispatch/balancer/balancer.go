package balancer

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/knowledgeos/lib-dispatch/dispatch/backend"
)

// Weights tune the selection score. Lower score wins:
//
//	score = active*Active + avgLatencyMs*LatencyMs + (1-successRate)*FailurePenalty
type Weights struct {
	Active         float64
	LatencyMs      float64
	FailurePenalty float64
}

// DefaultWeights favors idle backends first, then fast ones, and punishes
// failure-prone ones hard.
func DefaultWeights() Weights {
	return Weights{
		Active:         10,
		LatencyMs:      0.1,
		FailurePenalty: 50,
	}
}

// Balancer scores candidate backends from live load samples. The registry
// map is guarded by its own lock; each sample has a per-backend lock, so
// recording an outcome for one backend never contends with another.
type Balancer struct {
	weights Weights
	logger  *zap.Logger
	now     func() time.Time

	mu      sync.RWMutex
	samples map[string]*sample
}

// New creates a balancer. Zero weights fall back to DefaultWeights.
func New(weights Weights, logger *zap.Logger) *Balancer {
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &Balancer{
		weights: weights,
		logger:  logger,
		now:     time.Now,
		samples: make(map[string]*sample),
	}
}

// Select returns the best backend among candidates, or false when candidates
// is empty. A candidate with no load sample yet is preferred immediately so
// cold backends get traffic before scoring applies. Ties keep the earlier
// candidate.
func (b *Balancer) Select(candidates []backend.Descriptor) (backend.Descriptor, bool) {
	if len(candidates) == 0 {
		return backend.Descriptor{}, false
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	var (
		best      backend.Descriptor
		bestScore float64
		found     bool
	)

	for _, cand := range candidates {
		s, ok := b.samples[cand.RoutingKey]
		if !ok {
			b.logger.Debug("selecting cold backend", zap.String("backend", cand.RoutingKey))

			return cand, true
		}

		score := b.score(s)
		if !found || score < bestScore {
			best = cand
			bestScore = score
			found = true
		}
	}

	return best, found
}

// RoundRobinSelect rotates through candidates, returning the one after
// lastSelected. Callers that want strict fairness instead of scoring (many
// equivalent low-priority backends) use this and keep lastSelected
// themselves. An unknown or empty lastSelected yields the first candidate.
func (b *Balancer) RoundRobinSelect(candidates []backend.Descriptor, lastSelected string) (backend.Descriptor, bool) {
	if len(candidates) == 0 {
		return backend.Descriptor{}, false
	}

	for i, cand := range candidates {
		if cand.RoutingKey == lastSelected {
			return candidates[(i+1)%len(candidates)], true
		}
	}

	return candidates[0], true
}

// StartCall increments the backend's in-flight count, registering the
// backend on first sight.
func (b *Balancer) StartCall(d backend.Descriptor) {
	b.sampleFor(d.RoutingKey).startCall()
}

// EndCall decrements the in-flight count. Every StartCall must be paired
// with exactly one EndCall, error paths included; prefer Acquire for that.
func (b *Balancer) EndCall(d backend.Descriptor) {
	b.sampleFor(d.RoutingKey).endCall()
}

// Acquire is the scoped form of StartCall/EndCall: it increments the
// in-flight count and returns a release that decrements exactly once, safe
// to defer so panics in the call still release the slot.
func (b *Balancer) Acquire(d backend.Descriptor) (release func()) {
	b.StartCall(d)

	var once sync.Once

	return func() {
		once.Do(func() { b.EndCall(d) })
	}
}

// RecordOutcome folds one finished call into the backend's rolling sample.
// Called synchronously by the dispatcher after every call, success or not.
func (b *Balancer) RecordOutcome(d backend.Descriptor, latency time.Duration, success bool) {
	b.sampleFor(d.RoutingKey).record(latency, success, b.now())
}

// Snapshot returns a consistent copy of every backend's load state.
func (b *Balancer) Snapshot() map[string]Stats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]Stats, len(b.samples))
	for key, s := range b.samples {
		out[key] = s.stats()
	}

	return out
}

func (b *Balancer) score(s *sample) float64 {
	stats := s.stats()

	return float64(stats.Active)*b.weights.Active +
		stats.AvgLatencyMs*b.weights.LatencyMs +
		(1-stats.SuccessRate)*b.weights.FailurePenalty
}

func (b *Balancer) sampleFor(key string) *sample {
	b.mu.RLock()
	s, ok := b.samples[key]
	b.mu.RUnlock()

	if ok {
		return s
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if s, ok = b.samples[key]; ok {
		return s
	}

	s = newSample()
	b.samples[key] = s

	return s
}
