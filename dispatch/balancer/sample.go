package balancer

import (
	"sync"
	"time"
)

// EWMA smoothing for latency: new = 0.7*old + 0.3*sample.
const (
	ewmaOldWeight = 0.7
	ewmaNewWeight = 0.3
)

// sample is the rolling load state for one backend. Each sample carries its
// own mutex so contention stays scoped to callers of the same backend.
type sample struct {
	mu           sync.Mutex
	active       int
	avgLatencyMs float64
	successRate  float64
	calls        int64
	lastUpdate   time.Time
}

func newSample() *sample {
	// An unproven backend starts with a clean success rate; the first
	// recorded outcome replaces it entirely (running count n=1).
	return &sample{successRate: 1}
}

func (s *sample) startCall() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active++
}

func (s *sample) endCall() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active > 0 {
		s.active--
	}
}

func (s *sample) record(latency time.Duration, success bool, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latencyMs := float64(latency.Milliseconds())
	if s.avgLatencyMs > 0 {
		s.avgLatencyMs = ewmaOldWeight*s.avgLatencyMs + ewmaNewWeight*latencyMs
	} else {
		s.avgLatencyMs = latencyMs
	}

	outcome := 0.0
	if success {
		outcome = 1.0
	}

	s.calls++
	s.successRate = (s.successRate*float64(s.calls-1) + outcome) / float64(s.calls)
	s.lastUpdate = now
}

func (s *sample) stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Active:       s.active,
		AvgLatencyMs: s.avgLatencyMs,
		SuccessRate:  s.successRate,
		Calls:        s.calls,
		LastUpdate:   s.lastUpdate,
	}
}

// Stats is a consistent copy of one backend's rolling load state.
type Stats struct {
	Active       int
	AvgLatencyMs float64
	SuccessRate  float64
	Calls        int64
	LastUpdate   time.Time
}
