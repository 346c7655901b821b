package admission

import (
	"container/heap"
	"context"
	"time"
)

// Priority is the urgency class of a submitted job. Lower values dispatch
// first.
type Priority int

const (
	// PriorityHigh is interactive work where a user is waiting.
	PriorityHigh Priority = iota

	// PriorityMedium is deferred work such as task distribution.
	PriorityMedium

	// PriorityLow is background work.
	PriorityLow
)

// String returns the uppercase priority name.
func (p Priority) String() string {
	switch p {
	case PriorityHigh:
		return "HIGH"
	case PriorityMedium:
		return "MEDIUM"
	case PriorityLow:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// State is a job's lifecycle position. A job is immutable once enqueued
// except for this status.
type State int

const (
	StateQueued State = iota
	StateDispatched
	StateCompleted
	StateFailed
	StateExpired
	StateCanceled
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateQueued:
		return "queued"
	case StateDispatched:
		return "dispatched"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	case StateExpired:
		return "expired"
	case StateCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// Job is one admitted unit of work. Fields are set at submit time and never
// change afterwards; only the lifecycle state moves.
type Job struct {
	ID       string
	Priority Priority
	Timeout  time.Duration
	Metadata map[string]any

	// Do performs the actual backend call once the job is dispatched.
	Do func(ctx context.Context) (any, error)

	enqueuedAt time.Time
	seq        uint64
	index      int
	expiry     *time.Timer

	// Guarded by the owning queue's mutex until done is closed.
	state  State
	result any
	err    error
	done   chan struct{}
}

// Handle is the caller's view of a submitted job.
type Handle struct {
	job *Job

	// Position estimates where the job sat at admission: 0 means a free
	// execution slot existed, larger values count the backlog ahead of it.
	Position int
}

// ID returns the job's unique identifier.
func (h *Handle) ID() string { return h.job.ID }

// Done is closed when the job reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.job.done }

// Wait blocks until the job finishes or ctx is cancelled, and returns the
// job's result or terminal error.
func (h *Handle) Wait(ctx context.Context) (any, error) {
	select {
	case <-h.job.done:
		return h.job.result, h.job.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// jobHeap orders jobs by priority class, then submission time, then
// submission sequence (a tiebreak for equal timestamps).
type jobHeap []*Job

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}

	if !h[i].enqueuedAt.Equal(h[j].enqueuedAt) {
		return h[i].enqueuedAt.Before(h[j].enqueuedAt)
	}

	return h[i].seq < h[j].seq
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	job := x.(*Job)
	job.index = len(*h)
	*h = append(*h, job)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	job.index = -1
	*h = old[:n-1]

	return job
}

var _ heap.Interface = (*jobHeap)(nil)
