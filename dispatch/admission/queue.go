package admission

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrQueueFull rejects a submission when the backlog is at capacity.
	// The caller should shed load upstream rather than wait.
	ErrQueueFull = errors.New("admission: queue full")

	// ErrJobExpired reports a job that waited past its timeout and was
	// never dispatched to a backend.
	ErrJobExpired = errors.New("admission: job expired before dispatch")

	// ErrCanceled reports a job canceled while still queued.
	ErrCanceled = errors.New("admission: job canceled")

	// ErrStopped rejects submissions to a stopped queue and fails jobs
	// still queued at shutdown.
	ErrStopped = errors.New("admission: queue stopped")
)

// Executor runs one dispatched job. The admission queue stays decoupled
// from backend selection: the dispatcher supplies an executor that picks a
// backend and wraps the call with the breaker and retry coordinator.
type Executor func(ctx context.Context, job *Job) (any, error)

// Config bounds the queue.
type Config struct {
	// MaxConcurrent caps simultaneous in-flight executions.
	MaxConcurrent int

	// MaxQueueSize caps the waiting backlog; submissions beyond it are
	// rejected immediately.
	MaxQueueSize int

	// DefaultTimeout applies to jobs submitted without their own timeout.
	DefaultTimeout time.Duration
}

// DefaultConfig mirrors the production queue bounds.
func DefaultConfig() Config {
	return Config{
		MaxConcurrent:  5,
		MaxQueueSize:   50,
		DefaultTimeout: 300 * time.Second,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()

	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}

	if c.MaxQueueSize <= 0 {
		c.MaxQueueSize = d.MaxQueueSize
	}

	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = d.DefaultTimeout
	}

	return c
}

// Queue is the priority admission-control queue. One background dispatch
// loop pops the highest-priority, oldest job whenever an execution slot is
// free and launches it as an independent goroutine. The queue lock guards
// only O(1) heap and counter operations, never a backend call.
type Queue struct {
	cfg    Config
	exec   Executor
	logger *zap.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	jobs     jobHeap
	inFlight int
	seq      uint64
	started  bool
	stopped  bool
	wg       sync.WaitGroup

	admitted   int64
	completed  int64
	failed     int64
	expired    int64
	rejected   int64
	canceled   int64
	byPriority map[Priority]int64

	onTerminal func(job *Job, state State)
}

// NewQueue creates an admission queue that hands dispatched jobs to exec.
func NewQueue(cfg Config, exec Executor, logger *zap.Logger) *Queue {
	if logger == nil {
		logger = zap.NewNop()
	}

	q := &Queue{
		cfg:        cfg.withDefaults(),
		exec:       exec,
		logger:     logger,
		byPriority: make(map[Priority]int64),
	}
	q.cond = sync.NewCond(&q.mu)

	return q
}

// OnTerminal registers a callback invoked whenever a job reaches a terminal
// state. It runs in its own goroutine so observers never block the queue.
// Set it before Start.
func (q *Queue) OnTerminal(fn func(job *Job, state State)) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.onTerminal = fn
}

// Start launches the dispatch loop. Submissions before Start are queued and
// picked up once the loop runs.
func (q *Queue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.started {
		return errors.New("admission: queue already started")
	}

	if q.stopped {
		return ErrStopped
	}

	q.started = true
	q.wg.Add(1)

	go q.dispatchLoop()

	q.logger.Info("admission queue started",
		zap.Int("max_concurrent", q.cfg.MaxConcurrent),
		zap.Int("max_queue_size", q.cfg.MaxQueueSize))

	return nil
}

// Stop halts dispatching, fails everything still queued with ErrStopped,
// and waits for in-flight executions to finish. Queued-but-undispatched
// work is lost by design; callers resubmit after a restart.
func (q *Queue) Stop() {
	q.mu.Lock()

	if q.stopped {
		q.mu.Unlock()

		return
	}

	q.stopped = true

	for len(q.jobs) > 0 {
		job := heap.Pop(&q.jobs).(*Job)
		q.finalizeLocked(job, StateFailed, nil, fmt.Errorf("job %s: %w", job.ID, ErrStopped))
	}

	q.cond.Broadcast()
	q.mu.Unlock()

	q.wg.Wait()
	q.logger.Info("admission queue stopped")
}

// Submit admits or rejects a job synchronously. A full backlog returns
// ErrQueueFull at once; the queue never blocks the submitter. timeout <= 0
// falls back to the configured default.
func (q *Queue) Submit(priority Priority, timeout time.Duration, metadata map[string]any, do func(context.Context) (any, error)) (*Handle, error) {
	if timeout <= 0 {
		timeout = q.cfg.DefaultTimeout
	}

	job := &Job{
		ID:         uuid.NewString(),
		Priority:   priority,
		Timeout:    timeout,
		Metadata:   metadata,
		Do:         do,
		enqueuedAt: time.Now(),
		state:      StateQueued,
		done:       make(chan struct{}),
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		return nil, ErrStopped
	}

	if len(q.jobs) >= q.cfg.MaxQueueSize {
		q.rejected++
		q.logger.Warn("queue full, rejecting job",
			zap.String("priority", priority.String()),
			zap.Int("backlog", len(q.jobs)))

		return nil, ErrQueueFull
	}

	// 0 means a free slot exists and the job runs next; otherwise the
	// estimate is the backlog ahead of it.
	position := len(q.jobs)

	q.seq++
	job.seq = q.seq

	heap.Push(&q.jobs, job)

	q.admitted++
	q.byPriority[priority]++

	// Expire in place if no slot frees before the deadline, so the caller
	// hears about it instead of waiting for a pop that may be far away.
	job.expiry = time.AfterFunc(timeout, func() { q.expire(job) })

	q.cond.Signal()

	q.logger.Debug("job admitted",
		zap.String("job_id", job.ID),
		zap.String("priority", priority.String()),
		zap.Int("position", position))

	return &Handle{job: job, Position: position}, nil
}

// Cancel removes a job that is still queued. Best effort: a job already
// dispatched or finished is left alone and Cancel returns false.
func (q *Queue) Cancel(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, job := range q.jobs {
		if job.ID != id {
			continue
		}

		heap.Remove(&q.jobs, job.index)

		if job.expiry != nil {
			job.expiry.Stop()
		}

		q.canceled++
		q.finalizeLocked(job, StateCanceled, nil, fmt.Errorf("job %s: %w", job.ID, ErrCanceled))

		return true
	}

	return false
}

// Stats returns a consistent snapshot of the queue counters.
func (q *Queue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	byPriority := make(map[Priority]int64, len(q.byPriority))
	for p, n := range q.byPriority {
		byPriority[p] = n
	}

	return QueueStats{
		Active:     q.inFlight,
		Queued:     len(q.jobs),
		Admitted:   q.admitted,
		Completed:  q.completed,
		Failed:     q.failed,
		Expired:    q.expired,
		Rejected:   q.rejected,
		Canceled:   q.canceled,
		ByPriority: byPriority,
	}
}

func (q *Queue) dispatchLoop() {
	defer q.wg.Done()

	q.mu.Lock()

	for {
		for !q.stopped && (len(q.jobs) == 0 || q.inFlight >= q.cfg.MaxConcurrent) {
			q.cond.Wait()
		}

		if q.stopped {
			q.mu.Unlock()

			return
		}

		job := heap.Pop(&q.jobs).(*Job)

		if job.expiry != nil {
			job.expiry.Stop()
		}

		if time.Since(job.enqueuedAt) > job.Timeout {
			q.finalizeLocked(job, StateExpired, nil, fmt.Errorf("job %s: %w", job.ID, ErrJobExpired))

			continue
		}

		job.state = StateDispatched
		q.inFlight++
		q.wg.Add(1)

		q.mu.Unlock()
		go q.run(job)
		q.mu.Lock()
	}
}

func (q *Queue) run(job *Job) {
	defer q.wg.Done()

	// The job deadline keeps counting from admission: queue wait, retries,
	// and the call itself all share it.
	ctx, cancel := context.WithDeadline(context.Background(), job.enqueuedAt.Add(job.Timeout))
	defer cancel()

	result, err := q.exec(ctx, job)

	q.mu.Lock()
	defer q.mu.Unlock()

	q.inFlight--

	if err != nil {
		q.finalizeLocked(job, StateFailed, nil, err)
	} else {
		q.finalizeLocked(job, StateCompleted, result, nil)
	}

	q.cond.Signal()
}

// expire runs from the job's timer. A job already popped, canceled, or
// finished is left alone.
func (q *Queue) expire(job *Job) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if job.state != StateQueued || job.index < 0 {
		return
	}

	heap.Remove(&q.jobs, job.index)
	q.finalizeLocked(job, StateExpired, nil, fmt.Errorf("job %s: %w", job.ID, ErrJobExpired))
}

// finalizeLocked moves a job to a terminal state. Callers hold q.mu.
func (q *Queue) finalizeLocked(job *Job, state State, result any, err error) {
	job.state = state
	job.result = result
	job.err = err

	switch state {
	case StateCompleted:
		q.completed++
	case StateFailed:
		q.failed++
	case StateExpired:
		q.expired++
		q.logger.Warn("job expired before dispatch",
			zap.String("job_id", job.ID),
			zap.String("priority", job.Priority.String()),
			zap.Duration("timeout", job.Timeout))
	case StateCanceled, StateQueued, StateDispatched:
	}

	close(job.done)

	if q.onTerminal != nil {
		// Observers run off the lock path so they can never stall
		// dispatching.
		go q.onTerminal(job, state)
	}
}
