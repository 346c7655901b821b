package admission

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func noopExecutor(ctx context.Context, job *Job) (any, error) {
	return job.Do(ctx)
}

func newTestQueue(t *testing.T, cfg Config) *Queue {
	t.Helper()

	q := NewQueue(cfg, noopExecutor, zap.NewNop())
	require.NoError(t, q.Start())
	t.Cleanup(q.Stop)

	return q
}

func TestQueue_ConcurrencyCap(t *testing.T) {
	t.Parallel()

	const (
		maxConcurrent = 3
		jobs          = 20
	)

	q := newTestQueue(t, Config{MaxConcurrent: maxConcurrent, MaxQueueSize: jobs, DefaultTimeout: time.Minute})

	var (
		active  atomic.Int32
		peak    atomic.Int32
		handles []*Handle
	)

	for i := 0; i < jobs; i++ {
		h, err := q.Submit(PriorityMedium, time.Minute, nil, func(context.Context) (any, error) {
			current := active.Add(1)

			for {
				observed := peak.Load()
				if current <= observed || peak.CompareAndSwap(observed, current) {
					break
				}
			}

			time.Sleep(20 * time.Millisecond)
			active.Add(-1)

			return nil, nil
		})
		require.NoError(t, err)

		handles = append(handles, h)
	}

	for _, h := range handles {
		_, err := h.Wait(context.Background())
		require.NoError(t, err)
	}

	assert.LessOrEqual(t, peak.Load(), int32(maxConcurrent),
		"in-flight executions must never exceed the cap")

	stats := q.Stats()
	assert.EqualValues(t, jobs, stats.Admitted)
	assert.EqualValues(t, jobs, stats.Completed)
	assert.Zero(t, stats.Rejected)
}

// saturate occupies every execution slot with jobs that finish only when
// releaseCh is closed.
func saturate(t *testing.T, q *Queue, slots int, releaseCh <-chan struct{}) {
	t.Helper()

	started := make(chan struct{}, slots)

	for i := 0; i < slots; i++ {
		_, err := q.Submit(PriorityHigh, time.Minute, nil, func(context.Context) (any, error) {
			started <- struct{}{}
			<-releaseCh

			return nil, nil
		})
		require.NoError(t, err)
	}

	for i := 0; i < slots; i++ {
		select {
		case <-started:
		case <-time.After(5 * time.Second):
			t.Fatal("saturation jobs did not start")
		}
	}
}

func TestQueue_PriorityOrdering(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Config{MaxConcurrent: 1, MaxQueueSize: 10, DefaultTimeout: time.Minute})

	release := make(chan struct{})
	saturate(t, q, 1, release)

	var (
		mu    sync.Mutex
		order []Priority
	)

	record := func(p Priority) func(context.Context) (any, error) {
		return func(context.Context) (any, error) {
			mu.Lock()
			order = append(order, p)
			mu.Unlock()

			return nil, nil
		}
	}

	// LOW submitted before HIGH; HIGH must still dispatch first.
	low, err := q.Submit(PriorityLow, time.Minute, nil, record(PriorityLow))
	require.NoError(t, err)

	high, err := q.Submit(PriorityHigh, time.Minute, nil, record(PriorityHigh))
	require.NoError(t, err)

	close(release)

	_, err = low.Wait(context.Background())
	require.NoError(t, err)
	_, err = high.Wait(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, order, 2)
	assert.Equal(t, []Priority{PriorityHigh, PriorityLow}, order)
}

func TestQueue_FIFOWithinPriority(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Config{MaxConcurrent: 1, MaxQueueSize: 10, DefaultTimeout: time.Minute})

	release := make(chan struct{})
	saturate(t, q, 1, release)

	var (
		mu    sync.Mutex
		order []string
	)

	record := func(name string) func(context.Context) (any, error) {
		return func(context.Context) (any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()

			return nil, nil
		}
	}

	first, err := q.Submit(PriorityMedium, time.Minute, nil, record("first"))
	require.NoError(t, err)

	second, err := q.Submit(PriorityMedium, time.Minute, nil, record("second"))
	require.NoError(t, err)

	close(release)

	_, err = first.Wait(context.Background())
	require.NoError(t, err)
	_, err = second.Wait(context.Background())
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()

	assert.Equal(t, []string{"first", "second"}, order)
}

func TestQueue_FullRejectsImmediately(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Config{MaxConcurrent: 1, MaxQueueSize: 2, DefaultTimeout: time.Minute})

	release := make(chan struct{})
	defer close(release)
	saturate(t, q, 1, release)

	for i := 0; i < 2; i++ {
		_, err := q.Submit(PriorityMedium, time.Minute, nil, func(context.Context) (any, error) {
			return nil, nil
		})
		require.NoError(t, err)
	}

	start := time.Now()
	_, err := q.Submit(PriorityMedium, time.Minute, nil, func(context.Context) (any, error) {
		return nil, nil
	})

	require.ErrorIs(t, err, ErrQueueFull)
	assert.Less(t, time.Since(start), time.Second, "rejection must be synchronous, not a blocked wait")
	assert.EqualValues(t, 1, q.Stats().Rejected)
}

func TestQueue_ExpiryBeforeDispatch(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Config{MaxConcurrent: 1, MaxQueueSize: 10, DefaultTimeout: time.Minute})

	release := make(chan struct{})
	defer close(release)
	saturate(t, q, 1, release)

	var invoked atomic.Bool

	h, err := q.Submit(PriorityHigh, 10*time.Millisecond, nil, func(context.Context) (any, error) {
		invoked.Store(true)

		return nil, nil
	})
	require.NoError(t, err)

	_, err = h.Wait(context.Background())
	require.ErrorIs(t, err, ErrJobExpired)

	assert.False(t, invoked.Load(), "expired work must never reach a backend")
	assert.EqualValues(t, 1, q.Stats().Expired)
}

func TestQueue_CancelWhileQueued(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Config{MaxConcurrent: 1, MaxQueueSize: 10, DefaultTimeout: time.Minute})

	release := make(chan struct{})
	defer close(release)
	saturate(t, q, 1, release)

	h, err := q.Submit(PriorityLow, time.Minute, nil, func(context.Context) (any, error) {
		return nil, nil
	})
	require.NoError(t, err)

	assert.True(t, q.Cancel(h.ID()))

	_, err = h.Wait(context.Background())
	require.ErrorIs(t, err, ErrCanceled)

	assert.False(t, q.Cancel(h.ID()), "second cancel finds nothing queued")
	assert.EqualValues(t, 1, q.Stats().Canceled)
}

func TestQueue_CancelDispatchedIsNoop(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Config{MaxConcurrent: 1, MaxQueueSize: 10, DefaultTimeout: time.Minute})

	started := make(chan struct{})
	release := make(chan struct{})

	h, err := q.Submit(PriorityHigh, time.Minute, nil, func(context.Context) (any, error) {
		close(started)
		<-release

		return "done", nil
	})
	require.NoError(t, err)

	<-started
	assert.False(t, q.Cancel(h.ID()), "in-flight jobs are never preempted")

	close(release)

	result, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "done", result)
}

func TestQueue_FailurePropagatesVerbatim(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Config{MaxConcurrent: 1, MaxQueueSize: 10, DefaultTimeout: time.Minute})

	errCall := errors.New("model exploded")

	h, err := q.Submit(PriorityHigh, time.Minute, nil, func(context.Context) (any, error) {
		return nil, errCall
	})
	require.NoError(t, err)

	_, err = h.Wait(context.Background())
	assert.ErrorIs(t, err, errCall)
	assert.EqualValues(t, 1, q.Stats().Failed)
}

func TestQueue_JobContextCarriesDeadline(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Config{MaxConcurrent: 1, MaxQueueSize: 10, DefaultTimeout: time.Minute})

	h, err := q.Submit(PriorityHigh, time.Minute, nil, func(ctx context.Context) (any, error) {
		deadline, ok := ctx.Deadline()
		if !ok {
			return nil, errors.New("missing deadline")
		}

		return time.Until(deadline) > 0, nil
	})
	require.NoError(t, err)

	result, err := h.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, true, result)
}

func TestQueue_StatsPerPriority(t *testing.T) {
	t.Parallel()

	q := newTestQueue(t, Config{MaxConcurrent: 2, MaxQueueSize: 20, DefaultTimeout: time.Minute})

	var handles []*Handle

	for _, p := range []Priority{PriorityHigh, PriorityHigh, PriorityMedium, PriorityLow} {
		h, err := q.Submit(p, time.Minute, nil, func(context.Context) (any, error) {
			return nil, nil
		})
		require.NoError(t, err)

		handles = append(handles, h)
	}

	for _, h := range handles {
		_, err := h.Wait(context.Background())
		require.NoError(t, err)
	}

	stats := q.Stats()
	assert.EqualValues(t, 4, stats.Admitted)
	assert.EqualValues(t, 2, stats.ByPriority[PriorityHigh])
	assert.EqualValues(t, 1, stats.ByPriority[PriorityMedium])
	assert.EqualValues(t, 1, stats.ByPriority[PriorityLow])
}

func TestQueue_StopFailsQueuedJobs(t *testing.T) {
	t.Parallel()

	q := NewQueue(Config{MaxConcurrent: 1, MaxQueueSize: 10, DefaultTimeout: time.Minute}, noopExecutor, zap.NewNop())
	require.NoError(t, q.Start())

	release := make(chan struct{})
	saturate(t, q, 1, release)

	queued, err := q.Submit(PriorityLow, time.Minute, nil, func(context.Context) (any, error) {
		return nil, nil
	})
	require.NoError(t, err)

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(release)
	}()

	q.Stop()

	_, err = queued.Wait(context.Background())
	assert.ErrorIs(t, err, ErrStopped)

	_, err = q.Submit(PriorityHigh, time.Minute, nil, func(context.Context) (any, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrStopped)
}

func TestQueue_OnTerminalObserver(t *testing.T) {
	t.Parallel()

	q := NewQueue(Config{MaxConcurrent: 1, MaxQueueSize: 10, DefaultTimeout: time.Minute}, noopExecutor, zap.NewNop())

	states := make(chan State, 1)
	q.OnTerminal(func(_ *Job, state State) {
		states <- state
	})

	require.NoError(t, q.Start())
	t.Cleanup(q.Stop)

	h, err := q.Submit(PriorityHigh, time.Minute, nil, func(context.Context) (any, error) {
		return nil, nil
	})
	require.NoError(t, err)

	_, err = h.Wait(context.Background())
	require.NoError(t, err)

	select {
	case state := <-states:
		assert.Equal(t, StateCompleted, state)
	case <-time.After(time.Second):
		t.Fatal("terminal observer was not notified")
	}
}
