// ABOUTME: Unit tests for the bounded task scheduler.
// ABOUTME: Verifies concurrency bounds, FIFO admission, and failure isolation.

package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func TestSchedulerBoundsConcurrency(t *testing.T) {
	tests := []struct {
		name  string
		limit int
		tasks int
	}{
		{name: "single worker", limit: 1, tasks: 8},
		{name: "typical limit", limit: 10, tasks: 50},
		{name: "more workers than tasks", limit: 16, tasks: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(tt.limit, testLogger())
			defer s.Close()

			var inFlight, maxInFlight, settled int64
			ctx := context.Background()

			var tasksOut []*Task
			for i := 0; i < tt.tasks; i++ {
				task, err := s.Submit(ctx, func(ctx context.Context) (any, error) {
					cur := atomic.AddInt64(&inFlight, 1)
					for {
						prev := atomic.LoadInt64(&maxInFlight)
						if cur <= prev || atomic.CompareAndSwapInt64(&maxInFlight, prev, cur) {
							break
						}
					}
					time.Sleep(5 * time.Millisecond)
					atomic.AddInt64(&inFlight, -1)
					atomic.AddInt64(&settled, 1)
					return nil, nil
				})
				require.NoError(t, err)
				tasksOut = append(tasksOut, task)
			}

			for _, task := range tasksOut {
				_, err := task.Wait(ctx)
				require.NoError(t, err)
			}

			assert.LessOrEqual(t, atomic.LoadInt64(&maxInFlight), int64(tt.limit))
			assert.Equal(t, int64(tt.tasks), atomic.LoadInt64(&settled))
		})
	}
}

func TestSchedulerFIFOAdmission(t *testing.T) {
	// A single worker must start tasks in submission order
	s := New(1, testLogger())
	defer s.Close()

	var mu sync.Mutex
	var order []int
	ctx := context.Background()

	var tasks []*Task
	for i := 0; i < 20; i++ {
		i := i
		task, err := s.Submit(ctx, func(ctx context.Context) (any, error) {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i, nil
		})
		require.NoError(t, err)
		tasks = append(tasks, task)
	}

	for _, task := range tasks {
		_, err := task.Wait(ctx)
		require.NoError(t, err)
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, order, 20)
	for i, got := range order {
		assert.Equal(t, i, got, "task %d started out of order", i)
	}
}

func TestSchedulerFailureIsolation(t *testing.T) {
	s := New(2, testLogger())
	defer s.Close()

	ctx := context.Background()
	boom := errors.New("analysis backend unavailable")

	failing, err := s.Submit(ctx, func(ctx context.Context) (any, error) {
		return nil, boom
	})
	require.NoError(t, err)

	ok, err := s.Submit(ctx, func(ctx context.Context) (any, error) {
		return "fine", nil
	})
	require.NoError(t, err)

	_, werr := failing.Wait(ctx)
	assert.ErrorIs(t, werr, boom)

	val, werr := ok.Wait(ctx)
	require.NoError(t, werr)
	assert.Equal(t, "fine", val)
}

func TestSchedulerRecoversPanics(t *testing.T) {
	s := New(1, testLogger())
	defer s.Close()

	ctx := context.Background()
	panicking, err := s.Submit(ctx, func(ctx context.Context) (any, error) {
		panic("rule engine bug")
	})
	require.NoError(t, err)

	_, werr := panicking.Wait(ctx)
	require.Error(t, werr)
	assert.Contains(t, werr.Error(), "task panicked")

	// The pool must survive the panic
	after, err := s.Submit(ctx, func(ctx context.Context) (any, error) {
		return 42, nil
	})
	require.NoError(t, err)
	val, werr := after.Wait(ctx)
	require.NoError(t, werr)
	assert.Equal(t, 42, val)
}

func TestSchedulerSubmitAfterClose(t *testing.T) {
	s := New(1, testLogger())
	s.Close()

	_, err := s.Submit(context.Background(), func(ctx context.Context) (any, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestSchedulerZeroSubmissions(t *testing.T) {
	s := New(4, testLogger())

	done := make(chan struct{})
	go func() {
		s.Close()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close did not return with an empty queue")
	}
}

func TestSchedulerCancelledContext(t *testing.T) {
	s := New(1, testLogger())
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	task, err := s.Submit(ctx, func(ctx context.Context) (any, error) {
		t.Error("task body must not run with a cancelled context")
		return nil, nil
	})
	require.NoError(t, err)

	_, werr := task.Wait(context.Background())
	assert.ErrorIs(t, werr, context.Canceled)
}
