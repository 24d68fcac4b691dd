// ABOUTME: Generic bounded-concurrency task scheduler with FIFO admission.
// ABOUTME: Limits in-flight operations without spawning a goroutine per waiting task.

package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrClosed is returned by Submit after Close has been called
var ErrClosed = errors.New("scheduler: closed")

// Func is a unit of work. It receives the context given at submission time.
type Func func(ctx context.Context) (any, error)

// Task is the caller's handle on a submitted operation
type Task struct {
	ctx   context.Context
	fn    Func
	done  chan struct{}
	value any
	err   error
}

// Wait blocks until the task settles or ctx is cancelled. A task's failure
// is reported here and nowhere else; it never affects sibling tasks.
func (t *Task) Wait(ctx context.Context) (any, error) {
	select {
	case <-t.done:
		return t.value, t.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Scheduler runs submitted tasks on a fixed pool of workers. At most N tasks
// execute concurrently; tasks waiting for a worker are started in submission
// order.
type Scheduler struct {
	mu     sync.Mutex
	cond   *sync.Cond
	queue  []*Task
	closed bool

	workers sync.WaitGroup
	logger  *logrus.Logger
}

// New creates a scheduler with the given concurrency limit. Panics if limit < 1.
func New(limit int, logger *logrus.Logger) *Scheduler {
	if limit < 1 {
		panic(fmt.Sprintf("scheduler: concurrency limit must be positive, got %d", limit))
	}

	s := &Scheduler{logger: logger}
	s.cond = sync.NewCond(&s.mu)

	s.workers.Add(limit)
	for i := 0; i < limit; i++ {
		go s.worker()
	}

	return s
}

// Submit enqueues fn and returns a handle to await its result. The returned
// task settles exactly once, with fn's result or error.
func (s *Scheduler) Submit(ctx context.Context, fn Func) (*Task, error) {
	t := &Task{
		ctx:  ctx,
		fn:   fn,
		done: make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.queue = append(s.queue, t)
	s.mu.Unlock()
	s.cond.Signal()

	return t, nil
}

// Close stops admission and waits for all queued and running tasks to settle
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.cond.Broadcast()

	s.workers.Wait()
}

func (s *Scheduler) worker() {
	defer s.workers.Done()

	for {
		s.mu.Lock()
		for len(s.queue) == 0 && !s.closed {
			s.cond.Wait()
		}
		if len(s.queue) == 0 && s.closed {
			s.mu.Unlock()
			return
		}
		t := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.run(t)
	}
}

func (s *Scheduler) run(t *Task) {
	defer close(t.done)
	defer func() {
		if r := recover(); r != nil {
			t.err = fmt.Errorf("task panicked: %v", r)
			if s.logger != nil {
				s.logger.WithField("panic", r).Error("Recovered panic in scheduled task")
			}
		}
	}()

	if err := t.ctx.Err(); err != nil {
		// Caller gave up before the task was admitted
		t.err = err
		return
	}

	t.value, t.err = t.fn(t.ctx)
}
