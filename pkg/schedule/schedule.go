// Package schedule runs one-shot and periodic callbacks that can be cancelled individually or
// all at once.
package schedule

import (
	"context"
	"sync"
	"time"
)

// Task is a scheduled callback.
type Task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel stops the task. A callback that is already running is not interrupted but its
// context is cancelled.
func (t *Task) Cancel() {
	t.cancel()
}

// Done is closed once the task goroutine has exited.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// Scheduler owns a set of tasks bound to one lifetime.
type Scheduler struct {
	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	stopped bool
}

// New creates a scheduler whose tasks end when parent is cancelled or Stop is called.
func New(parent context.Context) *Scheduler {
	ctx, cancel := context.WithCancel(parent)
	return &Scheduler{ctx: ctx, cancel: cancel}
}

// After runs fn once after d.
func (s *Scheduler) After(d time.Duration, fn func(ctx context.Context)) *Task {
	return s.spawn(func(ctx context.Context) {
		timer := time.NewTimer(d)
		defer timer.Stop()

		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if ctx.Err() != nil {
			return
		}
		fn(ctx)
	})
}

// Every runs fn every d until cancelled. The first call happens after d.
func (s *Scheduler) Every(d time.Duration, fn func(ctx context.Context)) *Task {
	return s.spawn(func(ctx context.Context) {
		ticker := time.NewTicker(d)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if ctx.Err() != nil {
					return
				}
				fn(ctx)
			}
		}
	})
}

// Go runs fn immediately in the scheduler lifetime.
func (s *Scheduler) Go(fn func(ctx context.Context)) *Task {
	return s.spawn(fn)
}

// Stop cancels every task and waits for running callbacks to return. No callback starts
// after Stop returns. Stop must not be called from inside a callback.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	s.stopped = true
	s.cancel()
	s.mu.Unlock()

	s.wg.Wait()
}

// Stopped reports whether Stop was called.
func (s *Scheduler) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

func (s *Scheduler) spawn(run func(ctx context.Context)) *Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithCancel(s.ctx)
	t := &Task{cancel: cancel, done: make(chan struct{})}

	if s.stopped {
		cancel()
		close(t.done)
		return t
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer close(t.done)
		defer cancel()
		run(ctx)
	}()

	return t
}
