// Package loop provides the serialized update queue every engine component runs on.
//
// All state transitions happen inside functions executed by a single goroutine. External
// events, timer expirations and network completions reach the components only by being
// posted onto the queue, so components never need locks.
package loop

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/itchan-dev/pairchat/shared/logger"
)

var ErrStopped = errors.New("loop stopped")

// Timer is a pending callback that can be cancelled.
type Timer interface {
	// Stop cancels the timer. It reports whether the callback was still pending.
	Stop() bool
}

// Scheduler creates timers whose callbacks run on the update queue.
type Scheduler interface {
	AfterFunc(d time.Duration, f func()) Timer
	Now() time.Time
}

// Runner starts network-bound work off the queue. The task runs concurrently; the
// continuation it returns (if any) is posted back onto the queue.
type Runner interface {
	Go(task func(ctx context.Context) func())
}

// Poster hands an event from another goroutine to the update queue.
type Poster interface {
	Post(f func()) error
}

type Loop struct {
	queue chan func()
	ctx   context.Context
	wg    sync.WaitGroup

	mu      sync.Mutex
	stopped bool
}

func New(size int) *Loop {
	return &Loop{
		queue: make(chan func(), size),
		ctx:   context.Background(),
	}
}

// Run drains the queue until ctx is cancelled. It must be called exactly once.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	l.ctx = ctx
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.mu.Unlock()
		l.wg.Wait()
	}()

	for {
		select {
		case f := <-l.queue:
			l.exec(f)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (l *Loop) exec(f func()) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log.Error("update panicked", "component", "loop", "panic", r)
		}
	}()
	f()
}

// Post enqueues f. It blocks while the queue is full and fails once the loop stopped.
func (l *Loop) Post(f func()) error {
	l.mu.Lock()
	stopped, ctx := l.stopped, l.ctx
	l.mu.Unlock()
	if stopped {
		return ErrStopped
	}
	select {
	case l.queue <- f:
		return nil
	case <-ctx.Done():
		return ErrStopped
	}
}

// Call runs f on the queue and waits for it to finish. It must not be used from inside
// an update.
func (l *Loop) Call(f func()) error {
	done := make(chan struct{})
	if err := l.Post(func() {
		defer close(done)
		f()
	}); err != nil {
		return err
	}
	l.mu.Lock()
	ctx := l.ctx
	l.mu.Unlock()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ErrStopped
	}
}

func (l *Loop) Now() time.Time {
	return time.Now()
}

// loopTimer flags are only touched on the queue goroutine: Stop is called by components
// and the guard below runs as a posted update.
type loopTimer struct {
	t         *time.Timer
	cancelled bool
	fired     bool
}

func (t *loopTimer) Stop() bool {
	pending := !t.cancelled && !t.fired
	t.cancelled = true
	t.t.Stop()
	return pending
}

// AfterFunc schedules f on the queue. A timer stopped after expiry but before its update
// ran is still suppressed, so no late firing reaches the caller.
func (l *Loop) AfterFunc(d time.Duration, f func()) Timer {
	lt := &loopTimer{}
	lt.t = time.AfterFunc(d, func() {
		_ = l.Post(func() {
			if lt.cancelled {
				return
			}
			lt.fired = true
			f()
		})
	})
	return lt
}

func (l *Loop) Go(task func(ctx context.Context) func()) {
	l.mu.Lock()
	ctx, stopped := l.ctx, l.stopped
	l.mu.Unlock()
	if stopped {
		return
	}

	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		next := task(ctx)
		if next != nil {
			_ = l.Post(next)
		}
	}()
}
