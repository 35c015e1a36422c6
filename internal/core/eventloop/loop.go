// Package eventloop provides a single-goroutine cooperative scheduler. Every
// piece of session state is owned by the loop: callers post closures, timers
// fire on the loop, and blocking work resumes on the loop through Go. Two
// tasks never run at the same time, so the state they touch needs no locks.
package eventloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// ErrStopped is returned when work is posted to a loop that has exited.
var ErrStopped = errors.New("event loop stopped")

// Scheduler is the subset of the loop used by components that only need to
// defer work. Tests substitute a manual implementation.
type Scheduler interface {
	Post(fn func()) bool
	AfterFunc(d time.Duration, fn func()) *Timer
}

// Loop executes posted tasks in FIFO order on a single goroutine.
type Loop struct {
	queue  chan func()
	done   chan struct{}
	logger zerolog.Logger

	mu      sync.Mutex
	stopped bool
}

// New creates a loop with the given queue capacity.
func New(buffer int, logger zerolog.Logger) *Loop {
	if buffer <= 0 {
		buffer = 256
	}
	return &Loop{
		queue:  make(chan func(), buffer),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Run processes tasks until ctx is cancelled. Pending tasks are dropped.
func (l *Loop) Run(ctx context.Context) {
	defer func() {
		l.mu.Lock()
		l.stopped = true
		l.mu.Unlock()
		close(l.done)
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case fn := <-l.queue:
			l.exec(fn)
		}
	}
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

func (l *Loop) exec(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().Str("panic", fmt.Sprint(r)).Msg("event loop task panicked")
		}
	}()
	fn()
}

// Post enqueues fn. It blocks while the queue is full and returns false if
// the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	l.mu.Lock()
	stopped := l.stopped
	l.mu.Unlock()
	if stopped {
		return false
	}

	select {
	case l.queue <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Call posts fn and waits for it to finish. Must not be called from the loop.
func (l *Loop) Call(fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrStopped
	}
}

// AfterFunc runs fn on the loop after d. The returned timer must only be
// stopped from the loop.
func (l *Loop) AfterFunc(d time.Duration, fn func()) *Timer {
	t := &Timer{}
	t.inner = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped {
				return
			}
			t.stopped = true
			fn()
		})
	})
	return t
}

// Timer is a cancellable timer whose callback runs on the loop.
type Timer struct {
	inner   *time.Timer
	stopped bool
	manual  func()
}

// NewManualTimer returns a timer for Scheduler fakes; stop is called on Stop.
func NewManualTimer(stop func()) *Timer {
	return &Timer{manual: stop}
}

// Stop prevents the callback from running. It reports whether the call
// stopped the timer before it fired. Safe on a nil timer.
func (t *Timer) Stop() bool {
	if t == nil || t.stopped {
		return false
	}
	t.stopped = true
	if t.inner != nil {
		t.inner.Stop()
	}
	if t.manual != nil {
		t.manual()
	}
	return true
}

// Stopped reports whether the timer was stopped or has fired.
func (t *Timer) Stopped() bool {
	return t == nil || t.stopped
}

// Fired marks a manual timer as fired. Returns false if it was stopped.
func (t *Timer) Fired() bool {
	if t.stopped {
		return false
	}
	t.stopped = true
	return true
}

// Go runs work on a new goroutine and delivers its result to then on the
// loop. If the loop stops first the result is discarded.
//
// Schedulers that report Inline() == true run work synchronously and still
// deliver the result through Post, which keeps tests deterministic.
func Go[T any](s Scheduler, work func() (T, error), then func(T, error)) {
	if in, ok := s.(interface{ Inline() bool }); ok && in.Inline() {
		v, err := work()
		s.Post(func() { then(v, err) })
		return
	}
	go func() {
		v, err := work()
		s.Post(func() { then(v, err) })
	}()
}
