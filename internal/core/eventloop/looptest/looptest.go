// Package looptest provides a manual, deterministic eventloop.Scheduler for tests.
package looptest

import (
	"sort"
	"sync"
	"time"

	"github.com/colonyops/coach/internal/core/eventloop"
)

type pendingTimer struct {
	due   time.Duration
	seq   int
	fn    func()
	timer *eventloop.Timer
}

// Scheduler queues posted tasks until Drain and fires timers on Advance.
// Work passed to eventloop.Go runs inline.
type Scheduler struct {
	mu     sync.Mutex
	now    time.Duration
	seq    int
	queue  []func()
	timers []*pendingTimer
}

var _ eventloop.Scheduler = (*Scheduler)(nil)

// New creates a manual scheduler at virtual time zero.
func New() *Scheduler {
	return &Scheduler{}
}

// Inline makes eventloop.Go run work synchronously.
func (s *Scheduler) Inline() bool { return true }

// Post enqueues fn for the next Drain.
func (s *Scheduler) Post(fn func()) bool {
	s.mu.Lock()
	s.queue = append(s.queue, fn)
	s.mu.Unlock()
	return true
}

// AfterFunc registers fn to run once virtual time passes d.
func (s *Scheduler) AfterFunc(d time.Duration, fn func()) *eventloop.Timer {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.seq++
	pt := &pendingTimer{due: s.now + d, seq: s.seq, fn: fn}
	pt.timer = eventloop.NewManualTimer(func() {})
	s.timers = append(s.timers, pt)
	return pt.timer
}

// Drain runs queued tasks, including tasks they enqueue, until the queue is empty.
func (s *Scheduler) Drain() {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		fn := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		fn()
	}
}

// Advance moves virtual time forward, firing due timers in order and
// draining after each.
func (s *Scheduler) Advance(d time.Duration) {
	s.Drain()

	s.mu.Lock()
	target := s.now + d
	s.mu.Unlock()

	for {
		s.mu.Lock()
		sort.Slice(s.timers, func(i, j int) bool {
			if s.timers[i].due == s.timers[j].due {
				return s.timers[i].seq < s.timers[j].seq
			}
			return s.timers[i].due < s.timers[j].due
		})
		if len(s.timers) == 0 || s.timers[0].due > target {
			s.now = target
			s.mu.Unlock()
			return
		}
		next := s.timers[0]
		s.timers = s.timers[1:]
		s.now = next.due
		s.mu.Unlock()

		if next.timer.Fired() {
			next.fn()
		}
		s.Drain()
	}
}

// Now returns the virtual time elapsed since New.
func (s *Scheduler) Now() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now
}

// PendingTimers counts timers that have neither fired nor been stopped.
func (s *Scheduler) PendingTimers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.timers {
		if !t.timer.Stopped() {
			n++
		}
	}
	return n
}
