package eventloop

import "sync"

// Worker runs jobs one at a time, in submission order, on a goroutine of
// its own. Jobs that need to touch loop state post back through the
// Scheduler. Inline schedulers run jobs synchronously.
type Worker struct {
	inline bool
	jobs   chan func()
	start  sync.Once

	mu     sync.Mutex
	closed bool
	done   chan struct{}
}

// NewWorker creates a worker for s. The goroutine starts on first Submit.
func NewWorker(s Scheduler, buffer int) *Worker {
	if buffer <= 0 {
		buffer = 64
	}
	in, ok := s.(interface{ Inline() bool })
	return &Worker{
		inline: ok && in.Inline(),
		jobs:   make(chan func(), buffer),
		done:   make(chan struct{}),
	}
}

// Submit queues job. It reports false once the worker is closed.
func (w *Worker) Submit(job func()) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return false
	}
	if w.inline {
		job()
		return true
	}
	w.start.Do(func() { go w.run() })
	w.jobs <- job
	return true
}

// Close stops accepting jobs and waits for queued ones to finish.
func (w *Worker) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return
	}
	w.closed = true
	close(w.jobs)
	started := false
	w.start.Do(func() { close(w.done) })
	select {
	case <-w.done:
	default:
		started = true
	}
	w.mu.Unlock()

	if started {
		<-w.done
	}
}

func (w *Worker) run() {
	defer close(w.done)
	for job := range w.jobs {
		runJob(job)
	}
}

func runJob(job func()) {
	defer func() { _ = recover() }()
	job()
}
