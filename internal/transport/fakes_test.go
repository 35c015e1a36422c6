package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/coach/internal/core/eventloop/looptest"
)

type fakeSocket struct {
	frames chan []byte
	done   chan struct{}
	once   sync.Once

	mu       sync.Mutex
	readErr  error
	deadline time.Time
	written  [][]byte
	closed   bool
}

// timeoutError matches the net.Error a socket returns when its read
// deadline passes.
type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func newFakeSocket() *fakeSocket {
	return &fakeSocket{frames: make(chan []byte, 16), done: make(chan struct{})}
}

func (s *fakeSocket) ReadMessage() (int, []byte, error) {
	s.mu.Lock()
	deadline := s.deadline
	s.mu.Unlock()

	var expired <-chan time.Time
	if !deadline.IsZero() {
		timer := time.NewTimer(time.Until(deadline))
		defer timer.Stop()
		expired = timer.C
	}

	select {
	case f := <-s.frames:
		return websocket.TextMessage, f, nil
	case <-expired:
		return 0, nil, timeoutError{}
	case <-s.done:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.readErr != nil {
			return 0, nil, s.readErr
		}
		return 0, nil, errors.New("use of closed network connection")
	}
}

func (s *fakeSocket) WriteMessage(_ int, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.written = append(s.written, append([]byte(nil), data...))
	return nil
}

func (s *fakeSocket) SetReadDeadline(t time.Time) error {
	s.mu.Lock()
	s.deadline = t
	s.mu.Unlock()
	return nil
}

func (s *fakeSocket) SetWriteDeadline(time.Time) error { return nil }

func (s *fakeSocket) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
	return nil
}

// fail makes the pending read return err, as a server close would.
func (s *fakeSocket) fail(err error) {
	s.mu.Lock()
	s.readErr = err
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
}

func (s *fakeSocket) Written() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.written))
	for i, w := range s.written {
		out[i] = string(w)
	}
	return out
}

func (s *fakeSocket) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type fakeDialer struct {
	sched *looptest.Scheduler

	mu      sync.Mutex
	sockets []*fakeSocket
	urls    []string
	times   []time.Duration
}

func (d *fakeDialer) queue(socks ...*fakeSocket) {
	d.mu.Lock()
	d.sockets = append(d.sockets, socks...)
	d.mu.Unlock()
}

func (d *fakeDialer) Dial(_ context.Context, rawURL string) (Socket, error) {
	now := d.sched.Now()

	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, rawURL)
	d.times = append(d.times, now)
	if len(d.sockets) == 0 {
		return nil, errors.New("connection refused")
	}
	s := d.sockets[0]
	d.sockets = d.sockets[1:]
	return s, nil
}

func (d *fakeDialer) URLs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.urls...)
}

func (d *fakeDialer) Times() []time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]time.Duration(nil), d.times...)
}

type fakeTickets struct {
	mu  sync.Mutex
	n   int
	err error
}

func (f *fakeTickets) IssueTicket(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return "", f.err
	}
	f.n++
	return fmt.Sprintf("ticket-%d", f.n), nil
}

// waitFor drains the scheduler until cond holds. Reader and writer
// goroutines post asynchronously, so tests poll.
func waitFor(t *testing.T, s *looptest.Scheduler, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		s.Drain()
		return cond()
	}, 2*time.Second, time.Millisecond)
}
