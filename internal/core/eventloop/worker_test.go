package eventloop

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// nopScheduler satisfies Scheduler for code that never posts.
type nopScheduler struct{}

func (nopScheduler) Post(func()) bool                       { return true }
func (nopScheduler) AfterFunc(time.Duration, func()) *Timer { return NewManualTimer(func() {}) }

type inlineScheduler struct{ nopScheduler }

func (inlineScheduler) Inline() bool { return true }

func TestWorker_RunsInOrder(t *testing.T) {
	w := NewWorker(nopScheduler{}, 4)

	var mu sync.Mutex
	var got []int
	for i := range 20 {
		assert.True(t, w.Submit(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}
	w.Close()

	want := make([]int, 20)
	for i := range want {
		want[i] = i
	}
	assert.Equal(t, want, got)
}

func TestWorker_SubmitAfterClose(t *testing.T) {
	w := NewWorker(nopScheduler{}, 0)
	w.Close()
	w.Close()

	assert.False(t, w.Submit(func() { t.Fatal("job ran after close") }))
}

func TestWorker_InlineRunsSynchronously(t *testing.T) {
	w := NewWorker(&inlineScheduler{}, 0)

	ran := false
	w.Submit(func() { ran = true })
	assert.True(t, ran)
}

func TestWorker_SurvivesPanickingJob(t *testing.T) {
	w := NewWorker(nopScheduler{}, 0)

	ran := false
	w.Submit(func() { panic("boom") })
	w.Submit(func() { ran = true })
	w.Close()

	assert.True(t, ran)
}
