package looptest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/colonyops/coach/internal/core/eventloop"
)

func TestScheduler_AdvanceFiresDueTimers(t *testing.T) {
	s := New()

	var order []string
	s.AfterFunc(2*time.Second, func() { order = append(order, "b") })
	s.AfterFunc(time.Second, func() { order = append(order, "a") })
	s.AfterFunc(5*time.Second, func() { order = append(order, "c") })

	s.Advance(3 * time.Second)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, 1, s.PendingTimers())

	s.Advance(2 * time.Second)
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestScheduler_StoppedTimerDoesNotFire(t *testing.T) {
	s := New()

	fired := false
	timer := s.AfterFunc(time.Second, func() { fired = true })
	timer.Stop()

	s.Advance(time.Minute)
	assert.False(t, fired)
	assert.Equal(t, 0, s.PendingTimers())
}

func TestScheduler_GoRunsInlineAndDeliversOnDrain(t *testing.T) {
	s := New()

	worked := false
	got := ""
	eventloop.Go(s, func() (string, error) {
		worked = true
		return "ok", nil
	}, func(v string, _ error) { got = v })

	assert.True(t, worked)
	assert.Empty(t, got)

	s.Drain()
	assert.Equal(t, "ok", got)
}

func TestScheduler_TimerScheduledFromTimer(t *testing.T) {
	s := New()

	count := 0
	var tick func()
	tick = func() {
		count++
		if count < 3 {
			s.AfterFunc(time.Second, tick)
		}
	}
	s.AfterFunc(time.Second, tick)

	s.Advance(10 * time.Second)
	assert.Equal(t, 3, count)
	assert.Equal(t, 10*time.Second, s.Now())
}
