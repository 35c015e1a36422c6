package outbound

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/coach/internal/core/document"
	"github.com/colonyops/coach/internal/core/eventloop/looptest"
	"github.com/colonyops/coach/internal/drafts"
	"github.com/colonyops/coach/internal/protocol"
)

// timeline records persistence calls and sends in the order they happen.
type timeline struct {
	mu      sync.Mutex
	entries []string
	frames  []protocol.MessageFrame
	saveErr error
	sendErr error
}

func (tl *timeline) UpdateGoal(_ context.Context, id, content string) (document.Goal, error) {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.entries = append(tl.entries, "save "+id)
	if tl.saveErr != nil {
		return document.Goal{}, tl.saveErr
	}
	return document.Goal{ID: id, Content: content}, nil
}

func (tl *timeline) Send(f protocol.Outbound) error {
	tl.mu.Lock()
	defer tl.mu.Unlock()
	tl.entries = append(tl.entries, "send")
	if mf, ok := f.(protocol.MessageFrame); ok {
		tl.frames = append(tl.frames, mf)
	}
	return tl.sendErr
}

func newComposer(t *testing.T, tl *timeline) (*Composer, *drafts.Engine, *looptest.Scheduler) {
	t.Helper()
	sched := looptest.New()
	engine := drafts.New(drafts.Deps{Scheduler: sched, Persister: tl, Logger: zerolog.Nop()}, drafts.Options{})
	t.Cleanup(engine.Close)
	return New(engine, tl, "claude", zerolog.Nop()), engine, sched
}

const blockDoc = `[{"type":"heading","props":{"level":1},"content":[{"type":"text","text":"Plan"}]},` +
	`{"type":"bulletListItem","content":[{"type":"text","text":"run"}]}]`

func TestSend_FlushesBeforeSending(t *testing.T) {
	tl := &timeline{}
	c, engine, sched := newComposer(t, tl)

	engine.BindActive(document.Goal{ID: "d1", Title: "Fitness", Content: "[]"})
	require.NoError(t, engine.ApplyLocalEdit("d1", blockDoc))

	var sendErr error = errors.New("not called")
	c.Send("how am I doing?", func(err error) { sendErr = err })
	sched.Drain()

	require.NoError(t, sendErr)
	assert.Equal(t, []string{"save d1", "send"}, tl.entries)

	require.Len(t, tl.frames, 1)
	f := tl.frames[0]
	assert.Equal(t, "how am I doing?", f.Content)
	assert.Equal(t, "d1", f.ActiveGoalID)
	assert.Equal(t, "claude", f.Provider)
	assert.Equal(t, []protocol.DraftGoal{{ID: "d1", Title: "Fitness", Content: "# Plan\n\n- run"}}, f.DraftGoals)
}

func TestSend_CleanDraftsSkipPersistence(t *testing.T) {
	tl := &timeline{}
	c, engine, sched := newComposer(t, tl)
	engine.BindActive(document.Goal{ID: "d1", Title: "T", Content: "plain"})

	c.Send("hi", nil)
	sched.Drain()

	assert.Equal(t, []string{"send"}, tl.entries)
	assert.Equal(t, "plain", tl.frames[0].DraftGoals[0].Content)
}

func TestSend_FlushFailureStillSends(t *testing.T) {
	tl := &timeline{saveErr: errors.New("503")}
	c, engine, sched := newComposer(t, tl)
	engine.BindActive(document.Goal{ID: "d1", Content: ""})
	require.NoError(t, engine.ApplyLocalEdit("d1", "unsaved"))

	c.Send("hi", nil)
	sched.Drain()

	assert.Equal(t, []string{"save d1", "send"}, tl.entries)
	assert.Equal(t, "unsaved", tl.frames[0].DraftGoals[0].Content)
}

func TestSend_ReportsSendError(t *testing.T) {
	tl := &timeline{sendErr: errors.New("not connected")}
	c, _, sched := newComposer(t, tl)

	var got error
	c.Send("hi", func(err error) { got = err })
	sched.Drain()

	assert.EqualError(t, got, "not connected")
}

func TestCompose_NoDrafts(t *testing.T) {
	tl := &timeline{}
	c, _, _ := newComposer(t, tl)

	f := c.Compose("hello")
	assert.Equal(t, protocol.MessageFrame{Content: "hello", Provider: "claude"}, f)
}
