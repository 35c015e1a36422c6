package drafts

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/coach/internal/core/docformat"
	"github.com/colonyops/coach/internal/core/document"
	"github.com/colonyops/coach/internal/core/eventbus"
	"github.com/colonyops/coach/internal/core/eventbus/testbus"
	"github.com/colonyops/coach/internal/core/eventloop"
	"github.com/colonyops/coach/internal/core/eventloop/looptest"
)

type saveCall struct {
	ID      string
	Content string
}

type fakePersister struct {
	mu    sync.Mutex
	calls []saveCall
	err   error
}

func (p *fakePersister) UpdateGoal(_ context.Context, id, content string) (document.Goal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, saveCall{ID: id, Content: content})
	if p.err != nil {
		return document.Goal{}, p.err
	}
	return document.Goal{
		ID:        id,
		Content:   content,
		UpdatedAt: document.Timestamp{Time: time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)},
	}, nil
}

func (p *fakePersister) Calls() []saveCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]saveCall(nil), p.calls...)
}

func (p *fakePersister) setErr(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
}

type fakeJournal struct {
	mu      sync.Mutex
	entries map[string]document.JournalEntry
	deletes int
}

func newFakeJournal() *fakeJournal {
	return &fakeJournal{entries: map[string]document.JournalEntry{}}
}

func (j *fakeJournal) Put(_ context.Context, e document.JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[e.DocumentID] = e
	return nil
}

func (j *fakeJournal) Get(_ context.Context, id string) (document.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	e, ok := j.entries[id]
	if !ok {
		return document.JournalEntry{}, document.ErrNotFound
	}
	return e, nil
}

func (j *fakeJournal) Delete(_ context.Context, id string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.entries, id)
	j.deletes++
	return nil
}

func (j *fakeJournal) List(context.Context) ([]document.JournalEntry, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]document.JournalEntry, 0, len(j.entries))
	for _, e := range j.entries {
		out = append(out, e)
	}
	return out, nil
}

func (j *fakeJournal) has(id string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	_, ok := j.entries[id]
	return ok
}

type fixture struct {
	engine    *Engine
	sched     *looptest.Scheduler
	persister *fakePersister
	journal   *fakeJournal
}

func newFixture(t *testing.T, bus *eventbus.EventBus) *fixture {
	t.Helper()
	f := &fixture{
		sched:     looptest.New(),
		persister: &fakePersister{},
		journal:   newFakeJournal(),
	}
	f.engine = New(Deps{
		Scheduler: f.sched,
		Persister: f.persister,
		Journal:   f.journal,
		Bus:       bus,
		Logger:    zerolog.Nop(),
	}, Options{IdleDelay: time.Minute})
	t.Cleanup(f.engine.Close)
	return f
}

func goal(id, content string) document.Goal {
	return document.Goal{ID: id, Title: "Goal " + id, Content: content}
}

func (f *fixture) active(t *testing.T) document.Draft {
	t.Helper()
	d, ok := f.engine.Active()
	require.True(t, ok)
	return d
}

func TestBindActive(t *testing.T) {
	f := newFixture(t, nil)

	d := f.engine.BindActive(goal("g1", "# Plan"))

	assert.Equal(t, "g1", d.ID)
	assert.Equal(t, "Goal g1", d.Title)
	assert.Equal(t, "# Plan", d.Content)
	assert.Equal(t, "# Plan", d.Markdown)
	assert.True(t, d.Active)
	assert.False(t, d.Dirty)
}

func TestBindActive_ProjectsBlocksToMarkdown(t *testing.T) {
	f := newFixture(t, nil)

	d := f.engine.BindActive(goal("g1", `[{"type":"heading","props":{"level":2},"content":[{"type":"text","text":"Why"}]}]`))
	assert.Equal(t, "## Why", d.Markdown)
}

func TestApplyLocalEdit_RequiresActive(t *testing.T) {
	f := newFixture(t, nil)
	assert.ErrorIs(t, f.engine.ApplyLocalEdit("g1", "x"), ErrNotActive)

	f.engine.BindActive(goal("g1", ""))
	assert.ErrorIs(t, f.engine.ApplyLocalEdit("g2", "x"), ErrNotActive)
	assert.NoError(t, f.engine.ApplyLocalEdit("g1", "x"))
}

func TestApplyLocalEdit_IdleSaveIsDebounced(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.BindActive(goal("g1", "A"))

	require.NoError(t, f.engine.ApplyLocalEdit("g1", "B"))
	assert.True(t, f.active(t).Dirty)

	f.sched.Advance(30 * time.Second)
	require.NoError(t, f.engine.ApplyLocalEdit("g1", "C"))

	f.sched.Advance(59 * time.Second)
	assert.Empty(t, f.persister.Calls())

	f.sched.Advance(time.Second)
	assert.Equal(t, []saveCall{{ID: "g1", Content: "C"}}, f.persister.Calls())
	assert.False(t, f.active(t).Dirty)
}

func TestApplyLocalEdit_UnchangedContentIsNoop(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.BindActive(goal("g1", "A"))

	require.NoError(t, f.engine.ApplyLocalEdit("g1", "A"))
	assert.False(t, f.active(t).Dirty)
	assert.Equal(t, 0, f.sched.PendingTimers())
}

func TestFlushIfDirty_SecondFlushJoinsFirst(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.BindActive(goal("g1", "A"))
	require.NoError(t, f.engine.ApplyLocalEdit("g1", "B"))

	var results []error
	f.engine.FlushIfDirty(func(err error) { results = append(results, err) })
	f.engine.FlushIfDirty(func(err error) { results = append(results, err) })
	f.sched.Drain()

	assert.Len(t, f.persister.Calls(), 1)
	assert.Equal(t, []error{nil, nil}, results)
	assert.False(t, f.active(t).Dirty)

	f.engine.FlushIfDirty(func(err error) { results = append(results, err) })
	f.sched.Drain()
	assert.Len(t, f.persister.Calls(), 1)
	assert.Len(t, results, 3)

	f.sched.Advance(10 * time.Minute)
	assert.Len(t, f.persister.Calls(), 1, "flush cancels the idle save")
}

func TestFlushIfDirty_NothingDirty(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.BindActive(goal("g1", "A"))

	called := false
	f.engine.FlushIfDirty(func(err error) {
		called = true
		assert.NoError(t, err)
	})
	f.sched.Drain()

	assert.True(t, called)
	assert.Empty(t, f.persister.Calls())
}

func TestSave_EditDuringSaveKeepsDirtyAndResaves(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.BindActive(goal("g1", "A"))
	require.NoError(t, f.engine.ApplyLocalEdit("g1", "B"))

	var flushed error = errors.New("not called")
	f.engine.FlushIfDirty(func(err error) { flushed = err })

	// the save of "B" is in flight until the scheduler drains
	assert.True(t, f.active(t).Saving)
	require.NoError(t, f.engine.ApplyLocalEdit("g1", "C"))

	f.sched.Drain()

	assert.NoError(t, flushed)
	assert.Equal(t, []saveCall{{ID: "g1", Content: "B"}, {ID: "g1", Content: "C"}}, f.persister.Calls())
	d := f.active(t)
	assert.False(t, d.Dirty)
	assert.Equal(t, "C", d.Content)
	assert.Equal(t, 0, f.sched.PendingTimers())
}

func TestFlushIfDirty_NewerRevisionWaitsForNextSave(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.BindActive(goal("g1", "A"))
	require.NoError(t, f.engine.ApplyLocalEdit("g1", "B"))
	f.engine.FlushIfDirty(nil)

	require.NoError(t, f.engine.ApplyLocalEdit("g1", "C"))
	var savedWhenDone []saveCall
	f.engine.FlushIfDirty(func(error) { savedWhenDone = f.persister.Calls() })
	f.sched.Drain()

	require.Len(t, savedWhenDone, 2)
	assert.Equal(t, "C", savedWhenDone[1].Content)
	assert.Len(t, f.persister.Calls(), 2)
}

func TestSave_FailureKeepsDirtyAndRetriesNextIdle(t *testing.T) {
	f := newFixture(t, nil)
	f.persister.setErr(errors.New("503"))
	f.engine.BindActive(goal("g1", "A"))
	require.NoError(t, f.engine.ApplyLocalEdit("g1", "B"))

	f.sched.Advance(time.Minute)
	assert.Len(t, f.persister.Calls(), 1)
	assert.True(t, f.active(t).Dirty)
	assert.True(t, f.journal.has("g1"), "journal keeps unsaved content")

	f.persister.setErr(nil)
	f.sched.Advance(time.Minute)
	assert.Len(t, f.persister.Calls(), 2)
	assert.False(t, f.active(t).Dirty)
	assert.False(t, f.journal.has("g1"))
}

func TestFlushIfDirty_ReportsErrors(t *testing.T) {
	f := newFixture(t, nil)
	f.persister.setErr(errors.New("503"))
	f.engine.BindActive(goal("g1", "A"))
	require.NoError(t, f.engine.ApplyLocalEdit("g1", "B"))

	var got error
	f.engine.FlushIfDirty(func(err error) { got = err })
	f.sched.Drain()

	assert.ErrorContains(t, got, "503")
	assert.True(t, f.active(t).Dirty)
}

func TestToolMutation_DirtyActiveKeepsLocal(t *testing.T) {
	tb := testbus.New(t)
	f := newFixture(t, tb.EventBus)
	f.engine.BindActive(goal("g1", "A"))
	require.NoError(t, f.engine.ApplyLocalEdit("g1", "typed"))

	f.engine.ApplyToolMutation(document.Mutation{DocumentID: "g1", Content: "X"})

	d := f.active(t)
	assert.Equal(t, "typed", d.Content)
	assert.True(t, d.Dirty)
	assert.True(t, d.Stale)

	require.True(t, tb.WaitFor(eventbus.EventDraftMutationDiscarded, time.Second))
	p := tb.Payloads(eventbus.EventDraftMutationDiscarded)[0].(eventbus.DraftMutationDiscardedPayload)
	assert.Equal(t, "g1", p.DocumentID)
	assert.Equal(t, "Goal g1", p.Title)
}

func TestToolMutation_CleanActiveReplaces(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.BindActive(goal("g1", "A"))

	f.engine.ApplyToolMutation(document.Mutation{DocumentID: "g1", Title: "Renamed", Content: "Y"})

	d := f.active(t)
	assert.Equal(t, "Y", d.Content)
	assert.Equal(t, "Y", d.Markdown)
	assert.Equal(t, "Renamed", d.Title)
	assert.False(t, d.Dirty)
	assert.False(t, d.Stale)
	assert.Empty(t, f.persister.Calls())
}

func TestToolMutation_ClearsStaleOnNextRemoteWin(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.BindActive(goal("g1", "A"))
	require.NoError(t, f.engine.ApplyLocalEdit("g1", "B"))
	f.engine.ApplyToolMutation(document.Mutation{DocumentID: "g1", Content: "X"})
	require.True(t, f.active(t).Stale)

	f.engine.FlushIfDirty(nil)
	f.sched.Drain()
	f.engine.ApplyToolMutation(document.Mutation{DocumentID: "g1", Content: "Z"})

	d := f.active(t)
	assert.Equal(t, "Z", d.Content)
	assert.False(t, d.Stale)
}

func TestToolMutation_InactiveIsBufferedUntilBind(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.BindActive(goal("g1", "A"))

	f.engine.ApplyToolMutation(document.Mutation{DocumentID: "g2", Content: "first"})
	f.engine.ApplyToolMutation(document.Mutation{DocumentID: "g2", Content: "second"})

	_, ok := f.engine.Get("g2")
	assert.False(t, ok)
	assert.True(t, f.engine.Pending("g2"))
	assert.Equal(t, "A", f.active(t).Content)

	d := f.engine.BindActive(goal("g2", "server"))
	assert.Equal(t, "second", d.Content)
	assert.False(t, f.engine.Pending("g2"))
}

func TestBindActive_UnbindPersistsDirtyDraft(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.BindActive(goal("g1", "A"))
	require.NoError(t, f.engine.ApplyLocalEdit("g1", "B"))

	f.engine.BindActive(goal("g2", "other"))
	assert.Equal(t, []saveCall{{ID: "g1", Content: "B"}}, f.persister.Calls())

	f.sched.Drain()
	_, ok := f.engine.Get("g1")
	assert.False(t, ok, "clean inactive drafts are dropped")
	assert.Equal(t, "g2", f.active(t).ID)
}

func TestBindActive_KeepsDirtyInMemoryContent(t *testing.T) {
	f := newFixture(t, nil)
	f.persister.setErr(errors.New("offline"))
	f.engine.BindActive(goal("g1", "A"))
	require.NoError(t, f.engine.ApplyLocalEdit("g1", "B"))
	f.engine.BindActive(goal("g2", ""))
	f.sched.Drain()

	d := f.engine.BindActive(goal("g1", "server copy"))
	assert.Equal(t, "B", d.Content)
	assert.True(t, d.Dirty)
}

func TestBindActive_OlderServerCopyDoesNotClobberMutation(t *testing.T) {
	f := newFixture(t, nil)
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)

	g := goal("g1", "A")
	g.UpdatedAt = document.Timestamp{Time: t0}
	f.engine.BindActive(g)

	f.engine.ApplyToolMutation(document.Mutation{DocumentID: "g1", Content: "X", Revision: t0.Add(2 * time.Minute)})

	stale := goal("g1", "A")
	stale.UpdatedAt = document.Timestamp{Time: t0.Add(time.Minute)}
	d := f.engine.BindActive(stale)
	assert.Equal(t, "X", d.Content)

	fresh := goal("g1", "X2")
	fresh.UpdatedAt = document.Timestamp{Time: t0.Add(3 * time.Minute)}
	d = f.engine.BindActive(fresh)
	assert.Equal(t, "X2", d.Content)
}

func TestSnapshot_ActiveFirstThenUnsaved(t *testing.T) {
	f := newFixture(t, nil)
	f.persister.setErr(errors.New("offline"))

	f.engine.BindActive(goal("g3", "3"))
	require.NoError(t, f.engine.ApplyLocalEdit("g3", "three"))
	f.engine.BindActive(goal("g1", "1"))
	require.NoError(t, f.engine.ApplyLocalEdit("g1", "one"))
	f.engine.BindActive(goal("g2", "2"))
	f.sched.Drain()

	snap := f.engine.Snapshot()
	require.Len(t, snap, 3)
	assert.Equal(t, "g2", snap[0].ID)
	assert.True(t, snap[0].Active)
	assert.Equal(t, "g1", snap[1].ID)
	assert.Equal(t, "one", snap[1].Content)
	assert.Equal(t, "g3", snap[2].ID)
}

func TestSnapshot_Empty(t *testing.T) {
	f := newFixture(t, nil)
	assert.Empty(t, f.engine.Snapshot())
	_, ok := f.engine.Active()
	assert.False(t, ok)
}

func TestJournal_RestoresUnsavedContentOnBind(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.journal.Put(context.Background(), document.JournalEntry{DocumentID: "g1", Content: "unsaved"}))

	f.engine.BindActive(goal("g1", "server"))
	f.sched.Drain()

	d := f.active(t)
	assert.Equal(t, "unsaved", d.Content)
	assert.True(t, d.Dirty)

	f.sched.Advance(time.Minute)
	assert.Equal(t, []saveCall{{ID: "g1", Content: "unsaved"}}, f.persister.Calls())
	assert.False(t, f.journal.has("g1"))
}

func TestJournal_PendingMutationWinsOverJournal(t *testing.T) {
	f := newFixture(t, nil)
	require.NoError(t, f.journal.Put(context.Background(), document.JournalEntry{DocumentID: "g2", Content: "unsaved"}))

	f.engine.BindActive(goal("g1", ""))
	f.engine.ApplyToolMutation(document.Mutation{DocumentID: "g2", Content: "assistant"})
	f.engine.BindActive(goal("g2", "server"))
	f.sched.Drain()

	assert.Equal(t, "assistant", f.active(t).Content)
	assert.False(t, f.journal.has("g2"))
}

func TestJournal_EditsAreRecorded(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.BindActive(goal("g1", "A"))
	require.NoError(t, f.engine.ApplyLocalEdit("g1", "B"))

	entry, err := f.journal.Get(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, "B", entry.Content)
	assert.Equal(t, uint64(1), entry.Revision)
}

func TestClear_StopsTimersAndForgetsDrafts(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.BindActive(goal("g1", "A"))
	require.NoError(t, f.engine.ApplyLocalEdit("g1", "B"))
	f.engine.ApplyToolMutation(document.Mutation{DocumentID: "g2", Content: "x"})

	f.engine.Clear()

	assert.Equal(t, 0, f.sched.PendingTimers())
	assert.Empty(t, f.engine.Snapshot())
	assert.False(t, f.engine.Pending("g2"))
	f.sched.Advance(time.Hour)
	assert.Empty(t, f.persister.Calls())
}

func TestApplyMarkdownEdit_BlockDocumentKeepsTypedMarkdown(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.BindActive(goal("g1", "[]"))

	require.NoError(t, f.engine.ApplyMarkdownEdit("g1", "* buy milk"))

	d := f.active(t)
	assert.Equal(t, "* buy milk", d.Markdown)
	assert.Equal(t, docformat.FormatBlocks, docformat.Detect(d.Content))
	assert.Equal(t, "- buy milk", docformat.Project(d.Content))
	assert.True(t, d.Dirty)
}

func TestApplyMarkdownEdit_MarkdownDocumentStaysMarkdown(t *testing.T) {
	f := newFixture(t, nil)
	f.engine.BindActive(goal("g1", "# Plan"))

	require.NoError(t, f.engine.ApplyMarkdownEdit("g1", "# Plan\n\n* run"))

	d := f.active(t)
	assert.Equal(t, "# Plan\n\n* run", d.Content)
	assert.Equal(t, "# Plan\n\n* run", d.Markdown)
	assert.ErrorIs(t, f.engine.ApplyMarkdownEdit("g2", "x"), ErrNotActive)
}

func TestBindActive_DropsBufferedMutationOlderThanServerCopy(t *testing.T) {
	f := newFixture(t, nil)
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	f.engine.BindActive(goal("g2", "other"))

	f.engine.ApplyToolMutation(document.Mutation{DocumentID: "g1", Content: "AI-old", Revision: t0})
	require.True(t, f.engine.Pending("g1"))

	newer := goal("g1", "newer")
	newer.UpdatedAt = document.Timestamp{Time: t0.Add(5 * time.Minute)}
	d := f.engine.BindActive(newer)

	assert.Equal(t, "newer", d.Content)
	assert.False(t, d.Dirty)
	assert.False(t, f.engine.Pending("g1"))
}

func TestBindActive_AppliesBufferedMutationNewerThanServerCopy(t *testing.T) {
	f := newFixture(t, nil)
	t0 := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	f.engine.BindActive(goal("g2", "other"))

	f.engine.ApplyToolMutation(document.Mutation{DocumentID: "g1", Content: "AI-new", Revision: t0.Add(time.Minute)})

	older := goal("g1", "server")
	older.UpdatedAt = document.Timestamp{Time: t0}
	d := f.engine.BindActive(older)

	assert.Equal(t, "AI-new", d.Content)
}

// queuedScheduler hides Inline so the journal worker runs on its own
// goroutine.
type queuedScheduler struct {
	eventloop.Scheduler
}

type gatedJournal struct {
	*fakeJournal
	entered chan struct{}
	release chan struct{}

	mu   sync.Mutex
	puts []string
}

func (j *gatedJournal) Put(ctx context.Context, e document.JournalEntry) error {
	j.mu.Lock()
	first := len(j.puts) == 0
	j.puts = append(j.puts, e.Content)
	j.mu.Unlock()
	if first {
		close(j.entered)
		<-j.release
	}
	return j.fakeJournal.Put(ctx, e)
}

func (j *gatedJournal) Puts() []string {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]string(nil), j.puts...)
}

func TestJournal_BurstOfEditsCoalesces(t *testing.T) {
	journal := &gatedJournal{
		fakeJournal: newFakeJournal(),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
	sched := looptest.New()
	engine := New(Deps{
		Scheduler: queuedScheduler{sched},
		Persister: &fakePersister{},
		Journal:   journal,
		Logger:    zerolog.Nop(),
	}, Options{IdleDelay: time.Hour})

	engine.BindActive(goal("g1", "A"))
	require.NoError(t, engine.ApplyLocalEdit("g1", "B"))
	<-journal.entered

	content := "B"
	for i := 0; i < 200; i++ {
		content += "x"
		require.NoError(t, engine.ApplyLocalEdit("g1", content))
	}
	close(journal.release)
	engine.Close()

	assert.Equal(t, []string{"B", content}, journal.Puts())
	entry, err := journal.Get(context.Background(), "g1")
	require.NoError(t, err)
	assert.Equal(t, content, entry.Content)
}
