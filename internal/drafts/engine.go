// Package drafts reconciles the three sources of document content: local
// keystrokes, assistant tool mutations, and the server's persisted copy.
//
// The engine keeps one draft per document id with at most one bound to the
// editor. Local edits mark the draft dirty and arm an idle timer that
// persists it. A tool mutation for the active document replaces a clean
// draft and is discarded against a dirty one. Mutations for other
// documents wait until that document is bound.
//
// All methods must be called on the event loop.
package drafts

import (
	"context"
	"errors"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/colonyops/coach/internal/core/docformat"
	"github.com/colonyops/coach/internal/core/document"
	"github.com/colonyops/coach/internal/core/eventbus"
	"github.com/colonyops/coach/internal/core/eventloop"
)

// ErrNotActive is returned by ApplyLocalEdit for a document that is not
// bound to the editor.
var ErrNotActive = errors.New("document is not active")

// Options tunes the engine.
type Options struct {
	IdleDelay   time.Duration
	SaveTimeout time.Duration
}

// Engine owns every draft of the session.
type Engine struct {
	sched     eventloop.Scheduler
	persister document.Persister
	journal   document.Journal
	worker    *eventloop.Worker
	writes    journalWrites
	bus       *eventbus.EventBus
	opts      Options
	log       zerolog.Logger

	drafts  map[string]*draft
	active  string
	pending map[string]document.Mutation
}

type draft struct {
	id       string
	title    string
	content  string
	markdown string

	dirty    bool
	stale    bool
	revision uint64
	savedAt  time.Time

	idle *eventloop.Timer

	saving      bool
	savingRev   uint64
	waiters     []func(error) // resolved by the in-flight save
	nextWaiters []func(error) // resolved by the save after it
}

// Deps are the collaborators of an Engine. Journal and Bus may be nil.
type Deps struct {
	Scheduler eventloop.Scheduler
	Persister document.Persister
	Journal   document.Journal
	Bus       *eventbus.EventBus
	Logger    zerolog.Logger
}

// New creates an engine with no drafts.
func New(deps Deps, opts Options) *Engine {
	if opts.IdleDelay <= 0 {
		opts.IdleDelay = 60 * time.Second
	}
	if opts.SaveTimeout <= 0 {
		opts.SaveTimeout = 30 * time.Second
	}
	return &Engine{
		sched:     deps.Scheduler,
		persister: deps.Persister,
		journal:   deps.Journal,
		worker:    eventloop.NewWorker(deps.Scheduler, 64),
		bus:       deps.Bus,
		opts:      opts,
		log:       deps.Logger,
		drafts:    make(map[string]*draft),
		pending:   make(map[string]document.Mutation),
		writes:    journalWrites{latest: make(map[string]document.JournalEntry)},
	}
}

// BindActive makes goal the document bound to the editor. The server copy
// seeds the draft unless a dirty in-memory draft exists or the draft already
// holds newer content. A previously active dirty draft is persisted in the
// background. A buffered tool mutation for the goal is applied now unless
// the server copy is newer; otherwise unsaved content from the local journal
// is restored.
func (e *Engine) BindActive(goal document.Goal) document.Draft {
	id := goal.ID
	if e.active != "" && e.active != id {
		e.unbind()
	}

	d := e.drafts[id]
	if d == nil {
		d = &draft{id: id}
		e.drafts[id] = d
	}
	updated := goal.UpdatedAt.Time
	if !d.dirty && !d.saving && (d.savedAt.IsZero() || updated.IsZero() || !updated.Before(d.savedAt)) {
		d.content = goal.Content
		d.markdown = docformat.Project(goal.Content)
		if !updated.IsZero() {
			d.savedAt = updated
		}
	}
	if goal.Title != "" {
		d.title = goal.Title
	}
	e.active = id

	m, ok := e.pending[id]
	if ok {
		delete(e.pending, id)
		if !m.Revision.IsZero() && m.Revision.Before(updated) {
			e.log.Debug().Str("document_id", id).Msg("dropped buffered tool mutation older than server copy")
			ok = false
		}
	}
	if ok {
		e.reconcile(d, m)
	} else if !d.dirty {
		e.restore(d)
	}
	if d.dirty && !d.saving && d.idle == nil {
		e.armIdle(d)
	}

	e.publish(d)
	return e.view(d)
}

// Unbind detaches the editor. A dirty draft is persisted in the background.
func (e *Engine) Unbind() {
	if e.active == "" {
		return
	}
	e.unbind()
}

func (e *Engine) unbind() {
	d := e.drafts[e.active]
	e.active = ""
	if d == nil {
		return
	}

	if d.dirty {
		d.idle.Stop()
		d.idle = nil
		e.save(d, nil)
	}
	e.forgetIfIdle(d)
	e.publish(d)
}

// ApplyLocalEdit records a keystroke-level change to the active document
// and re-arms the idle save.
func (e *Engine) ApplyLocalEdit(id, content string) error {
	return e.applyLocal(id, content, docformat.Project(content))
}

// ApplyMarkdownEdit records editor text for the active document. The text
// is stored in the document's own format, and the draft reports it back
// exactly as typed rather than as a projection of the stored content.
func (e *Engine) ApplyMarkdownEdit(id, markdown string) error {
	if id == "" || id != e.active {
		return ErrNotActive
	}
	d := e.drafts[id]
	return e.applyLocal(id, docformat.Render(markdown, docformat.Detect(d.content)), markdown)
}

func (e *Engine) applyLocal(id, content, markdown string) error {
	if id == "" || id != e.active {
		return ErrNotActive
	}
	d := e.drafts[id]
	if d.content == content && !d.dirty {
		if d.markdown != markdown {
			d.markdown = markdown
			e.publish(d)
		}
		return nil
	}

	d.content = content
	d.markdown = markdown
	d.dirty = true
	d.revision++

	e.armIdle(d)
	e.journalPut(d)
	e.publish(d)
	return nil
}

// armIdle (re)starts the idle save for d.
func (e *Engine) armIdle(d *draft) {
	d.idle.Stop()
	d.idle = e.sched.AfterFunc(e.opts.IdleDelay, func() {
		d.idle = nil
		if e.drafts[d.id] == d && d.dirty {
			e.save(d, nil)
		}
	})
}

// ApplyToolMutation merges an assistant edit. Mutations for documents other
// than the active one are buffered, latest wins.
func (e *Engine) ApplyToolMutation(m document.Mutation) {
	if m.DocumentID == "" {
		return
	}
	if m.DocumentID != e.active {
		e.pending[m.DocumentID] = m
		e.log.Debug().Str("document_id", m.DocumentID).Msg("buffered tool mutation")
		return
	}

	d := e.drafts[m.DocumentID]
	e.reconcile(d, m)
	e.publish(d)
}

// reconcile resolves a mutation against the bound draft: remote wins over a
// clean draft, local wins over a dirty one.
func (e *Engine) reconcile(d *draft, m document.Mutation) {
	if d.dirty {
		d.stale = true
		e.log.Info().Str("document_id", d.id).Msg("discarded tool mutation for dirty draft")
		e.bus.PublishDraftMutationDiscarded(eventbus.DraftMutationDiscardedPayload{
			DocumentID: d.id,
			Title:      d.title,
		})
		return
	}

	d.content = m.Content
	d.markdown = docformat.Project(m.Content)
	d.stale = false
	if m.Title != "" {
		d.title = m.Title
	}
	if !m.Revision.IsZero() {
		d.savedAt = m.Revision
	}
	d.idle.Stop()
	d.idle = nil
	e.journalDelete(d.id)
}

// FlushIfDirty cancels pending idle saves and persists every dirty draft
// now. done receives nil once all of them are stored, or the joined save
// errors. A flush that finds a save of the same content in flight waits for
// it rather than issuing another.
func (e *Engine) FlushIfDirty(done func(error)) {
	if done == nil {
		done = func(error) {}
	}

	var dirty []*draft
	for _, d := range e.drafts {
		if d.dirty {
			dirty = append(dirty, d)
		}
	}
	if len(dirty) == 0 {
		e.sched.Post(func() { done(nil) })
		return
	}

	remaining := len(dirty)
	var errs []error
	for _, d := range dirty {
		d.idle.Stop()
		d.idle = nil
		e.save(d, func(err error) {
			if err != nil {
				errs = append(errs, err)
			}
			remaining--
			if remaining == 0 {
				done(errors.Join(errs...))
			}
		})
	}
}

// save persists d. At most one save per document is in flight; a request
// for newer content during a save is queued behind it.
func (e *Engine) save(d *draft, done func(error)) {
	if d.saving {
		if done == nil {
			return
		}
		if d.revision == d.savingRev {
			d.waiters = append(d.waiters, done)
		} else {
			d.nextWaiters = append(d.nextWaiters, done)
		}
		return
	}

	d.saving = true
	d.savingRev = d.revision
	if done != nil {
		d.waiters = append(d.waiters, done)
	}
	rev, id, content := d.revision, d.id, d.content
	persister, timeout := e.persister, e.opts.SaveTimeout
	e.log.Debug().Str("document_id", id).Uint64("revision", rev).Msg("saving draft")

	eventloop.Go(e.sched, func() (document.Goal, error) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return persister.UpdateGoal(ctx, id, content)
	}, func(goal document.Goal, err error) {
		e.saved(d, rev, goal, err)
	})
}

func (e *Engine) saved(d *draft, rev uint64, goal document.Goal, err error) {
	owned := e.drafts[d.id] == d
	d.saving = false
	waiters := d.waiters
	d.waiters = d.nextWaiters
	d.nextWaiters = nil

	if err != nil {
		e.log.Warn().Err(err).Str("document_id", d.id).Msg("draft save failed")
	} else if d.revision == rev {
		d.dirty = false
		d.savedAt = goal.UpdatedAt.Time
		if d.savedAt.IsZero() {
			d.savedAt = time.Now()
		}
		if goal.Title != "" {
			d.title = goal.Title
		}
		e.journalDelete(d.id)
	}

	for _, w := range waiters {
		w(err)
	}
	if !owned {
		return
	}

	switch {
	case len(d.waiters) > 0:
		e.save(d, nil)
	case err == nil && d.dirty:
		// newer edits arrived during the round trip
		d.idle.Stop()
		d.idle = nil
		e.save(d, nil)
	case err != nil && d.id == e.active && d.idle == nil:
		e.armIdle(d)
	}

	e.forgetIfIdle(d)
	e.publish(d)
}

// forgetIfIdle drops clean drafts that are no longer bound. Their content
// is the server's and will be refetched on the next bind.
func (e *Engine) forgetIfIdle(d *draft) {
	if d.id != e.active && !d.dirty && !d.saving {
		delete(e.drafts, d.id)
	}
}

// Active returns the draft bound to the editor.
func (e *Engine) Active() (document.Draft, bool) {
	d, ok := e.drafts[e.active]
	if !ok || e.active == "" {
		return document.Draft{}, false
	}
	return e.view(d), true
}

// Get returns the in-memory draft for id, bound or not.
func (e *Engine) Get(id string) (document.Draft, bool) {
	d, ok := e.drafts[id]
	if !ok {
		return document.Draft{}, false
	}
	return e.view(d), true
}

// Snapshot returns the active draft followed by every other draft with
// unsaved content, ordered by id.
func (e *Engine) Snapshot() []document.Draft {
	out := make([]document.Draft, 0, len(e.drafts))
	if d, ok := e.drafts[e.active]; ok && e.active != "" {
		out = append(out, e.view(d))
	}

	var rest []document.Draft
	for id, d := range e.drafts {
		if id == e.active || (!d.dirty && !d.saving) {
			continue
		}
		rest = append(rest, e.view(d))
	}
	slices.SortFunc(rest, func(a, b document.Draft) int { return strings.Compare(a.ID, b.ID) })
	return append(out, rest...)
}

// Pending reports whether a tool mutation is buffered for id.
func (e *Engine) Pending(id string) bool {
	_, ok := e.pending[id]
	return ok
}

// Clear drops all drafts and buffered mutations. In-flight saves complete
// but no longer affect engine state.
func (e *Engine) Clear() {
	for _, d := range e.drafts {
		d.idle.Stop()
		d.idle = nil
	}
	e.drafts = make(map[string]*draft)
	e.pending = make(map[string]document.Mutation)
	e.active = ""
}

// Close clears the engine and waits for journal writes to finish.
func (e *Engine) Close() {
	e.Clear()
	e.worker.Close()
}

func (e *Engine) view(d *draft) document.Draft {
	return document.Draft{
		ID:       d.id,
		Title:    d.title,
		Content:  d.content,
		Markdown: d.markdown,
		Dirty:    d.dirty,
		Saving:   d.saving,
		Stale:    d.stale,
		Revision: d.revision,
		Active:   d.id == e.active,
		SavedAt:  d.savedAt,
	}
}

func (e *Engine) publish(d *draft) {
	e.bus.PublishDraftUpdated(eventbus.DraftUpdatedPayload{Draft: e.view(d)})
}
