package drafts

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/colonyops/coach/internal/core/docformat"
	"github.com/colonyops/coach/internal/core/document"
)

const journalTimeout = 5 * time.Second

// journalWrites holds the newest unwritten entry per document. A burst of
// keystrokes queues one worker job per document; the job writes whatever
// entry is newest when it runs.
type journalWrites struct {
	mu     sync.Mutex
	latest map[string]document.JournalEntry
}

// put stores entry and reports whether a write job is already queued for it.
func (w *journalWrites) put(entry document.JournalEntry) (queued bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, queued = w.latest[entry.DocumentID]
	w.latest[entry.DocumentID] = entry
	return queued
}

func (w *journalWrites) take(id string) (document.JournalEntry, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	entry, ok := w.latest[id]
	delete(w.latest, id)
	return entry, ok
}

func (w *journalWrites) drop(id string) {
	w.mu.Lock()
	delete(w.latest, id)
	w.mu.Unlock()
}

// journalPut records unsaved content so a crash does not lose keystrokes.
func (e *Engine) journalPut(d *draft) {
	if e.journal == nil {
		return
	}
	entry := document.JournalEntry{
		DocumentID: d.id,
		Title:      d.title,
		Content:    d.content,
		Revision:   d.revision,
		UpdatedAt:  time.Now(),
	}
	if e.writes.put(entry) {
		return
	}

	id, journal, log := d.id, e.journal, e.log
	e.worker.Submit(func() {
		entry, ok := e.writes.take(id)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		defer cancel()
		if err := journal.Put(ctx, entry); err != nil {
			log.Warn().Err(err).Str("document_id", entry.DocumentID).Msg("journal write failed")
		}
	})
}

func (e *Engine) journalDelete(id string) {
	if e.journal == nil {
		return
	}
	e.writes.drop(id)

	journal, log := e.journal, e.log
	e.worker.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		defer cancel()
		if err := journal.Delete(ctx, id); err != nil {
			log.Warn().Err(err).Str("document_id", id).Msg("journal delete failed")
		}
	})
}

// restore looks up unsaved content left by a previous run. The lookup runs
// behind any queued journal writes; the result is applied only if the
// draft has not changed since.
func (e *Engine) restore(d *draft) {
	if e.journal == nil {
		return
	}
	id, rev, base := d.id, d.revision, d.content
	journal, sched, log := e.journal, e.sched, e.log

	e.worker.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), journalTimeout)
		defer cancel()
		entry, err := journal.Get(ctx, id)
		if err != nil {
			if !errors.Is(err, document.ErrNotFound) {
				log.Warn().Err(err).Str("document_id", id).Msg("journal read failed")
			}
			return
		}
		sched.Post(func() {
			if e.drafts[id] != d || d.revision != rev || d.dirty || d.content != base {
				return
			}
			if entry.Content == base {
				e.journalDelete(id)
				return
			}

			log.Info().Str("document_id", id).Msg("restored unsaved draft from journal")
			d.content = entry.Content
			d.markdown = docformat.Project(entry.Content)
			d.dirty = true
			d.revision++
			if d.id == e.active {
				e.armIdle(d)
			}
			e.publish(d)
		})
	})
}
