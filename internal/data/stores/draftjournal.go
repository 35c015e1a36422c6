package stores

import (
	"context"
	"fmt"
	"time"

	"github.com/colonyops/coach/internal/core/document"
	"github.com/colonyops/coach/internal/data/db"
)

// DraftJournal implements document.Journal using SQLite.
type DraftJournal struct {
	db *db.DB
}

var _ document.Journal = (*DraftJournal)(nil)

// NewDraftJournal creates a new SQLite-backed draft journal.
func NewDraftJournal(db *db.DB) *DraftJournal {
	return &DraftJournal{db: db}
}

// Put records the unsaved content of a document, replacing older entries.
func (j *DraftJournal) Put(ctx context.Context, e document.JournalEntry) error {
	if e.UpdatedAt.IsZero() {
		e.UpdatedAt = time.Now()
	}

	_, err := j.db.Conn().ExecContext(ctx, `
		INSERT INTO draft_journal (document_id, title, content, revision, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (document_id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			revision = excluded.revision,
			updated_at = excluded.updated_at
	`, e.DocumentID, e.Title, e.Content, int64(e.Revision), e.UpdatedAt.UnixNano())
	if err != nil {
		return fmt.Errorf("journal put %q: %w", e.DocumentID, err)
	}
	return nil
}

// Get returns the journaled content of a document.
func (j *DraftJournal) Get(ctx context.Context, documentID string) (document.JournalEntry, error) {
	var (
		e        document.JournalEntry
		revision int64
		updated  int64
	)
	err := j.db.Conn().QueryRowContext(ctx,
		"SELECT document_id, title, content, revision, updated_at FROM draft_journal WHERE document_id = ?",
		documentID,
	).Scan(&e.DocumentID, &e.Title, &e.Content, &revision, &updated)
	if IsNotFoundError(err) {
		return e, document.ErrNotFound
	}
	if err != nil {
		return e, fmt.Errorf("journal get %q: %w", documentID, err)
	}

	e.Revision = uint64(revision)
	e.UpdatedAt = time.Unix(0, updated)
	return e, nil
}

// Delete removes the journal entry of a document. Missing entries are ignored.
func (j *DraftJournal) Delete(ctx context.Context, documentID string) error {
	if _, err := j.db.Conn().ExecContext(ctx, "DELETE FROM draft_journal WHERE document_id = ?", documentID); err != nil {
		return fmt.Errorf("journal delete %q: %w", documentID, err)
	}
	return nil
}

// List returns all journal entries, most recently updated first.
func (j *DraftJournal) List(ctx context.Context) ([]document.JournalEntry, error) {
	rows, err := j.db.Conn().QueryContext(ctx,
		"SELECT document_id, title, content, revision, updated_at FROM draft_journal ORDER BY updated_at DESC")
	if err != nil {
		return nil, fmt.Errorf("journal list: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []document.JournalEntry
	for rows.Next() {
		var (
			e        document.JournalEntry
			revision int64
			updated  int64
		)
		if err := rows.Scan(&e.DocumentID, &e.Title, &e.Content, &revision, &updated); err != nil {
			return nil, fmt.Errorf("journal list scan: %w", err)
		}
		e.Revision = uint64(revision)
		e.UpdatedAt = time.Unix(0, updated)
		out = append(out, e)
	}
	return out, rows.Err()
}
