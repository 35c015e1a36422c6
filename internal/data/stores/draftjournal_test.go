package stores

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/colonyops/coach/internal/core/document"
	"github.com/colonyops/coach/internal/data/db"
)

func newTestJournal(t *testing.T) *DraftJournal {
	t.Helper()
	database, err := db.Open(t.TempDir(), db.DefaultOpenOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close() })
	return NewDraftJournal(database)
}

func TestDraftJournal_PutAndGet(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	require.NoError(t, j.Put(ctx, document.JournalEntry{
		DocumentID: "g1",
		Title:      "Learn Go",
		Content:    "# Plan",
		Revision:   3,
	}))

	got, err := j.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "Learn Go", got.Title)
	assert.Equal(t, "# Plan", got.Content)
	assert.Equal(t, uint64(3), got.Revision)
	assert.False(t, got.UpdatedAt.IsZero())
}

func TestDraftJournal_PutReplaces(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	require.NoError(t, j.Put(ctx, document.JournalEntry{DocumentID: "g1", Content: "one", Revision: 1}))
	require.NoError(t, j.Put(ctx, document.JournalEntry{DocumentID: "g1", Content: "two", Revision: 2}))

	got, err := j.Get(ctx, "g1")
	require.NoError(t, err)
	assert.Equal(t, "two", got.Content)

	all, err := j.List(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestDraftJournal_GetMissing(t *testing.T) {
	j := newTestJournal(t)

	_, err := j.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, document.ErrNotFound)
}

func TestDraftJournal_Delete(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	require.NoError(t, j.Put(ctx, document.JournalEntry{DocumentID: "g1", Content: "x"}))
	require.NoError(t, j.Delete(ctx, "g1"))
	require.NoError(t, j.Delete(ctx, "g1"), "deleting a missing entry is not an error")

	_, err := j.Get(ctx, "g1")
	assert.ErrorIs(t, err, document.ErrNotFound)
}

func TestDraftJournal_ListNewestFirst(t *testing.T) {
	ctx := context.Background()
	j := newTestJournal(t)

	base := time.Now()
	require.NoError(t, j.Put(ctx, document.JournalEntry{DocumentID: "old", Content: "a", UpdatedAt: base}))
	require.NoError(t, j.Put(ctx, document.JournalEntry{DocumentID: "new", Content: "b", UpdatedAt: base.Add(time.Second)}))

	all, err := j.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "new", all[0].DocumentID)
	assert.Equal(t, "old", all[1].DocumentID)
}
