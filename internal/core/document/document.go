// Package document defines goal document domain types shared by the draft
// engine, the REST client and the local stores.
package document

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a document does not exist.
var ErrNotFound = errors.New("document not found")

// Phase is the lifecycle phase of a goal.
type Phase string

const (
	PhaseDraft     Phase = "draft"
	PhaseActive    Phase = "active"
	PhaseCompleted Phase = "completed"
	PhaseArchived  Phase = "archived"
)

// Milestone is a checkpoint inside a goal.
type Milestone struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	TargetDate  string `json:"target_date,omitempty"`
	Completed   bool   `json:"completed,omitempty"`
}

// Metadata holds the structured side data of a goal.
type Metadata struct {
	Deadline      string      `json:"deadline,omitempty"`
	Milestones    []Milestone `json:"milestones,omitempty"`
	Tags          []string    `json:"tags,omitempty"`
	ContentFormat string      `json:"content_format,omitempty"`
}

// Goal is the canonical stored document as returned by the server.
type Goal struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id,omitempty"`
	Title        string    `json:"title"`
	Content      string    `json:"content"`
	Phase        Phase     `json:"phase,omitempty"`
	TemplateType string    `json:"template_type,omitempty"`
	CreatedAt    Timestamp `json:"created_at,omitzero"`
	UpdatedAt    Timestamp `json:"updated_at,omitzero"`
	Metadata     Metadata  `json:"metadata"`
}

// Page is one page of the document list.
type Page struct {
	Goals      []Goal `json:"goals"`
	Total      int    `json:"total"`
	Page       int    `json:"page"`
	PageSize   int    `json:"page_size"`
	TotalPages int    `json:"total_pages"`
}

// ListOptions filters the document list.
type ListOptions struct {
	Page     int
	PageSize int
	Phase    Phase
}

// Persister stores document content and returns the canonical document.
type Persister interface {
	UpdateGoal(ctx context.Context, id, content string) (Goal, error)
}

// Fetcher reads documents from the server.
type Fetcher interface {
	ListGoals(ctx context.Context, opts ListOptions) (Page, error)
	GetGoal(ctx context.Context, id string) (Goal, error)
}

// Mutation is a full-content replacement of a document made by the
// assistant out of band.
type Mutation struct {
	DocumentID string
	Title      string
	Content    string
	// Revision is the server's updated_at for the mutated goal, if known.
	Revision time.Time
}

// Draft is an immutable view of a document draft.
type Draft struct {
	ID       string
	Title    string
	Content  string
	Markdown string
	Dirty    bool
	Saving   bool
	// Stale is set when an assistant edit was discarded in favour of local
	// keystrokes.
	Stale    bool
	Revision uint64
	Active   bool
	SavedAt  time.Time
}

// JournalEntry is locally kept unsaved draft content.
type JournalEntry struct {
	DocumentID string
	Title      string
	Content    string
	Revision   uint64
	UpdatedAt  time.Time
}

// Journal keeps unsaved draft content across restarts. Get returns
// ErrNotFound when no entry exists.
type Journal interface {
	Put(ctx context.Context, e JournalEntry) error
	Get(ctx context.Context, documentID string) (JournalEntry, error)
	Delete(ctx context.Context, documentID string) error
	List(ctx context.Context) ([]JournalEntry, error)
}
