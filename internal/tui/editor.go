package tui

import (
	"slices"

	"charm.land/bubbles/v2/textarea"
	tea "charm.land/bubbletea/v2"

	"github.com/colonyops/coach/internal/core/document"
)

// Editor is the markdown editor bound to the active draft.
//
// Local keystrokes are pushed to the session asynchronously, so snapshots
// arriving afterwards may still carry older content. Editor keeps the values
// it pushed and treats a snapshot as an external change only when it matches
// neither the editor, an in-flight push, nor the last acknowledged content.
type Editor struct {
	input textarea.Model

	documentID string
	draft      document.Draft
	bound      bool

	base       string
	lastPushed string
	pending    []string
}

// edit is a local change that must be sent to the session.
type edit struct {
	documentID string
	markdown   string
}

func NewEditor() *Editor {
	ta := textarea.New()
	ta.ShowLineNumbers = false
	ta.CharLimit = 0
	ta.MaxHeight = 0
	ta.Placeholder = "No goal open. Press ctrl+g to pick one."
	return &Editor{input: ta}
}

// Sync reconciles the editor with a session snapshot. It reports whether the
// editor content was replaced.
func (e *Editor) Sync(d document.Draft, ok bool) bool {
	if !ok {
		if !e.bound {
			return false
		}
		*e = Editor{input: e.input}
		e.input.SetValue("")
		return true
	}

	e.draft = d

	if !e.bound || d.ID != e.documentID {
		e.bind(d)
		return true
	}

	current := e.input.Value()
	switch {
	case d.Markdown == current:
		e.pending = nil
		e.base = d.Markdown
		e.lastPushed = d.Markdown
		return false
	case slices.Contains(e.pending, d.Markdown):
		i := slices.Index(e.pending, d.Markdown)
		e.pending = e.pending[i+1:]
		e.base = d.Markdown
		return false
	case d.Markdown == e.base && len(e.pending) > 0:
		return false
	default:
		e.bind(d)
		return true
	}
}

func (e *Editor) bind(d document.Draft) {
	e.documentID = d.ID
	e.bound = true
	e.base = d.Markdown
	e.lastPushed = d.Markdown
	e.pending = nil
	e.input.SetValue(d.Markdown)
}

// Update applies input to the textarea and returns the resulting edit, if
// the content changed.
func (e *Editor) Update(msg tea.Msg) (tea.Cmd, *edit) {
	if !e.bound {
		return nil, nil
	}

	var cmd tea.Cmd
	e.input, cmd = e.input.Update(msg)

	value := e.input.Value()
	if value == e.lastPushed {
		return cmd, nil
	}
	e.lastPushed = value
	e.pending = append(e.pending, value)
	return cmd, &edit{documentID: e.documentID, markdown: value}
}

func (e *Editor) Focus() tea.Cmd { return e.input.Focus() }
func (e *Editor) Blur()          { e.input.Blur() }

func (e *Editor) SetSize(width, height int) {
	e.input.SetWidth(max(width, 1))
	e.input.SetHeight(max(height, 1))
}

// Bound reports whether a draft is open.
func (e *Editor) Bound() bool { return e.bound }

// Draft returns the last synced draft.
func (e *Editor) Draft() document.Draft { return e.draft }

// Value returns the current editor content.
func (e *Editor) Value() string { return e.input.Value() }

func (e *Editor) View() string { return e.input.View() }
