package tui

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/colonyops/coach/internal/coach"
	"github.com/colonyops/coach/internal/core/document"
	"github.com/colonyops/coach/internal/core/session"
	"github.com/colonyops/coach/pkg/tuitest"
)

func TestConnectionSegment(t *testing.T) {
	tests := []struct {
		name string
		conn session.Connection
		want string
	}{
		{"connected", session.Connection{Status: session.StatusConnected}, "● connected"},
		{"first attempt", session.Connection{Status: session.StatusConnecting, Attempt: 1}, "◌ connecting"},
		{"reconnecting", session.Connection{Status: session.StatusConnecting, Attempt: 3}, "◌ reconnecting (attempt 3)"},
		{
			"gave up",
			session.Connection{Status: session.StatusDisconnected, Cause: "ticket rejected", Terminal: true},
			"○ disconnected: ticket rejected · ctrl+r to reconnect",
		},
		{
			"logged out",
			session.Connection{Status: session.StatusDisconnected, Cause: "closed", Terminal: true, Requested: true},
			"○ disconnected · ctrl+r to reconnect",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tuitest.StripANSI(connectionSegment(tt.conn)))
		})
	}
}

func TestDraftSegment(t *testing.T) {
	saved := time.Date(2026, 3, 1, 9, 30, 0, 0, time.Local)

	tests := []struct {
		name  string
		draft document.Draft
		want  string
	}{
		{"stale wins", document.Draft{Title: "Run", Dirty: true, Stale: true}, "Run assistant edit discarded"},
		{"saving", document.Draft{Title: "Run", Dirty: true, Saving: true}, "Run saving…"},
		{"dirty", document.Draft{Title: "Run", Dirty: true}, "Run unsaved"},
		{"saved", document.Draft{Title: "Run", SavedAt: saved}, "Run saved 09:30"},
		{"untitled", document.Draft{ID: "g1"}, "g1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := draftSegment(coach.State{Active: tt.draft, HasActive: true})
			assert.Equal(t, tt.want, tuitest.StripANSI(got))
		})
	}

	assert.Empty(t, draftSegment(coach.State{}))
}

func TestRenderStatusBar(t *testing.T) {
	st := coach.State{
		Chat:       session.Snapshot{Typing: true, UserPhase: "goal_setting"},
		Connection: session.Connection{Status: session.StatusConnected},
	}

	got := tuitest.StripANSI(renderStatusBar(st, 100, "v1.2.3"))

	assert.Contains(t, got, "connected")
	assert.Contains(t, got, "typing")
	assert.Contains(t, got, "goal setting")
	assert.Contains(t, got, "coach v1.2.3")
}
