package tui

import (
	"fmt"
	"strings"

	lipgloss "charm.land/lipgloss/v2"

	"github.com/colonyops/coach/internal/coach"
	"github.com/colonyops/coach/internal/core/session"
	"github.com/colonyops/coach/internal/core/styles"
)

func connectionSegment(c session.Connection) string {
	switch c.Status {
	case session.StatusConnected:
		return styles.StatusConnectedStyle.Render("● connected")
	case session.StatusConnecting:
		label := "◌ connecting"
		if c.Attempt > 1 {
			label = fmt.Sprintf("◌ reconnecting (attempt %d)", c.Attempt)
		}
		return styles.StatusConnectingStyle.Render(label)
	default:
		label := "○ disconnected"
		if c.Cause != "" && !c.Requested {
			label += ": " + c.Cause
		}
		if c.Terminal {
			label += " · ctrl+r to reconnect"
		}
		return styles.StatusDisconnectedStyle.Render(label)
	}
}

func draftSegment(st coach.State) string {
	if !st.HasActive {
		return ""
	}
	d := st.Active
	title := d.Title
	if title == "" {
		title = d.ID
	}

	var flag string
	switch {
	case d.Stale:
		flag = styles.StatusStaleStyle.Render("assistant edit discarded")
	case d.Saving:
		flag = styles.StatusBusyStyle.Render("saving…")
	case d.Dirty:
		flag = styles.StatusConnectingStyle.Render("unsaved")
	case !d.SavedAt.IsZero():
		flag = "saved " + d.SavedAt.Local().Format("15:04")
	}

	if flag == "" {
		return title
	}
	return title + " " + flag
}

// renderStatusBar renders the one-line session summary.
func renderStatusBar(st coach.State, width int, version string) string {
	sep := " " + styles.IconDot + " "
	segments := []string{connectionSegment(st.Connection)}

	switch {
	case st.Chat.ToolBusy:
		segments = append(segments, styles.StatusBusyStyle.Render("updating goal"))
	case st.Chat.Streaming != "" || st.Chat.Typing:
		segments = append(segments, styles.StatusBusyStyle.Render("typing"))
	}

	if d := draftSegment(st); d != "" {
		segments = append(segments, d)
	}

	if st.Chat.UserPhase != "" {
		segments = append(segments, strings.ReplaceAll(st.Chat.UserPhase, "_", " "))
	}

	left := strings.Join(segments, sep)
	right := ""
	if version != "" {
		right = "coach " + version
	}

	inner := max(width-2, 0)
	gap := inner - lipgloss.Width(left) - lipgloss.Width(right)
	line := left
	if gap > 0 {
		line += strings.Repeat(" ", gap) + right
	}

	return styles.StatusBarStyle.Width(max(width, 1)).MaxHeight(1).Render(line)
}
