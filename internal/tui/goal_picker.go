package tui

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "charm.land/bubbletea/v2"
	lipgloss "charm.land/lipgloss/v2"

	"github.com/colonyops/coach/internal/core/document"
	"github.com/colonyops/coach/internal/core/styles"
)

const (
	goalPickerPageSize = 10
	goalPickerWidth    = 64
	goalListTimeout    = 15 * time.Second
)

// GoalPicker is a paged modal list of goals.
type GoalPicker struct {
	lister  GoalLister
	page    document.Page
	cursor  int
	loading bool
	cached  bool
	err     error
}

func NewGoalPicker(lister GoalLister) *GoalPicker {
	return &GoalPicker{lister: lister, loading: true}
}

// Load fetches the given page.
func (p *GoalPicker) Load(page int) tea.Cmd {
	p.loading = true
	lister := p.lister
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), goalListTimeout)
		defer cancel()
		pg, cached, err := lister.List(ctx, document.ListOptions{Page: page, PageSize: goalPickerPageSize})
		return goalsLoadedMsg{page: pg, cached: cached, err: err}
	}
}

// SetResult applies a finished load.
func (p *GoalPicker) SetResult(msg goalsLoadedMsg) {
	p.loading = false
	p.err = msg.err
	if msg.err != nil {
		return
	}
	p.page = msg.page
	p.cached = msg.cached
	p.cursor = min(p.cursor, max(len(p.page.Goals)-1, 0))
}

// HandleKey processes a key. It returns the chosen goal id when one was
// selected and done when the picker should close.
func (p *GoalPicker) HandleKey(keyStr string) (selected string, done bool, cmd tea.Cmd) {
	switch keyStr {
	case "esc", "q":
		return "", true, nil
	case "up", "k":
		if p.cursor > 0 {
			p.cursor--
		}
	case "down", "j":
		if p.cursor < len(p.page.Goals)-1 {
			p.cursor++
		}
	case "left", "h":
		if !p.loading && p.page.Page > 1 {
			p.cursor = 0
			return "", false, p.Load(p.page.Page - 1)
		}
	case "right", "l":
		if !p.loading && p.page.Page < p.page.TotalPages {
			p.cursor = 0
			return "", false, p.Load(p.page.Page + 1)
		}
	case "enter":
		if p.loading || len(p.page.Goals) == 0 {
			return "", false, nil
		}
		return p.page.Goals[p.cursor].ID, true, nil
	}
	return "", false, nil
}

func (p *GoalPicker) body() string {
	switch {
	case p.err != nil:
		return styles.ErrorTextStyle.Render(fmt.Sprintf("could not load goals: %v", p.err))
	case p.loading && len(p.page.Goals) == 0:
		return styles.TextMutedStyle.Render("Loading…")
	case len(p.page.Goals) == 0:
		return styles.TextMutedStyle.Render("No goals yet. Ask the coach to create one.")
	}

	lines := make([]string, 0, len(p.page.Goals))
	for i, g := range p.page.Goals {
		title := g.Title
		if title == "" {
			title = g.ID
		}
		label := title + " " + styles.TextMutedStyle.Render(string(g.Phase))
		if i == p.cursor {
			lines = append(lines, styles.ListItemSelectedStyle.Render(label))
		} else {
			lines = append(lines, styles.ListItemStyle.Render(label))
		}
	}
	return strings.Join(lines, "\n")
}

// Overlay renders the picker centered over background.
func (p *GoalPicker) Overlay(background string, width, height int) string {
	footer := fmt.Sprintf("page %d of %d", max(p.page.Page, 1), max(p.page.TotalPages, 1))
	if p.cached {
		footer += " (cached)"
	}

	content := lipgloss.JoinVertical(
		lipgloss.Left,
		styles.ModalTitleStyle.Render("Open goal"),
		"",
		p.body(),
		"",
		styles.TextMutedStyle.Render(footer),
		styles.ModalHelpStyle.Render("↑/↓ select  ←/→ page  enter open  esc close"),
	)

	modal := styles.ModalStyle.Width(min(goalPickerWidth, max(width-4, 1))).Render(content)
	return overlayCenter(background, modal, width, height)
}
