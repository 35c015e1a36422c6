package tui

import (
	"strings"

	"charm.land/bubbles/v2/viewport"
	tea "charm.land/bubbletea/v2"
	lipgloss "charm.land/lipgloss/v2"
	"github.com/charmbracelet/glamour"
	"github.com/rs/zerolog/log"

	"github.com/colonyops/coach/internal/core/session"
	"github.com/colonyops/coach/internal/core/styles"
)

// ChatView renders the conversation into a scrollable viewport. Finished
// assistant messages are rendered as markdown once per width.
type ChatView struct {
	viewport viewport.Model
	width    int

	renderer      *glamour.TermRenderer
	rendererWidth int
	rendered      map[string]string

	snapshot session.Snapshot
}

func NewChatView() *ChatView {
	return &ChatView{
		viewport: viewport.New(),
		rendered: make(map[string]string),
	}
}

// SetSize resizes the viewport and drops cached renders when the width
// changes.
func (v *ChatView) SetSize(width, height int) {
	width, height = max(width, 1), max(height, 1)
	if width != v.width {
		v.width = width
		clear(v.rendered)
	}
	v.viewport.SetWidth(width)
	v.viewport.SetHeight(height)
	v.refresh()
}

// SetSnapshot replaces the displayed conversation. The view follows new
// output when it was scrolled to the bottom.
func (v *ChatView) SetSnapshot(s session.Snapshot) {
	v.snapshot = s
	v.refresh()
}

func (v *ChatView) refresh() {
	follow := v.viewport.AtBottom() || v.viewport.TotalLineCount() == 0
	v.viewport.SetContent(v.content())
	if follow {
		v.viewport.GotoBottom()
	}
}

func (v *ChatView) content() string {
	s := v.snapshot
	blocks := make([]string, 0, len(s.Messages)+3)

	for _, msg := range s.Messages {
		blocks = append(blocks, v.renderMessage(msg))
	}

	if s.Streaming != "" {
		blocks = append(blocks, styles.AssistantLabelStyle.Render("Coach")+"\n"+
			v.wrap(styles.StreamingStyle, s.Streaming+"▍"))
	} else if s.Typing {
		blocks = append(blocks, styles.TextMutedStyle.Render("Coach is typing…"))
	}

	if s.ToolBusy {
		blocks = append(blocks, styles.StatusBusyStyle.UnsetBackground().Render("Updating your goal…"))
	}

	if s.LastError != "" {
		line := s.LastError
		if s.NextAvailable != "" {
			line += " (available again " + s.NextAvailable + ")"
		}
		blocks = append(blocks, v.wrap(styles.ErrorTextStyle, line))
	}

	if len(blocks) == 0 {
		return styles.TextMutedStyle.Render("Say hello to start the session.")
	}
	return strings.Join(blocks, "\n\n")
}

func (v *ChatView) renderMessage(msg session.Message) string {
	ts := styles.TextMutedStyle.Render(msg.Timestamp.Local().Format("15:04"))

	if msg.Role == session.RoleUser {
		return styles.UserLabelStyle.Render("You") + " " + ts + "\n" +
			v.wrap(lipgloss.NewStyle(), msg.Content)
	}

	body, ok := v.rendered[msg.ID]
	if !ok || msg.ID == "" {
		body = v.markdown(msg.Content)
		if msg.ID != "" {
			v.rendered[msg.ID] = body
		}
	}
	return styles.AssistantLabelStyle.Render("Coach") + " " + ts + "\n" + body
}

func (v *ChatView) wrap(style lipgloss.Style, text string) string {
	return style.Width(max(v.width, 1)).Render(text)
}

// markdown renders content with glamour, falling back to plain wrapped text
// when the renderer fails.
func (v *ChatView) markdown(content string) string {
	if v.renderer == nil || v.rendererWidth != v.width {
		r, err := glamour.NewTermRenderer(
			glamour.WithStyles(styles.GlamourStyle()),
			glamour.WithWordWrap(max(v.width-2, 10)),
		)
		if err != nil {
			log.Debug().Err(err).Msg("create markdown renderer")
			return v.wrap(lipgloss.NewStyle(), content)
		}
		v.renderer, v.rendererWidth = r, v.width
	}

	out, err := v.renderer.Render(content)
	if err != nil {
		log.Debug().Err(err).Msg("render markdown")
		return v.wrap(lipgloss.NewStyle(), content)
	}
	return strings.Trim(out, "\n")
}

// Update forwards scroll input to the viewport.
func (v *ChatView) Update(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	v.viewport, cmd = v.viewport.Update(msg)
	return cmd
}

func (v *ChatView) PageUp()   { v.viewport.PageUp() }
func (v *ChatView) PageDown() { v.viewport.PageDown() }

func (v *ChatView) View() string {
	return v.viewport.View()
}
