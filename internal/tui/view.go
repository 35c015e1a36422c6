package tui

import (
	tea "charm.land/bubbletea/v2"
	lipgloss "charm.land/lipgloss/v2"

	"github.com/colonyops/coach/internal/core/styles"
)

const (
	chatWidthPct = 55
	paneChrome   = 4 // border + horizontal padding
	paneTitle    = 1
	inputHeight  = 3 // bordered single line
	footerHeight = 2 // status bar + help
)

type paneSizes struct {
	chatW, editorW, mainH int
}

func (m Model) sizes() paneSizes {
	mainH := max(m.height-inputHeight-footerHeight, 3)
	chatW := max(m.width*chatWidthPct/100, paneChrome+1)
	editorW := max(m.width-chatW, paneChrome+1)
	return paneSizes{chatW: chatW, editorW: editorW, mainH: mainH}
}

func (m *Model) layout() {
	s := m.sizes()
	inner := s.mainH - 2 - paneTitle
	m.chat.SetSize(s.chatW-paneChrome, inner)
	m.editor.SetSize(s.editorW-paneChrome, inner)
	m.input.SetWidth(max(m.width-paneChrome-lipgloss.Width(m.input.Prompt)-1, 1))
}

func pane(title, body string, width, height int, focused bool) string {
	style := styles.PaneStyle
	if focused {
		style = styles.PaneFocusedStyle
	}
	content := lipgloss.JoinVertical(lipgloss.Left, styles.PaneTitleStyle.Render(title), body)
	return style.
		Width(width).
		Height(height).
		MaxHeight(height).
		Render(content)
}

func (m Model) editorTitle() string {
	if !m.editor.Bound() {
		return "Goal"
	}
	d := m.editor.Draft()
	if d.Title != "" {
		return d.Title
	}
	return d.ID
}

func (m Model) View() tea.View {
	if m.width == 0 || m.height == 0 {
		return tea.NewView("")
	}

	v := tea.NewView(m.render())
	v.AltScreen = true
	return v
}

func (m Model) render() string {
	s := m.sizes()
	main := lipgloss.JoinHorizontal(
		lipgloss.Top,
		pane("Chat", m.chat.View(), s.chatW, s.mainH, false),
		pane(m.editorTitle(), m.editor.View(), s.editorW, s.mainH, m.focus == focusEditor),
	)

	inputStyle := styles.PaneStyle
	if m.focus == focusInput {
		inputStyle = styles.PaneFocusedStyle
	}
	input := inputStyle.Width(m.width).Render(m.input.View())

	content := lipgloss.JoinVertical(
		lipgloss.Left,
		main,
		input,
		renderStatusBar(m.current, m.width, m.version),
		m.help.ShortHelpView(m.keys.ShortHelp()),
	)

	switch m.state {
	case statePickingGoal:
		content = m.picker.Overlay(content, m.width, m.height)
	case stateShowingNotifications:
		content = m.notificationModal.Overlay(content, m.width, m.height)
	case stateConfirmingLogout:
		content = m.modal.Overlay(content, m.width, m.height)
	}

	return m.toastView.Overlay(content, m.width, m.height)
}
