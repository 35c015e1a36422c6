// Package tui implements the Bubble Tea TUI for coach.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"charm.land/bubbles/v2/help"
	"charm.land/bubbles/v2/key"
	"charm.land/bubbles/v2/textinput"
	tea "charm.land/bubbletea/v2"
	lipgloss "charm.land/lipgloss/v2"
	"github.com/rs/zerolog/log"

	"github.com/colonyops/coach/internal/coach"
	"github.com/colonyops/coach/internal/core/document"
	"github.com/colonyops/coach/internal/core/eventbus"
	"github.com/colonyops/coach/internal/core/eventloop"
	"github.com/colonyops/coach/internal/core/notify"
	"github.com/colonyops/coach/internal/core/styles"
)

// Session is the realtime session the UI drives.
type Session interface {
	Send(text string) error
	Edit(documentID, markdown string) error
	Open(documentID string) error
	Retry() error
	Logout() error
	State() (coach.State, error)
}

// GoalLister lists goal documents for the picker.
type GoalLister interface {
	List(ctx context.Context, opts document.ListOptions) (document.Page, bool, error)
}

// NotificationHistory reads and clears persisted notifications.
type NotificationHistory interface {
	List(ctx context.Context, limit int) ([]notify.Notification, error)
	Clear(ctx context.Context) error
}

// Deps are the collaborators of the UI. Goals, Notifications and Bus may be
// nil.
type Deps struct {
	Session       Session
	Goals         GoalLister
	Notifications NotificationHistory
	Bus           *eventbus.EventBus
}

// Opts configures the TUI behavior.
type Opts struct {
	Version  string
	Warnings []string // Startup warnings to display as toasts
}

// UIState represents the current state of the TUI.
type UIState int

const (
	stateNormal UIState = iota
	stateConfirmingLogout
	statePickingGoal
	stateShowingNotifications
)

type focusArea int

const (
	focusInput focusArea = iota
	focusEditor
)

// Key constants for event handling.
const (
	keyEnter = "enter"
	keyEsc   = "esc"
)

// Model is the main Bubble Tea model for the TUI.
type Model struct {
	session Session
	goals   GoalLister
	history NotificationHistory

	bridge        *stateBridge
	notifications *NotificationBuffer

	toastController *ToastController
	toastView       *ToastView

	chat   *ChatView
	editor *Editor
	input  textinput.Model
	keys   KeyMap
	help   help.Model

	state             UIState
	focus             focusArea
	modal             Modal
	picker            *GoalPicker
	notificationModal *NotificationModal

	current coach.State
	version string
	width   int
	height  int
}

// New creates the model and subscribes it to the bus. Call before the bus
// starts delivering session events so the first updates are not missed.
func New(deps Deps, opts Opts) Model {
	input := textinput.New()
	input.Prompt = "› "
	input.Placeholder = "Message your coach"
	input.CharLimit = 0
	inputStyles := textinput.DefaultStyles(true)
	inputStyles.Cursor.Color = styles.ColorPrimary
	inputStyles.Focused.Placeholder = lipgloss.NewStyle().Foreground(styles.ColorMuted)
	inputStyles.Blurred.Placeholder = lipgloss.NewStyle().Foreground(styles.ColorMuted)
	input.SetStyles(inputStyles)
	input.Focus()

	bridge := newStateBridge()
	bridge.Attach(deps.Bus)

	buffer := NewNotificationBuffer()
	buffer.Attach(deps.Bus)

	toasts := NewToastController()
	for _, w := range opts.Warnings {
		toasts.Push(notify.Notification{Level: notify.LevelWarning, Message: w})
	}

	return Model{
		session:         deps.Session,
		goals:           deps.Goals,
		history:         deps.Notifications,
		bridge:          bridge,
		notifications:   buffer,
		toastController: toasts,
		toastView:       NewToastView(toasts),
		chat:            NewChatView(),
		editor:          NewEditor(),
		input:           input,
		keys:            DefaultKeyMap(),
		help:            help.New(),
		version:         opts.Version,
	}
}

func (m Model) Init() tea.Cmd {
	cmds := []tea.Cmd{
		fetchState(m.session),
		m.bridge.WaitForChange(),
		m.notifications.WaitForSignal(),
	}
	if cmd := m.ensureToastTick(); cmd != nil {
		cmds = append(cmds, cmd)
	}
	return tea.Batch(cmds...)
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
		m.layout()
		return m, nil

	case stateChangedMsg:
		return m, tea.Batch(fetchState(m.session), m.bridge.WaitForChange())
	case stateMsg:
		return m.handleState(msg)

	case drainNotificationsMsg:
		for _, n := range m.notifications.Drain() {
			m.toastController.Push(n)
		}
		return m, tea.Batch(m.notifications.WaitForSignal(), m.ensureToastTick())
	case toastTickMsg:
		m.toastController.Tick(toastTickInterval)
		if m.toastController.HasToasts() {
			return m, scheduleToastTick()
		}
		m.toastController.SetTicking(false)
		return m, nil

	case goalsLoadedMsg:
		if m.picker != nil {
			m.picker.SetResult(msg)
		}
		return m, nil
	case actionErrMsg:
		return m, m.notifyError("%s failed: %v", msg.action, msg.err)

	case tea.KeyPressMsg:
		return m.handleKey(msg)
	}

	return m.forward(msg)
}

func (m Model) handleState(msg stateMsg) (tea.Model, tea.Cmd) {
	if msg.err != nil {
		if !errors.Is(msg.err, eventloop.ErrStopped) {
			log.Error().Err(msg.err).Msg("read session state")
		}
		return m, nil
	}

	m.current = msg.state
	m.chat.SetSnapshot(msg.state.Chat)
	if m.editor.Sync(msg.state.Active, msg.state.HasActive) && !m.editor.Bound() && m.focus == focusEditor {
		return m, m.setFocus(focusInput)
	}
	return m, nil
}

// handleKey processes key presses.
func (m Model) handleKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	keyStr := msg.String()

	if key.Matches(msg, m.keys.Quit) {
		return m, tea.Quit
	}

	switch m.state {
	case statePickingGoal:
		return m.handlePickerKey(keyStr)
	case stateShowingNotifications:
		return m.handleNotificationModalKey(keyStr)
	case stateConfirmingLogout:
		return m.handleConfirmModalKey(keyStr)
	}

	return m.handleNormalKey(msg)
}

func (m Model) handleNormalKey(msg tea.KeyPressMsg) (tea.Model, tea.Cmd) {
	switch {
	case key.Matches(msg, m.keys.OpenGoal):
		if m.goals == nil {
			return m, nil
		}
		m.picker = NewGoalPicker(m.goals)
		m.state = statePickingGoal
		return m, m.picker.Load(1)
	case key.Matches(msg, m.keys.Retry):
		return m, m.call("reconnect", m.session.Retry)
	case key.Matches(msg, m.keys.Notifications):
		m.notificationModal = NewNotificationModal(m.history, m.width, m.height)
		m.state = stateShowingNotifications
		return m, nil
	case key.Matches(msg, m.keys.Logout):
		m.modal = NewModal("Log out", "Unsaved edits are saved first. Press ctrl+r to sign in again.")
		m.state = stateConfirmingLogout
		return m, nil
	case key.Matches(msg, m.keys.Dismiss) && m.toastController.HasToasts():
		m.toastController.Dismiss()
		return m, nil
	case key.Matches(msg, m.keys.ScrollUp):
		m.chat.PageUp()
		return m, nil
	case key.Matches(msg, m.keys.ScrollDown):
		m.chat.PageDown()
		return m, nil
	case key.Matches(msg, m.keys.SwitchFocus):
		if m.focus == focusInput {
			return m, m.setFocus(focusEditor)
		}
		return m, m.setFocus(focusInput)
	}

	if m.focus == focusEditor {
		return m.updateEditor(msg)
	}

	if key.Matches(msg, m.keys.Send) {
		text := strings.TrimSpace(m.input.Value())
		if text == "" {
			return m, nil
		}
		m.input.Reset()
		return m, m.call("send", func() error { return m.session.Send(text) })
	}

	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m Model) handlePickerKey(keyStr string) (tea.Model, tea.Cmd) {
	selected, done, cmd := m.picker.HandleKey(keyStr)
	if !done {
		return m, cmd
	}

	m.state = stateNormal
	m.picker = nil
	if selected == "" {
		return m, nil
	}
	return m, tea.Batch(
		m.call("open goal", func() error { return m.session.Open(selected) }),
		m.setFocus(focusEditor),
	)
}

func (m Model) handleNotificationModalKey(keyStr string) (tea.Model, tea.Cmd) {
	switch keyStr {
	case keyEsc, "q":
		m.state = stateNormal
		m.notificationModal = nil
	case "j", "down":
		m.notificationModal.ScrollDown()
	case "k", "up":
		m.notificationModal.ScrollUp()
	case "D":
		if err := m.notificationModal.Clear(); err != nil {
			return m, m.notifyError("failed to clear notifications: %v", err)
		}
		m.toastController.Push(notify.Notification{Level: notify.LevelInfo, Message: "notifications cleared"})
		return m, m.ensureToastTick()
	}
	return m, nil
}

func (m Model) handleConfirmModalKey(keyStr string) (tea.Model, tea.Cmd) {
	switch keyStr {
	case "left", "right", "h", "l", "tab":
		m.modal.ToggleSelection()
		return m, nil
	case keyEsc, "n":
		m.state = stateNormal
		return m, nil
	case keyEnter, "y":
		confirmed := keyStr == "y" || m.modal.ConfirmSelected()
		m.state = stateNormal
		if !confirmed {
			return m, nil
		}
		return m, tea.Batch(m.call("log out", m.session.Logout), m.setFocus(focusInput))
	}
	return m, nil
}

func (m Model) updateEditor(msg tea.Msg) (tea.Model, tea.Cmd) {
	cmd, e := m.editor.Update(msg)
	if e == nil {
		return m, cmd
	}
	// Edits are posted in order from the UI goroutine.
	if err := m.session.Edit(e.documentID, e.markdown); err != nil {
		return m, tea.Batch(cmd, m.notifyError("edit failed: %v", err))
	}
	return m, cmd
}

// forward passes non-key messages such as paste and cursor blink to the
// focused widget.
func (m Model) forward(msg tea.Msg) (tea.Model, tea.Cmd) {
	if m.state != stateNormal {
		return m, nil
	}
	if m.focus == focusEditor {
		return m.updateEditor(msg)
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m *Model) setFocus(f focusArea) tea.Cmd {
	m.focus = f
	if f == focusEditor {
		m.input.Blur()
		return m.editor.Focus()
	}
	m.editor.Blur()
	return m.input.Focus()
}

// call runs a session operation and reports a failure as a toast.
func (m Model) call(action string, fn func() error) tea.Cmd {
	if err := fn(); err != nil {
		return func() tea.Msg { return actionErrMsg{action: action, err: err} }
	}
	return nil
}

func (m *Model) ensureToastTick() tea.Cmd {
	if !m.toastController.HasToasts() || m.toastController.Ticking() {
		return nil
	}
	m.toastController.SetTicking(true)
	return scheduleToastTick()
}

// notifyError shows an error toast and returns a command to start the toast
// tick timer if needed.
func (m *Model) notifyError(format string, args ...any) tea.Cmd {
	m.toastController.Push(notify.Notification{Level: notify.LevelError, Message: fmt.Sprintf(format, args...)})
	return m.ensureToastTick()
}
