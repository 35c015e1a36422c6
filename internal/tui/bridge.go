package tui

import (
	tea "charm.land/bubbletea/v2"

	"github.com/colonyops/coach/internal/coach"
	"github.com/colonyops/coach/internal/core/document"
	"github.com/colonyops/coach/internal/core/eventbus"
)

// stateBridge turns session events into a coalesced change signal. The UI
// re-reads the whole session state on each signal rather than applying
// individual payloads, so bursts of stream deltas collapse into one render.
type stateBridge struct {
	signal chan struct{}
}

func newStateBridge() *stateBridge {
	return &stateBridge{signal: make(chan struct{}, 1)}
}

// Attach subscribes to the events that change visible session state. A nil
// bus is ignored.
func (b *stateBridge) Attach(bus *eventbus.EventBus) {
	if bus == nil {
		return
	}
	bus.SubscribeChatUpdated(func(eventbus.ChatUpdatedPayload) { b.Notify() })
	bus.SubscribeConnectionStatusChanged(func(eventbus.ConnectionStatusChangedPayload) { b.Notify() })
	bus.SubscribeDraftUpdated(func(eventbus.DraftUpdatedPayload) { b.Notify() })
	bus.SubscribeDocumentsInvalidated(func(eventbus.DocumentsInvalidatedPayload) { b.Notify() })
	bus.SubscribeDraftMutationDiscarded(func(eventbus.DraftMutationDiscardedPayload) { b.Notify() })
}

// Notify emits a non-blocking change signal.
func (b *stateBridge) Notify() {
	select {
	case b.signal <- struct{}{}:
	default:
	}
}

// WaitForChange blocks until session state changed.
func (b *stateBridge) WaitForChange() tea.Cmd {
	return func() tea.Msg {
		<-b.signal
		return stateChangedMsg{}
	}
}

// fetchState reads a snapshot off the UI goroutine.
func fetchState(s Session) tea.Cmd {
	return func() tea.Msg {
		st, err := s.State()
		return stateMsg{state: st, err: err}
	}
}

type (
	stateChangedMsg struct{}

	stateMsg struct {
		state coach.State
		err   error
	}

	drainNotificationsMsg struct{}

	// actionErrMsg reports a failed session call.
	actionErrMsg struct {
		action string
		err    error
	}

	goalsLoadedMsg struct {
		page   document.Page
		err    error
		cached bool
	}
)
