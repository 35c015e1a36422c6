// Package chat turns dispatched protocol events into chat-visible session
// state. Every change publishes a chat.updated snapshot.
package chat

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/colonyops/coach/internal/core/document"
	"github.com/colonyops/coach/internal/core/eventbus"
	"github.com/colonyops/coach/internal/core/eventloop"
	"github.com/colonyops/coach/internal/core/session"
	"github.com/colonyops/coach/internal/protocol"
)

// DraftSink receives assistant document edits.
type DraftSink interface {
	ApplyToolMutation(m document.Mutation)
}

// Focuser switches the editor to a document.
type Focuser interface {
	Focus(documentID string)
}

// Invalidator marks cached document listings stale. An empty id means only
// the list.
type Invalidator interface {
	Invalidate(documentID string)
}

// Deps are the collaborators of a Machine. Any of them may be nil.
type Deps struct {
	Scheduler   eventloop.Scheduler
	Drafts      DraftSink
	Focuser     Focuser
	Invalidator Invalidator
	Bus         *eventbus.EventBus
	Logger      zerolog.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

// Machine owns the chat state. All methods must be called on the event loop.
type Machine struct {
	sched         eventloop.Scheduler
	drafts        DraftSink
	focus         Focuser
	invalidator   Invalidator
	bus           *eventbus.EventBus
	log           zerolog.Logger
	now           func() time.Time
	toolBusyDelay time.Duration

	messages      []session.Message
	seen          map[string]bool
	streaming     strings.Builder
	typing        bool
	toolBusy      bool
	toolTimer     *eventloop.Timer
	status        session.Status
	cause         string
	sessionID     string
	hasContext    bool
	lastError     string
	userPhase     string
	nextAvailable string
}

var _ protocol.Handler = (*Machine)(nil)

// New creates a machine with empty state.
func New(deps Deps, toolBusyDelay time.Duration) *Machine {
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if toolBusyDelay <= 0 {
		toolBusyDelay = 500 * time.Millisecond
	}
	return &Machine{
		sched:         deps.Scheduler,
		drafts:        deps.Drafts,
		focus:         deps.Focuser,
		invalidator:   deps.Invalidator,
		bus:           deps.Bus,
		log:           deps.Logger,
		now:           deps.Now,
		toolBusyDelay: toolBusyDelay,
		seen:          make(map[string]bool),
		status:        session.StatusDisconnected,
	}
}

func (m *Machine) OnConnected(e protocol.Connected) {
	m.status = session.StatusConnected
	m.cause = ""
	m.lastError = ""
	m.nextAvailable = ""
	if e.SessionID != "" {
		m.sessionID = e.SessionID
	}
	m.hasContext = e.HasContext
	if e.UserPhase != "" {
		m.userPhase = e.UserPhase
	}
	m.publish()
}

// OnWelcome appends the session-opening message. A welcome replayed on
// reconnect is appended once.
func (m *Machine) OnWelcome(e protocol.Welcome) {
	if e.Content == "" || e.MessageID == "" {
		return
	}
	if m.appendAssistant(e.MessageID, e.Content, nil) {
		m.publish()
	}
}

func (m *Machine) OnTyping(protocol.Typing) {
	if m.typing {
		return
	}
	m.typing = true
	m.publish()
}

func (m *Machine) OnResponseChunk(e protocol.ResponseChunk) {
	m.typing = false
	m.streaming.WriteString(e.Content)
	m.publish()
}

// OnResponse terminates the streamed reply. The message holds the chunks in
// arrival order; a final content that disagrees with them is only logged.
func (m *Machine) OnResponse(e protocol.Response) {
	m.typing = false
	if m.streaming.Len() > 0 {
		content := m.streaming.String()
		if e.Content != "" && e.Content != content {
			m.log.Debug().Int("streamed", len(content)).Int("final", len(e.Content)).Msg("final response differs from streamed chunks")
		}
		id := e.MessageID
		if id == "" {
			id = uuid.NewString()
		}
		var meta map[string]any
		if e.TokensUsed > 0 {
			meta = map[string]any{"tokens_used": e.TokensUsed}
		}
		m.appendAssistant(id, content, meta)
		m.streaming.Reset()
	}
	m.publish()
}

func (m *Machine) OnFocusGoal(e protocol.FocusGoal) {
	if m.focus != nil {
		m.focus.Focus(e.GoalID)
	}
	if m.invalidator != nil {
		m.invalidator.Invalidate("")
	}
}

// OnToolCall shows the tool-busy indicator for a short fixed delay and
// routes successful document edits to the draft engine.
func (m *Machine) OnToolCall(e protocol.ToolCall) {
	m.toolBusy = true
	m.toolTimer.Stop()
	m.toolTimer = m.sched.AfterFunc(m.toolBusyDelay, func() {
		m.toolTimer = nil
		m.toolBusy = false
		m.publish()
	})

	r := e.Result
	switch {
	case !r.Success:
		m.log.Warn().Str("tool", e.Tool).Str("error", r.Error).Msg("tool call failed")
		m.bus.PublishToolFailed(eventbus.ToolFailedPayload{Tool: e.Tool, Error: r.Error})
	case r.Goal != nil && m.drafts != nil:
		m.drafts.ApplyToolMutation(document.Mutation{
			DocumentID: r.Goal.ID,
			Title:      r.Goal.Title,
			Content:    r.Goal.Content,
			Revision:   r.Goal.UpdatedAt.Time,
		})
	}
	if r.Success && m.invalidator != nil {
		m.invalidator.Invalidate(r.GoalID)
	}
	m.publish()
}

func (m *Machine) OnError(e protocol.Error) {
	m.typing = false
	m.streaming.Reset()
	m.lastError = e.Content
	if m.lastError == "" {
		m.lastError = e.Detail
	}
	m.nextAvailable = e.NextAvailable

	m.bus.PublishServerError(eventbus.ServerErrorPayload{Message: m.lastError, NextAvailable: e.NextAvailable})
	m.publish()
}

func (m *Machine) OnPong(protocol.Pong) {}

// OnConnection adopts a transport status change. A reply cannot finish on a
// dropped socket, so a disconnect also clears typing and the stream.
func (m *Machine) OnConnection(c session.Connection) {
	m.status = c.Status
	m.cause = c.Cause
	if c.Status == session.StatusDisconnected {
		m.typing = false
		m.streaming.Reset()
	}
	m.publish()
}

// SendUser appends text as an optimistic user message.
func (m *Machine) SendUser(text string) session.Message {
	msg := session.Message{
		ID:        uuid.NewString(),
		Role:      session.RoleUser,
		Content:   text,
		Timestamp: m.now(),
	}
	m.messages = append(m.messages, msg)
	m.seen[msg.ID] = true
	m.lastError = ""
	m.publish()
	return msg
}

// Reset clears the session, as on logout.
func (m *Machine) Reset() {
	m.toolTimer.Stop()
	m.toolTimer = nil
	m.messages = nil
	m.seen = make(map[string]bool)
	m.streaming.Reset()
	m.typing = false
	m.toolBusy = false
	m.sessionID = ""
	m.hasContext = false
	m.lastError = ""
	m.userPhase = ""
	m.nextAvailable = ""
	m.publish()
}

// Snapshot returns an immutable copy of the state.
func (m *Machine) Snapshot() session.Snapshot {
	return session.Snapshot{
		Messages:      slices.Clone(m.messages),
		Streaming:     m.streaming.String(),
		Typing:        m.typing,
		ToolBusy:      m.toolBusy,
		Status:        m.status,
		Cause:         m.cause,
		SessionID:     m.sessionID,
		HasContext:    m.hasContext,
		LastError:     m.lastError,
		UserPhase:     m.userPhase,
		NextAvailable: m.nextAvailable,
	}
}

func (m *Machine) appendAssistant(id, content string, meta map[string]any) bool {
	if m.seen[id] {
		return false
	}
	m.seen[id] = true
	m.messages = append(m.messages, session.Message{
		ID:        id,
		Role:      session.RoleAssistant,
		Content:   content,
		Timestamp: m.now(),
		Metadata:  meta,
	})
	return true
}

func (m *Machine) publish() {
	m.bus.PublishChatUpdated(eventbus.ChatUpdatedPayload{Snapshot: m.Snapshot()})
}
