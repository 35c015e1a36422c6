package coach

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/colonyops/coach/internal/chat"
	"github.com/colonyops/coach/internal/core/config"
	"github.com/colonyops/coach/internal/core/document"
	"github.com/colonyops/coach/internal/core/eventbus"
	"github.com/colonyops/coach/internal/core/eventloop"
	"github.com/colonyops/coach/internal/core/logging"
	"github.com/colonyops/coach/internal/core/notify"
	"github.com/colonyops/coach/internal/core/session"
	"github.com/colonyops/coach/internal/drafts"
	"github.com/colonyops/coach/internal/outbound"
	"github.com/colonyops/coach/internal/protocol"
	"github.com/colonyops/coach/internal/transport"
)

// ErrEmptyMessage is returned by Send for blank input.
var ErrEmptyMessage = errors.New("message is empty")

// SessionDeps are the collaborators of a SessionService. Journal may be nil.
type SessionDeps struct {
	Tickets   transport.TicketSource
	Persister document.Persister
	Goals     *GoalService
	Journal   document.Journal
	// Dialer defaults to a gorilla/websocket dialer.
	Dialer    transport.Dialer
	Lifecycle *session.Lifecycle
	Bus       *eventbus.EventBus
}

// State is a consistent snapshot of the realtime session.
type State struct {
	Chat       session.Snapshot
	Connection session.Connection
	Active     document.Draft
	HasActive  bool
	Drafts     []document.Draft
}

// SessionService runs the realtime session: one transport connection, the
// chat state machine, and the draft engine, all owned by a single event
// loop. Public methods are safe from any goroutine; they post onto the loop.
type SessionService struct {
	loop      *eventloop.Loop
	conn      *transport.Conn
	machine   *chat.Machine
	drafts    *drafts.Engine
	composer  *outbound.Composer
	goals     *GoalService
	lifecycle *session.Lifecycle
	bus       *eventbus.EventBus
	worker    *eventloop.Worker
	timeout   time.Duration
	log       zerolog.Logger

	focusSeq uint64

	mu      sync.Mutex
	cancel  context.CancelFunc
	started bool
	closed  bool
}

var (
	_ chat.Focuser     = (*SessionService)(nil)
	_ chat.Invalidator = (*SessionService)(nil)
)

// NewSessionService wires a session from cfg. Nothing connects until Start.
func NewSessionService(cfg *config.Config, deps SessionDeps) (*SessionService, error) {
	endpoint, err := transport.ChatURL(cfg.Server.BaseURL)
	if err != nil {
		return nil, err
	}
	if deps.Lifecycle == nil {
		deps.Lifecycle = session.NewLifecycle()
	}
	if deps.Dialer == nil {
		deps.Dialer = transport.WebsocketDialer{Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.Transport.HandshakeTimeout,
		}}
	}

	log := logging.Component("session")
	loop := eventloop.New(256, log)

	s := &SessionService{
		loop:      loop,
		goals:     deps.Goals,
		lifecycle: deps.Lifecycle,
		bus:       deps.Bus,
		worker:    eventloop.NewWorker(loop, 16),
		timeout:   cfg.Server.RequestTimeout,
		log:       log,
	}

	s.drafts = drafts.New(drafts.Deps{
		Scheduler: loop,
		Persister: deps.Persister,
		Journal:   deps.Journal,
		Bus:       deps.Bus,
		Logger:    logging.Component("drafts"),
	}, drafts.Options{
		IdleDelay:   cfg.Drafts.IdleSaveDelay,
		SaveTimeout: cfg.Server.RequestTimeout,
	})

	s.machine = chat.New(chat.Deps{
		Scheduler:   loop,
		Drafts:      s.drafts,
		Focuser:     s,
		Invalidator: s,
		Bus:         deps.Bus,
		Logger:      logging.Component("chat"),
	}, cfg.Chat.ToolBusyDelay)

	dispatcher := protocol.NewDispatcher(s.machine, logging.Component("protocol"))

	s.conn = transport.New(transport.Deps{
		Scheduler: loop,
		Dialer:    deps.Dialer,
		Tickets:   deps.Tickets,
		Lifecycle: deps.Lifecycle,
		Bus:       deps.Bus,
		OnFrame:   func(data []byte) { dispatcher.Handle(data) },
		OnStatus:  s.machine.OnConnection,
		Logger:    logging.Component("transport"),
	}, transport.Options{
		Endpoint:          endpoint,
		KeepaliveInterval: cfg.Transport.KeepaliveInterval,
		DeadAfter:         cfg.Transport.KeepaliveInterval * time.Duration(cfg.Transport.DeadAfterMultiple),
		BaseDelay:         cfg.Transport.ReconnectBaseDelay,
		MaxDelay:          cfg.Transport.ReconnectMaxDelay,
		MaxAttempts:       cfg.Transport.MaxReconnectAttempts,
		HandshakeTimeout:  cfg.Transport.HandshakeTimeout,
	})

	s.composer = outbound.New(s.drafts, s.conn, cfg.Chat.Provider, logging.Component("outbound"))
	return s, nil
}

// Start runs the event loop and opens the connection. The session stops
// when ctx is cancelled or Close is called.
func (s *SessionService) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.closed {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	go s.loop.Run(ctx)
	s.loop.Post(s.conn.Connect)
}

// Send appends text to the chat and sends it with the unsaved drafts once
// they are flushed.
func (s *SessionService) Send(text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}
	return s.post(func() {
		s.machine.SendUser(text)
		s.composer.Send(text, func(err error) {
			if err != nil {
				s.log.Warn().Err(err).Msg("send message failed")
				s.notify(notify.LevelError, fmt.Sprintf("message not sent: %v", err))
			}
		})
	})
}

// Edit replaces the content of the active draft with markdown. The edit is
// stored in the document's existing format and dropped if documentID is no
// longer active.
func (s *SessionService) Edit(documentID, markdown string) error {
	return s.post(func() {
		d, ok := s.drafts.Active()
		if !ok || d.ID != documentID {
			s.log.Debug().Str("document_id", documentID).Msg("edit for inactive document dropped")
			return
		}
		if markdown == d.Markdown {
			return
		}
		if err := s.drafts.ApplyMarkdownEdit(d.ID, markdown); err != nil {
			s.log.Warn().Err(err).Str("document_id", d.ID).Msg("apply edit")
		}
	})
}

// Open fetches a document and binds it to the editor.
func (s *SessionService) Open(documentID string) error {
	return s.post(func() { s.Focus(documentID) })
}

// Focus implements chat.Focuser. Only the latest focus request binds; older
// fetches that complete later are ignored. Must be called on the loop.
func (s *SessionService) Focus(documentID string) {
	s.focusSeq++
	seq := s.focusSeq
	goals, timeout := s.goals, s.timeout

	eventloop.Go(s.loop, func() (document.Goal, error) {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		return goals.Get(logging.WithDocumentID(ctx, documentID), documentID)
	}, func(goal document.Goal, err error) {
		if seq != s.focusSeq {
			return
		}
		if err != nil {
			s.log.Warn().Err(err).Str("document_id", documentID).Msg("open document failed")
			s.notify(notify.LevelError, fmt.Sprintf("could not open %s: %v", documentID, err))
			return
		}
		s.drafts.BindActive(goal)
	})
}

// Invalidate implements chat.Invalidator by purging the goal list cache off
// the loop. Must be called on the loop.
func (s *SessionService) Invalidate(documentID string) {
	goals, timeout := s.goals, s.timeout
	s.worker.Submit(func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := goals.Invalidate(ctx, documentID); err != nil {
			s.log.Warn().Err(err).Str("document_id", documentID).Msg("invalidate goal cache")
		}
	})
}

// Retry reconnects after the automatic attempts were exhausted.
func (s *SessionService) Retry() error {
	return s.post(s.conn.Retry)
}

// Logout ends the session for the current user. Dirty drafts are flushed
// without waiting, the connection is closed, and all session state is
// dropped. The next Retry connects as a fresh login.
func (s *SessionService) Logout() error {
	return s.post(func() {
		s.drafts.FlushIfDirty(func(err error) {
			if err != nil {
				s.log.Warn().Err(err).Msg("flush on logout failed")
			}
		})
		s.conn.Disconnect()
		s.machine.Reset()
		s.drafts.Clear()
		s.lifecycle.Reset()
		s.focusSeq++
		s.Invalidate("")
	})
}

// State returns a snapshot of the session. Start must have been called.
func (s *SessionService) State() (State, error) {
	var st State
	err := s.loop.Call(func() {
		st.Chat = s.machine.Snapshot()
		st.Connection = s.conn.Connection()
		st.Active, st.HasActive = s.drafts.Active()
		st.Drafts = s.drafts.Snapshot()
	})
	return st, err
}

// Close flushes dirty drafts, waiting until ctx is done, then disconnects
// and stops the loop. It returns the flush error.
func (s *SessionService) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	started, cancel := s.started, s.cancel
	s.mu.Unlock()

	var flushErr error
	if started {
		done := make(chan error, 1)
		if s.loop.Post(func() { s.drafts.FlushIfDirty(func(err error) { done <- err }) }) {
			select {
			case flushErr = <-done:
			case <-ctx.Done():
				flushErr = ctx.Err()
			case <-s.loop.Done():
			}
		}
		cancel()
		<-s.loop.Done()
	}

	// The loop has exited, so its state can be touched from here.
	s.conn.Disconnect()
	s.drafts.Close()
	s.worker.Close()
	return flushErr
}

func (s *SessionService) post(fn func()) error {
	if !s.loop.Post(fn) {
		return eventloop.ErrStopped
	}
	return nil
}

func (s *SessionService) notify(level notify.Level, msg string) {
	s.bus.PublishNotificationPublished(eventbus.NotificationPublishedPayload{
		Level:   level,
		Message: msg,
	})
}
