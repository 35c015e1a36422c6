package devserver

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/colonyops/coach/internal/protocol"
)

// Close codes sent on rejected sessions.
const (
	closeInvalidTicket = 4001
	closeAccessDenied  = 4003
)

const controlTimeout = time.Second

// chatSession is one accepted realtime connection. All writes happen on the
// goroutine reading the socket.
type chatSession struct {
	srv  *Server
	conn *websocket.Conn
	id   string
}

func (s *Server) serveChat(c *gin.Context) {
	conn, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer func() { _ = conn.Close() }()

	if !s.redeem(c.Query("ticket")) {
		reject(conn, closeInvalidTicket, "Invalid or expired ticket")
		return
	}
	if s.opts.UserPhase == "locked" {
		sess := &chatSession{srv: s, conn: conn}
		_ = sess.send(protocol.Error{Content: "Chat is locked until your next meeting", NextAvailable: "tomorrow"})
		reject(conn, closeAccessDenied, "Chat is locked until your next meeting")
		return
	}

	sess := &chatSession{srv: s, conn: conn, id: uuid.NewString()}
	isLogin := c.Query("is_login") == "true"
	if isLogin {
		s.mu.Lock()
		s.logins++
		s.mu.Unlock()
	}
	s.log.Info().Str("session_id", sess.id).Bool("is_login", isLogin).Msg("chat session opened")

	if err := sess.open(isLogin); err != nil {
		return
	}
	sess.serve()
}

func reject(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(controlTimeout))
}

func (cs *chatSession) open(isLogin bool) error {
	cs.srv.mu.Lock()
	hasContext := len(cs.srv.goals) > 0
	cs.srv.mu.Unlock()

	err := cs.send(protocol.Connected{
		Content:    "Connected to the coach dev server",
		SessionID:  cs.id,
		HasContext: hasContext,
		UserPhase:  cs.srv.opts.UserPhase,
	})
	if err != nil || !isLogin {
		return err
	}
	return cs.send(protocol.Welcome{
		Content:   "Welcome back! What would you like to work on today?",
		MessageID: cs.srv.ids.Generate().String(),
	})
}

func (cs *chatSession) serve() {
	for {
		_, data, err := cs.conn.ReadMessage()
		if err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) {
				cs.srv.log.Debug().Err(err).Str("session_id", cs.id).Msg("chat read failed")
			}
			return
		}

		frame, err := protocol.DecodeClient(data)
		if err != nil {
			_ = cs.send(protocol.Error{Content: "Invalid message format"})
			continue
		}

		switch frame.Type {
		case protocol.KindPing:
			err = cs.send(protocol.Pong{})
		case protocol.KindMessage:
			if frame.Content == "" {
				continue
			}
			cs.srv.mu.Lock()
			cs.srv.received = append(cs.srv.received, frame)
			cs.srv.mu.Unlock()
			err = cs.reply(frame)
		}
		if err != nil {
			return
		}
	}
}

// reply answers a chat message. Messages starting with a slash script the
// assistant: "/tool update <id> <content>", "/tool focus <id>" and
// "/error <text>". Anything else is echoed back in chunks.
func (cs *chatSession) reply(frame protocol.ClientFrame) error {
	if err := cs.send(protocol.Typing{Content: "Coach is thinking..."}); err != nil {
		return err
	}

	text := strings.TrimSpace(frame.Content)
	switch {
	case strings.HasPrefix(text, "/tool update "):
		return cs.toolUpdate(strings.TrimPrefix(text, "/tool update "))
	case strings.HasPrefix(text, "/tool focus "):
		id := strings.TrimSpace(strings.TrimPrefix(text, "/tool focus "))
		if err := cs.send(protocol.FocusGoal{GoalID: id}); err != nil {
			return err
		}
		return cs.stream("Opening that goal for you.")
	case strings.HasPrefix(text, "/error "):
		return cs.send(protocol.Error{Content: strings.TrimPrefix(text, "/error ")})
	}

	reply := "You said: " + text
	if n := len(frame.DraftGoals); n > 0 {
		reply += fmt.Sprintf(" (I can see %d unsaved goal draft(s)", n)
		if frame.ActiveGoalID != "" {
			reply += ", focused on " + frame.ActiveGoalID
		}
		reply += ")"
	}
	return cs.stream(reply)
}

func (cs *chatSession) toolUpdate(args string) error {
	id, content, _ := strings.Cut(strings.TrimSpace(args), " ")

	goal, ok := cs.srv.update(id, content, false)
	result := protocol.ToolResult{Success: ok, GoalID: id}
	if ok {
		result.Goal = &goal
	} else {
		result.Error = "Goal not found"
	}

	if err := cs.send(protocol.ToolCall{Tool: "update_goal", Result: result}); err != nil {
		return err
	}
	if !ok {
		return cs.stream("I could not find that goal.")
	}
	return cs.stream("I updated your goal.")
}

// stream sends text word by word followed by the final response.
func (cs *chatSession) stream(text string) error {
	words := strings.SplitAfter(text, " ")
	for _, w := range words {
		if err := cs.send(protocol.ResponseChunk{Content: w}); err != nil {
			return err
		}
		if cs.srv.opts.ChunkDelay > 0 {
			time.Sleep(cs.srv.opts.ChunkDelay)
		}
	}
	return cs.send(protocol.Response{
		Content:    text,
		MessageID:  cs.srv.ids.Generate().String(),
		TokensUsed: len(words),
	})
}

func (cs *chatSession) send(e protocol.Event) error {
	data, err := protocol.EncodeEvent(e)
	if err != nil {
		return err
	}
	_ = cs.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	if err := cs.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		cs.srv.log.Debug().Err(err).Str("session_id", cs.id).Msg("chat write failed")
		return err
	}
	return nil
}
