package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrUnknownKind is returned for frames whose type this client does not
	// know. Such frames are ignored.
	ErrUnknownKind = errors.New("unknown frame kind")
	// ErrMalformed is returned for frames that cannot be decoded.
	ErrMalformed = errors.New("malformed frame")
)

// Frame is the flat wire shape shared by all inbound kinds.
type Frame struct {
	Type          Kind        `json:"type"`
	Content       string      `json:"content,omitempty"`
	MessageID     string      `json:"message_id,omitempty"`
	SessionID     string      `json:"session_id,omitempty"`
	HasContext    bool        `json:"has_context,omitempty"`
	UserPhase     string      `json:"user_phase,omitempty"`
	MeetingID     string      `json:"meeting_id,omitempty"`
	GoalID        string      `json:"goal_id,omitempty"`
	Tool          string      `json:"tool,omitempty"`
	ToolResult    *ToolResult `json:"tool_result,omitempty"`
	TokensUsed    int         `json:"tokens_used,omitempty"`
	IsComplete    bool        `json:"is_complete,omitempty"`
	NextAvailable string      `json:"next_available,omitempty"`
	Error         string      `json:"error,omitempty"`
}

// Decode parses one inbound frame. Errors wrap ErrUnknownKind or
// ErrMalformed.
func Decode(data []byte) (Event, error) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	switch f.Type {
	case "":
		return nil, fmt.Errorf("%w: missing type", ErrMalformed)
	case KindConnected:
		return Connected{
			Content:    f.Content,
			SessionID:  f.SessionID,
			HasContext: f.HasContext,
			UserPhase:  f.UserPhase,
			MeetingID:  f.MeetingID,
		}, nil
	case KindWelcome:
		return Welcome{Content: f.Content, MessageID: f.MessageID}, nil
	case KindTyping:
		return Typing{Content: f.Content}, nil
	case KindResponseChunk:
		return ResponseChunk{Content: f.Content}, nil
	case KindResponse:
		return Response{Content: f.Content, MessageID: f.MessageID, TokensUsed: f.TokensUsed}, nil
	case KindFocusGoal:
		if f.GoalID == "" {
			return nil, fmt.Errorf("%w: focus_goal without goal_id", ErrMalformed)
		}
		return FocusGoal{GoalID: f.GoalID}, nil
	case KindToolCall:
		if f.Tool == "" || f.ToolResult == nil {
			return nil, fmt.Errorf("%w: tool_call without tool or tool_result", ErrMalformed)
		}
		result := *f.ToolResult
		if result.Success && result.Goal != nil && result.Goal.ID == "" {
			result.Goal.ID = result.GoalID
		}
		if result.GoalID == "" && result.Goal != nil {
			result.GoalID = result.Goal.ID
		}
		return ToolCall{Tool: f.Tool, Result: result}, nil
	case KindError:
		return Error{Content: f.Content, Detail: f.Error, NextAvailable: f.NextAvailable}, nil
	case KindPong:
		return Pong{}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, f.Type)
	}
}

// EncodeEvent serializes an inbound event in wire form.
func EncodeEvent(e Event) ([]byte, error) {
	return json.Marshal(e.frame())
}

func (e Connected) frame() Frame {
	return Frame{Type: KindConnected, Content: e.Content, SessionID: e.SessionID, HasContext: e.HasContext, UserPhase: e.UserPhase, MeetingID: e.MeetingID}
}

func (e Welcome) frame() Frame {
	return Frame{Type: KindWelcome, Content: e.Content, MessageID: e.MessageID}
}

func (e Typing) frame() Frame { return Frame{Type: KindTyping, Content: e.Content} }

func (e ResponseChunk) frame() Frame {
	return Frame{Type: KindResponseChunk, Content: e.Content}
}

func (e Response) frame() Frame {
	return Frame{Type: KindResponse, Content: e.Content, MessageID: e.MessageID, TokensUsed: e.TokensUsed, IsComplete: true}
}

func (e FocusGoal) frame() Frame { return Frame{Type: KindFocusGoal, GoalID: e.GoalID} }

func (e ToolCall) frame() Frame {
	result := e.Result
	return Frame{Type: KindToolCall, Tool: e.Tool, ToolResult: &result}
}

func (e Error) frame() Frame {
	return Frame{Type: KindError, Content: e.Content, Error: e.Detail, NextAvailable: e.NextAvailable}
}

func (Pong) frame() Frame { return Frame{Type: KindPong} }

// DraftGoal is an unsaved document snapshot sent with a chat message.
// Content is always markdown.
type DraftGoal struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// MessageFrame is a user chat message.
type MessageFrame struct {
	Content      string      `json:"content"`
	DraftGoals   []DraftGoal `json:"draft_goals,omitempty"`
	ActiveGoalID string      `json:"active_goal_id,omitempty"`
	Provider     string      `json:"provider,omitempty"`
}

// PingFrame is the keepalive frame.
type PingFrame struct{}

// Outbound is a frame the client sends.
type Outbound interface {
	OutboundKind() Kind
}

func (MessageFrame) OutboundKind() Kind { return KindMessage }
func (PingFrame) OutboundKind() Kind    { return KindPing }

// Encode serializes an outbound frame with its type discriminant.
func Encode(f Outbound) ([]byte, error) {
	switch v := f.(type) {
	case MessageFrame:
		type alias MessageFrame
		return json.Marshal(struct {
			Type Kind `json:"type"`
			alias
		}{KindMessage, alias(v)})
	case PingFrame:
		return json.Marshal(struct {
			Type Kind `json:"type"`
		}{KindPing})
	default:
		return nil, fmt.Errorf("encode: unsupported frame %T", f)
	}
}

// ClientFrame is the decoded form of any outbound frame, used by servers.
type ClientFrame struct {
	Type         Kind        `json:"type"`
	Content      string      `json:"content"`
	DraftGoals   []DraftGoal `json:"draft_goals,omitempty"`
	ActiveGoalID string      `json:"active_goal_id,omitempty"`
	Provider     string      `json:"provider,omitempty"`
}

// DecodeClient parses a frame sent by a client. A missing type means
// "message".
func DecodeClient(data []byte) (ClientFrame, error) {
	var f ClientFrame
	if err := json.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("%w: %w", ErrMalformed, err)
	}
	if f.Type == "" {
		f.Type = KindMessage
	}
	return f, nil
}
