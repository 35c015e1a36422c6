// Package protocol defines the realtime chat wire format: inbound server
// events as a closed set of typed variants, and outbound client frames.
package protocol

import "github.com/colonyops/coach/internal/core/document"

// Kind is the discriminant carried in every frame's "type" field.
type Kind string

// Inbound kinds.
const (
	KindConnected     Kind = "connected"
	KindWelcome       Kind = "welcome"
	KindTyping        Kind = "typing"
	KindResponseChunk Kind = "response_chunk"
	KindResponse      Kind = "response"
	KindFocusGoal     Kind = "focus_goal"
	KindToolCall      Kind = "tool_call"
	KindError         Kind = "error"
	KindPong          Kind = "pong"
)

// Outbound kinds.
const (
	KindMessage Kind = "message"
	KindPing    Kind = "ping"
)

// Event is one decoded inbound frame. The set of implementations is closed;
// use Dispatch to route an event to the matching Handler method.
type Event interface {
	Kind() Kind
	dispatch(h Handler)
	frame() Frame
}

// Handler receives each event kind. Adding a kind adds a method here, so
// every handler must account for it.
type Handler interface {
	OnConnected(Connected)
	OnWelcome(Welcome)
	OnTyping(Typing)
	OnResponseChunk(ResponseChunk)
	OnResponse(Response)
	OnFocusGoal(FocusGoal)
	OnToolCall(ToolCall)
	OnError(Error)
	OnPong(Pong)
}

// Dispatch routes e to exactly one method of h.
func Dispatch(h Handler, e Event) {
	e.dispatch(h)
}

// Connected confirms the session is established.
type Connected struct {
	Content    string
	SessionID  string
	HasContext bool
	UserPhase  string
	MeetingID  string
}

// Welcome carries the session-opening assistant message.
type Welcome struct {
	Content   string
	MessageID string
}

// Typing signals the assistant started working on a reply.
type Typing struct {
	Content string
}

// ResponseChunk is one partial token run of the reply being streamed.
type ResponseChunk struct {
	Content string
}

// Response terminates the streamed reply.
type Response struct {
	Content    string
	MessageID  string
	TokensUsed int
}

// FocusGoal asks the client to switch the editor to a document.
type FocusGoal struct {
	GoalID string
}

// ToolResult is the outcome of an assistant tool invocation.
type ToolResult struct {
	Success bool           `json:"success"`
	GoalID  string         `json:"goal_id,omitempty"`
	Goal    *document.Goal `json:"goal,omitempty"`
	Error   string         `json:"error,omitempty"`
}

// ToolCall reports a tool the assistant ran on the server.
type ToolCall struct {
	Tool   string
	Result ToolResult
}

// Error is an application error reported by the server.
type Error struct {
	Content       string
	Detail        string
	NextAvailable string
}

// Pong answers a keepalive ping.
type Pong struct{}

func (Connected) Kind() Kind     { return KindConnected }
func (Welcome) Kind() Kind       { return KindWelcome }
func (Typing) Kind() Kind        { return KindTyping }
func (ResponseChunk) Kind() Kind { return KindResponseChunk }
func (Response) Kind() Kind      { return KindResponse }
func (FocusGoal) Kind() Kind     { return KindFocusGoal }
func (ToolCall) Kind() Kind      { return KindToolCall }
func (Error) Kind() Kind         { return KindError }
func (Pong) Kind() Kind          { return KindPong }

func (e Connected) dispatch(h Handler)     { h.OnConnected(e) }
func (e Welcome) dispatch(h Handler)       { h.OnWelcome(e) }
func (e Typing) dispatch(h Handler)        { h.OnTyping(e) }
func (e ResponseChunk) dispatch(h Handler) { h.OnResponseChunk(e) }
func (e Response) dispatch(h Handler)      { h.OnResponse(e) }
func (e FocusGoal) dispatch(h Handler)     { h.OnFocusGoal(e) }
func (e ToolCall) dispatch(h Handler)      { h.OnToolCall(e) }
func (e Error) dispatch(h Handler)         { h.OnError(e) }
func (e Pong) dispatch(h Handler)          { h.OnPong(e) }
