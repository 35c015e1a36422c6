package protocol

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

type recorder struct {
	kinds []Kind
}

func (r *recorder) OnConnected(Connected)         { r.kinds = append(r.kinds, KindConnected) }
func (r *recorder) OnWelcome(Welcome)             { r.kinds = append(r.kinds, KindWelcome) }
func (r *recorder) OnTyping(Typing)               { r.kinds = append(r.kinds, KindTyping) }
func (r *recorder) OnResponseChunk(ResponseChunk) { r.kinds = append(r.kinds, KindResponseChunk) }
func (r *recorder) OnResponse(Response)           { r.kinds = append(r.kinds, KindResponse) }
func (r *recorder) OnFocusGoal(FocusGoal)         { r.kinds = append(r.kinds, KindFocusGoal) }
func (r *recorder) OnToolCall(ToolCall)           { r.kinds = append(r.kinds, KindToolCall) }
func (r *recorder) OnError(Error)                 { r.kinds = append(r.kinds, KindError) }
func (r *recorder) OnPong(Pong)                   { r.kinds = append(r.kinds, KindPong) }

func TestDispatch_RoutesEveryKind(t *testing.T) {
	events := []Event{
		Connected{}, Welcome{}, Typing{}, ResponseChunk{}, Response{},
		FocusGoal{}, ToolCall{}, Error{}, Pong{},
	}

	r := &recorder{}
	for _, e := range events {
		Dispatch(r, e)
	}

	want := make([]Kind, 0, len(events))
	for _, e := range events {
		want = append(want, e.Kind())
	}
	assert.Equal(t, want, r.kinds)
}

func TestDispatcher_Handle(t *testing.T) {
	r := &recorder{}
	d := NewDispatcher(r, zerolog.Nop())

	assert.True(t, d.Handle([]byte(`{"type":"typing"}`)))
	assert.False(t, d.Handle([]byte(`{"type":"something_new"}`)))
	assert.False(t, d.Handle([]byte(`garbage`)))
	assert.True(t, d.Handle([]byte(`{"type":"response_chunk","content":"a"}`)))

	assert.Equal(t, []Kind{KindTyping, KindResponseChunk}, r.kinds)
}
