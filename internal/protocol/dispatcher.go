package protocol

import (
	"errors"

	"github.com/rs/zerolog"
)

// Dispatcher decodes raw frames and routes them to a Handler. Unknown kinds
// are ignored and malformed frames are logged and dropped; neither reaches
// the handler or the connection.
type Dispatcher struct {
	handler Handler
	log     zerolog.Logger
}

// NewDispatcher creates a dispatcher for h.
func NewDispatcher(h Handler, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{handler: h, log: log}
}

// Handle decodes and dispatches one frame. It reports whether the frame
// reached the handler.
func (d *Dispatcher) Handle(data []byte) bool {
	ev, err := Decode(data)
	switch {
	case err == nil:
		Dispatch(d.handler, ev)
		return true
	case errors.Is(err, ErrUnknownKind):
		d.log.Debug().Err(err).Msg("ignoring frame")
	default:
		d.log.Warn().Err(err).Int("bytes", len(data)).Msg("dropping malformed frame")
	}
	return false
}
