// Package outbound assembles user actions into protocol frames.
package outbound

import (
	"github.com/rs/zerolog"

	"github.com/colonyops/coach/internal/core/document"
	"github.com/colonyops/coach/internal/protocol"
)

// Drafts is the part of the draft engine the composer reads.
type Drafts interface {
	FlushIfDirty(done func(error))
	Snapshot() []document.Draft
}

// Sender writes a frame to the realtime connection.
type Sender interface {
	Send(f protocol.Outbound) error
}

// Composer builds chat-send frames. It must be used on the event loop.
type Composer struct {
	drafts   Drafts
	sender   Sender
	provider string
	log      zerolog.Logger
}

// New creates a composer. provider is an optional model hint sent with every
// message.
func New(drafts Drafts, sender Sender, provider string, log zerolog.Logger) *Composer {
	return &Composer{drafts: drafts, sender: sender, provider: provider, log: log}
}

// Send flushes dirty drafts, then sends text with the draft snapshot. A
// failed flush is logged and the message is sent anyway. done receives the
// send error.
func (c *Composer) Send(text string, done func(error)) {
	c.drafts.FlushIfDirty(func(err error) {
		if err != nil {
			c.log.Warn().Err(err).Msg("flush before send failed")
		}
		err = c.sender.Send(c.Compose(text))
		if err != nil {
			c.log.Warn().Err(err).Msg("message not sent")
		}
		if done != nil {
			done(err)
		}
	})
}

// Compose builds the frame for text from the current drafts. Draft content
// is always the markdown projection.
func (c *Composer) Compose(text string) protocol.MessageFrame {
	f := protocol.MessageFrame{Content: text, Provider: c.provider}

	for _, d := range c.drafts.Snapshot() {
		if d.Active {
			f.ActiveGoalID = d.ID
		}
		f.DraftGoals = append(f.DraftGoals, protocol.DraftGoal{
			ID:      d.ID,
			Title:   d.Title,
			Content: d.Markdown,
		})
	}
	return f
}
