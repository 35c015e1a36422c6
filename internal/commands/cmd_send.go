package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/colonyops/coach/internal/coach"
	"github.com/colonyops/coach/internal/core/eventbus"
	"github.com/colonyops/coach/internal/core/session"
	"github.com/colonyops/coach/internal/core/styles"
)

const sendPollInterval = 50 * time.Millisecond

type SendCmd struct {
	flags *Flags
	app   *coach.App

	// flags
	goalID  string
	raw     bool
	timeout time.Duration
}

// NewSendCmd creates a new send command
func NewSendCmd(flags *Flags, app *coach.App) *SendCmd {
	return &SendCmd{flags: flags, app: app}
}

// Register adds the send command to the application
func (cmd *SendCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "send",
		Usage:     "Send one message and print the reply",
		UsageText: "coach send [--goal ID] [--raw] <message...>",
		Description: `Connects, sends a single chat message and waits for the assistant's reply.

On a terminal the reply is rendered as markdown once complete. When stdout is
piped, or with --raw, chunks are written as they stream in.

With --goal the document is opened first so unsaved edits and the active goal
travel with the message.`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "goal",
				Aliases:     []string{"g"},
				Usage:       "goal id to focus before sending",
				Destination: &cmd.goalID,
			},
			&cli.BoolFlag{
				Name:        "raw",
				Usage:       "stream raw markdown even on a terminal",
				Destination: &cmd.raw,
			},
			&cli.DurationFlag{
				Name:        "timeout",
				Usage:       "give up waiting for the reply after this long",
				Value:       2 * time.Minute,
				Destination: &cmd.timeout,
			},
		},
		ShellComplete: GoalIDCompleter(cmd.app),
		Action:        cmd.run,
	})

	return app
}

func (cmd *SendCmd) run(ctx context.Context, c *cli.Command) error {
	if cmd.flags.Token == "" {
		return errNotLoggedIn
	}

	text := strings.Join(c.Args().Slice(), " ")
	if strings.TrimSpace(text) == "" {
		return errors.New("message is required")
	}

	out := c.Root().Writer
	stream := cmd.raw || !isTerminal(out)

	reply, err := SendOnce(ctx, cmd.app, SendOptions{
		Text:    text,
		GoalID:  cmd.goalID,
		Timeout: cmd.timeout,
		Stream:  stream,
		Out:     out,
	})
	if err != nil {
		return err
	}

	if stream {
		_, err = fmt.Fprintln(out)
		return err
	}
	return renderMarkdown(out, reply)
}

// SendOptions configure SendOnce.
type SendOptions struct {
	Text    string
	GoalID  string
	Timeout time.Duration
	// Stream writes reply chunks to Out as they arrive.
	Stream bool
	Out    io.Writer
}

// SendOnce runs a one-shot session: connect, optionally focus a goal, send
// Text and wait for the complete reply. Drafts are flushed before it returns.
func SendOnce(ctx context.Context, app *coach.App, opts SendOptions) (reply string, err error) {
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	sess, err := app.NewOneShotSession()
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}

	wake := make(chan struct{}, 1)
	app.Bus.SubscribeChatUpdated(func(eventbus.ChatUpdatedPayload) {
		select {
		case wake <- struct{}{}:
		default:
		}
	})

	sess.Start(ctx)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if cerr := sess.Close(closeCtx); cerr != nil && err == nil {
			err = fmt.Errorf("save drafts: %w", cerr)
		}
	}()

	w := waiter{sess: sess, wake: wake}

	st, err := w.until(ctx, func(st coach.State) (bool, error) {
		if st.Connection.Status == session.StatusConnected && st.Chat.SessionID != "" {
			return true, nil
		}
		if st.Connection.Terminal && !st.Connection.Requested {
			return false, fmt.Errorf("connect: %s", connectionCause(st.Connection))
		}
		return false, nil
	})
	if err != nil {
		return "", err
	}

	if opts.GoalID != "" {
		if err := sess.Open(opts.GoalID); err != nil {
			return "", err
		}
		st, err = w.until(ctx, func(st coach.State) (bool, error) {
			return st.HasActive && st.Active.ID == opts.GoalID, nil
		})
		if err != nil {
			return "", fmt.Errorf("open goal %s: %w", opts.GoalID, err)
		}
	}

	baseError := st.Chat.LastError
	if err := sess.Send(opts.Text); err != nil {
		return "", err
	}

	tracker := replyTracker{text: opts.Text, userIdx: -1}
	_, err = w.until(ctx, func(st coach.State) (bool, error) {
		delta, done := tracker.advance(st)
		if opts.Stream && delta != "" {
			if _, werr := io.WriteString(opts.Out, delta); werr != nil {
				return false, werr
			}
		}
		if done {
			return true, nil
		}
		if st.Chat.LastError != "" && st.Chat.LastError != baseError {
			return false, fmt.Errorf("server error: %s", st.Chat.LastError)
		}
		if st.Connection.Terminal && !st.Connection.Requested {
			return false, fmt.Errorf("connection lost: %s", connectionCause(st.Connection))
		}
		return false, nil
	})
	if err != nil {
		return "", err
	}

	return tracker.reply, nil
}

type waiter struct {
	sess *coach.SessionService
	wake <-chan struct{}
}

// until polls the session state on every chat update or poll tick until cond
// reports done or fails.
func (w waiter) until(ctx context.Context, cond func(coach.State) (bool, error)) (coach.State, error) {
	ticker := time.NewTicker(sendPollInterval)
	defer ticker.Stop()

	for {
		st, err := w.sess.State()
		if err != nil {
			return st, err
		}
		done, err := cond(st)
		if err != nil || done {
			return st, err
		}

		select {
		case <-ctx.Done():
			if errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return st, errors.New("timed out waiting for the server")
			}
			return st, ctx.Err()
		case <-w.wake:
		case <-ticker.C:
		}
	}
}

// replyTracker follows the assistant reply to one user message across
// snapshots and yields the text not yet emitted.
type replyTracker struct {
	text    string
	userIdx int
	printed int
	reply   string
}

func (r *replyTracker) advance(st coach.State) (delta string, done bool) {
	msgs := st.Chat.Messages
	if r.userIdx < 0 {
		for i := len(msgs) - 1; i >= 0; i-- {
			if msgs[i].Role == session.RoleUser && msgs[i].Content == r.text {
				r.userIdx = i
				break
			}
		}
		if r.userIdx < 0 {
			return "", false
		}
	}

	for _, m := range msgs[r.userIdx+1:] {
		if m.Role == session.RoleAssistant {
			r.reply = m.Content
			return r.emit(m.Content), true
		}
	}
	return r.emit(st.Chat.Streaming), false
}

func (r *replyTracker) emit(full string) string {
	if len(full) <= r.printed {
		return ""
	}
	delta := full[r.printed:]
	r.printed = len(full)
	return delta
}

func connectionCause(c session.Connection) string {
	if c.Cause == "" {
		return string(c.Status)
	}
	return c.Cause
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func renderMarkdown(w io.Writer, md string) error {
	width := 80
	if f, ok := w.(*os.File); ok {
		if tw, _, err := term.GetSize(int(f.Fd())); err == nil && tw > 0 {
			width = min(tw, 120)
		}
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithStyles(styles.GlamourStyle()),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return fmt.Errorf("create renderer: %w", err)
	}

	rendered, err := r.Render(md)
	if err != nil {
		return fmt.Errorf("render reply: %w", err)
	}

	_, err = fmt.Fprint(w, rendered)
	return err
}
