package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/coach/internal/coach"
	"github.com/colonyops/coach/internal/core/notify"
	"github.com/colonyops/coach/pkg/iojson"
)

type NotificationsCmd struct {
	flags *Flags
	app   *coach.App

	// flags
	jsonOutput bool
	limit      int
	clear      bool
	yes        bool
}

// NewNotificationsCmd creates a new notifications command
func NewNotificationsCmd(flags *Flags, app *coach.App) *NotificationsCmd {
	return &NotificationsCmd{flags: flags, app: app}
}

// Register adds the notifications command to the application
func (cmd *NotificationsCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "notifications",
		Aliases:     []string{"notes"},
		Usage:       "Show the notification history",
		UsageText:   "coach notifications [--limit N] [--json] [--clear [--yes]]",
		Description: "Lists notices raised during past sessions, newest first.",
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "output as JSON",
				Destination: &cmd.jsonOutput,
			},
			&cli.IntFlag{
				Name:        "limit",
				Aliases:     []string{"n"},
				Usage:       "maximum number of notifications to show (0 for all)",
				Value:       50,
				Destination: &cmd.limit,
			},
			&cli.BoolFlag{
				Name:        "clear",
				Usage:       "delete the notification history",
				Destination: &cmd.clear,
			},
			&cli.BoolFlag{
				Name:        "yes",
				Aliases:     []string{"y"},
				Usage:       "skip the confirmation prompt for --clear",
				Destination: &cmd.yes,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *NotificationsCmd) run(ctx context.Context, c *cli.Command) error {
	if cmd.clear {
		return cmd.runClear(ctx)
	}

	list, err := cmd.app.Notifications.List(ctx, cmd.limit)
	if err != nil {
		return err
	}

	out := c.Root().Writer

	if cmd.jsonOutput {
		if list == nil {
			list = []notify.Notification{}
		}
		return iojson.Write(out, os.Stderr, list)
	}

	if len(list) == 0 {
		fmt.Fprintf(os.Stderr, "No notifications\n")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "TIME\tLEVEL\tMESSAGE")
	for _, n := range list {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\n", n.CreatedAt.Local().Format(time.DateTime), n.Level, n.Message)
	}
	return w.Flush()
}

func (cmd *NotificationsCmd) runClear(ctx context.Context) error {
	n, err := cmd.app.Notifications.Count(ctx)
	if err != nil {
		return err
	}
	if n == 0 {
		fmt.Fprintf(os.Stderr, "No notifications\n")
		return nil
	}

	if !cmd.yes {
		if !isTerminal(os.Stdin) {
			return fmt.Errorf("refusing to clear %d notification(s) without --yes", n)
		}
		confirmed := false
		err := huh.NewConfirm().
			Title(fmt.Sprintf("Delete %d notification(s)?", n)).
			Affirmative("Delete").
			Negative("Cancel").
			Value(&confirmed).
			Run()
		if err != nil {
			return fmt.Errorf("confirm: %w", err)
		}
		if !confirmed {
			return nil
		}
	}

	if err := cmd.app.Notifications.Clear(ctx); err != nil {
		return err
	}
	fmt.Fprintf(os.Stderr, "Cleared %d notification(s)\n", n)
	return nil
}
