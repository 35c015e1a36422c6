package commands

import (
	"context"
	"fmt"
	"time"

	tea "charm.land/bubbletea/v2"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/coach/internal/coach"
	"github.com/colonyops/coach/internal/tui"
	"github.com/colonyops/coach/pkg/profiler"
)

// closeTimeout bounds the final draft flush when the TUI exits.
const closeTimeout = 10 * time.Second

type TuiCmd struct {
	flags   *Flags
	app     *coach.App
	version string
}

// NewTuiCmd creates a new tui command
func NewTuiCmd(flags *Flags, app *coach.App, version string) *TuiCmd {
	return &TuiCmd{
		flags:   flags,
		app:     app,
		version: version,
	}
}

// Flags returns the TUI-specific flags for registration on the root command
func (cmd *TuiCmd) Flags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:        "profiler-port",
			Usage:       "enable pprof HTTP endpoint on specified port (e.g., 6060)",
			Sources:     cli.EnvVars("COACH_PROFILER_PORT"),
			Destination: &cmd.flags.ProfilerPort,
		},
	}
}

// Register adds the tui command to the application
func (cmd *TuiCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:        "tui",
		Usage:       "Open the interactive coaching session",
		Description: "Runs the chat and goal editor. This is also the default when no command is given.",
		Flags:       cmd.Flags(),
		Action:      cmd.run,
	})
	return app
}

// Run executes the TUI. Exported for use as default command.
func (cmd *TuiCmd) Run(ctx context.Context, c *cli.Command) error {
	return cmd.run(ctx, c)
}

func (cmd *TuiCmd) run(ctx context.Context, _ *cli.Command) error {
	if cmd.flags.Token == "" {
		return errNotLoggedIn
	}

	if cmd.flags.ProfilerPort > 0 {
		profServer := profiler.New(cmd.flags.ProfilerPort)
		if err := profServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start profiler: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := profServer.Shutdown(shutdownCtx); err != nil {
				log.Error().Err(err).Msg("failed to shutdown profiler server")
			}
		}()
		log.Info().
			Str("url", fmt.Sprintf("http://%s/debug/pprof/", profServer.Addr())).
			Msg("profiler endpoint available")
	}

	sess, err := cmd.app.NewSession()
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	m := tui.New(tui.Deps{
		Session:       sess,
		Goals:         cmd.app.Goals,
		Notifications: cmd.app.Notifications,
		Bus:           cmd.app.Bus,
	}, tui.Opts{
		Version:  cmd.version,
		Warnings: warningMessages(cmd.app),
	})

	sess.Start(ctx)

	_, runErr := tea.NewProgram(m).Run()

	closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := sess.Close(closeCtx); err != nil {
		log.Error().Err(err).Msg("final draft save failed")
		if runErr == nil {
			runErr = fmt.Errorf("save drafts: %w", err)
		}
	}

	if runErr != nil {
		return fmt.Errorf("run tui: %w", runErr)
	}
	return nil
}

func warningMessages(app *coach.App) []string {
	var out []string
	for _, w := range app.Config.Warnings() {
		out = append(out, fmt.Sprintf("%s: %s", w.Category, w.Message))
	}
	return out
}
