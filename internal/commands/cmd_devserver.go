package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/coach/internal/core/document"
	"github.com/colonyops/coach/internal/devserver"
	"github.com/colonyops/coach/pkg/iojson"
	"github.com/colonyops/coach/pkg/logutils"
)

type DevServerCmd struct {
	flags *Flags

	// flags
	addr       string
	token      string
	phase      string
	chunkDelay time.Duration
	seed       iojson.FileReader[[]document.Goal]
}

// NewDevServerCmd creates a new devserver command
func NewDevServerCmd(flags *Flags) *DevServerCmd {
	return &DevServerCmd{flags: flags}
}

// Register adds the devserver command to the application
func (cmd *DevServerCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "devserver",
		Usage:     "Run a local mock of the coach backend",
		UsageText: "coach devserver [--addr :8000] [--token TOKEN] [-f goals.json]",
		Description: `Serves the REST and websocket endpoints from memory. Chat messages are
echoed back as a streamed reply. A message of the form

  /tool update <id> <content>   replaces a goal through an update_goal tool call
  /tool focus <id>              asks the client to open a goal
  /error <text>                 answers with a server error

Seed goals with -f, a JSON array of goal objects.

Point the client at it with: coach --server http://localhost:8000 --token TOKEN`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "addr",
				Usage:       "listen address",
				Value:       "127.0.0.1:8000",
				Destination: &cmd.addr,
			},
			&cli.StringFlag{
				Name:        "token",
				Usage:       "bearer token REST calls must present (empty accepts any)",
				Value:       "dev",
				Destination: &cmd.token,
			},
			&cli.StringFlag{
				Name:        "phase",
				Usage:       "user phase reported on connect; 'locked' denies the session",
				Value:       "goal_setting",
				Destination: &cmd.phase,
			},
			&cli.DurationFlag{
				Name:        "chunk-delay",
				Usage:       "delay between streamed reply chunks",
				Value:       40 * time.Millisecond,
				Destination: &cmd.chunkDelay,
			},
			cmd.seed.Flag("JSON array of goals to seed (\"-\" reads stdin)"),
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *DevServerCmd) run(ctx context.Context, _ *cli.Command) error {
	logger, err := logutils.NewConsole(cmd.flags.LogLevel)
	if err != nil {
		return fmt.Errorf("setup logger: %w", err)
	}

	srv, err := devserver.New(devserver.Options{
		Token:      cmd.token,
		ChunkDelay: cmd.chunkDelay,
		UserPhase:  cmd.phase,
		Logger:     logger,
	})
	if err != nil {
		return err
	}

	if cmd.seed.Provided() {
		goals, err := cmd.seed.Read()
		if err != nil {
			return fmt.Errorf("read seed goals: %w", err)
		}
		srv.Seed(goals...)
		logger.Info().Int("goals", len(goals)).Msg("seeded goals")
	}

	ln, err := net.Listen("tcp", cmd.addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	httpSrv := &http.Server{
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpSrv.Serve(ln) }()
	logger.Info().Str("url", "http://"+ln.Addr().String()).Msg("devserver listening")

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("devserver shutdown")
		return err
	}
	return nil
}
