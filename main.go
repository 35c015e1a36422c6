package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/coach/internal/api"
	"github.com/colonyops/coach/internal/coach"
	"github.com/colonyops/coach/internal/commands"
	"github.com/colonyops/coach/internal/core/config"
	"github.com/colonyops/coach/internal/core/eventbus"
	"github.com/colonyops/coach/internal/core/logging"
	"github.com/colonyops/coach/internal/core/styles"
	"github.com/colonyops/coach/internal/data/db"
	"github.com/colonyops/coach/internal/data/stores"
	"github.com/colonyops/coach/pkg/logutils"
)

var (
	// Build information. Populated at build-time via -ldflags flag.
	// When installed via `go install module@version`, init() populates
	// these from runtime/debug.BuildInfo instead.
	version = "dev"
	commit  = "HEAD"
	date    = "now"
)

func build() string {
	v, c, d := version, commit, date

	// When installed via `go install module@version`, ldflags aren't set
	// so version remains "dev". Fall back to runtime/debug.BuildInfo which
	// Go populates automatically with the module version and VCS metadata.
	if v == "dev" {
		if info, ok := debug.ReadBuildInfo(); ok {
			if mv := info.Main.Version; mv != "" && mv != "(devel)" {
				v = mv
			}
			for _, s := range info.Settings {
				switch s.Key {
				case "vcs.revision":
					c = s.Value
				case "vcs.time":
					d = s.Value
				}
			}
		}
	}

	short := c
	if len(c) > 7 {
		short = c[:7]
	}

	return fmt.Sprintf("%s (%s) %s", v, short, d)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)

	var (
		logCloser func()
		coachApp  = &coach.App{}
		database  *db.DB
		bgCancel  context.CancelFunc
	)

	flags := &commands.Flags{}

	app := &cli.Command{
		Name:      "coach",
		Usage:     "Chat with your goal coach and edit goals side by side",
		UsageText: "coach [global options] command [command options]",
		Description: `Coach keeps a realtime chat session with the coaching server and a local
editor for the goal under discussion. Unsaved edits are saved in the
background and always sent along with your next message.

Run 'coach' with no arguments to open the interactive session.
Run 'coach login' first to store an access token.`,
		Version: build(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "log-level",
				Usage:       "log level (debug, info, warn, error, fatal, panic)",
				Sources:     cli.EnvVars("COACH_LOG_LEVEL"),
				Value:       "info",
				Destination: &flags.LogLevel,
			},
			&cli.StringFlag{
				Name:        "log-file",
				Usage:       "path to log file (defaults to <data-dir>/coach.log)",
				Sources:     cli.EnvVars("COACH_LOG_FILE"),
				Destination: &flags.LogFile,
			},
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "path to config file",
				Sources:     cli.EnvVars("COACH_CONFIG"),
				Value:       commands.DefaultConfigPath(),
				Destination: &flags.ConfigPath,
			},
			&cli.StringFlag{
				Name:        "data-dir",
				Usage:       "path to data directory",
				Sources:     cli.EnvVars("COACH_DATA_DIR"),
				Value:       commands.DefaultDataDir(),
				Destination: &flags.DataDir,
			},
			&cli.StringFlag{
				Name:        "env-file",
				Usage:       "load COACH_* variables from a dotenv file",
				Destination: &flags.EnvFile,
			},
			&cli.StringFlag{
				Name:        "server",
				Usage:       "coach server base URL (overrides server.base_url)",
				Sources:     cli.EnvVars("COACH_SERVER"),
				Destination: &flags.Server,
			},
			&cli.StringFlag{
				Name:        "token",
				Usage:       "access token (overrides the config and stored token)",
				Sources:     cli.EnvVars("COACH_TOKEN"),
				Destination: &flags.Token,
			},
		},
		Before: func(ctx context.Context, c *cli.Command) (context.Context, error) {
			// Flag env sources were read before the file was loaded.
			if flags.EnvFile != "" {
				if err := godotenv.Load(flags.EnvFile); err != nil {
					return ctx, fmt.Errorf("load env file: %w", err)
				}
				applyEnvFallbacks(c, flags)
			}

			logFile := flags.LogFile
			if logFile == "" {
				logFile = (&config.Config{DataDir: flags.DataDir}).LogFile()
			}

			logger, closer, err := logutils.New(flags.LogLevel, logFile)
			if err != nil {
				return ctx, fmt.Errorf("setup logger: %w", err)
			}
			log.Logger = logger
			logCloser = closer

			cfg, err := config.Load(flags.ConfigPath, flags.DataDir)
			if err != nil {
				return ctx, fmt.Errorf("load config: %w", err)
			}
			if flags.Server != "" {
				cfg.Server.BaseURL = flags.Server
			}
			flags.Config = cfg

			token, err := commands.ResolveToken(flags.Token, cfg)
			if err != nil {
				return ctx, err
			}
			flags.Token = token

			// Apply configured theme (validation ensures name is valid)
			palette, _ := styles.GetPalette(cfg.TUI.Theme)
			styles.SetTheme(palette)

			database, err = openDatabase(cfg)
			if err != nil {
				return ctx, err
			}

			kvStore := stores.NewKVStore(database)
			client := api.New(cfg.Server.BaseURL, token, cfg.Server.RequestTimeout,
				api.WithLogger(logging.Component("api")),
			)

			bus := eventbus.New(256)
			eventbus.RegisterDebugLogger(bus, logging.Component("eventbus"))

			// Populate the pre-allocated App struct (commands already hold a pointer to it)
			*coachApp = *coach.NewApp(cfg, client, database, kvStore, bus)

			bgCtx, cancel := context.WithCancel(context.Background())
			bgCancel = cancel
			go bus.Start(bgCtx)
			go coachApp.SweepCache(bgCtx)

			return ctx, nil
		},
		After: func(ctx context.Context, c *cli.Command) error {
			// Stop the bus and the cache sweep
			if bgCancel != nil {
				bgCancel()
			}

			if database != nil {
				if err := database.Close(); err != nil {
					log.Error().Err(err).Msg("failed to close database")
					return err
				}
			}

			if logCloser != nil {
				logCloser()
			}
			return nil
		},
	}

	tuiCmd := commands.NewTuiCmd(flags, coachApp, build())

	app = tuiCmd.Register(app)
	app = commands.NewSendCmd(flags, coachApp).Register(app)
	app = commands.NewGoalsCmd(flags, coachApp).Register(app)
	app = commands.NewNotificationsCmd(flags, coachApp).Register(app)
	app = commands.NewLoginCmd(flags, coachApp).Register(app)
	app = commands.NewConfigValidateCmd(flags).Register(app)
	app = commands.NewDevServerCmd(flags).Register(app)

	// Register TUI flags on root command
	app.Flags = append(app.Flags, tuiCmd.Flags()...)

	// Set TUI as default action when no subcommand is provided
	app.Action = func(ctx context.Context, c *cli.Command) error {
		if c.Args().Len() > 0 {
			return fmt.Errorf("unknown command %q. Run 'coach --help' for usage", c.Args().First())
		}
		return tuiCmd.Run(ctx, c)
	}

	exitCode := 0
	runErr := app.Run(ctx, os.Args)
	stop()
	if runErr != nil {
		fmt.Println()
		fmt.Println(runErr.Error())
		exitCode = 1
	}

	os.Exit(exitCode)
}

// openDatabase opens the local store, moving a corrupted database file
// aside and starting fresh when SQLite reports corruption.
func openDatabase(cfg *config.Config) (*db.DB, error) {
	opts := db.OpenOptions{
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		BusyTimeout:  cfg.Database.BusyTimeout,
	}

	database, err := db.Open(cfg.DataDir, opts)
	if err == nil {
		return database, nil
	}
	if !stores.IsCorruptionError(err) {
		return nil, fmt.Errorf("open database: %w", err)
	}

	backup, rerr := stores.RecoverFromCorruption(cfg.DataDir)
	if rerr != nil {
		return nil, errors.Join(fmt.Errorf("open database: %w", err), rerr)
	}
	log.Warn().Str("backup", backup).Msg("database was corrupted; moved aside and recreated")

	database, err = db.Open(cfg.DataDir, opts)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return database, nil
}

// applyEnvFallbacks copies COACH_* values loaded from the env file into
// flags the user did not set explicitly.
func applyEnvFallbacks(c *cli.Command, flags *commands.Flags) {
	for name, dest := range map[string]*string{
		"log-level": &flags.LogLevel,
		"log-file":  &flags.LogFile,
		"config":    &flags.ConfigPath,
		"data-dir":  &flags.DataDir,
		"server":    &flags.Server,
		"token":     &flags.Token,
	} {
		if c.IsSet(name) {
			continue
		}
		if v, ok := os.LookupEnv(envName(name)); ok && v != "" {
			*dest = v
		}
	}
}

func envName(flag string) string {
	return "COACH_" + strings.ToUpper(strings.ReplaceAll(flag, "-", "_"))
}
