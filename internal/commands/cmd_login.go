package commands

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/urfave/cli/v3"
	"golang.org/x/term"

	"github.com/colonyops/coach/internal/api"
	"github.com/colonyops/coach/internal/coach"
	"github.com/colonyops/coach/internal/core/config"
	"github.com/colonyops/coach/internal/core/styles"
)

// errNotLoggedIn is returned by commands that talk to the server without a token.
var errNotLoggedIn = errors.New("not logged in: run 'coach login' or set COACH_TOKEN")

type LoginCmd struct {
	flags *Flags
	app   *coach.App
}

// NewLoginCmd creates the login and logout commands
func NewLoginCmd(flags *Flags, app *coach.App) *LoginCmd {
	return &LoginCmd{flags: flags, app: app}
}

// Register adds the login and logout commands to the application
func (cmd *LoginCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands,
		&cli.Command{
			Name:      "login",
			Usage:     "Store an access token for the coach server",
			UsageText: "coach login\n   echo $TOKEN | coach login",
			Description: `Prompts for a long-lived access token, checks it against the server by
requesting a websocket ticket, and stores it in the data directory.

When stdin is not a terminal the token is read from the first line of stdin.`,
			Action: cmd.login,
		},
		&cli.Command{
			Name:        "logout",
			Usage:       "Remove the stored access token",
			Description: "Deletes the stored token and purges cached goal listings.",
			Action:      cmd.logout,
		},
	)

	return app
}

func (cmd *LoginCmd) login(ctx context.Context, c *cli.Command) error {
	token, err := readToken(os.Stdin)
	if err != nil {
		return err
	}

	cfg := cmd.flags.Config
	client := api.New(cfg.Server.BaseURL, token, cfg.Server.RequestTimeout)
	if _, err := client.IssueTicket(ctx); err != nil {
		if errors.Is(err, api.ErrUnauthorized) {
			return fmt.Errorf("token rejected by %s", cfg.Server.BaseURL)
		}
		return fmt.Errorf("check token: %w", err)
	}

	path := StoredTokenPath(cfg.DataDir)
	if err := writeToken(path, token); err != nil {
		return err
	}

	_, _ = fmt.Fprintln(c.Root().Writer, styles.CommandHeaderStyle.Render("Logged in")+" "+styles.TextMutedStyle.Render(cfg.Server.BaseURL))
	return nil
}

func (cmd *LoginCmd) logout(ctx context.Context, c *cli.Command) error {
	path := StoredTokenPath(cmd.flags.Config.DataDir)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove token: %w", err)
	}

	if err := cmd.app.Goals.Invalidate(ctx, ""); err != nil {
		return fmt.Errorf("purge goal cache: %w", err)
	}

	_, _ = fmt.Fprintln(c.Root().Writer, "Logged out")
	return nil
}

func readToken(stdin *os.File) (string, error) {
	if !term.IsTerminal(int(stdin.Fd())) {
		return firstLine(stdin)
	}

	var token string
	err := huh.NewInput().
		Title("Access token").
		Description("Paste the token issued by the coach server").
		EchoMode(huh.EchoModePassword).
		Value(&token).
		Validate(func(s string) error {
			if strings.TrimSpace(s) == "" {
				return errors.New("token is required")
			}
			return nil
		}).
		Run()
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(token), nil
}

func firstLine(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read token: %w", err)
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return "", errors.New("no token on stdin")
	}
	return line, nil
}

func writeToken(path, token string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}
	return nil
}

// ResolveToken picks the access token: the --token flag or COACH_TOKEN,
// then the config file, then the token stored by `coach login`.
func ResolveToken(flagToken string, cfg *config.Config) (string, error) {
	if flagToken != "" {
		return flagToken, nil
	}

	token, err := cfg.ResolveToken()
	if err != nil || token != "" {
		return token, err
	}

	data, err := os.ReadFile(StoredTokenPath(cfg.DataDir))
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read stored token: %w", err)
	}
	return strings.TrimSpace(string(data)), nil
}
