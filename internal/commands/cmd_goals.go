package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/urfave/cli/v3"

	"github.com/colonyops/coach/internal/coach"
	"github.com/colonyops/coach/internal/core/docformat"
	"github.com/colonyops/coach/internal/core/document"
	"github.com/colonyops/coach/internal/core/styles"
	"github.com/colonyops/coach/pkg/iojson"
)

type GoalsCmd struct {
	flags *Flags
	app   *coach.App

	// flags
	jsonOutput bool
	page       int
	pageSize   int
	phase      string
	match      string
	refresh    bool
}

// NewGoalsCmd creates a new goals command
func NewGoalsCmd(flags *Flags, app *coach.App) *GoalsCmd {
	return &GoalsCmd{flags: flags, app: app}
}

// Register adds the goals command to the application
func (cmd *GoalsCmd) Register(app *cli.Command) *cli.Command {
	jsonFlag := func() cli.Flag {
		return &cli.BoolFlag{
			Name:        "json",
			Usage:       "output as JSON",
			Destination: &cmd.jsonOutput,
		}
	}

	app.Commands = append(app.Commands, &cli.Command{
		Name:  "goals",
		Usage: "Browse goal documents",
		Commands: []*cli.Command{
			{
				Name:      "ls",
				Usage:     "List goals",
				UsageText: "coach goals ls [--page N] [--phase PHASE] [--match GLOB] [--json]",
				Description: `Lists one page of goals, newest first. Listings are cached locally for
cache.document_list_ttl; --refresh drops the cache first.

--match filters the page by title with a glob pattern, e.g. 'Run*' or '*[Rr]ead*'.`,
				Flags: []cli.Flag{
					jsonFlag(),
					&cli.IntFlag{
						Name:        "page",
						Usage:       "page number",
						Value:       1,
						Destination: &cmd.page,
					},
					&cli.IntFlag{
						Name:        "page-size",
						Usage:       "goals per page",
						Value:       20,
						Destination: &cmd.pageSize,
					},
					&cli.StringFlag{
						Name:        "phase",
						Usage:       "only goals in this phase (draft, active, completed, archived)",
						Destination: &cmd.phase,
					},
					&cli.StringFlag{
						Name:        "match",
						Usage:       "glob pattern matched against goal titles",
						Destination: &cmd.match,
					},
					&cli.BoolFlag{
						Name:        "refresh",
						Usage:       "bypass the local cache",
						Destination: &cmd.refresh,
					},
				},
				Action: cmd.runList,
			},
			{
				Name:          "show",
				Usage:         "Show one goal",
				UsageText:     "coach goals show <id> [--json]",
				Flags:         []cli.Flag{jsonFlag()},
				ShellComplete: GoalIDCompleter(cmd.app),
				Action:        cmd.runShow,
			},
		},
	})

	return app
}

func (cmd *GoalsCmd) runList(ctx context.Context, c *cli.Command) error {
	if cmd.flags.Token == "" {
		return errNotLoggedIn
	}

	phase, err := parsePhase(cmd.phase)
	if err != nil {
		return err
	}
	if cmd.match != "" && !doublestar.ValidatePattern(cmd.match) {
		return fmt.Errorf("invalid --match pattern %q", cmd.match)
	}

	if cmd.refresh {
		if err := cmd.app.Goals.Invalidate(ctx, ""); err != nil {
			return fmt.Errorf("purge cache: %w", err)
		}
	}

	page, cached, err := cmd.app.Goals.List(ctx, document.ListOptions{
		Page:     cmd.page,
		PageSize: cmd.pageSize,
		Phase:    phase,
	})
	if err != nil {
		return err
	}

	page.Goals, err = filterTitles(page.Goals, cmd.match)
	if err != nil {
		return err
	}

	out := c.Root().Writer

	if cmd.jsonOutput {
		return iojson.Write(out, os.Stderr, page)
	}

	if len(page.Goals) == 0 {
		fmt.Fprintf(os.Stderr, "No goals found\n")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTITLE\tPHASE\tUPDATED")
	for _, g := range page.Goals {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", g.ID, g.Title, g.Phase, formatUpdated(g.UpdatedAt))
	}
	_ = w.Flush()

	footer := fmt.Sprintf("page %d of %d, %d total", page.Page, max(page.TotalPages, 1), page.Total)
	if cached {
		footer += " (cached)"
	}
	fmt.Fprintln(os.Stderr, styles.TextMutedStyle.Render(footer))
	return nil
}

func (cmd *GoalsCmd) runShow(ctx context.Context, c *cli.Command) error {
	if cmd.flags.Token == "" {
		return errNotLoggedIn
	}
	if c.Args().Len() != 1 {
		return errors.New("expected exactly one goal id")
	}

	goal, err := cmd.app.Goals.Get(ctx, c.Args().First())
	if err != nil {
		if errors.Is(err, document.ErrNotFound) {
			return fmt.Errorf("goal %q not found", c.Args().First())
		}
		return err
	}

	out := c.Root().Writer
	if cmd.jsonOutput {
		return iojson.Write(out, os.Stderr, goal)
	}

	header := styles.CommandHeaderStyle.Render(goal.Title) + " " +
		styles.TextMutedStyle.Render(fmt.Sprintf("%s · %s", goal.ID, goal.Phase))
	_, _ = fmt.Fprintln(out, header)

	md := docformat.Project(goal.Content)
	if isTerminal(out) {
		return renderMarkdown(out, md)
	}
	_, err = fmt.Fprintln(out, md)
	return err
}

func parsePhase(s string) (document.Phase, error) {
	switch p := document.Phase(s); p {
	case "", document.PhaseDraft, document.PhaseActive, document.PhaseCompleted, document.PhaseArchived:
		return p, nil
	default:
		return "", fmt.Errorf("unknown phase %q", s)
	}
}

func filterTitles(goals []document.Goal, pattern string) ([]document.Goal, error) {
	if pattern == "" {
		return goals, nil
	}
	out := make([]document.Goal, 0, len(goals))
	for _, g := range goals {
		ok, err := doublestar.Match(pattern, g.Title)
		if err != nil {
			return nil, fmt.Errorf("match %q: %w", pattern, err)
		}
		if ok {
			out = append(out, g)
		}
	}
	return out, nil
}

func formatUpdated(ts document.Timestamp) string {
	if ts.IsZero() {
		return "-"
	}
	return ts.Local().Format(time.DateTime)
}
