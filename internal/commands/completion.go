package commands

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/colonyops/coach/internal/coach"
	"github.com/colonyops/coach/internal/core/document"
)

// GoalIDCompleter returns a ShellCompleteFunc that suggests goal ids from
// the first page of the (cached) goal list. Set this as the ShellComplete
// field on any cli.Command that accepts a goal id.
//
// When the user's last typed argument starts with "-", it falls back to the
// default flag completion behavior.
func GoalIDCompleter(app *coach.App) cli.ShellCompleteFunc {
	return func(ctx context.Context, cmd *cli.Command) {
		if args := cmd.Args(); args.Present() {
			last := args.Slice()[args.Len()-1]
			if len(last) > 0 && last[0] == '-' {
				cli.DefaultCompleteWithFlags(ctx, cmd)
				return
			}
		}

		if app.Goals == nil {
			return
		}
		page, _, err := app.Goals.List(ctx, document.ListOptions{PageSize: 100})
		if err != nil {
			return
		}

		w := cmd.Root().Writer
		for _, g := range page.Goals {
			// zsh and fish show the text after the colon as a description
			_, _ = fmt.Fprintf(w, "%s:%s\n", g.ID, g.Title)
		}
	}
}
