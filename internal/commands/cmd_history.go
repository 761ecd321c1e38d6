package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/issuebot/internal/data/stores"
	"github.com/hay-kot/issuebot/pkg/iojson"
)

type HistoryCmd struct {
	flags *Flags

	// flags
	limit      int
	issue      int
	jsonOutput bool
}

// NewHistoryCmd creates a new history command
func NewHistoryCmd(flags *Flags) *HistoryCmd {
	return &HistoryCmd{flags: flags}
}

// Register adds the history command to the application
func (cmd *HistoryCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "history",
		Usage:     "List recorded runs",
		UsageText: "issuebot history [--limit N] [--issue N] [--json] [run-id]",
		Description: `Shows runs recorded in the history database, newest first.

Pass a run ID to show the per-action outcomes of that run.`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "limit",
				Aliases:     []string{"n"},
				Usage:       "maximum number of runs to list",
				Value:       20,
				Destination: &cmd.limit,
			},
			&cli.IntFlag{
				Name:        "issue",
				Aliases:     []string{"i"},
				Usage:       "only runs for this issue",
				Destination: &cmd.issue,
			},
			&cli.BoolFlag{
				Name:        "json",
				Usage:       "output as JSON",
				Destination: &cmd.jsonOutput,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *HistoryCmd) run(ctx context.Context, c *cli.Command) error {
	database, runs, err := openHistory(cmd.flags.Config)
	if err != nil {
		return err
	}
	defer func() { _ = database.Close() }()

	if id := c.Args().First(); id != "" {
		return cmd.show(ctx, c, runs, id)
	}

	var list []stores.Run
	if cmd.issue > 0 {
		list, err = runs.ForIssue(ctx, cmd.issue)
	} else {
		list, err = runs.List(ctx, cmd.limit)
	}
	if err != nil {
		return fmt.Errorf("list runs: %w", err)
	}

	if cmd.jsonOutput {
		return iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, list)
	}

	if len(list) == 0 {
		fmt.Fprintf(os.Stderr, "No runs recorded\n")
		return nil
	}

	w := tabwriter.NewWriter(c.Root().Writer, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tISSUE\tSTATE\tC/U/D\tERR\tSTARTED\tTITLE")
	for _, r := range list {
		state := r.State
		if r.DryRun {
			state += " (dry)"
		}
		_, _ = fmt.Fprintf(w, "%s\t#%d\t%s\t%d/%d/%d\t%d\t%s\t%s\n",
			shortID(r.ID), r.IssueNumber, state,
			r.Created, r.Updated, r.Deleted, r.Errors,
			r.StartedAt.Local().Format(time.DateTime), r.Title)
	}
	return w.Flush()
}

func (cmd *HistoryCmd) show(ctx context.Context, c *cli.Command, runs *stores.RunStore, id string) error {
	run, err := runs.Get(ctx, id)
	if errors.Is(err, stores.ErrNotFound) {
		return fmt.Errorf("run %s not found", id)
	}
	if err != nil {
		return fmt.Errorf("get run: %w", err)
	}

	if cmd.jsonOutput {
		return iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, run)
	}

	out := newPrinter(c.Root().Writer)
	out.Header("Run %s", run.ID)
	out.KV("issue", fmt.Sprintf("#%d %s", run.IssueNumber, run.Title))
	out.KV("state", run.State)
	out.KV("branch", run.Branch)
	out.KV("dry run", run.DryRun)
	out.KV("started", run.StartedAt.Local().Format(time.DateTime))
	out.KV("duration", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	if run.PullRequestURL != "" {
		out.KV("pull request", run.PullRequestURL)
	}
	if run.Error != "" {
		out.Error("%s", run.Error)
	}

	out.Divider()
	for _, a := range run.Actions {
		line := fmt.Sprintf("[%d] %s %s", a.Index, a.Kind, a.Path)
		switch a.Outcome {
		case "applied":
			out.Success("%s", line)
		case "skipped":
			out.Warn("%s: %s", line, a.Reason)
		default:
			out.Error("%s: %s", line, a.Reason)
		}
	}
	return nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
