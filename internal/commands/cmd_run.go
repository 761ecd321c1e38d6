package commands

import (
	"context"
	"errors"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/hay-kot/issuebot/internal/bot"
	"github.com/hay-kot/issuebot/internal/core/engine"
	"github.com/hay-kot/issuebot/internal/core/eventbus"
	"github.com/hay-kot/issuebot/internal/core/logging"
	"github.com/hay-kot/issuebot/internal/data/stores"
	"github.com/hay-kot/issuebot/pkg/iojson"
)

type RunCmd struct {
	flags *Flags

	// flags
	issue  int
	format string
}

// NewRunCmd creates a new run command
func NewRunCmd(flags *Flags) *RunCmd {
	return &RunCmd{flags: flags}
}

// Register adds the run command to the application
func (cmd *RunCmd) Register(app *cli.Command) *cli.Command {
	app.Commands = append(app.Commands, &cli.Command{
		Name:      "run",
		Usage:     "Process open issues once and exit",
		UsageText: "issuebot run [--issue N] [--format text|json]",
		Description: `Performs a single poll cycle: every open issue is planned, executed and
reported. With --issue only that issue is processed.`,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:        "issue",
				Aliases:     []string{"i"},
				Usage:       "process a single issue by number",
				Destination: &cmd.issue,
			},
			&cli.StringFlag{
				Name:        "format",
				Usage:       "output format (text, json)",
				Value:       "text",
				Destination: &cmd.format,
			},
		},
		Action: cmd.run,
	})

	return app
}

func (cmd *RunCmd) run(ctx context.Context, c *cli.Command) error {
	bus := eventbus.New(256)
	eventbus.NewNotificationRouter(bus).Register()
	eventbus.RegisterDebugLogger(bus, logging.Component("events"))

	defer startBus(ctx, bus)()

	p, err := newPipeline(cmd.flags.Config, bus)
	if err != nil {
		return err
	}
	defer p.Close()

	if cmd.issue > 0 {
		return cmd.runIssue(ctx, c, p)
	}

	cycle, err := p.poller.RunOnce(ctx)
	if err != nil {
		return fmt.Errorf("poll: %w", err)
	}

	if cmd.format == "json" {
		return iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, cycle)
	}

	out := newPrinter(c.Root().Writer)
	out.Header("Poll cycle for %s", cmd.flags.Config.Repository())
	out.KV("found", cycle.Found)
	out.KV("processed", cycle.Processed)
	out.KV("skipped", cycle.Skipped)
	out.KV("failed", cycle.Failed)
	if cycle.Failed > 0 {
		return fmt.Errorf("%d issue(s) failed", cycle.Failed)
	}
	return nil
}

func (cmd *RunCmd) runIssue(ctx context.Context, c *cli.Command, p *pipeline) error {
	item, err := p.github.GetIssue(ctx, cmd.issue)
	if err != nil {
		return fmt.Errorf("get issue #%d: %w", cmd.issue, err)
	}

	sum, err := p.service.ProcessWorkItem(ctx, item)
	if errors.Is(err, bot.ErrPullRequest) {
		return fmt.Errorf("#%d is a pull request", cmd.issue)
	}

	if cmd.format == "json" {
		if werr := iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, stores.FromSummary(item, sum)); werr != nil {
			return werr
		}
		return err
	}

	out := newPrinter(c.Root().Writer)
	out.Header("Issue #%d: %s", item.Number, item.Title)
	printSummary(out, sum)
	return err
}

func printSummary(out *printer, sum engine.Summary) {
	out.KV("state", sum.State)
	out.KV("created", sum.Counters.Created)
	out.KV("updated", sum.Counters.Updated)
	out.KV("deleted", sum.Counters.Deleted)
	out.KV("skipped", sum.Counters.Skipped)
	out.KV("errors", sum.Counters.Errors)
	if sum.Branch != "" {
		out.KV("branch", sum.Branch)
	}
	if sum.PullRequestURL != "" {
		out.KV("pull request", sum.PullRequestURL)
	}
	if sum.DryRun {
		out.Muted("dry run: no changes were written")
	}

	for _, r := range sum.Results {
		line := fmt.Sprintf("[%d] %s %s", r.Index, r.Action.Kind, r.Action.Path)
		switch r.Outcome {
		case engine.OutcomeApplied:
			if r.Degraded {
				line += " (existing file updated)"
			}
			out.Success("%s", line)
		case engine.OutcomeSkipped:
			out.Warn("%s: %s", line, r.Reason)
		case engine.OutcomeFailed:
			out.Error("%s: %v", line, r.Err)
		}
	}
}
