package commands

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/hay-kot/criterio"
	"github.com/urfave/cli/v3"

	"github.com/hay-kot/issuebot/internal/bot"
	"github.com/hay-kot/issuebot/internal/core/eventbus"
	"github.com/hay-kot/issuebot/internal/core/logging"
	"github.com/hay-kot/issuebot/internal/core/plan"
	"github.com/hay-kot/issuebot/internal/core/store"
	"github.com/hay-kot/issuebot/internal/core/workitem"
	"github.com/hay-kot/issuebot/internal/data/stores"
	"github.com/hay-kot/issuebot/pkg/iojson"
)

type PlanCmd struct {
	flags *Flags

	input iojson.Input

	// flags
	format string
	issue  int
	memory bool
	seed   string
	post   bool
}

// NewPlanCmd creates a new plan command
func NewPlanCmd(flags *Flags) *PlanCmd {
	return &PlanCmd{flags: flags}
}

// Register adds the plan command group to the application
func (cmd *PlanCmd) Register(app *cli.Command) *cli.Command {
	formatFlag := func() *cli.StringFlag {
		return &cli.StringFlag{
			Name:        "format",
			Usage:       "output format (text, json)",
			Value:       "text",
			Destination: &cmd.format,
		}
	}

	app.Commands = append(app.Commands, &cli.Command{
		Name:  "plan",
		Usage: "Inspect and apply planner output offline",
		Commands: []*cli.Command{
			{
				Name:      "check",
				Usage:     "Validate raw planner output",
				UsageText: "issuebot plan check [file|-] [--format text|json]",
				Description: `Runs the plan validator on raw planner text exactly as the bot would:
the JSON document is extracted from a code fence or the bare text, checked
against the schema, and unsafe or excess actions are removed.

Exits non-zero when the plan is rejected.`,
				Flags:  []cli.Flag{cmd.input.Flag(), formatFlag()},
				Action: cmd.runCheck,
			},
			{
				Name:      "apply",
				Usage:     "Validate and execute a plan for an issue",
				UsageText: "issuebot plan apply [file|-] --issue N [--memory [--seed DIR]] [--post]",
				Description: `Executes a plan against the repository without asking the planner.

With --memory the plan runs against an in-memory store, optionally seeded
from a local directory, and nothing leaves the machine. Otherwise the plan is
applied to the configured GitHub repository; --post also comments the report
on the issue and closes it when the report allows.`,
				Flags: []cli.Flag{
					cmd.input.Flag(),
					formatFlag(),
					&cli.IntFlag{
						Name:        "issue",
						Aliases:     []string{"i"},
						Usage:       "issue number the plan belongs to",
						Required:    true,
						Destination: &cmd.issue,
					},
					&cli.BoolFlag{
						Name:        "memory",
						Usage:       "execute against an in-memory store",
						Destination: &cmd.memory,
					},
					&cli.StringFlag{
						Name:        "seed",
						Usage:       "directory whose files seed the in-memory store",
						Destination: &cmd.seed,
					},
					&cli.BoolFlag{
						Name:        "post",
						Usage:       "post the report on the issue (GitHub only)",
						Destination: &cmd.post,
					},
				},
				Action: cmd.runApply,
			},
		},
	})

	return app
}

func (cmd *PlanCmd) read(c *cli.Command) (string, error) {
	cmd.input.SetPath(c.Args().First())
	if c.Root().Reader != nil && c.Root().Reader != os.Stdin {
		cmd.input.SetReader(c.Root().Reader)
	}
	data, err := cmd.input.ReadAll()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type fieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

type checkOutput struct {
	Valid    bool             `json:"valid"`
	Error    string           `json:"error,omitempty"`
	Fields   []fieldError     `json:"fields,omitempty"`
	Plan     *plan.ActionPlan `json:"plan,omitempty"`
	Filtered plan.Report      `json:"filtered"`
}

func fieldErrors(err error) []fieldError {
	var fe criterio.FieldErrors
	if !errors.As(err, &fe) {
		return nil
	}
	out := make([]fieldError, 0, len(fe))
	for _, f := range fe {
		out = append(out, fieldError{Field: f.Field, Message: f.Err.Error()})
	}
	return out
}

func (cmd *PlanCmd) runCheck(ctx context.Context, c *cli.Command) error {
	raw, err := cmd.read(c)
	if err != nil {
		return err
	}

	p, filtered, perr := bot.NewValidator(cmd.flags.Config).Parse(raw)
	result := checkOutput{Valid: perr == nil, Plan: p, Filtered: filtered}
	if perr != nil {
		result.Error = perr.Error()
		result.Fields = fieldErrors(perr)
	}

	if cmd.format == "json" {
		if err := iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, result); err != nil {
			return err
		}
		return perr
	}

	out := newPrinter(c.Root().Writer)
	if perr != nil {
		out.Error("plan rejected")
		if len(result.Fields) == 0 {
			out.Muted("  %s", result.Error)
		}
		for _, f := range result.Fields {
			out.KV(f.Field, f.Message)
		}
		return perr
	}

	out.Success("plan accepted")
	printPlan(out, p, filtered)
	return nil
}

func printPlan(out *printer, p *plan.ActionPlan, filtered plan.Report) {
	out.KV("issue", p.IssueNumber)
	out.KV("actions", len(p.Actions))
	out.KV("close", fmt.Sprintf("%t (%s)", p.Close, p.CloseReason()))
	for _, task := range p.TasksSummary {
		out.Muted("  - %s", task)
	}

	out.Divider()
	for i, a := range p.Actions {
		line := fmt.Sprintf("[%d] %s %s", i, a.Kind, a.Path)
		if a.Kind.NeedsContent() {
			line += fmt.Sprintf(" (%d bytes)", len(a.Content))
		}
		out.Success("%s", line)
	}
	for _, r := range filtered.Rejected {
		out.Warn("[%d] %s %s rejected: %s", r.Index, r.Kind, r.Path, r.Reason)
	}
	if filtered.Dropped > 0 {
		out.Warn("%d action(s) over the limit were dropped", filtered.Dropped)
	}
}

func (cmd *PlanCmd) runApply(ctx context.Context, c *cli.Command) error {
	cfg := cmd.flags.Config

	raw, err := cmd.read(c)
	if err != nil {
		return err
	}

	var (
		cs      store.ContentStore
		mem     *store.Memory
		tracker bot.Tracker
		item    = workitem.WorkItem{ID: int64(cmd.issue), Number: cmd.issue}
	)

	if cmd.memory {
		if cmd.post {
			return errors.New("--post requires a GitHub store")
		}
		mem = store.NewMemory(cfg.GitHub.Branch)
		if cmd.seed != "" {
			files, err := readTree(cmd.seed)
			if err != nil {
				return err
			}
			mem.Seed(cfg.GitHub.Branch, files)
		}
		cs = mem
	} else {
		if err := cfg.ValidateGitHub(); err != nil {
			return fmt.Errorf("missing credentials: %w", err)
		}
		gh := newGitHub(cfg)
		if item, err = gh.GetIssue(ctx, cmd.issue); err != nil {
			return fmt.Errorf("get issue #%d: %w", cmd.issue, err)
		}
		cs, tracker = gh, gh
	}

	bus := eventbus.New(64)
	eventbus.RegisterDebugLogger(bus, logging.Component("events"))
	stopBus := startBus(ctx, bus)

	applied, err := bot.Apply(ctx, cfg, cs, bus, item, raw)
	stopBus()
	if err != nil {
		return err
	}

	if cmd.post && !cfg.Engine.DryRun {
		if err := tracker.Comment(ctx, item.Number, applied.Report.Body); err != nil {
			return fmt.Errorf("post report: %w", err)
		}
		if d := applied.Report.Disposition; d.Close {
			if err := tracker.Close(ctx, item.Number, d.Reason); err != nil {
				return fmt.Errorf("close issue: %w", err)
			}
		}
	}

	if cmd.format == "json" {
		return iojson.WriteWith(c.Root().Writer, c.Root().ErrWriter, struct {
			Run      stores.Run  `json:"run"`
			Filtered plan.Report `json:"filtered"`
			Report   string      `json:"report"`
			Close    bool        `json:"close"`
			Files    []string    `json:"files,omitempty"`
		}{
			Run:      stores.FromSummary(item, applied.Summary),
			Filtered: applied.Filtered,
			Report:   applied.Report.Body,
			Close:    applied.Report.Disposition.Close,
			Files:    memoryPaths(mem, cfg.GitHub.Branch),
		})
	}

	out := newPrinter(c.Root().Writer)
	out.Header("Plan for issue #%d", item.Number)
	printSummary(out, applied.Summary)
	if d := applied.Report.Disposition; d.Discrepancy != "" {
		out.Warn("closure withheld: %s", d.Discrepancy)
	}
	if mem != nil {
		out.Divider()
		out.Muted("files on %s after execution:", cfg.GitHub.Branch)
		for _, path := range mem.Paths(cfg.GitHub.Branch) {
			out.Muted("  %s", path)
		}
	}
	out.Divider()
	return out.Markdown(applied.Report.Body)
}

func memoryPaths(mem *store.Memory, branch string) []string {
	if mem == nil {
		return nil
	}
	return mem.Paths(branch)
}

// readTree loads every regular file under dir keyed by its slash separated
// relative path. The .git directory is skipped.
func readTree(dir string) (map[string]string, error) {
	files := map[string]string{}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if d.Name() == ".git" {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("read seed directory: %w", err)
	}
	return files, nil
}
