package bot

import (
	"context"
	"time"

	"github.com/hay-kot/issuebot/internal/core/config"
	"github.com/hay-kot/issuebot/internal/core/engine"
	"github.com/hay-kot/issuebot/internal/core/eventbus"
	"github.com/hay-kot/issuebot/internal/core/logging"
	"github.com/hay-kot/issuebot/internal/core/plan"
	"github.com/hay-kot/issuebot/internal/core/report"
	"github.com/hay-kot/issuebot/internal/core/retry"
	"github.com/hay-kot/issuebot/internal/core/store"
	"github.com/hay-kot/issuebot/internal/core/workitem"
)

// NewValidator returns a plan validator using the limits in cfg.
func NewValidator(cfg *config.Config) *plan.Validator {
	return plan.NewValidator(
		cfg.Engine.MaxActions,
		cfg.Engine.MaxFileSizeBytes,
		cfg.Engine.ProtectedPaths,
		logging.Component("validator"),
	)
}

func engineOptions(cfg *config.Config, sleep func(context.Context, time.Duration) error) engine.Options {
	return engine.Options{
		TargetBranch:   cfg.GitHub.Branch,
		Isolated:       cfg.Engine.UsePullRequest,
		BranchPrefix:   cfg.Engine.BranchPrefix,
		DryRun:         cfg.Engine.DryRun,
		ActionDelay:    cfg.Engine.ActionDelay,
		Protected:      cfg.Engine.ProtectedPaths,
		CommitTemplate: cfg.Engine.CommitTemplate,
		Sleep:          sleep,
	}
}

// Applied is the outcome of Apply.
type Applied struct {
	Plan     *plan.ActionPlan
	Filtered plan.Report
	Summary  engine.Summary
	Report   report.Report
}

// Apply validates raw planner output with the limits in cfg and executes it
// against cs. The issue tracker is not touched and the item is not
// deduplicated, so the same plan can be replayed against a scratch store.
func Apply(ctx context.Context, cfg *config.Config, cs store.ContentStore, bus *eventbus.EventBus, item workitem.WorkItem, raw string) (Applied, error) {
	p, filtered, err := NewValidator(cfg).Parse(raw)
	if err != nil {
		return Applied{Filtered: filtered}, err
	}

	policy := retry.Policy{MaxAttempts: cfg.Retry.MaxAttempts, BaseDelay: cfg.Retry.BaseDelay}
	eng, err := engine.New(cs, policy, bus, logging.Component("engine"), engineOptions(cfg, nil))
	if err != nil {
		return Applied{Plan: p, Filtered: filtered}, err
	}

	sum := eng.Execute(logging.WithIssue(ctx, item.Number), item, p)
	return Applied{
		Plan:     p,
		Filtered: filtered,
		Summary:  sum,
		Report:   report.Summarize(p, sum),
	}, nil
}
