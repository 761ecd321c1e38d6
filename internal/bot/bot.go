// Package bot runs the per-issue pipeline: gather context, ask the planner
// for a plan, validate and execute it, then report back on the issue.
package bot

import (
	"context"
	"errors"

	"github.com/hay-kot/issuebot/internal/core/engine"
	"github.com/hay-kot/issuebot/internal/core/plan"
	"github.com/hay-kot/issuebot/internal/core/workitem"
)

var (
	// ErrDuplicate is returned when an item was already admitted by this process.
	ErrDuplicate = errors.New("work item already processed")
	// ErrPullRequest is returned for pull requests, which are never planned.
	ErrPullRequest = errors.New("work item is a pull request")
)

// Tracker is the issue tracker the pipeline reads from and reports to.
type Tracker interface {
	ListOpenIssues(ctx context.Context) ([]workitem.WorkItem, error)
	ListComments(ctx context.Context, number int) ([]workitem.Comment, error)
	Comment(ctx context.Context, number int, body string) error
	Close(ctx context.Context, number int, reason plan.Reason) error
}

// Planner turns a prompt into raw, untrusted plan text.
type Planner interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// Recorder persists the outcome of a processed item. runErr is set when the
// pipeline failed before or after execution.
type Recorder interface {
	RecordRun(ctx context.Context, item workitem.WorkItem, p *plan.ActionPlan, sum engine.Summary, runErr error) error
}
