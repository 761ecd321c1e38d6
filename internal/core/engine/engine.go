// Package engine applies a validated action plan to a content store. Actions
// run strictly in plan order, every action is attempted regardless of how
// earlier actions fared, and the outcome of each is recorded in a Summary.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hay-kot/issuebot/internal/core/eventbus"
	"github.com/hay-kot/issuebot/internal/core/logging"
	"github.com/hay-kot/issuebot/internal/core/plan"
	"github.com/hay-kot/issuebot/internal/core/retry"
	"github.com/hay-kot/issuebot/internal/core/store"
	"github.com/hay-kot/issuebot/internal/core/workitem"
	"github.com/hay-kot/issuebot/pkg/tmpl"
)

// Template defaults.
const (
	DefaultCommitTemplate = "{{.Verb}} {{.Path}}{{if .Degraded}} (existed){{end}} - 🤖 {{.Kind}} {{.Path}} via issue #{{.Issue}}"
	DefaultPRTitle        = "🤖 Changes for #{{.Issue}}"
	DefaultBranchPrefix   = "ai-bot/"
	DefaultActionDelay    = time.Second
)

// Options configures an Engine.
type Options struct {
	// TargetBranch is the line actions apply to in direct mode and the base of
	// the working branch in isolated mode.
	TargetBranch string
	// Isolated applies actions to "<BranchPrefix>issue-<n>" and opens a pull
	// request back into TargetBranch.
	Isolated     bool
	BranchPrefix string
	DryRun       bool
	ActionDelay  time.Duration
	Protected    []string

	CommitTemplate  string
	PRTitleTemplate string

	// Sleep implements the inter-action delay. Defaults to retry.Sleep.
	Sleep func(ctx context.Context, d time.Duration) error
	// NewRunID defaults to a random UUID.
	NewRunID func() string
	// Now defaults to time.Now.
	Now func() time.Time
}

// CommitData is the data available to the commit message template.
type CommitData struct {
	Verb        string
	Kind        string
	Path        string
	Description string
	Issue       int
	Degraded    bool
}

// PullRequestData is the data available to the pull request title template.
type PullRequestData struct {
	Issue int
	Title string
}

// Engine executes action plans against a store.
type Engine struct {
	store  store.ContentStore
	policy retry.Policy
	bus    *eventbus.EventBus
	log    zerolog.Logger
	opts   Options

	commitTmpl *template.Template
	prTmpl     *template.Template
}

// New builds an Engine. bus may be nil.
func New(cs store.ContentStore, policy retry.Policy, bus *eventbus.EventBus, log zerolog.Logger, opts Options) (*Engine, error) {
	if opts.TargetBranch == "" {
		return nil, errors.New("engine: target branch is required")
	}
	if opts.CommitTemplate == "" {
		opts.CommitTemplate = DefaultCommitTemplate
	}
	if opts.PRTitleTemplate == "" {
		opts.PRTitleTemplate = DefaultPRTitle
	}
	if opts.BranchPrefix == "" {
		opts.BranchPrefix = DefaultBranchPrefix
	}
	if opts.Sleep == nil {
		opts.Sleep = retry.Sleep
	}
	if opts.NewRunID == nil {
		opts.NewRunID = uuid.NewString
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	commitTmpl, err := tmpl.Parse(opts.CommitTemplate)
	if err != nil {
		return nil, fmt.Errorf("engine: commit template: %w", err)
	}
	prTmpl, err := tmpl.Parse(opts.PRTitleTemplate)
	if err != nil {
		return nil, fmt.Errorf("engine: pull request template: %w", err)
	}

	return &Engine{
		store:      cs,
		policy:     policy,
		bus:        bus,
		log:        log,
		opts:       opts,
		commitTmpl: commitTmpl,
		prTmpl:     prTmpl,
	}, nil
}

// Options returns the engine configuration after defaults were applied.
func (e *Engine) Options() Options { return e.opts }

// BranchFor returns the working branch used for item in isolated mode.
func (e *Engine) BranchFor(item workitem.WorkItem) string {
	return e.opts.BranchPrefix + "issue-" + strconv.Itoa(item.Number)
}

// Execute applies p for item and always returns a Summary. Failures are
// recorded per action and never abort the remaining actions.
func (e *Engine) Execute(ctx context.Context, item workitem.WorkItem, p *plan.ActionPlan) Summary {
	sum := Summary{
		RunID:     e.opts.NewRunID(),
		Issue:     item.Number,
		State:     StatePending,
		Branch:    e.opts.TargetBranch,
		DryRun:    e.opts.DryRun,
		StartedAt: e.opts.Now(),
	}
	if e.opts.Isolated {
		sum.Branch = e.BranchFor(item)
	}

	ctx = logging.WithRunID(logging.WithIssue(ctx, item.Number), sum.RunID)
	log := e.log.With().Str("run_id", sum.RunID).Int("issue", item.Number).Logger()

	var actions []plan.Action
	if p != nil {
		actions = p.Actions
	}

	sum.State = StateRunning
	e.bus.PublishRunStarted(eventbus.RunStartedPayload{
		RunID:   sum.RunID,
		Issue:   item.Number,
		Branch:  sum.Branch,
		Actions: len(actions),
		DryRun:  e.opts.DryRun,
	})
	log.Info().Int("actions", len(actions)).Str("branch", sum.Branch).Bool("dry_run", e.opts.DryRun).Msg("executing plan")

	var branchErr error
	if e.opts.Isolated && !e.opts.DryRun && len(actions) > 0 {
		branchErr = e.ensureBranch(ctx, sum.Branch)
		if branchErr != nil {
			log.Error().Err(branchErr).Msg("working branch unavailable")
		}
	}

	for i, a := range actions {
		var res Result
		switch {
		case branchErr != nil:
			res = Result{Index: i, Action: a, Outcome: OutcomeFailed, Err: branchErr, Reason: branchErr.Error()}
		default:
			res = e.apply(ctx, sum.Branch, item, i, a)
		}

		sum.record(res)
		e.publish(sum.RunID, item.Number, res)
		e.logResult(log, res)

		if res.Touched && i < len(actions)-1 && e.opts.ActionDelay > 0 {
			_ = e.opts.Sleep(ctx, e.opts.ActionDelay)
		}
	}

	if e.opts.Isolated && !e.opts.DryRun && branchErr == nil && sum.Counters.Applied() > 0 {
		url, err := e.openPullRequest(ctx, item, sum)
		if err != nil {
			sum.PullRequestErr = err.Error()
			log.Warn().Err(err).Msg("could not open pull request")
		} else {
			sum.PullRequestURL = url
			log.Info().Str("url", url).Msg("pull request opened")
		}
	}

	sum.State = StateCompleted
	if sum.Counters.Errors > 0 {
		sum.State = StatePartiallyFailed
	}
	sum.FinishedAt = e.opts.Now()

	e.bus.PublishRunFinished(eventbus.RunFinishedPayload{
		RunID:          sum.RunID,
		Issue:          item.Number,
		State:          string(sum.State),
		Created:        sum.Counters.Created,
		Updated:        sum.Counters.Updated,
		Deleted:        sum.Counters.Deleted,
		Errors:         sum.Counters.Errors,
		Skipped:        sum.Counters.Skipped,
		PullRequestURL: sum.PullRequestURL,
		DryRun:         sum.DryRun,
	})
	log.Info().
		Str("state", string(sum.State)).
		Int("created", sum.Counters.Created).
		Int("updated", sum.Counters.Updated).
		Int("deleted", sum.Counters.Deleted).
		Int("errors", sum.Counters.Errors).
		Int("skipped", sum.Counters.Skipped).
		Msg("plan finished")

	return sum
}

// apply runs one action, re-fetching once after a SHA conflict.
func (e *Engine) apply(ctx context.Context, ref string, item workitem.WorkItem, idx int, a plan.Action) Result {
	res := Result{Index: idx, Action: a, Outcome: OutcomeSkipped}

	var unsafe string
	if err := plan.CheckPath(a.Path, e.opts.Protected); err != nil {
		unsafe = err.Error()
	} else if a.Kind.NeedsContent() && a.Content == "" {
		unsafe = "missing content"
	}

	if e.opts.DryRun {
		if unsafe != "" {
			e.log.Debug().Ctx(ctx).Str("path", a.Path).Str("reason", unsafe).Msg("dry run: action would be skipped")
		}
		res.Reason = ReasonDryRun
		return res
	}
	if unsafe != "" {
		res.Reason = unsafe
		return res
	}

	const maxAttempts = 2
	for attempt := 1; ; attempt++ {
		out := e.attempt(ctx, ref, item, a)
		out.Index = idx
		out.Action = a
		out.Touched = true

		if out.Err != nil && errors.Is(out.Err, store.ErrConflict) && attempt < maxAttempts {
			e.log.Debug().Ctx(ctx).Str("path", a.Path).Err(out.Err).Msg("sha conflict, re-fetching")
			continue
		}
		return out
	}
}

func (e *Engine) attempt(ctx context.Context, ref string, item workitem.WorkItem, a plan.Action) Result {
	var res Result

	current, err := e.read(ctx, ref, a.Path)
	exists := err == nil
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return failed(fmt.Errorf("read %s: %w", a.Path, err))
	}

	switch a.Kind {
	case plan.KindCreate:
		req := store.WriteRequest{Ref: ref, Path: a.Path, Content: a.Content}
		if exists {
			req.SHA = current.SHA
			res.Degraded = true
			st := Lines(current.Content, a.Content)
			res.Diff = &st
		}
		req.Message = e.commitMessage(item, a, res.Degraded)
		commit, err := e.write(ctx, req)
		if err != nil {
			return failed(fmt.Errorf("write %s: %w", a.Path, err)).degraded(res)
		}
		res.Outcome = OutcomeApplied
		res.CommitURL = commit.Ref()

	case plan.KindUpdate:
		if !exists {
			res.Outcome = OutcomeSkipped
			res.Reason = ReasonTargetMissing
			return res
		}
		st := Lines(current.Content, a.Content)
		res.Diff = &st
		commit, err := e.write(ctx, store.WriteRequest{
			Ref:     ref,
			Path:    a.Path,
			Content: a.Content,
			Message: e.commitMessage(item, a, false),
			SHA:     current.SHA,
		})
		if err != nil {
			return failed(fmt.Errorf("write %s: %w", a.Path, err))
		}
		res.Outcome = OutcomeApplied
		res.CommitURL = commit.Ref()

	case plan.KindDelete:
		if !exists {
			res.Outcome = OutcomeSkipped
			res.Reason = ReasonAlreadyAbsent
			return res
		}
		commit, err := e.remove(ctx, store.DeleteRequest{
			Ref:     ref,
			Path:    a.Path,
			Message: e.commitMessage(item, a, false),
			SHA:     current.SHA,
		})
		if errors.Is(err, store.ErrNotFound) {
			res.Outcome = OutcomeSkipped
			res.Reason = ReasonAlreadyAbsent
			return res
		}
		if err != nil {
			return failed(fmt.Errorf("delete %s: %w", a.Path, err))
		}
		res.Outcome = OutcomeApplied
		res.CommitURL = commit.Ref()

	default:
		return failed(fmt.Errorf("unknown action type %q", a.Kind))
	}

	return res
}

func failed(err error) Result {
	return Result{Outcome: OutcomeFailed, Err: err, Reason: err.Error()}
}

func (r Result) degraded(src Result) Result {
	r.Degraded = src.Degraded
	r.Diff = src.Diff
	return r
}

func (e *Engine) read(ctx context.Context, ref, path string) (store.File, error) {
	return retry.Value(ctx, e.policy, func(ctx context.Context) (store.File, error) {
		f, err := e.store.Read(ctx, ref, path)
		if errors.Is(err, store.ErrNotFound) {
			return f, retry.Permanent(err)
		}
		return f, err
	})
}

func (e *Engine) write(ctx context.Context, req store.WriteRequest) (store.Commit, error) {
	return retry.Value(ctx, e.policy, func(ctx context.Context) (store.Commit, error) {
		return e.store.Write(ctx, req)
	})
}

func (e *Engine) remove(ctx context.Context, req store.DeleteRequest) (store.Commit, error) {
	return retry.Value(ctx, e.policy, func(ctx context.Context) (store.Commit, error) {
		return e.store.Delete(ctx, req)
	})
}

func (e *Engine) ensureBranch(ctx context.Context, name string) error {
	created, err := retry.Value(ctx, e.policy, func(ctx context.Context) (bool, error) {
		return e.store.EnsureBranch(ctx, e.opts.TargetBranch, name)
	})
	if err != nil {
		return fmt.Errorf("ensure branch %s: %w", name, err)
	}
	e.log.Debug().Ctx(ctx).Str("branch", name).Bool("created", created).Msg("working branch ready")
	return nil
}

func (e *Engine) openPullRequest(ctx context.Context, item workitem.WorkItem, sum Summary) (string, error) {
	title, err := tmpl.Execute(e.prTmpl, PullRequestData{Issue: item.Number, Title: item.Title})
	if err != nil {
		return "", err
	}

	var body strings.Builder
	fmt.Fprintf(&body, "Automated changes for issue #%d.\n\n", item.Number)
	for _, r := range sum.ByOutcome(OutcomeApplied) {
		fmt.Fprintf(&body, "- %s `%s`\n", r.Action.Kind.Verb(), r.Action.Path)
	}

	return retry.Value(ctx, e.policy, func(ctx context.Context) (string, error) {
		return e.store.OpenPullRequest(ctx, store.PullRequest{
			Head:  sum.Branch,
			Base:  e.opts.TargetBranch,
			Title: title,
			Body:  body.String(),
		})
	})
}

func (e *Engine) commitMessage(item workitem.WorkItem, a plan.Action, degraded bool) string {
	verb := a.Kind.Verb()
	if degraded {
		verb = plan.KindUpdate.Verb()
	}
	msg, err := tmpl.Execute(e.commitTmpl, CommitData{
		Verb:        verb,
		Kind:        string(a.Kind),
		Path:        a.Path,
		Description: a.Description,
		Issue:       item.Number,
		Degraded:    degraded,
	})
	if err != nil || strings.TrimSpace(msg) == "" {
		return fmt.Sprintf("%s %s via issue #%d", verb, a.Path, item.Number)
	}
	return msg
}

func (e *Engine) publish(runID string, issue int, r Result) {
	p := eventbus.ActionPayload{
		RunID:     runID,
		Issue:     issue,
		Index:     r.Index,
		Kind:      string(r.Action.Kind),
		Path:      r.Action.Path,
		Reason:    r.Reason,
		CommitURL: r.CommitURL,
		Degraded:  r.Degraded,
	}
	switch r.Outcome {
	case OutcomeApplied:
		e.bus.PublishActionApplied(p)
	case OutcomeSkipped:
		e.bus.PublishActionSkipped(p)
	case OutcomeFailed:
		e.bus.PublishActionFailed(p)
	}
}

func (e *Engine) logResult(log zerolog.Logger, r Result) {
	var ev *zerolog.Event
	switch r.Outcome {
	case OutcomeApplied:
		ev = log.Info()
	case OutcomeSkipped:
		ev = log.Warn()
	default:
		ev = log.Error().Err(r.Err)
	}
	ev.Int("index", r.Index).
		Str("type", string(r.Action.Kind)).
		Str("path", r.Action.Path).
		Str("outcome", string(r.Outcome)).
		Str("reason", r.Reason).
		Str("commit", r.CommitURL).
		Msg("action")
}
