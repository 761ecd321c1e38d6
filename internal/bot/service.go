package bot

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

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

// Deps are the collaborators of a Service. Recorder and Bus may be nil.
type Deps struct {
	Tracker  Tracker
	Store    store.ContentStore
	Planner  Planner
	Recorder Recorder
	Bus      *eventbus.EventBus
	Dedup    *workitem.Deduplicator
	Log      zerolog.Logger

	// Sleep overrides the retry and inter-action wait, for tests.
	Sleep func(ctx context.Context, d time.Duration) error
}

// runtime is the config-derived part of a Service, swapped on reload.
type runtime struct {
	cfg       *config.Config
	policy    retry.Policy
	validator *plan.Validator
	engine    *engine.Engine
	context   ContextBuilder
	system    string
}

// Service processes work items. It is safe for concurrent use.
type Service struct {
	tracker  Tracker
	store    store.ContentStore
	planner  Planner
	recorder Recorder
	bus      *eventbus.EventBus
	dedup    *workitem.Deduplicator
	log      zerolog.Logger
	sleep    func(ctx context.Context, d time.Duration) error

	mu sync.RWMutex
	rt *runtime
}

// NewService builds a Service from cfg.
func NewService(cfg *config.Config, deps Deps) (*Service, error) {
	if deps.Tracker == nil || deps.Store == nil || deps.Planner == nil {
		return nil, errors.New("bot: tracker, store and planner are required")
	}
	if deps.Dedup == nil {
		deps.Dedup = workitem.NewDeduplicator()
	}

	s := &Service{
		tracker:  deps.Tracker,
		store:    deps.Store,
		planner:  deps.Planner,
		recorder: deps.Recorder,
		bus:      deps.Bus,
		dedup:    deps.Dedup,
		log:      deps.Log,
		sleep:    deps.Sleep,
	}
	if err := s.Reload(cfg); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload rebuilds the validator, engine and prompts from cfg. Items already
// in flight finish with the previous settings.
func (s *Service) Reload(cfg *config.Config) error {
	rt, err := s.build(cfg)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.rt = rt
	s.mu.Unlock()
	return nil
}

// Config returns the active configuration.
func (s *Service) Config() *config.Config {
	return s.current().cfg
}

// Tracker returns the issue tracker the service reports to.
func (s *Service) Tracker() Tracker { return s.tracker }

func (s *Service) current() *runtime {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rt
}

func (s *Service) build(cfg *config.Config) (*runtime, error) {
	policy := retry.Policy{
		MaxAttempts: cfg.Retry.MaxAttempts,
		BaseDelay:   cfg.Retry.BaseDelay,
		Sleep:       s.sleep,
		OnRetry: func(attempt int, delay time.Duration, err error) {
			s.log.Warn().Err(err).Int("attempt", attempt).Dur("backoff", delay).Msg("transient failure, retrying")
		},
	}

	eng, err := engine.New(s.store, policy, s.bus, logging.Component("engine"), engineOptions(cfg, s.sleep))
	if err != nil {
		return nil, err
	}

	system, err := RenderSystemPrompt(cfg.Bot.SystemPrompt, PromptData{
		Owner:      cfg.GitHub.Owner,
		Repo:       cfg.GitHub.Repo,
		Branch:     cfg.GitHub.Branch,
		MaxActions: cfg.Engine.MaxActions,
		Vars:       cfg.Bot.Vars,
	})
	if err != nil {
		return nil, fmt.Errorf("bot: system prompt: %w", err)
	}

	return &runtime{
		cfg:       cfg,
		policy:    policy,
		validator: NewValidator(cfg),
		engine:    eng,
		context: ContextBuilder{
			Store:        s.store,
			Ref:          cfg.GitHub.Branch,
			MaxMentioned: cfg.Bot.MaxMentionedFiles,
			MaxBytes:     cfg.Engine.MaxFileSizeBytes,
			Protected:    cfg.Engine.ProtectedPaths,
			Log:          logging.Component("context"),
		},
		system: system,
	}, nil
}

// ProcessWorkItem runs the full pipeline for item once per process. Every
// failure is reported on the issue (outside dry-run) and returned; the
// Summary is populated whenever execution happened.
func (s *Service) ProcessWorkItem(ctx context.Context, item workitem.WorkItem) (sum engine.Summary, err error) {
	if item.IsPullRequest {
		return engine.Summary{Issue: item.Number}, ErrPullRequest
	}
	if !s.dedup.Admit(item.ID) {
		if at, ok := s.dedup.AdmittedAt(item.ID); ok {
			s.log.Debug().Int("issue", item.Number).Time("admitted_at", at).Msg("issue already handled")
		}
		return engine.Summary{Issue: item.Number}, ErrDuplicate
	}

	rt := s.current()
	ctx = logging.WithIssue(ctx, item.Number)
	if rt.cfg.Bot.ItemTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, rt.cfg.Bot.ItemTimeout)
		defer cancel()
	}
	log := s.log.With().Int("issue", item.Number).Logger()
	log.Info().Str("title", item.Title).Msg("processing issue")

	var p *plan.ActionPlan
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("stack", string(debug.Stack())).Msgf("panic: %v", r)
			err = fmt.Errorf("issue #%d: panic: %v", item.Number, r)
			s.fail(ctx, rt, item, p, sum, err)
		}
	}()

	item, p, err = s.plan(ctx, rt, item)
	if err != nil {
		sum = engine.Summary{Issue: item.Number, DryRun: rt.cfg.Engine.DryRun}
		s.fail(ctx, rt, item, p, sum, err)
		return sum, err
	}
	log.Info().Strs("tasks", p.TasksSummary).Int("actions", len(p.Actions)).Msg("plan accepted")

	sum = rt.engine.Execute(ctx, item, p)
	rep := report.Summarize(p, sum)

	if err := s.publish(ctx, rt, item, rep); err != nil {
		s.fail(ctx, rt, item, p, sum, err)
		return sum, err
	}

	s.record(ctx, item, p, sum, nil)
	return sum, nil
}

// plan fetches comments, builds the prompt, asks the planner and validates
// the answer.
func (s *Service) plan(ctx context.Context, rt *runtime, item workitem.WorkItem) (workitem.WorkItem, *plan.ActionPlan, error) {
	comments, err := retry.Value(ctx, rt.policy, func(ctx context.Context) ([]workitem.Comment, error) {
		return s.tracker.ListComments(ctx, item.Number)
	})
	if err != nil {
		s.log.Warn().Err(err).Int("issue", item.Number).Msg("comments unavailable, continuing without them")
	} else {
		item = item.WithComments(comments)
	}

	prompt, err := rt.context.Build(ctx, item)
	if err != nil {
		return item, nil, fmt.Errorf("build context: %w", err)
	}

	raw, err := retry.Value(ctx, rt.policy, func(ctx context.Context) (string, error) {
		return s.planner.Generate(ctx, rt.system, prompt)
	})
	if err != nil {
		return item, nil, fmt.Errorf("planner: %w", err)
	}

	p, _, err := rt.validator.Parse(raw)
	if err != nil {
		return item, nil, err
	}
	return item, p, nil
}

// publish posts the report and closes the issue when the disposition allows.
func (s *Service) publish(ctx context.Context, rt *runtime, item workitem.WorkItem, rep report.Report) error {
	log := s.log.With().Int("issue", item.Number).Logger()
	if rt.cfg.Engine.DryRun {
		log.Info().Msg("dry run: issue left untouched")
		return nil
	}

	if err := rt.policy.Do(ctx, func(ctx context.Context) error {
		return s.tracker.Comment(ctx, item.Number, rep.Body)
	}); err != nil {
		return fmt.Errorf("post report: %w", err)
	}

	d := rep.Disposition
	if d.Discrepancy != "" {
		log.Warn().Str("discrepancy", d.Discrepancy).Msg("closure withheld")
	}
	if !d.Close {
		return nil
	}

	if err := rt.policy.Do(ctx, func(ctx context.Context) error {
		return s.tracker.Close(ctx, item.Number, d.Reason)
	}); err != nil {
		return fmt.Errorf("close issue: %w", err)
	}
	log.Info().Str("reason", string(d.Reason)).Msg("issue closed")
	return nil
}

// failureCommentTimeout bounds posting the failure comment, which runs
// detached from the item's own deadline.
const failureCommentTimeout = 30 * time.Second

// fail reports err on the bus, on the issue and in the run history.
func (s *Service) fail(ctx context.Context, rt *runtime, item workitem.WorkItem, p *plan.ActionPlan, sum engine.Summary, err error) {
	s.log.Error().Err(err).Int("issue", item.Number).Msg("issue processing failed")
	s.bus.PublishItemFailed(eventbus.ItemFailedPayload{Issue: item.Number, Err: err})

	if !rt.cfg.Engine.DryRun {
		// the item deadline may already have passed
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), failureCommentTimeout)
		defer cancel()
		cerr := rt.policy.Do(cctx, func(ctx context.Context) error {
			return s.tracker.Comment(ctx, item.Number, report.FailureComment(err))
		})
		if cerr != nil {
			s.log.Error().Err(cerr).Int("issue", item.Number).Msg("could not post failure comment")
		}
	}

	s.record(ctx, item, p, sum, err)
}

func (s *Service) record(ctx context.Context, item workitem.WorkItem, p *plan.ActionPlan, sum engine.Summary, runErr error) {
	if s.recorder == nil {
		return
	}
	// history is written even when the item deadline has passed
	ctx = context.WithoutCancel(ctx)
	if err := s.recorder.RecordRun(ctx, item, p, sum, runErr); err != nil {
		s.log.Warn().Err(err).Int("issue", item.Number).Msg("could not record run")
	}
}
