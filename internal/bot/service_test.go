package bot

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hay-kot/issuebot/internal/core/config"
	"github.com/hay-kot/issuebot/internal/core/eventbus"
	"github.com/hay-kot/issuebot/internal/core/eventbus/testbus"
	"github.com/hay-kot/issuebot/internal/core/plan"
	"github.com/hay-kot/issuebot/internal/core/retry"
	"github.com/hay-kot/issuebot/internal/core/store"
	"github.com/hay-kot/issuebot/internal/core/workitem"
)

const scenarioPlan = "Here is the plan:\n```json\n" + `{
  "issue_number": 7,
  "tasks_summary": ["add a.txt", "remove it again"],
  "actions": [
    {"type": "create_file", "path": "a.txt", "content": "hello"},
    {"type": "update_file", "path": "missing.txt", "content": "x"},
    {"type": "delete_file", "path": "a.txt"}
  ],
  "final_comment": "All done.",
  "close_issue": true,
  "state_reason": "completed"
}` + "\n```"

const updateMissingPlan = `{
  "issue_number": 7,
  "tasks_summary": [],
  "actions": [{"type": "update_file", "path": "missing.txt", "content": "x"}],
  "final_comment": "",
  "close_issue": true,
  "state_reason": "not_planned"
}`

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.GitHub.Owner = "octo"
	cfg.GitHub.Repo = "demo"
	cfg.Engine.ActionDelay = 0
	return &cfg
}

type harness struct {
	svc      *Service
	tracker  *fakeTracker
	planner  *fakePlanner
	store    *store.Memory
	recorder *fakeRecorder
	bus      *testbus.Bus
}

func newHarness(t *testing.T, cfg *config.Config, planner *fakePlanner) *harness {
	t.Helper()
	h := &harness{
		tracker:  newFakeTracker(),
		planner:  planner,
		store:    store.NewMemory(cfg.GitHub.Branch),
		recorder: &fakeRecorder{},
		bus:      testbus.New(t),
	}
	svc, err := NewService(cfg, Deps{
		Tracker:  h.tracker,
		Store:    h.store,
		Planner:  planner,
		Recorder: h.recorder,
		Bus:      h.bus.EventBus,
		Log:      zerolog.Nop(),
		Sleep:    noSleep,
	})
	require.NoError(t, err)
	h.svc = svc
	return h
}

func issue(id int64, number int) workitem.WorkItem {
	return workitem.WorkItem{ID: id, Number: number, Title: "Add a file", Body: "please"}
}

func TestProcessWorkItem_Scenario(t *testing.T) {
	h := newHarness(t, testConfig(), &fakePlanner{replies: []string{scenarioPlan}})

	sum, err := h.svc.ProcessWorkItem(context.Background(), issue(100, 7))
	require.NoError(t, err)

	assert.Equal(t, 1, sum.Counters.Created)
	assert.Equal(t, 0, sum.Counters.Updated)
	assert.Equal(t, 1, sum.Counters.Deleted)
	assert.Equal(t, 0, sum.Counters.Errors)
	assert.Len(t, sum.Commits, 2)
	assert.NotContains(t, h.store.Files("main"), "a.txt")

	posted := h.tracker.postedTo(7)
	require.Len(t, posted, 1)
	assert.Contains(t, posted[0], "All done.")
	assert.Contains(t, posted[0], "### Commits")

	require.Len(t, h.tracker.closed, 1)
	assert.Equal(t, plan.ReasonCompleted, h.tracker.closed[0].Reason)

	require.Len(t, h.recorder.runs, 1)
	assert.NoError(t, h.recorder.runs[0].Err)
	assert.Equal(t, sum.RunID, h.recorder.runs[0].Sum.RunID)
}

func TestProcessWorkItem_AdmitsOnce(t *testing.T) {
	planner := &fakePlanner{replies: []string{scenarioPlan}}
	h := newHarness(t, testConfig(), planner)

	_, err := h.svc.ProcessWorkItem(context.Background(), issue(100, 7))
	require.NoError(t, err)

	_, err = h.svc.ProcessWorkItem(context.Background(), issue(100, 7))
	require.ErrorIs(t, err, ErrDuplicate)
	assert.Equal(t, 1, planner.calls)
	assert.Len(t, h.tracker.postedTo(7), 1)
}

func TestProcessWorkItem_PullRequestIgnored(t *testing.T) {
	planner := &fakePlanner{replies: []string{scenarioPlan}}
	h := newHarness(t, testConfig(), planner)

	item := issue(5, 5)
	item.IsPullRequest = true
	_, err := h.svc.ProcessWorkItem(context.Background(), item)
	require.ErrorIs(t, err, ErrPullRequest)
	assert.Zero(t, planner.calls)
}

func TestProcessWorkItem_InvalidPlan(t *testing.T) {
	h := newHarness(t, testConfig(), &fakePlanner{replies: []string{`{"actions": "nope"}`}})

	_, err := h.svc.ProcessWorkItem(context.Background(), issue(1, 3))
	require.ErrorIs(t, err, plan.ErrInvalidPlan)

	posted := h.tracker.postedTo(3)
	require.Len(t, posted, 1)
	assert.True(t, strings.HasPrefix(posted[0], "⚠️ Failed to process this issue"))
	assert.Empty(t, h.tracker.closed)
	assert.Zero(t, h.store.Calls())

	h.bus.AssertPublished(t, eventbus.EventItemFailed)
	require.Len(t, h.recorder.runs, 1)
	assert.Error(t, h.recorder.runs[0].Err)
}

func TestProcessWorkItem_DryRun(t *testing.T) {
	cfg := testConfig()
	cfg.Engine.DryRun = true
	h := newHarness(t, cfg, &fakePlanner{replies: []string{scenarioPlan}})
	h.store.Seed("main", map[string]string{"keep.txt": "k"})
	before := h.store.Calls()

	sum, err := h.svc.ProcessWorkItem(context.Background(), issue(1, 7))
	require.NoError(t, err)

	assert.True(t, sum.DryRun)
	assert.Equal(t, 3, sum.Counters.Skipped)
	assert.Equal(t, map[string]string{"keep.txt": "k"}, h.store.Files("main"))
	assert.Empty(t, h.tracker.postedTo(7))
	assert.Empty(t, h.tracker.closed)
	assert.Equal(t, before, h.store.Calls())
}

func TestProcessWorkItem_ClosureWithheldWhenNothingApplied(t *testing.T) {
	h := newHarness(t, testConfig(), &fakePlanner{replies: []string{updateMissingPlan}})

	sum, err := h.svc.ProcessWorkItem(context.Background(), issue(1, 7))
	require.NoError(t, err)
	assert.Zero(t, sum.Counters.Applied())

	posted := h.tracker.postedTo(7)
	require.Len(t, posted, 1)
	assert.Contains(t, posted[0], "**Note:**")
	assert.Empty(t, h.tracker.closed)
}

func TestProcessWorkItem_RetriesTransientPlanner(t *testing.T) {
	planner := &fakePlanner{
		replies: []string{scenarioPlan},
		errs:    []error{&retry.StatusError{Op: "generate", StatusCode: http.StatusServiceUnavailable, Status: "503"}},
	}
	h := newHarness(t, testConfig(), planner)

	_, err := h.svc.ProcessWorkItem(context.Background(), issue(1, 7))
	require.NoError(t, err)
	assert.Equal(t, 2, planner.calls)
}

func TestProcessWorkItem_TerminalPlannerError(t *testing.T) {
	planner := &fakePlanner{
		errs: []error{&retry.StatusError{Op: "generate", StatusCode: http.StatusUnauthorized, Status: "401"}},
	}
	h := newHarness(t, testConfig(), planner)

	_, err := h.svc.ProcessWorkItem(context.Background(), issue(1, 7))
	require.Error(t, err)
	assert.Equal(t, 1, planner.calls)
	require.Len(t, h.tracker.postedTo(7), 1)
	assert.Contains(t, h.tracker.postedTo(7)[0], "401")
}

func TestProcessWorkItem_CommentsUnavailable(t *testing.T) {
	planner := &fakePlanner{replies: []string{scenarioPlan}}
	h := newHarness(t, testConfig(), planner)
	h.tracker.commentsErr = &retry.StatusError{Op: "list comments", StatusCode: http.StatusForbidden, Status: "403"}

	_, err := h.svc.ProcessWorkItem(context.Background(), issue(1, 7))
	require.NoError(t, err)
	require.Len(t, planner.prompts, 1)
	assert.Contains(t, planner.prompts[0], "COMMENTS:")
}

func TestProcessWorkItem_CommentsInPrompt(t *testing.T) {
	planner := &fakePlanner{replies: []string{scenarioPlan}}
	h := newHarness(t, testConfig(), planner)
	h.tracker.comments[7] = []workitem.Comment{{Author: "amy", Body: "also fix docs"}, {Body: "anon"}}

	_, err := h.svc.ProcessWorkItem(context.Background(), issue(1, 7))
	require.NoError(t, err)
	assert.Contains(t, planner.prompts[0], "amy: also fix docs")
	assert.Contains(t, planner.prompts[0], "user: anon")
	assert.Contains(t, planner.system, "octo/demo")
}

func TestProcessWorkItem_FailureCommentAfterDeadline(t *testing.T) {
	cfg := testConfig()
	cfg.Bot.ItemTimeout = 20 * time.Millisecond
	h := newHarness(t, cfg, &fakePlanner{blocks: true})

	_, err := h.svc.ProcessWorkItem(context.Background(), issue(110, 11))
	require.ErrorIs(t, err, context.DeadlineExceeded)

	posted := h.tracker.postedTo(11)
	require.Len(t, posted, 1)
	assert.Contains(t, posted[0], "deadline exceeded")
	assert.Empty(t, h.tracker.closed)

	require.Len(t, h.recorder.runs, 1)
	assert.ErrorIs(t, h.recorder.runs[0].Err, context.DeadlineExceeded)
}

func TestProcessWorkItem_RecoversPanic(t *testing.T) {
	h := newHarness(t, testConfig(), &fakePlanner{panics: true})

	_, err := h.svc.ProcessWorkItem(context.Background(), issue(1, 9))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")
	require.Len(t, h.tracker.postedTo(9), 1)
}

func TestService_Reload(t *testing.T) {
	h := newHarness(t, testConfig(), &fakePlanner{replies: []string{scenarioPlan}})

	cfg := testConfig()
	cfg.Engine.DryRun = true
	require.NoError(t, h.svc.Reload(cfg))
	assert.True(t, h.svc.Config().Engine.DryRun)

	sum, err := h.svc.ProcessWorkItem(context.Background(), issue(1, 7))
	require.NoError(t, err)
	assert.True(t, sum.DryRun)

	bad := testConfig()
	bad.Bot.SystemPrompt = "{{ .Missing }}"
	require.Error(t, h.svc.Reload(bad))
	assert.True(t, h.svc.Config().Engine.DryRun, "failed reload keeps previous config")
}
