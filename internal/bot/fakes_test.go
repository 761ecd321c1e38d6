package bot

import (
	"context"
	"sync"

	"github.com/hay-kot/issuebot/internal/core/engine"
	"github.com/hay-kot/issuebot/internal/core/plan"
	"github.com/hay-kot/issuebot/internal/core/workitem"
)

type closeCall struct {
	Number int
	Reason plan.Reason
}

type fakeTracker struct {
	mu          sync.Mutex
	issues      []workitem.WorkItem
	comments    map[int][]workitem.Comment
	commentsErr error
	posted      map[int][]string
	closed      []closeCall
	lists       int
}

func newFakeTracker(issues ...workitem.WorkItem) *fakeTracker {
	return &fakeTracker{
		issues:   issues,
		comments: map[int][]workitem.Comment{},
		posted:   map[int][]string{},
	}
}

func (f *fakeTracker) ListOpenIssues(context.Context) ([]workitem.WorkItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lists++
	return append([]workitem.WorkItem(nil), f.issues...), nil
}

func (f *fakeTracker) ListComments(_ context.Context, number int) ([]workitem.Comment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.commentsErr != nil {
		return nil, f.commentsErr
	}
	return f.comments[number], nil
}

func (f *fakeTracker) Comment(ctx context.Context, number int, body string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posted[number] = append(f.posted[number], body)
	return nil
}

func (f *fakeTracker) Close(_ context.Context, number int, reason plan.Reason) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, closeCall{Number: number, Reason: reason})
	return nil
}

func (f *fakeTracker) postedTo(number int) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.posted[number]...)
}

// fakePlanner answers with queued responses, repeating the last one.
type fakePlanner struct {
	mu      sync.Mutex
	replies []string
	errs    []error
	calls   int
	prompts []string
	system  string
	panics  bool
	// blocks waits for the caller's context to end.
	blocks bool
}

func (f *fakePlanner) Generate(ctx context.Context, system, prompt string) (string, error) {
	if f.blocks {
		<-ctx.Done()
		return "", ctx.Err()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.panics {
		panic("planner exploded")
	}
	f.calls++
	f.system = system
	f.prompts = append(f.prompts, prompt)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return "", err
		}
	}
	if len(f.replies) == 0 {
		return "", nil
	}
	reply := f.replies[0]
	if len(f.replies) > 1 {
		f.replies = f.replies[1:]
	}
	return reply, nil
}

type recorded struct {
	Item workitem.WorkItem
	Plan *plan.ActionPlan
	Sum  engine.Summary
	Err  error
}

type fakeRecorder struct {
	mu   sync.Mutex
	runs []recorded
}

func (f *fakeRecorder) RecordRun(_ context.Context, item workitem.WorkItem, p *plan.ActionPlan, sum engine.Summary, runErr error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.runs = append(f.runs, recorded{Item: item, Plan: p, Sum: sum, Err: runErr})
	return nil
}
