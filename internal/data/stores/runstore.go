package stores

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hay-kot/issuebot/internal/bot"
	"github.com/hay-kot/issuebot/internal/core/engine"
	"github.com/hay-kot/issuebot/internal/core/plan"
	"github.com/hay-kot/issuebot/internal/core/workitem"
	"github.com/hay-kot/issuebot/internal/data/db"
)

// ErrNotFound is returned by Get for an unknown run id.
var ErrNotFound = errors.New("run not found")

// StateFailed marks runs that never reached execution.
const StateFailed = "failed"

const busyRetries = 3

// Run is one recorded pipeline execution.
type Run struct {
	ID             string      `json:"id"`
	IssueID        int64       `json:"issue_id"`
	IssueNumber    int         `json:"issue_number"`
	Title          string      `json:"title"`
	State          string      `json:"state"`
	Branch         string      `json:"branch"`
	DryRun         bool        `json:"dry_run"`
	Created        int         `json:"created"`
	Updated        int         `json:"updated"`
	Deleted        int         `json:"deleted"`
	Errors         int         `json:"errors"`
	Skipped        int         `json:"skipped"`
	PullRequestURL string      `json:"pull_request_url,omitempty"`
	Error          string      `json:"error,omitempty"`
	StartedAt      time.Time   `json:"started_at"`
	FinishedAt     time.Time   `json:"finished_at"`
	Actions        []RunAction `json:"actions,omitempty"`
}

// RunAction is the recorded outcome of one action.
type RunAction struct {
	Index     int    `json:"index"`
	Kind      string `json:"kind"`
	Path      string `json:"path"`
	Outcome   string `json:"outcome"`
	Reason    string `json:"reason,omitempty"`
	CommitURL string `json:"commit_url,omitempty"`
	Degraded  bool   `json:"degraded,omitempty"`
}

// RunStore records runs in SQLite.
type RunStore struct {
	db  *db.DB
	now func() time.Time
}

var _ bot.Recorder = (*RunStore)(nil)

// NewRunStore creates a run store on db.
func NewRunStore(db *db.DB) *RunStore {
	return &RunStore{db: db, now: time.Now}
}

// RecordRun converts a pipeline outcome into a Run and saves it.
func (s *RunStore) RecordRun(ctx context.Context, item workitem.WorkItem, _ *plan.ActionPlan, sum engine.Summary, runErr error) error {
	run := FromSummary(item, sum)
	if runErr != nil {
		run.Error = runErr.Error()
		if len(sum.Results) == 0 {
			run.State = StateFailed
		}
	}
	if run.ID == "" {
		run.ID = uuid.NewString()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = s.now()
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = s.now()
	}
	if run.State == "" || run.State == string(engine.StatePending) {
		run.State = StateFailed
	}
	return s.Save(ctx, run)
}

// FromSummary maps an engine summary onto a Run.
func FromSummary(item workitem.WorkItem, sum engine.Summary) Run {
	run := Run{
		ID:             sum.RunID,
		IssueID:        item.ID,
		IssueNumber:    item.Number,
		Title:          item.Title,
		State:          string(sum.State),
		Branch:         sum.Branch,
		DryRun:         sum.DryRun,
		Created:        sum.Counters.Created,
		Updated:        sum.Counters.Updated,
		Deleted:        sum.Counters.Deleted,
		Errors:         sum.Counters.Errors,
		Skipped:        sum.Counters.Skipped,
		PullRequestURL: sum.PullRequestURL,
		StartedAt:      sum.StartedAt,
		FinishedAt:     sum.FinishedAt,
	}
	for _, r := range sum.Results {
		reason := r.Reason
		if reason == "" && r.Err != nil {
			reason = r.Err.Error()
		}
		run.Actions = append(run.Actions, RunAction{
			Index:     r.Index,
			Kind:      string(r.Action.Kind),
			Path:      r.Action.Path,
			Outcome:   string(r.Outcome),
			Reason:    reason,
			CommitURL: r.CommitURL,
			Degraded:  r.Degraded,
		})
	}
	return run
}

// Save inserts run and its actions in one transaction, retrying briefly when
// the database is busy.
func (s *RunStore) Save(ctx context.Context, run Run) error {
	var err error
	for attempt := 0; attempt < busyRetries; attempt++ {
		err = s.db.WithTx(ctx, func(tx *sql.Tx) error { return saveTx(ctx, tx, run) })
		if !IsBusyError(err) {
			break
		}
		time.Sleep(time.Duration(attempt+1) * 50 * time.Millisecond)
	}
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

func saveTx(ctx context.Context, tx *sql.Tx, run Run) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO runs (id, issue_id, issue_number, title, state, branch, dry_run,
			created, updated, deleted, errors, skipped, pull_request_url, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.IssueID, run.IssueNumber, run.Title, run.State, run.Branch, boolToInt(run.DryRun),
		run.Created, run.Updated, run.Deleted, run.Errors, run.Skipped, run.PullRequestURL, run.Error,
		run.StartedAt.UnixNano(), run.FinishedAt.UnixNano(),
	)
	if err != nil {
		return err
	}

	for _, a := range run.Actions {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO run_actions (run_id, idx, kind, path, outcome, reason, commit_url, degraded)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			run.ID, a.Index, a.Kind, a.Path, a.Outcome, a.Reason, a.CommitURL, boolToInt(a.Degraded),
		)
		if err != nil {
			return err
		}
	}
	return nil
}

const runColumns = `id, issue_id, issue_number, title, state, branch, dry_run,
	created, updated, deleted, errors, skipped, pull_request_url, error, started_at, finished_at`

// List returns the most recent runs first, without their actions.
func (s *RunStore) List(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs ORDER BY started_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return scanRuns(rows)
}

// ForIssue returns the runs recorded for an issue number, newest first.
func (s *RunStore) ForIssue(ctx context.Context, number int) ([]Run, error) {
	rows, err := s.db.Conn().QueryContext(ctx,
		`SELECT `+runColumns+` FROM runs WHERE issue_number = ? ORDER BY started_at DESC, id`, number)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs for issue: %w", err)
	}
	return scanRuns(rows)
}

// Get returns a run and its actions. Returns ErrNotFound if absent.
func (s *RunStore) Get(ctx context.Context, id string) (Run, error) {
	row := s.db.Conn().QueryRowContext(ctx, `SELECT `+runColumns+` FROM runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if IsNotFoundError(err) {
		return Run{}, ErrNotFound
	}
	if err != nil {
		return Run{}, fmt.Errorf("failed to get run: %w", err)
	}

	rows, err := s.db.Conn().QueryContext(ctx, `
		SELECT idx, kind, path, outcome, reason, commit_url, degraded
		FROM run_actions WHERE run_id = ? ORDER BY idx`, id)
	if err != nil {
		return Run{}, fmt.Errorf("failed to get run actions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var a RunAction
		var degraded int
		if err := rows.Scan(&a.Index, &a.Kind, &a.Path, &a.Outcome, &a.Reason, &a.CommitURL, &degraded); err != nil {
			return Run{}, fmt.Errorf("failed to scan run action: %w", err)
		}
		a.Degraded = degraded != 0
		run.Actions = append(run.Actions, a)
	}
	return run, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(sc scanner) (Run, error) {
	var (
		r                 Run
		dryRun            int
		started, finished int64
	)
	err := sc.Scan(&r.ID, &r.IssueID, &r.IssueNumber, &r.Title, &r.State, &r.Branch, &dryRun,
		&r.Created, &r.Updated, &r.Deleted, &r.Errors, &r.Skipped, &r.PullRequestURL, &r.Error,
		&started, &finished)
	if err != nil {
		return Run{}, err
	}
	r.DryRun = dryRun != 0
	r.StartedAt = time.Unix(0, started)
	r.FinishedAt = time.Unix(0, finished)
	return r, nil
}

func scanRuns(rows *sql.Rows) ([]Run, error) {
	defer func() { _ = rows.Close() }()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
