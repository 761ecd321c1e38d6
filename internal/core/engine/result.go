package engine

import (
	"time"

	"github.com/hay-kot/issuebot/internal/core/plan"
)

// State is the lifecycle of one plan execution.
type State string

// Execution states. A run always ends Completed or PartiallyFailed.
const (
	StatePending         State = "pending"
	StateRunning         State = "running"
	StateCompleted       State = "completed"
	StatePartiallyFailed State = "partially_failed"
)

// Outcome is the final disposition of a single action.
type Outcome string

// Action outcomes.
const (
	OutcomeApplied Outcome = "applied"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFailed  Outcome = "failed"
)

// Skip reasons reported in Result.Reason.
const (
	ReasonDryRun        = "dry-run"
	ReasonTargetMissing = "target missing"
	ReasonAlreadyAbsent = "already absent"
)

// Result records what happened to one action.
type Result struct {
	Index     int
	Action    plan.Action
	Outcome   Outcome
	Reason    string
	Err       error
	CommitURL string
	// Degraded is set when a create found an existing file and was applied
	// as an update.
	Degraded bool
	Diff     *DiffStat
	// Touched is set once the action issued a store call.
	Touched bool
}

// Counters tallies outcomes across a run.
type Counters struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Errors  int `json:"errors"`
	Skipped int `json:"skipped"`
}

// Applied returns the number of actions that changed the store.
func (c Counters) Applied() int {
	return c.Created + c.Updated + c.Deleted
}

// Add returns the element-wise sum of c and o.
func (c Counters) Add(o Counters) Counters {
	return Counters{
		Created: c.Created + o.Created,
		Updated: c.Updated + o.Updated,
		Deleted: c.Deleted + o.Deleted,
		Errors:  c.Errors + o.Errors,
		Skipped: c.Skipped + o.Skipped,
	}
}

// Summary is the auditable record of one plan execution.
type Summary struct {
	RunID    string
	Issue    int
	State    State
	Results  []Result
	Counters Counters
	// Commits holds commit references in the order they were produced.
	Commits        []string
	Branch         string
	PullRequestURL string
	PullRequestErr string
	DryRun         bool
	StartedAt      time.Time
	FinishedAt     time.Time
}

// ByOutcome returns the results with outcome o in plan order.
func (s Summary) ByOutcome(o Outcome) []Result {
	var out []Result
	for _, r := range s.Results {
		if r.Outcome == o {
			out = append(out, r)
		}
	}
	return out
}

func (s *Summary) record(r Result) {
	switch r.Outcome {
	case OutcomeApplied:
		switch {
		case r.Action.Kind == plan.KindDelete:
			s.Counters.Deleted++
		case r.Action.Kind == plan.KindUpdate || r.Degraded:
			s.Counters.Updated++
		default:
			s.Counters.Created++
		}
		if r.CommitURL != "" {
			s.Commits = append(s.Commits, r.CommitURL)
		}
	case OutcomeSkipped:
		s.Counters.Skipped++
	case OutcomeFailed:
		s.Counters.Errors++
	}
	s.Results = append(s.Results, r)
}
