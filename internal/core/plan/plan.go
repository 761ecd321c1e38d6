// Package plan holds the typed action plan and the validator that turns
// untrusted planner output into it. Nothing outside this package touches the
// raw planner text.
package plan

// Kind tags an Action variant.
type Kind string

// Action kinds as spelled by the planner.
const (
	KindCreate Kind = "create_file"
	KindUpdate Kind = "update_file"
	KindDelete Kind = "delete_file"
)

// IsValid reports whether k is a known action kind.
func (k Kind) IsValid() bool {
	switch k {
	case KindCreate, KindUpdate, KindDelete:
		return true
	default:
		return false
	}
}

// NeedsContent reports whether actions of kind k carry a file body.
func (k Kind) NeedsContent() bool {
	return k == KindCreate || k == KindUpdate
}

// Verb is the short human form used in commit messages and reports.
func (k Kind) Verb() string {
	switch k {
	case KindCreate:
		return "Create"
	case KindUpdate:
		return "Update"
	case KindDelete:
		return "Delete"
	default:
		return string(k)
	}
}

// Reason is the terminal state reason requested for the issue.
type Reason string

// Supported close reasons.
const (
	ReasonCompleted  Reason = "completed"
	ReasonNotPlanned Reason = "not_planned"
)

// IsValid reports whether r is a known reason.
func (r Reason) IsValid() bool {
	return r == ReasonCompleted || r == ReasonNotPlanned
}

// Action is one file mutation. Content is the complete desired body for
// create and update, never a patch, and is empty for delete.
type Action struct {
	Kind        Kind   `json:"type"`
	Path        string `json:"path"`
	Content     string `json:"content,omitempty"`
	Description string `json:"description,omitempty"`
}

// ActionPlan is the sanitized result of one planning attempt.
type ActionPlan struct {
	IssueNumber  int      `json:"issue_number"`
	TasksSummary []string `json:"tasks_summary"`
	Actions      []Action `json:"actions"`
	FinalComment string   `json:"final_comment"`
	Close        bool     `json:"close_issue"`
	Reason       Reason   `json:"state_reason"`

	// Filtered records what the validator removed before the plan was handed
	// to the engine.
	Filtered Report `json:"-"`
}

// Report describes the actions removed by the validator.
type Report struct {
	Rejected []Rejection `json:"rejected,omitempty"`
	Dropped  int         `json:"dropped,omitempty"`
}

// Rejection records an action the safety filter refused. Index is the
// position in the planner output.
type Rejection struct {
	Index  int    `json:"index"`
	Kind   Kind   `json:"type"`
	Path   string `json:"path"`
	Reason string `json:"reason"`
}

// CloseReason returns the requested reason, defaulting to completed.
func (p *ActionPlan) CloseReason() Reason {
	if p.Reason.IsValid() {
		return p.Reason
	}
	return ReasonCompleted
}
