// Package report turns an execution summary into the comment posted on the
// issue and decides whether the issue may be closed.
package report

import (
	"errors"
	"fmt"
	"strings"
	"text/template"

	"github.com/hay-kot/criterio"

	"github.com/hay-kot/issuebot/internal/core/engine"
	"github.com/hay-kot/issuebot/internal/core/plan"
	"github.com/hay-kot/issuebot/pkg/tmpl"
)

// Disposition is the terminal decision for the issue.
type Disposition struct {
	Close  bool
	Reason plan.Reason
	// Discrepancy explains why a requested close was refused.
	Discrepancy string
}

// Report is the rendered comment and the close decision.
type Report struct {
	Body        string
	Disposition Disposition
}

// Group lists the paths of one action kind within one outcome.
type Group struct {
	Kind  plan.Kind
	Items []string
}

// Section is one outcome with its groups.
type Section struct {
	Title  string
	Groups []Group
}

type view struct {
	FinalComment string
	Tasks        []string
	Sections     []Section
	Rejected     []plan.Rejection
	Dropped      int
	Commits      []string
	PullRequest  string
	PullErr      string
	DryRun       bool
	Branch       string
	Discrepancy  string
}

var bodyTmpl = template.Must(tmpl.Parse(`## 🤖 Automation run
{{- if .DryRun}}

_Dry run: no changes were made._
{{- end}}
{{- with .FinalComment}}

{{.}}
{{- end}}
{{- if .Tasks}}

### Tasks
{{- range .Tasks}}
- {{.}}
{{- end}}
{{- end}}

### Actions
{{- if not .Sections}}

No actions were executed.
{{- end}}
{{- range .Sections}}

**{{.Title}}**
{{- range .Groups}}
- {{.Kind}}
{{- range .Items}}
  - {{.}}
{{- end}}
{{- end}}
{{- end}}
{{- if .Rejected}}

**Rejected**
{{- range .Rejected}}
- {{.Kind}} ` + "`{{.Path}}`" + `: {{.Reason}}
{{- end}}
{{- end}}
{{- if .Dropped}}

_{{.Dropped}} action(s) beyond the action limit were dropped._
{{- end}}
{{- if .Commits}}

### Commits
{{- range $i, $c := .Commits}}
{{inc $i}}. {{$c}}
{{- end}}
{{- end}}
{{- with .PullRequest}}

🔗 Pull request: {{.}}
{{- end}}
{{- with .PullErr}}

⚠️ Could not open a pull request: {{.}}
{{- end}}
{{- with .Discrepancy}}

> **Note:** {{.}}
{{- end}}
`))

// Summarize renders the report for p and s. It performs no I/O.
func Summarize(p *plan.ActionPlan, s engine.Summary) Report {
	if p == nil {
		p = &plan.ActionPlan{}
	}

	d := disposition(p, s)
	v := view{
		FinalComment: strings.TrimSpace(p.FinalComment),
		Tasks:        p.TasksSummary,
		Sections:     sections(s),
		Rejected:     p.Filtered.Rejected,
		Dropped:      p.Filtered.Dropped,
		Commits:      s.Commits,
		PullRequest:  s.PullRequestURL,
		PullErr:      s.PullRequestErr,
		DryRun:       s.DryRun,
		Branch:       s.Branch,
		Discrepancy:  d.Discrepancy,
	}

	body, err := tmpl.Execute(bodyTmpl, v)
	if err != nil {
		body = fmt.Sprintf("## 🤖 Automation run\n\ncreated %d, updated %d, deleted %d, errors %d\n",
			s.Counters.Created, s.Counters.Updated, s.Counters.Deleted, s.Counters.Errors)
	}

	return Report{Body: body, Disposition: d}
}

func disposition(p *plan.ActionPlan, s engine.Summary) Disposition {
	d := Disposition{Reason: p.CloseReason()}
	if !p.Close {
		return d
	}
	if s.Counters.Applied() > 0 {
		d.Close = true
		return d
	}

	d.Discrepancy = fmt.Sprintf("closing as %s was requested, but no action was applied; the issue stays open.", d.Reason)
	return d
}

var kindOrder = []plan.Kind{plan.KindCreate, plan.KindUpdate, plan.KindDelete}

func sections(s engine.Summary) []Section {
	outcomes := []struct {
		outcome engine.Outcome
		title   string
	}{
		{engine.OutcomeApplied, "Applied"},
		{engine.OutcomeSkipped, "Skipped"},
		{engine.OutcomeFailed, "Failed"},
	}

	var out []Section
	for _, o := range outcomes {
		results := s.ByOutcome(o.outcome)
		if len(results) == 0 {
			continue
		}

		sec := Section{Title: o.title}
		for _, k := range kindOrder {
			g := Group{Kind: k}
			for _, r := range results {
				if r.Action.Kind == k {
					g.Items = append(g.Items, describe(r))
				}
			}
			if len(g.Items) > 0 {
				sec.Groups = append(sec.Groups, g)
			}
		}
		out = append(out, sec)
	}
	return out
}

func describe(r engine.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "`%s`", r.Action.Path)

	if r.Degraded {
		b.WriteString(" (already existed, updated)")
	}
	if r.Diff != nil {
		fmt.Fprintf(&b, " +%d/-%d", r.Diff.Added, r.Diff.Removed)
	}
	if r.Outcome != engine.OutcomeApplied && r.Reason != "" {
		b.WriteString(": ")
		b.WriteString(r.Reason)
	}
	return b.String()
}

// FailureComment renders the comment posted when an issue could not be
// processed at all.
func FailureComment(err error) string {
	var b strings.Builder
	b.WriteString("⚠️ Failed to process this issue: ")

	var fe criterio.FieldErrors
	if errors.As(err, &fe) && len(fe) > 0 {
		b.WriteString("the generated plan was invalid.\n")
		for _, f := range fe {
			fmt.Fprintf(&b, "\n- `%s`: %v", f.Field, f.Err)
		}
		b.WriteString("\n")
		return b.String()
	}

	if err == nil {
		b.WriteString("unknown error\n")
		return b.String()
	}
	b.WriteString(err.Error())
	b.WriteString("\n")
	return b.String()
}
