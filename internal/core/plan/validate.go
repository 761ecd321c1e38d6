package plan

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/hay-kot/criterio"
	"github.com/rs/zerolog"
)

var (
	jsonFence = regexp.MustCompile("(?is)```json\\s*(.*?)```")
	anyFence  = regexp.MustCompile("(?s)```[a-zA-Z0-9_-]*\\s*\\n(.*?)```")
)

// Validator parses and sanitizes planner output.
type Validator struct {
	MaxActions      int
	MaxContentBytes int
	Protected       []string

	log zerolog.Logger
}

// NewValidator returns a Validator that logs rejections to log.
func NewValidator(maxActions, maxContentBytes int, protected []string, log zerolog.Logger) *Validator {
	return &Validator{
		MaxActions:      maxActions,
		MaxContentBytes: maxContentBytes,
		Protected:       protected,
		log:             log,
	}
}

// Parse extracts, validates and sanitizes a plan from raw planner text.
// Structural problems are errors; unsafe actions are removed and listed in the
// returned Report.
func (v *Validator) Parse(raw string) (*ActionPlan, Report, error) {
	doc, err := extract(raw)
	if err != nil {
		return nil, Report{}, err
	}

	p, err := decode(doc)
	if err != nil {
		return nil, Report{}, err
	}

	v.Sanitize(p)
	return p, p.Filtered, nil
}

// Sanitize applies the safety filter and the action limit to p in place. It
// is exported for plans that were not produced by Parse.
func (v *Validator) Sanitize(p *ActionPlan) {
	kept := make([]Action, 0, len(p.Actions))
	for i, a := range p.Actions {
		if err := v.check(a); err != nil {
			v.log.Warn().
				Int("index", i).
				Str("type", string(a.Kind)).
				Str("path", a.Path).
				Err(err).
				Msg("action rejected")
			p.Filtered.Rejected = append(p.Filtered.Rejected, Rejection{
				Index:  i,
				Kind:   a.Kind,
				Path:   a.Path,
				Reason: err.Error(),
			})
			continue
		}
		kept = append(kept, a)
	}

	if v.MaxActions > 0 && len(kept) > v.MaxActions {
		p.Filtered.Dropped = len(kept) - v.MaxActions
		v.log.Warn().
			Int("limit", v.MaxActions).
			Int("dropped", p.Filtered.Dropped).
			Msg("plan truncated")
		kept = kept[:v.MaxActions]
	}

	p.Actions = kept
}

func (v *Validator) check(a Action) error {
	if err := CheckPath(a.Path, v.Protected); err != nil {
		return err
	}
	if a.Kind.NeedsContent() {
		if a.Content == "" {
			return errors.New("missing content")
		}
		if v.MaxContentBytes > 0 && len(a.Content) > v.MaxContentBytes {
			return fmt.Errorf("content exceeds %d bytes", v.MaxContentBytes)
		}
	}
	return nil
}

// extract returns the JSON document embedded in raw: a json fence first, then
// any fence, then the trimmed text itself.
func extract(raw string) ([]byte, error) {
	candidates := make([]string, 0, 3)
	if m := jsonFence.FindStringSubmatch(raw); m != nil {
		candidates = append(candidates, m[1])
	}
	if m := anyFence.FindStringSubmatch(raw); m != nil {
		candidates = append(candidates, m[1])
	}
	candidates = append(candidates, raw)

	var firstErr error
	for _, c := range candidates {
		doc := bytes.TrimSpace([]byte(c))
		var probe map[string]json.RawMessage
		err := json.Unmarshal(doc, &probe)
		if err == nil && probe != nil {
			return doc, nil
		}
		if err == nil {
			err = errors.New("document is not an object")
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return nil, &ParseError{Err: firstErr}
}

// decode checks the document shape and converts it into an ActionPlan.
func decode(doc []byte) (*ActionPlan, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil, &ParseError{Err: err}
	}

	var (
		p    ActionPlan
		errs criterio.FieldErrorsBuilder
	)

	var number float64
	if err := field(fields, "issue_number", &number); err != nil {
		errs = errs.Append("issue_number", err)
	} else if number != float64(int(number)) {
		errs = errs.Append("issue_number", errors.New("must be an integer"))
	} else {
		p.IssueNumber = int(number)
	}

	if err := field(fields, "tasks_summary", &p.TasksSummary); err != nil {
		errs = errs.Append("tasks_summary", err)
	}
	if err := field(fields, "final_comment", &p.FinalComment); err != nil {
		errs = errs.Append("final_comment", err)
	}
	if err := field(fields, "close_issue", &p.Close); err != nil {
		errs = errs.Append("close_issue", err)
	}

	var reason string
	if err := field(fields, "state_reason", &reason); err != nil {
		errs = errs.Append("state_reason", err)
	} else if !Reason(reason).IsValid() {
		errs = errs.Append("state_reason", fmt.Errorf("must be %q or %q", ReasonCompleted, ReasonNotPlanned))
	} else {
		p.Reason = Reason(reason)
	}

	var actions []map[string]json.RawMessage
	if err := field(fields, "actions", &actions); err != nil {
		errs = errs.Append("actions", err)
	}
	for i, raw := range actions {
		a, err := decodeAction(raw)
		if err != nil {
			var fe criterio.FieldErrors
			if errors.As(err, &fe) {
				for _, f := range fe {
					errs = errs.Append(fmt.Sprintf("actions[%d].%s", i, f.Field), f.Err)
				}
				continue
			}
			errs = errs.Append(fmt.Sprintf("actions[%d]", i), err)
			continue
		}
		p.Actions = append(p.Actions, a)
	}

	if err := errs.ToError(); err != nil {
		return nil, &SchemaError{Err: err}
	}
	if p.Actions == nil {
		p.Actions = []Action{}
	}
	return &p, nil
}

func decodeAction(fields map[string]json.RawMessage) (Action, error) {
	if fields == nil {
		return Action{}, errors.New("must be an object")
	}

	var (
		a    Action
		errs criterio.FieldErrorsBuilder
	)

	var kind string
	if err := field(fields, "type", &kind); err != nil {
		errs = errs.Append("type", err)
	} else if !Kind(kind).IsValid() {
		errs = errs.Append("type", fmt.Errorf("unknown action type %q", kind))
	} else {
		a.Kind = Kind(kind)
	}

	if err := field(fields, "path", &a.Path); err != nil {
		errs = errs.Append("path", err)
	} else if strings.TrimSpace(a.Path) == "" {
		errs = errs.Append("path", errors.New("must not be empty"))
	}

	if err := optional(fields, "content", &a.Content); err != nil {
		errs = errs.Append("content", err)
	}
	if err := optional(fields, "description", &a.Description); err != nil {
		errs = errs.Append("description", err)
	}

	return a, errs.ToError()
}

// field decodes a required, non-null member into dst.
func field(fields map[string]json.RawMessage, name string, dst any) error {
	raw, ok := fields[name]
	if !ok {
		return errors.New("is required")
	}
	if bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return errors.New("must not be null")
	}
	return typed(raw, dst)
}

// optional decodes a member into dst when present and non-null.
func optional(fields map[string]json.RawMessage, name string, dst any) error {
	raw, ok := fields[name]
	if !ok || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	return typed(raw, dst)
}

func typed(raw json.RawMessage, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		var te *json.UnmarshalTypeError
		if errors.As(err, &te) {
			return fmt.Errorf("must be %s, got %s", expected(dst), te.Value)
		}
		return err
	}
	return nil
}

func expected(dst any) string {
	switch dst.(type) {
	case *string:
		return "a string"
	case *bool:
		return "a boolean"
	case *float64:
		return "a number"
	case *[]string:
		return "an array of strings"
	case *[]map[string]json.RawMessage:
		return "an array of objects"
	default:
		return fmt.Sprintf("%T", dst)
	}
}
