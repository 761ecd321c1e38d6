package plan

import (
	"fmt"
	"strings"
	"testing"

	"github.com/hay-kot/criterio"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validPlan = `{
  "issue_number": 7,
  "tasks_summary": ["add greeting", "remove old file"],
  "actions": [
    {"type": "create_file", "path": "hello.txt", "content": "hello\n", "description": "greeting"},
    {"type": "delete_file", "path": "old.txt"}
  ],
  "final_comment": "Done.",
  "close_issue": true,
  "state_reason": "completed"
}`

func newTestValidator(maxActions int, protected ...string) *Validator {
	return NewValidator(maxActions, 64, protected, zerolog.Nop())
}

func TestParse_Valid(t *testing.T) {
	p, rep, err := newTestValidator(20).Parse(validPlan)
	require.NoError(t, err)

	assert.Equal(t, 7, p.IssueNumber)
	assert.Equal(t, []string{"add greeting", "remove old file"}, p.TasksSummary)
	assert.Equal(t, "Done.", p.FinalComment)
	assert.True(t, p.Close)
	assert.Equal(t, ReasonCompleted, p.Reason)
	require.Len(t, p.Actions, 2)
	assert.Equal(t, Action{Kind: KindCreate, Path: "hello.txt", Content: "hello\n", Description: "greeting"}, p.Actions[0])
	assert.Equal(t, Action{Kind: KindDelete, Path: "old.txt"}, p.Actions[1])
	assert.Empty(t, rep.Rejected)
	assert.Zero(t, rep.Dropped)
}

func TestParse_Extraction(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{name: "raw", raw: validPlan},
		{name: "json fence", raw: "Here you go:\n```json\n" + validPlan + "\n```\nThanks"},
		{name: "upper fence", raw: "```JSON\n" + validPlan + "\n```"},
		{name: "bare fence", raw: "```\n" + validPlan + "\n```"},
		{name: "whitespace", raw: "\n\n  " + validPlan + "  \n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, _, err := newTestValidator(20).Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, 7, p.IssueNumber)
		})
	}
}

func TestParse_NotJSON(t *testing.T) {
	tests := []string{
		"I could not come up with a plan.",
		"```json\n{ not json }\n```",
		"[1, 2, 3]",
		"",
	}

	for _, raw := range tests {
		_, _, err := newTestValidator(20).Parse(raw)

		var pe *ParseError
		require.ErrorAs(t, err, &pe, "input %q", raw)
		assert.ErrorIs(t, err, ErrInvalidPlan)
	}
}

func TestParse_SchemaErrors(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		fields []string
	}{
		{
			name:   "missing everything",
			raw:    `{}`,
			fields: []string{"issue_number", "tasks_summary", "final_comment", "close_issue", "state_reason", "actions"},
		},
		{
			name:   "wrong types",
			raw:    `{"issue_number":"7","tasks_summary":"x","actions":{},"final_comment":1,"close_issue":"yes","state_reason":"completed"}`,
			fields: []string{"issue_number", "tasks_summary", "final_comment", "close_issue", "actions"},
		},
		{
			name:   "fractional issue number",
			raw:    `{"issue_number":7.5,"tasks_summary":[],"actions":[],"final_comment":"","close_issue":false,"state_reason":"completed"}`,
			fields: []string{"issue_number"},
		},
		{
			name:   "bad reason",
			raw:    `{"issue_number":7,"tasks_summary":[],"actions":[],"final_comment":"","close_issue":false,"state_reason":"wontfix"}`,
			fields: []string{"state_reason"},
		},
		{
			name:   "null member",
			raw:    `{"issue_number":7,"tasks_summary":null,"actions":[],"final_comment":"","close_issue":false,"state_reason":"completed"}`,
			fields: []string{"tasks_summary"},
		},
		{
			name:   "bad action",
			raw:    `{"issue_number":7,"tasks_summary":[],"actions":[{"type":"rename_file","path":""}],"final_comment":"","close_issue":false,"state_reason":"completed"}`,
			fields: []string{"actions[0].type", "actions[0].path"},
		},
		{
			name:   "null action",
			raw:    `{"issue_number":7,"tasks_summary":[],"actions":[null],"final_comment":"","close_issue":false,"state_reason":"completed"}`,
			fields: []string{"actions[0]"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := newTestValidator(20).Parse(tt.raw)

			var se *SchemaError
			require.ErrorAs(t, err, &se)
			assert.ErrorIs(t, err, ErrInvalidPlan)

			var fe criterio.FieldErrors
			require.ErrorAs(t, err, &fe)

			got := make([]string, 0, len(fe))
			for _, f := range fe {
				got = append(got, f.Field)
			}
			assert.ElementsMatch(t, tt.fields, got)
		})
	}
}

func TestParse_SafetyFilter(t *testing.T) {
	raw := `{
  "issue_number": 3,
  "tasks_summary": [],
  "actions": [
    {"type": "create_file", "path": "../escape.txt", "content": "x"},
    {"type": "create_file", "path": "ok.txt", "content": "fine"},
    {"type": "update_file", "path": "/etc/hosts", "content": "x"},
    {"type": "update_file", "path": "empty.txt", "content": ""},
    {"type": "create_file", "path": "big.txt", "content": "` + strings.Repeat("x", 65) + `"},
    {"type": "delete_file", "path": ".github/workflows/ci.yml"},
    {"type": "delete_file", "path": "gone.txt"}
  ],
  "final_comment": "",
  "close_issue": false,
  "state_reason": "not_planned"
}`

	p, rep, err := newTestValidator(20, ".github/workflows/**").Parse(raw)
	require.NoError(t, err)

	require.Len(t, p.Actions, 2)
	assert.Equal(t, "ok.txt", p.Actions[0].Path)
	assert.Equal(t, "gone.txt", p.Actions[1].Path)

	require.Len(t, rep.Rejected, 5)
	indexes := make([]int, 0, len(rep.Rejected))
	for _, r := range rep.Rejected {
		indexes = append(indexes, r.Index)
		assert.NotEmpty(t, r.Reason)
	}
	assert.Equal(t, []int{0, 2, 3, 4, 5}, indexes)
	assert.Equal(t, "missing content", rep.Rejected[2].Reason)
	assert.Equal(t, "content exceeds 64 bytes", rep.Rejected[3].Reason)
	assert.Equal(t, rep, p.Filtered)
}

func TestParse_Truncates(t *testing.T) {
	actions := make([]string, 0, 25)
	for i := range 25 {
		actions = append(actions, fmt.Sprintf(`{"type":"create_file","path":"f%d.txt","content":"x"}`, i))
	}
	raw := `{"issue_number":1,"tasks_summary":[],"actions":[` + strings.Join(actions, ",") +
		`],"final_comment":"","close_issue":false,"state_reason":"completed"}`

	p, rep, err := newTestValidator(20).Parse(raw)
	require.NoError(t, err)

	assert.Len(t, p.Actions, 20)
	assert.Equal(t, 5, rep.Dropped)
	assert.Equal(t, "f0.txt", p.Actions[0].Path)
	assert.Equal(t, "f19.txt", p.Actions[19].Path)
}

func TestParse_TruncatesAfterFilter(t *testing.T) {
	raw := `{"issue_number":1,"tasks_summary":[],"actions":[
    {"type":"create_file","path":"../a","content":"x"},
    {"type":"create_file","path":"b","content":"x"},
    {"type":"create_file","path":"c","content":"x"},
    {"type":"create_file","path":"d","content":"x"}
  ],"final_comment":"","close_issue":false,"state_reason":"completed"}`

	p, rep, err := newTestValidator(2).Parse(raw)
	require.NoError(t, err)

	require.Len(t, p.Actions, 2)
	assert.Equal(t, "b", p.Actions[0].Path)
	assert.Equal(t, "c", p.Actions[1].Path)
	assert.Len(t, rep.Rejected, 1)
	assert.Equal(t, 1, rep.Dropped)
}

func TestParse_EmptyActions(t *testing.T) {
	raw := `{"issue_number":1,"tasks_summary":[],"actions":[],"final_comment":"nothing to do","close_issue":true,"state_reason":"not_planned"}`

	p, _, err := newTestValidator(20).Parse(raw)
	require.NoError(t, err)
	assert.NotNil(t, p.Actions)
	assert.Empty(t, p.Actions)
	assert.Equal(t, ReasonNotPlanned, p.CloseReason())
}

func TestKind(t *testing.T) {
	assert.True(t, KindCreate.NeedsContent())
	assert.True(t, KindUpdate.NeedsContent())
	assert.False(t, KindDelete.NeedsContent())
	assert.False(t, Kind("move_file").IsValid())
	assert.Equal(t, "Delete", KindDelete.Verb())
}
