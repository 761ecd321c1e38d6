package bot

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"text/template"

	"github.com/rs/zerolog"

	"github.com/hay-kot/issuebot/internal/core/plan"
	"github.com/hay-kot/issuebot/internal/core/store"
	"github.com/hay-kot/issuebot/internal/core/workitem"
	"github.com/hay-kot/issuebot/pkg/tmpl"
)

// DefaultSystemPrompt instructs the planner. It is rendered with PromptData.
const DefaultSystemPrompt = `You are a GitHub automation agent for the repository {{.Owner}}/{{.Repo}} (branch {{.Branch}}).
Rules:
- Read the TITLE, DESCRIPTION and COMMENTS.
- For update_file always provide the COMPLETE resulting content, never a diff.
- Reply with valid JSON only, following the schema below.
Schema:
{
  "issue_number": number,
  "tasks_summary": string[],
  "actions": [
    {
      "type": "create_file" | "update_file" | "delete_file",
      "path": "string",
      "content": "string (required for create/update)",
      "description": "string"
    }
  ],
  "final_comment": "string (markdown)",
  "close_issue": boolean,
  "state_reason": "completed" | "not_planned"
}
Limits:
- At most {{.MaxActions}} actions.
- Only use relative paths inside the repository.
- For HTML/CSS/JS, generate working, self-contained files when possible.
`

// PromptData is the system prompt template context.
type PromptData struct {
	Owner      string
	Repo       string
	Branch     string
	MaxActions int
	Vars       map[string]any
}

const instruction = "Generate the action plan JSON following the schema."

const contextTemplate = `ISSUE #{{.Item.Number}}
TITLE: {{.Item.Title}}
DESCRIPTION:
{{.Item.Body}}

COMMENTS:
{{range .Item.Comments}}{{.Author}}: {{.Body}}
{{end}}
{{- if .Mentioned}}
MENTIONED FILES ({{len .Mentioned}}):
{{range .Files}}
--- BEGIN {{.Path}} ---
{{trunc $.MaxBytes .Content}}
--- END {{.Path}} ---
{{end}}{{end}}
` + instruction + "\n"

var contextTmpl = template.Must(tmpl.Parse(contextTemplate))

// mentionPattern matches file-like tokens with a known source extension.
var mentionPattern = regexp.MustCompile(`(?i)[\w\-./]+?\.(?:html|css|js|json|md|txt|py|java|cpp|c|h|php|rb|go|rs|ts|jsx|tsx|vue|xml|yaml|yml)\b`)

// MentionedFile is a repository file referenced by the issue.
type MentionedFile struct {
	Path    string
	Content string
}

// ContextData is the user prompt template context.
type ContextData struct {
	Item      workitem.WorkItem
	Mentioned []string
	Files     []MentionedFile
	MaxBytes  int
}

// MentionedPaths returns unique file paths referenced in the item title, body
// and comments in order of first appearance, at most limit of them.
func MentionedPaths(item workitem.WorkItem, limit int) []string {
	var text strings.Builder
	text.WriteString(item.Title)
	text.WriteString("\n")
	text.WriteString(item.Body)
	for _, c := range item.Comments {
		text.WriteString("\n")
		text.WriteString(c.Body)
	}

	seen := map[string]bool{}
	var out []string
	for _, m := range mentionPattern.FindAllString(text.String(), -1) {
		if limit > 0 && len(out) >= limit {
			break
		}
		if seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}

// ContextBuilder assembles the user prompt for an item.
type ContextBuilder struct {
	Store        store.Reader
	Ref          string
	MaxMentioned int
	MaxBytes     int
	Protected    []string
	Log          zerolog.Logger
}

// Build renders the prompt. Mentioned files that fail safety checks or cannot
// be read are listed but their content is omitted.
func (b ContextBuilder) Build(ctx context.Context, item workitem.WorkItem) (string, error) {
	data := ContextData{
		Item:      item,
		Mentioned: MentionedPaths(item, b.MaxMentioned),
		MaxBytes:  b.MaxBytes,
	}
	data.Item.Comments = make([]workitem.Comment, len(item.Comments))
	for i, c := range item.Comments {
		if c.Author == "" {
			c.Author = "user"
		}
		data.Item.Comments[i] = c
	}

	for _, path := range data.Mentioned {
		if err := plan.CheckPath(path, b.Protected); err != nil {
			b.Log.Debug().Str("path", path).Err(err).Msg("mentioned file not fetched")
			continue
		}
		if b.Store == nil {
			continue
		}
		f, err := b.Store.Read(ctx, b.Ref, path)
		if err != nil {
			if !errors.Is(err, store.ErrNotFound) {
				b.Log.Warn().Str("path", path).Err(err).Msg("mentioned file unreadable")
			}
			continue
		}
		if f.Content == "" {
			continue
		}
		data.Files = append(data.Files, MentionedFile{Path: path, Content: f.Content})
	}

	return tmpl.Execute(contextTmpl, data)
}

// RenderSystemPrompt renders text (or DefaultSystemPrompt when empty).
func RenderSystemPrompt(text string, data PromptData) (string, error) {
	if strings.TrimSpace(text) == "" {
		text = DefaultSystemPrompt
	}
	if data.Vars == nil {
		data.Vars = map[string]any{}
	}
	return tmpl.Render(text, data)
}
