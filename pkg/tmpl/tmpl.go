// Package tmpl provides template rendering for prompts and commit messages.
package tmpl

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
)

// Truncate shortens s to at most n bytes, never splitting a UTF-8 sequence.
func Truncate(s string, n int) string {
	if n <= 0 || len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8Start(s[cut]) {
		cut--
	}
	return s[:cut]
}

func utf8Start(b byte) bool { return b&0xC0 != 0x80 }

// indent prefixes every line of s with pad.
func indent(pad, s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		if l != "" {
			lines[i] = pad + l
		}
	}
	return strings.Join(lines, "\n")
}

var funcs = template.FuncMap{
	"join":      strings.Join,
	"trunc":     func(n int, s string) string { return Truncate(s, n) },
	"indent":    indent,
	"lower":     strings.ToLower,
	"trimSpace": strings.TrimSpace,
	"inc":       func(i int) int { return i + 1 },
}

// Render executes a Go template string with the given data.
// Returns an error if the template is invalid or references undefined keys.
//
// Available template functions:
//   - join: Join string slice with separator (e.g., join .Summary "; ")
//   - trunc: Cut a string to n bytes (e.g., trunc 72 .Title)
//   - indent: Prefix each non-empty line (e.g., indent "  " .Body)
//   - lower, trimSpace: strings helpers
//   - inc: Add one, for 1-based numbering inside range
func Render(tmpl string, data any) (string, error) {
	t, err := Parse(tmpl)
	if err != nil {
		return "", err
	}
	return Execute(t, data)
}

// Parse compiles a template once for repeated execution.
func Parse(tmpl string) (*template.Template, error) {
	t, err := template.New("").Funcs(funcs).Option("missingkey=error").Parse(tmpl)
	if err != nil {
		return nil, fmt.Errorf("parse template: %w", err)
	}
	return t, nil
}

// Execute runs a parsed template against data.
func Execute(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute template: %w", err)
	}
	return buf.String(), nil
}
