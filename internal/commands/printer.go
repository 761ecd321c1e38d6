package commands

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"github.com/hay-kot/issuebot/internal/core/styles"
)

// printer writes human readable command output. Styling and markdown
// rendering are applied only when w is a terminal.
type printer struct {
	w     io.Writer
	tty   bool
	width int
}

func newPrinter(w io.Writer) *printer {
	p := &printer{w: w, width: 100}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		p.tty = true
		if width, _, err := term.GetSize(int(f.Fd())); err == nil && width > 0 {
			p.width = width
		}
	}
	return p
}

func (p *printer) render(s lipgloss.Style, text string) string {
	if !p.tty {
		return text
	}
	return s.Render(text)
}

func (p *printer) Header(format string, args ...any) {
	_, _ = fmt.Fprintln(p.w, p.render(styles.HeaderStyle, fmt.Sprintf(format, args...)))
}

func (p *printer) Divider() {
	n := min(p.width, 60)
	_, _ = fmt.Fprintln(p.w, p.render(styles.DividerStyle, strings.Repeat("─", n)))
}

// KV prints an aligned key/value line.
func (p *printer) KV(key string, value any) {
	k := fmt.Sprintf("%-14s", key+":")
	_, _ = fmt.Fprintf(p.w, "  %s %s\n", p.render(styles.KeyStyle, k), p.render(styles.ValueStyle, fmt.Sprint(value)))
}

func (p *printer) Success(format string, args ...any) {
	_, _ = fmt.Fprintln(p.w, p.render(styles.SuccessStyle, "✔ "+fmt.Sprintf(format, args...)))
}

func (p *printer) Warn(format string, args ...any) {
	_, _ = fmt.Fprintln(p.w, p.render(styles.WarningStyle, "! "+fmt.Sprintf(format, args...)))
}

func (p *printer) Error(format string, args ...any) {
	_, _ = fmt.Fprintln(p.w, p.render(styles.ErrorStyle, "✘ "+fmt.Sprintf(format, args...)))
}

func (p *printer) Muted(format string, args ...any) {
	_, _ = fmt.Fprintln(p.w, p.render(styles.MutedStyle, fmt.Sprintf(format, args...)))
}

// Markdown renders md with glamour on a terminal and prints it verbatim
// otherwise.
func (p *printer) Markdown(md string) error {
	if !p.tty {
		_, err := fmt.Fprintln(p.w, strings.TrimRight(md, "\n"))
		return err
	}

	r, err := glamour.NewTermRenderer(
		glamour.WithStyles(styles.GlamourStyle()),
		glamour.WithWordWrap(min(p.width, 120)),
	)
	if err != nil {
		return fmt.Errorf("markdown renderer: %w", err)
	}
	out, err := r.Render(md)
	if err != nil {
		return fmt.Errorf("render markdown: %w", err)
	}
	_, err = fmt.Fprint(p.w, out)
	return err
}
