package engine

import (
	"strings"

	"github.com/sergi/go-diff/diffmatchpatch"
)

// DiffStat is a line level summary of an update.
type DiffStat struct {
	Added   int `json:"added"`
	Removed int `json:"removed"`
}

// Lines computes the line diff between before and after.
func Lines(before, after string) DiffStat {
	dmp := diffmatchpatch.New()
	a, b, lines := dmp.DiffLinesToChars(before, after)
	diffs := dmp.DiffCharsToLines(dmp.DiffMain(a, b, false), lines)

	var st DiffStat
	for _, d := range diffs {
		switch d.Type {
		case diffmatchpatch.DiffInsert:
			st.Added += countLines(d.Text)
		case diffmatchpatch.DiffDelete:
			st.Removed += countLines(d.Text)
		}
	}
	return st
}

func countLines(s string) int {
	if s == "" {
		return 0
	}
	n := strings.Count(s, "\n")
	if !strings.HasSuffix(s, "\n") {
		n++
	}
	return n
}
