package logging

import (
	"context"

	"github.com/rs/zerolog"
)

// ContextHook extracts the issue number and run ID from the event context.
type ContextHook struct{}

// Run adds contextual fields to the zerolog event.
func (h ContextHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	ctx := e.GetCtx()
	if ctx == context.Background() || ctx == nil {
		return
	}

	if n := GetIssue(ctx); n != 0 {
		e.Int("issue", n)
	}

	if id := GetRunID(ctx); id != "" {
		e.Str("run_id", id)
	}
}
