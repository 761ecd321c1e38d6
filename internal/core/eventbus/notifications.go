package eventbus

import (
	"fmt"
)

// NotificationRouter maps domain events to human readable notifications.
// The state log ring and the SSE stream consume the notifications.
type NotificationRouter struct {
	bus *EventBus
}

// NewNotificationRouter constructs a router for event-to-notification mappings.
func NewNotificationRouter(bus *EventBus) *NotificationRouter {
	return &NotificationRouter{bus: bus}
}

// Register subscribes all supported event mappings.
func (r *NotificationRouter) Register() {
	if r == nil || r.bus == nil {
		return
	}

	r.bus.SubscribeRunStarted(func(p RunStartedPayload) {
		mode := ""
		if p.DryRun {
			mode = " (dry run)"
		}
		r.notifyf(LevelInfo, p.Issue, "issue #%d: executing %d action(s) on %s%s", p.Issue, p.Actions, p.Branch, mode)
	})

	r.bus.SubscribeActionApplied(func(p ActionPayload) {
		r.notifyf(LevelInfo, p.Issue, "issue #%d: %s %s", p.Issue, p.Kind, p.Path)
	})

	r.bus.SubscribeActionSkipped(func(p ActionPayload) {
		r.notifyf(LevelWarning, p.Issue, "issue #%d: skipped %s %s: %s", p.Issue, p.Kind, p.Path, p.Reason)
	})

	r.bus.SubscribeActionFailed(func(p ActionPayload) {
		r.notifyf(LevelError, p.Issue, "issue #%d: failed %s %s: %s", p.Issue, p.Kind, p.Path, p.Reason)
	})

	r.bus.SubscribeRunFinished(func(p RunFinishedPayload) {
		level := LevelInfo
		if p.Errors > 0 {
			level = LevelWarning
		}
		r.notifyf(level, p.Issue, "issue #%d: %s (created %d, updated %d, deleted %d, errors %d)",
			p.Issue, p.State, p.Created, p.Updated, p.Deleted, p.Errors)
	})

	r.bus.SubscribeItemFailed(func(p ItemFailedPayload) {
		if p.Issue == 0 {
			r.notifyf(LevelError, 0, "poll failed: %v", p.Err)
			return
		}
		r.notifyf(LevelError, p.Issue, "issue #%d: %v", p.Issue, p.Err)
	})

	r.bus.SubscribeConfigReloaded(func(ConfigReloadedPayload) {
		r.notifyf(LevelInfo, 0, "configuration reloaded")
	})
}

func (r *NotificationRouter) notifyf(level Level, issue int, format string, args ...any) {
	r.bus.PublishNotificationPublished(NotificationPublishedPayload{
		Level:   level,
		Issue:   issue,
		Message: fmt.Sprintf(format, args...),
	})
}
