// Package eventbus provides a typed publish/subscribe event bus used to
// broadcast run progress from the engine to observers (state, logs, SSE).
package eventbus

import (
	"github.com/hay-kot/issuebot/internal/core/config"
)

// Event names a topic on the bus.
type Event string

// Events published on the bus. Keep sorted A-Z.
const (
	EventActionApplied         Event = "action.applied"
	EventActionFailed          Event = "action.failed"
	EventActionSkipped         Event = "action.skipped"
	EventConfigReloaded        Event = "config.reloaded"
	EventItemFailed            Event = "item.failed"
	EventNotificationPublished Event = "notification.published"
	EventRunFinished           Event = "run.finished"
	EventRunStarted            Event = "run.started"
)

// ActionPayload describes the outcome of one plan action. It is shared by the
// three action.* events.
type ActionPayload struct {
	RunID     string
	Issue     int
	Index     int
	Kind      string
	Path      string
	Reason    string
	CommitURL string
	Degraded  bool
}

// RunStartedPayload is emitted when the engine begins executing a plan.
type RunStartedPayload struct {
	RunID   string
	Issue   int
	Branch  string
	Actions int
	DryRun  bool
}

// RunFinishedPayload is emitted after the last action of a plan.
type RunFinishedPayload struct {
	RunID          string
	Issue          int
	State          string
	Created        int
	Updated        int
	Deleted        int
	Errors         int
	Skipped        int
	PullRequestURL string
	DryRun         bool
}

// ItemFailedPayload is emitted when a work item could not be processed at all
// (planning failure, invalid plan, panic).
type ItemFailedPayload struct {
	Issue int
	Err   error
}

// ConfigReloadedPayload is emitted when configuration is reloaded.
type ConfigReloadedPayload struct {
	Config *config.Config
}

// Level is the severity of a notification.
type Level string

// Notification levels.
const (
	LevelInfo    Level = "info"
	LevelWarning Level = "warning"
	LevelError   Level = "error"
)

// NotificationPublishedPayload is a human readable line derived from a
// domain event.
type NotificationPublishedPayload struct {
	Level   Level
	Issue   int
	Message string
}
