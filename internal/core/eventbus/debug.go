package eventbus

import (
	"fmt"

	"github.com/rs/zerolog"
)

// RegisterDebugLogger registers bus hooks that log all event activity at debug level.
// Uses OnPublish for event firing, OnDrop for buffer-full warnings, and OnPanic
// for subscriber panic reporting.
func RegisterDebugLogger(bus *EventBus, logger zerolog.Logger) {
	bus.OnPublish(func(event Event, payload any) {
		logger.Debug().Str("event", string(event)).Int("issue", issueOf(payload)).Msg("event fired")
	})

	bus.OnDrop(func(event Event, payload any) {
		logger.Warn().Str("event", string(event)).Int("issue", issueOf(payload)).Msg("event dropped: buffer full")
	})

	bus.OnPanic(func(event Event, _ any, recovered any) {
		logger.Error().
			Str("event", string(event)).
			Str("panic", fmt.Sprint(recovered)).
			Msg("subscriber panicked")
	})
}

func issueOf(payload any) int {
	switch p := payload.(type) {
	case ActionPayload:
		return p.Issue
	case RunStartedPayload:
		return p.Issue
	case RunFinishedPayload:
		return p.Issue
	case ItemFailedPayload:
		return p.Issue
	case NotificationPublishedPayload:
		return p.Issue
	default:
		return 0
	}
}
