package eventbus

// Typed publish and subscribe pairs. A nil *EventBus accepts publishes and
// discards them so components can run without a bus.

// PublishActionApplied publishes an action.applied event.
func (bus *EventBus) PublishActionApplied(p ActionPayload) { bus.send(EventActionApplied, p) }

// SubscribeActionApplied registers fn for action.applied events.
func (bus *EventBus) SubscribeActionApplied(fn func(ActionPayload)) {
	bus.subscribe(EventActionApplied, func(v any) { fn(v.(ActionPayload)) })
}

// PublishActionSkipped publishes an action.skipped event.
func (bus *EventBus) PublishActionSkipped(p ActionPayload) { bus.send(EventActionSkipped, p) }

// SubscribeActionSkipped registers fn for action.skipped events.
func (bus *EventBus) SubscribeActionSkipped(fn func(ActionPayload)) {
	bus.subscribe(EventActionSkipped, func(v any) { fn(v.(ActionPayload)) })
}

// PublishActionFailed publishes an action.failed event.
func (bus *EventBus) PublishActionFailed(p ActionPayload) { bus.send(EventActionFailed, p) }

// SubscribeActionFailed registers fn for action.failed events.
func (bus *EventBus) SubscribeActionFailed(fn func(ActionPayload)) {
	bus.subscribe(EventActionFailed, func(v any) { fn(v.(ActionPayload)) })
}

// PublishRunStarted publishes a run.started event.
func (bus *EventBus) PublishRunStarted(p RunStartedPayload) { bus.send(EventRunStarted, p) }

// SubscribeRunStarted registers fn for run.started events.
func (bus *EventBus) SubscribeRunStarted(fn func(RunStartedPayload)) {
	bus.subscribe(EventRunStarted, func(v any) { fn(v.(RunStartedPayload)) })
}

// PublishRunFinished publishes a run.finished event.
func (bus *EventBus) PublishRunFinished(p RunFinishedPayload) { bus.send(EventRunFinished, p) }

// SubscribeRunFinished registers fn for run.finished events.
func (bus *EventBus) SubscribeRunFinished(fn func(RunFinishedPayload)) {
	bus.subscribe(EventRunFinished, func(v any) { fn(v.(RunFinishedPayload)) })
}

// PublishItemFailed publishes an item.failed event.
func (bus *EventBus) PublishItemFailed(p ItemFailedPayload) { bus.send(EventItemFailed, p) }

// SubscribeItemFailed registers fn for item.failed events.
func (bus *EventBus) SubscribeItemFailed(fn func(ItemFailedPayload)) {
	bus.subscribe(EventItemFailed, func(v any) { fn(v.(ItemFailedPayload)) })
}

// PublishConfigReloaded publishes a config.reloaded event.
func (bus *EventBus) PublishConfigReloaded(p ConfigReloadedPayload) {
	bus.send(EventConfigReloaded, p)
}

// SubscribeConfigReloaded registers fn for config.reloaded events.
func (bus *EventBus) SubscribeConfigReloaded(fn func(ConfigReloadedPayload)) {
	bus.subscribe(EventConfigReloaded, func(v any) { fn(v.(ConfigReloadedPayload)) })
}

// PublishNotificationPublished publishes a notification.published event.
func (bus *EventBus) PublishNotificationPublished(p NotificationPublishedPayload) {
	bus.send(EventNotificationPublished, p)
}

// SubscribeNotificationPublished registers fn for notification.published events.
func (bus *EventBus) SubscribeNotificationPublished(fn func(NotificationPublishedPayload)) {
	bus.subscribe(EventNotificationPublished, func(v any) { fn(v.(NotificationPublishedPayload)) })
}
