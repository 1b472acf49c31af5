package workflow

import (
	"context"

	"newsreel/internal/bus"
	"newsreel/internal/logging"
)

// topicStage maps bus topics to the stage name recorded on failed items.
var topicStage = map[string]string{
	bus.TopicScriptRequest:  "script",
	bus.TopicAssetsRequest:  "assets",
	bus.TopicRenderTrigger:  "render",
	bus.TopicUploadTrigger:  "upload",
	bus.TopicUploadFailed:   "recovery",
	bus.TopicRegenRequested: "regeneration",
}

// onDeadLetter fails the underlying item when its event is parked. Without
// this the item would sit in a processing status until the staleness sweep
// found it.
func (m *Manager) onDeadLetter(ctx context.Context, event bus.Event, deliveryErr error) {
	m.metrics.DeadLetters.WithLabelValues(event.Topic).Inc()

	stageName, ok := topicStage[event.Topic]
	if !ok {
		stageName = event.Topic
	}
	if event.ItemID != "" {
		if _, _, err := m.store.MarkFailed(ctx, event.ItemID, stageName, deliveryErr.Error()); err != nil {
			m.logger.Error("mark item failed after dead letter",
				logging.String(logging.FieldItemID, event.ItemID),
				logging.Error(err))
		}
	}

	m.logger.Error("event parked in dead letter queue",
		logging.String(logging.FieldTopic, event.Topic),
		logging.String(logging.FieldItemID, event.ItemID),
		logging.Error(deliveryErr))
	if m.notifier != nil {
		_ = m.notifier.NotifyDeadLetter(ctx, event.Topic, event.ItemID)
	}
}
