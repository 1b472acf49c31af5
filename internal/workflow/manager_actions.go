package workflow

import (
	"context"
	"errors"
	"fmt"

	"newsreel/internal/bus"
	"newsreel/internal/logging"
	"newsreel/internal/queue"
)

// Admit runs one admission cycle immediately instead of waiting for the next
// tick. The shared renderer pool has no admission controller.
func (m *Manager) Admit(ctx context.Context) error {
	if m.admitter == nil {
		return errors.New("admission not configured for this process")
	}
	return m.admitter.Cycle(ctx)
}

// RetryItem requeues a failed item from the top of the pipeline. Stored
// artifacts survive so downstream stages can reuse them; the retry budget
// resets but the regeneration count keeps its history.
func (m *Manager) RetryItem(ctx context.Context, itemID string) (*queue.Item, error) {
	item, err := m.store.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("item %s not found", itemID)
	}
	if item.Status != queue.StatusFailed {
		return nil, fmt.Errorf("item %s is %s, only failed items can be retried", itemID, item.Status)
	}

	requeued, ok, err := m.store.Transition(ctx, item.ID, queue.StatusFailed, queue.StatusQueued, func(it *queue.Item) {
		it.RetryCount = 0
		it.ClearFailure()
	})
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("item %s changed state during retry", itemID)
	}

	if _, err := m.eventBus.Publish(ctx, bus.TopicScriptRequest, requeued.ID, requeued.TenantID, nil); err != nil {
		return nil, err
	}
	m.logger.Info("operator retry requeued item",
		logging.String(logging.FieldItemID, requeued.ID))
	return requeued, nil
}

// RegenerateItem requests a pipeline regeneration for a failed item. The
// regeneration worker still enforces the budget, so a request past the cap is
// acknowledged but ignored.
func (m *Manager) RegenerateItem(ctx context.Context, itemID string) (*queue.Item, error) {
	item, err := m.store.GetByID(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, fmt.Errorf("item %s not found", itemID)
	}
	if item.Status != queue.StatusFailed {
		return nil, fmt.Errorf("item %s is %s, only failed items can be regenerated", itemID, item.Status)
	}

	if _, err := m.eventBus.Publish(ctx, bus.TopicRegenRequested, item.ID, item.TenantID, nil); err != nil {
		return nil, err
	}
	m.logger.Info("operator requested regeneration",
		logging.String(logging.FieldItemID, item.ID))
	return item, nil
}

// DeadLetters lists parked events, newest first.
func (m *Manager) DeadLetters(ctx context.Context) ([]bus.DeadLetter, error) {
	return m.eventBus.DeadLetters(ctx)
}

// RequeueDeadLetter republishes a parked event onto its original topic.
func (m *Manager) RequeueDeadLetter(ctx context.Context, id int64) (*bus.Event, error) {
	event, err := m.eventBus.RequeueDeadLetter(ctx, id)
	if err != nil {
		return nil, err
	}
	if event == nil {
		return nil, fmt.Errorf("dead letter %d not found", id)
	}
	m.logger.Info("dead letter requeued",
		logging.Int64("dead_letter_id", id),
		logging.String(logging.FieldTopic, event.Topic))
	return event, nil
}
