package recovery

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"

	"newsreel/internal/bus"
	"newsreel/internal/logging"
	"newsreel/internal/notifications"
	"newsreel/internal/queue"
	"newsreel/internal/quota"
	"newsreel/internal/services"
	"newsreel/internal/stage"
	"newsreel/internal/tenancy"
)

// Coordinator consumes upload-failed events and decides each item's fate:
// immediate retry, quota deferral, regeneration, or permanent failure.
type Coordinator struct {
	store      *queue.Store
	eventBus   *bus.Bus
	ledger     *quota.Ledger
	policy     tenancy.Policy
	retryLimit int
	regenLimit int
	notifier   notifications.Service
	logger     *slog.Logger
}

// NewCoordinator constructs the upload recovery coordinator.
func NewCoordinator(store *queue.Store, eventBus *bus.Bus, ledger *quota.Ledger, policy tenancy.Policy, retryLimit, regenLimit int, notifier notifications.Service, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = logging.NewNop()
	}
	if retryLimit <= 0 {
		retryLimit = 3
	}
	if regenLimit < 0 {
		regenLimit = 0
	}
	return &Coordinator{
		store:      store,
		eventBus:   eventBus,
		ledger:     ledger,
		policy:     policy,
		retryLimit: retryLimit,
		regenLimit: regenLimit,
		notifier:   notifier,
		logger:     logging.NewComponentLogger(logger, "recovery"),
	}
}

func (c *Coordinator) Name() string  { return "recovery" }
func (c *Coordinator) Topic() string { return bus.TopicUploadFailed }

func (c *Coordinator) Group() string {
	return bus.TenantGroup(bus.GroupRecovery, c.policy.ID())
}

func (c *Coordinator) HealthCheck(ctx context.Context) stage.Health {
	if c.store == nil || c.eventBus == nil {
		return stage.Unhealthy(c.Name(), "store or bus not configured")
	}
	return stage.Healthy(c.Name())
}

func (c *Coordinator) Handle(ctx context.Context, event bus.Event) error {
	if !c.policy.Accepts(event.TenantID) {
		return nil
	}

	var failure services.UploadFailure
	if event.Payload != "" {
		if err := json.Unmarshal([]byte(event.Payload), &failure); err != nil {
			c.logger.Error("malformed upload-failed payload, treating as transient",
				logging.String(logging.FieldItemID, event.ItemID),
				logging.Error(err))
			failure = services.UploadFailure{Kind: services.FailureTransient, Message: "malformed failure payload"}
		}
	}

	item, err := c.store.GetByID(ctx, event.ItemID)
	if err != nil {
		return err
	}
	if item == nil || item.Status != queue.StatusUploading {
		// Stale event: the item was already resolved by a later decision.
		return nil
	}

	switch failure.Kind {
	case services.FailureQuotaExhausted:
		return c.deferForQuota(ctx, item, failure)
	case services.FailureMissingArtifact:
		return c.regenerateOrFail(ctx, event, item, failure)
	case services.FailurePermanent:
		return c.failPermanently(ctx, event, item, failure)
	default:
		return c.retryOrEscalate(ctx, event, item, failure)
	}
}

// deferForQuota parks the item until the quota window rolls over. The local
// reservation is released: the provider refused the upload, so our ledger was
// ahead of reality.
func (c *Coordinator) deferForQuota(ctx context.Context, item *queue.Item, failure services.UploadFailure) error {
	blocked, ok, err := c.store.Transition(ctx, item.ID, queue.StatusUploading, queue.StatusQuotaBlocked, func(it *queue.Item) {
		it.SetFailure("upload", failure.Message)
	})
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if c.ledger != nil {
		if err := c.ledger.Release(ctx, item.TenantID); err != nil {
			c.logger.Error("release quota reservation",
				logging.String(logging.FieldItemID, item.ID),
				logging.Error(err))
		}
	}
	c.logger.Info("upload deferred on quota",
		logging.String(logging.FieldItemID, blocked.ID),
		logging.String(logging.FieldTenant, blocked.TenantID))
	if c.notifier != nil {
		_ = c.notifier.NotifyUploadDeferred(ctx, blocked.TenantID, blocked.Title)
	}
	return nil
}

// retryOrEscalate handles transient failures: under the cap the item returns
// to completed and the trigger is republished immediately. At the cap the
// rendered file decides between a false-failure resume and regeneration.
func (c *Coordinator) retryOrEscalate(ctx context.Context, event bus.Event, item *queue.Item, failure services.UploadFailure) error {
	if item.RetryCount < c.retryLimit {
		retried, ok, err := c.store.Transition(ctx, item.ID, queue.StatusUploading, queue.StatusCompleted, func(it *queue.Item) {
			it.RetryCount++
			it.SetFailure("upload", failure.Message)
		})
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		c.logger.Info("retrying upload",
			logging.String(logging.FieldItemID, retried.ID),
			logging.Int("retry", retried.RetryCount))
		// Under-cap retries keep the original quota reservation, so the
		// trigger bypasses the admission gate.
		_, err = c.eventBus.Publish(ctx, bus.TopicUploadTrigger, retried.ID, retried.TenantID, nil)
		return err
	}

	if renderedFileUsable(item.RenderedFile) {
		// Repeated transient failures with an intact artifact usually mean
		// the provider was down, not that the upload is doomed. Reset the
		// budget and let admission re-release the item.
		resumed, ok, err := c.store.Transition(ctx, item.ID, queue.StatusUploading, queue.StatusCompleted, func(it *queue.Item) {
			it.RetryCount = 0
			it.SetFailure("upload", failure.Message)
		})
		if err != nil {
			return err
		}
		if ok {
			c.logger.Warn("retry budget exhausted with usable artifact, resuming via admission",
				logging.String(logging.FieldItemID, resumed.ID))
		}
		return nil
	}

	return c.regenerateOrFail(ctx, event, item, failure)
}

// regenerateOrFail fails the item, then requests a pipeline regeneration when
// budget remains. Past the budget the originating event is parked so the
// failure can be replayed verbatim.
func (c *Coordinator) regenerateOrFail(ctx context.Context, event bus.Event, item *queue.Item, failure services.UploadFailure) error {
	failed, ok, err := c.store.Transition(ctx, item.ID, queue.StatusUploading, queue.StatusFailed, func(it *queue.Item) {
		it.SetFailure("upload", failure.Message)
	})
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if c.ledger != nil {
		if err := c.ledger.Release(ctx, item.TenantID); err != nil {
			c.logger.Error("release quota reservation",
				logging.String(logging.FieldItemID, item.ID),
				logging.Error(err))
		}
	}

	if failed.RegenCount < c.regenLimit {
		c.logger.Info("requesting regeneration",
			logging.String(logging.FieldItemID, failed.ID),
			logging.Int("regen", failed.RegenCount+1))
		_, err := c.eventBus.Publish(ctx, bus.TopicRegenRequested, failed.ID, failed.TenantID, nil)
		return err
	}

	c.logger.Error("regeneration budget exhausted, item failed permanently",
		logging.String(logging.FieldItemID, failed.ID),
		logging.String(logging.FieldTenant, failed.TenantID))
	c.parkForReplay(ctx, event, failure)
	if c.notifier != nil {
		_ = c.notifier.NotifyStageFailure(ctx, failed.TenantID, failed.Title, "upload",
			services.Wrap(services.ErrPermanent, "upload", "recover", failure.Message, nil))
	}
	return nil
}

func (c *Coordinator) failPermanently(ctx context.Context, event bus.Event, item *queue.Item, failure services.UploadFailure) error {
	failed, ok, err := c.store.Transition(ctx, item.ID, queue.StatusUploading, queue.StatusFailed, func(it *queue.Item) {
		it.SetFailure("upload", failure.Message)
	})
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if c.ledger != nil {
		if err := c.ledger.Release(ctx, item.TenantID); err != nil {
			c.logger.Error("release quota reservation",
				logging.String(logging.FieldItemID, item.ID),
				logging.Error(err))
		}
	}
	c.parkForReplay(ctx, event, failure)
	if c.notifier != nil {
		_ = c.notifier.NotifyStageFailure(ctx, failed.TenantID, failed.Title, "upload",
			services.Wrap(services.ErrPermanent, "upload", "recover", failure.Message, nil))
	}
	return nil
}

// parkForReplay preserves the upload-failed event in the dead-letter sink.
// The coordinator commits its own delivery, so without this a permanently
// failed upload would leave nothing to inspect or requeue.
func (c *Coordinator) parkForReplay(ctx context.Context, event bus.Event, failure services.UploadFailure) {
	cause := services.Wrap(services.ErrPermanent, "upload", "recover", failure.Message, nil)
	if _, err := c.eventBus.ParkDeadLetter(ctx, event, c.Group(), 1, cause); err != nil {
		c.logger.Error("park upload failure for replay",
			logging.String(logging.FieldItemID, event.ItemID),
			logging.Error(err))
	}
}

func renderedFileUsable(path string) bool {
	if path == "" {
		return false
	}
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.Size() > 0
}
