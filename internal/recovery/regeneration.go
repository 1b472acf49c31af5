package recovery

import (
	"context"
	"log/slog"

	"newsreel/internal/bus"
	"newsreel/internal/logging"
	"newsreel/internal/notifications"
	"newsreel/internal/queue"
	"newsreel/internal/stage"
	"newsreel/internal/tenancy"
)

// Regenerator consumes regeneration-requested events and sends failed items
// back through the pipeline from the top. Previous artifacts stay on the item
// until later stages overwrite them, which makes a partial rerun inspectable.
type Regenerator struct {
	store      *queue.Store
	eventBus   *bus.Bus
	policy     tenancy.Policy
	regenLimit int
	notifier   notifications.Service
	logger     *slog.Logger
}

// NewRegenerator constructs the regeneration handler.
func NewRegenerator(store *queue.Store, eventBus *bus.Bus, policy tenancy.Policy, regenLimit int, notifier notifications.Service, logger *slog.Logger) *Regenerator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Regenerator{
		store:      store,
		eventBus:   eventBus,
		policy:     policy,
		regenLimit: regenLimit,
		notifier:   notifier,
		logger:     logging.NewComponentLogger(logger, "regeneration"),
	}
}

func (r *Regenerator) Name() string  { return "regeneration" }
func (r *Regenerator) Topic() string { return bus.TopicRegenRequested }

func (r *Regenerator) Group() string {
	return bus.TenantGroup("regeneration-workers", r.policy.ID())
}

func (r *Regenerator) HealthCheck(ctx context.Context) stage.Health {
	if r.store == nil || r.eventBus == nil {
		return stage.Unhealthy(r.Name(), "store or bus not configured")
	}
	return stage.Healthy(r.Name())
}

func (r *Regenerator) Handle(ctx context.Context, event bus.Event) error {
	if !r.policy.Accepts(event.TenantID) {
		return nil
	}

	item, err := r.store.GetByID(ctx, event.ItemID)
	if err != nil {
		return err
	}
	if item == nil || item.Status != queue.StatusFailed {
		return nil
	}
	if item.RegenCount >= r.regenLimit {
		r.logger.Warn("regeneration request exceeds budget, ignoring",
			logging.String(logging.FieldItemID, item.ID),
			logging.Int("regen", item.RegenCount))
		return nil
	}

	revived, ok, err := r.store.Transition(ctx, item.ID, queue.StatusFailed, queue.StatusQueued, func(it *queue.Item) {
		it.RegenCount++
		it.RetryCount = 0
		it.ClearFailure()
	})
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}

	r.logger.Info("item revived for regeneration",
		logging.String(logging.FieldItemID, revived.ID),
		logging.String(logging.FieldTenant, revived.TenantID),
		logging.Int("regen", revived.RegenCount))
	if r.notifier != nil {
		_ = r.notifier.NotifyRegeneration(ctx, revived.TenantID, revived.Title, revived.RegenCount)
	}

	_, err = r.eventBus.Publish(ctx, bus.TopicScriptRequest, revived.ID, revived.TenantID, nil)
	return err
}
