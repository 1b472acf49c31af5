package stage

import (
	"context"
	"log/slog"

	"newsreel/internal/bus"
	"newsreel/internal/logging"
	"newsreel/internal/notifications"
	"newsreel/internal/queue"
	"newsreel/internal/services"
	"newsreel/internal/tenancy"
)

// ScriptStage turns an admitted headline into a narrated script. It claims the
// item out of queued, stores the generated script, and requests asset fetch.
type ScriptStage struct {
	store    *queue.Store
	eventBus *bus.Bus
	client   services.ScriptService
	policy   tenancy.Policy
	notifier notifications.Service
	logger   *slog.Logger
}

// NewScriptStage constructs the script stage handler.
func NewScriptStage(store *queue.Store, eventBus *bus.Bus, client services.ScriptService, policy tenancy.Policy, notifier notifications.Service, logger *slog.Logger) *ScriptStage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &ScriptStage{
		store:    store,
		eventBus: eventBus,
		client:   client,
		policy:   policy,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "stage-script"),
	}
}

func (s *ScriptStage) Name() string  { return "script" }
func (s *ScriptStage) Topic() string { return bus.TopicScriptRequest }

func (s *ScriptStage) Group() string {
	return bus.TenantGroup(bus.GroupScriptWorkers, s.policy.ID())
}

func (s *ScriptStage) Handle(ctx context.Context, event bus.Event) error {
	if !s.policy.Accepts(event.TenantID) {
		return nil
	}

	item, claimed, err := s.store.Transition(ctx, event.ItemID, queue.StatusQueued, queue.StatusScripting, nil)
	if err != nil {
		return err
	}
	if !claimed {
		s.logger.Debug("claim lost, dropping event",
			logging.String(logging.FieldItemID, event.ItemID))
		return nil
	}

	ctx = services.WithItemID(services.WithTenant(ctx, item.TenantID), item.ID)
	s.logger.Info("generating script",
		logging.String(logging.FieldItemID, item.ID),
		logging.String(logging.FieldTenant, item.TenantID))

	script, err := s.client.Generate(ctx, item.Title, item.Summary)
	if err != nil {
		return dispatchClaimedFailure(ctx, s.store, s.notifier, s.logger, item, s.Name(),
			queue.StatusScripting, queue.StatusQueued, err)
	}
	scriptJSON, err := encodeJSON(script)
	if err != nil {
		return failPermanently(ctx, s.store, s.notifier, s.logger, item, s.Name(), err)
	}

	advanced, ok, err := s.store.Transition(ctx, item.ID, queue.StatusScripting, queue.StatusAssetsReady, func(it *queue.Item) {
		it.ScriptJSON = scriptJSON
		it.ClearFailure()
	})
	if err != nil {
		return err
	}
	if !ok {
		// The staleness sweep or an operator moved the item mid-flight.
		s.logger.Warn("item moved during script generation, discarding result",
			logging.String(logging.FieldItemID, item.ID))
		return nil
	}

	_, err = s.eventBus.Publish(ctx, bus.TopicAssetsRequest, advanced.ID, advanced.TenantID, nil)
	return err
}

func (s *ScriptStage) HealthCheck(ctx context.Context) Health {
	if s.client == nil {
		return Unhealthy(s.Name(), "script service not configured")
	}
	return Healthy(s.Name())
}
