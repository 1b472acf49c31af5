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

// AssetsStage resolves a stored script's scenes into downloaded clips. It owns
// no processing status: the item stays in assets_ready while clips download,
// and the conditional artifact write drops the result if the item moved.
type AssetsStage struct {
	store    *queue.Store
	eventBus *bus.Bus
	client   services.AssetService
	policy   tenancy.Policy
	notifier notifications.Service
	logger   *slog.Logger
}

// NewAssetsStage constructs the asset-fetch stage handler.
func NewAssetsStage(store *queue.Store, eventBus *bus.Bus, client services.AssetService, policy tenancy.Policy, notifier notifications.Service, logger *slog.Logger) *AssetsStage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &AssetsStage{
		store:    store,
		eventBus: eventBus,
		client:   client,
		policy:   policy,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "stage-assets"),
	}
}

func (s *AssetsStage) Name() string  { return "assets" }
func (s *AssetsStage) Topic() string { return bus.TopicAssetsRequest }

func (s *AssetsStage) Group() string {
	return bus.TenantGroup(bus.GroupAssetWorkers, s.policy.ID())
}

func (s *AssetsStage) Handle(ctx context.Context, event bus.Event) error {
	if !s.policy.Accepts(event.TenantID) {
		return nil
	}

	item, err := s.store.GetByID(ctx, event.ItemID)
	if err != nil {
		return err
	}
	if item == nil || item.Status != queue.StatusAssetsReady {
		return nil
	}

	ctx = services.WithItemID(services.WithTenant(ctx, item.TenantID), item.ID)

	script, err := decodeScript(item.ScriptJSON)
	if err != nil {
		return dispatchFailure(ctx, s.store, s.notifier, s.logger, item, s.Name(), err)
	}

	s.logger.Info("fetching assets",
		logging.String(logging.FieldItemID, item.ID),
		logging.String(logging.FieldTenant, item.TenantID),
		logging.Int("scenes", len(script.Scenes)))

	assets, err := s.client.Fetch(ctx, script.Scenes)
	if err != nil {
		return dispatchFailure(ctx, s.store, s.notifier, s.logger, item, s.Name(), err)
	}
	assetsJSON, err := encodeJSON(assets)
	if err != nil {
		return failPermanently(ctx, s.store, s.notifier, s.logger, item, s.Name(), err)
	}

	updated, ok, err := s.store.UpdateIfStatus(ctx, item.ID, queue.StatusAssetsReady, func(it *queue.Item) {
		it.AssetsJSON = assetsJSON
	})
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Warn("item moved during asset fetch, discarding result",
			logging.String(logging.FieldItemID, item.ID))
		return nil
	}

	_, err = s.eventBus.Publish(ctx, bus.TopicRenderTrigger, updated.ID, updated.TenantID, nil)
	return err
}

func (s *AssetsStage) HealthCheck(ctx context.Context) Health {
	if s.client == nil {
		return Unhealthy(s.Name(), "asset service not configured")
	}
	return Healthy(s.Name())
}
