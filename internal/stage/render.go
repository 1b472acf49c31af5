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

// RenderStage composes fetched assets into the final video. It runs in the
// shared renderer pool, so one consumer group serves every tenant; the CAS
// claim out of assets_ready is what keeps duplicate triggers harmless.
type RenderStage struct {
	store    *queue.Store
	eventBus *bus.Bus
	client   services.RenderService
	policy   tenancy.Policy
	mood     string
	notifier notifications.Service
	logger   *slog.Logger
}

// NewRenderStage constructs the render stage handler.
func NewRenderStage(store *queue.Store, eventBus *bus.Bus, client services.RenderService, policy tenancy.Policy, mood string, notifier notifications.Service, logger *slog.Logger) *RenderStage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &RenderStage{
		store:    store,
		eventBus: eventBus,
		client:   client,
		policy:   policy,
		mood:     mood,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "stage-render"),
	}
}

func (s *RenderStage) Name() string  { return "render" }
func (s *RenderStage) Topic() string { return bus.TopicRenderTrigger }

// Group returns the unscoped renderer pool group: the pool is shared across
// tenants.
func (s *RenderStage) Group() string { return bus.GroupRendererPool }

func (s *RenderStage) Handle(ctx context.Context, event bus.Event) error {
	if !s.policy.Accepts(event.TenantID) {
		return nil
	}

	item, claimed, err := s.store.Transition(ctx, event.ItemID, queue.StatusAssetsReady, queue.StatusRendering, nil)
	if err != nil {
		return err
	}
	if !claimed {
		s.logger.Debug("claim lost, dropping event",
			logging.String(logging.FieldItemID, event.ItemID))
		return nil
	}

	ctx = services.WithItemID(services.WithTenant(ctx, item.TenantID), item.ID)

	assets, err := decodeAssets(item.AssetsJSON)
	if err != nil {
		return dispatchClaimedFailure(ctx, s.store, s.notifier, s.logger, item, s.Name(),
			queue.StatusRendering, queue.StatusAssetsReady, err)
	}

	s.logger.Info("rendering",
		logging.String(logging.FieldItemID, item.ID),
		logging.String(logging.FieldTenant, item.TenantID),
		logging.Int("clips", len(assets.ClipPaths)))

	filePath, err := s.client.Render(ctx, assets, s.mood)
	if err != nil {
		return dispatchClaimedFailure(ctx, s.store, s.notifier, s.logger, item, s.Name(),
			queue.StatusRendering, queue.StatusAssetsReady, err)
	}

	_, ok, err := s.store.Transition(ctx, item.ID, queue.StatusRendering, queue.StatusCompleted, func(it *queue.Item) {
		it.RenderedFile = filePath
		it.ClearFailure()
	})
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Warn("item moved during render, discarding result",
			logging.String(logging.FieldItemID, item.ID))
	}
	// Upload is not triggered here: the admission controller releases
	// completed items against the tenant's quota.
	return nil
}

func (s *RenderStage) HealthCheck(ctx context.Context) Health {
	if s.client == nil {
		return Unhealthy(s.Name(), "render service not configured")
	}
	return Healthy(s.Name())
}
