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

// UploadStage publishes rendered files. Failures are not retried in place:
// the stage leaves the item in uploading, emits an upload-failed event, and
// the recovery coordinator decides between retry, quota deferral, and
// regeneration.
type UploadStage struct {
	store    *queue.Store
	eventBus *bus.Bus
	client   services.UploadService
	policy   tenancy.Policy
	notifier notifications.Service
	logger   *slog.Logger
}

// NewUploadStage constructs the upload stage handler.
func NewUploadStage(store *queue.Store, eventBus *bus.Bus, client services.UploadService, policy tenancy.Policy, notifier notifications.Service, logger *slog.Logger) *UploadStage {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &UploadStage{
		store:    store,
		eventBus: eventBus,
		client:   client,
		policy:   policy,
		notifier: notifier,
		logger:   logging.NewComponentLogger(logger, "stage-upload"),
	}
}

func (s *UploadStage) Name() string  { return "upload" }
func (s *UploadStage) Topic() string { return bus.TopicUploadTrigger }

func (s *UploadStage) Group() string {
	return bus.TenantGroup(bus.GroupUploadWorkers, s.policy.ID())
}

func (s *UploadStage) Handle(ctx context.Context, event bus.Event) error {
	if !s.policy.Accepts(event.TenantID) {
		return nil
	}

	item, claimed, err := s.store.Transition(ctx, event.ItemID, queue.StatusCompleted, queue.StatusUploading, nil)
	if err != nil {
		return err
	}
	if !claimed {
		s.logger.Debug("claim lost, dropping event",
			logging.String(logging.FieldItemID, event.ItemID))
		return nil
	}

	ctx = services.WithItemID(services.WithTenant(ctx, item.TenantID), item.ID)

	meta := services.UploadMeta{Title: item.Title}
	if script, err := decodeScript(item.ScriptJSON); err == nil {
		meta.Title = script.Title
		meta.Description = script.Description
		meta.Tags = script.Tags
	}

	s.logger.Info("uploading",
		logging.String(logging.FieldItemID, item.ID),
		logging.String(logging.FieldTenant, item.TenantID))

	url, err := s.client.Upload(ctx, item.RenderedFile, meta)
	if err != nil {
		return s.reportFailure(ctx, item, err)
	}

	uploaded, ok, err := s.store.Transition(ctx, item.ID, queue.StatusUploading, queue.StatusUploaded, func(it *queue.Item) {
		it.UploadURL = url
		it.ClearFailure()
	})
	if err != nil {
		return err
	}
	if !ok {
		s.logger.Warn("item moved during upload, url discarded",
			logging.String(logging.FieldItemID, item.ID))
		return nil
	}

	if s.notifier != nil {
		_ = s.notifier.NotifyUploadCompleted(ctx, uploaded.TenantID, uploaded.Title, url)
	}
	return nil
}

// reportFailure publishes the upload-failed event and commits. Delivery
// retries on the trigger topic would race the coordinator, so the handler
// never returns the upload error itself.
func (s *UploadStage) reportFailure(ctx context.Context, item *queue.Item, cause error) error {
	kind := services.Classify(cause)
	s.logger.Warn("upload failed",
		logging.String(logging.FieldItemID, item.ID),
		logging.String(logging.FieldTenant, item.TenantID),
		logging.String("kind", string(kind)),
		logging.Error(cause))

	payload := services.UploadFailure{Kind: kind, Message: cause.Error()}
	_, err := s.eventBus.Publish(ctx, bus.TopicUploadFailed, item.ID, item.TenantID, payload)
	return err
}

func (s *UploadStage) HealthCheck(ctx context.Context) Health {
	if s.client == nil {
		return Unhealthy(s.Name(), "upload service not configured")
	}
	return Healthy(s.Name())
}
