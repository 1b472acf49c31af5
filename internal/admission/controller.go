package admission

import (
	"context"
	"log/slog"
	"time"

	"newsreel/internal/bus"
	"newsreel/internal/config"
	"newsreel/internal/ingest"
	"newsreel/internal/logging"
	"newsreel/internal/notifications"
	"newsreel/internal/queue"
	"newsreel/internal/quota"
	"newsreel/internal/tenancy"
)

// retriggerGrace is how long a published upload trigger suppresses duplicates
// for an item that stays in completed. It covers slow upload consumers
// without letting a lost trigger strand the item forever.
const retriggerGrace = 5 * time.Minute

// Source is the feed the controller admits new work from.
type Source interface {
	Next(ctx context.Context) (*ingest.Headline, string, error)
	Consume(path string) error
}

// Controller runs the per-tenant admission cycle: it sweeps stale work,
// releases quota-blocked items after window rollover, alerts on failure
// backlog, releases completed items against the quota ledger, and admits new
// headlines while the active buffer has room and the failure backlog sits
// under the limit.
type Controller struct {
	store     *queue.Store
	eventBus  *bus.Bus
	ledger    *quota.Ledger
	source    Source
	policy    tenancy.Policy
	pipeline  config.Pipeline
	notifier  notifications.Service
	logger    *slog.Logger
	now       func() time.Time
	triggered map[string]time.Time
}

// Option customizes a controller.
type Option func(*Controller)

// WithClock overrides the controller's time source (used in tests).
func WithClock(now func() time.Time) Option {
	return func(c *Controller) {
		if now != nil {
			c.now = now
		}
	}
}

// NewController constructs the admission controller for one tenant.
func NewController(store *queue.Store, eventBus *bus.Bus, ledger *quota.Ledger, source Source, policy tenancy.Policy, pipeline config.Pipeline, notifier notifications.Service, logger *slog.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = logging.NewNop()
	}
	c := &Controller{
		store:     store,
		eventBus:  eventBus,
		ledger:    ledger,
		source:    source,
		policy:    policy,
		pipeline:  pipeline,
		notifier:  notifier,
		logger:    logging.NewComponentLogger(logger, "admission"),
		now:       func() time.Time { return time.Now().UTC() },
		triggered: make(map[string]time.Time),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Run executes admission cycles until the context is cancelled. The wake
// channel, when non-nil, runs a cycle early after new files land in the drop
// directory.
func (c *Controller) Run(ctx context.Context, interval time.Duration, wake <-chan struct{}) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := c.Cycle(ctx); err != nil && ctx.Err() == nil {
			c.logger.Error("admission cycle failed", logging.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-wake:
		}
	}
}

// Cycle runs one admission pass.
func (c *Controller) Cycle(ctx context.Context) error {
	tenant := c.policy.ID()

	if err := c.sweepStale(ctx); err != nil {
		return err
	}
	if err := c.releaseQuotaBlocked(ctx, tenant); err != nil {
		return err
	}
	if err := c.alertFailureBacklog(ctx, tenant); err != nil {
		return err
	}
	if err := c.releaseCompleted(ctx, tenant); err != nil {
		return err
	}
	return c.admitNew(ctx, tenant)
}

func (c *Controller) sweepStale(ctx context.Context) error {
	staleAfter := time.Duration(c.pipeline.StaleAfterMinutes) * time.Minute
	if staleAfter <= 0 {
		return nil
	}
	cutoff := c.now().Add(-staleAfter)
	swept, err := c.store.SweepStale(ctx, cutoff)
	if err != nil {
		return err
	}
	if swept > 0 {
		c.logger.Warn("reclaimed stale in-progress items", logging.Int64("count", swept))
	}
	return nil
}

// releaseQuotaBlocked returns deferred items to completed once the quota
// window that blocked them has rolled over.
func (c *Controller) releaseQuotaBlocked(ctx context.Context, tenant string) error {
	blocked, err := c.store.ListByTenant(ctx, tenant, queue.StatusQuotaBlocked)
	if err != nil {
		return err
	}
	for _, item := range blocked {
		if !c.ledger.WindowElapsedSince(item.UpdatedAt) {
			continue
		}
		released, ok, err := c.store.Transition(ctx, item.ID, queue.StatusQuotaBlocked, queue.StatusCompleted, func(it *queue.Item) {
			it.ClearFailure()
		})
		if err != nil {
			return err
		}
		if ok {
			c.logger.Info("quota window rolled over, item released",
				logging.String(logging.FieldItemID, released.ID))
		}
	}
	return nil
}

func (c *Controller) alertFailureBacklog(ctx context.Context, tenant string) error {
	limit := c.pipeline.ActiveBufferLimit
	if limit <= 0 || c.notifier == nil {
		return nil
	}
	failed, err := c.store.CountByStatuses(ctx, tenant, queue.StatusFailed)
	if err != nil {
		return err
	}
	if failed >= limit {
		_ = c.notifier.NotifyBacklogAlert(ctx, tenant, failed)
	}
	return nil
}

// releaseCompleted publishes the upload trigger for the tenant's oldest
// completed item when quota allows. This is the only quota-gated path onto
// the upload-trigger topic.
func (c *Controller) releaseCompleted(ctx context.Context, tenant string) error {
	item, err := c.store.NextForTenantStatus(ctx, tenant, queue.StatusCompleted)
	if err != nil {
		return err
	}
	if item == nil {
		return nil
	}
	if last, seen := c.triggered[item.ID]; seen && c.now().Sub(last) < retriggerGrace {
		return nil
	}

	ok, err := c.ledger.Reserve(ctx, tenant)
	if err != nil {
		return err
	}
	if !ok {
		c.logger.Info("quota window full, holding completed item",
			logging.String(logging.FieldItemID, item.ID))
		return nil
	}

	if _, err := c.eventBus.Publish(ctx, bus.TopicUploadTrigger, item.ID, tenant, nil); err != nil {
		// The reservation must not leak if the trigger never made it out.
		if releaseErr := c.ledger.Release(ctx, tenant); releaseErr != nil {
			c.logger.Error("release quota after publish failure", logging.Error(releaseErr))
		}
		return err
	}
	c.triggered[item.ID] = c.now()
	c.pruneTriggered()
	c.logger.Info("released completed item for upload",
		logging.String(logging.FieldItemID, item.ID),
		logging.String(logging.FieldTenant, tenant))
	return nil
}

func (c *Controller) pruneTriggered() {
	cutoff := c.now().Add(-2 * retriggerGrace)
	for id, at := range c.triggered {
		if at.Before(cutoff) {
			delete(c.triggered, id)
		}
	}
}

// admitNew pulls headlines from the drop directory while the active buffer
// has room, at most AdmitPerCycle per pass. A failure backlog at the limit
// refuses admission outright: a systematically failing tenant must not keep
// burning collaborator spend on fresh headlines.
func (c *Controller) admitNew(ctx context.Context, tenant string) error {
	if c.source == nil {
		return nil
	}
	if c.pipeline.ActiveBufferLimit > 0 {
		failed, err := c.store.CountByStatuses(ctx, tenant, queue.StatusFailed)
		if err != nil {
			return err
		}
		if failed >= c.pipeline.ActiveBufferLimit {
			c.logger.Warn("failure backlog at limit, refusing new admissions",
				logging.Int("failed", failed),
				logging.Int("limit", c.pipeline.ActiveBufferLimit))
			return nil
		}
	}
	admitPerCycle := c.pipeline.AdmitPerCycle
	if admitPerCycle <= 0 {
		admitPerCycle = 1
	}

	for admitted := 0; admitted < admitPerCycle; admitted++ {
		active, err := c.store.CountByStatuses(ctx, tenant, queue.ActiveStatuses()...)
		if err != nil {
			return err
		}
		if c.pipeline.ActiveBufferLimit > 0 && active >= c.pipeline.ActiveBufferLimit {
			return nil
		}

		headline, path, err := c.source.Next(ctx)
		if err != nil {
			return err
		}
		if headline == nil {
			return nil
		}

		item, created, err := c.store.Create(ctx, tenant, headline.SourceKey, headline.Title, headline.Summary)
		if err != nil {
			return err
		}
		if err := c.source.Consume(path); err != nil {
			return err
		}
		if !created {
			c.logger.Info("duplicate headline dropped",
				logging.String("source_key", headline.SourceKey))
			continue
		}

		if _, err := c.eventBus.Publish(ctx, bus.TopicScriptRequest, item.ID, tenant, nil); err != nil {
			return err
		}
		c.logger.Info("headline admitted",
			logging.String(logging.FieldItemID, item.ID),
			logging.String(logging.FieldTenant, tenant),
			logging.String("source_key", headline.SourceKey))
		if c.notifier != nil {
			_ = c.notifier.NotifyItemAdmitted(ctx, tenant, item.Title)
		}
	}
	return nil
}
