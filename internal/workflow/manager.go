package workflow

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"newsreel/internal/admission"
	"newsreel/internal/bus"
	"newsreel/internal/config"
	"newsreel/internal/ingest"
	"newsreel/internal/logging"
	"newsreel/internal/metrics"
	"newsreel/internal/notifications"
	"newsreel/internal/queue"
	"newsreel/internal/quota"
	"newsreel/internal/recovery"
	"newsreel/internal/services"
	"newsreel/internal/stage"
	"newsreel/internal/tenancy"
)

// Collaborators groups the external service clients the stages depend on.
// Tests substitute stubs; production wiring builds HTTP clients from config.
type Collaborators struct {
	Script services.ScriptService
	Assets services.AssetService
	Render services.RenderService
	Upload services.UploadService
}

// Manager coordinates event consumers and the admission loop for one tenant.
type Manager struct {
	cfg      *config.Config
	store    *queue.Store
	eventBus *bus.Bus
	ledger   *quota.Ledger
	policy   tenancy.Policy
	notifier notifications.Service
	metrics  *metrics.Metrics
	logger   *slog.Logger

	watcher   *ingest.Watcher
	admitter  *admission.Controller
	handlers  []stage.Handler
	consumers []*bus.Consumer

	mu      sync.RWMutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	lastErr error
}

// ManagerOption configures optional Manager behavior.
type ManagerOption func(*managerOptions)

type managerOptions struct {
	notifier      notifications.Service
	collaborators *Collaborators
	watcher       *ingest.Watcher
	clock         func() time.Time
}

// WithNotifier overrides the notification service (used in tests).
func WithNotifier(notifier notifications.Service) ManagerOption {
	return func(o *managerOptions) {
		o.notifier = notifier
	}
}

// WithCollaborators overrides the external service clients (used in tests).
func WithCollaborators(c Collaborators) ManagerOption {
	return func(o *managerOptions) {
		o.collaborators = &c
	}
}

// WithWatcher overrides the ingest watcher. A nil watcher disables admission
// of new headlines, which the shared renderer pool uses.
func WithWatcher(w *ingest.Watcher) ManagerOption {
	return func(o *managerOptions) {
		o.watcher = w
	}
}

// WithClock overrides the admission controller's time source (used in tests).
func WithClock(now func() time.Time) ManagerOption {
	return func(o *managerOptions) {
		o.clock = now
	}
}

// NewManager constructs a workflow manager from configuration.
func NewManager(cfg *config.Config, store *queue.Store, eventBus *bus.Bus, ledger *quota.Ledger, logger *slog.Logger, opts ...ManagerOption) (*Manager, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	options := &managerOptions{}
	for _, opt := range opts {
		opt(options)
	}

	policy := tenancy.NewPolicy(cfg.Tenant.ID)
	if !policy.Shared() {
		if err := tenancy.ValidateID(cfg.Tenant.ID); err != nil {
			return nil, err
		}
	}

	notifier := options.notifier
	if notifier == nil {
		notifier = notifications.NewService(cfg)
	}

	collab := options.collaborators
	if collab == nil {
		collab = &Collaborators{
			Script: services.NewScriptClient(cfg.Script),
			Assets: services.NewAssetClient(cfg.Assets),
			Render: services.NewRenderClient(cfg.Render),
			Upload: services.NewUploadClient(cfg.Upload),
		}
	}

	m := &Manager{
		cfg:      cfg,
		store:    store,
		eventBus: eventBus,
		ledger:   ledger,
		policy:   policy,
		notifier: notifier,
		metrics:  metrics.New(),
		logger:   logging.NewComponentLogger(logger, "workflow"),
	}

	m.handlers = m.buildHandlers(collab, logger)
	m.consumers = m.buildConsumers(logger)

	if !policy.Shared() {
		watcher := options.watcher
		if watcher == nil {
			w, err := ingest.NewWatcher(cfg.Paths.IngestDir, logger)
			if err != nil {
				return nil, err
			}
			watcher = w
		}
		m.watcher = watcher

		admissionOpts := []admission.Option{}
		if options.clock != nil {
			admissionOpts = append(admissionOpts, admission.WithClock(options.clock))
		}
		m.admitter = admission.NewController(store, eventBus, ledger, watcher, policy, cfg.Pipeline, notifier, logger, admissionOpts...)
	}

	return m, nil
}

// buildHandlers assembles the stage set for this process. The shared renderer
// pool only runs the render stage; a tenant daemon runs everything else and
// the render stage as a local fallback.
func (m *Manager) buildHandlers(collab *Collaborators, logger *slog.Logger) []stage.Handler {
	renderStage := stage.NewRenderStage(m.store, m.eventBus, collab.Render, m.policy, m.cfg.Render.Mood, m.notifier, logger)
	if m.policy.Shared() {
		return []stage.Handler{renderStage}
	}
	return []stage.Handler{
		stage.NewScriptStage(m.store, m.eventBus, collab.Script, m.policy, m.notifier, logger),
		stage.NewAssetsStage(m.store, m.eventBus, collab.Assets, m.policy, m.notifier, logger),
		renderStage,
		stage.NewUploadStage(m.store, m.eventBus, collab.Upload, m.policy, m.notifier, logger),
		recovery.NewCoordinator(m.store, m.eventBus, m.ledger, m.policy, m.cfg.Pipeline.RetryLimit, m.cfg.Pipeline.RegenLimit, m.notifier, logger),
		recovery.NewRegenerator(m.store, m.eventBus, m.policy, m.cfg.Pipeline.RegenLimit, m.notifier, logger),
	}
}

func (m *Manager) buildConsumers(logger *slog.Logger) []*bus.Consumer {
	policy := bus.PolicyFromConfig(m.cfg.Bus)
	poll := time.Duration(m.cfg.Bus.PollIntervalSeconds) * time.Second

	consumers := make([]*bus.Consumer, 0, len(m.handlers))
	for _, handler := range m.handlers {
		opts := []bus.ConsumerOption{
			bus.WithLogger(logging.NewComponentLogger(logger, "consumer-"+handler.Name())),
			bus.WithPolicy(policy),
			bus.WithDeadLetterHook(m.onDeadLetter),
		}
		if poll > 0 {
			opts = append(opts, bus.WithPollInterval(poll))
		}
		consumers = append(consumers, bus.NewConsumer(m.eventBus, handler.Group(), handler.Topic(), handler.Handle, opts...))
	}
	return consumers
}

// Metrics exposes the manager's instrument set for the API scrape endpoint.
func (m *Manager) Metrics() *metrics.Metrics {
	return m.metrics
}

// Tenant returns the tenant this manager serves.
func (m *Manager) Tenant() string {
	return m.policy.ID()
}
