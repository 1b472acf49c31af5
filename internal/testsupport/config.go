package testsupport

import (
	"path/filepath"
	"testing"

	"newsreel/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// It defaults common fields and applies any provided options.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Tenant.ID = "channel-test"
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.MediaDir = filepath.Join(base, "media")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Paths.IngestDir = filepath.Join(base, "ingest")
	cfgVal.Paths.APIBind = "127.0.0.1:0"

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}

	for _, opt := range opts {
		opt(builder)
	}

	return builder.cfg
}

// WithTenant overrides the tenant identifier on the test config.
func WithTenant(id string) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Tenant.ID = id
	}
}

// WithRetryLimit overrides the retry caps on the test config.
func WithRetryLimit(limit int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Pipeline.RetryLimit = limit
		b.cfg.Bus.DeliveryAttempts = limit
	}
}

// WithBusDelivery overrides the bus delivery attempts and backoff on the test
// config. A one-second backoff keeps multi-attempt redelivery tests fast.
func WithBusDelivery(attempts, backoffSeconds int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Bus.DeliveryAttempts = attempts
		b.cfg.Bus.RetryBackoffSeconds = backoffSeconds
	}
}

// WithQuota overrides the quota window and upload cost on the test config.
func WithQuota(windowUnits, uploadCost int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Quota.WindowUnits = windowUnits
		b.cfg.Quota.UploadCost = uploadCost
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
