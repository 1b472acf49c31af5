package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateTenant(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateBus(); err != nil {
		return err
	}
	if err := c.validateQuota(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateTenant() error {
	if strings.TrimSpace(c.Tenant.ID) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/newsreel/config.toml"
		}
		return fmt.Errorf("tenant.id is required. Edit %s (create with 'newsreel config init')", defaultPath)
	}
	return nil
}

func (c *Config) validatePipeline() error {
	if c.Pipeline.RetryLimit < 0 {
		return errors.New("pipeline.retry_limit must not be negative")
	}
	if c.Pipeline.RegenLimit < 0 {
		return errors.New("pipeline.regen_limit must not be negative")
	}
	if c.Pipeline.ActiveBufferLimit <= 0 {
		return errors.New("pipeline.active_buffer_limit must be positive")
	}
	if c.Pipeline.StaleAfterMinutes <= 0 {
		return errors.New("pipeline.stale_after_minutes must be positive")
	}
	if c.Pipeline.AdmitPerCycle <= 0 {
		return errors.New("pipeline.admit_per_cycle must be positive")
	}
	return nil
}

func (c *Config) validateBus() error {
	if c.Bus.PollIntervalSeconds <= 0 {
		return errors.New("bus.poll_interval_seconds must be positive")
	}
	if c.Bus.DeliveryAttempts <= 0 {
		return errors.New("bus.delivery_attempts must be positive")
	}
	if c.Bus.RetryBackoffSeconds < 0 {
		return errors.New("bus.retry_backoff_seconds must not be negative")
	}
	return nil
}

func (c *Config) validateQuota() error {
	if c.Quota.WindowUnits <= 0 {
		return errors.New("quota.window_units must be positive")
	}
	if c.Quota.UploadCost <= 0 {
		return errors.New("quota.upload_cost must be positive")
	}
	if c.Quota.ResetHourUTC < 0 || c.Quota.ResetHourUTC > 23 {
		return errors.New("quota.reset_hour_utc must be between 0 and 23")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.AdmissionIntervalSeconds <= 0 {
		return errors.New("workflow.admission_interval_seconds must be positive")
	}
	if c.Workflow.ErrorRetryInterval <= 0 {
		return errors.New("workflow.error_retry_interval must be positive")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch strings.ToLower(strings.TrimSpace(c.Logging.Format)) {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format: unsupported value %q", c.Logging.Format)
	}
	return nil
}
