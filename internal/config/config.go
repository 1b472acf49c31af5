package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir   string `toml:"data_dir"`
	MediaDir  string `toml:"media_dir"`
	LogDir    string `toml:"log_dir"`
	IngestDir string `toml:"ingest_dir"`
	APIBind   string `toml:"api_bind"`
}

// Tenant selects which channel this process serves.
type Tenant struct {
	ID string `toml:"id"`
}

// Pipeline contains retry, regeneration, and buffer limits.
type Pipeline struct {
	RetryLimit        int `toml:"retry_limit"`
	RegenLimit        int `toml:"regen_limit"`
	ActiveBufferLimit int `toml:"active_buffer_limit"`
	StaleAfterMinutes int `toml:"stale_after_minutes"`
	AdmitPerCycle     int `toml:"admit_per_cycle"`
}

// Bus contains delivery retry settings for the event bus consumers.
type Bus struct {
	PollIntervalSeconds  int `toml:"poll_interval_seconds"`
	DeliveryAttempts     int `toml:"delivery_attempts"`
	RetryBackoffSeconds  int `toml:"retry_backoff_seconds"`
	RetryBackoffMaxMins  int `toml:"retry_backoff_max_minutes"`
}

// Quota configures the upload quota ledger.
type Quota struct {
	WindowUnits    int `toml:"window_units"`
	UploadCost     int `toml:"upload_cost"`
	ResetHourUTC   int `toml:"reset_hour_utc"`
}

// Script configures the script-generation collaborator.
type Script struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	Model          string `toml:"model"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Assets configures the stock-footage collaborator.
type Assets struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Render configures the rendering collaborator.
type Render struct {
	BaseURL        string `toml:"base_url"`
	Mood           string `toml:"mood"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Upload configures the upload collaborator.
type Upload struct {
	BaseURL        string `toml:"base_url"`
	APIKey         string `toml:"api_key"`
	TimeoutSeconds int    `toml:"timeout_seconds"`
}

// Notifications contains configuration for push notifications.
type Notifications struct {
	Topic          string `toml:"topic"`
	RequestTimeout int    `toml:"request_timeout"`
	Admission      bool   `toml:"admission"`
	StageFailures  bool   `toml:"stage_failures"`
	Uploads        bool   `toml:"uploads"`
	Backlog        bool   `toml:"backlog"`
}

// Workflow contains daemon timing intervals.
type Workflow struct {
	AdmissionIntervalSeconds int `toml:"admission_interval_seconds"`
	ErrorRetryInterval       int `toml:"error_retry_interval"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for newsreel.
//
// Configuration sections by subsystem:
//   - Paths: directories and API bind address
//   - Tenant: which channel this process serves
//   - Pipeline: retry/regeneration caps and buffer limits
//   - Bus: event delivery retry policy
//   - Quota: upload quota ledger window
//   - Script/Assets/Render/Upload: external collaborator endpoints
//   - Notifications: webhook push settings
//   - Workflow: control loop intervals
//   - Logging: log format and level
type Config struct {
	Paths         Paths         `toml:"paths"`
	Tenant        Tenant        `toml:"tenant"`
	Pipeline      Pipeline      `toml:"pipeline"`
	Bus           Bus           `toml:"bus"`
	Quota         Quota         `toml:"quota"`
	Script        Script        `toml:"script"`
	Assets        Assets        `toml:"assets"`
	Render        Render        `toml:"render"`
	Upload        Upload        `toml:"upload"`
	Notifications Notifications `toml:"notifications"`
	Workflow      Workflow      `toml:"workflow"`
	Logging       Logging       `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/newsreel/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config
// has all path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("newsreel.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.MediaDir, c.Paths.LogDir, c.Paths.IngestDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
