package config

const (
	defaultDataDir   = "~/.local/share/newsreel/data"
	defaultMediaDir  = "~/.local/share/newsreel/media"
	defaultLogDir    = "~/.local/share/newsreel/logs"
	defaultIngestDir = "~/.local/share/newsreel/ingest"
	defaultAPIBind   = "127.0.0.1:7509"

	defaultRetryLimit        = 3
	defaultRegenLimit        = 1
	defaultActiveBufferLimit = 5
	defaultStaleAfterMinutes = 60
	defaultAdmitPerCycle     = 1

	defaultBusPollIntervalSeconds = 2
	defaultDeliveryAttempts       = 3
	defaultRetryBackoffSeconds    = 30
	defaultRetryBackoffMaxMins    = 5

	defaultQuotaWindowUnits = 10000
	defaultQuotaUploadCost  = 1600
	defaultQuotaResetHour   = 7

	defaultScriptBaseURL  = "https://openrouter.ai/api/v1/chat/completions"
	defaultScriptModel    = "google/gemini-3-flash-preview"
	defaultScriptTimeout  = 120
	defaultAssetsTimeout  = 180
	defaultRenderMood     = "documentary"
	defaultRenderTimeout  = 900
	defaultUploadTimeout  = 600

	defaultNotifyRequestTimeout = 10

	defaultAdmissionIntervalSeconds = 60
	defaultErrorRetryInterval      = 10

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:   defaultDataDir,
			MediaDir:  defaultMediaDir,
			LogDir:    defaultLogDir,
			IngestDir: defaultIngestDir,
			APIBind:   defaultAPIBind,
		},
		Pipeline: Pipeline{
			RetryLimit:        defaultRetryLimit,
			RegenLimit:        defaultRegenLimit,
			ActiveBufferLimit: defaultActiveBufferLimit,
			StaleAfterMinutes: defaultStaleAfterMinutes,
			AdmitPerCycle:     defaultAdmitPerCycle,
		},
		Bus: Bus{
			PollIntervalSeconds: defaultBusPollIntervalSeconds,
			DeliveryAttempts:    defaultDeliveryAttempts,
			RetryBackoffSeconds: defaultRetryBackoffSeconds,
			RetryBackoffMaxMins: defaultRetryBackoffMaxMins,
		},
		Quota: Quota{
			WindowUnits:  defaultQuotaWindowUnits,
			UploadCost:   defaultQuotaUploadCost,
			ResetHourUTC: defaultQuotaResetHour,
		},
		Script: Script{
			BaseURL:        defaultScriptBaseURL,
			Model:          defaultScriptModel,
			TimeoutSeconds: defaultScriptTimeout,
		},
		Assets: Assets{
			TimeoutSeconds: defaultAssetsTimeout,
		},
		Render: Render{
			Mood:           defaultRenderMood,
			TimeoutSeconds: defaultRenderTimeout,
		},
		Upload: Upload{
			TimeoutSeconds: defaultUploadTimeout,
		},
		Notifications: Notifications{
			RequestTimeout: defaultNotifyRequestTimeout,
			Admission:      true,
			StageFailures:  true,
			Uploads:        true,
			Backlog:        true,
		},
		Workflow: Workflow{
			AdmissionIntervalSeconds: defaultAdmissionIntervalSeconds,
			ErrorRetryInterval:       defaultErrorRetryInterval,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
