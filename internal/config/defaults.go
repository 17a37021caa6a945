package config

const (
	defaultDataDir        = "~/.local/share/loom"
	defaultLogDir         = "~/.local/share/loom/logs"
	defaultLogFormat      = "console"
	defaultLogLevel       = "info"
	defaultLLMBaseURL     = "https://openrouter.ai/api/v1/chat/completions"
	defaultLLMModel       = "google/gemini-3-flash-preview"
	defaultLLMReferer     = "https://github.com/five82/loom"
	defaultLLMTitle       = "Loom Enrichment"
	defaultLLMTimeout     = 60
	defaultDeepSeekBase   = "https://api.deepseek.com"
	defaultDeepSeekModel  = "deepseek-chat"
	defaultBackoffBaseMS  = 1000
	defaultBackoffMaxMS   = 30000
	defaultBackoffTries   = 5
	defaultFallbackAfter  = 3
	defaultWorkerCount    = 4
	defaultBatchSize      = 10
	defaultPollInterval   = 5
	defaultErrorRetry     = 10
	defaultLeaseTTL       = 300
	defaultReclaimEvery   = 60
	defaultStageRetryCeil = 3
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
		},
		LLM: LLM{
			BaseURL:        defaultLLMBaseURL,
			Model:          defaultLLMModel,
			Referer:        defaultLLMReferer,
			Title:          defaultLLMTitle,
			TimeoutSeconds: defaultLLMTimeout,
		},
		DeepSeek: DeepSeek{
			BaseURL:        defaultDeepSeekBase,
			Model:          defaultDeepSeekModel,
			TimeoutSeconds: defaultLLMTimeout,
		},
		Backoff: Backoff{
			BaseDelayMS:   defaultBackoffBaseMS,
			MaxDelayMS:    defaultBackoffMaxMS,
			MaxAttempts:   defaultBackoffTries,
			FallbackAfter: defaultFallbackAfter,
			Jitter:        true,
		},
		Workers: Workers{
			Count:              defaultWorkerCount,
			BatchSize:          defaultBatchSize,
			PollInterval:       defaultPollInterval,
			ErrorRetryInterval: defaultErrorRetry,
			LeaseTTL:           defaultLeaseTTL,
			ReclaimInterval:    defaultReclaimEvery,
			MaxRetries:         defaultStageRetryCeil,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
