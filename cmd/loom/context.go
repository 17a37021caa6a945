package main

import (
	"log/slog"
	"strings"
	"sync"

	"loom/internal/backlog"
	"loom/internal/config"
	"loom/internal/enrich"
	"loom/internal/logging"
	"loom/internal/pipeline"
	"loom/internal/services/deepseek"
	"loom/internal/services/llm"
)

type commandContext struct {
	configFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		if err := cfg.EnsureDirectories(); err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// buildProviders wires the configured completion clients. The fallback is
// optional; without a DeepSeek key the set carries only the primary.
func buildProviders(cfg *config.Config) enrich.ProviderSet {
	providers := enrich.ProviderSet{
		Primary: llm.NewClient(llm.Config{
			APIKey:         cfg.LLM.APIKey,
			BaseURL:        cfg.LLM.BaseURL,
			Model:          cfg.LLM.Model,
			Referer:        cfg.LLM.Referer,
			Title:          cfg.LLM.Title,
			TimeoutSeconds: cfg.LLM.TimeoutSeconds,
		}),
	}
	if cfg.HasFallback() {
		opts := []deepseek.Option{
			deepseek.WithModel(cfg.DeepSeek.Model),
			deepseek.WithTimeout(cfg.DeepSeek.TimeoutSeconds),
		}
		if base := strings.TrimSpace(cfg.DeepSeek.BaseURL); base != "" {
			opts = append(opts, deepseek.WithBaseURL(base))
		}
		providers.Fallback = deepseek.NewClient(cfg.DeepSeek.APIKey, opts...)
	}
	return providers
}

// buildPipeline constructs the default enrichment pipeline over the
// configured providers.
func buildPipeline(cfg *config.Config, logger *slog.Logger) (*pipeline.Pipeline, enrich.ProviderSet, error) {
	providers := buildProviders(cfg)
	pipe, err := enrich.DefaultPipeline(providers, logger)
	if err != nil {
		return nil, providers, err
	}
	return pipe, providers, nil
}

// openStore opens the backlog with the default pipeline attached.
func openStore(cfg *config.Config, logger *slog.Logger) (*backlog.Store, enrich.ProviderSet, error) {
	pipe, providers, err := buildPipeline(cfg, logger)
	if err != nil {
		return nil, providers, err
	}
	store, err := backlog.Open(cfg, pipe)
	if err != nil {
		return nil, providers, err
	}
	return store, providers, nil
}

func newCommandLogger(cfg *config.Config) *slog.Logger {
	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		return logging.NewNop()
	}
	return logger
}
