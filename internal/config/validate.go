package config

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateLLM(); err != nil {
		return err
	}
	if err := c.validateBackoff(); err != nil {
		return err
	}
	if err := c.validateWorkers(); err != nil {
		return err
	}
	if err := c.validateLogging(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateLLM() error {
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			defaultPath = "~/.config/loom/config.toml"
		}
		return fmt.Errorf("llm.api_key is required. Set LOOM_LLM_API_KEY env var or edit %s (create with 'loom config init')", defaultPath)
	}
	return nil
}

func (c *Config) validateBackoff() error {
	if err := ensurePositiveMap(map[string]int{
		"backoff.base_delay_ms": c.Backoff.BaseDelayMS,
		"backoff.max_delay_ms":  c.Backoff.MaxDelayMS,
		"backoff.max_attempts":  c.Backoff.MaxAttempts,
	}); err != nil {
		return err
	}
	if c.Backoff.MaxDelayMS < c.Backoff.BaseDelayMS {
		return errors.New("backoff.max_delay_ms must be >= backoff.base_delay_ms")
	}
	if c.Backoff.FallbackAfter < 0 {
		return errors.New("backoff.fallback_after must not be negative")
	}
	return nil
}

func (c *Config) validateWorkers() error {
	return ensurePositiveMap(map[string]int{
		"workers.count":                c.Workers.Count,
		"workers.batch_size":           c.Workers.BatchSize,
		"workers.poll_interval":        c.Workers.PollInterval,
		"workers.error_retry_interval": c.Workers.ErrorRetryInterval,
		"workers.lease_ttl":            c.Workers.LeaseTTL,
		"workers.reclaim_interval":     c.Workers.ReclaimInterval,
		"workers.max_retries":          c.Workers.MaxRetries,
	})
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}

func ensurePositiveMap(values map[string]int) error {
	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if values[key] <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}
	return nil
}
