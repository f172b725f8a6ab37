// Package config provides configuration types and utilities for the
// agent-execution engine.
package config

import (
	"fmt"
	"time"
)

// LLMConfig resolves a profile's llm_config_ref into transport settings for
// the LLM client, per the External Interfaces contract.
type LLMConfig struct {
	EndpointURL string        `yaml:"endpoint_url"`
	Model       string        `yaml:"model"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"timeout_ms"`
	MaxRetries  int           `yaml:"max_retries"`
}

// Validate implements ConfigInterface for LLMConfig.
func (c *LLMConfig) Validate() error {
	if c.EndpointURL == "" {
		return fmt.Errorf("endpoint_url is required")
	}
	if c.Model == "" {
		return fmt.Errorf("model is required")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	return nil
}

// SetDefaults implements ConfigInterface for LLMConfig.
func (c *LLMConfig) SetDefaults() {
	if c.Timeout == 0 {
		c.Timeout = 60 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
}

// EngineConfig carries the engine's run-level options: turn and
// concurrency caps, LLM call timeout/retry policy, wall-clock run cap, and
// state-dump sink configuration.
type EngineConfig struct {
	MaxTurnsPerFlow         int           `yaml:"max_turns_per_flow"`
	MaxConcurrentChildFlows int           `yaml:"max_concurrent_child_flows"`
	LLMCallTimeout          time.Duration `yaml:"llm_call_timeout_ms"`
	LLMMaxRetries           int           `yaml:"llm_max_retries"`
	RunWallClockTimeout     time.Duration `yaml:"run_wall_clock_timeout_ms"`
	StateDumpEnabled        bool          `yaml:"state_dump_enabled"`
	StateDumpPath           string        `yaml:"state_dump_path"`
}

// Validate implements ConfigInterface for EngineConfig.
func (c *EngineConfig) Validate() error {
	if c.MaxTurnsPerFlow <= 0 {
		return fmt.Errorf("max_turns_per_flow must be positive")
	}
	if c.MaxConcurrentChildFlows <= 0 {
		return fmt.Errorf("max_concurrent_child_flows must be positive")
	}
	if c.LLMCallTimeout <= 0 {
		return fmt.Errorf("llm_call_timeout_ms must be positive")
	}
	if c.LLMMaxRetries < 0 {
		return fmt.Errorf("llm_max_retries must be non-negative")
	}
	if c.StateDumpEnabled && c.StateDumpPath == "" {
		return fmt.Errorf("state_dump_path is required when state_dump_enabled is true")
	}
	return nil
}

// SetDefaults implements ConfigInterface for EngineConfig.
func (c *EngineConfig) SetDefaults() {
	if c.MaxTurnsPerFlow == 0 {
		c.MaxTurnsPerFlow = 64
	}
	if c.MaxConcurrentChildFlows == 0 {
		c.MaxConcurrentChildFlows = 4
	}
	if c.LLMCallTimeout == 0 {
		c.LLMCallTimeout = 120 * time.Second
	}
	if c.LLMMaxRetries == 0 {
		c.LLMMaxRetries = 3
	}
}

// LoggingConfig controls the engine's structured logger.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Validate implements ConfigInterface for LoggingConfig.
func (c *LoggingConfig) Validate() error {
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Level] {
		return fmt.Errorf("invalid log level: %s", c.Level)
	}
	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Format] {
		return fmt.Errorf("invalid log format: %s", c.Format)
	}
	return nil
}

// SetDefaults implements ConfigInterface for LoggingConfig.
func (c *LoggingConfig) SetDefaults() {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "json"
	}
	if c.Output == "" {
		c.Output = "stderr"
	}
}

// TracingConfig controls OpenTelemetry trace export.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	EndpointURL  string  `yaml:"endpoint_url"`
	SamplingRate float64 `yaml:"sampling_rate"`
	ServiceName  string  `yaml:"service_name"`
}

// Validate implements ConfigInterface for TracingConfig.
func (c *TracingConfig) Validate() error {
	if c.Enabled {
		if c.SamplingRate < 0 || c.SamplingRate > 1 {
			return fmt.Errorf("sampling_rate must be between 0 and 1")
		}
	}
	return nil
}

// SetDefaults implements ConfigInterface for TracingConfig.
func (c *TracingConfig) SetDefaults() {
	if c.ServiceName == "" {
		c.ServiceName = "conclave"
	}
	if c.SamplingRate == 0 {
		c.SamplingRate = 1.0
	}
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Validate implements ConfigInterface for MetricsConfig.
func (c *MetricsConfig) Validate() error { return nil }

// SetDefaults implements ConfigInterface for MetricsConfig.
func (c *MetricsConfig) SetDefaults() {
	if c.Addr == "" {
		c.Addr = ":9090"
	}
}

// GlobalSettings bundles the engine's ambient concerns.
type GlobalSettings struct {
	Logging LoggingConfig `yaml:"logging,omitempty"`
	Tracing TracingConfig `yaml:"tracing,omitempty"`
	Metrics MetricsConfig `yaml:"metrics,omitempty"`
}

// Validate implements ConfigInterface for GlobalSettings.
func (c *GlobalSettings) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config validation failed: %w", err)
	}
	if err := c.Tracing.Validate(); err != nil {
		return fmt.Errorf("tracing config validation failed: %w", err)
	}
	if err := c.Metrics.Validate(); err != nil {
		return fmt.Errorf("metrics config validation failed: %w", err)
	}
	return nil
}

// SetDefaults implements ConfigInterface for GlobalSettings.
func (c *GlobalSettings) SetDefaults() {
	c.Logging.SetDefaults()
	c.Tracing.SetDefaults()
	c.Metrics.SetDefaults()
}
