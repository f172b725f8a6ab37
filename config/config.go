// Package config provides configuration types and utilities for the
// agent-execution engine. This file contains the main unified
// configuration entry point.
package config

import (
	"fmt"
	"os"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Config represents the complete engine configuration: the single entry
// point loaded at boot, analogous to docker-compose.yml for this runtime.
type Config struct {
	Version     string            `yaml:"version,omitempty"`
	Name        string            `yaml:"name,omitempty"`
	Description string            `yaml:"description,omitempty"`
	Metadata    map[string]string `yaml:"metadata,omitempty"`

	Global GlobalSettings `yaml:"global,omitempty"`
	Engine EngineConfig   `yaml:"engine,omitempty"`

	LLMs map[string]LLMConfig `yaml:"llms,omitempty"`

	ProfilesDir string `yaml:"profiles_dir,omitempty"`
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if err := c.Global.Validate(); err != nil {
		return fmt.Errorf("global settings validation failed: %w", err)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("engine settings validation failed: %w", err)
	}
	for name, llm := range c.LLMs {
		if err := llm.Validate(); err != nil {
			return fmt.Errorf("LLM '%s' validation failed: %w", name, err)
		}
	}
	if c.ProfilesDir == "" {
		return fmt.Errorf("profiles_dir is required")
	}
	return nil
}

// SetDefaults fills in unset fields with the engine's documented defaults.
func (c *Config) SetDefaults() {
	c.Global.SetDefaults()
	c.Engine.SetDefaults()

	if c.LLMs == nil {
		c.LLMs = make(map[string]LLMConfig)
	}
	for name := range c.LLMs {
		llm := c.LLMs[name]
		llm.SetDefaults()
		c.LLMs[name] = llm
	}
}

// LoadConfig loads the complete configuration from a YAML file. Environment
// variables are expanded in the raw bytes before parsing (${VAR},
// ${VAR:-default}, $VAR), then the document is decoded twice: once via
// yaml.v3 into a generic map so mapstructure can tolerantly project it onto
// Config, absorbing unknown keys without requiring an ,inline catch-all on
// every nested type.
func LoadConfig(filePath string) (*Config, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("config: reading %q: %w", filePath, err)
	}
	return LoadConfigFromString(string(data))
}

// LoadConfigFromString loads configuration from a YAML string.
func LoadConfigFromString(yamlContent string) (*Config, error) {
	expanded := ExpandEnvVars(yamlContent)

	var raw map[string]any
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("config: parsing yaml: %w", err)
	}

	var cfg Config
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &cfg,
		WeaklyTypedInput: true,
		TagName:          "yaml",
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			millisToDurationHookFunc(),
		),
	})
	if err != nil {
		return nil, fmt.Errorf("config: building decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("config: decoding: %w", err)
	}

	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation failed: %w", err)
	}
	return &cfg, nil
}

// millisToDurationHookFunc interprets a bare numeric value decoding into a
// time.Duration field as a millisecond count, matching the "_ms" suffix on
// every duration key in config.yaml (llm_call_timeout_ms: 5000 means 5s).
// Runs after StringToTimeDurationHookFunc, so a duration string like "30s"
// is left alone; only a raw YAML number is reinterpreted.
func millisToDurationHookFunc() mapstructure.DecodeHookFunc {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != durationType || from == durationType {
			return data, nil
		}
		switch from.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return time.Duration(reflect.ValueOf(data).Int()) * time.Millisecond, nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return time.Duration(reflect.ValueOf(data).Uint()) * time.Millisecond, nil
		case reflect.Float32, reflect.Float64:
			return time.Duration(reflect.ValueOf(data).Float() * float64(time.Millisecond)), nil
		default:
			return data, nil
		}
	}
}
