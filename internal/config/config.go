// Package config loads and validates the roundhouse runtime
// configuration.
//
// Configuration is a YAML file with a small set of global keys and a
// modules map carrying per-module key/value sections. Files are decoded
// strictly (unknown global keys are typos, not extensions) and validated
// against an embedded CUE schema before use.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"gopkg.in/yaml.v3"
)

// schemaCUE is the authoritative shape of the configuration file.
// close() rejects unknown global keys; module sections are free-form
// maps interpreted by the owning module.
const schemaCUE = `
close({
	log_level?:   "debug" | "info" | "warn" | "error"
	failure_log?: string
	fault_store?: string
	modules?: {
		[string]: {[string]: _}
	}
})
`

// Config is the parsed runtime configuration.
type Config struct {
	// LogLevel selects the slog level; empty means info.
	LogLevel string `yaml:"log_level"`

	// FailureLog is the append-only text failure sink path; empty
	// disables it.
	FailureLog string `yaml:"failure_log"`

	// FaultStore is the SQLite fault store path; empty disables it.
	FaultStore string `yaml:"fault_store"`

	// Modules maps module name to its configuration section.
	Modules map[string]map[string]any `yaml:"modules"`
}

// Default returns an empty configuration with defaults applied.
func Default() *Config {
	return &Config{}
}

// Load reads, decodes, and validates the configuration at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates configuration bytes.
func Parse(data []byte) (*Config, error) {
	// Generic decode first, for schema validation with full fidelity.
	var raw map[string]any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}
	if raw == nil {
		raw = map[string]any{}
	}
	if err := validate(raw); err != nil {
		return nil, err
	}

	// Strict typed decode (catches type mismatches the schema allows
	// through `_` module values).
	var cfg Config
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return &cfg, nil
}

// validate checks the raw document against the embedded CUE schema.
func validate(raw map[string]any) error {
	ctx := cuecontext.New()

	schema := ctx.CompileString(schemaCUE)
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}

	value := ctx.Encode(raw)
	if err := value.Err(); err != nil {
		return fmt.Errorf("encode config for validation: %w", err)
	}

	unified := schema.Unify(value)
	if err := unified.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// Module returns the configuration section for a module, never nil.
func (c *Config) Module(name string) map[string]any {
	if c.Modules == nil {
		return map[string]any{}
	}
	section, ok := c.Modules[name]
	if !ok {
		return map[string]any{}
	}
	return section
}

// Get returns the per-module item for key, or def when unset.
func (c *Config) Get(moduleName, key string, def any) any {
	if v, ok := c.Module(moduleName)[key]; ok {
		return v
	}
	return def
}

// GetInt returns the per-module item as an int, or def when unset or not
// an integer. YAML decodes integers as int.
func (c *Config) GetInt(moduleName, key string, def int) int {
	switch v := c.Get(moduleName, key, def).(type) {
	case int:
		return v
	case int64:
		return int(v)
	default:
		return def
	}
}

// GetString returns the per-module item as a string, or def.
func (c *Config) GetString(moduleName, key string, def string) string {
	if v, ok := c.Get(moduleName, key, def).(string); ok {
		return v
	}
	return def
}

// SlogLevel maps the configured log level to a slog.Level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
