// Package config loads and validates the service configuration.
//
// Configuration is a TOML file. Secrets stay out of it: string values may
// reference environment variables with ${VAR} syntax, expanded at load time,
// and a .env file in the working directory is honored when present.
package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

type ServerConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string `toml:"addr"`
}

type StorageConfig struct {
	// Kind selects the storage backend: "memory", "sqlite", "postgres",
	// "mssql", "mongo".
	Kind string `toml:"kind"`

	// DSN is the backend connection string. ${VAR} references are expanded
	// from the environment.
	DSN string `toml:"dsn"`
}

type PipelineConfig struct {
	// BatchSize is the number of records per processing batch.
	BatchSize int `toml:"batch_size"`

	// IdentityFields name the record fields that form the identity key.
	IdentityFields []string `toml:"identity_fields"`

	// SampleSize is how many transformed records the upload response echoes
	// back for inspection.
	SampleSize int `toml:"sample_size"`
}

type MetricsConfig struct {
	// Backend selects the metrics backend: "none" or "datadog".
	Backend string `toml:"backend"`

	// Job tags every metric with job:<name>.
	Job string `toml:"job"`

	// Tags are extra tags in "key:value" form.
	Tags []string `toml:"tags"`

	// FlushSeconds is the submit interval for buffering backends.
	FlushSeconds int `toml:"flush_seconds"`
}

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Storage  StorageConfig  `toml:"storage"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Metrics  MetricsConfig  `toml:"metrics"`
}

// Default returns the configuration used when no file is given: an
// in-memory store and a local listen address, suitable for development.
func Default() *Config {
	return &Config{
		Server:   ServerConfig{Addr: ":8080"},
		Storage:  StorageConfig{Kind: "memory"},
		Pipeline: PipelineConfig{BatchSize: 100, SampleSize: 5},
		Metrics:  MetricsConfig{Backend: "none"},
	}
}

// Load reads a TOML config file, expands ${VAR} references, and fills
// unset fields with defaults. A .env file next to the process is loaded
// first so expansion sees it.
func Load(path string) (*Config, error) {
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}

	cfg := Default()
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %q: %w", path, err)
	}

	cfg.Storage.DSN = os.ExpandEnv(cfg.Storage.DSN)
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	d := Default()
	if c.Server.Addr == "" {
		c.Server.Addr = d.Server.Addr
	}
	if c.Storage.Kind == "" {
		c.Storage.Kind = d.Storage.Kind
	}
	if c.Pipeline.BatchSize == 0 {
		c.Pipeline.BatchSize = d.Pipeline.BatchSize
	}
	if c.Pipeline.SampleSize == 0 {
		c.Pipeline.SampleSize = d.Pipeline.SampleSize
	}
	if c.Metrics.Backend == "" {
		c.Metrics.Backend = d.Metrics.Backend
	}
}

// Issue is one validation finding. Severity is "error" or "warning";
// only errors make a config unusable.
type Issue struct {
	Severity string
	Path     string
	Message  string
}

func (i Issue) String() string {
	return fmt.Sprintf("%s %s: %s", i.Severity, i.Path, i.Message)
}

// Validate checks the configuration and returns all findings at once, so
// an operator fixes a broken file in one try instead of one field per run.
func (c *Config) Validate(knownKinds []string) []Issue {
	var issues []Issue

	addErr := func(path, msg string) {
		issues = append(issues, Issue{Severity: "error", Path: path, Message: msg})
	}
	addWarn := func(path, msg string) {
		issues = append(issues, Issue{Severity: "warning", Path: path, Message: msg})
	}

	if c.Server.Addr == "" {
		addErr("server.addr", "listen address is required")
	}

	kindKnown := false
	for _, k := range knownKinds {
		if k == c.Storage.Kind {
			kindKnown = true
			break
		}
	}
	if !kindKnown {
		addErr("storage.kind", fmt.Sprintf("unknown backend %q (have: %s)",
			c.Storage.Kind, strings.Join(knownKinds, ", ")))
	}
	if c.Storage.Kind != "memory" && c.Storage.DSN == "" {
		addErr("storage.dsn", fmt.Sprintf("backend %q requires a DSN", c.Storage.Kind))
	}
	if strings.Contains(c.Storage.DSN, "${") {
		addWarn("storage.dsn", "contains an unexpanded ${VAR} reference")
	}

	if c.Pipeline.BatchSize <= 0 {
		addErr("pipeline.batch_size", "must be positive")
	}
	if c.Pipeline.SampleSize < 0 {
		addErr("pipeline.sample_size", "must not be negative")
	}
	for i, f := range c.Pipeline.IdentityFields {
		if strings.TrimSpace(f) == "" {
			addErr(fmt.Sprintf("pipeline.identity_fields[%d]", i), "empty field name")
		}
	}

	switch c.Metrics.Backend {
	case "none", "datadog":
	default:
		addErr("metrics.backend", fmt.Sprintf("unknown backend %q", c.Metrics.Backend))
	}
	if c.Metrics.FlushSeconds < 0 {
		addErr("metrics.flush_seconds", "must not be negative")
	}
	for i, tag := range c.Metrics.Tags {
		if !strings.Contains(tag, ":") {
			addWarn(fmt.Sprintf("metrics.tags[%d]", i), fmt.Sprintf("tag %q has no key:value form", tag))
		}
	}

	return issues
}

// HasErrors reports whether any issue is an error rather than a warning.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == "error" {
			return true
		}
	}
	return false
}
