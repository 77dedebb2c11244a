package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ingest.toml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

// TestLoadExpandsEnvAndDefaults verifies TOML parsing, ${VAR} expansion in
// the DSN, and default filling of unset fields.
func TestLoadExpandsEnvAndDefaults(t *testing.T) {
	t.Setenv("INGEST_TEST_PG_PASS", "s3cret")

	path := writeConfig(t, `
[storage]
kind = "postgres"
dsn = "postgres://ingest:${INGEST_TEST_PG_PASS}@db:5432/ingest"

[pipeline]
batch_size = 250
identity_fields = ["id", "region"]
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Storage.DSN != "postgres://ingest:s3cret@db:5432/ingest" {
		t.Fatalf("dsn = %q", cfg.Storage.DSN)
	}
	if cfg.Pipeline.BatchSize != 250 {
		t.Fatalf("batch_size = %d", cfg.Pipeline.BatchSize)
	}
	if cfg.Server.Addr != ":8080" {
		t.Fatalf("default addr = %q", cfg.Server.Addr)
	}
	if cfg.Pipeline.SampleSize != 5 {
		t.Fatalf("default sample_size = %d", cfg.Pipeline.SampleSize)
	}
	if cfg.Metrics.Backend != "none" {
		t.Fatalf("default metrics backend = %q", cfg.Metrics.Backend)
	}
}

// TestLoadRejectsBadFile verifies missing files and TOML syntax errors fail
// loudly.
func TestLoadRejectsBadFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.toml")); err == nil {
		t.Fatal("expected error for missing file")
	}
	path := writeConfig(t, "[storage\nkind=")
	if _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid TOML")
	}
}

// TestValidate covers the error and warning findings.
func TestValidate(t *testing.T) {
	t.Parallel()

	kinds := []string{"memory", "sqlite", "postgres"}

	tests := []struct {
		name       string
		mutate     func(*Config)
		wantErrs   bool
		wantIssues int
	}{
		{
			name:     "default config is valid",
			mutate:   func(c *Config) {},
			wantErrs: false,
		},
		{
			name: "unknown storage kind",
			mutate: func(c *Config) {
				c.Storage.Kind = "oracle"
			},
			wantErrs: true,
		},
		{
			name: "missing dsn for sql backend",
			mutate: func(c *Config) {
				c.Storage.Kind = "postgres"
			},
			wantErrs: true,
		},
		{
			name: "unexpanded dsn variable warns",
			mutate: func(c *Config) {
				c.Storage.Kind = "postgres"
				c.Storage.DSN = "postgres://x:${MISSING}@db/ingest"
			},
			wantErrs:   false,
			wantIssues: 1,
		},
		{
			name: "bad batch size",
			mutate: func(c *Config) {
				c.Pipeline.BatchSize = -1
			},
			wantErrs: true,
		},
		{
			name: "empty identity field",
			mutate: func(c *Config) {
				c.Pipeline.IdentityFields = []string{"id", "  "}
			},
			wantErrs: true,
		},
		{
			name: "unknown metrics backend",
			mutate: func(c *Config) {
				c.Metrics.Backend = "statsd"
			},
			wantErrs: true,
		},
		{
			name: "tag without colon warns",
			mutate: func(c *Config) {
				c.Metrics.Tags = []string{"prod"}
			},
			wantErrs:   false,
			wantIssues: 1,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tc.mutate(cfg)
			issues := cfg.Validate(kinds)
			if got := HasErrors(issues); got != tc.wantErrs {
				t.Fatalf("HasErrors = %v, want %v (issues: %v)", got, tc.wantErrs, issues)
			}
			if tc.wantIssues != 0 && len(issues) != tc.wantIssues {
				t.Fatalf("got %d issues, want %d: %v", len(issues), tc.wantIssues, issues)
			}
		})
	}
}
