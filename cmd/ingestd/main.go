// Command ingestd runs the ingestion HTTP service. It loads the TOML
// config, opens the configured storage backend, optionally wires a metrics
// backend, and serves uploads.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"ingest/internal/config"
	"ingest/internal/metrics"
	"ingest/internal/metrics/datadog"
	"ingest/internal/pipeline"
	"ingest/internal/server"
	"ingest/internal/storage"

	// register all backends with the storage factory. The config selects
	// which one to use, but the binary supports all of them.
	_ "ingest/internal/storage/all"
)

func main() {
	var (
		cfgPath           string
		metricsBackendFlg string
		validate          bool
	)

	flag.StringVar(&cfgPath, "config", "configs/ingest.toml", "service config TOML path")
	flag.StringVar(&metricsBackendFlg, "metrics-backend", "", "metrics backend override (datadog, none)")
	flag.BoolVar(&validate, "validate", false, "validate the configuration and exit")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fatalf("load config: %v", err)
	}

	issues := cfg.Validate(storage.Kinds())
	for _, iss := range issues {
		fmt.Fprintf(os.Stderr, "%s\n", iss)
	}
	if config.HasErrors(issues) {
		log.Printf("configuration is invalid: %v", cfgPath)
		os.Exit(1)
	}
	if validate {
		log.Printf("configuration is valid: %v", cfgPath)
		os.Exit(0)
	}

	setupMetrics(cfg, metricsBackendFlg)

	ctx := context.Background()
	repo, err := storage.New(ctx, storage.Config{Kind: cfg.Storage.Kind, DSN: cfg.Storage.DSN})
	if err != nil {
		fatalf("open storage backend %q: %v", cfg.Storage.Kind, err)
	}
	defer repo.Close()

	runner := &pipeline.Runner{
		Repo:           repo,
		BatchSize:      cfg.Pipeline.BatchSize,
		IdentityFields: cfg.Pipeline.IdentityFields,
		SampleSize:     cfg.Pipeline.SampleSize,
	}

	router := server.New(runner).SetupRouter()
	log.Printf("ingestd: storage=%s listening on %s", cfg.Storage.Kind, cfg.Server.Addr)
	if err := router.Run(cfg.Server.Addr); err != nil {
		fatalf("serve: %v", err)
	}
}

// setupMetrics wires the metrics backend. Backend selection is
// flag over config, and an init failure degrades to the no-op backend
// rather than blocking startup.
func setupMetrics(cfg *config.Config, flagBackend string) {
	backendName := flagBackend
	if backendName == "" {
		backendName = cfg.Metrics.Backend
	}

	switch backendName {
	case "datadog":
		jobName := cfg.Metrics.Job
		if jobName == "" {
			jobName = "ingest"
		}
		tags := cfg.Metrics.Tags
		if env := os.Getenv("METRICS_TAGS"); env != "" {
			tags = append(tags, datadog.ParseTagsCSV(env)...)
		}
		flushEvery := time.Duration(cfg.Metrics.FlushSeconds) * time.Second

		b, err := datadog.NewBackend(context.Background(), datadog.Options{
			JobName:    jobName,
			Tags:       tags,
			FlushEvery: flushEvery,
		})
		if err != nil {
			log.Printf("metrics: failed to init datadog backend: %v; using nop", err)
			return
		}
		log.Printf("metrics: backend=datadog job=%s tags=%v", jobName, tags)
		metrics.SetBackend(b)

	case "", "none":
		// metrics disabled; nop backend remains

	default:
		log.Printf("metrics: unknown backend %q; using nop", backendName)
	}
}

func fatalf(format string, args ...any) {
	log.Printf(format, args...)
	os.Exit(1)
}
