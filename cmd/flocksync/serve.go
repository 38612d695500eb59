package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	bolt "go.etcd.io/bbolt"

	"github.com/flocksync/flocksync/pkg/api"
	"github.com/flocksync/flocksync/pkg/broker"
	"github.com/flocksync/flocksync/pkg/config"
	"github.com/flocksync/flocksync/pkg/dnschange"
	"github.com/flocksync/flocksync/pkg/instances"
	"github.com/flocksync/flocksync/pkg/lifecycle"
	"github.com/flocksync/flocksync/pkg/log"
	"github.com/flocksync/flocksync/pkg/metrics"
	"github.com/flocksync/flocksync/pkg/probe"
	"github.com/flocksync/flocksync/pkg/provider"
	"github.com/flocksync/flocksync/pkg/reconciler"
	"github.com/flocksync/flocksync/pkg/store"
	"github.com/flocksync/flocksync/pkg/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the controller",
	Long: `Run the full controller: the HTTP intake API for lifecycle events,
the periodic reconciliation scheduler, and the worker pool that drains
the task queue.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.Logging.Level),
			JSONOutput: cfg.Logging.JSON,
			Identifier: cfg.Logging.Identifier,
		})
		logger := log.WithComponent("serve")

		if cfg.Monitoring.MetricsEnabled {
			metrics.Init(cfg.Monitoring.MetricsNamespace)
		}

		if err := os.MkdirAll(cfg.Store.Path, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
		db, err := bolt.Open(filepath.Join(cfg.Store.Path, "flocksync.db"), 0600, nil)
		if err != nil {
			return fmt.Errorf("failed to open database: %w", err)
		}
		defer db.Close()

		st, err := store.NewBoltStoreWithDB(db)
		if err != nil {
			return err
		}

		var taskBroker broker.Broker
		switch cfg.Broker.Provider {
		case "bolt":
			queueDB := db
			if cfg.Broker.Endpoint != "" {
				queueDB, err = bolt.Open(cfg.Broker.Endpoint, 0600, nil)
				if err != nil {
					return fmt.Errorf("failed to open queue database: %w", err)
				}
				defer queueDB.Close()
			}
			taskBroker, err = broker.NewBoltBroker(queueDB, cfg.Broker.MaxAttempts)
			if err != nil {
				return fmt.Errorf("failed to open task queue: %w", err)
			}
		default:
			taskBroker = broker.NewMemoryBroker(cfg.Broker.MaxAttempts)
		}
		defer taskBroker.Close()

		registry := buildRegistry(cfg)
		source := instances.NewMemorySource()
		evaluator := probe.NewEvaluator()
		applier := &dnschange.Applier{
			Registry:       registry,
			WhatIf:         cfg.Reconciliation.WhatIf,
			MetricsEnabled: cfg.Monitoring.MetricsEnabled,
		}
		loader := configLoader(st, cfg)

		handler := &lifecycle.Handler{
			Configs:           loader,
			Source:            source,
			Evaluator:         evaluator,
			Applier:           applier,
			Acknowledger:      lifecycle.NewLogAcknowledger(),
			ReadinessDefaults: cfg.Readiness.Spec(),
			ValidStates:       cfg.Reconciliation.ValidStates,
			DefaultResult:     types.ActionContinue,
			WhatIf:            cfg.Reconciliation.WhatIf,
			MetricsEnabled:    cfg.Monitoring.MetricsEnabled,
		}

		engine := &reconciler.Engine{
			Configs:           loader,
			Source:            source,
			Evaluator:         evaluator,
			Applier:           applier,
			ReadinessDefaults: cfg.Readiness.Spec(),
			ValidStates:       cfg.Reconciliation.ValidStates,
			MetricsEnabled:    cfg.Monitoring.MetricsEnabled,
		}

		runner := reconciler.NewRunner(engine, taskBroker, cfg.Reconciliation.MaxConcurrency, cfg.Monitoring.MetricsEnabled)
		runner.Start()
		logger.Info().Int("workers", cfg.Reconciliation.MaxConcurrency).Msg("reconciliation workers started")

		interval := time.Duration(cfg.Reconciliation.IntervalSeconds) * time.Second
		scheduler := reconciler.NewScheduler(loader, taskBroker, interval)
		scheduler.Start()
		logger.Info().Dur("interval", interval).Msg("scheduler started")

		server := api.NewServer(cfg.API.ListenAddr, handler, taskBroker, source)
		errCh := make(chan error, 2)
		go func() {
			if err := server.Start(); err != nil {
				errCh <- fmt.Errorf("intake API error: %w", err)
			}
		}()

		var metricsSrv *http.Server
		if cfg.Monitoring.MetricsEnabled {
			mux := http.NewServeMux()
			mux.Handle("/metrics", metrics.Handler())
			metricsSrv = &http.Server{Addr: cfg.Monitoring.MetricsAddr, Handler: mux}
			go func() {
				logger.Info().Str("addr", cfg.Monitoring.MetricsAddr).Msg("metrics endpoint listening")
				if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					errCh <- fmt.Errorf("metrics endpoint error: %w", err)
				}
			}()
		}

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case sig := <-sigCh:
			logger.Info().Str("signal", sig.String()).Msg("shutting down")
		case err := <-errCh:
			logger.Error().Err(err).Msg("server failed")
		}

		scheduler.Stop()
		runner.Stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("intake API shutdown failed")
		}
		if metricsSrv != nil {
			if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
				logger.Error().Err(err).Msg("metrics endpoint shutdown failed")
			}
		}

		logger.Info().Msg("shutdown complete")
		return nil
	},
}

// buildRegistry registers the configured DNS backends, each wrapped with
// throttle-aware retries. The memory backend is always available so configs
// can be exercised without touching a real zone.
func buildRegistry(cfg *config.Config) *provider.Registry {
	registry := provider.NewRegistry()
	registry.Register("memory", provider.WithRetry(provider.NewMemoryProvider(), provider.DefaultRetryConfig()))

	if cfg.Providers.RFC2136.Server != "" {
		p := provider.NewRFC2136Provider(provider.RFC2136Config{
			Server:      cfg.Providers.RFC2136.Server,
			TSIGKeyName: cfg.Providers.RFC2136.TSIGKeyName,
			TSIGSecret:  cfg.Providers.RFC2136.TSIGSecret,
			TSIGAlgo:    cfg.Providers.RFC2136.TSIGAlgo,
		})
		registry.Register("rfc2136", provider.WithRetry(p, provider.DefaultRetryConfig()))
	}
	return registry
}

// configLoader binds the store and the two well-known keys into the loader
// shape the handler and engine consume.
func configLoader(st store.Store, cfg *config.Config) lifecycle.ConfigLoader {
	return func(ctx context.Context) ([]types.GroupRecordConfig, error) {
		return store.LoadGroupConfigs(ctx, st, cfg.Store.DeclaredKey, cfg.Store.OverrideKey)
	}
}
