package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-cefr/infrastructure/metrics"
	"github.com/ahrav/go-cefr/internal/ports"
	"github.com/ahrav/go-cefr/internal/server"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP prediction service",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "", "Listen address (overrides server.addr and PORT)")
	cmd.Flags().String("static-dir", "", "Serve a built frontend from this directory (overrides server.static_dir)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, cleanup, err := setup(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if dir, _ := cmd.Flags().GetString("static-dir"); dir != "" {
		cfg.Server.StaticDir = dir
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var collector ports.MetricsCollector
	srvOpts := []server.Option{server.WithLogger(log)}
	if cfg.Metrics.Enabled {
		var promOpts []metrics.Option
		if cfg.Metrics.Namespace != "" {
			promOpts = append(promOpts, metrics.WithNamespace(cfg.Metrics.Namespace))
		}
		if cfg.Metrics.RuntimeCollectors {
			promOpts = append(promOpts, metrics.WithRuntimeCollectors())
		}
		pm := metrics.NewPrometheusMetrics(promOpts...)
		pm.OnError = func(err error) { log.Warn("metric registration failed", "error", err) }
		collector = pm
		srvOpts = append(srvOpts, server.WithMetrics(pm), server.WithMetricsHandler(cfg.Metrics.Path, pm.Handler()))
	}

	log.Info("loading prediction sources",
		"count", len(cfg.Sources),
		"cache_dir", cfg.Artifacts.CacheDir,
	)
	ens, err := buildEnsemble(ctx, cfg, log, collector)
	if err != nil {
		return err
	}

	srv, err := server.New(ens, cfg.Server, srvOpts...)
	if err != nil {
		return err
	}

	log.Info("starting server",
		"addr", srv.Addr(),
		"api_prefix", cfg.Server.APIPrefix,
		"sources", ens.SourceNames(),
		"cors", cfg.Server.CORS,
	)
	if err := srv.Start(ctx); err != nil {
		return fmt.Errorf("serve: %w", err)
	}
	log.Info("server stopped")
	return nil
}
