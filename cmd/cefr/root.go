package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/ahrav/go-cefr/infrastructure/artifacts"
	"github.com/ahrav/go-cefr/internal/application"
	"github.com/ahrav/go-cefr/internal/logger"
	"github.com/ahrav/go-cefr/internal/ports"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cefr",
		Short: "CEFR text-level ensemble classifier",
		Long: "cefr estimates the CEFR proficiency level of an English text by combining " +
			"a naive Bayes model, a doc2vec network and a fine-tuned transformer.",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "Path to YAML config file (overrides CEFR_CONFIG env var)")
	root.PersistentFlags().String("log-level", "", "Log level: debug, info, warn or error (overrides config)")

	root.AddCommand(newServeCmd())
	root.AddCommand(newPredictCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the root command.
func Execute() error {
	return newRootCmd().Execute()
}

// resolveConfigPath returns the config path using --config (highest
// priority), then CEFR_CONFIG. An empty result means built-in defaults.
func resolveConfigPath(cmd *cobra.Command) string {
	if p, _ := cmd.Flags().GetString("config"); p != "" {
		return p
	}
	return os.Getenv(application.EnvConfigPath)
}

// setup loads configuration and builds the logger. The returned cleanup
// closes the log file, if any.
func setup(cmd *cobra.Command) (*application.Config, *slog.Logger, func(), error) {
	loader, err := application.NewConfigLoader(application.BuiltinSourceTypes())
	if err != nil {
		return nil, nil, nil, err
	}

	cfg, err := loader.LoadFile(resolveConfigPath(cmd))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Logging.Level = lvl
	}

	backups := cfg.Logging.MaxBackups
	if backups == 0 {
		backups = -1
	}
	log, _, closer, err := logger.New(cmd.ErrOrStderr(), logger.Options{
		Level:        cfg.Logging.Level,
		Format:       cfg.Logging.Format,
		File:         cfg.Logging.File,
		MaxSizeBytes: int64(cfg.Logging.MaxSizeMB) << 20,
		MaxBackups:   backups,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	slog.SetDefault(log)

	return cfg, log, func() { _ = closer.Close() }, nil
}

// buildEnsemble loads every configured source and assembles the ensemble.
// metrics may be nil.
func buildEnsemble(
	ctx context.Context,
	cfg *application.Config,
	log *slog.Logger,
	metrics ports.MetricsCollector,
) (*application.Ensemble, error) {
	regOpts := []application.RegistryOption{application.WithRegistryLogger(log)}
	ensOpts := []application.EnsembleOption{application.WithLogger(log)}
	if metrics != nil {
		regOpts = append(regOpts, application.WithRegistryMetrics(metrics))
		ensOpts = append(ensOpts, application.WithMetrics(metrics))
	}

	registry := application.NewSourceRegistry(artifacts.NewLoader(cfg.Artifacts.CacheDir), regOpts...)
	ens, err := application.NewEnsembleFromConfig(ctx, cfg, registry, ensOpts...)
	if err != nil {
		return nil, fmt.Errorf("build ensemble: %w", err)
	}
	return ens, nil
}
