package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/redactd/internal/admission"
	"github.com/fyrsmithlabs/redactd/internal/audit"
	"github.com/fyrsmithlabs/redactd/internal/config"
	"github.com/fyrsmithlabs/redactd/internal/detectors/pattern"
	"github.com/fyrsmithlabs/redactd/internal/detectors/remote"
	"github.com/fyrsmithlabs/redactd/internal/detectors/secrets"
	"github.com/fyrsmithlabs/redactd/internal/extraction"
	"github.com/fyrsmithlabs/redactd/internal/fanout"
	"github.com/fyrsmithlabs/redactd/internal/logging"
	"github.com/fyrsmithlabs/redactd/internal/scheduler"
	"github.com/fyrsmithlabs/redactd/internal/server"
	"github.com/fyrsmithlabs/redactd/internal/syncres"
	"github.com/fyrsmithlabs/redactd/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the redactd HTTP server",
	Long: `Start the redactd daemon with the configured detection engines.

Examples:
  # Start with defaults
  redactd serve

  # Start with a config file
  redactd serve --config /etc/redactd/config.yaml

  # Override via environment
  REDACTD_SERVER_PORT=8080 redactd serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWithFile(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetryConfig(cfg))
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}

	logger, err := buildLogger(cfg, tel)
	if err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	if _, herr := tel.Health(); herr != nil {
		logger.Warn(ctx, "telemetry degraded, continuing without export",
			zap.Error(herr))
	}

	srv, err := buildServer(ctx, cfg, logger, tel)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.Error(ctx, "server failed", zap.Error(err))
			return err
		}
	case <-ctx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(),
		cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error(shutdownCtx, "server shutdown failed", zap.Error(err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		logger.Warn(shutdownCtx, "telemetry shutdown failed", zap.Error(err))
	}

	logger.Info(shutdownCtx, "shutdown complete")
	return nil
}

// telemetryConfig maps the file schema onto the telemetry package config.
func telemetryConfig(cfg *config.Config) telemetry.Config {
	tcfg := telemetry.NewDefaultConfig()
	tcfg.Enabled = cfg.Telemetry.Enabled
	if cfg.Telemetry.Endpoint != "" {
		tcfg.Endpoint = cfg.Telemetry.Endpoint
	}
	if cfg.Telemetry.Protocol != "" {
		tcfg.Protocol = cfg.Telemetry.Protocol
	}
	tcfg.Insecure = cfg.Telemetry.Insecure
	tcfg.Sampling.Rate = cfg.Telemetry.SamplingRate
	tcfg.ServiceVersion = version
	return tcfg
}

// buildLogger maps the file schema onto the logging package config and
// routes logs through the OTLP pipeline when telemetry is up.
func buildLogger(cfg *config.Config, tel *telemetry.Telemetry) (*logging.Logger, error) {
	lcfg := logging.NewDefaultConfig()
	level, err := logging.LevelFromString(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}
	lcfg.Level = level
	lcfg.Format = cfg.Logging.Format
	lcfg.Output.OTEL = tel.IsEnabled()
	return logging.NewLogger(lcfg, tel.LoggerProvider())
}

// buildServer wires the detection engines, fan-out, and HTTP server.
func buildServer(ctx context.Context, cfg *config.Config, logger *logging.Logger, tel *telemetry.Telemetry) (*server.Server, error) {
	syncMetrics, err := syncres.NewMetrics(tel.Meter("syncres"))
	if err != nil {
		return nil, fmt.Errorf("syncres metrics: %w", err)
	}
	registry := syncres.NewRegistry("redactd",
		syncres.WithLogger(logger.Named("syncres")),
		syncres.WithMetrics(syncMetrics),
	)

	admMetrics, err := admission.NewMetrics(tel.Meter("admission"))
	if err != nil {
		return nil, fmt.Errorf("admission metrics: %w", err)
	}
	ctrl, err := admission.NewController(admission.Config{
		MaxDaily:      cfg.Admission.MaxDaily,
		MaxConcurrent: cfg.Admission.MaxConcurrent,
		MinDelay:      cfg.Admission.MinDelay.Duration(),
		HistorySize:   cfg.Admission.HistorySize,
	},
		admission.WithLogger(logger.Named("admission")),
		admission.WithMetrics(admMetrics),
		admission.WithRegistry(registry),
	)
	if err != nil {
		return nil, fmt.Errorf("admission controller: %w", err)
	}

	f, err := buildFanout(ctx, cfg, logger, tel, ctrl)
	if err != nil {
		return nil, err
	}

	srv, err := server.NewServer(f, extraction.PlainText{}, logger.Named("http"),
		server.Config{
			Host:            cfg.Server.Host,
			Port:            cfg.Server.Port,
			ShutdownTimeout: cfg.Server.ShutdownTimeout.Duration(),
		},
		server.WithAdmission(ctrl),
		server.WithHealthCheck(tel.Health),
	)
	if err != nil {
		return nil, fmt.Errorf("http server: %w", err)
	}
	return srv, nil
}

// buildFanout constructs the fan-out with every enabled engine registered.
func buildFanout(ctx context.Context, cfg *config.Config, logger *logging.Logger, tel *telemetry.Telemetry, ctrl *admission.Controller) (*fanout.Fanout, error) {
	schedMetrics, err := scheduler.NewMetrics(tel.Meter("scheduler"))
	if err != nil {
		return nil, fmt.Errorf("scheduler metrics: %w", err)
	}
	auditSink, err := audit.NewMetricSink(tel.Meter("audit"))
	if err != nil {
		return nil, fmt.Errorf("audit sink: %w", err)
	}

	f := fanout.New(
		fanout.WithEngineTimeout(cfg.Fanout.EngineTimeout.Duration()),
		fanout.WithLogger(logger.Named("fanout")),
		fanout.WithTracer(tel.Tracer("fanout")),
		fanout.WithAuditSink(auditSink),
		fanout.WithSchedulerMetrics(schedMetrics),
	)

	if cfg.Detectors.Pattern.Enabled {
		if err := registerPattern(ctx, cfg.Detectors.Pattern, f, logger); err != nil {
			return nil, err
		}
	}

	if cfg.Detectors.Secrets.Enabled {
		allow, err := secrets.LoadAllowlists(
			cfg.Detectors.Secrets.ProjectPath,
			cfg.Detectors.Secrets.UserAllowlist,
		)
		if err != nil {
			return nil, fmt.Errorf("loading secret allowlists: %w", err)
		}
		det, err := secrets.NewDetector(allow)
		if err != nil {
			return nil, fmt.Errorf("secrets detector: %w", err)
		}
		f.RegisterBlocking(det)
	}

	if cfg.Detectors.Remote.Enabled {
		det, err := remote.NewDetector(remote.Config{
			Endpoint:          cfg.Detectors.Remote.Endpoint,
			APIKey:            cfg.Detectors.Remote.APIKey,
			Timeout:           cfg.Detectors.Remote.Timeout.Duration(),
			MaxPayload:        cfg.Detectors.Remote.MaxPayload,
			RequestsPerSecond: cfg.Detectors.Remote.RequestsPerS,
			Burst:             cfg.Detectors.Remote.Burst,
		},
			remote.WithLogger(logger.Named("remote")),
			remote.WithAdmission(ctrl),
		)
		if err != nil {
			return nil, fmt.Errorf("remote detector: %w", err)
		}
		f.Register(det)
	}

	logger.Info(ctx, "detection engines registered",
		zap.Strings("engines", f.EngineNames()))
	return f, nil
}

// registerPattern builds the regex engine and, when a rules file is
// configured, reloads it on change.
func registerPattern(ctx context.Context, cfg config.PatternConfig, f *fanout.Fanout, logger *logging.Logger) error {
	rules := pattern.DefaultRules()
	if cfg.RulesFile != "" {
		loaded, err := pattern.LoadRules(cfg.RulesFile)
		if err != nil {
			return fmt.Errorf("loading pattern rules: %w", err)
		}
		rules = loaded
	}

	det, err := pattern.NewDetector(rules, pattern.WithLogger(logger.Named("pattern")))
	if err != nil {
		return fmt.Errorf("pattern detector: %w", err)
	}
	f.Register(det)

	if cfg.RulesFile != "" {
		watchLogger := logger.Named("pattern.watch")
		go func() {
			if err := pattern.WatchRules(ctx, det, cfg.RulesFile, watchLogger); err != nil {
				watchLogger.Warn(ctx, "rules watcher stopped", zap.Error(err))
			}
		}()
	}
	return nil
}
