package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/mender/internal/config"
	"github.com/fyrsmithlabs/mender/internal/eventlog"
	"github.com/fyrsmithlabs/mender/internal/handler"
	httpserver "github.com/fyrsmithlabs/mender/internal/http"
	"github.com/fyrsmithlabs/mender/internal/learning"
	"github.com/fyrsmithlabs/mender/internal/logging"
	"github.com/fyrsmithlabs/mender/internal/remediation"
	"github.com/fyrsmithlabs/mender/internal/telemetry"
)

// serve starts the daemon and blocks until SIGINT or SIGTERM.
//
// Startup order:
//  1. Loads and validates configuration
//  2. Initializes telemetry and the logger
//  3. Opens the log and pattern stores, NATS and the action catalog
//  4. Wires the learner, remediator and error handler
//  5. Serves HTTP and watches the config file for policy changes
func serve(ctx context.Context, path string) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadWithFile(path)
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	tel, err := telemetry.New(ctx, telemetry.FromObservability(cfg.Observability, version), nil)
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		_ = tel.Shutdown(shutdownCtx)
	}()

	logCfg, err := logging.FromObservability(cfg.Observability)
	if err != nil {
		return fmt.Errorf("invalid logging configuration: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, tel.LoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zl := logger.Underlying()

	zl.Info("starting mender",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("logstore", cfg.LogStore.Backend),
		zap.String("patternstore", cfg.PatternStore.Backend),
		zap.Bool("telemetry", tel.IsEnabled()))

	deps, err := initDependencies(ctx, cfg, zl)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	srv, remediator, err := initServices(cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
		defer cancel()
		if deps.publisher != nil {
			if err := deps.publisher.Flush(shutdownCtx); err != nil {
				zl.Warn("failed to flush events", zap.Error(err))
			}
		}
		return srv.Shutdown(shutdownCtx)
	})

	if watchPath, ok := watchablePath(path); ok {
		g.Go(func() error {
			err := config.Watch(gctx, watchPath, zl, func(next *config.Config) {
				if err := remediator.SetPolicy(policyFromConfig(next.Engine)); err != nil {
					zl.Warn("reloaded policy rejected", zap.Error(err))
					return
				}
				zl.Info("remediation policy updated",
					zap.Float64("min_confidence", next.Engine.MinConfidence),
					zap.Int("min_samples", next.Engine.MinSamples),
					zap.Duration("cooldown", next.Engine.Cooldown.Duration()))
			})
			if err != nil {
				zl.Warn("config watch stopped", zap.Error(err))
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	zl.Info("mender shutdown complete")
	return nil
}

// initServices wires the engine over the opened dependencies.
func initServices(cfg *config.Config, deps *dependencies, logger *logging.Logger) (*httpserver.Server, remediation.Service, error) {
	zl := logger.Underlying()

	eventLogger, err := eventlog.NewLogger(&eventlog.Config{Timeout: cfg.Engine.StoreTimeout.Duration()},
		deps.logStore, deps.redactor, zl.Named("eventlog"))
	if err != nil {
		return nil, nil, err
	}

	var observer learning.Observer
	recorder := remediation.MultiRecorder{remediation.NewLogRecorder(eventLogger)}
	if deps.publisher != nil {
		observer = deps.publisher
		recorder = append(recorder, deps.publisher)
	}

	learner, err := learning.NewLearner(&learning.Config{Timeout: cfg.Engine.StoreTimeout.Duration()},
		deps.patterns, observer, zl.Named("learning"))
	if err != nil {
		return nil, nil, err
	}

	remediator, err := remediation.NewService(&remediation.Config{
		Policy:       policyFromConfig(cfg.Engine),
		StoreTimeout: cfg.Engine.StoreTimeout.Duration(),
	}, deps.patterns, deps.registry, recorder, zl.Named("remediation"))
	if err != nil {
		return nil, nil, err
	}

	hcfg := handler.DefaultConfig()
	hcfg.StoreTimeout = cfg.Engine.StoreTimeout.Duration()
	h, err := handler.New(hcfg, eventLogger, learner, remediator, deps.patterns, logger.Named("handler"))
	if err != nil {
		return nil, nil, err
	}

	srv, err := httpserver.NewServer(httpserver.Deps{
		Handler:  h,
		Patterns: deps.patterns,
		Actions:  deps.registry,
		Version:  version,
	}, zl.Named("http"), &httpserver.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
	if err != nil {
		return nil, nil, err
	}
	return srv, remediator, nil
}

// policyFromConfig converts the engine section into a remediation policy.
func policyFromConfig(e config.EngineConfig) remediation.Policy {
	return remediation.Policy{
		MinConfidence: e.MinConfidence,
		MinSamples:    int64(e.MinSamples),
		Cooldown:      e.Cooldown.Duration(),
		ActionTimeout: e.ActionTimeout.Duration(),
	}
}

// watchablePath returns the config file to watch, if one exists.
func watchablePath(path string) (string, bool) {
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return "", false
		}
		path = p
	}
	if _, err := os.Stat(path); err != nil {
		return "", false
	}
	return path, true
}
