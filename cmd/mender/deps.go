package main

import (
	"context"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/mender/internal/config"
	"github.com/fyrsmithlabs/mender/internal/eventlog"
	"github.com/fyrsmithlabs/mender/internal/events"
	"github.com/fyrsmithlabs/mender/internal/pattern"
	"github.com/fyrsmithlabs/mender/internal/remediation"
	"github.com/fyrsmithlabs/mender/internal/scrub"
)

// dependencies holds all infrastructure dependencies.
type dependencies struct {
	logStore  eventlog.Store
	patterns  pattern.Store
	redactor  eventlog.Redactor
	registry  *remediation.Registry
	natsConn  *nats.Conn
	publisher *events.Publisher
	logger    *zap.Logger
}

// Close releases all infrastructure resources.
func (d *dependencies) Close() {
	if d.natsConn != nil {
		d.natsConn.Close()
	}
	if d.patterns != nil {
		if err := d.patterns.Close(); err != nil {
			d.logger.Warn("failed to close pattern store", zap.Error(err))
		}
	}
	if d.logStore != nil {
		if err := d.logStore.Close(); err != nil {
			d.logger.Warn("failed to close log store", zap.Error(err))
		}
	}
}

// initDependencies opens stores and connections. Partially opened
// resources are released on failure.
func initDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *dependencies, err error) {
	d := &dependencies{logger: logger}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	if d.logStore, err = openLogStore(ctx, cfg.LogStore, logger); err != nil {
		return nil, err
	}

	store, err := openPatternStore(ctx, cfg.PatternStore, logger)
	if err != nil {
		return nil, err
	}
	d.patterns = store
	if cfg.PatternStore.Cache.Enabled {
		d.patterns = pattern.NewCachedStore(store, cfg.PatternStore.Cache.Size, cfg.PatternStore.Cache.TTL.Duration())
		logger.Info("pattern cache enabled",
			zap.Int("size", cfg.PatternStore.Cache.Size),
			zap.Duration("ttl", cfg.PatternStore.Cache.TTL.Duration()))
	}

	if d.redactor, err = newRedactor(cfg.Scrub); err != nil {
		return nil, err
	}

	if d.registry, err = newRegistry(cfg.Actions); err != nil {
		return nil, err
	}
	logger.Info("remediation actions registered", zap.Strings("actions", d.registry.Names()))

	if cfg.Events.Enabled {
		if d.natsConn, err = events.Connect(cfg.Events.NATSURL, logger.Named("nats")); err != nil {
			return nil, err
		}
		if d.publisher, err = events.NewPublisher(d.natsConn, cfg.Events.SubjectPrefix, logger.Named("events")); err != nil {
			return nil, err
		}
		logger.Info("connected to NATS",
			zap.String("url", cfg.Events.NATSURL),
			zap.String("subject_prefix", cfg.Events.SubjectPrefix))
	}

	return d, nil
}

func openLogStore(ctx context.Context, cfg config.LogStoreConfig, logger *zap.Logger) (eventlog.Store, error) {
	switch cfg.Backend {
	case "clickhouse":
		ch := cfg.ClickHouse
		store, err := eventlog.NewClickHouseStore(ctx, eventlog.ClickHouseConfig{
			Address:  ch.Address,
			Database: ch.Database,
			Username: ch.Username,
			Password: ch.Password.Value(),
			Table:    ch.Table,
			Protocol: ch.Protocol,
		}, logger.Named("clickhouse"))
		if err != nil {
			return nil, fmt.Errorf("opening clickhouse log store: %w", err)
		}
		logger.Info("log store ready", zap.String("backend", "clickhouse"), zap.String("address", ch.Address))
		return store, nil
	default:
		logger.Info("log store ready", zap.String("backend", "memory"))
		return eventlog.NewMemoryStore(), nil
	}
}

func openPatternStore(ctx context.Context, cfg config.PatternStoreConfig, logger *zap.Logger) (pattern.Store, error) {
	switch cfg.Backend {
	case "redis":
		store, err := pattern.NewRedisStore(ctx, pattern.RedisConfig{
			Address:  cfg.Redis.Address,
			Password: cfg.Redis.Password.Value(),
			DB:       cfg.Redis.DB,
			Prefix:   cfg.Redis.Prefix,
		}, logger.Named("redis"))
		if err != nil {
			return nil, fmt.Errorf("opening redis pattern store: %w", err)
		}
		logger.Info("pattern store ready", zap.String("backend", "redis"), zap.String("address", cfg.Redis.Address))
		return store, nil
	default:
		logger.Info("pattern store ready", zap.String("backend", "memory"))
		return pattern.NewMemoryStore(), nil
	}
}

// newRedactor returns nil when scrubbing is disabled.
func newRedactor(cfg config.ScrubConfig) (eventlog.Redactor, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	allowlist, err := scrub.LoadAllowlist(cfg.AllowlistPath)
	if err != nil {
		return nil, err
	}
	s, err := scrub.New(allowlist)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func newRegistry(cfg config.ActionsConfig) (*remediation.Registry, error) {
	registry := remediation.NewRegistry()
	catalog, err := remediation.LoadCatalog(cfg.CatalogPath)
	if err != nil {
		return nil, err
	}
	if err := catalog.Register(registry); err != nil {
		return nil, fmt.Errorf("registering action catalog: %w", err)
	}
	return registry, nil
}
