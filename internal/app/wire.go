// Package app assembles the engine and its infrastructure from configuration.
package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	s3archive "github.com/punchamoorthee/parimutuel/internal/archive/s3"
	"github.com/punchamoorthee/parimutuel/internal/cache/redis"
	"github.com/punchamoorthee/parimutuel/internal/config"
	"github.com/punchamoorthee/parimutuel/internal/ledger"
	"github.com/punchamoorthee/parimutuel/internal/service"
	"github.com/punchamoorthee/parimutuel/internal/store"
	"github.com/punchamoorthee/parimutuel/internal/store/postgres"
	"github.com/punchamoorthee/parimutuel/internal/store/sqlite"
)

// Dependencies is everything a binary needs once wiring succeeded.
type Dependencies struct {
	Ledger store.Ledger
	Engine *service.Engine

	// Set only when [redis] is enabled.
	Events *redis.EventStream
}

// OpenLedger connects to the configured backend and migrates it when asked.
// SQLite always migrates on open.
func OpenLedger(ctx context.Context, cfg config.DatabaseConfig, log *zap.Logger) (store.Ledger, error) {
	switch cfg.Driver {
	case "postgres":
		pg, err := postgres.New(ctx, postgres.Config{
			DSN:      cfg.DSN,
			MaxConns: cfg.MaxConns,
			MinConns: cfg.MinConns,
		})
		if err != nil {
			return nil, fmt.Errorf("wire: postgres: %w", err)
		}
		if cfg.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				_ = pg.Close()
				return nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
			log.Info("postgres migrations applied")
		}
		return pg, nil
	case "sqlite":
		lite, err := sqlite.New(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("wire: sqlite: %w", err)
		}
		return lite, nil
	default:
		return nil, fmt.Errorf("wire: unknown database driver %q", cfg.Driver)
	}
}

// Limits converts the engine section into ledger limits.
func Limits(cfg config.EngineConfig) ledger.Limits {
	return ledger.Limits{
		MaxMarketIDLen: cfg.MaxMarketIDLen,
		MaxQuestionLen: cfg.MaxQuestionLen,
		MaxOwnerLen:    cfg.MaxOwnerLen,
		EnforceEndTime: cfg.EnforceEndTime,
	}
}

// Wire builds the engine with every optional collaborator the configuration
// enables. cleanup releases resources in reverse order of acquisition.
func Wire(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	l, err := OpenLedger(ctx, cfg.Database, log)
	if err != nil {
		return nil, nil, err
	}
	closers = append(closers, func() {
		if err := l.Close(); err != nil {
			log.Warn("ledger close failed", zap.Error(err))
		}
	})

	deps := &Dependencies{Ledger: l}
	opts := []service.Option{
		service.WithLogger(log),
		service.WithLimits(Limits(cfg.Engine)),
	}

	// --- Redis (snapshot cache + event stream) ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = rc.Close() })

		deps.Events = redis.NewEventStream(rc, cfg.Redis.Stream)
		opts = append(opts,
			service.WithCache(redis.NewMarketCache(rc, cfg.Redis.SnapshotTTL.Duration)),
			service.WithEventSink(deps.Events),
		)
		log.Info("redis enabled", zap.String("addr", cfg.Redis.Addr), zap.String("stream", cfg.Redis.Stream))
	}

	// --- S3 (archive) ---
	if cfg.S3.Enabled {
		arch, err := s3archive.New(ctx, s3archive.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			Prefix:         cfg.S3.Prefix,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		opts = append(opts, service.WithArchiver(arch))
		log.Info("s3 archive enabled", zap.String("bucket", cfg.S3.Bucket), zap.String("prefix", cfg.S3.Prefix))
	}

	deps.Engine = service.New(l, opts...)
	return deps, cleanup, nil
}
