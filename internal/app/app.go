// Package app assembles the stores and the ingestion service from config.
// Both the HTTP server and the command line tool start here.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/JonMunkholm/putr/internal/config"
	"github.com/JonMunkholm/putr/internal/core"
	"github.com/JonMunkholm/putr/internal/store/memory"
	"github.com/JonMunkholm/putr/internal/store/postgres"
	"github.com/JonMunkholm/putr/internal/store/redis"
	"github.com/JonMunkholm/putr/internal/store/sqlite"
	"github.com/jackc/pgx/v5/pgxpool"
)

// App holds the wired service and everything that must be closed with it.
type App struct {
	Service  *core.Service
	Profiles *postgres.ProfileStore
	Audit    *postgres.AuditLog

	pool    *pgxpool.Pool
	closers []io.Closer
}

// New connects to Postgres, applies migrations when configured, opens the
// backup store and builds the service.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	pool, err := postgres.Open(ctx, postgres.PoolConfig{
		URL:             cfg.Database.URL,
		MaxConns:        int32(cfg.Database.MaxConns),
		MinConns:        int32(cfg.Database.MinConns),
		MaxConnLifetime: cfg.Database.MaxConnLifetime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
	})
	if err != nil {
		return nil, err
	}
	a := &App{pool: pool}

	if cfg.Database.MigrateOnStart {
		if err := postgres.Migrate(cfg.Database.URL); err != nil {
			a.Close()
			return nil, err
		}
		slog.Info("database migrations applied")
	}

	backups, closer, err := OpenBackupStore(ctx, cfg.Backup)
	if err != nil {
		a.Close()
		return nil, err
	}
	if closer != nil {
		a.closers = append(a.closers, closer)
	}

	a.Profiles = postgres.NewProfileStore(pool)
	a.Audit = postgres.NewAuditLog(pool)

	svc, err := core.NewService(ServiceOptions(cfg, a.Profiles, backups, a.Audit))
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Service = svc
	return a, nil
}

// ServiceOptions maps config onto core.Options.
func ServiceOptions(cfg *config.Config, profiles core.ProfileStore, backups core.BackupStore, audit core.AuditSink) core.Options {
	return core.Options{
		Profiles: profiles,
		Backups:  backups,
		Retention: core.RetentionPolicy{
			MaxSnapshots: cfg.Backup.MaxSnapshots,
			MaxAge:       cfg.Backup.MaxAge,
			MaxBytes:     cfg.Backup.MaxBytes,
		},
		Cache: core.NewProfileCache(profiles, cfg.Cache.TTL),
		Audit: audit,
		Parse: core.ParseOptions{
			MinBytes: cfg.Upload.MinFileSize,
			MaxBytes: cfg.Upload.MaxFileSize,
			MaxRows:  cfg.Upload.MaxRows,
			MinRows:  cfg.Upload.MinRows,
			Exclude:  cfg.Upload.Exclude,
		},
		CommitTimeout: cfg.Upload.CommitTimeout,
	}
}

// OpenBackupStore opens the configured snapshot store. The closer is nil
// when the store holds no resources.
func OpenBackupStore(ctx context.Context, cfg config.BackupConfig) (core.BackupStore, io.Closer, error) {
	switch cfg.Driver {
	case config.BackupSQLite:
		s, err := sqlite.Open(cfg.Path)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("backup store opened", "driver", cfg.Driver, "path", cfg.Path)
		return s, s, nil

	case config.BackupRedis:
		s, err := redis.Open(ctx, redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Key:      cfg.RedisKey,
		})
		if err != nil {
			return nil, nil, err
		}
		slog.Info("backup store opened", "driver", cfg.Driver, "addr", cfg.RedisAddr)
		return s, s, nil

	case config.BackupMemory:
		slog.Warn("snapshots are kept in memory and lost on exit")
		return memory.NewBackupStore(), nil, nil
	}
	return nil, nil, fmt.Errorf("unknown backup driver %q", cfg.Driver)
}

// Close releases the backup store and the connection pool.
func (a *App) Close() error {
	var errs []error
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.pool != nil {
		a.pool.Close()
	}
	return errors.Join(errs...)
}
