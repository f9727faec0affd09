package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/tendant/simple-files/pkg/simplefiles"
	"github.com/tendant/simple-files/pkg/simplefiles/metrics"
	"github.com/tendant/simple-files/pkg/simplefiles/repo/memory"
	repopg "github.com/tendant/simple-files/pkg/simplefiles/repo/postgres"
	reposqlite "github.com/tendant/simple-files/pkg/simplefiles/repo/sqlite"
	fsstorage "github.com/tendant/simple-files/pkg/simplefiles/storage/fs"
	memorystorage "github.com/tendant/simple-files/pkg/simplefiles/storage/memory"
	s3storage "github.com/tendant/simple-files/pkg/simplefiles/storage/s3"
	"github.com/tendant/simple-files/pkg/simplefiles/titlelock"
)

const connectTimeout = 10 * time.Second

// App holds the constructed service and every resource that must be released on shutdown
type App struct {
	Config  *ServerConfig
	Service simplefiles.Service
	Metrics *metrics.Collector // nil when metrics are disabled

	closers []func() error
}

// Close releases resources in reverse construction order
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Build creates the record store, blob store, title lock and event sinks and
// wires them into a Service. Nothing is global; the caller owns App.Close.
func (c *ServerConfig) Build(ctx context.Context, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	app := &App{Config: c}
	ok := false
	defer func() {
		if !ok {
			_ = app.Close()
		}
	}()

	repo, err := c.buildRepository(ctx, app)
	if err != nil {
		return nil, fmt.Errorf("failed to build repository: %w", err)
	}

	blobStore, err := c.buildBlobStore(ctx, app)
	if err != nil {
		return nil, fmt.Errorf("failed to build blob store: %w", err)
	}

	locker, err := c.buildLocker(ctx, app)
	if err != nil {
		return nil, fmt.Errorf("failed to build title lock: %w", err)
	}

	var sinks []simplefiles.EventSink
	if c.EnableEventLogging {
		sinks = append(sinks, simplefiles.NewLogEventSink(logger))
	}
	if c.EnableMetrics {
		app.Metrics = metrics.New()
		sinks = append(sinks, app.Metrics.Sink())
		blobStore = app.Metrics.WrapBlobStore(blobStore)
	}

	svc, err := simplefiles.New(
		simplefiles.WithRepository(repo),
		simplefiles.WithBlobStore(blobStore),
		simplefiles.WithTitleLocker(locker),
		simplefiles.WithEventSink(simplefiles.NewMultiEventSink(sinks...)),
		simplefiles.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}
	app.Service = svc

	ok = true
	return app, nil
}

// buildRepository creates a Repository based on the configuration
func (c *ServerConfig) buildRepository(ctx context.Context, app *App) (simplefiles.Repository, error) {
	target, err := c.Database()
	if err != nil {
		return nil, err
	}

	switch target.Kind {
	case DatabaseMemory:
		return memory.New(), nil

	case DatabasePostgres:
		cfg, err := pgxpool.ParseConfig(target.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
		}
		// Optionally set search_path for the connection
		schema := c.DBSchema
		cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
			if schema == "" {
				return nil
			}
			_, err := conn.Exec(ctx, "SET search_path TO "+pgx.Identifier{schema}.Sanitize())
			return err
		}
		pool, err := pgxpool.NewWithConfig(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to create pgx pool: %w", err)
		}
		app.onClose(func() error {
			pool.Close()
			return nil
		})

		pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := pool.Ping(pingCtx); err != nil {
			return nil, fmt.Errorf("database ping failed: %w", err)
		}

		repo := repopg.NewWithPool(pool)
		if c.MigrateOnStart {
			if err := repo.Migrate(ctx); err != nil {
				return nil, err
			}
		}
		return repo, nil

	case DatabaseSQLite:
		repo, err := reposqlite.Open(target.DSN)
		if err != nil {
			return nil, err
		}
		app.onClose(repo.Close)
		return repo, nil
	}

	return nil, fmt.Errorf("unsupported database type: %s", target.Kind)
}

// buildBlobStore creates a BlobStore based on the configuration
func (c *ServerConfig) buildBlobStore(ctx context.Context, app *App) (simplefiles.BlobStore, error) {
	target, err := c.Storage()
	if err != nil {
		return nil, err
	}

	switch target.Kind {
	case StorageMemory:
		return memorystorage.New(memorystorage.WithChunkSize(c.ChunkSizeBytes)), nil

	case StorageFS:
		store, err := fsstorage.New(fsstorage.Config{
			BaseDir:   target.BaseDir,
			ChunkSize: c.ChunkSizeBytes,
		})
		if err != nil {
			return nil, err
		}
		app.onClose(store.Close)
		return store, nil

	case StorageS3:
		return s3storage.New(ctx, s3storage.Config{
			Region:                 target.Region,
			Bucket:                 target.Bucket,
			Prefix:                 target.Prefix,
			AccessKeyID:            c.AWSAccessKeyID,
			SecretAccessKey:        c.AWSSecretAccessKey,
			Endpoint:               target.Endpoint,
			UsePathStyle:           target.UsePathStyle,
			PartSize:               int64(c.ChunkSizeBytes),
			CreateBucketIfNotExist: target.CreateBucket,
		})
	}

	return nil, fmt.Errorf("unsupported storage backend type: %s", target.Kind)
}

// buildLocker returns a Redis lock when REDIS_URL is set and an in-process lock otherwise
func (c *ServerConfig) buildLocker(ctx context.Context, app *App) (simplefiles.TitleLocker, error) {
	if c.RedisURL == "" {
		return titlelock.NewLocal(), nil
	}

	opts, err := redis.ParseURL(c.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	app.onClose(client.Close)

	pingCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return titlelock.NewRedis(client, titlelock.RedisConfig{TTL: c.LockTTL}), nil
}
