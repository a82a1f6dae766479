package sessionauth

import (
	"context"
	"database/sql"
	stderrors "errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	rediscache "github.com/porthorian/sessionauth/pkg/cache/redis"
	"github.com/porthorian/sessionauth/pkg/listener"
	"github.com/porthorian/sessionauth/pkg/storage/memory"
	"github.com/porthorian/sessionauth/pkg/storage/postgres"
)

type StorageBackend string

const (
	StorageBackendNone     StorageBackend = "none"
	StorageBackendMemory   StorageBackend = "memory"
	StorageBackendPostgres StorageBackend = "postgres"
)

type MirrorBackend string

const (
	MirrorBackendNone  MirrorBackend = "none"
	MirrorBackendRedis MirrorBackend = "redis"
)

type RuntimeConfig struct {
	Storage StorageConfig
	Mirror  MirrorConfig
}

type StorageConfig struct {
	Backend  StorageBackend
	Postgres PostgresConfig
	// AuditLog routes login/logout records to the storage backend.
	AuditLog bool
}

type PostgresConfig struct {
	DriverName      string
	DSN             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	PingTimeout     time.Duration
	OpenDB          func(driverName string, dsn string) (*sql.DB, error)
}

type MirrorConfig struct {
	Backend MirrorBackend
	Redis   RedisMirrorConfig
}

type RedisMirrorConfig struct {
	Address     string
	Username    string
	Password    string
	Database    int
	Namespace   string
	DialTimeout time.Duration
	// ResetOnStart drops entries left behind by a previous process.
	ResetOnStart bool
}

func (c Config) initialize(ctx context.Context) (func() error, Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	config := c
	config.Logger = resolveLogger(config.Logger)
	if config.Now == nil {
		config.Now = time.Now
	}
	config.Listeners = append([]Listener(nil), c.Listeners...)

	closeStorage, config, err := initializeStorage(ctx, config)
	if err != nil {
		return nil, Config{}, err
	}

	closeMirror, config, err := initializeMirror(ctx, config)
	if err != nil {
		_ = closeStorage()
		return nil, Config{}, err
	}

	if config.AuditLog != nil {
		config.Listeners = append(config.Listeners, listener.NewAuditListener(config.AuditLog))
	}

	return joinClosers(closeStorage, closeMirror), config, nil
}

func initializeStorage(ctx context.Context, config Config) (func() error, Config, error) {
	backend := config.Runtime.Storage.Backend
	if backend == "" {
		backend = StorageBackendNone
	}

	switch backend {
	case StorageBackendNone:
		return noopCloser, config, nil
	case StorageBackendMemory:
		return initializeMemory(config)
	case StorageBackendPostgres:
		return initializePostgres(ctx, config)
	default:
		return nil, Config{}, fmt.Errorf("sessionauth config: unsupported runtime.storage.backend %q", backend)
	}
}

func initializeMemory(config Config) (func() error, Config, error) {
	adapter := memory.NewAdapter()

	if config.PrincipalStore == nil {
		config.PrincipalStore = adapter
	}
	if config.Runtime.Storage.AuditLog && config.AuditLog == nil {
		config.AuditLog = adapter
	}

	config.Logger.V(1).Info("initialized memory storage backend")
	return noopCloser, config, nil
}

func initializePostgres(ctx context.Context, config Config) (func() error, Config, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	pgConfig := config.Runtime.Storage.Postgres
	if pgConfig.DSN == "" {
		return nil, Config{}, fmt.Errorf("sessionauth config: runtime.storage.postgres.dsn is required")
	}

	if pgConfig.DriverName == "" {
		pgConfig.DriverName = "pgx"
	}
	if pgConfig.PingTimeout <= 0 {
		pgConfig.PingTimeout = 5 * time.Second
	}
	if pgConfig.OpenDB == nil {
		pgConfig.OpenDB = sql.Open
	}

	db, err := pgConfig.OpenDB(pgConfig.DriverName, pgConfig.DSN)
	if err != nil {
		return nil, Config{}, fmt.Errorf("sessionauth config: failed to open postgres database: %w", err)
	}

	if pgConfig.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pgConfig.MaxOpenConns)
	}
	if pgConfig.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pgConfig.MaxIdleConns)
	}
	if pgConfig.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pgConfig.ConnMaxLifetime)
	}
	if pgConfig.ConnMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(pgConfig.ConnMaxIdleTime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pgConfig.PingTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, Config{}, fmt.Errorf("sessionauth config: failed to ping postgres database: %w", err)
	}

	adapter, err := postgres.NewAdapter(db)
	if err != nil {
		_ = db.Close()
		return nil, Config{}, fmt.Errorf("sessionauth config: failed to initialize postgres adapter: %w", err)
	}

	if config.PrincipalStore == nil {
		config.PrincipalStore = adapter
	}
	if config.Runtime.Storage.AuditLog && config.AuditLog == nil {
		config.AuditLog = adapter
	}

	closeResource := func() error {
		return stderrors.Join(adapter.Close(), db.Close())
	}

	config.Runtime.Storage.Postgres = pgConfig
	config.Logger.V(1).Info("initialized postgres storage backend", "driver", pgConfig.DriverName, "max_open_conns", pgConfig.MaxOpenConns, "max_idle_conns", pgConfig.MaxIdleConns)
	return closeResource, config, nil
}

func initializeMirror(ctx context.Context, config Config) (func() error, Config, error) {
	backend := config.Runtime.Mirror.Backend
	if backend == "" {
		backend = MirrorBackendNone
	}

	switch backend {
	case MirrorBackendNone:
		return noopCloser, config, nil
	case MirrorBackendRedis:
		return initializeRedisMirror(ctx, config)
	default:
		return nil, Config{}, fmt.Errorf("sessionauth config: unsupported runtime.mirror.backend %q", backend)
	}
}

func initializeRedisMirror(ctx context.Context, config Config) (func() error, Config, error) {
	redisConfig := config.Runtime.Mirror.Redis
	if redisConfig.Address == "" {
		return nil, Config{}, fmt.Errorf("sessionauth config: runtime.mirror.redis.address is required")
	}
	if redisConfig.DialTimeout <= 0 {
		redisConfig.DialTimeout = 5 * time.Second
	}

	mirror := rediscache.NewMirror(rediscache.Config{
		Address:     redisConfig.Address,
		Username:    redisConfig.Username,
		Password:    redisConfig.Password,
		Database:    redisConfig.Database,
		Namespace:   redisConfig.Namespace,
		DialTimeout: redisConfig.DialTimeout,
	})

	if redisConfig.ResetOnStart {
		if err := mirror.Reset(ctx); err != nil {
			_ = mirror.Close()
			return nil, Config{}, fmt.Errorf("sessionauth config: failed to reset redis mirror: %w", err)
		}
	}

	config.Listeners = append(config.Listeners, mirror)
	config.Runtime.Mirror.Redis = redisConfig
	config.Logger.V(1).Info("initialized redis mirror backend", "address", redisConfig.Address, "database", redisConfig.Database, "key", mirror.Key())
	return mirror.Close, config, nil
}

func joinClosers(closers ...func() error) func() error {
	return func() error {
		var errs []error

		for i := len(closers) - 1; i >= 0; i-- {
			if closers[i] == nil {
				continue
			}
			if err := closers[i](); err != nil {
				errs = append(errs, err)
			}
		}

		return stderrors.Join(errs...)
	}
}

func noopCloser() error {
	return nil
}
