// Package app wires configuration, storage, messaging, and the lifecycle
// worker into a runnable application.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	_ "modernc.org/sqlite"

	"github.com/felixgeelhaar/subflow/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/subflow/internal/shared/infrastructure/migrations"
	"github.com/felixgeelhaar/subflow/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/subflow/internal/subscription/application"
	"github.com/felixgeelhaar/subflow/internal/subscription/application/workers"
	"github.com/felixgeelhaar/subflow/internal/subscription/domain"
	"github.com/felixgeelhaar/subflow/internal/subscription/infrastructure/lock"
	"github.com/felixgeelhaar/subflow/internal/subscription/infrastructure/notification"
	"github.com/felixgeelhaar/subflow/internal/subscription/infrastructure/persistence"
	"github.com/felixgeelhaar/subflow/internal/subscription/infrastructure/provider"
	"github.com/felixgeelhaar/subflow/pkg/config"
)

// Container holds all application dependencies.
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	DB          *pgxpool.Pool
	SQLiteDB    *sql.DB
	RedisClient *redis.Client

	SubscriptionRepo domain.Repository
	LevelRepo        domain.LevelRepository
	PromotionRepo    domain.PromotionRepository
	PaymentRepo      domain.PaymentRepository
	SweepStateRepo   domain.SweepStateRepository
	OutboxRepo       outbox.Repository

	EventPublisher  eventbus.Publisher
	Provider        domain.PaymentProvider
	Notifier        domain.Notifier
	Locker          workers.Locker
	Service         *application.Service
	StatsService    *application.StatsService
	LifecycleWorker *workers.LifecycleWorker
	OutboxProcessor *outbox.Processor
}

// NewContainer creates and wires all application dependencies.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}

	c := &Container{
		Config: cfg,
		Logger: logger,
	}

	if cfg.IsSQLite() {
		if err := c.initSQLite(ctx); err != nil {
			return nil, err
		}
	} else {
		if err := c.initPostgres(ctx); err != nil {
			return nil, err
		}
	}

	// Redis is optional; without it sweeps coordinate in-process only.
	if cfg.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			logger.Warn("invalid Redis URL, using in-memory sweep lock", "error", err)
		} else {
			client := redis.NewClient(opt)
			if err := client.Ping(ctx).Err(); err != nil {
				if cfg.IsProduction() {
					c.Close()
					return nil, fmt.Errorf("failed to connect to Redis: %w", err)
				}
				logger.Warn("Redis not available, using in-memory sweep lock", "error", err)
			} else {
				c.RedisClient = client
				logger.Info("connected to Redis")
			}
		}
	}
	if c.RedisClient != nil {
		c.Locker = lock.NewRedisLock(c.RedisClient)
	} else {
		c.Locker = lock.NewMemoryLock()
	}

	// RabbitMQ is optional in development; the noop publisher logs instead.
	rabbitPublisher, err := eventbus.NewRabbitMQPublisher(cfg.RabbitMQURL, logger)
	if err != nil {
		if cfg.IsProduction() {
			c.Close()
			return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		logger.Warn("RabbitMQ not available, using noop publisher", "error", err)
		c.EventPublisher = eventbus.NewNoopPublisher(logger)
	} else {
		c.EventPublisher = rabbitPublisher
	}

	// The outbox needs postgres; sqlite mode always publishes directly.
	var sink application.EventSink
	if cfg.OutboxEnabled && c.OutboxRepo != nil {
		sink = outbox.NewSink(c.OutboxRepo, logger)
		c.OutboxProcessor = outbox.NewProcessor(c.OutboxRepo, c.EventPublisher, outbox.ProcessorConfig{
			PollInterval:     cfg.OutboxPollInterval,
			BatchSize:        cfg.OutboxBatchSize,
			MaxRetries:       cfg.OutboxMaxRetries,
			RetryBackoffBase: outbox.DefaultProcessorConfig().RetryBackoffBase,
			RetryBackoffMax:  outbox.DefaultProcessorConfig().RetryBackoffMax,
		}, logger)
	} else {
		sink = application.NewEventPublisher(c.EventPublisher, cfg.PublishTimeout, logger)
	}

	c.Provider = provider.NewBreakerProvider(
		provider.NewSandboxProvider(logger),
		provider.DefaultBreakerConfig(),
		logger,
	)
	c.Notifier = notification.NewSlogNotifier(logger)

	c.Service = application.NewService(
		c.SubscriptionRepo,
		c.LevelRepo,
		c.PromotionRepo,
		c.PaymentRepo,
		c.Provider,
		sink,
		application.Config{
			MaxPaymentRetries: cfg.MaxPaymentRetries,
			RetryInterval:     cfg.PaymentRetryDelay,
			RefundWindow:      cfg.RefundWindow,
			TrialPeriod:       cfg.TrialPeriod,
		},
		logger,
	)
	c.StatsService = application.NewStatsService(c.SubscriptionRepo, logger)

	c.LifecycleWorker = workers.NewLifecycleWorker(
		c.SubscriptionRepo,
		c.Service,
		c.Notifier,
		c.SweepStateRepo,
		c.Locker,
		workers.LifecycleWorkerConfig{
			Interval:           cfg.SweepInterval,
			BatchSize:          cfg.SweepBatchSize,
			TrialNoticeWindow:  cfg.TrialNoticeWindow,
			ExpiryNoticeWindow: cfg.ExpiryNoticeWindow,
			CancelledRetention: cfg.CancelledRetention,
			InactiveDeletion:   cfg.InactiveDeletion,
		},
		logger,
	)

	return c, nil
}

func (c *Container) initPostgres(ctx context.Context) error {
	pool, err := pgxpool.New(ctx, c.Config.DatabaseURL)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	c.DB = pool
	c.SubscriptionRepo = persistence.NewPostgresSubscriptionRepository(pool)
	c.LevelRepo = persistence.NewPostgresLevelRepository(pool)
	c.PromotionRepo = persistence.NewPostgresPromotionRepository(pool)
	c.PaymentRepo = persistence.NewPostgresPaymentRepository(pool)
	c.SweepStateRepo = persistence.NewPostgresSweepStateRepository(pool)
	c.OutboxRepo = outbox.NewPostgresRepository(pool)

	c.Logger.Info("connected to database", "driver", "postgres")
	return nil
}

func (c *Container) initSQLite(ctx context.Context) error {
	if dir := filepath.Dir(c.Config.SQLitePath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", c.Config.SQLitePath)
	if err != nil {
		return fmt.Errorf("failed to open SQLite database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return fmt.Errorf("failed to ping SQLite database: %w", err)
	}

	if err := migrations.RunSQLiteMigrations(ctx, db); err != nil {
		db.Close()
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	c.SQLiteDB = db
	repo := persistence.NewSQLiteSubscriptionRepository(db)
	c.SubscriptionRepo = repo
	c.LevelRepo = persistence.NewSQLiteLevelRepository(db)
	c.PromotionRepo = persistence.NewSQLitePromotionRepository(db)
	c.PaymentRepo = persistence.NewSQLitePaymentRepository(db)
	c.SweepStateRepo = persistence.NewSQLiteSweepStateRepository(db)

	c.Logger.Info("connected to database", "driver", "sqlite", "path", c.Config.SQLitePath)
	return nil
}

// Close releases all resources held by the container.
func (c *Container) Close() {
	if c.LifecycleWorker != nil && c.LifecycleWorker.IsRunning() {
		c.LifecycleWorker.Stop()
	}

	if c.OutboxProcessor != nil {
		c.OutboxProcessor.Stop()
	}

	if c.EventPublisher != nil {
		if err := c.EventPublisher.Close(); err != nil {
			c.Logger.Warn("error closing event publisher", "error", err)
		}
	}

	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			c.Logger.Warn("error closing Redis connection", "error", err)
		}
	}

	if c.DB != nil {
		c.DB.Close()
	}
	if c.SQLiteDB != nil {
		if err := c.SQLiteDB.Close(); err != nil {
			c.Logger.Warn("error closing SQLite database", "error", err)
		}
	}
}
