package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/prperemyshlev/data-vault/internal/config"
	"github.com/prperemyshlev/data-vault/internal/events"
	"github.com/prperemyshlev/data-vault/internal/repository"
	"github.com/prperemyshlev/data-vault/pkg/database"
	"github.com/prperemyshlev/data-vault/pkg/observability"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

const serviceName = "data-vault"

type Infrastructure interface {
	Postgres() *database.Postgres
	Redis() *database.Redis
	Logger() *zap.Logger
	MetricsHandler() http.Handler
	MeterProvider() *metric.MeterProvider
	SyncMetrics() *observability.SyncMetrics
	Publisher() events.Publisher

	Shutdown(ctx context.Context) error
}

type infrastructure struct {
	postgres       *database.Postgres
	redis          *database.Redis
	logger         *zap.Logger
	metricsHandler http.Handler
	meterProvider  *metric.MeterProvider
	syncMetrics    *observability.SyncMetrics
	publisher      events.Publisher
}

var _ Infrastructure = &infrastructure{}

func NewInfrastructure(ctx context.Context, cfg config.Config) (*infrastructure, error) {
	i := &infrastructure{}

	logger, err := observability.InitLogger(cfg.Env)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	i.logger = logger

	if err := database.Migrate(cfg.Postgres.URL(), repository.Migrations, repository.MigrationsDir); err != nil {
		return nil, fmt.Errorf("failed to migrate PostgreSQL: %w", err)
	}

	postgres, err := database.NewPostgres(cfg.Postgres.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}
	i.postgres = postgres

	redis, err := database.NewRedis(cfg.Redis.Address(), cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		_ = i.postgres.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	i.redis = redis

	meterProvider, metricsHandler, err := observability.InitTelemetry(serviceName)
	if err != nil {
		_ = i.postgres.Close()
		_ = i.redis.Close()
		return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
	}
	i.meterProvider = meterProvider
	i.metricsHandler = metricsHandler

	syncMetrics, err := observability.NewSyncMetrics()
	if err != nil {
		logger.Warn("Sync metrics unavailable", zap.Error(err))
	}
	i.syncMetrics = syncMetrics

	i.publisher = events.NoopPublisher{}
	if cfg.Kafka.Enabled() {
		i.publisher = events.NewKafkaPublisher(events.NewKafkaProducer(cfg.Kafka.Brokers), cfg.Kafka.SyncTopic, cfg.Kafka.PurgeTopic)
		logger.Info("Publishing events to Kafka", zap.Strings("brokers", cfg.Kafka.Brokers))
	}

	return i, nil
}

func (i *infrastructure) Postgres() *database.Postgres {
	return i.postgres
}

func (i *infrastructure) Redis() *database.Redis {
	return i.redis
}

func (i *infrastructure) Logger() *zap.Logger {
	return i.logger
}

func (i *infrastructure) MetricsHandler() http.Handler {
	return i.metricsHandler
}

func (i *infrastructure) MeterProvider() *metric.MeterProvider {
	return i.meterProvider
}

func (i *infrastructure) SyncMetrics() *observability.SyncMetrics {
	return i.syncMetrics
}

func (i *infrastructure) Publisher() events.Publisher {
	return i.publisher
}

func (i *infrastructure) Shutdown(ctx context.Context) error {
	errs := make(chan error, 5)

	go func() { errs <- i.postgres.Close() }()
	go func() { errs <- i.redis.Close() }()
	go func() { errs <- i.publisher.Close() }()
	go func() { errs <- i.logger.Sync() }()
	go func() { errs <- observability.Shutdown(ctx, i.meterProvider, i.logger) }()

	return errors.Join(<-errs, <-errs, <-errs, <-errs, <-errs)
}
