package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/streadway/amqp"

	"github.com/jobreel/backend/internal/access"
	"github.com/jobreel/backend/internal/config"
	"github.com/jobreel/backend/internal/db"
	"github.com/jobreel/backend/internal/handlers"
	"github.com/jobreel/backend/internal/metrics"
	"github.com/jobreel/backend/internal/middleware"
	"github.com/jobreel/backend/internal/moderation"
	"github.com/jobreel/backend/internal/notify"
	"github.com/jobreel/backend/internal/purge"
	"github.com/jobreel/backend/internal/quota"
	"github.com/jobreel/backend/internal/repositories"
	"github.com/jobreel/backend/internal/revocation"
	"github.com/jobreel/backend/internal/signing"
	"github.com/jobreel/backend/internal/storage"
	"github.com/jobreel/backend/internal/telemetry"
)

// components holds the long-lived handles built once per process.
type components struct {
	handlers   handlers.Dependencies
	dispatcher *notify.Dispatcher
	sweeper    *purge.Sweeper
	metrics    *metrics.Metrics
}

// buildDependencies wires together concrete implementations used by the HTTP
// handlers and background workers. The returned cleanup drains the
// notification queue and closes external connections.
func buildDependencies(ctx context.Context, pool db.Pool, cfg config.Config, logger *slog.Logger) (*components, func(context.Context) error, error) {
	if strings.TrimSpace(cfg.ObjectStore.Bucket) == "" {
		return nil, nil, errors.New("JOBREEL_S3_BUCKET is required")
	}

	var closers []func(context.Context) error
	cleanup := func(ctx context.Context) error {
		var errs []error
		for i := len(closers) - 1; i >= 0; i-- {
			errs = append(errs, closers[i](ctx))
		}
		return errors.Join(errs...)
	}
	fail := func(err error) (*components, func(context.Context) error, error) {
		_ = cleanup(context.Background())
		return nil, nil, err
	}

	m := metrics.New()

	videos := repositories.NewPostgresVideoRepository(pool)
	applications := repositories.NewPostgresApplicationRepository(pool)
	grants := repositories.NewPostgresGrantRepository(pool)
	complaints := repositories.NewPostgresComplaintRepository(pool)
	notifications := repositories.NewPostgresNotificationRepository(pool)

	healthChecks := map[string]handlers.HealthCheck{}
	if pinger, ok := pool.(interface{ Ping(context.Context) error }); ok {
		healthChecks["postgres"] = pinger.Ping
	}

	var revocations revocation.List
	if cfg.RedisURL != "" {
		redisList, err := revocation.NewRedisList(cfg.RedisURL)
		if err != nil {
			return fail(err)
		}
		closers = append(closers, func(context.Context) error { return redisList.Close() })
		healthChecks["redis"] = redisList.Ping
		revocations = redisList
	} else {
		logger.Warn("JOBREEL_REDIS_URL not set, revocation markers are kept in process memory")
		revocations = revocation.NewMemoryList()
	}

	issuer, err := signing.NewIssuer([]byte(cfg.TokenSecret), cfg.StreamBaseURL, cfg.TokenTTL, revocations)
	if err != nil {
		return fail(err)
	}

	objects, err := storage.NewS3Storage(ctx, cfg.ObjectStore)
	if err != nil {
		return fail(err)
	}

	channels, channelClosers, err := buildChannels(ctx, cfg.Notifications, logger)
	closers = append(closers, channelClosers...)
	if err != nil {
		return fail(err)
	}

	dispatcher := notify.NewDispatcher(notifications, notify.StaticResolver(channels), m, notify.Config{
		QueueSize:    cfg.Notifications.QueueSize,
		Workers:      cfg.Notifications.Workers,
		MaxAttempts:  cfg.Notifications.MaxAttempts,
		RetryBackoff: cfg.Notifications.RetryBackoff,
	}, logger)
	closers = append(closers, dispatcher.Shutdown)

	ledger := quota.NewLedger(grants, videos, logger)

	gate := &access.Gate{
		Videos:       videos,
		Grants:       grants,
		Applications: applications,
		Ledger:       ledger,
		Tokens:       issuer,
		Notifier:     dispatcher,
		Recorder:     m,
		TokenTTL:     cfg.TokenTTL,
	}
	broker := &access.Broker{
		Videos:      videos,
		Grants:      grants,
		Tokens:      issuer,
		Revocations: revocations,
		Recorder:    m,
		TokenTTL:    cfg.TokenTTL,
		Lead:        cfg.RefreshLead,
		Lapse:       cfg.RefreshLapse,
	}
	override := &moderation.Override{
		Complaints:  complaints,
		Revocations: revocations,
		Notifier:    dispatcher,
		Recorder:    m,
	}

	sweeper := &purge.Sweeper{
		Videos:   videos,
		Objects:  objects,
		Recorder: m,
		Logger:   logger.With("component", "purge"),
		Interval: cfg.PurgeInterval,
	}

	return &components{
		handlers: handlers.Dependencies{
			Gate:         gate,
			Broker:       broker,
			Moderation:   override,
			Tokens:       issuer,
			Videos:       videos,
			Grants:       grants,
			Objects:      objects,
			HealthChecks: healthChecks,
			Metrics:      m.Handler(),
			Observer:     m,
			RateLimiter:  middleware.NewIPRateLimiter(cfg.RateLimit.RequestsPerMinute, cfg.RateLimit.Burst, 10*time.Minute),
			Report:       telemetry.CaptureError,
		},
		dispatcher: dispatcher,
		sweeper:    sweeper,
		metrics:    m,
	}, cleanup, nil
}

// buildChannels always logs notifications and adds SQS and AMQP delivery
// when they are configured.
func buildChannels(ctx context.Context, cfg config.NotificationConfig, logger *slog.Logger) ([]notify.Channel, []func(context.Context) error, error) {
	channels := []notify.Channel{notify.LogChannel{Logger: logger.With("channel", "log")}}
	var closers []func(context.Context) error

	if cfg.SQSQueueURL != "" {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return channels, closers, fmt.Errorf("load aws config: %w", err)
		}
		channels = append(channels, notify.NewSQSChannel(sqs.NewFromConfig(awsCfg), cfg.SQSQueueURL))
	}

	if cfg.AMQPURL != "" {
		conn, err := amqp.Dial(cfg.AMQPURL)
		if err != nil {
			return channels, closers, fmt.Errorf("dial amqp: %w", err)
		}
		closers = append(closers, func(context.Context) error { return conn.Close() })

		ch, err := conn.Channel()
		if err != nil {
			return channels, closers, fmt.Errorf("open amqp channel: %w", err)
		}
		if err := ch.ExchangeDeclare(cfg.AMQPExchange, "topic", true, false, false, false, nil); err != nil {
			_ = ch.Close()
			return channels, closers, fmt.Errorf("declare exchange %s: %w", cfg.AMQPExchange, err)
		}
		_ = ch.Close()

		channels = append(channels, notify.NewAMQPChannel(conn, cfg.AMQPExchange))
	}

	return channels, closers, nil
}
