// The event consumer reads domain events from Kafka and feeds them to the
// same module subscribers the in-process adapter would call. One reader per
// topic; handler failures are logged and the offset is still committed, so
// a poison message cannot wedge a partition.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"cutfab-backend/api/internal/modules/cuttingjob"
	"cutfab-backend/api/internal/modules/order"
	"cutfab-backend/api/internal/repos"
	"cutfab-backend/shared/cachex"
	"cutfab-backend/shared/config"
	"cutfab-backend/shared/dbx"
	"cutfab-backend/shared/eventbus"
	"cutfab-backend/shared/events"
	"cutfab-backend/shared/logx"
	"cutfab-backend/shared/metricsx"
	"cutfab-backend/shared/mqx"
	"cutfab-backend/shared/observability"
)

func main() {
	cfg, problems := config.Load("domain-events-consumer", 8082)
	version := strings.TrimSpace(os.Getenv("VERSION"))
	logger := logx.New(cfg.ServiceName, cfg.Env, version, cfg.LogLevel)

	if cfg.DatabaseURL == "" {
		problems = append(problems, config.Problem{Field: "DATABASE_URL", Message: "DATABASE_URL is required"})
	}
	if len(cfg.KafkaBrokers) == 0 {
		problems = append(problems, config.Problem{Field: "KAFKA_BROKERS", Message: "KAFKA_BROKERS is required"})
	}
	if cfg.KafkaGroupID == "" {
		problems = append(problems, config.Problem{Field: "KAFKA_CONSUMER_GROUP", Message: "KAFKA_CONSUMER_GROUP is required"})
	}
	if len(problems) > 0 {
		logger.Error(context.Background(), "config_invalid", "invalid config",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.Any("problems", problems),
		)
		os.Exit(1)
	}

	if cfg.OtelEnabled {
		if shutdown, err := observability.InitTracer(context.Background(), observability.TracerConfig{
			ServiceName: cfg.ServiceName,
			Env:         cfg.Env,
			Endpoint:    cfg.OtelEndpoint,
			Insecure:    cfg.OtelInsecure,
			SampleRatio: cfg.OtelSampleRatio,
		}); err == nil {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	dbPool, err := dbx.NewPool(cfg)
	if err != nil {
		logger.Error(context.Background(), "db_init_failed", "db init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer dbPool.Close()

	producer, err := mqx.NewProducer(cfg)
	if err != nil {
		logger.Error(context.Background(), "kafka_init_failed", "kafka producer init failed",
			slog.String("error_code", "FAILED_PRECONDITION"),
			slog.String("error", err.Error()),
		)
		os.Exit(1)
	}
	defer producer.Close()

	var cache *cachex.Client
	if cfg.RedisAddr != "" {
		if c, err := cachex.New(cfg); err == nil {
			cache = c
			defer cache.Close()
		} else {
			logger.Warn(context.Background(), "cache_disabled", "redis unavailable, order cache disabled",
				slog.String("error", err.Error()),
			)
		}
	}

	// Handler publishes (order ripple updates) go straight back to Kafka
	// through the same bus the handlers are subscribed on.
	bus := eventbus.NewKafka(producer, logger, eventbus.RetryPolicy{
		MaxAttempts: cfg.EventRetryMax,
		BaseDelay:   time.Duration(cfg.EventRetryBaseMS) * time.Millisecond,
		MaxDelay:    2 * time.Second,
	})

	ordersRepo := repos.NewOrdersRepo(dbPool)
	jobsRepo := repos.NewCuttingJobsRepo(dbPool)
	jobsSvc := cuttingjob.NewService(jobsRepo, ordersRepo, bus, nil, logger)
	jobsSvc.SubscribeEvents(bus)
	ordersSvc := order.NewService(ordersRepo, bus, cache, logger)
	ordersSvc.SubscribeEvents(bus)

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	var wg sync.WaitGroup
	for _, topic := range events.AllTopics() {
		reader, err := mqx.NewConsumer(cfg, topic, cfg.KafkaGroupID)
		if err != nil {
			logger.Error(context.Background(), "kafka_init_failed", "kafka reader init failed",
				slog.String("error_code", "FAILED_PRECONDITION"),
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		wg.Add(1)
		go func(topic string, reader *kafka.Reader) {
			defer wg.Done()
			defer reader.Close()
			consumeTopic(ctx, logger, bus, reader, topic, cfg.KafkaGroupID)
		}(topic, reader)
	}

	logger.Info(ctx, "consumer_start", "domain events consumer started",
		slog.Any("topics", events.AllTopics()),
		slog.String("group", cfg.KafkaGroupID),
	)
	wg.Wait()
	logger.Info(context.Background(), "consumer_stop", "domain events consumer stopped")
}

func consumeTopic(ctx context.Context, logger logx.Logger, bus *eventbus.KafkaBus, reader *kafka.Reader, topic, groupID string) {
	for {
		msg, err := reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			logger.Error(ctx, "kafka_fetch_failed", "failed to fetch message",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
			time.Sleep(500 * time.Millisecond)
			continue
		}

		spanCtx, span := otel.Tracer("mqx").Start(ctx, "kafka.consume")
		span.SetAttributes(
			attribute.String("messaging.system", "kafka"),
			attribute.String("messaging.destination", topic),
		)
		if err := handleMessage(spanCtx, bus, msg.Value); err != nil {
			logger.Error(ctx, "event_handle_failed", "failed to handle event",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
		}
		span.End()
		if err := reader.CommitMessages(ctx, msg); err != nil {
			logger.Error(ctx, "kafka_commit_failed", "failed to commit message",
				slog.String("error_code", "INTERNAL_ERROR"),
				slog.String("topic", topic),
				slog.String("error", err.Error()),
			)
		}
		stats := reader.Stats()
		metricsx.SetKafkaLag(stats.Topic, groupID, stats.Lag)
	}
}

func handleMessage(ctx context.Context, bus *eventbus.KafkaBus, payload []byte) error {
	var envelope events.Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return err
	}
	if envelope.EventID == uuid.Nil || envelope.EventType == "" {
		return errors.New("missing event_id/event_type")
	}
	bus.Dispatch(ctx, envelope)
	return nil
}
