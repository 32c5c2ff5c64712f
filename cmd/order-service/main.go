package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nazeru/order-outbox-lab/internal/order/api"
	"github.com/nazeru/order-outbox-lab/internal/order/consumer"
	"github.com/nazeru/order-outbox-lab/internal/order/service"
	"github.com/nazeru/order-outbox-lab/internal/order/store"
	"github.com/nazeru/order-outbox-lab/pkg/contracts"
	kafkax "github.com/nazeru/order-outbox-lab/pkg/kafka"
	"github.com/nazeru/order-outbox-lab/pkg/logging"
	"github.com/nazeru/order-outbox-lab/pkg/metrics"
	"github.com/nazeru/order-outbox-lab/pkg/outbox"
)

type cfg struct {
	Port         string
	DatabaseURL  string
	KafkaBrokers string

	ResponsesTopic string
	GroupID        string

	OutboxPollInterval time.Duration
	OutboxBatchSize    int
	MaxAttempts        int
	RetryBackoff       time.Duration
}

func readCfg() (cfg, error) {
	db := strings.TrimSpace(os.Getenv("DATABASE_URL"))
	if db == "" {
		return cfg{}, errors.New("DATABASE_URL is required")
	}
	pollMS, _ := strconv.Atoi(getenv("OUTBOX_POLL_INTERVAL_MS", "500"))
	batch, _ := strconv.Atoi(getenv("OUTBOX_BATCH_SIZE", "100"))
	attempts, _ := strconv.Atoi(getenv("MAX_DELIVERY_ATTEMPTS", "5"))
	backoffMS, _ := strconv.Atoi(getenv("RETRY_BACKOFF_MS", "500"))

	return cfg{
		Port:               getenv("PORT", "8080"),
		DatabaseURL:        db,
		KafkaBrokers:       getenv("KAFKA_BROKERS", ""),
		ResponsesTopic:     getenv("INVENTORY_RESPONSES_TOPIC", contracts.TopicInventoryResponses),
		GroupID:            getenv("KAFKA_GROUP_ID", "order-service"),
		OutboxPollInterval: time.Duration(pollMS) * time.Millisecond,
		OutboxBatchSize:    batch,
		MaxAttempts:        attempts,
		RetryBackoff:       time.Duration(backoffMS) * time.Millisecond,
	}, nil
}

func main() {
	cfg, err := readCfg()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger, err := logging.New("order-service")
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	pool, err := pgxpool.New(connectCtx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("db connect error", zap.Error(err))
	}
	defer pool.Close()
	if err := pool.Ping(connectCtx); err != nil {
		logger.Fatal("db ping error", zap.Error(err))
	}

	st := store.New(pool)
	svc := service.New(st, logger)
	srvMetrics := metrics.NewServerMetrics("order_service")
	handler := api.NewHandler(svc, logger, srvMetrics, st.Ping)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	kafkaClient := kafkax.NewClient(cfg.KafkaBrokers)
	if kafkaClient.Enabled() {
		writer := kafkaClient.NewWriter()
		defer func() { _ = writer.Close() }()
		pub := kafkax.WriterPublisher{Writer: writer}

		dispatcher := &outbox.Dispatcher{
			Source:    outbox.PgSource{Pool: pool},
			Publisher: outboxPublisher{pub: pub},
			Interval:  cfg.OutboxPollInterval,
			BatchSize: cfg.OutboxBatchSize,
			Log:       logger,
			Metrics:   metrics.NewOutboxMetrics("order_service"),
		}
		g.Go(func() error { return dispatcher.Run(ctx) })

		reader := kafkaClient.NewReader(cfg.ResponsesTopic, cfg.GroupID)
		defer func() { _ = reader.Close() }()
		cons := &consumer.Consumer{
			Reader:       reader,
			Handler:      svc,
			DeadLetter:   pub,
			Log:          logger,
			Metrics:      metrics.NewConsumerMetrics("order_service"),
			MaxAttempts:  cfg.MaxAttempts,
			RetryBackoff: cfg.RetryBackoff,
		}
		g.Go(func() error { return cons.Run(ctx) })
	} else {
		logger.Warn("KAFKA_BROKERS not set: outbox dispatcher and inventory consumer disabled")
	}

	g.Go(func() error {
		logger.Info("order-service listening", zap.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal("order-service exited", zap.Error(err))
	}
	logger.Info("order-service stopped")
}

// outboxPublisher adapts the kafka writer to the dispatcher's view of a
// record.
type outboxPublisher struct {
	pub kafkax.WriterPublisher
}

func (p outboxPublisher) Publish(ctx context.Context, rec outbox.Record) error {
	return p.pub.Publish(ctx, rec.Topic, rec.Key, rec.RoutingKey, rec.Payload)
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
