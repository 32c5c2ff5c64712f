package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/nazeru/order-outbox-lab/pkg/contracts"
	kafkax "github.com/nazeru/order-outbox-lab/pkg/kafka"
	"github.com/nazeru/order-outbox-lab/pkg/logging"
)

// inventory-sim stands in for the real inventory service in local runs: it
// consumes order-created events and answers with a stock outcome. Products
// listed in SIM_REJECT_SKUS are rejected, everything else is reserved.

type cfg struct {
	Port         string
	KafkaBrokers string
	OrdersTopic  string
	OutcomeTopic string
	GroupID      string
	RejectSKUs   map[string]bool
	Delay        time.Duration
}

func readCfg() (cfg, error) {
	brokers := strings.TrimSpace(os.Getenv("KAFKA_BROKERS"))
	if brokers == "" {
		return cfg{}, errors.New("KAFKA_BROKERS is required")
	}
	reject := map[string]bool{}
	for _, sku := range strings.Split(getenv("SIM_REJECT_SKUS", ""), ",") {
		sku = strings.TrimSpace(sku)
		if sku != "" {
			reject[sku] = true
		}
	}
	delay, _ := time.ParseDuration(getenv("SIM_DELAY", "0s"))
	return cfg{
		Port:         getenv("PORT", "8081"),
		KafkaBrokers: brokers,
		OrdersTopic:  getenv("ORDER_EVENTS_TOPIC", contracts.TopicOrderEvents),
		OutcomeTopic: getenv("INVENTORY_RESPONSES_TOPIC", contracts.TopicInventoryResponses),
		GroupID:      getenv("KAFKA_GROUP_ID", "inventory-sim"),
		RejectSKUs:   reject,
		Delay:        delay,
	}, nil
}

func main() {
	cfg, err := readCfg()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger, err := logging.New("inventory-sim")
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := kafkax.NewClient(cfg.KafkaBrokers)
	reader := client.NewReader(cfg.OrdersTopic, cfg.GroupID)
	defer func() { _ = reader.Close() }()
	writer := client.NewWriter()
	defer func() { _ = writer.Close() }()
	pub := kafkax.WriterPublisher{Writer: writer}

	go consume(ctx, cfg, reader, pub, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	srv := &http.Server{Addr: ":" + cfg.Port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info("inventory-sim listening", zap.String("port", cfg.Port))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("http server error", zap.Error(err))
	}
}

func consume(ctx context.Context, cfg cfg, reader *kafka.Reader, pub kafkax.WriterPublisher, logger *zap.Logger) {
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error("kafka read error", zap.Error(err))
			time.Sleep(2 * time.Second)
			continue
		}
		evt, err := contracts.Unmarshal(msg.Value)
		if err != nil {
			logger.Error("event decode error", zap.Error(err))
			continue
		}
		if evt.EventType != contracts.EventOrderCreated {
			continue
		}
		if cfg.Delay > 0 {
			time.Sleep(cfg.Delay)
		}

		outcome := decide(cfg, evt)
		response := contracts.OrderEvent{
			EventID:         uuid.NewString(),
			OrderID:         evt.OrderID,
			CustomerID:      evt.CustomerID,
			EventType:       outcome,
			Items:           evt.Items,
			ShippingAddress: evt.ShippingAddress,
			Timestamp:       contracts.NowMillis(),
		}
		payload, err := response.Marshal()
		if err != nil {
			logger.Error("response encode error", zap.Error(err))
			continue
		}
		if err := pub.Publish(ctx, cfg.OutcomeTopic, response.OrderID, response.RoutingKey(), payload); err != nil {
			logger.Error("outcome publish error",
				zap.String("order_id", evt.OrderID), zap.Error(err))
			continue
		}
		logger.Info("stock outcome emitted",
			zap.String("order_id", evt.OrderID),
			zap.String("event_type", string(outcome)))
	}
}

func decide(cfg cfg, evt contracts.OrderEvent) contracts.EventType {
	for _, it := range evt.Items {
		if cfg.RejectSKUs[it.ProductID] {
			return contracts.EventStockRejected
		}
	}
	return contracts.EventStockReserved
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
