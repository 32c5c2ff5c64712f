package kafka

import (
	"context"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/nazeru/order-outbox-lab/pkg/contracts"
)

type Client struct {
	Brokers []string
}

func NewClient(brokersCSV string) *Client {
	brokers := []string{}
	for _, b := range strings.Split(brokersCSV, ",") {
		b = strings.TrimSpace(b)
		if b != "" {
			brokers = append(brokers, b)
		}
	}
	return &Client{Brokers: brokers}
}

func (c *Client) Enabled() bool {
	return len(c.Brokers) > 0
}

// NewWriter builds a writer without a fixed topic; the outbox record names
// the topic per message. Hash balancing on the order-id key keeps delivery
// ordered per order.
func (c *Client) NewWriter() *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(c.Brokers...),
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

// NewReader builds a group reader. Offsets are committed explicitly by the
// consumer, never on fetch.
func (c *Client) NewReader(topic, groupID string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{
		Brokers:  c.Brokers,
		Topic:    topic,
		GroupID:  groupID,
		MinBytes: 10e3,
		MaxBytes: 10e6,
	})
}

// WriterPublisher gives callers a topic-per-message publish without exposing
// the kafka-go writer type.
type WriterPublisher struct {
	Writer *kafka.Writer
}

func (p WriterPublisher) Publish(ctx context.Context, topic, key, routingKey string, payload []byte) error {
	return Publish(ctx, p.Writer, topic, key, routingKey, payload)
}

// Publish writes a single keyed message with the routing key in a header.
func Publish(ctx context.Context, writer *kafka.Writer, topic, key, routingKey string, payload []byte) error {
	return writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: payload,
		Time:  time.Now().UTC(),
		Headers: []kafka.Header{
			{Key: contracts.RoutingKeyHeader, Value: []byte(routingKey)},
		},
	})
}
