package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func NewServerMetrics(service string) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orderlab",
		Subsystem: service,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "orderlab",
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})

	prometheus.MustRegister(requests, latency)
	return &ServerMetrics{Requests: requests, LatencyMS: latency}
}

// OutboxMetrics tracks the dispatcher drain loop.
type OutboxMetrics struct {
	Published     prometheus.Counter
	PublishErrors prometheus.Counter
}

func NewOutboxMetrics(service string) *OutboxMetrics {
	published := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "orderlab",
		Subsystem: service,
		Name:      "outbox_published_total",
		Help:      "Outbox records successfully published and marked sent.",
	})
	errors := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "orderlab",
		Subsystem: service,
		Name:      "outbox_publish_errors_total",
		Help:      "Failed publish attempts; the record stays pending and is retried.",
	})
	prometheus.MustRegister(published, errors)
	return &OutboxMetrics{Published: published, PublishErrors: errors}
}

// ConsumerMetrics tracks inventory-response processing by disposition.
type ConsumerMetrics struct {
	Processed *prometheus.CounterVec
}

// Result labels used with ConsumerMetrics.Processed.
const (
	ResultApplied    = "applied"
	ResultDuplicate  = "duplicate"
	ResultConflict   = "conflict"
	ResultDeadLetter = "dead_letter"
	ResultError      = "error"
)

func NewConsumerMetrics(service string) *ConsumerMetrics {
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "orderlab",
		Subsystem: service,
		Name:      "inventory_events_total",
		Help:      "Inventory outcome events by type and processing result.",
	}, []string{"type", "result"})
	prometheus.MustRegister(processed)
	return &ConsumerMetrics{Processed: processed}
}

func Handler() http.Handler {
	return promhttp.Handler()
}
