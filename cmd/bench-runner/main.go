package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// bench-runner places orders and polls each until it leaves PENDING. The
// interesting number in an async design is not the HTTP 201 latency but the
// end-to-end reconciliation latency, so both are reported.

type benchResult struct {
	Timestamp          string         `json:"timestamp"`
	BaseURL            string         `json:"base_url"`
	Orders             int            `json:"orders"`
	Concurrency        int            `json:"concurrency"`
	SuccessfulRequests int            `json:"successful_requests"`
	ErrorRequests      int            `json:"error_requests"`
	DurationSeconds    float64        `json:"duration_seconds"`
	CreateAvgMs        float64        `json:"create_avg_latency_ms"`
	CreateP50Ms        float64        `json:"create_p50_latency_ms"`
	CreateP95Ms        float64        `json:"create_p95_latency_ms"`
	CreateP99Ms        float64        `json:"create_p99_latency_ms"`
	Reconciled         int            `json:"reconciled_orders"`
	ReconcileTimeouts  int            `json:"reconcile_timeouts"`
	E2EAvgMs           float64        `json:"e2e_avg_latency_ms"`
	E2EP50Ms           float64        `json:"e2e_p50_latency_ms"`
	E2EP90Ms           float64        `json:"e2e_p90_latency_ms"`
	E2EP95Ms           float64        `json:"e2e_p95_latency_ms"`
	E2EP99Ms           float64        `json:"e2e_p99_latency_ms"`
	ThroughputRPS      float64        `json:"throughput_rps"`
	StatusCounts       map[string]int `json:"status_counts"`
	ErrorClasses       map[string]int `json:"error_classes"`
	FirstError         string         `json:"first_error"`
}

type collector struct {
	mu           sync.Mutex
	success      int
	errors       int
	createMs     []float64
	e2eMs        []float64
	timeouts     int
	statusCounts map[string]int
	errorClasses map[string]int
	firstError   string
}

func newCollector() *collector {
	return &collector{
		statusCounts: make(map[string]int),
		errorClasses: make(map[string]int),
	}
}

func (c *collector) created(latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.success++
	c.createMs = append(c.createMs, float64(latency.Milliseconds()))
}

func (c *collector) failed(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errors++
	class := classify(err)
	c.errorClasses[class]++
	if c.firstError == "" {
		c.firstError = err.Error()
	}
}

func (c *collector) reconciled(status string, latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statusCounts[status]++
	c.e2eMs = append(c.e2eMs, float64(latency.Milliseconds()))
}

func (c *collector) timedOut() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timeouts++
}

func classify(err error) string {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "status 4"):
		return "client_error"
	case strings.Contains(msg, "status 5"):
		return "server_error"
	case strings.Contains(msg, "context deadline"):
		return "timeout"
	default:
		return "transport"
	}
}

func main() {
	baseURL := flag.String("base-url", getenv("ORDER_BASE_URL", "http://localhost:8080"), "order-service base URL")
	orders := flag.Int("orders", 100, "number of orders to place")
	concurrency := flag.Int("concurrency", 5, "concurrent workers")
	pollTimeout := flag.Duration("poll-timeout", 30*time.Second, "per-order reconciliation wait")
	out := flag.String("out", "", "write JSON result to file instead of stdout")
	flag.Parse()

	col := newCollector()
	start := time.Now()

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < *concurrency; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				runOne(*baseURL, *pollTimeout, col)
			}
		}()
	}
	for i := 0; i < *orders; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	elapsed := time.Since(start)
	res := summarize(*baseURL, *orders, *concurrency, elapsed, col)

	data, _ := json.MarshalIndent(res, "", "  ")
	if *out != "" {
		if err := os.WriteFile(*out, data, 0o644); err != nil {
			fmt.Fprintln(os.Stderr, "write result:", err)
			os.Exit(1)
		}
		return
	}
	fmt.Println(string(data))
}

func runOne(baseURL string, pollTimeout time.Duration, col *collector) {
	placedAt := time.Now()
	orderID, err := createOrder(baseURL)
	if err != nil {
		col.failed(err)
		return
	}
	col.created(time.Since(placedAt))

	status, err := pollUntilTerminal(baseURL, orderID, pollTimeout)
	if err != nil {
		col.timedOut()
		return
	}
	col.reconciled(status, time.Since(placedAt))
}

func createOrder(baseURL string) (string, error) {
	payload := map[string]any{
		"customerId": uuid.NewString(),
		"items": []map[string]any{
			{"productId": "sku-1", "quantity": 1, "unitPrice": 9.99},
		},
		"shippingAddress": map[string]any{
			"street": "Av. Principal 123", "city": "Quito", "state": "Pichincha",
			"zipCode": "170150", "country": "EC",
		},
		"paymentReference": "bench-" + uuid.NewString()[:8],
	}
	data, _ := json.Marshal(payload)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(baseURL, "/")+"/api/orders", bytes.NewReader(data))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusCreated {
		return "", fmt.Errorf("status %d: %s", resp.StatusCode, string(body))
	}
	var out struct {
		OrderID string `json:"orderId"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	return out.OrderID, nil
}

func pollUntilTerminal(baseURL, orderID string, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	url := strings.TrimRight(baseURL, "/") + "/api/orders/" + orderID
	for time.Now().Before(deadline) {
		status, err := fetchStatus(url)
		if err == nil && (status == "CONFIRMED" || status == "CANCELLED") {
			return status, nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return "", fmt.Errorf("order %s still PENDING after %s", orderID, timeout)
}

func fetchStatus(url string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("status %d", resp.StatusCode)
	}
	var out struct {
		Status string `json:"status"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	return out.Status, nil
}

func summarize(baseURL string, orders, concurrency int, elapsed time.Duration, col *collector) benchResult {
	col.mu.Lock()
	defer col.mu.Unlock()

	res := benchResult{
		Timestamp:          time.Now().UTC().Format(time.RFC3339),
		BaseURL:            baseURL,
		Orders:             orders,
		Concurrency:        concurrency,
		SuccessfulRequests: col.success,
		ErrorRequests:      col.errors,
		DurationSeconds:    elapsed.Seconds(),
		Reconciled:         len(col.e2eMs),
		ReconcileTimeouts:  col.timeouts,
		StatusCounts:       col.statusCounts,
		ErrorClasses:       col.errorClasses,
		FirstError:         col.firstError,
	}
	if elapsed > 0 {
		res.ThroughputRPS = float64(col.success) / elapsed.Seconds()
	}
	res.CreateAvgMs = avg(col.createMs)
	res.CreateP50Ms = percentile(col.createMs, 50)
	res.CreateP95Ms = percentile(col.createMs, 95)
	res.CreateP99Ms = percentile(col.createMs, 99)
	res.E2EAvgMs = avg(col.e2eMs)
	res.E2EP50Ms = percentile(col.e2eMs, 50)
	res.E2EP90Ms = percentile(col.e2eMs, 90)
	res.E2EP95Ms = percentile(col.e2eMs, 95)
	res.E2EP99Ms = percentile(col.e2eMs, 99)
	return res
}

func avg(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum / float64(len(values))
}

func percentile(values []float64, p float64) float64 {
	if len(values) == 0 {
		return 0
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)
	rank := p / 100 * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}
	frac := rank - float64(lower)
	return sorted[lower] + frac*(sorted[upper]-sorted[lower])
}

func getenv(k, def string) string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	return v
}
