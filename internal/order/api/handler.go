package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nazeru/order-outbox-lab/internal/order/domain"
	"github.com/nazeru/order-outbox-lab/internal/order/service"
	"github.com/nazeru/order-outbox-lab/internal/order/store"
	"github.com/nazeru/order-outbox-lab/pkg/idempotency"
	"github.com/nazeru/order-outbox-lab/pkg/metrics"
)

// OrderService is the core behind the HTTP boundary.
type OrderService interface {
	CreateOrder(ctx context.Context, in service.CreateOrderInput, idemKey string) (service.CreateOrderResult, error)
	GetOrderDetails(ctx context.Context, orderID string) (domain.Order, error)
}

type Handler struct {
	svc     OrderService
	log     *zap.Logger
	metrics *metrics.ServerMetrics
	ping    func(ctx context.Context) error
}

func NewHandler(svc OrderService, log *zap.Logger, m *metrics.ServerMetrics, ping func(ctx context.Context) error) *Handler {
	return &Handler{svc: svc, log: log, metrics: m, ping: ping}
}

func (h *Handler) Router() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/orders", h.createOrder)
	mux.HandleFunc("GET /api/orders/{orderId}", h.getOrder)
	mux.HandleFunc("GET /health", h.health)
	mux.Handle("GET /metrics", metrics.Handler())
	return mux
}

type orderItemRequest struct {
	ProductID string  `json:"productId"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unitPrice"`
}

type shippingAddressRequest struct {
	Street  string `json:"street"`
	City    string `json:"city"`
	State   string `json:"state"`
	ZipCode string `json:"zipCode"`
	Country string `json:"country"`
}

type createOrderRequest struct {
	CustomerID       string                 `json:"customerId"`
	Items            []orderItemRequest     `json:"items"`
	ShippingAddress  shippingAddressRequest `json:"shippingAddress"`
	PaymentReference string                 `json:"paymentReference"`
}

type createOrderResponse struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type orderDetailsResponse struct {
	OrderID          string                 `json:"orderId"`
	CustomerID       string                 `json:"customerId"`
	Status           string                 `json:"status"`
	Reason           string                 `json:"reason,omitempty"`
	PaymentReference string                 `json:"paymentReference"`
	Items            []orderItemRequest     `json:"items"`
	ShippingAddress  shippingAddressRequest `json:"shippingAddress"`
}

// validate enforces the boundary constraints the core assumes; the core
// itself never re-validates.
func (req createOrderRequest) validate() string {
	if _, err := uuid.Parse(strings.TrimSpace(req.CustomerID)); err != nil {
		return "customerId must be a valid UUID"
	}
	if len(req.Items) == 0 {
		return "items is required and must not be empty"
	}
	for _, it := range req.Items {
		if strings.TrimSpace(it.ProductID) == "" {
			return "each item must have a productId"
		}
		if it.Quantity <= 0 {
			return "each item must have quantity > 0"
		}
		if it.UnitPrice < 0 {
			return "each item must have unitPrice >= 0"
		}
	}
	addr := req.ShippingAddress
	for _, field := range []struct{ name, value string }{
		{"street", addr.Street}, {"city", addr.City}, {"state", addr.State},
		{"zipCode", addr.ZipCode}, {"country", addr.Country},
	} {
		if strings.TrimSpace(field.value) == "" {
			return "shippingAddress." + field.name + " is required"
		}
	}
	if strings.TrimSpace(req.PaymentReference) == "" {
		return "paymentReference is required"
	}
	return ""
}

func (h *Handler) createOrder(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respond(w, "create_order", http.StatusBadRequest, map[string]any{"error": "invalid json"}, start)
		return
	}
	if msg := req.validate(); msg != "" {
		h.respond(w, "create_order", http.StatusBadRequest, map[string]any{"error": msg}, start)
		return
	}

	in := service.CreateOrderInput{
		CustomerID: strings.TrimSpace(req.CustomerID),
		ShippingAddress: domain.ShippingAddress{
			Street:  req.ShippingAddress.Street,
			City:    req.ShippingAddress.City,
			State:   req.ShippingAddress.State,
			ZipCode: req.ShippingAddress.ZipCode,
			Country: req.ShippingAddress.Country,
		},
		PaymentReference: req.PaymentReference,
	}
	for _, it := range req.Items {
		in.Items = append(in.Items, service.ItemInput{
			ProductID: it.ProductID,
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}

	res, err := h.svc.CreateOrder(r.Context(), in, idempotency.Key(r))
	if err != nil {
		h.log.Error("create order failed", zap.Error(err))
		h.respond(w, "create_order", http.StatusInternalServerError, map[string]any{"error": "internal error"}, start)
		return
	}

	code := http.StatusCreated
	if res.Replayed {
		code = http.StatusOK
	}
	h.respond(w, "create_order", code, createOrderResponse{
		OrderID: res.OrderID,
		Status:  string(res.Status),
		Message: res.Message,
	}, start)
}

func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	orderID := r.PathValue("orderId")

	o, err := h.svc.GetOrderDetails(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			h.respond(w, "get_order", http.StatusNotFound, map[string]any{"error": "order not found: " + orderID}, start)
			return
		}
		h.log.Error("get order failed", zap.String("order_id", orderID), zap.Error(err))
		h.respond(w, "get_order", http.StatusInternalServerError, map[string]any{"error": "internal error"}, start)
		return
	}

	resp := orderDetailsResponse{
		OrderID:          string(o.ID),
		CustomerID:       o.CustomerID,
		Status:           string(o.Status),
		Reason:           o.Reason,
		PaymentReference: o.PaymentReference,
		ShippingAddress: shippingAddressRequest{
			Street:  o.ShippingAddress.Street,
			City:    o.ShippingAddress.City,
			State:   o.ShippingAddress.State,
			ZipCode: o.ShippingAddress.ZipCode,
			Country: o.ShippingAddress.Country,
		},
	}
	for _, it := range o.Items {
		resp.Items = append(resp.Items, orderItemRequest{
			ProductID: string(it.ProductID),
			Quantity:  it.Quantity,
			UnitPrice: it.UnitPrice,
		})
	}
	h.respond(w, "get_order", http.StatusOK, resp, start)
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.ping != nil {
		if err := h.ping(r.Context()); err != nil {
			h.respond(w, "health", http.StatusServiceUnavailable, map[string]any{"status": "db_error"}, start)
			return
		}
	}
	h.respond(w, "health", http.StatusOK, map[string]any{"status": "ok"}, start)
}

func (h *Handler) respond(w http.ResponseWriter, handler string, code int, v any, start time.Time) {
	writeJSON(w, code, v)
	if h.metrics != nil {
		h.metrics.Requests.WithLabelValues(handler, strconv.Itoa(code)).Inc()
		h.metrics.LatencyMS.WithLabelValues(handler).Observe(float64(time.Since(start).Milliseconds()))
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
