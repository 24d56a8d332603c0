package orders

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/joao-fontenele/order-intake/internal/domain"
)

const missingFieldsMessage = "quantity, name, phone, address and totalAmount are required"

// EventPublisher publishes order lifecycle events. messaging.Producer
// satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, key string, event any) error
}

type Handler struct {
	store        Store
	publisher    EventPublisher
	idempotency  IdempotencyCache
	productName  string
	exposeErrors bool
	metrics      *orderMetrics
	logger       *slog.Logger
}

type HandlerOption func(*Handler)

func WithPublisher(p EventPublisher) HandlerOption {
	return func(h *Handler) { h.publisher = p }
}

func WithIdempotency(c IdempotencyCache) HandlerOption {
	return func(h *Handler) { h.idempotency = c }
}

func WithProductName(name string) HandlerOption {
	return func(h *Handler) { h.productName = name }
}

// WithErrorDetails makes 500 responses carry the underlying error text.
// Meant for local debugging only.
func WithErrorDetails(enabled bool) HandlerOption {
	return func(h *Handler) { h.exposeErrors = enabled }
}

func NewHandler(store Store, logger *slog.Logger, opts ...HandlerOption) (*Handler, error) {
	metrics, err := newOrderMetrics()
	if err != nil {
		return nil, err
	}

	h := &Handler{
		store:   store,
		metrics: metrics,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(h)
	}

	return h, nil
}

// RegisterRoutes mounts the order API on mux. Each handler is passed through
// wrap, in order.
func (h *Handler) RegisterRoutes(mux *http.ServeMux, wrap ...func(http.HandlerFunc) http.HandlerFunc) {
	route := func(pattern string, fn http.HandlerFunc) {
		for _, w := range wrap {
			fn = w(fn)
		}
		mux.HandleFunc(pattern, fn)
	}

	route("POST /api/orders", h.HandleCreate)
	route("GET /api/orders", h.HandleList)
	route("PATCH /api/orders/{id}/complete", h.HandleComplete)
	route("PATCH /api/orders/{id}/cancel-request", h.HandleCancelRequest)
	route("PATCH /api/orders/{id}/cancel", h.HandleCancel)
	route("DELETE /api/orders/all", h.HandleDeleteAll)
	route("DELETE /api/orders/{id}", h.HandleDelete)
}

// amount accepts totalAmount both as a JSON string and as a JSON number.
// A zero number counts as missing, like an empty string.
type amount string

func (a *amount) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = amount(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	if f, err := n.Float64(); err == nil && f == 0 {
		return nil
	}
	*a = amount(n.String())
	return nil
}

// count accepts quantity as a JSON integer or a numeric string. Anything
// that is not a whole number in range decodes to 0 and fails validation.
type count int64

func (c *count) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}

	raw := string(data)
	if len(data) > 0 && data[0] == '"' {
		if err := json.Unmarshal(data, &raw); err != nil {
			return err
		}
		raw = strings.TrimSpace(raw)
	} else {
		var n json.Number
		if err := json.Unmarshal(data, &n); err != nil {
			return err
		}
		raw = n.String()
	}

	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		*c = 0
		return nil
	}
	*c = count(n)
	return nil
}

type createOrderRequest struct {
	Quantity    count  `json:"quantity"`
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	Address     string `json:"address"`
	TotalAmount amount `json:"totalAmount"`
}

func (req createOrderRequest) valid() bool {
	return req.Quantity > 0 && req.Name != "" && req.Phone != "" && req.Address != "" && req.TotalAmount != ""
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if !req.valid() {
		h.logger.Info("order rejected", "reason", "missing required fields")
		h.writeError(w, http.StatusBadRequest, missingFieldsMessage)
		return
	}

	var key string
	if h.idempotency != nil {
		key = strings.TrimSpace(r.Header.Get(IdempotencyHeader))
	}
	if key != "" {
		cached, reserved, err := h.idempotency.Reserve(ctx, key)
		switch {
		case errors.Is(err, ErrSubmissionInProgress):
			h.logger.Info("order submission already in progress", "key", key)
			h.writeError(w, http.StatusConflict, err.Error())
			return
		case err != nil:
			h.logger.Warn("idempotency reservation failed", "error", err, "key", key)
			key = ""
		case !reserved:
			h.logger.Info("order submission replayed", "order_id", cached.ID, "key", key)
			w.Header().Set(ReplayedHeader, "true")
			h.writeJSON(w, http.StatusCreated, cached)
			return
		}
	}

	order, err := h.store.Create(ctx, domain.NewOrder{
		ProductName: h.productName,
		Quantity:    int(req.Quantity),
		BuyerName:   req.Name,
		Phone:       req.Phone,
		Address:     req.Address,
		TotalAmount: string(req.TotalAmount),
	})
	if err != nil {
		h.logger.Error("failed to create order", "error", err)
		if key != "" {
			if err := h.idempotency.Release(ctx, key); err != nil {
				h.logger.Warn("failed to release idempotency key", "error", err, "key", key)
			}
		}
		h.writeStoreError(w, err)
		return
	}

	if key != "" {
		if err := h.idempotency.Remember(ctx, key, order); err != nil {
			h.logger.Warn("failed to remember idempotency key", "error", err, "key", key, "order_id", order.ID)
		}
	}

	h.metrics.orderCreated(ctx)
	h.publish(ctx, domain.OrderEventCreated, order.ID, &order)

	h.logger.Info("order created", "order_id", order.ID, "quantity", order.Quantity)
	h.writeJSON(w, http.StatusCreated, order)
}

func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	orders, err := h.store.List(r.Context())
	if err != nil {
		h.logger.Error("failed to list orders", "error", err)
		h.writeStoreError(w, err)
		return
	}

	h.logger.Info("orders listed", "count", len(orders))
	h.writeJSON(w, http.StatusOK, orders)
}

type completeRequest struct {
	TrackingNumber string `json:"trackingNumber"`
	Carrier        string `json:"carrier"`
}

func (h *Handler) HandleComplete(w http.ResponseWriter, r *http.Request) {
	var req completeRequest
	if err := decodeOptional(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.transition(w, r, domain.OrderStatusCompleted, domain.StatusDetails{
		TrackingNumber:  req.TrackingNumber,
		TrackingCarrier: req.Carrier,
	})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) HandleCancelRequest(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeOptional(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.transition(w, r, domain.OrderStatusCancelRequested, domain.StatusDetails{CancellationReason: req.Reason})
}

func (h *Handler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := decodeOptional(r, &req); err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.transition(w, r, domain.OrderStatusCancelled, domain.StatusDetails{CancellationReason: req.Reason})
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, status domain.OrderStatus, details domain.StatusDetails) {
	ctx := r.Context()

	id, ok := orderID(r)
	if !ok {
		h.writeError(w, http.StatusNotFound, ErrNotFound.Error())
		return
	}

	order, err := h.store.SetStatus(ctx, id, status, details)
	if err != nil {
		h.logger.Error("failed to update order status", "error", err, "order_id", id, "status", status)
		h.writeStoreError(w, err)
		return
	}

	h.metrics.statusChanged(ctx, status)
	h.publish(ctx, domain.OrderEventStatusChanged, order.ID, &order)

	h.logger.Info("order status updated", "order_id", order.ID, "status", order.Status)
	h.writeJSON(w, http.StatusOK, order)
}

func (h *Handler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	id, ok := orderID(r)
	if !ok {
		h.writeError(w, http.StatusNotFound, ErrNotFound.Error())
		return
	}

	if err := h.store.Delete(ctx, id); err != nil {
		h.logger.Error("failed to delete order", "error", err, "order_id", id)
		h.writeStoreError(w, err)
		return
	}

	h.metrics.orderDeleted(ctx, "one")
	h.publish(ctx, domain.OrderEventDeleted, id, nil)

	h.logger.Info("order deleted", "order_id", id)
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "order deleted"})
}

func (h *Handler) HandleDeleteAll(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	if err := h.store.DeleteAll(ctx); err != nil {
		h.logger.Error("failed to delete all orders", "error", err)
		h.writeStoreError(w, err)
		return
	}

	h.metrics.orderDeleted(ctx, "all")
	h.publish(ctx, domain.OrderEventPurged, 0, nil)

	h.logger.Info("all orders deleted")
	h.writeJSON(w, http.StatusOK, map[string]string{"message": "all orders deleted"})
}

// publish is best effort: a broker failure never fails the request.
func (h *Handler) publish(ctx context.Context, eventType domain.OrderEventType, id int64, order *domain.Order) {
	if h.publisher == nil {
		return
	}

	event := domain.OrderEvent{
		EventID:   uuid.New().String(),
		Type:      eventType,
		Order:     order,
		OrderID:   id,
		Timestamp: time.Now().UTC(),
	}
	if err := h.publisher.Publish(ctx, strconv.FormatInt(id, 10), event); err != nil {
		h.logger.Error("failed to publish order event", "error", err, "type", eventType, "order_id", id)
	}
}

func orderID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// decodeOptional decodes a JSON body into v, treating an empty body as {}.
func decodeOptional(r *http.Request, v any) error {
	err := json.NewDecoder(r.Body).Decode(v)
	if errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

func (h *Handler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		h.writeError(w, http.StatusNotFound, ErrNotFound.Error())
	case errors.Is(err, ErrInvalidTransition):
		h.writeError(w, http.StatusConflict, err.Error())
	case h.exposeErrors:
		h.writeError(w, http.StatusInternalServerError, err.Error())
	default:
		h.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"message": message})
}
