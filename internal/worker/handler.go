package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/joao-fontenele/order-intake/internal/domain"
	"github.com/joao-fontenele/order-intake/internal/notify"
)

// NotificationHandler turns order events into buyer notifications sent to
// the notification service.
type NotificationHandler struct {
	notifyServiceURL string
	httpClient       *http.Client
	logger           *slog.Logger
}

func NewNotificationHandler(notifyServiceURL string, client *http.Client, logger *slog.Logger) *NotificationHandler {
	return &NotificationHandler{
		notifyServiceURL: notifyServiceURL,
		httpClient:       client,
		logger:           logger,
	}
}

// Handle processes one order event. Undecodable payloads are logged and
// skipped so they do not block the partition; delivery failures are returned.
func (h *NotificationHandler) Handle(ctx context.Context, eventType string, payload []byte) error {
	var event domain.OrderEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.Error("skipping undecodable order event", "error", err, "event_type", eventType)
		return nil
	}

	msg, ok := notificationFor(event)
	if !ok {
		h.logger.Debug("no notification for order event", "type", event.Type, "order_id", event.OrderID)
		return nil
	}

	h.logger.Info("processing order event", "type", event.Type, "order_id", event.Order.ID)

	if err := h.send(ctx, msg); err != nil {
		h.logger.Error("failed to send notification", "error", err, "order_id", event.Order.ID)
		return fmt.Errorf("send notification for order %d: %w", event.Order.ID, err)
	}

	h.logger.Info("notification delivered", "order_id", event.Order.ID, "subject", msg.Subject)
	return nil
}

func notificationFor(event domain.OrderEvent) (notify.Message, bool) {
	o := event.Order
	if o == nil || o.Phone == "" {
		return notify.Message{}, false
	}

	switch event.Type {
	case domain.OrderEventCreated:
		return notify.Message{
			To:      o.Phone,
			Subject: fmt.Sprintf("Order #%d received", o.ID),
			Body: fmt.Sprintf("Hi %s, we received your order for %d x %s (total %s).",
				o.BuyerName, o.Quantity, o.ProductName, o.TotalAmount),
		}, true
	case domain.OrderEventStatusChanged:
		return statusNotification(o)
	default:
		return notify.Message{}, false
	}
}

func statusNotification(o *domain.Order) (notify.Message, bool) {
	switch o.Status {
	case domain.OrderStatusCompleted:
		body := fmt.Sprintf("Hi %s, your order #%d has shipped.", o.BuyerName, o.ID)
		if o.TrackingNumber != "" {
			body += fmt.Sprintf(" Tracking: %s %s.", o.TrackingCarrier, o.TrackingNumber)
		}
		return notify.Message{To: o.Phone, Subject: fmt.Sprintf("Order #%d shipped", o.ID), Body: body}, true
	case domain.OrderStatusCancelRequested:
		return notify.Message{
			To:      o.Phone,
			Subject: fmt.Sprintf("Order #%d cancellation requested", o.ID),
			Body:    fmt.Sprintf("Hi %s, we received your request to cancel order #%d.", o.BuyerName, o.ID),
		}, true
	case domain.OrderStatusCancelled:
		body := fmt.Sprintf("Hi %s, your order #%d has been cancelled.", o.BuyerName, o.ID)
		if o.CancellationReason != "" {
			body += " Reason: " + o.CancellationReason + "."
		}
		return notify.Message{To: o.Phone, Subject: fmt.Sprintf("Order #%d cancelled", o.ID), Body: body}, true
	default:
		return notify.Message{}, false
	}
}

func (h *NotificationHandler) send(ctx context.Context, msg notify.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.notifyServiceURL+"/send", bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("notification service returned status %d", resp.StatusCode)
	}

	return nil
}
