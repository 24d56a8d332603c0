package domain

import "time"

type OrderEventType string

const (
	OrderEventCreated       OrderEventType = "order.created"
	OrderEventStatusChanged OrderEventType = "order.status_changed"
	OrderEventDeleted       OrderEventType = "order.deleted"
	OrderEventPurged        OrderEventType = "order.purged"
)

type OrderEvent struct {
	EventID   string         `json:"event_id"`
	Type      OrderEventType `json:"type"`
	Order     *Order         `json:"order,omitempty"`
	OrderID   int64          `json:"order_id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

func (e OrderEvent) EventType() string {
	return string(e.Type)
}
