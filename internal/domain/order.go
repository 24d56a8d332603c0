package domain

import "time"

type OrderStatus string

const (
	OrderStatusPending         OrderStatus = "PENDING"
	OrderStatusCompleted       OrderStatus = "COMPLETED"
	OrderStatusCancelRequested OrderStatus = "CANCEL_REQUESTED"
	OrderStatusCancelled       OrderStatus = "CANCELLED"
)

// transitions lists the statuses each status may move to. Statuses with no
// entry are terminal.
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:         {OrderStatusCompleted, OrderStatusCancelRequested, OrderStatusCancelled},
	OrderStatusCancelRequested: {OrderStatusCancelled},
}

// CanTransition reports whether an order in status from may move to status to.
func CanTransition(from, to OrderStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesOf returns every status from which to is reachable in one step.
func SourcesOf(to OrderStatus) []OrderStatus {
	var sources []OrderStatus
	for _, from := range []OrderStatus{OrderStatusPending, OrderStatusCancelRequested} {
		if CanTransition(from, to) {
			sources = append(sources, from)
		}
	}
	return sources
}

func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled
}

type Order struct {
	ID                 int64       `json:"id"`
	ProductName        string      `json:"productName"`
	Quantity           int         `json:"quantity"`
	BuyerName          string      `json:"buyerName"`
	Phone              string      `json:"phone"`
	Address            string      `json:"address"`
	TotalAmount        string      `json:"totalAmount"`
	Status             OrderStatus `json:"status"`
	TrackingNumber     string      `json:"trackingNumber,omitempty"`
	TrackingCarrier    string      `json:"trackingCarrier,omitempty"`
	CancellationReason string      `json:"cancellationReason,omitempty"`
	OrderDate          time.Time   `json:"orderDate"`
}

// NewOrder carries the buyer-supplied fields of a submission.
type NewOrder struct {
	ProductName string
	Quantity    int
	BuyerName   string
	Phone       string
	Address     string
	TotalAmount string
}

// StatusDetails holds the optional fields merged into an order on a status
// change. Empty values leave the stored field untouched.
type StatusDetails struct {
	TrackingNumber     string
	TrackingCarrier    string
	CancellationReason string
}

// Apply merges d into o.
func (d StatusDetails) Apply(o *Order) {
	if d.TrackingNumber != "" {
		o.TrackingNumber = d.TrackingNumber
	}
	if d.TrackingCarrier != "" {
		o.TrackingCarrier = d.TrackingCarrier
	}
	if d.CancellationReason != "" {
		o.CancellationReason = d.CancellationReason
	}
}
