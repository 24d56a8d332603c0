package orders

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/joao-fontenele/order-intake/internal/domain"
)

const meterName = "github.com/joao-fontenele/order-intake/internal/orders"

type orderMetrics struct {
	created       metric.Int64Counter
	statusChanges metric.Int64Counter
	deleted       metric.Int64Counter
}

// newOrderMetrics registers the order counters on the global MeterProvider,
// which is a no-op until telemetry.InitMeterProvider runs.
func newOrderMetrics() (*orderMetrics, error) {
	meter := otel.Meter(meterName)

	created, err := meter.Int64Counter("orders.created",
		metric.WithDescription("Number of orders submitted."),
		metric.WithUnit("{order}"),
	)
	if err != nil {
		return nil, err
	}

	statusChanges, err := meter.Int64Counter("orders.status_changes",
		metric.WithDescription("Number of order status transitions, by target status."),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		return nil, err
	}

	deleted, err := meter.Int64Counter("orders.deleted",
		metric.WithDescription("Number of delete operations, by scope."),
		metric.WithUnit("{operation}"),
	)
	if err != nil {
		return nil, err
	}

	return &orderMetrics{created: created, statusChanges: statusChanges, deleted: deleted}, nil
}

func (m *orderMetrics) orderCreated(ctx context.Context) {
	m.created.Add(ctx, 1)
}

func (m *orderMetrics) statusChanged(ctx context.Context, status domain.OrderStatus) {
	m.statusChanges.Add(ctx, 1, metric.WithAttributes(attribute.String("status", string(status))))
}

func (m *orderMetrics) orderDeleted(ctx context.Context, scope string) {
	m.deleted.Add(ctx, 1, metric.WithAttributes(attribute.String("scope", scope)))
}
