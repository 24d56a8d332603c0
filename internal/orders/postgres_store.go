package orders

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/joao-fontenele/order-intake/internal/domain"
)

const orderColumns = `id, product_name, quantity, buyer_name, phone, address, total_amount,
	status, tracking_number, tracking_carrier, cancellation_reason, created_at`

// PostgresStore persists orders in the orders table.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Create(ctx context.Context, o domain.NewOrder) (domain.Order, error) {
	order := domain.Order{
		ProductName: o.ProductName,
		Quantity:    o.Quantity,
		BuyerName:   o.BuyerName,
		Phone:       o.Phone,
		Address:     o.Address,
		TotalAmount: o.TotalAmount,
		Status:      domain.OrderStatusPending,
		// timestamptz keeps microseconds
		OrderDate: time.Now().UTC().Truncate(time.Microsecond),
	}

	err := s.db.QueryRowContext(ctx, `
		INSERT INTO orders (product_name, quantity, buyer_name, phone, address, total_amount, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`, order.ProductName, order.Quantity, order.BuyerName, order.Phone, order.Address,
		order.TotalAmount, order.Status, order.OrderDate).Scan(&order.ID)
	if err != nil {
		return domain.Order{}, storageError("insert order", err)
	}

	return order, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]domain.Order, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, storageError("list orders", err)
	}
	defer func() { _ = rows.Close() }()

	orders := []domain.Order{}
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, storageError("scan order", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, storageError("list orders", err)
	}

	return orders, nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, id int64, status domain.OrderStatus, details domain.StatusDetails) (domain.Order, error) {
	from := make([]string, 0, 2)
	for _, st := range domain.SourcesOf(status) {
		from = append(from, string(st))
	}

	order, err := scanOrder(s.db.QueryRowContext(ctx, `
		UPDATE orders
		SET status = $2,
			tracking_number = COALESCE(NULLIF($3::text, ''), tracking_number),
			tracking_carrier = COALESCE(NULLIF($4::text, ''), tracking_carrier),
			cancellation_reason = COALESCE(NULLIF($5::text, ''), cancellation_reason)
		WHERE id = $1 AND status = ANY($6::text[])
		RETURNING `+orderColumns,
		id, status, details.TrackingNumber, details.TrackingCarrier, details.CancellationReason, pq.Array(from)))
	if err == nil {
		return order, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, storageError("update order status", err)
	}

	// Nothing matched: tell a missing order apart from a disallowed transition.
	var current string
	err = s.db.QueryRowContext(ctx, `SELECT status FROM orders WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Order{}, ErrNotFound
	}
	if err != nil {
		return domain.Order{}, storageError("get order status", err)
	}

	return domain.Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
}

func (s *PostgresStore) Delete(ctx context.Context, id int64) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM orders WHERE id = $1`, id)
	if err != nil {
		return storageError("delete order", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return storageError("delete order", err)
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

func (s *PostgresStore) DeleteAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `TRUNCATE orders RESTART IDENTITY`); err != nil {
		return storageError("delete all orders", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (domain.Order, error) {
	var (
		order                                    domain.Order
		trackingNumber, trackingCarrier, reason sql.NullString
	)

	err := row.Scan(&order.ID, &order.ProductName, &order.Quantity, &order.BuyerName, &order.Phone,
		&order.Address, &order.TotalAmount, &order.Status, &trackingNumber, &trackingCarrier,
		&reason, &order.OrderDate)
	if err != nil {
		return domain.Order{}, err
	}

	order.TrackingNumber = trackingNumber.String
	order.TrackingCarrier = trackingCarrier.String
	order.CancellationReason = reason.String
	order.OrderDate = order.OrderDate.UTC()

	return order, nil
}

func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
