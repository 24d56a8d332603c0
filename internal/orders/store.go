package orders

import (
	"context"
	"errors"

	"github.com/joao-fontenele/order-intake/internal/domain"
)

var (
	// ErrNotFound indicates the requested order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrInvalidTransition indicates the order's current status does not
	// allow the requested status.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrStorage wraps failures of the backing medium.
	ErrStorage = errors.New("storage error")
)

// Store persists orders. Implementations are selected once at startup.
type Store interface {
	Create(ctx context.Context, o domain.NewOrder) (domain.Order, error)
	List(ctx context.Context) ([]domain.Order, error)
	SetStatus(ctx context.Context, id int64, status domain.OrderStatus, details domain.StatusDetails) (domain.Order, error)
	Delete(ctx context.Context, id int64) error
	DeleteAll(ctx context.Context) error
}
