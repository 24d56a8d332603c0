package orders

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/joao-fontenele/order-intake/internal/domain"
)

// MemoryStore keeps orders in process memory. It is used when no database
// is configured.
type MemoryStore struct {
	mu     sync.RWMutex
	orders []domain.Order
	nextID int64
	now    func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextID: 1,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Create(_ context.Context, o domain.NewOrder) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order := domain.Order{
		ID:          s.nextID,
		ProductName: o.ProductName,
		Quantity:    o.Quantity,
		BuyerName:   o.BuyerName,
		Phone:       o.Phone,
		Address:     o.Address,
		TotalAmount: o.TotalAmount,
		Status:      domain.OrderStatusPending,
		OrderDate:   s.now(),
	}
	s.nextID++
	s.orders = append(s.orders, order)

	return order, nil
}

func (s *MemoryStore) List(_ context.Context) ([]domain.Order, error) {
	s.mu.RLock()
	out := make([]domain.Order, len(s.orders))
	copy(out, s.orders)
	s.mu.RUnlock()

	slices.SortStableFunc(out, func(a, b domain.Order) int {
		if c := b.OrderDate.Compare(a.OrderDate); c != 0 {
			return c
		}
		return cmp.Compare(b.ID, a.ID)
	})

	return out, nil
}

func (s *MemoryStore) SetStatus(_ context.Context, id int64, status domain.OrderStatus, details domain.StatusDetails) (domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return domain.Order{}, ErrNotFound
	}

	order := &s.orders[i]
	if !domain.CanTransition(order.Status, status) {
		return domain.Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, status)
	}

	order.Status = status
	details.Apply(order)

	return *order, nil
}

func (s *MemoryStore) Delete(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(id)
	if i < 0 {
		return ErrNotFound
	}
	s.orders = slices.Delete(s.orders, i, i+1)

	return nil
}

func (s *MemoryStore) DeleteAll(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders = nil
	s.nextID = 1

	return nil
}

// indexOf must be called with s.mu held.
func (s *MemoryStore) indexOf(id int64) int {
	return slices.IndexFunc(s.orders, func(o domain.Order) bool { return o.ID == id })
}
