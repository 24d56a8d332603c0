//go:build integration

package test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"

	"github.com/joao-fontenele/order-intake/internal/domain"
	"github.com/joao-fontenele/order-intake/internal/messaging"
	"github.com/joao-fontenele/order-intake/internal/notify"
	"github.com/joao-fontenele/order-intake/internal/orders"
	"github.com/joao-fontenele/order-intake/internal/worker"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newPostgresStore(ctx context.Context, t *testing.T) *orders.PostgresStore {
	t.Helper()

	pg := SetupPostgres(ctx, t)
	t.Cleanup(pg.Cleanup)

	db, err := OpenDB(pg.ConnStr)
	if err != nil {
		t.Fatalf("failed to open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	return orders.NewPostgresStore(db)
}

func sampleOrder(buyer string) domain.NewOrder {
	return domain.NewOrder{
		ProductName: "Signature Gift Set",
		Quantity:    1,
		BuyerName:   buyer,
		Phone:       "010-0000-0000",
		Address:     "Busan",
		TotalAmount: "10000",
	}
}

func TestPostgresStore(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store := newPostgresStore(ctx, t)

	first, err := store.Create(ctx, sampleOrder("first"))
	if err != nil {
		t.Fatalf("failed to create order: %v", err)
	}
	if first.ID != 1 {
		t.Fatalf("expected first id 1, got %d", first.ID)
	}
	if first.Status != domain.OrderStatusPending {
		t.Fatalf("expected status %s, got %s", domain.OrderStatusPending, first.Status)
	}

	second, err := store.Create(ctx, sampleOrder("second"))
	if err != nil {
		t.Fatalf("failed to create order: %v", err)
	}

	list, err := store.List(ctx)
	if err != nil {
		t.Fatalf("failed to list orders: %v", err)
	}
	if len(list) != 2 || list[0].ID != second.ID || list[1].ID != first.ID {
		t.Fatalf("expected newest first, got %+v", list)
	}

	completed, err := store.SetStatus(ctx, first.ID, domain.OrderStatusCompleted, domain.StatusDetails{
		TrackingNumber:  "TN-1",
		TrackingCarrier: "CJ",
	})
	if err != nil {
		t.Fatalf("failed to complete order: %v", err)
	}
	if completed.Status != domain.OrderStatusCompleted || completed.TrackingNumber != "TN-1" || completed.TrackingCarrier != "CJ" {
		t.Fatalf("unexpected completed order: %+v", completed)
	}

	_, err = store.SetStatus(ctx, first.ID, domain.OrderStatusCancelled, domain.StatusDetails{})
	if !errors.Is(err, orders.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition, got %v", err)
	}

	_, err = store.SetStatus(ctx, 999, domain.OrderStatusCompleted, domain.StatusDetails{})
	if !errors.Is(err, orders.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := store.Delete(ctx, second.ID); err != nil {
		t.Fatalf("failed to delete order: %v", err)
	}
	if err := store.Delete(ctx, second.ID); !errors.Is(err, orders.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}

	if err := store.DeleteAll(ctx); err != nil {
		t.Fatalf("failed to delete all orders: %v", err)
	}

	list, err = store.List(ctx)
	if err != nil {
		t.Fatalf("failed to list orders: %v", err)
	}
	if list == nil || len(list) != 0 {
		t.Fatalf("expected empty non-nil list, got %#v", list)
	}

	bulk := sampleOrder("bulk")
	bulk.Quantity = 3_000_000_000
	large, err := store.Create(ctx, bulk)
	if err != nil {
		t.Fatalf("failed to create order with large quantity: %v", err)
	}
	list, err = store.List(ctx)
	if err != nil {
		t.Fatalf("failed to list orders: %v", err)
	}
	if len(list) != 1 || list[0].Quantity != large.Quantity {
		t.Fatalf("expected quantity %d to round-trip, got %+v", large.Quantity, list)
	}
	if err := store.DeleteAll(ctx); err != nil {
		t.Fatalf("failed to delete all orders: %v", err)
	}

	restarted, err := store.Create(ctx, sampleOrder("after purge"))
	if err != nil {
		t.Fatalf("failed to create order: %v", err)
	}
	if restarted.ID != 1 {
		t.Fatalf("expected ids to restart at 1, got %d", restarted.ID)
	}
}

func TestOrderLifecycleOverPostgres(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	store := newPostgresStore(ctx, t)
	handler, err := orders.NewHandler(store, discardLogger(), orders.WithProductName("Signature Gift Set"))
	if err != nil {
		t.Fatalf("failed to create handler: %v", err)
	}

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		var reader io.Reader
		if body != "" {
			reader = strings.NewReader(body)
		}
		req := httptest.NewRequest(method, path, reader)
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodPost, "/api/orders", `{"quantity":2,"name":"Kim","phone":"010-1111-2222","address":"Seoul","totalAmount":"20000"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	var created domain.Order
	if err := json.NewDecoder(rec.Body).Decode(&created); err != nil {
		t.Fatalf("failed to decode order: %v", err)
	}
	if created.ProductName != "Signature Gift Set" || created.BuyerName != "Kim" || created.Status != domain.OrderStatusPending {
		t.Fatalf("unexpected created order: %+v", created)
	}

	rec = do(http.MethodPatch, "/api/orders/1/cancel-request", `{"reason":"changed my mind"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = do(http.MethodPatch, "/api/orders/1/cancel", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	var cancelled domain.Order
	if err := json.NewDecoder(rec.Body).Decode(&cancelled); err != nil {
		t.Fatalf("failed to decode order: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled || cancelled.CancellationReason != "changed my mind" {
		t.Fatalf("unexpected cancelled order: %+v", cancelled)
	}

	rec = do(http.MethodPatch, "/api/orders/1/complete", "")
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status %d, got %d: %s", http.StatusConflict, rec.Code, rec.Body.String())
	}

	rec = do(http.MethodDelete, "/api/orders/1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}

	rec = do(http.MethodGet, "/api/orders", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Fatalf("expected empty list, got %s", body)
	}
}

func TestOrderEventsRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	brokers, cleanup := SetupKafka(ctx, t)
	defer cleanup()

	const topic = "order.events.test"

	CreateTopic(ctx, t, brokers, topic)

	producer := messaging.NewProducer(brokers, topic)
	defer func() { _ = producer.Close() }()

	order := &domain.Order{ID: 42, BuyerName: "Lee", Phone: "010-3333-4444", Status: domain.OrderStatusPending}
	event := domain.OrderEvent{EventID: "evt-1", Type: domain.OrderEventCreated, Order: order, OrderID: 42, Timestamp: time.Now().UTC()}

	if err := producer.Publish(ctx, "42", event); err != nil {
		t.Fatalf("failed to publish event: %v", err)
	}

	consumer := messaging.NewConsumer(brokers, topic, "integration-test", messaging.WithStartOffset(kafka.FirstOffset))
	defer func() { _ = consumer.Close() }()

	type received struct {
		eventType string
		event     domain.OrderEvent
	}
	got := make(chan received, 1)

	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()

	go func() {
		_ = consumer.Consume(consumeCtx, func(_ context.Context, eventType string, payload []byte) error {
			var e domain.OrderEvent
			if err := json.Unmarshal(payload, &e); err != nil {
				return err
			}
			select {
			case got <- received{eventType: eventType, event: e}:
			default:
			}
			return nil
		})
	}()

	select {
	case r := <-got:
		if r.eventType != string(domain.OrderEventCreated) {
			t.Fatalf("expected event type header %q, got %q", domain.OrderEventCreated, r.eventType)
		}
		if r.event.OrderID != 42 || r.event.Order == nil || r.event.Order.BuyerName != "Lee" {
			t.Fatalf("unexpected event: %+v", r.event)
		}
	case <-time.After(time.Minute):
		t.Fatal("timed out waiting for order event")
	}
}

type sentMessages struct {
	mu   sync.Mutex
	msgs []notify.Message
}

func (s *sentMessages) handler(w http.ResponseWriter, r *http.Request) {
	var msg notify.Message
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		http.Error(w, "invalid request", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	s.msgs = append(s.msgs, msg)
	s.mu.Unlock()
	w.WriteHeader(http.StatusOK)
}

func (s *sentMessages) all() []notify.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]notify.Message, len(s.msgs))
	copy(out, s.msgs)
	return out
}

func TestNotificationFlow(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	brokers, cleanup := SetupKafka(ctx, t)
	defer cleanup()

	const topic = "order.events.flow"
	CreateTopic(ctx, t, brokers, topic)

	sent := &sentMessages{}
	notifyServer := httptest.NewServer(http.HandlerFunc(sent.handler))
	defer notifyServer.Close()

	producer := messaging.NewProducer(brokers, topic)
	defer func() { _ = producer.Close() }()

	handler, err := orders.NewHandler(orders.NewMemoryStore(), discardLogger(), orders.WithPublisher(producer))
	if err != nil {
		t.Fatalf("failed to create handler: %v", err)
	}

	body := `{"quantity":1,"name":"Park","phone":"010-5555-6666","address":"Incheon","totalAmount":15000}`
	req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(body))
	rec := httptest.NewRecorder()
	handler.HandleCreate(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, rec.Code, rec.Body.String())
	}

	notifications := worker.NewNotificationHandler(notifyServer.URL, notifyServer.Client(), discardLogger())
	consumer := messaging.NewConsumer(brokers, topic, "notification-test", messaging.WithStartOffset(kafka.FirstOffset))
	defer func() { _ = consumer.Close() }()

	consumeCtx, stop := context.WithCancel(ctx)
	defer stop()
	go func() { _ = consumer.Consume(consumeCtx, notifications.Handle) }()

	deadline := time.Now().Add(time.Minute)
	for time.Now().Before(deadline) {
		if msgs := sent.all(); len(msgs) > 0 {
			if msgs[0].To != "010-5555-6666" {
				t.Fatalf("expected notification to buyer phone, got %s", msgs[0].To)
			}
			return
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatal("timed out waiting for notification")
}

func TestRedisIdempotency(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	addr, cleanup := SetupRedis(ctx, t)
	defer cleanup()

	client := redis.NewClient(&redis.Options{Addr: addr})
	defer func() { _ = client.Close() }()

	cache := orders.NewRedisIdempotency(client, time.Minute)
	handler, err := orders.NewHandler(orders.NewMemoryStore(), discardLogger(), orders.WithIdempotency(cache))
	if err != nil {
		t.Fatalf("failed to create handler: %v", err)
	}

	submit := func() *httptest.ResponseRecorder {
		body := `{"quantity":1,"name":"Choi","phone":"010-7777-8888","address":"Daegu","totalAmount":"9000"}`
		req := httptest.NewRequest(http.MethodPost, "/api/orders", strings.NewReader(body))
		req.Header.Set(orders.IdempotencyHeader, "form-123")
		rec := httptest.NewRecorder()
		handler.HandleCreate(rec, req)
		return rec
	}

	first := submit()
	if first.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, first.Code, first.Body.String())
	}
	if first.Header().Get(orders.ReplayedHeader) != "" {
		t.Fatal("first submission must not be marked as replayed")
	}

	second := submit()
	if second.Code != http.StatusCreated {
		t.Fatalf("expected status %d, got %d: %s", http.StatusCreated, second.Code, second.Body.String())
	}
	if second.Header().Get(orders.ReplayedHeader) != "true" {
		t.Fatal("expected second submission to be replayed")
	}

	var a, b domain.Order
	_ = json.Unmarshal(first.Body.Bytes(), &a)
	_ = json.Unmarshal(second.Body.Bytes(), &b)
	if a.ID != b.ID {
		t.Fatalf("expected the same order, got ids %d and %d", a.ID, b.ID)
	}

	ttl, err := client.TTL(ctx, "idempotency:order:form-123").Result()
	if err != nil {
		t.Fatalf("failed to read ttl: %v", err)
	}
	if ttl <= 0 || ttl > time.Minute {
		t.Fatalf("expected ttl within a minute, got %v", ttl)
	}

	t.Run("reservation blocks a concurrent submission", func(t *testing.T) {
		if _, reserved, err := cache.Reserve(ctx, "in-flight"); err != nil || !reserved {
			t.Fatalf("expected first reservation to succeed, got reserved=%v err=%v", reserved, err)
		}

		if _, _, err := cache.Reserve(ctx, "in-flight"); !errors.Is(err, orders.ErrSubmissionInProgress) {
			t.Fatalf("expected ErrSubmissionInProgress, got %v", err)
		}

		if err := cache.Release(ctx, "in-flight"); err != nil {
			t.Fatalf("failed to release key: %v", err)
		}
		if _, reserved, err := cache.Reserve(ctx, "in-flight"); err != nil || !reserved {
			t.Fatalf("expected key to be reservable after release, got reserved=%v err=%v", reserved, err)
		}
	})
}
