package orders

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/joao-fontenele/order-intake/internal/domain"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	ReplayedHeader    = "Idempotent-Replayed"
)

// ErrSubmissionInProgress is returned by Reserve while another request
// holding the same key has not finished creating its order.
var ErrSubmissionInProgress = errors.New("a submission with this idempotency key is in progress")

// pendingMarker holds a reserved key until the order is remembered. It
// expires on its own if the reserving process dies.
const (
	pendingMarker   = "pending"
	reservationTTL  = 30 * time.Second
	reserveAttempts = 2
)

// IdempotencyCache remembers the order created for a client-supplied key so
// a resubmitted form does not create a second order.
//
// Reserve claims key for the caller and reports true. When key is already
// taken it returns the remembered order and false, or ErrSubmissionInProgress
// if the first request is still running. The holder of a reservation must
// either Remember the created order or Release the key.
type IdempotencyCache interface {
	Reserve(ctx context.Context, key string) (domain.Order, bool, error)
	Remember(ctx context.Context, key string, order domain.Order) error
	Release(ctx context.Context, key string) error
}

type RedisIdempotency struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewRedisIdempotency(client redis.Cmdable, ttl time.Duration) *RedisIdempotency {
	return &RedisIdempotency{client: client, ttl: ttl}
}

func (c *RedisIdempotency) Reserve(ctx context.Context, key string) (domain.Order, bool, error) {
	for range reserveAttempts {
		ok, err := c.client.SetNX(ctx, redisKey(key), pendingMarker, min(c.ttl, reservationTTL)).Result()
		if err != nil {
			return domain.Order{}, false, err
		}
		if ok {
			return domain.Order{}, true, nil
		}

		data, err := c.client.Get(ctx, redisKey(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			// expired or released between the two calls
			continue
		}
		if err != nil {
			return domain.Order{}, false, err
		}
		if string(data) == pendingMarker {
			return domain.Order{}, false, ErrSubmissionInProgress
		}

		var order domain.Order
		if err := json.Unmarshal(data, &order); err != nil {
			return domain.Order{}, false, err
		}
		return order, false, nil
	}

	return domain.Order{}, false, ErrSubmissionInProgress
}

// Remember replaces the reservation on key with order.
func (c *RedisIdempotency) Remember(ctx context.Context, key string, order domain.Order) error {
	data, err := json.Marshal(order)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, redisKey(key), data, c.ttl).Err()
}

func (c *RedisIdempotency) Release(ctx context.Context, key string) error {
	return c.client.Del(ctx, redisKey(key)).Err()
}

func redisKey(key string) string {
	return "idempotency:order:" + key
}
