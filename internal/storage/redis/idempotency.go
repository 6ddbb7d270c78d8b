// Package redis stores checkout idempotency keys in Redis.
package redis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/xenking/storefront/internal/domain/order"
)

// pendingPrefix marks a key whose order is still being placed. The rest of
// the value is the token of the reservation holding it.
const pendingPrefix = "\x00pending:"

var (
	// ErrInProgress is returned when another request holding the same key
	// has not finished yet.
	ErrInProgress = order.ErrRequestInProgress

	// ErrReclaimed is returned by Complete when the reservation expired and
	// another request claimed the key.
	ErrReclaimed = errors.New("idempotency key was reclaimed by another request")
)

// completeScript replaces a reservation with the order id only while the
// caller's reservation still holds the key.
var completeScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("SET", KEYS[1], ARGV[2], "PX", ARGV[3])
	return 1
end
return 0`)

// releaseScript deletes the key only while the caller's reservation still
// holds it.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// IdempotencyStore maps a customer's idempotency key to the order it created.
type IdempotencyStore struct {
	client *goredis.Client
	ttl    time.Duration
}

// NewClient parses redisURL, connects and pings the server.
func NewClient(ctx context.Context, redisURL string) (*goredis.Client, error) {
	opts, err := goredis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}

	client := goredis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return client, nil
}

// NewIdempotencyStore returns a store whose keys expire after ttl.
func NewIdempotencyStore(client *goredis.Client, ttl time.Duration) *IdempotencyStore {
	return &IdempotencyStore{client: client, ttl: ttl}
}

func idemKey(customerID, key string) string {
	return "idem:order:" + customerID + ":" + key
}

// Reserve claims key for customerID and returns the token of the new
// reservation. If the key already maps to an order, that order id is
// returned with an empty token. A key held by a request that has not
// completed yet yields ErrInProgress.
func (s *IdempotencyStore) Reserve(ctx context.Context, customerID, key string) (orderID, token string, err error) {
	k := idemKey(customerID, key)
	token = uuid.NewString()
	marker := pendingPrefix + token

	ok, err := s.client.SetNX(ctx, k, marker, s.ttl).Result()
	if err != nil {
		return "", "", fmt.Errorf("reserving idempotency key: %w", err)
	}
	if ok {
		return "", token, nil
	}

	val, err := s.client.Get(ctx, k).Result()
	switch {
	case errors.Is(err, goredis.Nil):
		// Expired between SETNX and GET; try once more.
		ok, err := s.client.SetNX(ctx, k, marker, s.ttl).Result()
		if err != nil {
			return "", "", fmt.Errorf("reserving idempotency key: %w", err)
		}
		if ok {
			return "", token, nil
		}
		return "", "", ErrInProgress
	case err != nil:
		return "", "", fmt.Errorf("reading idempotency key: %w", err)
	case strings.HasPrefix(val, pendingPrefix):
		return "", "", ErrInProgress
	default:
		return val, "", nil
	}
}

// Complete records the order created under the reservation token. It fails
// with ErrReclaimed if the reservation no longer holds the key.
func (s *IdempotencyStore) Complete(ctx context.Context, customerID, key, token, orderID string) error {
	n, err := completeScript.Run(ctx, s.client,
		[]string{idemKey(customerID, key)},
		pendingPrefix+token, orderID, s.ttl.Milliseconds(),
	).Int()
	if err != nil {
		return fmt.Errorf("completing idempotency key: %w", err)
	}
	if n == 0 {
		return ErrReclaimed
	}
	return nil
}

// Release frees the key after a failed placement so the client may retry.
// A key reclaimed by another request is left alone.
func (s *IdempotencyStore) Release(ctx context.Context, customerID, key, token string) error {
	err := releaseScript.Run(ctx, s.client, []string{idemKey(customerID, key)}, pendingPrefix+token).Err()
	if err != nil {
		return fmt.Errorf("releasing idempotency key: %w", err)
	}
	return nil
}
