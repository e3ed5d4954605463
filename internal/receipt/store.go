// Package receipt provides Redis-backed storage for read receipts. Receipts
// are shared across server instances, so two connections of the same
// identity marking the same message race on a single authoritative record.
package receipt

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// ReceiptPrefix is the Redis key prefix for per-message receipt hashes.
	ReceiptPrefix = "receipt:"

	// ReceiptTTL bounds how long receipt hashes live. Receipts older than
	// this are no longer queried by any client surface.
	ReceiptTTL = 30 * 24 * time.Hour
)

// Store manages read receipts in Redis. It implements engine.ReceiptStore.
type Store struct {
	client *redis.Client
}

// NewStore creates a receipt store connected to Redis.
func NewStore(redisAddr string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("receipt: redis connection failed: %w", err)
	}

	return &Store{client: client}, nil
}

// NewStoreWithClient wraps an existing Redis client, sharing the connection
// pool with other stores.
func NewStoreWithClient(client *redis.Client) *Store {
	return &Store{client: client}
}

// Mark records that identity read the message at the given time. The first
// write for a (message, identity) pair wins: a later Mark returns the
// original timestamp with set=false. HSetNX makes the race atomic.
func (s *Store) Mark(ctx context.Context, messageID, identity string, at time.Time) (time.Time, bool, error) {
	key := ReceiptPrefix + messageID

	set, err := s.client.HSetNX(ctx, key, identity, at.UnixNano()).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("receipt: mark: %w", err)
	}
	if set {
		s.client.Expire(ctx, key, ReceiptTTL)
		return at, true, nil
	}

	raw, err := s.client.HGet(ctx, key, identity).Result()
	if err != nil {
		return time.Time{}, false, fmt.Errorf("receipt: read existing: %w", err)
	}
	nanos, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("receipt: parse existing %q: %w", raw, err)
	}
	return time.Unix(0, nanos).UTC(), false, nil
}

// ReadBy returns the identities that read the message and when.
func (s *Store) ReadBy(ctx context.Context, messageID string) (map[string]time.Time, error) {
	raw, err := s.client.HGetAll(ctx, ReceiptPrefix+messageID).Result()
	if err != nil {
		return nil, fmt.Errorf("receipt: read all: %w", err)
	}

	out := make(map[string]time.Time, len(raw))
	for identity, val := range raw {
		nanos, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("receipt: parse %q: %w", val, err)
		}
		out[identity] = time.Unix(0, nanos).UTC()
	}
	return out, nil
}

// Close releases the underlying Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
