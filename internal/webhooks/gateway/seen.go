package gatewaywebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/angelmondragon/commission-escrow/pkg/redis"
)

// SeenCache short-circuits redeliveries of events that already committed.
// The webhook_events unique key stays the source of truth; the cache only
// saves a transaction.
type SeenCache struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	scope string
}

func NewSeenCache(store redis.IdempotencyStore, ttl time.Duration, scope string) (*SeenCache, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &SeenCache{store: store, ttl: ttl, scope: scope}, nil
}

// Seen reports whether eventID was marked.
func (c *SeenCache) Seen(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	_, err := c.store.Get(ctx, c.store.IdempotencyKey(c.scope, eventID))
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("read seen marker: %w", err)
	}
	return true, nil
}

// Mark records eventID. Call it only after the event's transaction commits.
func (c *SeenCache) Mark(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	if _, err := c.store.SetNX(ctx, c.store.IdempotencyKey(c.scope, eventID), "1", c.ttl); err != nil {
		return fmt.Errorf("set seen marker: %w", err)
	}
	return nil
}
