package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/payments-relay/pkg/enums"
	"github.com/angelmondragon/payments-relay/pkg/redis"
)

// RedisGuard claims ids with SETNX so the claim is a single atomic command.
// Claims expire after the lease; Complete rewrites the key with the full ttl.
type RedisGuard struct {
	store redis.IdempotencyStore
	ttl   time.Duration
	lease time.Duration
	scope string
}

func NewRedisGuard(store redis.IdempotencyStore, ttl time.Duration, scope string, opts ...Option) (*RedisGuard, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	if ttl < 0 {
		return nil, errors.New("ttl must be non-negative")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	o := buildOptions(opts)
	lease := o.lease
	if ttl > 0 && ttl < lease {
		lease = ttl
	}
	return &RedisGuard{
		store: store,
		ttl:   ttl,
		lease: lease,
		scope: scope,
	}, nil
}

func (g *RedisGuard) Claim(ctx context.Context, eventID, _ string) (Outcome, error) {
	if eventID == "" {
		return 0, errEventIDRequired
	}
	key := g.store.IdempotencyKey(g.scope, eventID)
	set, err := g.store.SetNX(ctx, key, string(enums.ProcessedOutcomeClaimed), g.lease)
	if err != nil {
		return 0, fmt.Errorf("set idempotency key: %w", err)
	}
	if !set {
		return Duplicate, nil
	}
	return Fresh, nil
}

func (g *RedisGuard) Complete(ctx context.Context, eventID string, outcome enums.ProcessedOutcome) error {
	if eventID == "" {
		return errEventIDRequired
	}
	key := g.store.IdempotencyKey(g.scope, eventID)
	if err := g.store.Set(ctx, key, string(outcome), g.ttl); err != nil {
		return fmt.Errorf("stamp idempotency key: %w", err)
	}
	return nil
}

// Release deletes the key only while it still holds an in-flight claim.
func (g *RedisGuard) Release(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errEventIDRequired
	}
	key := g.store.IdempotencyKey(g.scope, eventID)
	current, err := g.store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.ErrNotFound) {
			return nil
		}
		return fmt.Errorf("read idempotency key: %w", err)
	}
	if current != string(enums.ProcessedOutcomeClaimed) {
		return nil
	}
	return g.store.Del(ctx, key)
}
