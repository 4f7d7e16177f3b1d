package delivery

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/angelmondragon/payments-relay/pkg/redis"
)

// Limiter enforces delivery ceilings. Reserve consumes one slot and returns
// zero when the delivery may proceed now; otherwise it consumes nothing and
// returns how long to wait.
type Limiter interface {
	Reserve(ctx context.Context, now time.Time) (time.Duration, error)
}

// LocalLimiter applies per-second and per-minute ceilings in process. Each
// window keeps a log of granted deliveries, so no sliding window of that
// length ever holds more than its ceiling.
type LocalLimiter struct {
	mu      sync.Mutex
	windows []*slidingWindow
}

type slidingWindow struct {
	limit   int
	length  time.Duration
	granted []time.Time
}

// NewLocalLimiter builds a limiter; a zero ceiling disables that window.
func NewLocalLimiter(perSecond, perMinute int) *LocalLimiter {
	l := &LocalLimiter{}
	if perMinute > 0 {
		l.windows = append(l.windows, &slidingWindow{limit: perMinute, length: time.Minute})
	}
	if perSecond > 0 {
		l.windows = append(l.windows, &slidingWindow{limit: perSecond, length: time.Second})
	}
	return l
}

func (l *LocalLimiter) Reserve(_ context.Context, now time.Time) (time.Duration, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	var wait time.Duration
	for _, w := range l.windows {
		if d := w.waitAt(now); d > wait {
			wait = d
		}
	}
	if wait > 0 {
		return wait, nil
	}
	for _, w := range l.windows {
		w.granted = append(w.granted, now)
	}
	return 0, nil
}

// waitAt drops grants older than the window and reports how long until a
// slot frees up.
func (w *slidingWindow) waitAt(now time.Time) time.Duration {
	keep := 0
	for keep < len(w.granted) && now.Sub(w.granted[keep]) >= w.length {
		keep++
	}
	w.granted = w.granted[keep:]
	if len(w.granted) < w.limit {
		return 0
	}
	return w.granted[len(w.granted)-w.limit].Add(w.length).Sub(now)
}

// RedisLimiter shares fixed-window ceilings across processes.
type RedisLimiter struct {
	store     redis.WindowLimiter
	scope     string
	perSecond int64
	perMinute int64
}

func NewRedisLimiter(store redis.WindowLimiter, scope string, perSecond, perMinute int) (*RedisLimiter, error) {
	if store == nil {
		return nil, fmt.Errorf("rate limit store is required")
	}
	if scope == "" {
		return nil, fmt.Errorf("rate limit scope is required")
	}
	return &RedisLimiter{
		store:     store,
		scope:     scope,
		perSecond: int64(perSecond),
		perMinute: int64(perMinute),
	}, nil
}

// Reserve counts against the minute window first so a denied minute never
// burns a per-second slot.
func (l *RedisLimiter) Reserve(ctx context.Context, now time.Time) (time.Duration, error) {
	windows := []struct {
		label  string
		limit  int64
		length time.Duration
	}{
		{"minute", l.perMinute, time.Minute},
		{"second", l.perSecond, time.Second},
	}
	for _, w := range windows {
		if w.limit <= 0 {
			continue
		}
		start := now.Truncate(w.length)
		scope := fmt.Sprintf("%s:%s:%d", l.scope, w.label, start.Unix())
		allowed, _, err := l.store.FixedWindowAllow(ctx, scope, w.limit, w.length)
		if err != nil {
			return 0, fmt.Errorf("rate limit %s window: %w", w.label, err)
		}
		if !allowed {
			return start.Add(w.length).Sub(now), nil
		}
	}
	return 0, nil
}
