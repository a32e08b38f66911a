package middleware

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// Deduper tracks idempotency keys already used. Seen claims a key; Release
// gives it back so the request can be retried.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
	Release(ctx context.Context, key string) error
}

type redisDeduper struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func (d *redisDeduper) Seen(ctx context.Context, key string) (bool, error) {
	ok, err := d.client.SetNX(ctx, d.prefix+":"+key, "1", d.ttl).Result()
	if err != nil {
		return false, err
	}
	// false => already exists => duplicate
	return !ok, nil
}

func (d *redisDeduper) Release(ctx context.Context, key string) error {
	return d.client.Del(ctx, d.prefix+":"+key).Err()
}

type memoryDeduper struct {
	mu     sync.Mutex
	seen   map[string]time.Time
	ttl    time.Duration
	now    func() time.Time
	nextGC time.Time
}

func newMemoryDeduper(ttl time.Duration, now func() time.Time) *memoryDeduper {
	return &memoryDeduper{
		seen:   make(map[string]time.Time),
		ttl:    ttl,
		now:    now,
		nextGC: now().Add(ttl),
	}
}

func (d *memoryDeduper) Seen(_ context.Context, key string) (bool, error) {
	now := d.now()

	d.mu.Lock()
	defer d.mu.Unlock()

	if exp, ok := d.seen[key]; ok && exp.After(now) {
		return true, nil
	}

	d.seen[key] = now.Add(d.ttl)
	if now.After(d.nextGC) {
		for k, exp := range d.seen {
			if exp.Before(now) {
				delete(d.seen, k)
			}
		}
		d.nextGC = now.Add(d.ttl)
	}

	return false, nil
}

func (d *memoryDeduper) Release(_ context.Context, key string) error {
	d.mu.Lock()
	delete(d.seen, key)
	d.mu.Unlock()
	return nil
}

// NewDeduper returns a Redis deduper on client, or an in-memory one when
// client is nil.
func NewDeduper(client *redis.Client, ttl time.Duration) Deduper {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	if client == nil {
		return newMemoryDeduper(ttl, time.Now)
	}
	return &redisDeduper{client: client, prefix: "merchant:idempotency", ttl: ttl}
}

// IdempotencyGuard rejects a second request carrying the same
// Idempotency-Key for the same path with 409. Requests without the header
// and deduper failures pass through. A key is only kept once the handler
// answered 2xx; any other outcome (a 502 transport failure, a rejected
// body) releases it so the caller can retry with the same key.
func IdempotencyGuard(deduper Deduper) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := c.Request().Header.Get("Idempotency-Key")
			if deduper == nil || key == "" || c.Request().Method != http.MethodPost {
				return next(c)
			}

			key = c.Request().URL.Path + "#" + key
			dup, err := deduper.Seen(c.Request().Context(), key)
			if err != nil {
				return next(c)
			}
			if dup {
				return c.JSON(http.StatusConflict, map[string]interface{}{
					"status": false,
					"msg":    "Duplicate Idempotency-Key",
					"obj":    nil,
				})
			}

			err = next(c)
			if err != nil || c.Response().Status >= http.StatusMultipleChoices {
				// the client may be gone already
				_ = deduper.Release(context.WithoutCancel(c.Request().Context()), key)
			}
			return err
		}
	}
}
