package tokencache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultSkew is how long before ExpiresAt a token is treated as expired.
const DefaultSkew = 30 * time.Second

// Token is an OAuth bearer token with an absolute expiry.
type Token struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Valid reports whether the token can still be used at now.
func (t Token) Valid(now time.Time, skew time.Duration) bool {
	return t.AccessToken != "" && now.Add(skew).Before(t.ExpiresAt)
}

// FetchFunc obtains a fresh token from the vendor.
type FetchFunc func(ctx context.Context) (Token, error)

// ErrNotFound is returned by stores for a missing key.
var ErrNotFound = errors.New("token not found")

// Store persists tokens by key.
type Store interface {
	Get(ctx context.Context, key string) (Token, error)
	Set(ctx context.Context, key string, tok Token) error
	Delete(ctx context.Context, key string) error
}

// Cache hands out bearer tokens, fetching on miss or expiry. Concurrent
// callers for the same key share a single fetch.
type Cache struct {
	store  Store
	skew   time.Duration
	now    func() time.Time
	group  singleflight.Group
	logger *zap.Logger
}

// Option configures a Cache.
type Option func(*Cache)

func WithSkew(d time.Duration) Option {
	return func(c *Cache) { c.skew = d }
}

func WithClock(now func() time.Time) Option {
	return func(c *Cache) { c.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// New creates a cache over store.
func New(store Store, opts ...Option) *Cache {
	c := &Cache{
		store:  store,
		skew:   DefaultSkew,
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Token returns a valid token for key, calling fetch when the stored one is
// missing or expired. Expiry is checked on every call. Concurrent callers
// share one fetch, which runs without any caller's cancellation; a caller
// whose ctx ends stops waiting without failing the others.
func (c *Cache) Token(ctx context.Context, key string, fetch FetchFunc) (Token, error) {
	tok, err := c.store.Get(ctx, key)
	if err == nil && tok.Valid(c.now(), c.skew) {
		return tok, nil
	}
	if err != nil && !errors.Is(err, ErrNotFound) {
		c.logger.Warn("token store read failed", zap.String("key", key), zap.Error(err))
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (interface{}, error) {
		// another caller may have refreshed while we waited
		if tok, err := c.store.Get(fetchCtx, key); err == nil && tok.Valid(c.now(), c.skew) {
			return tok, nil
		}
		tok, err := fetch(fetchCtx)
		if err != nil {
			return Token{}, err
		}
		if !tok.Valid(c.now(), c.skew) {
			return Token{}, fmt.Errorf("fetched token for %s is already expired", key)
		}
		if err := c.store.Set(fetchCtx, key, tok); err != nil {
			c.logger.Warn("token store write failed", zap.String("key", key), zap.Error(err))
		}
		c.logger.Debug("fetched token", zap.String("key", key), zap.Time("expires_at", tok.ExpiresAt))
		return tok, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return Token{}, res.Err
		}
		return res.Val.(Token), nil
	case <-ctx.Done():
		return Token{}, ctx.Err()
	}
}

// Invalidate drops the token for key so the next call fetches a new one.
func (c *Cache) Invalidate(ctx context.Context, key string) error {
	return c.store.Delete(ctx, key)
}
