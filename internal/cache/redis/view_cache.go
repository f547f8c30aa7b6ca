package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alanyoungcy/ledgersync/internal/domain"
)

// DefaultViewTTL bounds how long a view outlives the process that wrote it.
const DefaultViewTTL = 10 * time.Minute

// ViewCache implements domain.ViewCache with plain string keys.
type ViewCache struct {
	c   *Client
	ttl time.Duration
}

// NewViewCache creates a ViewCache. A non-positive ttl uses DefaultViewTTL.
func NewViewCache(c *Client, ttl time.Duration) *ViewCache {
	if ttl <= 0 {
		ttl = DefaultViewTTL
	}
	return &ViewCache{c: c, ttl: ttl}
}

// SetView stores payload under name.
func (vc *ViewCache) SetView(ctx context.Context, name string, payload []byte) error {
	if err := vc.c.rdb.Set(ctx, vc.c.Key("view", name), payload, vc.ttl).Err(); err != nil {
		return fmt.Errorf("redis: set view %s: %w", name, err)
	}
	return nil
}

// GetView returns the stored view or domain.ErrNotFound.
func (vc *ViewCache) GetView(ctx context.Context, name string) ([]byte, error) {
	data, err := vc.c.rdb.Get(ctx, vc.c.Key("view", name)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("redis: view %s: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("redis: get view %s: %w", name, err)
	}
	return data, nil
}

// DeleteView drops name. A missing view is not an error.
func (vc *ViewCache) DeleteView(ctx context.Context, name string) error {
	if err := vc.c.rdb.Del(ctx, vc.c.Key("view", name)).Err(); err != nil {
		return fmt.Errorf("redis: delete view %s: %w", name, err)
	}
	return nil
}

var _ domain.ViewCache = (*ViewCache)(nil)
