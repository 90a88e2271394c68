package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mitantsoa1/gns-preprod/models"
)

const defaultTTL = 2 * time.Minute

// NewRedisClient parses redisURL and checks the connection.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return client, nil
}

// DashboardCache stores rendered dashboards per user. A nil *DashboardCache
// is valid and caches nothing.
type DashboardCache struct {
	client redis.Cmdable
	ttl    time.Duration
}

func NewDashboardCache(client redis.Cmdable, ttl time.Duration) *DashboardCache {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &DashboardCache{client: client, ttl: ttl}
}

func (c *DashboardCache) key(userID string) string {
	return fmt.Sprintf("dashboard:user:%s", userID)
}

// Get returns the cached dashboard, or nil on a miss.
func (c *DashboardCache) Get(ctx context.Context, userID string) (*models.DashboardData, error) {
	if c == nil || c.client == nil {
		return nil, nil
	}
	raw, err := c.client.Get(ctx, c.key(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var data models.DashboardData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, err
	}
	return &data, nil
}

func (c *DashboardCache) Set(ctx context.Context, userID string, data *models.DashboardData) error {
	if c == nil || c.client == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(userID), raw, c.ttl).Err()
}

// InvalidateUser drops the cached dashboard of userID.
func (c *DashboardCache) InvalidateUser(ctx context.Context, userID string) error {
	if c == nil || c.client == nil {
		return nil
	}
	return c.client.Del(ctx, c.key(userID)).Err()
}
