package redisclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"reconciliation-service/internal/models"
)

// syncStatusTTL bounds how long a stale status entry can linger after its
// tenant disconnects.
const syncStatusTTL = 30 * 24 * time.Hour

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Ping verifies the connection; the readiness probe calls this.
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// AcquireLock acquires a distributed lock. The reconciler keys it per
// (tenant, mode) so concurrent runs over the same data cannot interleave.
func (c *Client) AcquireLock(ctx context.Context, lockKey string, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("lock:%s", lockKey), "1", ttl).Result()
}

// ReleaseLock releases a distributed lock
func (c *Client) ReleaseLock(ctx context.Context, lockKey string) error {
	return c.rdb.Del(ctx, fmt.Sprintf("lock:%s", lockKey)).Err()
}

// SetSyncStatus caches the current run state for dashboard reads
func (c *Client) SetSyncStatus(ctx context.Context, status models.SyncStatus) error {
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("failed to marshal sync status: %w", err)
	}
	key := fmt.Sprintf("sync:status:%s:%s", status.TenantID, status.Mode)
	return c.rdb.Set(ctx, key, payload, syncStatusTTL).Err()
}

// GetSyncStatus retrieves the cached run state for one (tenant, mode).
// The second return is false when no sync has ever run.
func (c *Client) GetSyncStatus(ctx context.Context, tenantID string, mode models.Mode) (models.SyncStatus, bool, error) {
	key := fmt.Sprintf("sync:status:%s:%s", tenantID, mode)
	payload, err := c.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return models.SyncStatus{}, false, nil
	}
	if err != nil {
		return models.SyncStatus{}, false, err
	}

	var status models.SyncStatus
	if err := json.Unmarshal(payload, &status); err != nil {
		return models.SyncStatus{}, false, fmt.Errorf("failed to unmarshal sync status: %w", err)
	}
	return status, true, nil
}
