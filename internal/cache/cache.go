// Package cache is the Redis-backed key-value layer shared by the trust prior
// store and the run trace index. Keys live under an environment-versioned
// namespace so pipeline revisions never read each other's state.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// PermanentTTL marks a key that must never expire (trust priors, run bundles).
const PermanentTTL = time.Duration(-1)

// ErrNotFound is returned when a key does not exist.
var ErrNotFound = errors.New("cache: key not found")

// Cache wraps a Redis client with namespacing and TTL conventions.
type Cache struct {
	client     *redis.Client
	logger     *zap.Logger
	namespace  string
	defaultTTL time.Duration
}

// Options configures a Cache.
type Options struct {
	Addr            string
	Password        string
	DB              int
	PipelineVersion string
	DefaultTTL      time.Duration
}

// New connects to Redis and verifies the connection.
func New(ctx context.Context, opts Options, logger *zap.Logger) (*Cache, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.DefaultTTL == 0 {
		opts.DefaultTTL = time.Hour
	}
	version := opts.PipelineVersion
	if version == "" {
		version = os.Getenv("PIPELINE_VERSION")
	}
	if version == "" {
		version = "1"
	}

	client := redis.NewClient(&redis.Options{
		Addr:         opts.Addr,
		Password:     opts.Password,
		DB:           opts.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &Cache{
		client:     client,
		logger:     logger,
		namespace:  fmt.Sprintf("ai_search:v%s", version),
		defaultTTL: opts.DefaultTTL,
	}, nil
}

// NewWithClient wraps an existing client; used by tests with miniredis.
func NewWithClient(client *redis.Client, pipelineVersion string, logger *zap.Logger) *Cache {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pipelineVersion == "" {
		pipelineVersion = "1"
	}
	return &Cache{
		client:     client,
		logger:     logger,
		namespace:  fmt.Sprintf("ai_search:v%s", pipelineVersion),
		defaultTTL: time.Hour,
	}
}

// Key builds a namespaced key: ai_search:v{version}:{suffix}.
func (c *Cache) Key(suffix string) string {
	return c.namespace + ":" + suffix
}

// Get returns the string value for a key, or ErrNotFound.
func (c *Cache) Get(ctx context.Context, key string) (string, error) {
	val, err := c.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("cache get %s: %w", key, err)
	}
	return val, nil
}

// Set stores a value. PermanentTTL stores without expiry; a zero TTL applies
// the cache default.
func (c *Cache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	if ttl == PermanentTTL {
		ttl = 0 // go-redis: zero expiration means no expiry
	}
	if err := c.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", key, err)
	}
	return nil
}

// GetJSON unmarshals the stored value into dst.
func (c *Cache) GetJSON(ctx context.Context, key string, dst interface{}) error {
	val, err := c.Get(ctx, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(val), dst); err != nil {
		return fmt.Errorf("cache unmarshal %s: %w", key, err)
	}
	return nil
}

// SetJSON marshals v and stores it.
func (c *Cache) SetJSON(ctx context.Context, key string, v interface{}, ttl time.Duration) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("cache marshal %s: %w", key, err)
	}
	return c.Set(ctx, key, string(data), ttl)
}

// PushRecent prepends an entry to a capped list (newest first).
func (c *Cache) PushRecent(ctx context.Context, key, value string, max int64) error {
	pipe := c.client.TxPipeline()
	pipe.LPush(ctx, key, value)
	pipe.LTrim(ctx, key, 0, max-1)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache push recent %s: %w", key, err)
	}
	return nil
}

// Recent returns up to n newest entries of a capped list.
func (c *Cache) Recent(ctx context.Context, key string, n int64) ([]string, error) {
	vals, err := c.client.LRange(ctx, key, 0, n-1).Result()
	if err != nil {
		return nil, fmt.Errorf("cache recent %s: %w", key, err)
	}
	return vals, nil
}

// Close releases the underlying client.
func (c *Cache) Close() error {
	return c.client.Close()
}
