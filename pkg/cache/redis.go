package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// Client holds the Redis client
type Client struct {
	Redis *redis.Client
}

// NewClient creates a new Redis client
func NewClient(redisURL string) (*Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed parsing redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed connecting to redis: %w", err)
	}

	return &Client{
		Redis: client,
	}, nil
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.Redis.Close()
}

// Ping checks that Redis answers
func (c *Client) Ping(ctx context.Context) error {
	return c.Redis.Ping(ctx).Err()
}

// Set stores a value with expiration
func (c *Client) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) error {
	return c.Redis.Set(ctx, key, value, expiration).Err()
}

// Exists checks if a key exists
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.Redis.Exists(ctx, key).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SetNX stores value only when key does not exist and reports whether it did
func (c *Client) SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) (bool, error) {
	return c.Redis.SetNX(ctx, key, value, expiration).Result()
}

var deleteIfEquals = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// DeleteIfEquals removes key only while it still holds value
func (c *Client) DeleteIfEquals(ctx context.Context, key, value string) (bool, error) {
	n, err := deleteIfEquals.Run(ctx, c.Redis, []string{key}, value).Int()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// SwapWithTTL stores value under key with a fresh TTL and returns the value
// it replaced. found is false when the key did not exist or had expired.
func (c *Client) SwapWithTTL(ctx context.Context, key, value string, ttl time.Duration) (prev string, found bool, err error) {
	prev, err = c.Redis.SetArgs(ctx, key, value, redis.SetArgs{TTL: ttl, Get: true}).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return prev, true, nil
}

// DefaultUniqueWindow is the trailing period a click stays unique for
const DefaultUniqueWindow = 24 * time.Hour

// ClickDeduper decides click uniqueness with one atomic SET ... GET per
// click. Each click refreshes the key, so the window trails the visitor's
// latest click rather than a calendar day.
type ClickDeduper struct {
	client *Client
	window time.Duration
	prefix string
}

// NewClickDeduper creates a deduper over the client
func NewClickDeduper(client *Client, window time.Duration) *ClickDeduper {
	if window <= 0 {
		window = DefaultUniqueWindow
	}
	return &ClickDeduper{client: client, window: window, prefix: "click:seen:"}
}

// FirstInWindow reports whether no click for (ipHash, uaHash, affiliate) was
// seen in the trailing window, and records this one
func (d *ClickDeduper) FirstInWindow(ctx context.Context, ipHash, uaHash, affiliateID string, at time.Time) (bool, error) {
	key := d.prefix + affiliateID + ":" + ipHash + ":" + uaHash
	_, found, err := d.client.SwapWithTTL(ctx, key, strconv.FormatInt(at.UnixMilli(), 10), d.window)
	if err != nil {
		return false, fmt.Errorf("click dedupe: %w", err)
	}
	return !found, nil
}
