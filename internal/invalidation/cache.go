package invalidation

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/odyssey-erp/rentalbooks/internal/books"
)

const (
	versionKeyPrefix = "rentalbooks:statements:version"
	bumpChannel      = "statements.bump"
)

// Cache is a Redis read-through cache for computed statements. Every key
// embeds a per-property version so a bump evicts all entries of a property.
// A nil Cache, or one without a client, always calls the loader.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache instantiates the cache helper.
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func versionKey(propertyID int64) string {
	return versionKeyPrefix + ":" + strconv.FormatInt(propertyID, 10)
}

// Version returns the current version of a property, initialising it when missing.
func (c *Cache) Version(ctx context.Context, propertyID int64) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	key := versionKey(propertyID)
	ver, err := c.client.Get(ctx, key).Int64()
	if errors.Is(err, redis.Nil) {
		if err := c.client.SetNX(ctx, key, 1, 0).Err(); err != nil {
			return 0, err
		}
		return c.client.Get(ctx, key).Int64()
	}
	if err != nil {
		return 0, err
	}
	return ver, nil
}

// Key composes the cache key of a statement with the property's current version.
func (c *Cache) Key(ctx context.Context, propertyID int64, kind books.StatementKind, parts ...string) (string, error) {
	base := strings.Join(append([]string{"rentalbooks", string(kind), strconv.FormatInt(propertyID, 10)}, parts...), ":")
	if c == nil || c.client == nil {
		return base, nil
	}
	ver, err := c.Version(ctx, propertyID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%s:v%d", base, ver), nil
}

// FetchJSON loads a cached value or populates it using the loader.
func (c *Cache) FetchJSON(ctx context.Context, key string, dest interface{}, loader func(context.Context) (interface{}, error)) error {
	if loader == nil {
		return errors.New("invalidation: loader required")
	}
	if c == nil || c.client == nil {
		value, err := loader(ctx)
		if err != nil {
			return err
		}
		return roundTrip(value, dest)
	}
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		return json.Unmarshal(payload, dest)
	}
	if !errors.Is(err, redis.Nil) {
		return err
	}
	value, err := loader(ctx)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, key, raw, c.ttl).Err(); err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

func roundTrip(value, dest interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dest)
}

// BumpProperty evicts every cached statement of a property and publishes the
// new version on the bump channel.
func (c *Cache) BumpProperty(ctx context.Context, propertyID int64) (int64, error) {
	if c == nil || c.client == nil {
		return 0, nil
	}
	if _, err := c.Version(ctx, propertyID); err != nil {
		return 0, err
	}
	ver, err := c.client.Incr(ctx, versionKey(propertyID)).Result()
	if err != nil {
		return 0, err
	}
	payload := strconv.FormatInt(propertyID, 10) + ":" + strconv.FormatInt(ver, 10)
	if err := c.client.Publish(ctx, bumpChannel, payload).Err(); err != nil {
		return ver, err
	}
	return ver, nil
}

// Bump is a version change received from the bump channel.
type Bump struct {
	PropertyID int64
	Version    int64
}

// Subscribe delivers version bumps published by any process until ctx is done.
func (c *Cache) Subscribe(ctx context.Context, fn func(Bump)) error {
	if c == nil || c.client == nil || fn == nil {
		return nil
	}
	pubsub := c.client.Subscribe(ctx, bumpChannel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return err
	}
	go func() {
		defer func() { _ = pubsub.Close() }()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if bump, ok := parseBump(msg.Payload); ok {
					fn(bump)
				}
			}
		}
	}()
	return nil
}

func parseBump(payload string) (Bump, bool) {
	pid, ver, ok := strings.Cut(payload, ":")
	if !ok {
		return Bump{}, false
	}
	p, err := strconv.ParseInt(pid, 10, 64)
	if err != nil {
		return Bump{}, false
	}
	v, err := strconv.ParseInt(ver, 10, 64)
	if err != nil {
		return Bump{}, false
	}
	return Bump{PropertyID: p, Version: v}, true
}
