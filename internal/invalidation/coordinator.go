// Package invalidation drops cached statements (line rows and Redis entries)
// when the data they were computed from changes.
package invalidation

import (
	"context"
	"fmt"
	"log/slog"
)

// Store is the subset of books.Tx the coordinator writes.
type Store interface {
	DeleteStatementLines(ctx context.Context, propertyID int64, from, to int) (int64, error)
}

// Coordinator invalidates cached statements.
type Coordinator struct {
	cache  *Cache
	logger *slog.Logger
}

// NewCoordinator constructs a Coordinator. cache may be nil.
func NewCoordinator(cache *Cache, logger *slog.Logger) *Coordinator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{cache: cache, logger: logger}
}

// Cache exposes the read-through cache the coordinator evicts.
func (c *Coordinator) Cache() *Cache {
	return c.cache
}

// Invalidate drops cached statements of a property. With a year, statements
// of that year and every later one are dropped, since balance sheets and
// carryforwards accumulate. Without a year everything is dropped.
func (c *Coordinator) Invalidate(ctx context.Context, store Store, propertyID int64, year *int) error {
	from := 0
	if year != nil {
		from = *year
	}
	return c.InvalidateRange(ctx, store, propertyID, from, 0)
}

// InvalidateRange drops cached statements for years in [from, to]. to == 0 is
// open-ended.
func (c *Coordinator) InvalidateRange(ctx context.Context, store Store, propertyID int64, from, to int) error {
	if to != 0 && to < from {
		from, to = to, from
	}
	removed, err := store.DeleteStatementLines(ctx, propertyID, from, to)
	if err != nil {
		return fmt.Errorf("invalidation: delete lines: %w", err)
	}
	ver, err := c.cache.BumpProperty(ctx, propertyID)
	if err != nil {
		return fmt.Errorf("invalidation: bump cache: %w", err)
	}
	c.logger.DebugContext(ctx, "statements invalidated",
		slog.Int64("property_id", propertyID),
		slog.Int("from", from),
		slog.Int("to", to),
		slog.Int64("lines", removed),
		slog.Int64("cache_version", ver))
	return nil
}
