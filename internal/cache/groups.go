package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tgview/pkg/tgview"

	"golang.org/x/sync/singleflight"
)

// DefaultGroupLoadTimeout bounds one group list load.
const DefaultGroupLoadTimeout = time.Minute

// GroupLoader lists every group visible to the account.
type GroupLoader func(ctx context.Context) ([]tgview.Group, error)

// GroupCache holds one snapshot of the group list for the process lifetime.
type GroupCache struct {
	loader      GroupLoader
	loadTimeout time.Duration
	flight      singleflight.Group

	mu     sync.RWMutex
	loaded bool
	order  []tgview.Group
	byID   map[int64]tgview.Group
}

// GroupOption mutates group cache construction settings.
type GroupOption func(*GroupCache)

// WithGroupLoadTimeout overrides how long one load may run.
func WithGroupLoadTimeout(timeout time.Duration) GroupOption {
	return func(c *GroupCache) {
		if timeout > 0 {
			c.loadTimeout = timeout
		}
	}
}

// NewGroupCache creates a group cache backed by loader.
func NewGroupCache(loader GroupLoader, options ...GroupOption) *GroupCache {
	cache := &GroupCache{loader: loader, loadTimeout: DefaultGroupLoadTimeout}
	for _, option := range options {
		option(cache)
	}

	return cache
}

// Groups returns the snapshot, loading it on first use.
//
// Concurrent first callers share one load, detached from the caller's
// cancellation and bounded by the load timeout. A failed load is not remembered.
func (c *GroupCache) Groups(ctx context.Context) ([]tgview.Group, error) {
	if c == nil {
		return nil, fmt.Errorf("group cache: nil cache")
	}

	c.mu.RLock()
	if c.loaded {
		groups := append([]tgview.Group(nil), c.order...)
		c.mu.RUnlock()
		return groups, nil
	}
	c.mu.RUnlock()

	results := c.flight.DoChan("groups", func() (any, error) {
		c.mu.RLock()
		if c.loaded {
			order := c.order
			c.mu.RUnlock()
			return order, nil
		}
		c.mu.RUnlock()

		if c.loader == nil {
			return nil, fmt.Errorf("group cache: nil loader")
		}
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.loadTimeout)
		defer cancel()

		loaded, err := c.loader(loadCtx)
		if err != nil {
			return nil, fmt.Errorf("load groups: %w", err)
		}

		byID := make(map[int64]tgview.Group, len(loaded))
		order := make([]tgview.Group, 0, len(loaded))
		for _, group := range loaded {
			if _, duplicate := byID[group.ID]; duplicate {
				continue
			}
			byID[group.ID] = group
			order = append(order, group)
		}

		c.mu.Lock()
		c.order = order
		c.byID = byID
		c.loaded = true
		c.mu.Unlock()

		return order, nil
	})

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("load groups: %w", ctx.Err())
	case result := <-results:
		if result.Err != nil {
			return nil, result.Err
		}
		return append([]tgview.Group(nil), result.Val.([]tgview.Group)...), nil
	}
}

// Lookup returns the group with id from the snapshot.
func (c *GroupCache) Lookup(ctx context.Context, id int64) (tgview.Group, bool, error) {
	if _, err := c.Groups(ctx); err != nil {
		return tgview.Group{}, false, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	group, ok := c.byID[id]
	return group, ok, nil
}
