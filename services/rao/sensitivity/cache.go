// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package sensitivity

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	"github.com/AleutianAI/AleutianRAO/services/rao/network"
)

// DefaultCacheEntries bounds CachingComputer when no size is given.
const DefaultCacheEntries = 256

// CachingComputer memoizes results by snapshot fingerprint.
//
// Description:
//
//	Sibling leaves of one depth often reach identical states (for instance
//	when a range-action reset undoes the same setpoints). Concurrent
//	requests for the same fingerprint share one computation through
//	singleflight; finished results are kept in a FIFO-bounded map.
//	FAILURE results are not cached so a transient divergence can be
//	retried by a later leaf.
//
// Thread Safety:
//
//	Safe for concurrent use.
type CachingComputer struct {
	inner   Computer
	group   singleflight.Group
	logger  *slog.Logger
	maxSize int

	mu    sync.Mutex
	cache map[uint64]*Result
	order []uint64

	hits   atomic.Int64
	misses atomic.Int64
}

// CacheOption configures a CachingComputer.
type CacheOption func(*CachingComputer)

// WithCacheSize bounds the number of cached results.
func WithCacheSize(n int) CacheOption {
	return func(c *CachingComputer) {
		if n > 0 {
			c.maxSize = n
		}
	}
}

// WithCacheLogger sets the logger.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *CachingComputer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCachingComputer wraps inner.
func NewCachingComputer(inner Computer, opts ...CacheOption) *CachingComputer {
	c := &CachingComputer{
		inner:   inner,
		logger:  slog.Default(),
		maxSize: DefaultCacheEntries,
		cache:   make(map[uint64]*Result),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compute implements Computer.
func (c *CachingComputer) Compute(ctx context.Context, s *network.Snapshot) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := s.Fingerprint()

	c.mu.Lock()
	if res, ok := c.cache[key]; ok {
		c.mu.Unlock()
		c.hits.Add(1)
		return res, nil
	}
	c.mu.Unlock()

	// The shared computation outlives any single caller: a cancelled caller
	// stops waiting while the others still get the result.
	detached := context.WithoutCancel(ctx)
	ch := c.group.DoChan(strconv.FormatUint(key, 16), func() (any, error) {
		c.misses.Add(1)
		res, err := c.inner.Compute(detached, s)
		if err != nil {
			return nil, err
		}
		if !res.IsFailure() {
			c.store(key, res)
		}
		return res, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return nil, r.Err
		}
		if r.Shared {
			c.logger.Debug("sensitivity computation shared",
				slog.String("fingerprint", strconv.FormatUint(key, 16)))
		}
		return r.Val.(*Result), nil
	}
}

func (c *CachingComputer) store(key uint64, res *Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.cache[key]; ok {
		return
	}
	c.cache[key] = res
	c.order = append(c.order, key)
	for len(c.order) > c.maxSize {
		delete(c.cache, c.order[0])
		c.order = c.order[1:]
	}
}

// Stats returns cache hits and misses.
func (c *CachingComputer) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}
