/*
 * Aircover
 * Copyright (C) 2025  Aircover, Inc.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package cache implements the keyed TTL cache backing both
// aggregators. Entries carry an absolute expiry stamped at write time;
// an expired entry is evicted atomically by the read that discovers it.
package cache

import (
	"strings"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
)

// Config configures a TTLCache.
type Config struct {
	// TTL is the lifetime stamped on entries by Set.
	TTL time.Duration
	// Clock is the time source. Defaults to the real clock; tests
	// inject a fake.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.TTL <= 0 {
		return trace.BadParameter("cache config missing required parameter TTL")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

type entry[T any] struct {
	value     T
	expiresAt time.Time
}

// TTLCache maps opaque string keys to values with absolute expiry.
// Safe for concurrent readers and writers. There is no LRU bound: the
// key space of an aggregator is naturally limited to the flights and
// grid points it is asked about within one TTL window.
type TTLCache[T any] struct {
	cfg Config

	mu      sync.RWMutex
	entries map[string]entry[T]
}

// New creates a TTLCache with the given config.
func New[T any](cfg Config) (*TTLCache[T], error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &TTLCache[T]{
		cfg:     cfg,
		entries: make(map[string]entry[T]),
	}, nil
}

// Set stores value under key with expiry now+TTL, replacing any
// previous entry.
func (c *TTLCache[T]) Set(key string, value T) {
	c.SetWithTTL(key, value, c.cfg.TTL)
}

// SetWithTTL stores value under key with a caller-chosen lifetime.
func (c *TTLCache[T]) SetWithTTL(key string, value T, ttl time.Duration) {
	expires := c.cfg.Clock.Now().Add(ttl)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry[T]{value: value, expiresAt: expires}
}

// Get returns the value under key iff it has not expired. An expired
// entry is evicted before returning absence, under the same write lock,
// so concurrent readers never observe a stale value.
func (c *TTLCache[T]) Get(key string) (T, bool) {
	var zero T
	now := c.cfg.Clock.Now()

	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return zero, false
	}
	if now.Before(e.expiresAt) {
		return e.value, true
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// reread: a writer may have refreshed the entry between locks
	if e, ok := c.entries[key]; ok {
		if now.Before(e.expiresAt) {
			return e.value, true
		}
		delete(c.entries, key)
	}
	return zero, false
}

// Delete removes the entry under key, if any.
func (c *TTLCache[T]) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
}

// Clear removes all entries.
func (c *TTLCache[T]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]entry[T])
}

// Len reports the number of stored entries, counting any not yet
// evicted expired ones.
func (c *TTLCache[T]) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// Key deterministically composes a cache key from its parts. Parts are
// normalized to lower case so "UA456" and "ua456" address the same
// entry.
func Key(parts ...string) string {
	normalized := make([]string, 0, len(parts))
	for _, p := range parts {
		normalized = append(normalized, strings.ToLower(strings.TrimSpace(p)))
	}
	return strings.Join(normalized, "/")
}
