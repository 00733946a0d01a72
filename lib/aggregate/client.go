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

package aggregate

import (
	"context"
	"time"

	"github.com/aircover-hq/aircover/lib/cache"
)

// Request identifies one aggregation key: the subject (a flight number
// or a coordinate grid point) plus an optional date hint passed through
// to providers that require one.
type Request struct {
	// Subject is the primary lookup key.
	Subject string
	// DateHint is an optional service date in YYYY-MM-DD form.
	DateHint string
}

// CacheKey composes the deterministic cache key for this request
// within the given domain.
func (r Request) CacheKey(domain string) string {
	return cache.Key(domain, r.Subject, r.DateHint)
}

// Client is the contract every provider source adapter implements. A
// client translates one upstream API into canonical records of type T;
// the aggregation pipeline owns fan-out, health tracking and conflict
// resolution.
type Client[T any] interface {
	// Name is the stable source name used in health tracking,
	// provenance and metrics labels.
	Name() string
	// Priority orders candidate selection; higher is preferred.
	Priority() int
	// Reliability in [0,1] is the prior confidence the conflict
	// resolver assigns to this source's records.
	Reliability() float64
	// IsAvailable probes whether the source can currently serve
	// requests. Used to re-admit a source after its cooldown.
	IsAvailable(ctx context.Context) bool
	// Fetch returns the canonical record for the request populated
	// from this source alone. The second return is false when the
	// source has no data for the key; an error means the attempt
	// failed and the source will be marked unhealthy.
	Fetch(ctx context.Context, req Request) (T, bool, error)
}

// Sourced wraps one source's record with the attribution the conflict
// resolver needs.
type Sourced[T any] struct {
	// Record is the per-source canonical record.
	Record T
	// Source is the client's name.
	Source string
	// Priority is the client's selection priority.
	Priority int
	// Reliability is the client's prior confidence.
	Reliability float64
	// ObservedAt is when the fetch completed.
	ObservedAt time.Time
	// Weight is reliability scaled by freshness decay, precomputed by
	// the pipeline for the resolver's votes and means.
	Weight float64
}
