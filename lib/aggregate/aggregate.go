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

// Package aggregate implements the shared multi-source aggregation
// pipeline: cache check, health-routed source selection, parallel
// fan-out with per-source timeouts, conflict resolution and cache
// write-back. The flight and weather aggregators instantiate it with
// their own record types and resolvers.
package aggregate

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/aircover-hq/aircover/lib/aggregate/resolve"
	"github.com/aircover-hq/aircover/lib/cache"
	"github.com/aircover-hq/aircover/lib/defaults"
)

// ResolverFunc merges a non-empty set of per-source records for the
// same key into one canonical record, the conflicts detected along the
// way, and an aggregate quality score.
type ResolverFunc[T any] func(records []Sourced[T]) (T, []resolve.Conflict, float64, error)

// Result is the outcome of one aggregation call.
type Result[T any] struct {
	// Data is the resolved canonical record.
	Data T
	// FromCache is true when Data was served from the TTL cache; in
	// that case SourcesUsed is empty and Conflicts is nil.
	FromCache bool
	// SourcesUsed names the sources that contributed to a live fetch.
	SourcesUsed []string
	// Conflicts lists the field conflicts recorded by the resolver.
	Conflicts []resolve.Conflict
	// QualityScore is the record's aggregate quality score.
	QualityScore float64
	// ProcessingTime is the wall time the call took.
	ProcessingTime time.Duration
}

// Config configures an Aggregator.
type Config[T any] struct {
	// Domain labels this aggregator in cache keys, logs, metrics and
	// error messages, e.g. "flight" or "weather".
	Domain string
	// Clients are the provider source adapters to fan out to.
	Clients []Client[T]
	// Resolve merges per-source records. Required.
	Resolve ResolverFunc[T]
	// Validate checks identity fields on a freshly resolved record.
	// Optional.
	Validate func(T) error
	// ObservedAt extracts the provider-reported observation instant
	// from a record, used for freshness decay. Optional; defaults to
	// the fetch completion time.
	ObservedAt func(T) time.Time

	// CacheTTL bounds entry freshness and the freshness decay window.
	CacheTTL time.Duration
	// MaxSources bounds the fan-out width.
	MaxSources int
	// PerSourceTimeout bounds each provider fetch.
	PerSourceTimeout time.Duration
	// Timeout bounds the whole pipeline run for one key.
	Timeout time.Duration
	// MinQualityScore is the acceptance threshold for resolved records.
	MinQualityScore float64
	// CooldownStep and CooldownMax tune source health cooldowns.
	CooldownStep time.Duration
	CooldownMax  time.Duration

	// Clock is the time source.
	Clock clockwork.Clock
	// Logger defaults to the package logger for the domain.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config[T]) CheckAndSetDefaults() error {
	if c.Domain == "" {
		return trace.BadParameter("aggregator config missing required parameter Domain")
	}
	if len(c.Clients) == 0 {
		return trace.BadParameter("aggregator config missing required parameter Clients")
	}
	if c.Resolve == nil {
		return trace.BadParameter("aggregator config missing required parameter Resolve")
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaults.FlightCacheTTL
	}
	if c.MaxSources <= 0 {
		c.MaxSources = defaults.MaxSources
	}
	if c.PerSourceTimeout <= 0 {
		c.PerSourceTimeout = defaults.PerSourceTimeout
	}
	if c.Timeout <= 0 {
		c.Timeout = defaults.AggregatorTimeout
	}
	if c.MinQualityScore <= 0 {
		c.MinQualityScore = defaults.MinQualityScore
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = slog.Default().With("domain", c.Domain)
	}
	return nil
}

// cached is what the aggregator stores per key: the record plus the
// quality recorded at resolution time, so cache hits report the
// original score.
type cached[T any] struct {
	record  T
	quality float64
}

// Aggregator runs the multi-source pipeline for one record type. Safe
// for concurrent use. Two near-simultaneous cache misses for the same
// key may both fan out upstream; the last cache write wins, which is
// the accepted benign race.
type Aggregator[T any] struct {
	cfg    Config[T]
	store  *cache.TTLCache[cached[T]]
	router *HealthRouter[T]
	logger *slog.Logger
}

// New creates an Aggregator from the config.
func New[T any](cfg Config[T]) (*Aggregator[T], error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	store, err := cache.New[cached[T]](cache.Config{TTL: cfg.CacheTTL, Clock: cfg.Clock})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	router, err := NewHealthRouter(HealthRouterConfig[T]{
		Clients:      cfg.Clients,
		CooldownStep: cfg.CooldownStep,
		CooldownMax:  cfg.CooldownMax,
		Clock:        cfg.Clock,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	if err := registerMetrics(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Aggregator[T]{
		cfg:    cfg,
		store:  store,
		router: router,
		logger: cfg.Logger,
	}, nil
}

// Get returns the canonical record for the request, from cache when
// fresh, otherwise by fanning out to healthy sources and resolving
// their responses.
func (a *Aggregator[T]) Get(ctx context.Context, req Request) (*Result[T], error) {
	start := a.cfg.Clock.Now()
	key := req.CacheKey(a.cfg.Domain)

	if hit, ok := a.store.Get(key); ok {
		cacheLookups.WithLabelValues(a.cfg.Domain, "hit").Inc()
		return &Result[T]{
			Data:           hit.record,
			FromCache:      true,
			SourcesUsed:    []string{},
			QualityScore:   hit.quality,
			ProcessingTime: a.cfg.Clock.Now().Sub(start),
		}, nil
	}
	cacheLookups.WithLabelValues(a.cfg.Domain, "miss").Inc()

	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	candidates := a.router.Candidates(ctx, a.cfg.MaxSources)
	if len(candidates) == 0 {
		return nil, NewNoSourcesError(a.cfg.Domain)
	}

	records := a.fanOut(ctx, candidates, req)
	if len(records) == 0 {
		if ctx.Err() != nil {
			return nil, trace.LimitExceeded("%v aggregation deadline exceeded for %v", a.cfg.Domain, req.Subject)
		}
		return nil, NewNoResponsesError(a.cfg.Domain, len(candidates))
	}

	resolved, conflicts, quality, err := a.cfg.Resolve(records)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	resolvedQuality.WithLabelValues(a.cfg.Domain).Observe(quality)

	if a.cfg.Validate != nil {
		if err := a.cfg.Validate(resolved); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	if quality < a.cfg.MinQualityScore {
		return nil, trace.Wrap(&LowQualityError{Score: quality, Min: a.cfg.MinQualityScore})
	}

	// best effort: an in-process cache write cannot fail, but it must
	// never fail the call either way
	a.store.Set(key, cached[T]{record: resolved, quality: quality})

	sources := make([]string, 0, len(records))
	for _, r := range records {
		sources = append(sources, r.Source)
	}
	elapsed := a.cfg.Clock.Now().Sub(start)
	pipelineSeconds.WithLabelValues(a.cfg.Domain).Observe(elapsed.Seconds())

	return &Result[T]{
		Data:           resolved,
		SourcesUsed:    sources,
		Conflicts:      conflicts,
		QualityScore:   quality,
		ProcessingTime: elapsed,
	}, nil
}

// fanOut issues concurrent fetches to the candidate clients, each under
// its own timeout, and returns the successful records. Failures mark
// the source unhealthy; absence does not.
func (a *Aggregator[T]) fanOut(ctx context.Context, candidates []Client[T], req Request) []Sourced[T] {
	type outcome struct {
		record Sourced[T]
		ok     bool
	}
	outcomes := make([]outcome, len(candidates))

	var wg sync.WaitGroup
	for i, client := range candidates {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fetchCtx, cancel := context.WithTimeout(ctx, a.cfg.PerSourceTimeout)
			defer cancel()

			record, found, err := client.Fetch(fetchCtx, req)
			switch {
			case err != nil:
				fetchAttempts.WithLabelValues(a.cfg.Domain, client.Name(), outcomeError).Inc()
				a.router.MarkFailure(client.Name())
				a.logger.WarnContext(ctx, "Source fetch failed.",
					"source", client.Name(), "subject", req.Subject, "error", err)
			case !found:
				fetchAttempts.WithLabelValues(a.cfg.Domain, client.Name(), outcomeAbsent).Inc()
				a.logger.DebugContext(ctx, "Source has no data for key.",
					"source", client.Name(), "subject", req.Subject)
			default:
				fetchAttempts.WithLabelValues(a.cfg.Domain, client.Name(), outcomeOK).Inc()
				a.router.MarkSuccess(client.Name())

				observed := a.cfg.Clock.Now()
				if a.cfg.ObservedAt != nil {
					if t := a.cfg.ObservedAt(record); !t.IsZero() {
						observed = t
					}
				}
				age := a.cfg.Clock.Now().Sub(observed)
				outcomes[i] = outcome{
					ok: true,
					record: Sourced[T]{
						Record:      record,
						Source:      client.Name(),
						Priority:    client.Priority(),
						Reliability: client.Reliability(),
						ObservedAt:  observed,
						Weight:      client.Reliability() * resolve.FreshnessDecay(age, a.cfg.CacheTTL),
					},
				}
			}
		}()
	}
	wg.Wait()

	records := make([]Sourced[T], 0, len(candidates))
	for _, o := range outcomes {
		if o.ok {
			records = append(records, o.record)
		}
	}
	return records
}

// Health returns a copy of the source health table.
func (a *Aggregator[T]) Health() map[string]SourceHealth {
	return a.router.Snapshot()
}

// InvalidateCache drops any cached record for the request.
func (a *Aggregator[T]) InvalidateCache(req Request) {
	a.store.Delete(req.CacheKey(a.cfg.Domain))
}
