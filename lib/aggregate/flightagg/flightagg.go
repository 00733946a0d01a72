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

// Package flightagg instantiates the shared aggregation pipeline for
// flight status records and implements the flight-specific conflict
// resolver.
package flightagg

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/aircover-hq/aircover"
	"github.com/aircover-hq/aircover/api/types"
	"github.com/aircover-hq/aircover/lib/aggregate"
	"github.com/aircover-hq/aircover/lib/aggregate/resolve"
	"github.com/aircover-hq/aircover/lib/defaults"
	"github.com/aircover-hq/aircover/lib/utils/logutils"
)

// scheduledDepartureTolerance is how far apart two sources' scheduled
// departure instants may sit and still be treated as the same flight
// leg.
const scheduledDepartureTolerance = time.Minute

// Config configures a flight Aggregator.
type Config struct {
	// Clients are the flight data source adapters.
	Clients []aggregate.Client[types.CanonicalFlight]
	// CacheTTL bounds flight record freshness.
	CacheTTL time.Duration
	// MaxSources bounds fan-out width per lookup.
	MaxSources int
	// PerSourceTimeout bounds each provider fetch.
	PerSourceTimeout time.Duration
	// Timeout bounds one whole lookup.
	Timeout time.Duration
	// MinQualityScore is the acceptance threshold for resolved records.
	MinQualityScore float64
	// ResolverSaturation is the source count at which the quality score
	// base saturates.
	ResolverSaturation int
	// CooldownStep and CooldownMax tune source health cooldowns.
	CooldownStep time.Duration
	CooldownMax  time.Duration
	// Clock is the time source.
	Clock clockwork.Clock
	// Logger defaults to the flight aggregator package logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if len(c.Clients) == 0 {
		return trace.BadParameter("flight aggregator config missing required parameter Clients")
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaults.FlightCacheTTL
	}
	if c.ResolverSaturation <= 0 {
		c.ResolverSaturation = defaults.ResolverSaturation
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = logutils.NewPackageLogger(aircover.ComponentFlightAggregator)
	}
	return nil
}

// Aggregator answers flight status lookups by merging the registered
// sources behind a TTL cache.
type Aggregator struct {
	inner *aggregate.Aggregator[types.CanonicalFlight]
}

// New creates a flight Aggregator.
func New(cfg Config) (*Aggregator, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	r := resolver{saturation: cfg.ResolverSaturation}
	inner, err := aggregate.New(aggregate.Config[types.CanonicalFlight]{
		Domain:           "flight",
		Clients:          cfg.Clients,
		Resolve:          r.resolve,
		Validate:         func(f types.CanonicalFlight) error { return f.Check() },
		ObservedAt:       func(f types.CanonicalFlight) time.Time { return f.LastUpdated },
		CacheTTL:         cfg.CacheTTL,
		MaxSources:       cfg.MaxSources,
		PerSourceTimeout: cfg.PerSourceTimeout,
		Timeout:          cfg.Timeout,
		MinQualityScore:  cfg.MinQualityScore,
		CooldownStep:     cfg.CooldownStep,
		CooldownMax:      cfg.CooldownMax,
		Clock:            cfg.Clock,
		Logger:           cfg.Logger,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Aggregator{inner: inner}, nil
}

// GetFlightStatus returns the canonical merged status of the flight on
// the given service date (YYYY-MM-DD).
func (a *Aggregator) GetFlightStatus(ctx context.Context, flightNumber, date string) (*aggregate.Result[types.CanonicalFlight], error) {
	if flightNumber == "" {
		return nil, trace.BadParameter("missing flight number")
	}
	if date != "" {
		if _, err := time.Parse(time.DateOnly, date); err != nil {
			return nil, trace.BadParameter("flight date %q is not in YYYY-MM-DD form", date)
		}
	}
	res, err := a.inner.Get(ctx, aggregate.Request{Subject: flightNumber, DateHint: date})
	return res, trace.Wrap(err)
}

// Health returns the per-source health table.
func (a *Aggregator) Health() map[string]aggregate.SourceHealth {
	return a.inner.Health()
}

// InvalidateCache drops the cached record for the flight, forcing the
// next lookup to fan out.
func (a *Aggregator) InvalidateCache(flightNumber, date string) {
	a.inner.InvalidateCache(aggregate.Request{Subject: flightNumber, DateHint: date})
}

type resolver struct {
	saturation int
}

// resolve merges per-source flight records for the same key into one
// canonical record. Identity fields must agree up to tolerance with the
// heaviest source winning disagreements; status resolves by weighted
// vote; delays by outlier-dropping weighted mean.
func (r resolver) resolve(records []aggregate.Sourced[types.CanonicalFlight]) (types.CanonicalFlight, []resolve.Conflict, float64, error) {
	if len(records) == 0 {
		return types.CanonicalFlight{}, nil, 0, trace.BadParameter("flight resolver called with no records")
	}
	primary := heaviest(records)
	var conflicts []resolve.Conflict

	out := types.CanonicalFlight{
		FlightNumber:       primary.Record.FlightNumber,
		ScheduledDeparture: primary.Record.ScheduledDeparture,
		OriginIATA:         primary.Record.OriginIATA,
		DestinationIATA:    primary.Record.DestinationIATA,
	}

	conflicts = appendIdentityConflicts(conflicts, records, primary)

	// status by weighted vote
	votes := make([]resolve.Vote[types.FlightStatus], 0, len(records))
	for _, rec := range records {
		votes = append(votes, resolve.Vote[types.FlightStatus]{
			Value:    rec.Record.Status,
			Weight:   rec.Weight,
			Priority: rec.Priority,
			Source:   rec.Source,
		})
	}
	status, conflicted := resolve.Tally(votes)
	out.Status = status
	if conflicted {
		conflicts = append(conflicts, categorical("flightStatus", records,
			func(f types.CanonicalFlight) string { return string(f.Status) }, string(status)))
	}

	// delays by weighted mean; an on-time or landed flight carries none
	if status != types.FlightStatusOnTime && status != types.FlightStatusLanded {
		var c *resolve.Conflict
		out.DepartureDelayMinutes, c = mergeDelay("departureDelayMinutes", records,
			func(f types.CanonicalFlight) *int { return f.DepartureDelayMinutes })
		if c != nil {
			conflicts = append(conflicts, *c)
		}
		out.ArrivalDelayMinutes, c = mergeDelay("arrivalDelayMinutes", records,
			func(f types.CanonicalFlight) *int { return f.ArrivalDelayMinutes })
		if c != nil {
			conflicts = append(conflicts, *c)
		}
	}

	out.ActualDeparture = pickTime(records, func(f types.CanonicalFlight) *time.Time { return f.ActualDeparture })
	out.ActualArrival = pickTime(records, func(f types.CanonicalFlight) *time.Time { return f.ActualArrival })

	trails := make([][]types.SourceContribution, 0, len(records))
	rels := make([]float64, 0, len(records))
	instants := make([]time.Time, 0, 2*len(records))
	for _, rec := range records {
		trails = append(trails, contributionTrail(rec))
		rels = append(rels, rec.Reliability)
		instants = append(instants, rec.Record.LastUpdated, rec.ObservedAt)
	}
	out.SourceContributions = resolve.MergeContributions(trails...)
	out.LastUpdated = resolve.LatestOf(instants...)
	out.DataQualityScore = resolve.QualityScore(rels, r.saturation, len(conflicts))

	return out, conflicts, out.DataQualityScore, nil
}

// heaviest returns the record with the largest weight, ties broken by
// priority then source name for determinism.
func heaviest(records []aggregate.Sourced[types.CanonicalFlight]) aggregate.Sourced[types.CanonicalFlight] {
	best := records[0]
	for _, rec := range records[1:] {
		switch {
		case rec.Weight > best.Weight:
			best = rec
		case rec.Weight == best.Weight && rec.Priority > best.Priority:
			best = rec
		case rec.Weight == best.Weight && rec.Priority == best.Priority && rec.Source < best.Source:
			best = rec
		}
	}
	return best
}

// appendIdentityConflicts records a conflict for each identity field
// the sources disagree on. String fields must match exactly; scheduled
// departures agree within the tolerance. The heaviest source's value
// already won via the primary record.
func appendIdentityConflicts(conflicts []resolve.Conflict, records []aggregate.Sourced[types.CanonicalFlight], primary aggregate.Sourced[types.CanonicalFlight]) []resolve.Conflict {
	type stringField struct {
		name string
		get  func(types.CanonicalFlight) string
	}
	for _, f := range []stringField{
		{"flightNumber", func(f types.CanonicalFlight) string { return f.FlightNumber }},
		{"originIATA", func(f types.CanonicalFlight) string { return f.OriginIATA }},
		{"destinationIATA", func(f types.CanonicalFlight) string { return f.DestinationIATA }},
	} {
		want := f.get(primary.Record)
		for _, rec := range records {
			if got := f.get(rec.Record); got != "" && got != want {
				conflicts = append(conflicts, categorical(f.name, records, f.get, want))
				break
			}
		}
	}

	want := primary.Record.ScheduledDeparture
	for _, rec := range records {
		got := rec.Record.ScheduledDeparture
		if got.IsZero() {
			continue
		}
		if d := got.Sub(want); d > scheduledDepartureTolerance || d < -scheduledDepartureTolerance {
			conflicts = append(conflicts, categorical("scheduledDepartureUTC", records,
				func(f types.CanonicalFlight) string { return f.ScheduledDeparture.UTC().Format(time.RFC3339) },
				want.UTC().Format(time.RFC3339)))
			break
		}
	}
	return conflicts
}

// categorical builds a conflict entry listing every source's rendered
// value for the field.
func categorical(field string, records []aggregate.Sourced[types.CanonicalFlight], render func(types.CanonicalFlight) string, winner string) resolve.Conflict {
	c := resolve.Conflict{Field: field, Winner: winner}
	for _, rec := range records {
		c.Values = append(c.Values, resolve.SourceValue{Source: rec.Source, Value: render(rec.Record)})
	}
	return c
}

// mergeDelay computes the weighted mean of the delay values the sources
// reported, dropping outliers beyond the configured sigma when enough
// samples are present. Returns nil when no source reported the field,
// plus a conflict entry when the reported values differ.
func mergeDelay(field string, records []aggregate.Sourced[types.CanonicalFlight], get func(types.CanonicalFlight) *int) (*int, *resolve.Conflict) {
	samples := make([]resolve.Sample, 0, len(records))
	lo, hi := math.MaxInt, math.MinInt
	for _, rec := range records {
		v := get(rec.Record)
		if v == nil {
			continue
		}
		samples = append(samples, resolve.Sample{Value: float64(*v), Weight: rec.Weight, Source: rec.Source})
		lo, hi = min(lo, *v), max(hi, *v)
	}
	if len(samples) == 0 {
		return nil, nil
	}

	mean, _ := resolve.WeightedMean(samples, defaults.OutlierSigma, 3)
	merged := int(math.Round(math.Max(mean, 0)))

	var conflict *resolve.Conflict
	if lo != hi {
		c := resolve.Conflict{Field: field, Winner: fmt.Sprintf("%d", merged)}
		for _, s := range samples {
			c.Values = append(c.Values, resolve.SourceValue{Source: s.Source, Value: fmt.Sprintf("%.0f", s.Value)})
		}
		conflict = &c
	}
	return types.IntPtr(merged), conflict
}

// pickTime returns the field from the heaviest record that has it.
func pickTime(records []aggregate.Sourced[types.CanonicalFlight], get func(types.CanonicalFlight) *time.Time) *time.Time {
	var best *time.Time
	bestWeight := math.Inf(-1)
	for _, rec := range records {
		if t := get(rec.Record); t != nil && rec.Weight > bestWeight {
			best, bestWeight = t, rec.Weight
		}
	}
	return best
}

// contributionTrail returns the record's own provenance trail, or
// synthesizes one from the fetch attribution for adapters that do not
// populate it.
func contributionTrail(rec aggregate.Sourced[types.CanonicalFlight]) []types.SourceContribution {
	if len(rec.Record.SourceContributions) > 0 {
		return rec.Record.SourceContributions
	}
	fields := []string{"flightNumber", "flightStatus", "scheduledDepartureUTC"}
	if rec.Record.DepartureDelayMinutes != nil {
		fields = append(fields, "departureDelayMinutes")
	}
	if rec.Record.ArrivalDelayMinutes != nil {
		fields = append(fields, "arrivalDelayMinutes")
	}
	return []types.SourceContribution{{
		SourceName:        rec.Source,
		Confidence:        rec.Reliability,
		FieldsContributed: fields,
		ObservedAt:        rec.ObservedAt,
	}}
}
