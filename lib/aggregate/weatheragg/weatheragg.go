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

// Package weatheragg instantiates the shared aggregation pipeline for
// weather observations keyed by grid-rounded coordinates.
package weatheragg

import (
	"context"
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

// Config configures a weather Aggregator.
type Config struct {
	// Clients are the weather data source adapters.
	Clients []aggregate.Client[types.CanonicalWeatherObservation]
	// CacheTTL bounds observation freshness.
	CacheTTL time.Duration
	// GridDecimals is the coordinate rounding applied to cache keys so
	// nearby lookups share entries.
	GridDecimals int
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
	// Logger defaults to the weather aggregator package logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if len(c.Clients) == 0 {
		return trace.BadParameter("weather aggregator config missing required parameter Clients")
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaults.WeatherCacheTTL
	}
	if c.GridDecimals <= 0 {
		c.GridDecimals = defaults.CoordinateGridDecimals
	}
	if c.ResolverSaturation <= 0 {
		c.ResolverSaturation = defaults.ResolverSaturation
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = logutils.NewPackageLogger(aircover.ComponentWeatherAggregator)
	}
	return nil
}

// Aggregator answers weather lookups for one grid point by merging the
// registered sources behind a TTL cache. It holds its own cache and
// health table, independent of the flight aggregator.
type Aggregator struct {
	cfg   Config
	inner *aggregate.Aggregator[types.CanonicalWeatherObservation]
}

// New creates a weather Aggregator.
func New(cfg Config) (*Aggregator, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	r := resolver{saturation: cfg.ResolverSaturation}
	inner, err := aggregate.New(aggregate.Config[types.CanonicalWeatherObservation]{
		Domain:           "weather",
		Clients:          cfg.Clients,
		Resolve:          r.resolve,
		Validate:         func(o types.CanonicalWeatherObservation) error { return o.Check() },
		ObservedAt:       func(o types.CanonicalWeatherObservation) time.Time { return o.ObservationTimestamp },
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
	return &Aggregator{cfg: cfg, inner: inner}, nil
}

// GetWeather returns the canonical merged observation for the grid
// point containing the coordinates, for the optional service date.
func (a *Aggregator) GetWeather(ctx context.Context, coords types.Coordinates, date string) (*aggregate.Result[types.CanonicalWeatherObservation], error) {
	if err := coords.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	if date != "" {
		if _, err := time.Parse(time.DateOnly, date); err != nil {
			return nil, trace.BadParameter("weather date %q is not in YYYY-MM-DD form", date)
		}
	}
	grid := coords.Round(a.cfg.GridDecimals)
	res, err := a.inner.Get(ctx, aggregate.Request{Subject: grid.String(), DateHint: date})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	// identity is the grid point the caller asked about
	res.Data.Coordinates = grid
	return res, nil
}

// Health returns the per-source health table.
func (a *Aggregator) Health() map[string]aggregate.SourceHealth {
	return a.inner.Health()
}

// InvalidateCache drops the cached observation for the grid point.
func (a *Aggregator) InvalidateCache(coords types.Coordinates, date string) {
	grid := coords.Round(a.cfg.GridDecimals)
	a.inner.InvalidateCache(aggregate.Request{Subject: grid.String(), DateHint: date})
}

type resolver struct {
	saturation int
}

// resolve merges per-source observations for the same grid point. The
// condition resolves by weighted vote; measurements by outlier-dropping
// weighted mean, clamped to their canonical bounds.
func (r resolver) resolve(records []aggregate.Sourced[types.CanonicalWeatherObservation]) (types.CanonicalWeatherObservation, []resolve.Conflict, float64, error) {
	if len(records) == 0 {
		return types.CanonicalWeatherObservation{}, nil, 0, trace.BadParameter("weather resolver called with no records")
	}
	primary := heaviest(records)
	var conflicts []resolve.Conflict

	out := types.CanonicalWeatherObservation{
		Coordinates: primary.Record.Coordinates,
		AirportIATA: primary.Record.AirportIATA,
	}

	votes := make([]resolve.Vote[types.WeatherCondition], 0, len(records))
	for _, rec := range records {
		votes = append(votes, resolve.Vote[types.WeatherCondition]{
			Value:    rec.Record.Condition,
			Weight:   rec.Weight,
			Priority: rec.Priority,
			Source:   rec.Source,
		})
	}
	condition, conflicted := resolve.Tally(votes)
	out.Condition = condition
	if conflicted {
		c := resolve.Conflict{Field: "weatherCondition", Winner: string(condition)}
		for _, rec := range records {
			c.Values = append(c.Values, resolve.SourceValue{Source: rec.Source, Value: string(rec.Record.Condition)})
		}
		conflicts = append(conflicts, c)
	}

	out.TemperatureCelsius = mergeMeasurement(records,
		func(o types.CanonicalWeatherObservation) float64 { return o.TemperatureCelsius })
	out.WindSpeedKmh = math.Max(0, mergeMeasurement(records,
		func(o types.CanonicalWeatherObservation) float64 { return o.WindSpeedKmh }))
	out.PrecipitationProbability = clamp01(mergeMeasurement(records,
		func(o types.CanonicalWeatherObservation) float64 { return o.PrecipitationProbability }))

	trails := make([][]types.SourceContribution, 0, len(records))
	rels := make([]float64, 0, len(records))
	instants := make([]time.Time, 0, 2*len(records))
	for _, rec := range records {
		trails = append(trails, contributionTrail(rec))
		rels = append(rels, rec.Reliability)
		instants = append(instants, rec.Record.ObservationTimestamp, rec.ObservedAt)
	}
	out.SourceContributions = resolve.MergeContributions(trails...)
	out.ObservationTimestamp = resolve.LatestOf(instants...)
	out.LastUpdated = out.ObservationTimestamp
	out.DataQualityScore = resolve.QualityScore(rels, r.saturation, len(conflicts))

	return out, conflicts, out.DataQualityScore, nil
}

func heaviest(records []aggregate.Sourced[types.CanonicalWeatherObservation]) aggregate.Sourced[types.CanonicalWeatherObservation] {
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

func mergeMeasurement(records []aggregate.Sourced[types.CanonicalWeatherObservation], get func(types.CanonicalWeatherObservation) float64) float64 {
	samples := make([]resolve.Sample, 0, len(records))
	for _, rec := range records {
		samples = append(samples, resolve.Sample{Value: get(rec.Record), Weight: rec.Weight, Source: rec.Source})
	}
	mean, _ := resolve.WeightedMean(samples, defaults.OutlierSigma, 3)
	return mean
}

func clamp01(v float64) float64 {
	return math.Min(1, math.Max(0, v))
}

func contributionTrail(rec aggregate.Sourced[types.CanonicalWeatherObservation]) []types.SourceContribution {
	if len(rec.Record.SourceContributions) > 0 {
		return rec.Record.SourceContributions
	}
	return []types.SourceContribution{{
		SourceName:        rec.Source,
		Confidence:        rec.Reliability,
		FieldsContributed: []string{"weatherCondition", "temperatureCelsius", "windSpeedKmh", "precipitationProbability"},
		ObservedAt:        rec.ObservedAt,
	}}
}
