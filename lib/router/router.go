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

// Package router assembles the full data bundle behind one policy
// evaluation: one flight lookup plus bounded-concurrency weather
// lookups for every location the policy touches.
package router

import (
	"context"
	"log/slog"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"

	"github.com/aircover-hq/aircover"
	"github.com/aircover-hq/aircover/api/types"
	"github.com/aircover-hq/aircover/lib/aggregate/flightagg"
	"github.com/aircover-hq/aircover/lib/aggregate/weatheragg"
	"github.com/aircover-hq/aircover/lib/defaults"
	"github.com/aircover-hq/aircover/lib/utils/logutils"
)

// Request identifies one policy data bundle.
type Request struct {
	// FlightNumber is the IATA flight designator.
	FlightNumber string
	// Date is the service date in YYYY-MM-DD form.
	Date string
	// Airports optionally names the airports to fetch weather for; when
	// empty the flight's origin and destination are used.
	Airports []string
	// WeatherCoordinates optionally overrides the weather locations
	// entirely.
	WeatherCoordinates []types.Coordinates
	// IncludeWeather defaults to true; nil means true.
	IncludeWeather *bool
}

func (r *Request) includeWeather() bool {
	return r.IncludeWeather == nil || *r.IncludeWeather
}

// WeatherObservation is one successful weather lookup in the bundle.
type WeatherObservation struct {
	// AirportIATA is set when the location came from an airport code.
	AirportIATA string `json:"airportIATA,omitempty"`
	// Observation is the resolved canonical observation.
	Observation types.CanonicalWeatherObservation `json:"observation"`
	// FromCache is true when the observation was served from cache.
	FromCache bool `json:"fromCache"`
}

// WeatherFailure names one weather location that could not be served.
// Weather is optional in the bundle, so failures are reported, not
// raised.
type WeatherFailure struct {
	Location string `json:"location"`
	Error    string `json:"error"`
}

// Metadata summarizes how the bundle was assembled.
type Metadata struct {
	// FlightFromCache is true when the flight came from cache.
	FlightFromCache bool `json:"flightFromCache"`
	// FlightSourcesUsed names the sources behind a live flight fetch.
	FlightSourcesUsed []string `json:"flightSourcesUsed"`
	// FlightQualityScore is the flight record's quality score.
	FlightQualityScore float64 `json:"flightQualityScore"`
	// FlightConflicts lists conflicts resolved during the flight merge.
	FlightConflicts int `json:"flightConflicts"`
	// WeatherCacheHits counts weather lookups served from cache.
	WeatherCacheHits int `json:"weatherCacheHits"`
	// WeatherFailures lists locations whose weather lookup failed or
	// whose airport code was not in the coordinates table.
	WeatherFailures []WeatherFailure `json:"weatherFailures,omitempty"`
	// ProcessingTime is the wall time of the whole bundle.
	ProcessingTime time.Duration `json:"processingTime"`
}

// Response is the assembled policy data bundle.
type Response struct {
	// Flight is the canonical flight record.
	Flight types.CanonicalFlight `json:"flight"`
	// Weather holds the successful weather observations, at most one
	// per distinct grid point.
	Weather []WeatherObservation `json:"weather"`
	// Metadata describes provenance and cost of the bundle.
	Metadata Metadata `json:"metadata"`
}

// Config configures a Router.
type Config struct {
	// FlightAggregator serves the flight lookup. Required.
	FlightAggregator *flightagg.Aggregator
	// WeatherAggregator serves weather lookups. Required unless every
	// request disables weather.
	WeatherAggregator *weatheragg.Aggregator
	// Timeout bounds one whole bundle.
	Timeout time.Duration
	// MaxConcurrentWeather bounds the weather fan-out.
	MaxConcurrentWeather int
	// Clock is the time source.
	Clock clockwork.Clock
	// Logger defaults to the router package logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.FlightAggregator == nil {
		return trace.BadParameter("router config missing required parameter FlightAggregator")
	}
	if c.Timeout <= 0 {
		c.Timeout = defaults.RouterTimeout
	}
	if c.MaxConcurrentWeather <= 0 {
		c.MaxConcurrentWeather = defaults.MaxConcurrentWeatherRequests
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = logutils.NewPackageLogger(aircover.ComponentDataRouter)
	}
	return nil
}

// Router orchestrates flight and weather lookups into policy data
// bundles.
type Router struct {
	cfg Config
}

// New creates a Router.
func New(cfg Config) (*Router, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Router{cfg: cfg}, nil
}

// weatherTarget is one distinct grid point to fetch, with the airport
// code it came from when applicable.
type weatherTarget struct {
	coords  types.Coordinates
	airport string
}

// GetDataForPolicy assembles the data bundle for the request. The
// flight lookup is load-bearing: its failure fails the bundle. Weather
// lookups settle independently; any subset of them may fail without
// affecting the rest.
func (r *Router) GetDataForPolicy(ctx context.Context, req Request) (*Response, error) {
	if req.FlightNumber == "" {
		return nil, trace.BadParameter("missing flight number")
	}
	start := r.cfg.Clock.Now()
	ctx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	flight, err := r.cfg.FlightAggregator.GetFlightStatus(ctx, req.FlightNumber, req.Date)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	resp := &Response{
		Flight: flight.Data,
		Metadata: Metadata{
			FlightFromCache:    flight.FromCache,
			FlightSourcesUsed:  flight.SourcesUsed,
			FlightQualityScore: flight.QualityScore,
			FlightConflicts:    len(flight.Conflicts),
		},
	}
	if !req.includeWeather() {
		resp.Metadata.ProcessingTime = r.cfg.Clock.Now().Sub(start)
		return resp, nil
	}
	if r.cfg.WeatherAggregator == nil {
		return nil, trace.BadParameter("weather requested but no weather aggregator is configured")
	}

	targets, failures := r.weatherTargets(req, flight.Data)
	resp.Metadata.WeatherFailures = failures
	r.fetchWeather(ctx, req.Date, targets, resp)

	resp.Metadata.ProcessingTime = r.cfg.Clock.Now().Sub(start)
	return resp, nil
}

// weatherTargets resolves the distinct weather locations for the
// request: explicit coordinates win, then explicit airports, then the
// flight's own origin and destination.
func (r *Router) weatherTargets(req Request, flight types.CanonicalFlight) ([]weatherTarget, []WeatherFailure) {
	var targets []weatherTarget
	var failures []WeatherFailure

	switch {
	case len(req.WeatherCoordinates) > 0:
		for _, c := range req.WeatherCoordinates {
			targets = append(targets, weatherTarget{coords: c})
		}
	case len(req.Airports) > 0:
		for _, iata := range req.Airports {
			coords, ok := LookupAirport(iata)
			if !ok {
				failures = append(failures, WeatherFailure{Location: iata, Error: "unknown airport code"})
				continue
			}
			targets = append(targets, weatherTarget{coords: coords, airport: iata})
		}
	default:
		for _, iata := range []string{flight.OriginIATA, flight.DestinationIATA} {
			coords, ok := LookupAirport(iata)
			if !ok {
				failures = append(failures, WeatherFailure{Location: iata, Error: "unknown airport code"})
				continue
			}
			targets = append(targets, weatherTarget{coords: coords, airport: iata})
		}
	}

	// dedupe by grid point so origin == destination costs one fetch
	seen := make(map[string]struct{}, len(targets))
	deduped := targets[:0]
	for _, t := range targets {
		key := t.coords.Round(defaults.CoordinateGridDecimals).String()
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		deduped = append(deduped, t)
	}
	return deduped, failures
}

// fetchWeather runs the weather lookups with bounded concurrency and
// settle-all semantics, appending results and failures to the response.
func (r *Router) fetchWeather(ctx context.Context, date string, targets []weatherTarget, resp *Response) {
	type slot struct {
		obs  *WeatherObservation
		fail *WeatherFailure
	}
	// each goroutine owns one slot, no shared state
	slots := make([]slot, len(targets))

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(r.cfg.MaxConcurrentWeather)
	for i, target := range targets {
		group.Go(func() error {
			res, err := r.cfg.WeatherAggregator.GetWeather(ctx, target.coords, date)
			if err != nil {
				r.cfg.Logger.WarnContext(ctx, "Weather lookup failed for bundle location.",
					"location", target.coords.String(), "airport", target.airport, "error", err)
				slots[i].fail = &WeatherFailure{Location: locationLabel(target), Error: err.Error()}
				return nil
			}
			obs := res.Data
			obs.AirportIATA = target.airport
			slots[i].obs = &WeatherObservation{
				AirportIATA: target.airport,
				Observation: obs,
				FromCache:   res.FromCache,
			}
			return nil
		})
	}
	// goroutines only ever return nil; Wait just joins them
	_ = group.Wait()

	for _, s := range slots {
		switch {
		case s.obs != nil:
			resp.Weather = append(resp.Weather, *s.obs)
			if s.obs.FromCache {
				resp.Metadata.WeatherCacheHits++
			}
		case s.fail != nil:
			resp.Metadata.WeatherFailures = append(resp.Metadata.WeatherFailures, *s.fail)
		}
	}
}

func locationLabel(t weatherTarget) string {
	if t.airport != "" {
		return t.airport
	}
	return t.coords.String()
}
