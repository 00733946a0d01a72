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

package sources

import (
	"context"
	"hash/fnv"
	"strings"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/aircover-hq/aircover/api/types"
	"github.com/aircover-hq/aircover/lib/aggregate"
)

// Fixture sources serve deterministic synthetic data derived from the
// request key. They let the full pipeline run in development and demos
// without provider credentials: the same flight number always produces
// the same status, so payout flows can be exercised end to end.

const (
	fixtureFlightName  = "fixture-flight"
	fixtureWeatherName = "fixture-weather"
	fixtureReliability = 0.99
)

// FixtureFlightSource is a deterministic in-process flight source.
type FixtureFlightSource struct {
	clock clockwork.Clock
}

// NewFixtureFlightSource creates a fixture flight source.
func NewFixtureFlightSource(clock clockwork.Clock) *FixtureFlightSource {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &FixtureFlightSource{clock: clock}
}

func (s *FixtureFlightSource) Name() string                     { return fixtureFlightName }
func (s *FixtureFlightSource) Priority() int                    { return 1 }
func (s *FixtureFlightSource) Reliability() float64             { return fixtureReliability }
func (s *FixtureFlightSource) IsAvailable(context.Context) bool { return true }

// Fetch synthesizes a flight record from the request key. Flight
// numbers hash into one of four buckets: on time, delayed 20 minutes,
// delayed 45 minutes, or cancelled.
func (s *FixtureFlightSource) Fetch(ctx context.Context, req aggregate.Request) (types.CanonicalFlight, bool, error) {
	number := strings.ToUpper(strings.TrimSpace(req.Subject))
	if number == "" {
		return types.CanonicalFlight{}, false, trace.BadParameter("fixture flight source needs a flight number")
	}
	now := s.clock.Now().UTC()
	departure := fixtureDeparture(number, req.DateHint, now)

	out := types.CanonicalFlight{
		FlightNumber:       number,
		ScheduledDeparture: departure,
		OriginIATA:         "SFO",
		DestinationIATA:    "JFK",
		LastUpdated:        now,
	}
	switch fixtureHash(number) % 4 {
	case 0:
		out.Status = types.FlightStatusOnTime
	case 1:
		out.Status = types.FlightStatusDelayed
		out.DepartureDelayMinutes = types.IntPtr(20)
	case 2:
		out.Status = types.FlightStatusDelayed
		out.DepartureDelayMinutes = types.IntPtr(45)
		out.ArrivalDelayMinutes = types.IntPtr(40)
	default:
		out.Status = types.FlightStatusCancelled
	}
	out.SourceContributions = []types.SourceContribution{{
		SourceName:        fixtureFlightName,
		Confidence:        fixtureReliability,
		FieldsContributed: contributedFlightFields(out),
		ObservedAt:        now,
	}}
	return out, true, nil
}

// FixtureWeatherSource is a deterministic in-process weather source.
type FixtureWeatherSource struct {
	clock clockwork.Clock
}

// NewFixtureWeatherSource creates a fixture weather source.
func NewFixtureWeatherSource(clock clockwork.Clock) *FixtureWeatherSource {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &FixtureWeatherSource{clock: clock}
}

func (s *FixtureWeatherSource) Name() string                     { return fixtureWeatherName }
func (s *FixtureWeatherSource) Priority() int                    { return 1 }
func (s *FixtureWeatherSource) Reliability() float64             { return fixtureReliability }
func (s *FixtureWeatherSource) IsAvailable(context.Context) bool { return true }

// Fetch synthesizes an observation from the grid point. Conditions
// cycle through a fixed set so disruption predicates are reachable.
func (s *FixtureWeatherSource) Fetch(ctx context.Context, req aggregate.Request) (types.CanonicalWeatherObservation, bool, error) {
	coords, err := parseCoordinateSubject(req.Subject)
	if err != nil {
		return types.CanonicalWeatherObservation{}, false, trace.Wrap(err)
	}
	now := s.clock.Now().UTC()
	h := fixtureHash(req.Subject)

	conditions := []types.WeatherCondition{
		types.WeatherConditionClear,
		types.WeatherConditionPartlyCloudy,
		types.WeatherConditionCloudy,
		types.WeatherConditionLightRain,
		types.WeatherConditionHeavyRain,
		types.WeatherConditionThunderstorm,
	}
	condition := conditions[h%uint32(len(conditions))]

	out := types.CanonicalWeatherObservation{
		Coordinates:              coords,
		ObservationTimestamp:     now,
		TemperatureCelsius:       float64(5 + h%25),
		WindSpeedKmh:             float64(h % 70),
		PrecipitationProbability: float64(h%100) / 100,
		Condition:                condition,
		LastUpdated:              now,
	}
	out.SourceContributions = []types.SourceContribution{{
		SourceName:        fixtureWeatherName,
		Confidence:        fixtureReliability,
		FieldsContributed: []string{"weatherCondition", "temperatureCelsius", "windSpeedKmh", "precipitationProbability"},
		ObservedAt:        now,
	}}
	return out, true, nil
}

func fixtureHash(s string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(s))
	return h.Sum32()
}

// fixtureDeparture derives a stable scheduled departure: the date hint
// at 14:00 UTC when given, otherwise two hours from now truncated to
// the hour.
func fixtureDeparture(number, dateHint string, now time.Time) time.Time {
	if dateHint != "" {
		if d, err := time.Parse(time.DateOnly, dateHint); err == nil {
			return d.Add(14 * time.Hour)
		}
	}
	return now.Truncate(time.Hour).Add(2 * time.Hour)
}

var (
	_ aggregate.Client[types.CanonicalFlight]             = (*FixtureFlightSource)(nil)
	_ aggregate.Client[types.CanonicalWeatherObservation] = (*FixtureWeatherSource)(nil)
)
