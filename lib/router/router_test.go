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

package router

import (
	"context"
	"errors"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/aircover-hq/aircover/api/types"
	"github.com/aircover-hq/aircover/lib/aggregate"
	"github.com/aircover-hq/aircover/lib/aggregate/flightagg"
	"github.com/aircover-hq/aircover/lib/aggregate/weatheragg"
	"github.com/aircover-hq/aircover/lib/utils/logutils"
)

func TestMain(m *testing.M) {
	logutils.InitLoggerForTests()
	os.Exit(m.Run())
}

type flightSource struct {
	record types.CanonicalFlight
	err    error
}

func (s *flightSource) Name() string                     { return "stub-flight" }
func (s *flightSource) Priority() int                    { return 1 }
func (s *flightSource) Reliability() float64             { return 0.9 }
func (s *flightSource) IsAvailable(context.Context) bool { return true }
func (s *flightSource) Fetch(ctx context.Context, req aggregate.Request) (types.CanonicalFlight, bool, error) {
	if s.err != nil {
		return types.CanonicalFlight{}, false, s.err
	}
	return s.record, true, nil
}

type weatherSource struct {
	err error
	// locations are fetched concurrently
	fetches atomic.Int32
}

func (s *weatherSource) Name() string                     { return "stub-weather" }
func (s *weatherSource) Priority() int                    { return 1 }
func (s *weatherSource) Reliability() float64             { return 0.9 }
func (s *weatherSource) IsAvailable(context.Context) bool { return true }
func (s *weatherSource) Fetch(ctx context.Context, req aggregate.Request) (types.CanonicalWeatherObservation, bool, error) {
	s.fetches.Add(1)
	if s.err != nil {
		return types.CanonicalWeatherObservation{}, false, s.err
	}
	return types.CanonicalWeatherObservation{
		Condition:                types.WeatherConditionClear,
		TemperatureCelsius:       18,
		WindSpeedKmh:             10,
		PrecipitationProbability: 0.1,
	}, true, nil
}

func testRouter(t *testing.T, clock clockwork.Clock, flight *flightSource, weather *weatherSource) *Router {
	t.Helper()
	fa, err := flightagg.New(flightagg.Config{
		Clients: []aggregate.Client[types.CanonicalFlight]{flight},
		Clock:   clock,
	})
	require.NoError(t, err)
	wa, err := weatheragg.New(weatheragg.Config{
		Clients: []aggregate.Client[types.CanonicalWeatherObservation]{weather},
		Clock:   clock,
	})
	require.NoError(t, err)
	r, err := New(Config{
		FlightAggregator:  fa,
		WeatherAggregator: wa,
		Clock:             clock,
	})
	require.NoError(t, err)
	return r
}

func testFlight(clock clockwork.Clock) types.CanonicalFlight {
	return types.CanonicalFlight{
		FlightNumber:       "UA456",
		ScheduledDeparture: clock.Now().Add(3 * time.Hour),
		OriginIATA:         "SFO",
		DestinationIATA:    "JFK",
		Status:             types.FlightStatusScheduled,
	}
}

func TestBundleIncludesOriginAndDestinationWeather(t *testing.T) {
	clock := clockwork.NewFakeClock()
	weather := &weatherSource{}
	r := testRouter(t, clock, &flightSource{record: testFlight(clock)}, weather)

	resp, err := r.GetDataForPolicy(context.Background(), Request{FlightNumber: "UA456", Date: "2025-12-15"})
	require.NoError(t, err)
	require.Equal(t, "UA456", resp.Flight.FlightNumber)
	require.Len(t, resp.Weather, 2)

	airports := []string{resp.Weather[0].AirportIATA, resp.Weather[1].AirportIATA}
	require.ElementsMatch(t, []string{"SFO", "JFK"}, airports)
	require.Empty(t, resp.Metadata.WeatherFailures)
	require.NotEmpty(t, resp.Metadata.FlightSourcesUsed)
}

func TestWeatherDisabled(t *testing.T) {
	clock := clockwork.NewFakeClock()
	weather := &weatherSource{}
	r := testRouter(t, clock, &flightSource{record: testFlight(clock)}, weather)

	exclude := false
	resp, err := r.GetDataForPolicy(context.Background(), Request{
		FlightNumber:   "UA456",
		Date:           "2025-12-15",
		IncludeWeather: &exclude,
	})
	require.NoError(t, err)
	require.Empty(t, resp.Weather)
	require.Zero(t, weather.fetches.Load())
}

func TestWeatherFailureDoesNotFailBundle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	weather := &weatherSource{err: errors.New("provider down")}
	r := testRouter(t, clock, &flightSource{record: testFlight(clock)}, weather)

	resp, err := r.GetDataForPolicy(context.Background(), Request{FlightNumber: "UA456", Date: "2025-12-15"})
	require.NoError(t, err)
	require.Empty(t, resp.Weather)
	require.Len(t, resp.Metadata.WeatherFailures, 2)
}

func TestFlightFailureFailsBundle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	r := testRouter(t, clock, &flightSource{err: errors.New("all providers down")}, &weatherSource{})

	_, err := r.GetDataForPolicy(context.Background(), Request{FlightNumber: "UA456", Date: "2025-12-15"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "No successful responses")
}

func TestUnknownAirportReportedNotFatal(t *testing.T) {
	clock := clockwork.NewFakeClock()
	weather := &weatherSource{}
	r := testRouter(t, clock, &flightSource{record: testFlight(clock)}, weather)

	resp, err := r.GetDataForPolicy(context.Background(), Request{
		FlightNumber: "UA456",
		Date:         "2025-12-15",
		Airports:     []string{"SFO", "XXX"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Weather, 1)
	require.Len(t, resp.Metadata.WeatherFailures, 1)
	require.Equal(t, "XXX", resp.Metadata.WeatherFailures[0].Location)
}

func TestDuplicateLocationsFetchedOnce(t *testing.T) {
	clock := clockwork.NewFakeClock()
	weather := &weatherSource{}
	r := testRouter(t, clock, &flightSource{record: testFlight(clock)}, weather)

	resp, err := r.GetDataForPolicy(context.Background(), Request{
		FlightNumber: "UA456",
		Date:         "2025-12-15",
		Airports:     []string{"SFO", "SFO", "SFO"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Weather, 1)
	require.Equal(t, int32(1), weather.fetches.Load())
}

func TestExplicitCoordinatesWin(t *testing.T) {
	clock := clockwork.NewFakeClock()
	weather := &weatherSource{}
	r := testRouter(t, clock, &flightSource{record: testFlight(clock)}, weather)

	resp, err := r.GetDataForPolicy(context.Background(), Request{
		FlightNumber:       "UA456",
		Date:               "2025-12-15",
		Airports:           []string{"SFO", "JFK"},
		WeatherCoordinates: []types.Coordinates{{Lat: 51.47, Lon: -0.4543}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Weather, 1)
	require.Empty(t, resp.Weather[0].AirportIATA)
	require.Equal(t, int32(1), weather.fetches.Load())
}

func TestSecondBundleHitsCaches(t *testing.T) {
	clock := clockwork.NewFakeClock()
	weather := &weatherSource{}
	r := testRouter(t, clock, &flightSource{record: testFlight(clock)}, weather)

	first, err := r.GetDataForPolicy(context.Background(), Request{FlightNumber: "UA456", Date: "2025-12-15"})
	require.NoError(t, err)
	require.False(t, first.Metadata.FlightFromCache)
	require.Zero(t, first.Metadata.WeatherCacheHits)

	second, err := r.GetDataForPolicy(context.Background(), Request{FlightNumber: "UA456", Date: "2025-12-15"})
	require.NoError(t, err)
	require.True(t, second.Metadata.FlightFromCache)
	require.Equal(t, 2, second.Metadata.WeatherCacheHits)
	require.Equal(t, first.Flight, second.Flight)
}
