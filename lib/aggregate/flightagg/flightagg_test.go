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

package flightagg

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/aircover-hq/aircover/api/types"
	"github.com/aircover-hq/aircover/lib/aggregate"
	"github.com/aircover-hq/aircover/lib/utils/logutils"
)

func TestMain(m *testing.M) {
	logutils.InitLoggerForTests()
	os.Exit(m.Run())
}

type flightSource struct {
	name        string
	priority    int
	reliability float64
	record      types.CanonicalFlight
	found       bool
	err         error
	fetches     int
}

func (s *flightSource) Name() string                     { return s.name }
func (s *flightSource) Priority() int                    { return s.priority }
func (s *flightSource) Reliability() float64             { return s.reliability }
func (s *flightSource) IsAvailable(context.Context) bool { return true }

func (s *flightSource) Fetch(ctx context.Context, req aggregate.Request) (types.CanonicalFlight, bool, error) {
	s.fetches++
	if s.err != nil {
		return types.CanonicalFlight{}, false, s.err
	}
	return s.record, s.found, nil
}

func baseFlight(number string, departure time.Time) types.CanonicalFlight {
	return types.CanonicalFlight{
		FlightNumber:       number,
		ScheduledDeparture: departure,
		OriginIATA:         "SFO",
		DestinationIATA:    "JFK",
		Status:             types.FlightStatusScheduled,
	}
}

func newFlightSource(name string, priority int, record types.CanonicalFlight) *flightSource {
	return &flightSource{name: name, priority: priority, reliability: 0.9, record: record, found: true}
}

func newAggregator(t *testing.T, clock clockwork.Clock, ttl time.Duration, sources ...aggregate.Client[types.CanonicalFlight]) *Aggregator {
	t.Helper()
	agg, err := New(Config{
		Clients:  sources,
		CacheTTL: ttl,
		Clock:    clock,
	})
	require.NoError(t, err)
	return agg
}

func TestCacheHitRoundTrip(t *testing.T) {
	clock := clockwork.NewFakeClock()
	departure := clock.Now().Add(4 * time.Hour)
	src := newFlightSource("aviation-edge", 10, baseFlight("UA456", departure))
	agg := newAggregator(t, clock, 5*time.Minute, src)

	first, err := agg.GetFlightStatus(context.Background(), "UA456", "2025-12-15")
	require.NoError(t, err)
	require.False(t, first.FromCache)
	require.NotEmpty(t, first.SourcesUsed)

	second, err := agg.GetFlightStatus(context.Background(), "UA456", "2025-12-15")
	require.NoError(t, err)
	require.True(t, second.FromCache)
	require.Empty(t, second.SourcesUsed)
	require.Equal(t, first.Data, second.Data)
	require.Equal(t, first.QualityScore, second.QualityScore)
	require.Equal(t, 1, src.fetches)
}

func TestCacheExpiryForcesRefetch(t *testing.T) {
	clock := clockwork.NewFakeClock()
	departure := clock.Now().Add(4 * time.Hour)
	src := newFlightSource("aviation-edge", 10, baseFlight("DL789", departure))
	agg := newAggregator(t, clock, 100*time.Millisecond, src)

	first, err := agg.GetFlightStatus(context.Background(), "DL789", "2025-12-15")
	require.NoError(t, err)
	require.False(t, first.FromCache)

	clock.Advance(150 * time.Millisecond)

	second, err := agg.GetFlightStatus(context.Background(), "DL789", "2025-12-15")
	require.NoError(t, err)
	require.False(t, second.FromCache)
	require.Equal(t, 2, src.fetches)
}

func TestConflictingStatusResolvedByWeight(t *testing.T) {
	clock := clockwork.NewFakeClock()
	departure := clock.Now().Add(4 * time.Hour)

	onTime := baseFlight("BA999", departure)
	onTime.Status = types.FlightStatusOnTime

	delayed := baseFlight("BA999", departure)
	delayed.Status = types.FlightStatusDelayed
	delayed.DepartureDelayMinutes = types.IntPtr(30)

	a := newFlightSource("source-a", 2, onTime)
	a.reliability = 0.95
	b := newFlightSource("source-b", 1, delayed)
	b.reliability = 0.85

	agg := newAggregator(t, clock, 5*time.Minute, a, b)

	res, err := agg.GetFlightStatus(context.Background(), "BA999", "2025-12-15")
	require.NoError(t, err)
	require.Equal(t, types.FlightStatusOnTime, res.Data.Status)
	require.NotEmpty(t, res.Conflicts)
	require.Greater(t, res.QualityScore, 0.6)
	require.Less(t, res.QualityScore, 1.0)
	require.Len(t, res.SourcesUsed, 2)

	// an on-time flight carries no delay regardless of minority reports
	require.Zero(t, res.Data.DepartureDelay())
	require.Len(t, res.Data.SourceContributions, 2)
}

func TestAllSourcesFailing(t *testing.T) {
	clock := clockwork.NewFakeClock()
	a := newFlightSource("source-a", 2, types.CanonicalFlight{})
	a.err = errors.New("provider down")
	b := newFlightSource("source-b", 1, types.CanonicalFlight{})
	b.err = errors.New("provider down")

	agg := newAggregator(t, clock, 5*time.Minute, a, b)

	_, err := agg.GetFlightStatus(context.Background(), "BA999", "2025-12-15")
	require.Error(t, err)
	require.Contains(t, err.Error(), "No successful responses")
}

func TestDelayedFlightMergesDelays(t *testing.T) {
	clock := clockwork.NewFakeClock()
	departure := clock.Now().Add(time.Hour)

	mk := func(delay int) types.CanonicalFlight {
		f := baseFlight("LH400", departure)
		f.Status = types.FlightStatusDelayed
		f.DepartureDelayMinutes = types.IntPtr(delay)
		return f
	}
	a := newFlightSource("source-a", 3, mk(20))
	b := newFlightSource("source-b", 2, mk(24))

	agg := newAggregator(t, clock, 5*time.Minute, a, b)

	res, err := agg.GetFlightStatus(context.Background(), "LH400", "2025-12-15")
	require.NoError(t, err)
	require.Equal(t, types.FlightStatusDelayed, res.Data.Status)
	// equal weights: plain mean of 20 and 24
	require.Equal(t, 22, res.Data.DepartureDelay())
}

func TestIdentityDisagreementRecorded(t *testing.T) {
	clock := clockwork.NewFakeClock()
	departure := clock.Now().Add(time.Hour)

	good := baseFlight("AF100", departure)
	skewed := baseFlight("AF100", departure.Add(5*time.Minute))
	skewed.OriginIATA = "CDG"

	a := newFlightSource("source-a", 2, good)
	a.reliability = 0.95
	b := newFlightSource("source-b", 1, skewed)
	b.reliability = 0.6

	agg := newAggregator(t, clock, 5*time.Minute, a, b)

	res, err := agg.GetFlightStatus(context.Background(), "AF100", "2025-12-15")
	require.NoError(t, err)
	// the heavier source's identity wins
	require.Equal(t, "SFO", res.Data.OriginIATA)
	require.Equal(t, departure, res.Data.ScheduledDeparture)

	fields := make(map[string]bool)
	for _, c := range res.Conflicts {
		fields[c.Field] = true
	}
	require.True(t, fields["originIATA"])
	require.True(t, fields["scheduledDepartureUTC"])
}

func TestScheduledDepartureWithinToleranceAgrees(t *testing.T) {
	clock := clockwork.NewFakeClock()
	departure := clock.Now().Add(time.Hour)

	a := newFlightSource("source-a", 2, baseFlight("QF1", departure))
	b := newFlightSource("source-b", 1, baseFlight("QF1", departure.Add(45*time.Second)))

	agg := newAggregator(t, clock, 5*time.Minute, a, b)

	res, err := agg.GetFlightStatus(context.Background(), "QF1", "2025-12-15")
	require.NoError(t, err)
	require.Empty(t, res.Conflicts)
}

func TestInvalidArguments(t *testing.T) {
	clock := clockwork.NewFakeClock()
	src := newFlightSource("source-a", 1, baseFlight("UA1", clock.Now()))
	agg := newAggregator(t, clock, 5*time.Minute, src)

	_, err := agg.GetFlightStatus(context.Background(), "", "2025-12-15")
	require.Error(t, err)

	_, err = agg.GetFlightStatus(context.Background(), "UA1", "12/15/2025")
	require.Error(t, err)
	require.Zero(t, src.fetches)
}
