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
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/aircover-hq/aircover/api/types"
	"github.com/aircover-hq/aircover/lib/aggregate"
)

func TestAviationEdgeFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "UA456", r.URL.Query().Get("flight_iata"))
		require.Equal(t, "test-key", r.URL.Query().Get("key"))
		w.Write([]byte(`[{
			"status": "scheduled",
			"departure": {"iataCode": "sfo", "scheduledTime": "2025-12-15T14:00:00.000", "delay": 25},
			"arrival": {"iataCode": "jfk", "scheduledTime": "2025-12-15T22:30:00.000"},
			"flight": {"iataNumber": "ua456"}
		}]`))
	}))
	defer srv.Close()

	src, err := NewAviationEdge(AviationEdgeConfig{
		APIKey:  "test-key",
		BaseURL: srv.URL,
		Clock:   clockwork.NewFakeClock(),
	})
	require.NoError(t, err)

	flight, found, err := src.Fetch(context.Background(), aggregate.Request{Subject: "UA456", DateHint: "2025-12-15"})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "UA456", flight.FlightNumber)
	require.Equal(t, "SFO", flight.OriginIATA)
	require.Equal(t, "JFK", flight.DestinationIATA)
	// a scheduled flight with a reported delay is canonically delayed
	require.Equal(t, types.FlightStatusDelayed, flight.Status)
	require.Equal(t, 25, flight.DepartureDelay())
	require.Equal(t, time.Date(2025, 12, 15, 14, 0, 0, 0, time.UTC), flight.ScheduledDeparture)
	require.Len(t, flight.SourceContributions, 1)
	require.Equal(t, "aviation-edge", flight.SourceContributions[0].SourceName)
	require.NoError(t, flight.Check())
}

func TestAviationEdgeNoRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// the API reports unknown flights as an object, not an array
		w.Write([]byte(`{"error": "No Record Found"}`))
	}))
	defer srv.Close()

	src, err := NewAviationEdge(AviationEdgeConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, found, err := src.Fetch(context.Background(), aggregate.Request{Subject: "XX000"})
	require.NoError(t, err)
	require.False(t, found)
}

func TestAviationEdgeServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	src, err := NewAviationEdge(AviationEdgeConfig{APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)

	_, _, err = src.Fetch(context.Background(), aggregate.Request{Subject: "UA456"})
	require.Error(t, err)
	require.True(t, trace.IsConnectionProblem(err))
}

func TestAeroDataBoxFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/flights/number/BA999/2025-12-15", r.URL.Path)
		require.Equal(t, "rapid-key", r.Header.Get("X-RapidAPI-Key"))
		w.Write([]byte(`[{
			"number": "BA 999",
			"status": "Departed",
			"departure": {
				"airport": {"iata": "LHR"},
				"scheduledTime": {"utc": "2025-12-15 09:00Z"},
				"revisedTime": {"utc": "2025-12-15 09:45Z"},
				"runwayTime": {"utc": "2025-12-15 09:47Z"}
			},
			"arrival": {
				"airport": {"iata": "AMS"},
				"scheduledTime": {"utc": "2025-12-15 11:00Z"}
			}
		}]`))
	}))
	defer srv.Close()

	src, err := NewAeroDataBox(AeroDataBoxConfig{
		APIKey:  "rapid-key",
		BaseURL: srv.URL,
		Clock:   clockwork.NewFakeClock(),
	})
	require.NoError(t, err)

	flight, found, err := src.Fetch(context.Background(), aggregate.Request{Subject: "BA999", DateHint: "2025-12-15"})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "BA999", flight.FlightNumber)
	require.Equal(t, "LHR", flight.OriginIATA)
	require.Equal(t, "AMS", flight.DestinationIATA)
	// revised 45 minutes after schedule
	require.Equal(t, types.FlightStatusDelayed, flight.Status)
	require.Equal(t, 45, flight.DepartureDelay())
	require.NotNil(t, flight.ActualDeparture)
	require.NoError(t, flight.Check())
}

func TestOpenMeteoFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "37.6213", r.URL.Query().Get("latitude"))
		w.Write([]byte(`{"current": {
			"time": "2025-12-15T18:00",
			"temperature_2m": 14.5,
			"wind_speed_10m": 22.3,
			"precipitation_probability": 65,
			"weather_code": 63
		}}`))
	}))
	defer srv.Close()

	src, err := NewOpenMeteo(OpenMeteoConfig{BaseURL: srv.URL, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)

	obs, found, err := src.Fetch(context.Background(), aggregate.Request{Subject: "37.6213,-122.3790"})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, types.WeatherConditionModerateRain, obs.Condition)
	require.InDelta(t, 14.5, obs.TemperatureCelsius, 1e-9)
	require.InDelta(t, 22.3, obs.WindSpeedKmh, 1e-9)
	require.InDelta(t, 0.65, obs.PrecipitationProbability, 1e-9)
	require.Equal(t, time.Date(2025, 12, 15, 18, 0, 0, 0, time.UTC), obs.ObservationTimestamp)
	require.NoError(t, obs.Check())
}

func TestOpenWeatherFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "ow-key", r.URL.Query().Get("appid"))
		require.Equal(t, "metric", r.URL.Query().Get("units"))
		w.Write([]byte(`{
			"weather": [{"id": 211, "main": "Thunderstorm"}],
			"main": {"temp": 19.2},
			"wind": {"speed": 10.0},
			"clouds": {"all": 90},
			"rain": {"1h": 4.2},
			"dt": 1765821600
		}`))
	}))
	defer srv.Close()

	src, err := NewOpenWeather(OpenWeatherConfig{APIKey: "ow-key", BaseURL: srv.URL, Clock: clockwork.NewFakeClock()})
	require.NoError(t, err)

	obs, found, err := src.Fetch(context.Background(), aggregate.Request{Subject: "40.6413,-73.7781"})
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, types.WeatherConditionThunderstorm, obs.Condition)
	// 10 m/s sustained wind is 36 km/h
	require.InDelta(t, 36, obs.WindSpeedKmh, 1e-9)
	require.InDelta(t, 0.9, obs.PrecipitationProbability, 1e-9)
	require.Equal(t, time.Unix(1765821600, 0).UTC(), obs.ObservationTimestamp)
	require.NoError(t, obs.Check())
}

func TestParseCoordinateSubject(t *testing.T) {
	coords, err := parseCoordinateSubject("37.6213,-122.3790")
	require.NoError(t, err)
	require.InDelta(t, 37.6213, coords.Lat, 1e-9)
	require.InDelta(t, -122.379, coords.Lon, 1e-9)

	_, err = parseCoordinateSubject("not-coordinates")
	require.Error(t, err)

	_, err = parseCoordinateSubject("91.0,0.0")
	require.Error(t, err)
}

func TestFixtureSourcesAreDeterministic(t *testing.T) {
	clock := clockwork.NewFakeClock()
	flight := NewFixtureFlightSource(clock)

	a, found, err := flight.Fetch(context.Background(), aggregate.Request{Subject: "UA456", DateHint: "2025-12-15"})
	require.NoError(t, err)
	require.True(t, found)
	b, _, err := flight.Fetch(context.Background(), aggregate.Request{Subject: "UA456", DateHint: "2025-12-15"})
	require.NoError(t, err)
	require.Equal(t, a, b)
	require.NoError(t, a.Check())

	weather := NewFixtureWeatherSource(clock)
	w1, found, err := weather.Fetch(context.Background(), aggregate.Request{Subject: "37.6213,-122.3790"})
	require.NoError(t, err)
	require.True(t, found)
	w2, _, err := weather.Fetch(context.Background(), aggregate.Request{Subject: "37.6213,-122.3790"})
	require.NoError(t, err)
	require.Equal(t, w1, w2)
	require.NoError(t, w1.Check())
}

func TestWMOConditionMapping(t *testing.T) {
	cases := map[int]types.WeatherCondition{
		0:  types.WeatherConditionClear,
		2:  types.WeatherConditionPartlyCloudy,
		3:  types.WeatherConditionCloudy,
		45: types.WeatherConditionFog,
		61: types.WeatherConditionLightRain,
		65: types.WeatherConditionHeavyRain,
		75: types.WeatherConditionSnow,
		95: types.WeatherConditionThunderstorm,
		42: types.WeatherConditionUnknown,
	}
	for code, want := range cases {
		require.Equal(t, want, wmoCondition(code), "code %d", code)
	}
}
