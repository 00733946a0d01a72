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

package config

import (
	"strings"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"
)

func TestDefaultsApplied(t *testing.T) {
	cfg, err := Read(strings.NewReader(""))
	require.NoError(t, err)

	require.Equal(t, 3, cfg.Aggregation.MaxSources)
	require.Equal(t, 30*time.Second, cfg.Aggregation.PerSourceTimeout())
	require.Equal(t, 30*time.Second, cfg.Aggregation.AggregatorTimeout())
	require.Equal(t, 45*time.Second, cfg.Aggregation.RouterTimeout())
	require.Equal(t, 5*time.Minute, cfg.Aggregation.FlightCacheTTL())
	require.Equal(t, 15*time.Minute, cfg.Aggregation.WeatherCacheTTL())
	require.Equal(t, 3, cfg.Aggregation.MaxConcurrentWeatherRequests)
	require.InEpsilon(t, 0.3, cfg.Aggregation.MinAcceptableQualityScore, 1e-9)
	require.Equal(t, 5*time.Minute, cfg.Monitor.Interval())
	require.Equal(t, 50, cfg.Monitor.MaxPoliciesPerCheck)
	require.Equal(t, 15, cfg.Monitor.DefaultDelayThresholdMinutes)
	require.False(t, cfg.Providers.UseRealProviders)
	require.Equal(t, "PAYGO", cfg.Service.PrimaryChain)
	require.NotEmpty(t, cfg.Service.ListenAddr)
}

func TestFileOverrides(t *testing.T) {
	cfg, err := Read(strings.NewReader(`
aggregation:
  max_sources: 2
  per_source_timeout_ms: 5000
  cache_ttl_flight_seconds: 60
  min_acceptable_quality_score: 0.5
monitor:
  interval_ms: 60000
  max_policies_per_check: 10
providers:
  use_real_providers: true
  aviation_edge_api_key: key-123
service:
  listen_addr: "127.0.0.1:9999"
  primary_chain: BASE
`))
	require.NoError(t, err)

	require.Equal(t, 2, cfg.Aggregation.MaxSources)
	require.Equal(t, 5*time.Second, cfg.Aggregation.PerSourceTimeout())
	require.Equal(t, time.Minute, cfg.Aggregation.FlightCacheTTL())
	require.InEpsilon(t, 0.5, cfg.Aggregation.MinAcceptableQualityScore, 1e-9)
	require.Equal(t, time.Minute, cfg.Monitor.Interval())
	require.Equal(t, 10, cfg.Monitor.MaxPoliciesPerCheck)
	require.True(t, cfg.Providers.UseRealProviders)
	require.Equal(t, "key-123", cfg.Providers.AviationEdgeAPIKey)
	require.Equal(t, "127.0.0.1:9999", cfg.Service.ListenAddr)
	require.Equal(t, "BASE", cfg.Service.PrimaryChain)
}

func TestUnknownFieldsRejected(t *testing.T) {
	_, err := Read(strings.NewReader(`
aggregation:
  max_surces: 2
`))
	require.True(t, trace.IsBadParameter(err))
}

func TestValidation(t *testing.T) {
	// real providers need at least one flight key
	_, err := Read(strings.NewReader(`
providers:
  use_real_providers: true
`))
	require.True(t, trace.IsBadParameter(err))

	// quality score bounds
	_, err = Read(strings.NewReader(`
aggregation:
  min_acceptable_quality_score: 1.5
`))
	require.True(t, trace.IsBadParameter(err))

	// unknown chain tags are rejected up front, not at call time
	_, err = Read(strings.NewReader(`
service:
  primary_chain: DOGECOIN
`))
	require.True(t, trace.IsBadParameter(err))

	// negative durations
	_, err = Read(strings.NewReader(`
monitor:
  interval_ms: -5
`))
	require.True(t, trace.IsBadParameter(err))
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("AIRCOVER_OPENWEATHER_API_KEY", "env-key")
	t.Setenv("AIRCOVER_SHARED_SECRET", "env-secret")
	t.Setenv("AIRCOVER_LISTEN_ADDR", "0.0.0.0:4000")

	cfg, err := Read(strings.NewReader(`
service:
  listen_addr: "127.0.0.1:3180"
`))
	require.NoError(t, err)
	require.Equal(t, "env-key", cfg.Providers.OpenWeatherAPIKey)
	require.Equal(t, "env-secret", cfg.Service.SharedSecret)
	// env wins over the file
	require.Equal(t, "0.0.0.0:4000", cfg.Service.ListenAddr)
}
