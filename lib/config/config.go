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

// Package config reads the aircoverd configuration: a YAML file with
// strict field checking, then environment overrides for the values
// that are secrets or deployment-specific. Durations are carried as
// integer milliseconds or seconds on the wire, matching the external
// configuration surface; accessors convert to time.Duration.
package config

import (
	"io"
	"os"
	"strconv"
	"time"

	"github.com/gravitational/trace"
	"gopkg.in/yaml.v3"

	"github.com/aircover-hq/aircover/api/types"
	"github.com/aircover-hq/aircover/lib/defaults"
)

// Config is the full aircoverd configuration.
type Config struct {
	Aggregation Aggregation `yaml:"aggregation"`
	Monitor     Monitor     `yaml:"monitor"`
	Providers   Providers   `yaml:"providers"`
	Storage     Storage     `yaml:"storage"`
	Service     Service     `yaml:"service"`
}

// Aggregation tunes the aggregation tier and the data router.
type Aggregation struct {
	// MaxSources caps the per-key fan-out width.
	MaxSources int `yaml:"max_sources"`
	// PerSourceTimeoutMs bounds a single provider fetch.
	PerSourceTimeoutMs int `yaml:"per_source_timeout_ms"`
	// AggregatorTimeoutMs bounds one aggregation run for one key.
	AggregatorTimeoutMs int `yaml:"aggregator_timeout_ms"`
	// RouterTimeoutMs bounds one full policy data bundle.
	RouterTimeoutMs int `yaml:"router_timeout_ms"`
	// CacheTTLFlightSeconds is the flight cache freshness window.
	CacheTTLFlightSeconds int `yaml:"cache_ttl_flight_seconds"`
	// CacheTTLWeatherSeconds is the weather cache freshness window.
	CacheTTLWeatherSeconds int `yaml:"cache_ttl_weather_seconds"`
	// MaxConcurrentWeatherRequests bounds the router weather batch.
	MaxConcurrentWeatherRequests int `yaml:"max_concurrent_weather_requests"`
	// MinAcceptableQualityScore rejects resolved records below it.
	MinAcceptableQualityScore float64 `yaml:"min_acceptable_quality_score"`
}

// PerSourceTimeout returns the per-source fetch timeout.
func (a Aggregation) PerSourceTimeout() time.Duration {
	return time.Duration(a.PerSourceTimeoutMs) * time.Millisecond
}

// AggregatorTimeout returns the per-key aggregation timeout.
func (a Aggregation) AggregatorTimeout() time.Duration {
	return time.Duration(a.AggregatorTimeoutMs) * time.Millisecond
}

// RouterTimeout returns the policy bundle timeout.
func (a Aggregation) RouterTimeout() time.Duration {
	return time.Duration(a.RouterTimeoutMs) * time.Millisecond
}

// FlightCacheTTL returns the flight cache freshness window.
func (a Aggregation) FlightCacheTTL() time.Duration {
	return time.Duration(a.CacheTTLFlightSeconds) * time.Second
}

// WeatherCacheTTL returns the weather cache freshness window.
func (a Aggregation) WeatherCacheTTL() time.Duration {
	return time.Duration(a.CacheTTLWeatherSeconds) * time.Second
}

// Monitor tunes the periodic policy scan.
type Monitor struct {
	// IntervalMs is the period between scan cycles.
	IntervalMs int `yaml:"interval_ms"`
	// MaxPoliciesPerCheck caps how many policies one cycle evaluates.
	MaxPoliciesPerCheck int `yaml:"max_policies_per_check"`
	// DefaultDelayThresholdMinutes applies when a policy's terms carry
	// no threshold.
	DefaultDelayThresholdMinutes int `yaml:"default_delay_threshold_minutes"`
}

// Interval returns the scan period.
func (m Monitor) Interval() time.Duration {
	return time.Duration(m.IntervalMs) * time.Millisecond
}

// Providers holds the upstream data source credentials. Keys are
// opaque strings; a missing key disables that adapter only.
type Providers struct {
	// UseRealProviders selects the live HTTP adapters. When false the
	// deterministic fixture sources serve every request, so the whole
	// pipeline runs without credentials.
	UseRealProviders bool `yaml:"use_real_providers"`
	// AviationEdgeAPIKey authenticates the AviationEdge flight adapter.
	AviationEdgeAPIKey string `yaml:"aviation_edge_api_key"`
	// AeroDataBoxAPIKey authenticates the AeroDataBox flight adapter.
	AeroDataBoxAPIKey string `yaml:"aerodatabox_api_key"`
	// OpenWeatherAPIKey authenticates the OpenWeather adapter. The
	// Open-Meteo adapter needs no key.
	OpenWeatherAPIKey string `yaml:"openweather_api_key"`
}

// Storage selects the persistence backend.
type Storage struct {
	// ConnString is the PostgreSQL connection string. Empty selects
	// the in-memory store, which is only suitable for development.
	ConnString string `yaml:"conn_string"`
}

// Service configures the internal admin API and process-level knobs.
type Service struct {
	// ListenAddr is the internal API listen address.
	ListenAddr string `yaml:"listen_addr"`
	// SharedSecret authenticates internal API callers.
	SharedSecret string `yaml:"shared_secret"`
	// WalletEncryptionSecret derives the AES key sealing user wallet
	// secrets at rest.
	WalletEncryptionSecret string `yaml:"wallet_encryption_secret"`
	// PrimaryChain is the default chain provider tag.
	PrimaryChain string `yaml:"primary_chain"`
}

// ReadFile loads, env-overrides and validates a config file.
func ReadFile(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	defer f.Close()
	return Read(f)
}

// Read parses YAML with unknown fields rejected, applies environment
// overrides and validates.
func Read(r io.Reader) (*Config, error) {
	cfg := &Config{}
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && err != io.EOF {
		return nil, trace.BadParameter("failed to parse config: %v", err)
	}
	cfg.ApplyEnv()
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return cfg, nil
}

// Default returns the validated default configuration: fixture
// providers, in-memory storage.
func Default() (*Config, error) {
	cfg := &Config{}
	cfg.ApplyEnv()
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return cfg, nil
}

// ApplyEnv overlays environment variables onto config fields. Secrets
// are expected to arrive this way in production instead of sitting in
// the file.
func (c *Config) ApplyEnv() {
	setString := func(dst *string, key string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString(&c.Providers.AviationEdgeAPIKey, "AIRCOVER_AVIATION_EDGE_API_KEY")
	setString(&c.Providers.AeroDataBoxAPIKey, "AIRCOVER_AERODATABOX_API_KEY")
	setString(&c.Providers.OpenWeatherAPIKey, "AIRCOVER_OPENWEATHER_API_KEY")
	setString(&c.Storage.ConnString, "AIRCOVER_DB_CONN_STRING")
	setString(&c.Service.ListenAddr, "AIRCOVER_LISTEN_ADDR")
	setString(&c.Service.SharedSecret, "AIRCOVER_SHARED_SECRET")
	setString(&c.Service.WalletEncryptionSecret, "AIRCOVER_WALLET_SECRET")
	if v := os.Getenv("AIRCOVER_USE_REAL_PROVIDERS"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Providers.UseRealProviders = b
		}
	}
}

// CheckAndSetDefaults validates the configuration and fills in
// defaults from lib/defaults.
func (c *Config) CheckAndSetDefaults() error {
	a := &c.Aggregation
	if a.MaxSources < 0 || a.PerSourceTimeoutMs < 0 || a.AggregatorTimeoutMs < 0 ||
		a.RouterTimeoutMs < 0 || a.CacheTTLFlightSeconds < 0 || a.CacheTTLWeatherSeconds < 0 ||
		a.MaxConcurrentWeatherRequests < 0 {
		return trace.BadParameter("aggregation settings must not be negative")
	}
	if a.MaxSources == 0 {
		a.MaxSources = defaults.MaxSources
	}
	if a.PerSourceTimeoutMs == 0 {
		a.PerSourceTimeoutMs = int(defaults.PerSourceTimeout / time.Millisecond)
	}
	if a.AggregatorTimeoutMs == 0 {
		a.AggregatorTimeoutMs = int(defaults.AggregatorTimeout / time.Millisecond)
	}
	if a.RouterTimeoutMs == 0 {
		a.RouterTimeoutMs = int(defaults.RouterTimeout / time.Millisecond)
	}
	if a.CacheTTLFlightSeconds == 0 {
		a.CacheTTLFlightSeconds = int(defaults.FlightCacheTTL / time.Second)
	}
	if a.CacheTTLWeatherSeconds == 0 {
		a.CacheTTLWeatherSeconds = int(defaults.WeatherCacheTTL / time.Second)
	}
	if a.MaxConcurrentWeatherRequests == 0 {
		a.MaxConcurrentWeatherRequests = defaults.MaxConcurrentWeatherRequests
	}
	if a.MinAcceptableQualityScore < 0 || a.MinAcceptableQualityScore > 1 {
		return trace.BadParameter("min_acceptable_quality_score %v outside [0,1]", a.MinAcceptableQualityScore)
	}
	if a.MinAcceptableQualityScore == 0 {
		a.MinAcceptableQualityScore = defaults.MinQualityScore
	}

	m := &c.Monitor
	if m.IntervalMs < 0 || m.MaxPoliciesPerCheck < 0 || m.DefaultDelayThresholdMinutes < 0 {
		return trace.BadParameter("monitor settings must not be negative")
	}
	if m.IntervalMs == 0 {
		m.IntervalMs = int(defaults.MonitorInterval / time.Millisecond)
	}
	if m.MaxPoliciesPerCheck == 0 {
		m.MaxPoliciesPerCheck = defaults.MaxPoliciesPerCheck
	}
	if m.DefaultDelayThresholdMinutes == 0 {
		m.DefaultDelayThresholdMinutes = defaults.DelayThresholdMinutes
	}

	if c.Providers.UseRealProviders &&
		c.Providers.AviationEdgeAPIKey == "" && c.Providers.AeroDataBoxAPIKey == "" {
		return trace.BadParameter("use_real_providers is set but no flight provider has a key")
	}

	s := &c.Service
	if s.ListenAddr == "" {
		s.ListenAddr = defaults.InternalAPIListenAddr
	}
	if s.PrimaryChain == "" {
		s.PrimaryChain = string(types.ChainPaygo)
	}
	if !types.ChainProvider(s.PrimaryChain).Valid() {
		return trace.BadParameter("primary_chain %q is not a known chain provider", s.PrimaryChain)
	}
	return nil
}
