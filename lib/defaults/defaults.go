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

// Package defaults contains the default tunables shared across the
// aircover codebase. Every value here can be overridden through
// lib/config; these are the fallbacks applied by CheckAndSetDefaults.
package defaults

import (
	"net"
	"net/http"
	"time"
)

const (
	// MaxSources is how many healthy provider clients an aggregator
	// fans out to for a single key.
	MaxSources = 3

	// PerSourceTimeout bounds a single provider fetch.
	PerSourceTimeout = 30 * time.Second

	// AggregatorTimeout bounds one aggregation pipeline run for one key,
	// covering source selection, fan-out and conflict resolution.
	AggregatorTimeout = 30 * time.Second

	// RouterTimeout bounds one full policy-data bundle: the flight fetch
	// plus every weather fetch issued on its behalf.
	RouterTimeout = 45 * time.Second

	// FlightCacheTTL is how long a resolved flight record stays fresh.
	FlightCacheTTL = 5 * time.Minute

	// WeatherCacheTTL is how long a resolved weather observation stays
	// fresh. Weather moves slower than flight status.
	WeatherCacheTTL = 15 * time.Minute

	// MaxConcurrentWeatherRequests bounds the weather fan-out batch size
	// inside the data router.
	MaxConcurrentWeatherRequests = 3

	// MonitorInterval is the period between policy scan cycles.
	MonitorInterval = 5 * time.Minute

	// MaxPoliciesPerCheck caps how many active policies one monitor
	// cycle evaluates.
	MaxPoliciesPerCheck = 50

	// DelayThresholdMinutes is the payable departure delay applied when
	// a policy carries no explicit threshold in its terms.
	DelayThresholdMinutes = 15

	// MinQualityScore is the lowest data quality score an aggregator
	// accepts before reporting the record as low quality.
	MinQualityScore = 0.3

	// ResolverSaturation is the number of agreeing sources at which the
	// quality score stops growing. Kept below the fan-out width so two
	// reliable, agreeing sources already produce a usable score.
	ResolverSaturation = 2

	// OutlierSigma is the deviation multiple beyond which a numeric
	// sample is dropped from a weighted mean, given enough samples.
	OutlierSigma = 2.0

	// CoordinateGridDecimals is the rounding applied to weather
	// coordinates when building cache keys, so nearby lookups share an
	// entry.
	CoordinateGridDecimals = 4

	// SourceCooldownStep is the base cooldown applied to a source after
	// its first consecutive failure; the window grows linearly with the
	// failure count.
	SourceCooldownStep = 30 * time.Second

	// SourceCooldownMax caps the cooldown window of a failing source.
	SourceCooldownMax = 10 * time.Minute

	// InternalAPIListenAddr is where the internal admin API listens.
	InternalAPIListenAddr = "127.0.0.1:3180"

	// InternalAPIReadTimeout bounds reads on the internal API listener.
	InternalAPIReadTimeout = 30 * time.Second

	// ShutdownTimeout is how long graceful shutdown waits for in-flight
	// work before giving up.
	ShutdownTimeout = 30 * time.Second
)

const (
	// HTTPDialTimeout is the TCP dial timeout for provider calls.
	HTTPDialTimeout = 10 * time.Second

	// HTTPIdleTimeout is how long idle provider connections are kept.
	HTTPIdleTimeout = 90 * time.Second

	// HTTPMaxIdleConns bounds the pooled connections per provider host.
	HTTPMaxIdleConns = 16
)

// Transport returns an http.Transport tuned for provider API traffic.
// Each adapter gets its own transport so per-host connection pools and
// cancellation do not interfere across providers.
func Transport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   HTTPDialTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        HTTPMaxIdleConns,
		MaxIdleConnsPerHost: HTTPMaxIdleConns,
		IdleConnTimeout:     HTTPIdleTimeout,
		TLSHandshakeTimeout: 10 * time.Second,
	}
}

// HTTPClient returns an http.Client backed by Transport with no global
// timeout; callers bound requests with contexts instead.
func HTTPClient() *http.Client {
	return &http.Client{Transport: Transport()}
}
