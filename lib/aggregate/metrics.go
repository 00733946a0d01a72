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

package aggregate

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aircover-hq/aircover/lib/utils"
)

var (
	fetchAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aircover",
			Subsystem: "aggregator",
			Name:      "source_fetch_attempts_total",
			Help:      "Provider fetch attempts by domain, source and outcome.",
		},
		[]string{"domain", "source", "outcome"},
	)
	cacheLookups = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aircover",
			Subsystem: "aggregator",
			Name:      "cache_lookups_total",
			Help:      "Aggregator cache lookups by domain and result.",
		},
		[]string{"domain", "result"},
	)
	resolvedQuality = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "aircover",
			Subsystem: "aggregator",
			Name:      "resolved_quality_score",
			Help:      "Quality score distribution of freshly resolved records.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		},
		[]string{"domain"},
	)
	pipelineSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "aircover",
			Subsystem: "aggregator",
			Name:      "pipeline_duration_seconds",
			Help:      "End-to-end duration of one aggregation pipeline run.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"domain"},
	)
)

const (
	outcomeOK     = "ok"
	outcomeAbsent = "absent"
	outcomeError  = "error"
)

// registerMetrics runs once however many aggregators are built.
var registerMetrics = sync.OnceValue(func() error {
	return utils.RegisterPrometheusCollectors(
		fetchAttempts, cacheLookups, resolvedQuality, pipelineSeconds,
	)
})
