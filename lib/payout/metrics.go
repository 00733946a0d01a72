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

package payout

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aircover-hq/aircover/lib/utils"
)

var (
	policyResults = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aircover",
			Subsystem: "payout",
			Name:      "policy_results_total",
			Help:      "Per-policy payout outcomes by result status.",
		},
		[]string{"status"},
	)
	batchSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "aircover",
			Subsystem: "payout",
			Name:      "batch_duration_seconds",
			Help:      "Duration of one triggered payout batch.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)
)

// registerMetrics runs once however many engines are built.
var registerMetrics = sync.OnceValue(func() error {
	return utils.RegisterPrometheusCollectors(policyResults, batchSeconds)
})
