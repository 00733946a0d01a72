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

package monitor

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aircover-hq/aircover/lib/utils"
)

var (
	policiesScanned = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "aircover",
			Subsystem: "monitor",
			Name:      "policies_scanned_total",
			Help:      "Active policies evaluated across all cycles.",
		},
	)
	triggersFired = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "aircover",
			Subsystem: "monitor",
			Name:      "triggers_fired_total",
			Help:      "Policy triggers fired by coverage type.",
		},
		[]string{"type"},
	)
	cycleSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "aircover",
			Subsystem: "monitor",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one monitoring cycle.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		},
	)
	cycleFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "aircover",
			Subsystem: "monitor",
			Name:      "policy_failures_total",
			Help:      "Per-policy evaluation or payout failures.",
		},
	)
)

// registerMetrics runs once however many monitors are built.
var registerMetrics = sync.OnceValue(func() error {
	return utils.RegisterPrometheusCollectors(
		policiesScanned, triggersFired, cycleSeconds, cycleFailures,
	)
})
