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

// Package retryutils provides jitter and cooldown helpers used by the
// source health router and the policy monitor.
package retryutils

import (
	"math/rand/v2"
	"time"
)

// Jitter is a function that applies random jitter to a duration. Must
// be safe for concurrent use.
type Jitter func(time.Duration) time.Duration

// HalfJitter returns a random duration on [d/2, d). A wide range like
// this is suited to backoff, where breaking synchronized cycles
// quickly matters more than keeping the period stable.
func HalfJitter(d time.Duration) time.Duration {
	if d < 1 {
		return 0
	}
	return d/2 + rand.N(d/2)
}

// SeventhJitter returns a random duration on [6d/7, d). Prefer this
// narrow range for periodic operations so the effective period stays
// close to the configured one.
func SeventhJitter(d time.Duration) time.Duration {
	if d < 1 {
		return 0
	}
	return 6*d/7 + rand.N(d/7)
}

// FullJitter returns a random duration on [0, d).
func FullJitter(d time.Duration) time.Duration {
	if d < 1 {
		return 0
	}
	return rand.N(d)
}

// Cooldown computes the exclusion window for a source after the given
// number of consecutive failures: step on the first failure, growing
// linearly and capped at max. Zero failures means no cooldown.
func Cooldown(step, max time.Duration, failures int) time.Duration {
	if failures <= 0 || step <= 0 {
		return 0
	}
	d := step * time.Duration(failures)
	if max > 0 && d > max {
		return max
	}
	return d
}
