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

// Package resolve holds the field-level merge primitives shared by the
// flight and weather conflict resolvers: weighted votes for categorical
// fields, outlier-dropping weighted means for numeric measurements,
// freshness decay and the aggregate quality score.
package resolve

import (
	"cmp"
	"math"
	"slices"
	"time"

	"github.com/aircover-hq/aircover/api/types"
)

// Conflict records one field on which the contributing sources
// disagreed and how the disagreement was settled.
type Conflict struct {
	// Field is the canonical field name.
	Field string `json:"field"`
	// Values lists each source's value, rendered as a string, in
	// deterministic source order.
	Values []SourceValue `json:"values"`
	// Winner is the rendered value that was kept.
	Winner string `json:"winner"`
}

// SourceValue is one source's rendered value for a disputed field.
type SourceValue struct {
	Source string `json:"source"`
	Value  string `json:"value"`
}

// Vote is one source's weighted vote for a categorical value.
type Vote[V comparable] struct {
	Value V
	// Weight is reliability × freshness decay.
	Weight float64
	// Priority breaks weight ties; higher wins.
	Priority int
	// Source is the voting source's name, the final tie break.
	Source string
}

// Tally resolves a categorical field by weighted vote. The winning
// value is the one with the largest total weight; ties break by the
// highest priority among its voters, then by the lexicographically
// smallest voter name so the outcome is deterministic. The second
// return is true when more than one distinct value was voted for.
func Tally[V comparable](votes []Vote[V]) (V, bool) {
	var zero V
	if len(votes) == 0 {
		return zero, false
	}

	type bucket struct {
		value    V
		weight   float64
		priority int
		source   string
	}
	buckets := make(map[V]*bucket, len(votes))
	for _, v := range votes {
		b, ok := buckets[v.Value]
		if !ok {
			buckets[v.Value] = &bucket{value: v.Value, weight: v.Weight, priority: v.Priority, source: v.Source}
			continue
		}
		b.weight += v.Weight
		if v.Priority > b.priority {
			b.priority = v.Priority
		}
		if v.Source < b.source {
			b.source = v.Source
		}
	}

	ordered := make([]*bucket, 0, len(buckets))
	for _, b := range buckets {
		ordered = append(ordered, b)
	}
	slices.SortFunc(ordered, func(a, b *bucket) int {
		if c := cmp.Compare(b.weight, a.weight); c != 0 {
			return c
		}
		if c := cmp.Compare(b.priority, a.priority); c != 0 {
			return c
		}
		return cmp.Compare(a.source, b.source)
	})
	return ordered[0].value, len(ordered) > 1
}

// Sample is one source's weighted numeric measurement.
type Sample struct {
	Value  float64
	Weight float64
	Source string
}

// WeightedMean merges numeric samples into a weighted mean. With at
// least minSamplesForOutliers samples, values farther than sigma
// weighted standard deviations from the mean are dropped and the mean
// recomputed without them. Returns the mean and the names of dropped
// sources.
func WeightedMean(samples []Sample, sigma float64, minSamplesForOutliers int) (float64, []string) {
	if len(samples) == 0 {
		return 0, nil
	}
	mean := weightedMean(samples)
	if len(samples) < minSamplesForOutliers || sigma <= 0 {
		return mean, nil
	}

	sd := weightedStdDev(samples, mean)
	if sd == 0 {
		return mean, nil
	}

	kept := make([]Sample, 0, len(samples))
	var dropped []string
	for _, s := range samples {
		if math.Abs(s.Value-mean) > sigma*sd {
			dropped = append(dropped, s.Source)
			continue
		}
		kept = append(kept, s)
	}
	if len(dropped) == 0 || len(kept) == 0 {
		return mean, nil
	}
	return weightedMean(kept), dropped
}

func weightedMean(samples []Sample) float64 {
	var sum, weight float64
	for _, s := range samples {
		sum += s.Value * s.Weight
		weight += s.Weight
	}
	if weight == 0 {
		return 0
	}
	return sum / weight
}

func weightedStdDev(samples []Sample, mean float64) float64 {
	var sum, weight float64
	for _, s := range samples {
		d := s.Value - mean
		sum += s.Weight * d * d
		weight += s.Weight
	}
	if weight == 0 {
		return 0
	}
	return math.Sqrt(sum / weight)
}

const (
	// decayFloor is the lowest weight multiplier freshness decay
	// assigns; even a stale observation keeps a nonzero vote.
	decayFloor = 0.1

	// agreementStep is how much each recorded conflict shaves off the
	// agreement factor.
	agreementStep = 0.05

	// agreementFloor keeps the agreement factor strictly positive no
	// matter how noisy the sources were.
	agreementFloor = 0.5
)

// FreshnessDecay maps an observation age onto a [decayFloor,1] weight
// multiplier, decaying linearly across the window (normally the cache
// TTL of the owning aggregator).
func FreshnessDecay(age, window time.Duration) float64 {
	if age <= 0 || window <= 0 {
		return 1
	}
	f := 1 - (1-decayFloor)*(float64(age)/float64(window))
	if f < decayFloor {
		return decayFloor
	}
	return f
}

// QualityScore computes the aggregate data quality score:
// min(1, Σreliability/saturation) scaled by an agreement factor that
// starts at 1 and decays linearly with the conflict count.
func QualityScore(reliabilities []float64, saturation int, conflicts int) float64 {
	if len(reliabilities) == 0 {
		return 0
	}
	if saturation < 1 {
		saturation = 1
	}
	var sum float64
	for _, r := range reliabilities {
		sum += r
	}
	base := sum / float64(saturation)
	if base > 1 {
		base = 1
	}
	agreement := 1 - agreementStep*float64(conflicts)
	if agreement < agreementFloor {
		agreement = agreementFloor
	}
	return base * agreement
}

// MergeContributions concatenates per-source provenance trails,
// merging duplicate sources and deduplicating their field lists. The
// output is sorted by source name for determinism.
func MergeContributions(trails ...[]types.SourceContribution) []types.SourceContribution {
	bySource := make(map[string]*types.SourceContribution)
	for _, trail := range trails {
		for _, c := range trail {
			existing, ok := bySource[c.SourceName]
			if !ok {
				clone := c
				clone.FieldsContributed = slices.Clone(c.FieldsContributed)
				bySource[c.SourceName] = &clone
				continue
			}
			for _, f := range c.FieldsContributed {
				if !slices.Contains(existing.FieldsContributed, f) {
					existing.FieldsContributed = append(existing.FieldsContributed, f)
				}
			}
			if c.Confidence > existing.Confidence {
				existing.Confidence = c.Confidence
			}
			if c.ObservedAt.After(existing.ObservedAt) {
				existing.ObservedAt = c.ObservedAt
			}
		}
	}

	merged := make([]types.SourceContribution, 0, len(bySource))
	for _, c := range bySource {
		slices.Sort(c.FieldsContributed)
		merged = append(merged, *c)
	}
	slices.SortFunc(merged, func(a, b types.SourceContribution) int {
		return cmp.Compare(a.SourceName, b.SourceName)
	})
	return merged
}

// LatestOf returns the maximum of the given instants.
func LatestOf(times ...time.Time) time.Time {
	var latest time.Time
	for _, t := range times {
		if t.After(latest) {
			latest = t
		}
	}
	return latest
}
