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
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/stretchr/testify/require"

	"github.com/aircover-hq/aircover/lib/aggregate/resolve"
	"github.com/aircover-hq/aircover/lib/utils/logutils"
)

func TestMain(m *testing.M) {
	logutils.InitLoggerForTests()
	os.Exit(m.Run())
}

// testResolver merges string records by weighted vote and scores
// quality against a saturation of two sources.
func testResolver(records []Sourced[string]) (string, []resolve.Conflict, float64, error) {
	votes := make([]resolve.Vote[string], 0, len(records))
	rels := make([]float64, 0, len(records))
	for _, r := range records {
		votes = append(votes, resolve.Vote[string]{Value: r.Record, Weight: r.Weight, Priority: r.Priority, Source: r.Source})
		rels = append(rels, r.Reliability)
	}
	winner, conflicted := resolve.Tally(votes)
	var conflicts []resolve.Conflict
	if conflicted {
		conflicts = append(conflicts, resolve.Conflict{Field: "value", Winner: winner})
	}
	return winner, conflicts, resolve.QualityScore(rels, 2, len(conflicts)), nil
}

func newTestAggregator(t *testing.T, clients ...Client[string]) *Aggregator[string] {
	t.Helper()
	agg, err := New(Config[string]{
		Domain:           "test",
		Clients:          clients,
		Resolve:          testResolver,
		CacheTTL:         time.Minute,
		MaxSources:       3,
		PerSourceTimeout: time.Second,
		Timeout:          5 * time.Second,
		MinQualityScore:  0.3,
	})
	require.NoError(t, err)
	return agg
}

func TestGetFansOutAndCaches(t *testing.T) {
	a := newStub("alpha", 2)
	b := newStub("beta", 1)
	a.record, b.record = "same", "same"
	agg := newTestAggregator(t, a, b)

	req := Request{Subject: "UA456", DateHint: "2025-12-15"}
	first, err := agg.Get(context.Background(), req)
	require.NoError(t, err)
	require.False(t, first.FromCache)
	require.ElementsMatch(t, []string{"alpha", "beta"}, first.SourcesUsed)
	require.Empty(t, first.Conflicts)
	require.Equal(t, "same", first.Data)

	// second call within the TTL is served from cache with the same
	// payload and quality, and an empty source list
	second, err := agg.Get(context.Background(), req)
	require.NoError(t, err)
	require.True(t, second.FromCache)
	require.Empty(t, second.SourcesUsed)
	require.Equal(t, first.Data, second.Data)
	require.Equal(t, first.QualityScore, second.QualityScore)
	require.Equal(t, 1, a.fetches)
	require.Equal(t, 1, b.fetches)
}

func TestPerSourceFailureIsContained(t *testing.T) {
	good := newStub("good", 1)
	bad := newStub("bad", 2)
	bad.err = errors.New("upstream 500")
	agg := newTestAggregator(t, good, bad)

	res, err := agg.Get(context.Background(), Request{Subject: "DL789"})
	require.NoError(t, err)
	require.Equal(t, []string{"good"}, res.SourcesUsed)

	health := agg.Health()
	require.False(t, health["bad"].Healthy)
	require.True(t, health["good"].Healthy)
}

func TestAllSourcesFailing(t *testing.T) {
	a := newStub("a", 1)
	b := newStub("b", 2)
	a.err = errors.New("boom")
	b.err = errors.New("boom")
	agg := newTestAggregator(t, a, b)

	_, err := agg.Get(context.Background(), Request{Subject: "BA999"})
	require.Error(t, err)
	require.True(t, IsNoResponsesError(err))
	require.False(t, IsNoSourcesError(err))
	require.Contains(t, err.Error(), "No successful responses")
}

func TestAvailabilityErrorsAreDistinct(t *testing.T) {
	noSources := NewNoSourcesError("flight")
	noResponses := NewNoResponsesError("flight", 2)

	// both collapse to a connection problem for transport-level callers
	require.True(t, trace.IsConnectionProblem(noSources))
	require.True(t, trace.IsConnectionProblem(noResponses))

	// but the fine-grained predicates never cross-match
	require.True(t, IsNoSourcesError(noSources))
	require.False(t, IsNoSourcesError(noResponses))
	require.True(t, IsNoResponsesError(noResponses))
	require.False(t, IsNoResponsesError(noSources))
}

func TestAbsenceIsNotFailure(t *testing.T) {
	present := newStub("present", 1)
	empty := newStub("empty", 2)
	empty.found = false
	agg := newTestAggregator(t, present, empty)

	res, err := agg.Get(context.Background(), Request{Subject: "AF100"})
	require.NoError(t, err)
	require.Equal(t, []string{"present"}, res.SourcesUsed)
	// a source with no data keeps its healthy status
	require.True(t, agg.Health()["empty"].Healthy)
}

func TestAllSourcesAbsent(t *testing.T) {
	a := newStub("a", 1)
	a.found = false
	agg := newTestAggregator(t, a)

	_, err := agg.Get(context.Background(), Request{Subject: "ZZ000"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "No successful responses")
}

func TestLowQualityRejected(t *testing.T) {
	weak := newStub("weak", 1)
	weak.reliability = 0.2
	agg, err := New(Config[string]{
		Domain:          "test",
		Clients:         []Client[string]{weak},
		Resolve:         testResolver,
		CacheTTL:        time.Minute,
		MinQualityScore: 0.3,
	})
	require.NoError(t, err)

	_, err = agg.Get(context.Background(), Request{Subject: "LH400"})
	require.Error(t, err)
	require.True(t, IsLowQualityError(err))

	// a rejected record is not cached; the next call fans out again
	_, err = agg.Get(context.Background(), Request{Subject: "LH400"})
	require.Error(t, err)
	require.Equal(t, 2, weak.fetches)
}

func TestPerSourceTimeout(t *testing.T) {
	slow := newStub("slow", 2)
	slow.fetchDelay = 500 * time.Millisecond
	fast := newStub("fast", 1)
	agg, err := New(Config[string]{
		Domain:           "test",
		Clients:          []Client[string]{slow, fast},
		Resolve:          testResolver,
		CacheTTL:         time.Minute,
		PerSourceTimeout: 50 * time.Millisecond,
		Timeout:          5 * time.Second,
	})
	require.NoError(t, err)

	res, err := agg.Get(context.Background(), Request{Subject: "QF1"})
	require.NoError(t, err)
	require.Equal(t, []string{"fast"}, res.SourcesUsed)
	require.False(t, agg.Health()["slow"].Healthy)
}

func TestConflictRecorded(t *testing.T) {
	a := newStub("a", 1)
	b := newStub("b", 2)
	a.record = "ON_TIME"
	a.reliability = 0.95
	b.record = "DELAYED"
	b.reliability = 0.85
	agg := newTestAggregator(t, a, b)

	res, err := agg.Get(context.Background(), Request{Subject: "BA999", DateHint: "2025-12-15"})
	require.NoError(t, err)
	require.Equal(t, "ON_TIME", res.Data)
	require.Len(t, res.Conflicts, 1)
	require.Greater(t, res.QualityScore, 0.6)
	require.Less(t, res.QualityScore, 1.0)
	require.Len(t, res.SourcesUsed, 2)
}
