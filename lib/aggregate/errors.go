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
	"errors"
	"fmt"

	"github.com/gravitational/trace"
)

// The aggregation tier never leaks provider-specific errors upward; it
// collapses them into the categories below. Per-source failures are
// contained inside the pipeline and surface only when every source
// fails for one key.

// Sentinels distinguish the two availability failures behind the
// shared ConnectionProblem class.
var (
	errNoSources   = errors.New("no healthy sources available")
	errNoResponses = errors.New("no successful source responses")
)

// NewNoSourcesError reports that zero healthy clients were available
// for a domain.
func NewNoSourcesError(domain string) error {
	return trace.ConnectionProblem(errNoSources, "no healthy %v data sources available", domain)
}

// NewNoResponsesError reports that every attempted source failed or
// returned no data for the key.
func NewNoResponsesError(domain string, attempted int) error {
	return trace.ConnectionProblem(errNoResponses, "No successful responses from %d %v source(s)", attempted, domain)
}

// IsNoSourcesError reports whether err means zero healthy clients were
// available before any fetch was attempted.
func IsNoSourcesError(err error) bool {
	return errors.Is(err, errNoSources)
}

// IsNoResponsesError reports whether err means every attempted source
// failed or came back empty.
func IsNoResponsesError(err error) bool {
	return errors.Is(err, errNoResponses)
}

// LowQualityError reports a resolved record whose quality score fell
// below the acceptance threshold. Callers may still choose to proceed
// by policy; the record itself is not cached.
type LowQualityError struct {
	// Score is the resolved record's quality score.
	Score float64
	// Min is the configured acceptance threshold.
	Min float64
}

// Error implements error.
func (e *LowQualityError) Error() string {
	return fmt.Sprintf("aggregated record quality %.2f below minimum acceptable %.2f", e.Score, e.Min)
}

// IsLowQualityError reports whether err wraps a LowQualityError.
func IsLowQualityError(err error) bool {
	var lqe *LowQualityError
	return errors.As(err, &lqe)
}
