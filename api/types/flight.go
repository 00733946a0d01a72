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

package types

import (
	"time"

	"github.com/gravitational/trace"
)

// FlightStatus is the canonical flight status after conflict
// resolution. Provider-specific vocabularies are mapped onto this set
// by the source adapters; anything unmappable becomes
// FlightStatusUnknown rather than being dropped.
type FlightStatus string

const (
	FlightStatusScheduled FlightStatus = "SCHEDULED"
	FlightStatusOnTime    FlightStatus = "ON_TIME"
	FlightStatusDelayed   FlightStatus = "DELAYED"
	FlightStatusCancelled FlightStatus = "CANCELLED"
	FlightStatusDiverted  FlightStatus = "DIVERTED"
	FlightStatusLanded    FlightStatus = "LANDED"
	FlightStatusUnknown   FlightStatus = "UNKNOWN"
)

// Valid reports whether s is a member of the canonical status set.
func (s FlightStatus) Valid() bool {
	switch s {
	case FlightStatusScheduled, FlightStatusOnTime, FlightStatusDelayed,
		FlightStatusCancelled, FlightStatusDiverted, FlightStatusLanded,
		FlightStatusUnknown:
		return true
	}
	return false
}

// CanonicalFlight is the source-agnostic, merged representation of one
// flight's status. Instances returned by the aggregation tier are
// immutable values; nothing downstream mutates them.
type CanonicalFlight struct {
	// FlightNumber is the IATA flight designator, e.g. "UA456".
	FlightNumber string `json:"flightNumber"`
	// ScheduledDeparture is the scheduled departure instant in UTC.
	ScheduledDeparture time.Time `json:"scheduledDepartureUTC"`
	// OriginIATA is the three-letter origin airport code.
	OriginIATA string `json:"originIATA"`
	// DestinationIATA is the three-letter destination airport code.
	DestinationIATA string `json:"destinationIATA"`

	// Status is the resolved flight status.
	Status FlightStatus `json:"flightStatus"`
	// DepartureDelayMinutes is the departure delay, if known.
	DepartureDelayMinutes *int `json:"departureDelayMinutes,omitempty"`
	// ArrivalDelayMinutes is the arrival delay, if known.
	ArrivalDelayMinutes *int `json:"arrivalDelayMinutes,omitempty"`
	// ActualDeparture is the observed departure instant, if known.
	ActualDeparture *time.Time `json:"actualDepartureUTC,omitempty"`
	// ActualArrival is the observed arrival instant, if known.
	ActualArrival *time.Time `json:"actualArrivalUTC,omitempty"`

	// SourceContributions is the provenance trail. Non-empty whenever
	// the record came from a live fetch; cache hits preserve the trail
	// recorded at write time.
	SourceContributions []SourceContribution `json:"sourceContributions"`
	// DataQualityScore summarizes aggregate confidence in [0,1].
	DataQualityScore float64 `json:"dataQualityScore"`
	// LastUpdated is the most recent observation instant among the
	// contributing sources.
	LastUpdated time.Time `json:"lastUpdatedUTC"`
}

// DepartureDelay returns the departure delay in minutes, treating an
// absent value as zero.
func (f *CanonicalFlight) DepartureDelay() int {
	if f.DepartureDelayMinutes == nil {
		return 0
	}
	return *f.DepartureDelayMinutes
}

// Check validates the record's invariants: identity fields present,
// status canonical, delays consistent with status, score in range.
func (f *CanonicalFlight) Check() error {
	if f.FlightNumber == "" {
		return trace.BadParameter("canonical flight missing flight number")
	}
	if f.ScheduledDeparture.IsZero() {
		return trace.BadParameter("canonical flight %v missing scheduled departure", f.FlightNumber)
	}
	if f.OriginIATA == "" || f.DestinationIATA == "" {
		return trace.BadParameter("canonical flight %v missing origin or destination", f.FlightNumber)
	}
	if !f.Status.Valid() {
		return trace.BadParameter("canonical flight %v has unknown status %q", f.FlightNumber, f.Status)
	}
	for _, d := range []*int{f.DepartureDelayMinutes, f.ArrivalDelayMinutes} {
		if d != nil && *d < 0 {
			return trace.BadParameter("canonical flight %v has negative delay %v", f.FlightNumber, *d)
		}
	}
	if f.Status == FlightStatusOnTime || f.Status == FlightStatusLanded {
		if f.DepartureDelay() != 0 {
			return trace.BadParameter("canonical flight %v has status %v with nonzero departure delay", f.FlightNumber, f.Status)
		}
	}
	if f.DataQualityScore < 0 || f.DataQualityScore > 1 {
		return trace.BadParameter("canonical flight %v quality score %v outside [0,1]", f.FlightNumber, f.DataQualityScore)
	}
	for i := range f.SourceContributions {
		if err := f.SourceContributions[i].Check(); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// IntPtr is a convenience for building optional integer fields.
func IntPtr(v int) *int { return &v }

// TimePtr is a convenience for building optional instants.
func TimePtr(t time.Time) *time.Time { return &t }
