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

// CoverageType identifies which trigger predicate applies to a policy.
type CoverageType string

const (
	CoverageFlightDelay        CoverageType = "FLIGHT_DELAY"
	CoverageFlightCancellation CoverageType = "FLIGHT_CANCELLATION"
	CoverageWeatherDisruption  CoverageType = "WEATHER_DISRUPTION"
)

// Valid reports whether t is a known coverage type.
func (t CoverageType) Valid() bool {
	switch t {
	case CoverageFlightDelay, CoverageFlightCancellation, CoverageWeatherDisruption:
		return true
	}
	return false
}

// PolicyStatus is the lifecycle state of a policy. The observable
// sequence for any policy is a prefix of PENDING, ACTIVE, then exactly
// one of CLAIMED, EXPIRED or CANCELLED; CLAIMED is terminal.
type PolicyStatus string

const (
	PolicyStatusPending   PolicyStatus = "PENDING"
	PolicyStatusActive    PolicyStatus = "ACTIVE"
	PolicyStatusClaimed   PolicyStatus = "CLAIMED"
	PolicyStatusExpired   PolicyStatus = "EXPIRED"
	PolicyStatusCancelled PolicyStatus = "CANCELLED"
)

// CanTransitionTo reports whether moving from s to next is a legal
// lifecycle step.
func (s PolicyStatus) CanTransitionTo(next PolicyStatus) bool {
	switch s {
	case PolicyStatusPending:
		return next == PolicyStatusActive || next == PolicyStatusExpired || next == PolicyStatusCancelled
	case PolicyStatusActive:
		return next == PolicyStatusClaimed || next == PolicyStatusExpired || next == PolicyStatusCancelled
	}
	return false
}

// PolicyTerms holds the coverage-specific parameters stored alongside a
// policy as a JSON document.
type PolicyTerms struct {
	// DelayThresholdMinutes is the payable departure delay for
	// FLIGHT_DELAY coverage. Zero means the configured default applies.
	DelayThresholdMinutes int `json:"delayThresholdMinutes,omitempty"`
}

// Policy is an insurance policy row. The quoting layer creates these;
// within this system the payout engine is the sole mutator of Status,
// and only through the ACTIVE→CLAIMED and ACTIVE→EXPIRED transitions.
type Policy struct {
	ID                 string       `json:"policyId"`
	PolicyNumber       string       `json:"policyNumber"`
	UserID             string       `json:"userId,omitempty"`
	AnonymousSessionID string       `json:"anonymousSessionId,omitempty"`
	ProviderID         string       `json:"providerId,omitempty"`
	FlightID           string       `json:"flightId"`
	CoverageType       CoverageType `json:"coverageType"`
	CoverageAmount     string       `json:"coverageAmount"`
	Premium            string       `json:"premium"`
	PayoutAmount       string       `json:"payoutAmount"`
	Status             PolicyStatus `json:"status"`
	ExpiresAt          time.Time    `json:"expiresAt"`
	Terms              PolicyTerms  `json:"terms"`
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

// DelayThreshold returns the policy's delay threshold in minutes,
// falling back to the supplied default when the terms carry none.
func (p *Policy) DelayThreshold(defaultMinutes int) int {
	if p.Terms.DelayThresholdMinutes > 0 {
		return p.Terms.DelayThresholdMinutes
	}
	return defaultMinutes
}

// Check validates the policy row shape.
func (p *Policy) Check() error {
	if p.ID == "" {
		return trace.BadParameter("policy missing id")
	}
	if p.FlightID == "" {
		return trace.BadParameter("policy %v missing flight id", p.ID)
	}
	if !p.CoverageType.Valid() {
		return trace.BadParameter("policy %v has unknown coverage type %q", p.ID, p.CoverageType)
	}
	if _, err := ParseAmount(p.PayoutAmount); err != nil {
		return trace.Wrap(err, "policy %v payout amount", p.ID)
	}
	return nil
}

// InsuredFlight is the persisted flight a policy covers: enough
// identity to drive an aggregated lookup, nothing more.
type InsuredFlight struct {
	ID                 string    `json:"id"`
	FlightNumber       string    `json:"flightNumber"`
	ScheduledDeparture time.Time `json:"scheduledDepartureUTC"`
	OriginIATA         string    `json:"originIATA"`
	DestinationIATA    string    `json:"destinationIATA"`
}
