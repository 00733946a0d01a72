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

// SourceContribution records which provider supplied which fields of a
// canonical record, with what confidence, at what time. A slice of
// these is the provenance trail attached to every resolved record.
type SourceContribution struct {
	// SourceName is the stable name of the contributing provider.
	SourceName string `json:"sourceName"`
	// Confidence is the resolver's confidence in this contribution,
	// derived from the provider's reliability and the observation age.
	Confidence float64 `json:"confidence"`
	// FieldsContributed lists the canonical field names this source
	// supplied, deduplicated.
	FieldsContributed []string `json:"fieldsContributed"`
	// ObservedAt is when the provider reported the underlying data.
	ObservedAt time.Time `json:"observedAtUTC"`
}

// Check validates the contribution.
func (c *SourceContribution) Check() error {
	if c.SourceName == "" {
		return trace.BadParameter("source contribution missing source name")
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return trace.BadParameter("source contribution confidence %v outside [0,1]", c.Confidence)
	}
	return nil
}
