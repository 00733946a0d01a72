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

package sources

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/aircover-hq/aircover/api/types"
	"github.com/aircover-hq/aircover/lib/aggregate"
	"github.com/aircover-hq/aircover/lib/defaults"
)

const (
	aviationEdgeName        = "aviation-edge"
	aviationEdgeBaseURL     = "https://aviation-edge.com/v2/public"
	aviationEdgePriority    = 10
	aviationEdgeReliability = 0.9
)

// AviationEdgeConfig configures the Aviation Edge flight adapter.
type AviationEdgeConfig struct {
	// APIKey is the Aviation Edge API key.
	APIKey string
	// BaseURL overrides the production endpoint, used in tests.
	BaseURL string
	// HTTPClient overrides the default provider client.
	HTTPClient *http.Client
	// Clock is the time source.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *AviationEdgeConfig) CheckAndSetDefaults() error {
	if c.APIKey == "" {
		return trace.BadParameter("aviation edge config missing required parameter APIKey")
	}
	if c.BaseURL == "" {
		c.BaseURL = aviationEdgeBaseURL
	}
	if c.HTTPClient == nil {
		c.HTTPClient = defaults.HTTPClient()
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// AviationEdge is the flight source adapter for the Aviation Edge
// timetable API.
type AviationEdge struct {
	cfg AviationEdgeConfig
}

// NewAviationEdge creates an AviationEdge adapter.
func NewAviationEdge(cfg AviationEdgeConfig) (*AviationEdge, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &AviationEdge{cfg: cfg}, nil
}

func (a *AviationEdge) Name() string         { return aviationEdgeName }
func (a *AviationEdge) Priority() int        { return aviationEdgePriority }
func (a *AviationEdge) Reliability() float64 { return aviationEdgeReliability }

// IsAvailable probes the API root. Any HTTP answer counts as available;
// only transport-level failures do not.
func (a *AviationEdge) IsAvailable(ctx context.Context) bool {
	return ping(ctx, a.cfg.HTTPClient, a.cfg.BaseURL+"/timetable?key="+url.QueryEscape(a.cfg.APIKey)+"&limit=1")
}

// aviationEdgeFlight is the subset of the timetable response the
// adapter consumes.
type aviationEdgeFlight struct {
	Status    string `json:"status"`
	Departure struct {
		IATACode      string  `json:"iataCode"`
		ScheduledTime string  `json:"scheduledTime"`
		ActualTime    string  `json:"actualTime"`
		Delay         float64 `json:"delay"`
	} `json:"departure"`
	Arrival struct {
		IATACode      string  `json:"iataCode"`
		ScheduledTime string  `json:"scheduledTime"`
		ActualTime    string  `json:"actualTime"`
		Delay         float64 `json:"delay"`
	} `json:"arrival"`
	Flight struct {
		IATANumber string `json:"iataNumber"`
	} `json:"flight"`
}

// Fetch looks the flight up in the timetable API and maps the first
// matching entry onto the canonical record.
func (a *AviationEdge) Fetch(ctx context.Context, req aggregate.Request) (types.CanonicalFlight, bool, error) {
	q := url.Values{}
	q.Set("key", a.cfg.APIKey)
	q.Set("flight_iata", req.Subject)

	var flights []aviationEdgeFlight
	if err := getJSON(ctx, a.cfg.HTTPClient, a.cfg.BaseURL+"/timetable?"+q.Encode(), nil, &flights); err != nil {
		// the API answers {"error": "No Record Found"} with 200 on
		// unknown flights, which fails array decoding
		if trace.IsBadParameter(err) {
			return types.CanonicalFlight{}, false, nil
		}
		return types.CanonicalFlight{}, false, trace.Wrap(err)
	}
	if len(flights) == 0 {
		return types.CanonicalFlight{}, false, nil
	}

	f := flights[0]
	out := types.CanonicalFlight{
		FlightNumber:       strings.ToUpper(f.Flight.IATANumber),
		OriginIATA:         strings.ToUpper(f.Departure.IATACode),
		DestinationIATA:    strings.ToUpper(f.Arrival.IATACode),
		Status:             aviationEdgeStatus(f.Status, f.Departure.Delay),
		ScheduledDeparture: aviationEdgeTime(f.Departure.ScheduledTime),
		LastUpdated:        a.cfg.Clock.Now().UTC(),
	}
	if out.FlightNumber == "" {
		out.FlightNumber = strings.ToUpper(req.Subject)
	}
	if d := int(f.Departure.Delay); d > 0 {
		out.DepartureDelayMinutes = types.IntPtr(d)
	}
	if d := int(f.Arrival.Delay); d > 0 {
		out.ArrivalDelayMinutes = types.IntPtr(d)
	}
	if t := aviationEdgeTime(f.Departure.ActualTime); !t.IsZero() {
		out.ActualDeparture = types.TimePtr(t)
	}
	if t := aviationEdgeTime(f.Arrival.ActualTime); !t.IsZero() {
		out.ActualArrival = types.TimePtr(t)
	}
	out.SourceContributions = []types.SourceContribution{{
		SourceName:        aviationEdgeName,
		Confidence:        aviationEdgeReliability,
		FieldsContributed: contributedFlightFields(out),
		ObservedAt:        out.LastUpdated,
	}}
	return out, true, nil
}

// aviationEdgeStatus maps the provider status vocabulary onto the
// canonical set. A scheduled flight already carrying a delay is
// reported as delayed.
func aviationEdgeStatus(status string, departureDelay float64) types.FlightStatus {
	switch strings.ToLower(status) {
	case "scheduled":
		if departureDelay > 0 {
			return types.FlightStatusDelayed
		}
		return types.FlightStatusScheduled
	case "active", "started", "en-route":
		if departureDelay > 0 {
			return types.FlightStatusDelayed
		}
		return types.FlightStatusOnTime
	case "landed", "arrived":
		return types.FlightStatusLanded
	case "cancelled", "canceled":
		return types.FlightStatusCancelled
	case "diverted":
		return types.FlightStatusDiverted
	case "delayed", "incident":
		return types.FlightStatusDelayed
	default:
		return types.FlightStatusUnknown
	}
}

// aviationEdgeTime parses the provider's local "2006-01-02T15:04:05.000"
// timestamps, which carry no zone suffix and are documented as UTC.
func aviationEdgeTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{"2006-01-02T15:04:05.000", "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t
		}
	}
	return time.Time{}
}

// contributedFlightFields lists the canonical fields this record
// actually populated, for the provenance trail.
func contributedFlightFields(f types.CanonicalFlight) []string {
	fields := []string{"flightNumber", "flightStatus"}
	if !f.ScheduledDeparture.IsZero() {
		fields = append(fields, "scheduledDepartureUTC")
	}
	if f.OriginIATA != "" {
		fields = append(fields, "originIATA")
	}
	if f.DestinationIATA != "" {
		fields = append(fields, "destinationIATA")
	}
	if f.DepartureDelayMinutes != nil {
		fields = append(fields, "departureDelayMinutes")
	}
	if f.ArrivalDelayMinutes != nil {
		fields = append(fields, "arrivalDelayMinutes")
	}
	if f.ActualDeparture != nil {
		fields = append(fields, "actualDepartureUTC")
	}
	if f.ActualArrival != nil {
		fields = append(fields, "actualArrivalUTC")
	}
	return fields
}

var _ aggregate.Client[types.CanonicalFlight] = (*AviationEdge)(nil)
