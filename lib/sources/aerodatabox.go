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
	aeroDataBoxName        = "aerodatabox"
	aeroDataBoxBaseURL     = "https://aerodatabox.p.rapidapi.com"
	aeroDataBoxHost        = "aerodatabox.p.rapidapi.com"
	aeroDataBoxPriority    = 8
	aeroDataBoxReliability = 0.85
)

// AeroDataBoxConfig configures the AeroDataBox flight adapter.
type AeroDataBoxConfig struct {
	// APIKey is the RapidAPI key for AeroDataBox.
	APIKey string
	// BaseURL overrides the production endpoint, used in tests.
	BaseURL string
	// HTTPClient overrides the default provider client.
	HTTPClient *http.Client
	// Clock is the time source.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *AeroDataBoxConfig) CheckAndSetDefaults() error {
	if c.APIKey == "" {
		return trace.BadParameter("aerodatabox config missing required parameter APIKey")
	}
	if c.BaseURL == "" {
		c.BaseURL = aeroDataBoxBaseURL
	}
	if c.HTTPClient == nil {
		c.HTTPClient = defaults.HTTPClient()
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// AeroDataBox is the flight source adapter for the AeroDataBox API on
// RapidAPI.
type AeroDataBox struct {
	cfg AeroDataBoxConfig
}

// NewAeroDataBox creates an AeroDataBox adapter.
func NewAeroDataBox(cfg AeroDataBoxConfig) (*AeroDataBox, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &AeroDataBox{cfg: cfg}, nil
}

func (a *AeroDataBox) Name() string         { return aeroDataBoxName }
func (a *AeroDataBox) Priority() int        { return aeroDataBoxPriority }
func (a *AeroDataBox) Reliability() float64 { return aeroDataBoxReliability }

func (a *AeroDataBox) rapidHeaders() map[string]string {
	return map[string]string{
		"X-RapidAPI-Key":  a.cfg.APIKey,
		"X-RapidAPI-Host": aeroDataBoxHost,
	}
}

// IsAvailable probes the health endpoint RapidAPI exposes for the API.
func (a *AeroDataBox) IsAvailable(ctx context.Context) bool {
	return ping(ctx, a.cfg.HTTPClient, a.cfg.BaseURL+"/health/services/feeds/FlightSchedules")
}

// aeroDataBoxFlight is the subset of the flight-status response the
// adapter consumes.
type aeroDataBoxFlight struct {
	Number    string `json:"number"`
	Status    string `json:"status"`
	Departure struct {
		Airport struct {
			IATA string `json:"iata"`
		} `json:"airport"`
		ScheduledTime struct {
			UTC string `json:"utc"`
		} `json:"scheduledTime"`
		RevisedTime struct {
			UTC string `json:"utc"`
		} `json:"revisedTime"`
		RunwayTime struct {
			UTC string `json:"utc"`
		} `json:"runwayTime"`
	} `json:"departure"`
	Arrival struct {
		Airport struct {
			IATA string `json:"iata"`
		} `json:"airport"`
		ScheduledTime struct {
			UTC string `json:"utc"`
		} `json:"scheduledTime"`
		RevisedTime struct {
			UTC string `json:"utc"`
		} `json:"revisedTime"`
		RunwayTime struct {
			UTC string `json:"utc"`
		} `json:"runwayTime"`
	} `json:"arrival"`
}

// Fetch looks the flight up by number and service date and maps the
// first leg onto the canonical record.
func (a *AeroDataBox) Fetch(ctx context.Context, req aggregate.Request) (types.CanonicalFlight, bool, error) {
	path := a.cfg.BaseURL + "/flights/number/" + url.PathEscape(req.Subject)
	if req.DateHint != "" {
		path += "/" + url.PathEscape(req.DateHint)
	}

	var flights []aeroDataBoxFlight
	if err := getJSON(ctx, a.cfg.HTTPClient, path, a.rapidHeaders(), &flights); err != nil {
		// unknown flights come back 204/404; treat a non-array body the
		// same as no data
		if trace.IsBadParameter(err) {
			return types.CanonicalFlight{}, false, nil
		}
		return types.CanonicalFlight{}, false, trace.Wrap(err)
	}
	if len(flights) == 0 {
		return types.CanonicalFlight{}, false, nil
	}

	f := flights[0]
	scheduledDep := aeroDataBoxTime(f.Departure.ScheduledTime.UTC)
	out := types.CanonicalFlight{
		FlightNumber:       strings.ToUpper(strings.ReplaceAll(f.Number, " ", "")),
		OriginIATA:         strings.ToUpper(f.Departure.Airport.IATA),
		DestinationIATA:    strings.ToUpper(f.Arrival.Airport.IATA),
		ScheduledDeparture: scheduledDep,
		LastUpdated:        a.cfg.Clock.Now().UTC(),
	}
	if out.FlightNumber == "" {
		out.FlightNumber = strings.ToUpper(req.Subject)
	}

	depDelay := delayMinutes(scheduledDep, aeroDataBoxTime(f.Departure.RevisedTime.UTC))
	arrDelay := delayMinutes(aeroDataBoxTime(f.Arrival.ScheduledTime.UTC), aeroDataBoxTime(f.Arrival.RevisedTime.UTC))
	out.Status = aeroDataBoxStatus(f.Status, depDelay)
	if depDelay > 0 {
		out.DepartureDelayMinutes = types.IntPtr(depDelay)
	}
	if arrDelay > 0 {
		out.ArrivalDelayMinutes = types.IntPtr(arrDelay)
	}
	if t := aeroDataBoxTime(f.Departure.RunwayTime.UTC); !t.IsZero() {
		out.ActualDeparture = types.TimePtr(t)
	}
	if t := aeroDataBoxTime(f.Arrival.RunwayTime.UTC); !t.IsZero() {
		out.ActualArrival = types.TimePtr(t)
	}
	out.SourceContributions = []types.SourceContribution{{
		SourceName:        aeroDataBoxName,
		Confidence:        aeroDataBoxReliability,
		FieldsContributed: contributedFlightFields(out),
		ObservedAt:        out.LastUpdated,
	}}
	return out, true, nil
}

// aeroDataBoxStatus maps the provider status vocabulary onto the
// canonical set.
func aeroDataBoxStatus(status string, departureDelay int) types.FlightStatus {
	switch strings.ToLower(status) {
	case "expected", "checkin", "boarding", "gateclosed", "scheduled":
		if departureDelay > 0 {
			return types.FlightStatusDelayed
		}
		return types.FlightStatusScheduled
	case "departed", "enroute", "approaching":
		if departureDelay > 0 {
			return types.FlightStatusDelayed
		}
		return types.FlightStatusOnTime
	case "arrived":
		return types.FlightStatusLanded
	case "delayed":
		return types.FlightStatusDelayed
	case "canceled", "cancelled", "canceleduncertain":
		return types.FlightStatusCancelled
	case "diverted":
		return types.FlightStatusDiverted
	default:
		return types.FlightStatusUnknown
	}
}

// aeroDataBoxTime parses the provider's "2006-01-02 15:04Z" UTC stamps.
func aeroDataBoxTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{"2006-01-02 15:04Z", time.RFC3339} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

// delayMinutes returns the positive difference between scheduled and
// revised in whole minutes, zero when either side is missing.
func delayMinutes(scheduled, revised time.Time) int {
	if scheduled.IsZero() || revised.IsZero() {
		return 0
	}
	d := revised.Sub(scheduled)
	if d <= 0 {
		return 0
	}
	return int(d / time.Minute)
}

var _ aggregate.Client[types.CanonicalFlight] = (*AeroDataBox)(nil)
