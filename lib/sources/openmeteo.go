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
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/aircover-hq/aircover/api/types"
	"github.com/aircover-hq/aircover/lib/aggregate"
	"github.com/aircover-hq/aircover/lib/defaults"
)

const (
	openMeteoName        = "open-meteo"
	openMeteoBaseURL     = "https://api.open-meteo.com/v1"
	openMeteoPriority    = 10
	openMeteoReliability = 0.9
)

// OpenMeteoConfig configures the Open-Meteo weather adapter. The API
// requires no key.
type OpenMeteoConfig struct {
	// BaseURL overrides the production endpoint, used in tests.
	BaseURL string
	// HTTPClient overrides the default provider client.
	HTTPClient *http.Client
	// Clock is the time source.
	Clock clockwork.Clock
}

// CheckAndSetDefaults fills in defaults.
func (c *OpenMeteoConfig) CheckAndSetDefaults() error {
	if c.BaseURL == "" {
		c.BaseURL = openMeteoBaseURL
	}
	if c.HTTPClient == nil {
		c.HTTPClient = defaults.HTTPClient()
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// OpenMeteo is the weather source adapter for the Open-Meteo forecast
// API.
type OpenMeteo struct {
	cfg OpenMeteoConfig
}

// NewOpenMeteo creates an OpenMeteo adapter.
func NewOpenMeteo(cfg OpenMeteoConfig) (*OpenMeteo, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &OpenMeteo{cfg: cfg}, nil
}

func (o *OpenMeteo) Name() string         { return openMeteoName }
func (o *OpenMeteo) Priority() int        { return openMeteoPriority }
func (o *OpenMeteo) Reliability() float64 { return openMeteoReliability }

// IsAvailable probes the forecast endpoint.
func (o *OpenMeteo) IsAvailable(ctx context.Context) bool {
	return ping(ctx, o.cfg.HTTPClient, o.cfg.BaseURL+"/forecast?latitude=0&longitude=0&current=temperature_2m")
}

type openMeteoResponse struct {
	Current struct {
		Time                     string  `json:"time"`
		Temperature              float64 `json:"temperature_2m"`
		WindSpeed                float64 `json:"wind_speed_10m"`
		PrecipitationProbability float64 `json:"precipitation_probability"`
		WeatherCode              int     `json:"weather_code"`
	} `json:"current"`
}

// Fetch requests current conditions at the grid point encoded in the
// request subject ("lat,lon").
func (o *OpenMeteo) Fetch(ctx context.Context, req aggregate.Request) (types.CanonicalWeatherObservation, bool, error) {
	coords, err := parseCoordinateSubject(req.Subject)
	if err != nil {
		return types.CanonicalWeatherObservation{}, false, trace.Wrap(err)
	}

	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", coords.Lat))
	q.Set("longitude", fmt.Sprintf("%.4f", coords.Lon))
	q.Set("current", "temperature_2m,wind_speed_10m,precipitation_probability,weather_code")
	q.Set("wind_speed_unit", "kmh")
	q.Set("timezone", "UTC")

	var resp openMeteoResponse
	if err := getJSON(ctx, o.cfg.HTTPClient, o.cfg.BaseURL+"/forecast?"+q.Encode(), nil, &resp); err != nil {
		return types.CanonicalWeatherObservation{}, false, trace.Wrap(err)
	}

	observed := o.cfg.Clock.Now().UTC()
	if t, err := time.ParseInLocation("2006-01-02T15:04", resp.Current.Time, time.UTC); err == nil {
		observed = t
	}
	out := types.CanonicalWeatherObservation{
		Coordinates:              coords,
		ObservationTimestamp:     observed,
		TemperatureCelsius:       resp.Current.Temperature,
		WindSpeedKmh:             resp.Current.WindSpeed,
		PrecipitationProbability: resp.Current.PrecipitationProbability / 100,
		Condition:                wmoCondition(resp.Current.WeatherCode),
		LastUpdated:              o.cfg.Clock.Now().UTC(),
	}
	out.SourceContributions = []types.SourceContribution{{
		SourceName:        openMeteoName,
		Confidence:        openMeteoReliability,
		FieldsContributed: []string{"weatherCondition", "temperatureCelsius", "windSpeedKmh", "precipitationProbability"},
		ObservedAt:        observed,
	}}
	return out, true, nil
}

// wmoCondition maps WMO weather interpretation codes onto the canonical
// condition set.
func wmoCondition(code int) types.WeatherCondition {
	switch {
	case code == 0:
		return types.WeatherConditionClear
	case code == 1 || code == 2:
		return types.WeatherConditionPartlyCloudy
	case code == 3:
		return types.WeatherConditionCloudy
	case code == 45 || code == 48:
		return types.WeatherConditionFog
	case code >= 51 && code <= 57:
		return types.WeatherConditionMist
	case code == 61 || code == 80:
		return types.WeatherConditionLightRain
	case code == 63 || code == 81:
		return types.WeatherConditionModerateRain
	case code == 65 || code == 82 || code == 66 || code == 67:
		return types.WeatherConditionHeavyRain
	case code >= 71 && code <= 77 || code == 85 || code == 86:
		return types.WeatherConditionSnow
	case code >= 95:
		return types.WeatherConditionThunderstorm
	default:
		return types.WeatherConditionUnknown
	}
}

// parseCoordinateSubject parses the "lat,lon" subject the weather
// aggregator builds from grid-rounded coordinates.
func parseCoordinateSubject(subject string) (types.Coordinates, error) {
	lat, lon, ok := strings.Cut(subject, ",")
	if !ok {
		return types.Coordinates{}, trace.BadParameter("weather subject %q is not in lat,lon form", subject)
	}
	latF, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return types.Coordinates{}, trace.BadParameter("bad latitude in weather subject %q", subject)
	}
	lonF, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err != nil {
		return types.Coordinates{}, trace.BadParameter("bad longitude in weather subject %q", subject)
	}
	coords := types.Coordinates{Lat: latF, Lon: lonF}
	if err := coords.Check(); err != nil {
		return types.Coordinates{}, trace.Wrap(err)
	}
	return coords, nil
}

var _ aggregate.Client[types.CanonicalWeatherObservation] = (*OpenMeteo)(nil)
