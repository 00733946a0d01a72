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
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/aircover-hq/aircover/api/types"
	"github.com/aircover-hq/aircover/lib/aggregate"
	"github.com/aircover-hq/aircover/lib/defaults"
)

const (
	openWeatherName        = "openweather"
	openWeatherBaseURL     = "https://api.openweathermap.org/data/2.5"
	openWeatherPriority    = 8
	openWeatherReliability = 0.85
)

// OpenWeatherConfig configures the OpenWeather adapter.
type OpenWeatherConfig struct {
	// APIKey is the OpenWeather API key.
	APIKey string
	// BaseURL overrides the production endpoint, used in tests.
	BaseURL string
	// HTTPClient overrides the default provider client.
	HTTPClient *http.Client
	// Clock is the time source.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *OpenWeatherConfig) CheckAndSetDefaults() error {
	if c.APIKey == "" {
		return trace.BadParameter("openweather config missing required parameter APIKey")
	}
	if c.BaseURL == "" {
		c.BaseURL = openWeatherBaseURL
	}
	if c.HTTPClient == nil {
		c.HTTPClient = defaults.HTTPClient()
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// OpenWeather is the weather source adapter for the OpenWeather current
// conditions API.
type OpenWeather struct {
	cfg OpenWeatherConfig
}

// NewOpenWeather creates an OpenWeather adapter.
func NewOpenWeather(cfg OpenWeatherConfig) (*OpenWeather, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &OpenWeather{cfg: cfg}, nil
}

func (o *OpenWeather) Name() string         { return openWeatherName }
func (o *OpenWeather) Priority() int        { return openWeatherPriority }
func (o *OpenWeather) Reliability() float64 { return openWeatherReliability }

// IsAvailable probes the current-conditions endpoint; a 401 still
// proves reachability.
func (o *OpenWeather) IsAvailable(ctx context.Context) bool {
	return ping(ctx, o.cfg.HTTPClient, o.cfg.BaseURL+"/weather?lat=0&lon=0&appid="+url.QueryEscape(o.cfg.APIKey))
}

type openWeatherResponse struct {
	Weather []struct {
		ID   int    `json:"id"`
		Main string `json:"main"`
	} `json:"weather"`
	Main struct {
		Temp float64 `json:"temp"`
	} `json:"main"`
	Wind struct {
		Speed float64 `json:"speed"`
	} `json:"wind"`
	Clouds struct {
		All float64 `json:"all"`
	} `json:"clouds"`
	Rain map[string]float64 `json:"rain"`
	Snow map[string]float64 `json:"snow"`
	Dt   int64              `json:"dt"`
}

// Fetch requests current conditions at the grid point encoded in the
// request subject ("lat,lon").
func (o *OpenWeather) Fetch(ctx context.Context, req aggregate.Request) (types.CanonicalWeatherObservation, bool, error) {
	coords, err := parseCoordinateSubject(req.Subject)
	if err != nil {
		return types.CanonicalWeatherObservation{}, false, trace.Wrap(err)
	}

	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%.4f", coords.Lat))
	q.Set("lon", fmt.Sprintf("%.4f", coords.Lon))
	q.Set("appid", o.cfg.APIKey)
	q.Set("units", "metric")

	var resp openWeatherResponse
	if err := getJSON(ctx, o.cfg.HTTPClient, o.cfg.BaseURL+"/weather?"+q.Encode(), nil, &resp); err != nil {
		return types.CanonicalWeatherObservation{}, false, trace.Wrap(err)
	}

	observed := o.cfg.Clock.Now().UTC()
	if resp.Dt > 0 {
		observed = time.Unix(resp.Dt, 0).UTC()
	}
	condition := types.WeatherConditionUnknown
	if len(resp.Weather) > 0 {
		condition = openWeatherCondition(resp.Weather[0].ID)
	}
	out := types.CanonicalWeatherObservation{
		Coordinates:          coords,
		ObservationTimestamp: observed,
		TemperatureCelsius:   resp.Main.Temp,
		// wind comes back in m/s under metric units
		WindSpeedKmh:             resp.Wind.Speed * 3.6,
		PrecipitationProbability: openWeatherPrecipProbability(resp),
		Condition:                condition,
		LastUpdated:              o.cfg.Clock.Now().UTC(),
	}
	out.SourceContributions = []types.SourceContribution{{
		SourceName:        openWeatherName,
		Confidence:        openWeatherReliability,
		FieldsContributed: []string{"weatherCondition", "temperatureCelsius", "windSpeedKmh", "precipitationProbability"},
		ObservedAt:        observed,
	}}
	return out, true, nil
}

// openWeatherCondition maps OpenWeather condition IDs onto the
// canonical set.
func openWeatherCondition(id int) types.WeatherCondition {
	switch {
	case id >= 200 && id < 300:
		return types.WeatherConditionThunderstorm
	case id >= 300 && id < 400:
		return types.WeatherConditionLightRain
	case id >= 500 && id < 502:
		return types.WeatherConditionLightRain
	case id == 502 || id == 511 || id == 520 || id == 521:
		return types.WeatherConditionModerateRain
	case id > 502 && id < 600:
		return types.WeatherConditionHeavyRain
	case id >= 600 && id < 700:
		return types.WeatherConditionSnow
	case id == 701 || id == 721:
		return types.WeatherConditionMist
	case id == 741:
		return types.WeatherConditionFog
	case id >= 700 && id < 800:
		return types.WeatherConditionMist
	case id == 800:
		return types.WeatherConditionClear
	case id == 801 || id == 802:
		return types.WeatherConditionPartlyCloudy
	case id == 803 || id == 804:
		return types.WeatherConditionCloudy
	default:
		return types.WeatherConditionUnknown
	}
}

// openWeatherPrecipProbability estimates a precipitation probability
// from current conditions; the current-weather endpoint does not report
// one directly. Active precipitation maps high, otherwise cloud cover
// serves as a weak proxy.
func openWeatherPrecipProbability(resp openWeatherResponse) float64 {
	if len(resp.Rain) > 0 || len(resp.Snow) > 0 {
		return 0.9
	}
	return resp.Clouds.All / 100 * 0.4
}

var _ aggregate.Client[types.CanonicalWeatherObservation] = (*OpenWeather)(nil)
