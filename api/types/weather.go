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
	"fmt"
	"math"
	"time"

	"github.com/gravitational/trace"
)

// WeatherCondition is the canonical sky/precipitation condition.
// Adapters map provider vocabularies onto this set; unknown values map
// to WeatherConditionUnknown.
type WeatherCondition string

const (
	WeatherConditionClear        WeatherCondition = "CLEAR"
	WeatherConditionPartlyCloudy WeatherCondition = "PARTLY_CLOUDY"
	WeatherConditionCloudy       WeatherCondition = "CLOUDY"
	WeatherConditionLightRain    WeatherCondition = "LIGHT_RAIN"
	WeatherConditionModerateRain WeatherCondition = "MODERATE_RAIN"
	WeatherConditionHeavyRain    WeatherCondition = "HEAVY_RAIN"
	WeatherConditionThunderstorm WeatherCondition = "THUNDERSTORM"
	WeatherConditionSnow         WeatherCondition = "SNOW"
	WeatherConditionFog          WeatherCondition = "FOG"
	WeatherConditionMist         WeatherCondition = "MIST"
	WeatherConditionUnknown      WeatherCondition = "UNKNOWN"
)

// Valid reports whether c is a member of the canonical condition set.
func (c WeatherCondition) Valid() bool {
	switch c {
	case WeatherConditionClear, WeatherConditionPartlyCloudy,
		WeatherConditionCloudy, WeatherConditionLightRain,
		WeatherConditionModerateRain, WeatherConditionHeavyRain,
		WeatherConditionThunderstorm, WeatherConditionSnow,
		WeatherConditionFog, WeatherConditionMist, WeatherConditionUnknown:
		return true
	}
	return false
}

// Coordinates is a WGS84 geographic point.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Check validates the coordinate bounds.
func (c Coordinates) Check() error {
	if c.Lat < -90 || c.Lat > 90 {
		return trace.BadParameter("latitude %v outside [-90,90]", c.Lat)
	}
	if c.Lon < -180 || c.Lon > 180 {
		return trace.BadParameter("longitude %v outside [-180,180]", c.Lon)
	}
	return nil
}

// Round snaps the coordinates to a grid with the given number of
// decimal places so nearby lookups share cache entries.
func (c Coordinates) Round(decimals int) Coordinates {
	scale := math.Pow10(decimals)
	return Coordinates{
		Lat: math.Round(c.Lat*scale) / scale,
		Lon: math.Round(c.Lon*scale) / scale,
	}
}

// String renders the point as "lat,lon" with stable precision.
func (c Coordinates) String() string {
	return fmt.Sprintf("%.4f,%.4f", c.Lat, c.Lon)
}

// CanonicalWeatherObservation is the source-agnostic, merged weather
// observation for one grid point.
type CanonicalWeatherObservation struct {
	// Coordinates is the observed grid point.
	Coordinates Coordinates `json:"coordinates"`
	// AirportIATA is set when the observation was requested for an
	// airport rather than a raw coordinate.
	AirportIATA string `json:"airportIATA,omitempty"`
	// ObservationTimestamp is the instant the observation refers to.
	ObservationTimestamp time.Time `json:"observationTimestampUTC"`

	// TemperatureCelsius is the resolved air temperature.
	TemperatureCelsius float64 `json:"temperatureCelsius"`
	// WindSpeedKmh is the resolved sustained wind speed.
	WindSpeedKmh float64 `json:"windSpeedKmh"`
	// PrecipitationProbability is the resolved precipitation chance.
	PrecipitationProbability float64 `json:"precipitationProbability"`
	// Condition is the resolved canonical condition.
	Condition WeatherCondition `json:"weatherCondition"`

	// SourceContributions is the provenance trail, as for flights.
	SourceContributions []SourceContribution `json:"sourceContributions"`
	// DataQualityScore summarizes aggregate confidence in [0,1].
	DataQualityScore float64 `json:"dataQualityScore"`
	// LastUpdated is the most recent observation instant among the
	// contributing sources.
	LastUpdated time.Time `json:"lastUpdatedUTC"`
}

// Check validates the observation's measurement bounds.
func (o *CanonicalWeatherObservation) Check() error {
	if err := o.Coordinates.Check(); err != nil {
		return trace.Wrap(err)
	}
	if o.TemperatureCelsius < -60 || o.TemperatureCelsius > 60 {
		return trace.BadParameter("temperature %v outside [-60,60]", o.TemperatureCelsius)
	}
	if o.WindSpeedKmh < 0 {
		return trace.BadParameter("wind speed %v is negative", o.WindSpeedKmh)
	}
	if o.PrecipitationProbability < 0 || o.PrecipitationProbability > 1 {
		return trace.BadParameter("precipitation probability %v outside [0,1]", o.PrecipitationProbability)
	}
	if !o.Condition.Valid() {
		return trace.BadParameter("unknown weather condition %q", o.Condition)
	}
	if o.DataQualityScore < 0 || o.DataQualityScore > 1 {
		return trace.BadParameter("quality score %v outside [0,1]", o.DataQualityScore)
	}
	return nil
}
