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

package router

import (
	"strings"

	"github.com/aircover-hq/aircover/api/types"
)

// airportCoordinates maps IATA codes of the airports covered policies
// commonly touch onto their coordinates. Lookups for airports outside
// the table degrade gracefully: the location is skipped and reported in
// the response metadata rather than failing the bundle.
var airportCoordinates = map[string]types.Coordinates{
	"ATL": {Lat: 33.6407, Lon: -84.4277},
	"AMS": {Lat: 52.3105, Lon: 4.7683},
	"BOS": {Lat: 42.3656, Lon: -71.0096},
	"CDG": {Lat: 49.0097, Lon: 2.5479},
	"DEN": {Lat: 39.8561, Lon: -104.6737},
	"DFW": {Lat: 32.8998, Lon: -97.0403},
	"DXB": {Lat: 25.2532, Lon: 55.3657},
	"EWR": {Lat: 40.6895, Lon: -74.1745},
	"FRA": {Lat: 50.0379, Lon: 8.5622},
	"HKG": {Lat: 22.3080, Lon: 113.9185},
	"HND": {Lat: 35.5494, Lon: 139.7798},
	"IAD": {Lat: 38.9531, Lon: -77.4565},
	"IAH": {Lat: 29.9902, Lon: -95.3368},
	"JFK": {Lat: 40.6413, Lon: -73.7781},
	"LAS": {Lat: 36.0840, Lon: -115.1537},
	"LAX": {Lat: 33.9416, Lon: -118.4085},
	"LGA": {Lat: 40.7769, Lon: -73.8740},
	"LHR": {Lat: 51.4700, Lon: -0.4543},
	"MAD": {Lat: 40.4983, Lon: -3.5676},
	"MCO": {Lat: 28.4312, Lon: -81.3081},
	"MEX": {Lat: 19.4361, Lon: -99.0719},
	"MIA": {Lat: 25.7959, Lon: -80.2870},
	"MSP": {Lat: 44.8848, Lon: -93.2223},
	"ORD": {Lat: 41.9742, Lon: -87.9073},
	"PHX": {Lat: 33.4342, Lon: -112.0116},
	"SEA": {Lat: 47.4502, Lon: -122.3088},
	"SFO": {Lat: 37.6213, Lon: -122.3790},
	"SIN": {Lat: 1.3644, Lon: 103.9915},
	"SYD": {Lat: -33.9399, Lon: 151.1753},
	"YYZ": {Lat: 43.6777, Lon: -79.6248},
}

// LookupAirport returns the coordinates of the IATA airport code.
func LookupAirport(iata string) (types.Coordinates, bool) {
	coords, ok := airportCoordinates[strings.ToUpper(strings.TrimSpace(iata))]
	return coords, ok
}
