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

// Package aircover holds identifiers shared across the whole codebase:
// the release version and the component names used for logging and
// metrics labels.
package aircover

const (
	// Version is the semantic release version of this build.
	Version = "0.4.0"

	// ComponentKey is the attribute key under which a component name is
	// attached to log records.
	ComponentKey = "component"
)

const (
	// ComponentFlightAggregator is the multi-source flight status aggregator.
	ComponentFlightAggregator = "aggregator:flight"

	// ComponentWeatherAggregator is the multi-source weather observation aggregator.
	ComponentWeatherAggregator = "aggregator:weather"

	// ComponentDataRouter is the cross-aggregator policy data router.
	ComponentDataRouter = "router"

	// ComponentMonitor is the periodic policy monitor.
	ComponentMonitor = "monitor"

	// ComponentPayout is the payout engine.
	ComponentPayout = "payout"

	// ComponentEscrow is the blockchain escrow abstraction.
	ComponentEscrow = "escrow"

	// ComponentStorage is the persistence layer.
	ComponentStorage = "storage"

	// ComponentSources is the provider source adapter layer.
	ComponentSources = "sources"

	// ComponentService is the composition root and internal API.
	ComponentService = "service"
)
