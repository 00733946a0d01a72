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

// Package service is the aircoverd composition root. It wires the
// configured storage backend, source adapters, aggregators, data
// router, chain registry, payout engine and policy monitor together,
// and serves the internal admin API.
package service

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/aircover-hq/aircover"
	"github.com/aircover-hq/aircover/api/types"
	"github.com/aircover-hq/aircover/lib/aggregate"
	"github.com/aircover-hq/aircover/lib/aggregate/flightagg"
	"github.com/aircover-hq/aircover/lib/aggregate/weatheragg"
	"github.com/aircover-hq/aircover/lib/config"
	"github.com/aircover-hq/aircover/lib/defaults"
	"github.com/aircover-hq/aircover/lib/escrow"
	"github.com/aircover-hq/aircover/lib/monitor"
	"github.com/aircover-hq/aircover/lib/payout"
	"github.com/aircover-hq/aircover/lib/router"
	"github.com/aircover-hq/aircover/lib/secret"
	"github.com/aircover-hq/aircover/lib/sources"
	"github.com/aircover-hq/aircover/lib/storage"
	"github.com/aircover-hq/aircover/lib/storage/pgstore"
	"github.com/aircover-hq/aircover/lib/utils/logutils"
)

// Service owns every long-lived component of one aircoverd process.
type Service struct {
	cfg    *config.Config
	clock  clockwork.Clock
	logger *slog.Logger

	store     storage.Storage
	flightAgg *flightagg.Aggregator
	weather   *weatheragg.Aggregator
	router    *router.Router
	registry  *escrow.Registry
	payouts   *payout.Engine
	monitor   *monitor.Monitor
	walletKey secret.Key

	server *http.Server
}

// New builds a service from configuration. Nothing is started yet;
// call Run.
func New(ctx context.Context, cfg *config.Config, clock clockwork.Clock) (*Service, error) {
	if cfg == nil {
		return nil, trace.BadParameter("missing config")
	}
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	s := &Service{
		cfg:    cfg,
		clock:  clock,
		logger: logutils.NewPackageLogger(aircover.ComponentService),
	}

	if err := s.initStorage(ctx); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.initAggregation(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := s.initSettlement(); err != nil {
		return nil, trace.Wrap(err)
	}
	s.server = &http.Server{
		Addr:        cfg.Service.ListenAddr,
		Handler:     s.apiHandler(),
		ReadTimeout: defaults.InternalAPIReadTimeout,
	}
	return s, nil
}

func (s *Service) initStorage(ctx context.Context) error {
	if s.cfg.Storage.ConnString == "" {
		s.logger.WarnContext(ctx, "No database configured, using in-memory storage.")
		s.store = storage.NewMemory(s.clock)
		return nil
	}
	store, err := pgstore.New(ctx, pgstore.Config{
		ConnString: s.cfg.Storage.ConnString,
		Clock:      s.clock,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	s.store = store
	return nil
}

// initAggregation builds the source adapters per the provider config
// and stacks the aggregators and the router on top.
func (s *Service) initAggregation() error {
	var flightClients []aggregate.Client[types.CanonicalFlight]
	var weatherClients []aggregate.Client[types.CanonicalWeatherObservation]

	if s.cfg.Providers.UseRealProviders {
		if key := s.cfg.Providers.AviationEdgeAPIKey; key != "" {
			client, err := sources.NewAviationEdge(sources.AviationEdgeConfig{APIKey: key, Clock: s.clock})
			if err != nil {
				return trace.Wrap(err)
			}
			flightClients = append(flightClients, client)
		}
		if key := s.cfg.Providers.AeroDataBoxAPIKey; key != "" {
			client, err := sources.NewAeroDataBox(sources.AeroDataBoxConfig{APIKey: key, Clock: s.clock})
			if err != nil {
				return trace.Wrap(err)
			}
			flightClients = append(flightClients, client)
		}
		meteo, err := sources.NewOpenMeteo(sources.OpenMeteoConfig{Clock: s.clock})
		if err != nil {
			return trace.Wrap(err)
		}
		weatherClients = append(weatherClients, meteo)
		if key := s.cfg.Providers.OpenWeatherAPIKey; key != "" {
			client, err := sources.NewOpenWeather(sources.OpenWeatherConfig{APIKey: key, Clock: s.clock})
			if err != nil {
				return trace.Wrap(err)
			}
			weatherClients = append(weatherClients, client)
		}
	} else {
		flightClients = append(flightClients, sources.NewFixtureFlightSource(s.clock))
		weatherClients = append(weatherClients, sources.NewFixtureWeatherSource(s.clock))
	}

	agg := s.cfg.Aggregation
	flightAgg, err := flightagg.New(flightagg.Config{
		Clients:          flightClients,
		CacheTTL:         agg.FlightCacheTTL(),
		MaxSources:       agg.MaxSources,
		PerSourceTimeout: agg.PerSourceTimeout(),
		Timeout:          agg.AggregatorTimeout(),
		MinQualityScore:  agg.MinAcceptableQualityScore,
		Clock:            s.clock,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	weatherAgg, err := weatheragg.New(weatheragg.Config{
		Clients:          weatherClients,
		CacheTTL:         agg.WeatherCacheTTL(),
		MaxSources:       agg.MaxSources,
		PerSourceTimeout: agg.PerSourceTimeout(),
		Timeout:          agg.AggregatorTimeout(),
		MinQualityScore:  agg.MinAcceptableQualityScore,
		Clock:            s.clock,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	dataRouter, err := router.New(router.Config{
		FlightAggregator:     flightAgg,
		WeatherAggregator:    weatherAgg,
		Timeout:              agg.RouterTimeout(),
		MaxConcurrentWeather: agg.MaxConcurrentWeatherRequests,
		Clock:                s.clock,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	s.flightAgg = flightAgg
	s.weather = weatherAgg
	s.router = dataRouter
	return nil
}

// initSettlement builds the chain registry, payout engine and monitor.
// Concrete chain adapters are out of scope, so every configured chain
// is served by the in-memory fake; the registry keeps the seam real.
func (s *Service) initSettlement() error {
	primary := escrow.NewFakeChain(types.ChainProvider(s.cfg.Service.PrimaryChain), s.clock)
	registry, err := escrow.NewRegistry(primary)
	if err != nil {
		return trace.Wrap(err)
	}
	if sec := s.cfg.Service.WalletEncryptionSecret; sec != "" {
		key, err := secret.DeriveKey(sec)
		if err != nil {
			return trace.Wrap(err)
		}
		s.walletKey = key
	}
	payouts, err := payout.NewEngine(payout.Config{
		Storage:   s.store,
		Registry:  registry,
		WalletKey: s.walletKey,
		Clock:     s.clock,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	mon, err := monitor.New(monitor.Config{
		Storage:               s.store,
		Router:                s.router,
		Payouts:               payouts,
		Interval:              s.cfg.Monitor.Interval(),
		MaxPoliciesPerCheck:   s.cfg.Monitor.MaxPoliciesPerCheck,
		DelayThresholdMinutes: s.cfg.Monitor.DefaultDelayThresholdMinutes,
		Clock:                 s.clock,
	})
	if err != nil {
		return trace.Wrap(err)
	}
	s.registry = registry
	s.payouts = payouts
	s.monitor = mon
	return nil
}

// Storage exposes the persistence layer, mainly for seeding in
// development mode and tests.
func (s *Service) Storage() storage.Storage { return s.store }

// Router exposes the data router.
func (s *Service) Router() *router.Router { return s.router }

// Monitor exposes the policy monitor.
func (s *Service) Monitor() *monitor.Monitor { return s.monitor }

// Run starts the monitor and serves the internal API until ctx is
// cancelled, then shuts down gracefully.
func (s *Service) Run(ctx context.Context) error {
	if err := s.monitor.Start(ctx); err != nil {
		return trace.Wrap(err)
	}
	defer s.monitor.Stop()

	errCh := make(chan error, 1)
	go func() {
		s.logger.InfoContext(ctx, "Internal API listening.", "addr", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- trace.Wrap(err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return trace.Wrap(err)
	case <-ctx.Done():
	}

	s.logger.InfoContext(ctx, "Shutting down.")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), defaults.ShutdownTimeout)
	defer cancel()
	err := s.server.Shutdown(shutdownCtx)
	s.store.Close()
	return trace.Wrap(err)
}

// Close releases resources without graceful draining. Run performs the
// graceful path; Close covers construction-but-never-ran cases.
func (s *Service) Close() {
	s.monitor.Stop()
	if s.server != nil {
		s.server.Close()
	}
	s.store.Close()
}
