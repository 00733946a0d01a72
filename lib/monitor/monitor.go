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

// Package monitor runs the periodic policy scan: list active policies,
// fetch their flight and weather data through the router, evaluate the
// coverage trigger predicates, and hand triggered policies to the
// payout engine. One bad policy never aborts a cycle, and a cycle
// never overlaps its successor.
package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/aircover-hq/aircover"
	"github.com/aircover-hq/aircover/api/types"
	"github.com/aircover-hq/aircover/lib/defaults"
	"github.com/aircover-hq/aircover/lib/payout"
	"github.com/aircover-hq/aircover/lib/router"
	"github.com/aircover-hq/aircover/lib/storage"
	"github.com/aircover-hq/aircover/lib/utils/logutils"
	"github.com/aircover-hq/aircover/lib/utils/retryutils"
)

// Trigger confidences per coverage type. Delay and cancellation come
// straight from the resolved flight record; weather inferences carry
// less certainty.
const (
	delayConfidence         = 0.95
	cancellationConfidence  = 0.99
	severeWeatherConfidence = 0.85
	weatherDelayConfidence  = 0.75
)

// weatherDisruptionMinDelay is the departure delay at which wind or
// heavy rain is attributed as the disruption cause.
const weatherDisruptionMinDelay = 30

// PolicyDataProvider fetches the flight and weather bundle for one
// policy. Implemented by router.Router.
type PolicyDataProvider interface {
	GetDataForPolicy(ctx context.Context, req router.Request) (*router.Response, error)
}

// PayoutProcessor settles triggered policies. Implemented by
// payout.Engine.
type PayoutProcessor interface {
	ProcessTriggered(ctx context.Context, req payout.Request) (*payout.Summary, error)
}

// Trigger is a fired predicate for one policy.
type Trigger struct {
	// Type is the coverage type whose predicate fired.
	Type types.CoverageType `json:"type"`
	// Reason is the human-readable trigger reason.
	Reason string `json:"reason"`
	// Confidence grades how certain the trigger is.
	Confidence float64 `json:"confidence"`
}

// PolicyFailure records one policy whose evaluation or payout failed
// within a cycle.
type PolicyFailure struct {
	PolicyID string `json:"policyId"`
	Error    string `json:"error"`
}

// CycleStats summarizes one monitor cycle.
type CycleStats struct {
	// Scanned is the number of active policies evaluated.
	Scanned int `json:"scanned"`
	// Triggered is the number of policies whose predicate fired.
	Triggered int `json:"triggered"`
	// PaidOut is the number of payouts completed this cycle.
	PaidOut int `json:"paidOut"`
	// Expired is the number of policies swept to EXPIRED.
	Expired int `json:"expired"`
	// Failures lists per-policy evaluation and payout failures.
	Failures []PolicyFailure `json:"failures,omitempty"`
}

// Config configures the policy monitor.
type Config struct {
	// Storage is the persistence layer.
	Storage storage.Storage
	// Router fetches policy data bundles.
	Router PolicyDataProvider
	// Payouts settles triggered policies.
	Payouts PayoutProcessor
	// Interval is the period between cycles.
	Interval time.Duration
	// MaxPoliciesPerCheck caps how many policies one cycle evaluates.
	MaxPoliciesPerCheck int
	// DelayThresholdMinutes applies when a policy's terms carry no
	// threshold of their own.
	DelayThresholdMinutes int
	// Jitter spreads the cycle period so multiple instances do not
	// synchronize against the providers.
	Jitter retryutils.Jitter
	// Clock is the time source.
	Clock clockwork.Clock
	// Logger defaults to the package logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Storage == nil {
		return trace.BadParameter("policy monitor requires storage")
	}
	if c.Router == nil {
		return trace.BadParameter("policy monitor requires a data router")
	}
	if c.Payouts == nil {
		return trace.BadParameter("policy monitor requires a payout processor")
	}
	if c.Interval <= 0 {
		c.Interval = defaults.MonitorInterval
	}
	if c.MaxPoliciesPerCheck <= 0 {
		c.MaxPoliciesPerCheck = defaults.MaxPoliciesPerCheck
	}
	if c.DelayThresholdMinutes <= 0 {
		c.DelayThresholdMinutes = defaults.DelayThresholdMinutes
	}
	if c.Jitter == nil {
		c.Jitter = retryutils.SeventhJitter
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = logutils.NewPackageLogger(aircover.ComponentMonitor)
	}
	return nil
}

// Monitor is the periodic policy scanner.
type Monitor struct {
	cfg Config

	mu   sync.Mutex
	stop context.CancelFunc
	done chan struct{}
}

// New creates a stopped monitor.
func New(cfg Config) (*Monitor, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := registerMetrics(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Monitor{cfg: cfg}, nil
}

// Start launches the periodic scan. It returns immediately; cycles run
// on a background goroutine until Stop is called or ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		return trace.AlreadyExists("policy monitor is already running")
	}
	ctx, cancel := context.WithCancel(ctx)
	m.stop = cancel
	m.done = make(chan struct{})
	go m.loop(ctx, m.done)
	m.cfg.Logger.InfoContext(ctx, "Policy monitor started.", "interval", m.cfg.Interval)
	return nil
}

// Stop halts the scan and waits for an in-flight cycle to finish.
// Stopping a stopped monitor is a no-op.
func (m *Monitor) Stop() {
	m.mu.Lock()
	stop, done := m.stop, m.done
	m.stop = nil
	m.mu.Unlock()
	if stop == nil {
		return
	}
	stop()
	<-done
}

// IsRunning reports whether the monitor is started.
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stop != nil
}

// loop drives cycles off a timer that is re-armed only after the
// previous cycle completes, so cycles never overlap however long one
// takes.
func (m *Monitor) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	timer := m.cfg.Clock.NewTimer(m.cfg.Jitter(m.cfg.Interval))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.Chan():
			stats, err := m.RunCycle(ctx)
			if err != nil {
				m.cfg.Logger.WarnContext(ctx, "Policy monitor cycle failed.", "error", err)
			} else {
				m.cfg.Logger.InfoContext(ctx, "Policy monitor cycle complete.",
					"scanned", stats.Scanned,
					"triggered", stats.Triggered,
					"paid_out", stats.PaidOut,
					"expired", stats.Expired,
					"failures", len(stats.Failures),
				)
			}
			timer.Reset(m.cfg.Jitter(m.cfg.Interval))
		}
	}
}

// RunCycle performs one scan synchronously: sweep expired policies,
// list active ones up to the per-cycle cap, evaluate each, and pay out
// the triggered ones. Per-policy errors land in the stats; only a
// failure to list policies aborts the cycle.
func (m *Monitor) RunCycle(ctx context.Context) (*CycleStats, error) {
	stats := &CycleStats{}
	started := m.cfg.Clock.Now()
	defer func() {
		cycleSeconds.Observe(m.cfg.Clock.Since(started).Seconds())
		cycleFailures.Add(float64(len(stats.Failures)))
	}()
	now := started.UTC()

	expired, err := m.cfg.Storage.ExpirePolicies(ctx, now)
	if err != nil {
		m.cfg.Logger.WarnContext(ctx, "Failed to sweep expired policies.", "error", err)
	}
	stats.Expired = expired

	policies, err := m.cfg.Storage.ListActivePolicies(ctx, now, m.cfg.MaxPoliciesPerCheck)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	for _, policy := range policies {
		stats.Scanned++
		policiesScanned.Inc()
		trigger, err := m.evaluate(ctx, &policy)
		if err != nil {
			m.cfg.Logger.WarnContext(ctx, "Policy evaluation failed.",
				"policy", policy.ID, "error", err)
			stats.Failures = append(stats.Failures, PolicyFailure{PolicyID: policy.ID, Error: err.Error()})
			continue
		}
		if trigger == nil {
			continue
		}
		stats.Triggered++
		triggersFired.WithLabelValues(string(trigger.Type)).Inc()
		m.cfg.Logger.InfoContext(ctx, "Policy triggered.",
			"policy", policy.ID,
			"coverage", trigger.Type,
			"reason", trigger.Reason,
			"confidence", trigger.Confidence,
		)
		summary, err := m.cfg.Payouts.ProcessTriggered(ctx, payout.Request{
			PolicyIDs:   []string{policy.ID},
			Reason:      trigger.Reason,
			RequestedBy: aircover.ComponentMonitor,
		})
		if err != nil {
			stats.Failures = append(stats.Failures, PolicyFailure{PolicyID: policy.ID, Error: err.Error()})
			continue
		}
		stats.PaidOut += summary.ProcessedCount
		for _, result := range summary.Results {
			if result.Status != payout.ResultCompleted {
				stats.Failures = append(stats.Failures, PolicyFailure{PolicyID: result.PolicyID, Error: result.Error})
			}
		}
	}
	return stats, nil
}

// evaluate fetches the policy's data bundle and applies its coverage
// predicate. A nil trigger with a nil error means the predicate did
// not fire.
func (m *Monitor) evaluate(ctx context.Context, policy *types.Policy) (*Trigger, error) {
	flight, err := m.cfg.Storage.GetFlight(ctx, policy.FlightID)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	// weather only matters for weather coverage; skip the extra
	// lookups for the flight-only predicates
	includeWeather := policy.CoverageType == types.CoverageWeatherDisruption
	req := router.Request{
		FlightNumber:   flight.FlightNumber,
		Date:           flight.ScheduledDeparture.UTC().Format(time.DateOnly),
		IncludeWeather: &includeWeather,
	}
	if flight.OriginIATA != "" {
		req.Airports = append(req.Airports, flight.OriginIATA)
	}
	if flight.DestinationIATA != "" {
		req.Airports = append(req.Airports, flight.DestinationIATA)
	}
	bundle, err := m.cfg.Router.GetDataForPolicy(ctx, req)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return evaluateTrigger(policy, bundle, m.cfg.DelayThresholdMinutes), nil
}

// evaluateTrigger applies the coverage predicate to a resolved bundle.
func evaluateTrigger(policy *types.Policy, bundle *router.Response, defaultThreshold int) *Trigger {
	flight := bundle.Flight
	switch policy.CoverageType {
	case types.CoverageFlightDelay:
		threshold := policy.DelayThreshold(defaultThreshold)
		delay := flight.DepartureDelay()
		if flight.Status == types.FlightStatusDelayed && delay >= threshold {
			return &Trigger{
				Type:       types.CoverageFlightDelay,
				Reason:     fmt.Sprintf("Flight delayed by %d minutes, exceeding threshold of %d minutes", delay, threshold),
				Confidence: delayConfidence,
			}
		}
	case types.CoverageFlightCancellation:
		if flight.Status == types.FlightStatusCancelled {
			return &Trigger{
				Type:       types.CoverageFlightCancellation,
				Reason:     fmt.Sprintf("Flight %v cancelled", flight.FlightNumber),
				Confidence: cancellationConfidence,
			}
		}
	case types.CoverageWeatherDisruption:
		for _, obs := range bundle.Weather {
			if severeCondition(obs.Observation.Condition) {
				return &Trigger{
					Type:       types.CoverageWeatherDisruption,
					Reason:     fmt.Sprintf("Severe weather (%v) at %v", obs.Observation.Condition, obs.AirportIATA),
					Confidence: severeWeatherConfidence,
				}
			}
		}
		if flight.Status == types.FlightStatusDelayed && flight.DepartureDelay() >= weatherDisruptionMinDelay {
			for _, obs := range bundle.Weather {
				if obs.Observation.WindSpeedKmh > 50 || obs.Observation.Condition == types.WeatherConditionHeavyRain {
					return &Trigger{
						Type:       types.CoverageWeatherDisruption,
						Reason:     fmt.Sprintf("Flight delayed %d minutes with disruptive weather at %v", flight.DepartureDelay(), obs.AirportIATA),
						Confidence: weatherDelayConfidence,
					}
				}
			}
		}
	}
	return nil
}

// severeCondition reports whether the condition alone constitutes a
// weather disruption.
func severeCondition(c types.WeatherCondition) bool {
	switch c {
	case types.WeatherConditionThunderstorm, types.WeatherConditionSnow, types.WeatherConditionHeavyRain:
		return true
	}
	return false
}
