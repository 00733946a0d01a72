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

package aggregate

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/aircover-hq/aircover/lib/defaults"
	"github.com/aircover-hq/aircover/lib/utils/retryutils"
)

// SourceHealth is the health table entry for one source. State is
// per-process and non-persistent; a restart readmits every source.
type SourceHealth struct {
	// Healthy is false while the source sits in a cooldown window.
	Healthy bool
	// ConsecutiveFailures counts failures since the last success.
	ConsecutiveFailures int
	// CooldownUntil is when the source becomes eligible for a
	// readmission probe.
	CooldownUntil time.Time
}

// HealthRouterConfig configures a HealthRouter.
type HealthRouterConfig[T any] struct {
	// Clients is the full set of registered source clients.
	Clients []Client[T]
	// CooldownStep is the base cooldown after the first failure; the
	// window grows linearly with the consecutive failure count.
	CooldownStep time.Duration
	// CooldownMax caps the cooldown window.
	CooldownMax time.Duration
	// Clock is the time source.
	Clock clockwork.Clock
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *HealthRouterConfig[T]) CheckAndSetDefaults() error {
	if len(c.Clients) == 0 {
		return trace.BadParameter("health router config missing required parameter Clients")
	}
	seen := make(map[string]struct{}, len(c.Clients))
	for _, client := range c.Clients {
		if _, ok := seen[client.Name()]; ok {
			return trace.BadParameter("duplicate source client name %q", client.Name())
		}
		seen[client.Name()] = struct{}{}
	}
	if c.CooldownStep <= 0 {
		c.CooldownStep = defaults.SourceCooldownStep
	}
	if c.CooldownMax <= 0 {
		c.CooldownMax = defaults.SourceCooldownMax
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	return nil
}

// HealthRouter tracks per-source health and selects priority-ordered
// healthy candidates for each fetch. Each aggregator owns a separate
// instance; nothing else mutates its state.
type HealthRouter[T any] struct {
	cfg HealthRouterConfig[T]
	// clients sorted by descending priority, name ascending for
	// deterministic ordering between equal priorities
	clients []Client[T]

	mu     sync.Mutex
	health map[string]*SourceHealth
}

// NewHealthRouter creates a HealthRouter over the given clients.
func NewHealthRouter[T any](cfg HealthRouterConfig[T]) (*HealthRouter[T], error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	clients := slices.Clone(cfg.Clients)
	slices.SortFunc(clients, func(a, b Client[T]) int {
		if c := cmp.Compare(b.Priority(), a.Priority()); c != 0 {
			return c
		}
		return cmp.Compare(a.Name(), b.Name())
	})
	health := make(map[string]*SourceHealth, len(clients))
	for _, c := range clients {
		health[c.Name()] = &SourceHealth{Healthy: true}
	}
	return &HealthRouter[T]{cfg: cfg, clients: clients, health: health}, nil
}

// Candidates returns up to max currently healthy clients in descending
// priority order. A source whose cooldown has elapsed is probed with
// IsAvailable; success readmits it with a clean slate, failure extends
// its cooldown.
func (r *HealthRouter[T]) Candidates(ctx context.Context, max int) []Client[T] {
	if max <= 0 {
		max = len(r.clients)
	}
	now := r.cfg.Clock.Now()
	var out []Client[T]
	for _, client := range r.clients {
		if len(out) >= max {
			break
		}
		name := client.Name()

		r.mu.Lock()
		state := r.health[name]
		healthy := state.Healthy
		probeDue := !healthy && !now.Before(state.CooldownUntil)
		r.mu.Unlock()

		switch {
		case healthy:
			out = append(out, client)
		case probeDue:
			// probe outside the lock; availability checks can block
			if client.IsAvailable(ctx) {
				r.MarkSuccess(name)
				out = append(out, client)
			} else {
				r.MarkFailure(name)
			}
		}
	}
	return out
}

// MarkFailure records a failed attempt against the named source and
// extends its cooldown window in proportion to the consecutive failure
// count.
func (r *HealthRouter[T]) MarkFailure(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.health[name]
	if !ok {
		return
	}
	state.Healthy = false
	state.ConsecutiveFailures++
	cooldown := retryutils.Cooldown(r.cfg.CooldownStep, r.cfg.CooldownMax, state.ConsecutiveFailures)
	state.CooldownUntil = r.cfg.Clock.Now().Add(cooldown)
}

// MarkSuccess resets the named source's health entry.
func (r *HealthRouter[T]) MarkSuccess(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.health[name]
	if !ok {
		return
	}
	*state = SourceHealth{Healthy: true}
}

// Snapshot returns a copy of the health table, keyed by source name.
func (r *HealthRouter[T]) Snapshot() map[string]SourceHealth {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make(map[string]SourceHealth, len(r.health))
	for name, state := range r.health {
		out[name] = *state
	}
	return out
}
