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

package storage

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/aircover-hq/aircover/api/types"
)

// Memory is an in-process Storage implementation with the same
// compare-and-swap semantics as the PostgreSQL store. It backs tests
// and the fixture development mode.
type Memory struct {
	clock clockwork.Clock

	mu       sync.RWMutex
	policies map[string]types.Policy
	flights  map[string]types.InsuredFlight
	escrows  map[string]types.Escrow
	payouts  map[string]types.PayoutRecord
	wallets  map[string]types.UserWallet
}

// NewMemory creates an empty memory store.
func NewMemory(clock clockwork.Clock) *Memory {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &Memory{
		clock:    clock,
		policies: make(map[string]types.Policy),
		flights:  make(map[string]types.InsuredFlight),
		escrows:  make(map[string]types.Escrow),
		payouts:  make(map[string]types.PayoutRecord),
		wallets:  make(map[string]types.UserWallet),
	}
}

// Close implements Storage.
func (m *Memory) Close() {}

func (m *Memory) CreatePolicy(ctx context.Context, policy *types.Policy) error {
	if err := policy.Check(); err != nil {
		return trace.Wrap(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.policies[policy.ID]; ok {
		return trace.AlreadyExists("policy %v already exists", policy.ID)
	}
	p := *policy
	now := m.clock.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	m.policies[p.ID] = p
	return nil
}

func (m *Memory) GetPolicy(ctx context.Context, id string) (*types.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[id]
	if !ok {
		return nil, trace.NotFound("policy %v not found", id)
	}
	return &p, nil
}

func (m *Memory) ListActivePolicies(ctx context.Context, now time.Time, limit int) ([]types.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []types.Policy
	for _, p := range m.policies {
		if p.Status == types.PolicyStatusActive && p.ExpiresAt.After(now) {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b types.Policy) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) UpdatePolicyStatus(ctx context.Context, id string, expected, next types.PolicyStatus) error {
	if !expected.CanTransitionTo(next) {
		return trace.BadParameter("policy status %v cannot transition to %v", expected, next)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.policies[id]
	if !ok {
		return trace.NotFound("policy %v not found", id)
	}
	if p.Status != expected {
		return trace.CompareFailed("policy %v is %v, not %v", id, p.Status, expected)
	}
	p.Status = next
	p.UpdatedAt = m.clock.Now().UTC()
	m.policies[id] = p
	return nil
}

func (m *Memory) ExpirePolicies(ctx context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	expired := 0
	for id, p := range m.policies {
		eligible := p.Status == types.PolicyStatusActive || p.Status == types.PolicyStatusPending
		if eligible && !p.ExpiresAt.IsZero() && !p.ExpiresAt.After(now) {
			p.Status = types.PolicyStatusExpired
			p.UpdatedAt = m.clock.Now().UTC()
			m.policies[id] = p
			expired++
		}
	}
	return expired, nil
}

func (m *Memory) CreateFlight(ctx context.Context, flight *types.InsuredFlight) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.flights[flight.ID]; ok {
		return trace.AlreadyExists("flight %v already exists", flight.ID)
	}
	m.flights[flight.ID] = *flight
	return nil
}

func (m *Memory) GetFlight(ctx context.Context, id string) (*types.InsuredFlight, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.flights[id]
	if !ok {
		return nil, trace.NotFound("flight %v not found", id)
	}
	return &f, nil
}

func (m *Memory) CreateEscrow(ctx context.Context, escrow *types.Escrow) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.escrows[escrow.ID]; ok {
		return trace.AlreadyExists("escrow %v already exists", escrow.ID)
	}
	e := *escrow
	now := m.clock.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	m.escrows[e.ID] = e
	return nil
}

func (m *Memory) GetEscrow(ctx context.Context, id string) (*types.Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.escrows[id]
	if !ok {
		return nil, trace.NotFound("escrow %v not found", id)
	}
	return &e, nil
}

func (m *Memory) GetEscrowByPolicy(ctx context.Context, policyID string) (*types.Escrow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var newest *types.Escrow
	for _, e := range m.escrows {
		if e.PolicyID != policyID {
			continue
		}
		if newest == nil || e.CreatedAt.After(newest.CreatedAt) {
			e := e
			newest = &e
		}
	}
	if newest == nil {
		return nil, trace.NotFound("no escrow for policy %v", policyID)
	}
	return newest, nil
}

func (m *Memory) UpdateEscrowStatus(ctx context.Context, id string, expected, next types.EscrowStatus) error {
	if !expected.CanTransitionTo(next) {
		return trace.BadParameter("escrow status %v cannot transition to %v", expected, next)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.escrows[id]
	if !ok {
		return trace.NotFound("escrow %v not found", id)
	}
	if e.Status != expected {
		return trace.CompareFailed("escrow %v is %v, not %v", id, e.Status, expected)
	}
	e.Status = next
	e.UpdatedAt = m.clock.Now().UTC()
	m.escrows[id] = e
	return nil
}

func (m *Memory) CreatePayout(ctx context.Context, payout *types.PayoutRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.payouts[payout.ID]; ok {
		return trace.AlreadyExists("payout %v already exists", payout.ID)
	}
	p := *payout
	now := m.clock.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	m.payouts[p.ID] = p
	return nil
}

func (m *Memory) GetPayout(ctx context.Context, id string) (*types.PayoutRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.payouts[id]
	if !ok {
		return nil, trace.NotFound("payout %v not found", id)
	}
	return &p, nil
}

func (m *Memory) GetPayoutByPolicy(ctx context.Context, policyID string) (*types.PayoutRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var newest *types.PayoutRecord
	for _, p := range m.payouts {
		if p.PolicyID != policyID {
			continue
		}
		if newest == nil || p.CreatedAt.After(newest.CreatedAt) {
			p := p
			newest = &p
		}
	}
	if newest == nil {
		return nil, trace.NotFound("no payout for policy %v", policyID)
	}
	return newest, nil
}

func (m *Memory) CompletePayoutTx(ctx context.Context, params CompletePayout) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	payout, ok := m.payouts[params.PayoutID]
	if !ok {
		return trace.NotFound("payout %v not found", params.PayoutID)
	}
	policy, ok := m.policies[params.PolicyID]
	if !ok {
		return trace.NotFound("policy %v not found", params.PolicyID)
	}
	escrow, ok := m.escrows[params.EscrowID]
	if !ok {
		return trace.NotFound("escrow %v not found", params.EscrowID)
	}

	// verify every precondition before writing anything
	if payout.Status != types.PayoutStatusProcessing && payout.Status != types.PayoutStatusPending {
		return trace.CompareFailed("payout %v is %v, not in progress", payout.ID, payout.Status)
	}
	if policy.Status != types.PolicyStatusActive {
		return trace.CompareFailed("policy %v is %v, not %v", policy.ID, policy.Status, types.PolicyStatusActive)
	}
	if escrow.Status.Terminal() {
		return trace.CompareFailed("escrow %v is already %v", escrow.ID, escrow.Status)
	}

	now := m.clock.Now().UTC()
	processedAt := params.ProcessedAt
	if processedAt.IsZero() {
		processedAt = now
	}

	payout.Status = types.PayoutStatusCompleted
	payout.TxHash = params.TxHash
	payout.ProcessedAt = &processedAt
	payout.UpdatedAt = now
	m.payouts[payout.ID] = payout

	policy.Status = types.PolicyStatusClaimed
	policy.UpdatedAt = now
	m.policies[policy.ID] = policy

	escrow.Status = types.EscrowStatusReleased
	escrow.UpdatedAt = now
	m.escrows[escrow.ID] = escrow
	return nil
}

func (m *Memory) RecordPayoutFailure(ctx context.Context, payoutID, errorMessage string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.payouts[payoutID]
	if !ok {
		return trace.NotFound("payout %v not found", payoutID)
	}
	p.Status = types.PayoutStatusFailed
	p.ErrorMessage = errorMessage
	p.UpdatedAt = m.clock.Now().UTC()
	m.payouts[payoutID] = p
	return nil
}

func (m *Memory) UpsertWallet(ctx context.Context, wallet *types.UserWallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := *wallet
	w.UpdatedAt = m.clock.Now().UTC()
	if w.CreatedAt.IsZero() {
		w.CreatedAt = w.UpdatedAt
	}
	m.wallets[w.ID] = w
	return nil
}

func (m *Memory) GetPrimaryWallet(ctx context.Context, userID string, chain types.ChainProvider) (*types.UserWallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, w := range m.wallets {
		if w.UserID == userID && w.Chain == chain && w.IsPrimary {
			return &w, nil
		}
	}
	return nil, trace.NotFound("no primary %v wallet for user %v", chain, userID)
}

var _ Storage = (*Memory)(nil)
