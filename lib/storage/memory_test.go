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
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/aircover-hq/aircover/api/types"
)

func testPolicy(id string, clock clockwork.Clock) *types.Policy {
	return &types.Policy{
		ID:           id,
		PolicyNumber: "POL-" + id,
		UserID:       "user-1",
		FlightID:     "flight-1",
		CoverageType: types.CoverageFlightDelay,
		PayoutAmount: "150.00",
		Premium:      "12.50",
		Status:       types.PolicyStatusActive,
		ExpiresAt:    clock.Now().Add(24 * time.Hour),
	}
}

func testEscrow(id, policyID string, clock clockwork.Clock) *types.Escrow {
	return &types.Escrow{
		ID:           id,
		BlockchainID: "bc-" + id,
		PolicyID:     policyID,
		Chain:        types.ChainPaygo,
		Status:       types.EscrowStatusActive,
		Amount:       "150.00",
		ExpiresAt:    clock.Now().Add(48 * time.Hour),
	}
}

func TestPolicyRoundTrip(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewMemory(clock)
	ctx := context.Background()

	want := testPolicy("p1", clock)
	want.Terms = types.PolicyTerms{DelayThresholdMinutes: 30}
	require.NoError(t, m.CreatePolicy(ctx, want))

	got, err := m.GetPolicy(ctx, "p1")
	require.NoError(t, err)
	require.Empty(t, cmp.Diff(want, got,
		cmpopts.IgnoreFields(types.Policy{}, "CreatedAt", "UpdatedAt")))
}

func TestPolicyStatusCAS(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewMemory(clock)
	ctx := context.Background()

	require.NoError(t, m.CreatePolicy(ctx, testPolicy("p1", clock)))

	// legal transition succeeds once
	require.NoError(t, m.UpdatePolicyStatus(ctx, "p1", types.PolicyStatusActive, types.PolicyStatusClaimed))

	// the same CAS again fails: the row is no longer ACTIVE
	err := m.UpdatePolicyStatus(ctx, "p1", types.PolicyStatusActive, types.PolicyStatusClaimed)
	require.True(t, trace.IsCompareFailed(err))

	// CLAIMED is terminal
	err = m.UpdatePolicyStatus(ctx, "p1", types.PolicyStatusClaimed, types.PolicyStatusExpired)
	require.True(t, trace.IsBadParameter(err))
}

func TestEscrowStatusLifecycle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewMemory(clock)
	ctx := context.Background()

	require.NoError(t, m.CreateEscrow(ctx, testEscrow("e1", "p1", clock)))
	require.NoError(t, m.UpdateEscrowStatus(ctx, "e1", types.EscrowStatusActive, types.EscrowStatusReleased))

	// RELEASED is terminal; no transition out
	err := m.UpdateEscrowStatus(ctx, "e1", types.EscrowStatusReleased, types.EscrowStatusCancelled)
	require.True(t, trace.IsBadParameter(err))

	// stale CAS on a moved row
	require.NoError(t, m.CreateEscrow(ctx, testEscrow("e2", "p2", clock)))
	require.NoError(t, m.UpdateEscrowStatus(ctx, "e2", types.EscrowStatusActive, types.EscrowStatusCancelled))
	err = m.UpdateEscrowStatus(ctx, "e2", types.EscrowStatusActive, types.EscrowStatusReleased)
	require.True(t, trace.IsCompareFailed(err))
}

func TestListActivePolicies(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewMemory(clock)
	ctx := context.Background()

	for i := range 5 {
		p := testPolicy(fmt.Sprintf("p%d", i), clock)
		p.CreatedAt = clock.Now().Add(time.Duration(i) * time.Minute)
		require.NoError(t, m.CreatePolicy(ctx, p))
	}
	// one expired, one claimed: neither should be listed
	expired := testPolicy("expired", clock)
	expired.ExpiresAt = clock.Now().Add(-time.Hour)
	require.NoError(t, m.CreatePolicy(ctx, expired))
	claimed := testPolicy("claimed", clock)
	require.NoError(t, m.CreatePolicy(ctx, claimed))
	require.NoError(t, m.UpdatePolicyStatus(ctx, "claimed", types.PolicyStatusActive, types.PolicyStatusClaimed))

	got, err := m.ListActivePolicies(ctx, clock.Now(), 3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	// oldest first
	require.Equal(t, "p0", got[0].ID)
	require.Equal(t, "p1", got[1].ID)
	require.Equal(t, "p2", got[2].ID)
}

func TestExpirePolicies(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewMemory(clock)
	ctx := context.Background()

	fresh := testPolicy("fresh", clock)
	stale := testPolicy("stale", clock)
	stale.ExpiresAt = clock.Now().Add(time.Minute)
	require.NoError(t, m.CreatePolicy(ctx, fresh))
	require.NoError(t, m.CreatePolicy(ctx, stale))

	clock.Advance(2 * time.Minute)
	n, err := m.ExpirePolicies(ctx, clock.Now())
	require.NoError(t, err)
	require.Equal(t, 1, n)

	got, err := m.GetPolicy(ctx, "stale")
	require.NoError(t, err)
	require.Equal(t, types.PolicyStatusExpired, got.Status)
	got, err = m.GetPolicy(ctx, "fresh")
	require.NoError(t, err)
	require.Equal(t, types.PolicyStatusActive, got.Status)
}

func TestCompletePayoutTx(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewMemory(clock)
	ctx := context.Background()

	require.NoError(t, m.CreatePolicy(ctx, testPolicy("p1", clock)))
	require.NoError(t, m.CreateEscrow(ctx, testEscrow("e1", "p1", clock)))
	require.NoError(t, m.CreatePayout(ctx, &types.PayoutRecord{
		ID:       "pay1",
		PolicyID: "p1",
		EscrowID: "e1",
		Amount:   "150.00",
		Status:   types.PayoutStatusProcessing,
	}))

	require.NoError(t, m.CompletePayoutTx(ctx, CompletePayout{
		PayoutID: "pay1",
		PolicyID: "p1",
		EscrowID: "e1",
		TxHash:   "0xabc",
	}))

	payout, err := m.GetPayout(ctx, "pay1")
	require.NoError(t, err)
	require.Equal(t, types.PayoutStatusCompleted, payout.Status)
	require.Equal(t, "0xabc", payout.TxHash)
	require.NotNil(t, payout.ProcessedAt)

	policy, err := m.GetPolicy(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, types.PolicyStatusClaimed, policy.Status)

	escrow, err := m.GetEscrow(ctx, "e1")
	require.NoError(t, err)
	require.Equal(t, types.EscrowStatusReleased, escrow.Status)

	// replaying the transaction is a no-op failure, not a double write
	err = m.CompletePayoutTx(ctx, CompletePayout{PayoutID: "pay1", PolicyID: "p1", EscrowID: "e1"})
	require.True(t, trace.IsCompareFailed(err))
}

func TestCompletePayoutTxAllOrNothing(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewMemory(clock)
	ctx := context.Background()

	// the policy has already been claimed elsewhere
	require.NoError(t, m.CreatePolicy(ctx, testPolicy("p1", clock)))
	require.NoError(t, m.UpdatePolicyStatus(ctx, "p1", types.PolicyStatusActive, types.PolicyStatusClaimed))
	require.NoError(t, m.CreateEscrow(ctx, testEscrow("e1", "p1", clock)))
	require.NoError(t, m.CreatePayout(ctx, &types.PayoutRecord{
		ID: "pay1", PolicyID: "p1", EscrowID: "e1", Amount: "150.00",
		Status: types.PayoutStatusProcessing,
	}))

	err := m.CompletePayoutTx(ctx, CompletePayout{PayoutID: "pay1", PolicyID: "p1", EscrowID: "e1"})
	require.True(t, trace.IsCompareFailed(err))

	// neither the payout nor the escrow moved
	payout, err := m.GetPayout(ctx, "pay1")
	require.NoError(t, err)
	require.Equal(t, types.PayoutStatusProcessing, payout.Status)
	escrow, err := m.GetEscrow(ctx, "e1")
	require.NoError(t, err)
	require.Equal(t, types.EscrowStatusActive, escrow.Status)
}

func TestRecordPayoutFailureLeavesPolicyAlone(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewMemory(clock)
	ctx := context.Background()

	require.NoError(t, m.CreatePolicy(ctx, testPolicy("p1", clock)))
	require.NoError(t, m.CreatePayout(ctx, &types.PayoutRecord{
		ID: "pay1", PolicyID: "p1", EscrowID: "e1", Amount: "150.00",
		Status: types.PayoutStatusProcessing,
	}))

	require.NoError(t, m.RecordPayoutFailure(ctx, "pay1", "chain unreachable"))

	payout, err := m.GetPayout(ctx, "pay1")
	require.NoError(t, err)
	require.Equal(t, types.PayoutStatusFailed, payout.Status)
	require.Equal(t, "chain unreachable", payout.ErrorMessage)

	policy, err := m.GetPolicy(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, types.PolicyStatusActive, policy.Status)
}

func TestGetPayoutByPolicyReturnsNewest(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewMemory(clock)
	ctx := context.Background()

	require.NoError(t, m.CreatePayout(ctx, &types.PayoutRecord{
		ID: "old", PolicyID: "p1", Amount: "1", Status: types.PayoutStatusFailed,
	}))
	clock.Advance(time.Minute)
	require.NoError(t, m.CreatePayout(ctx, &types.PayoutRecord{
		ID: "new", PolicyID: "p1", Amount: "1", Status: types.PayoutStatusCompleted,
	}))

	got, err := m.GetPayoutByPolicy(ctx, "p1")
	require.NoError(t, err)
	require.Equal(t, "new", got.ID)

	_, err = m.GetPayoutByPolicy(ctx, "other")
	require.True(t, trace.IsNotFound(err))
}

func TestPrimaryWalletLookup(t *testing.T) {
	clock := clockwork.NewFakeClock()
	m := NewMemory(clock)
	ctx := context.Background()

	require.NoError(t, m.UpsertWallet(ctx, &types.UserWallet{
		ID: "w1", UserID: "user-1", Chain: types.ChainPaygo, Address: "addr-1", IsPrimary: false,
	}))
	require.NoError(t, m.UpsertWallet(ctx, &types.UserWallet{
		ID: "w2", UserID: "user-1", Chain: types.ChainPaygo, Address: "addr-2", IsPrimary: true,
	}))

	got, err := m.GetPrimaryWallet(ctx, "user-1", types.ChainPaygo)
	require.NoError(t, err)
	require.Equal(t, "addr-2", got.Address)

	_, err = m.GetPrimaryWallet(ctx, "user-1", types.ChainEthereum)
	require.True(t, trace.IsNotFound(err))
}
