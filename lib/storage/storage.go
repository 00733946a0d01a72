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

// Package storage defines the persistence contract for policies,
// insured flights, escrows, payouts and wallets. lib/storage/pgstore
// implements it on PostgreSQL; the in-package memory store backs tests
// and the fixture-driven development mode.
//
// Status mutations are compare-and-swap on the expected current status
// and return trace.CompareFailed when the row moved underneath the
// caller, which is what makes the payout path idempotent under
// concurrent monitors.
package storage

import (
	"context"
	"time"

	"github.com/aircover-hq/aircover/api/types"
)

// CompletePayout captures the one multi-row transaction in the system:
// marking a payout completed, its policy claimed and its escrow
// released, all or nothing.
type CompletePayout struct {
	// PayoutID is the payout row to complete.
	PayoutID string
	// PolicyID moves ACTIVE → CLAIMED.
	PolicyID string
	// EscrowID moves to RELEASED.
	EscrowID string
	// TxHash is the on-chain release transaction hash.
	TxHash string
	// ProcessedAt stamps the payout row.
	ProcessedAt time.Time
}

// Policies is the policy persistence surface.
type Policies interface {
	// CreatePolicy inserts a policy row.
	CreatePolicy(ctx context.Context, policy *types.Policy) error
	// GetPolicy returns the policy or trace.NotFound.
	GetPolicy(ctx context.Context, id string) (*types.Policy, error)
	// ListActivePolicies returns up to limit ACTIVE policies that have
	// not expired at now, oldest first.
	ListActivePolicies(ctx context.Context, now time.Time, limit int) ([]types.Policy, error)
	// UpdatePolicyStatus moves the policy from the expected status to
	// next; trace.CompareFailed when the row is not in the expected
	// status.
	UpdatePolicyStatus(ctx context.Context, id string, expected, next types.PolicyStatus) error
	// ExpirePolicies moves every ACTIVE or PENDING policy whose
	// expiresAt has passed to EXPIRED and returns how many rows moved.
	ExpirePolicies(ctx context.Context, now time.Time) (int, error)
}

// Flights is the insured-flight persistence surface.
type Flights interface {
	// CreateFlight inserts an insured flight row.
	CreateFlight(ctx context.Context, flight *types.InsuredFlight) error
	// GetFlight returns the insured flight or trace.NotFound.
	GetFlight(ctx context.Context, id string) (*types.InsuredFlight, error)
}

// Escrows is the escrow persistence surface.
type Escrows interface {
	// CreateEscrow inserts an escrow row.
	CreateEscrow(ctx context.Context, escrow *types.Escrow) error
	// GetEscrow returns the escrow or trace.NotFound.
	GetEscrow(ctx context.Context, id string) (*types.Escrow, error)
	// GetEscrowByPolicy returns the escrow backing the policy or
	// trace.NotFound.
	GetEscrowByPolicy(ctx context.Context, policyID string) (*types.Escrow, error)
	// UpdateEscrowStatus moves the escrow from the expected status to
	// next; trace.CompareFailed when the row is not in the expected
	// status.
	UpdateEscrowStatus(ctx context.Context, id string, expected, next types.EscrowStatus) error
}

// Payouts is the payout persistence surface. The payout engine is the
// sole writer.
type Payouts interface {
	// CreatePayout inserts a payout row.
	CreatePayout(ctx context.Context, payout *types.PayoutRecord) error
	// GetPayout returns the payout or trace.NotFound.
	GetPayout(ctx context.Context, id string) (*types.PayoutRecord, error)
	// GetPayoutByPolicy returns the most recent payout row for the
	// policy or trace.NotFound.
	GetPayoutByPolicy(ctx context.Context, policyID string) (*types.PayoutRecord, error)
	// CompletePayoutTx atomically marks the payout COMPLETED, the
	// policy CLAIMED and the escrow RELEASED. trace.CompareFailed when
	// any of the three rows is not in the required state; nothing is
	// written in that case.
	CompletePayoutTx(ctx context.Context, params CompletePayout) error
	// RecordPayoutFailure marks the payout FAILED with the error
	// message. It touches no other row: policy and escrow state are
	// unchanged by a failed attempt.
	RecordPayoutFailure(ctx context.Context, payoutID, errorMessage string) error
}

// Wallets is the user wallet persistence surface.
type Wallets interface {
	// UpsertWallet inserts or replaces a wallet row by ID.
	UpsertWallet(ctx context.Context, wallet *types.UserWallet) error
	// GetPrimaryWallet returns the user's primary wallet for the chain
	// or trace.NotFound.
	GetPrimaryWallet(ctx context.Context, userID string, chain types.ChainProvider) (*types.UserWallet, error)
}

// Storage is the full persistence contract.
type Storage interface {
	Policies
	Flights
	Escrows
	Payouts
	Wallets

	// Close releases the underlying resources.
	Close()
}
