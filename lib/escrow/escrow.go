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

// Package escrow defines the blockchain-agnostic escrow contract and
// the per-chain service registry. The payout engine depends only on
// this package; concrete chain adapters plug in behind ChainService.
package escrow

import (
	"context"
	"time"

	"github.com/gravitational/trace"

	"github.com/aircover-hq/aircover/api/types"
)

// Wallet is a freshly generated on-chain wallet. Secret is the raw
// signing material; callers seal it with lib/secret before it touches
// persistence.
type Wallet struct {
	Address string
	Secret  []byte
}

// AccountInfo is a point-in-time view of an on-chain account.
type AccountInfo struct {
	Address string
	Balance string
	Exists  bool
}

// TxStatus is the confirmation state of a submitted transaction.
type TxStatus string

const (
	TxStatusPending   TxStatus = "PENDING"
	TxStatusConfirmed TxStatus = "CONFIRMED"
	TxStatusFailed    TxStatus = "FAILED"
)

// CreateEscrowParams describes the escrow to lock on-chain. The
// blockchain ID is minted by the caller (see escrowid.BlockchainID) so
// the internal row and the chain agree before any funds move.
type CreateEscrowParams struct {
	BlockchainID string
	Amount       string
	Recipient    string
	ExpiresAt    time.Time
}

// Check validates the parameters.
func (p *CreateEscrowParams) Check() error {
	if p.BlockchainID == "" {
		return trace.BadParameter("missing blockchain escrow id")
	}
	if p.Amount == "" {
		return trace.BadParameter("missing escrow amount")
	}
	return nil
}

// TxResult is the outcome of a state-changing chain call.
type TxResult struct {
	TxHash      string
	SubmittedAt time.Time
}

// Signer identifies the key used to sign a chain call. Custodial
// adapters resolve key material from the address alone; self-custody
// adapters need Secret, the raw signing material unsealed from the
// wallet row just for the duration of the call.
type Signer struct {
	Address string
	Secret  []byte
}

// ChainService is the capability contract one blockchain adapter
// implements. All calls accept a context and are abortable; errors are
// returned, never panicked.
type ChainService interface {
	// Provider returns the chain tag this service answers for.
	Provider() types.ChainProvider
	// GenerateWallet mints a new wallet on this chain.
	GenerateWallet(ctx context.Context) (*Wallet, error)
	// AccountInfo looks up an account by address.
	AccountInfo(ctx context.Context, address string) (*AccountInfo, error)
	// CreateEscrow locks funds under the given blockchain ID.
	CreateEscrow(ctx context.Context, params CreateEscrowParams, signer Signer) (*TxResult, error)
	// FulfillEscrow marks the escrow condition met, paying the recipient.
	FulfillEscrow(ctx context.Context, blockchainID string, signer Signer) (*TxResult, error)
	// ReleaseEscrow releases the locked funds with an audit reason.
	ReleaseEscrow(ctx context.Context, blockchainID, reason string, signer Signer) (*TxResult, error)
	// EscrowStatus reports the on-chain state of an escrow. Chains
	// without a native query return a placeholder; the payout engine
	// trusts the database rows, not this.
	EscrowStatus(ctx context.Context, blockchainID string) (types.EscrowStatus, error)
	// TransactionStatus reports the confirmation state of a hash.
	TransactionStatus(ctx context.Context, txHash string) (TxStatus, error)
}

// Registry selects a ChainService by provider tag. The tag set is
// closed; unknown or unregistered tags fall back to the primary
// provider so a mis-tagged row degrades to the default chain instead
// of failing.
type Registry struct {
	primary  ChainService
	services map[types.ChainProvider]ChainService
}

// NewRegistry builds a registry around a required primary service and
// any number of additional per-chain services.
func NewRegistry(primary ChainService, others ...ChainService) (*Registry, error) {
	if primary == nil {
		return nil, trace.BadParameter("missing primary chain service")
	}
	r := &Registry{
		primary:  primary,
		services: map[types.ChainProvider]ChainService{primary.Provider(): primary},
	}
	for _, svc := range others {
		if _, ok := r.services[svc.Provider()]; ok {
			return nil, trace.AlreadyExists("chain service %v registered twice", svc.Provider())
		}
		r.services[svc.Provider()] = svc
	}
	return r, nil
}

// ServiceFor returns the service registered for the chain tag, or the
// primary service when the tag is unknown or unregistered.
func (r *Registry) ServiceFor(chain types.ChainProvider) ChainService {
	if svc, ok := r.services[chain]; ok {
		return svc
	}
	return r.primary
}

// Primary returns the default chain service.
func (r *Registry) Primary() ChainService {
	return r.primary
}

// Providers lists the registered chain tags.
func (r *Registry) Providers() []types.ChainProvider {
	out := make([]types.ChainProvider, 0, len(r.services))
	for chain := range r.services {
		out = append(out, chain)
	}
	return out
}
