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

package escrow

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/aircover-hq/aircover/api/types"
)

// fakeEscrowState tracks one escrow on the fake chain.
type fakeEscrowState struct {
	params   CreateEscrowParams
	released bool
	reason   string
}

// FakeChain is an in-memory ChainService. It backs tests and the
// fixture development mode: escrows are plain map entries, transaction
// hashes are deterministic digests of the call, and any operation can
// be rigged to fail.
type FakeChain struct {
	provider types.ChainProvider
	clock    clockwork.Clock

	mu      sync.Mutex
	escrows map[string]*fakeEscrowState
	txs     map[string]TxStatus
	seq     int

	// rigged failures, one-shot per call site
	createErr  error
	fulfillErr error
	releaseErr error
}

// NewFakeChain creates a fake chain answering for the given provider
// tag. A nil clock defaults to the wall clock.
func NewFakeChain(provider types.ChainProvider, clock clockwork.Clock) *FakeChain {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &FakeChain{
		provider: provider,
		clock:    clock,
		escrows:  make(map[string]*fakeEscrowState),
		txs:      make(map[string]TxStatus),
	}
}

// FailCreate rigs the next CreateEscrow calls to fail with err.
func (f *FakeChain) FailCreate(err error) { f.mu.Lock(); f.createErr = err; f.mu.Unlock() }

// FailFulfill rigs the next FulfillEscrow calls to fail with err.
func (f *FakeChain) FailFulfill(err error) { f.mu.Lock(); f.fulfillErr = err; f.mu.Unlock() }

// FailRelease rigs the next ReleaseEscrow calls to fail with err.
func (f *FakeChain) FailRelease(err error) { f.mu.Lock(); f.releaseErr = err; f.mu.Unlock() }

// Provider implements ChainService.
func (f *FakeChain) Provider() types.ChainProvider {
	return f.provider
}

// GenerateWallet implements ChainService with a sequence-derived
// address so tests get stable values.
func (f *FakeChain) GenerateWallet(ctx context.Context) (*Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seq++
	seed := fmt.Sprintf("%v-wallet-%d", f.provider, f.seq)
	sum := sha256.Sum256([]byte(seed))
	return &Wallet{
		Address: "0x" + hex.EncodeToString(sum[:20]),
		Secret:  sum[:],
	}, nil
}

// AccountInfo implements ChainService. Every address exists with a
// fixed balance.
func (f *FakeChain) AccountInfo(ctx context.Context, address string) (*AccountInfo, error) {
	if address == "" {
		return nil, trace.BadParameter("missing address")
	}
	return &AccountInfo{Address: address, Balance: "1000.00", Exists: true}, nil
}

// CreateEscrow implements ChainService.
func (f *FakeChain) CreateEscrow(ctx context.Context, params CreateEscrowParams, signer Signer) (*TxResult, error) {
	if err := params.Check(); err != nil {
		return nil, trace.Wrap(err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, trace.Wrap(f.createErr)
	}
	if _, ok := f.escrows[params.BlockchainID]; ok {
		return nil, trace.AlreadyExists("escrow %v already exists on %v", params.BlockchainID, f.provider)
	}
	f.escrows[params.BlockchainID] = &fakeEscrowState{params: params}
	return f.confirmTx("create", params.BlockchainID), nil
}

// FulfillEscrow implements ChainService.
func (f *FakeChain) FulfillEscrow(ctx context.Context, blockchainID string, signer Signer) (*TxResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fulfillErr != nil {
		return nil, trace.Wrap(f.fulfillErr)
	}
	state, ok := f.escrows[blockchainID]
	if !ok {
		return nil, trace.NotFound("escrow %v not found on %v", blockchainID, f.provider)
	}
	if state.released {
		return nil, trace.CompareFailed("escrow %v already settled", blockchainID)
	}
	state.released = true
	state.reason = "fulfilled"
	return f.confirmTx("fulfill", blockchainID), nil
}

// ReleaseEscrow implements ChainService.
func (f *FakeChain) ReleaseEscrow(ctx context.Context, blockchainID, reason string, signer Signer) (*TxResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.releaseErr != nil {
		return nil, trace.Wrap(f.releaseErr)
	}
	state, ok := f.escrows[blockchainID]
	if !ok {
		// the fixture mode creates escrows out of band, so a release
		// against an unseen ID settles it implicitly
		state = &fakeEscrowState{}
		f.escrows[blockchainID] = state
	}
	if state.released {
		return nil, trace.CompareFailed("escrow %v already settled", blockchainID)
	}
	state.released = true
	state.reason = reason
	return f.confirmTx("release", blockchainID), nil
}

// EscrowStatus implements ChainService with a static placeholder; the
// fake chain has no independent escrow state machine.
func (f *FakeChain) EscrowStatus(ctx context.Context, blockchainID string) (types.EscrowStatus, error) {
	return types.EscrowStatusPending, nil
}

// TransactionStatus implements ChainService.
func (f *FakeChain) TransactionStatus(ctx context.Context, txHash string) (TxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	status, ok := f.txs[txHash]
	if !ok {
		return "", trace.NotFound("transaction %v not found on %v", txHash, f.provider)
	}
	return status, nil
}

// Released reports whether the escrow has been settled and with what
// reason. Test helper.
func (f *FakeChain) Released(blockchainID string) (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	state, ok := f.escrows[blockchainID]
	if !ok {
		return false, ""
	}
	return state.released, state.reason
}

// confirmTx mints a deterministic hash and records it confirmed.
// Callers hold f.mu.
func (f *FakeChain) confirmTx(op, blockchainID string) *TxResult {
	f.seq++
	sum := sha256.Sum256([]byte(fmt.Sprintf("%v-%v-%v-%d", f.provider, op, blockchainID, f.seq)))
	hash := "0x" + hex.EncodeToString(sum[:])
	f.txs[hash] = TxStatusConfirmed
	return &TxResult{TxHash: hash, SubmittedAt: f.clock.Now().UTC()}
}

var _ ChainService = (*FakeChain)(nil)
