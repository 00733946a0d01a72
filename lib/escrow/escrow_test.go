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
	"testing"
	"time"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/aircover-hq/aircover/api/types"
)

func TestRegistrySelectsByTag(t *testing.T) {
	paygo := NewFakeChain(types.ChainPaygo, nil)
	base := NewFakeChain(types.ChainBase, nil)

	registry, err := NewRegistry(paygo, base)
	require.NoError(t, err)

	require.Same(t, ChainService(paygo), registry.ServiceFor(types.ChainPaygo))
	require.Same(t, ChainService(base), registry.ServiceFor(types.ChainBase))
}

func TestRegistryUnknownTagFallsBackToPrimary(t *testing.T) {
	paygo := NewFakeChain(types.ChainPaygo, nil)
	registry, err := NewRegistry(paygo)
	require.NoError(t, err)

	// registered set does not include SOLANA, and "polygon" is not
	// even a member of the closed provider set
	require.Same(t, ChainService(paygo), registry.ServiceFor(types.ChainSolana))
	require.Same(t, ChainService(paygo), registry.ServiceFor(types.ChainProvider("polygon")))
	require.Same(t, ChainService(paygo), registry.Primary())
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(NewFakeChain(types.ChainPaygo, nil), NewFakeChain(types.ChainPaygo, nil))
	require.True(t, trace.IsAlreadyExists(err))

	_, err = NewRegistry(nil)
	require.True(t, trace.IsBadParameter(err))
}

func TestFakeChainEscrowLifecycle(t *testing.T) {
	clock := clockwork.NewFakeClock()
	chain := NewFakeChain(types.ChainPaygo, clock)
	ctx := context.Background()

	created, err := chain.CreateEscrow(ctx, CreateEscrowParams{
		BlockchainID: "bc-1",
		Amount:       "150.00",
		Recipient:    "0xrecipient",
		ExpiresAt:    clock.Now().Add(time.Hour),
	}, Signer{Address: "0xsigner"})
	require.NoError(t, err)
	require.NotEmpty(t, created.TxHash)

	status, err := chain.TransactionStatus(ctx, created.TxHash)
	require.NoError(t, err)
	require.Equal(t, TxStatusConfirmed, status)

	released, err := chain.ReleaseEscrow(ctx, "bc-1", "flight delayed", Signer{})
	require.NoError(t, err)
	require.NotEqual(t, created.TxHash, released.TxHash)

	settled, reason := chain.Released("bc-1")
	require.True(t, settled)
	require.Equal(t, "flight delayed", reason)

	// a settled escrow cannot be released or fulfilled again
	_, err = chain.ReleaseEscrow(ctx, "bc-1", "again", Signer{})
	require.True(t, trace.IsCompareFailed(err))
	_, err = chain.FulfillEscrow(ctx, "bc-1", Signer{})
	require.True(t, trace.IsCompareFailed(err))
}

func TestFakeChainRiggedFailure(t *testing.T) {
	chain := NewFakeChain(types.ChainPaygo, nil)
	chain.FailRelease(trace.ConnectionProblem(nil, "rpc node unreachable"))

	_, err := chain.ReleaseEscrow(context.Background(), "bc-1", "reason", Signer{})
	require.True(t, trace.IsConnectionProblem(err))

	// clearing the rigged failure restores normal behavior
	chain.FailRelease(nil)
	_, err = chain.ReleaseEscrow(context.Background(), "bc-1", "reason", Signer{})
	require.NoError(t, err)
}

func TestFakeChainWalletsAreDistinct(t *testing.T) {
	chain := NewFakeChain(types.ChainPaygo, nil)
	ctx := context.Background()

	w1, err := chain.GenerateWallet(ctx)
	require.NoError(t, err)
	w2, err := chain.GenerateWallet(ctx)
	require.NoError(t, err)
	require.NotEqual(t, w1.Address, w2.Address)

	info, err := chain.AccountInfo(ctx, w1.Address)
	require.NoError(t, err)
	require.True(t, info.Exists)
}
