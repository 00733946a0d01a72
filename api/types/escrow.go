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

package types

import (
	"time"
)

// ChainProvider tags which blockchain adapter an escrow lives on. The
// set is closed; unknown tags resolve to the registry's primary
// provider at call time.
type ChainProvider string

const (
	ChainPaygo    ChainProvider = "PAYGO"
	ChainEthereum ChainProvider = "ETHEREUM"
	ChainBase     ChainProvider = "BASE"
	ChainSolana   ChainProvider = "SOLANA"
)

// Valid reports whether p is a member of the configured closed set.
func (p ChainProvider) Valid() bool {
	switch p {
	case ChainPaygo, ChainEthereum, ChainBase, ChainSolana:
		return true
	}
	return false
}

// EscrowStatus is the lifecycle state of an escrow. FULFILLED and
// RELEASED are terminal; transitions are one-way.
type EscrowStatus string

const (
	EscrowStatusPending   EscrowStatus = "PENDING"
	EscrowStatusActive    EscrowStatus = "ACTIVE"
	EscrowStatusFulfilled EscrowStatus = "FULFILLED"
	EscrowStatusReleased  EscrowStatus = "RELEASED"
	EscrowStatusExpired   EscrowStatus = "EXPIRED"
	EscrowStatusCancelled EscrowStatus = "CANCELLED"
)

// Terminal reports whether s permits no further transitions.
func (s EscrowStatus) Terminal() bool {
	return s == EscrowStatusFulfilled || s == EscrowStatusReleased
}

// CanTransitionTo reports whether moving from s to next is legal.
func (s EscrowStatus) CanTransitionTo(next EscrowStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case EscrowStatusPending:
		return next == EscrowStatusActive || next == EscrowStatusFulfilled ||
			next == EscrowStatusReleased || next == EscrowStatusExpired ||
			next == EscrowStatusCancelled
	case EscrowStatusActive:
		return next == EscrowStatusFulfilled || next == EscrowStatusReleased ||
			next == EscrowStatusExpired || next == EscrowStatusCancelled
	}
	return false
}

// Escrow is a locked-funds row. InternalID (the row ID) is structured
// and human-auditable; BlockchainID is the content-derived hash used
// on-chain.
type Escrow struct {
	ID           string        `json:"internalId"`
	BlockchainID string        `json:"blockchainId"`
	PolicyID     string        `json:"policyId,omitempty"`
	UserID       string        `json:"userId,omitempty"`
	Chain        ChainProvider `json:"chain"`
	EscrowModel  string        `json:"escrowModel,omitempty"`
	Status       EscrowStatus  `json:"status"`
	Amount       string        `json:"amount"`
	ExpiresAt    time.Time     `json:"expiresAt"`
	CreatedAt    time.Time     `json:"createdAt"`
	UpdatedAt    time.Time     `json:"updatedAt"`
}

// Expired reports whether the escrow's expiry has passed at now.
func (e *Escrow) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}
