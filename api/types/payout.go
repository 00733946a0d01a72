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

// PayoutStatus is the state of one payout attempt.
type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "PENDING"
	PayoutStatusProcessing PayoutStatus = "PROCESSING"
	PayoutStatusCompleted  PayoutStatus = "COMPLETED"
	PayoutStatusFailed     PayoutStatus = "FAILED"
	PayoutStatusCancelled  PayoutStatus = "CANCELLED"
)

// PayoutRecord is the durable record of one payout attempt against one
// policy. The payout engine is the sole writer.
type PayoutRecord struct {
	ID           string         `json:"payoutId"`
	PolicyID     string         `json:"policyId"`
	EscrowID     string         `json:"escrowId"`
	Amount       string         `json:"amount"`
	Status       PayoutStatus   `json:"status"`
	Reason       string         `json:"reason,omitempty"`
	TxHash       string         `json:"txHash,omitempty"`
	ErrorMessage string         `json:"errorMessage,omitempty"`
	Chain        ChainProvider  `json:"chain,omitempty"`
	Metadata     map[string]any `json:"metadata,omitempty"`
	ProcessedAt  *time.Time     `json:"processedAt,omitempty"`
	CreatedAt    time.Time      `json:"createdAt"`
	UpdatedAt    time.Time      `json:"updatedAt"`
}

// UserWallet is a user's on-chain wallet row. EncryptedSecret, when
// present, is a lib/secret sealed blob; the plaintext never touches
// persistence.
type UserWallet struct {
	ID              string        `json:"id"`
	UserID          string        `json:"userId"`
	Address         string        `json:"address"`
	Chain           ChainProvider `json:"chain"`
	WalletType      string        `json:"walletType,omitempty"`
	EncryptedSecret []byte        `json:"encryptedSecret,omitempty"`
	KMSKeyID        string        `json:"kmsKeyId,omitempty"`
	IsPrimary       bool          `json:"isPrimary"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}
