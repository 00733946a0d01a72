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

// Package payout is the batch payout engine. It takes triggered policy
// IDs, checks eligibility, releases the backing escrow on-chain, and
// records the outcome. ProcessTriggered never returns an error for a
// per-policy failure; every outcome lands in the returned summary so
// one bad policy cannot sink the batch.
package payout

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"

	"github.com/aircover-hq/aircover"
	"github.com/aircover-hq/aircover/api/types"
	"github.com/aircover-hq/aircover/lib/escrow"
	"github.com/aircover-hq/aircover/lib/secret"
	"github.com/aircover-hq/aircover/lib/storage"
	"github.com/aircover-hq/aircover/lib/utils/logutils"
)

// ResultStatus classifies one per-policy outcome.
type ResultStatus string

const (
	// ResultCompleted means funds were released and all rows moved.
	ResultCompleted ResultStatus = "COMPLETED"
	// ResultFailed means the attempt failed; the policy stays retryable.
	ResultFailed ResultStatus = "FAILED"
	// ResultIneligible means the policy was rejected before any chain
	// call (already claimed, no wallet, expired escrow, and so on).
	ResultIneligible ResultStatus = "INELIGIBLE"
)

// PolicyResult is the outcome for a single policy in a batch.
type PolicyResult struct {
	PolicyID string       `json:"policyId"`
	Status   ResultStatus `json:"status"`
	PayoutID string       `json:"payoutId,omitempty"`
	Amount   string       `json:"amount,omitempty"`
	TxHash   string       `json:"txHash,omitempty"`
	Error    string       `json:"error,omitempty"`
}

// Summary aggregates a batch run.
type Summary struct {
	ProcessedCount int            `json:"processedCount"`
	FailedCount    int            `json:"failedCount"`
	TotalAmount    string         `json:"totalAmount"`
	Results        []PolicyResult `json:"perPolicyResults"`
}

// Request is one batch of triggered policies.
type Request struct {
	// PolicyIDs are the policies to pay out.
	PolicyIDs []string `json:"policyIds"`
	// Reason is the human-readable trigger reason, recorded on every
	// payout row and passed to the chain release call.
	Reason string `json:"reason"`
	// RequestedBy identifies the caller (monitor, scheduled job,
	// operator) for the audit trail.
	RequestedBy string `json:"requestedBy,omitempty"`
}

// Config configures the payout engine.
type Config struct {
	// Storage is the persistence layer.
	Storage storage.Storage
	// Registry resolves chain services by provider tag.
	Registry *escrow.Registry
	// WalletKey unseals wallet signing material stored on wallet rows.
	// Optional; without it only address-keyed (custodial) wallets can
	// pay out.
	WalletKey secret.Key
	// Clock is the time source.
	Clock clockwork.Clock
	// Logger defaults to the package logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.Storage == nil {
		return trace.BadParameter("payout engine requires storage")
	}
	if c.Registry == nil {
		return trace.BadParameter("payout engine requires a chain registry")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = logutils.NewPackageLogger(aircover.ComponentPayout)
	}
	return nil
}

// Engine processes triggered payouts.
type Engine struct {
	cfg Config
}

// NewEngine creates a payout engine.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	if err := registerMetrics(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Engine{cfg: cfg}, nil
}

// ProcessTriggered runs the batch. The returned error covers only
// request-shape problems; per-policy failures are reported in the
// summary and leave the affected rows retry-safe.
func (e *Engine) ProcessTriggered(ctx context.Context, req Request) (*Summary, error) {
	if len(req.PolicyIDs) == 0 {
		return nil, trace.BadParameter("no policy ids to process")
	}
	if req.Reason == "" {
		return nil, trace.BadParameter("missing payout reason")
	}

	started := e.cfg.Clock.Now()
	summary := &Summary{Results: make([]PolicyResult, 0, len(req.PolicyIDs))}
	for _, policyID := range req.PolicyIDs {
		result := e.processOne(ctx, policyID, req)
		policyResults.WithLabelValues(string(result.Status)).Inc()
		if result.Status == ResultCompleted {
			summary.ProcessedCount++
			if summary.TotalAmount == "" {
				summary.TotalAmount = result.Amount
			} else if total, err := types.AddAmounts(summary.TotalAmount, result.Amount); err == nil {
				summary.TotalAmount = total
			}
		} else {
			summary.FailedCount++
		}
		summary.Results = append(summary.Results, result)
	}
	batchSeconds.Observe(e.cfg.Clock.Since(started).Seconds())
	e.cfg.Logger.InfoContext(ctx, "processed payout batch",
		"requested_by", req.RequestedBy,
		"policies", len(req.PolicyIDs),
		"completed", summary.ProcessedCount,
		"failed", summary.FailedCount,
		"total_amount", summary.TotalAmount,
	)
	return summary, nil
}

// processOne runs the per-policy pipeline: eligibility, escrow release,
// durable completion. Each step is durable before the next so a crash
// at any point leaves rows the next cycle can reason about.
func (e *Engine) processOne(ctx context.Context, policyID string, req Request) PolicyResult {
	policy, escrowRow, wallet, reject := e.checkEligibility(ctx, policyID)
	if reject != "" {
		e.cfg.Logger.InfoContext(ctx, "policy ineligible for payout",
			"policy", policyID, "reason", reject)
		return PolicyResult{PolicyID: policyID, Status: ResultIneligible, Error: reject}
	}
	signer, reject := e.signerFor(wallet)
	if reject != "" {
		e.cfg.Logger.InfoContext(ctx, "policy ineligible for payout",
			"policy", policyID, "reason", reject)
		return PolicyResult{PolicyID: policyID, Status: ResultIneligible, Error: reject}
	}

	record := &types.PayoutRecord{
		ID:       uuid.NewString(),
		PolicyID: policy.ID,
		EscrowID: escrowRow.ID,
		Amount:   policy.PayoutAmount,
		Status:   types.PayoutStatusProcessing,
		Reason:   req.Reason,
		Chain:    escrowRow.Chain,
		Metadata: map[string]any{
			"requestedBy": req.RequestedBy,
			"recipient":   wallet.Address,
		},
	}
	if err := e.cfg.Storage.CreatePayout(ctx, record); err != nil {
		return PolicyResult{
			PolicyID: policyID, Status: ResultFailed,
			Error: "failed to record payout attempt: " + err.Error(),
		}
	}

	service := e.cfg.Registry.ServiceFor(escrowRow.Chain)
	tx, err := service.ReleaseEscrow(ctx, escrowRow.BlockchainID, req.Reason, signer)
	if err != nil {
		e.cfg.Logger.WarnContext(ctx, "escrow release failed",
			"policy", policyID, "escrow", escrowRow.ID, "chain", escrowRow.Chain, "error", err)
		// best effort: a failure to record the failure is logged, the
		// rows stay untouched and the next cycle retries
		if recErr := e.cfg.Storage.RecordPayoutFailure(ctx, record.ID, err.Error()); recErr != nil {
			e.cfg.Logger.ErrorContext(ctx, "failed to record payout failure",
				"payout", record.ID, "error", recErr)
		}
		return PolicyResult{
			PolicyID: policyID, Status: ResultFailed, PayoutID: record.ID,
			Error: "escrow release failed: " + err.Error(),
		}
	}

	err = e.cfg.Storage.CompletePayoutTx(ctx, storage.CompletePayout{
		PayoutID:    record.ID,
		PolicyID:    policy.ID,
		EscrowID:    escrowRow.ID,
		TxHash:      tx.TxHash,
		ProcessedAt: e.cfg.Clock.Now().UTC(),
	})
	if err != nil {
		// funds moved but the rows did not; surface loudly, the tx
		// hash is in the log for manual reconciliation
		e.cfg.Logger.ErrorContext(ctx, "payout completed on-chain but could not be recorded",
			"policy", policyID, "payout", record.ID, "tx", tx.TxHash, "error", err)
		return PolicyResult{
			PolicyID: policyID, Status: ResultFailed, PayoutID: record.ID, TxHash: tx.TxHash,
			Error: "failed to finalize payout: " + err.Error(),
		}
	}

	e.cfg.Logger.InfoContext(ctx, "payout completed",
		"policy", policyID, "payout", record.ID, "amount", policy.PayoutAmount,
		"chain", escrowRow.Chain, "tx", tx.TxHash)
	return PolicyResult{
		PolicyID: policyID,
		Status:   ResultCompleted,
		PayoutID: record.ID,
		Amount:   policy.PayoutAmount,
		TxHash:   tx.TxHash,
	}
}

// checkEligibility loads the policy with its escrow and wallet and
// rejects with a specific reason before anything is written. A policy
// already CLAIMED by a previous run is rejected here, which is what
// makes retries idempotent.
func (e *Engine) checkEligibility(ctx context.Context, policyID string) (*types.Policy, *types.Escrow, *types.UserWallet, string) {
	policy, err := e.cfg.Storage.GetPolicy(ctx, policyID)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, nil, nil, "policy not found"
		}
		return nil, nil, nil, "failed to load policy: " + err.Error()
	}
	if policy.Status != types.PolicyStatusActive {
		return nil, nil, nil, "policy status is " + string(policy.Status) + ", not ACTIVE"
	}
	if _, err := types.ParseAmount(policy.PayoutAmount); err != nil {
		return nil, nil, nil, "invalid payout amount: " + err.Error()
	}

	escrowRow, err := e.cfg.Storage.GetEscrowByPolicy(ctx, policyID)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, nil, nil, "no escrow backs this policy"
		}
		return nil, nil, nil, "failed to load escrow: " + err.Error()
	}
	if escrowRow.Status.Terminal() {
		return nil, nil, nil, "escrow is already " + string(escrowRow.Status)
	}
	if escrowRow.Status != types.EscrowStatusActive && escrowRow.Status != types.EscrowStatusPending {
		return nil, nil, nil, "escrow status is " + string(escrowRow.Status)
	}
	if escrowRow.Expired(e.cfg.Clock.Now()) {
		return nil, nil, nil, "escrow has expired"
	}

	wallet, err := e.cfg.Storage.GetPrimaryWallet(ctx, policy.UserID, escrowRow.Chain)
	if err != nil {
		if trace.IsNotFound(err) {
			return nil, nil, nil, "no primary wallet for payout chain " + string(escrowRow.Chain)
		}
		return nil, nil, nil, "failed to load wallet: " + err.Error()
	}

	return policy, escrowRow, wallet, ""
}

// signerFor resolves the chain signer for a wallet. Wallet rows that
// carry sealed signing material are unsealed with the configured wallet
// key; the plaintext lives only in the Signer handed to the adapter.
func (e *Engine) signerFor(wallet *types.UserWallet) (escrow.Signer, string) {
	signer := escrow.Signer{Address: wallet.Address}
	if len(wallet.EncryptedSecret) == 0 {
		return signer, ""
	}
	if len(e.cfg.WalletKey) == 0 {
		return escrow.Signer{}, "wallet secret is sealed but no wallet encryption key is configured"
	}
	material, err := e.cfg.WalletKey.Open(wallet.EncryptedSecret)
	if err != nil {
		return escrow.Signer{}, "cannot unseal wallet secret: " + err.Error()
	}
	signer.Secret = material
	return signer, ""
}
