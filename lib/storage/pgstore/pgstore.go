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

// Package pgstore implements the storage contract on PostgreSQL via
// pgx. Schema setup is idempotent and runs at connect time; status
// mutations are single-statement compare-and-swap updates so concurrent
// monitors cannot double-apply a transition.
package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/gravitational/trace"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jonboulle/clockwork"

	"github.com/aircover-hq/aircover"
	"github.com/aircover-hq/aircover/api/types"
	"github.com/aircover-hq/aircover/lib/storage"
	"github.com/aircover-hq/aircover/lib/utils/logutils"
)

const schema = `
CREATE TABLE IF NOT EXISTS insured_flights (
	id TEXT PRIMARY KEY,
	flight_number TEXT NOT NULL,
	scheduled_departure TIMESTAMPTZ NOT NULL,
	origin_iata TEXT NOT NULL,
	destination_iata TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS policies (
	id TEXT PRIMARY KEY,
	policy_number TEXT NOT NULL,
	user_id TEXT,
	anonymous_session_id TEXT,
	provider_id TEXT,
	flight_id TEXT NOT NULL,
	coverage_type TEXT NOT NULL,
	coverage_amount TEXT NOT NULL DEFAULT '',
	premium TEXT NOT NULL DEFAULT '',
	payout_amount TEXT NOT NULL,
	status TEXT NOT NULL,
	expires_at TIMESTAMPTZ NOT NULL,
	terms JSONB NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS policies_active_idx ON policies (status, expires_at);
CREATE TABLE IF NOT EXISTS escrows (
	id TEXT PRIMARY KEY,
	blockchain_id TEXT NOT NULL,
	policy_id TEXT,
	user_id TEXT,
	chain TEXT NOT NULL,
	escrow_model TEXT,
	status TEXT NOT NULL,
	amount TEXT NOT NULL,
	expires_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS escrows_policy_idx ON escrows (policy_id, created_at DESC);
CREATE TABLE IF NOT EXISTS payouts (
	id TEXT PRIMARY KEY,
	policy_id TEXT NOT NULL,
	escrow_id TEXT NOT NULL,
	amount TEXT NOT NULL,
	status TEXT NOT NULL,
	reason TEXT,
	tx_hash TEXT,
	error_message TEXT,
	chain TEXT,
	metadata JSONB NOT NULL DEFAULT '{}',
	processed_at TIMESTAMPTZ,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS payouts_policy_idx ON payouts (policy_id, created_at DESC);
CREATE TABLE IF NOT EXISTS user_wallets (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL,
	address TEXT NOT NULL,
	chain TEXT NOT NULL,
	wallet_type TEXT,
	encrypted_secret BYTEA,
	kms_key_id TEXT,
	is_primary BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS user_wallets_primary_idx ON user_wallets (user_id, chain) WHERE is_primary;
`

// Config configures the PostgreSQL store.
type Config struct {
	// ConnString is a pgx connection string or URL.
	ConnString string
	// Clock is the time source.
	Clock clockwork.Clock
	// Logger defaults to the storage package logger.
	Logger *slog.Logger
}

// CheckAndSetDefaults validates the config and fills in defaults.
func (c *Config) CheckAndSetDefaults() error {
	if c.ConnString == "" {
		return trace.BadParameter("pgstore config missing required parameter ConnString")
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Logger == nil {
		c.Logger = logutils.NewPackageLogger(aircover.ComponentStorage)
	}
	return nil
}

// Store is the PostgreSQL storage implementation.
type Store struct {
	cfg  Config
	pool *pgxpool.Pool
}

// New connects, applies the schema, and returns a Store.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if err := cfg.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.ConnString)
	if err != nil {
		return nil, trace.Wrap(err, "parsing connection string")
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, trace.Wrap(err, "creating connection pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, trace.ConnectionProblem(err, "connecting to database")
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, trace.Wrap(err, "applying schema")
	}
	cfg.Logger.InfoContext(ctx, "Connected to PostgreSQL storage.")
	return &Store{cfg: cfg, pool: pool}, nil
}

// Close implements storage.Storage.
func (s *Store) Close() {
	s.pool.Close()
}

func (s *Store) now() time.Time { return s.cfg.Clock.Now().UTC() }

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

func (s *Store) CreatePolicy(ctx context.Context, policy *types.Policy) error {
	if err := policy.Check(); err != nil {
		return trace.Wrap(err)
	}
	now := s.now()
	createdAt := policy.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	terms, err := json.Marshal(policy.Terms)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO policies (id, policy_number, user_id, anonymous_session_id, provider_id,
			flight_id, coverage_type, coverage_amount, premium, payout_amount,
			status, expires_at, terms, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		policy.ID, policy.PolicyNumber, policy.UserID, policy.AnonymousSessionID, policy.ProviderID,
		policy.FlightID, policy.CoverageType, policy.CoverageAmount, policy.Premium, policy.PayoutAmount,
		policy.Status, policy.ExpiresAt, terms, createdAt, now)
	if isUniqueViolation(err) {
		return trace.AlreadyExists("policy %v already exists", policy.ID)
	}
	return trace.Wrap(err)
}

func scanPolicy(row pgx.Row) (*types.Policy, error) {
	var p types.Policy
	var terms []byte
	err := row.Scan(&p.ID, &p.PolicyNumber, &p.UserID, &p.AnonymousSessionID, &p.ProviderID,
		&p.FlightID, &p.CoverageType, &p.CoverageAmount, &p.Premium, &p.PayoutAmount,
		&p.Status, &p.ExpiresAt, &terms, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(terms, &p.Terms); err != nil {
		return nil, err
	}
	return &p, nil
}

const policyColumns = `id, policy_number, COALESCE(user_id, ''), COALESCE(anonymous_session_id, ''),
	COALESCE(provider_id, ''), flight_id, coverage_type, coverage_amount, premium, payout_amount,
	status, expires_at, terms, created_at, updated_at`

func (s *Store) GetPolicy(ctx context.Context, id string) (*types.Policy, error) {
	p, err := scanPolicy(s.pool.QueryRow(ctx, `SELECT `+policyColumns+` FROM policies WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("policy %v not found", id)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return p, nil
}

func (s *Store) ListActivePolicies(ctx context.Context, now time.Time, limit int) ([]types.Policy, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+policyColumns+` FROM policies
		WHERE status = $1 AND expires_at > $2
		ORDER BY created_at ASC
		LIMIT $3`,
		types.PolicyStatusActive, now, limit)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	defer rows.Close()

	var out []types.Policy
	for rows.Next() {
		p, err := scanPolicy(rows)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		out = append(out, *p)
	}
	return out, trace.Wrap(rows.Err())
}

func (s *Store) UpdatePolicyStatus(ctx context.Context, id string, expected, next types.PolicyStatus) error {
	if !expected.CanTransitionTo(next) {
		return trace.BadParameter("policy status %v cannot transition to %v", expected, next)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE policies SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		next, s.now(), id, expected)
	if err != nil {
		return trace.Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		// distinguish a missing row from a moved one
		if _, err := s.GetPolicy(ctx, id); err != nil {
			return trace.Wrap(err)
		}
		return trace.CompareFailed("policy %v is not %v", id, expected)
	}
	return nil
}

func (s *Store) ExpirePolicies(ctx context.Context, now time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE policies SET status = $1, updated_at = $2
		WHERE status IN ($3, $4) AND expires_at <= $5`,
		types.PolicyStatusExpired, s.now(),
		types.PolicyStatusActive, types.PolicyStatusPending, now)
	if err != nil {
		return 0, trace.Wrap(err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) CreateFlight(ctx context.Context, flight *types.InsuredFlight) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO insured_flights (id, flight_number, scheduled_departure, origin_iata, destination_iata)
		VALUES ($1, $2, $3, $4, $5)`,
		flight.ID, flight.FlightNumber, flight.ScheduledDeparture, flight.OriginIATA, flight.DestinationIATA)
	if isUniqueViolation(err) {
		return trace.AlreadyExists("flight %v already exists", flight.ID)
	}
	return trace.Wrap(err)
}

func (s *Store) GetFlight(ctx context.Context, id string) (*types.InsuredFlight, error) {
	var f types.InsuredFlight
	err := s.pool.QueryRow(ctx, `
		SELECT id, flight_number, scheduled_departure, origin_iata, destination_iata
		FROM insured_flights WHERE id = $1`, id).
		Scan(&f.ID, &f.FlightNumber, &f.ScheduledDeparture, &f.OriginIATA, &f.DestinationIATA)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("flight %v not found", id)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &f, nil
}

func (s *Store) CreateEscrow(ctx context.Context, escrow *types.Escrow) error {
	now := s.now()
	createdAt := escrow.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO escrows (id, blockchain_id, policy_id, user_id, chain, escrow_model,
			status, amount, expires_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		escrow.ID, escrow.BlockchainID, escrow.PolicyID, escrow.UserID, escrow.Chain,
		escrow.EscrowModel, escrow.Status, escrow.Amount, escrow.ExpiresAt, createdAt, now)
	if isUniqueViolation(err) {
		return trace.AlreadyExists("escrow %v already exists", escrow.ID)
	}
	return trace.Wrap(err)
}

const escrowColumns = `id, blockchain_id, COALESCE(policy_id, ''), COALESCE(user_id, ''),
	chain, COALESCE(escrow_model, ''), status, amount, COALESCE(expires_at, 'epoch'::timestamptz),
	created_at, updated_at`

func scanEscrow(row pgx.Row) (*types.Escrow, error) {
	var e types.Escrow
	err := row.Scan(&e.ID, &e.BlockchainID, &e.PolicyID, &e.UserID, &e.Chain,
		&e.EscrowModel, &e.Status, &e.Amount, &e.ExpiresAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (s *Store) GetEscrow(ctx context.Context, id string) (*types.Escrow, error) {
	e, err := scanEscrow(s.pool.QueryRow(ctx, `SELECT `+escrowColumns+` FROM escrows WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("escrow %v not found", id)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return e, nil
}

func (s *Store) GetEscrowByPolicy(ctx context.Context, policyID string) (*types.Escrow, error) {
	e, err := scanEscrow(s.pool.QueryRow(ctx, `
		SELECT `+escrowColumns+` FROM escrows
		WHERE policy_id = $1 ORDER BY created_at DESC LIMIT 1`, policyID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("no escrow for policy %v", policyID)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return e, nil
}

func (s *Store) UpdateEscrowStatus(ctx context.Context, id string, expected, next types.EscrowStatus) error {
	if !expected.CanTransitionTo(next) {
		return trace.BadParameter("escrow status %v cannot transition to %v", expected, next)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE escrows SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		next, s.now(), id, expected)
	if err != nil {
		return trace.Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetEscrow(ctx, id); err != nil {
			return trace.Wrap(err)
		}
		return trace.CompareFailed("escrow %v is not %v", id, expected)
	}
	return nil
}

func (s *Store) CreatePayout(ctx context.Context, payout *types.PayoutRecord) error {
	now := s.now()
	createdAt := payout.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	metadata, err := json.Marshal(payout.Metadata)
	if err != nil {
		return trace.Wrap(err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO payouts (id, policy_id, escrow_id, amount, status, reason, tx_hash,
			error_message, chain, metadata, processed_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		payout.ID, payout.PolicyID, payout.EscrowID, payout.Amount, payout.Status,
		payout.Reason, payout.TxHash, payout.ErrorMessage, payout.Chain, metadata,
		payout.ProcessedAt, createdAt, now)
	if isUniqueViolation(err) {
		return trace.AlreadyExists("payout %v already exists", payout.ID)
	}
	return trace.Wrap(err)
}

const payoutColumns = `id, policy_id, escrow_id, amount, status, COALESCE(reason, ''),
	COALESCE(tx_hash, ''), COALESCE(error_message, ''), COALESCE(chain, ''), metadata,
	processed_at, created_at, updated_at`

func scanPayout(row pgx.Row) (*types.PayoutRecord, error) {
	var p types.PayoutRecord
	var metadata []byte
	err := row.Scan(&p.ID, &p.PolicyID, &p.EscrowID, &p.Amount, &p.Status, &p.Reason,
		&p.TxHash, &p.ErrorMessage, &p.Chain, &metadata, &p.ProcessedAt, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &p.Metadata); err != nil {
			return nil, err
		}
	}
	return &p, nil
}

func (s *Store) GetPayout(ctx context.Context, id string) (*types.PayoutRecord, error) {
	p, err := scanPayout(s.pool.QueryRow(ctx, `SELECT `+payoutColumns+` FROM payouts WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("payout %v not found", id)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return p, nil
}

func (s *Store) GetPayoutByPolicy(ctx context.Context, policyID string) (*types.PayoutRecord, error) {
	p, err := scanPayout(s.pool.QueryRow(ctx, `
		SELECT `+payoutColumns+` FROM payouts
		WHERE policy_id = $1 ORDER BY created_at DESC LIMIT 1`, policyID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("no payout for policy %v", policyID)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return p, nil
}

// CompletePayoutTx applies the three-row completion inside one
// transaction. Every UPDATE carries its own status guard; if any of
// them matches zero rows the transaction rolls back and the caller gets
// trace.CompareFailed.
func (s *Store) CompletePayoutTx(ctx context.Context, params storage.CompletePayout) error {
	now := s.now()
	processedAt := params.ProcessedAt
	if processedAt.IsZero() {
		processedAt = now
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return trace.Wrap(err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE payouts SET status = $1, tx_hash = $2, processed_at = $3, updated_at = $4
		WHERE id = $5 AND status IN ($6, $7)`,
		types.PayoutStatusCompleted, params.TxHash, processedAt, now,
		params.PayoutID, types.PayoutStatusPending, types.PayoutStatusProcessing)
	if err != nil {
		return trace.Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return trace.CompareFailed("payout %v is not in progress", params.PayoutID)
	}

	tag, err = tx.Exec(ctx, `
		UPDATE policies SET status = $1, updated_at = $2
		WHERE id = $3 AND status = $4`,
		types.PolicyStatusClaimed, now, params.PolicyID, types.PolicyStatusActive)
	if err != nil {
		return trace.Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return trace.CompareFailed("policy %v is not %v", params.PolicyID, types.PolicyStatusActive)
	}

	tag, err = tx.Exec(ctx, `
		UPDATE escrows SET status = $1, updated_at = $2
		WHERE id = $3 AND status NOT IN ($4, $5)`,
		types.EscrowStatusReleased, now, params.EscrowID,
		types.EscrowStatusFulfilled, types.EscrowStatusReleased)
	if err != nil {
		return trace.Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return trace.CompareFailed("escrow %v is already terminal", params.EscrowID)
	}

	return trace.Wrap(tx.Commit(ctx))
}

func (s *Store) RecordPayoutFailure(ctx context.Context, payoutID, errorMessage string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE payouts SET status = $1, error_message = $2, updated_at = $3
		WHERE id = $4`,
		types.PayoutStatusFailed, errorMessage, s.now(), payoutID)
	if err != nil {
		return trace.Wrap(err)
	}
	if tag.RowsAffected() == 0 {
		return trace.NotFound("payout %v not found", payoutID)
	}
	return nil
}

func (s *Store) UpsertWallet(ctx context.Context, wallet *types.UserWallet) error {
	now := s.now()
	createdAt := wallet.CreatedAt
	if createdAt.IsZero() {
		createdAt = now
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_wallets (id, user_id, address, chain, wallet_type,
			encrypted_secret, kms_key_id, is_primary, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			address = EXCLUDED.address,
			wallet_type = EXCLUDED.wallet_type,
			encrypted_secret = EXCLUDED.encrypted_secret,
			kms_key_id = EXCLUDED.kms_key_id,
			is_primary = EXCLUDED.is_primary,
			updated_at = EXCLUDED.updated_at`,
		wallet.ID, wallet.UserID, wallet.Address, wallet.Chain, wallet.WalletType,
		wallet.EncryptedSecret, wallet.KMSKeyID, wallet.IsPrimary, createdAt, now)
	return trace.Wrap(err)
}

func (s *Store) GetPrimaryWallet(ctx context.Context, userID string, chain types.ChainProvider) (*types.UserWallet, error) {
	var w types.UserWallet
	err := s.pool.QueryRow(ctx, `
		SELECT id, user_id, address, chain, COALESCE(wallet_type, ''),
			encrypted_secret, COALESCE(kms_key_id, ''), is_primary, created_at, updated_at
		FROM user_wallets
		WHERE user_id = $1 AND chain = $2 AND is_primary
		LIMIT 1`, userID, chain).
		Scan(&w.ID, &w.UserID, &w.Address, &w.Chain, &w.WalletType,
			&w.EncryptedSecret, &w.KMSKeyID, &w.IsPrimary, &w.CreatedAt, &w.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, trace.NotFound("no primary %v wallet for user %v", chain, userID)
	}
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &w, nil
}

var _ storage.Storage = (*Store)(nil)
