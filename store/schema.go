package store

import (
	"context"

	"github.com/stellar/go/support/errors"
)

// schema creates the tables and indices the coordinator relies on. The
// unique indices are load-bearing: they are what makes ingest, aggregation
// and payout success at-most-once.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS market_keys (
		market_key TEXT PRIMARY KEY,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS bribes (
		id BIGSERIAL PRIMARY KEY,
		status INT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		market_key TEXT NOT NULL REFERENCES market_keys(market_key),
		sponsor TEXT NOT NULL,
		amount BIGINT NOT NULL,
		asset_code TEXT NOT NULL,
		asset_issuer TEXT NOT NULL DEFAULT '',
		is_amm_protocol BOOLEAN NOT NULL DEFAULT FALSE,
		reward_equivalent BIGINT NOT NULL DEFAULT 0,
		amount_for_bribes BIGINT NOT NULL DEFAULT 0,
		amount_reward BIGINT NOT NULL DEFAULT 0,
		conversion_tx_hash TEXT NOT NULL DEFAULT '',
		refund_tx_hash TEXT NOT NULL DEFAULT '',
		claimable_balance_id TEXT NOT NULL UNIQUE,
		paging_token TEXT NOT NULL,
		unlock_time TIMESTAMPTZ,
		start_at TIMESTAMPTZ,
		stop_at TIMESTAMPTZ,
		created_at TIMESTAMPTZ,
		loaded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS bribes_status_idx ON bribes (status)`,
	`CREATE INDEX IF NOT EXISTS bribes_unlock_idx ON bribes (unlock_time)`,

	`CREATE TABLE IF NOT EXISTS aggregated_bribes (
		id BIGSERIAL PRIMARY KEY,
		market_key TEXT NOT NULL REFERENCES market_keys(market_key),
		asset_code TEXT NOT NULL,
		asset_issuer TEXT NOT NULL DEFAULT '',
		start_at TIMESTAMPTZ NOT NULL,
		stop_at TIMESTAMPTZ NOT NULL,
		total_reward_amount BIGINT NOT NULL DEFAULT 0,
		reward_equivalent BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		UNIQUE (market_key, asset_code, asset_issuer, start_at)
	)`,

	`CREATE TABLE IF NOT EXISTS vote_snapshots (
		id BIGSERIAL PRIMARY KEY,
		market_key TEXT NOT NULL REFERENCES market_keys(market_key),
		voting_account TEXT NOT NULL,
		votes_value BIGINT NOT NULL,
		is_delegated BOOLEAN NOT NULL DEFAULT FALSE,
		has_delegation BOOLEAN NOT NULL DEFAULT FALSE,
		snapshot_date DATE NOT NULL,
		UNIQUE (snapshot_date, market_key, voting_account, is_delegated, has_delegation)
	)`,
	`CREATE INDEX IF NOT EXISTS vote_snapshots_account_idx ON vote_snapshots (voting_account)`,

	`CREATE TABLE IF NOT EXISTS claimable_balances (
		balance_id TEXT PRIMARY KEY,
		asset_code TEXT NOT NULL,
		asset_issuer TEXT NOT NULL DEFAULT '',
		amount BIGINT NOT NULL DEFAULT 0,
		sponsor TEXT NOT NULL DEFAULT '',
		owner TEXT NOT NULL DEFAULT '',
		paging_token TEXT NOT NULL DEFAULT '',
		last_modified_ledger BIGINT NOT NULL DEFAULT 0,
		last_modified_time TIMESTAMPTZ,
		loaded_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS claimable_balances_owner_idx ON claimable_balances (owner)`,
	`CREATE INDEX IF NOT EXISTS claimable_balances_loaded_idx ON claimable_balances (loaded_at)`,

	`CREATE TABLE IF NOT EXISTS claimants (
		id BIGSERIAL PRIMARY KEY,
		balance_id TEXT NOT NULL REFERENCES claimable_balances(balance_id) ON DELETE CASCADE,
		destination TEXT NOT NULL,
		predicate_xdr TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE INDEX IF NOT EXISTS claimants_destination_idx ON claimants (destination)`,

	`CREATE TABLE IF NOT EXISTS payouts (
		id BIGSERIAL PRIMARY KEY,
		bribe_id BIGINT NOT NULL REFERENCES aggregated_bribes(id),
		vote_snapshot_id BIGINT NOT NULL REFERENCES vote_snapshots(id),
		asset_code TEXT NOT NULL,
		asset_issuer TEXT NOT NULL DEFAULT '',
		reward_amount BIGINT NOT NULL DEFAULT 0,
		tx_hash TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS payouts_bribe_idx ON payouts (bribe_id)`,
	`CREATE INDEX IF NOT EXISTS payouts_tx_hash_idx ON payouts (tx_hash)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS payouts_success_once_idx
		ON payouts (bribe_id, vote_snapshot_id) WHERE status = 'success'`,

	`CREATE TABLE IF NOT EXISTS asset_holder_snapshots (
		id BIGSERIAL PRIMARY KEY,
		account TEXT NOT NULL,
		asset_code TEXT NOT NULL,
		asset_issuer TEXT NOT NULL DEFAULT '',
		balance BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS asset_holder_snapshots_created_idx ON asset_holder_snapshots (created_at)`,

	`CREATE TABLE IF NOT EXISTS coordinator_state (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL,
		expires_at TIMESTAMPTZ
	)`,
}

// InitSchema creates any missing tables and indices.
func (s *Store) InitSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(err, "initializing schema")
		}
	}
	return nil
}
