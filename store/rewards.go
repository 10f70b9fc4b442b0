package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/stellar/go/support/errors"

	"github.com/AquaToken/aqua-bribes/model"
)

// InsertVoteSnapshots bulk-inserts vote snapshots. Re-running a load for the
// same day silently skips rows already captured: the uniqueness over
// (snapshot_date, market, voter, is_delegated, has_delegation) guarantees
// forward progress without duplicates.
func (s *Store) InsertVoteSnapshots(ctx context.Context, rows []*model.VoteSnapshot) error {
	for _, span := range chunk(len(rows), insertBatchSize) {
		if err := s.insertVoteBatch(ctx, rows[span[0]:span[1]]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) insertVoteBatch(ctx context.Context, rows []*model.VoteSnapshot) error {
	if len(rows) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO vote_snapshots (
		market_key, voting_account, votes_value, is_delegated, has_delegation, snapshot_date
	) VALUES `)
	args := make([]interface{}, 0, len(rows)*6)
	for i, v := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		writePlaceholders(&sb, i*6, 6)
		args = append(args, v.MarketKey, v.VotingAccount, v.VotesValue, v.IsDelegated, v.HasDelegation, v.SnapshotDate)
	}
	sb.WriteString(` ON CONFLICT (snapshot_date, market_key, voting_account, is_delegated, has_delegation) DO NOTHING`)

	_, err := s.db.ExecContext(ctx, sb.String(), args...)
	return errors.Wrap(err, "inserting vote snapshots")
}

// PayableVoteSnapshots returns the day's votes for a market, excluding
// delegation-aggregator placeholder rows. When holdersOf is a non-native
// asset, only voters present in the day's holder snapshot for that asset
// qualify.
func (s *Store) PayableVoteSnapshots(ctx context.Context, day time.Time, marketKey string, holdersOf *model.Asset) ([]*model.VoteSnapshot, error) {
	lo, hi := dayBounds(day)
	query := `
		SELECT id, market_key, voting_account, votes_value, is_delegated, has_delegation, snapshot_date
		FROM vote_snapshots
		WHERE snapshot_date = $1 AND market_key = $2 AND has_delegation = FALSE`
	args := []interface{}{lo, marketKey}
	if holdersOf != nil && !holdersOf.IsNative() {
		query += `
		AND voting_account IN (
			SELECT account FROM asset_holder_snapshots
			WHERE created_at >= $3 AND created_at < $4 AND asset_code = $5 AND asset_issuer = $6
		)`
		args = append(args, lo, hi, holdersOf.Code, holdersOf.Issuer)
	}
	query += " ORDER BY id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying vote snapshots")
	}
	defer rows.Close()

	var out []*model.VoteSnapshot
	for rows.Next() {
		var v model.VoteSnapshot
		err := rows.Scan(&v.ID, &v.MarketKey, &v.VotingAccount, &v.VotesValue,
			&v.IsDelegated, &v.HasDelegation, &v.SnapshotDate)
		if err != nil {
			return nil, errors.Wrap(err, "scanning vote snapshot")
		}
		out = append(out, &v)
	}
	return out, rows.Err()
}

// SaveClaimableBalance caches a claimable balance and, on first sighting,
// its claimants.
func (s *Store) SaveClaimableBalance(ctx context.Context, cb *model.ClaimableBalance) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	var created string
	err = tx.QueryRowContext(ctx, `
		INSERT INTO claimable_balances (
			balance_id, asset_code, asset_issuer, amount, sponsor, owner,
			paging_token, last_modified_ledger, last_modified_time
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (balance_id) DO NOTHING
		RETURNING balance_id
	`, cb.BalanceID, cb.Asset.Code, cb.Asset.Issuer, cb.Amount, cb.Sponsor, cb.Owner,
		cb.PagingToken, cb.LastModifiedLedger, nullTime(cb.LastModifiedTime)).Scan(&created)
	if err == sql.ErrNoRows {
		// Already cached; claimants were stored with the original row.
		return tx.Commit()
	}
	if err != nil {
		return errors.Wrap(err, "inserting claimable balance")
	}

	for _, claimant := range cb.Claimants {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO claimants (balance_id, destination, predicate_xdr) VALUES ($1, $2, $3)
		`, cb.BalanceID, claimant.Destination, claimant.PredicateXDR)
		if err != nil {
			return errors.Wrap(err, "inserting claimant")
		}
	}
	return tx.Commit()
}

func assetFilter(sb *strings.Builder, args *[]interface{}, assets []model.Asset) {
	sb.WriteString("(")
	for i, a := range assets {
		if i > 0 {
			sb.WriteString(" OR ")
		}
		base := len(*args)
		fmt.Fprintf(sb, "(cb.asset_code = $%d AND cb.asset_issuer = $%d)", base+1, base+2)
		*args = append(*args, a.Code, a.Issuer)
	}
	sb.WriteString(")")
}

// HasDelegationMarker reports whether the voter owns a balance in any of the
// given assets, cached today, whose claimants include the market key. Such a
// balance marks the voter as a delegation aggregator for that market.
func (s *Store) HasDelegationMarker(ctx context.Context, day time.Time, voter, marketKey string, assets []model.Asset) (bool, error) {
	if len(assets) == 0 {
		return false, nil
	}
	lo, hi := dayBounds(day)
	var sb strings.Builder
	args := []interface{}{lo, hi, voter, marketKey}
	sb.WriteString(`
		SELECT EXISTS (
			SELECT 1 FROM claimable_balances cb
			JOIN claimants c ON c.balance_id = cb.balance_id
			WHERE cb.loaded_at >= $1 AND cb.loaded_at < $2
			AND cb.owner = $3 AND c.destination = $4 AND `)
	assetFilter(&sb, &args, assets)
	sb.WriteString(")")

	var exists bool
	err := s.db.QueryRowContext(ctx, sb.String(), args...).Scan(&exists)
	return exists, errors.Wrap(err, "checking delegation marker")
}

// DelegatedInflows returns today's cached balances in the given assets whose
// claimants include both the delegate marker and the voter: the stake third
// parties delegated to this voter.
func (s *Store) DelegatedInflows(ctx context.Context, day time.Time, voter, marker string, assets []model.Asset) ([]*model.ClaimableBalance, error) {
	if len(assets) == 0 {
		return nil, nil
	}
	lo, hi := dayBounds(day)
	var sb strings.Builder
	args := []interface{}{lo, hi, marker, voter}
	sb.WriteString(`
		SELECT cb.balance_id, cb.asset_code, cb.asset_issuer, cb.amount, cb.sponsor, cb.owner
		FROM claimable_balances cb
		WHERE cb.loaded_at >= $1 AND cb.loaded_at < $2
		AND EXISTS (SELECT 1 FROM claimants m WHERE m.balance_id = cb.balance_id AND m.destination = $3)
		AND EXISTS (SELECT 1 FROM claimants v WHERE v.balance_id = cb.balance_id AND v.destination = $4)
		AND `)
	assetFilter(&sb, &args, assets)
	sb.WriteString(" ORDER BY cb.balance_id")

	rows, err := s.db.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying delegated inflows")
	}
	defer rows.Close()

	var out []*model.ClaimableBalance
	for rows.Next() {
		var cb model.ClaimableBalance
		if err := rows.Scan(&cb.BalanceID, &cb.Asset.Code, &cb.Asset.Issuer, &cb.Amount, &cb.Sponsor, &cb.Owner); err != nil {
			return nil, errors.Wrap(err, "scanning claimable balance")
		}
		out = append(out, &cb)
	}
	return out, rows.Err()
}

// InsertHolderSnapshots bulk-inserts asset holder balance rows.
func (s *Store) InsertHolderSnapshots(ctx context.Context, rows []*model.AssetHolderSnapshot) error {
	for _, span := range chunk(len(rows), insertBatchSize) {
		if err := s.insertHolderBatch(ctx, rows[span[0]:span[1]]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) insertHolderBatch(ctx context.Context, rows []*model.AssetHolderSnapshot) error {
	if len(rows) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO asset_holder_snapshots (account, asset_code, asset_issuer, balance) VALUES `)
	args := make([]interface{}, 0, len(rows)*4)
	for i, h := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		writePlaceholders(&sb, i*4, 4)
		args = append(args, h.Account, h.Asset.Code, h.Asset.Issuer, h.Balance)
	}
	_, err := s.db.ExecContext(ctx, sb.String(), args...)
	return errors.Wrap(err, "inserting holder snapshots")
}

// InsertPayouts bulk-inserts payout rows for one submitted page.
func (s *Store) InsertPayouts(ctx context.Context, rows []*model.Payout) error {
	if len(rows) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO payouts (
		bribe_id, vote_snapshot_id, asset_code, asset_issuer, reward_amount, tx_hash, status, message
	) VALUES `)
	args := make([]interface{}, 0, len(rows)*8)
	for i, p := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		writePlaceholders(&sb, i*8, 8)
		args = append(args, p.BribeID, p.VoteSnapshotID, p.Asset.Code, p.Asset.Issuer,
			p.RewardAmount, p.TxHash, p.Status, p.Message)
	}
	_, err := s.db.ExecContext(ctx, sb.String(), args...)
	return errors.Wrap(err, "inserting payouts")
}

// PaidVoteSnapshotIDs returns vote snapshots already paid for this bribe.
func (s *Store) PaidVoteSnapshotIDs(ctx context.Context, bribeID int64) (map[int64]bool, error) {
	return s.voteIDSet(ctx, `
		SELECT DISTINCT vote_snapshot_id FROM payouts
		WHERE bribe_id = $1 AND status = 'success'
	`, bribeID)
}

// PoisonedVoteSnapshotIDs returns vote snapshots whose previous payout for
// this bribe failed for a reason that is not known to be retry-safe. Those
// voters are never retried for this bribe.
func (s *Store) PoisonedVoteSnapshotIDs(ctx context.Context, bribeID int64, safeReasons []string) (map[int64]bool, error) {
	return s.voteIDSet(ctx, `
		SELECT DISTINCT vote_snapshot_id FROM payouts
		WHERE bribe_id = $1 AND status = 'failed' AND NOT (message = ANY($2))
	`, bribeID, pq.Array(safeReasons))
}

func (s *Store) voteIDSet(ctx context.Context, query string, args ...interface{}) (map[int64]bool, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying payout vote ids")
	}
	defer rows.Close()

	out := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scanning vote id")
		}
		out[id] = true
	}
	return out, rows.Err()
}

// TimedOutPayoutHashes returns the distinct transaction hashes of payouts
// flagged timeout that are old enough to resolve.
func (s *Store) TimedOutPayoutHashes(ctx context.Context, bribeID int64, before time.Time) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT DISTINCT tx_hash FROM payouts
		WHERE bribe_id = $1 AND message = $2 AND tx_hash <> '' AND created_at <= $3
	`, bribeID, model.PayoutMessageTimeout, before)
	if err != nil {
		return nil, errors.Wrap(err, "querying timed out payouts")
	}
	defer rows.Close()

	var hashes []string
	for rows.Next() {
		var h string
		if err := rows.Scan(&h); err != nil {
			return nil, errors.Wrap(err, "scanning tx hash")
		}
		hashes = append(hashes, h)
	}
	return hashes, rows.Err()
}

// MarkPayoutsSuccessByHash resolves timed-out payouts whose transaction made
// it to the ledger after all.
func (s *Store) MarkPayoutsSuccessByHash(ctx context.Context, txHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE payouts SET status = 'success', message = '', updated_at = now() WHERE tx_hash = $1
	`, txHash)
	return errors.Wrap(err, "marking payouts success")
}

// DeletePayoutsByHash removes payouts whose transaction never reached the
// ledger so the voters become payable again.
func (s *Store) DeletePayoutsByHash(ctx context.Context, txHash string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM payouts WHERE tx_hash = $1`, txHash)
	return errors.Wrap(err, "deleting payouts")
}
