package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/stellar/go/support/errors"

	"github.com/AquaToken/aqua-bribes/model"
)

const bribeColumns = `id, status, message, market_key, sponsor, amount, asset_code, asset_issuer,
	is_amm_protocol, reward_equivalent, amount_for_bribes, amount_reward,
	conversion_tx_hash, refund_tx_hash, claimable_balance_id, paging_token,
	unlock_time, start_at, stop_at, created_at, loaded_at, updated_at`

func scanBribe(row interface{ Scan(...interface{}) error }) (*model.Bribe, error) {
	var b model.Bribe
	var unlock, startAt, stopAt, createdAt sql.NullTime
	err := row.Scan(
		&b.ID, &b.Status, &b.Message, &b.MarketKey, &b.Sponsor, &b.Amount,
		&b.Asset.Code, &b.Asset.Issuer, &b.IsAMMProtocol, &b.RewardEquivalent,
		&b.AmountForBribes, &b.AmountReward, &b.ConversionTxHash, &b.RefundTxHash,
		&b.ClaimableBalanceID, &b.PagingToken,
		&unlock, &startAt, &stopAt, &createdAt, &b.LoadedAt, &b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	b.UnlockTime = timePtr(unlock)
	b.StartAt = timePtr(startAt)
	b.StopAt = timePtr(stopAt)
	b.CreatedAt = timePtr(createdAt)
	return &b, nil
}

func (s *Store) queryBribes(ctx context.Context, where string, args ...interface{}) ([]*model.Bribe, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf("SELECT %s FROM bribes %s", bribeColumns, where), args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying bribes")
	}
	defer rows.Close()

	var bribes []*model.Bribe
	for rows.Next() {
		b, err := scanBribe(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scanning bribe")
		}
		bribes = append(bribes, b)
	}
	return bribes, rows.Err()
}

// InsertBribes bulk-inserts ingested bribes in batches. Records whose
// claimable_balance_id was already ingested are silently skipped, so the
// same page may be replayed without duplicating rows.
func (s *Store) InsertBribes(ctx context.Context, bribes []*model.Bribe) error {
	for _, span := range chunk(len(bribes), insertBatchSize) {
		if err := s.insertBribeBatch(ctx, bribes[span[0]:span[1]]); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) insertBribeBatch(ctx context.Context, bribes []*model.Bribe) error {
	if len(bribes) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO bribes (
		status, message, market_key, sponsor, amount, asset_code, asset_issuer,
		is_amm_protocol, reward_equivalent, claimable_balance_id, paging_token,
		unlock_time, start_at, stop_at, created_at
	) VALUES `)
	args := make([]interface{}, 0, len(bribes)*15)
	for i, b := range bribes {
		if i > 0 {
			sb.WriteString(", ")
		}
		writePlaceholders(&sb, i*15, 15)
		args = append(args,
			b.Status, b.Message, b.MarketKey, b.Sponsor, b.Amount,
			b.Asset.Code, b.Asset.Issuer, b.IsAMMProtocol, b.RewardEquivalent,
			b.ClaimableBalanceID, b.PagingToken,
			nullTime(b.UnlockTime), nullTime(b.StartAt), nullTime(b.StopAt), nullTime(b.CreatedAt),
		)
	}
	sb.WriteString(" ON CONFLICT (claimable_balance_id) DO NOTHING")

	_, err := s.db.ExecContext(ctx, sb.String(), args...)
	return errors.Wrap(err, "inserting bribes")
}

// UpdateBribe persists the mutable fields of a bribe.
func (s *Store) UpdateBribe(ctx context.Context, b *model.Bribe) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE bribes SET
			status = $1, message = $2, reward_equivalent = $3,
			amount_for_bribes = $4, amount_reward = $5,
			conversion_tx_hash = $6, refund_tx_hash = $7,
			start_at = $8, stop_at = $9, updated_at = now()
		WHERE id = $10
	`, b.Status, b.Message, b.RewardEquivalent, b.AmountForBribes, b.AmountReward,
		b.ConversionTxHash, b.RefundTxHash, nullTime(b.StartAt), nullTime(b.StopAt), b.ID)
	return errors.Wrap(err, "updating bribe")
}

// LastBribePagingToken returns the paging token of the most recently created
// bribe, used to rebuild the ingest cursor when the cache expired.
func (s *Store) LastBribePagingToken(ctx context.Context) (string, error) {
	var token string
	err := s.db.QueryRowContext(ctx, `
		SELECT paging_token FROM bribes
		WHERE created_at IS NOT NULL
		ORDER BY created_at DESC LIMIT 1
	`).Scan(&token)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return token, errors.Wrap(err, "loading last paging token")
}

// BribesReadyToClaim returns pending bribes whose unlock time has passed.
func (s *Store) BribesReadyToClaim(ctx context.Context, now time.Time) ([]*model.Bribe, error) {
	return s.queryBribes(ctx, "WHERE status = $1 AND unlock_time <= $2 ORDER BY id", model.StatusPending, now)
}

// BribesReadyToReturn returns bribes owed back to their sponsor: pledges
// without a conversion path and malformed pledges past their unlock time.
func (s *Store) BribesReadyToReturn(ctx context.Context, now time.Time) ([]*model.Bribe, error) {
	return s.queryBribes(ctx,
		"WHERE status = $1 OR (status = $2 AND unlock_time <= $3) ORDER BY id",
		model.StatusNoPathForConversion, model.StatusPendingReturn, now)
}

// PendingBribes returns bribes still waiting for their unlock time, most
// recently touched last so equivalent refreshes cycle fairly.
func (s *Store) PendingBribes(ctx context.Context) ([]*model.Bribe, error) {
	return s.queryBribes(ctx, "WHERE status = $1 ORDER BY updated_at DESC", model.StatusPending)
}

// ActiveBribesInWindow returns active bribes pinned to the given epoch.
func (s *Store) ActiveBribesInWindow(ctx context.Context, start, stop time.Time) ([]*model.Bribe, error) {
	return s.queryBribes(ctx,
		"WHERE status = $1 AND start_at = $2 AND stop_at = $3 ORDER BY id",
		model.StatusActive, start, stop)
}

// ShiftPendingPeriods rolls the epoch window of still-pending bribes one
// week forward. The unlock time is deliberately left untouched.
func (s *Store) ShiftPendingPeriods(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bribes SET
			start_at = start_at + INTERVAL '7 days',
			stop_at = stop_at + INTERVAL '7 days',
			updated_at = now()
		WHERE status = $1 AND start_at < $2
	`, model.StatusPending, now)
	if err != nil {
		return 0, errors.Wrap(err, "shifting pending periods")
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// FinishExpiredBribes moves active bribes past their stop time to finished.
func (s *Store) FinishExpiredBribes(ctx context.Context, now time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE bribes SET status = $1, updated_at = now()
		WHERE status = $2 AND stop_at <= $3
	`, model.StatusFinished, model.StatusActive, now)
	if err != nil {
		return 0, errors.Wrap(err, "finishing expired bribes")
	}
	n, _ := res.RowsAffected()
	return n, nil
}
