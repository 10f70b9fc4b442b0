package store

import (
	"context"
	"strings"
	"time"

	"github.com/stellar/go/support/errors"

	"github.com/AquaToken/aqua-bribes/model"
)

const aggregatedColumns = `id, market_key, asset_code, asset_issuer, start_at, stop_at,
	total_reward_amount, reward_equivalent, created_at, updated_at`

func (s *Store) queryAggregated(ctx context.Context, where string, args ...interface{}) ([]*model.AggregatedBribe, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+aggregatedColumns+" FROM aggregated_bribes "+where, args...)
	if err != nil {
		return nil, errors.Wrap(err, "querying aggregated bribes")
	}
	defer rows.Close()

	var out []*model.AggregatedBribe
	for rows.Next() {
		var a model.AggregatedBribe
		err := rows.Scan(
			&a.ID, &a.MarketKey, &a.Asset.Code, &a.Asset.Issuer, &a.StartAt, &a.StopAt,
			&a.TotalReward, &a.RewardEquivalent, &a.CreatedAt, &a.UpdatedAt,
		)
		if err != nil {
			return nil, errors.Wrap(err, "scanning aggregated bribe")
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// InsertAggregatedBribes bulk-inserts epoch reward pools. The uniqueness of
// (market, asset, start_at) makes a retried aggregation within the same
// epoch a no-op.
func (s *Store) InsertAggregatedBribes(ctx context.Context, rows []*model.AggregatedBribe) error {
	if len(rows) == 0 {
		return nil
	}
	var sb strings.Builder
	sb.WriteString(`INSERT INTO aggregated_bribes (
		market_key, asset_code, asset_issuer, start_at, stop_at,
		total_reward_amount, reward_equivalent
	) VALUES `)
	args := make([]interface{}, 0, len(rows)*7)
	for i, a := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		writePlaceholders(&sb, i*7, 7)
		args = append(args, a.MarketKey, a.Asset.Code, a.Asset.Issuer, a.StartAt, a.StopAt,
			a.TotalReward, a.RewardEquivalent)
	}
	sb.WriteString(" ON CONFLICT (market_key, asset_code, asset_issuer, start_at) DO NOTHING")

	_, err := s.db.ExecContext(ctx, sb.String(), args...)
	return errors.Wrap(err, "inserting aggregated bribes")
}

// ActiveAggregatedBribes returns the pools whose epoch covers at.
func (s *Store) ActiveAggregatedBribes(ctx context.Context, at time.Time) ([]*model.AggregatedBribe, error) {
	return s.queryAggregated(ctx, "WHERE start_at <= $1 AND stop_at > $1 ORDER BY id", at)
}

// RunningAggregatedBribes returns pools whose epoch has not ended yet.
func (s *Store) RunningAggregatedBribes(ctx context.Context, now time.Time) ([]*model.AggregatedBribe, error) {
	return s.queryAggregated(ctx, "WHERE stop_at > $1 ORDER BY id", now)
}

// UpdateAggregatedEquivalent stores a refreshed reward-asset quote.
func (s *Store) UpdateAggregatedEquivalent(ctx context.Context, id int64, equivalent int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE aggregated_bribes SET reward_equivalent = $1, updated_at = now() WHERE id = $2
	`, equivalent, id)
	return errors.Wrap(err, "updating aggregated equivalent")
}
