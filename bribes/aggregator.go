package bribes

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/AquaToken/aqua-bribes/model"
)

type aggregatorStore interface {
	ActiveBribesInWindow(ctx context.Context, start, stop time.Time) ([]*model.Bribe, error)
	InsertAggregatedBribes(ctx context.Context, rows []*model.AggregatedBribe) error
}

// Aggregator folds claimed pledges into per (market, asset) pools for the
// upcoming epoch.
type Aggregator struct {
	cfg    Config
	store  aggregatorStore
	logger *zap.Logger
}

// NewAggregator wires an aggregator.
func NewAggregator(cfg Config, st aggregatorStore, logger *zap.Logger) *Aggregator {
	return &Aggregator{cfg: cfg, store: st, logger: logger}
}

// Run aggregates the active bribes pinned to the epoch starting after now.
// The pledge remainder joins the pool of its own asset; the converted slice
// joins the market's reward-asset pool. Re-running within the same epoch is
// a no-op thanks to the pool uniqueness.
func (a *Aggregator) Run(ctx context.Context) error {
	start, stop := model.EpochWindow(time.Now().UTC())
	active, err := a.store.ActiveBribesInWindow(ctx, start, stop)
	if err != nil {
		return err
	}
	if len(active) == 0 {
		return nil
	}

	type poolKey struct {
		market string
		asset  model.Asset
	}
	pools := make(map[poolKey]*model.AggregatedBribe)
	pool := func(market string, asset model.Asset) *model.AggregatedBribe {
		key := poolKey{market, asset}
		if p, ok := pools[key]; ok {
			return p
		}
		p := &model.AggregatedBribe{MarketKey: market, Asset: asset, StartAt: start, StopAt: stop}
		pools[key] = p
		return p
	}

	for _, bribe := range active {
		if bribe.AmountForBribes > 0 {
			p := pool(bribe.MarketKey, bribe.Asset)
			p.TotalReward += bribe.AmountForBribes
			p.RewardEquivalent += bribe.RewardEquivalent
		}
		if bribe.AmountReward > 0 {
			p := pool(bribe.MarketKey, a.cfg.RewardAsset)
			p.TotalReward += bribe.AmountReward
			p.RewardEquivalent += bribe.AmountReward
		}
	}

	rows := make([]*model.AggregatedBribe, 0, len(pools))
	for _, p := range pools {
		rows = append(rows, p)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].MarketKey != rows[j].MarketKey {
			return rows[i].MarketKey < rows[j].MarketKey
		}
		return rows[i].Asset.String() < rows[j].Asset.String()
	})

	if err := a.store.InsertAggregatedBribes(ctx, rows); err != nil {
		return err
	}
	a.logger.Info("bribes aggregated",
		zap.Int("bribes", len(active)),
		zap.Int("pools", len(rows)),
		zap.Time("start_at", start))
	return nil
}
