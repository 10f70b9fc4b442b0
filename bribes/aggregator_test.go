package bribes

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/AquaToken/aqua-bribes/model"
)

type fakeAggregatorStore struct {
	active   []*model.Bribe
	inserted []*model.AggregatedBribe
}

func (f *fakeAggregatorStore) ActiveBribesInWindow(_ context.Context, _, _ time.Time) ([]*model.Bribe, error) {
	return f.active, nil
}

func (f *fakeAggregatorStore) InsertAggregatedBribes(_ context.Context, rows []*model.AggregatedBribe) error {
	f.inserted = append(f.inserted, rows...)
	return nil
}

func TestAggregatorRun(t *testing.T) {
	usdc := model.Asset{Code: "USDC", Issuer: testIssuer}
	yxlm := model.Asset{Code: "yXLM", Issuer: testIssuer}
	aqua := model.Asset{Code: "AQUA", Issuer: testIssuer}
	marketA := testMarket
	marketB := testHouse

	st := &fakeAggregatorStore{active: []*model.Bribe{
		{MarketKey: marketA, Asset: usdc, AmountForBribes: 100 * model.One, AmountReward: 10000, RewardEquivalent: 400 * model.One},
		{MarketKey: marketA, Asset: usdc, AmountForBribes: 50 * model.One, AmountReward: 10000, RewardEquivalent: 200 * model.One},
		{MarketKey: marketA, Asset: yxlm, AmountForBribes: 7 * model.One, AmountReward: 10000},
		{MarketKey: marketB, Asset: aqua, AmountForBribes: 30 * model.One, AmountReward: 10000},
	}}

	cfg := testLoaderConfig()
	aggregator := NewAggregator(cfg, st, zap.NewNop())
	if err := aggregator.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Pools: marketA/USDC, marketA/yXLM, marketA/AQUA (converted slices),
	// marketB/AQUA (pledge remainder and converted slice merged).
	if len(st.inserted) != 4 {
		t.Fatalf("got %d pools, want 4", len(st.inserted))
	}

	byKey := make(map[string]*model.AggregatedBribe)
	for _, pool := range st.inserted {
		byKey[pool.MarketKey+"/"+pool.Asset.Code] = pool

		if pool.StopAt.Sub(pool.StartAt) != model.EpochDuration {
			t.Errorf("pool %s window = %v", pool.Asset.Code, pool.StopAt.Sub(pool.StartAt))
		}
	}

	if got := byKey[marketA+"/USDC"].TotalReward; got != 150*model.One {
		t.Errorf("USDC pool = %d, want %d", got, 150*model.One)
	}
	if got := byKey[marketA+"/USDC"].RewardEquivalent; got != 600*model.One {
		t.Errorf("USDC pool equivalent = %d", got)
	}
	if got := byKey[marketA+"/yXLM"].TotalReward; got != 7*model.One {
		t.Errorf("yXLM pool = %d", got)
	}
	if got := byKey[marketA+"/AQUA"].TotalReward; got != 30000 {
		t.Errorf("marketA AQUA pool = %d, want 30000", got)
	}
	if got := byKey[marketB+"/AQUA"].TotalReward; got != 30*model.One+10000 {
		t.Errorf("marketB AQUA pool = %d", got)
	}
}

func TestAggregatorRunEmpty(t *testing.T) {
	st := &fakeAggregatorStore{}
	aggregator := NewAggregator(testLoaderConfig(), st, zap.NewNop())
	if err := aggregator.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if len(st.inserted) != 0 {
		t.Errorf("inserted %d pools from nothing", len(st.inserted))
	}
}
