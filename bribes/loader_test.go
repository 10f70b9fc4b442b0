package bribes

import (
	"context"
	"testing"
	"time"

	hProtocol "github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/xdr"
	"go.uber.org/zap"

	"github.com/AquaToken/aqua-bribes/ledger"
	"github.com/AquaToken/aqua-bribes/metrics"
	"github.com/AquaToken/aqua-bribes/model"
)

const (
	testHouse  = "GAAZI4TCR3TY5OJHCTJC2A4QSY6CJWJH5IAJTGKIN2ER7LBNVKOCCWN7"
	testMarket = "GA7QYNF7SOWQ3GLR2BGMZEHXAVIRZA4KVWLTJJFC7MGXUA74P7UJVSGZ"
	testIssuer = "GBNZILSTVQZ4R7IKQDGHYGY2QXL5QOFJYQMXPKWRRM5PAV7Y4M67AQUA"
)

func notPredicate(inner xdr.ClaimPredicate) xdr.ClaimPredicate {
	p := &inner
	return xdr.ClaimPredicate{
		Type:         xdr.ClaimPredicateTypeClaimPredicateNot,
		NotPredicate: &p,
	}
}

func unconditional() xdr.ClaimPredicate {
	return xdr.ClaimPredicate{Type: xdr.ClaimPredicateTypeClaimPredicateUnconditional}
}

func beforeAbsoluteTime(at time.Time) xdr.ClaimPredicate {
	v := xdr.Int64(at.Unix())
	return xdr.ClaimPredicate{
		Type:      xdr.ClaimPredicateTypeClaimPredicateBeforeAbsoluteTime,
		AbsBefore: &v,
	}
}

type fakeLoaderStore struct {
	markets map[string]bool
	bribes  []*model.Bribe
	state   map[string]string
	token   string
}

func newFakeLoaderStore() *fakeLoaderStore {
	return &fakeLoaderStore{markets: make(map[string]bool), state: make(map[string]string)}
}

func (f *fakeLoaderStore) UpsertMarketKey(_ context.Context, key string) error {
	f.markets[key] = true
	return nil
}

func (f *fakeLoaderStore) InsertBribes(_ context.Context, bribes []*model.Bribe) error {
	f.bribes = append(f.bribes, bribes...)
	return nil
}

func (f *fakeLoaderStore) LastBribePagingToken(_ context.Context) (string, error) {
	return f.token, nil
}

func (f *fakeLoaderStore) StateGet(_ context.Context, key string) (string, error) {
	return f.state[key], nil
}

func (f *fakeLoaderStore) StateSet(_ context.Context, key, value string, _ time.Duration) error {
	f.state[key] = value
	return nil
}

type fakeLoaderGateway struct {
	pages  [][]hProtocol.ClaimableBalance
	quotes []ledger.PathQuote
	calls  int
}

func (f *fakeLoaderGateway) ClaimableBalancesForClaimant(_ context.Context, _, _ string, _ int) ([]hProtocol.ClaimableBalance, error) {
	if f.calls >= len(f.pages) {
		return nil, nil
	}
	page := f.pages[f.calls]
	f.calls++
	return page, nil
}

func (f *fakeLoaderGateway) StrictSendPaths(_ context.Context, _ model.Asset, _ int64, _ model.Asset) ([]ledger.PathQuote, error) {
	return f.quotes, nil
}

func testLoaderConfig() Config {
	return Config{
		HouseAccount:     testHouse,
		RewardAsset:      model.Asset{Code: "AQUA", Issuer: testIssuer},
		ConversionAmount: 10000,
	}
}

func pledgeRecord(id string, house, market xdr.ClaimPredicate) hProtocol.ClaimableBalance {
	modified := time.Date(2026, 8, 17, 10, 0, 0, 0, time.UTC)
	return hProtocol.ClaimableBalance{
		BalanceID:        id,
		Asset:            "USDC:" + testIssuer,
		Amount:           "250.0000000",
		Sponsor:          testMarket,
		PT:               id + "-pt",
		LastModifiedTime: &modified,
		Claimants: []hProtocol.Claimant{
			{Destination: testHouse, Predicate: house},
			{Destination: testMarket, Predicate: market},
		},
	}
}

func TestParseRecord(t *testing.T) {
	unlock := time.Date(2026, 8, 23, 9, 0, 0, 0, time.UTC)
	lockedUntil := notPredicate(beforeAbsoluteTime(unlock))
	rejectAll := notPredicate(unconditional())

	tests := []struct {
		name       string
		record     hProtocol.ClaimableBalance
		wantOK     bool
		wantStatus model.BribeStatus
	}{
		{
			name:       "well formed pledge",
			record:     pledgeRecord("cb1", lockedUntil, rejectAll),
			wantOK:     true,
			wantStatus: model.StatusPending,
		},
		{
			name:       "claimable market tag",
			record:     pledgeRecord("cb2", lockedUntil, unconditional()),
			wantOK:     true,
			wantStatus: model.StatusPendingReturn,
		},
		{
			name:       "no unlock time",
			record:     pledgeRecord("cb3", unconditional(), rejectAll),
			wantOK:     true,
			wantStatus: model.StatusInvalid,
		},
	}

	loader := NewLoader(testLoaderConfig(), newFakeLoaderStore(),
		&fakeLoaderGateway{quotes: []ledger.PathQuote{{DestinationAmount: 42 * model.One}}},
		zap.NewNop(), metrics.New())

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bribe, ok := loader.parseRecord(context.Background(), tt.record)
			if ok != tt.wantOK {
				t.Fatalf("parseRecord ok = %v, want %v", ok, tt.wantOK)
			}
			if bribe.Status != tt.wantStatus {
				t.Errorf("status = %v, want %v", bribe.Status, tt.wantStatus)
			}
			if bribe.MarketKey != testMarket {
				t.Errorf("market key = %q", bribe.MarketKey)
			}
			if bribe.Amount != 250*model.One {
				t.Errorf("amount = %d", bribe.Amount)
			}
		})
	}
}

func TestParseRecordPendingFields(t *testing.T) {
	unlock := time.Date(2026, 8, 23, 9, 0, 0, 0, time.UTC)
	record := pledgeRecord("cb1", notPredicate(beforeAbsoluteTime(unlock)), notPredicate(unconditional()))

	loader := NewLoader(testLoaderConfig(), newFakeLoaderStore(),
		&fakeLoaderGateway{quotes: []ledger.PathQuote{{DestinationAmount: 42 * model.One}}},
		zap.NewNop(), metrics.New())

	bribe, ok := loader.parseRecord(context.Background(), record)
	if !ok {
		t.Fatal("record rejected")
	}
	if bribe.UnlockTime == nil || !bribe.UnlockTime.Equal(unlock) {
		t.Errorf("unlock = %v, want %v", bribe.UnlockTime, unlock)
	}
	// Epoch window derives from the unlock time: the Monday right after it.
	wantStart := time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC)
	if bribe.StartAt == nil || !bribe.StartAt.Equal(wantStart) {
		t.Errorf("start = %v, want %v", bribe.StartAt, wantStart)
	}
	if bribe.RewardEquivalent != 42*model.One {
		t.Errorf("equivalent = %d", bribe.RewardEquivalent)
	}
}

func TestParseRecordSkips(t *testing.T) {
	loader := NewLoader(testLoaderConfig(), newFakeLoaderStore(), &fakeLoaderGateway{}, zap.NewNop(), metrics.New())

	three := pledgeRecord("cb1", notPredicate(beforeAbsoluteTime(time.Now())), notPredicate(unconditional()))
	three.Claimants = append(three.Claimants, hProtocol.Claimant{Destination: testIssuer})
	if _, ok := loader.parseRecord(context.Background(), three); ok {
		t.Error("three-claimant balance accepted")
	}

	badMarket := pledgeRecord("cb2", notPredicate(beforeAbsoluteTime(time.Now())), notPredicate(unconditional()))
	badMarket.Claimants[1].Destination = "not-a-key"
	if _, ok := loader.parseRecord(context.Background(), badMarket); ok {
		t.Error("malformed market key accepted")
	}
}

func TestLoaderRun(t *testing.T) {
	unlock := time.Now().UTC().Add(72 * time.Hour)
	store := newFakeLoaderStore()
	gateway := &fakeLoaderGateway{
		pages: [][]hProtocol.ClaimableBalance{{
			pledgeRecord("cb1", notPredicate(beforeAbsoluteTime(unlock)), notPredicate(unconditional())),
			pledgeRecord("cb2", notPredicate(beforeAbsoluteTime(unlock)), notPredicate(unconditional())),
		}},
	}

	loader := NewLoader(testLoaderConfig(), store, gateway, zap.NewNop(), metrics.New())
	if err := loader.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(store.bribes) != 2 {
		t.Fatalf("ingested %d bribes, want 2", len(store.bribes))
	}
	if !store.markets[testMarket] {
		t.Error("market key not registered")
	}
	if store.state["bribes_loader_cursor"] != "cb2-pt" {
		t.Errorf("cursor = %q", store.state["bribes_loader_cursor"])
	}
}
