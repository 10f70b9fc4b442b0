package rewards

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/AquaToken/aqua-bribes/model"
)

const (
	testMarket    = "GA7QYNF7SOWQ3GLR2BGMZEHXAVIRZA4KVWLTJJFC7MGXUA74P7UJVSGZ"
	testIssuer    = "GBNZILSTVQZ4R7IKQDGHYGY2QXL5QOFJYQMXPKWRRM5PAV7Y4M67AQUA"
	testVoter     = "GAAZI4TCR3TY5OJHCTJC2A4QSY6CJWJH5IAJTGKIN2ER7LBNVKOCCWN7"
	testDelegator = "GBRPYHIL2CI3FNQ4BXLFMNDLFJUNPU2HY3ZMFSHONUCEOASW7QC7OX2H"
	testMarker    = "GCKFBEIYTKP6RCZX6LRSJLZZTMJYJXFJLQK2U2CBZJYJGBTGE4YSCOPS"
)

type fakeVotesStore struct {
	pools       []*model.AggregatedBribe
	aggregators map[string]bool
	inflows     map[string][]*model.ClaimableBalance
	inserted    []*model.VoteSnapshot
}

func (f *fakeVotesStore) RunningAggregatedBribes(_ context.Context, _ time.Time) ([]*model.AggregatedBribe, error) {
	return f.pools, nil
}

func (f *fakeVotesStore) InsertVoteSnapshots(_ context.Context, rows []*model.VoteSnapshot) error {
	f.inserted = append(f.inserted, rows...)
	return nil
}

func (f *fakeVotesStore) HasDelegationMarker(_ context.Context, _ time.Time, voter, _ string, _ []model.Asset) (bool, error) {
	return f.aggregators[voter], nil
}

func (f *fakeVotesStore) DelegatedInflows(_ context.Context, _ time.Time, voter, _ string, _ []model.Asset) ([]*model.ClaimableBalance, error) {
	return f.inflows[voter], nil
}

type fakeTracker struct {
	votes map[string][]TrackerVote
}

func (f *fakeTracker) Votes(_ context.Context, marketKey string, _ time.Time) ([]TrackerVote, error) {
	return f.votes[marketKey], nil
}

func testRewardsConfig() Config {
	return Config{
		HouseAccount:   testVoter,
		DelegateMarker: testMarker,
		DelegationPairs: []AssetPair{{
			Delegatable: model.Asset{Code: "upvoteAQUA", Issuer: testIssuer},
			Delegated:   model.Asset{Code: "delegatedAQUA", Issuer: testIssuer},
		}},
	}
}

func TestVotesLoaderPlainVoter(t *testing.T) {
	st := &fakeVotesStore{
		pools:       []*model.AggregatedBribe{{MarketKey: testMarket}},
		aggregators: map[string]bool{},
	}
	tracker := &fakeTracker{votes: map[string][]TrackerVote{
		testMarket: {{VotingAccount: testVoter, VotesValue: json.Number("125.5")}},
	}}

	loader := NewVotesLoader(testRewardsConfig(), st, tracker, zap.NewNop())
	if err := loader.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	if len(st.inserted) != 1 {
		t.Fatalf("got %d rows, want 1", len(st.inserted))
	}
	row := st.inserted[0]
	if row.VotingAccount != testVoter || row.VotesValue != 1255000000 {
		t.Errorf("row = %+v", row)
	}
	if row.IsDelegated || row.HasDelegation {
		t.Errorf("plain voter flagged: %+v", row)
	}
}

func TestVotesLoaderDelegationExpansion(t *testing.T) {
	st := &fakeVotesStore{
		pools:       []*model.AggregatedBribe{{MarketKey: testMarket}},
		aggregators: map[string]bool{testVoter: true},
		inflows: map[string][]*model.ClaimableBalance{
			testVoter: {
				{BalanceID: "cb1", Owner: testDelegator, Amount: 30 * model.One},
				{BalanceID: "cb2", Owner: testDelegator, Amount: 10 * model.One},
				{BalanceID: "cb3", Owner: testMarker, Amount: 20 * model.One},
			},
		},
	}
	tracker := &fakeTracker{votes: map[string][]TrackerVote{
		testMarket: {{VotingAccount: testVoter, VotesValue: json.Number("80")}},
	}}

	loader := NewVotesLoader(testRewardsConfig(), st, tracker, zap.NewNop())
	if err := loader.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	// Placeholder, own residual stake, and one merged row per delegator.
	if len(st.inserted) != 4 {
		t.Fatalf("got %d rows, want 4", len(st.inserted))
	}

	placeholder := st.inserted[0]
	if !placeholder.HasDelegation || placeholder.VotesValue != 80*model.One {
		t.Errorf("placeholder = %+v", placeholder)
	}

	own := st.inserted[1]
	if own.VotingAccount != testVoter || own.VotesValue != 20*model.One || own.IsDelegated || own.HasDelegation {
		t.Errorf("own stake = %+v", own)
	}

	byOwner := map[string]*model.VoteSnapshot{}
	for _, row := range st.inserted[2:] {
		if !row.IsDelegated {
			t.Errorf("inflow row not flagged: %+v", row)
		}
		byOwner[row.VotingAccount] = row
	}
	if byOwner[testDelegator].VotesValue != 40*model.One {
		t.Errorf("merged delegator stake = %d", byOwner[testDelegator].VotesValue)
	}
	if byOwner[testMarker].VotesValue != 20*model.One {
		t.Errorf("marker delegator stake = %d", byOwner[testMarker].VotesValue)
	}
}

func TestVotesLoaderFullyDelegated(t *testing.T) {
	st := &fakeVotesStore{
		pools:       []*model.AggregatedBribe{{MarketKey: testMarket}},
		aggregators: map[string]bool{testVoter: true},
		inflows: map[string][]*model.ClaimableBalance{
			testVoter: {{BalanceID: "cb1", Owner: testDelegator, Amount: 80 * model.One}},
		},
	}
	tracker := &fakeTracker{votes: map[string][]TrackerVote{
		testMarket: {{VotingAccount: testVoter, VotesValue: json.Number("80")}},
	}}

	loader := NewVotesLoader(testRewardsConfig(), st, tracker, zap.NewNop())
	if err := loader.Run(context.Background()); err != nil {
		t.Fatal(err)
	}

	// No residual row when the whole stake is delegated.
	if len(st.inserted) != 2 {
		t.Fatalf("got %d rows, want 2", len(st.inserted))
	}
	if !st.inserted[0].HasDelegation {
		t.Errorf("first row is not the placeholder: %+v", st.inserted[0])
	}
	if !st.inserted[1].IsDelegated || st.inserted[1].VotingAccount != testDelegator {
		t.Errorf("second row = %+v", st.inserted[1])
	}
}
