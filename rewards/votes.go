package rewards

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/stellar/go/support/errors"
	"go.uber.org/zap"

	"github.com/AquaToken/aqua-bribes/model"
)

// TrackerVote is one voter's stake as reported by the voting tracker.
type TrackerVote struct {
	VotingAccount string      `json:"voting_account"`
	VotesValue    json.Number `json:"votes_value"`
}

type votesPage struct {
	Next    *string       `json:"next"`
	Results []TrackerVote `json:"results"`
}

// TrackerClient reads per-market vote listings from the voting tracker
// service.
type TrackerClient struct {
	baseURL string
	http    *http.Client
}

// NewTrackerClient returns a client for the given tracker base URL.
func NewTrackerClient(baseURL string) *TrackerClient {
	return &TrackerClient{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
}

// Votes fetches all votes for a market as of the given timestamp, following
// the tracker's pagination to the end.
func (c *TrackerClient) Votes(ctx context.Context, marketKey string, at time.Time) ([]TrackerVote, error) {
	var votes []TrackerVote
	for page := 1; ; page++ {
		query := url.Values{}
		query.Set("limit", "200")
		query.Set("timestamp", fmt.Sprintf("%d", at.Unix()))
		query.Set("page", fmt.Sprintf("%d", page))
		endpoint := fmt.Sprintf("%s/api/market-keys/%s/votes/?%s", c.baseURL, marketKey, query.Encode())

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, errors.Wrap(err, "building tracker request")
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return nil, errors.Wrap(err, "calling voting tracker")
		}

		var body votesPage
		err = json.NewDecoder(resp.Body).Decode(&body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, errors.Errorf("voting tracker returned %d", resp.StatusCode)
		}
		if err != nil {
			return nil, errors.Wrap(err, "decoding tracker response")
		}

		votes = append(votes, body.Results...)
		if body.Next == nil || len(body.Results) == 0 {
			return votes, nil
		}
	}
}

type votesStore interface {
	RunningAggregatedBribes(ctx context.Context, now time.Time) ([]*model.AggregatedBribe, error)
	InsertVoteSnapshots(ctx context.Context, rows []*model.VoteSnapshot) error
	HasDelegationMarker(ctx context.Context, day time.Time, voter, marketKey string, assets []model.Asset) (bool, error)
	DelegatedInflows(ctx context.Context, day time.Time, voter, marker string, assets []model.Asset) ([]*model.ClaimableBalance, error)
}

type voteTracker interface {
	Votes(ctx context.Context, marketKey string, at time.Time) ([]TrackerVote, error)
}

// VotesLoader snapshots the day's voter stakes for every market with a
// running pool, expanding delegated stake back to the original delegators.
type VotesLoader struct {
	cfg     Config
	store   votesStore
	tracker voteTracker
	logger  *zap.Logger
}

// NewVotesLoader wires a votes loader.
func NewVotesLoader(cfg Config, st votesStore, tracker voteTracker, logger *zap.Logger) *VotesLoader {
	return &VotesLoader{cfg: cfg, store: st, tracker: tracker, logger: logger}
}

// Run loads today's votes for every bribed market.
func (l *VotesLoader) Run(ctx context.Context) error {
	now := time.Now().UTC()
	pools, err := l.store.RunningAggregatedBribes(ctx, now)
	if err != nil {
		return err
	}

	markets := make(map[string]bool)
	for _, pool := range pools {
		markets[pool.MarketKey] = true
	}

	for market := range markets {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := l.loadMarket(ctx, market, now); err != nil {
			return errors.Wrapf(err, "loading votes for %s", model.ShortKey(market))
		}
	}
	return nil
}

func (l *VotesLoader) loadMarket(ctx context.Context, market string, now time.Time) error {
	votes, err := l.tracker.Votes(ctx, market, now)
	if err != nil {
		return err
	}

	var rows []*model.VoteSnapshot
	for _, vote := range votes {
		expanded, err := l.expandVote(ctx, market, vote, now)
		if err != nil {
			return err
		}
		rows = append(rows, expanded...)
	}

	if err := l.store.InsertVoteSnapshots(ctx, rows); err != nil {
		return err
	}
	l.logger.Info("votes snapshotted",
		zap.String("market", model.ShortKey(market)),
		zap.Int("voters", len(votes)),
		zap.Int("rows", len(rows)))
	return nil
}

// expandVote turns one tracker vote into snapshot rows. A voter without a
// delegation marker yields a single payable row. An aggregator yields an
// unpayable placeholder carrying its full value, a payable row for its own
// residual stake, and one payable row per delegated inflow owned by the
// original delegator.
func (l *VotesLoader) expandVote(ctx context.Context, market string, vote TrackerVote, now time.Time) ([]*model.VoteSnapshot, error) {
	value, err := model.ParseAmount(vote.VotesValue.String())
	if err != nil {
		return nil, errors.Wrapf(err, "parsing votes of %s", model.ShortKey(vote.VotingAccount))
	}

	day := now.Truncate(24 * time.Hour)
	base := model.VoteSnapshot{MarketKey: market, SnapshotDate: day}

	hasDelegation, err := l.store.HasDelegationMarker(ctx, now, vote.VotingAccount, market, l.cfg.delegatedAssets())
	if err != nil {
		return nil, err
	}
	if !hasDelegation {
		row := base
		row.VotingAccount = vote.VotingAccount
		row.VotesValue = value
		return []*model.VoteSnapshot{&row}, nil
	}

	placeholder := base
	placeholder.VotingAccount = vote.VotingAccount
	placeholder.VotesValue = value
	placeholder.HasDelegation = true
	rows := []*model.VoteSnapshot{&placeholder}

	inflows, err := l.store.DelegatedInflows(ctx, now, vote.VotingAccount, l.cfg.DelegateMarker, l.cfg.delegatableAssets())
	if err != nil {
		return nil, err
	}

	// An account may delegate through several balances; they collapse into
	// one row per delegator.
	var delegated int64
	var order []string
	byOwner := make(map[string]int64)
	for _, inflow := range inflows {
		delegated += inflow.Amount
		if _, ok := byOwner[inflow.Owner]; !ok {
			order = append(order, inflow.Owner)
		}
		byOwner[inflow.Owner] += inflow.Amount
	}

	if value > delegated {
		own := base
		own.VotingAccount = vote.VotingAccount
		own.VotesValue = value - delegated
		rows = append(rows, &own)
	}
	for _, owner := range order {
		row := base
		row.VotingAccount = owner
		row.VotesValue = byOwner[owner]
		row.IsDelegated = true
		rows = append(rows, &row)
	}
	return rows, nil
}
