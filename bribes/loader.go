// Package bribes implements the pledge lifecycle: ingesting claimable
// balances addressed to the house wallet, claiming and converting unlocked
// pledges, returning the ones that cannot be used, and aggregating active
// pledges into per-market epoch pools.
package bribes

import (
	"context"
	"time"

	hProtocol "github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/strkey"
	"github.com/stellar/go/support/errors"
	"github.com/stellar/go/xdr"
	"go.uber.org/zap"

	"github.com/AquaToken/aqua-bribes/ledger"
	"github.com/AquaToken/aqua-bribes/metrics"
	"github.com/AquaToken/aqua-bribes/model"
	"github.com/AquaToken/aqua-bribes/store"
)

// Config carries the bribe-engine settings shared by the loader, processor
// and aggregator.
type Config struct {
	// HouseAccount is the public key of the wallet bribes are pledged to.
	HouseAccount string
	// SignerSecret signs claim, conversion and refund transactions.
	SignerSecret string

	NetworkPassphrase string
	BaseFee           int64

	// RewardAsset is the protocol token a slice of every pledge is
	// converted into.
	RewardAsset model.Asset
	// ConversionAmount is the fixed reward-asset amount, in stroops, carved
	// out of each pledge at claim time.
	ConversionAmount int64

	// AMMSponsors flags pledges created by the AMM protocol accounts.
	AMMSponsors []string

	PageLimit int
	CursorTTL time.Duration
}

func (c Config) pageLimit() int {
	if c.PageLimit > 0 {
		return c.PageLimit
	}
	return 200
}

func (c Config) cursorTTL() time.Duration {
	if c.CursorTTL > 0 {
		return c.CursorTTL
	}
	return 12 * time.Hour
}

type loaderStore interface {
	UpsertMarketKey(ctx context.Context, key string) error
	InsertBribes(ctx context.Context, bribes []*model.Bribe) error
	LastBribePagingToken(ctx context.Context) (string, error)
	StateGet(ctx context.Context, key string) (string, error)
	StateSet(ctx context.Context, key, value string, ttl time.Duration) error
}

type loaderGateway interface {
	ClaimableBalancesForClaimant(ctx context.Context, claimant, cursor string, limit int) ([]hProtocol.ClaimableBalance, error)
	StrictSendPaths(ctx context.Context, src model.Asset, srcAmount int64, dst model.Asset) ([]ledger.PathQuote, error)
}

// Loader ingests claimable balances addressed to the house wallet into
// bribe records.
type Loader struct {
	cfg     Config
	store   loaderStore
	gateway loaderGateway
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewLoader wires an ingest loader.
func NewLoader(cfg Config, st loaderStore, gw loaderGateway, logger *zap.Logger, m *metrics.Metrics) *Loader {
	return &Loader{cfg: cfg, store: st, gateway: gw, logger: logger, metrics: m}
}

// Run ingests every claimable balance past the stored cursor. The cursor is
// cached with a TTL; when it expired, ingestion resumes from the paging
// token of the last stored bribe and relies on the unique balance-id index
// to skip replayed records.
func (l *Loader) Run(ctx context.Context) error {
	cursor, err := l.store.StateGet(ctx, store.StateIngestCursor)
	if err != nil {
		return err
	}
	if cursor == "" {
		cursor, err = l.store.LastBribePagingToken(ctx)
		if err != nil {
			return err
		}
	}

	for {
		records, err := l.gateway.ClaimableBalancesForClaimant(ctx, l.cfg.HouseAccount, cursor, l.cfg.pageLimit())
		if err != nil {
			return errors.Wrap(err, "paging claimable balances")
		}
		if len(records) == 0 {
			return nil
		}

		var bribes []*model.Bribe
		for _, record := range records {
			bribe, ok := l.parseRecord(ctx, record)
			if !ok {
				continue
			}
			if err := l.store.UpsertMarketKey(ctx, bribe.MarketKey); err != nil {
				return err
			}
			bribes = append(bribes, bribe)
		}
		if err := l.store.InsertBribes(ctx, bribes); err != nil {
			return err
		}
		l.metrics.BribesIngested.Add(float64(len(bribes)))

		cursor = records[len(records)-1].PT
		if err := l.store.StateSet(ctx, store.StateIngestCursor, cursor, l.cfg.cursorTTL()); err != nil {
			return err
		}
		if len(records) < l.cfg.pageLimit() {
			return nil
		}
	}
}

// parseRecord turns one claimable balance into a bribe. Records that do not
// even look like pledges (wrong claimant count, unparseable market key) are
// skipped; records that look like pledges but violate the protocol are kept
// with a diagnostic status so they can be refunded or audited.
func (l *Loader) parseRecord(ctx context.Context, record hProtocol.ClaimableBalance) (*model.Bribe, bool) {
	logger := l.logger.With(zap.String("balance_id", model.ShortKey(record.BalanceID)))

	if len(record.Claimants) != 2 {
		logger.Warn("skipping balance with unexpected claimant count",
			zap.Int("claimants", len(record.Claimants)))
		return nil, false
	}

	var house, market *hProtocol.Claimant
	for i := range record.Claimants {
		if record.Claimants[i].Destination == l.cfg.HouseAccount {
			house = &record.Claimants[i]
		} else {
			market = &record.Claimants[i]
		}
	}
	if house == nil || market == nil {
		logger.Warn("skipping balance without distinct house and market claimants")
		return nil, false
	}
	if !strkey.IsValidEd25519PublicKey(market.Destination) {
		logger.Warn("skipping balance with malformed market key")
		return nil, false
	}

	asset, err := model.ParseAsset(record.Asset)
	if err != nil {
		logger.Warn("skipping balance with malformed asset", zap.Error(err))
		return nil, false
	}
	amount, err := model.ParseAmount(record.Amount)
	if err != nil {
		logger.Warn("skipping balance with malformed amount", zap.Error(err))
		return nil, false
	}

	bribe := &model.Bribe{
		MarketKey:          market.Destination,
		Sponsor:            record.Sponsor,
		Amount:             amount,
		Asset:              asset,
		ClaimableBalanceID: record.BalanceID,
		PagingToken:        record.PT,
		CreatedAt:          record.LastModifiedTime,
		IsAMMProtocol:      l.isAMMSponsor(record.Sponsor),
	}

	if unlock, ok := unlockTime(house.Predicate); ok {
		bribe.UnlockTime = &unlock
	} else {
		bribe.AppendMessage("house claimant is not locked behind an unlock time")
	}
	if !isRejectAll(market.Predicate) {
		bribe.AppendMessage("market claimant must be unclaimable")
	}

	switch {
	case bribe.Message == "":
		bribe.Status = model.StatusPending
		bribe.UpdateActivePeriod(time.Time{})
		bribe.RewardEquivalent = l.quoteEquivalent(ctx, asset, amount)
	case bribe.UnlockTime != nil:
		bribe.Status = model.StatusPendingReturn
	default:
		bribe.Status = model.StatusInvalid
	}
	return bribe, true
}

func (l *Loader) isAMMSponsor(sponsor string) bool {
	for _, s := range l.cfg.AMMSponsors {
		if s == sponsor {
			return true
		}
	}
	return false
}

// quoteEquivalent prices the pledge in the reward asset, zero when no
// conversion path exists. The quote is informational and refreshed while
// the bribe stays pending, so failures only log.
func (l *Loader) quoteEquivalent(ctx context.Context, asset model.Asset, amount int64) int64 {
	if asset == l.cfg.RewardAsset {
		return amount
	}
	quotes, err := l.gateway.StrictSendPaths(ctx, asset, amount, l.cfg.RewardAsset)
	if err != nil {
		l.logger.Warn("reward equivalent quote failed", zap.Error(err))
		return 0
	}
	return bestDestination(quotes)
}

func bestDestination(quotes []ledger.PathQuote) int64 {
	var best int64
	for _, q := range quotes {
		if q.DestinationAmount > best {
			best = q.DestinationAmount
		}
	}
	return best
}

// unlockTime extracts T from a not(before_absolute_time(T)) predicate, the
// shape that locks a pledge until its epoch settles.
func unlockTime(p xdr.ClaimPredicate) (time.Time, bool) {
	not, ok := p.GetNotPredicate()
	if !ok || not == nil {
		return time.Time{}, false
	}
	abs, ok := not.GetAbsBefore()
	if !ok {
		return time.Time{}, false
	}
	return time.Unix(int64(abs), 0).UTC(), true
}

// isRejectAll recognizes not(unconditional), the predicate that makes the
// market-key claimant a pure tag that can never claim.
func isRejectAll(p xdr.ClaimPredicate) bool {
	not, ok := p.GetNotPredicate()
	return ok && not != nil && not.Type == xdr.ClaimPredicateTypeClaimPredicateUnconditional
}
