package rewards

import (
	"context"

	hProtocol "github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/support/errors"
	"github.com/stellar/go/xdr"
	"go.uber.org/zap"

	"github.com/AquaToken/aqua-bribes/model"
)

type claimsStore interface {
	SaveClaimableBalance(ctx context.Context, cb *model.ClaimableBalance) error
}

type claimsGateway interface {
	ClaimableBalancesForAsset(ctx context.Context, asset model.Asset, cursor string, limit int) ([]hProtocol.ClaimableBalance, error)
}

// ClaimSnapshotter caches the day's claimable balances in the delegation
// assets. The cache is what lets the votes loader resolve aggregators and
// delegated inflows without hitting Horizon per voter.
type ClaimSnapshotter struct {
	cfg     Config
	store   claimsStore
	gateway claimsGateway
	logger  *zap.Logger
}

// NewClaimSnapshotter wires a claim snapshotter.
func NewClaimSnapshotter(cfg Config, st claimsStore, gw claimsGateway, logger *zap.Logger) *ClaimSnapshotter {
	return &ClaimSnapshotter{cfg: cfg, store: st, gateway: gw, logger: logger}
}

// Run snapshots both assets of every delegation pair.
func (s *ClaimSnapshotter) Run(ctx context.Context) error {
	for _, pair := range s.cfg.DelegationPairs {
		for _, asset := range []model.Asset{pair.Delegatable, pair.Delegated} {
			if err := s.snapshotAsset(ctx, asset); err != nil {
				return errors.Wrapf(err, "snapshotting balances of %s", asset.ShortString())
			}
		}
	}
	return nil
}

func (s *ClaimSnapshotter) snapshotAsset(ctx context.Context, asset model.Asset) error {
	cursor := ""
	total := 0
	for {
		records, err := s.gateway.ClaimableBalancesForAsset(ctx, asset, cursor, s.cfg.pageLimit())
		if err != nil {
			return err
		}
		if len(records) == 0 {
			break
		}

		for _, record := range records {
			cb, err := convertBalance(record)
			if err != nil {
				s.logger.Warn("skipping claimable balance",
					zap.String("balance_id", model.ShortKey(record.BalanceID)),
					zap.Error(err))
				continue
			}
			if err := s.store.SaveClaimableBalance(ctx, cb); err != nil {
				return err
			}
			total++
		}

		cursor = records[len(records)-1].PT
		if len(records) < s.cfg.pageLimit() {
			break
		}
	}

	s.logger.Info("claimable balances snapshotted",
		zap.String("asset", asset.ShortString()),
		zap.Int("count", total))
	return nil
}

// convertBalance maps a Horizon record into the cache model. The owner is
// the first claimant that can actually claim, skipping reject-all tags.
func convertBalance(record hProtocol.ClaimableBalance) (*model.ClaimableBalance, error) {
	asset, err := model.ParseAsset(record.Asset)
	if err != nil {
		return nil, errors.Wrap(err, "parsing asset")
	}
	amount, err := model.ParseAmount(record.Amount)
	if err != nil {
		return nil, errors.Wrap(err, "parsing amount")
	}

	cb := &model.ClaimableBalance{
		BalanceID:          record.BalanceID,
		Asset:              asset,
		Amount:             amount,
		Sponsor:            record.Sponsor,
		PagingToken:        record.PT,
		LastModifiedLedger: record.LastModifiedLedger,
		LastModifiedTime:   record.LastModifiedTime,
	}
	for _, claimant := range record.Claimants {
		predicate, err := xdr.MarshalBase64(claimant.Predicate)
		if err != nil {
			return nil, errors.Wrap(err, "encoding predicate")
		}
		cb.Claimants = append(cb.Claimants, model.Claimant{
			Destination:  claimant.Destination,
			PredicateXDR: predicate,
		})
		if cb.Owner == "" && !isUnclaimable(claimant.Predicate) {
			cb.Owner = claimant.Destination
		}
	}
	return cb, nil
}

// isUnclaimable recognizes not(unconditional), the predicate used to tag a
// balance with an account that can never claim it.
func isUnclaimable(p xdr.ClaimPredicate) bool {
	not, ok := p.GetNotPredicate()
	return ok && not != nil && not.Type == xdr.ClaimPredicateTypeClaimPredicateUnconditional
}
