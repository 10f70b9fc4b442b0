package rewards

import (
	"context"
	"time"

	hProtocol "github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/support/errors"
	"go.uber.org/zap"

	"github.com/AquaToken/aqua-bribes/model"
	"github.com/AquaToken/aqua-bribes/store"
)

type trusteesStore interface {
	RunningAggregatedBribes(ctx context.Context, now time.Time) ([]*model.AggregatedBribe, error)
	InsertHolderSnapshots(ctx context.Context, rows []*model.AssetHolderSnapshot) error
	StateGet(ctx context.Context, key string) (string, error)
	StateSet(ctx context.Context, key, value string, ttl time.Duration) error
	StateDelete(ctx context.Context, key string) error
}

type trusteesGateway interface {
	AccountsForAsset(ctx context.Context, asset model.Asset, cursor string, limit int) ([]hProtocol.Account, error)
}

// TrusteeSnapshotter records which accounts hold a trustline to each pooled
// asset, and their balance. Payouts are gated on this snapshot so the payer
// never wastes an operation on an account that cannot receive the asset.
type TrusteeSnapshotter struct {
	cfg     Config
	store   trusteesStore
	gateway trusteesGateway
	logger  *zap.Logger
}

// NewTrusteeSnapshotter wires a trustee snapshotter.
func NewTrusteeSnapshotter(cfg Config, st trusteesStore, gw trusteesGateway, logger *zap.Logger) *TrusteeSnapshotter {
	return &TrusteeSnapshotter{cfg: cfg, store: st, gateway: gw, logger: logger}
}

// Run snapshots holders of every distinct non-native pooled asset. The
// paging cursor is persisted between pages, so an interrupted run resumes
// where it stopped instead of starting over.
func (s *TrusteeSnapshotter) Run(ctx context.Context) error {
	pools, err := s.store.RunningAggregatedBribes(ctx, time.Now().UTC())
	if err != nil {
		return err
	}

	seen := make(map[model.Asset]bool)
	for _, pool := range pools {
		if pool.Asset.IsNative() || seen[pool.Asset] {
			continue
		}
		seen[pool.Asset] = true
		if err := s.snapshotAsset(ctx, pool.Asset); err != nil {
			return errors.Wrapf(err, "snapshotting holders of %s", pool.Asset.ShortString())
		}
	}
	return nil
}

func (s *TrusteeSnapshotter) snapshotAsset(ctx context.Context, asset model.Asset) error {
	cursorKey := store.CursorKey(asset.Code, asset.Issuer)
	cursor, err := s.store.StateGet(ctx, cursorKey)
	if err != nil {
		return err
	}

	total := 0
	for {
		accounts, err := s.gateway.AccountsForAsset(ctx, asset, cursor, s.cfg.pageLimit())
		if err != nil {
			return err
		}
		if len(accounts) == 0 {
			break
		}

		rows := make([]*model.AssetHolderSnapshot, 0, len(accounts))
		for _, account := range accounts {
			balance, err := holderBalance(account, asset)
			if err != nil {
				s.logger.Warn("skipping holder with malformed balance",
					zap.String("account", model.ShortKey(account.AccountID)),
					zap.Error(err))
				continue
			}
			rows = append(rows, &model.AssetHolderSnapshot{
				Account: account.AccountID,
				Asset:   asset,
				Balance: balance,
			})
		}
		if err := s.store.InsertHolderSnapshots(ctx, rows); err != nil {
			return err
		}
		total += len(rows)

		cursor = accounts[len(accounts)-1].PT
		if err := s.store.StateSet(ctx, cursorKey, cursor, s.cfg.cursorTTL()); err != nil {
			return err
		}
		if len(accounts) < s.cfg.pageLimit() {
			break
		}
	}

	if err := s.store.StateDelete(ctx, cursorKey); err != nil {
		return err
	}
	s.logger.Info("asset holders snapshotted",
		zap.String("asset", asset.ShortString()),
		zap.Int("count", total))
	return nil
}

func holderBalance(account hProtocol.Account, asset model.Asset) (int64, error) {
	for _, balance := range account.Balances {
		if balance.Code == asset.Code && balance.Issuer == asset.Issuer {
			return model.ParseAmount(balance.Balance)
		}
	}
	return 0, errors.New("no matching trustline")
}
