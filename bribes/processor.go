package bribes

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/stellar/go/keypair"
	hProtocol "github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/support/errors"
	"github.com/stellar/go/txnbuild"
	"go.uber.org/zap"

	"github.com/AquaToken/aqua-bribes/ledger"
	"github.com/AquaToken/aqua-bribes/metrics"
	"github.com/AquaToken/aqua-bribes/model"
)

type processorStore interface {
	BribesReadyToClaim(ctx context.Context, now time.Time) ([]*model.Bribe, error)
	BribesReadyToReturn(ctx context.Context, now time.Time) ([]*model.Bribe, error)
	PendingBribes(ctx context.Context) ([]*model.Bribe, error)
	UpdateBribe(ctx context.Context, b *model.Bribe) error
	RunningAggregatedBribes(ctx context.Context, now time.Time) ([]*model.AggregatedBribe, error)
	UpdateAggregatedEquivalent(ctx context.Context, id, equivalent int64) error
}

type processorGateway interface {
	AccountDetail(ctx context.Context, accountID string) (hProtocol.Account, error)
	StrictReceivePaths(ctx context.Context, src, dst model.Asset, destAmount int64) ([]ledger.PathQuote, error)
	StrictSendPaths(ctx context.Context, src model.Asset, srcAmount int64, dst model.Asset) ([]ledger.PathQuote, error)
	Submit(ctx context.Context, tx *txnbuild.Transaction) (hProtocol.Transaction, error)
}

// Processor drives unlocked pledges through claim, conversion and refund.
type Processor struct {
	cfg     Config
	store   processorStore
	gateway processorGateway
	signer  *keypair.Full
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewProcessor wires a processor, parsing the signing key.
func NewProcessor(cfg Config, st processorStore, gw processorGateway, logger *zap.Logger, m *metrics.Metrics) (*Processor, error) {
	signer, err := keypair.ParseFull(cfg.SignerSecret)
	if err != nil {
		return nil, errors.Wrap(err, "parsing signer secret")
	}
	if signer.Address() != cfg.HouseAccount {
		logger.Info("signer differs from house account, assuming delegated signing",
			zap.String("signer", model.ShortKey(signer.Address())))
	}
	return &Processor{cfg: cfg, store: st, gateway: gw, signer: signer, logger: logger, metrics: m}, nil
}

// Claim repeatedly sweeps pledges whose unlock time has passed. Each sweep
// claims and converts one pledge per transaction; sweeping stops when the
// queue drains, a sweep makes no progress, or the context expires.
func (p *Processor) Claim(ctx context.Context) error {
	for {
		pending, err := p.store.BribesReadyToClaim(ctx, time.Now().UTC())
		if err != nil {
			return err
		}
		if len(pending) == 0 {
			return nil
		}

		progress := false
		for _, bribe := range pending {
			if err := ctx.Err(); err != nil {
				return err
			}
			changed, err := p.claimOne(ctx, bribe)
			if err != nil {
				p.logger.Error("claim failed",
					zap.String("balance_id", model.ShortKey(bribe.ClaimableBalanceID)),
					zap.Error(err))
				continue
			}
			progress = progress || changed
		}
		if !progress {
			return nil
		}
	}
}

// claimOne claims one pledge and carves the reward-asset slice out of it.
// The returned bool reports whether the bribe left the pending state.
func (p *Processor) claimOne(ctx context.Context, bribe *model.Bribe) (bool, error) {
	logger := p.logger.With(
		zap.String("balance_id", model.ShortKey(bribe.ClaimableBalanceID)),
		zap.String("asset", bribe.Asset.ShortString()))

	pure := bribe.Asset == p.cfg.RewardAsset
	if pure && bribe.Amount < p.cfg.ConversionAmount {
		bribe.Status = model.StatusNoPathForConversion
		bribe.AppendMessage("amount below the conversion slice")
		return true, p.store.UpdateBribe(ctx, bribe)
	}

	var conversion *ledger.PathQuote
	if !pure {
		quote, err := p.quoteConversion(ctx, bribe)
		if err != nil {
			return false, err
		}
		if quote == nil {
			bribe.Status = model.StatusNoPathForConversion
			bribe.AppendMessage("no conversion path within the pledged amount")
			return true, p.store.UpdateBribe(ctx, bribe)
		}
		conversion = quote
	}

	account, err := p.gateway.AccountDetail(ctx, p.cfg.HouseAccount)
	if err != nil {
		return false, err
	}

	ops := []txnbuild.Operation{}
	if !bribe.Asset.IsNative() && !hasTrustline(account, bribe.Asset) {
		ops = append(ops, &txnbuild.ChangeTrust{Line: bribe.Asset.ToChangeTrust()})
	}
	if !pure && !p.cfg.RewardAsset.IsNative() && !hasTrustline(account, p.cfg.RewardAsset) {
		ops = append(ops, &txnbuild.ChangeTrust{Line: p.cfg.RewardAsset.ToChangeTrust()})
	}
	ops = append(ops, &txnbuild.ClaimClaimableBalance{BalanceID: bribe.ClaimableBalanceID})
	if conversion != nil {
		ops = append(ops, &txnbuild.PathPaymentStrictReceive{
			SendAsset:   bribe.Asset.ToTxnbuild(),
			SendMax:     model.FormatAmount(bribe.Amount),
			Destination: p.cfg.HouseAccount,
			DestAsset:   p.cfg.RewardAsset.ToTxnbuild(),
			DestAmount:  model.FormatAmount(p.cfg.ConversionAmount),
			Path:        toTxnbuildPath(conversion.Path),
		})
	}

	resp, err := p.submit(ctx, &account, ops, "")
	if err != nil {
		return p.recordSubmitFailure(ctx, bribe, err, model.StatusFailedClaim, "claim")
	}

	if pure {
		bribe.AmountForBribes = bribe.Amount - p.cfg.ConversionAmount
		bribe.AmountReward = p.cfg.ConversionAmount
	} else {
		srcDelta, dstDelta, merr := conversionDeltas(resp.ResultMetaXdr, p.cfg.HouseAccount, bribe.Asset, p.cfg.RewardAsset)
		if merr != nil {
			// The transaction made it to the ledger; fall back to the quote
			// rather than abandoning the record.
			logger.Error("conversion accounting failed, using quote", zap.Error(merr))
			srcDelta = bribe.Amount - conversion.SourceAmount
			dstDelta = p.cfg.ConversionAmount
		}
		bribe.AmountForBribes = srcDelta
		bribe.AmountReward = dstDelta
	}

	bribe.Status = model.StatusActive
	bribe.ConversionTxHash = resp.Hash
	// Retried claims can carry a window that already started; realign it so
	// the epoch being funded is the one the aggregator will pool.
	bribe.UpdateActivePeriod(time.Now().UTC())
	p.metrics.BribesClaimed.Inc()
	logger.Info("bribe claimed",
		zap.String("tx", model.ShortKey(resp.Hash)),
		zap.Int64("amount_for_bribes", bribe.AmountForBribes),
		zap.Int64("amount_reward", bribe.AmountReward))
	return true, p.store.UpdateBribe(ctx, bribe)
}

// quoteConversion finds the cheapest path buying the conversion slice with
// the pledged asset. Nil means no affordable path exists.
func (p *Processor) quoteConversion(ctx context.Context, bribe *model.Bribe) (*ledger.PathQuote, error) {
	quotes, err := p.gateway.StrictReceivePaths(ctx, bribe.Asset, p.cfg.RewardAsset, p.cfg.ConversionAmount)
	if err != nil {
		return nil, err
	}
	var best *ledger.PathQuote
	for i := range quotes {
		q := &quotes[i]
		if q.SourceAmount > bribe.Amount {
			continue
		}
		if best == nil || q.SourceAmount < best.SourceAmount {
			best = q
		}
	}
	return best, nil
}

// Return refunds pledges owed back to their sponsor: malformed ones past
// their unlock time and ones without a conversion path.
func (p *Processor) Return(ctx context.Context) error {
	owed, err := p.store.BribesReadyToReturn(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	for _, bribe := range owed {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.returnOne(ctx, bribe); err != nil {
			p.logger.Error("return failed",
				zap.String("balance_id", model.ShortKey(bribe.ClaimableBalanceID)),
				zap.Error(err))
		}
	}
	return nil
}

func (p *Processor) returnOne(ctx context.Context, bribe *model.Bribe) error {
	account, err := p.gateway.AccountDetail(ctx, p.cfg.HouseAccount)
	if err != nil {
		return err
	}

	ops := []txnbuild.Operation{}
	if !bribe.Asset.IsNative() && !hasTrustline(account, bribe.Asset) {
		ops = append(ops, &txnbuild.ChangeTrust{Line: bribe.Asset.ToChangeTrust()})
	}
	ops = append(ops,
		&txnbuild.ClaimClaimableBalance{BalanceID: bribe.ClaimableBalanceID},
		&txnbuild.Payment{
			Destination: bribe.Sponsor,
			Amount:      model.FormatAmount(bribe.Amount),
			Asset:       bribe.Asset.ToTxnbuild(),
		},
	)

	resp, err := p.submit(ctx, &account, ops, "")
	if err != nil {
		_, rerr := p.recordSubmitFailure(ctx, bribe, err, model.StatusFailedReturn, "return")
		return rerr
	}

	bribe.Status = model.StatusReturned
	bribe.RefundTxHash = resp.Hash
	p.metrics.BribesReturned.Inc()
	p.logger.Info("bribe returned",
		zap.String("balance_id", model.ShortKey(bribe.ClaimableBalanceID)),
		zap.String("sponsor", model.ShortKey(bribe.Sponsor)),
		zap.String("tx", model.ShortKey(resp.Hash)))
	return p.store.UpdateBribe(ctx, bribe)
}

func (p *Processor) submit(ctx context.Context, account *hProtocol.Account, ops []txnbuild.Operation, memo string) (hProtocol.Transaction, error) {
	params := txnbuild.TransactionParams{
		SourceAccount:        account,
		IncrementSequenceNum: true,
		Operations:           ops,
		BaseFee:              p.cfg.BaseFee,
		Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(300)},
	}
	if memo != "" {
		params.Memo = txnbuild.MemoText(memo)
	}
	tx, err := txnbuild.NewTransaction(params)
	if err != nil {
		return hProtocol.Transaction{}, errors.Wrap(err, "building transaction")
	}
	tx, err = tx.Sign(p.cfg.NetworkPassphrase, p.signer)
	if err != nil {
		return hProtocol.Transaction{}, errors.Wrap(err, "signing transaction")
	}
	return p.gateway.Submit(ctx, tx)
}

// recordSubmitFailure applies the retry policy to a failed submission.
// Timeouts and sequencing races leave the bribe untouched for the next
// sweep; hard ledger rejections pin the failure status with its reason.
func (p *Processor) recordSubmitFailure(ctx context.Context, bribe *model.Bribe, err error, failed model.BribeStatus, kind string) (bool, error) {
	var lerr *ledger.Error
	if !stderrors.As(err, &lerr) {
		return false, err
	}
	if lerr.SafeToRetrySubmit() || lerr.Retryable() {
		p.metrics.TxSubmitted.WithLabelValues(kind, "retry").Inc()
		p.logger.Warn("submission will be retried",
			zap.String("balance_id", model.ShortKey(bribe.ClaimableBalanceID)),
			zap.Error(err))
		return false, nil
	}
	if lerr.Kind == ledger.KindTransaction {
		p.metrics.TxSubmitted.WithLabelValues(kind, "failed").Inc()
		bribe.Status = failed
		bribe.AppendMessage(lerr.FailReason())
		return true, p.store.UpdateBribe(ctx, bribe)
	}
	return false, err
}

// RefreshPendingEquivalents re-prices pending pledges in the reward asset.
func (p *Processor) RefreshPendingEquivalents(ctx context.Context) error {
	pending, err := p.store.PendingBribes(ctx)
	if err != nil {
		return err
	}
	for _, bribe := range pending {
		if err := ctx.Err(); err != nil {
			return err
		}
		equivalent, err := p.rewardEquivalent(ctx, bribe.Asset, bribe.Amount)
		if err != nil {
			p.logger.Warn("equivalent refresh failed",
				zap.String("balance_id", model.ShortKey(bribe.ClaimableBalanceID)),
				zap.Error(err))
			continue
		}
		if equivalent == bribe.RewardEquivalent {
			continue
		}
		bribe.RewardEquivalent = equivalent
		if err := p.store.UpdateBribe(ctx, bribe); err != nil {
			return err
		}
	}
	return nil
}

// RefreshPoolEquivalents re-prices the running epoch pools.
func (p *Processor) RefreshPoolEquivalents(ctx context.Context) error {
	pools, err := p.store.RunningAggregatedBribes(ctx, time.Now().UTC())
	if err != nil {
		return err
	}
	for _, pool := range pools {
		if err := ctx.Err(); err != nil {
			return err
		}
		equivalent, err := p.rewardEquivalent(ctx, pool.Asset, pool.TotalReward)
		if err != nil {
			p.logger.Warn("pool equivalent refresh failed",
				zap.Int64("pool_id", pool.ID), zap.Error(err))
			continue
		}
		if equivalent == pool.RewardEquivalent {
			continue
		}
		if err := p.store.UpdateAggregatedEquivalent(ctx, pool.ID, equivalent); err != nil {
			return err
		}
	}
	return nil
}

func (p *Processor) rewardEquivalent(ctx context.Context, asset model.Asset, amount int64) (int64, error) {
	if asset == p.cfg.RewardAsset {
		return amount, nil
	}
	quotes, err := p.gateway.StrictSendPaths(ctx, asset, amount, p.cfg.RewardAsset)
	if err != nil {
		return 0, err
	}
	return bestDestination(quotes), nil
}

func hasTrustline(account hProtocol.Account, asset model.Asset) bool {
	if asset.IsNative() {
		return true
	}
	for _, balance := range account.Balances {
		if balance.Code == asset.Code && balance.Issuer == asset.Issuer {
			return true
		}
	}
	return false
}

func toTxnbuildPath(path []model.Asset) []txnbuild.Asset {
	out := make([]txnbuild.Asset, 0, len(path))
	for _, hop := range path {
		out = append(out, hop.ToTxnbuild())
	}
	return out
}
