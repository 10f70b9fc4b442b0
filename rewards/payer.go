package rewards

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

// retrySafeReasons are failure reasons that never poison a voter: the
// transaction bounced before any operation was evaluated, so the same
// payouts are simply retried on a later tick.
var retrySafeReasons = []string{
	"tx_bad_auth",
	"tx_bad_seq",
	"tx_insufficient_balance",
	"tx_insufficient_fee",
}

func isRetrySafeReason(reason string) bool {
	for _, safe := range retrySafeReasons {
		if reason == safe {
			return true
		}
	}
	return false
}

type payerStore interface {
	ActiveAggregatedBribes(ctx context.Context, at time.Time) ([]*model.AggregatedBribe, error)
	PayableVoteSnapshots(ctx context.Context, day time.Time, marketKey string, holdersOf *model.Asset) ([]*model.VoteSnapshot, error)
	PaidVoteSnapshotIDs(ctx context.Context, bribeID int64) (map[int64]bool, error)
	PoisonedVoteSnapshotIDs(ctx context.Context, bribeID int64, safeReasons []string) (map[int64]bool, error)
	TimedOutPayoutHashes(ctx context.Context, bribeID int64, before time.Time) ([]string, error)
	MarkPayoutsSuccessByHash(ctx context.Context, txHash string) error
	DeletePayoutsByHash(ctx context.Context, txHash string) error
	InsertPayouts(ctx context.Context, rows []*model.Payout) error
}

type payerGateway interface {
	AccountDetail(ctx context.Context, accountID string) (hProtocol.Account, error)
	Submit(ctx context.Context, tx *txnbuild.Transaction) (hProtocol.Transaction, error)
	TransactionDetail(ctx context.Context, hash string) (hProtocol.Transaction, error)
}

// Payer distributes each active pool's periodic reward across the day's
// eligible voters, proportionally to their stake.
type Payer struct {
	cfg     Config
	store   payerStore
	gateway payerGateway
	signer  *keypair.Full
	logger  *zap.Logger
	metrics *metrics.Metrics
}

// NewPayer wires a payer, parsing the signing key.
func NewPayer(cfg Config, st payerStore, gw payerGateway, logger *zap.Logger, m *metrics.Metrics) (*Payer, error) {
	signer, err := keypair.ParseFull(cfg.SignerSecret)
	if err != nil {
		return nil, errors.Wrap(err, "parsing signer secret")
	}
	return &Payer{cfg: cfg, store: st, gateway: gw, signer: signer, logger: logger, metrics: m}, nil
}

// Run pays one tick of every active pool. Pool failures are isolated: an
// error in one market does not block the others.
func (p *Payer) Run(ctx context.Context) error {
	now := time.Now().UTC()
	pools, err := p.store.ActiveAggregatedBribes(ctx, now)
	if err != nil {
		return err
	}
	for _, pool := range pools {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.payPool(ctx, pool, now); err != nil {
			p.logger.Error("pool payout failed",
				zap.Int64("pool_id", pool.ID),
				zap.String("market", model.ShortKey(pool.MarketKey)),
				zap.Error(err))
		}
	}
	return nil
}

func (p *Payer) payPool(ctx context.Context, pool *model.AggregatedBribe, now time.Time) error {
	if err := p.reconcile(ctx, pool, now); err != nil {
		return errors.Wrap(err, "reconciling timed out payouts")
	}

	reward := pool.TickReward(p.cfg.payPeriod())
	if reward <= 0 {
		return nil
	}

	var holdersOf *model.Asset
	if !pool.Asset.IsNative() {
		holdersOf = &pool.Asset
	}
	votes, err := p.store.PayableVoteSnapshots(ctx, now, pool.MarketKey, holdersOf)
	if err != nil {
		return err
	}

	// The proportion denominator covers every payable voter, including the
	// already-paid and poisoned ones: shares must not inflate as the
	// eligible set shrinks.
	var totalVotes int64
	for _, v := range votes {
		totalVotes += v.VotesValue
	}
	if totalVotes <= 0 {
		return nil
	}

	paid, err := p.store.PaidVoteSnapshotIDs(ctx, pool.ID)
	if err != nil {
		return err
	}
	poisoned, err := p.store.PoisonedVoteSnapshotIDs(ctx, pool.ID, retrySafeReasons)
	if err != nil {
		return err
	}
	minVotes := model.MinPayableVotes(totalVotes, reward)

	var eligible []*model.VoteSnapshot
	for _, v := range votes {
		if paid[v.ID] || poisoned[v.ID] || v.VotesValue < minVotes {
			continue
		}
		eligible = append(eligible, v)
	}

	for lo := 0; lo < len(eligible); lo += p.cfg.pagePayouts() {
		hi := lo + p.cfg.pagePayouts()
		if hi > len(eligible) {
			hi = len(eligible)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := p.payPage(ctx, pool, eligible[lo:hi], reward, totalVotes); err != nil {
			return err
		}
	}
	return nil
}

// payPage submits one transaction paying up to a page of voters and records
// the outcome per payout row.
func (p *Payer) payPage(ctx context.Context, pool *model.AggregatedBribe, page []*model.VoteSnapshot, reward, totalVotes int64) error {
	var ops []txnbuild.Operation
	var rows []*model.Payout
	for _, v := range page {
		amount := model.ProportionFloor(reward, v.VotesValue, totalVotes)
		if amount <= 0 {
			continue
		}
		ops = append(ops, &txnbuild.Payment{
			Destination: v.VotingAccount,
			Amount:      model.FormatAmount(amount),
			Asset:       pool.Asset.ToTxnbuild(),
		})
		rows = append(rows, &model.Payout{
			BribeID:        pool.ID,
			VoteSnapshotID: v.ID,
			VotingAccount:  v.VotingAccount,
			Asset:          pool.Asset,
			RewardAmount:   amount,
		})
	}
	if len(ops) == 0 {
		return nil
	}

	account, err := p.gateway.AccountDetail(ctx, p.cfg.HouseAccount)
	if err != nil {
		return err
	}
	tx, err := txnbuild.NewTransaction(txnbuild.TransactionParams{
		SourceAccount:        &account,
		IncrementSequenceNum: true,
		Operations:           ops,
		BaseFee:              p.cfg.BaseFee,
		Memo:                 txnbuild.MemoText(pool.MemoText()),
		Preconditions:        txnbuild.Preconditions{TimeBounds: txnbuild.NewTimeout(300)},
	})
	if err != nil {
		return errors.Wrap(err, "building payout transaction")
	}
	tx, err = tx.Sign(p.cfg.NetworkPassphrase, p.signer)
	if err != nil {
		return errors.Wrap(err, "signing payout transaction")
	}
	hash, err := tx.HashHex(p.cfg.NetworkPassphrase)
	if err != nil {
		return errors.Wrap(err, "hashing payout transaction")
	}

	resp, err := p.gateway.Submit(ctx, tx)
	if err == nil {
		for _, row := range rows {
			row.Status = model.PayoutSuccess
			row.TxHash = resp.Hash
		}
		p.metrics.PayoutsRecorded.WithLabelValues("success").Add(float64(len(rows)))
		p.logger.Info("payouts submitted",
			zap.String("market", model.ShortKey(pool.MarketKey)),
			zap.Int("payouts", len(rows)),
			zap.String("tx", model.ShortKey(resp.Hash)))
		return p.store.InsertPayouts(ctx, rows)
	}

	return p.recordPageFailure(ctx, rows, hash, err)
}

// recordPageFailure applies the payout retry policy. Timeouts park the page
// under the precomputed hash for later reconciliation. Ledger rejections
// with per-operation detail poison only the offending voters; rejections
// known to be retry-safe record nothing.
func (p *Payer) recordPageFailure(ctx context.Context, rows []*model.Payout, hash string, err error) error {
	var lerr *ledger.Error
	if !stderrors.As(err, &lerr) {
		return err
	}

	switch {
	case lerr.TimeoutPending():
		for _, row := range rows {
			row.Status = model.PayoutFailed
			row.TxHash = hash
			row.Message = model.PayoutMessageTimeout
		}
		p.metrics.PayoutsRecorded.WithLabelValues("timeout").Add(float64(len(rows)))
		p.logger.Warn("payout transaction timed out, parked for reconciliation",
			zap.String("tx", model.ShortKey(hash)))
		return p.store.InsertPayouts(ctx, rows)

	case lerr.Kind == ledger.KindTransaction:
		if len(lerr.OpCodes) == len(rows) {
			var failed []*model.Payout
			for i, code := range lerr.OpCodes {
				if code == "op_success" {
					continue
				}
				rows[i].Status = model.PayoutFailed
				rows[i].Message = code
				failed = append(failed, rows[i])
			}
			p.metrics.PayoutsRecorded.WithLabelValues("failed").Add(float64(len(failed)))
			return p.store.InsertPayouts(ctx, failed)
		}
		reason := lerr.FailReason()
		if isRetrySafeReason(reason) {
			p.logger.Warn("payout transaction bounced, will retry", zap.String("reason", reason))
			return nil
		}
		for _, row := range rows {
			row.Status = model.PayoutFailed
			row.Message = reason
		}
		p.metrics.PayoutsRecorded.WithLabelValues("failed").Add(float64(len(rows)))
		return p.store.InsertPayouts(ctx, rows)

	case lerr.Retryable():
		p.logger.Warn("payout submission failed, will retry", zap.Error(err))
		return nil
	}
	return err
}

// reconcile resolves payouts whose transaction outcome was unknown at
// submission time: confirmed transactions flip their rows to success,
// transactions that never made the ledger free their voters for retry.
func (p *Payer) reconcile(ctx context.Context, pool *model.AggregatedBribe, now time.Time) error {
	hashes, err := p.store.TimedOutPayoutHashes(ctx, pool.ID, now.Add(-p.cfg.reconcileAfter()))
	if err != nil {
		return err
	}
	for _, hash := range hashes {
		tx, err := p.gateway.TransactionDetail(ctx, hash)
		switch {
		case ledger.IsNotFound(err):
			if err := p.store.DeletePayoutsByHash(ctx, hash); err != nil {
				return err
			}
		case err != nil:
			return err
		case tx.Successful:
			if err := p.store.MarkPayoutsSuccessByHash(ctx, hash); err != nil {
				return err
			}
		default:
			if err := p.store.DeletePayoutsByHash(ctx, hash); err != nil {
				return err
			}
		}
	}
	return nil
}
