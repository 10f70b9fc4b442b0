// Package ledger is a thin gateway over the Horizon API: account info,
// claimable-balance and holder paging, path quotes, transaction submission
// and fetch. Every failure is categorized (see errors.go) so callers can
// apply the retry policy without inspecting HTTP details.
package ledger

import (
	"context"
	"net/http"
	"time"

	"github.com/stellar/go/clients/horizonclient"
	hProtocol "github.com/stellar/go/protocols/horizon"
	"github.com/stellar/go/support/errors"
	"github.com/stellar/go/txnbuild"
	"go.uber.org/zap"

	"github.com/AquaToken/aqua-bribes/model"
)

// PathQuote is one priced conversion path between two assets.
type PathQuote struct {
	SourceAmount      int64
	DestinationAmount int64
	Path              []model.Asset
}

// horizonAPI is the slice of the Horizon client the gateway needs. Some of
// these methods are not part of horizonclient.ClientInterface, so the
// concrete client is the reference implementation.
type horizonAPI interface {
	AccountDetail(request horizonclient.AccountRequest) (hProtocol.Account, error)
	ClaimableBalances(request horizonclient.ClaimableBalanceRequest) (hProtocol.ClaimableBalances, error)
	Accounts(request horizonclient.AccountsRequest) (hProtocol.AccountsPage, error)
	StrictReceivePaths(request horizonclient.PathsRequest) (hProtocol.PathsPage, error)
	StrictSendPaths(request horizonclient.StrictSendPathsRequest) (hProtocol.PathsPage, error)
	SubmitTransactionWithOptions(tx *txnbuild.Transaction, opts horizonclient.SubmitTxOpts) (hProtocol.Transaction, error)
	TransactionDetail(txHash string) (hProtocol.Transaction, error)
}

var _ horizonAPI = (*horizonclient.Client)(nil)

// Gateway wraps a Horizon client. All methods are blocking; the context is
// checked before each call so jobs can honor their soft deadline between
// pages.
type Gateway struct {
	client horizonAPI
	logger *zap.Logger
}

// New returns a Gateway talking to the given Horizon instance.
func New(horizonURL string, logger *zap.Logger) *Gateway {
	return NewWithClient(&horizonclient.Client{
		HorizonURL: horizonURL,
		HTTP:       &http.Client{Timeout: 60 * time.Second},
	}, logger)
}

// NewWithClient wraps an existing client, typically a fake in tests.
func NewWithClient(client horizonAPI, logger *zap.Logger) *Gateway {
	return &Gateway{client: client, logger: logger}
}

// AccountDetail fetches an account record.
func (g *Gateway) AccountDetail(ctx context.Context, accountID string) (hProtocol.Account, error) {
	if err := ctx.Err(); err != nil {
		return hProtocol.Account{}, err
	}
	account, err := g.client.AccountDetail(horizonclient.AccountRequest{AccountID: accountID})
	if err != nil {
		return hProtocol.Account{}, Categorize(err)
	}
	return account, nil
}

// ClaimableBalancesForClaimant pages claimable balances addressed to the
// given claimant in ascending paging-token order.
func (g *Gateway) ClaimableBalancesForClaimant(ctx context.Context, claimant, cursor string, limit int) ([]hProtocol.ClaimableBalance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page, err := g.client.ClaimableBalances(horizonclient.ClaimableBalanceRequest{
		Claimant: claimant,
		Cursor:   cursor,
		Limit:    uint(limit),
	})
	if err != nil {
		return nil, Categorize(err)
	}
	return page.Embedded.Records, nil
}

// ClaimableBalancesForAsset pages claimable balances holding the given asset.
func (g *Gateway) ClaimableBalancesForAsset(ctx context.Context, asset model.Asset, cursor string, limit int) ([]hProtocol.ClaimableBalance, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	page, err := g.client.ClaimableBalances(horizonclient.ClaimableBalanceRequest{
		Asset:  asset.String(),
		Cursor: cursor,
		Limit:  uint(limit),
	})
	if err != nil {
		return nil, Categorize(err)
	}
	return page.Embedded.Records, nil
}

// AccountsForAsset pages accounts holding a trustline to the given asset.
func (g *Gateway) AccountsForAsset(ctx context.Context, asset model.Asset, cursor string, limit int) ([]hProtocol.Account, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if asset.IsNative() {
		return nil, errors.New("cannot list holders of the native asset")
	}
	page, err := g.client.Accounts(horizonclient.AccountsRequest{
		Asset:  asset.Code + ":" + asset.Issuer,
		Cursor: cursor,
		Limit:  uint(limit),
		Order:  horizonclient.OrderAsc,
	})
	if err != nil {
		return nil, Categorize(err)
	}
	return page.Embedded.Records, nil
}

// StrictReceivePaths quotes paths delivering exactly destAmount of dst,
// spending src. Returns an empty slice when no path exists.
func (g *Gateway) StrictReceivePaths(ctx context.Context, src, dst model.Asset, destAmount int64) ([]PathQuote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req := horizonclient.PathsRequest{
		DestinationAmount:    model.FormatAmount(destAmount),
		DestinationAssetType: horizonclient.AssetType(dst.HorizonType()),
		SourceAssets:         src.String(),
	}
	if !dst.IsNative() {
		req.DestinationAssetCode = dst.Code
		req.DestinationAssetIssuer = dst.Issuer
	}
	page, err := g.client.StrictReceivePaths(req)
	if err != nil {
		return nil, Categorize(err)
	}
	return convertPaths(page.Embedded.Records)
}

// StrictSendPaths quotes paths spending exactly srcAmount of src towards
// dst. Returns an empty slice when no path exists.
func (g *Gateway) StrictSendPaths(ctx context.Context, src model.Asset, srcAmount int64, dst model.Asset) ([]PathQuote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	req := horizonclient.StrictSendPathsRequest{
		SourceAmount:      model.FormatAmount(srcAmount),
		SourceAssetType:   horizonclient.AssetType(src.HorizonType()),
		DestinationAssets: dst.String(),
	}
	if !src.IsNative() {
		req.SourceAssetCode = src.Code
		req.SourceAssetIssuer = src.Issuer
	}
	page, err := g.client.StrictSendPaths(req)
	if err != nil {
		return nil, Categorize(err)
	}
	return convertPaths(page.Embedded.Records)
}

func convertPaths(records []hProtocol.Path) ([]PathQuote, error) {
	quotes := make([]PathQuote, 0, len(records))
	for _, rec := range records {
		srcAmount, err := model.ParseAmount(rec.SourceAmount)
		if err != nil {
			return nil, errors.Wrap(err, "parsing path source amount")
		}
		dstAmount, err := model.ParseAmount(rec.DestinationAmount)
		if err != nil {
			return nil, errors.Wrap(err, "parsing path destination amount")
		}
		quote := PathQuote{SourceAmount: srcAmount, DestinationAmount: dstAmount}
		for _, hop := range rec.Path {
			if hop.Type == "native" {
				quote.Path = append(quote.Path, model.NativeAsset())
			} else {
				quote.Path = append(quote.Path, model.Asset{Code: hop.Code, Issuer: hop.Issuer})
			}
		}
		quotes = append(quotes, quote)
	}
	return quotes, nil
}

// Submit sends a signed transaction to the network.
func (g *Gateway) Submit(ctx context.Context, tx *txnbuild.Transaction) (hProtocol.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return hProtocol.Transaction{}, err
	}
	resp, err := g.client.SubmitTransactionWithOptions(tx, horizonclient.SubmitTxOpts{SkipMemoRequiredCheck: true})
	if err != nil {
		return hProtocol.Transaction{}, Categorize(err)
	}
	return resp, nil
}

// TransactionDetail fetches a transaction by hash, including result meta.
func (g *Gateway) TransactionDetail(ctx context.Context, hash string) (hProtocol.Transaction, error) {
	if err := ctx.Err(); err != nil {
		return hProtocol.Transaction{}, err
	}
	resp, err := g.client.TransactionDetail(hash)
	if err != nil {
		return hProtocol.Transaction{}, Categorize(err)
	}
	return resp, nil
}
