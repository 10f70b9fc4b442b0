package bribes

import (
	"strings"

	"github.com/stellar/go/support/errors"
	"github.com/stellar/go/xdr"

	"github.com/AquaToken/aqua-bribes/model"
)

// conversionDeltas computes the net balance change of account in the src and
// dst assets across a transaction's operation meta. For a claim-and-convert
// transaction the src delta is the pledge remainder kept in the source asset
// and the dst delta is the reward-asset slice actually received.
func conversionDeltas(metaXDR, account string, src, dst model.Asset) (srcDelta, dstDelta int64, err error) {
	var meta xdr.TransactionMeta
	if err := xdr.SafeUnmarshalBase64(metaXDR, &meta); err != nil {
		return 0, 0, errors.Wrap(err, "unmarshaling result meta")
	}

	pre := make(map[model.Asset]int64)
	post := make(map[model.Asset]int64)
	seen := make(map[model.Asset]bool)

	for _, changes := range operationChanges(meta) {
		for _, change := range changes {
			switch change.Type {
			case xdr.LedgerEntryChangeTypeLedgerEntryState:
				if balance, asset, ok := entryBalance(change.State, account); ok && !seen[asset] {
					pre[asset] = balance
					post[asset] = balance
					seen[asset] = true
				}
			case xdr.LedgerEntryChangeTypeLedgerEntryCreated:
				if balance, asset, ok := entryBalance(change.Created, account); ok {
					if !seen[asset] {
						seen[asset] = true
					}
					post[asset] = balance
				}
			case xdr.LedgerEntryChangeTypeLedgerEntryUpdated:
				if balance, asset, ok := entryBalance(change.Updated, account); ok {
					if !seen[asset] {
						pre[asset] = balance
						seen[asset] = true
					}
					post[asset] = balance
				}
			case xdr.LedgerEntryChangeTypeLedgerEntryRemoved:
				// Removal of the house trustlines does not happen in claim
				// or conversion transactions.
			}
		}
	}

	return post[src] - pre[src], post[dst] - pre[dst], nil
}

func operationChanges(meta xdr.TransactionMeta) []xdr.LedgerEntryChanges {
	var out []xdr.LedgerEntryChanges
	appendOps := func(ops []xdr.OperationMeta) {
		for _, op := range ops {
			out = append(out, op.Changes)
		}
	}
	switch meta.V {
	case 0:
		if meta.Operations != nil {
			appendOps(*meta.Operations)
		}
	case 1:
		appendOps(meta.V1.Operations)
	case 2:
		appendOps(meta.V2.Operations)
	case 3:
		appendOps(meta.V3.Operations)
	case 4:
		for _, op := range meta.V4.Operations {
			out = append(out, op.Changes)
		}
	}
	return out
}

// entryBalance extracts the account's balance from an account entry (native)
// or one of its trustline entries (credit assets).
func entryBalance(entry *xdr.LedgerEntry, account string) (int64, model.Asset, bool) {
	if entry == nil {
		return 0, model.Asset{}, false
	}
	if acc := entry.Data.Account; acc != nil {
		if acc.AccountId.Address() != account {
			return 0, model.Asset{}, false
		}
		return int64(acc.Balance), model.NativeAsset(), true
	}
	if tl := entry.Data.TrustLine; tl != nil {
		if tl.AccountId.Address() != account {
			return 0, model.Asset{}, false
		}
		asset, ok := trustlineAsset(tl.Asset)
		if !ok {
			return 0, model.Asset{}, false
		}
		return int64(tl.Balance), asset, true
	}
	return 0, model.Asset{}, false
}

func trustlineAsset(a xdr.TrustLineAsset) (model.Asset, bool) {
	switch a.Type {
	case xdr.AssetTypeAssetTypeCreditAlphanum4:
		return model.Asset{
			Code:   strings.TrimRight(string(a.AlphaNum4.AssetCode[:]), "\x00"),
			Issuer: a.AlphaNum4.Issuer.Address(),
		}, true
	case xdr.AssetTypeAssetTypeCreditAlphanum12:
		return model.Asset{
			Code:   strings.TrimRight(string(a.AlphaNum12.AssetCode[:]), "\x00"),
			Issuer: a.AlphaNum12.Issuer.Address(),
		}, true
	}
	return model.Asset{}, false
}
