package bribes

import (
	"testing"

	"github.com/stellar/go/xdr"

	"github.com/AquaToken/aqua-bribes/model"
)

func trustlineEntry(t *testing.T, account string, asset model.Asset, balance int64) *xdr.LedgerEntry {
	t.Helper()
	line := xdr.MustNewCreditAsset(asset.Code, asset.Issuer)
	return &xdr.LedgerEntry{
		Data: xdr.LedgerEntryData{
			Type: xdr.LedgerEntryTypeTrustline,
			TrustLine: &xdr.TrustLineEntry{
				AccountId: xdr.MustAddress(account),
				Asset:     line.ToTrustLineAsset(),
				Balance:   xdr.Int64(balance),
			},
		},
	}
}

func accountEntry(t *testing.T, account string, balance int64) *xdr.LedgerEntry {
	t.Helper()
	return &xdr.LedgerEntry{
		Data: xdr.LedgerEntryData{
			Type: xdr.LedgerEntryTypeAccount,
			Account: &xdr.AccountEntry{
				AccountId: xdr.MustAddress(account),
				Balance:   xdr.Int64(balance),
			},
		},
	}
}

func stateChange(entry *xdr.LedgerEntry) xdr.LedgerEntryChange {
	return xdr.LedgerEntryChange{Type: xdr.LedgerEntryChangeTypeLedgerEntryState, State: entry}
}

func updatedChange(entry *xdr.LedgerEntry) xdr.LedgerEntryChange {
	return xdr.LedgerEntryChange{Type: xdr.LedgerEntryChangeTypeLedgerEntryUpdated, Updated: entry}
}

func createdChange(entry *xdr.LedgerEntry) xdr.LedgerEntryChange {
	return xdr.LedgerEntryChange{Type: xdr.LedgerEntryChangeTypeLedgerEntryCreated, Created: entry}
}

func metaBase64(t *testing.T, ops []xdr.OperationMeta) string {
	t.Helper()
	meta := xdr.TransactionMeta{V: 2, V2: &xdr.TransactionMetaV2{Operations: ops}}
	encoded, err := xdr.MarshalBase64(meta)
	if err != nil {
		t.Fatal(err)
	}
	return encoded
}

func TestConversionDeltas(t *testing.T) {
	src := model.Asset{Code: "USDC", Issuer: testIssuer}
	dst := model.Asset{Code: "AQUA", Issuer: testIssuer}

	// Claim creates the source trustline with the full pledge, the path
	// payment then spends part of it buying the reward slice.
	ops := []xdr.OperationMeta{
		{Changes: xdr.LedgerEntryChanges{
			createdChange(trustlineEntry(t, testHouse, src, 250*model.One)),
		}},
		{Changes: xdr.LedgerEntryChanges{
			stateChange(trustlineEntry(t, testHouse, src, 250*model.One)),
			updatedChange(trustlineEntry(t, testHouse, src, 247*model.One)),
			stateChange(trustlineEntry(t, testHouse, dst, 50*model.One)),
			updatedChange(trustlineEntry(t, testHouse, dst, 50*model.One+10000)),
		}},
	}

	srcDelta, dstDelta, err := conversionDeltas(metaBase64(t, ops), testHouse, src, dst)
	if err != nil {
		t.Fatal(err)
	}
	if srcDelta != 247*model.One {
		t.Errorf("src delta = %d, want %d", srcDelta, 247*model.One)
	}
	if dstDelta != 10000 {
		t.Errorf("dst delta = %d, want %d", dstDelta, 10000)
	}
}

func TestConversionDeltasExistingTrustline(t *testing.T) {
	src := model.Asset{Code: "USDC", Issuer: testIssuer}
	dst := model.Asset{Code: "AQUA", Issuer: testIssuer}

	ops := []xdr.OperationMeta{
		{Changes: xdr.LedgerEntryChanges{
			stateChange(trustlineEntry(t, testHouse, src, 5*model.One)),
			updatedChange(trustlineEntry(t, testHouse, src, 255*model.One)),
		}},
		{Changes: xdr.LedgerEntryChanges{
			stateChange(trustlineEntry(t, testHouse, src, 255*model.One)),
			updatedChange(trustlineEntry(t, testHouse, src, 252*model.One)),
			stateChange(trustlineEntry(t, testHouse, dst, 0)),
			updatedChange(trustlineEntry(t, testHouse, dst, 10000)),
		}},
	}

	srcDelta, dstDelta, err := conversionDeltas(metaBase64(t, ops), testHouse, src, dst)
	if err != nil {
		t.Fatal(err)
	}
	// The first State seen is the true pre-image; later States are ignored.
	if srcDelta != 247*model.One {
		t.Errorf("src delta = %d, want %d", srcDelta, 247*model.One)
	}
	if dstDelta != 10000 {
		t.Errorf("dst delta = %d", dstDelta)
	}
}

func TestConversionDeltasNativeSource(t *testing.T) {
	src := model.NativeAsset()
	dst := model.Asset{Code: "AQUA", Issuer: testIssuer}

	ops := []xdr.OperationMeta{
		{Changes: xdr.LedgerEntryChanges{
			stateChange(accountEntry(t, testHouse, 1000*model.One)),
			updatedChange(accountEntry(t, testHouse, 1100*model.One)),
		}},
		{Changes: xdr.LedgerEntryChanges{
			stateChange(accountEntry(t, testHouse, 1100*model.One)),
			updatedChange(accountEntry(t, testHouse, 1098*model.One)),
			stateChange(trustlineEntry(t, testHouse, dst, 0)),
			updatedChange(trustlineEntry(t, testHouse, dst, 10000)),
		}},
	}

	srcDelta, dstDelta, err := conversionDeltas(metaBase64(t, ops), testHouse, src, dst)
	if err != nil {
		t.Fatal(err)
	}
	if srcDelta != 98*model.One {
		t.Errorf("src delta = %d, want %d", srcDelta, 98*model.One)
	}
	if dstDelta != 10000 {
		t.Errorf("dst delta = %d", dstDelta)
	}
}

func TestConversionDeltasIgnoresOtherAccounts(t *testing.T) {
	src := model.Asset{Code: "USDC", Issuer: testIssuer}
	dst := model.Asset{Code: "AQUA", Issuer: testIssuer}

	ops := []xdr.OperationMeta{
		{Changes: xdr.LedgerEntryChanges{
			stateChange(trustlineEntry(t, testMarket, src, 9000*model.One)),
			updatedChange(trustlineEntry(t, testMarket, src, 8000*model.One)),
			stateChange(trustlineEntry(t, testHouse, src, 10*model.One)),
			updatedChange(trustlineEntry(t, testHouse, src, 12*model.One)),
		}},
	}

	srcDelta, dstDelta, err := conversionDeltas(metaBase64(t, ops), testHouse, src, dst)
	if err != nil {
		t.Fatal(err)
	}
	if srcDelta != 2*model.One {
		t.Errorf("src delta = %d, want %d", srcDelta, 2*model.One)
	}
	if dstDelta != 0 {
		t.Errorf("dst delta = %d, want 0", dstDelta)
	}
}

func TestConversionDeltasBadMeta(t *testing.T) {
	if _, _, err := conversionDeltas("not base64 xdr", testHouse, model.NativeAsset(), model.NativeAsset()); err == nil {
		t.Error("garbage meta accepted")
	}
}
