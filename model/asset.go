package model

import (
	"fmt"
	"strings"

	"github.com/stellar/go/txnbuild"
)

// NativeCode is the asset code Horizon reports for lumens.
const NativeCode = "XLM"

// Asset identifies a Stellar asset. The zero Issuer marks the native asset.
type Asset struct {
	Code   string
	Issuer string
}

// NativeAsset returns the lumen asset.
func NativeAsset() Asset {
	return Asset{Code: NativeCode}
}

// ParseAsset parses the Horizon asset notation: "native" or "CODE:ISSUER".
func ParseAsset(s string) (Asset, error) {
	if s == "native" {
		return NativeAsset(), nil
	}
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return Asset{}, fmt.Errorf("invalid asset %q", s)
	}
	return Asset{Code: parts[0], Issuer: parts[1]}, nil
}

// IsNative reports whether a is the lumen asset.
func (a Asset) IsNative() bool {
	return a.Issuer == ""
}

// String renders the Horizon notation: "native" or "CODE:ISSUER".
func (a Asset) String() string {
	if a.IsNative() {
		return "native"
	}
	return a.Code + ":" + a.Issuer
}

// ShortString abbreviates the issuer for log and diagnostic output.
func (a Asset) ShortString() string {
	if a.IsNative() {
		return a.Code
	}
	return a.Code + ":" + ShortKey(a.Issuer)
}

// HorizonType returns the asset_type discriminator Horizon uses.
func (a Asset) HorizonType() string {
	switch {
	case a.IsNative():
		return "native"
	case len(a.Code) <= 4:
		return "credit_alphanum4"
	default:
		return "credit_alphanum12"
	}
}

// ToTxnbuild converts a to the transaction-builder representation.
func (a Asset) ToTxnbuild() txnbuild.Asset {
	if a.IsNative() {
		return txnbuild.NativeAsset{}
	}
	return txnbuild.CreditAsset{Code: a.Code, Issuer: a.Issuer}
}

// ToChangeTrust converts a to the change-trust line representation.
func (a Asset) ToChangeTrust() txnbuild.ChangeTrustAsset {
	return txnbuild.ChangeTrustAssetWrapper{Asset: txnbuild.CreditAsset{Code: a.Code, Issuer: a.Issuer}}
}

// ShortKey abbreviates a Stellar address or balance id as "ABCD...WXYZ".
func ShortKey(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:4] + "..." + s[len(s)-4:]
}
