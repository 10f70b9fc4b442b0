package model

import (
	"math/big"

	"github.com/stellar/go/amount"
)

// All monetary values in this codebase are int64 stroops: fixed-point
// decimals with 7 fractional digits, the ledger's own representation.
// Conversion to and from decimal strings happens only at the Horizon and
// database boundaries. Binary floating point never touches money.

// One is one whole unit expressed in stroops.
const One int64 = 10000000

// ParseAmount converts a Horizon decimal string to stroops.
func ParseAmount(s string) (int64, error) {
	return amount.ParseInt64(s)
}

// FormatAmount converts stroops to the decimal string Horizon expects.
func FormatAmount(v int64) string {
	return amount.StringFromInt64(v)
}

// DivFloor divides non-negative v by positive d rounding toward zero.
func DivFloor(v, d int64) int64 {
	return v / d
}

// DivCeil divides non-negative v by positive d rounding away from zero.
func DivCeil(v, d int64) int64 {
	return (v + d - 1) / d
}

// ProportionFloor computes total*part/whole rounded down, carrying the
// intermediate product through big.Int so stroop-scale values cannot
// overflow. whole must be positive.
func ProportionFloor(total, part, whole int64) int64 {
	p := new(big.Int).Mul(big.NewInt(total), big.NewInt(part))
	p.Quo(p, big.NewInt(whole))
	return p.Int64()
}

// MinPayableVotes returns the dust threshold: the smallest votes_value that
// still rounds to a non-zero payout, ceil(1 stroop * totalVotes / reward)
// in stroop units.
func MinPayableVotes(totalVotes, reward int64) int64 {
	if reward <= 0 {
		return totalVotes + 1
	}
	return DivCeil(totalVotes, reward)
}
