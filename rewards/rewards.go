// Package rewards turns aggregated bribe pools into hourly payouts. It
// snapshots voter stakes from the voting tracker, expands delegated stake
// through cached claimable balances, snapshots trustline holders, and pays
// each voter its proportional share of the pool.
package rewards

import (
	"time"

	"github.com/AquaToken/aqua-bribes/model"
)

// AssetPair binds a delegation-carrying asset to the asset that marks its
// aggregator accounts.
type AssetPair struct {
	// Delegatable is the asset of balances that carry stake delegated by
	// third parties.
	Delegatable model.Asset
	// Delegated is the asset of balances marking an account as an
	// aggregator of delegated stake.
	Delegated model.Asset
}

// Config carries the reward-side settings.
type Config struct {
	// HouseAccount is the wallet payouts are paid from.
	HouseAccount string
	// SignerSecret signs payout transactions.
	SignerSecret string

	NetworkPassphrase string
	BaseFee           int64

	// TrackerURL is the base URL of the voting tracker service.
	TrackerURL string

	// DelegateMarker is the account whose claimant presence marks a
	// claimable balance as delegated stake.
	DelegateMarker string
	// DelegationPairs lists the delegation asset pairs to snapshot.
	DelegationPairs []AssetPair

	// PayPeriod is the payout tick; each tick distributes the pool's daily
	// amount scaled to the period.
	PayPeriod time.Duration
	// PagePayouts caps payment operations per transaction.
	PagePayouts int
	// ReconcileAfter is how long a timed-out payout transaction rests
	// before its outcome is resolved by hash lookup.
	ReconcileAfter time.Duration

	// FlagTTL bounds how long an in-flight snapshot flag can suppress the
	// payer if the snapshot job dies without clearing it.
	FlagTTL time.Duration

	PageLimit int
	CursorTTL time.Duration
}

func (c Config) payPeriod() time.Duration {
	if c.PayPeriod > 0 {
		return c.PayPeriod
	}
	return time.Hour
}

func (c Config) pagePayouts() int {
	if c.PagePayouts > 0 {
		return c.PagePayouts
	}
	return 100
}

func (c Config) reconcileAfter() time.Duration {
	if c.ReconcileAfter > 0 {
		return c.ReconcileAfter
	}
	return 5 * time.Minute
}

func (c Config) flagTTL() time.Duration {
	if c.FlagTTL > 0 {
		return c.FlagTTL
	}
	return 6 * time.Hour
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

func (c Config) delegatableAssets() []model.Asset {
	out := make([]model.Asset, 0, len(c.DelegationPairs))
	for _, pair := range c.DelegationPairs {
		out = append(out, pair.Delegatable)
	}
	return out
}

func (c Config) delegatedAssets() []model.Asset {
	out := make([]model.Asset, 0, len(c.DelegationPairs))
	for _, pair := range c.DelegationPairs {
		out = append(out, pair.Delegated)
	}
	return out
}
