// Package model defines the persistent entities of the bribe coordinator
// and the asset, amount and epoch primitives they share.
package model

import "time"

// BribeStatus is the lifecycle state of a sponsor pledge.
type BribeStatus int

const (
	StatusPending BribeStatus = iota
	StatusInvalid
	StatusActive
	StatusReturned
	StatusPendingReturn
	StatusFailedClaim
	StatusNoPathForConversion
	StatusFailedReturn
	StatusFinished
)

func (s BribeStatus) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusInvalid:
		return "invalid"
	case StatusActive:
		return "active"
	case StatusReturned:
		return "returned"
	case StatusPendingReturn:
		return "pending_return"
	case StatusFailedClaim:
		return "failed_claim"
	case StatusNoPathForConversion:
		return "no_path_for_conversion"
	case StatusFailedReturn:
		return "failed_return"
	case StatusFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transition can leave s.
func (s BribeStatus) Terminal() bool {
	switch s {
	case StatusInvalid, StatusReturned, StatusFailedClaim, StatusFailedReturn, StatusFinished:
		return true
	}
	return false
}

// Bribe is one sponsor pledge ingested from a claimable balance.
type Bribe struct {
	ID      int64
	Status  BribeStatus
	Message string

	MarketKey string
	Sponsor   string
	Amount    int64
	Asset     Asset

	IsAMMProtocol bool

	// RewardEquivalent is the strict-send quote of Amount in the reward
	// asset, refreshed while the bribe is pending. Zero when no path exists.
	RewardEquivalent int64

	AmountForBribes int64
	AmountReward    int64

	ConversionTxHash string
	RefundTxHash     string

	ClaimableBalanceID string
	PagingToken        string

	UnlockTime *time.Time
	StartAt    *time.Time
	StopAt     *time.Time

	CreatedAt *time.Time
	LoadedAt  time.Time
	UpdatedAt time.Time
}

// UpdateActivePeriod recomputes the epoch window from ref, falling back to
// the unlock time when ref is zero. Bribes without an unlock time keep a
// null window.
func (b *Bribe) UpdateActivePeriod(ref time.Time) {
	if ref.IsZero() {
		if b.UnlockTime == nil {
			return
		}
		ref = *b.UnlockTime
	}
	start, stop := EpochWindow(ref)
	b.StartAt = &start
	b.StopAt = &stop
}

// AppendMessage accumulates a diagnostic line on the bribe.
func (b *Bribe) AppendMessage(msg string) {
	if b.Message == "" {
		b.Message = msg
		return
	}
	b.Message += "\n" + msg
}

// DailyBribeAmount is the per-day share of the converted pledge, floor 7dp.
func (b *Bribe) DailyBribeAmount() int64 {
	return DivFloor(b.AmountForBribes, int64(EpochDuration/(24*time.Hour)))
}

// DailyRewardAmount is the per-day share of the reward-asset cut, floor 7dp.
func (b *Bribe) DailyRewardAmount() int64 {
	return DivFloor(b.AmountReward, int64(EpochDuration/(24*time.Hour)))
}

// AggregatedBribe is the per (market, asset, epoch) reward pool.
type AggregatedBribe struct {
	ID        int64
	MarketKey string
	Asset     Asset

	StartAt time.Time
	StopAt  time.Time

	TotalReward      int64
	RewardEquivalent int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DailyAmount is the per-day share of the pool, floor 7dp.
func (a *AggregatedBribe) DailyAmount() int64 {
	return DivFloor(a.TotalReward, int64(EpochDuration/(24*time.Hour)))
}

// TickReward is the payable amount for one reward tick of the given period.
func (a *AggregatedBribe) TickReward(period time.Duration) int64 {
	daily := a.DailyAmount()
	return ProportionFloor(daily, int64(period/time.Second), int64(24*time.Hour/time.Second))
}

// MemoText is the payout transaction memo for this pool's market.
func (a *AggregatedBribe) MemoText() string {
	return "Bribe: " + ShortKey(a.MarketKey)
}

// VoteSnapshot is one voter's stake in a market on a snapshot day.
//
// A voter that aggregates delegated stake produces a placeholder row with
// HasDelegation set; the placeholder is never paid. Stake delegated to it is
// expanded into IsDelegated rows owned by the original delegators.
type VoteSnapshot struct {
	ID            int64
	MarketKey     string
	VotingAccount string
	VotesValue    int64

	IsDelegated   bool
	HasDelegation bool

	SnapshotDate time.Time
}

// ClaimableBalance caches an on-chain claimable balance used for delegation
// detection. Owner is the first claimant whose predicate is not the
// reject-all not(unconditional) marker.
type ClaimableBalance struct {
	BalanceID string
	Asset     Asset
	Amount    int64
	Sponsor   string
	Owner     string

	PagingToken        string
	LastModifiedLedger uint32
	LastModifiedTime   *time.Time

	Claimants []Claimant

	LoadedAt  time.Time
	UpdatedAt time.Time
}

// Claimant is one claimant of a cached claimable balance with its predicate
// preserved in XDR base64 wire form.
type Claimant struct {
	Destination  string
	PredicateXDR string
}

// PayoutStatus is the outcome recorded for one payout attempt.
type PayoutStatus string

const (
	PayoutSuccess PayoutStatus = "success"
	PayoutFailed  PayoutStatus = "failed"
)

// PayoutMessageTimeout marks payouts whose transaction outcome is unknown;
// they are reconciled later by transaction-hash lookup.
const PayoutMessageTimeout = "timeout"

// Payout is one reward to one voter for one aggregated bribe.
type Payout struct {
	ID             int64
	BribeID        int64
	VoteSnapshotID int64
	VotingAccount  string

	Asset        Asset
	RewardAmount int64

	TxHash  string
	Status  PayoutStatus
	Message string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// AssetHolderSnapshot records an account's balance of a bribed asset on the
// day the trustee snapshot ran.
type AssetHolderSnapshot struct {
	ID      int64
	Account string
	Asset   Asset
	Balance int64

	CreatedAt time.Time
}
