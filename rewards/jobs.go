package rewards

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/AquaToken/aqua-bribes/store"
)

type flagStore interface {
	GetFlag(ctx context.Context, key string) (bool, error)
	SetFlag(ctx context.Context, key string, up bool, ttl time.Duration) error
}

// Jobs guards the reward snapshots and the payer against each other: while
// either snapshot rewrites the day's data the payer stands down, so a tick
// never pays from a half-written snapshot.
type Jobs struct {
	cfg      Config
	flags    flagStore
	trustees *TrusteeSnapshotter
	claims   *ClaimSnapshotter
	votes    *VotesLoader
	payer    *Payer
	logger   *zap.Logger
}

// NewJobs wires the flag-guarded job entry points.
func NewJobs(cfg Config, flags flagStore, trustees *TrusteeSnapshotter, claims *ClaimSnapshotter, votes *VotesLoader, payer *Payer, logger *zap.Logger) *Jobs {
	return &Jobs{
		cfg:      cfg,
		flags:    flags,
		trustees: trustees,
		claims:   claims,
		votes:    votes,
		payer:    payer,
		logger:   logger,
	}
}

// SnapshotTrustees refreshes the holder snapshot under its in-flight flag.
func (j *Jobs) SnapshotTrustees(ctx context.Context) error {
	return j.withFlag(ctx, store.StateTrustorsInFlight, j.trustees.Run)
}

// SnapshotVotes refreshes the claimable-balance cache and then the vote
// snapshot under the votes in-flight flag. The order matters: delegation
// expansion reads the balance cache written by the first step.
func (j *Jobs) SnapshotVotes(ctx context.Context) error {
	return j.withFlag(ctx, store.StateVotesInFlight, func(ctx context.Context) error {
		if err := j.claims.Run(ctx); err != nil {
			return err
		}
		return j.votes.Run(ctx)
	})
}

// PayRewards runs one payout tick unless a snapshot is in flight.
func (j *Jobs) PayRewards(ctx context.Context) error {
	for _, flag := range []string{store.StateVotesInFlight, store.StateTrustorsInFlight} {
		up, err := j.flags.GetFlag(ctx, flag)
		if err != nil {
			return err
		}
		if up {
			j.logger.Info("skipping payout tick, snapshot in flight", zap.String("flag", flag))
			return nil
		}
	}
	return j.payer.Run(ctx)
}

func (j *Jobs) withFlag(ctx context.Context, flag string, run func(context.Context) error) error {
	if err := j.flags.SetFlag(ctx, flag, true, j.cfg.flagTTL()); err != nil {
		return err
	}
	defer func() {
		// The flag must come down even when the job context expired.
		clearCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := j.flags.SetFlag(clearCtx, flag, false, 0); err != nil {
			j.logger.Error("clearing in-flight flag failed", zap.String("flag", flag), zap.Error(err))
		}
	}()
	return run(ctx)
}
