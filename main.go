package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/AquaToken/aqua-bribes/bribes"
	"github.com/AquaToken/aqua-bribes/ledger"
	"github.com/AquaToken/aqua-bribes/metrics"
	"github.com/AquaToken/aqua-bribes/rewards"
	"github.com/AquaToken/aqua-bribes/scheduler"
	"github.com/AquaToken/aqua-bribes/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("coordinator failed", zap.Error(err))
	}
}

func run(cfg *Config, logger *zap.Logger) error {
	bribesCfg, err := cfg.BribesConfig()
	if err != nil {
		return err
	}
	rewardsCfg, err := cfg.RewardsConfig()
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.Postgres, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := db.InitSchema(ctx); err != nil {
		return err
	}

	m := metrics.New()
	gateway := ledger.New(cfg.Horizon.URL, logger)

	loader := bribes.NewLoader(bribesCfg, db, gateway, logger, m)
	processor, err := bribes.NewProcessor(bribesCfg, db, gateway, logger, m)
	if err != nil {
		return err
	}
	aggregator := bribes.NewAggregator(bribesCfg, db, logger)
	lifecycle := bribes.NewLifecycle(db, logger)

	tracker := rewards.NewTrackerClient(rewardsCfg.TrackerURL)
	trustees := rewards.NewTrusteeSnapshotter(rewardsCfg, db, gateway, logger)
	claims := rewards.NewClaimSnapshotter(rewardsCfg, db, gateway, logger)
	votes := rewards.NewVotesLoader(rewardsCfg, db, tracker, logger)
	payer, err := rewards.NewPayer(rewardsCfg, db, gateway, logger, m)
	if err != nil {
		return err
	}
	jobs := rewards.NewJobs(rewardsCfg, db, trustees, claims, votes, payer, logger)

	sched := scheduler.New(logger, m)
	sched.Add("ingest_bribes", scheduler.Every(5*time.Minute), 4*time.Minute, loader.Run)
	sched.Add("refresh_pending_equivalents", scheduler.Every(10*time.Minute), 9*time.Minute, processor.RefreshPendingEquivalents)
	sched.Add("refresh_pool_equivalents", scheduler.HourlyAt(30), 30*time.Minute, processor.RefreshPoolEquivalents)
	sched.Add("roll_pending_bribes", scheduler.Weekly(time.Monday, 0, 0), 10*time.Minute, lifecycle.RollPending)
	sched.Add("stop_expired_bribes", scheduler.Weekly(time.Monday, 0, 0), 10*time.Minute, lifecycle.StopExpired)
	sched.Add("return_bribes", scheduler.Weekly(time.Sunday, 9, 0), time.Hour, processor.Return)
	sched.Add("claim_bribes", scheduler.Weekly(time.Sunday, 19, 0), 50*time.Minute, processor.Claim)
	sched.Add("aggregate_bribes", scheduler.Weekly(time.Sunday, 20, 0), 30*time.Minute, aggregator.Run)
	sched.Add("snapshot_trustees", scheduler.Daily(0, 0), 6*time.Hour, jobs.SnapshotTrustees)
	sched.Add("snapshot_votes", scheduler.DailyRandomized(2, 8), 6*time.Hour, jobs.SnapshotVotes)
	sched.Add("pay_rewards", scheduler.HourlyAt(1), 50*time.Minute, jobs.PayRewards)

	health := NewHealthServer(cfg.Service.Name, cfg.Service.HealthPort, m, logger)
	health.Start()
	defer health.Stop()

	logger.Info("bribe coordinator started",
		zap.String("horizon", cfg.Horizon.URL),
		zap.String("wallet", cfg.Wallet.Account),
		zap.Int("health_port", cfg.Service.HealthPort))

	sched.Start(ctx)
	<-ctx.Done()
	logger.Info("shutting down")
	sched.Wait()
	return nil
}

func newLogger(level, format string) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	if format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	}
	if level != "" {
		parsed, err := zap.ParseAtomicLevel(level)
		if err != nil {
			return nil, err
		}
		zapCfg.Level = parsed
	}
	return zapCfg.Build()
}
