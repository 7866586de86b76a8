package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"

	"github.com/avelartours/capacity-engine/internal/adapters/pg"
	redisadapter "github.com/avelartours/capacity-engine/internal/adapters/redis"
	"github.com/avelartours/capacity-engine/internal/config"
	"github.com/avelartours/capacity-engine/internal/holds"
	"github.com/avelartours/capacity-engine/internal/observability"
)

// Scheduler-friendly sweep command. One-shot by default so cron can run it
// every few minutes; --interval keeps it resident instead. Overlapping
// invocations are safe: expired rows are locked with SKIP LOCKED.
func main() {
	dryRun := flag.Bool("dry-run", false, "report would-be-released holds without mutating state")
	batchSize := flag.Int("batch-size", 0, "holds per sweep transaction (default from SWEEP_BATCH_SIZE)")
	interval := flag.Duration("interval", 0, "run forever on this interval instead of once")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if *batchSize <= 0 {
		*batchSize = cfg.SweepBatchSize
	}

	shutdownOtel, err := observability.SetupOTel(context.Background(), cfg.OTLPEndpoint)
	if err != nil {
		log.Fatalf("failed to setup otel: %v", err)
	}
	defer shutdownOtel()

	logger := observability.NewLogger()

	pool, err := pgxpool.New(context.Background(), cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	defer pool.Close()
	repo := pg.NewRepository(pool)

	var cache holds.AvailabilityCache
	if cfg.RedisAddr != "" {
		cache = redisadapter.NewCache(redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr}))
	}

	sweeper := holds.NewSweeper(repo, cache, nil, logger)

	if *interval > 0 {
		runDaemon(sweeper, logger, *interval, *batchSize)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if *dryRun {
		if err := printDryRun(ctx, sweeper); err != nil {
			fmt.Fprintf(os.Stderr, "dry run failed: %v\n", err)
			os.Exit(1)
		}
		return
	}

	report, err := sweeper.DryRun(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sweep failed: %v\n", err)
		os.Exit(1)
	}

	result, err := sweeper.Sweep(ctx, *batchSize)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sweep failed after releasing %d holds: %v\n", result.Released, err)
		os.Exit(1)
	}

	fmt.Printf("released %d holds, %d errors\n", result.Released, result.Errors)
	printReport(report)
	if result.Errors > 0 {
		os.Exit(1)
	}
}

func printDryRun(ctx context.Context, sweeper *holds.Sweeper) error {
	report, err := sweeper.DryRun(ctx)
	if err != nil {
		return err
	}
	if len(report) == 0 {
		fmt.Println("no expired holds")
		return nil
	}
	total := int32(0)
	for _, row := range report {
		total += row.Holds
	}
	fmt.Printf("dry run: %d holds would be released\n", total)
	printReport(report)
	return nil
}

func printReport(report []pg.PoolExpiryCount) {
	for _, row := range report {
		fmt.Printf("  pool %s (%s): %d holds, %d units\n", row.PoolID, row.Kind, row.Holds, row.Quantity)
	}
}

func runDaemon(sweeper *holds.Sweeper, logger observability.Logger, interval time.Duration, batchSize int) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go sweeper.Run(ctx, interval, batchSize)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Info("Shutdown sweeper")
}
