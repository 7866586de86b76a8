package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	redisclient "github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	mongoadapter "github.com/avelartours/capacity-engine/internal/adapters/mongo"
	"github.com/avelartours/capacity-engine/internal/adapters/pg"
	redisadapter "github.com/avelartours/capacity-engine/internal/adapters/redis"
	"github.com/avelartours/capacity-engine/internal/config"
	"github.com/avelartours/capacity-engine/internal/holds"
	httphandler "github.com/avelartours/capacity-engine/internal/http"
	"github.com/avelartours/capacity-engine/internal/idempotency"
	"github.com/avelartours/capacity-engine/internal/observability"
	"github.com/avelartours/capacity-engine/internal/rateLimit"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
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
	if err := pg.Migrate(context.Background(), pool); err != nil {
		log.Fatalf("failed to apply schema: %v", err)
	}
	repo := pg.NewRepository(pool)

	redisClient := redisclient.NewClient(&redisclient.Options{Addr: cfg.RedisAddr})
	cache := redisadapter.NewCache(redisClient)
	idemp := idempotency.NewIdempotency(redisadapter.NewIdempotency(redisClient), time.Hour)
	rl := rateLimit.NewRateLimiter(cache)

	var audit holds.AuditTrail
	var auditStore *mongoadapter.AuditTrail
	if cfg.MongoURI != "" {
		mongoClient, err := mongo.Connect(context.Background(), options.Client().ApplyURI(cfg.MongoURI))
		if err != nil {
			log.Fatalf("failed to connect to mongo: %v", err)
		}
		defer mongoClient.Disconnect(context.Background())
		auditStore = mongoadapter.NewAuditTrail(mongoClient.Database("capacity"), logger)
		audit = auditStore
	}

	manager := holds.NewManager(repo, cache, audit, logger)
	group := holds.NewGroup(manager, logger)
	avail := holds.NewAvailabilityCalculator(repo, cache)

	handlers := httphandler.NewHandlers(cfg, repo, manager, group, avail, idemp, auditStore)
	r := httphandler.SetupRouter(handlers, logger, rl)

	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutdown Server ...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatal("Server Shutdown:", err)
	}
	logger.Info("Server exiting")
}
