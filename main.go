package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	bidding "live-bidding/internal/biddingService"
	"live-bidding/internal/config"
	"live-bidding/internal/directory"
	"live-bidding/internal/fanout"
	"live-bidding/internal/metrics"
	model "live-bidding/internal/models"
	"live-bidding/internal/repository"
	"live-bidding/internal/server"
	"live-bidding/utils"
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(2)
	}
	if err := utils.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
		utils.Warn("Invalid log settings, keeping defaults", map[string]any{"level": cfg.Log.Level, "format": cfg.Log.Format})
	}
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	repo, closeRepo, err := openLedger(ctx, cfg)
	if err != nil {
		utils.Fatal("Failed to open ledger", map[string]any{"driver": cfg.Storage.Driver, "error": err.Error()})
	}
	defer closeRepo()

	hub := fanout.NewHub(fanout.WithBufferSize(cfg.Fanout.BufferSize))
	defer hub.Close()

	if cfg.Redis.URI != "" {
		pool, err := fanout.NewRedisPool(cfg.Redis.URI, cfg.Redis.Password)
		if err != nil {
			utils.Fatal("Failed to connect to redis", map[string]any{"error": err.Error()})
		}
		relay := fanout.NewRedisRelay(pool, cfg.Redis.ChannelPrefix)
		relay.Attach(hub)
		defer func() {
			relay.Detach()
			_ = pool.Close()
		}()
		utils.Info("Redis relay attached", map[string]any{"prefix": cfg.Redis.ChannelPrefix})
	}

	biddingSvc := bidding.NewBiddingService(repo,
		bidding.WithDirectory(directory.New(directory.WithViewCache(cfg.Directory.ViewCacheMB, cfg.Directory.ViewTTL))),
		bidding.WithPublisher(hub),
		bidding.WithPersistRetry(cfg.Arbiter.PersistAttempts, cfg.Arbiter.PersistBackoff),
		bidding.WithDefaults(bidding.Defaults{
			MinBidIncrement: cfg.Auction.MinBidIncrement,
			AutoExtend:      cfg.Auction.AutoExtend,
			ExtendWindow:    cfg.Auction.ExtendWindow,
		}),
	)

	if err := biddingSvc.Bootstrap(ctx, cfg.Arbiter.SweepWorkers); err != nil {
		utils.Fatal("Failed to bootstrap directory", map[string]any{"error": err.Error()})
	}
	if cfg.Seed.Demo {
		prepopulateAuctions(ctx, biddingSvc)
	}
	biddingSvc.StartSweeper(ctx, cfg.Arbiter.SweepInterval, cfg.Arbiter.SweepWorkers)

	router := server.SetupRouter(biddingSvc, hub, server.Options{
		BidsPerMinute: cfg.RateLimit.BidsPerMinute,
		BidBurst:      cfg.RateLimit.Burst,
	})
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		utils.Info("Starting auction server", map[string]any{"addr": srv.Addr, "storage": cfg.Storage.Driver})
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			utils.Fatal("Failed to start server", map[string]any{"error": err.Error()})
		}
	}()

	<-ctx.Done()
	utils.Info("Shutting down", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		utils.Error("Graceful shutdown failed", map[string]any{"error": err.Error()})
	}
}

// openLedger connects the configured storage driver and returns it with its close function
func openLedger(ctx context.Context, cfg *config.Config) (repository.AuctionDB, func(), error) {
	switch cfg.Storage.Driver {
	case config.DriverPostgres:
		repo, err := repository.OpenPostgres(cfg.Postgres.DSN)
		if err != nil {
			return nil, nil, err
		}
		if err := repo.EnsureSchema(ctx); err != nil {
			_ = repo.Close()
			return nil, nil, err
		}
		return repo, func() { _ = repo.Close() }, nil

	case config.DriverMongo:
		repo, err := repository.ConnectMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database)
		if err != nil {
			return nil, nil, err
		}
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = repo.Close(context.Background())
			return nil, nil, err
		}
		return repo, func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = repo.Close(closeCtx)
		}, nil

	default:
		return repository.NewMemoryRepo(), func() {}, nil
	}
}

// prepopulateAuctions opens a few short demo auctions
func prepopulateAuctions(ctx context.Context, svc *bidding.BiddingService) {
	now := svc.Now()
	demo := []model.AuctionSpec{
		{Title: "Gemstone Necklace", StartingPrice: 800, EndTime: now.Add(1 * time.Minute), CreatedBy: "demo"},
		{Title: "Modern Art Painting", StartingPrice: 1000, EndTime: now.Add(3 * time.Minute), CreatedBy: "demo"},
		{Title: "Antique Crystal Vase", StartingPrice: 2000, EndTime: now.Add(4 * time.Minute), CreatedBy: "demo"},
	}

	for _, spec := range demo {
		a, err := svc.CreateAuction(ctx, spec)
		if err != nil {
			utils.Error("Failed to seed auction", map[string]any{"title": spec.Title, "error": err.Error()})
			continue
		}
		if _, err := svc.StartAuction(ctx, a.AuctionID); err != nil {
			utils.Error("Failed to start seeded auction", map[string]any{"auction_id": a.AuctionID, "error": err.Error()})
		}
	}
}
