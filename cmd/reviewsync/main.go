package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/vbonduro/reviewsync/internal/config"
	"github.com/vbonduro/reviewsync/internal/connectivity"
	"github.com/vbonduro/reviewsync/internal/db"
	"github.com/vbonduro/reviewsync/internal/logging"
	"github.com/vbonduro/reviewsync/internal/remote"
	"github.com/vbonduro/reviewsync/internal/replay"
	"github.com/vbonduro/reviewsync/internal/respcache"
	"github.com/vbonduro/reviewsync/internal/service"
	"github.com/vbonduro/reviewsync/internal/store"
	"github.com/vbonduro/reviewsync/internal/web"
)

func main() {
	cfg := config.Load()

	logger, cleanup, err := logging.New(cfg.LogLevel, cfg.LogFormat, cfg.LogFile)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer cleanup()

	if err := run(cfg, logger); err != nil {
		logger.Error("reviewsync stopped", "error", err)
		cleanup()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		if err := database.Close(); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()

	cache, err := respcache.New(nil, respcache.NewStore(database), respcache.Options{
		Name:          cfg.CacheName,
		Prefix:        cfg.CachePrefix,
		Exclude:       cfg.CacheExclude,
		MemoryEntries: cfg.CacheLRUSize,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	if _, err := cache.Activate(ctx); err != nil {
		logger.Warn("failed to delete stale cache generations", "error", err)
	}

	var shell http.Handler
	if cfg.ShellOrigin != "" {
		// Precaching needs the network; offline starts fall back to whatever
		// an earlier run stored.
		if err := cache.Install(ctx, cfg.ShellOrigin, respcache.ShellResources); err != nil {
			logger.Warn("shell precache skipped", "origin", cfg.ShellOrigin, "error", err)
		}
		if shell, err = web.NewShellProxy(cfg.ShellOrigin, cache, logger); err != nil {
			return err
		}
	}

	venues := store.NewVenueStore(database)
	reviews := store.NewReviewStore(database)
	client := remote.NewClient(cfg.ServerURL, &http.Client{Transport: cache, Timeout: cfg.HTTPTimeout})

	coordinator := replay.NewCoordinator(venues, reviews, client, logger, replay.Options{
		QueueSize:   cfg.SyncQueueSize,
		Concurrency: cfg.SyncConcurrent,
	})
	venueService := service.NewVenueService(venues, reviews, client, coordinator, logger)
	watcher := connectivity.NewWatcher(cfg.ServerURL, &http.Client{Timeout: cfg.HTTPTimeout}, cfg.ProbeInterval, coordinator, logger)
	server := web.NewServer(venueService, coordinator, shell, logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		coordinator.Run(ctx)
		return nil
	})
	g.Go(func() error {
		watcher.Run(ctx)
		return nil
	})
	g.Go(func() error {
		err := server.ListenAndServe(ctx, cfg.ListenAddr)
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})
	return g.Wait()
}
