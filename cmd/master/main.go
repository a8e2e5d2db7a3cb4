package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appconfig "github.com/blakecragen/cluster/internal/config"
	"github.com/blakecragen/cluster/internal/dispatch"
	redissvc "github.com/blakecragen/cluster/internal/redis"
	"github.com/blakecragen/cluster/internal/registry"
	"github.com/blakecragen/cluster/internal/server"
	"github.com/blakecragen/cluster/internal/storage"
	"github.com/blakecragen/cluster/internal/store"
	httpapi "github.com/blakecragen/cluster/internal/transport/http"
)

func main() {
	cfg := appconfig.Load()
	slog.Info("starting dispatch master", "addr", cfg.HTTPAddr, "store", cfg.StoreMode, "blobs", cfg.BlobMode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var redisService *redissvc.Service
	if cfg.StoreMode != "memory" {
		var err error
		redisService, err = redissvc.New(cfg.RedisURL)
		if err != nil {
			slog.Error("failed to connect to Redis", "err", err)
			os.Exit(1)
		}
		defer redisService.Close()
	}

	blobStore, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize blob storage", "err", err)
		os.Exit(1)
	}

	var stores store.Stores
	if redisService != nil {
		stores = store.New(cfg, redisService.Client())
	} else {
		stores = store.New(cfg, nil)
	}

	engine := dispatch.NewEngine(stores.Jobs, stores.Queues, blobStore)
	reg := registry.New(stores.Workers, cfg.WorkerStaleAfter)

	// Repair queue membership before accepting any traffic.
	restored, err := engine.Recover(ctx)
	if err != nil {
		slog.Error("startup recovery failed", "err", err)
		os.Exit(1)
	}
	if restored > 0 {
		slog.Info("recovery re-enqueued jobs", "count", restored)
	}

	pruner := registry.NewPruner(reg, cfg.PruneInterval)
	pruner.Start(ctx)
	defer pruner.Stop()

	handlers := &httpapi.Handlers{
		Engine:   engine,
		Registry: reg,
		Redis:    redisService,
		Blobs:    blobStore,
		Config:   cfg,
	}
	r := server.NewRouter(handlers)

	srv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  90 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	<-ch
	slog.Info("shutting down")

	shCtx, shCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shCancel()
	_ = srv.Shutdown(shCtx)
	cancel()
}
