package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/blakecragen/cluster/internal/agent"
	appconfig "github.com/blakecragen/cluster/internal/config"
	"github.com/blakecragen/cluster/internal/storage"
)

func main() {
	runnerName := flag.String("runner", "", "task runner to use (overrides TASK_RUNNER)")
	flag.Parse()

	cfg := appconfig.Load()
	if *runnerName != "" {
		cfg.TaskRunner = *runnerName
	}

	runner, err := agent.LookupRunner(cfg.TaskRunner)
	if err != nil {
		slog.Error("failed to load task runner", "err", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	blobStore, err := storage.NewStorage(ctx, cfg)
	if err != nil {
		slog.Error("failed to initialize blob storage", "err", err)
		os.Exit(1)
	}

	client := agent.NewClient(cfg.MasterURL)
	a := agent.New(cfg, client, blobStore, runner)

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ch
		slog.Info("shutting down")
		cancel()
	}()

	if err := a.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("worker exited", "err", err)
		os.Exit(1)
	}
}
