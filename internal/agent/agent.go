package agent

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/blakecragen/cluster/internal/common"
	"github.com/blakecragen/cluster/internal/config"
	"github.com/blakecragen/cluster/internal/job"
	"github.com/blakecragen/cluster/internal/storage"
	"github.com/blakecragen/cluster/internal/worker"
)

// Agent is one worker process: it registers with the master, heartbeats,
// claims jobs, runs the configured task runner, and uploads results. Inputs
// are pulled straight from the blob store; only results go back through the
// master so the completion transition happens in one place.
type Agent struct {
	cfg    config.Config
	client *Client
	blobs  storage.BlobStore
	runner TaskRunner
}

func New(cfg config.Config, client *Client, blobs storage.BlobStore, runner TaskRunner) *Agent {
	return &Agent{cfg: cfg, client: client, blobs: blobs, runner: runner}
}

// Run polls until ctx is cancelled.
func (a *Agent) Run(ctx context.Context) error {
	if err := os.MkdirAll(a.cfg.WorkDir, 0755); err != nil {
		return err
	}

	if err := a.register(ctx); err != nil {
		slog.Warn("initial registration failed, will retry", "err", err)
	}

	slog.Info("worker started",
		"worker_id", a.cfg.WorkerID,
		"master", a.cfg.MasterURL,
		"task_runner", a.runner.Name())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		a.heartbeat(ctx)

		j, ok, err := a.client.Claim(ctx)
		if err != nil {
			slog.Warn("claim failed", "err", err)
			a.sleep(ctx)
			continue
		}
		if !ok {
			a.sleep(ctx)
			continue
		}

		if err := a.process(ctx, j); err != nil {
			slog.Error("job processing failed", "job_id", j.ID, "err", err)
		}
	}
}

func (a *Agent) register(ctx context.Context) error {
	hostname, _ := os.Hostname()
	return a.client.Register(ctx, worker.Descriptor{
		ID:         a.cfg.WorkerID,
		Hostname:   hostname,
		OS:         runtime.GOOS,
		Arch:       runtime.GOARCH,
		TaskRunner: a.runner.Name(),
	})
}

func (a *Agent) heartbeat(ctx context.Context) {
	err := a.client.Heartbeat(ctx, a.cfg.WorkerID)
	if err == nil {
		return
	}
	if common.IsNotRegistered(err) {
		// Evicted as stale; re-register and carry on.
		if err := a.register(ctx); err != nil {
			slog.Warn("re-registration failed", "err", err)
		}
		return
	}
	slog.Warn("heartbeat failed", "err", err)
}

func (a *Agent) process(ctx context.Context, j *job.Job) error {
	slog.Info("claimed job", "job_id", j.ID, "priority", j.Priority)

	if err := a.clearWorkDir(); err != nil {
		return err
	}

	inputPath := filepath.Join(a.cfg.WorkDir, "input_"+j.ID.String()+filepath.Ext(j.InputRef))
	data, err := a.blobs.Get(ctx, storage.BucketInputs, j.InputRef)
	if err != nil {
		return err
	}
	if err := os.WriteFile(inputPath, data, 0644); err != nil {
		return err
	}

	outputPath, err := a.runner.Run(ctx, inputPath, a.cfg.WorkDir)
	if err != nil {
		return err
	}

	result, err := os.ReadFile(outputPath)
	if err != nil {
		return err
	}
	if err := a.client.UploadResult(ctx, j.ID, filepath.Base(outputPath), result); err != nil {
		return err
	}

	slog.Info("job finished", "job_id", j.ID)
	return nil
}

func (a *Agent) clearWorkDir() error {
	entries, err := os.ReadDir(a.cfg.WorkDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(a.cfg.WorkDir, e.Name())); err != nil {
			return err
		}
	}
	return nil
}

func (a *Agent) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(a.cfg.PollInterval):
	}
}
