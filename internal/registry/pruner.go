package registry

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Pruner runs the staleness sweep on a fixed interval so dead worker records
// do not accumulate even when nobody lists active workers. It never reports
// errors to its caller; sweep problems are logged and the next tick retries.
type Pruner struct {
	registry *Registry
	interval time.Duration

	wg      sync.WaitGroup
	closing chan struct{}
	once    sync.Once
}

func NewPruner(registry *Registry, interval time.Duration) *Pruner {
	return &Pruner{
		registry: registry,
		interval: interval,
		closing:  make(chan struct{}),
	}
}

func (p *Pruner) Start(ctx context.Context) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.interval)
		defer ticker.Stop()

		slog.Info("liveness pruner started", "interval", p.interval)
		for {
			select {
			case <-ctx.Done():
				return
			case <-p.closing:
				return
			case <-ticker.C:
				p.registry.Sweep(ctx)
			}
		}
	}()
}

func (p *Pruner) Stop() {
	p.once.Do(func() { close(p.closing) })
	p.wg.Wait()
}
