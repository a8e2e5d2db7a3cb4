package store

import (
	appconfig "github.com/blakecragen/cluster/internal/config"
	"github.com/redis/go-redis/v9"
)

// Stores bundles the three record stores behind one constructor.
type Stores struct {
	Jobs    JobStore
	Queues  QueueSet
	Workers WorkerStore
}

func New(cfg appconfig.Config, client *redis.Client) Stores {
	switch cfg.StoreMode {
	case "memory":
		return Stores{
			Jobs:    NewMemJobStore(),
			Queues:  NewMemQueueSet(),
			Workers: NewMemWorkerStore(),
		}
	default:
		return Stores{
			Jobs:    NewRedisJobStore(client, ""),
			Queues:  NewRedisQueueSet(client, ""),
			Workers: NewRedisWorkerStore(client, ""),
		}
	}
}
