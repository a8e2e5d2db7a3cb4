package worker

import "time"

// Worker is one registered execution agent. Presence in the registry is the
// "online" signal; stale entries are deleted rather than flagged.
type Worker struct {
	ID            string    `json:"worker_id"`
	Hostname      string    `json:"hostname"`
	Addr          string    `json:"addr,omitempty"`
	OS            string    `json:"os,omitempty"`
	Arch          string    `json:"arch,omitempty"`
	TaskRunner    string    `json:"task_runner,omitempty"`
	LastHeartbeat time.Time `json:"last_heartbeat"`
}

// Descriptor is the registration payload. Registering the same worker id
// again overwrites the prior record.
type Descriptor struct {
	ID         string `json:"worker_id" validate:"required"`
	Hostname   string `json:"hostname" validate:"required"`
	Addr       string `json:"addr" validate:"omitempty"`
	OS         string `json:"os"`
	Arch       string `json:"arch"`
	TaskRunner string `json:"task_runner"`
}

// HeartbeatRequest is the heartbeat payload. LastHeartbeat is optional; when
// empty the registry stamps its own current time.
type HeartbeatRequest struct {
	WorkerID      string `json:"worker_id" validate:"required"`
	LastHeartbeat string `json:"last_heartbeat,omitempty"`
}
