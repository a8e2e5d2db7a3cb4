package job

import (
	"fmt"
	"time"

	uuid "github.com/google/uuid"
)

// Priority orders claim precedence. 0 is the highest level and is always
// drained before 1, which is drained before 2.
type Priority int

const (
	PriorityHigh   Priority = 0
	PriorityNormal Priority = 1
	PriorityLow    Priority = 2
)

// Priorities lists all levels in claim order.
var Priorities = []Priority{PriorityHigh, PriorityNormal, PriorityLow}

func (p Priority) Valid() bool {
	return p >= PriorityHigh && p <= PriorityLow
}

func (p Priority) String() string {
	return fmt.Sprintf("%d", int(p))
}

// ParsePriority parses the wire form ("0", "1", "2").
func ParsePriority(s string) (Priority, error) {
	switch s {
	case "0":
		return PriorityHigh, nil
	case "1":
		return PriorityNormal, nil
	case "2":
		return PriorityLow, nil
	}
	return 0, fmt.Errorf("priority must be 0, 1, or 2, got %q", s)
}

// Status is the job lifecycle state. It only ever advances:
// queued -> claimed -> completed.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusClaimed   Status = "claimed"
	StatusCompleted Status = "completed"
)

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusQueued, StatusClaimed, StatusCompleted:
		return Status(s), nil
	}
	return "", fmt.Errorf("unknown job status %q", s)
}

// Job is one unit of submitted work. A job is a member of its priority queue
// iff Status == StatusQueued; ClaimedBy/ClaimedAt are set iff the job has been
// claimed at least once; ResultRef/CompletedAt are set iff it completed.
type Job struct {
	ID             uuid.UUID  `json:"id"`
	Priority       Priority   `json:"priority"`
	Status         Status     `json:"status"`
	InputRef       string     `json:"input_ref"`
	ResultRef      string     `json:"result_ref,omitempty"`
	QueuedAt       time.Time  `json:"queued_at"`
	ClaimedAt      *time.Time `json:"claimed_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ClaimedBy      string     `json:"claimed_by,omitempty"`
	Collected      bool       `json:"collected"`
	ElapsedSeconds float64    `json:"elapsed_seconds,omitempty"`
}
