// internal/scheduler/events.go
package scheduler

import (
	"time"

	"github.com/google/uuid"
)

// EventType identifies what happened to a job
type EventType string

const (
	EventJobStarted   EventType = "job.started"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
	EventJobOverrun   EventType = "job.overrun"
	EventJobCancelled EventType = "job.cancelled"
)

// Event is emitted on job lifecycle transitions. ScheduledAt is the
// fire time the run was dispatched for (or, for overruns, the fire
// time that was skipped); StartedAt and Duration are populated on
// completion and failure events.
type Event struct {
	Type        EventType
	JobID       uuid.UUID
	JobName     string
	ScheduledAt time.Time
	StartedAt   time.Time
	Duration    time.Duration
	Err         string
}

// Notifier receives lifecycle events. Calls are made outside the
// scheduler lock but from scheduler goroutines, so implementations
// must not block.
type Notifier func(Event)
