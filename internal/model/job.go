// internal/model/job.go
package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JobState represents the lifecycle state of a scheduled job
type JobState string

const (
	JobStateIdle      JobState = "IDLE"
	JobStateScheduled JobState = "SCHEDULED"
	JobStateRunning   JobState = "RUNNING"
	JobStateCancelled JobState = "CANCELLED"
	JobStateFailed    JobState = "FAILED"
)

// IsTerminal reports whether a job in this state will never fire again
func (s JobState) IsTerminal() bool {
	return s == JobStateCancelled || s == JobStateFailed
}

// CadenceKind represents how a job's next-run time is derived
type CadenceKind string

const (
	CadenceInterval CadenceKind = "INTERVAL"
	CadenceCron     CadenceKind = "CRON"
	CadenceOneShot  CadenceKind = "ONE_SHOT"
)

// Cadence determines when a job fires. Exactly one of Every (INTERVAL),
// Spec (CRON) or At/Delay (ONE_SHOT) applies, selected by Kind.
type Cadence struct {
	Kind    CadenceKind   `json:"kind"`
	Every   time.Duration `json:"every,omitempty"`
	Spec    string        `json:"spec,omitempty"`
	At      time.Time     `json:"at,omitempty"`
	Delay   time.Duration `json:"delay,omitempty"`
	StartAt time.Time     `json:"start_at,omitempty"`
}

// Validate checks the cadence for internal consistency
func (c Cadence) Validate() error {
	switch c.Kind {
	case CadenceInterval:
		if c.Every <= 0 {
			return fmt.Errorf("interval cadence requires a positive 'every' duration")
		}
		if !c.StartAt.IsZero() && c.Delay > 0 {
			return fmt.Errorf("provide one of 'start_at' or 'delay', not both")
		}
	case CadenceCron:
		if c.Spec == "" {
			return fmt.Errorf("cron cadence requires a spec")
		}
	case CadenceOneShot:
		if c.At.IsZero() && c.Delay <= 0 {
			return fmt.Errorf("one-shot cadence requires 'at' or a positive 'delay'")
		}
	default:
		return fmt.Errorf("unknown cadence kind %q", c.Kind)
	}
	return nil
}

// String renders the cadence in a log-friendly form
func (c Cadence) String() string {
	switch c.Kind {
	case CadenceInterval:
		return fmt.Sprintf("every %s", c.Every)
	case CadenceCron:
		return fmt.Sprintf("cron %q", c.Spec)
	case CadenceOneShot:
		if !c.At.IsZero() {
			return fmt.Sprintf("once at %s", c.At.Format(time.RFC3339))
		}
		return fmt.Sprintf("once after %s", c.Delay)
	}
	return string(c.Kind)
}

// JobRun records one firing of a job, persisted for audit when the
// database is enabled
type JobRun struct {
	ID           uuid.UUID  `json:"id" db:"id"`
	JobID        uuid.UUID  `json:"job_id" db:"job_id"`
	JobName      string     `json:"job_name" db:"job_name"`
	ScheduledAt  time.Time  `json:"scheduled_at" db:"scheduled_at"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at" db:"completed_at"`
	DurationMs   *int       `json:"duration_ms" db:"duration_ms"`
	Success      bool       `json:"success" db:"success"`
	ErrorMessage *string    `json:"error_message" db:"error_message"`
	CreatedAt    time.Time  `json:"created_at" db:"created_at"`
}
