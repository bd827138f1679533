// internal/repository/interfaces.go
package repository

import (
	"context"
	"time"

	"github.com/google/uuid"

	"perfusion-service/internal/model"
)

// RunRepository persists job run history for audit. Schedules
// themselves are in-memory for the process lifetime; only the record
// of what fired, when, and how it went is written through here.
type RunRepository interface {
	Create(ctx context.Context, run *model.JobRun) error
	GetByID(ctx context.Context, id uuid.UUID) (*model.JobRun, error)
	ListByJob(ctx context.Context, jobID uuid.UUID, limit int) ([]*model.JobRun, error)
	ListRecent(ctx context.Context, limit int) ([]*model.JobRun, error)
	CountFailures(ctx context.Context, jobID uuid.UUID, since time.Time) (int, error)
	DeleteOldRuns(ctx context.Context, olderThan time.Time) (int64, error)
}

// OperationLogRepository persists the command audit trail: every
// operation executed against a device, scheduled or ad hoc
type OperationLogRepository interface {
	Create(ctx context.Context, entry *model.OperationLog) error
	ListByDevice(ctx context.Context, deviceID uuid.UUID, limit int) ([]*model.OperationLog, error)
	ListRecent(ctx context.Context, limit int) ([]*model.OperationLog, error)
	DeleteOldEntries(ctx context.Context, olderThan time.Time) (int64, error)
}
