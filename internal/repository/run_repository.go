// internal/repository/run_repository.go
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"perfusion-service/internal/database"
	"perfusion-service/internal/model"
)

// runRepository implements RunRepository on postgres
type runRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewRunRepository creates a new run repository
func NewRunRepository(db *database.DB, logger *zap.Logger) RunRepository {
	return &runRepository{
		db:     db,
		logger: logger,
	}
}

// Create records one job run
func (r *runRepository) Create(ctx context.Context, run *model.JobRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}

	query := `
		INSERT INTO job_runs (
			id, job_id, job_name, scheduled_at, started_at,
			completed_at, duration_ms, success, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		run.ID, run.JobID, run.JobName, run.ScheduledAt, run.StartedAt,
		run.CompletedAt, run.DurationMs, run.Success, run.ErrorMessage,
	)
	if err != nil {
		r.logger.Error("Failed to record job run", zap.Error(err))
		return fmt.Errorf("failed to record job run: %w", err)
	}
	return nil
}

// GetByID retrieves a run by ID
func (r *runRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.JobRun, error) {
	query := `
		SELECT id, job_id, job_name, scheduled_at, started_at,
			   completed_at, duration_ms, success, error_message, created_at
		FROM job_runs WHERE id = $1
	`

	run := &model.JobRun{}
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&run.ID, &run.JobID, &run.JobName, &run.ScheduledAt, &run.StartedAt,
		&run.CompletedAt, &run.DurationMs, &run.Success, &run.ErrorMessage,
		&run.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("job run not found with id: %s", id)
		}
		return nil, fmt.Errorf("failed to get job run: %w", err)
	}
	return run, nil
}

// ListByJob lists the most recent runs of one job
func (r *runRepository) ListByJob(ctx context.Context, jobID uuid.UUID, limit int) ([]*model.JobRun, error) {
	query := `
		SELECT id, job_id, job_name, scheduled_at, started_at,
			   completed_at, duration_ms, success, error_message, created_at
		FROM job_runs
		WHERE job_id = $1
		ORDER BY scheduled_at DESC
		LIMIT $2
	`
	return r.queryRuns(ctx, query, jobID, limit)
}

// ListRecent lists the most recent runs across all jobs
func (r *runRepository) ListRecent(ctx context.Context, limit int) ([]*model.JobRun, error) {
	query := `
		SELECT id, job_id, job_name, scheduled_at, started_at,
			   completed_at, duration_ms, success, error_message, created_at
		FROM job_runs
		ORDER BY scheduled_at DESC
		LIMIT $1
	`
	return r.queryRuns(ctx, query, limit)
}

// CountFailures counts failed runs of a job since the given time
func (r *runRepository) CountFailures(ctx context.Context, jobID uuid.UUID, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM job_runs
		WHERE job_id = $1 AND success = false AND scheduled_at >= $2
	`

	var count int
	if err := r.db.QueryRowContext(ctx, query, jobID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count failures: %w", err)
	}
	return count, nil
}

// DeleteOldRuns prunes run history older than the given time
func (r *runRepository) DeleteOldRuns(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM job_runs WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old runs: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted runs: %w", err)
	}
	if deleted > 0 {
		r.logger.Info("Old job runs pruned", zap.Int64("deleted", deleted))
	}
	return deleted, nil
}

func (r *runRepository) queryRuns(ctx context.Context, query string, args ...interface{}) ([]*model.JobRun, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list job runs: %w", err)
	}
	defer rows.Close()

	var runs []*model.JobRun
	for rows.Next() {
		run := &model.JobRun{}
		if err := rows.Scan(
			&run.ID, &run.JobID, &run.JobName, &run.ScheduledAt, &run.StartedAt,
			&run.CompletedAt, &run.DurationMs, &run.Success, &run.ErrorMessage,
			&run.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan job run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
