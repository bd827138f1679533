// internal/repository/operation_log_repository.go
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"perfusion-service/internal/database"
	"perfusion-service/internal/model"
)

// operationLogRepository implements OperationLogRepository on postgres
type operationLogRepository struct {
	db     *database.DB
	logger *zap.Logger
}

// NewOperationLogRepository creates a new operation log repository
func NewOperationLogRepository(db *database.DB, logger *zap.Logger) OperationLogRepository {
	return &operationLogRepository{
		db:     db,
		logger: logger,
	}
}

// Create records one executed operation
func (r *operationLogRepository) Create(ctx context.Context, entry *model.OperationLog) error {
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}

	query := `
		INSERT INTO operation_log (
			id, device_id, device_name, operation_type, params,
			result, success, error_message, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID, entry.DeviceID, entry.DeviceName, entry.OperationType, entry.Params,
		entry.Result, entry.Success, entry.ErrorMessage, entry.DurationMs,
	)
	if err != nil {
		r.logger.Error("Failed to record operation", zap.Error(err))
		return fmt.Errorf("failed to record operation: %w", err)
	}
	return nil
}

// ListByDevice lists the most recent operations against one device
func (r *operationLogRepository) ListByDevice(ctx context.Context, deviceID uuid.UUID, limit int) ([]*model.OperationLog, error) {
	query := `
		SELECT id, device_id, device_name, operation_type, params,
			   result, success, error_message, duration_ms, created_at
		FROM operation_log
		WHERE device_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`
	return r.queryEntries(ctx, query, deviceID, limit)
}

// ListRecent lists the most recent operations across all devices
func (r *operationLogRepository) ListRecent(ctx context.Context, limit int) ([]*model.OperationLog, error) {
	query := `
		SELECT id, device_id, device_name, operation_type, params,
			   result, success, error_message, duration_ms, created_at
		FROM operation_log
		ORDER BY created_at DESC
		LIMIT $1
	`
	return r.queryEntries(ctx, query, limit)
}

// DeleteOldEntries prunes audit entries older than the given time
func (r *operationLogRepository) DeleteOldEntries(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `DELETE FROM operation_log WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old operation log entries: %w", err)
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted entries: %w", err)
	}
	if deleted > 0 {
		r.logger.Info("Old operation log entries pruned", zap.Int64("deleted", deleted))
	}
	return deleted, nil
}

func (r *operationLogRepository) queryEntries(ctx context.Context, query string, args ...interface{}) ([]*model.OperationLog, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list operation log: %w", err)
	}
	defer rows.Close()

	var entries []*model.OperationLog
	for rows.Next() {
		entry := &model.OperationLog{}
		if err := rows.Scan(
			&entry.ID, &entry.DeviceID, &entry.DeviceName, &entry.OperationType, &entry.Params,
			&entry.Result, &entry.Success, &entry.ErrorMessage, &entry.DurationMs,
			&entry.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan operation log entry: %w", err)
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}
