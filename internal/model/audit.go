// internal/model/audit.go
package model

import (
	"time"

	"github.com/google/uuid"
)

// OperationLog records one command executed against a device,
// persisted for audit when the database is enabled. Both ad-hoc
// operations and scheduled job fires land here.
type OperationLog struct {
	ID            uuid.UUID     `json:"id" db:"id"`
	DeviceID      uuid.UUID     `json:"device_id" db:"device_id"`
	DeviceName    string        `json:"device_name" db:"device_name"`
	OperationType OperationType `json:"operation_type" db:"operation_type"`
	Params        JSONObject    `json:"params,omitempty" db:"params"`
	Result        JSONObject    `json:"result,omitempty" db:"result"`
	Success       bool          `json:"success" db:"success"`
	ErrorMessage  *string       `json:"error_message,omitempty" db:"error_message"`
	DurationMs    int           `json:"duration_ms" db:"duration_ms"`
	CreatedAt     time.Time     `json:"created_at" db:"created_at"`
}
