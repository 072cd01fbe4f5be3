package audit

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/toolforge-platform/toolforge/internal/capability"
)

// Entry matches the request_audit_logs table schema: one immutable row
// per metered call, allowed or denied. Rows are never updated or
// deleted by this service.
type Entry struct {
	ID             uuid.UUID             `json:"id"`
	UserID         *uuid.UUID            `json:"user_id,omitempty"`
	Capability     capability.Capability `json:"capability"`
	Request        json.RawMessage       `json:"request,omitempty"`
	Response       json.RawMessage       `json:"response,omitempty"`
	Success        bool                  `json:"success"`
	ErrorMessage   string                `json:"error_message,omitempty"`
	Origin         string                `json:"origin"`
	ClientID       string                `json:"client_id"`
	ResponseTimeMs int64                 `json:"response_time_ms"`
	CreatedAt      time.Time             `json:"created_at"`
}

// ListParams holds pagination and filtering parameters for audit queries.
type ListParams struct {
	UserID     *uuid.UUID
	Capability string
	Success    *bool
	From       *time.Time
	To         *time.Time
	Page       int
	PageSize   int
}

// DefaultListParams returns sensible defaults.
func DefaultListParams() ListParams {
	return ListParams{
		Page:     1,
		PageSize: 20,
	}
}
