package nats

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// FetchTimeout is the default timeout for batch fetching messages from consumers.
const FetchTimeout = 2 * time.Second

// StreamEvents holds platform events, including the request audit trail.
const StreamEvents = "TOOLFORGE_EVENTS"

// Subject constants.
const (
	SubjectRequestAudited = "toolforge.events.request_audited"
)

// RequestAuditedEvent is published for every metered call, allowed or
// denied. The audit persister consumes it into request_audit_logs.
type RequestAuditedEvent struct {
	ID             uuid.UUID       `json:"id"`
	UserID         *uuid.UUID      `json:"user_id,omitempty"`
	Capability     string          `json:"capability"`
	Request        json.RawMessage `json:"request,omitempty"`
	Response       json.RawMessage `json:"response,omitempty"`
	Success        bool            `json:"success"`
	ErrorMessage   string          `json:"error_message,omitempty"`
	Origin         string          `json:"origin"`
	ClientID       string          `json:"client_id"`
	ResponseTimeMs int64           `json:"response_time_ms"`
	Timestamp      time.Time       `json:"timestamp"`
}
