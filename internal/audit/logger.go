package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/toolforge-platform/toolforge/internal/metrics"
	tnats "github.com/toolforge-platform/toolforge/internal/nats"
)

// Store persists audit entries.
type Store interface {
	Insert(ctx context.Context, e *Entry) error
}

// EventPublisher ships audit events to the stream for asynchronous
// persistence.
type EventPublisher interface {
	PublishRequestAudited(ctx context.Context, event tnats.RequestAuditedEvent) error
}

// Auditor records every metered call. The contract is best-effort and
// non-blocking: Log never returns an error and never panics, because
// an audit failure must not abort the caller's response. Failures go
// to the operational log and a counter.
type Auditor struct {
	store Store
	pub   EventPublisher
}

// NewAuditor creates an Auditor. pub may be nil, in which case entries
// are written synchronously to the store.
func NewAuditor(store Store, pub EventPublisher) *Auditor {
	return &Auditor{store: store, pub: pub}
}

// Log records one metered call. The caller's context may already be
// cancelled by the time the response is written, so the write uses a
// detached context with its own timeout.
func (a *Auditor) Log(ctx context.Context, e Entry) {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if a.pub != nil {
		if err := a.pub.PublishRequestAudited(ctx, toEvent(e)); err == nil {
			return
		} else {
			slog.Warn("audit: publish failed, falling back to direct insert",
				"error", err, "capability", e.Capability)
		}
	}

	if err := a.store.Insert(ctx, &e); err != nil {
		metrics.AuditWriteFailures.Inc()
		slog.Warn("audit: dropping entry, insert failed",
			"error", err, "capability", e.Capability, "entry_id", e.ID)
		return
	}
	metrics.AuditEntriesPersisted.Inc()
}

func toEvent(e Entry) tnats.RequestAuditedEvent {
	return tnats.RequestAuditedEvent{
		ID:             e.ID,
		UserID:         e.UserID,
		Capability:     e.Capability.String(),
		Request:        e.Request,
		Response:       e.Response,
		Success:        e.Success,
		ErrorMessage:   e.ErrorMessage,
		Origin:         e.Origin,
		ClientID:       e.ClientID,
		ResponseTimeMs: e.ResponseTimeMs,
		Timestamp:      e.CreatedAt,
	}
}
