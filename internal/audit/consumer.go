package audit

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/toolforge-platform/toolforge/internal/capability"
	"github.com/toolforge-platform/toolforge/internal/metrics"
	tnats "github.com/toolforge-platform/toolforge/internal/nats"
)

// Consumer listens on the request-audited NATS subject and persists
// entries to the database.
type Consumer struct {
	repo        *Repository
	consumerMgr *tnats.ConsumerManager
}

// NewConsumer creates a new audit event Consumer.
func NewConsumer(repo *Repository, consumerMgr *tnats.ConsumerManager) *Consumer {
	return &Consumer{
		repo:        repo,
		consumerMgr: consumerMgr,
	}
}

// Start begins the consume loop. Blocks until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	consumer, err := c.consumerMgr.EnsureConsumer(ctx, tnats.StreamEvents, "audit-persister", tnats.SubjectRequestAudited)
	if err != nil {
		return err
	}

	slog.Info("audit consumer started", "consumer", "audit-persister")

	for {
		msgs, err := consumer.Fetch(10, jetstream.FetchMaxWait(tnats.FetchTimeout))
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			slog.Debug("audit consumer: fetching events", "error", err)
			continue
		}

		for msg := range msgs.Messages() {
			c.handleEvent(ctx, msg)
		}

		if ctx.Err() != nil {
			return nil
		}
	}
}

func (c *Consumer) handleEvent(ctx context.Context, msg jetstream.Msg) {
	var event tnats.RequestAuditedEvent
	if err := json.Unmarshal(msg.Data(), &event); err != nil {
		slog.Error("audit consumer: unmarshaling event", "error", err)
		_ = msg.Nak()
		return
	}

	entry := eventToEntry(event)
	if err := c.repo.Insert(ctx, entry); err != nil {
		metrics.AuditWriteFailures.Inc()
		slog.Error("audit consumer: persisting entry", "error", err, "entry_id", entry.ID)
		_ = msg.Nak()
		return
	}
	metrics.AuditEntriesPersisted.Inc()

	_ = msg.Ack()

	slog.Debug("audit consumer: persisted entry",
		"capability", entry.Capability,
		"success", entry.Success,
		"entry_id", entry.ID,
	)
}

func eventToEntry(event tnats.RequestAuditedEvent) *Entry {
	return &Entry{
		ID:             event.ID,
		UserID:         event.UserID,
		Capability:     capability.Capability(event.Capability),
		Request:        event.Request,
		Response:       event.Response,
		Success:        event.Success,
		ErrorMessage:   event.ErrorMessage,
		Origin:         event.Origin,
		ClientID:       event.ClientID,
		ResponseTimeMs: event.ResponseTimeMs,
		CreatedAt:      event.Timestamp,
	}
}
