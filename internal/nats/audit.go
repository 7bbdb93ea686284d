package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go/jetstream"
)

const (
	// AuditStreamName is the name of the calendar audit stream.
	AuditStreamName = "CAL_AUDIT"

	// AuditSubjectPrefix is the prefix for all audit subjects.
	AuditSubjectPrefix = "audit"
)

// AuditRecord is an append-only record of a calendar mutation.
type AuditRecord struct {
	ID         string    `json:"id"`
	Action     string    `json:"action"`
	CalendarID string    `json:"calendar_id"`
	EventID    string    `json:"event_id"`
	UserID     string    `json:"user_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// NewAuditRecord creates an audit record for a calendar mutation. Record ids
// are time-ordered (uuid v7) so the stream sorts by id as well as by
// sequence.
func NewAuditRecord(action, calendarID, eventID, userID string) AuditRecord {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return AuditRecord{
		ID:         id.String(),
		Action:     action,
		CalendarID: calendarID,
		EventID:    eventID,
		UserID:     userID,
		Timestamp:  time.Now().UTC(),
	}
}

// AuditSubject returns the subject for an audit record.
func AuditSubject(action string) string {
	return fmt.Sprintf("%s.%s", AuditSubjectPrefix, action)
}

// AuditPublisher publishes audit records to JetStream.
type AuditPublisher struct {
	client *Client
}

// NewAuditPublisher creates a new audit publisher.
func NewAuditPublisher(client *Client) *AuditPublisher {
	return &AuditPublisher{client: client}
}

// EnsureStream ensures the audit stream exists with proper configuration.
func (p *AuditPublisher) EnsureStream(ctx context.Context) error {
	js := p.client.JetStream()

	_, err := js.Stream(ctx, AuditStreamName)
	if err == nil {
		return nil
	}

	_, err = js.CreateStream(ctx, jetstream.StreamConfig{
		Name:        AuditStreamName,
		Subjects:    []string{fmt.Sprintf("%s.>", AuditSubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      365 * 24 * time.Hour,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Compression: jetstream.S2Compression,
		DenyDelete:  true,
		DenyPurge:   true,
		Description: "Calendar mutation audit trail",
	})
	if err != nil {
		return fmt.Errorf("failed to create audit stream: %w", err)
	}

	return nil
}

// Publish appends an audit record to the stream.
func (p *AuditPublisher) Publish(ctx context.Context, rec AuditRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal audit record: %w", err)
	}

	if _, err := p.client.JetStream().Publish(ctx, AuditSubject(rec.Action), data); err != nil {
		return fmt.Errorf("failed to publish audit record: %w", err)
	}

	return nil
}
