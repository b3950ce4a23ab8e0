package redpanda

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/drfirst/go-rxworkflow/internal/domain/audit"
)

// BatchPublisher is the slice of Producer the audit sink needs
type BatchPublisher interface {
	PublishBatch(ctx context.Context, records []*Record) error
}

// AuditSink writes audit entries to the audit topic, keyed by resource id
type AuditSink struct {
	publisher BatchPublisher
	topic     string
}

// NewAuditSink creates a sink; an empty topic means TopicAuditTrail
func NewAuditSink(publisher BatchPublisher, topic string) *AuditSink {
	if topic == "" {
		topic = TopicAuditTrail
	}
	return &AuditSink{publisher: publisher, topic: topic}
}

func (s *AuditSink) Write(ctx context.Context, entries []*audit.Entry) error {
	records := make([]*Record, 0, len(entries))
	for _, e := range entries {
		value, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode audit entry %s: %w", e.ID, err)
		}
		records = append(records, &Record{
			Topic: s.topic,
			Key:   e.ResourceID,
			Value: value,
			Headers: map[string]string{
				"audit-action": string(e.Action),
				"actor-id":     e.ActorID,
			},
		})
	}
	return s.publisher.PublishBatch(ctx, records)
}

var _ audit.Sink = (*AuditSink)(nil)
