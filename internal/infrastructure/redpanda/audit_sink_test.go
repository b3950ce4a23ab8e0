package redpanda

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-rxworkflow/internal/domain/audit"
)

type capturePublisher struct {
	records []*Record
	err     error
}

func (c *capturePublisher) PublishBatch(_ context.Context, records []*Record) error {
	if c.err != nil {
		return c.err
	}
	c.records = append(c.records, records...)
	return nil
}

func TestAuditSinkKeysByResource(t *testing.T) {
	pub := &capturePublisher{}
	sink := NewAuditSink(pub, "")

	at := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	entries := []*audit.Entry{
		audit.NewEntry("staff-1", "rx-1", &audit.Hold{Placed: true, Reason: "call prescriber"}, at),
		audit.NewEntry("staff-2", "rx-2", &audit.Hold{Placed: false}, at),
	}
	require.NoError(t, sink.Write(context.Background(), entries))

	require.Len(t, pub.records, 2)
	assert.Equal(t, TopicAuditTrail, pub.records[0].Topic)
	assert.Equal(t, "rx-1", pub.records[0].Key)
	assert.Equal(t, "staff-2", pub.records[1].Headers["actor-id"])

	var decoded audit.Entry
	require.NoError(t, json.Unmarshal(pub.records[0].Value, &decoded))
	assert.Equal(t, entries[0].ID, decoded.ID)
	assert.Equal(t, audit.ActionHold, decoded.Action)
}

func TestAuditSinkPropagatesPublishError(t *testing.T) {
	pub := &capturePublisher{err: errors.New("broker down")}
	sink := NewAuditSink(pub, "custom.audit")

	err := sink.Write(context.Background(), []*audit.Entry{
		audit.NewEntry("staff-1", "rx-1", &audit.Hold{Placed: true, Reason: "x"}, time.Now()),
	})
	require.Error(t, err)
}

func TestDefaultTopicsIncludeWorkflowAndAudit(t *testing.T) {
	names := map[string]bool{}
	for _, cfg := range DefaultTopicConfigs(0) {
		names[cfg.Name] = true
		assert.Equal(t, int16(1), cfg.ReplicationFactor)
	}
	for _, want := range []string{TopicWorkflowEvents, TopicPickupNotifications, TopicAuditTrail, TopicDeadLetter} {
		assert.True(t, names[want], want)
	}
}
