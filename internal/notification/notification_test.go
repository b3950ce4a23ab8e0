package notification

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-rxworkflow/internal/domain/prescription"
	"github.com/drfirst/go-rxworkflow/internal/infrastructure/external"
	"github.com/drfirst/go-rxworkflow/internal/infrastructure/redpanda"
	"github.com/drfirst/go-rxworkflow/pkg/idempotency"
	"github.com/drfirst/go-rxworkflow/pkg/workerpool"
)

var sentAt = time.Date(2026, 3, 10, 16, 0, 0, 0, time.UTC)

type fakeSender struct {
	mu      sync.Mutex
	notices []*external.PickupNotice
	fail    int
}

func (s *fakeSender) Notify(_ context.Context, n *external.PickupNotice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail > 0 {
		s.fail--
		return errors.New("webhook returned 502")
	}
	s.notices = append(s.notices, n)
	return nil
}

func (s *fakeSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.notices)
}

type countingMetrics struct {
	mu       sync.Mutex
	outcomes map[string]int
}

func (m *countingMetrics) RecordNotification(outcome string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.outcomes == nil {
		m.outcomes = map[string]int{}
	}
	m.outcomes[outcome]++
}

func (m *countingMetrics) get(outcome string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.outcomes[outcome]
}

func readyEvent(t *testing.T, id string) prescription.Event {
	t.Helper()
	data, err := json.Marshal(prescription.ReadyData{
		PrescriptionID: "rx-1",
		PatientID:      "pat-1",
		DrugName:       "Lisinopril 10mg",
		BinID:          "B-007",
		ReadyAt:        sentAt.Add(-time.Hour),
	})
	require.NoError(t, err)
	return prescription.Event{
		ID:          id,
		AggregateID: "rx-1",
		EventType:   prescription.EventPrescriptionReady,
		EventData:   data,
	}
}

func newHandler(sender *fakeSender, metrics *countingMetrics) *Handler {
	inbox := idempotency.NewInbox(idempotency.NewMemoryStore(), idempotency.DefaultConfig(), nil)
	return NewHandler(inbox, sender, metrics, nil).WithClock(func() time.Time { return sentAt })
}

func TestHandleEventDeliversOnce(t *testing.T) {
	sender := &fakeSender{}
	metrics := &countingMetrics{}
	h := newHandler(sender, metrics)
	ev := readyEvent(t, "evt-1")

	require.NoError(t, h.HandleEvent(context.Background(), &ev))
	require.NoError(t, h.HandleEvent(context.Background(), &ev))

	require.Equal(t, 1, sender.count())
	n := sender.notices[0]
	assert.Equal(t, "evt-1", n.EventID)
	assert.Equal(t, "B-007", n.Ready.BinID)
	assert.Equal(t, sentAt, n.SentAt)
	assert.Equal(t, 1, metrics.get(OutcomeSent))
	assert.Equal(t, 1, metrics.get(OutcomeDuplicate))
}

func TestHandleEventRetriesWebhookFailure(t *testing.T) {
	sender := &fakeSender{fail: 1}
	metrics := &countingMetrics{}
	h := newHandler(sender, metrics)
	ev := readyEvent(t, "evt-2")

	err := h.HandleEvent(context.Background(), &ev)
	require.Error(t, err)
	assert.True(t, Retryable(err))

	require.NoError(t, h.HandleEvent(context.Background(), &ev))
	assert.Equal(t, 1, sender.count())
	assert.Equal(t, 1, metrics.get(OutcomeFailed))
	assert.Equal(t, 1, metrics.get(OutcomeSent))
}

func TestHandleEventParksMalformedPayload(t *testing.T) {
	sender := &fakeSender{}
	h := newHandler(sender, &countingMetrics{})
	ev := prescription.Event{ID: "evt-3", EventType: prescription.EventPrescriptionReady, EventData: json.RawMessage(`{}`)}

	assert.NoError(t, h.HandleEvent(context.Background(), &ev))
	assert.NoError(t, h.HandleEvent(context.Background(), &ev))
	assert.Zero(t, sender.count())
}

func TestHandleMessageIgnoresOtherEvents(t *testing.T) {
	sender := &fakeSender{}
	metrics := &countingMetrics{}
	h := newHandler(sender, metrics)

	value, _ := json.Marshal(prescription.Event{ID: "evt-4", EventType: prescription.EventPrescriptionSold})
	require.NoError(t, h.HandleMessage(context.Background(), &redpanda.ConsumedMessage{Topic: "t", Value: value}))
	require.NoError(t, h.HandleMessage(context.Background(), &redpanda.ConsumedMessage{Topic: "t", Value: []byte("{")}))

	assert.Zero(t, sender.count())
	assert.Equal(t, 1, metrics.get(OutcomeIgnored))
	assert.Equal(t, 1, metrics.get(OutcomeFailed))
}

func TestDispatcherDeliversPickupTopicOnly(t *testing.T) {
	sender := &fakeSender{fail: 1}
	h := newHandler(sender, &countingMetrics{})

	cfg := workerpool.DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	d, err := NewDispatcher(h, cfg, nil)
	require.NoError(t, err)
	d.Start()

	assert.False(t, d.Dispatch(prescription.TopicWorkflowEvents, readyEvent(t, "evt-5")))
	assert.True(t, d.Dispatch(prescription.TopicPickupNotifications, readyEvent(t, "evt-6")))
	require.NoError(t, d.Stop())

	assert.Equal(t, 1, sender.count())
	assert.Equal(t, int64(1), d.Stats().TasksRetried)
}

func TestPumpDrainsUntilCancelled(t *testing.T) {
	sender := &fakeSender{}
	h := newHandler(sender, &countingMetrics{})
	d, err := NewDispatcher(h, workerpool.DefaultConfig(), nil)
	require.NoError(t, err)
	d.Start()

	ev := readyEvent(t, "evt-7")
	var once sync.Once
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Pump(ctx, time.Millisecond, func() []Routed {
			var out []Routed
			once.Do(func() {
				out = []Routed{{Topic: prescription.TopicPickupNotifications, Event: ev}}
			})
			return out
		})
		close(done)
	}()

	require.Eventually(t, func() bool { return sender.count() == 1 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	require.NoError(t, d.Stop())
}
