package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type failingSink struct{ calls int }

func (s *failingSink) Write(context.Context, []*Entry) error {
	s.calls++
	return errors.New("broker down")
}

type memSpool struct{ entries []*Entry }

func (s *memSpool) Put(entries []*Entry) error {
	s.entries = append(s.entries, entries...)
	return nil
}

type counter struct{ n int }

func (c *counter) RecordAuditFailure() { c.n++ }

func TestEntryRoundTrip(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	e := NewEntry("staff-1", "rx-1", &Transition{From: "INTAKE", To: "DATA_ENTRY", Sequence: 2}, at)
	if e.Action != ActionStateTransition || e.ResourceType != ResourcePrescription {
		t.Fatalf("entry = %+v", e)
	}

	raw, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}
	var got Entry
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatal(err)
	}
	tr, ok := got.Details.(*Transition)
	if !ok {
		t.Fatalf("details decoded as %T", got.Details)
	}
	if tr.From != "INTAKE" || tr.To != "DATA_ENTRY" || tr.Sequence != 2 {
		t.Errorf("transition = %+v", tr)
	}
}

func TestDecodePayloadUnknownAction(t *testing.T) {
	if _, err := DecodePayload("prescription.deleted", []byte(`{}`)); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestDelivererSwallowsAndSpools(t *testing.T) {
	sink := &failingSink{}
	spool := &memSpool{}
	c := &counter{}
	d := NewDeliverer(sink, spool, c, nil)

	entries := []*Entry{
		NewEntry("staff-1", "rx-1", &Hold{Placed: true, Reason: "awaiting prescriber callback"}, time.Now()),
	}
	d.Deliver(context.Background(), entries)

	if sink.calls != 1 {
		t.Errorf("sink calls = %d", sink.calls)
	}
	if len(spool.entries) != 1 || spool.entries[0].ID != entries[0].ID {
		t.Errorf("spool = %v", spool.entries)
	}
	if c.n != 1 {
		t.Errorf("failures counted = %d", c.n)
	}
}

func TestDelivererNoEntries(t *testing.T) {
	sink := &failingSink{}
	NewDeliverer(sink, nil, nil, nil).Deliver(context.Background(), nil)
	if sink.calls != 0 {
		t.Error("sink should not be called without entries")
	}
}
