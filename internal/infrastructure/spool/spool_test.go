package spool

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-rxworkflow/internal/domain/audit"
)

type flakySink struct {
	fail    bool
	written []*audit.Entry
}

func (f *flakySink) Write(_ context.Context, entries []*audit.Entry) error {
	if f.fail {
		return errors.New("sink unavailable")
	}
	f.written = append(f.written, entries...)
	return nil
}

func entries(n int) []*audit.Entry {
	at := time.Date(2026, 3, 10, 15, 0, 0, 0, time.UTC)
	out := make([]*audit.Entry, n)
	for i := range out {
		out[i] = audit.NewEntry("staff-1", "rx-1", &audit.Hold{Placed: true, Reason: "waiting on prescriber"}, at)
	}
	return out
}

func TestReplayDrainsInOrder(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	defer s.Close()

	first, second := entries(3), entries(2)
	require.NoError(t, s.Put(first))
	require.NoError(t, s.Put(second))

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	sink := &flakySink{}
	replayed, err := s.Replay(context.Background(), sink, 2)
	require.NoError(t, err)
	assert.Equal(t, 5, replayed)

	want := append(first, second...)
	require.Len(t, sink.written, 5)
	for i := range want {
		assert.Equal(t, want[i].ID, sink.written[i].ID)
	}

	n, err = s.Len()
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestReplayKeepsEntriesWhenSinkFails(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(entries(2)))

	replayed, err := s.Replay(context.Background(), &flakySink{fail: true}, 10)
	require.Error(t, err)
	assert.Zero(t, replayed)

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestDelivererSpoolsFailures(t *testing.T) {
	s, err := Open(t.TempDir(), nil)
	require.NoError(t, err)
	defer s.Close()

	d := audit.NewDeliverer(&flakySink{fail: true}, s, nil, nil)
	d.Deliver(context.Background(), entries(1))

	n, err := s.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
