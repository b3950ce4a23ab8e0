package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drfirst/go-rxworkflow/internal/apperr"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestInbox() (*Inbox, *MemoryStore, *fakeClock) {
	store := NewMemoryStore()
	clock := &fakeClock{now: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)}
	return NewInbox(store, DefaultConfig(), nil).WithClock(clock.Now), store, clock
}

func TestProcessRunsOnce(t *testing.T) {
	inbox, _, _ := newTestInbox()
	ctx := context.Background()
	key := Key("pickup-notifier", "evt-1")

	calls := 0
	fn := func(ctx context.Context, payload json.RawMessage) (json.RawMessage, error) {
		calls++
		return json.RawMessage(`{"sent":true}`), nil
	}

	first, err := inbox.Process(ctx, key, "pickup-notifier", json.RawMessage(`{}`), fn)
	require.NoError(t, err)
	assert.True(t, first.IsNew)

	second, err := inbox.Process(ctx, key, "pickup-notifier", json.RawMessage(`{}`), fn)
	require.NoError(t, err)
	assert.False(t, second.IsNew)
	assert.JSONEq(t, `{"sent":true}`, string(second.Result))
	assert.Equal(t, 1, calls)
}

func TestKeyIsPerConsumer(t *testing.T) {
	assert.Equal(t, Key("a", "evt-1"), Key("a", "evt-1"))
	assert.NotEqual(t, Key("a", "evt-1"), Key("b", "evt-1"))
	assert.Len(t, Key("a", "evt-1"), 64)
}

func TestRecoverableErrorIsRetried(t *testing.T) {
	inbox, store, _ := newTestInbox()
	ctx := context.Background()
	key := Key("pickup-notifier", "evt-2")

	boom := apperr.Unavailable(apperr.CodeExternalUnavailable, errors.New("503"), "webhook down")
	_, err := inbox.Process(ctx, key, "h", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, boom
	})
	require.ErrorIs(t, err, boom)

	entry, err := store.Get(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, StatusRecoverable, entry.Status)

	res, err := inbox.Process(ctx, key, "h", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	})
	require.NoError(t, err)
	assert.True(t, res.WasRecovered)
	assert.False(t, res.IsNew)
}

func TestTerminalErrorIsNotRetried(t *testing.T) {
	inbox, store, _ := newTestInbox()
	ctx := context.Background()
	key := Key("pickup-notifier", "evt-3")

	_, err := inbox.Process(ctx, key, "h", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, apperr.Validation("missing patient")
	})
	require.Error(t, err)

	entry, _ := store.Get(ctx, key)
	assert.Equal(t, StatusFailed, entry.Status)

	_, err = inbox.Process(ctx, key, "h", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		t.Fatal("handler must not run again")
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrPreviouslyFailed)
}

func TestInProgressAndStaleRecovery(t *testing.T) {
	inbox, store, clock := newTestInbox()
	ctx := context.Background()
	key := Key("pickup-notifier", "evt-4")

	require.NoError(t, store.Start(ctx, key, "h", nil, clock.now.Add(time.Hour), clock.now))

	_, err := inbox.Process(ctx, key, "h", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrMessageInProgress)

	clock.Advance(6 * time.Minute)
	res, err := inbox.Process(ctx, key, "h", nil, func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`1`), nil
	})
	require.NoError(t, err)
	assert.True(t, res.WasRecovered)

	entry, _ := store.Get(ctx, key)
	assert.Equal(t, StatusFinished, entry.Status)
}

func TestRecoverStaleAndCleanup(t *testing.T) {
	inbox, store, clock := newTestInbox()
	ctx := context.Background()

	require.NoError(t, store.Start(ctx, "stale", "h", nil, clock.now.Add(time.Hour), clock.now))
	clock.Advance(10 * time.Minute)
	require.NoError(t, store.Start(ctx, "fresh", "h", nil, clock.now.Add(7*24*time.Hour), clock.now))

	n, err := inbox.RecoverStaleEntries(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	stats, err := inbox.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalEntries)
	assert.Equal(t, int64(1), stats.Recoverable)
	assert.Equal(t, int64(1), stats.Started)

	clock.Advance(2 * time.Hour)
	deleted, err := inbox.Cleanup(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	_, err = store.Get(ctx, "stale")
	assert.ErrorIs(t, err, ErrNotFound)
}
