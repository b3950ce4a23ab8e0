package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var errRemote = errors.New("remote down")

func failing() (interface{}, error) { return nil, errRemote }

func TestBreakerTripsAfterConsecutiveFailures(t *testing.T) {
	cfg := DefaultConfig("claims-switch")
	cfg.FailureThreshold = 3
	cfg.Timeout = time.Minute

	var transitions []State
	cb, err := New(cfg, zap.NewNop())
	require.NoError(t, err)
	cb.OnStateChange(func(name string, s State) {
		assert.Equal(t, "claims-switch", name)
		transitions = append(transitions, s)
	})

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := cb.Execute(ctx, failing)
		assert.ErrorIs(t, err, errRemote)
	}
	assert.True(t, cb.IsOpen())
	assert.Equal(t, []State{StateOpen}, transitions)

	called := false
	_, err = cb.Execute(ctx, func() (interface{}, error) {
		called = true
		return nil, nil
	})
	assert.ErrorIs(t, err, ErrOpen)
	assert.False(t, called)
}

func TestCanceledCallerDoesNotCount(t *testing.T) {
	cfg := DefaultConfig("pdmp")
	cfg.FailureThreshold = 1
	cb, err := New(cfg, nil)
	require.NoError(t, err)

	_, err = cb.Execute(context.Background(), func() (interface{}, error) {
		return nil, context.Canceled
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StateClosed, cb.GetState())
}

func TestGuardTimeout(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	start := time.Now()
	_, err := Guard(context.Background(), nil, 20*time.Millisecond, func(ctx context.Context) (interface{}, error) {
		<-release
		return "late", nil
	})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestGuardThroughBreaker(t *testing.T) {
	cb, err := New(DefaultConfig("notify-webhook"), zap.NewNop())
	require.NoError(t, err)

	v, err := Guard(context.Background(), cb, time.Second, func(ctx context.Context) (interface{}, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, uint32(1), cb.Counts().Requests)
}

func TestManager(t *testing.T) {
	var seen []string
	m := NewManager(func(name string, s State) { seen = append(seen, name+":"+string(s)) }, nil)

	cfg := DefaultConfig("ignored")
	cfg.FailureThreshold = 1
	a, err := m.GetOrCreate("pdmp", cfg)
	require.NoError(t, err)
	b, err := m.GetOrCreate("pdmp", DefaultConfig("pdmp"))
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, "pdmp", a.Name())

	_, err = a.Execute(context.Background(), failing)
	require.Error(t, err)
	assert.Equal(t, []string{"pdmp:open"}, seen)

	status := m.GetHealthStatus()
	require.Len(t, status, 1)
	assert.Equal(t, "pdmp", status[0].Name)
	assert.Equal(t, StateOpen, status[0].State)
	assert.False(t, status[0].Healthy)
}
