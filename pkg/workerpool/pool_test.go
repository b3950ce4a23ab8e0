package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryDelay = time.Millisecond
	cfg.GracefulShutdownTimeout = 2 * time.Second
	return cfg
}

func TestSubmitWaitReturnsOwnResult(t *testing.T) {
	pool, err := New(testConfig(), func(ctx context.Context, task *Task) *Result {
		return &Result{Success: true, Data: task.Payload.(int) * 2}
	}, nil)
	require.NoError(t, err)
	pool.Start()
	defer pool.Stop()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := pool.SubmitWait(context.Background(), &Task{ID: fmt.Sprint(i), Payload: i})
			if !assert.NoError(t, err) {
				return
			}
			assert.Equal(t, fmt.Sprint(i), res.TaskID)
			assert.Equal(t, i*2, res.Data)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int64(20), pool.Stats().TasksCompleted)
}

func TestRetriesUntilSuccess(t *testing.T) {
	var calls int32
	pool, err := New(testConfig(), func(ctx context.Context, task *Task) *Result {
		if atomic.AddInt32(&calls, 1) < 3 {
			return &Result{Error: errors.New("webhook 503")}
		}
		return &Result{Success: true}
	}, nil)
	require.NoError(t, err)
	pool.Start()
	defer pool.Stop()

	res, err := pool.SubmitWait(context.Background(), &Task{ID: "t1"})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int64(2), pool.Stats().TasksRetried)
}

func TestShouldRetryStopsTerminalFailures(t *testing.T) {
	terminal := errors.New("bad payload")
	cfg := testConfig()
	cfg.ShouldRetry = func(err error) bool { return !errors.Is(err, terminal) }

	var calls int32
	pool, err := New(cfg, func(ctx context.Context, task *Task) *Result {
		atomic.AddInt32(&calls, 1)
		return &Result{Error: terminal}
	}, nil)
	require.NoError(t, err)
	pool.Start()
	defer pool.Stop()

	res, err := pool.SubmitWait(context.Background(), &Task{ID: "t1"})
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.ErrorIs(t, res.Error, terminal)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestOnResultAndStop(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	cfg := testConfig()
	cfg.OnResult = func(r *Result) {
		mu.Lock()
		seen = append(seen, r.TaskID)
		mu.Unlock()
	}

	pool, err := New(cfg, func(ctx context.Context, task *Task) *Result { return nil }, nil)
	require.NoError(t, err)
	pool.Start()

	for i := 0; i < 5; i++ {
		require.NoError(t, pool.Submit(&Task{ID: fmt.Sprint(i)}))
	}
	require.NoError(t, pool.Stop())

	mu.Lock()
	assert.Len(t, seen, 5)
	mu.Unlock()

	assert.ErrorIs(t, pool.Submit(&Task{ID: "late"}), ErrShuttingDown)
	assert.NoError(t, pool.Stop())
}

func TestQueueFull(t *testing.T) {
	cfg := testConfig()
	cfg.QueueSize = 1
	pool, err := New(cfg, func(ctx context.Context, task *Task) *Result { return nil }, nil)
	require.NoError(t, err)

	// workers not started, so the queue stays full
	require.NoError(t, pool.Submit(&Task{ID: "a"}))
	assert.ErrorIs(t, pool.Submit(&Task{ID: "b"}), ErrQueueFull)
	assert.False(t, pool.IsHealthy())

	pool.Start()
	require.NoError(t, pool.Stop())
}
