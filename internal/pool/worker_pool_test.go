package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_RunsTasks(t *testing.T) {
	p := NewWorkerPool(4, 16, nil)
	p.Start(context.Background())

	var count int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) {
			defer wg.Done()
			atomic.AddInt32(&count, 1)
		}))
	}
	wg.Wait()
	p.Stop()

	assert.Equal(t, int32(50), atomic.LoadInt32(&count))
}

func TestWorkerPool_RecoversPanics(t *testing.T) {
	p := NewWorkerPool(1, 4, nil)
	recovered := make(chan interface{}, 1)
	p.OnPanic(func(r interface{}) { recovered <- r })
	p.Start(context.Background())
	defer p.Stop()

	require.NoError(t, p.TrySubmit(func(ctx context.Context) { panic("boom") }))

	select {
	case r := <-recovered:
		assert.Equal(t, "boom", r)
	case <-time.After(time.Second):
		t.Fatal("panic not recovered")
	}

	done := make(chan struct{})
	require.NoError(t, p.TrySubmit(func(ctx context.Context) { close(done) }))
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive panic")
	}
}

func TestWorkerPool_QueueFullAndStopped(t *testing.T) {
	p := NewWorkerPool(1, 1, nil)

	// 未启动时队列只能容纳一个任务
	require.NoError(t, p.TrySubmit(func(ctx context.Context) {}))
	assert.ErrorIs(t, p.TrySubmit(func(ctx context.Context) {}), ErrQueueFull)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, p.Submit(ctx, func(ctx context.Context) {}), context.DeadlineExceeded)

	p.Start(context.Background())
	p.Stop()
	p.Stop()

	assert.ErrorIs(t, p.TrySubmit(func(ctx context.Context) {}), ErrPoolStopped)
	assert.ErrorIs(t, p.Submit(context.Background(), func(ctx context.Context) {}), ErrPoolStopped)
}
