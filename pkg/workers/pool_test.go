package workers

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPoolRunsSubmittedWork(t *testing.T) {
	p := NewPool(2, 8, time.Second)
	defer p.Close()

	var wg sync.WaitGroup
	wg.Add(5)
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Submit(context.Background(), func() { wg.Done() }))
	}
	wg.Wait()

	ran, dropped := p.Stats()
	require.Equal(t, int64(5), ran)
	require.Equal(t, int64(0), dropped)
}

func TestPoolSubmitFailsWhenQueueFull(t *testing.T) {
	block := make(chan struct{})
	p := NewPool(1, 1, time.Second)
	defer func() {
		close(block)
		p.Close()
	}()

	require.NoError(t, p.Submit(context.Background(), func() { <-block }))
	require.NoError(t, p.Submit(context.Background(), func() {}))

	err := p.Submit(context.Background(), func() {})
	require.Error(t, err)
}

func TestPoolDropsExpiredTasks(t *testing.T) {
	block := make(chan struct{})
	p := NewPool(1, 4, time.Millisecond)

	require.NoError(t, p.Submit(context.Background(), func() { <-block }))

	var ran bool
	require.NoError(t, p.Submit(context.Background(), func() { ran = true }))
	time.Sleep(20 * time.Millisecond)
	close(block)
	time.Sleep(20 * time.Millisecond)
	p.Close()

	_, dropped := p.Stats()
	require.Greater(t, dropped, int64(0))
	require.False(t, ran)
}
