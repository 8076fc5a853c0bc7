package engine_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/franksops/assetdock/engine"
	"github.com/franksops/assetdock/manifest"
)

func TestWorkerPool_Resize(t *testing.T) {
	pool := engine.NewWorkerPool(context.Background(), make(engine.JobChannel), func(context.Context, engine.TransferJob) {})
	defer pool.Stop()

	pool.SetWorkerCount(5)
	assert.Equal(t, 5, pool.WorkerCount())

	pool.SetWorkerCount(2)
	assert.Equal(t, 2, pool.WorkerCount())

	pool.SetWorkerCount(0)
	assert.Equal(t, 1, pool.WorkerCount(), "never fewer than one worker")
}

func TestWorkerPool_DrainsOnClose(t *testing.T) {
	ch := make(engine.JobChannel, 10)

	var mu sync.Mutex
	seen := map[int]bool{}
	pool := engine.NewWorkerPool(context.Background(), ch, func(_ context.Context, job engine.TransferJob) {
		mu.Lock()
		seen[job.Seq] = true
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
	})
	pool.SetWorkerCount(3)

	for i := range 10 {
		ch <- engine.TransferJob{Seq: i, Descriptor: manifest.Descriptor{URL: "https://hostA/f"}}
	}
	close(ch)
	pool.Wait()
	pool.Stop()

	assert.Len(t, seen, 10)
}

func TestWorkerPool_BoundsConcurrency(t *testing.T) {
	ch := make(engine.JobChannel)

	var running, peak atomic.Int32
	pool := engine.NewWorkerPool(context.Background(), ch, func(context.Context, engine.TransferJob) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
	})
	pool.SetWorkerCount(2)
	for i := range 8 {
		ch <- engine.TransferJob{Seq: i}
	}
	close(ch)
	pool.Wait()
	pool.Stop()

	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestWorkerPool_Busy(t *testing.T) {
	ch := make(engine.JobChannel)
	entered := make(chan struct{})
	release := make(chan struct{})

	pool := engine.NewWorkerPool(context.Background(), ch, func(context.Context, engine.TransferJob) {
		entered <- struct{}{}
		<-release
	})
	pool.SetWorkerCount(2)
	assert.Equal(t, 0, pool.Busy())

	ch <- engine.TransferJob{Seq: 0}
	ch <- engine.TransferJob{Seq: 1}
	<-entered
	<-entered
	assert.Equal(t, 2, pool.Busy())

	close(release)
	close(ch)
	pool.Wait()
	assert.Equal(t, 0, pool.Busy())
	pool.Stop()
}

func TestWorkerPool_PanicIsReported(t *testing.T) {
	ch := make(engine.JobChannel, 3)

	var handled atomic.Int32
	var mu sync.Mutex
	var panicked []int
	pool := engine.NewWorkerPool(context.Background(), ch, func(_ context.Context, job engine.TransferJob) {
		if job.Seq == 1 {
			panic("corrupt header")
		}
		handled.Add(1)
	})
	pool.OnPanic = func(job engine.TransferJob, v any) {
		mu.Lock()
		defer mu.Unlock()
		panicked = append(panicked, job.Seq)
		assert.Equal(t, "corrupt header", v)
	}
	pool.SetWorkerCount(1)

	for i := range 3 {
		ch <- engine.TransferJob{Seq: i}
	}
	close(ch)
	pool.Wait()
	pool.Stop()

	assert.Equal(t, []int{1}, panicked)
	assert.Equal(t, int32(2), handled.Load(), "the worker keeps going after a panic")
}

func TestWorkerPool_StopCancelsHandlers(t *testing.T) {
	ch := make(engine.JobChannel, 1)
	started := make(chan struct{})
	cancelled := make(chan struct{})

	pool := engine.NewWorkerPool(context.Background(), ch, func(ctx context.Context, _ engine.TransferJob) {
		close(started)
		<-ctx.Done()
		close(cancelled)
	})
	pool.SetWorkerCount(1)
	ch <- engine.TransferJob{}

	<-started
	pool.Stop()

	select {
	case <-cancelled:
	case <-time.After(time.Second):
		require.FailNow(t, "handler never observed cancellation")
	}
}
