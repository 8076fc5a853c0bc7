package engine

import (
	"context"
	"sync"
	"sync/atomic"
)

// JobHandler processes one TransferJob and records its own outcome.
type JobHandler func(context.Context, TransferJob)

// WorkerPool feeds a JobChannel to a resizable set of workers. A worker
// leaves when the channel closes, when it is scaled away, or when the pool
// context ends.
type WorkerPool struct {
	jobs    JobChannel
	handler JobHandler

	// OnPanic, when set, receives the job and value of a handler panic.
	// The worker survives and moves on to the next job.
	OnPanic func(TransferJob, any)

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	quits []chan struct{} // one per live worker, newest last
	wg    sync.WaitGroup
	busy  atomic.Int32
}

// NewWorkerPool creates a pool with no workers. Call SetWorkerCount to start.
func NewWorkerPool(ctx context.Context, jobs JobChannel, handler JobHandler) *WorkerPool {
	ctx, cancel := context.WithCancel(ctx)
	return &WorkerPool{
		jobs:    jobs,
		handler: handler,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetWorkerCount grows or shrinks the pool to n workers, minimum 1. Workers
// scaled away finish their current job first.
func (p *WorkerPool) SetWorkerCount(n int) {
	n = max(n, 1)
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.quits) < n {
		quit := make(chan struct{})
		p.quits = append(p.quits, quit)
		p.wg.Add(1)
		go p.work(quit)
	}
	for len(p.quits) > n {
		last := len(p.quits) - 1
		close(p.quits[last])
		p.quits = p.quits[:last]
	}
}

// WorkerCount returns the target number of workers.
func (p *WorkerPool) WorkerCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.quits)
}

// Busy returns how many workers are inside the handler right now.
func (p *WorkerPool) Busy() int {
	return int(p.busy.Load())
}

func (p *WorkerPool) work(quit <-chan struct{}) {
	defer p.wg.Done()
	for {
		// Leaving takes priority over picking up another job.
		select {
		case <-quit:
			return
		case <-p.ctx.Done():
			return
		default:
		}

		select {
		case <-quit:
			return
		case <-p.ctx.Done():
			return
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			p.handle(job)
		}
	}
}

func (p *WorkerPool) handle(job TransferJob) {
	p.busy.Add(1)
	defer p.busy.Add(-1)
	defer func() {
		if v := recover(); v != nil {
			if p.OnPanic == nil {
				panic(v)
			}
			p.OnPanic(job, v)
		}
	}()
	p.handler(p.ctx, job)
}

// Wait blocks until every worker has left. Close the job channel first so
// the queue drains.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// Stop cancels the pool context and waits for the workers. Handlers in
// flight see the cancellation.
func (p *WorkerPool) Stop() {
	p.cancel()
	p.wg.Wait()
}
