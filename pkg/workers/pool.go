package workers

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/flux/pkg/ferrors"
)

// task is one unit of queued work: the function to run and the time it was
// enqueued, so the dispatcher can tell how long it waited.
type task struct {
	fn       func()
	enqueued time.Time
}

// Pool is a fixed-size worker pool fronted by a bounded queue. A task that
// sits in the queue longer than ttl is dropped rather than run — CoDel-style
// queue expiry; the drop is not reported to the submitter and only shows in
// Stats. Submit fails with ferrors.Overloaded when the queue is full rather
// than letting a caller wait behind it.
type Pool struct {
	tasks chan task
	ttl   time.Duration

	wg     sync.WaitGroup
	stopCh chan struct{}

	mu      sync.Mutex
	dropped int64
	ran     int64
}

// NewPool starts size workers draining a queue of depth queueSize. Tasks
// older than ttl when a worker is about to run them are dropped instead.
func NewPool(size, queueSize int, ttl time.Duration) *Pool {
	p := &Pool{
		tasks:  make(chan task, queueSize),
		ttl:    ttl,
		stopCh: make(chan struct{}),
	}
	p.wg.Add(size)
	for i := 0; i < size; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case t := <-p.tasks:
			p.run(t)
		case <-p.stopCh:
			return
		}
	}
}

func (p *Pool) run(t task) {
	if p.ttl > 0 && time.Since(t.enqueued) > p.ttl {
		p.mu.Lock()
		p.dropped++
		p.mu.Unlock()
		return
	}
	p.mu.Lock()
	p.ran++
	p.mu.Unlock()
	t.fn()
}

// Submit enqueues fn, failing with ferrors.Overloaded if the queue is
// already full rather than blocking the caller behind it.
func (p *Pool) Submit(ctx context.Context, fn func()) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	select {
	case p.tasks <- task{fn: fn, enqueued: time.Now()}:
		return nil
	default:
		return ferrors.New(ferrors.Overloaded, "thread pool queue is full")
	}
}

// Stats reports cumulative dropped and completed task counts.
func (p *Pool) Stats() (ran, dropped int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ran, p.dropped
}

// Close stops the workers and waits for in-flight tasks to drain.
// Queued-but-not-started tasks are abandoned. Submit does not check for a
// closed pool: a task submitted after Close is queued and never runs.
func (p *Pool) Close() {
	close(p.stopCh)
	p.wg.Wait()
}
