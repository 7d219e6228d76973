package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/HMasataka/relay/internal/logging"
)

var (
	// ErrQueueFull is returned by Submit when the task queue has no room
	ErrQueueFull = errors.New("worker queue full")

	// ErrPoolStopped is returned by Submit after Stop
	ErrPoolStopped = errors.New("worker pool stopped")
)

// Task is a unit of background work. The context is cancelled when the
// pool stops; tasks still queued at that point run with the cancelled
// context so they can take their fallback path.
type Task func(ctx context.Context)

// Stats is a point in time view of the pool
type Stats struct {
	Queued    int
	Submitted int64
	Rejected  int64
	Panics    int64
}

// Pool runs tasks on a fixed number of goroutines fed by a bounded queue
type Pool struct {
	tasks   chan Task
	workers int
	logger  *logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.RWMutex
	stopped bool

	submitted atomic.Int64
	rejected  atomic.Int64
	panics    atomic.Int64
}

// NewPool creates a pool; call Start before submitting
func NewPool(workers, queueSize int, logger *logging.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}

	return &Pool{
		tasks:   make(chan Task, queueSize),
		workers: workers,
		logger:  logger,
	}
}

// Start launches the workers
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped || p.ctx != nil {
		return
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	p.logger.Debug("worker pool started", "workers", p.workers, "queue_size", cap(p.tasks))
}

// Submit enqueues task without blocking
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped || p.ctx == nil {
		p.rejected.Add(1)
		return ErrPoolStopped
	}

	select {
	case p.tasks <- task:
		p.submitted.Add(1)
		return nil
	default:
		p.rejected.Add(1)
		return ErrQueueFull
	}
}

// Stop cancels the task context, runs whatever is still queued and waits
// for the workers to exit
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	cancel := p.cancel
	// Submit sends under the read lock, so nothing can send after this.
	close(p.tasks)
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	p.wg.Wait()
	p.logger.Debug("worker pool stopped")
}

// Stats returns counters for metrics and health output
func (p *Pool) Stats() Stats {
	return Stats{
		Queued:    len(p.tasks),
		Submitted: p.submitted.Load(),
		Rejected:  p.rejected.Load(),
		Panics:    p.panics.Load(),
	}
}

func (p *Pool) run() {
	defer p.wg.Done()

	for task := range p.tasks {
		p.execute(task)
	}
}

func (p *Pool) execute(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.panics.Add(1)
			p.logger.Error("worker task panicked", "panic", r)
		}
	}()

	task(p.ctx)
}
