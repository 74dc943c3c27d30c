// Package worker runs background tasks on a fixed set of goroutines fed by a
// bounded queue.
package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	// ErrQueueFull is returned by TrySubmit when the queue has no free slot.
	ErrQueueFull = errors.New("worker queue is full")

	// ErrPoolClosed is returned when submitting to a pool that is shutting down.
	ErrPoolClosed = errors.New("worker pool is closed")
)

// Task kinds, used for logging.
const (
	KindReply   = "reply"
	KindSummary = "summary"
	KindLearn   = "learn"
)

// TaskFunc is the body of a task. ctx is cancelled only when the pool is
// forced to stop.
type TaskFunc func(ctx context.Context)

type task struct {
	id   string
	kind string
	run  TaskFunc
}

// Stats is a point-in-time view of the pool.
type Stats struct {
	QueueDepth int
	Active     int64
	Completed  int64
	Rejected   int64
}

// Pool executes submitted tasks on a fixed number of workers.
type Pool struct {
	logger *zap.Logger
	queue  chan task

	mu     sync.RWMutex
	closed bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	active    atomic.Int64
	completed atomic.Int64
	rejected  atomic.Int64
}

// New starts a pool with the given number of workers and queue capacity.
func New(workers, queueSize int, logger *zap.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		logger: logger,
		queue:  make(chan task, queueSize),
		ctx:    ctx,
		cancel: cancel,
	}

	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker(i)
	}
	return p
}

// Submit enqueues fn, waiting for a free slot until ctx is done.
func (p *Pool) Submit(ctx context.Context, kind string, fn TaskFunc) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return "", ErrPoolClosed
	}

	t := task{id: uuid.NewString(), kind: kind, run: fn}
	select {
	case p.queue <- t:
		return t.id, nil
	case <-ctx.Done():
		p.rejected.Add(1)
		return "", fmt.Errorf("failed to enqueue %s task: %w", kind, ctx.Err())
	}
}

// TrySubmit enqueues fn only if a slot is free right now.
// It never blocks, so it is safe to call from inside a running task.
func (p *Pool) TrySubmit(kind string, fn TaskFunc) (string, error) {
	// A failed TryRLock means Close is waiting for the lock.
	if !p.mu.TryRLock() {
		return "", ErrPoolClosed
	}
	defer p.mu.RUnlock()
	if p.closed {
		return "", ErrPoolClosed
	}

	t := task{id: uuid.NewString(), kind: kind, run: fn}
	select {
	case p.queue <- t:
		return t.id, nil
	default:
		p.rejected.Add(1)
		return "", ErrQueueFull
	}
}

// Stats returns the current queue depth and task counters.
func (p *Pool) Stats() Stats {
	return Stats{
		QueueDepth: len(p.queue),
		Active:     p.active.Load(),
		Completed:  p.completed.Load(),
		Rejected:   p.rejected.Load(),
	}
}

// Close stops accepting tasks and waits for queued tasks to finish. If ctx
// ends first, running tasks are cancelled and Close still waits for the
// workers to exit.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-done
		return fmt.Errorf("worker pool did not drain: %w", ctx.Err())
	}
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	for t := range p.queue {
		p.execute(id, t)
	}
}

func (p *Pool) execute(workerID int, t task) {
	p.active.Add(1)
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked",
				zap.String("task_id", t.id),
				zap.String("kind", t.kind),
				zap.Int("worker", workerID),
				zap.Any("panic", r))
		}
		p.active.Add(-1)
		p.completed.Add(1)
	}()

	t.run(p.ctx)
}
