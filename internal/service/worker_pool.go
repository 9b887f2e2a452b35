package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/target/meeting-processor/internal/observability/metrics"
	"github.com/target/meeting-processor/internal/observability/statsd"
)

const (
	defaultPoolWorkers   = 3
	defaultPoolQueueSize = 100
)

// Task is a unit of work run by the pool. The context is cancelled with
// ErrShuttingDown when Shutdown gives up waiting.
type Task func(ctx context.Context)

// WorkerPoolOptions groups dependencies for WorkerPool.
type WorkerPoolOptions struct {
	Workers   int          // Optional: number of worker goroutines (default 3)
	QueueSize int          // Optional: tasks buffered ahead of the workers (default 100)
	Logger    *slog.Logger // Optional: structured logger
	Metrics   statsd.Sink  // Optional: queue depth gauge
}

// WorkerPool runs submitted tasks on a fixed set of goroutines fed by a bounded queue.
type WorkerPool struct {
	queue  chan Task
	ctx    context.Context
	cancel context.CancelCauseFunc
	group  *errgroup.Group

	mu       sync.Mutex
	idle     *sync.Cond
	inflight int
	closed   bool

	logger  *slog.Logger
	metrics statsd.Sink
}

// NewWorkerPool starts the workers and returns the pool.
func NewWorkerPool(opts WorkerPoolOptions) (*WorkerPool, error) {
	if opts.Workers < 0 || opts.QueueSize < 0 {
		return nil, errors.New("worker count and queue size must not be negative")
	}
	workers := opts.Workers
	if workers == 0 {
		workers = defaultPoolWorkers
	}
	queueSize := opts.QueueSize
	if queueSize == 0 {
		queueSize = defaultPoolQueueSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancelCause(context.Background())
	p := &WorkerPool{
		queue:   make(chan Task, queueSize),
		ctx:     ctx,
		cancel:  cancel,
		group:   new(errgroup.Group),
		logger:  logger.With("component", "worker_pool"),
		metrics: opts.Metrics,
	}
	p.idle = sync.NewCond(&p.mu)

	for i := range workers {
		p.group.Go(func() error {
			p.work(i)
			return nil
		})
	}
	p.logger.Debug("worker pool started", "workers", workers, "queue_size", queueSize)
	return p, nil
}

// MustNewWorkerPool constructs a WorkerPool and panics on error.
func MustNewWorkerPool(opts WorkerPoolOptions) *WorkerPool {
	p, err := NewWorkerPool(opts)
	if err != nil {
		//nolint:forbidigo // Must constructor fails fast when options are invalid during startup
		panic(fmt.Sprintf("failed to create WorkerPool: %v", err))
	}
	return p
}

// Context is the parent of every task context. Tasks that derive their own
// contexts from it observe a forced shutdown.
func (p *WorkerPool) Context() context.Context {
	return p.ctx
}

// Submit enqueues task without blocking.
// It returns ErrQueueFull when the queue is at capacity and ErrPoolClosed after Shutdown.
func (p *WorkerPool) Submit(task Task) error {
	if task == nil {
		return errors.New("task is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.queue <- task:
		p.inflight++
	default:
		return ErrQueueFull
	}
	metrics.EmitQueueDepth(p.metrics, len(p.queue))
	return nil
}

// Depth returns the number of tasks waiting for a worker.
func (p *WorkerPool) Depth() int {
	return len(p.queue)
}

// Wait blocks until every submitted task has finished.
func (p *WorkerPool) Wait() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.inflight > 0 {
		p.idle.Wait()
	}
}

// Shutdown stops intake and waits for queued and running tasks to finish.
// If ctx expires first the task context is cancelled with ErrShuttingDown,
// the workers are joined, and ctx's error is returned.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.cancel(context.Canceled)
		return nil
	case <-ctx.Done():
		p.logger.WarnContext(ctx, "shutdown deadline reached, interrupting running jobs", "queued", len(p.queue))
		p.cancel(ErrShuttingDown)
		<-done
		return ctx.Err()
	}
}

func (p *WorkerPool) work(id int) {
	for task := range p.queue {
		metrics.EmitQueueDepth(p.metrics, len(p.queue))
		p.run(id, task)
	}
}

func (p *WorkerPool) run(id int, task Task) {
	defer p.finish()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task panicked",
				"worker", id,
				"panic", r,
				"stack", string(debug.Stack()),
			)
		}
	}()
	task(p.ctx)
}

func (p *WorkerPool) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.inflight--
	if p.inflight == 0 {
		p.idle.Broadcast()
	}
}
