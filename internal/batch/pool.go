package batch

import (
	"context"
	"log/slog"
	"sync"

	"github.com/debrisk/debrisk/internal/metrics"
)

// Pool is a fixed-size worker pool shared by every batch operation. It
// is built once at startup and reused across requests rather than spun
// up per call.
type Pool struct {
	tasks  chan func()
	wg     sync.WaitGroup
	logger *slog.Logger
	once   sync.Once
}

// NewPool starts workers goroutines consuming from a task queue of
// depth queueDepth. A queueDepth of zero defaults to twice the worker
// count.
func NewPool(workers, queueDepth int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueDepth <= 0 {
		queueDepth = workers * 2
	}
	p := &Pool{
		tasks:  make(chan func(), queueDepth),
		logger: logger,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.run()
	}
	p.logger.Debug("worker pool started", "workers", workers, "queue_depth", queueDepth)
	return p
}

func (p *Pool) run() {
	metrics.WorkerStarted()
	defer metrics.WorkerStopped()
	defer p.wg.Done()
	for task := range p.tasks {
		task()
	}
}

// Submit queues a task, blocking while the queue is full. It returns
// the context error if ctx ends first, in which case the task never
// runs.
func (p *Pool) Submit(ctx context.Context, task func()) error {
	select {
	case p.tasks <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the workers once the queued tasks drain. The caller must
// sequence shutdown so that no Submit runs concurrently with or after
// Close.
func (p *Pool) Close() {
	p.once.Do(func() {
		close(p.tasks)
		p.wg.Wait()
		p.logger.Debug("worker pool stopped")
	})
}
