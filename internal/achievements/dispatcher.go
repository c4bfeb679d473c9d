package achievements

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

type evaluationJob struct {
	userID string
	event  Event
}

// Dispatcher runs achievement evaluations on a bounded worker pool. The
// approval flow enqueues and moves on; it never waits for, and is never
// failed by, rule processing. Failures are logged, not swallowed.
type Dispatcher struct {
	evaluator *Evaluator
	logger    *zap.Logger

	mu      sync.RWMutex
	jobs    chan evaluationJob
	stopped bool

	wg sync.WaitGroup
}

// NewDispatcher constructs a dispatcher with the given pool size and queue
// depth. Non-positive values fall back to minimal defaults.
func NewDispatcher(evaluator *Evaluator, workers, backlog int, logger *zap.Logger) *Dispatcher {
	if workers <= 0 {
		workers = 1
	}
	if backlog <= 0 {
		backlog = 16
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{
		evaluator: evaluator,
		logger:    logger,
		jobs:      make(chan evaluationJob, backlog),
	}
	for i := 0; i < workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
	return d
}

// Enqueue submits an evaluation for asynchronous processing. When the queue
// is full, or the pool is stopped, the evaluation runs inline instead: a
// qualifying event is never dropped.
func (d *Dispatcher) Enqueue(userID string, event Event) {
	job := evaluationJob{userID: userID, event: event}

	d.mu.RLock()
	if !d.stopped {
		select {
		case d.jobs <- job:
			d.mu.RUnlock()
			return
		default:
		}
	}
	d.mu.RUnlock()

	d.run(job)
}

// Stop drains queued work and shuts the pool down.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if !d.stopped {
		d.stopped = true
		close(d.jobs)
	}
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) worker() {
	defer d.wg.Done()
	for job := range d.jobs {
		d.run(job)
	}
}

func (d *Dispatcher) run(job evaluationJob) {
	if err := d.evaluator.Evaluate(context.Background(), job.userID, job.event); err != nil {
		d.logger.Error("achievement evaluation failed",
			zap.String("user_id", job.userID),
			zap.String("category", job.event.CategoryName),
			zap.Error(err))
	}
}
