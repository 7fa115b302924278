package dispatch

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"notifyd/internal/domain"
	"notifyd/internal/state"
)

const (
	defaultIdle = 60 * time.Second
	growRetry   = 100 * time.Millisecond
)

// Deliverer executes the commands of one dispatched task.
// Params: context and task.
// Returns: delivery error; the pool records the outcome and never retries.
type Deliverer interface {
	Deliver(ctx context.Context, task domain.DeliveryTask) error
}

// Pool is the bounded worker pool executing delivery tasks.
// Params: workers grow on demand up to the ceiling and exit after the idle
// timeout; a ceiling of zero or less removes the bound.
// Returns: dispatcher plugged under the notice queue set.
type Pool struct {
	store state.Store
	log   *slog.Logger
	max   int
	idle  time.Duration

	ctx   context.Context
	tasks chan domain.DeliveryTask

	mu        sync.Mutex
	deliverer Deliverer
	workers   int
	wg        sync.WaitGroup
}

// New builds a dispatch pool.
// Params: deliverer, notice store for outcome records, logger, worker
// ceiling, and idle timeout (zero uses the 60s default).
// Returns: pool; Start must be called before Dispatch.
func New(deliverer Deliverer, store state.Store, log *slog.Logger, maxWorkers int, idle time.Duration) *Pool {
	if maxWorkers <= 0 {
		maxWorkers = int(^uint(0) >> 1)
	}
	if idle <= 0 {
		idle = defaultIdle
	}
	return &Pool{
		deliverer: deliverer,
		store:     store,
		log:       log,
		max:       maxWorkers,
		idle:      idle,
		tasks:     make(chan domain.DeliveryTask),
	}
}

// Start binds the pool to its lifecycle context.
// Params: context cancelling all workers.
// Returns: none.
func (p *Pool) Start(ctx context.Context) {
	p.ctx = ctx
}

// SetDeliverer swaps the delivery backend after a config reload.
// Params: replacement deliverer.
// Returns: none; in-flight tasks finish on the old backend.
func (p *Pool) SetDeliverer(deliverer Deliverer) {
	p.mu.Lock()
	p.deliverer = deliverer
	p.mu.Unlock()
}

// Wait blocks until every worker has exited.
// Params: none.
// Returns: after Start's context is cancelled and workers drain.
func (p *Pool) Wait() {
	p.wg.Wait()
}

// Dispatch hands one task to a worker, growing the pool when needed.
// Params: task already transitioned to the dispatched state by its queue.
// Returns: none; blocks only when the ceiling is reached and all workers
// are busy.
func (p *Pool) Dispatch(task domain.DeliveryTask) {
	for {
		select {
		case p.tasks <- task:
			return
		default:
		}

		p.mu.Lock()
		if p.workers < p.max {
			p.workers++
			p.wg.Add(1)
			go p.worker()
		}
		p.mu.Unlock()

		// Every worker may idle out between the grow check and the send,
		// leaving nobody on the channel; re-run the grow check periodically.
		timer := time.NewTimer(growRetry)
		select {
		case p.tasks <- task:
			timer.Stop()
			return
		case <-p.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Workers reports the current worker count.
// Params: none.
// Returns: live worker goroutines.
func (p *Pool) Workers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.workers
}

// worker consumes tasks until idle timeout or shutdown.
// Params: none.
// Returns: none; decrements the worker count on exit.
func (p *Pool) worker() {
	defer p.wg.Done()
	defer func() {
		p.mu.Lock()
		p.workers--
		p.mu.Unlock()
	}()

	idle := time.NewTimer(p.idle)
	defer idle.Stop()

	for {
		select {
		case task := <-p.tasks:
			p.run(task)
			if !idle.Stop() {
				select {
				case <-idle.C:
				default:
				}
			}
			idle.Reset(p.idle)
		case <-idle.C:
			return
		case <-p.ctx.Done():
			return
		}
	}
}

// run executes one task and records the terminal outcome.
// Params: dispatched task.
// Returns: none; a failed delivery is terminal, there is no retry.
func (p *Pool) run(task domain.DeliveryTask) {
	p.mu.Lock()
	deliverer := p.deliverer
	p.mu.Unlock()

	err := deliverer.Deliver(p.ctx, task)
	if err != nil {
		task.State = domain.TaskStateFailed
		p.log.Error("delivery failed",
			"notice", task.NoticeID, "user", task.Recipient.UserID,
			"step", task.Step, "err", err)
	} else {
		task.State = domain.TaskStateDelivered
	}

	if recordErr := p.store.RecordDelivery(p.ctx, task); recordErr != nil {
		p.log.Error("recording delivery outcome failed",
			"notice", task.NoticeID, "user", task.Recipient.UserID, "err", recordErr)
	}
}
