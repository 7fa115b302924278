package noticequeue

import (
	"container/heap"
	"context"
	"log/slog"
	"sync"
	"time"

	"notifyd/internal/clock"
	"notifyd/internal/domain"
)

// Dispatcher receives tasks whose send time has arrived.
// Params: task already marked dispatched by the owning queue.
// Returns: hand-off side only; delivery outcome is reported elsewhere.
type Dispatcher interface {
	Dispatch(task domain.DeliveryTask)
}

// item wraps one queued task with its insertion sequence for stable ordering.
type item struct {
	task domain.DeliveryTask
	seq  uint64
}

// taskHeap orders items by send time, insertion order breaking ties.
type taskHeap []*item

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if h[i].task.SendAt.Equal(h[j].task.SendAt) {
		return h[i].seq < h[j].seq
	}
	return h[i].task.SendAt.Before(h[j].task.SendAt)
}

func (h taskHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *taskHeap) Push(x any) { *h = append(*h, x.(*item)) }

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return it
}

// Queue is one independently locked, time-ordered notice queue.
// Params: queue id and its own mutex; no lock is shared across queues.
// Returns: queue owning its tasks from insert until dispatch or cancel.
type Queue struct {
	id string

	mu    sync.Mutex
	tasks taskHeap
	seq   uint64
	wake  chan struct{}
}

// newQueue builds one empty queue.
// Params: queue id.
// Returns: queue with a buffered wake channel.
func newQueue(id string) *Queue {
	return &Queue{id: id, wake: make(chan struct{}, 1)}
}

// ID returns the queue identifier.
// Params: none.
// Returns: queue id from the notification rule.
func (q *Queue) ID() string { return q.id }

// Add inserts tasks and wakes the release loop.
// Params: tasks routed to this queue, forced into the scheduled state.
// Returns: none.
func (q *Queue) Add(tasks ...domain.DeliveryTask) {
	if len(tasks) == 0 {
		return
	}
	q.mu.Lock()
	for _, task := range tasks {
		task.State = domain.TaskStateScheduled
		q.seq++
		heap.Push(&q.tasks, &item{task: task, seq: q.seq})
	}
	q.mu.Unlock()
	q.signal()
}

// PopDue removes every task whose send time has arrived.
// Params: current time.
// Returns: due tasks already transitioned to the dispatched state; the
// transition happens under the queue lock, so a concurrent Cancel either
// sees the task scheduled and retracts it or misses it entirely.
func (q *Queue) PopDue(now time.Time) []domain.DeliveryTask {
	q.mu.Lock()
	defer q.mu.Unlock()

	var due []domain.DeliveryTask
	for q.tasks.Len() > 0 {
		head := q.tasks[0]
		if head.task.State == domain.TaskStateCancelled {
			heap.Pop(&q.tasks)
			continue
		}
		if head.task.SendAt.After(now) {
			break
		}
		popped := heap.Pop(&q.tasks).(*item)
		popped.task.State = domain.TaskStateDispatched
		due = append(due, popped.task)
	}
	return due
}

// NextDue reports the earliest pending send time.
// Params: none.
// Returns: send time and true, or false when the queue is empty.
func (q *Queue) NextDue() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.tasks.Len() > 0 {
		head := q.tasks[0]
		if head.task.State == domain.TaskStateCancelled {
			heap.Pop(&q.tasks)
			continue
		}
		return head.task.SendAt, true
	}
	return time.Time{}, false
}

// Cancel retracts all still-scheduled tasks of one notice.
// Params: notice id.
// Returns: number of tasks retracted; tasks already handed to a worker are
// untouched (cancellation is best effort once dispatch has begun).
func (q *Queue) Cancel(noticeID int64) int {
	q.mu.Lock()
	cancelled := 0
	for _, it := range q.tasks {
		if it.task.NoticeID == noticeID && it.task.State == domain.TaskStateScheduled {
			it.task.State = domain.TaskStateCancelled
			cancelled++
		}
	}
	q.mu.Unlock()
	if cancelled > 0 {
		q.signal()
	}
	return cancelled
}

// Pending counts still-scheduled tasks for one notice.
// Params: notice id.
// Returns: scheduled task count.
func (q *Queue) Pending(noticeID int64) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	count := 0
	for _, it := range q.tasks {
		if it.task.NoticeID == noticeID && it.task.State == domain.TaskStateScheduled {
			count++
		}
	}
	return count
}

// signal nudges the release loop without blocking.
// Params: none.
// Returns: none.
func (q *Queue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// run is the per-queue release loop.
// Params: context, clock, dispatcher, and logger.
// Returns: when the context is cancelled; sleeps until the earliest send
// time and re-arms on every insert or cancel.
func (q *Queue) run(ctx context.Context, clk clock.Clock, dispatcher Dispatcher, log *slog.Logger) {
	timer := time.NewTimer(time.Hour)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		now := clk.Now()
		for _, task := range q.PopDue(now) {
			log.Debug("releasing task",
				"queue", q.id, "notice", task.NoticeID,
				"user", task.Recipient.UserID, "step", task.Step)
			dispatcher.Dispatch(task)
		}

		var timerC <-chan time.Time
		if next, ok := q.NextDue(); ok {
			wait := next.Sub(clk.Now())
			if wait < 0 {
				wait = 0
			}
			timer.Reset(wait)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-timerC:
			continue
		}
		if timerC != nil && !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
	}
}

// QueueSet is the registry of independently locked notice queues.
// Params: registry lock guards only the map, never task operations.
// Returns: queue registry with per-queue release loops.
type QueueSet struct {
	clk        clock.Clock
	log        *slog.Logger
	dispatcher Dispatcher

	mu      sync.Mutex
	queues  map[string]*Queue
	running bool
	runCtx  context.Context
	wg      sync.WaitGroup
}

// NewSet builds an empty queue registry.
// Params: clock, logger, and downstream dispatcher.
// Returns: registry; queues are created on first use.
func NewSet(clk clock.Clock, log *slog.Logger, dispatcher Dispatcher) *QueueSet {
	return &QueueSet{
		clk:        clk,
		log:        log,
		dispatcher: dispatcher,
		queues:     make(map[string]*Queue),
	}
}

// Start launches release loops for current and future queues.
// Params: lifecycle context.
// Returns: none; Wait blocks until all loops exit.
func (s *QueueSet) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = true
	s.runCtx = ctx
	for _, queue := range s.queues {
		s.launch(queue)
	}
}

// Wait blocks until every release loop has exited.
// Params: none.
// Returns: after Start's context is cancelled and loops drain.
func (s *QueueSet) Wait() {
	s.wg.Wait()
}

// Enqueue routes tasks into their queues, creating queues on demand.
// Params: tasks carrying their queue id.
// Returns: none.
func (s *QueueSet) Enqueue(tasks []domain.DeliveryTask) {
	byQueue := make(map[string][]domain.DeliveryTask)
	for _, task := range tasks {
		byQueue[task.QueueID] = append(byQueue[task.QueueID], task)
	}
	for queueID, group := range byQueue {
		s.queue(queueID).Add(group...)
	}
}

// Cancel retracts still-scheduled tasks of one notice across all queues.
// Params: notice id.
// Returns: total tasks retracted.
func (s *QueueSet) Cancel(noticeID int64) int {
	s.mu.Lock()
	queues := make([]*Queue, 0, len(s.queues))
	for _, queue := range s.queues {
		queues = append(queues, queue)
	}
	s.mu.Unlock()

	cancelled := 0
	for _, queue := range queues {
		cancelled += queue.Cancel(noticeID)
	}
	return cancelled
}

// Pending counts still-scheduled tasks of one notice across all queues.
// Params: notice id.
// Returns: scheduled task count.
func (s *QueueSet) Pending(noticeID int64) int {
	s.mu.Lock()
	queues := make([]*Queue, 0, len(s.queues))
	for _, queue := range s.queues {
		queues = append(queues, queue)
	}
	s.mu.Unlock()

	count := 0
	for _, queue := range queues {
		count += queue.Pending(noticeID)
	}
	return count
}

// queue returns the queue for an id, creating and launching it if needed.
// Params: queue id.
// Returns: registered queue.
func (s *QueueSet) queue(id string) *Queue {
	s.mu.Lock()
	defer s.mu.Unlock()
	queue, ok := s.queues[id]
	if !ok {
		queue = newQueue(id)
		s.queues[id] = queue
		if s.running {
			s.launch(queue)
		}
	}
	return queue
}

// launch starts one queue's release loop; caller holds the registry lock.
// Params: queue to run.
// Returns: none.
func (s *QueueSet) launch(queue *Queue) {
	ctx := s.runCtx
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		queue.run(ctx, s.clk, s.dispatcher, s.log)
	}()
}
