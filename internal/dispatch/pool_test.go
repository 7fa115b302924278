package dispatch

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"notifyd/internal/domain"
	"notifyd/internal/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type stubDeliverer struct {
	mu      sync.Mutex
	fail    map[string]bool
	block   chan struct{}
	active  atomic.Int32
	peak    atomic.Int32
	handled []string
}

func (d *stubDeliverer) Deliver(_ context.Context, task domain.DeliveryTask) error {
	current := d.active.Add(1)
	for {
		peak := d.peak.Load()
		if current <= peak || d.peak.CompareAndSwap(peak, current) {
			break
		}
	}
	defer d.active.Add(-1)

	if d.block != nil {
		<-d.block
	}
	d.mu.Lock()
	d.handled = append(d.handled, task.Recipient.UserID)
	fail := d.fail[task.Recipient.UserID]
	d.mu.Unlock()
	if fail {
		return errors.New("transport rejected")
	}
	return nil
}

func (d *stubDeliverer) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.handled)
}

func task(noticeID int64, user string) domain.DeliveryTask {
	return domain.DeliveryTask{
		NoticeID:  noticeID,
		QueueID:   "default",
		Recipient: domain.Recipient{UserID: user},
		State:     domain.TaskStateDispatched,
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("condition not reached in time")
}

func TestPoolRecordsDeliveredOutcome(t *testing.T) {
	t.Parallel()

	store := state.NewMemoryStore()
	deliverer := &stubDeliverer{}
	pool := New(nil, store, testLogger(), 2, time.Second)
	pool.SetDeliverer(deliverer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	pool.Dispatch(task(1, "alice"))
	waitFor(t, func() bool { return store.DeliveryCount(1) == 1 })

	delivered, err := store.DeliveredTasks(context.Background(), 1)
	if err != nil {
		t.Fatalf("delivered tasks: %v", err)
	}
	if len(delivered) != 1 || delivered[0].State != domain.TaskStateDelivered {
		t.Fatalf("unexpected outcome: %+v", delivered)
	}
}

func TestPoolRecordsFailureWithoutRetry(t *testing.T) {
	t.Parallel()

	store := state.NewMemoryStore()
	deliverer := &stubDeliverer{fail: map[string]bool{"bob": true}}
	pool := New(nil, store, testLogger(), 2, time.Second)
	pool.SetDeliverer(deliverer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	pool.Dispatch(task(2, "bob"))
	waitFor(t, func() bool { return store.DeliveryCount(2) == 1 })

	if deliverer.count() != 1 {
		t.Fatalf("failed delivery must not retry, attempts=%d", deliverer.count())
	}
	delivered, err := store.DeliveredTasks(context.Background(), 2)
	if err != nil {
		t.Fatalf("delivered tasks: %v", err)
	}
	if len(delivered) != 0 {
		t.Fatalf("failed task must not be recorded as delivered: %+v", delivered)
	}
}

func TestPoolHonorsWorkerCeiling(t *testing.T) {
	t.Parallel()

	store := state.NewMemoryStore()
	deliverer := &stubDeliverer{block: make(chan struct{})}
	pool := New(nil, store, testLogger(), 2, time.Second)
	pool.SetDeliverer(deliverer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 4; i++ {
			pool.Dispatch(task(3, "user"))
		}
		close(done)
	}()

	waitFor(t, func() bool { return deliverer.active.Load() == 2 })
	close(deliverer.block)
	<-done
	waitFor(t, func() bool { return store.DeliveryCount(3) == 4 })

	if peak := deliverer.peak.Load(); peak > 2 {
		t.Fatalf("worker ceiling exceeded: %d", peak)
	}
}

func TestDispatchSurvivesIdleWorkerExit(t *testing.T) {
	t.Parallel()

	store := state.NewMemoryStore()
	deliverer := &stubDeliverer{}
	pool := New(nil, store, testLogger(), 1, time.Millisecond)
	pool.SetDeliverer(deliverer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	// The sole worker keeps idling out between dispatches; every task must
	// still find or spawn a receiver.
	for i := 0; i < 20; i++ {
		pool.Dispatch(task(5, "alice"))
		time.Sleep(3 * time.Millisecond)
	}
	waitFor(t, func() bool { return store.DeliveryCount(5) == 20 })
}

func TestPoolIdleWorkersExit(t *testing.T) {
	t.Parallel()

	store := state.NewMemoryStore()
	deliverer := &stubDeliverer{}
	pool := New(nil, store, testLogger(), 4, 50*time.Millisecond)
	pool.SetDeliverer(deliverer)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	pool.Start(ctx)

	pool.Dispatch(task(4, "alice"))
	waitFor(t, func() bool { return store.DeliveryCount(4) == 1 })
	waitFor(t, func() bool { return pool.Workers() == 0 })
}
