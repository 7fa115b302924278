package state

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"notifyd/internal/domain"
)

var created = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func notice(id int64, uei string, alarmID int64) domain.Notice {
	return domain.Notice{
		ID:        id,
		EventID:   100 + id,
		EventUEI:  uei,
		AlarmID:   alarmID,
		QueueID:   "default",
		Name:      "node-down",
		Params:    map[string]string{"subject": "s", "nodeid": "7"},
		State:     domain.NoticeStateOpen,
		CreatedAt: created,
	}
}

func runStoreLifecycle(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	first, err := store.NextNoticeID(ctx)
	if err != nil {
		t.Fatalf("next id: %v", err)
	}
	second, err := store.NextNoticeID(ctx)
	if err != nil {
		t.Fatalf("next id: %v", err)
	}
	if second <= first {
		t.Fatalf("ids must increase: %d then %d", first, second)
	}

	if err := store.InsertNotice(ctx, notice(first, "uei.test/nodeDown", 5)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := store.InsertNotice(ctx, notice(first, "uei.test/nodeDown", 5)); !errors.Is(err, ErrConflict) {
		t.Fatalf("duplicate insert must conflict, got %v", err)
	}

	loaded, err := store.GetNotice(ctx, first)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if loaded.EventUEI != "uei.test/nodeDown" || loaded.Params["nodeid"] != "7" {
		t.Fatalf("unexpected notice load: %+v", loaded)
	}
	if !loaded.CreatedAt.Equal(created) {
		t.Fatalf("created time lost: %v", loaded.CreatedAt)
	}
	if _, err := store.GetNotice(ctx, 9999); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}

	open, err := store.OpenNoticesByUEI(ctx, "uei.test/nodeDown")
	if err != nil {
		t.Fatalf("open by uei: %v", err)
	}
	if len(open) != 1 || open[0].ID != first {
		t.Fatalf("unexpected open set: %+v", open)
	}
	byAlarm, err := store.OpenNoticesByAlarm(ctx, 5)
	if err != nil {
		t.Fatalf("open by alarm: %v", err)
	}
	if len(byAlarm) != 1 || byAlarm[0].ID != first {
		t.Fatalf("unexpected alarm set: %+v", byAlarm)
	}

	closedAt := created.Add(time.Minute)
	if err := store.CloseNotice(ctx, first, domain.NoticeStateAcknowledged, closedAt); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := store.CloseNotice(ctx, first, domain.NoticeStateCompleted, closedAt); !errors.Is(err, ErrConflict) {
		t.Fatalf("double close must conflict, got %v", err)
	}
	if err := store.CloseNotice(ctx, 9999, domain.NoticeStateCompleted, closedAt); !errors.Is(err, ErrNotFound) {
		t.Fatalf("closing missing notice, got %v", err)
	}

	closed, err := store.GetNotice(ctx, first)
	if err != nil {
		t.Fatalf("get closed: %v", err)
	}
	if closed.State != domain.NoticeStateAcknowledged || closed.ClosedAt == nil {
		t.Fatalf("close not applied: %+v", closed)
	}

	open, err = store.OpenNoticesByUEI(ctx, "uei.test/nodeDown")
	if err != nil {
		t.Fatalf("open by uei: %v", err)
	}
	if len(open) != 0 {
		t.Fatalf("closed notice still listed open: %+v", open)
	}
}

func runDeliveryRecords(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	delivered := domain.DeliveryTask{
		NoticeID:   21,
		QueueID:    "default",
		Recipient:  domain.Recipient{UserID: "alice", Contacts: map[string]string{"email": "a@example.org"}},
		Commands:   []string{"mail"},
		AutoNotify: domain.AutoNotifyAlways,
		State:      domain.TaskStateDelivered,
	}
	failed := delivered
	failed.Recipient = domain.Recipient{UserID: "bob"}
	failed.State = domain.TaskStateFailed

	if err := store.RecordDelivery(ctx, delivered); err != nil {
		t.Fatalf("record delivered: %v", err)
	}
	if err := store.RecordDelivery(ctx, failed); err != nil {
		t.Fatalf("record failed: %v", err)
	}

	tasks, err := store.DeliveredTasks(ctx, 21)
	if err != nil {
		t.Fatalf("delivered tasks: %v", err)
	}
	if len(tasks) != 1 || tasks[0].Recipient.UserID != "alice" {
		t.Fatalf("expected only delivered alice task, got %+v", tasks)
	}
	if tasks[0].Recipient.Contacts["email"] != "a@example.org" {
		t.Fatalf("contacts lost in record: %+v", tasks[0])
	}
	if tasks[0].AutoNotify != domain.AutoNotifyAlways {
		t.Fatalf("disposition lost in record: %+v", tasks[0])
	}
}

func runPlannedRecords(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()

	planned := []domain.DeliveryTask{
		{
			NoticeID:   31,
			QueueID:    "default",
			Step:       0,
			Recipient:  domain.Recipient{UserID: "alice", Contacts: map[string]string{"email": "a@example.org"}},
			Commands:   []string{"mail"},
			AutoNotify: domain.AutoNotifyAlways,
			State:      domain.TaskStateScheduled,
		},
		{
			NoticeID:   31,
			QueueID:    "default",
			Step:       1,
			Recipient:  domain.Recipient{UserID: "bob"},
			Commands:   []string{"mail"},
			AutoNotify: domain.AutoNotifyNever,
			State:      domain.TaskStateScheduled,
		},
		{
			NoticeID:  32,
			QueueID:   "default",
			Recipient: domain.Recipient{UserID: "carol"},
			State:     domain.TaskStateScheduled,
		},
	}
	if err := store.RecordPlanned(ctx, planned); err != nil {
		t.Fatalf("record planned: %v", err)
	}

	tasks, err := store.PlannedTasks(ctx, 31)
	if err != nil {
		t.Fatalf("planned tasks: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 planned tasks for notice 31, got %+v", tasks)
	}
	if tasks[0].Recipient.UserID != "alice" || tasks[1].Recipient.UserID != "bob" {
		t.Fatalf("plan order lost: %+v", tasks)
	}
	if tasks[0].Recipient.Contacts["email"] != "a@example.org" {
		t.Fatalf("contacts lost in plan record: %+v", tasks[0])
	}
	if tasks[1].AutoNotify != domain.AutoNotifyNever {
		t.Fatalf("disposition lost in plan record: %+v", tasks[1])
	}

	none, err := store.PlannedTasks(ctx, 999)
	if err != nil {
		t.Fatalf("planned tasks: %v", err)
	}
	if len(none) != 0 {
		t.Fatalf("unexpected plan records: %+v", none)
	}
}

func TestMemoryStoreNoticeLifecycle(t *testing.T) {
	t.Parallel()
	runStoreLifecycle(t, NewMemoryStore())
}

func TestMemoryStoreDeliveryRecords(t *testing.T) {
	t.Parallel()
	runDeliveryRecords(t, NewMemoryStore())
}

func TestSQLiteStoreNoticeLifecycle(t *testing.T) {
	t.Parallel()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "notices.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	defer func() { _ = store.Close() }()
	runStoreLifecycle(t, store)
}

func TestSQLiteStoreDeliveryRecords(t *testing.T) {
	t.Parallel()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "notices.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	defer func() { _ = store.Close() }()
	runDeliveryRecords(t, store)
}

func TestMemoryStorePlannedRecords(t *testing.T) {
	t.Parallel()
	runPlannedRecords(t, NewMemoryStore())
}

func TestSQLiteStorePlannedRecords(t *testing.T) {
	t.Parallel()

	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "notices.db"))
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	defer func() { _ = store.Close() }()
	runPlannedRecords(t, store)
}

func TestSQLiteStoreSequenceSurvivesReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "notices.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("open sqlite store: %v", err)
	}
	first, err := store.NextNoticeID(context.Background())
	if err != nil {
		t.Fatalf("next id: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("reopen sqlite store: %v", err)
	}
	defer func() { _ = reopened.Close() }()
	second, err := reopened.NextNoticeID(context.Background())
	if err != nil {
		t.Fatalf("next id after reopen: %v", err)
	}
	if second <= first {
		t.Fatalf("sequence must survive reopen: %d then %d", first, second)
	}
}
