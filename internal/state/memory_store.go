package state

import (
	"context"
	"sort"
	"sync"
	"time"

	"notifyd/internal/domain"
)

// MemoryStore keeps notice records in process memory for single-instance mode.
// Params: in-memory maps guarded by one mutex.
// Returns: store implementation without external dependencies.
type MemoryStore struct {
	mu         sync.RWMutex
	nextID     int64
	notices    map[int64]domain.Notice
	planned    []domain.DeliveryTask
	deliveries []domain.DeliveryTask
}

// NewMemoryStore creates an in-memory notice store.
// Params: none.
// Returns: initialized store with ids starting at 1.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{notices: make(map[int64]domain.Notice)}
}

// NextNoticeID allocates the next notice identifier.
// Params: context (unused).
// Returns: monotonically increasing id.
func (s *MemoryStore) NextNoticeID(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	return s.nextID, nil
}

// InsertNotice stores one notice record.
// Params: notice with an allocated id.
// Returns: ErrConflict when the id is already present.
func (s *MemoryStore) InsertNotice(_ context.Context, notice domain.Notice) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.notices[notice.ID]; ok {
		return ErrConflict
	}
	s.notices[notice.ID] = notice
	return nil
}

// GetNotice returns one notice record.
// Params: notice id.
// Returns: stored notice or ErrNotFound.
func (s *MemoryStore) GetNotice(_ context.Context, id int64) (domain.Notice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	notice, ok := s.notices[id]
	if !ok {
		return domain.Notice{}, ErrNotFound
	}
	return notice, nil
}

// CloseNotice transitions an open notice into a terminal state.
// Params: notice id, target state (acknowledged or completed), close time.
// Returns: ErrNotFound for missing ids, ErrConflict when already closed.
func (s *MemoryStore) CloseNotice(_ context.Context, id int64, st domain.NoticeState, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	notice, ok := s.notices[id]
	if !ok {
		return ErrNotFound
	}
	if notice.State != domain.NoticeStateOpen {
		return ErrConflict
	}
	closed := at
	notice.State = st
	notice.ClosedAt = &closed
	s.notices[id] = notice
	return nil
}

// OpenNoticesByUEI lists open notices triggered by one event UEI.
// Params: trigger UEI.
// Returns: matching notices ordered by id.
func (s *MemoryStore) OpenNoticesByUEI(_ context.Context, uei string) ([]domain.Notice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matches := make([]domain.Notice, 0)
	for _, notice := range s.notices {
		if notice.State == domain.NoticeStateOpen && notice.EventUEI == uei {
			matches = append(matches, notice)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	return matches, nil
}

// OpenNoticesByAlarm lists open notices linked to one alarm.
// Params: alarm id.
// Returns: matching notices ordered by id.
func (s *MemoryStore) OpenNoticesByAlarm(_ context.Context, alarmID int64) ([]domain.Notice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	matches := make([]domain.Notice, 0)
	for _, notice := range s.notices {
		if notice.State == domain.NoticeStateOpen && notice.AlarmID == alarmID {
			matches = append(matches, notice)
		}
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].ID < matches[j].ID })
	return matches, nil
}

// RecordPlanned stores the tasks planned for one notice at schedule time.
// Params: planned tasks.
// Returns: nil (in-memory append).
func (s *MemoryStore) RecordPlanned(_ context.Context, tasks []domain.DeliveryTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.planned = append(s.planned, tasks...)
	return nil
}

// PlannedTasks lists the tasks planned for one notice.
// Params: notice id.
// Returns: tasks in plan order.
func (s *MemoryStore) PlannedTasks(_ context.Context, noticeID int64) ([]domain.DeliveryTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tasks := make([]domain.DeliveryTask, 0)
	for _, task := range s.planned {
		if task.NoticeID == noticeID {
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

// RecordDelivery appends one per-recipient delivery outcome.
// Params: task carrying its final state.
// Returns: nil (in-memory append).
func (s *MemoryStore) RecordDelivery(_ context.Context, task domain.DeliveryTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deliveries = append(s.deliveries, task)
	return nil
}

// DeliveredTasks lists successfully delivered tasks of one notice.
// Params: notice id.
// Returns: recorded tasks in delivery order.
func (s *MemoryStore) DeliveredTasks(_ context.Context, noticeID int64) ([]domain.DeliveryTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tasks := make([]domain.DeliveryTask, 0)
	for _, task := range s.deliveries {
		if task.NoticeID == noticeID && task.State == domain.TaskStateDelivered {
			tasks = append(tasks, task)
		}
	}
	return tasks, nil
}

// DeliveryCount counts recorded outcomes for one notice.
// Params: notice id.
// Returns: number of delivery records (test helper).
func (s *MemoryStore) DeliveryCount(noticeID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, task := range s.deliveries {
		if task.NoticeID == noticeID {
			count++
		}
	}
	return count
}

// Close releases memory store resources.
// Params: none.
// Returns: nil.
func (s *MemoryStore) Close() error {
	return nil
}
