package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"notifyd/internal/config"
	"notifyd/internal/domain"
)

var (
	// ErrNotFound indicates an absent notice record.
	ErrNotFound = errors.New("not found")
	// ErrConflict indicates a close attempt on an already closed notice.
	ErrConflict = errors.New("state conflict")
)

// Store provides notice record persistence operations.
// Params: id allocation, notice CRUD, materialized open-notice lookups, and
// per-recipient task records (planned at schedule time, outcomes at delivery).
// Returns: backend persistence behavior.
type Store interface {
	NextNoticeID(ctx context.Context) (int64, error)
	InsertNotice(ctx context.Context, notice domain.Notice) error
	GetNotice(ctx context.Context, id int64) (domain.Notice, error)
	CloseNotice(ctx context.Context, id int64, state domain.NoticeState, at time.Time) error
	OpenNoticesByUEI(ctx context.Context, uei string) ([]domain.Notice, error)
	OpenNoticesByAlarm(ctx context.Context, alarmID int64) ([]domain.Notice, error)
	RecordPlanned(ctx context.Context, tasks []domain.DeliveryTask) error
	PlannedTasks(ctx context.Context, noticeID int64) ([]domain.DeliveryTask, error)
	RecordDelivery(ctx context.Context, task domain.DeliveryTask) error
	DeliveredTasks(ctx context.Context, noticeID int64) ([]domain.DeliveryTask, error)
	Close() error
}

// Open constructs the store selected by the snapshot.
// Params: store section (backend and sqlite path).
// Returns: store implementation or setup error.
func Open(cfg config.StoreConfig) (Store, error) {
	switch cfg.Backend {
	case config.StoreBackendMemory:
		return NewMemoryStore(), nil
	case config.StoreBackendSQLite:
		return NewSQLiteStore(cfg.Path)
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Backend)
	}
}
