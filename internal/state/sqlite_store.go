package state

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"notifyd/internal/domain"
	"notifyd/internal/faults"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS notice_seq (
	name TEXT PRIMARY KEY,
	value INTEGER NOT NULL
);
INSERT OR IGNORE INTO notice_seq (name, value) VALUES ('notice', 0);

CREATE TABLE IF NOT EXISTS notices (
	id INTEGER PRIMARY KEY,
	event_id INTEGER NOT NULL,
	event_uei TEXT NOT NULL,
	alarm_id INTEGER NOT NULL DEFAULT 0,
	queue_id TEXT NOT NULL,
	name TEXT NOT NULL,
	params TEXT NOT NULL,
	state TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	closed_at INTEGER
);
CREATE INDEX IF NOT EXISTS idx_notices_open_uei ON notices (event_uei) WHERE state = 'open';
CREATE INDEX IF NOT EXISTS idx_notices_open_alarm ON notices (alarm_id) WHERE state = 'open';

CREATE TABLE IF NOT EXISTS planned_tasks (
	notice_id INTEGER NOT NULL,
	user_id TEXT NOT NULL,
	step INTEGER NOT NULL,
	task TEXT NOT NULL,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_planned_notice ON planned_tasks (notice_id);

CREATE TABLE IF NOT EXISTS deliveries (
	notice_id INTEGER NOT NULL,
	user_id TEXT NOT NULL,
	step INTEGER NOT NULL,
	state TEXT NOT NULL,
	task TEXT NOT NULL,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_deliveries_notice ON deliveries (notice_id);
`

// SQLiteStore keeps notice records in a local SQLite database.
// Params: single-writer connection with WAL journaling.
// Returns: store implementation surviving process restarts.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the database and prepares the schema.
// Params: database file path (parent directories are created).
// Returns: initialized store or setup error.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open notice database: %w", err)
	}
	// SQLite works best with a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize notice schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// NextNoticeID allocates the next notice identifier.
// Params: context.
// Returns: monotonically increasing id, durable across restarts.
func (s *SQLiteStore) NextNoticeID(ctx context.Context) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, faults.Mark(faults.ClassPersistence, fmt.Errorf("begin id allocation: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE notice_seq SET value = value + 1 WHERE name = 'notice'`); err != nil {
		return 0, faults.Mark(faults.ClassPersistence, fmt.Errorf("advance notice sequence: %w", err))
	}
	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT value FROM notice_seq WHERE name = 'notice'`).Scan(&id); err != nil {
		return 0, faults.Mark(faults.ClassPersistence, fmt.Errorf("read notice sequence: %w", err))
	}
	if err := tx.Commit(); err != nil {
		return 0, faults.Mark(faults.ClassPersistence, fmt.Errorf("commit id allocation: %w", err))
	}
	return id, nil
}

// InsertNotice stores one notice record.
// Params: notice with an allocated id.
// Returns: persistence error; a duplicate id maps to ErrConflict.
func (s *SQLiteStore) InsertNotice(ctx context.Context, notice domain.Notice) error {
	paramsJSON, err := json.Marshal(notice.Params)
	if err != nil {
		return faults.Mark(faults.ClassPersistence, fmt.Errorf("encode notice params: %w", err))
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notices (id, event_id, event_uei, alarm_id, queue_id, name, params, state, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		notice.ID, notice.EventID, notice.EventUEI, notice.AlarmID,
		notice.QueueID, notice.Name, string(paramsJSON),
		string(notice.State), notice.CreatedAt.UnixMilli())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return faults.Mark(faults.ClassPersistence, fmt.Errorf("insert notice %d: %w", notice.ID, err))
	}
	return nil
}

// GetNotice returns one notice record.
// Params: notice id.
// Returns: stored notice or ErrNotFound.
func (s *SQLiteStore) GetNotice(ctx context.Context, id int64) (domain.Notice, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, event_id, event_uei, alarm_id, queue_id, name, params, state, created_at, closed_at
		FROM notices WHERE id = ?`, id)
	notice, err := scanNotice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Notice{}, ErrNotFound
	}
	if err != nil {
		return domain.Notice{}, faults.Mark(faults.ClassPersistence, fmt.Errorf("load notice %d: %w", id, err))
	}
	return notice, nil
}

// CloseNotice transitions an open notice into a terminal state.
// Params: notice id, target state, and close time.
// Returns: ErrNotFound for missing ids, ErrConflict when already closed.
func (s *SQLiteStore) CloseNotice(ctx context.Context, id int64, st domain.NoticeState, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE notices SET state = ?, closed_at = ? WHERE id = ? AND state = 'open'`,
		string(st), at.UnixMilli(), id)
	if err != nil {
		return faults.Mark(faults.ClassPersistence, fmt.Errorf("close notice %d: %w", id, err))
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return faults.Mark(faults.ClassPersistence, fmt.Errorf("close notice %d: %w", id, err))
	}
	if affected == 0 {
		if _, err := s.GetNotice(ctx, id); errors.Is(err, ErrNotFound) {
			return ErrNotFound
		}
		return ErrConflict
	}
	return nil
}

// OpenNoticesByUEI lists open notices triggered by one event UEI.
// Params: trigger UEI.
// Returns: matching notices ordered by id.
func (s *SQLiteStore) OpenNoticesByUEI(ctx context.Context, uei string) ([]domain.Notice, error) {
	return s.queryNotices(ctx, `
		SELECT id, event_id, event_uei, alarm_id, queue_id, name, params, state, created_at, closed_at
		FROM notices WHERE state = 'open' AND event_uei = ? ORDER BY id`, uei)
}

// OpenNoticesByAlarm lists open notices linked to one alarm.
// Params: alarm id.
// Returns: matching notices ordered by id.
func (s *SQLiteStore) OpenNoticesByAlarm(ctx context.Context, alarmID int64) ([]domain.Notice, error) {
	return s.queryNotices(ctx, `
		SELECT id, event_id, event_uei, alarm_id, queue_id, name, params, state, created_at, closed_at
		FROM notices WHERE state = 'open' AND alarm_id = ? ORDER BY id`, alarmID)
}

// RecordPlanned stores the tasks planned for one notice at schedule time.
// Params: planned tasks.
// Returns: persistence error; the batch goes in one transaction.
func (s *SQLiteStore) RecordPlanned(ctx context.Context, tasks []domain.DeliveryTask) error {
	if len(tasks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return faults.Mark(faults.ClassPersistence, fmt.Errorf("begin planned batch: %w", err))
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UnixMilli()
	for _, task := range tasks {
		taskJSON, err := json.Marshal(task)
		if err != nil {
			return faults.Mark(faults.ClassPersistence, fmt.Errorf("encode planned task: %w", err))
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO planned_tasks (notice_id, user_id, step, task, recorded_at)
			VALUES (?, ?, ?, ?, ?)`,
			task.NoticeID, task.Recipient.UserID, task.Step, string(taskJSON), now)
		if err != nil {
			return faults.Mark(faults.ClassPersistence,
				fmt.Errorf("record planned task for notice %d: %w", task.NoticeID, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return faults.Mark(faults.ClassPersistence, fmt.Errorf("commit planned batch: %w", err))
	}
	return nil
}

// PlannedTasks lists the tasks planned for one notice.
// Params: notice id.
// Returns: tasks in plan order.
func (s *SQLiteStore) PlannedTasks(ctx context.Context, noticeID int64) ([]domain.DeliveryTask, error) {
	return s.queryTasks(ctx, `
		SELECT task FROM planned_tasks WHERE notice_id = ? ORDER BY rowid`, noticeID)
}

// RecordDelivery appends one per-recipient delivery outcome.
// Params: task carrying its final state.
// Returns: persistence error.
func (s *SQLiteStore) RecordDelivery(ctx context.Context, task domain.DeliveryTask) error {
	taskJSON, err := json.Marshal(task)
	if err != nil {
		return faults.Mark(faults.ClassPersistence, fmt.Errorf("encode delivery task: %w", err))
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO deliveries (notice_id, user_id, step, state, task, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		task.NoticeID, task.Recipient.UserID, task.Step,
		string(task.State), string(taskJSON), time.Now().UnixMilli())
	if err != nil {
		return faults.Mark(faults.ClassPersistence,
			fmt.Errorf("record delivery for notice %d: %w", task.NoticeID, err))
	}
	return nil
}

// DeliveredTasks lists successfully delivered tasks of one notice.
// Params: notice id.
// Returns: recorded tasks in delivery order.
func (s *SQLiteStore) DeliveredTasks(ctx context.Context, noticeID int64) ([]domain.DeliveryTask, error) {
	return s.queryTasks(ctx, `
		SELECT task FROM deliveries
		WHERE notice_id = ? AND state = 'delivered' ORDER BY rowid`, noticeID)
}

// queryTasks runs one task-JSON query and decodes all rows.
// Params: query text and arguments.
// Returns: decoded tasks or persistence error.
func (s *SQLiteStore) queryTasks(ctx context.Context, query string, args ...any) ([]domain.DeliveryTask, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, faults.Mark(faults.ClassPersistence, fmt.Errorf("query tasks: %w", err))
	}
	defer func() { _ = rows.Close() }()

	tasks := make([]domain.DeliveryTask, 0)
	for rows.Next() {
		var taskJSON string
		if err := rows.Scan(&taskJSON); err != nil {
			return nil, faults.Mark(faults.ClassPersistence, fmt.Errorf("scan task: %w", err))
		}
		var task domain.DeliveryTask
		if err := json.Unmarshal([]byte(taskJSON), &task); err != nil {
			return nil, faults.Mark(faults.ClassPersistence, fmt.Errorf("decode task: %w", err))
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Mark(faults.ClassPersistence, fmt.Errorf("iterate tasks: %w", err))
	}
	return tasks, nil
}

// Close releases the database connection.
// Params: none.
// Returns: close error.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// queryNotices runs one notice query and scans all rows.
// Params: query text and arguments.
// Returns: scanned notices or persistence error.
func (s *SQLiteStore) queryNotices(ctx context.Context, query string, args ...any) ([]domain.Notice, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, faults.Mark(faults.ClassPersistence, fmt.Errorf("query notices: %w", err))
	}
	defer func() { _ = rows.Close() }()

	notices := make([]domain.Notice, 0)
	for rows.Next() {
		notice, err := scanNotice(rows)
		if err != nil {
			return nil, faults.Mark(faults.ClassPersistence, fmt.Errorf("scan notice: %w", err))
		}
		notices = append(notices, notice)
	}
	if err := rows.Err(); err != nil {
		return nil, faults.Mark(faults.ClassPersistence, fmt.Errorf("iterate notices: %w", err))
	}
	return notices, nil
}

// rowScanner abstracts sql.Row and sql.Rows for shared scanning.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanNotice decodes one notice row.
// Params: row scanner positioned on a notice row.
// Returns: decoded notice or scan error.
func scanNotice(row rowScanner) (domain.Notice, error) {
	var (
		notice     domain.Notice
		paramsJSON string
		stateText  string
		createdMS  int64
		closedMS   sql.NullInt64
	)
	err := row.Scan(&notice.ID, &notice.EventID, &notice.EventUEI, &notice.AlarmID,
		&notice.QueueID, &notice.Name, &paramsJSON, &stateText, &createdMS, &closedMS)
	if err != nil {
		return domain.Notice{}, err
	}
	if err := json.Unmarshal([]byte(paramsJSON), &notice.Params); err != nil {
		return domain.Notice{}, fmt.Errorf("decode notice params: %w", err)
	}
	notice.State = domain.NoticeState(stateText)
	notice.CreatedAt = time.UnixMilli(createdMS).UTC()
	if closedMS.Valid {
		closed := time.UnixMilli(closedMS.Int64).UTC()
		notice.ClosedAt = &closed
	}
	return notice, nil
}

// isUniqueViolation reports whether an error is a primary key collision.
// Params: driver error.
// Returns: true for unique constraint failures.
func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE")
}
