package tasks

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/glebarez/sqlite"
)

// SQLiteSnapshotter 使用 SQLite 持久化状态，每次保存整表重写
type SQLiteSnapshotter struct {
	db   *sql.DB
	path string
}

var _ Snapshotter = (*SQLiteSnapshotter)(nil)

// NewSQLiteSnapshotter 打开或创建数据库
func NewSQLiteSnapshotter(dbPath string) (*SQLiteSnapshotter, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("%w: db path is required", ErrInvalidArgument)
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("%w: failed to create db directory: %v", ErrSaveFailed, err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open db: %v", ErrSaveFailed, err)
	}

	s := &SQLiteSnapshotter{db: db, path: dbPath}
	if err := s.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLiteSnapshotter) initSchema() error {
	schema := `
CREATE TABLE IF NOT EXISTS kanban_items (
  id INTEGER PRIMARY KEY,
  type TEXT NOT NULL,
  name TEXT NOT NULL DEFAULT '',
  status TEXT NOT NULL,
  description TEXT NOT NULL DEFAULT '',
  epic_id INTEGER,
  start_time INTEGER,
  duration_minutes INTEGER,
  seq INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_kanban_items_type ON kanban_items(type);`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("%w: failed to initialize schema: %v", ErrSaveFailed, err)
	}
	return nil
}

// Close 关闭数据库
func (s *SQLiteSnapshotter) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path 数据库路径
func (s *SQLiteSnapshotter) Path() string {
	return s.path
}

// Save 在一个事务里清空并重写整表
func (s *SQLiteSnapshotter) Save(snap *Snapshot) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("%w: failed to begin transaction: %v", ErrSaveFailed, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(`DELETE FROM kanban_items`); err != nil {
		return fmt.Errorf("%w: failed to clear items: %v", ErrSaveFailed, err)
	}

	stmt, err := tx.Prepare(`INSERT INTO kanban_items(
      id, type, name, status, description, epic_id, start_time, duration_minutes, seq
    ) VALUES(?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("%w: failed to prepare insert: %v", ErrSaveFailed, err)
	}
	defer stmt.Close()

	if snap != nil {
		seq := 0
		for _, group := range [][]*Task{snap.Tasks, snap.Epics, snap.Subtasks} {
			for _, t := range group {
				r := RecordFromTask(t)
				var (
					epicID   sql.NullInt64
					start    sql.NullInt64
					duration sql.NullInt64
				)
				if r.Kind == KindSubtask {
					epicID = sql.NullInt64{Int64: int64(r.EpicID), Valid: true}
				}
				if r.StartTime != nil {
					start = sql.NullInt64{Int64: r.StartTime.UnixMilli(), Valid: true}
				}
				if r.DurationMinutes != nil {
					duration = sql.NullInt64{Int64: *r.DurationMinutes, Valid: true}
				}
				seq++
				if _, err := stmt.Exec(r.ID, string(r.Kind), r.Name, string(r.Status), r.Description, epicID, start, duration, seq); err != nil {
					return fmt.Errorf("%w: failed to insert item %d: %v", ErrSaveFailed, r.ID, err)
				}
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: failed to commit: %v", ErrSaveFailed, err)
	}
	return nil
}

// Load 按保存顺序读取全部记录
func (s *SQLiteSnapshotter) Load() (*Snapshot, error) {
	rows, err := s.db.Query(
		`SELECT id, type, name, status, description, epic_id, start_time, duration_minutes
     FROM kanban_items ORDER BY seq, id`,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query items: %v", ErrSaveFailed, err)
	}
	defer rows.Close()

	snap := &Snapshot{}
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		switch r.Kind {
		case KindTask:
			snap.Tasks = append(snap.Tasks, r.Task())
		case KindEpic:
			snap.Epics = append(snap.Epics, r.Task())
		case KindSubtask:
			snap.Subtasks = append(snap.Subtasks, r.Task())
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: failed to iterate items: %v", ErrSaveFailed, err)
	}
	return snap, nil
}

func scanRecord(rows *sql.Rows) (Record, error) {
	var (
		r        Record
		kind     string
		status   string
		epicID   sql.NullInt64
		start    sql.NullInt64
		duration sql.NullInt64
	)
	if err := rows.Scan(&r.ID, &kind, &r.Name, &status, &r.Description, &epicID, &start, &duration); err != nil {
		return r, fmt.Errorf("%w: failed to scan item: %v", ErrSaveFailed, err)
	}

	r.Kind = Kind(kind)
	if !IsValidKind(r.Kind) {
		return r, fmt.Errorf("%w: item %d: bad type %q", ErrSaveFailed, r.ID, kind)
	}
	r.Status = Status(status)
	if !IsValidStatus(r.Status) {
		return r, fmt.Errorf("%w: item %d: bad status %q", ErrSaveFailed, r.ID, status)
	}
	if r.Kind == KindSubtask {
		if !epicID.Valid {
			return r, fmt.Errorf("%w: subtask %d has no epic", ErrSaveFailed, r.ID)
		}
		r.EpicID = int(epicID.Int64)
	}
	if start.Valid {
		t := time.UnixMilli(start.Int64).UTC()
		r.StartTime = &t
	}
	if duration.Valid {
		minutes := duration.Int64
		r.DurationMinutes = &minutes
	}
	return r, nil
}
