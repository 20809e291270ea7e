package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"distill/internal/config"
	"distill/internal/fault"
	"distill/internal/task"
)

// Store manages analysis task persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open initializes or connects to the task database.
func Open(cfg *config.Config) (*Store, error) {
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	dbPath := cfg.DatabasePath()
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: dbPath}
	if err := store.initSchema(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return store, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// GetTask fetches a task by identifier.
func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM analysis_tasks WHERE id = ?`, id)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fault.Wrapf(fault.ErrNotFound, "task %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// FindBySource returns the task keyed by (source_ref, model_name), or nil when
// none exists.
func (s *Store) FindBySource(ctx context.Context, sourceRef, modelName string) (*task.Task, error) {
	row := s.db.QueryRowContext(
		ctx,
		`SELECT `+taskColumns+` FROM analysis_tasks WHERE source_ref = ? AND model_name = ? LIMIT 1`,
		sourceRef,
		modelName,
	)
	t, err := scanTask(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find by source: %w", err)
	}
	return t, nil
}

// ListTasks returns all tasks ordered by creation time.
func (s *Store) ListTasks(ctx context.Context) ([]*task.Task, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+taskColumns+` FROM analysis_tasks ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// Stats aggregates task counts by overall status.
func (s *Store) Stats(ctx context.Context) (task.Stats, error) {
	tasks, err := s.ListTasks(ctx)
	if err != nil {
		return task.Stats{}, err
	}
	var stats task.Stats
	for _, t := range tasks {
		stats.Tally(t)
	}
	return stats, nil
}

const taskColumns = "id, source_ref, model_name, stage1_status, stage1_output, stage1_error, stage2_status, stage2_output, stage2_error, created_at, updated_at"

func scanTask(scanner interface{ Scan(dest ...any) error }) (*task.Task, error) {
	var (
		t          task.Task
		s1, s2     string
		createdRaw string
		updatedRaw string
	)

	if err := scanner.Scan(
		&t.ID,
		&t.SourceRef,
		&t.ModelName,
		&s1,
		&t.Stage1Output,
		&t.Stage1Error,
		&s2,
		&t.Stage2Output,
		&t.Stage2Error,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}

	t.Stage1Status = task.StageStatus(s1)
	t.Stage2Status = task.StageStatus(s2)
	if created, err := parseTimeString(createdRaw); err == nil {
		t.CreatedAt = created
	}
	if updated, err := parseTimeString(updatedRaw); err == nil {
		t.UpdatedAt = updated
	}
	return &t, nil
}

func parseTimeString(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, errors.New("empty")
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02 15:04:05", value)
}
