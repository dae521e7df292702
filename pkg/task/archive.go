package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
)

// Archive persists task snapshots to SQLite so past runs can be inspected
type Archive struct {
	db     *sql.DB
	logger zerolog.Logger
}

// ArchiveConfig holds archive configuration
type ArchiveConfig struct {
	DBPath string
	Logger zerolog.Logger
}

// ArchivedTask is a task row together with the run it belonged to
type ArchivedTask struct {
	RunID string `json:"run_id"`
	Task
	UpdatedAt time.Time `json:"updated_at"`
}

// OpenArchive opens (or creates) the archive database
func OpenArchive(cfg ArchiveConfig) (*Archive, error) {
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	a := &Archive{db: db, logger: cfg.Logger}
	if err := a.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return a, nil
}

func (a *Archive) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS tasks (
		run_id TEXT NOT NULL,
		id TEXT NOT NULL,
		type TEXT NOT NULL,
		description TEXT NOT NULL,
		status TEXT NOT NULL,
		assignee TEXT,
		result TEXT,
		created_at INTEGER NOT NULL,
		completed_at INTEGER,
		updated_at INTEGER NOT NULL,
		PRIMARY KEY (run_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_tasks_run ON tasks(run_id, updated_at);
	`
	_, err := a.db.Exec(schema)
	return err
}

// Save upserts a task snapshot for the given run
func (a *Archive) Save(ctx context.Context, runID string, t *Task) error {
	var completedAt sql.NullInt64
	if t.CompletedAt != nil {
		completedAt = sql.NullInt64{Int64: t.CompletedAt.UnixMilli(), Valid: true}
	}

	_, err := a.db.ExecContext(ctx, `
		INSERT INTO tasks (run_id, id, type, description, status, assignee, result, created_at, completed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, id) DO UPDATE SET
			status = excluded.status,
			assignee = excluded.assignee,
			result = excluded.result,
			completed_at = excluded.completed_at,
			updated_at = excluded.updated_at
	`,
		runID, t.ID, string(t.Type), t.Description, string(t.Status),
		t.Assignee, t.Result, t.CreatedAt.UnixMilli(), completedAt, time.Now().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to save task %s: %w", t.ID, err)
	}
	return nil
}

// Attach archives every transition of store under runID
func (a *Archive) Attach(store *Store, runID string) {
	store.OnTransition(func(tr Transition) {
		if err := a.Save(context.Background(), runID, tr.Task); err != nil {
			a.logger.Error().Err(err).Str("taskId", tr.Task.ID).Msg("Failed to archive task")
		}
	})
}

// List returns archived tasks, newest run first. An empty runID lists all runs.
func (a *Archive) List(ctx context.Context, runID string, limit int) ([]ArchivedTask, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT run_id, id, type, description, status, assignee, result, created_at, completed_at, updated_at
		FROM tasks`
	args := []interface{}{}
	if runID != "" {
		query += ` WHERE run_id = ?`
		args = append(args, runID)
	}
	query += ` ORDER BY updated_at DESC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query tasks: %w", err)
	}
	defer rows.Close()

	out := []ArchivedTask{}
	for rows.Next() {
		var (
			row         ArchivedTask
			taskType    string
			status      string
			assignee    sql.NullString
			result      sql.NullString
			createdAt   int64
			completedAt sql.NullInt64
			updatedAt   int64
		)
		if err := rows.Scan(&row.RunID, &row.ID, &taskType, &row.Description, &status,
			&assignee, &result, &createdAt, &completedAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan task: %w", err)
		}
		row.Type = Type(taskType)
		row.Status = Status(status)
		row.Assignee = assignee.String
		row.Result = result.String
		row.CreatedAt = time.UnixMilli(createdAt)
		if completedAt.Valid {
			ts := time.UnixMilli(completedAt.Int64)
			row.CompletedAt = &ts
		}
		row.UpdatedAt = time.UnixMilli(updatedAt)
		out = append(out, row)
	}
	return out, rows.Err()
}

// Close closes the database
func (a *Archive) Close() error {
	return a.db.Close()
}
