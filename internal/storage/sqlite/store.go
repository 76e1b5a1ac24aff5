// Package sqlite is a pure-Go (no CGO) State Store adapter used by the
// embedded/single-binary profile and by integration tests, grounded on
// the teacher's internal/shared/storage/driver/sqlite/driver.go pragma
// tuning and schema-as-constant migration idiom.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/netbuddy/taskforge/internal/model"
	"github.com/netbuddy/taskforge/internal/storage"
)

// Store is a sqlite-backed storage.StateStore. Writes are serialized
// through writeMu because sqlite allows only one writer at a time even
// under WAL journaling; reads pass through unimpeded.
type Store struct {
	db      *sql.DB
	writeMu sync.Mutex
}

// Open creates a sqlite connection tuned for a single-writer/many-reader
// workload (WAL journaling, NORMAL sync, busy timeout) and returns a
// Store ready for Migrate.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // sqlite tolerates one writer; simplest way to avoid SQLITE_BUSY under WAL

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenFromDB wraps an already-open *sql.DB, used by tests that share an
// in-memory database across multiple Store-adjacent components.
func OpenFromDB(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

// Migrate applies the schema DDL (idempotent, CREATE TABLE IF NOT EXISTS)
// and stamps schema_meta with schemaVersion.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_meta").Scan(&count); err != nil {
		return fmt.Errorf("read schema_meta: %w", err)
	}
	if count == 0 {
		_, err := s.db.ExecContext(ctx, "INSERT INTO schema_meta (version) VALUES (?)", schemaVersion)
		return err
	}

	var version int
	if err := s.db.QueryRowContext(ctx, "SELECT version FROM schema_meta LIMIT 1").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	if version > schemaVersion {
		return fmt.Errorf("%w: database is at version %d, binary supports %d", storage.ErrSchemaOutOfDate, version, schemaVersion)
	}
	return nil
}

// --- repositories ---

func (s *Store) CreateRepository(ctx context.Context, repo *model.Repository) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repositories (id, path, display_name, project_type, framework, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		repo.ID, repo.Path, repo.DisplayName, repo.ProjectType, repo.Framework, repo.CreatedAt, repo.UpdatedAt)
	return err
}

func (s *Store) GetRepository(ctx context.Context, id string) (*model.Repository, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, path, display_name, project_type, framework, created_at, updated_at
		FROM repositories WHERE id = ?`, id)
	var r model.Repository
	if err := row.Scan(&r.ID, &r.Path, &r.DisplayName, &r.ProjectType, &r.Framework, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	return &r, nil
}

func (s *Store) ListRepositories(ctx context.Context) ([]*model.Repository, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, path, display_name, project_type, framework, created_at, updated_at
		FROM repositories ORDER BY created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Repository
	for rows.Next() {
		var r model.Repository
		if err := rows.Scan(&r.ID, &r.Path, &r.DisplayName, &r.ProjectType, &r.Framework, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// --- tasks ---

func (s *Store) CreateTask(ctx context.Context, t *model.Task) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	planJSON, err := marshalNullable(t.Plan)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, parent_task_id, repository_id, user_request, title, status,
			current_phase_role, current_step, plan, retry_count, fix_depth, requires_review,
			error_kind, error_message, definition_of_done, heartbeat, created_at, updated_at,
			completed_at, paused_from_status)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.ParentTaskID, t.RepositoryID, t.UserRequest, t.Title, t.Status,
		string(t.CurrentPhaseRole), t.CurrentStep, planJSON, t.RetryCount, t.FixDepth, t.RequiresReview,
		string(t.ErrorKind), t.ErrorMessage, t.DefinitionOfDone, t.Heartbeat, t.CreatedAt, t.UpdatedAt,
		t.CompletedAt, string(t.PausedFromStatus))
	return err
}

func (s *Store) GetTask(ctx context.Context, id string) (*model.Task, error) {
	row := s.db.QueryRowContext(ctx, taskSelectColumns+" FROM tasks WHERE id = ?", id)
	t, err := scanTask(row)
	if err != nil {
		return nil, err
	}
	runs, err := s.ListRuns(ctx, id)
	if err != nil {
		return nil, err
	}
	t.Runs = runs
	return t, nil
}

const taskSelectColumns = `SELECT id, parent_task_id, repository_id, user_request, title, status,
	current_phase_role, current_step, plan, retry_count, fix_depth, requires_review,
	error_kind, error_message, definition_of_done, heartbeat, created_at, updated_at,
	completed_at, paused_from_status`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (*model.Task, error) {
	var t model.Task
	var planJSON sql.NullString
	var currentPhaseRole, errorKind, pausedFrom sql.NullString
	if err := row.Scan(&t.ID, &t.ParentTaskID, &t.RepositoryID, &t.UserRequest, &t.Title, &t.Status,
		&currentPhaseRole, &t.CurrentStep, &planJSON, &t.RetryCount, &t.FixDepth, &t.RequiresReview,
		&errorKind, &t.ErrorMessage, &t.DefinitionOfDone, &t.Heartbeat, &t.CreatedAt, &t.UpdatedAt,
		&t.CompletedAt, &pausedFrom); err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}
	t.CurrentPhaseRole = model.AgentRole(currentPhaseRole.String)
	t.ErrorKind = model.ErrorKind(errorKind.String)
	t.PausedFromStatus = model.TaskStatus(pausedFrom.String)
	if planJSON.Valid && planJSON.String != "" {
		var plan model.Plan
		if err := json.Unmarshal([]byte(planJSON.String), &plan); err != nil {
			return nil, fmt.Errorf("unmarshal plan: %w", err)
		}
		t.Plan = &plan
	}
	return &t, nil
}

func (s *Store) ListTasks(ctx context.Context, filter storage.TaskFilter) ([]*model.Task, error) {
	query := taskSelectColumns + " FROM tasks WHERE 1=1"
	var args []any
	if filter.RepositoryID != "" {
		query += " AND repository_id = ?"
		args = append(args, filter.RepositoryID)
	}
	if filter.ParentTaskID != "" {
		query += " AND parent_task_id = ?"
		args = append(args, filter.ParentTaskID)
	}
	if filter.Status != "" {
		query += " AND status = ?"
		args = append(args, string(filter.Status))
	}
	query += " ORDER BY created_at"
	if filter.Limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, filter.Limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) ListChildren(ctx context.Context, parentID string) ([]*model.Task, error) {
	return s.ListTasks(ctx, storage.TaskFilter{ParentTaskID: parentID})
}

// UpdateTaskStatus is the sole compare-and-swap write path for a task
// row: it loads the row, checks expectedStatus, applies mutate, and
// writes the full row back inside one transaction, so concurrent callers
// racing the same task serialize through writeMu and one of them
// observes ErrConflict.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, expectedStatus model.TaskStatus, mutate func(*model.Task)) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	row := tx.QueryRowContext(ctx, taskSelectColumns+" FROM tasks WHERE id = ?", id)
	t, err := scanTask(row)
	if err != nil {
		return err
	}
	if t.Status != expectedStatus {
		return fmt.Errorf("%w: task %s is %s, expected %s", storage.ErrConflict, id, t.Status, expectedStatus)
	}

	mutate(t)

	planJSON, err := marshalNullable(t.Plan)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
		UPDATE tasks SET parent_task_id=?, repository_id=?, user_request=?, title=?, status=?,
			current_phase_role=?, current_step=?, plan=?, retry_count=?, fix_depth=?, requires_review=?,
			error_kind=?, error_message=?, definition_of_done=?, heartbeat=?, updated_at=?, completed_at=?,
			paused_from_status=?
		WHERE id = ?`,
		t.ParentTaskID, t.RepositoryID, t.UserRequest, t.Title, t.Status,
		string(t.CurrentPhaseRole), t.CurrentStep, planJSON, t.RetryCount, t.FixDepth, t.RequiresReview,
		string(t.ErrorKind), t.ErrorMessage, t.DefinitionOfDone, t.Heartbeat, t.UpdatedAt, t.CompletedAt,
		string(t.PausedFromStatus), id)
	if err != nil {
		return err
	}
	return tx.Commit()
}

func (s *Store) UpdateHeartbeat(ctx context.Context, id string, at time.Time) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	res, err := s.db.ExecContext(ctx, "UPDATE tasks SET heartbeat = ? WHERE id = ?", at, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) ListStaleHeartbeats(ctx context.Context, olderThan time.Time) ([]*model.Task, error) {
	query := taskSelectColumns + ` FROM tasks
		WHERE status IN (?, ?, ?, ?) AND heartbeat < ?`
	rows, err := s.db.QueryContext(ctx, query,
		string(model.TaskStatusPlanning), string(model.TaskStatusExecuting),
		string(model.TaskStatusTesting), string(model.TaskStatusDocumenting), olderThan)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) DeleteTaskCascade(ctx context.Context, id string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ids, err := collectDescendants(ctx, tx, id)
	if err != nil {
		return err
	}
	ids = append(ids, id)

	for _, tid := range ids {
		if _, err := tx.ExecContext(ctx, "DELETE FROM task_events WHERE task_id = ?", tid); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM change_sets WHERE task_id = ?", tid); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM verified_file_events WHERE task_id = ?", tid); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM agent_runs WHERE task_id = ?", tid); err != nil {
			return err
		}
	}
	// delete children before parents to satisfy the self-referencing FK
	for i := 0; i < len(ids)-1; i++ {
		if _, err := tx.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", ids[i]); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM tasks WHERE id = ?", id); err != nil {
		return err
	}
	return tx.Commit()
}

func collectDescendants(ctx context.Context, tx *sql.Tx, rootID string) ([]string, error) {
	var out []string
	frontier := []string{rootID}
	for len(frontier) > 0 {
		var next []string
		for _, id := range frontier {
			rows, err := tx.QueryContext(ctx, "SELECT id FROM tasks WHERE parent_task_id = ?", id)
			if err != nil {
				return nil, err
			}
			for rows.Next() {
				var cid string
				if err := rows.Scan(&cid); err != nil {
					rows.Close()
					return nil, err
				}
				next = append(next, cid)
			}
			rows.Close()
		}
		out = append(next, out...) // children before parents
		frontier = next
	}
	return out, nil
}

// --- agent runs ---

func (s *Store) AppendAgentRun(ctx context.Context, run *model.AgentRun) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	toolsJSON, err := json.Marshal(run.ToolInvocations)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agent_runs (id, task_id, step, role, title, subtitle, reasoning,
			tool_invocations, confidence, requires_review, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.TaskID, run.Step, string(run.Role), run.Title, run.Subtitle, run.Reasoning,
		string(toolsJSON), run.Confidence, run.RequiresReview, run.Duration.Milliseconds(), run.CreatedAt)
	return err
}

func (s *Store) ListRuns(ctx context.Context, taskID string) ([]model.AgentRun, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, step, role, title, subtitle, reasoning, tool_invocations,
			confidence, requires_review, duration_ms, created_at
		FROM agent_runs WHERE task_id = ? ORDER BY step, created_at`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.AgentRun
	for rows.Next() {
		var r model.AgentRun
		var toolsJSON sql.NullString
		var durationMs int64
		if err := rows.Scan(&r.ID, &r.TaskID, &r.Step, &r.Role, &r.Title, &r.Subtitle, &r.Reasoning,
			&toolsJSON, &r.Confidence, &r.RequiresReview, &durationMs, &r.CreatedAt); err != nil {
			return nil, err
		}
		r.Duration = time.Duration(durationMs) * time.Millisecond
		if toolsJSON.Valid && toolsJSON.String != "" {
			if err := json.Unmarshal([]byte(toolsJSON.String), &r.ToolInvocations); err != nil {
				return nil, err
			}
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- verified file events ---

func (s *Store) AppendVerifiedFileEvent(ctx context.Context, e *model.VerifiedFileEvent) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	checksJSON, err := json.Marshal(e.QualityChecks)
	if err != nil {
		return err
	}
	warningsJSON, err := json.Marshal(e.QualityWarnings)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO verified_file_events (id, task_id, step, path, action, byte_size,
			quality_checks, quality_warnings, unified_diff, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.TaskID, e.Step, e.Path, string(e.Action), e.ByteSize,
		string(checksJSON), string(warningsJSON), e.UnifiedDiff, e.Timestamp)
	return err
}

func (s *Store) ListVerifiedFileEvents(ctx context.Context, taskID string) ([]model.VerifiedFileEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, task_id, step, path, action, byte_size, quality_checks, quality_warnings,
			unified_diff, timestamp
		FROM verified_file_events WHERE task_id = ? ORDER BY timestamp`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.VerifiedFileEvent
	for rows.Next() {
		var e model.VerifiedFileEvent
		var checksJSON, warningsJSON sql.NullString
		if err := rows.Scan(&e.ID, &e.TaskID, &e.Step, &e.Path, &e.Action, &e.ByteSize,
			&checksJSON, &warningsJSON, &e.UnifiedDiff, &e.Timestamp); err != nil {
			return nil, err
		}
		if checksJSON.Valid {
			json.Unmarshal([]byte(checksJSON.String), &e.QualityChecks)
		}
		if warningsJSON.Valid {
			json.Unmarshal([]byte(warningsJSON.String), &e.QualityWarnings)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *Store) AppendChangeSet(ctx context.Context, cs *model.ChangeSet) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO change_sets (id, task_id, path, action, unified_diff, lines_added, lines_removed)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		cs.ID, cs.TaskID, cs.Path, string(cs.Action), cs.UnifiedDiff, cs.LinesAdded, cs.LinesRemoved)
	return err
}

// --- event log ---

func (s *Store) AppendEvent(ctx context.Context, event *model.TaskEvent) (int64, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	var maxSeq sql.NullInt64
	if err := tx.QueryRowContext(ctx, "SELECT MAX(seq) FROM task_events WHERE task_id = ?", event.TaskID).Scan(&maxSeq); err != nil {
		return 0, err
	}
	seq := maxSeq.Int64 + 1
	event.Seq = seq

	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return 0, err
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO task_events (task_id, seq, kind, timestamp, payload)
		VALUES (?, ?, ?, ?, ?)`,
		event.TaskID, seq, string(event.Kind), event.Timestamp, string(payloadJSON)); err != nil {
		return 0, err
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return seq, nil
}

func (s *Store) GetEventsSince(ctx context.Context, taskID string, sinceSeq int64) ([]model.TaskEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id, seq, kind, timestamp, payload
		FROM task_events WHERE task_id = ? AND seq > ? ORDER BY seq`, taskID, sinceSeq)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.TaskEvent
	for rows.Next() {
		var e model.TaskEvent
		var payloadJSON sql.NullString
		if err := rows.Scan(&e.TaskID, &e.Seq, &e.Kind, &e.Timestamp, &payloadJSON); err != nil {
			return nil, err
		}
		if payloadJSON.Valid && payloadJSON.String != "" {
			json.Unmarshal([]byte(payloadJSON.String), &e.Payload)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func marshalNullable(plan *model.Plan) (any, error) {
	if plan == nil {
		return nil, nil
	}
	b, err := json.Marshal(plan)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

var _ storage.StateStore = (*Store)(nil)
