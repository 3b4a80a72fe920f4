package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ravenel/docuflow/internal/model"

	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS templates (
    id                TEXT PRIMARY KEY,
    name              TEXT NOT NULL,
    description       TEXT,
    is_active         INTEGER NOT NULL,
    default_sla_hours INTEGER NOT NULL,
    steps             TEXT NOT NULL,
    created_at        DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS instances (
    id           TEXT PRIMARY KEY,
    template_id  TEXT NOT NULL,
    document_id  TEXT NOT NULL,
    initiator    TEXT NOT NULL,
    title        TEXT,
    description  TEXT,
    priority     TEXT NOT NULL,
    status       TEXT NOT NULL,
    current_step INTEGER NOT NULL,
    version      INTEGER NOT NULL,
    created_at   DATETIME NOT NULL,
    updated_at   DATETIME NOT NULL,
    started_at   DATETIME,
    ended_at     DATETIME,
    due_at       DATETIME
);

CREATE TABLE IF NOT EXISTS tasks (
    id           TEXT PRIMARY KEY,
    instance_id  TEXT NOT NULL,
    step_order   INTEGER NOT NULL,
    assignee     TEXT NOT NULL,
    status       TEXT NOT NULL,
    action       TEXT,
    comments     TEXT,
    completed_by TEXT,
    completed_at DATETIME,
    created_at   DATETIME NOT NULL,
    due_at       DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_instance ON tasks (instance_id, step_order);

CREATE TABLE IF NOT EXISTS history (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    instance_id TEXT NOT NULL,
    action      TEXT NOT NULL,
    detail      TEXT,
    actor       TEXT NOT NULL,
    created_at  DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_instance ON history (instance_id);

CREATE TABLE IF NOT EXISTS users (
    username     TEXT PRIMARY KEY,
    display_name TEXT,
    active       INTEGER NOT NULL,
    enabled      INTEGER NOT NULL,
    roles        TEXT NOT NULL
)`

// Compile-time interface satisfaction check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store using SQLite. Template steps and user roles
// are stored JSON-encoded and always loaded eagerly with their parent row,
// so the engine never sees a partial object graph.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens the SQLite database at dbPath and runs migrations.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping verifies the database connection is alive.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// CreateTemplate inserts a new workflow template with its steps.
func (s *SQLiteStore) CreateTemplate(ctx context.Context, t *model.WorkflowTemplate) error {
	steps, err := json.Marshal(t.Steps)
	if err != nil {
		return fmt.Errorf("encode steps: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO templates (id, name, description, is_active, default_sla_hours, steps, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Description, t.IsActive, t.DefaultSLAHours, string(steps), t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert template: %w", err)
	}
	return nil
}

// GetTemplate retrieves a template by ID, steps included.
func (s *SQLiteStore) GetTemplate(ctx context.Context, id string) (*model.WorkflowTemplate, error) {
	t := &model.WorkflowTemplate{}
	var steps string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, description, is_active, default_sla_hours, steps, created_at
		FROM templates WHERE id = ?`, id,
	).Scan(&t.ID, &t.Name, &t.Description, &t.IsActive, &t.DefaultSLAHours, &steps, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template: %w", err)
	}
	if err := json.Unmarshal([]byte(steps), &t.Steps); err != nil {
		return nil, fmt.Errorf("decode steps: %w", err)
	}
	return t, nil
}

// ListTemplates returns all templates ordered by name.
func (s *SQLiteStore) ListTemplates(ctx context.Context) ([]*model.WorkflowTemplate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, name, description, is_active, default_sla_hours, steps, created_at
		FROM templates ORDER BY name`,
	)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	var templates []*model.WorkflowTemplate
	for rows.Next() {
		t := &model.WorkflowTemplate{}
		var steps string
		if err := rows.Scan(&t.ID, &t.Name, &t.Description, &t.IsActive, &t.DefaultSLAHours, &steps, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		if err := json.Unmarshal([]byte(steps), &t.Steps); err != nil {
			return nil, fmt.Errorf("decode steps: %w", err)
		}
		templates = append(templates, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return templates, nil
}

// SetTemplateActive toggles the is_active flag. Steps stay immutable.
func (s *SQLiteStore) SetTemplateActive(ctx context.Context, id string, active bool) error {
	result, err := s.db.ExecContext(ctx,
		"UPDATE templates SET is_active = ? WHERE id = ?", active, id,
	)
	if err != nil {
		return fmt.Errorf("set template active: %w", err)
	}
	return requireRow(result)
}

// CreateInstance inserts a new workflow instance record.
func (s *SQLiteStore) CreateInstance(ctx context.Context, inst *model.WorkflowInstance) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO instances (
			id, template_id, document_id, initiator, title, description,
			priority, status, current_step, version, created_at, updated_at,
			started_at, ended_at, due_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.TemplateID, inst.DocumentID, inst.Initiator, inst.Title, inst.Description,
		inst.Priority, inst.Status, inst.CurrentStep, inst.Version, inst.CreatedAt, inst.UpdatedAt,
		inst.StartedAt, inst.EndedAt, inst.DueAt,
	)
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}
	return nil
}

// GetInstance retrieves a workflow instance by ID.
func (s *SQLiteStore) GetInstance(ctx context.Context, id string) (*model.WorkflowInstance, error) {
	inst := &model.WorkflowInstance{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, template_id, document_id, initiator, title, description,
			priority, status, current_step, version, created_at, updated_at,
			started_at, ended_at, due_at
		FROM instances WHERE id = ?`, id,
	).Scan(
		&inst.ID, &inst.TemplateID, &inst.DocumentID, &inst.Initiator, &inst.Title, &inst.Description,
		&inst.Priority, &inst.Status, &inst.CurrentStep, &inst.Version, &inst.CreatedAt, &inst.UpdatedAt,
		&inst.StartedAt, &inst.EndedAt, &inst.DueAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get instance: %w", err)
	}
	return inst, nil
}

// UpdateInstance performs a compare-and-swap write conditioned on the
// version counter. A zero-row update against an existing instance means a
// concurrent writer got there first.
func (s *SQLiteStore) UpdateInstance(ctx context.Context, inst *model.WorkflowInstance) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE instances SET
			status = ?, current_step = ?, updated_at = ?, started_at = ?,
			ended_at = ?, due_at = ?, version = version + 1
		WHERE id = ? AND version = ?`,
		inst.Status, inst.CurrentStep, inst.UpdatedAt, inst.StartedAt,
		inst.EndedAt, inst.DueAt,
		inst.ID, inst.Version,
	)
	if err != nil {
		return fmt.Errorf("update instance: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx,
			"SELECT 1 FROM instances WHERE id = ?", inst.ID,
		).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check instance existence: %w", err)
		}
		return ErrVersionConflict
	}

	inst.Version++
	return nil
}

// DeleteInstance removes an instance row. Used only to roll back a failed
// workflow start before any task exists.
func (s *SQLiteStore) DeleteInstance(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM instances WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	return requireRow(result)
}

// CreateTasks inserts all given tasks within a single transaction.
func (s *SQLiteStore) CreateTasks(ctx context.Context, tasks []model.Task) error {
	if len(tasks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for i := range tasks {
		t := &tasks[i]
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tasks (
				id, instance_id, step_order, assignee, status, action,
				comments, completed_by, completed_at, created_at, due_at
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			t.ID, t.InstanceID, t.StepOrder, t.Assignee, t.Status, t.Action,
			t.Comments, t.CompletedBy, t.CompletedAt, t.CreatedAt, t.DueAt,
		); err != nil {
			return fmt.Errorf("insert task: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tasks: %w", err)
	}
	return nil
}

// GetTask retrieves a task by ID.
func (s *SQLiteStore) GetTask(ctx context.Context, id string) (*model.Task, error) {
	t := &model.Task{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, instance_id, step_order, assignee, status, action,
			comments, completed_by, completed_at, created_at, due_at
		FROM tasks WHERE id = ?`, id,
	).Scan(
		&t.ID, &t.InstanceID, &t.StepOrder, &t.Assignee, &t.Status, &t.Action,
		&t.Comments, &t.CompletedBy, &t.CompletedAt, &t.CreatedAt, &t.DueAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	return t, nil
}

// TasksByInstance returns all tasks for an instance ordered by step, then
// creation order.
func (s *SQLiteStore) TasksByInstance(ctx context.Context, instanceID string) ([]model.Task, error) {
	return s.queryTasks(ctx,
		`SELECT id, instance_id, step_order, assignee, status, action,
			comments, completed_by, completed_at, created_at, due_at
		FROM tasks WHERE instance_id = ? ORDER BY step_order, id`, instanceID)
}

// TasksForStep returns all tasks generated for one step of an instance.
func (s *SQLiteStore) TasksForStep(ctx context.Context, instanceID string, stepOrder int) ([]model.Task, error) {
	return s.queryTasks(ctx,
		`SELECT id, instance_id, step_order, assignee, status, action,
			comments, completed_by, completed_at, created_at, due_at
		FROM tasks WHERE instance_id = ? AND step_order = ? ORDER BY id`, instanceID, stepOrder)
}

func (s *SQLiteStore) queryTasks(ctx context.Context, query string, args ...any) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var tasks []model.Task
	for rows.Next() {
		var t model.Task
		if err := rows.Scan(
			&t.ID, &t.InstanceID, &t.StepOrder, &t.Assignee, &t.Status, &t.Action,
			&t.Comments, &t.CompletedBy, &t.CompletedAt, &t.CreatedAt, &t.DueAt,
		); err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tasks: %w", err)
	}
	return tasks, nil
}

// CompleteTask claims a pending task, setting the completion tuple in one
// conditional write. The WHERE status clause makes the pending→completed
// transition happen exactly once even under concurrent callers.
func (s *SQLiteStore) CompleteTask(ctx context.Context, id, action, comments, completedBy string, at time.Time) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, action = ?, comments = ?, completed_by = ?, completed_at = ?
		WHERE id = ? AND status = ?`,
		model.TaskCompleted, action, comments, completedBy, at,
		id, model.TaskPending,
	)
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, "SELECT 1 FROM tasks WHERE id = ?", id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("check task existence: %w", err)
		}
		return ErrTaskNotPending
	}
	return nil
}

// AppendHistory inserts one history entry. History rows are append-only;
// no update or delete operation exists.
func (s *SQLiteStore) AppendHistory(ctx context.Context, e *model.HistoryEntry) error {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO history (instance_id, action, detail, actor, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		e.InstanceID, e.Action, e.Detail, e.Actor, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert history: %w", err)
	}
	if id, err := result.LastInsertId(); err == nil {
		e.ID = id
	}
	return nil
}

// HistoryByInstance returns an instance's history in append order.
func (s *SQLiteStore) HistoryByInstance(ctx context.Context, instanceID string) ([]model.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, instance_id, action, detail, actor, created_at
		FROM history WHERE instance_id = ? ORDER BY id`, instanceID,
	)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []model.HistoryEntry
	for rows.Next() {
		var e model.HistoryEntry
		if err := rows.Scan(&e.ID, &e.InstanceID, &e.Action, &e.Detail, &e.Actor, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate history: %w", err)
	}
	return entries, nil
}

// CreateUser inserts a directory user record.
func (s *SQLiteStore) CreateUser(ctx context.Context, u *model.User) error {
	roles, err := json.Marshal(u.Roles)
	if err != nil {
		return fmt.Errorf("encode roles: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO users (username, display_name, active, enabled, roles)
		VALUES (?, ?, ?, ?, ?)`,
		u.Username, u.DisplayName, u.Active, u.Enabled, string(roles),
	)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

// GetUser retrieves a user by username.
func (s *SQLiteStore) GetUser(ctx context.Context, username string) (*model.User, error) {
	u := &model.User{}
	var roles string
	err := s.db.QueryRowContext(ctx,
		`SELECT username, display_name, active, enabled, roles
		FROM users WHERE username = ?`, username,
	).Scan(&u.Username, &u.DisplayName, &u.Active, &u.Enabled, &roles)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get user: %w", err)
	}
	if err := json.Unmarshal([]byte(roles), &u.Roles); err != nil {
		return nil, fmt.Errorf("decode roles: %w", err)
	}
	return u, nil
}

// UsersByRole returns all users holding the given role, ordered by username.
// Role membership lives in a JSON column, so filtering happens here rather
// than in SQL.
func (s *SQLiteStore) UsersByRole(ctx context.Context, role string) ([]model.User, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT username, display_name, active, enabled, roles FROM users ORDER BY username",
	)
	if err != nil {
		return nil, fmt.Errorf("query users: %w", err)
	}
	defer rows.Close()

	var users []model.User
	for rows.Next() {
		var u model.User
		var roles string
		if err := rows.Scan(&u.Username, &u.DisplayName, &u.Active, &u.Enabled, &roles); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		if err := json.Unmarshal([]byte(roles), &u.Roles); err != nil {
			return nil, fmt.Errorf("decode roles: %w", err)
		}
		if u.HasRole(role) {
			users = append(users, u)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return users, nil
}

// requireRow maps a zero-row mutation result to ErrNotFound.
func requireRow(result sql.Result) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
