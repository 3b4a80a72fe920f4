package store

import (
	"context"
	"errors"
	"time"

	"github.com/ravenel/docuflow/internal/model"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("record not found")

// ErrVersionConflict is returned when a version-conditioned instance write
// loses against a concurrent mutation. Callers retry from a fresh read.
var ErrVersionConflict = errors.New("instance version conflict")

// ErrTaskNotPending is returned when a task completion write finds the task
// already completed.
var ErrTaskNotPending = errors.New("task is not pending")

// Store defines the persistence operations for workflow templates,
// instances, tasks, history and directory users. Instance writes are
// compare-and-swap on the version counter; task completion is a conditional
// pending-to-completed claim so concurrent approvers never block each other.
type Store interface {
	CreateTemplate(ctx context.Context, t *model.WorkflowTemplate) error
	GetTemplate(ctx context.Context, id string) (*model.WorkflowTemplate, error)
	ListTemplates(ctx context.Context) ([]*model.WorkflowTemplate, error)
	SetTemplateActive(ctx context.Context, id string, active bool) error

	CreateInstance(ctx context.Context, inst *model.WorkflowInstance) error
	GetInstance(ctx context.Context, id string) (*model.WorkflowInstance, error)
	// UpdateInstance persists the instance's mutable fields conditioned on
	// inst.Version matching the stored row. On success the stored version
	// increments and inst.Version is updated to match; a stale version
	// returns ErrVersionConflict.
	UpdateInstance(ctx context.Context, inst *model.WorkflowInstance) error
	DeleteInstance(ctx context.Context, id string) error

	// CreateTasks inserts all tasks in one transaction; either every task
	// is created or none are.
	CreateTasks(ctx context.Context, tasks []model.Task) error
	GetTask(ctx context.Context, id string) (*model.Task, error)
	TasksByInstance(ctx context.Context, instanceID string) ([]model.Task, error)
	TasksForStep(ctx context.Context, instanceID string, stepOrder int) ([]model.Task, error)
	// CompleteTask atomically claims a pending task, setting the completion
	// tuple. Returns ErrTaskNotPending if the task was already completed.
	CompleteTask(ctx context.Context, id, action, comments, completedBy string, at time.Time) error

	AppendHistory(ctx context.Context, e *model.HistoryEntry) error
	HistoryByInstance(ctx context.Context, instanceID string) ([]model.HistoryEntry, error)

	CreateUser(ctx context.Context, u *model.User) error
	GetUser(ctx context.Context, username string) (*model.User, error)
	UsersByRole(ctx context.Context, role string) ([]model.User, error)

	Ping(ctx context.Context) error
	Close() error
}
