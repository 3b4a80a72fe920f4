package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ravenel/docuflow/internal/model"
	"github.com/ravenel/docuflow/internal/store"
)

// DefaultTaskSLA is the due-date window applied when neither the step nor
// the instance carries an SLA.
const DefaultTaskSLA = 48 * time.Hour

// TaskFactory materializes pending tasks for a step, one per approver,
// with SLA-derived due dates.
type TaskFactory struct {
	store      store.Store
	notifier   Notifier
	logger     *slog.Logger
	defaultSLA time.Duration
}

// NewTaskFactory creates a task factory. A non-positive defaultSLA falls
// back to DefaultTaskSLA.
func NewTaskFactory(s store.Store, notifier Notifier, logger *slog.Logger, defaultSLA time.Duration) *TaskFactory {
	if defaultSLA <= 0 {
		defaultSLA = DefaultTaskSLA
	}
	return &TaskFactory{store: s, notifier: notifier, logger: logger, defaultSLA: defaultSLA}
}

// Generate creates one pending task per approver for the given step. All
// tasks are inserted in a single transaction; a failure creates none of
// them. Each created task produces a history entry naming the approver and
// a best-effort assignment notification.
func (f *TaskFactory) Generate(ctx context.Context, inst *model.WorkflowInstance, step *model.Step, approvers []model.User) ([]model.Task, error) {
	now := time.Now().UTC()
	due := f.dueDate(inst, step, now)

	tasks := make([]model.Task, 0, len(approvers))
	for _, u := range approvers {
		tasks = append(tasks, model.Task{
			ID:         model.NewID(),
			InstanceID: inst.ID,
			StepOrder:  step.Order,
			Assignee:   u.Username,
			Status:     model.TaskPending,
			CreatedAt:  now,
			DueAt:      due,
		})
	}

	if err := f.store.CreateTasks(ctx, tasks); err != nil {
		return nil, fmt.Errorf("create tasks for step %d: %w", step.Order, err)
	}

	for i := range tasks {
		t := &tasks[i]
		f.appendHistory(ctx, inst.ID, historyTaskCreated,
			fmt.Sprintf("approval task for step %d (%s) assigned to %s", step.Order, step.Name, t.Assignee))
		if err := f.notifier.TaskAssigned(ctx, t.Assignee, t); err != nil {
			f.logger.Error("task assigned notification failed",
				"task_id", t.ID, "assignee", t.Assignee, "error", err)
		}
	}

	return tasks, nil
}

// dueDate applies the SLA chain: step override, then instance due date,
// then the configured default window.
func (f *TaskFactory) dueDate(inst *model.WorkflowInstance, step *model.Step, now time.Time) time.Time {
	if step.SLAHours > 0 {
		return now.Add(time.Duration(step.SLAHours) * time.Hour)
	}
	if inst.DueAt != nil {
		return *inst.DueAt
	}
	return now.Add(f.defaultSLA)
}

func (f *TaskFactory) appendHistory(ctx context.Context, instanceID, action, detail string) {
	e := &model.HistoryEntry{
		InstanceID: instanceID,
		Action:     action,
		Detail:     detail,
		Actor:      SystemActor,
		CreatedAt:  time.Now().UTC(),
	}
	if err := f.store.AppendHistory(ctx, e); err != nil {
		f.logger.Error("append history failed", "instance_id", instanceID, "action", action, "error", err)
	}
}
