package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ravenel/docuflow/internal/model"
	"github.com/ravenel/docuflow/internal/store"
)

// History action codes recorded in the per-instance log.
const (
	historyWorkflowStarted   = "workflow_started"
	historyTaskCreated       = "task_created"
	historyTaskCompleted     = "task_completed"
	historyStepAdvanced      = "step_advanced"
	historyWorkflowApproved  = "workflow_approved"
	historyWorkflowRejected  = "workflow_rejected"
	historyWorkflowCancelled = "workflow_cancelled"
)

// Audit trail activity codes.
const (
	activityStartWorkflow  = "workflow.start"
	activityCompleteTask   = "workflow.complete_task"
	activityCancelWorkflow = "workflow.cancel"
)

// Auto-rejection reasons recorded on synthetically completed tasks.
const (
	reasonStepRejected      = "step rejected"
	reasonQuorumReached     = "quorum reached"
	reasonWorkflowCancelled = "workflow cancelled"
)

// StartRequest carries the parameters for starting a workflow instance.
type StartRequest struct {
	TemplateID  string
	DocumentID  string
	Initiator   string
	Title       string
	Description string
	Priority    string
}

// ProgressionResult describes the state of an instance after a task
// completion has been absorbed.
type ProgressionResult struct {
	InstanceID  string `json:"instance_id"`
	Status      string `json:"status"`
	CurrentStep int    `json:"current_step"`
	Completed   bool   `json:"completed"`
}

// Options tunes engine behavior. Zero values take defaults.
type Options struct {
	Retry          RetryPolicy
	DefaultTaskSLA time.Duration
}

// Engine is the approval workflow state machine. All operations are
// synchronous: each call runs to completion or failure within the caller's
// request. Concurrent callers racing on the same instance are serialized
// by optimistic version checks with bounded retry; side-effect hooks are
// best-effort and never fail an operation.
type Engine struct {
	store    store.Store
	resolver *ApproverResolver
	factory  *TaskFactory
	authz    Authorizer
	hooks    Hooks
	logger   *slog.Logger
	retry    RetryPolicy
}

// NewEngine creates a workflow engine. Nil hook fields get logging no-op
// implementations.
func NewEngine(s store.Store, authz Authorizer, hooks Hooks, logger *slog.Logger, opts Options) *Engine {
	hooks = hooks.withDefaults(logger)
	return &Engine{
		store:    s,
		resolver: NewApproverResolver(s),
		factory:  NewTaskFactory(s, hooks.Notifier, logger, opts.DefaultTaskSLA),
		authz:    authz,
		hooks:    hooks,
		logger:   logger,
		retry:    opts.Retry.withDefaults(),
	}
}

// Start creates a workflow instance at step 1 of an active template and
// generates the step's tasks. Creation is all-or-nothing: if no eligible
// approver exists for step 1, the instance row is rolled back and the
// operation fails with UNPROCESSABLE_STEP.
func (e *Engine) Start(ctx context.Context, req StartRequest) (*model.WorkflowInstance, error) {
	tpl, err := e.store.GetTemplate(ctx, req.TemplateID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, model.NewNotFoundError("workflow template %s not found", req.TemplateID)
	}
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}
	if !tpl.IsActive {
		return nil, model.NewTemplateInactiveError(tpl.ID)
	}

	firstStep := tpl.StepAt(1)
	if firstStep == nil {
		return nil, &model.Error{
			Code:    model.CodeUnprocessableStep,
			Message: fmt.Sprintf("workflow template %s has no step 1", tpl.ID),
		}
	}

	now := time.Now().UTC()
	priority := req.Priority
	if priority == "" {
		priority = model.PriorityNormal
	}

	inst := &model.WorkflowInstance{
		ID:          model.NewID(),
		TemplateID:  tpl.ID,
		DocumentID:  req.DocumentID,
		Initiator:   req.Initiator,
		Title:       req.Title,
		Description: req.Description,
		Priority:    priority,
		Status:      model.StatusInProgress,
		CurrentStep: 1,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
		StartedAt:   &now,
	}
	if tpl.DefaultSLAHours > 0 {
		due := now.Add(time.Duration(tpl.DefaultSLAHours) * time.Hour)
		inst.DueAt = &due
	}

	if err := e.store.CreateInstance(ctx, inst); err != nil {
		return nil, fmt.Errorf("persist instance: %w", err)
	}

	if err := e.stageStep(ctx, inst, firstStep); err != nil {
		// Roll back so no tasks-less instance remains visible.
		if delErr := e.store.DeleteInstance(ctx, inst.ID); delErr != nil {
			e.logger.Error("rollback of failed workflow start failed",
				"instance_id", inst.ID, "error", delErr)
		}
		e.audit(ctx, activityStartWorkflow, inst.ID, req.Initiator, AuditFailed)
		return nil, err
	}

	e.appendHistory(ctx, inst.ID, historyWorkflowStarted,
		fmt.Sprintf("workflow %s started for document %s", tpl.Name, req.DocumentID), req.Initiator)
	e.setDocumentStatus(ctx, inst.DocumentID, DocStatusPending,
		fmt.Sprintf("approval workflow %s started", inst.ID))
	e.audit(ctx, activityStartWorkflow, inst.ID, req.Initiator, AuditSuccess)
	workflowsStarted.Inc()

	e.logger.Info("workflow started",
		"instance_id", inst.ID, "template_id", tpl.ID, "document_id", req.DocumentID)
	return inst, nil
}

// CompleteTask records an approver's decision on a task and progresses the
// instance. The task claim is a per-task conditional write; only the
// re-evaluation and advance afterwards contends on the instance version,
// and only that part is retried on conflict.
func (e *Engine) CompleteTask(ctx context.Context, taskID, action, comments, actor string) (*ProgressionResult, error) {
	if action != model.ActionApprove && action != model.ActionReject {
		return nil, model.NewInvalidArgumentError("unknown task action %q", action)
	}

	task, err := e.store.GetTask(ctx, taskID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, model.NewNotFoundError("task %s not found", taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("load task: %w", err)
	}

	inst, err := e.store.GetInstance(ctx, task.InstanceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, model.NewNotFoundError("workflow instance %s not found", task.InstanceID)
	}
	if err != nil {
		return nil, fmt.Errorf("load instance: %w", err)
	}

	if actor != task.Assignee {
		elevated, err := e.authz.IsElevated(ctx, actor)
		if err != nil {
			return nil, fmt.Errorf("authorize actor: %w", err)
		}
		if !elevated {
			return nil, model.NewForbiddenError("%s may not act on task %s", actor, taskID)
		}
	}

	if model.TerminalStatus(inst.Status) {
		return nil, model.NewConflictError("workflow %s is already %s", inst.ID, inst.Status)
	}
	if task.Status != model.TaskPending {
		return nil, model.NewConflictError("task %s is already completed", taskID)
	}

	now := time.Now().UTC()
	err = e.store.CompleteTask(ctx, taskID, action, comments, actor, now)
	if errors.Is(err, store.ErrTaskNotPending) {
		return nil, model.NewConflictError("task %s is already completed", taskID)
	}
	if errors.Is(err, store.ErrNotFound) {
		return nil, model.NewNotFoundError("task %s not found", taskID)
	}
	if err != nil {
		return nil, fmt.Errorf("complete task: %w", err)
	}

	task.Status = model.TaskCompleted
	task.Action = action
	task.Comments = comments
	task.CompletedBy = actor
	task.CompletedAt = &now

	tasksCompleted.WithLabelValues(action).Inc()
	e.appendHistory(ctx, inst.ID, historyTaskCompleted,
		fmt.Sprintf("task for step %d completed by %s (%s)", task.StepOrder, actor, action), actor)
	if err := e.hooks.Notifier.TaskCompleted(ctx, actor, task, action); err != nil {
		e.logger.Error("task completed notification failed", "task_id", taskID, "error", err)
	}

	var result *ProgressionResult
	err = e.retry.Do(ctx, func(ctx context.Context) error {
		r, err := e.progress(ctx, task.InstanceID, actor)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			e.audit(ctx, activityCompleteTask, task.InstanceID, actor, AuditFailed)
		}
		return nil, err
	}

	e.audit(ctx, activityCompleteTask, task.InstanceID, actor, AuditSuccess)
	return result, nil
}

// progress re-evaluates the active step from a fresh read and applies the
// outcome. It carries no state between retries; a lost version race is
// absorbed by re-reading, so a transition another caller already applied is
// observed rather than repeated.
func (e *Engine) progress(ctx context.Context, instanceID, actor string) (*ProgressionResult, error) {
	inst, err := e.store.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, fmt.Errorf("load instance: %w", err)
	}
	if model.TerminalStatus(inst.Status) {
		return resultFor(inst), nil
	}

	tpl, err := e.store.GetTemplate(ctx, inst.TemplateID)
	if err != nil {
		return nil, fmt.Errorf("load template: %w", err)
	}
	step := tpl.StepAt(inst.CurrentStep)
	if step == nil {
		return nil, fmt.Errorf("template %s has no step %d", tpl.ID, inst.CurrentStep)
	}

	tasks, err := e.store.TasksForStep(ctx, inst.ID, inst.CurrentStep)
	if err != nil {
		return nil, fmt.Errorf("load step tasks: %w", err)
	}

	switch Evaluate(step, tasks) {
	case OutcomeRejected:
		return e.finalize(ctx, inst, model.StatusRejected, tasks, reasonStepRejected, actor)

	case OutcomeApproved:
		if inst.CurrentStep >= tpl.LastStep() {
			return e.finalize(ctx, inst, model.StatusApproved, tasks, reasonQuorumReached, actor)
		}
		return e.advance(ctx, inst, tpl, tasks, actor)

	default:
		return resultFor(inst), nil
	}
}

// finalize applies a terminal transition. The instance CAS write happens
// first; losing it means another caller owns the transition and the retry
// loop re-reads. Remaining pending tasks are auto-rejected only after the
// transition is won.
func (e *Engine) finalize(ctx context.Context, inst *model.WorkflowInstance, status string, stepTasks []model.Task, reason, actor string) (*ProgressionResult, error) {
	now := time.Now().UTC()
	inst.Status = status
	inst.UpdatedAt = now
	inst.EndedAt = &now
	if err := e.store.UpdateInstance(ctx, inst); err != nil {
		return nil, err
	}

	e.autoRejectPending(ctx, stepTasks, reason)
	workflowsFinalized.WithLabelValues(status).Inc()

	switch status {
	case model.StatusApproved:
		e.appendHistory(ctx, inst.ID, historyWorkflowApproved,
			fmt.Sprintf("workflow approved at step %d", inst.CurrentStep), actor)
		e.setDocumentStatus(ctx, inst.DocumentID, DocStatusApproved,
			fmt.Sprintf("approved by %s at %s", actor, now.Format(time.RFC3339)))
		if err := e.hooks.Notifier.WorkflowApproved(ctx, inst.Initiator, inst); err != nil {
			e.logger.Error("workflow approved notification failed", "instance_id", inst.ID, "error", err)
		}
	case model.StatusRejected:
		e.appendHistory(ctx, inst.ID, historyWorkflowRejected,
			fmt.Sprintf("workflow rejected at step %d", inst.CurrentStep), actor)
		e.setDocumentStatus(ctx, inst.DocumentID, DocStatusRejected,
			fmt.Sprintf("rejected at step %d by %s", inst.CurrentStep, actor))
		if err := e.hooks.Notifier.WorkflowRejected(ctx, inst.Initiator, inst); err != nil {
			e.logger.Error("workflow rejected notification failed", "instance_id", inst.ID, "error", err)
		}
	}

	e.logger.Info("workflow finalized", "instance_id", inst.ID, "status", status)
	return resultFor(inst), nil
}

// advance moves the instance to the next step and generates its tasks.
// Approvers for the next step are resolved before the instance write so an
// unstaffable step fails the operation without a partial advance, and a
// failed task insert reverts the step counter so the instance is never left
// on a step with zero tasks. The previous step's pending tasks are
// auto-rejected only once the new step is fully staged.
func (e *Engine) advance(ctx context.Context, inst *model.WorkflowInstance, tpl *model.WorkflowTemplate, stepTasks []model.Task, actor string) (*ProgressionResult, error) {
	prev := inst.CurrentStep
	next := prev + 1
	nextStep := tpl.StepAt(next)
	if nextStep == nil {
		return nil, fmt.Errorf("template %s has no step %d", tpl.ID, next)
	}

	approvers, err := e.resolver.Resolve(ctx, nextStep)
	if err != nil {
		return nil, fmt.Errorf("resolve approvers for step %d: %w", next, err)
	}
	if len(approvers) == 0 {
		return nil, model.NewUnprocessableStepError(inst.ID, next)
	}

	inst.CurrentStep = next
	inst.UpdatedAt = time.Now().UTC()
	if err := e.store.UpdateInstance(ctx, inst); err != nil {
		return nil, err
	}

	if _, err := e.factory.Generate(ctx, inst, nextStep, approvers); err != nil {
		inst.CurrentStep = prev
		inst.UpdatedAt = time.Now().UTC()
		if revertErr := e.store.UpdateInstance(ctx, inst); revertErr != nil {
			e.logger.Error("revert of failed step advance failed",
				"instance_id", inst.ID, "step", next, "error", revertErr)
		}
		return nil, err
	}

	e.autoRejectPending(ctx, stepTasks, reasonQuorumReached)
	e.appendHistory(ctx, inst.ID, historyStepAdvanced,
		fmt.Sprintf("advanced to step %d (%s)", next, nextStep.Name), actor)

	e.logger.Info("workflow advanced", "instance_id", inst.ID, "step", next)
	return resultFor(inst), nil
}

// Cancel terminates a running workflow as a business action. Cancelling an
// already-cancelled instance is an idempotent no-op; a decided instance
// cannot be cancelled.
func (e *Engine) Cancel(ctx context.Context, instanceID, reason, actor string) (*model.WorkflowInstance, error) {
	var out *model.WorkflowInstance
	err := e.retry.Do(ctx, func(ctx context.Context) error {
		inst, err := e.store.GetInstance(ctx, instanceID)
		if errors.Is(err, store.ErrNotFound) {
			return model.NewNotFoundError("workflow instance %s not found", instanceID)
		}
		if err != nil {
			return fmt.Errorf("load instance: %w", err)
		}

		allowed, err := e.authz.IsInitiatorOrElevated(ctx, actor, inst)
		if err != nil {
			return fmt.Errorf("authorize actor: %w", err)
		}
		if !allowed {
			return model.NewForbiddenError("%s may not cancel workflow %s", actor, instanceID)
		}

		switch inst.Status {
		case model.StatusApproved, model.StatusRejected:
			return model.NewConflictError("workflow %s is already %s", instanceID, inst.Status)
		case model.StatusCancelled:
			out = inst
			return nil
		}

		now := time.Now().UTC()
		inst.Status = model.StatusCancelled
		inst.UpdatedAt = now
		inst.EndedAt = &now
		if err := e.store.UpdateInstance(ctx, inst); err != nil {
			return err
		}

		tasks, err := e.store.TasksByInstance(ctx, inst.ID)
		if err != nil {
			e.logger.Error("load tasks for cancellation failed", "instance_id", inst.ID, "error", err)
		} else {
			e.autoRejectPending(ctx, tasks, reasonWorkflowCancelled)
		}

		e.appendHistory(ctx, inst.ID, historyWorkflowCancelled, reason, actor)
		e.setDocumentStatus(ctx, inst.DocumentID, DocStatusDraft,
			fmt.Sprintf("workflow cancelled: %s", reason))
		e.audit(ctx, activityCancelWorkflow, inst.ID, actor, AuditSuccess)
		workflowsFinalized.WithLabelValues(model.StatusCancelled).Inc()

		if actor != inst.Initiator {
			if err := e.hooks.Notifier.WorkflowCancelled(ctx, inst.Initiator, inst, reason); err != nil {
				e.logger.Error("workflow cancelled notification failed", "instance_id", inst.ID, "error", err)
			}
		}

		e.logger.Info("workflow cancelled", "instance_id", inst.ID, "actor", actor)
		out = inst
		return nil
	})
	if err != nil {
		if errors.Is(err, store.ErrVersionConflict) {
			e.audit(ctx, activityCancelWorkflow, instanceID, actor, AuditFailed)
		}
		return nil, err
	}
	return out, nil
}

// stageStep resolves approvers and generates tasks for a step that just
// became active. An empty approver set is fatal; a step is never silently
// skipped.
func (e *Engine) stageStep(ctx context.Context, inst *model.WorkflowInstance, step *model.Step) error {
	approvers, err := e.resolver.Resolve(ctx, step)
	if err != nil {
		return fmt.Errorf("resolve approvers for step %d: %w", step.Order, err)
	}
	if len(approvers) == 0 {
		return model.NewUnprocessableStepError(inst.ID, step.Order)
	}
	_, err = e.factory.Generate(ctx, inst, step, approvers)
	return err
}

// autoRejectPending force-completes still-pending tasks with a synthetic
// rejection. The conditional claim makes this a no-op for tasks an approver
// completed in the meantime; failures are logged, the owning transition has
// already been applied.
func (e *Engine) autoRejectPending(ctx context.Context, tasks []model.Task, reason string) {
	now := time.Now().UTC()
	for i := range tasks {
		t := &tasks[i]
		if t.Status != model.TaskPending {
			continue
		}
		err := e.store.CompleteTask(ctx, t.ID, model.ActionReject, reason, SystemActor, now)
		if err != nil && !errors.Is(err, store.ErrTaskNotPending) {
			e.logger.Error("auto-reject task failed", "task_id", t.ID, "error", err)
		}
	}
}

func (e *Engine) appendHistory(ctx context.Context, instanceID, action, detail, actor string) {
	entry := &model.HistoryEntry{
		InstanceID: instanceID,
		Action:     action,
		Detail:     detail,
		Actor:      actor,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.store.AppendHistory(ctx, entry); err != nil {
		e.logger.Error("append history failed", "instance_id", instanceID, "action", action, "error", err)
	}
}

func (e *Engine) setDocumentStatus(ctx context.Context, documentID, status, detail string) {
	if err := e.hooks.Documents.SetDocumentStatus(ctx, documentID, status, detail); err != nil {
		e.logger.Error("document status hook failed",
			"document_id", documentID, "status", status, "error", err)
	}
}

func (e *Engine) audit(ctx context.Context, activity, subjectID, actor, status string) {
	if err := e.hooks.Auditor.RecordAction(ctx, activity, subjectID, actor, status); err != nil {
		e.logger.Error("audit hook failed", "activity", activity, "subject_id", subjectID, "error", err)
	}
}

func resultFor(inst *model.WorkflowInstance) *ProgressionResult {
	return &ProgressionResult{
		InstanceID:  inst.ID,
		Status:      inst.Status,
		CurrentStep: inst.CurrentStep,
		Completed:   model.TerminalStatus(inst.Status),
	}
}
