package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/ravenel/docuflow/internal/model"
	"github.com/ravenel/docuflow/internal/store"
)

// Document statuses pushed through the DocumentHook at workflow
// transitions. The document service owns the actual document lifecycle;
// these are the states the engine reports into it.
const (
	DocStatusPending  = "pending_approval"
	DocStatusApproved = "approved"
	DocStatusRejected = "rejected"
	DocStatusDraft    = "draft"
)

// Audit result statuses.
const (
	AuditSuccess = "success"
	AuditFailed  = "failed"
)

// SystemActor is recorded as the completer of synthetically rejected tasks.
const SystemActor = "system"

// DocumentHook reports workflow transitions to the document service.
// Calls are best-effort: the engine logs failures and never rolls back a
// workflow transition because of them.
type DocumentHook interface {
	SetDocumentStatus(ctx context.Context, documentID, status, detail string) error
}

// Notifier delivers user-facing notifications at the engine's trigger
// points. Delivery mechanics live elsewhere; all calls are best-effort.
type Notifier interface {
	TaskAssigned(ctx context.Context, user string, task *model.Task) error
	TaskCompleted(ctx context.Context, actor string, task *model.Task, action string) error
	WorkflowApproved(ctx context.Context, initiator string, inst *model.WorkflowInstance) error
	WorkflowRejected(ctx context.Context, initiator string, inst *model.WorkflowInstance) error
	WorkflowCancelled(ctx context.Context, initiator string, inst *model.WorkflowInstance, reason string) error
}

// Auditor records engine operations in an external append-only audit trail,
// separate from the per-instance history log. Best-effort.
type Auditor interface {
	RecordAction(ctx context.Context, activity, subjectID, actor, status string) error
}

// Authorizer supplies the capability checks the engine needs. Credential
// verification happens before requests reach the engine.
type Authorizer interface {
	IsElevated(ctx context.Context, actor string) (bool, error)
	IsInitiatorOrElevated(ctx context.Context, actor string, inst *model.WorkflowInstance) (bool, error)
}

// Hooks bundles the engine's outward-facing side channels. Nil fields are
// replaced with logging no-op implementations.
type Hooks struct {
	Documents DocumentHook
	Notifier  Notifier
	Auditor   Auditor
}

func (h Hooks) withDefaults(logger *slog.Logger) Hooks {
	if h.Documents == nil {
		h.Documents = &LogDocumentHook{Logger: logger}
	}
	if h.Notifier == nil {
		h.Notifier = &LogNotifier{Logger: logger}
	}
	if h.Auditor == nil {
		h.Auditor = &LogAuditor{Logger: logger}
	}
	return h
}

// LogDocumentHook is a DocumentHook that only logs transitions.
type LogDocumentHook struct {
	Logger *slog.Logger
}

func (h *LogDocumentHook) SetDocumentStatus(_ context.Context, documentID, status, detail string) error {
	h.Logger.Info("document status", "document_id", documentID, "status", status, "detail", detail)
	return nil
}

// LogNotifier is a Notifier that only logs notifications.
type LogNotifier struct {
	Logger *slog.Logger
}

func (n *LogNotifier) TaskAssigned(_ context.Context, user string, task *model.Task) error {
	n.Logger.Info("notify task assigned", "user", user, "task_id", task.ID)
	return nil
}

func (n *LogNotifier) TaskCompleted(_ context.Context, actor string, task *model.Task, action string) error {
	n.Logger.Info("notify task completed", "actor", actor, "task_id", task.ID, "action", action)
	return nil
}

func (n *LogNotifier) WorkflowApproved(_ context.Context, initiator string, inst *model.WorkflowInstance) error {
	n.Logger.Info("notify workflow approved", "initiator", initiator, "instance_id", inst.ID)
	return nil
}

func (n *LogNotifier) WorkflowRejected(_ context.Context, initiator string, inst *model.WorkflowInstance) error {
	n.Logger.Info("notify workflow rejected", "initiator", initiator, "instance_id", inst.ID)
	return nil
}

func (n *LogNotifier) WorkflowCancelled(_ context.Context, initiator string, inst *model.WorkflowInstance, reason string) error {
	n.Logger.Info("notify workflow cancelled", "initiator", initiator, "instance_id", inst.ID, "reason", reason)
	return nil
}

// LogAuditor is an Auditor that only logs audit records.
type LogAuditor struct {
	Logger *slog.Logger
}

func (a *LogAuditor) RecordAction(_ context.Context, activity, subjectID, actor, status string) error {
	a.Logger.Info("audit", "activity", activity, "subject_id", subjectID, "actor", actor, "status", status)
	return nil
}

// DirectoryAuthorizer implements Authorizer from directory roles: elevated
// means holding the manager or admin role.
type DirectoryAuthorizer struct {
	Store store.Store
}

func (a *DirectoryAuthorizer) IsElevated(ctx context.Context, actor string) (bool, error) {
	u, err := a.Store.GetUser(ctx, actor)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if !u.Eligible() {
		return false, nil
	}
	return u.HasRole(model.RoleManager) || u.HasRole(model.RoleAdmin), nil
}

func (a *DirectoryAuthorizer) IsInitiatorOrElevated(ctx context.Context, actor string, inst *model.WorkflowInstance) (bool, error) {
	if actor == inst.Initiator {
		return true, nil
	}
	return a.IsElevated(ctx, actor)
}
