package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ravenel/docuflow/internal/model"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func makeTestTemplate() *model.WorkflowTemplate {
	return &model.WorkflowTemplate{
		ID:              model.NewID(),
		Name:            "contract review",
		Description:     "two-stage contract approval",
		IsActive:        true,
		DefaultSLAHours: 72,
		Steps: []model.Step{
			{Order: 1, Name: "legal", Kind: model.StepKindApproval, Policy: model.PolicyUnanimous, RequiredRoles: []string{"legal"}},
			{Order: 2, Name: "management", Kind: model.StepKindApproval, Policy: model.PolicyQuorum, RequiredApprovals: 2, SLAHours: 24},
		},
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}
}

func makeTestInstance(templateID string) *model.WorkflowInstance {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.WorkflowInstance{
		ID:          model.NewID(),
		TemplateID:  templateID,
		DocumentID:  model.NewID(),
		Initiator:   "alice",
		Title:       "Q3 vendor contract",
		Priority:    model.PriorityNormal,
		Status:      model.StatusInProgress,
		CurrentStep: 1,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
		StartedAt:   &now,
	}
}

func makeTestTask(instanceID string, stepOrder int, assignee string) model.Task {
	now := time.Now().UTC().Truncate(time.Second)
	return model.Task{
		ID:         model.NewID(),
		InstanceID: instanceID,
		StepOrder:  stepOrder,
		Assignee:   assignee,
		Status:     model.TaskPending,
		CreatedAt:  now,
		DueAt:      now.Add(48 * time.Hour),
	}
}

func TestCreateAndGetTemplate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tpl := makeTestTemplate()

	if err := s.CreateTemplate(ctx, tpl); err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}

	got, err := s.GetTemplate(ctx, tpl.ID)
	if err != nil {
		t.Fatalf("GetTemplate: %v", err)
	}
	if got.Name != tpl.Name {
		t.Errorf("Name = %q, want %q", got.Name, tpl.Name)
	}
	if !got.IsActive {
		t.Error("IsActive = false, want true")
	}
	if got.DefaultSLAHours != 72 {
		t.Errorf("DefaultSLAHours = %d, want 72", got.DefaultSLAHours)
	}
	if len(got.Steps) != 2 {
		t.Fatalf("len(Steps) = %d, want 2", len(got.Steps))
	}
	if got.Steps[1].RequiredApprovals != 2 {
		t.Errorf("Steps[1].RequiredApprovals = %d, want 2", got.Steps[1].RequiredApprovals)
	}
	if got.Steps[0].RequiredRoles[0] != "legal" {
		t.Errorf("Steps[0].RequiredRoles = %v, want [legal]", got.Steps[0].RequiredRoles)
	}
}

func TestGetTemplateNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetTemplate(context.Background(), "missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("GetTemplate = %v, want ErrNotFound", err)
	}
}

func TestSetTemplateActive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	tpl := makeTestTemplate()
	if err := s.CreateTemplate(ctx, tpl); err != nil {
		t.Fatalf("CreateTemplate: %v", err)
	}

	if err := s.SetTemplateActive(ctx, tpl.ID, false); err != nil {
		t.Fatalf("SetTemplateActive: %v", err)
	}
	got, err := s.GetTemplate(ctx, tpl.ID)
	if err != nil {
		t.Fatalf("GetTemplate: %v", err)
	}
	if got.IsActive {
		t.Error("IsActive = true after deactivation")
	}

	if err := s.SetTemplateActive(ctx, "missing", true); !errors.Is(err, ErrNotFound) {
		t.Errorf("SetTemplateActive(missing) = %v, want ErrNotFound", err)
	}
}

func TestCreateAndGetInstance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	inst := makeTestInstance("tpl-1")

	if err := s.CreateInstance(ctx, inst); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	got, err := s.GetInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if got.Status != model.StatusInProgress {
		t.Errorf("Status = %q, want %q", got.Status, model.StatusInProgress)
	}
	if got.CurrentStep != 1 {
		t.Errorf("CurrentStep = %d, want 1", got.CurrentStep)
	}
	if got.Version != 1 {
		t.Errorf("Version = %d, want 1", got.Version)
	}
	if got.StartedAt == nil {
		t.Error("StartedAt = nil")
	}
	if got.EndedAt != nil {
		t.Error("EndedAt set on fresh instance")
	}
}

func TestUpdateInstanceIncrementsVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	inst := makeTestInstance("tpl-1")
	if err := s.CreateInstance(ctx, inst); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	inst.CurrentStep = 2
	inst.UpdatedAt = time.Now().UTC()
	if err := s.UpdateInstance(ctx, inst); err != nil {
		t.Fatalf("UpdateInstance: %v", err)
	}
	if inst.Version != 2 {
		t.Errorf("in-memory Version = %d, want 2", inst.Version)
	}

	got, err := s.GetInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if got.Version != 2 {
		t.Errorf("stored Version = %d, want 2", got.Version)
	}
	if got.CurrentStep != 2 {
		t.Errorf("CurrentStep = %d, want 2", got.CurrentStep)
	}
}

func TestUpdateInstanceStaleVersion(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	inst := makeTestInstance("tpl-1")
	if err := s.CreateInstance(ctx, inst); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	// A second loaded copy writes first.
	other, err := s.GetInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	other.CurrentStep = 2
	if err := s.UpdateInstance(ctx, other); err != nil {
		t.Fatalf("UpdateInstance(other): %v", err)
	}

	inst.Status = model.StatusCancelled
	err = s.UpdateInstance(ctx, inst)
	if !errors.Is(err, ErrVersionConflict) {
		t.Fatalf("UpdateInstance(stale) = %v, want ErrVersionConflict", err)
	}

	// The losing write must not have been applied.
	got, err := s.GetInstance(ctx, inst.ID)
	if err != nil {
		t.Fatalf("GetInstance: %v", err)
	}
	if got.Status != model.StatusInProgress {
		t.Errorf("Status = %q after lost race, want %q", got.Status, model.StatusInProgress)
	}
}

func TestUpdateInstanceNotFound(t *testing.T) {
	s := newTestStore(t)
	inst := makeTestInstance("tpl-1")
	if err := s.UpdateInstance(context.Background(), inst); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateInstance = %v, want ErrNotFound", err)
	}
}

func TestDeleteInstance(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	inst := makeTestInstance("tpl-1")
	if err := s.CreateInstance(ctx, inst); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	if err := s.DeleteInstance(ctx, inst.ID); err != nil {
		t.Fatalf("DeleteInstance: %v", err)
	}
	if _, err := s.GetInstance(ctx, inst.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetInstance after delete = %v, want ErrNotFound", err)
	}
}

func TestCreateTasksAndQueries(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	instID := model.NewID()

	tasks := []model.Task{
		makeTestTask(instID, 1, "alice"),
		makeTestTask(instID, 1, "bob"),
		makeTestTask(instID, 2, "carol"),
	}
	if err := s.CreateTasks(ctx, tasks); err != nil {
		t.Fatalf("CreateTasks: %v", err)
	}

	step1, err := s.TasksForStep(ctx, instID, 1)
	if err != nil {
		t.Fatalf("TasksForStep: %v", err)
	}
	if len(step1) != 2 {
		t.Errorf("len(TasksForStep 1) = %d, want 2", len(step1))
	}

	all, err := s.TasksByInstance(ctx, instID)
	if err != nil {
		t.Fatalf("TasksByInstance: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("len(TasksByInstance) = %d, want 3", len(all))
	}

	got, err := s.GetTask(ctx, tasks[0].ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Assignee != "alice" {
		t.Errorf("Assignee = %q, want alice", got.Assignee)
	}
	if got.Status != model.TaskPending {
		t.Errorf("Status = %q, want pending", got.Status)
	}
}

func TestCreateTasksEmptyIsNoop(t *testing.T) {
	s := newTestStore(t)
	if err := s.CreateTasks(context.Background(), nil); err != nil {
		t.Fatalf("CreateTasks(nil): %v", err)
	}
}

func TestCompleteTaskClaimsExactlyOnce(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	task := makeTestTask(model.NewID(), 1, "alice")
	if err := s.CreateTasks(ctx, []model.Task{task}); err != nil {
		t.Fatalf("CreateTasks: %v", err)
	}

	now := time.Now().UTC().Truncate(time.Second)
	if err := s.CompleteTask(ctx, task.ID, model.ActionApprove, "looks good", "alice", now); err != nil {
		t.Fatalf("CompleteTask: %v", err)
	}

	got, err := s.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Status != model.TaskCompleted {
		t.Errorf("Status = %q, want completed", got.Status)
	}
	if got.Action != model.ActionApprove {
		t.Errorf("Action = %q, want approve", got.Action)
	}
	if got.CompletedBy != "alice" {
		t.Errorf("CompletedBy = %q, want alice", got.CompletedBy)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt = nil")
	}

	err = s.CompleteTask(ctx, task.ID, model.ActionReject, "", "bob", now)
	if !errors.Is(err, ErrTaskNotPending) {
		t.Errorf("second CompleteTask = %v, want ErrTaskNotPending", err)
	}

	// The second write must not have altered the completion tuple.
	got, err = s.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Action != model.ActionApprove || got.CompletedBy != "alice" {
		t.Errorf("completion tuple mutated: action=%q by=%q", got.Action, got.CompletedBy)
	}
}

func TestCompleteTaskNotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.CompleteTask(context.Background(), "missing", model.ActionApprove, "", "alice", time.Now().UTC())
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("CompleteTask = %v, want ErrNotFound", err)
	}
}

func TestHistoryAppendOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	instID := model.NewID()

	actions := []string{"workflow_started", "task_created", "task_completed"}
	for _, a := range actions {
		e := &model.HistoryEntry{
			InstanceID: instID,
			Action:     a,
			Actor:      "alice",
			CreatedAt:  time.Now().UTC(),
		}
		if err := s.AppendHistory(ctx, e); err != nil {
			t.Fatalf("AppendHistory(%s): %v", a, err)
		}
		if e.ID == 0 {
			t.Errorf("AppendHistory(%s) did not assign an id", a)
		}
	}

	got, err := s.HistoryByInstance(ctx, instID)
	if err != nil {
		t.Fatalf("HistoryByInstance: %v", err)
	}
	if len(got) != len(actions) {
		t.Fatalf("len(history) = %d, want %d", len(got), len(actions))
	}
	for i, a := range actions {
		if got[i].Action != a {
			t.Errorf("history[%d].Action = %q, want %q", i, got[i].Action, a)
		}
	}
}

func TestUsersByRole(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	users := []model.User{
		{Username: "alice", Active: true, Enabled: true, Roles: []string{"reviewer"}},
		{Username: "bob", Active: true, Enabled: true, Roles: []string{"reviewer", "legal"}},
		{Username: "carol", Active: false, Enabled: true, Roles: []string{"reviewer"}},
	}
	for i := range users {
		if err := s.CreateUser(ctx, &users[i]); err != nil {
			t.Fatalf("CreateUser: %v", err)
		}
	}

	got, err := s.UsersByRole(ctx, "reviewer")
	if err != nil {
		t.Fatalf("UsersByRole: %v", err)
	}
	// Role lookup does not filter eligibility; that is the resolver's job.
	if len(got) != 3 {
		t.Fatalf("len(UsersByRole) = %d, want 3", len(got))
	}
	if got[0].Username != "alice" || got[1].Username != "bob" || got[2].Username != "carol" {
		t.Errorf("UsersByRole order = %v", got)
	}

	legal, err := s.UsersByRole(ctx, "legal")
	if err != nil {
		t.Fatalf("UsersByRole(legal): %v", err)
	}
	if len(legal) != 1 || legal[0].Username != "bob" {
		t.Errorf("UsersByRole(legal) = %v, want [bob]", legal)
	}

	if _, err := s.GetUser(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetUser(missing) = %v, want ErrNotFound", err)
	}
}
