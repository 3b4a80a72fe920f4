package model

import "time"

// Workflow instance status constants.
const (
	StatusInProgress = "in_progress"
	StatusApproved   = "approved"
	StatusRejected   = "rejected"
	StatusCancelled  = "cancelled"
)

// Task status constants.
const (
	TaskPending   = "pending"
	TaskCompleted = "completed"
)

// Task action constants. A pending task carries no action.
const (
	ActionApprove = "approve"
	ActionReject  = "reject"
)

// Step kind constants.
const (
	StepKindApproval = "approval"
	StepKindTask     = "task"
)

// Approval policy constants.
const (
	PolicyUnanimous = "unanimous"
	PolicyMajority  = "majority"
	PolicyAnyOne    = "any_one"
	PolicyQuorum    = "quorum"
)

// Directory role names with engine-level meaning.
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
)

// Instance priority constants.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
)

// validTransitions maps each instance status to the set of statuses it may
// transition to. All statuses other than in_progress are terminal.
var validTransitions = map[string]map[string]bool{
	StatusInProgress: {
		StatusApproved:  true,
		StatusRejected:  true,
		StatusCancelled: true,
	},
}

// ValidTransition reports whether an instance status transition is allowed.
func ValidTransition(from, to string) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// TerminalStatus reports whether a status admits no further transitions.
func TerminalStatus(status string) bool {
	return len(validTransitions[status]) == 0
}

// ValidPolicy reports whether the given approval policy name is known.
func ValidPolicy(policy string) bool {
	switch policy {
	case PolicyUnanimous, PolicyMajority, PolicyAnyOne, PolicyQuorum:
		return true
	}
	return false
}

// ValidStepKind reports whether the given step kind is known.
func ValidStepKind(kind string) bool {
	return kind == StepKindApproval || kind == StepKindTask
}

// Step is one ordered stage of a workflow template. Order is 1-based and
// unique within its template.
type Step struct {
	Order             int      `json:"order"`
	Name              string   `json:"name"`
	Kind              string   `json:"kind"`
	Policy            string   `json:"policy"`
	RequiredApprovals int      `json:"required_approvals,omitempty"`
	Approvers         []string `json:"approvers,omitempty"`
	RequiredRoles     []string `json:"required_roles,omitempty"`
	SLAHours          int      `json:"sla_hours,omitempty"`
}

// WorkflowTemplate is an ordered sequence of step definitions. Steps are
// immutable once a live instance references the template; only IsActive may
// toggle.
type WorkflowTemplate struct {
	ID              string    `json:"id"`
	Name            string    `json:"name"`
	Description     string    `json:"description,omitempty"`
	IsActive        bool      `json:"is_active"`
	DefaultSLAHours int       `json:"default_sla_hours,omitempty"`
	Steps           []Step    `json:"steps"`
	CreatedAt       time.Time `json:"created_at"`
}

// LastStep returns the highest step order, or 0 for an empty template.
func (t *WorkflowTemplate) LastStep() int {
	last := 0
	for _, s := range t.Steps {
		if s.Order > last {
			last = s.Order
		}
	}
	return last
}

// StepAt returns the step with the given order, or nil.
func (t *WorkflowTemplate) StepAt(order int) *Step {
	for i := range t.Steps {
		if t.Steps[i].Order == order {
			return &t.Steps[i]
		}
	}
	return nil
}

// WorkflowInstance is one execution of a template against a document.
// Version is the optimistic-lock counter; every persisted mutation of the
// instance increments it, and stale writes are rejected by the store.
type WorkflowInstance struct {
	ID          string     `json:"id"`
	TemplateID  string     `json:"template_id"`
	DocumentID  string     `json:"document_id"`
	Initiator   string     `json:"initiator"`
	Title       string     `json:"title,omitempty"`
	Description string     `json:"description,omitempty"`
	Priority    string     `json:"priority"`
	Status      string     `json:"status"`
	CurrentStep int        `json:"current_step"`
	Version     int64      `json:"version"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
	DueAt       *time.Time `json:"due_at,omitempty"`
}

// Task is one per-approver unit of work generated for the active step of a
// running instance. It references its instance by id; the engine fetches
// task sets by instance-id query rather than graph traversal.
type Task struct {
	ID          string     `json:"id"`
	InstanceID  string     `json:"instance_id"`
	StepOrder   int        `json:"step_order"`
	Assignee    string     `json:"assignee"`
	Status      string     `json:"status"`
	Action      string     `json:"action,omitempty"`
	Comments    string     `json:"comments,omitempty"`
	CompletedBy string     `json:"completed_by,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	DueAt       time.Time  `json:"due_at"`
}

// HistoryEntry is one append-only action log record for an instance.
type HistoryEntry struct {
	ID         int64     `json:"id"`
	InstanceID string    `json:"instance_id"`
	Action     string    `json:"action"`
	Detail     string    `json:"detail,omitempty"`
	Actor      string    `json:"actor"`
	CreatedAt  time.Time `json:"created_at"`
}

// User is a directory record consumed by approver resolution. Credential
// management lives outside the engine; this carries eligibility only.
type User struct {
	Username    string   `json:"username"`
	DisplayName string   `json:"display_name,omitempty"`
	Active      bool     `json:"active"`
	Enabled     bool     `json:"enabled"`
	Roles       []string `json:"roles,omitempty"`
}

// Eligible reports whether the user may be assigned approval tasks.
func (u *User) Eligible() bool {
	return u.Active && u.Enabled
}

// HasRole reports whether the user holds the named role.
func (u *User) HasRole(role string) bool {
	for _, r := range u.Roles {
		if r == role {
			return true
		}
	}
	return false
}
