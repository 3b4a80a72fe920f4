package engine

import "github.com/ravenel/docuflow/internal/model"

// Outcome is the result of evaluating the active step's tasks against its
// approval policy.
type Outcome int

const (
	// OutcomeContinue means the step is not yet decided; more task
	// completions are needed.
	OutcomeContinue Outcome = iota
	// OutcomeApproved means the step's policy is satisfied.
	OutcomeApproved
	// OutcomeRejected means the step's policy has failed.
	OutcomeRejected
)

// String returns a readable name for the outcome.
func (o Outcome) String() string {
	switch o {
	case OutcomeApproved:
		return "approved"
	case OutcomeRejected:
		return "rejected"
	default:
		return "continue"
	}
}

// Evaluate decides the outcome of a step from its generated tasks. It is a
// pure function: same inputs always yield the same outcome, so it is safe
// to re-run after an optimistic-lock retry.
//
// Pending tasks count toward the step's task total but contribute no
// approval or rejection. An empty task set always continues; a step is
// never decided on zero tasks.
func Evaluate(step *model.Step, tasks []model.Task) Outcome {
	n := len(tasks)
	if n == 0 {
		return OutcomeContinue
	}

	approvals, rejections := 0, 0
	for i := range tasks {
		if tasks[i].Status != model.TaskCompleted {
			continue
		}
		switch tasks[i].Action {
		case model.ActionApprove:
			approvals++
		case model.ActionReject:
			rejections++
		}
	}

	switch step.Policy {
	case model.PolicyUnanimous:
		if rejections > 0 {
			return OutcomeRejected
		}
		if approvals == n {
			return OutcomeApproved
		}
		return OutcomeContinue

	case model.PolicyMajority:
		need := n/2 + 1
		if approvals >= need {
			return OutcomeApproved
		}
		if rejections >= need {
			return OutcomeRejected
		}
		return OutcomeContinue

	case model.PolicyAnyOne:
		if approvals > 0 {
			return OutcomeApproved
		}
		if rejections > 0 {
			return OutcomeRejected
		}
		return OutcomeContinue

	case model.PolicyQuorum:
		required := step.RequiredApprovals
		if required <= 0 {
			required = 1
		}
		if approvals >= required {
			return OutcomeApproved
		}
		if rejections > 0 {
			return OutcomeRejected
		}
		return OutcomeContinue
	}

	// Unknown policies never decide a step.
	return OutcomeContinue
}
