package tasks

import "fmt"

// Status is a task's position in the status machine.
type Status string

const (
	StatusTodo        Status = "todo"
	StatusInProgress  Status = "in_progress"
	StatusInReview    Status = "in_review"
	StatusInApproval  Status = "in_approval"
	StatusMerging     Status = "merging"
	StatusDone        Status = "done"
	StatusRejected    Status = "rejected"
	StatusCancelled   Status = "cancelled"
	StatusMergeFailed Status = "merge_failed"
	StatusError       Status = "error"
)

// Workflow supplies per-team transition rules, overriding the built-in
// machine. A task's workflow/workflow_version columns name which one
// applies; when a task has neither, defaultTransitions governs it.
// internal/workflow implements this interface against its stage map.
type Workflow interface {
	AllowedTransitions(from Status) []Status
	IsTerminal(status Status) bool
}

// defaultTransitions is the built-in machine used when a task has no
// workflow assigned.
var defaultTransitions = map[Status][]Status{
	StatusTodo:        {StatusInProgress, StatusCancelled},
	StatusInProgress:  {StatusInReview, StatusCancelled, StatusError},
	StatusInReview:    {StatusInApproval, StatusRejected, StatusCancelled},
	StatusInApproval:  {StatusMerging, StatusRejected, StatusCancelled},
	StatusMerging:     {StatusDone, StatusMergeFailed},
	StatusMergeFailed: {StatusMerging, StatusCancelled},
	StatusRejected:    {StatusInProgress, StatusCancelled},
	StatusError:       {StatusInProgress, StatusCancelled},
	StatusDone:        {},
	StatusCancelled:   {},
}

func defaultIsTerminal(s Status) bool {
	return s == StatusDone || s == StatusCancelled
}

// validateTransition checks from -> to against wf if non-nil, else the
// built-in machine.
func validateTransition(wf Workflow, from, to Status) error {
	var allowed []Status
	var terminal bool
	if wf != nil {
		allowed = wf.AllowedTransitions(from)
		terminal = wf.IsTerminal(from)
	} else {
		allowed = defaultTransitions[from]
		terminal = defaultIsTerminal(from)
	}

	if terminal {
		return fmt.Errorf("%w: %s is a terminal status", ErrInvalidTransition, from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
}
