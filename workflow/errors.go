package workflow

import (
	"errors"
	"fmt"
)

// Sentinel errors.
var (
	// ErrInvalidRoute is returned when a route is outside the routing vocabulary.
	ErrInvalidRoute = errors.New("invalid route")

	// ErrEmptyPlan is returned when a plan has no sections.
	ErrEmptyPlan = errors.New("report plan has no sections")

	// ErrInvalidApprovalStatus is returned when a resume carries anything but APPROVED or REJECTED.
	ErrInvalidApprovalStatus = errors.New("approval status must be APPROVED or REJECTED")

	// ErrMissingScope is returned when a tool-using node runs without project and user IDs.
	ErrMissingScope = errors.New("projectId and userId are required")
)

// RoutingError records a supervisor decision the router could not follow.
// The router logs it and finishes the run.
type RoutingError struct {
	Value string
	Err   error
}

func (e *RoutingError) Error() string {
	if e.Value == "" {
		return "supervisor produced no next_step"
	}
	return fmt.Sprintf("supervisor produced unroutable next_step %q", e.Value)
}

func (e *RoutingError) Unwrap() error {
	return e.Err
}

// StepBudgetExceededError ends a run that used up its node budget.
type StepBudgetExceededError struct {
	Limit int
	Node  string
}

func (e *StepBudgetExceededError) Error() string {
	return fmt.Sprintf("step budget of %d exceeded before %s", e.Limit, e.Node)
}

// ToolNotFoundError is reported back to the model as a tool result.
type ToolNotFoundError struct {
	Name string
}

func (e *ToolNotFoundError) Error() string {
	return "Tool not found."
}

// ToolNotPermittedError reports a call to a tool outside the issuing node's
// groups. The model sees it as a tool result.
type ToolNotPermittedError struct {
	Name string
	Node string
}

func (e *ToolNotPermittedError) Error() string {
	return "Tool " + e.Name + " is not available to the " + e.Node + "."
}

// ToolExecutionError wraps a failure raised inside a tool.
type ToolExecutionError struct {
	Name string
	Err  error
}

func (e *ToolExecutionError) Error() string {
	return e.Err.Error()
}

func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

// PersistenceError is a failed durable write. It is fatal to the run.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// PlanError describes an invalid plan section.
type PlanError struct {
	Index  int
	Reason string
}

func (e *PlanError) Error() string {
	return fmt.Sprintf("plan section %d: %s", e.Index, e.Reason)
}

// IsPersistenceError reports whether err is or wraps a PersistenceError.
func IsPersistenceError(err error) bool {
	var pe *PersistenceError
	return errors.As(err, &pe)
}
