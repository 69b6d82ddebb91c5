// Package graph wires the workflow nodes together and drives a run to
// FINISH or to a pause.
package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/c360studio/reportgen/workflow"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultMaxSteps bounds the node executions of one run.
const DefaultMaxSteps = 25

// Interrupt reports whether the run should pause before next executes.
type Interrupt func(next string, state workflow.State) bool

// PlanPending pauses before the writer while a plan awaits review.
func PlanPending(next string, state workflow.State) bool {
	return next == workflow.NodeWriter && state.ApprovalStatus == workflow.ApprovalPending
}

// StepObserver is told about every node execution.
type StepObserver interface {
	ObserveNodeStep(node string)
}

// Outcome is the result of Run.
type Outcome struct {
	State workflow.State

	// Paused is set when an interrupt fired; Next is the node to resume at.
	Paused bool
	Next   string

	// RoutingError is set when the run finished fail-safe on a bad route.
	RoutingError *workflow.RoutingError
}

// Runner executes nodes one at a time.
type Runner struct {
	nodes     map[string]workflow.Node
	maxSteps  int
	interrupt Interrupt
	observer  StepObserver
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures a Runner.
type Option func(*Runner)

// WithMaxSteps sets the step budget.
func WithMaxSteps(n int) Option {
	return func(r *Runner) {
		if n > 0 {
			r.maxSteps = n
		}
	}
}

// WithInterrupt sets the pause predicate.
func WithInterrupt(fn Interrupt) Option {
	return func(r *Runner) {
		r.interrupt = fn
	}
}

// WithStepObserver reports node executions.
func WithStepObserver(o StepObserver) Option {
	return func(r *Runner) {
		r.observer = o
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// New creates a runner over nodes. The supervisor, researcher, writer and
// tools nodes are required.
func New(nodes []workflow.Node, opts ...Option) (*Runner, error) {
	r := &Runner{
		nodes:    make(map[string]workflow.Node, len(nodes)),
		maxSteps: DefaultMaxSteps,
		logger:   slog.Default(),
		tracer:   otel.Tracer("github.com/c360studio/reportgen/workflow/graph"),
	}
	for _, n := range nodes {
		r.nodes[n.Name()] = n
	}
	for _, name := range []string{workflow.NodeSupervisor, workflow.NodeResearcher, workflow.NodeWriter, workflow.NodeTools} {
		if _, ok := r.nodes[name]; !ok {
			return nil, fmt.Errorf("graph: missing %s node", name)
		}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// MaxSteps returns the step budget.
func (r *Runner) MaxSteps() int {
	return r.maxSteps
}

// Run executes from entry until FINISH, a pause, or an error. A run that
// exhausts its step budget ends at FINISH with a *StepBudgetExceededError.
func (r *Runner) Run(ctx context.Context, state workflow.State, entry string, sink workflow.EventSink) (Outcome, error) {
	current := entry
	var routingErr *workflow.RoutingError

	for current != workflow.NodeFinish {
		if err := ctx.Err(); err != nil {
			return Outcome{State: state}, err
		}

		if r.interrupt != nil && r.interrupt(current, state) {
			r.logger.Info("Run paused",
				"report_id", state.DraftReportID,
				"before", current)
			return Outcome{State: state, Paused: true, Next: current}, nil
		}

		if state.Steps >= r.maxSteps {
			err := &workflow.StepBudgetExceededError{Limit: r.maxSteps, Node: current}
			r.logger.Warn("Step budget exceeded",
				"report_id", state.DraftReportID,
				"limit", r.maxSteps,
				"node", current)
			workflow.Emit(ctx, sink, workflow.Event{Kind: workflow.EventError, Node: current, Text: err.Error(), Err: err})
			return Outcome{State: state}, err
		}

		node, ok := r.nodes[current]
		if !ok {
			return Outcome{State: state}, fmt.Errorf("graph: unknown node %q", current)
		}

		patch, err := r.step(ctx, node, state, sink)
		if err != nil {
			workflow.Emit(ctx, sink, workflow.Event{Kind: workflow.EventError, Node: current, Text: err.Error(), Err: err})
			return Outcome{State: state}, fmt.Errorf("%s: %w", current, err)
		}
		patch.Steps++
		state = workflow.Merge(state, patch)

		next, rerr := Route(current, state)
		if rerr != nil {
			routingErr = rerr
			r.logger.Warn("Routing failed, finishing run",
				"report_id", state.DraftReportID,
				"error", rerr)
		}
		r.logger.Debug("Routed", "from", current, "to", next, "step", state.Steps)
		current = next
	}

	return Outcome{State: state, RoutingError: routingErr}, nil
}

func (r *Runner) step(ctx context.Context, node workflow.Node, state workflow.State, sink workflow.EventSink) (workflow.State, error) {
	ctx, span := r.tracer.Start(ctx, "node."+node.Name(), trace.WithAttributes(
		attribute.String("report.id", state.DraftReportID),
		attribute.Int("step", state.Steps+1),
	))
	defer span.End()

	if r.observer != nil {
		r.observer.ObserveNodeStep(node.Name())
	}

	workflow.Emit(ctx, sink, workflow.Event{Kind: workflow.EventNodeStart, Node: node.Name()})
	patch, err := node.Run(ctx, state, sink)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return workflow.State{}, err
	}
	workflow.Emit(ctx, sink, workflow.Event{Kind: workflow.EventNodeEnd, Node: node.Name()})
	return patch, nil
}

// IsStepBudgetExceeded reports whether err ended a run on its step budget.
func IsStepBudgetExceeded(err error) bool {
	var budget *workflow.StepBudgetExceededError
	return errors.As(err, &budget)
}
