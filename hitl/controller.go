// Package hitl runs report generation with a durable pause for plan review.
// A paused run lives entirely in storage, so any process can resume it.
package hitl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/c360studio/reportgen/broadcast"
	"github.com/c360studio/reportgen/llm"
	"github.com/c360studio/reportgen/storage"
	"github.com/c360studio/reportgen/stream"
	"github.com/c360studio/reportgen/workflow"
	"github.com/c360studio/reportgen/workflow/graph"
	"github.com/google/uuid"
)

// StartingStatus is broadcast when a run begins.
const StartingStatus = "Starting report generation..."

// ErrNotAwaitingApproval is returned when a resume targets a report that is
// not paused on a plan review.
var ErrNotAwaitingApproval = errors.New("report is not awaiting approval")

// Run outcomes reported to a RunObserver.
const (
	OutcomeCompleted      = "completed"
	OutcomePaused         = "paused"
	OutcomeFailed         = "failed"
	OutcomeBudgetExceeded = "budget_exceeded"
)

// RunObserver is told how each run segment ended.
type RunObserver interface {
	ObserveRun(outcome string)
}

// RunOptions tune a single run.
type RunOptions struct {
	// Provider pins a model endpoint for every agent of the run.
	Provider string `json:"provider,omitempty"`
	// SelectedImageIDs limits photo tools to these images.
	SelectedImageIDs []string `json:"selectedImageIds,omitempty"`
	// Instructions are appended to the opening request.
	Instructions string `json:"instructions,omitempty"`
}

// StartRequest begins a run.
type StartRequest struct {
	UserID     string     `json:"userId"`
	ProjectID  string     `json:"projectId"`
	ReportType string     `json:"reportType"`
	Options    RunOptions `json:"options"`

	// Stream receives the line protocol of the run when set.
	Stream io.Writer `json:"-"`
}

// ResumeRequest carries the review decision for a paused run.
type ResumeRequest struct {
	RunID          string                  `json:"runId"`
	ApprovalStatus workflow.ApprovalStatus `json:"approvalStatus"`
	UserFeedback   string                  `json:"userFeedback,omitempty"`
	ModifiedPlan   *workflow.ReportPlan    `json:"modifiedPlan,omitempty"`

	Stream io.Writer `json:"-"`
}

// RunHandle describes where a run segment stopped.
type RunHandle struct {
	RunID     string                `json:"runId"`
	ReportID  string                `json:"reportId"`
	ProjectID string                `json:"projectId"`
	Status    workflow.ReportStatus `json:"status"`
	Plan      *workflow.ReportPlan  `json:"plan,omitempty"`
}

// Ack acknowledges a resume.
type Ack struct {
	RunID  string                `json:"runId"`
	Status workflow.ReportStatus `json:"status"`
}

// Controller starts and resumes runs.
type Controller struct {
	store         storage.Store
	runner        *graph.Runner
	publisher     broadcast.Publisher
	observer      RunObserver
	flushInterval time.Duration
	logger        *slog.Logger
}

// Option configures a Controller.
type Option func(*Controller)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		c.logger = logger
	}
}

// WithRunObserver reports run outcomes.
func WithRunObserver(o RunObserver) Option {
	return func(c *Controller) {
		c.observer = o
	}
}

// WithFlushInterval sets the reasoning broadcast cadence.
func WithFlushInterval(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.flushInterval = d
		}
	}
}

// New creates a Controller. The runner should pause with graph.PlanPending.
func New(store storage.Store, runner *graph.Runner, publisher broadcast.Publisher, opts ...Option) *Controller {
	if publisher == nil {
		publisher = broadcast.Discard
	}
	c := &Controller{
		store:         store,
		runner:        runner,
		publisher:     publisher,
		flushInterval: stream.DefaultFlushInterval,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// StartRun creates the draft report and runs the graph until it finishes or
// pauses for plan review.
func (c *Controller) StartRun(ctx context.Context, req StartRequest) (RunHandle, error) {
	if req.ProjectID == "" || req.UserID == "" {
		return RunHandle{}, workflow.ErrMissingScope
	}
	if req.ReportType == "" {
		req.ReportType = "observation"
	}

	project, err := c.store.GetProject(ctx, req.ProjectID)
	if err != nil {
		return RunHandle{}, fmt.Errorf("load project: %w", err)
	}

	report := &storage.Report{
		ID:        uuid.New().String(),
		ProjectID: req.ProjectID,
		UserID:    req.UserID,
		Type:      req.ReportType,
		Status:    workflow.ReportGenerating,
	}
	if err := c.store.CreateReport(ctx, report); err != nil {
		return RunHandle{}, &workflow.PersistenceError{Op: "create report", Err: err}
	}

	logger := c.logger.With("report_id", report.ID, "project_id", req.ProjectID)
	logger.Info("Run started", "report_type", req.ReportType)

	state := workflow.State{
		Messages:         []workflow.Message{llm.UserMessage(openingRequest(project, req))},
		Context:          projectContext(project),
		ProjectID:        req.ProjectID,
		UserID:           req.UserID,
		SelectedImageIDs: req.Options.SelectedImageIDs,
		Provider:         req.Options.Provider,
		DraftReportID:    report.ID,
	}

	adapter := c.adapter(ctx, req.ProjectID, req.Stream)
	adapter.SendStatus(ctx, StartingStatus)
	return c.run(ctx, adapter, logger, report, state, workflow.NodeSupervisor)
}

// ResumeRun applies a review decision and re-enters the graph where it
// paused. Everything it needs is read back from storage.
func (c *Controller) ResumeRun(ctx context.Context, req ResumeRequest) (Ack, error) {
	if !req.ApprovalStatus.IsDecision() {
		return Ack{}, fmt.Errorf("%w: got %q", workflow.ErrInvalidApprovalStatus, req.ApprovalStatus)
	}

	report, err := c.store.GetReport(ctx, req.RunID)
	if err != nil {
		return Ack{}, fmt.Errorf("load report: %w", err)
	}
	if report.Status != workflow.ReportAwaitingApproval {
		return Ack{RunID: report.ID, Status: report.Status}, fmt.Errorf("%w: %s is %s", ErrNotAwaitingApproval, report.ID, report.Status)
	}
	cp, err := c.store.LoadCheckpoint(ctx, report.ID)
	if err != nil {
		return Ack{}, fmt.Errorf("load checkpoint: %w", err)
	}

	logger := c.logger.With("report_id", report.ID, "project_id", report.ProjectID)
	state := cp.State
	if report.Plan != nil {
		state.ReportPlan = report.Plan
	}

	switch req.ApprovalStatus {
	case workflow.ApprovalApproved:
		if req.ModifiedPlan != nil {
			plan := *req.ModifiedPlan
			plan.Normalize()
			if err := plan.Validate(); err != nil {
				return Ack{}, fmt.Errorf("modified plan: %w", err)
			}
			if err := c.store.SavePlan(ctx, report.ID, &plan); err != nil {
				return Ack{}, &workflow.PersistenceError{Op: "save modified plan", Err: err}
			}
			state.ReportPlan = &plan
		}
		state.ApprovalStatus = workflow.ApprovalApproved
		state.UserFeedback = ""
	case workflow.ApprovalRejected:
		state.ApprovalStatus = workflow.ApprovalRejected
		state.UserFeedback = req.UserFeedback
		state.Messages = append(state.Messages, llm.UserMessage(rejectionMessage(req.UserFeedback)))
	}

	reason := "plan " + strings.ToLower(req.ApprovalStatus.String())
	if err := c.store.UpdateStatus(ctx, report.ID, workflow.ReportGenerating, reason); err != nil {
		return Ack{}, &workflow.PersistenceError{Op: "update status", Err: err}
	}
	report.Status = workflow.ReportGenerating
	logger.Info("Run resumed", "decision", req.ApprovalStatus, "node", cp.Node)

	node := cp.Node
	if node == "" {
		node = workflow.NodeWriter
	}
	adapter := c.adapter(ctx, report.ProjectID, req.Stream)
	h, err := c.run(ctx, adapter, logger, report, state, node)
	return Ack{RunID: report.ID, Status: h.Status}, err
}

// Status returns the persisted plan-approval record of a report.
func (c *Controller) Status(ctx context.Context, reportID string) (storage.ApprovalRecord, error) {
	r, err := c.store.GetReport(ctx, reportID)
	if err != nil {
		return storage.ApprovalRecord{}, err
	}
	return r.ApprovalRecord(), nil
}

func (c *Controller) adapter(ctx context.Context, projectID string, w io.Writer) *stream.Adapter {
	opts := []stream.Option{stream.WithFlushInterval(c.flushInterval), stream.WithLogger(c.logger)}
	if w != nil {
		opts = append(opts, stream.WithWriter(w))
	}
	return stream.NewAdapter(ctx, c.publisher, projectID, opts...)
}

// run drives the graph from entry and records how it stopped.
func (c *Controller) run(ctx context.Context, adapter *stream.Adapter, logger *slog.Logger, report *storage.Report, state workflow.State, entry string) (RunHandle, error) {
	handle := RunHandle{RunID: report.ID, ReportID: report.ID, ProjectID: report.ProjectID}

	out, runErr := c.runner.Run(ctx, state, entry, adapter)
	adapter.Close()

	// final writes must land even when the caller has gone away
	ctx = context.WithoutCancel(ctx)

	if runErr != nil {
		outcome := OutcomeFailed
		if graph.IsStepBudgetExceeded(runErr) {
			outcome = OutcomeBudgetExceeded
		}
		logger.Error("Run failed", "error", runErr, "steps", out.State.Steps)
		handle.Status = c.fail(ctx, logger, report, runErr)
		c.observe(outcome)
		return handle, runErr
	}

	if out.RoutingError != nil {
		logger.Warn("Run finished on unroutable decision", "error", out.RoutingError)
	}

	if out.Paused {
		plan := out.State.ReportPlan
		if err := c.pause(ctx, report.ID, out); err != nil {
			logger.Error("Pause could not be persisted", "error", err)
			handle.Status = c.fail(ctx, logger, report, err)
			c.observe(OutcomeFailed)
			return handle, err
		}
		c.publish(ctx, logger, report.ProjectID, broadcast.Paused(report.ID, plan))
		logger.Info("Run awaiting plan approval", "sections", len(plan.Titles()), "steps", out.State.Steps)
		handle.Status = workflow.ReportAwaitingApproval
		handle.Plan = plan
		c.observe(OutcomePaused)
		return handle, nil
	}

	if err := c.store.UpdateStatus(ctx, report.ID, workflow.ReportCompleted, "finished"); err != nil {
		perr := &workflow.PersistenceError{Op: "complete report", Err: err}
		handle.Status = c.fail(ctx, logger, report, perr)
		c.observe(OutcomeFailed)
		return handle, perr
	}
	c.publish(ctx, logger, report.ProjectID, broadcast.ReportComplete(report.ID, report.ProjectID))
	logger.Info("Run completed", "steps", out.State.Steps)
	handle.Status = workflow.ReportCompleted
	handle.Plan = out.State.ReportPlan
	c.observe(OutcomeCompleted)
	return handle, nil
}

// pause persists the plan, then the checkpoint, then the status.
func (c *Controller) pause(ctx context.Context, reportID string, out graph.Outcome) error {
	if err := c.store.SavePlan(ctx, reportID, out.State.ReportPlan); err != nil {
		return &workflow.PersistenceError{Op: "save plan", Err: err}
	}
	cp := &storage.Checkpoint{
		ReportID: reportID,
		Node:     out.Next,
		State:    out.State,
		SavedAt:  time.Now(),
	}
	if err := c.store.SaveCheckpoint(ctx, cp); err != nil {
		return &workflow.PersistenceError{Op: "save checkpoint", Err: err}
	}
	if err := c.store.UpdateStatus(ctx, reportID, workflow.ReportAwaitingApproval, "plan submitted"); err != nil {
		return &workflow.PersistenceError{Op: "update status", Err: err}
	}
	return nil
}

// fail marks the report FAILED and broadcasts the error.
func (c *Controller) fail(ctx context.Context, logger *slog.Logger, report *storage.Report, cause error) workflow.ReportStatus {
	c.publish(ctx, logger, report.ProjectID, broadcast.Error(cause.Error(), report.ProjectID))
	if err := c.store.UpdateStatus(ctx, report.ID, workflow.ReportFailed, cause.Error()); err != nil {
		logger.Error("Could not mark report failed", "error", err)
	}
	return workflow.ReportFailed
}

func (c *Controller) publish(ctx context.Context, logger *slog.Logger, projectID string, ev broadcast.Event) {
	if err := c.publisher.Publish(ctx, projectID, ev); err != nil {
		logger.Warn("Broadcast failed", "type", ev.Type, "error", err)
	}
}

func (c *Controller) observe(outcome string) {
	if c.observer != nil {
		c.observer.ObserveRun(outcome)
	}
}

func openingRequest(p *storage.Project, req StartRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Generate a %s report for project %q.", req.ReportType, p.Name)
	if n := len(req.Options.SelectedImageIDs); n > 0 {
		fmt.Fprintf(&b, " Use only the %d selected photos.", n)
	}
	if req.Options.Instructions != "" {
		b.WriteString("\n\n")
		b.WriteString(req.Options.Instructions)
	}
	return b.String()
}

func projectContext(p *storage.Project) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Project: %s (%s)", p.Name, p.ID)
	if p.Description != "" {
		b.WriteString("\n")
		b.WriteString(p.Description)
	}
	if len(p.Specs) > 0 {
		keys := make([]string, 0, len(p.Specs))
		for k := range p.Specs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\nSpecifications:")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n- %s: %s", k, p.Specs[k])
		}
	}
	fmt.Fprintf(&b, "\nPhotos available: %d", len(p.Images))
	return b.String()
}

func rejectionMessage(feedback string) string {
	if strings.TrimSpace(feedback) == "" {
		return "The report plan was rejected. Propose a different plan."
	}
	return "The report plan was rejected. Revise it using this feedback:\n" + feedback
}
