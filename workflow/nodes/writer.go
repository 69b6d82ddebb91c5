package nodes

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/c360studio/reportgen/llm"
	"github.com/c360studio/reportgen/model"
	"github.com/c360studio/reportgen/tools"
	"github.com/c360studio/reportgen/tools/report"
	"github.com/c360studio/reportgen/workflow"
)

const writerPrompt = `You write an engineering observation report one section at a time.
Check the existing structure before writing. Save each section with writeSection,
citing photo IDs and sources from the conversation.`

const plannerPrompt = `You plan an engineering observation report before any section is written.
Review the project and its photos, then call submitReportPlan with the sections
you intend to write, in report order. Do not write sections yet.`

// Writer drafts report sections with the report and vision tool groups. When plan
// approval is required it first proposes a plan and waits for review.
type Writer struct {
	agent
	groups      tools.GroupSet
	requirePlan bool
}

// WriterOption configures a Writer.
type WriterOption func(*Writer)

// RequirePlanApproval makes the writer propose a plan before drafting.
func RequirePlanApproval(required bool) WriterOption {
	return func(w *Writer) {
		w.requirePlan = required
	}
}

// NewWriter creates the writer node.
func NewWriter(client llm.Completer, groups tools.GroupSet, writerOpts []WriterOption, opts ...Option) *Writer {
	w := &Writer{
		agent:  newAgent(workflow.NodeWriter, string(model.CapabilityWriting), client, opts),
		groups: groups,
	}
	for _, opt := range writerOpts {
		opt(w)
	}
	return w
}

// Name implements workflow.Node.
func (w *Writer) Name() string { return w.name }

// planning reports whether the next turn must produce a plan.
func (w *Writer) planning(state workflow.State) bool {
	return w.requirePlan && state.ApprovalStatus != workflow.ApprovalApproved
}

// Run performs one writer turn.
func (w *Writer) Run(ctx context.Context, state workflow.State, sink workflow.EventSink) (workflow.State, error) {
	planning := w.planning(state)

	reg := w.groups.Registry(GroupsFor(w.name)...)
	var names []string
	for _, name := range reg.Names() {
		switch {
		case planning && name == report.ToolWriteSection:
		case !planning && name == workflow.SubmitPlanTool:
		default:
			names = append(names, name)
		}
	}
	defs := reg.Subset(names...).Definitions()

	reply, err := w.complete(ctx, state, conversation(w.systemPrompt(state, planning), state), defs, sink)
	if err != nil {
		return workflow.State{}, fmt.Errorf("writer turn: %w", err)
	}

	patch := workflow.State{Messages: []workflow.Message{reply}}
	for _, call := range reply.ToolCalls {
		switch call.Name {
		case report.ToolWriteSection:
			if id := sectionOf(call.Arguments); id != "" {
				patch.CurrentSection = id
			}
		case workflow.SubmitPlanTool:
			if !planning {
				continue
			}
			plan, err := workflow.PlanFromArgs(call.Arguments)
			if err != nil {
				// the tool answers the call with the same validation error
				w.logger.Debug("Submitted plan rejected", "error", err)
				continue
			}
			patch.ReportPlan = plan
			patch.ApprovalStatus = workflow.ApprovalPending
		}
	}

	if planning && patch.ReportPlan == nil && !reply.HasToolCalls() {
		if plan := planFromContent(reply.Content); plan != nil {
			patch.ReportPlan = plan
			patch.ApprovalStatus = workflow.ApprovalPending
		}
	}

	if patch.ApprovalStatus == workflow.ApprovalPending {
		w.logger.Info("Report plan proposed",
			"report_id", state.DraftReportID,
			"sections", len(patch.ReportPlan.Sections))
		workflow.Emit(ctx, sink, workflow.Event{Kind: workflow.EventStatus, Node: w.name, Text: "Report plan ready for review."})
	}
	return patch, nil
}

func (w *Writer) systemPrompt(state workflow.State, planning bool) string {
	var b strings.Builder
	if planning {
		b.WriteString(plannerPrompt)
	} else {
		b.WriteString(writerPrompt)
	}
	if state.Context != "" {
		b.WriteString("\n\nProject context:\n")
		b.WriteString(state.Context)
	}
	if state.ApprovalStatus == workflow.ApprovalRejected && state.UserFeedback != "" {
		b.WriteString("\n\nThe previous plan was rejected. Reviewer feedback:\n")
		b.WriteString(state.UserFeedback)
	}
	if !planning && state.ReportPlan != nil {
		if data, err := json.MarshalIndent(state.ReportPlan.Sections, "", "  "); err == nil {
			b.WriteString("\n\nApproved plan. Write these sections in order:\n")
			b.Write(data)
		}
	}
	if state.CurrentSection != "" {
		b.WriteString("\n\nLast section written: ")
		b.WriteString(state.CurrentSection)
	}
	return b.String()
}

// sectionOf reads the section a writeSection call targets.
func sectionOf(args map[string]any) string {
	if id := tools.StringArg(args, "sectionId"); id != "" {
		return id
	}
	return tools.StringArg(args, "heading")
}

// planFromContent accepts a plan the model wrote as JSON content instead
// of calling the plan tool.
func planFromContent(content string) *workflow.ReportPlan {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	var plan workflow.ReportPlan
	if err := llm.UnmarshalLenient(content, &plan); err != nil {
		return nil
	}
	plan.Normalize()
	if plan.Validate() != nil {
		return nil
	}
	return &plan
}
