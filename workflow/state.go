// Package workflow defines the shared state threaded through the report
// generation graph and the per-field rules for merging node output into it.
package workflow

import (
	"slices"

	"github.com/c360studio/reportgen/llm"
)

// Message is one conversation turn (system, user, assistant or tool).
type Message = llm.Message

// ToolCall is a model request to run a named tool.
type ToolCall = llm.ToolCall

// State is the blackboard every node reads and patches.
//
// Merge rules per field:
//   - Messages: append-only, never reordered.
//   - SelectedImageIDs: append-only set, duplicates dropped.
//   - Context, DraftReportID, ProjectID, UserID, Client: set once.
//   - Provider, CurrentSection, NextStep, ReportPlan, ApprovalStatus,
//     UserFeedback: last non-zero write wins.
//   - Steps: additive.
//   - ClearNextStep on a patch empties NextStep before the patch's own value applies.
type State struct {
	Messages         []Message      `json:"messages"`
	Context          string         `json:"context,omitempty"`
	ProjectID        string         `json:"project_id"`
	UserID           string         `json:"user_id"`
	Client           any            `json:"-"`
	SelectedImageIDs []string       `json:"selected_image_ids,omitempty"`
	Provider         string         `json:"provider,omitempty"`
	CurrentSection   string         `json:"current_section,omitempty"`
	NextStep         RouteKey       `json:"next_step,omitempty"`
	ClearNextStep    bool           `json:"-"`
	DraftReportID    string         `json:"draft_report_id,omitempty"`
	ReportPlan       *ReportPlan    `json:"report_plan,omitempty"`
	ApprovalStatus   ApprovalStatus `json:"approval_status,omitempty"`
	UserFeedback     string         `json:"user_feedback,omitempty"`
	Steps            int            `json:"steps"`
}

// Merge returns base with patch applied. Neither argument is modified.
func Merge(base, patch State) State {
	out := base

	out.Messages = append(slices.Clone(base.Messages), patch.Messages...)
	out.SelectedImageIDs = appendUnique(slices.Clone(base.SelectedImageIDs), patch.SelectedImageIDs...)

	out.Context = setOnce(base.Context, patch.Context)
	out.DraftReportID = setOnce(base.DraftReportID, patch.DraftReportID)
	out.ProjectID = setOnce(base.ProjectID, patch.ProjectID)
	out.UserID = setOnce(base.UserID, patch.UserID)
	if out.Client == nil {
		out.Client = patch.Client
	}

	out.Provider = lastWrite(base.Provider, patch.Provider)
	out.CurrentSection = lastWrite(base.CurrentSection, patch.CurrentSection)
	if patch.ClearNextStep {
		out.NextStep = ""
	}
	out.NextStep = lastWrite(out.NextStep, patch.NextStep)
	if patch.ReportPlan != nil {
		out.ReportPlan = patch.ReportPlan
	}
	out.ApprovalStatus = lastWrite(base.ApprovalStatus, patch.ApprovalStatus)
	out.UserFeedback = lastWrite(base.UserFeedback, patch.UserFeedback)

	out.Steps = base.Steps + patch.Steps
	out.ClearNextStep = false
	return out
}

// LastMessage returns the most recent message, or false if there is none.
func (s State) LastMessage() (Message, bool) {
	if len(s.Messages) == 0 {
		return Message{}, false
	}
	return s.Messages[len(s.Messages)-1], true
}

// PendingToolCalls returns the tool calls of the last message when it is an
// assistant turn that requested tools.
func (s State) PendingToolCalls() []ToolCall {
	last, ok := s.LastMessage()
	if !ok || !last.HasToolCalls() {
		return nil
	}
	return last.ToolCalls
}

func setOnce[T comparable](base, patch T) T {
	var zero T
	if base != zero {
		return base
	}
	return patch
}

func lastWrite[T comparable](base, patch T) T {
	var zero T
	if patch != zero {
		return patch
	}
	return base
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		if v != "" && !slices.Contains(dst, v) {
			dst = append(dst, v)
		}
	}
	return dst
}
