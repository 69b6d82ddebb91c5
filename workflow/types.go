package workflow

import (
	"encoding/json"
	"fmt"
	"time"
)

// ReportStatus is the lifecycle of a generated report.
type ReportStatus string

const (
	// ReportGenerating means a run is active or resumable.
	ReportGenerating ReportStatus = "GENERATING"
	// ReportAwaitingApproval means the run is paused on a plan review.
	ReportAwaitingApproval ReportStatus = "AWAITING_APPROVAL"
	// ReportCompleted means the run reached FINISH.
	ReportCompleted ReportStatus = "COMPLETED"
	// ReportFailed means the run ended with an error.
	ReportFailed ReportStatus = "FAILED"
)

// String returns the string representation of the status.
func (s ReportStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a known report status.
func (s ReportStatus) IsValid() bool {
	switch s {
	case ReportGenerating, ReportAwaitingApproval, ReportCompleted, ReportFailed:
		return true
	default:
		return false
	}
}

// IsTerminal returns true for statuses no run can leave.
func (s ReportStatus) IsTerminal() bool {
	return s == ReportCompleted || s == ReportFailed
}

// CanTransitionTo returns true if the report can move to the target status.
func (s ReportStatus) CanTransitionTo(target ReportStatus) bool {
	switch s {
	case ReportGenerating:
		return target == ReportAwaitingApproval || target == ReportCompleted || target == ReportFailed
	case ReportAwaitingApproval:
		// resume moves back to generating; a broken checkpoint fails the report
		return target == ReportGenerating || target == ReportFailed
	case ReportCompleted, ReportFailed:
		return false // Terminal states
	default:
		return false
	}
}

// ApprovalStatus is the review state of a ReportPlan.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "PENDING"
	ApprovalApproved ApprovalStatus = "APPROVED"
	ApprovalRejected ApprovalStatus = "REJECTED"
)

// String returns the string representation of the approval status.
func (s ApprovalStatus) String() string {
	return string(s)
}

// IsValid returns true if the status is a known approval status.
func (s ApprovalStatus) IsValid() bool {
	switch s {
	case ApprovalPending, ApprovalApproved, ApprovalRejected:
		return true
	default:
		return false
	}
}

// IsDecision returns true for the statuses a reviewer may submit.
func (s ApprovalStatus) IsDecision() bool {
	return s == ApprovalApproved || s == ApprovalRejected
}

// CanTransitionTo returns true if a plan in this status can move to target.
// A decided plan is final; re-entering review needs a new plan.
func (s ApprovalStatus) CanTransitionTo(target ApprovalStatus) bool {
	switch s {
	case ApprovalPending:
		return target.IsDecision()
	default:
		return false
	}
}

// ReportPlan is the writer's proposed outline, reviewed before drafting starts.
type ReportPlan struct {
	Sections  []PlanSection `json:"sections"`
	Strategy  string        `json:"strategy"`
	Reasoning string        `json:"reasoning,omitempty"`
	CreatedAt time.Time     `json:"created_at,omitzero"`
}

// PlanSection is one top-level section of a plan.
type PlanSection struct {
	SectionID        string           `json:"sectionId"`
	Title            string           `json:"title"`
	AssignedPhotoIDs []string         `json:"assignedPhotoIds,omitempty"`
	ReportOrder      int              `json:"reportOrder"`
	Purpose          string           `json:"purpose,omitempty"`
	Subsections      []PlanSubsection `json:"subsections,omitempty"`
}

// PlanSubsection is a nested entry under a PlanSection.
type PlanSubsection struct {
	SubSectionID     string   `json:"subSectionId"`
	Title            string   `json:"title"`
	AssignedPhotoIDs []string `json:"assignedPhotoIds"`
	Purpose          string   `json:"purpose,omitempty"`
}

// Validate checks that a plan can be drafted from.
func (p *ReportPlan) Validate() error {
	if p == nil || len(p.Sections) == 0 {
		return ErrEmptyPlan
	}
	for i, s := range p.Sections {
		if s.SectionID == "" || s.Title == "" {
			return &PlanError{Index: i, Reason: "sectionId and title are required"}
		}
	}
	return nil
}

// Titles lists section titles in plan order.
func (p *ReportPlan) Titles() []string {
	if p == nil {
		return nil
	}
	out := make([]string, 0, len(p.Sections))
	for _, s := range p.Sections {
		out = append(out, s.Title)
	}
	return out
}

// SubmitPlanTool is the tool the writer calls to propose a plan.
const SubmitPlanTool = "submitReportPlan"

// PlanFromArgs decodes the arguments of a SubmitPlanTool call and fills in
// missing section IDs and ordering.
func PlanFromArgs(args map[string]any) (*ReportPlan, error) {
	data, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("encode plan arguments: %w", err)
	}
	var plan ReportPlan
	if err := json.Unmarshal(data, &plan); err != nil {
		return nil, fmt.Errorf("decode plan arguments: %w", err)
	}
	plan.Normalize()
	if err := plan.Validate(); err != nil {
		return nil, err
	}
	return &plan, nil
}

// Normalize assigns IDs and report order to sections that lack them.
func (p *ReportPlan) Normalize() {
	for i := range p.Sections {
		s := &p.Sections[i]
		if s.SectionID == "" && s.Title != "" {
			s.SectionID = fmt.Sprintf("section-%d", i+1)
		}
		if s.ReportOrder == 0 {
			s.ReportOrder = i + 1
		}
		for j := range s.Subsections {
			sub := &s.Subsections[j]
			if sub.SubSectionID == "" {
				sub.SubSectionID = fmt.Sprintf("%s.%d", s.SectionID, j+1)
			}
		}
	}
}
