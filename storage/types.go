// Package storage persists reports, run checkpoints and project data.
package storage

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/c360studio/reportgen/workflow"
)

// Report is the row a run builds. Its ID doubles as the run ID.
type Report struct {
	ID            string                `json:"id"`
	ProjectID     string                `json:"project_id"`
	UserID        string                `json:"user_id"`
	Type          string                `json:"report_type"`
	Status        workflow.ReportStatus `json:"status"`
	Plan          *workflow.ReportPlan  `json:"plan,omitempty"`
	Sections      []Section             `json:"sections,omitempty"`
	Error         string                `json:"error,omitempty"`
	CreatedAt     time.Time             `json:"created_at"`
	UpdatedAt     time.Time             `json:"updated_at"`
	StatusChanges []StatusChange        `json:"status_changes,omitempty"`
}

// StatusChange records a status transition.
type StatusChange struct {
	From      workflow.ReportStatus `json:"from"`
	To        workflow.ReportStatus `json:"to"`
	Reason    string                `json:"reason,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// Section is one written part of a report.
type Section struct {
	ID        string         `json:"sectionId"`
	Heading   string         `json:"heading"`
	Content   string         `json:"content"`
	Order     int            `json:"order"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// ApprovalRecord is the polling view of a report's plan review.
type ApprovalRecord struct {
	ReportID string                `json:"reportId"`
	Status   workflow.ReportStatus `json:"status"`
	Plan     *workflow.ReportPlan  `json:"plan"`
}

// ApprovalRecord returns the plan-approval view of the report.
func (r *Report) ApprovalRecord() ApprovalRecord {
	return ApprovalRecord{ReportID: r.ID, Status: r.Status, Plan: r.Plan}
}

// Transition moves the report to status to, recording the change.
func (r *Report) Transition(to workflow.ReportStatus, reason string, now time.Time) error {
	if r.Status == to {
		return nil
	}
	if !r.Status.CanTransitionTo(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, r.Status, to)
	}
	r.StatusChanges = append(r.StatusChanges, StatusChange{
		From:      r.Status,
		To:        to,
		Reason:    reason,
		Timestamp: now,
	})
	r.Status = to
	if to == workflow.ReportFailed {
		r.Error = reason
	}
	r.UpdatedAt = now
	return nil
}

// UpsertSection replaces the section with the same ID or appends it,
// keeping sections sorted by Order.
func (r *Report) UpsertSection(s Section) {
	idx := slices.IndexFunc(r.Sections, func(existing Section) bool { return existing.ID == s.ID })
	if idx >= 0 {
		r.Sections[idx] = s
	} else {
		r.Sections = append(r.Sections, s)
	}
	slices.SortStableFunc(r.Sections, func(a, b Section) int { return cmp.Compare(a.Order, b.Order) })
}

// Project is the subject of a report.
type Project struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Specs       map[string]string `json:"specs,omitempty"`
	Images      []Image           `json:"images,omitempty"`
}

// Image is a project photo available to vision tools.
type Image struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

// Checkpoint is the graph state saved at a pause.
type Checkpoint struct {
	ReportID string         `json:"report_id"`
	Node     string         `json:"node"`
	State    workflow.State `json:"state"`
	SavedAt  time.Time      `json:"saved_at"`
}
