package storage

import (
	"context"

	"github.com/c360studio/reportgen/workflow"
)

// ReportStore persists reports and run checkpoints.
type ReportStore interface {
	CreateReport(ctx context.Context, r *Report) error
	GetReport(ctx context.Context, id string) (*Report, error)
	UpdateStatus(ctx context.Context, id string, to workflow.ReportStatus, reason string) error
	SavePlan(ctx context.Context, id string, plan *workflow.ReportPlan) error
	UpsertSection(ctx context.Context, reportID string, s Section) error
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error
	LoadCheckpoint(ctx context.Context, reportID string) (*Checkpoint, error)
}

// ProjectStore reads and writes project data.
type ProjectStore interface {
	PutProject(ctx context.Context, p *Project) error
	GetProject(ctx context.Context, id string) (*Project, error)
}

// Store is the full persistence surface used by a run.
type Store interface {
	ReportStore
	ProjectStore
}
