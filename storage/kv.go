package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/c360studio/reportgen/workflow"
	"github.com/nats-io/nats.go/jetstream"
)

// Bucket names.
const (
	BucketReports     = "REPORTGEN_REPORTS"
	BucketCheckpoints = "REPORTGEN_CHECKPOINTS"
	BucketProjects    = "REPORTGEN_PROJECTS"
)

// KVStore implements Store on NATS JetStream key-value buckets.
// Any process connected to the same JetStream domain sees the same runs.
type KVStore struct {
	reports     jetstream.KeyValue
	checkpoints jetstream.KeyValue
	projects    jetstream.KeyValue
}

var _ Store = (*KVStore)(nil)

// NewKVStore creates a KVStore with the given JetStream context.
// It creates the necessary KV buckets if they don't exist.
func NewKVStore(ctx context.Context, js jetstream.JetStream) (*KVStore, error) {
	reports, err := getOrCreateBucket(ctx, js, BucketReports)
	if err != nil {
		return nil, fmt.Errorf("create reports bucket: %w", err)
	}

	checkpoints, err := getOrCreateBucket(ctx, js, BucketCheckpoints)
	if err != nil {
		return nil, fmt.Errorf("create checkpoints bucket: %w", err)
	}

	projects, err := getOrCreateBucket(ctx, js, BucketProjects)
	if err != nil {
		return nil, fmt.Errorf("create projects bucket: %w", err)
	}

	return &KVStore{
		reports:     reports,
		checkpoints: checkpoints,
		projects:    projects,
	}, nil
}

func getOrCreateBucket(ctx context.Context, js jetstream.JetStream, name string) (jetstream.KeyValue, error) {
	kv, err := js.KeyValue(ctx, name)
	if err == nil {
		return kv, nil
	}
	return js.CreateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:      name,
		Description: fmt.Sprintf("reportgen %s storage", strings.ToLower(strings.TrimPrefix(name, "REPORTGEN_"))),
		History:     5,
	})
}

// CreateReport stores a new report. The ID must be set and unused.
func (s *KVStore) CreateReport(ctx context.Context, r *Report) error {
	if r.ID == "" {
		return errors.New("report ID is required")
	}
	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.Status == "" {
		r.Status = workflow.ReportGenerating
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	if _, err := s.reports.Create(ctx, r.ID, data); err != nil {
		return fmt.Errorf("store report: %w", err)
	}
	return nil
}

// GetReport retrieves a report by ID.
func (s *KVStore) GetReport(ctx context.Context, id string) (*Report, error) {
	r, _, err := s.loadReport(ctx, id)
	return r, err
}

func (s *KVStore) loadReport(ctx context.Context, id string) (*Report, uint64, error) {
	entry, err := s.reports.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, 0, ErrReportNotFound
		}
		return nil, 0, fmt.Errorf("get report: %w", err)
	}

	var r Report
	if err := json.Unmarshal(entry.Value(), &r); err != nil {
		return nil, 0, fmt.Errorf("unmarshal report: %w", err)
	}
	return &r, entry.Revision(), nil
}

// updateReport applies fn and writes the result back at the revision it read,
// so a concurrent writer causes an error instead of a lost update.
func (s *KVStore) updateReport(ctx context.Context, id string, fn func(r *Report) error) error {
	r, rev, err := s.loadReport(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(r); err != nil {
		return err
	}
	r.UpdatedAt = time.Now()

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	if _, err := s.reports.Update(ctx, id, data, rev); err != nil {
		return fmt.Errorf("update report: %w", err)
	}
	return nil
}

// UpdateStatus moves a report to a new status.
func (s *KVStore) UpdateStatus(ctx context.Context, id string, to workflow.ReportStatus, reason string) error {
	return s.updateReport(ctx, id, func(r *Report) error {
		return r.Transition(to, reason, time.Now())
	})
}

// SavePlan replaces the report's plan.
func (s *KVStore) SavePlan(ctx context.Context, id string, plan *workflow.ReportPlan) error {
	return s.updateReport(ctx, id, func(r *Report) error {
		r.Plan = plan
		return nil
	})
}

// UpsertSection writes one section of a report.
func (s *KVStore) UpsertSection(ctx context.Context, reportID string, sec Section) error {
	return s.updateReport(ctx, reportID, func(r *Report) error {
		sec.UpdatedAt = time.Now()
		r.UpsertSection(sec)
		return nil
	})
}

// SaveCheckpoint stores the run state, replacing any earlier checkpoint.
func (s *KVStore) SaveCheckpoint(ctx context.Context, cp *Checkpoint) error {
	if cp.SavedAt.IsZero() {
		cp.SavedAt = time.Now()
	}
	data, err := json.Marshal(cp)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	if _, err := s.checkpoints.Put(ctx, cp.ReportID, data); err != nil {
		return fmt.Errorf("store checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint retrieves the latest checkpoint of a run.
func (s *KVStore) LoadCheckpoint(ctx context.Context, reportID string) (*Checkpoint, error) {
	entry, err := s.checkpoints.Get(ctx, reportID)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("get checkpoint: %w", err)
	}

	var cp Checkpoint
	if err := json.Unmarshal(entry.Value(), &cp); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &cp, nil
}

// PutProject creates or replaces a project.
func (s *KVStore) PutProject(ctx context.Context, p *Project) error {
	if p.ID == "" {
		return errors.New("project ID is required")
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal project: %w", err)
	}
	if _, err := s.projects.Put(ctx, p.ID, data); err != nil {
		return fmt.Errorf("store project: %w", err)
	}
	return nil
}

// GetProject retrieves a project by ID.
func (s *KVStore) GetProject(ctx context.Context, id string) (*Project, error) {
	entry, err := s.projects.Get(ctx, id)
	if err != nil {
		if isNotFound(err) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("get project: %w", err)
	}

	var p Project
	if err := json.Unmarshal(entry.Value(), &p); err != nil {
		return nil, fmt.Errorf("unmarshal project: %w", err)
	}
	return &p, nil
}

// isNotFound checks if an error indicates a key was not found.
func isNotFound(err error) bool {
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return true
	}
	return err != nil && strings.Contains(err.Error(), "key not found")
}
