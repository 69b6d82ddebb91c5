package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/c360studio/reportgen/workflow"
)

// MemoryStore is an in-process Store. Values are copied through JSON on the
// way in and out so callers see the same shapes a durable backend returns.
type MemoryStore struct {
	mu          sync.RWMutex
	reports     map[string][]byte
	checkpoints map[string][]byte
	projects    map[string][]byte
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		reports:     make(map[string][]byte),
		checkpoints: make(map[string][]byte),
		projects:    make(map[string][]byte),
	}
}

// CreateReport stores a new report.
func (m *MemoryStore) CreateReport(_ context.Context, r *Report) error {
	if r.ID == "" {
		return errors.New("report ID is required")
	}
	now := time.Now()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.Status == "" {
		r.Status = workflow.ReportGenerating
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.reports[r.ID]; exists {
		return fmt.Errorf("store report: %s already exists", r.ID)
	}
	return put(m.reports, r.ID, r)
}

// GetReport retrieves a report by ID.
func (m *MemoryStore) GetReport(_ context.Context, id string) (*Report, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var r Report
	if !get(m.reports, id, &r) {
		return nil, ErrReportNotFound
	}
	return &r, nil
}

func (m *MemoryStore) updateReport(id string, fn func(r *Report) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	var r Report
	if !get(m.reports, id, &r) {
		return ErrReportNotFound
	}
	if err := fn(&r); err != nil {
		return err
	}
	r.UpdatedAt = time.Now()
	return put(m.reports, id, &r)
}

// UpdateStatus moves a report to a new status.
func (m *MemoryStore) UpdateStatus(_ context.Context, id string, to workflow.ReportStatus, reason string) error {
	return m.updateReport(id, func(r *Report) error {
		return r.Transition(to, reason, time.Now())
	})
}

// SavePlan replaces the report's plan.
func (m *MemoryStore) SavePlan(_ context.Context, id string, plan *workflow.ReportPlan) error {
	return m.updateReport(id, func(r *Report) error {
		r.Plan = plan
		return nil
	})
}

// UpsertSection writes one section of a report.
func (m *MemoryStore) UpsertSection(_ context.Context, reportID string, sec Section) error {
	return m.updateReport(reportID, func(r *Report) error {
		sec.UpdatedAt = time.Now()
		r.UpsertSection(sec)
		return nil
	})
}

// SaveCheckpoint stores the run state, replacing any earlier checkpoint.
func (m *MemoryStore) SaveCheckpoint(_ context.Context, cp *Checkpoint) error {
	if cp.SavedAt.IsZero() {
		cp.SavedAt = time.Now()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return put(m.checkpoints, cp.ReportID, cp)
}

// LoadCheckpoint retrieves the latest checkpoint of a run.
func (m *MemoryStore) LoadCheckpoint(_ context.Context, reportID string) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var cp Checkpoint
	if !get(m.checkpoints, reportID, &cp) {
		return nil, ErrCheckpointNotFound
	}
	return &cp, nil
}

// PutProject creates or replaces a project.
func (m *MemoryStore) PutProject(_ context.Context, p *Project) error {
	if p.ID == "" {
		return errors.New("project ID is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return put(m.projects, p.ID, p)
}

// GetProject retrieves a project by ID.
func (m *MemoryStore) GetProject(_ context.Context, id string) (*Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var p Project
	if !get(m.projects, id, &p) {
		return nil, ErrProjectNotFound
	}
	return &p, nil
}

func put(bucket map[string][]byte, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	bucket[key] = data
	return nil
}

func get(bucket map[string][]byte, key string, v any) bool {
	data, ok := bucket[key]
	if !ok {
		return false
	}
	return json.Unmarshal(data, v) == nil
}
