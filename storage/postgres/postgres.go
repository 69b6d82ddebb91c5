// Package postgres implements storage.Store on PostgreSQL through pgx.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/c360studio/reportgen/storage"
	"github.com/c360studio/reportgen/workflow"
)

// Default table names.
const (
	defaultReportsTable     = "reportgen_reports"
	defaultCheckpointsTable = "reportgen_checkpoints"
	defaultProjectsTable    = "reportgen_projects"
)

// Querier abstracts the pgx query methods the store needs.
// *pgxpool.Pool, pgx.Tx and pgxmock pools all satisfy it.
type Querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// TxQuerier extends Querier with transactions. Report updates use one to
// lock the row while it is rewritten.
type TxQuerier interface {
	Querier
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Store implements storage.Store on PostgreSQL.
type Store struct {
	db          Querier
	reports     string
	checkpoints string
	projects    string
}

var _ storage.Store = (*Store)(nil)

// Option configures a Store.
type Option func(*Store)

// WithTablePrefix replaces the "reportgen" table prefix. The resulting names
// are sanitized with pgx.Identifier because they are interpolated into SQL.
func WithTablePrefix(prefix string) Option {
	return func(s *Store) {
		s.reports = pgx.Identifier{prefix + "_reports"}.Sanitize()
		s.checkpoints = pgx.Identifier{prefix + "_checkpoints"}.Sanitize()
		s.projects = pgx.Identifier{prefix + "_projects"}.Sanitize()
	}
}

// New creates a Store on db.
func New(db Querier, opts ...Option) *Store {
	s := &Store{
		db:          db,
		reports:     defaultReportsTable,
		checkpoints: defaultCheckpointsTable,
		projects:    defaultProjectsTable,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateReport inserts a new report.
func (s *Store) CreateReport(ctx context.Context, r *storage.Report) error {
	if r.ID == "" {
		return errors.New("postgres: report ID is required")
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now
	if r.Status == "" {
		r.Status = workflow.ReportGenerating
	}

	plan, sections, changes, err := marshalReportJSON(r)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`INSERT INTO %s
		(id, project_id, user_id, report_type, status, plan, sections, status_changes, error, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`, s.reports)

	if _, err := s.db.Exec(ctx, query,
		r.ID, r.ProjectID, r.UserID, r.Type, string(r.Status),
		plan, sections, changes, r.Error, r.CreatedAt, r.UpdatedAt,
	); err != nil {
		return fmt.Errorf("postgres: insert report: %w", err)
	}
	return nil
}

// GetReport retrieves a report by ID.
func (s *Store) GetReport(ctx context.Context, id string) (*storage.Report, error) {
	return s.selectReport(ctx, s.db, id, false)
}

func (s *Store) selectReport(ctx context.Context, q Querier, id string, forUpdate bool) (*storage.Report, error) {
	query := fmt.Sprintf(`SELECT id, project_id, user_id, report_type, status, plan, sections, status_changes, error, created_at, updated_at
		FROM %s WHERE id = $1`, s.reports)
	if forUpdate {
		query += " FOR UPDATE"
	}

	var r storage.Report
	var status string
	var plan, sections, changes []byte
	err := q.QueryRow(ctx, query, id).Scan(
		&r.ID, &r.ProjectID, &r.UserID, &r.Type, &status,
		&plan, &sections, &changes, &r.Error, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrReportNotFound
		}
		return nil, fmt.Errorf("postgres: select report: %w", err)
	}
	r.Status = workflow.ReportStatus(status)

	if err := unmarshalNullable(plan, &r.Plan); err != nil {
		return nil, fmt.Errorf("postgres: decode plan: %w", err)
	}
	if err := unmarshalNullable(sections, &r.Sections); err != nil {
		return nil, fmt.Errorf("postgres: decode sections: %w", err)
	}
	if err := unmarshalNullable(changes, &r.StatusChanges); err != nil {
		return nil, fmt.Errorf("postgres: decode status changes: %w", err)
	}
	return &r, nil
}

// updateReport rewrites a report inside a transaction when the db supports
// one, otherwise with a plain read then write.
func (s *Store) updateReport(ctx context.Context, id string, fn func(r *storage.Report) error) error {
	txDB, ok := s.db.(TxQuerier)
	if !ok {
		return s.rewriteReport(ctx, s.db, id, false, fn)
	}

	tx, err := txDB.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // rollback after commit is a no-op

	if err := s.rewriteReport(ctx, tx, id, true, fn); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: commit tx: %w", err)
	}
	return nil
}

func (s *Store) rewriteReport(ctx context.Context, q Querier, id string, lock bool, fn func(r *storage.Report) error) error {
	r, err := s.selectReport(ctx, q, id, lock)
	if err != nil {
		return err
	}
	if err := fn(r); err != nil {
		return err
	}
	r.UpdatedAt = time.Now().UTC()

	plan, sections, changes, err := marshalReportJSON(r)
	if err != nil {
		return err
	}

	query := fmt.Sprintf(`UPDATE %s SET status = $2, plan = $3, sections = $4, status_changes = $5, error = $6, updated_at = $7
		WHERE id = $1`, s.reports)
	if _, err := q.Exec(ctx, query, r.ID, string(r.Status), plan, sections, changes, r.Error, r.UpdatedAt); err != nil {
		return fmt.Errorf("postgres: update report: %w", err)
	}
	return nil
}

// UpdateStatus moves a report to a new status.
func (s *Store) UpdateStatus(ctx context.Context, id string, to workflow.ReportStatus, reason string) error {
	return s.updateReport(ctx, id, func(r *storage.Report) error {
		return r.Transition(to, reason, time.Now().UTC())
	})
}

// SavePlan replaces the report's plan.
func (s *Store) SavePlan(ctx context.Context, id string, plan *workflow.ReportPlan) error {
	return s.updateReport(ctx, id, func(r *storage.Report) error {
		r.Plan = plan
		return nil
	})
}

// UpsertSection writes one section of a report.
func (s *Store) UpsertSection(ctx context.Context, reportID string, sec storage.Section) error {
	return s.updateReport(ctx, reportID, func(r *storage.Report) error {
		sec.UpdatedAt = time.Now().UTC()
		r.UpsertSection(sec)
		return nil
	})
}

// SaveCheckpoint stores the run state, replacing any earlier checkpoint.
func (s *Store) SaveCheckpoint(ctx context.Context, cp *storage.Checkpoint) error {
	if cp.SavedAt.IsZero() {
		cp.SavedAt = time.Now().UTC()
	}
	state, err := json.Marshal(cp.State)
	if err != nil {
		return fmt.Errorf("postgres: encode checkpoint: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (report_id, node, state, saved_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (report_id) DO UPDATE SET node = EXCLUDED.node, state = EXCLUDED.state, saved_at = EXCLUDED.saved_at`,
		s.checkpoints)
	if _, err := s.db.Exec(ctx, query, cp.ReportID, cp.Node, state, cp.SavedAt); err != nil {
		return fmt.Errorf("postgres: save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint retrieves the latest checkpoint of a run.
func (s *Store) LoadCheckpoint(ctx context.Context, reportID string) (*storage.Checkpoint, error) {
	query := fmt.Sprintf(`SELECT report_id, node, state, saved_at FROM %s WHERE report_id = $1`, s.checkpoints)

	var cp storage.Checkpoint
	var state []byte
	err := s.db.QueryRow(ctx, query, reportID).Scan(&cp.ReportID, &cp.Node, &state, &cp.SavedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrCheckpointNotFound
		}
		return nil, fmt.Errorf("postgres: load checkpoint: %w", err)
	}
	if err := json.Unmarshal(state, &cp.State); err != nil {
		return nil, fmt.Errorf("postgres: decode checkpoint: %w", err)
	}
	return &cp, nil
}

// PutProject creates or replaces a project.
func (s *Store) PutProject(ctx context.Context, p *storage.Project) error {
	if p.ID == "" {
		return errors.New("postgres: project ID is required")
	}
	specs, err := marshalNullableJSON(p.Specs, len(p.Specs) == 0)
	if err != nil {
		return fmt.Errorf("postgres: encode specs: %w", err)
	}
	images, err := marshalNullableJSON(p.Images, len(p.Images) == 0)
	if err != nil {
		return fmt.Errorf("postgres: encode images: %w", err)
	}

	query := fmt.Sprintf(`INSERT INTO %s (id, name, description, specs, images)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, description = EXCLUDED.description,
			specs = EXCLUDED.specs, images = EXCLUDED.images`, s.projects)
	if _, err := s.db.Exec(ctx, query, p.ID, p.Name, p.Description, specs, images); err != nil {
		return fmt.Errorf("postgres: put project: %w", err)
	}
	return nil
}

// GetProject retrieves a project by ID.
func (s *Store) GetProject(ctx context.Context, id string) (*storage.Project, error) {
	query := fmt.Sprintf(`SELECT id, name, description, specs, images FROM %s WHERE id = $1`, s.projects)

	var p storage.Project
	var specs, images []byte
	err := s.db.QueryRow(ctx, query, id).Scan(&p.ID, &p.Name, &p.Description, &specs, &images)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrProjectNotFound
		}
		return nil, fmt.Errorf("postgres: get project: %w", err)
	}
	if err := unmarshalNullable(specs, &p.Specs); err != nil {
		return nil, fmt.Errorf("postgres: decode specs: %w", err)
	}
	if err := unmarshalNullable(images, &p.Images); err != nil {
		return nil, fmt.Errorf("postgres: decode images: %w", err)
	}
	return &p, nil
}

func marshalReportJSON(r *storage.Report) (plan, sections, changes []byte, err error) {
	if plan, err = marshalNullableJSON(r.Plan, r.Plan == nil); err != nil {
		return nil, nil, nil, fmt.Errorf("postgres: encode plan: %w", err)
	}
	if sections, err = marshalNullableJSON(r.Sections, len(r.Sections) == 0); err != nil {
		return nil, nil, nil, fmt.Errorf("postgres: encode sections: %w", err)
	}
	if changes, err = marshalNullableJSON(r.StatusChanges, len(r.StatusChanges) == 0); err != nil {
		return nil, nil, nil, fmt.Errorf("postgres: encode status changes: %w", err)
	}
	return plan, sections, changes, nil
}

// marshalNullableJSON returns nil for empty values so the column stores SQL NULL.
func marshalNullableJSON(v any, empty bool) ([]byte, error) {
	if empty {
		return nil, nil
	}
	return json.Marshal(v)
}

func unmarshalNullable(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}
