package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360studio/reportgen/storage"
	"github.com/c360studio/reportgen/workflow"
)

var reportColumns = []string{
	"id", "project_id", "user_id", "report_type", "status",
	"plan", "sections", "status_changes", "error", "created_at", "updated_at",
}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestNew_WithTablePrefix(t *testing.T) {
	mock := newMock(t)

	s := New(mock)
	assert.Equal(t, "reportgen_reports", s.reports)

	s = New(mock, WithTablePrefix("acme"))
	assert.Equal(t, `"acme_reports"`, s.reports)
	assert.Equal(t, `"acme_checkpoints"`, s.checkpoints)
	assert.Equal(t, `"acme_projects"`, s.projects)
}

func TestEnsureSchema(t *testing.T) {
	mock := newMock(t)
	s := New(mock)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS reportgen_reports").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE INDEX IF NOT EXISTS idx_reportgen_reports_project").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS reportgen_checkpoints").WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS reportgen_projects").WillReturnResult(pgxmock.NewResult("CREATE", 0))

	require.NoError(t, s.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateReport(t *testing.T) {
	mock := newMock(t)
	s := New(mock)

	mock.ExpectExec("INSERT INTO reportgen_reports").
		WithArgs("r-1", "p-1", "u-1", "inspection", "GENERATING",
			[]byte(nil), []byte(nil), []byte(nil), "", pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	r := &storage.Report{ID: "r-1", ProjectID: "p-1", UserID: "u-1", Type: "inspection"}
	require.NoError(t, s.CreateReport(context.Background(), r))
	assert.Equal(t, workflow.ReportGenerating, r.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReport(t *testing.T) {
	mock := newMock(t)
	s := New(mock)
	now := time.Now().UTC()

	plan, err := json.Marshal(&workflow.ReportPlan{Sections: []workflow.PlanSection{{SectionID: "s1", Title: "Scope"}}})
	require.NoError(t, err)

	mock.ExpectQuery("SELECT (.+) FROM reportgen_reports").
		WithArgs("r-1").
		WillReturnRows(pgxmock.NewRows(reportColumns).AddRow(
			"r-1", "p-1", "u-1", "inspection", "AWAITING_APPROVAL",
			plan, []byte(nil), []byte(nil), "", now, now,
		))

	r, err := s.GetReport(context.Background(), "r-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.ReportAwaitingApproval, r.Status)
	require.NotNil(t, r.Plan)
	assert.Equal(t, []string{"Scope"}, r.Plan.Titles())
	assert.Empty(t, r.Sections)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReport_NotFound(t *testing.T) {
	mock := newMock(t)
	s := New(mock)

	mock.ExpectQuery("SELECT (.+) FROM reportgen_reports").
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetReport(context.Background(), "missing")
	assert.ErrorIs(t, err, storage.ErrReportNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus(t *testing.T) {
	mock := newMock(t)
	s := New(mock)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM reportgen_reports WHERE id = (.+) FOR UPDATE").
		WithArgs("r-1").
		WillReturnRows(pgxmock.NewRows(reportColumns).AddRow(
			"r-1", "p-1", "u-1", "inspection", "GENERATING",
			[]byte(nil), []byte(nil), []byte(nil), "", now, now,
		))
	mock.ExpectExec("UPDATE reportgen_reports SET").
		WithArgs("r-1", "AWAITING_APPROVAL", []byte(nil), []byte(nil), pgxmock.AnyArg(), "", pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, s.UpdateStatus(context.Background(), "r-1", workflow.ReportAwaitingApproval, "plan proposed"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateStatus_InvalidTransitionRollsBack(t *testing.T) {
	mock := newMock(t)
	s := New(mock)
	now := time.Now().UTC()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT (.+) FROM reportgen_reports").
		WithArgs("r-1").
		WillReturnRows(pgxmock.NewRows(reportColumns).AddRow(
			"r-1", "p-1", "u-1", "inspection", "COMPLETED",
			[]byte(nil), []byte(nil), []byte(nil), "", now, now,
		))
	mock.ExpectRollback()

	err := s.UpdateStatus(context.Background(), "r-1", workflow.ReportGenerating, "")
	assert.ErrorIs(t, err, storage.ErrInvalidTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCheckpointRoundTrip(t *testing.T) {
	mock := newMock(t)
	s := New(mock)
	saved := time.Now().UTC()

	state := workflow.State{ProjectID: "p-1", UserID: "u-1", DraftReportID: "r-1", Steps: 3}
	encoded, err := json.Marshal(state)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO reportgen_checkpoints").
		WithArgs("r-1", workflow.NodeWriter, encoded, saved).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT report_id, node, state, saved_at FROM reportgen_checkpoints").
		WithArgs("r-1").
		WillReturnRows(pgxmock.NewRows([]string{"report_id", "node", "state", "saved_at"}).
			AddRow("r-1", workflow.NodeWriter, encoded, saved))

	ctx := context.Background()
	require.NoError(t, s.SaveCheckpoint(ctx, &storage.Checkpoint{
		ReportID: "r-1", Node: workflow.NodeWriter, State: state, SavedAt: saved,
	}))

	cp, err := s.LoadCheckpoint(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, "p-1", cp.State.ProjectID)
	assert.Equal(t, 3, cp.State.Steps)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestLoadCheckpoint_NotFound(t *testing.T) {
	mock := newMock(t)
	s := New(mock)

	mock.ExpectQuery("FROM reportgen_checkpoints").WithArgs("r-1").WillReturnError(pgx.ErrNoRows)

	_, err := s.LoadCheckpoint(context.Background(), "r-1")
	assert.ErrorIs(t, err, storage.ErrCheckpointNotFound)
}

func TestPutProject(t *testing.T) {
	mock := newMock(t)
	s := New(mock)

	images, err := json.Marshal([]storage.Image{{ID: "img-1", URL: "https://img.example/1.jpg"}})
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO reportgen_projects").
		WithArgs("p-1", "Bridge", "", []byte(nil), images).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.PutProject(context.Background(), &storage.Project{
		ID:     "p-1",
		Name:   "Bridge",
		Images: []storage.Image{{ID: "img-1", URL: "https://img.example/1.jpg"}},
	}))
	require.NoError(t, mock.ExpectationsWereMet())
}
