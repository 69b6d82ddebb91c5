package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/c360studio/reportgen/llm"
	"github.com/c360studio/reportgen/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runStoreContract exercises the behavior every Store backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("report lifecycle", func(t *testing.T) {
		s := newStore(t)
		r := &Report{ID: "r-1", ProjectID: "p-1", UserID: "u-1", Type: "inspection"}
		require.NoError(t, s.CreateReport(ctx, r))
		assert.Equal(t, workflow.ReportGenerating, r.Status)

		require.NoError(t, s.UpdateStatus(ctx, "r-1", workflow.ReportAwaitingApproval, "plan proposed"))
		require.NoError(t, s.UpdateStatus(ctx, "r-1", workflow.ReportGenerating, "approved"))
		require.NoError(t, s.UpdateStatus(ctx, "r-1", workflow.ReportCompleted, ""))

		got, err := s.GetReport(ctx, "r-1")
		require.NoError(t, err)
		assert.Equal(t, workflow.ReportCompleted, got.Status)
		require.Len(t, got.StatusChanges, 3)
		assert.Equal(t, workflow.ReportAwaitingApproval, got.StatusChanges[0].To)

		err = s.UpdateStatus(ctx, "r-1", workflow.ReportGenerating, "")
		assert.ErrorIs(t, err, ErrInvalidTransition)
	})

	t.Run("missing report", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetReport(ctx, "nope")
		assert.ErrorIs(t, err, ErrReportNotFound)
		assert.ErrorIs(t, err, ErrNotFound)
		assert.ErrorIs(t, s.SavePlan(ctx, "nope", &workflow.ReportPlan{}), ErrReportNotFound)
	})

	t.Run("plan and approval record", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateReport(ctx, &Report{ID: "r-2", ProjectID: "p-1"}))

		plan := &workflow.ReportPlan{
			Strategy: "by area",
			Sections: []workflow.PlanSection{
				{SectionID: "s1", Title: "Scope", ReportOrder: 1},
				{SectionID: "s2", Title: "Findings", ReportOrder: 2, AssignedPhotoIDs: []string{"img-1"}},
			},
		}
		require.NoError(t, s.SavePlan(ctx, "r-2", plan))
		require.NoError(t, s.UpdateStatus(ctx, "r-2", workflow.ReportAwaitingApproval, ""))

		got, err := s.GetReport(ctx, "r-2")
		require.NoError(t, err)
		rec := got.ApprovalRecord()
		assert.Equal(t, "r-2", rec.ReportID)
		assert.Equal(t, workflow.ReportAwaitingApproval, rec.Status)
		require.NotNil(t, rec.Plan)
		assert.Equal(t, []string{"Scope", "Findings"}, rec.Plan.Titles())
		assert.Equal(t, []string{"img-1"}, rec.Plan.Sections[1].AssignedPhotoIDs)
	})

	t.Run("sections upsert in order", func(t *testing.T) {
		s := newStore(t)
		require.NoError(t, s.CreateReport(ctx, &Report{ID: "r-3"}))

		require.NoError(t, s.UpsertSection(ctx, "r-3", Section{ID: "findings", Heading: "Findings", Order: 2}))
		require.NoError(t, s.UpsertSection(ctx, "r-3", Section{ID: "scope", Heading: "Scope", Order: 1}))
		require.NoError(t, s.UpsertSection(ctx, "r-3", Section{ID: "findings", Heading: "Findings", Content: "v2", Order: 2}))

		got, err := s.GetReport(ctx, "r-3")
		require.NoError(t, err)
		require.Len(t, got.Sections, 2)
		assert.Equal(t, "scope", got.Sections[0].ID)
		assert.Equal(t, "v2", got.Sections[1].Content)
	})

	t.Run("checkpoint round trip", func(t *testing.T) {
		s := newStore(t)
		_, err := s.LoadCheckpoint(ctx, "r-4")
		require.ErrorIs(t, err, ErrCheckpointNotFound)

		state := workflow.State{
			Messages: []workflow.Message{
				llm.UserMessage("write the report"),
				{Role: llm.RoleAssistant, ToolCalls: []llm.ToolCall{{ID: "c1", Name: "submitReportPlan", Arguments: map[string]any{"strategy": "x"}}}},
			},
			ProjectID:      "p-1",
			UserID:         "u-1",
			DraftReportID:  "r-4",
			ApprovalStatus: workflow.ApprovalPending,
			Client:         struct{}{},
			Steps:          7,
		}
		require.NoError(t, s.SaveCheckpoint(ctx, &Checkpoint{ReportID: "r-4", Node: workflow.NodeWriter, State: state}))

		cp, err := s.LoadCheckpoint(ctx, "r-4")
		require.NoError(t, err)
		assert.Equal(t, workflow.NodeWriter, cp.Node)
		assert.False(t, cp.SavedAt.IsZero())
		assert.Equal(t, 7, cp.State.Steps)
		assert.Equal(t, workflow.ApprovalPending, cp.State.ApprovalStatus)
		assert.Nil(t, cp.State.Client, "the client handle is never persisted")
		require.Len(t, cp.State.Messages, 2)
		assert.Equal(t, "x", cp.State.Messages[1].ToolCalls[0].Arguments["strategy"])
	})

	t.Run("projects", func(t *testing.T) {
		s := newStore(t)
		_, err := s.GetProject(ctx, "p-9")
		require.True(t, errors.Is(err, ErrProjectNotFound))

		require.NoError(t, s.PutProject(ctx, &Project{
			ID:     "p-9",
			Name:   "Bridge deck",
			Specs:  map[string]string{"location": "Kelowna"},
			Images: []Image{{ID: "img-1", URL: "https://img.example/1.jpg"}},
		}))
		p, err := s.GetProject(ctx, "p-9")
		require.NoError(t, err)
		assert.Equal(t, "Bridge deck", p.Name)
		assert.Equal(t, "Kelowna", p.Specs["location"])
		require.Len(t, p.Images, 1)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store { return NewMemoryStore() })
}

func TestMemoryStore_DuplicateReport(t *testing.T) {
	s := NewMemoryStore()
	require.NoError(t, s.CreateReport(context.Background(), &Report{ID: "r-1"}))
	require.Error(t, s.CreateReport(context.Background(), &Report{ID: "r-1"}))
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateReport(ctx, &Report{ID: "r-1"}))

	got, err := s.GetReport(ctx, "r-1")
	require.NoError(t, err)
	got.Status = workflow.ReportFailed

	again, err := s.GetReport(ctx, "r-1")
	require.NoError(t, err)
	assert.Equal(t, workflow.ReportGenerating, again.Status)
}

func TestReport_Transition(t *testing.T) {
	now := time.Now()
	r := &Report{Status: workflow.ReportGenerating}

	require.NoError(t, r.Transition(workflow.ReportGenerating, "", now), "same status is a no-op")
	assert.Empty(t, r.StatusChanges)

	require.NoError(t, r.Transition(workflow.ReportFailed, "model unavailable", now))
	assert.Equal(t, "model unavailable", r.Error)
	assert.ErrorIs(t, r.Transition(workflow.ReportCompleted, "", now), ErrInvalidTransition)
}
