package workflow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportStatus_CanTransitionTo(t *testing.T) {
	tests := []struct {
		from ReportStatus
		to   ReportStatus
		want bool
	}{
		{ReportGenerating, ReportAwaitingApproval, true},
		{ReportGenerating, ReportCompleted, true},
		{ReportGenerating, ReportFailed, true},
		{ReportAwaitingApproval, ReportGenerating, true},
		{ReportAwaitingApproval, ReportFailed, true},
		{ReportAwaitingApproval, ReportCompleted, false},
		{ReportCompleted, ReportGenerating, false},
		{ReportFailed, ReportGenerating, false},
		{ReportStatus("BOGUS"), ReportGenerating, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.from.CanTransitionTo(tt.to))
		})
	}
}

func TestApprovalStatus_CanTransitionTo(t *testing.T) {
	assert.True(t, ApprovalPending.CanTransitionTo(ApprovalApproved))
	assert.True(t, ApprovalPending.CanTransitionTo(ApprovalRejected))
	assert.False(t, ApprovalPending.CanTransitionTo(ApprovalPending))
	assert.False(t, ApprovalApproved.CanTransitionTo(ApprovalRejected), "decided plans are terminal")
	assert.False(t, ApprovalRejected.CanTransitionTo(ApprovalApproved), "decided plans are terminal")
}

func TestReportPlan_Validate(t *testing.T) {
	var nilPlan *ReportPlan
	require.ErrorIs(t, nilPlan.Validate(), ErrEmptyPlan)
	require.ErrorIs(t, (&ReportPlan{}).Validate(), ErrEmptyPlan)

	err := (&ReportPlan{Sections: []PlanSection{{SectionID: "s1", Title: "Scope"}, {SectionID: "s2"}}}).Validate()
	var pe *PlanError
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, 1, pe.Index)

	good := &ReportPlan{Sections: []PlanSection{{SectionID: "s1", Title: "Scope"}, {SectionID: "s2", Title: "Findings"}}}
	require.NoError(t, good.Validate())
	assert.Equal(t, []string{"Scope", "Findings"}, good.Titles())
}

func TestErrors(t *testing.T) {
	cause := errors.New("disk full")
	err := &PersistenceError{Op: "plan", Err: cause}
	assert.True(t, IsPersistenceError(err))
	assert.ErrorIs(t, err, cause)
	assert.False(t, IsPersistenceError(cause))

	assert.Equal(t, "supervisor produced no next_step", (&RoutingError{}).Error())
	assert.Contains(t, (&StepBudgetExceededError{Limit: 25, Node: "writer"}).Error(), "25")
	assert.Equal(t, "Tool not found.", (&ToolNotFoundError{Name: "x"}).Error())
}

func TestPlanFromArgs(t *testing.T) {
	args := map[string]any{
		"strategy": "walk the site clockwise",
		"sections": []any{
			map[string]any{"title": "Scope"},
			map[string]any{"sectionId": "obs", "title": "Observations", "assignedPhotoIds": []any{"img-1"},
				"subsections": []any{map[string]any{"title": "Roof", "assignedPhotoIds": []any{}}}},
		},
	}

	plan, err := PlanFromArgs(args)
	require.NoError(t, err)
	assert.Equal(t, "walk the site clockwise", plan.Strategy)
	require.Len(t, plan.Sections, 2)
	assert.Equal(t, "section-1", plan.Sections[0].SectionID)
	assert.Equal(t, 1, plan.Sections[0].ReportOrder)
	assert.Equal(t, 2, plan.Sections[1].ReportOrder)
	assert.Equal(t, "obs.1", plan.Sections[1].Subsections[0].SubSectionID)

	_, err = PlanFromArgs(map[string]any{"sections": []any{}})
	assert.ErrorIs(t, err, ErrEmptyPlan)

	_, err = PlanFromArgs(map[string]any{"sections": "not a list"})
	assert.Error(t, err)
}
