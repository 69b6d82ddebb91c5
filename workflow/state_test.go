package workflow

import (
	"encoding/json"
	"testing"

	"github.com/c360studio/reportgen/llm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMerge(t *testing.T) {
	plan := &ReportPlan{Sections: []PlanSection{{SectionID: "s1", Title: "Scope"}}}

	tests := []struct {
		name  string
		base  State
		patch State
		check func(t *testing.T, got State)
	}{
		{
			name:  "messages append in order",
			base:  State{Messages: []Message{llm.UserMessage("a")}},
			patch: State{Messages: []Message{{Role: llm.RoleAssistant, Content: "b"}, llm.UserMessage("c")}},
			check: func(t *testing.T, got State) {
				require.Len(t, got.Messages, 3)
				assert.Equal(t, []string{"a", "b", "c"}, []string{got.Messages[0].Content, got.Messages[1].Content, got.Messages[2].Content})
			},
		},
		{
			name:  "selected images form a set",
			base:  State{SelectedImageIDs: []string{"img-1", "img-2"}},
			patch: State{SelectedImageIDs: []string{"img-2", "img-3", ""}},
			check: func(t *testing.T, got State) {
				assert.Equal(t, []string{"img-1", "img-2", "img-3"}, got.SelectedImageIDs)
			},
		},
		{
			name:  "context and draft id are set once",
			base:  State{Context: "original", DraftReportID: "r1"},
			patch: State{Context: "replacement", DraftReportID: "r2"},
			check: func(t *testing.T, got State) {
				assert.Equal(t, "original", got.Context)
				assert.Equal(t, "r1", got.DraftReportID)
			},
		},
		{
			name:  "empty set-once fields take the patch",
			base:  State{},
			patch: State{Context: "ctx", DraftReportID: "r1", ProjectID: "p1"},
			check: func(t *testing.T, got State) {
				assert.Equal(t, "ctx", got.Context)
				assert.Equal(t, "r1", got.DraftReportID)
				assert.Equal(t, "p1", got.ProjectID)
			},
		},
		{
			name:  "scalars are last write wins",
			base:  State{Provider: "claude", CurrentSection: "intro", NextStep: RouteResearch},
			patch: State{Provider: "gemini", CurrentSection: "scope", NextStep: RouteWrite},
			check: func(t *testing.T, got State) {
				assert.Equal(t, "gemini", got.Provider)
				assert.Equal(t, "scope", got.CurrentSection)
				assert.Equal(t, RouteWrite, got.NextStep)
			},
		},
		{
			name:  "zero patch keeps scalars",
			base:  State{Provider: "claude", NextStep: RouteWrite, ApprovalStatus: ApprovalPending},
			patch: State{},
			check: func(t *testing.T, got State) {
				assert.Equal(t, "claude", got.Provider)
				assert.Equal(t, RouteWrite, got.NextStep)
				assert.Equal(t, ApprovalPending, got.ApprovalStatus)
			},
		},
		{
			name:  "clear next step",
			base:  State{NextStep: RouteWrite},
			patch: State{ClearNextStep: true},
			check: func(t *testing.T, got State) {
				assert.Empty(t, got.NextStep)
				assert.False(t, got.ClearNextStep)
			},
		},
		{
			name:  "hitl fields last write wins",
			base:  State{ApprovalStatus: ApprovalPending},
			patch: State{ReportPlan: plan, ApprovalStatus: ApprovalApproved, UserFeedback: "ok"},
			check: func(t *testing.T, got State) {
				assert.Same(t, plan, got.ReportPlan)
				assert.Equal(t, ApprovalApproved, got.ApprovalStatus)
				assert.Equal(t, "ok", got.UserFeedback)
			},
		},
		{
			name:  "steps add",
			base:  State{Steps: 4},
			patch: State{Steps: 1},
			check: func(t *testing.T, got State) {
				assert.Equal(t, 5, got.Steps)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, Merge(tt.base, tt.patch))
		})
	}
}

func TestMerge_DoesNotAliasBase(t *testing.T) {
	base := State{
		Messages:         make([]Message, 1, 10),
		SelectedImageIDs: make([]string, 1, 10),
	}
	base.Messages[0] = llm.UserMessage("a")
	base.SelectedImageIDs[0] = "img-1"

	first := Merge(base, State{Messages: []Message{llm.UserMessage("b")}, SelectedImageIDs: []string{"img-2"}})
	second := Merge(base, State{Messages: []Message{llm.UserMessage("c")}, SelectedImageIDs: []string{"img-3"}})

	assert.Equal(t, "b", first.Messages[1].Content)
	assert.Equal(t, "c", second.Messages[1].Content)
	assert.Equal(t, "img-2", first.SelectedImageIDs[1])
	assert.Len(t, base.Messages, 1)
}

func TestState_PendingToolCalls(t *testing.T) {
	calls := []ToolCall{{ID: "1", Name: "writeSection"}}

	tests := []struct {
		name  string
		state State
		want  int
	}{
		{name: "empty", state: State{}, want: 0},
		{name: "assistant with calls", state: State{Messages: []Message{{Role: llm.RoleAssistant, ToolCalls: calls}}}, want: 1},
		{name: "assistant without calls", state: State{Messages: []Message{{Role: llm.RoleAssistant, Content: "done"}}}, want: 0},
		{
			name: "calls already answered",
			state: State{Messages: []Message{
				{Role: llm.RoleAssistant, ToolCalls: calls},
				ToolResult{CallID: "1", Name: "writeSection", Content: "ok"}.Message(),
			}},
			want: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Len(t, tt.state.PendingToolCalls(), tt.want)
		})
	}
}

func TestState_JSONOmitsClient(t *testing.T) {
	s := State{ProjectID: "p1", Client: struct{ Secret string }{"x"}, NextStep: RouteWrite}

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "Secret")

	var restored State
	require.NoError(t, json.Unmarshal(data, &restored))
	assert.Equal(t, "p1", restored.ProjectID)
	assert.Equal(t, RouteWrite, restored.NextStep)
	assert.Nil(t, restored.Client)
}

func TestParseRoute(t *testing.T) {
	tests := []struct {
		in      string
		want    RouteKey
		wantErr bool
	}{
		{in: "research", want: RouteResearch},
		{in: "write", want: RouteWrite},
		{in: " FINISH\n", want: RouteFinish},
		{in: "finish", wantErr: true},
		{in: "", wantErr: true},
		{in: "architect", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseRoute(tt.in)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidRoute)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToolResult_Message(t *testing.T) {
	ok := ToolResult{CallID: "c1", Name: "writeSection", Content: `{"status":"SUCCESS"}`}
	msg := ok.Message()
	assert.Equal(t, llm.RoleTool, msg.Role)
	assert.Equal(t, "c1", msg.ToolCallID)
	assert.Equal(t, `{"status":"SUCCESS"}`, msg.Content)

	failed := ToolResult{CallID: "c2", Name: "nonexistentTool", Error: "Tool not found."}
	assert.True(t, failed.IsError())
	assert.Equal(t, "Error: Tool not found.", failed.Message().Content)
}
