package report

import (
	"context"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/c360studio/reportgen/storage"
	"github.com/c360studio/reportgen/tools"
	"github.com/c360studio/reportgen/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T, selected ...string) (*tools.Registry, *storage.MemoryStore, context.Context) {
	t.Helper()
	ctx := context.Background()
	store := storage.NewMemoryStore()
	require.NoError(t, store.PutProject(ctx, &storage.Project{
		ID:          "p-1",
		Name:        "Harbour pier",
		Description: "Condition assessment",
		Specs:       map[string]string{"structure": "timber pier"},
		Images: []storage.Image{
			{ID: "img-1", URL: "https://img.example/1.jpg"},
			{ID: "img-2", URL: "https://img.example/2.jpg"},
			{ID: "img-3", URL: "https://img.example/3.jpg"},
		},
	}))
	require.NoError(t, store.CreateReport(ctx, &storage.Report{ID: "r-1", ProjectID: "p-1", UserID: "u-1"}))

	reg := tools.NewRegistry(New(store).List())
	scoped := tools.WithScope(ctx, tools.Scope{ProjectID: "p-1", UserID: "u-1", ReportID: "r-1", SelectedImageIDs: selected})
	return reg, store, scoped
}

func call(t *testing.T, ctx context.Context, reg *tools.Registry, name string, args map[string]any) map[string]any {
	t.Helper()
	tool, ok := reg.Lookup(name)
	require.True(t, ok, name)
	out, err := tool.Execute(ctx, args)
	require.NoError(t, err)
	m, ok := out.(map[string]any)
	require.True(t, ok)
	return m
}

func TestGetProjectImageIDs(t *testing.T) {
	tests := []struct {
		name     string
		selected []string
		want     []string
		status   string
	}{
		{name: "all images", want: []string{"img-1", "img-2", "img-3"}, status: StatusSuccess},
		{name: "selection filters", selected: []string{"img-3", "img-1"}, want: []string{"img-1", "img-3"}, status: StatusSuccess},
		{name: "selection matches nothing", selected: []string{"img-9"}, want: []string{}, status: StatusEmpty},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg, _, ctx := setup(t, tt.selected...)
			out := call(t, ctx, reg, ToolGetProjectImageIDs, nil)
			assert.Equal(t, tt.status, out["status"])
			assert.Equal(t, tt.want, out["imageIds"])
		})
	}
}

func TestGetProjectImageURLs(t *testing.T) {
	reg, _, ctx := setup(t)

	out := call(t, ctx, reg, ToolGetProjectImageURLs, map[string]any{"imageIds": []any{"img-2", "img-9"}})
	assert.Equal(t, StatusSuccess, out["status"])
	images := out["images"].([]storage.Image)
	require.Len(t, images, 1)
	assert.Equal(t, "https://img.example/2.jpg", images[0].URL)
	assert.Equal(t, []string{"img-9"}, out["missing"])

	out = call(t, ctx, reg, ToolGetProjectImageURLs, map[string]any{})
	assert.Equal(t, StatusError, out["status"])
}

func TestGetProjectSpecs(t *testing.T) {
	reg, _, ctx := setup(t)
	out := call(t, ctx, reg, ToolGetProjectSpecs, nil)
	assert.Equal(t, StatusSuccess, out["status"])
	assert.Equal(t, "Harbour pier", out["name"])
	assert.Equal(t, 3, out["photoCount"])

	missing := tools.WithScope(context.Background(), tools.Scope{ProjectID: "p-x", UserID: "u-1"})
	out = call(t, missing, reg, ToolGetProjectSpecs, nil)
	assert.Equal(t, StatusNotFound, out["status"])
}

func TestWriteSectionAndStructure(t *testing.T) {
	reg, store, ctx := setup(t)

	out := call(t, ctx, reg, ToolGetReportStructure, nil)
	assert.Equal(t, StatusNew, out["status"])

	long := strings.Repeat("é", 500)
	out = call(t, ctx, reg, ToolWriteSection, map[string]any{"heading": "Scope of Work", "content": long, "order": float64(1)})
	assert.Equal(t, StatusSuccess, out["status"])
	assert.Equal(t, "scope-of-work", out["sectionId"])
	preview := out["preview"].(string)
	assert.Equal(t, previewLength, utf8.RuneCountInString(preview))
	assert.True(t, strings.HasSuffix(preview, "..."))

	out = call(t, ctx, reg, ToolGetReportStructure, map[string]any{"reportId": "someone-elses-report"})
	assert.Equal(t, StatusFound, out["status"], "the scope's report ID wins over the model's")
	sections := out["sections"].([]sectionSummary)
	require.Len(t, sections, 1)
	assert.Equal(t, "Scope of Work", sections[0].Heading)

	r, err := store.GetReport(context.Background(), "r-1")
	require.NoError(t, err)
	require.Len(t, r.Sections, 1)
	assert.Equal(t, long, r.Sections[0].Content)
}

func TestWriteSection_Validation(t *testing.T) {
	reg, _, ctx := setup(t)

	out := call(t, ctx, reg, ToolWriteSection, map[string]any{"heading": "Scope"})
	assert.Equal(t, StatusError, out["status"])

	noReport := tools.WithScope(context.Background(), tools.Scope{ProjectID: "p-1", UserID: "u-1"})
	out = call(t, noReport, reg, ToolWriteSection, map[string]any{"heading": "Scope", "content": "x"})
	assert.Equal(t, StatusError, out["status"])

	tool, _ := reg.Lookup(ToolWriteSection)
	_, err := tool.Execute(context.Background(), map[string]any{"heading": "Scope", "content": "x"})
	assert.ErrorIs(t, err, workflow.ErrMissingScope)
}

func TestSubmitReportPlan(t *testing.T) {
	reg, _, ctx := setup(t)

	out := call(t, ctx, reg, ToolSubmitReportPlan, map[string]any{
		"strategy": "by component",
		"sections": []any{map[string]any{"title": "Deck"}, map[string]any{"title": "Piles"}},
	})
	assert.Equal(t, StatusSuccess, out["status"])
	assert.Equal(t, []string{"Deck", "Piles"}, out["sections"])

	out = call(t, ctx, reg, ToolSubmitReportPlan, map[string]any{"strategy": "none"})
	assert.Equal(t, StatusError, out["status"])
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "scope-of-work", Slug("  Scope of Work! "))
	assert.Equal(t, "1-introduction", Slug("1. Introduction"))
	assert.Equal(t, "", Slug("!!!"))
}
