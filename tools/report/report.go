// Package report provides the report-editing tool group: project lookups,
// section writes and plan submission.
package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode"

	"github.com/c360studio/reportgen/storage"
	"github.com/c360studio/reportgen/tools"
	"github.com/c360studio/reportgen/workflow"
)

// Envelope status values.
const (
	StatusSuccess  = "SUCCESS"
	StatusEmpty    = "EMPTY"
	StatusNotFound = "NOT_FOUND"
	StatusFound    = "FOUND"
	StatusNew      = "NEW"
	StatusError    = "ERROR"
)

// previewLength bounds the content echoed back after a section write.
const previewLength = 200

// Tool names.
const (
	ToolGetProjectImageIDs  = "getProjectImageIDS"
	ToolGetProjectImageURLs = "getProjectImageURLsWithIDS"
	ToolGetProjectSpecs     = "getProjectSpecs"
	ToolGetReportStructure  = "getReportStructure"
	ToolWriteSection        = "writeSection"
	ToolSubmitReportPlan    = workflow.SubmitPlanTool
)

// Tools builds the report group on store.
type Tools struct {
	store  storage.Store
	logger *slog.Logger
}

// Option configures Tools.
type Option func(*Tools)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tools) {
		t.logger = logger
	}
}

// New creates the report tool group.
func New(store storage.Store, opts ...Option) *Tools {
	t := &Tools{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Builder returns the group builder for tools.GroupSet.
func (t *Tools) Builder() tools.Builder {
	return t.List
}

// List returns the report tools.
func (t *Tools) List() []tools.Tool {
	return []tools.Tool{
		tools.New(ToolGetProjectImageIDs,
			"List the IDs of the project's photos. Only photos the user selected are returned when a selection exists.",
			tools.ObjectSchema(nil), t.getProjectImageIDs),
		tools.New(ToolGetProjectImageURLs,
			"Get accessible URLs for the given photo IDs.",
			tools.ObjectSchema(map[string]any{
				"imageIds": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Photo IDs returned by getProjectImageIDS",
				},
			}, "imageIds"), t.getProjectImageURLs),
		tools.New(ToolGetProjectSpecs,
			"Get the project's name, description and specifications.",
			tools.ObjectSchema(nil), t.getProjectSpecs),
		tools.New(ToolGetReportStructure,
			"Get the sections already written for the current report. Returns NEW when nothing has been written.",
			tools.ObjectSchema(map[string]any{
				"reportId": tools.StringProp("Optional report ID; defaults to the current report"),
			}), t.getReportStructure),
		tools.New(ToolWriteSection,
			"Create or replace one section of the current report. Write complete markdown content.",
			tools.ObjectSchema(map[string]any{
				"sectionId": tools.StringProp("Stable section identifier, e.g. the plan's sectionId"),
				"heading":   tools.StringProp("Section heading"),
				"content":   tools.StringProp("Section body in markdown"),
				"order":     map[string]any{"type": "integer", "description": "Position of the section in the report"},
				"metadata":  map[string]any{"type": "object", "description": "Optional extra data such as photo IDs"},
			}, "heading", "content"), t.writeSection),
		tools.New(ToolSubmitReportPlan,
			"Submit the proposed report outline for human review before writing any section.",
			planSchema(), t.submitReportPlan),
	}
}

func planSchema() map[string]any {
	section := tools.ObjectSchema(map[string]any{
		"sectionId":        tools.StringProp("Short stable identifier"),
		"title":            tools.StringProp("Section title"),
		"purpose":          tools.StringProp("What the section covers"),
		"reportOrder":      map[string]any{"type": "integer"},
		"assignedPhotoIds": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
		"subsections": map[string]any{
			"type": "array",
			"items": tools.ObjectSchema(map[string]any{
				"subSectionId":     tools.StringProp("Short stable identifier"),
				"title":            tools.StringProp("Subsection title"),
				"purpose":          tools.StringProp("What the subsection covers"),
				"assignedPhotoIds": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
			}, "title"),
		},
	}, "title")
	return tools.ObjectSchema(map[string]any{
		"sections":  map[string]any{"type": "array", "items": section},
		"strategy":  tools.StringProp("How the report is organised"),
		"reasoning": tools.StringProp("Why this structure fits the project"),
	}, "sections", "strategy")
}

func (t *Tools) project(ctx context.Context, scope tools.Scope) (*storage.Project, error) {
	p, err := t.store.GetProject(ctx, scope.ProjectID)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get project: %w", err)
	}
	return p, nil
}

func (t *Tools) getProjectImageIDs(ctx context.Context, _ map[string]any) (any, error) {
	scope, err := tools.RequireScope(ctx)
	if err != nil {
		return nil, err
	}
	p, err := t.project(ctx, scope)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return map[string]any{"status": StatusNotFound, "message": "Project not found."}, nil
	}

	ids := make([]string, 0, len(p.Images))
	for _, img := range p.Images {
		if len(scope.SelectedImageIDs) > 0 && !slices.Contains(scope.SelectedImageIDs, img.ID) {
			continue
		}
		ids = append(ids, img.ID)
	}
	if len(ids) == 0 {
		return map[string]any{"status": StatusEmpty, "imageIds": ids, "message": "No photos available."}, nil
	}
	return map[string]any{"status": StatusSuccess, "imageIds": ids, "count": len(ids)}, nil
}

func (t *Tools) getProjectImageURLs(ctx context.Context, args map[string]any) (any, error) {
	scope, err := tools.RequireScope(ctx)
	if err != nil {
		return nil, err
	}
	requested := tools.StringsArg(args, "imageIds")
	if len(requested) == 0 {
		return map[string]any{"status": StatusError, "message": "imageIds is required"}, nil
	}
	p, err := t.project(ctx, scope)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return map[string]any{"status": StatusNotFound, "message": "Project not found."}, nil
	}

	var images []storage.Image
	var missing []string
	for _, id := range requested {
		idx := slices.IndexFunc(p.Images, func(img storage.Image) bool { return img.ID == id })
		if idx < 0 {
			missing = append(missing, id)
			continue
		}
		images = append(images, p.Images[idx])
	}
	if len(images) == 0 {
		return map[string]any{"status": StatusNotFound, "missing": missing}, nil
	}
	out := map[string]any{"status": StatusSuccess, "images": images}
	if len(missing) > 0 {
		out["missing"] = missing
	}
	return out, nil
}

func (t *Tools) getProjectSpecs(ctx context.Context, _ map[string]any) (any, error) {
	scope, err := tools.RequireScope(ctx)
	if err != nil {
		return nil, err
	}
	p, err := t.project(ctx, scope)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return map[string]any{"status": StatusNotFound, "message": "Project not found."}, nil
	}
	return map[string]any{
		"status":      StatusSuccess,
		"name":        p.Name,
		"description": p.Description,
		"specs":       p.Specs,
		"photoCount":  len(p.Images),
	}, nil
}

type sectionSummary struct {
	SectionID string `json:"sectionId"`
	Heading   string `json:"heading"`
	Order     int    `json:"order"`
	Length    int    `json:"length"`
}

func (t *Tools) getReportStructure(ctx context.Context, args map[string]any) (any, error) {
	scope, err := tools.RequireScope(ctx)
	if err != nil {
		return nil, err
	}
	reportID := scope.ReportID
	if arg := tools.StringArg(args, "reportId"); arg != "" && arg != reportID {
		if reportID != "" {
			t.logger.Debug("Ignoring model-supplied report ID", "requested", arg, "report_id", reportID)
		} else {
			reportID = arg
		}
	}
	if reportID == "" {
		return map[string]any{"status": StatusNew, "sections": []sectionSummary{}}, nil
	}

	r, err := t.store.GetReport(ctx, reportID)
	if errors.Is(err, storage.ErrNotFound) {
		return map[string]any{"status": StatusNew, "sections": []sectionSummary{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get report: %w", err)
	}
	if r.ProjectID != "" && r.ProjectID != scope.ProjectID {
		return map[string]any{"status": StatusNotFound, "message": "Report does not belong to this project."}, nil
	}
	if len(r.Sections) == 0 {
		return map[string]any{"status": StatusNew, "reportId": r.ID, "sections": []sectionSummary{}}, nil
	}

	sections := make([]sectionSummary, 0, len(r.Sections))
	for _, s := range r.Sections {
		sections = append(sections, sectionSummary{SectionID: s.ID, Heading: s.Heading, Order: s.Order, Length: len(s.Content)})
	}
	return map[string]any{"status": StatusFound, "reportId": r.ID, "sections": sections}, nil
}

func (t *Tools) writeSection(ctx context.Context, args map[string]any) (any, error) {
	scope, err := tools.RequireScope(ctx)
	if err != nil {
		return nil, err
	}
	if scope.ReportID == "" {
		return map[string]any{"status": StatusError, "message": "No draft report exists for this run."}, nil
	}

	heading := strings.TrimSpace(tools.StringArg(args, "heading"))
	content := tools.StringArg(args, "content")
	if heading == "" || content == "" {
		return map[string]any{"status": StatusError, "message": "heading and content are required"}, nil
	}
	sectionID := tools.StringArg(args, "sectionId")
	if sectionID == "" {
		sectionID = Slug(heading)
	}
	var metadata map[string]any
	if m, ok := args["metadata"].(map[string]any); ok {
		metadata = m
	}

	sec := storage.Section{
		ID:       sectionID,
		Heading:  heading,
		Content:  content,
		Order:    tools.IntArg(args, "order", 0),
		Metadata: metadata,
	}
	if err := t.store.UpsertSection(ctx, scope.ReportID, sec); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return map[string]any{"status": StatusNotFound, "message": "Report not found."}, nil
		}
		return nil, fmt.Errorf("write section: %w", err)
	}

	return map[string]any{
		"status":    StatusSuccess,
		"sectionId": sectionID,
		"heading":   heading,
		"preview":   Preview(content, previewLength),
	}, nil
}

func (t *Tools) submitReportPlan(_ context.Context, args map[string]any) (any, error) {
	plan, err := workflow.PlanFromArgs(args)
	if err != nil {
		return map[string]any{"status": StatusError, "message": err.Error()}, nil
	}
	return map[string]any{
		"status":   StatusSuccess,
		"message":  "Plan submitted for review. Wait for approval before writing sections.",
		"sections": plan.Titles(),
	}, nil
}

// Preview returns at most n runes of s, marking truncation with "...".
func Preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 3 {
		return string(r[:n])
	}
	return string(r[:n-3]) + "..."
}

// Slug derives a section ID from a heading.
func Slug(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash && b.Len() > 0 {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}
