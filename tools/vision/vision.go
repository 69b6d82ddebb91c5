// Package vision provides the vision tool group over the batch processor.
package vision

import (
	"context"
	"fmt"
	"strings"

	"github.com/c360studio/reportgen/tools"
	"github.com/c360studio/reportgen/vision"
)

// Tool names.
const (
	ToolAnalyzeBatchImages = "analyze_batch_images"
	ToolAnalyzeSchematic   = "analyzeSchematic"
)

const resultSeparator = "\n\n---\n\n"

// Tools builds the vision group on a processor.
type Tools struct {
	processor *vision.Processor
}

// New creates the vision tool group.
func New(processor *vision.Processor) *Tools {
	return &Tools{processor: processor}
}

// Builder returns the group builder for tools.GroupSet.
func (t *Tools) Builder() tools.Builder {
	return t.List
}

// List returns the vision tools.
func (t *Tools) List() []tools.Tool {
	imageSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"id":          tools.StringProp("The image ID, kept from the source"),
			"url":         tools.StringProp("Signed URL of the image"),
			"description": tools.StringProp("Caption supplied by the inspector"),
		},
		"required": []string{"id", "url"},
	}

	return []tools.Tool{
		tools.New(ToolAnalyzeBatchImages,
			"Analyze a batch of images to extract visual evidence. Results keep each image ID.",
			tools.ObjectSchema(map[string]any{
				"images": map[string]any{"type": "array", "items": imageSchema},
				"focus":  tools.StringProp("Visual elements to look for, e.g. water damage"),
			}, "images"),
			t.analyzeBatch),
		tools.New(ToolAnalyzeSchematic,
			"Analyze a single drawing or specification sheet.",
			tools.ObjectSchema(map[string]any{
				"imageUrl": tools.StringProp("URL of the schematic image"),
				"imageId":  tools.StringProp("Optional ID for tracking"),
				"question": tools.StringProp("What to look for in the drawing"),
			}, "imageUrl"),
			t.analyzeSchematic),
	}
}

type batchArgs struct {
	Images []vision.Request `json:"images"`
	Focus  string           `json:"focus"`
}

func (t *Tools) analyzeBatch(ctx context.Context, args map[string]any) (any, error) {
	var in batchArgs
	if err := tools.DecodeArgs(args, &in); err != nil {
		return nil, err
	}
	if len(in.Images) == 0 {
		return nil, fmt.Errorf("images is required")
	}
	for i := range in.Images {
		in.Images[i].Kind = vision.KindPhoto
		if in.Focus != "" {
			in.Images[i].Description = strings.TrimSpace(in.Images[i].Description + "\nFocus: " + in.Focus)
		}
	}

	results := t.processor.AnalyzeBatch(ctx, in.Images)

	blocks := make([]string, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, FormatResult(r, in.Focus))
	}
	return strings.Join(blocks, resultSeparator), nil
}

func (t *Tools) analyzeSchematic(ctx context.Context, args map[string]any) (any, error) {
	url := tools.StringArg(args, "imageUrl")
	if url == "" {
		return nil, fmt.Errorf("imageUrl is required")
	}
	id := tools.StringArg(args, "imageId")
	if id == "" {
		id = "schematic"
	}

	r := t.processor.Analyze(ctx, vision.Request{
		ID:          id,
		URL:         url,
		Description: tools.StringArg(args, "question"),
		Kind:        vision.KindSchematic,
	})
	return r.Description, nil
}

// FormatResult renders one result under a header carrying its image ID.
func FormatResult(r vision.Result, focus string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "### Analysis for Image ID: %s\n", r.ImageID)
	if focus != "" {
		fmt.Fprintf(&b, "Focus: %s\n", focus)
	}
	if !r.Failed() {
		fmt.Fprintf(&b, "Severity: %s\n", r.Severity)
		if len(r.Tags) > 0 {
			fmt.Fprintf(&b, "Tags: %s\n", strings.Join(r.Tags, ", "))
		}
	}
	b.WriteString(r.Description)
	return b.String()
}
