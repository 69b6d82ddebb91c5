package vision

import (
	"context"
	"strings"
	"testing"

	"github.com/c360studio/reportgen/llm"
	"github.com/c360studio/reportgen/llm/testutil"
	"github.com/c360studio/reportgen/vision"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTools(handler func(req llm.Request) (*llm.Response, error)) (*Tools, *testutil.MockLLMClient) {
	mock := &testutil.MockLLMClient{Handler: func(_ context.Context, req llm.Request) (*llm.Response, error) {
		return handler(req)
	}}
	processor := vision.NewProcessor(vision.NewLLMAnalyzer(mock), vision.WithBackoffStep(0))
	return New(processor), mock
}

func imageURL(req llm.Request) string {
	for _, m := range req.Messages {
		if len(m.Images) > 0 {
			return m.Images[0].URL
		}
	}
	return ""
}

func TestAnalyzeBatchImages(t *testing.T) {
	tl, _ := newTools(func(req llm.Request) (*llm.Response, error) {
		if strings.HasSuffix(imageURL(req), "/broken.jpg") {
			return nil, llm.NewTransientError(&llm.HTTPError{StatusCode: 503})
		}
		return &llm.Response{Content: `{"description":"Efflorescence on wall","tags":["moisture"],"severity":"Medium"}`}, nil
	})
	list := tl.List()
	require.Len(t, list, 2)
	batch := list[0]
	assert.Equal(t, ToolAnalyzeBatchImages, batch.Name())

	out, err := batch.Execute(context.Background(), map[string]any{
		"images": []any{
			map[string]any{"id": "a1", "url": "https://img.example/a1.jpg"},
			map[string]any{"id": "b2", "url": "https://img.example/broken.jpg"},
		},
		"focus": "moisture",
	})
	require.NoError(t, err)

	blocks := strings.Split(out.(string), resultSeparator)
	require.Len(t, blocks, 2)
	assert.Contains(t, blocks[0], "### Analysis for Image ID: a1")
	assert.Contains(t, blocks[0], "Severity: Medium")
	assert.Contains(t, blocks[0], "Focus: moisture")
	assert.Contains(t, blocks[1], "### Analysis for Image ID: b2")
	assert.Contains(t, blocks[1], "Error: Could not analyze image with vision.")
}

func TestAnalyzeBatchImages_RequiresImages(t *testing.T) {
	tl, mock := newTools(func(llm.Request) (*llm.Response, error) {
		return &llm.Response{}, nil
	})
	_, err := tl.List()[0].Execute(context.Background(), map[string]any{})
	require.Error(t, err)
	assert.Equal(t, 0, mock.GetCallCount())
}

func TestAnalyzeSchematic(t *testing.T) {
	tl, mock := newTools(func(llm.Request) (*llm.Response, error) {
		return &llm.Response{Content: `{"description":"Footing 600x600, 4 bars each way","tags":["footing"],"severity":"None"}`}, nil
	})
	schematic := tl.List()[1]

	out, err := schematic.Execute(context.Background(), map[string]any{
		"imageUrl": "https://img.example/s1.png",
		"question": "footing size",
	})
	require.NoError(t, err)
	assert.Equal(t, "Footing 600x600, 4 bars each way", out)

	reqs := mock.Requests()
	require.Len(t, reqs, 1)
	assert.Contains(t, reqs[0].Messages[1].Content, "footing size")

	_, err = schematic.Execute(context.Background(), map[string]any{})
	require.Error(t, err)
}
