package vision

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/c360studio/reportgen/llm"
	"github.com/c360studio/reportgen/model"
	"github.com/kaptinlin/jsonrepair"
)

// Analyzer analyzes a single image.
type Analyzer interface {
	Analyze(ctx context.Context, req Request) (*Analysis, error)

	// Provider names the backend for error descriptions.
	Provider() string
}

const photoPrompt = `You are a building inspection assistant. Describe only what is visible in the image.
Reply with JSON: {"description": string, "tags": [string], "severity": "None"|"Low"|"Medium"|"High"|"Critical"}.`

const schematicPrompt = `You read engineering drawings and specification sheets. Transcribe dimensions, labels and
notes exactly. Reply with JSON: {"description": string, "tags": [string], "severity": "None"}.`

// LLMAnalyzer calls the vision capability through an llm.Completer.
// The processor owns retries, so the client should make a single attempt.
type LLMAnalyzer struct {
	client    llm.Completer
	model     string
	maxTokens int
}

// AnalyzerOption configures an LLMAnalyzer.
type AnalyzerOption func(*LLMAnalyzer)

// WithModel pins a registry endpoint instead of the capability chain.
func WithModel(name string) AnalyzerOption {
	return func(a *LLMAnalyzer) {
		a.model = name
	}
}

// NewLLMAnalyzer creates an analyzer over client.
func NewLLMAnalyzer(client llm.Completer, opts ...AnalyzerOption) *LLMAnalyzer {
	a := &LLMAnalyzer{client: client, maxTokens: 2000}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Provider returns the pinned model, or the capability name.
func (a *LLMAnalyzer) Provider() string {
	if a.model != "" {
		return a.model
	}
	return string(model.CapabilityVision)
}

// Analyze sends the image as a content part and parses the JSON reply.
func (a *LLMAnalyzer) Analyze(ctx context.Context, req Request) (*Analysis, error) {
	prompt := photoPrompt
	text := "Describe the technical details in this image."
	if req.Kind == KindSchematic {
		prompt = schematicPrompt
		text = "Extract the technical details from this drawing."
	}
	if req.Description != "" {
		text += "\nContext: " + req.Description
	}

	temp := 0.1
	resp, err := a.client.Complete(ctx, llm.Request{
		Capability: string(model.CapabilityVision),
		Model:      a.model,
		Messages: []llm.Message{
			llm.SystemMessage(prompt),
			{Role: llm.RoleUser, Content: text, Images: []llm.ImagePart{{URL: req.URL}}},
		},
		Temperature: &temp,
		MaxTokens:   a.maxTokens,
	})
	if err != nil {
		return nil, err
	}
	return ParseAnalysis(resp.Content)
}

// ParseAnalysis reads model output as an Analysis. Fenced or slightly
// malformed JSON is repaired before giving up with a *ParseError.
func ParseAnalysis(content string) (*Analysis, error) {
	raw := llm.ExtractJSON(content)
	if raw == "" {
		raw = strings.TrimSpace(content)
	}

	var out Analysis
	err := json.Unmarshal([]byte(raw), &out)
	if err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(raw)
		if repairErr != nil {
			return nil, &ParseError{Content: content, Err: errors.Join(err, repairErr)}
		}
		if err := json.Unmarshal([]byte(repaired), &out); err != nil {
			return nil, &ParseError{Content: content, Err: err}
		}
	}

	out.Description = strings.TrimSpace(out.Description)
	if out.Description == "" {
		return nil, &ParseError{Content: content, Err: fmt.Errorf("missing description")}
	}
	if !out.Severity.IsValid() {
		out.Severity = SeverityNone
	}
	if out.Tags == nil {
		out.Tags = []string{}
	}
	return &out, nil
}
