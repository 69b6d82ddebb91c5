package stream

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/c360studio/reportgen/tools/report"
	"github.com/c360studio/reportgen/tools/research"
	"github.com/c360studio/reportgen/tools/vision"
	"github.com/c360studio/reportgen/workflow"
)

const (
	queryPreview   = 60
	sectionPreview = 150
)

// StatusForTool maps a tool call to the status shown to the user. Tools
// without an entry report false and stay hidden.
func StatusForTool(tool string, args map[string]any) (string, bool) {
	switch tool {
	case research.ToolSearchInternalKnowledge:
		return "Searching project database for " + quote(argOr(args, "query", "specs"), queryPreview) + "...", true
	case research.ToolSearchWeb:
		return "Searching the web for " + quote(argOr(args, "query", "references"), queryPreview) + "...", true
	case report.ToolWriteSection:
		return "Drafting section: " + argOr(args, "heading", argOr(args, "sectionId", "Section")) + "...", true
	case report.ToolGetProjectSpecs:
		return "Reviewing project specifications...", true
	case report.ToolSubmitReportPlan:
		return "Preparing the report plan for review...", true
	case vision.ToolAnalyzeBatchImages:
		n := 0
		if images, ok := args["images"].([]any); ok {
			n = len(images)
		}
		return fmt.Sprintf("Analyzing %d site photos...", n), true
	case vision.ToolAnalyzeSchematic:
		return "Reading drawing details...", true
	}
	return "", false
}

// NarrationForResult summarises a finished tool call for the reasoning
// channel. Tools without a summary report false.
func NarrationForResult(result workflow.ToolResult) (string, bool) {
	switch result.Name {
	case report.ToolWriteSection:
		if result.IsError() {
			return "Write failed: the section could not be saved.\n", true
		}
		var out struct {
			Status  string `json:"status"`
			Heading string `json:"heading"`
			Section string `json:"sectionId"`
			Preview string `json:"preview"`
		}
		if err := json.Unmarshal([]byte(result.Content), &out); err != nil || out.Status != report.StatusSuccess {
			return "Write failed: the section could not be saved.\n", true
		}
		title := out.Heading
		if title == "" {
			title = out.Section
		}
		preview := strings.ReplaceAll(out.Preview, "\n", " ")
		return fmt.Sprintf("Section saved: %s\n> %s\n", title, clip(preview, sectionPreview)), true
	case research.ToolSearchInternalKnowledge, research.ToolSearchWeb:
		text := strings.TrimSpace(strings.TrimPrefix(result.Text(), research.MatchHeader))
		return "Results: " + clip(strings.ReplaceAll(text, "\n", " "), sectionPreview) + "\n", true
	}
	return "", false
}

func argOr(args map[string]any, key, def string) string {
	if s, ok := args[key].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	return def
}

func quote(s string, n int) string {
	return `"` + clip(s, n) + `"`
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
