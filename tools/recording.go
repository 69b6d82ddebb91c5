package tools

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"
)

// MaxRecordedParamsLength is the max length for serialized parameters in a log record.
const MaxRecordedParamsLength = 1000

// MaxRecordedResultLength is the max length for result content in a log record.
const MaxRecordedResultLength = 2000

// Call outcomes reported to a CallObserver.
const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"
)

// CallObserver receives one observation per tool execution.
type CallObserver interface {
	ObserveToolCall(tool, outcome string, duration time.Duration)
}

// RecordingTool wraps a Tool and records each call to a logger and an
// optional observer. Results and errors pass through unchanged.
type RecordingTool struct {
	Tool
	observer CallObserver
	logger   *slog.Logger
}

// NewRecordingTool wraps inner with call recording. A nil observer disables
// metrics; a nil logger uses slog.Default().
func NewRecordingTool(inner Tool, observer CallObserver, logger *slog.Logger) *RecordingTool {
	if logger == nil {
		logger = slog.Default()
	}
	return &RecordingTool{Tool: inner, observer: observer, logger: logger}
}

// Execute runs the wrapped tool and records the call.
func (r *RecordingTool) Execute(ctx context.Context, args map[string]any) (any, error) {
	startedAt := time.Now()
	result, execErr := r.Tool.Execute(ctx, args)
	duration := time.Since(startedAt)

	outcome := OutcomeSuccess
	if execErr != nil {
		outcome = OutcomeError
	}
	if r.observer != nil {
		r.observer.ObserveToolCall(r.Name(), outcome, duration)
	}

	attrs := []any{
		"tool", r.Name(),
		"params", truncateJSON(args, MaxRecordedParamsLength),
		"duration_ms", duration.Milliseconds(),
	}
	if execErr != nil {
		r.logger.Warn("Tool call failed", append(attrs, "error", execErr)...)
	} else {
		r.logger.Debug("Tool call", append(attrs, "result", truncate(resultPreview(result), MaxRecordedResultLength))...)
	}

	return result, execErr
}

func resultPreview(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}

// truncateJSON marshals a map to JSON and truncates to maxLen.
func truncateJSON(m map[string]any, maxLen int) string {
	if m == nil {
		return "{}"
	}

	data, err := json.Marshal(m)
	if err != nil {
		return "{}"
	}
	return truncate(string(data), maxLen)
}

func truncate(s string, maxLen int) string {
	if len(s) > maxLen {
		return s[:maxLen] + "..."
	}
	return s
}
