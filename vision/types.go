// Package vision analyzes batches of inspection images with bounded
// concurrency and per-image retry.
package vision

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Severity classifies the condition shown in an image.
type Severity string

// Severity values.
const (
	SeverityNone     Severity = "None"
	SeverityLow      Severity = "Low"
	SeverityMedium   Severity = "Medium"
	SeverityHigh     Severity = "High"
	SeverityCritical Severity = "Critical"
)

var severities = []Severity{SeverityNone, SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical}

// ParseSeverity matches s case-insensitively. Unknown values become None.
func ParseSeverity(s string) Severity {
	s = strings.TrimSpace(s)
	for _, sev := range severities {
		if strings.EqualFold(s, string(sev)) {
			return sev
		}
	}
	return SeverityNone
}

// IsValid reports whether s is one of the known severities.
func (s Severity) IsValid() bool {
	for _, sev := range severities {
		if s == sev {
			return true
		}
	}
	return false
}

// UnmarshalJSON coerces any model-supplied value into a known severity.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		*s = SeverityNone
		return nil
	}
	*s = ParseSeverity(raw)
	return nil
}

// Kind selects the analysis prompt.
type Kind string

// Analysis kinds.
const (
	KindPhoto     Kind = "photo"
	KindSchematic Kind = "schematic"
)

// Request is one image to analyze.
type Request struct {
	ID          string `json:"id"`
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
	Kind        Kind   `json:"kind,omitempty"`
}

// Analysis is the structured output of a single model call.
type Analysis struct {
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Severity    Severity `json:"severity"`
}

// Result is the outcome for one request. Failed items carry Error and a
// description starting with "Error".
type Result struct {
	ImageID     string    `json:"imageId"`
	Description string    `json:"description"`
	Tags        []string  `json:"tags"`
	Severity    Severity  `json:"severity"`
	Timestamp   time.Time `json:"timestamp"`
	Error       string    `json:"error,omitempty"`
}

// Failed reports whether the item degraded to an error result.
func (r Result) Failed() bool {
	return r.Error != ""
}

// Degraded result descriptions.
const (
	ParseFailureDescription = "Error parsing image data."
	analyzeFailureFormat    = "Error: Could not analyze image with %s."
)

// ParseError is returned when model output cannot be read as an Analysis.
type ParseError struct {
	Content string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse image analysis: %v", e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}
