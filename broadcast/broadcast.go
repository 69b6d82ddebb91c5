// Package broadcast publishes run progress to per-project channels.
package broadcast

import (
	"context"
	"sync"

	"github.com/c360studio/reportgen/workflow"
)

// EventType names a broadcast event.
type EventType string

// Event types.
const (
	TypeStatus         EventType = "status"
	TypeReasoning      EventType = "reasoning"
	TypePaused         EventType = "paused"
	TypeReportComplete EventType = "report_complete"
	TypeError          EventType = "error"
)

// Event is one message on a project channel. Only the fields of its type
// are set.
type Event struct {
	Type       EventType            `json:"type"`
	Chunk      string               `json:"chunk,omitempty"`
	ReportID   string               `json:"reportId,omitempty"`
	ReportPlan *workflow.ReportPlan `json:"reportPlan,omitempty"`
	ProjectID  string               `json:"projectId,omitempty"`
	Message    string               `json:"message,omitempty"`
}

// Status builds a status event.
func Status(chunk string) Event {
	return Event{Type: TypeStatus, Chunk: chunk}
}

// Reasoning builds a reasoning event.
func Reasoning(chunk string) Event {
	return Event{Type: TypeReasoning, Chunk: chunk}
}

// Paused builds a paused event carrying the plan awaiting approval.
func Paused(reportID string, plan *workflow.ReportPlan) Event {
	return Event{Type: TypePaused, ReportID: reportID, ReportPlan: plan}
}

// ReportComplete builds a report_complete event.
func ReportComplete(reportID, projectID string) Event {
	return Event{Type: TypeReportComplete, ReportID: reportID, ProjectID: projectID}
}

// Error builds an error event.
func Error(message, projectID string) Event {
	return Event{Type: TypeError, Message: message, ProjectID: projectID}
}

// Channel returns the logical channel name for a project.
func Channel(projectID string) string {
	return "project-" + projectID
}

// Subject returns the NATS subject for a project channel.
func Subject(projectID string) string {
	return "reportgen.project." + projectID
}

// Publisher delivers events to a project channel.
type Publisher interface {
	Publish(ctx context.Context, projectID string, ev Event) error
}

// Discard drops every event.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(context.Context, string, Event) error { return nil }

// Multi publishes to every publisher and returns the first error.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, projectID string, ev Event) error {
	var first error
	for _, p := range m {
		if err := p.Publish(ctx, projectID, ev); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Recorded is an event captured by a Recorder.
type Recorded struct {
	ProjectID string
	Event     Event
}

// Recorder keeps every published event in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Recorded
	notify func(Recorded)
}

// NewRecorder creates a Recorder. When notify is set it is called for each
// event after it is recorded.
func NewRecorder(notify func(Recorded)) *Recorder {
	return &Recorder{notify: notify}
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, projectID string, ev Event) error {
	rec := Recorded{ProjectID: projectID, Event: ev}
	r.mu.Lock()
	r.events = append(r.events, rec)
	notify := r.notify
	r.mu.Unlock()

	if notify != nil {
		notify(rec)
	}
	return nil
}

// Events returns the events published to projectID, or all events when
// projectID is empty.
func (r *Recorder) Events(projectID string) []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Event
	for _, rec := range r.events {
		if projectID == "" || rec.ProjectID == projectID {
			out = append(out, rec.Event)
		}
	}
	return out
}

// Types returns the event types published to projectID in order.
func (r *Recorder) Types(projectID string) []EventType {
	events := r.Events(projectID)
	out := make([]EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

// Last returns the most recent event of type t for projectID.
func (r *Recorder) Last(projectID string, t EventType) (Event, bool) {
	events := r.Events(projectID)
	for i := len(events) - 1; i >= 0; i-- {
		if events[i].Type == t {
			return events[i], true
		}
	}
	return Event{}, false
}
