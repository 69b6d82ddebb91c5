package workflow

import (
	"context"
	"sync"
	"time"
)

// EventKind classifies a workflow event.
type EventKind string

const (
	EventNodeStart EventKind = "node_start"
	EventNodeEnd   EventKind = "node_end"
	// EventToken carries model text as it is produced.
	EventToken     EventKind = "token"
	EventToolStart EventKind = "tool_start"
	EventToolEnd   EventKind = "tool_end"
	EventStatus    EventKind = "status"
	// EventReasoning carries narration that is batched before broadcast.
	EventReasoning EventKind = "reasoning"
	EventError     EventKind = "error"
)

// Event is emitted by the runner and nodes while a run progresses.
type Event struct {
	Kind   EventKind      `json:"kind"`
	Node   string         `json:"node,omitempty"`
	Text   string         `json:"text,omitempty"`
	Tool   string         `json:"tool,omitempty"`
	CallID string         `json:"call_id,omitempty"`
	Args   map[string]any `json:"args,omitempty"`
	Result *ToolResult    `json:"result,omitempty"`
	Err    error          `json:"-"`
	Time   time.Time      `json:"time"`
}

// EventSink receives workflow events in emission order.
type EventSink interface {
	Emit(ctx context.Context, ev Event)
}

// SinkFunc adapts a function to EventSink.
type SinkFunc func(ctx context.Context, ev Event)

// Emit calls f.
func (f SinkFunc) Emit(ctx context.Context, ev Event) {
	f(ctx, ev)
}

// Discard drops every event.
var Discard EventSink = SinkFunc(func(context.Context, Event) {})

// MultiSink fans each event out to every sink in order.
type MultiSink []EventSink

// Emit forwards ev to each sink.
func (m MultiSink) Emit(ctx context.Context, ev Event) {
	for _, s := range m {
		if s != nil {
			s.Emit(ctx, ev)
		}
	}
}

// EventLog records events for inspection.
type EventLog struct {
	mu     sync.Mutex
	events []Event
}

// Emit appends ev.
func (l *EventLog) Emit(_ context.Context, ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

// Events returns a copy of the recorded events.
func (l *EventLog) Events() []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]Event, len(l.events))
	copy(out, l.events)
	return out
}

// Kinds returns the kinds of the recorded events in order.
func (l *EventLog) Kinds() []EventKind {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]EventKind, len(l.events))
	for i, ev := range l.events {
		out[i] = ev.Kind
	}
	return out
}

// Node is one stage of the graph. It returns a patch to merge into state.
type Node interface {
	Name() string
	Run(ctx context.Context, state State, sink EventSink) (State, error)
}

// Node names.
const (
	NodeSupervisor = "supervisor"
	NodeResearcher = "researcher"
	NodeWriter     = "writer"
	NodeTools      = "tools"
	NodeFinish     = "FINISH"
)

// Emit stamps ev with the current time and sends it to sink.
func Emit(ctx context.Context, sink EventSink, ev Event) {
	if sink == nil {
		return
	}
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	sink.Emit(ctx, ev)
}
