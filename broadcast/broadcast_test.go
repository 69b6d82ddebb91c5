package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/c360studio/reportgen/workflow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvent_JSON(t *testing.T) {
	plan := &workflow.ReportPlan{Sections: []workflow.PlanSection{{SectionID: "scope", Title: "Scope"}}}

	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{name: "status", ev: Status("Searching..."), want: `{"type":"status","chunk":"Searching..."}`},
		{name: "reasoning", ev: Reasoning("thinking"), want: `{"type":"reasoning","chunk":"thinking"}`},
		{name: "complete", ev: ReportComplete("r1", "p1"), want: `{"type":"report_complete","reportId":"r1","projectId":"p1"}`},
		{name: "error", ev: Error("boom", "p1"), want: `{"type":"error","projectId":"p1","message":"boom"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := json.Marshal(tt.ev)
			require.NoError(t, err)
			assert.JSONEq(t, tt.want, string(data))
		})
	}

	data, err := json.Marshal(Paused("r1", plan))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"reportPlan":{`)
	assert.Contains(t, string(data), `"type":"paused"`)
}

func TestChannelNames(t *testing.T) {
	assert.Equal(t, "project-p1", Channel("p1"))
	assert.Equal(t, "reportgen.project.p1", Subject("p1"))
}

func TestRecorder(t *testing.T) {
	var notified []EventType
	r := NewRecorder(func(rec Recorded) { notified = append(notified, rec.Event.Type) })
	ctx := context.Background()

	require.NoError(t, r.Publish(ctx, "p1", Status("a")))
	require.NoError(t, r.Publish(ctx, "p2", Status("b")))
	require.NoError(t, r.Publish(ctx, "p1", ReportComplete("r1", "p1")))

	assert.Equal(t, []EventType{TypeStatus, TypeReportComplete}, r.Types("p1"))
	assert.Len(t, r.Events(""), 3)
	assert.Equal(t, []EventType{TypeStatus, TypeStatus, TypeReportComplete}, notified)

	last, ok := r.Last("p1", TypeStatus)
	require.True(t, ok)
	assert.Equal(t, "a", last.Chunk)
	_, ok = r.Last("p2", TypeError)
	assert.False(t, ok)
}

type failingPublisher struct{ err error }

func (f failingPublisher) Publish(context.Context, string, Event) error { return f.err }

func TestMulti(t *testing.T) {
	rec := NewRecorder(nil)
	boom := errors.New("boom")
	m := Multi{failingPublisher{boom}, rec}

	err := m.Publish(context.Background(), "p1", Status("x"))
	assert.ErrorIs(t, err, boom)
	assert.Len(t, rec.Events("p1"), 1, "later publishers still receive the event")

	assert.NoError(t, Discard.Publish(context.Background(), "p1", Status("x")))
}
