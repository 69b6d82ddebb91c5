// Package stream turns workflow events into the client line protocol, the
// status broadcast and batched reasoning narration.
package stream

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/c360studio/reportgen/broadcast"
	"github.com/c360studio/reportgen/workflow"
)

// Frame prefixes of the line protocol.
const (
	FrameText  = "0"
	FrameError = "3"
)

// Adapter is a workflow.EventSink. Model text is written to the client as
// it arrives; tool activity becomes deduplicated status broadcasts.
type Adapter struct {
	w         io.Writer
	flusher   http.Flusher
	publisher broadcast.Publisher
	projectID string
	narrator  *Narrator
	logger    *slog.Logger

	mu         sync.Mutex
	lastStatus string
	writeErr   error
}

// Option configures an Adapter.
type Option func(*adapterConfig)

type adapterConfig struct {
	writer        io.Writer
	flushInterval time.Duration
	logger        *slog.Logger
}

// WithWriter streams text frames to w. Without a writer only broadcasts
// are produced.
func WithWriter(w io.Writer) Option {
	return func(c *adapterConfig) {
		c.writer = w
	}
}

// WithFlushInterval sets the reasoning flush cadence.
func WithFlushInterval(d time.Duration) Option {
	return func(c *adapterConfig) {
		c.flushInterval = d
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *adapterConfig) {
		c.logger = logger
	}
}

// NewAdapter creates an adapter broadcasting to projectID. Close must be
// called when the run ends.
func NewAdapter(ctx context.Context, publisher broadcast.Publisher, projectID string, opts ...Option) *Adapter {
	cfg := adapterConfig{flushInterval: DefaultFlushInterval, logger: slog.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}
	if publisher == nil {
		publisher = broadcast.Discard
	}

	a := &Adapter{
		w:         cfg.writer,
		publisher: publisher,
		projectID: projectID,
		logger:    cfg.logger,
		narrator:  NewNarrator(ctx, publisher, projectID, cfg.flushInterval, cfg.logger),
	}
	if f, ok := cfg.writer.(http.Flusher); ok {
		a.flusher = f
	}
	return a
}

// Emit implements workflow.EventSink.
func (a *Adapter) Emit(ctx context.Context, ev workflow.Event) {
	switch ev.Kind {
	case workflow.EventToken:
		a.writeFrame(FrameText, ev.Text)
	case workflow.EventToolStart:
		status, ok := StatusForTool(ev.Tool, ev.Args)
		if !ok {
			a.logger.Debug("No status for tool", "tool", ev.Tool)
			return
		}
		a.SendStatus(ctx, status)
	case workflow.EventToolEnd:
		if ev.Result == nil {
			return
		}
		if text, ok := NarrationForResult(*ev.Result); ok {
			a.narrator.Write(text)
		}
	case workflow.EventStatus:
		a.SendStatus(ctx, ev.Text)
	case workflow.EventReasoning:
		a.narrator.Write(ev.Text)
	case workflow.EventError:
		msg := ev.Text
		if msg == "" && ev.Err != nil {
			msg = ev.Err.Error()
		}
		a.writeFrame(FrameError, msg)
	}
}

// SendStatus broadcasts status unless it equals the last status sent.
func (a *Adapter) SendStatus(ctx context.Context, status string) {
	if status == "" {
		return
	}
	a.mu.Lock()
	if status == a.lastStatus {
		a.mu.Unlock()
		return
	}
	a.lastStatus = status
	a.mu.Unlock()

	if err := a.publisher.Publish(ctx, a.projectID, broadcast.Status(status)); err != nil {
		a.logger.Warn("Status broadcast failed", "project_id", a.projectID, "error", err)
	}
}

// Narrate buffers reasoning text directly.
func (a *Adapter) Narrate(text string) {
	a.narrator.Write(text)
}

// Err returns the first error writing to the client.
func (a *Adapter) Err() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.writeErr
}

// Close flushes remaining narration.
func (a *Adapter) Close() {
	a.narrator.Close()
}

func (a *Adapter) writeFrame(prefix, text string) {
	if a.w == nil || text == "" {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.writeErr != nil {
		return
	}

	if _, err := io.WriteString(a.w, EncodeFrame(prefix, text)); err != nil {
		a.writeErr = err
		a.logger.Debug("Client stream closed", "error", err)
		return
	}
	if a.flusher != nil {
		a.flusher.Flush()
	}
}

// EncodeFrame renders one line-protocol frame.
func EncodeFrame(prefix, text string) string {
	data, _ := json.Marshal(text)
	return prefix + ":" + string(data) + "\n"
}
