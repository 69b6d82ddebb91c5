// Package reportapi exposes report runs over HTTP: start, resume, the
// plan-approval polling record, and metrics.
package reportapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/c360studio/reportgen/hitl"
	"github.com/c360studio/reportgen/storage"
)

// Runs is what the API needs from the run controller.
type Runs interface {
	StartRun(ctx context.Context, req hitl.StartRequest) (hitl.RunHandle, error)
	ResumeRun(ctx context.Context, req hitl.ResumeRequest) (hitl.Ack, error)
	Status(ctx context.Context, reportID string) (storage.ApprovalRecord, error)
}

// Component serves the report API.
type Component struct {
	runs    Runs
	metrics http.Handler
	logger  *slog.Logger
}

// Option configures a Component.
type Option func(*Component)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Component) {
		c.logger = logger
	}
}

// WithMetricsHandler serves h at <prefix>metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(c *Component) {
		c.metrics = h
	}
}

// NewComponent creates the API over runs.
func NewComponent(runs Runs, opts ...Option) *Component {
	c := &Component{runs: runs, logger: slog.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c
}
