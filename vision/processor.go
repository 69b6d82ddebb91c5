package vision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/c360studio/reportgen/llm"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Defaults for the batch processor.
const (
	DefaultConcurrency = 3
	DefaultMaxAttempts = 3
	DefaultBackoffStep = 500 * time.Millisecond
)

// Attempt outcomes reported to the Observer.
const (
	OutcomeSuccess    = "success"
	OutcomeTransient  = "transient"
	OutcomeError      = "error"
	OutcomeParseError = "parse_error"
)

// Observer receives one callback per model attempt.
type Observer interface {
	ObserveVisionAttempt(outcome string, d time.Duration)
}

// Processor runs batches of image analyses.
type Processor struct {
	analyzer    Analyzer
	concurrency int
	maxAttempts int
	backoffStep time.Duration
	callTimeout time.Duration
	observer    Observer
	logger      *slog.Logger
	tracer      trace.Tracer
	now         func() time.Time
}

// Option configures a Processor.
type Option func(*Processor)

// WithConcurrency sets the number of in-flight calls.
func WithConcurrency(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.concurrency = n
		}
	}
}

// WithMaxAttempts sets the total attempts per image.
func WithMaxAttempts(n int) Option {
	return func(p *Processor) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithBackoffStep sets the backoff unit; the wait after attempt n is n×step.
func WithBackoffStep(d time.Duration) Option {
	return func(p *Processor) {
		p.backoffStep = d
	}
}

// WithCallTimeout bounds each model call. Zero leaves calls unbounded.
func WithCallTimeout(d time.Duration) Option {
	return func(p *Processor) {
		p.callTimeout = d
	}
}

// WithObserver reports attempt outcomes.
func WithObserver(o Observer) Option {
	return func(p *Processor) {
		p.observer = o
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Processor) {
		p.logger = logger
	}
}

// NewProcessor creates a Processor over analyzer.
func NewProcessor(analyzer Analyzer, opts ...Option) *Processor {
	p := &Processor{
		analyzer:    analyzer,
		concurrency: DefaultConcurrency,
		maxAttempts: DefaultMaxAttempts,
		backoffStep: DefaultBackoffStep,
		logger:      slog.Default(),
		tracer:      otel.Tracer("github.com/c360studio/reportgen/vision"),
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Concurrency returns the gate size.
func (p *Processor) Concurrency() int {
	return p.concurrency
}

// AnalyzeBatch analyzes every request and returns one result per request in
// input order. Item failures become error results; the batch never fails.
// Calls start in submission order with at most Concurrency in flight.
func (p *Processor) AnalyzeBatch(ctx context.Context, reqs []Request) []Result {
	results := make([]Result, len(reqs))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = p.Analyze(ctx, req)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// Analyze runs one request with retry.
func (p *Processor) Analyze(ctx context.Context, req Request) Result {
	for attempt := 1; ; attempt++ {
		analysis, err := p.attempt(ctx, req, attempt)
		if err == nil {
			return Result{
				ImageID:     req.ID,
				Description: analysis.Description,
				Tags:        analysis.Tags,
				Severity:    analysis.Severity,
				Timestamp:   p.now(),
			}
		}

		var parseErr *ParseError
		if errors.As(err, &parseErr) {
			p.logger.Warn("Image analysis unreadable", "image_id", req.ID, "error", err)
			return p.failed(req, ParseFailureDescription, err)
		}

		retry := IsTransient(err) && attempt < p.maxAttempts && ctx.Err() == nil
		if !retry {
			p.logger.Warn("Image analysis failed",
				"image_id", req.ID,
				"attempts", attempt,
				"error", err)
			return p.failed(req, fmt.Sprintf(analyzeFailureFormat, p.analyzer.Provider()), err)
		}

		delay := time.Duration(attempt) * p.backoffStep
		p.logger.Debug("Retrying image analysis",
			"image_id", req.ID,
			"attempt", attempt,
			"delay", delay,
			"error", err)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return p.failed(req, fmt.Sprintf(analyzeFailureFormat, p.analyzer.Provider()), ctx.Err())
		}
	}
}

func (p *Processor) attempt(ctx context.Context, req Request, attempt int) (*Analysis, error) {
	ctx, span := p.tracer.Start(ctx, "vision.analyze", trace.WithAttributes(
		attribute.String("image.id", req.ID),
		attribute.Int("attempt", attempt),
	))
	defer span.End()

	callCtx := ctx
	if p.callTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, p.callTimeout)
		defer cancel()
	}

	start := time.Now()
	analysis, err := p.analyzer.Analyze(callCtx, req)
	if err != nil && ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		err = llm.NewTransientError(fmt.Errorf("vision call timed out after %s: %w", p.callTimeout, err))
	}
	p.observe(err, time.Since(start))

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return analysis, err
}

func (p *Processor) observe(err error, d time.Duration) {
	if p.observer == nil {
		return
	}
	var parseErr *ParseError
	outcome := OutcomeSuccess
	switch {
	case err == nil:
	case errors.As(err, &parseErr):
		outcome = OutcomeParseError
	case IsTransient(err):
		outcome = OutcomeTransient
	default:
		outcome = OutcomeError
	}
	p.observer.ObserveVisionAttempt(outcome, d)
}

func (p *Processor) failed(req Request, description string, err error) Result {
	return Result{
		ImageID:     req.ID,
		Description: description,
		Tags:        []string{},
		Severity:    SeverityNone,
		Timestamp:   p.now(),
		Error:       err.Error(),
	}
}

// IsTransient reports whether err is worth retrying: a transient LLM error,
// an HTTP 429 or 503, or an overload message.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if llm.IsTransient(err) {
		return true
	}
	switch llm.StatusCode(err) {
	case http.StatusTooManyRequests, http.StatusServiceUnavailable:
		return true
	}
	return llm.IsOverloaded(err.Error())
}
