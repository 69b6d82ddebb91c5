package tools

import (
	"context"
	"slices"

	"github.com/c360studio/reportgen/workflow"
)

// Scope carries the run identifiers tools act on. Tools read IDs from here,
// never from model-supplied arguments.
type Scope struct {
	ProjectID        string
	UserID           string
	ReportID         string
	SelectedImageIDs []string
	Client           any
}

type scopeKey struct{}

// WithScope attaches s to ctx.
func WithScope(ctx context.Context, s Scope) context.Context {
	return context.WithValue(ctx, scopeKey{}, s)
}

// ScopeFrom returns the scope attached to ctx.
func ScopeFrom(ctx context.Context) (Scope, bool) {
	s, ok := ctx.Value(scopeKey{}).(Scope)
	return s, ok
}

// ScopeFromState builds the scope of a run.
func ScopeFromState(state workflow.State) Scope {
	return Scope{
		ProjectID:        state.ProjectID,
		UserID:           state.UserID,
		ReportID:         state.DraftReportID,
		SelectedImageIDs: slices.Clone(state.SelectedImageIDs),
		Client:           state.Client,
	}
}

// Validate returns workflow.ErrMissingScope unless project and user are set.
func (s Scope) Validate() error {
	if s.ProjectID == "" || s.UserID == "" {
		return workflow.ErrMissingScope
	}
	return nil
}

// RequireScope returns the valid scope attached to ctx.
func RequireScope(ctx context.Context) (Scope, error) {
	s, ok := ScopeFrom(ctx)
	if !ok {
		return Scope{}, workflow.ErrMissingScope
	}
	return s, s.Validate()
}
