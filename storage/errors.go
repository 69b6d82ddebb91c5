package storage

import (
	"errors"
	"fmt"
)

// Common storage errors.
var (
	// ErrNotFound is returned when an entity is not found.
	ErrNotFound = errors.New("entity not found")

	// ErrReportNotFound is returned when no report has the requested ID.
	ErrReportNotFound = fmt.Errorf("report: %w", ErrNotFound)

	// ErrCheckpointNotFound is returned when a run has no saved checkpoint.
	ErrCheckpointNotFound = fmt.Errorf("checkpoint: %w", ErrNotFound)

	// ErrProjectNotFound is returned when no project has the requested ID.
	ErrProjectNotFound = fmt.Errorf("project: %w", ErrNotFound)

	// ErrInvalidTransition is returned when a report status change is not allowed.
	ErrInvalidTransition = errors.New("invalid status transition")
)
