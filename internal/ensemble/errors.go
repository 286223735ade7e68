package ensemble

import (
	"errors"
	"fmt"
)

// Common reconciliation errors
var (
	// ErrMalformedOutput is returned when an engine's raw payload cannot be
	// parsed into bbox + text pairs. The failure is isolated per engine and
	// does not abort the page.
	ErrMalformedOutput = errors.New("engine output cannot be parsed into blocks")

	// ErrUnknownFormat is returned when no normalizer is registered for the
	// requested engine output format.
	ErrUnknownFormat = errors.New("unknown engine output format")

	// ErrInvalidThreshold is returned when the overlap threshold is outside
	// the half-open interval (0, 1].
	ErrInvalidThreshold = errors.New("overlap threshold must be in (0, 1]")

	// ErrDuplicateEngine is returned when the engine priority list contains
	// the same engine id more than once.
	ErrDuplicateEngine = errors.New("engine priority list contains duplicates")

	// ErrInvalidMinArea is returned when the minimum bbox area is negative.
	ErrInvalidMinArea = errors.New("minimum bbox area must not be negative")

	// ErrInvalidConfidence is returned when the default confidence is outside [0, 1].
	ErrInvalidConfidence = errors.New("default confidence must be in [0, 1]")
)

// EnsembleError wraps errors with additional context about the merge failure.
type EnsembleError struct {
	// Op is the operation that failed (e.g., "Normalize", "ReconcilePage").
	Op string

	// Engine is the engine whose output was involved, if any.
	Engine string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *EnsembleError) Error() string {
	switch {
	case e.Engine != "" && e.Details != "":
		return fmt.Sprintf("ensemble: %s failed for engine %s: %s: %v", e.Op, e.Engine, e.Details, e.Err)
	case e.Engine != "":
		return fmt.Sprintf("ensemble: %s failed for engine %s: %v", e.Op, e.Engine, e.Err)
	case e.Details != "":
		return fmt.Sprintf("ensemble: %s failed: %s: %v", e.Op, e.Details, e.Err)
	default:
		return fmt.Sprintf("ensemble: %s failed: %v", e.Op, e.Err)
	}
}

// Unwrap returns the underlying error for error unwrapping.
func (e *EnsembleError) Unwrap() error {
	return e.Err
}

// Is implements error matching for errors.Is.
func (e *EnsembleError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewEnsembleError creates a new EnsembleError.
func NewEnsembleError(op, engine string, err error, details string) *EnsembleError {
	return &EnsembleError{
		Op:      op,
		Engine:  engine,
		Err:     err,
		Details: details,
	}
}

// WrapEnsembleError wraps an error as an EnsembleError if it isn't already one.
func WrapEnsembleError(op, engine string, err error, details string) error {
	if err == nil {
		return nil
	}

	var ensErr *EnsembleError
	if errors.As(err, &ensErr) {
		return err // Already wrapped
	}

	return NewEnsembleError(op, engine, err, details)
}
