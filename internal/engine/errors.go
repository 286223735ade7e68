package engine

import (
	"errors"
	"fmt"
)

// Common engine adapter errors
var (
	// ErrUnhealthy is returned when an engine's health probe fails or
	// reports not-ok.
	ErrUnhealthy = errors.New("engine is not healthy")

	// ErrRecognitionFailed is returned when an engine accepts the request
	// but fails to produce output.
	ErrRecognitionFailed = errors.New("engine recognition failed")

	// ErrMissingCredentials is returned when a cloud engine has no usable
	// credentials in the environment.
	ErrMissingCredentials = errors.New("missing cloud credentials: set GOOGLE_APPLICATION_CREDENTIALS or GOOGLE_CREDENTIALS")

	// ErrDocumentTooLarge is returned when the document exceeds the
	// engine's size limit.
	ErrDocumentTooLarge = errors.New("document exceeds the engine size limit")

	// ErrPageOutOfRange is returned when the requested page does not exist
	// in the engine response.
	ErrPageOutOfRange = errors.New("requested page not present in engine response")
)

// EngineError wraps errors with context about which engine call failed.
type EngineError struct {
	// Op is the operation that failed (e.g., "Recognize", "Health").
	Op string

	// Engine is the engine id.
	Engine string

	// Err is the underlying error.
	Err error

	// Details provides additional context about the failure.
	Details string
}

// Error implements the error interface.
func (e *EngineError) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("engine %s: %s failed: %s: %v", e.Engine, e.Op, e.Details, e.Err)
	}
	return fmt.Sprintf("engine %s: %s failed: %v", e.Engine, e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *EngineError) Unwrap() error {
	return e.Err
}

// Is implements error matching for errors.Is.
func (e *EngineError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// WrapEngineError wraps an error as an EngineError if it isn't already one.
func WrapEngineError(op, engine string, err error, details string) error {
	if err == nil {
		return nil
	}

	var engErr *EngineError
	if errors.As(err, &engErr) {
		return err // Already wrapped
	}

	return &EngineError{Op: op, Engine: engine, Err: err, Details: details}
}
