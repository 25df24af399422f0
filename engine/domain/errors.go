package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Their messages double as the caller-facing reason strings.
var (
	ErrFetch               = errors.New("fetch failed")
	ErrInsufficientContent = errors.New("insufficient content")
	ErrTopicExtraction     = errors.New("topic extraction failed")
	ErrGeneration          = errors.New("generation failed")
	ErrEmbedding           = errors.New("embedding failed")
	ErrVectorWrite         = errors.New("vector write failed")
	ErrStoreUnavailable    = errors.New("knowledge store unavailable")
	ErrPersistence         = errors.New("persistence failed")
	ErrNoClientData        = errors.New("no client content: ingest client content first")
	ErrMissionNotFound     = errors.New("mission not found")
	ErrBusinessNotFound    = errors.New("business not found")
	ErrCompetitorNotFound  = errors.New("competitor not found")
	ErrDimensionMismatch   = errors.New("embedding dimension mismatch")
	ErrInvalidInput        = errors.New("invalid input")
	ErrNotFound            = errors.New("not found")
)

// EngineError ties an operation to one sentinel kind and the underlying cause.
type EngineError struct {
	Op    string
	Kind  error
	Cause error
}

func (e *EngineError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Cause)
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *EngineError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Cause}
}

// Fail builds an EngineError.
func Fail(op string, kind, cause error) *EngineError {
	return &EngineError{Op: op, Kind: kind, Cause: cause}
}

var reasonKinds = []error{
	ErrStoreUnavailable,
	ErrPersistence,
	ErrFetch,
	ErrInsufficientContent,
	ErrEmbedding,
	ErrVectorWrite,
	ErrDimensionMismatch,
	ErrNoClientData,
	ErrMissionNotFound,
	ErrBusinessNotFound,
	ErrCompetitorNotFound,
	ErrTopicExtraction,
	ErrGeneration,
	ErrInvalidInput,
	ErrNotFound,
}

// Reason returns the caller-facing reason for err: the message of the first
// known sentinel it wraps, or "internal error".
func Reason(err error) string {
	if err == nil {
		return ""
	}
	var ee *EngineError
	if errors.As(err, &ee) {
		return ee.Kind.Error()
	}
	for _, k := range reasonKinds {
		if errors.Is(err, k) {
			return k.Error()
		}
	}
	return "internal error"
}

// ValidationError wraps a sentinel with context.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// StoreKind classifies a relational store failure: the first of keep that err
// matches, otherwise ErrPersistence. A failing database is never reported as
// the disabled knowledge store.
func StoreKind(err error, keep ...error) error {
	for _, k := range keep {
		if errors.Is(err, k) {
			return k
		}
	}
	return ErrPersistence
}

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}
