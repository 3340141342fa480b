package core

import (
	"errors"
	"fmt"
)

// Kind is the closed error taxonomy of the pipeline. Stages recover locally
// where possible; only KindFatal escapes the orchestrator.
type Kind int

const (
	// KindRetryable covers network timeouts, catalog 5xx and LLM rate
	// limits; handled locally with bounded exponential backoff
	KindRetryable Kind = iota
	// KindCatalogAuth covers expired or invalid catalog access tokens;
	// propagated so the caller can refresh and re-invoke
	KindCatalogAuth
	// KindSchemaViolation covers malformed or incomplete LLM JSON; the
	// stage falls back to its rule-based path
	KindSchemaViolation
	// KindInsufficientSupply covers a final pool below min_count; the
	// orchestrator returns a best-effort result with a metadata warning
	KindInsufficientSupply
	// KindCancelled covers user-initiated cancellation
	KindCancelled
	// KindFatal covers programming errors, quota exhaustion and missing
	// configuration; halts the pipeline
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindRetryable:
		return "retryable"
	case KindCatalogAuth:
		return "catalog_auth"
	case KindSchemaViolation:
		return "schema_violation"
	case KindInsufficientSupply:
		return "insufficient_supply"
	case KindCancelled:
		return "cancelled"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// PipelineError tags an error with its kind and the stage that caught it.
type PipelineError struct {
	Kind      Kind
	Stage     string
	Iteration int
	Err       error
}

func (e *PipelineError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s error in %s", e.Kind, e.Stage)
	}
	return fmt.Sprintf("%s error in %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// WrapError tags err with a kind and stage. Returns nil for a nil err.
func WrapError(kind Kind, stage string, err error) error {
	if err == nil {
		return nil
	}
	return &PipelineError{Kind: kind, Stage: stage, Err: err}
}

// KindOf extracts the error kind; untagged errors default to KindFatal.
func KindOf(err error) Kind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindFatal
}

// StageOf extracts the stage that tagged the error; untagged errors report
// "unknown".
func StageOf(err error) string {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Stage
	}
	return "unknown"
}

// IsRetryable reports whether the error should be retried with backoff.
func IsRetryable(err error) bool {
	var pe *PipelineError
	return errors.As(err, &pe) && pe.Kind == KindRetryable
}
