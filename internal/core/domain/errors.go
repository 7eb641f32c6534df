package domain

import (
	"errors"
	"fmt"
)

var (
	ErrDocumentNotFound  = errors.New("document not found")
	ErrCandidateNotFound = errors.New("candidate not found")
	ErrNotFound          = errors.New("not found")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrTemporary         = errors.New("temporary failure")

	ErrProvider      = errors.New("provider failure")
	ErrRetrieval     = errors.New("retrieval failure")
	ErrExtraction    = errors.New("extraction failure")
	ErrWorkflowPhase = errors.New("workflow phase failure")
	ErrTimeout       = errors.New("timeout")
	ErrAnalysis      = errors.New("analysis failed")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}

// ExtractionError reports a structured LLM response that could not be parsed
// or validated. Raw keeps the provider output for diagnostics.
type ExtractionError struct {
	Operation string
	Raw       string
	Err       error
}

func (e *ExtractionError) Error() string {
	if e == nil {
		return ErrExtraction.Error()
	}
	return fmt.Sprintf("%s: %v: %v", e.Operation, ErrExtraction, e.Err)
}

func (e *ExtractionError) Unwrap() []error {
	return []error{ErrExtraction, e.Err}
}

func NewExtractionError(operation, raw string, err error) *ExtractionError {
	return &ExtractionError{Operation: operation, Raw: raw, Err: err}
}

// PhaseError terminates a workflow run. Phase names the stage that failed.
type PhaseError struct {
	Phase Phase
	Err   error
}

func (e *PhaseError) Error() string {
	return fmt.Sprintf("workflow phase %s: %v", e.Phase, e.Err)
}

func (e *PhaseError) Unwrap() []error {
	return []error{ErrWorkflowPhase, e.Err}
}

// AnalysisFailedError carries the failure message reported by a deep analysis
// job. Its Error text is exactly that message.
type AnalysisFailedError struct {
	JobID   string
	Message string
}

func (e *AnalysisFailedError) Error() string {
	return e.Message
}

func (e *AnalysisFailedError) Unwrap() error {
	return ErrAnalysis
}
