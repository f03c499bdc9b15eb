package inference

import (
	"fmt"
)

// ErrLoad means the backend failed to initialize. Fatal for a starting job
// but recoverable by an explicit resume, which re-attempts the load.
type ErrLoad struct {
	error
}

func NewErrLoad(weightsPath string, cause error) *ErrLoad {
	return &ErrLoad{fmt.Errorf("loading model weights from %s: %w", weightsPath, cause)}
}

func (e *ErrLoad) Unwrap() error { return e.error }

// ErrInvalidPrompt means the per-concept prompt payload is missing fields the
// selected method requires. Local to one concept, never fatal to the job.
type ErrInvalidPrompt struct {
	error
}

func NewErrInvalidPrompt(method Method, message string) *ErrInvalidPrompt {
	return &ErrInvalidPrompt{fmt.Errorf("method %s: %s", method, message)}
}

// ErrInference wraps a failed backend detect call.
type ErrInference struct {
	error
}

func NewErrInference(method Method, cause error) *ErrInference {
	return &ErrInference{fmt.Errorf("inference with method %s failed: %w", method, cause)}
}

func (e *ErrInference) Unwrap() error { return e.error }
