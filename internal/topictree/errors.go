package topictree

import (
	"errors"
	"fmt"
)

// PipelineError is the single error kind surfaced for collaborator failures
// (embedding, summarization, title or triple services). It aborts the build.
type PipelineError struct {
	Stage string
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("internal pipeline failure (%s): %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}

// Fail wraps err as a PipelineError for stage. A nil err stays nil and an
// existing PipelineError is returned unchanged.
func Fail(stage string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PipelineError
	if errors.As(err, &pe) {
		return err
	}
	return &PipelineError{Stage: stage, Err: err}
}

// IsPipelineFailure reports whether err is (or wraps) a PipelineError.
func IsPipelineFailure(err error) bool {
	var pe *PipelineError
	return errors.As(err, &pe)
}
