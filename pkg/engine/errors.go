// Package engine drives the provisioning pipeline: identity resolution,
// layer planning, per-layer artifact staging, dependency installation,
// stage execution, and outcome recording.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies a pipeline error by its effect on the run.
type ErrorClass string

const (
	// ErrorClassFatal aborts the run. Examples: no resolvable identity,
	// lock contention, unwritable status file.
	ErrorClassFatal ErrorClass = "fatal"

	// ErrorClassSoft is logged and the run continues.
	// Examples: missing optional artifact, dependency install failure.
	ErrorClassSoft ErrorClass = "soft"

	// ErrorClassRecorded is a stage that ran and exited nonzero. The exit
	// code is persisted and the run continues.
	ErrorClassRecorded ErrorClass = "recorded"
)

// PipelineError is a classified pipeline error with layer context.
type PipelineError struct {
	// Class decides whether the run aborts or continues.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Layer is the layer path being processed, if applicable.
	Layer string `json:"layer,omitempty"`

	// Stage is the stage being executed, if applicable.
	Stage string `json:"stage,omitempty"`

	// ExitCode carries the process exit code for recorded errors.
	ExitCode int `json:"exit_code,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *PipelineError) Error() string {
	if e.Layer != "" && e.Stage != "" {
		return fmt.Sprintf("[%s] %s (layer=%s, stage=%s): %s",
			e.Class, e.Message, e.Layer, e.Stage, e.unwrapMessage())
	}
	if e.Layer != "" {
		return fmt.Sprintf("[%s] %s (layer=%s): %s",
			e.Class, e.Message, e.Layer, e.unwrapMessage())
	}
	return fmt.Sprintf("[%s] %s: %s", e.Class, e.Message, e.unwrapMessage())
}

// Unwrap returns the underlying error for error chain inspection.
func (e *PipelineError) Unwrap() error {
	return e.Err
}

func (e *PipelineError) unwrapMessage() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return ""
}

// NewFatalError creates an error that aborts the run.
func NewFatalError(message string, err error) *PipelineError {
	return &PipelineError{Class: ErrorClassFatal, Message: message, Err: err}
}

// NewSoftError creates an error that is logged while the run continues.
func NewSoftError(message string, err error) *PipelineError {
	return &PipelineError{Class: ErrorClassSoft, Message: message, Err: err}
}

// NewRecordedError creates an error carrying a persisted nonzero exit.
func NewRecordedError(message string, exitCode int) *PipelineError {
	return &PipelineError{Class: ErrorClassRecorded, Message: message, ExitCode: exitCode}
}

// WithLayer adds layer context to an error.
func (e *PipelineError) WithLayer(layer string) *PipelineError {
	e.Layer = layer
	return e
}

// WithStage adds stage context to an error.
func (e *PipelineError) WithStage(stage string) *PipelineError {
	e.Stage = stage
	return e
}

// IsFatal returns true if the error aborts the run.
func IsFatal(err error) bool {
	var e *PipelineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassFatal
	}
	return false
}

// IsSoft returns true if the error is classified as soft.
func IsSoft(err error) bool {
	var e *PipelineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassSoft
	}
	return false
}

// IsRecorded returns true if the error carries a persisted exit code.
func IsRecorded(err error) bool {
	var e *PipelineError
	if errors.As(err, &e) {
		return e.Class == ErrorClassRecorded
	}
	return false
}
