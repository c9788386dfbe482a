package alignment

import (
	"errors"
	"fmt"

	"github.com/tyemirov/pairalign/internal/execshell"
)

const (
	inputErrorTemplateConstant                 = "sample %q input %s unusable: %v"
	inputErrorWithoutPathTemplateConstant      = "sample %q rejected: %v"
	executionErrorTemplateConstant             = "sample %q alignment failed: %v"
	executionErrorWithExitTemplateConstant     = "sample %q alignment failed (exit code %d): %v"
	sampleNameMissingMessageConstant           = "sample name not provided"
	sampleNameInvalidMessageConstant           = "sample name must not contain path separators or be a relative path element"
	readPathMissingMessageConstant             = "read path not provided"
	readPathNotRegularMessageConstant          = "read path is not a regular file"
	invocationCanceledMessageConstant          = "alignment invocation canceled"
	outputMissingMessageConstant               = "aligner exited successfully without producing the output file"
	sampleExecutorNotConfiguredMessageConstant = "sample executor not configured"
	workspaceCreationFailedTemplateConstant    = "create workspace: %w"
)

var (
	// ErrSampleNameMissing indicates an empty sample name.
	ErrSampleNameMissing = errors.New(sampleNameMissingMessageConstant)
	// ErrSampleNameInvalid indicates a name that would escape its logical location segment.
	ErrSampleNameInvalid = errors.New(sampleNameInvalidMessageConstant)
	// ErrReadPathMissing indicates an empty read path.
	ErrReadPathMissing = errors.New(readPathMissingMessageConstant)
	// ErrReadPathNotRegular indicates a read path that is a directory or special file.
	ErrReadPathNotRegular = errors.New(readPathNotRegularMessageConstant)
	// ErrInvocationCanceled indicates the caller canceled before or during the invocation.
	ErrInvocationCanceled = errors.New(invocationCanceledMessageConstant)
	// ErrOutputMissing indicates the aligner exited with status zero but wrote no output.
	ErrOutputMissing = errors.New(outputMissingMessageConstant)
	// ErrSampleExecutorNotConfigured indicates the runner was built without a sample executor.
	ErrSampleExecutorNotConfigured = errors.New(sampleExecutorNotConfiguredMessageConstant)
)

// InputError reports a sample rejected before any process was spawned.
type InputError struct {
	SampleName string
	Path       string
	Cause      error
}

// Error describes the rejected input.
func (inputError InputError) Error() string {
	if len(inputError.Path) == 0 {
		return fmt.Sprintf(inputErrorWithoutPathTemplateConstant, inputError.SampleName, inputError.Cause)
	}
	return fmt.Sprintf(inputErrorTemplateConstant, inputError.SampleName, inputError.Path, inputError.Cause)
}

// Unwrap exposes the underlying cause.
func (inputError InputError) Unwrap() error {
	return inputError.Cause
}

// ExecutionError reports an aligner invocation that did not produce an artifact.
// ExitCode is -1 when the process did not exit on its own.
type ExecutionError struct {
	SampleName    string
	InvocationID  string
	ExitCode      int
	StandardError string
	Cause         error
}

// Error describes the failed invocation. The exit code is stated once: a
// CommandFailedError cause already carries it.
func (executionError ExecutionError) Error() string {
	var commandFailedError execshell.CommandFailedError
	if executionError.ExitCode > 0 && !errors.As(executionError.Cause, &commandFailedError) {
		return fmt.Sprintf(executionErrorWithExitTemplateConstant, executionError.SampleName, executionError.ExitCode, executionError.Cause)
	}
	return fmt.Sprintf(executionErrorTemplateConstant, executionError.SampleName, executionError.Cause)
}

// Unwrap exposes the underlying cause.
func (executionError ExecutionError) Unwrap() error {
	return executionError.Cause
}
