package alignment

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tyemirov/pairalign/internal/execshell"
	"github.com/tyemirov/pairalign/internal/notify"
)

const (
	workspacePrefixConstant                 = "pairalign-"
	workingRootPermissionsConstant          = 0o755
	workspacePermissionsConstant            = 0o700
	unknownExitCodeConstant                 = -1
	failureNotificationTitleConstant        = "Bowtie2 Failed"
	failureNotificationBodyTemplateConstant = "Error: %s"
	canceledTemplateConstant                = "sample %q: %w: %w"
	outputMissingTemplateConstant           = "%w: %s: %w"
	outputNotRegularTemplateConstant        = "output is not a regular file (mode %s)"
	sampleRejectedMessageConstant           = "sample rejected"
	sampleAlignmentStartMessageConstant     = "sample alignment starting"
	sampleAlignedMessageConstant            = "sample aligned"
	sampleFailedMessageConstant             = "sample alignment failed"
	workspaceCleanupMessageConstant         = "unable to remove workspace"
	sampleFieldNameConstant                 = "sample"
	invocationFieldNameConstant             = "invocation_id"
	workspaceFieldNameConstant              = "workspace"
	logicalLocationFieldNameConstant        = "logical_location"
	exitCodeFieldNameConstant               = "exit_code"
)

// CommandExecutor runs one aligner process.
type CommandExecutor interface {
	Execute(executionContext context.Context, command execshell.ShellCommand) (execshell.ExecutionResult, error)
}

// Dependencies wires collaborators into a TaskExecutor. Nil fields fall back to defaults.
type Dependencies struct {
	Executor              CommandExecutor
	Notifier              notify.Notifier
	Logger                *zap.Logger
	InvocationIDGenerator func() string
}

// TaskExecutor aligns one sample per call in an isolated workspace.
type TaskExecutor struct {
	configuration         Configuration
	commandExecutor       CommandExecutor
	notifier              notify.Notifier
	logger                *zap.Logger
	invocationIDGenerator func() string
}

// NewTaskExecutor sanitizes and validates the configuration and resolves dependency defaults.
func NewTaskExecutor(configuration Configuration, dependencies Dependencies) (*TaskExecutor, error) {
	sanitizedConfiguration := configuration.Sanitize()
	if validationError := sanitizedConfiguration.Validate(); validationError != nil {
		return nil, validationError
	}

	logger := dependencies.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	commandExecutor := dependencies.Executor
	if commandExecutor == nil {
		shellExecutor, executorError := execshell.NewShellExecutor(logger, execshell.NewOSCommandRunner(), false)
		if executorError != nil {
			return nil, executorError
		}
		commandExecutor = shellExecutor
	}

	notifier := dependencies.Notifier
	if notifier == nil {
		notifier = notify.Nop()
	}

	invocationIDGenerator := dependencies.InvocationIDGenerator
	if invocationIDGenerator == nil {
		invocationIDGenerator = uuid.NewString
	}

	return &TaskExecutor{
		configuration:         sanitizedConfiguration,
		commandExecutor:       commandExecutor,
		notifier:              notifier,
		logger:                logger,
		invocationIDGenerator: invocationIDGenerator,
	}, nil
}

// Configuration returns the sanitized configuration in use.
func (executor *TaskExecutor) Configuration() Configuration {
	return executor.configuration
}

// Execute runs the aligner for one sample.
//
// Input problems return an InputError before anything is spawned. Any failure after the
// workspace exists removes it, emits one notification and returns an ExecutionError.
// On success the workspace holding LocalPath is handed to the caller.
func (executor *TaskExecutor) Execute(executionContext context.Context, sample Sample) (AlignmentResult, error) {
	if executionContext == nil {
		executionContext = context.Background()
	}

	resolvedSample, inputError := validateSample(sample)
	if inputError != nil {
		executor.logger.Warn(sampleRejectedMessageConstant,
			zap.String(sampleFieldNameConstant, sample.Name),
			zap.Error(inputError),
		)
		return AlignmentResult{}, inputError
	}

	if contextError := executionContext.Err(); contextError != nil {
		return AlignmentResult{}, fmt.Errorf(canceledTemplateConstant, sample.Name, ErrInvocationCanceled, contextError)
	}

	invocationID := executor.invocationIDGenerator()
	workspaceDirectory, workspaceError := executor.createWorkspace(invocationID)
	if workspaceError != nil {
		return AlignmentResult{}, executor.fail(executionContext, sample, invocationID, "", execshell.ExecutionResult{ExitCode: unknownExitCodeConstant}, workspaceError)
	}

	localPath := filepath.Join(workspaceDirectory, executor.configuration.OutputFileName)
	command := execshell.ShellCommand{
		Name: execshell.CommandName(executor.configuration.Executable),
		Details: execshell.CommandDetails{
			Arguments:            executor.configuration.Arguments(resolvedSample.Read1, resolvedSample.Read2, localPath),
			WorkingDirectory:     workspaceDirectory,
			EnvironmentVariables: executor.configuration.EnvironmentVariables(),
		},
	}

	executor.logger.Debug(sampleAlignmentStartMessageConstant,
		zap.String(sampleFieldNameConstant, sample.Name),
		zap.String(invocationFieldNameConstant, invocationID),
		zap.String(workspaceFieldNameConstant, workspaceDirectory),
	)

	invocationContext := executionContext
	if executor.configuration.Timeout > 0 {
		var cancel context.CancelFunc
		invocationContext, cancel = context.WithTimeout(executionContext, executor.configuration.Timeout)
		defer cancel()
	}

	executionResult, commandError := executor.commandExecutor.Execute(invocationContext, command)
	if commandError != nil {
		return AlignmentResult{}, executor.fail(executionContext, sample, invocationID, workspaceDirectory, executionResult, commandError)
	}

	if outputError := requireOutputFile(localPath); outputError != nil {
		return AlignmentResult{}, executor.fail(executionContext, sample, invocationID, workspaceDirectory, executionResult, fmt.Errorf(outputMissingTemplateConstant, ErrOutputMissing, localPath, outputError))
	}

	result := AlignmentResult{
		SampleName:         sample.Name,
		LocalPath:          localPath,
		LogicalLocation:    executor.configuration.LogicalLocation(sample.Name),
		WorkspaceDirectory: workspaceDirectory,
		InvocationID:       invocationID,
	}

	executor.logger.Info(sampleAlignedMessageConstant,
		zap.String(sampleFieldNameConstant, sample.Name),
		zap.String(invocationFieldNameConstant, invocationID),
		zap.String(logicalLocationFieldNameConstant, result.LogicalLocation),
	)
	return result, nil
}

func (executor *TaskExecutor) fail(executionContext context.Context, sample Sample, invocationID string, workspaceDirectory string, executionResult execshell.ExecutionResult, cause error) error {
	if len(workspaceDirectory) > 0 {
		if removeError := os.RemoveAll(workspaceDirectory); removeError != nil {
			executor.logger.Warn(workspaceCleanupMessageConstant,
				zap.String(workspaceFieldNameConstant, workspaceDirectory),
				zap.Error(removeError),
			)
		}
	}

	if executionContext.Err() != nil && !errors.Is(cause, ErrInvocationCanceled) {
		cause = fmt.Errorf("%w: %w", ErrInvocationCanceled, cause)
	}

	exitCode := executionResult.ExitCode
	var commandExecutionError execshell.CommandExecutionError
	if errors.As(cause, &commandExecutionError) {
		exitCode = unknownExitCodeConstant
	}

	executionError := ExecutionError{
		SampleName:    sample.Name,
		InvocationID:  invocationID,
		ExitCode:      exitCode,
		StandardError: executionResult.StandardError,
		Cause:         cause,
	}

	executor.logger.Error(sampleFailedMessageConstant,
		zap.String(sampleFieldNameConstant, sample.Name),
		zap.String(invocationFieldNameConstant, invocationID),
		zap.Int(exitCodeFieldNameConstant, exitCode),
		zap.Error(cause),
	)

	executor.notifier.Notify(context.WithoutCancel(executionContext), notify.Notification{
		Severity:     notify.SeverityError,
		Title:        failureNotificationTitleConstant,
		Body:         fmt.Sprintf(failureNotificationBodyTemplateConstant, cause.Error()),
		SampleName:   sample.Name,
		InvocationID: invocationID,
	})

	return executionError
}

func (executor *TaskExecutor) createWorkspace(invocationID string) (string, error) {
	workingRoot, absoluteError := filepath.Abs(executor.configuration.WorkingRoot)
	if absoluteError != nil {
		return "", fmt.Errorf(workspaceCreationFailedTemplateConstant, absoluteError)
	}
	if mkdirError := os.MkdirAll(workingRoot, workingRootPermissionsConstant); mkdirError != nil {
		return "", fmt.Errorf(workspaceCreationFailedTemplateConstant, mkdirError)
	}

	workspaceDirectory := filepath.Join(workingRoot, workspacePrefixConstant+invocationID)
	if mkdirError := os.Mkdir(workspaceDirectory, workspacePermissionsConstant); mkdirError != nil {
		return "", fmt.Errorf(workspaceCreationFailedTemplateConstant, mkdirError)
	}
	return workspaceDirectory, nil
}

func validateSample(sample Sample) (Sample, error) {
	if len(strings.TrimSpace(sample.Name)) == 0 {
		return Sample{}, InputError{SampleName: sample.Name, Cause: ErrSampleNameMissing}
	}
	if strings.Contains(sample.Name, "/") || sample.Name == "." || sample.Name == ".." {
		return Sample{}, InputError{SampleName: sample.Name, Cause: ErrSampleNameInvalid}
	}

	firstReadPath, firstReadError := resolveReadPath(sample.Read1)
	if firstReadError != nil {
		return Sample{}, InputError{SampleName: sample.Name, Path: sample.Read1, Cause: firstReadError}
	}
	secondReadPath, secondReadError := resolveReadPath(sample.Read2)
	if secondReadError != nil {
		return Sample{}, InputError{SampleName: sample.Name, Path: sample.Read2, Cause: secondReadError}
	}

	return Sample{Name: sample.Name, Read1: firstReadPath, Read2: secondReadPath}, nil
}

// resolveReadPath returns an absolute path because the aligner runs inside the workspace.
func resolveReadPath(readPath string) (string, error) {
	if len(strings.TrimSpace(readPath)) == 0 {
		return "", ErrReadPathMissing
	}
	absolutePath, absoluteError := filepath.Abs(readPath)
	if absoluteError != nil {
		return "", absoluteError
	}
	if regularError := requireRegularFile(absolutePath); regularError != nil {
		return "", regularError
	}
	readHandle, openError := os.Open(absolutePath)
	if openError != nil {
		return "", openError
	}
	return absolutePath, readHandle.Close()
}

func requireOutputFile(outputPath string) error {
	fileInfo, statError := os.Stat(outputPath)
	if statError != nil {
		return statError
	}
	if !fileInfo.Mode().IsRegular() {
		return fmt.Errorf(outputNotRegularTemplateConstant, fileInfo.Mode().Type())
	}
	return nil
}

func requireRegularFile(filePath string) error {
	fileInfo, statError := os.Stat(filePath)
	if statError != nil {
		return statError
	}
	if !fileInfo.Mode().IsRegular() {
		return ErrReadPathNotRegular
	}
	return nil
}
