package execshell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"time"
)

const (
	processWaitDelayConstant = 5 * time.Second
	environmentPairTemplate  = "%s=%s"
)

// OSCommandRunner runs commands as child processes of the current process.
//
// A non-zero exit is reported through ExecutionResult.ExitCode with a nil error.
// Errors are reserved for commands that could not be started or did not run to
// completion; when the context ends the child is killed and the context error is returned.
type OSCommandRunner struct{}

// NewOSCommandRunner constructs an OSCommandRunner.
func NewOSCommandRunner() OSCommandRunner {
	return OSCommandRunner{}
}

// Run executes the command and waits for it to exit.
func (runner OSCommandRunner) Run(executionContext context.Context, command ShellCommand) (ExecutionResult, error) {
	if executionContext == nil {
		executionContext = context.Background()
	}

	process := exec.CommandContext(executionContext, string(command.Name), command.Details.Arguments...)
	process.Dir = command.Details.WorkingDirectory
	process.WaitDelay = processWaitDelayConstant
	if len(command.Details.EnvironmentVariables) > 0 {
		process.Env = mergeEnvironment(os.Environ(), command.Details.EnvironmentVariables)
	}

	var standardOutput bytes.Buffer
	var standardError bytes.Buffer
	process.Stdout = &standardOutput
	process.Stderr = &standardError

	runError := process.Run()
	result := ExecutionResult{
		StandardOutput: standardOutput.String(),
		StandardError:  standardError.String(),
	}

	if contextError := executionContext.Err(); contextError != nil {
		result.ExitCode = -1
		return result, contextError
	}

	if runError == nil {
		return result, nil
	}

	var exitError *exec.ExitError
	if errors.As(runError, &exitError) {
		result.ExitCode = exitError.ExitCode()
		if result.ExitCode < 0 {
			return result, fmt.Errorf("%s terminated: %w", command.Name, runError)
		}
		return result, nil
	}

	result.ExitCode = -1
	return result, runError
}

func mergeEnvironment(base []string, overrides map[string]string) []string {
	keys := make([]string, 0, len(overrides))
	for key := range overrides {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	merged := make([]string, 0, len(base)+len(keys))
	merged = append(merged, base...)
	for _, key := range keys {
		merged = append(merged, fmt.Sprintf(environmentPairTemplate, key, overrides[key]))
	}
	return merged
}
