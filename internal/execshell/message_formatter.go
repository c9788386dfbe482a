package execshell

import (
	"fmt"
	"path/filepath"
	"strings"
)

// CommandMessageFormatter renders command lifecycle events for console logging.
type CommandMessageFormatter struct{}

// BuildStartedMessage describes a command that is about to run.
func (formatter CommandMessageFormatter) BuildStartedMessage(command ShellCommand) string {
	return fmt.Sprintf("Running %s", formatter.describe(command))
}

// BuildSuccessMessage describes a command that exited with status zero.
func (formatter CommandMessageFormatter) BuildSuccessMessage(command ShellCommand) string {
	return fmt.Sprintf("Completed %s", formatter.describe(command))
}

// BuildFailureMessage describes a command that exited with a non-zero status.
func (formatter CommandMessageFormatter) BuildFailureMessage(command ShellCommand, result ExecutionResult) string {
	message := fmt.Sprintf("Failed %s (exit code %d", formatter.describe(command), result.ExitCode)
	if summary := summarizeOutput(strings.TrimSpace(result.StandardError)); len(summary) > 0 {
		message = fmt.Sprintf("%s: %s", message, summary)
	}
	return message + ")"
}

// BuildExecutionFailureMessage describes a command that could not run to completion.
func (formatter CommandMessageFormatter) BuildExecutionFailureMessage(command ShellCommand, cause error) string {
	return fmt.Sprintf("Unable to run %s: %v", formatter.describe(command), cause)
}

func (formatter CommandMessageFormatter) describe(command ShellCommand) string {
	name := filepath.Base(string(command.Name))
	parts := make([]string, 0, len(command.Details.Arguments)+1)
	parts = append(parts, name)
	for _, argument := range command.Details.Arguments {
		if strings.ContainsAny(argument, " \t") {
			argument = fmt.Sprintf("%q", argument)
		}
		parts = append(parts, argument)
	}
	description := strings.Join(parts, " ")
	if directory := strings.TrimSpace(command.Details.WorkingDirectory); len(directory) > 0 {
		description = fmt.Sprintf("%s (in %s)", description, directory)
	}
	return description
}
