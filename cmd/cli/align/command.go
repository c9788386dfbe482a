// Package align provides the run command that aligns a batch of paired-end samples.
package align

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/tyemirov/pairalign/internal/alignment"
	"github.com/tyemirov/pairalign/internal/execshell"
	"github.com/tyemirov/pairalign/internal/notify"
	"github.com/tyemirov/pairalign/internal/reporting"
	"github.com/tyemirov/pairalign/internal/samplesheet"
	"github.com/tyemirov/pairalign/internal/utils"
	flagutils "github.com/tyemirov/pairalign/internal/utils/flags"
)

const (
	commandUseConstant                   = "run [sample-sheet]"
	commandShortDescriptionConstant      = "Align every sample in a sample sheet"
	commandLongDescriptionConstant       = "run aligns each paired-end sample listed in a YAML or JSON sample sheet, one aligner process per sample, and reports per-sample outcomes."
	commandExampleConstant               = "pairalign run samples.yaml --workers 4 --manifest outcomes.yaml\n  pairalign run --samples samples.yaml --alignment-mode sensitive --manifest -"
	samplesFlagNameConstant              = "samples"
	samplesFlagUsageConstant             = "Path to the sample sheet"
	outputRootFlagNameConstant           = "output-root"
	outputRootFlagUsageConstant          = "Logical root under which per-sample outputs are addressed"
	referenceIndexFlagNameConstant       = "reference-index"
	referenceIndexFlagUsageConstant      = "Reference index basename passed to the aligner"
	alignmentModeFlagNameConstant        = "alignment-mode"
	alignmentModeFlagUsageConstant       = "Aligner preset (very-fast, fast, sensitive, very-sensitive and their -local variants)"
	executableFlagNameConstant           = "executable"
	executableFlagUsageConstant          = "Aligner executable name or path"
	workingRootFlagNameConstant          = "working-root"
	workingRootFlagUsageConstant         = "Directory under which per-invocation workspaces are created"
	workersFlagNameConstant              = "workers"
	workersFlagUsageConstant             = "Maximum number of samples aligned concurrently (0 uses the CPU count)"
	threadsFlagNameConstant              = "threads"
	threadsFlagUsageConstant             = "Aligner threads per sample (0 leaves the aligner default)"
	timeoutFlagNameConstant              = "timeout"
	timeoutFlagUsageConstant             = "Per-sample time limit (0 disables)"
	manifestFlagNameConstant             = "manifest"
	manifestFlagUsageConstant            = "Write a YAML outcome manifest to this path, or - for stdout"
	environmentFlagNameConstant          = "env"
	environmentFlagUsageConstant         = "NAME=VALUE added to the aligner environment (repeatable; replaces configured entries)"
	sampleSheetRequiredMessageConstant   = "sample sheet required; provide a positional argument or --samples"
	loadSampleSheetErrorTemplateConstant = "unable to load sample sheet: %w"
	configurationErrorTemplateConstant   = "invalid alignment configuration: %w"
	runnerErrorTemplateConstant          = "unable to construct batch runner: %w"
	batchFailedTemplateConstant          = "%d of %d samples failed"
	alignedMessageConstant               = "aligned"
	durationDetailKeyConstant            = "duration_ms"
	localPathDetailKeyConstant           = "local_path"
	logicalLocationDetailKeyConstant     = "logical_location"
	invocationDetailKeyConstant          = "invocation_id"
	commandLogMessageConstant            = "run command starting"
	samplesLogFieldConstant              = "samples"
	sampleSheetLogFieldConstant          = "sample_sheet"
	workersLogFieldConstant              = "workers"
)

// ErrSampleSheetRequired indicates that neither a positional argument nor configuration named a sample sheet.
var ErrSampleSheetRequired = errors.New(sampleSheetRequiredMessageConstant)

// LoggerProvider yields the diagnostic logger for the command.
type LoggerProvider func() *zap.Logger

// CommandBuilder assembles the run command.
type CommandBuilder struct {
	LoggerProvider               LoggerProvider
	HumanReadableLoggingProvider func() bool
	ConfigurationProvider        func() CommandConfiguration
	CommandRunnerProvider        func() execshell.CommandRunner
	Notifier                     notify.Notifier
}

// Build constructs the run command.
func (builder *CommandBuilder) Build() (*cobra.Command, error) {
	command := &cobra.Command{
		Use:           commandUseConstant,
		Short:         commandShortDescriptionConstant,
		Long:          commandLongDescriptionConstant,
		Example:       commandExampleConstant,
		Args:          cobra.MaximumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          builder.run,
	}

	command.Flags().String(samplesFlagNameConstant, "", samplesFlagUsageConstant)
	command.Flags().String(outputRootFlagNameConstant, "", outputRootFlagUsageConstant)
	command.Flags().String(referenceIndexFlagNameConstant, "", referenceIndexFlagUsageConstant)
	command.Flags().String(alignmentModeFlagNameConstant, "", alignmentModeFlagUsageConstant)
	command.Flags().String(executableFlagNameConstant, "", executableFlagUsageConstant)
	command.Flags().String(workingRootFlagNameConstant, "", workingRootFlagUsageConstant)
	command.Flags().Int(workersFlagNameConstant, 0, workersFlagUsageConstant)
	command.Flags().Int(threadsFlagNameConstant, 0, threadsFlagUsageConstant)
	command.Flags().Duration(timeoutFlagNameConstant, 0, timeoutFlagUsageConstant)
	command.Flags().String(manifestFlagNameConstant, "", manifestFlagUsageConstant)
	command.Flags().StringArray(environmentFlagNameConstant, nil, environmentFlagUsageConstant)

	return command, nil
}

func (builder *CommandBuilder) run(command *cobra.Command, arguments []string) error {
	configuration := builder.resolveConfiguration(command)
	sampleSheetPath := configuration.Batch.Samples
	if len(arguments) > 0 && len(arguments[0]) > 0 {
		sampleSheetPath = arguments[0]
	}
	if len(sampleSheetPath) == 0 {
		if helpError := command.Help(); helpError != nil {
			return helpError
		}
		return ErrSampleSheetRequired
	}

	samples, loadError := samplesheet.Load(sampleSheetPath)
	if loadError != nil {
		return fmt.Errorf(loadSampleSheetErrorTemplateConstant, loadError)
	}

	logger := builder.resolveLogger()
	reporterOutput := command.OutOrStdout()
	if configuration.Batch.Manifest == manifestStandardOutputConstant {
		reporterOutput = command.ErrOrStderr()
	}
	reporter := reporting.NewStructuredReporter(reporterOutput, command.ErrOrStderr())

	shellExecutor, executorError := execshell.NewShellExecutor(logger, builder.resolveCommandRunner(), builder.humanReadableLogging())
	if executorError != nil {
		return executorError
	}

	taskExecutor, taskExecutorError := alignment.NewTaskExecutor(configuration.Alignment, alignment.Dependencies{
		Executor: shellExecutor,
		Notifier: notify.Multi(notify.NewLoggerNotifier(logger), notify.NewReporterNotifier(reporter), builder.Notifier),
		Logger:   logger,
	})
	if taskExecutorError != nil {
		return fmt.Errorf(configurationErrorTemplateConstant, taskExecutorError)
	}

	runner, runnerError := alignment.NewFanOutRunner(taskExecutor, alignment.RunnerOptions{
		Workers:  configuration.Batch.Workers,
		Observer: outcomeReporter(reporter),
		Logger:   logger,
	})
	if runnerError != nil {
		return fmt.Errorf(runnerErrorTemplateConstant, runnerError)
	}

	logger.Debug(
		commandLogMessageConstant,
		zap.String(sampleSheetLogFieldConstant, sampleSheetPath),
		zap.Int(samplesLogFieldConstant, len(samples)),
		zap.Int(workersLogFieldConstant, configuration.Batch.Workers),
	)

	executionContext, stopSignals := signal.NotifyContext(command.Context(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	outcomes := runner.RunAll(executionContext, samples)

	var manifestError error
	if len(configuration.Batch.Manifest) > 0 {
		manifest := BuildManifest(outcomes, reporter.SummaryData())
		if runIdentifier, runIdentifierAvailable := utils.NewCommandContextAccessor().RunIdentifier(command.Context()); runIdentifierAvailable {
			manifest.RunIdentifier = runIdentifier
		}
		manifestError = writeManifestDestination(configuration.Batch.Manifest, command.OutOrStdout(), manifest)
	}

	reporter.PrintSummary()

	failed := outcomes.Failed()
	if len(failed) == 0 {
		return manifestError
	}
	batchError := fmt.Errorf(batchFailedTemplateConstant, len(failed), len(outcomes))
	return multierr.Combine(batchError, outcomes.Err(), manifestError)
}

func (builder *CommandBuilder) resolveConfiguration(command *cobra.Command) CommandConfiguration {
	configuration := DefaultCommandConfiguration()
	if builder.ConfigurationProvider != nil {
		configuration = builder.ConfigurationProvider()
	}

	configuration.Batch.Samples = flagutils.OverrideString(command, samplesFlagNameConstant, configuration.Batch.Samples)
	configuration.Batch.Manifest = flagutils.OverrideString(command, manifestFlagNameConstant, configuration.Batch.Manifest)
	configuration.Batch.Workers = flagutils.OverrideInt(command, workersFlagNameConstant, configuration.Batch.Workers)
	configuration.Alignment.OutputRoot = flagutils.OverrideString(command, outputRootFlagNameConstant, configuration.Alignment.OutputRoot)
	configuration.Alignment.ReferenceIndex = flagutils.OverrideString(command, referenceIndexFlagNameConstant, configuration.Alignment.ReferenceIndex)
	configuration.Alignment.AlignmentMode = alignment.AlignmentMode(flagutils.OverrideString(command, alignmentModeFlagNameConstant, string(configuration.Alignment.AlignmentMode)))
	configuration.Alignment.Executable = flagutils.OverrideString(command, executableFlagNameConstant, configuration.Alignment.Executable)
	configuration.Alignment.WorkingRoot = flagutils.OverrideString(command, workingRootFlagNameConstant, configuration.Alignment.WorkingRoot)
	configuration.Alignment.Threads = flagutils.OverrideInt(command, threadsFlagNameConstant, configuration.Alignment.Threads)
	configuration.Alignment.Timeout = flagutils.OverrideDuration(command, timeoutFlagNameConstant, configuration.Alignment.Timeout)
	configuration.Alignment.Environment = flagutils.OverrideStringArray(command, environmentFlagNameConstant, configuration.Alignment.Environment)

	return configuration.Sanitize()
}

func (builder *CommandBuilder) resolveLogger() *zap.Logger {
	if builder.LoggerProvider == nil {
		return zap.NewNop()
	}
	if logger := builder.LoggerProvider(); logger != nil {
		return logger
	}
	return zap.NewNop()
}

func (builder *CommandBuilder) resolveCommandRunner() execshell.CommandRunner {
	if builder.CommandRunnerProvider != nil {
		if commandRunner := builder.CommandRunnerProvider(); commandRunner != nil {
			return commandRunner
		}
	}
	return execshell.NewOSCommandRunner()
}

func (builder *CommandBuilder) humanReadableLogging() bool {
	return builder.HumanReadableLoggingProvider != nil && builder.HumanReadableLoggingProvider()
}

func outcomeReporter(reporter *reporting.StructuredReporter) alignment.OutcomeObserver {
	return func(outcome alignment.Outcome) {
		reporter.RecordOutcome(outcome.Sample.Name, outcome.Duration, !outcome.Succeeded())

		details := map[string]string{
			durationDetailKeyConstant: strconv.FormatInt(outcome.Duration.Milliseconds(), 10),
		}
		if outcome.Succeeded() {
			details[localPathDetailKeyConstant] = outcome.Result.LocalPath
			details[logicalLocationDetailKeyConstant] = outcome.Result.LogicalLocation
			details[invocationDetailKeyConstant] = outcome.Result.InvocationID
			reporter.Report(reporting.Event{
				Level:      reporting.EventLevelInfo,
				Code:       reporting.EventCodeSampleAligned,
				SampleName: outcome.Sample.Name,
				Message:    alignedMessageConstant,
				Details:    details,
			})
			return
		}

		message := ""
		if outcome.Err != nil {
			message = outcome.Err.Error()
		}
		var executionError alignment.ExecutionError
		if errors.As(outcome.Err, &executionError) && len(executionError.InvocationID) > 0 {
			details[invocationDetailKeyConstant] = executionError.InvocationID
		}
		reporter.Report(reporting.Event{
			Level:      reporting.EventLevelError,
			Code:       reporting.EventCodeSampleFailed,
			SampleName: outcome.Sample.Name,
			Message:    message,
			Details:    details,
		})
	}
}
