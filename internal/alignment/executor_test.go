package alignment_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tyemirov/pairalign/internal/alignment"
	"github.com/tyemirov/pairalign/internal/execshell"
	"github.com/tyemirov/pairalign/internal/notify"
)

const (
	mateFileMissingStandardErrorConstant = "(ERR): mate file does not exist\nExiting now ...\n"
	failureTitleConstant                 = "Bowtie2 Failed"
)

func TestTaskExecutorProducesArtifactAtLogicalLocation(testInstance *testing.T) {
	sampleNames := []string{"SRR11772659", "Patient 7 day 3", "échantillon-β-样本"}

	for _, sampleName := range sampleNames {
		testInstance.Run(sampleName, func(subTest *testing.T) {
			fixture := newExecutorFixture(subTest, alignment.DefaultConfiguration(), nil)
			sample := writeSample(subTest, subTest.TempDir(), sampleName)

			result, executeError := fixture.executor.Execute(context.Background(), sample)
			require.NoError(subTest, executeError)

			require.Equal(subTest, sampleName, result.SampleName)
			require.Equal(subTest, "latch:///Assembly Outputs/"+sampleName+"/covid_assembly.sam", result.LogicalLocation)
			require.Equal(subTest, filepath.Join(result.WorkspaceDirectory, "covid_assembly.sam"), result.LocalPath)
			require.Equal(subTest, fixture.workingRoot, filepath.Dir(result.WorkspaceDirectory))
			require.True(subTest, strings.HasPrefix(filepath.Base(result.WorkspaceDirectory), "pairalign-"))
			require.NotEmpty(subTest, result.InvocationID)

			content, readError := os.ReadFile(result.LocalPath)
			require.NoError(subTest, readError)
			require.Equal(subTest, expectedArtifactContent(sampleName), string(content))

			require.Empty(subTest, fixture.recorder.recorded())
			require.EqualValues(subTest, 1, fixture.stub.invocations.Load())

			require.NoError(subTest, result.Discard())
			require.NoDirExists(subTest, result.WorkspaceDirectory)
		})
	}
}

func TestTaskExecutorBuildsCommandInsideWorkspace(testInstance *testing.T) {
	configuration := alignment.DefaultConfiguration()
	configuration.Threads = 2
	fixture := newExecutorFixture(testInstance, configuration, nil)
	sample := writeSample(testInstance, testInstance.TempDir(), "sample a")

	result, executeError := fixture.executor.Execute(context.Background(), sample)
	require.NoError(testInstance, executeError)

	commands := fixture.stub.recordedCommands()
	require.Len(testInstance, commands, 1)
	require.Equal(testInstance, execshell.CommandName("bowtie2"), commands[0].Name)
	require.Equal(testInstance, result.WorkspaceDirectory, commands[0].Details.WorkingDirectory)
	require.Equal(testInstance,
		[]string{"--local", "--very-sensitive-local", "-x", "wuhan", "-p", "2", "-1", sample.Read1, "-2", sample.Read2, "-S", result.LocalPath},
		commands[0].Details.Arguments,
	)
}

func TestTaskExecutorResolvesRelativeReadPaths(testInstance *testing.T) {
	fixture := newExecutorFixture(testInstance, alignment.DefaultConfiguration(), nil)
	sampleDirectory := testInstance.TempDir()
	sample := writeSample(testInstance, sampleDirectory, "relative")

	testInstance.Chdir(filepath.Join(sampleDirectory, "reads"))
	relativeSample := alignment.Sample{Name: sample.Name, Read1: "relative_R1.fastq", Read2: "relative_R2.fastq"}

	result, executeError := fixture.executor.Execute(context.Background(), relativeSample)
	require.NoError(testInstance, executeError)

	commands := fixture.stub.recordedCommands()
	require.Len(testInstance, commands, 1)
	arguments := parseAlignerArguments(commands[0].Details.Arguments)
	require.True(testInstance, filepath.IsAbs(arguments.firstReadPath))
	require.True(testInstance, filepath.IsAbs(arguments.secondReadPath))

	content, readError := os.ReadFile(result.LocalPath)
	require.NoError(testInstance, readError)
	require.Equal(testInstance, expectedArtifactContent("relative"), string(content))
}

func TestTaskExecutorLogicalLocationIsStableAcrossRuns(testInstance *testing.T) {
	fixture := newExecutorFixture(testInstance, alignment.DefaultConfiguration(), nil)
	sample := writeSample(testInstance, testInstance.TempDir(), "repeat me")

	firstResult, firstError := fixture.executor.Execute(context.Background(), sample)
	require.NoError(testInstance, firstError)
	secondResult, secondError := fixture.executor.Execute(context.Background(), sample)
	require.NoError(testInstance, secondError)

	require.Equal(testInstance, firstResult.LogicalLocation, secondResult.LogicalLocation)
	require.NotEqual(testInstance, firstResult.WorkspaceDirectory, secondResult.WorkspaceDirectory)
	require.NotEqual(testInstance, firstResult.InvocationID, secondResult.InvocationID)
}

func TestTaskExecutorNonZeroExitProducesExecutionError(testInstance *testing.T) {
	fixture := newExecutorFixture(testInstance, alignment.DefaultConfiguration(), func(_ context.Context, _ execshell.ShellCommand, arguments alignerArguments) (execshell.ExecutionResult, error) {
		require.NoError(testInstance, os.WriteFile(arguments.outputPath, []byte("partial"), 0o600))
		return execshell.ExecutionResult{ExitCode: 1, StandardError: mateFileMissingStandardErrorConstant}, nil
	})
	sample := writeSample(testInstance, testInstance.TempDir(), "broken sample")

	result, executeError := fixture.executor.Execute(context.Background(), sample)
	require.Error(testInstance, executeError)
	require.Equal(testInstance, alignment.AlignmentResult{}, result)

	var executionError alignment.ExecutionError
	require.ErrorAs(testInstance, executeError, &executionError)
	require.Equal(testInstance, "broken sample", executionError.SampleName)
	require.Equal(testInstance, 1, executionError.ExitCode)
	require.Equal(testInstance, mateFileMissingStandardErrorConstant, executionError.StandardError)
	require.NotEmpty(testInstance, executionError.InvocationID)

	var commandFailedError execshell.CommandFailedError
	require.ErrorAs(testInstance, executeError, &commandFailedError)

	notifications := fixture.recorder.recorded()
	require.Len(testInstance, notifications, 1)
	require.Equal(testInstance, notify.SeverityError, notifications[0].Severity)
	require.Equal(testInstance, failureTitleConstant, notifications[0].Title)
	require.Equal(testInstance, "Error: bowtie2 command exited with code 1: (ERR): mate file does not exist | Exiting now ...", notifications[0].Body)
	require.Equal(testInstance, "broken sample", notifications[0].SampleName)
	require.Equal(testInstance, executionError.InvocationID, notifications[0].InvocationID)
	require.Equal(testInstance, "sample \"broken sample\" alignment failed: bowtie2 command exited with code 1: (ERR): mate file does not exist | Exiting now ...", executionError.Error())

	require.Empty(testInstance, fixture.workspaceEntries(testInstance))
}

func TestExecutionErrorStatesExitCodeOnce(testInstance *testing.T) {
	testCases := []struct {
		name            string
		executionError  alignment.ExecutionError
		expectedMessage string
	}{
		{
			name: "command failure carries exit code",
			executionError: alignment.ExecutionError{
				SampleName: "A",
				ExitCode:   3,
				Cause:      execshell.CommandFailedError{Command: execshell.ShellCommand{Name: "bowtie2"}, Result: execshell.ExecutionResult{ExitCode: 3}},
			},
			expectedMessage: `sample "A" alignment failed: bowtie2 command exited with code 3`,
		},
		{
			name:            "other cause gains exit code",
			executionError:  alignment.ExecutionError{SampleName: "A", ExitCode: 3, Cause: errors.New("signal: killed")},
			expectedMessage: `sample "A" alignment failed (exit code 3): signal: killed`,
		},
		{
			name:            "unknown exit code omitted",
			executionError:  alignment.ExecutionError{SampleName: "A", ExitCode: -1, Cause: context.DeadlineExceeded},
			expectedMessage: `sample "A" alignment failed: context deadline exceeded`,
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subTest *testing.T) {
			require.Equal(subTest, testCase.expectedMessage, testCase.executionError.Error())
		})
	}
}

func TestTaskExecutorPassesConfiguredEnvironment(testInstance *testing.T) {
	configuration := alignment.DefaultConfiguration()
	configuration.Environment = []string{"BOWTIE2_INDEXES=/refs/sars-cov-2", " LC_ALL=C ", "BOWTIE2_INDEXES=/refs/wuhan"}
	fixture := newExecutorFixture(testInstance, configuration, nil)

	_, executeError := fixture.executor.Execute(context.Background(), writeSample(testInstance, testInstance.TempDir(), "env"))
	require.NoError(testInstance, executeError)

	commands := fixture.stub.recordedCommands()
	require.Len(testInstance, commands, 1)
	require.Equal(testInstance, map[string]string{"BOWTIE2_INDEXES": "/refs/wuhan", "LC_ALL": "C"}, commands[0].Details.EnvironmentVariables)
}

func TestTaskExecutorRejectsInvalidInputsWithoutSpawning(testInstance *testing.T) {
	sampleDirectory := testInstance.TempDir()
	validSample := writeSample(testInstance, sampleDirectory, "valid")
	readsDirectory := filepath.Join(sampleDirectory, "reads")
	missingReadPath := filepath.Join(sampleDirectory, "absent_R2.fastq")

	testCases := []struct {
		name          string
		sample        alignment.Sample
		expectedCause error
		expectedPath  string
	}{
		{name: "missing first read", sample: alignment.Sample{Name: "s", Read1: missingReadPath, Read2: validSample.Read2}, expectedCause: os.ErrNotExist, expectedPath: missingReadPath},
		{name: "missing second read", sample: alignment.Sample{Name: "s", Read1: validSample.Read1, Read2: missingReadPath}, expectedCause: os.ErrNotExist, expectedPath: missingReadPath},
		{name: "directory read", sample: alignment.Sample{Name: "s", Read1: readsDirectory, Read2: validSample.Read2}, expectedCause: alignment.ErrReadPathNotRegular, expectedPath: readsDirectory},
		{name: "blank read path", sample: alignment.Sample{Name: "s", Read1: validSample.Read1, Read2: " "}, expectedCause: alignment.ErrReadPathMissing, expectedPath: " "},
		{name: "blank name", sample: alignment.Sample{Name: "  ", Read1: validSample.Read1, Read2: validSample.Read2}, expectedCause: alignment.ErrSampleNameMissing},
		{name: "name with separator", sample: alignment.Sample{Name: "run/1", Read1: validSample.Read1, Read2: validSample.Read2}, expectedCause: alignment.ErrSampleNameInvalid},
		{name: "parent name", sample: alignment.Sample{Name: "..", Read1: validSample.Read1, Read2: validSample.Read2}, expectedCause: alignment.ErrSampleNameInvalid},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subTest *testing.T) {
			fixture := newExecutorFixture(subTest, alignment.DefaultConfiguration(), nil)

			_, executeError := fixture.executor.Execute(context.Background(), testCase.sample)

			var inputError alignment.InputError
			require.ErrorAs(subTest, executeError, &inputError)
			require.ErrorIs(subTest, executeError, testCase.expectedCause)
			require.Equal(subTest, testCase.expectedPath, inputError.Path)
			require.Equal(subTest, testCase.sample.Name, inputError.SampleName)

			var executionError alignment.ExecutionError
			require.False(subTest, errors.As(executeError, &executionError))
			require.Zero(subTest, fixture.stub.invocations.Load())
			require.Empty(subTest, fixture.recorder.recorded())
			require.Empty(subTest, fixture.workspaceEntries(subTest))
		})
	}
}

func TestTaskExecutorCanceledBeforeStart(testInstance *testing.T) {
	fixture := newExecutorFixture(testInstance, alignment.DefaultConfiguration(), nil)
	sample := writeSample(testInstance, testInstance.TempDir(), "late")

	executionContext, cancel := context.WithCancel(context.Background())
	cancel()

	_, executeError := fixture.executor.Execute(executionContext, sample)
	require.ErrorIs(testInstance, executeError, alignment.ErrInvocationCanceled)
	require.ErrorIs(testInstance, executeError, context.Canceled)
	require.Zero(testInstance, fixture.stub.invocations.Load())
	require.Empty(testInstance, fixture.recorder.recorded())
	require.Empty(testInstance, fixture.workspaceEntries(testInstance))
}

func TestTaskExecutorCanceledDuringRun(testInstance *testing.T) {
	executionContext, cancel := context.WithCancel(context.Background())
	defer cancel()

	fixture := newExecutorFixture(testInstance, alignment.DefaultConfiguration(), func(runContext context.Context, _ execshell.ShellCommand, _ alignerArguments) (execshell.ExecutionResult, error) {
		cancel()
		<-runContext.Done()
		return execshell.ExecutionResult{ExitCode: -1}, runContext.Err()
	})
	sample := writeSample(testInstance, testInstance.TempDir(), "interrupted")

	_, executeError := fixture.executor.Execute(executionContext, sample)

	var executionError alignment.ExecutionError
	require.ErrorAs(testInstance, executeError, &executionError)
	require.ErrorIs(testInstance, executeError, alignment.ErrInvocationCanceled)
	require.ErrorIs(testInstance, executeError, context.Canceled)
	require.Equal(testInstance, -1, executionError.ExitCode)
	require.Len(testInstance, fixture.recorder.recorded(), 1)
	require.Empty(testInstance, fixture.workspaceEntries(testInstance))
}

func TestTaskExecutorTimeout(testInstance *testing.T) {
	configuration := alignment.DefaultConfiguration()
	configuration.Timeout = 50 * time.Millisecond

	fixture := newExecutorFixture(testInstance, configuration, func(runContext context.Context, _ execshell.ShellCommand, _ alignerArguments) (execshell.ExecutionResult, error) {
		<-runContext.Done()
		return execshell.ExecutionResult{ExitCode: -1}, runContext.Err()
	})
	sample := writeSample(testInstance, testInstance.TempDir(), "slow")

	_, executeError := fixture.executor.Execute(context.Background(), sample)

	var executionError alignment.ExecutionError
	require.ErrorAs(testInstance, executeError, &executionError)
	require.ErrorIs(testInstance, executeError, context.DeadlineExceeded)
	require.NotErrorIs(testInstance, executeError, alignment.ErrInvocationCanceled)
	require.Equal(testInstance, -1, executionError.ExitCode)

	notifications := fixture.recorder.recorded()
	require.Len(testInstance, notifications, 1)
	require.Contains(testInstance, notifications[0].Body, context.DeadlineExceeded.Error())
}

func TestTaskExecutorMissingOutputIsExecutionError(testInstance *testing.T) {
	fixture := newExecutorFixture(testInstance, alignment.DefaultConfiguration(), func(context.Context, execshell.ShellCommand, alignerArguments) (execshell.ExecutionResult, error) {
		return execshell.ExecutionResult{}, nil
	})
	sample := writeSample(testInstance, testInstance.TempDir(), "silent")

	_, executeError := fixture.executor.Execute(context.Background(), sample)

	var executionError alignment.ExecutionError
	require.ErrorAs(testInstance, executeError, &executionError)
	require.ErrorIs(testInstance, executeError, alignment.ErrOutputMissing)
	require.ErrorIs(testInstance, executeError, os.ErrNotExist)
	require.Zero(testInstance, executionError.ExitCode)
	require.Len(testInstance, fixture.recorder.recorded(), 1)
	require.Empty(testInstance, fixture.workspaceEntries(testInstance))
}

func TestTaskExecutorOutputDirectoryIsExecutionError(testInstance *testing.T) {
	fixture := newExecutorFixture(testInstance, alignment.DefaultConfiguration(), func(_ context.Context, _ execshell.ShellCommand, arguments alignerArguments) (execshell.ExecutionResult, error) {
		require.NoError(testInstance, os.Mkdir(arguments.outputPath, 0o700))
		return execshell.ExecutionResult{}, nil
	})
	sample := writeSample(testInstance, testInstance.TempDir(), "directory output")

	_, executeError := fixture.executor.Execute(context.Background(), sample)

	var executionError alignment.ExecutionError
	require.ErrorAs(testInstance, executeError, &executionError)
	require.ErrorIs(testInstance, executeError, alignment.ErrOutputMissing)
	require.NotErrorIs(testInstance, executeError, alignment.ErrReadPathNotRegular)
	require.Contains(testInstance, executeError.Error(), "output is not a regular file")

	notifications := fixture.recorder.recorded()
	require.Len(testInstance, notifications, 1)
	require.Contains(testInstance, notifications[0].Body, "output is not a regular file")
	require.Empty(testInstance, fixture.workspaceEntries(testInstance))
}

func TestTaskExecutorReportsMissingExecutable(testInstance *testing.T) {
	configuration := alignment.DefaultConfiguration()
	configuration.Executable = "pairalign-test-missing-aligner"
	configuration.WorkingRoot = testInstance.TempDir()

	recorder := &notificationRecorder{}
	executor, executorError := alignment.NewTaskExecutor(configuration, alignment.Dependencies{Notifier: recorder})
	require.NoError(testInstance, executorError)

	_, executeError := executor.Execute(context.Background(), writeSample(testInstance, testInstance.TempDir(), "no tool"))

	var executionError alignment.ExecutionError
	require.ErrorAs(testInstance, executeError, &executionError)
	require.Equal(testInstance, -1, executionError.ExitCode)

	var commandExecutionError execshell.CommandExecutionError
	require.ErrorAs(testInstance, executeError, &commandExecutionError)
	require.Len(testInstance, recorder.recorded(), 1)
}

func TestTaskExecutorRunsRealProcess(testInstance *testing.T) {
	requirePOSIXShell(testInstance)

	scriptDirectory := testInstance.TempDir()
	alignerScriptPath := filepath.Join(scriptDirectory, "fake-bowtie2")
	alignerScript := strings.Join([]string{
		"#!/bin/sh",
		`while [ "$#" -gt 0 ]; do`,
		`  case "$1" in`,
		`    -1) first="$2"; shift 2 ;;`,
		`    -2) second="$2"; shift 2 ;;`,
		`    -S) output="$2"; shift 2 ;;`,
		`    *) shift ;;`,
		"  esac",
		"done",
		`cat "$first" "$second" > "$output"`,
		`if [ -n "$PAIRALIGN_TEST_MARKER" ]; then printf "%s\n" "$PAIRALIGN_TEST_MARKER" >> "$output"; fi`,
		"",
	}, "\n")
	require.NoError(testInstance, os.WriteFile(alignerScriptPath, []byte(alignerScript), 0o755))

	failingScriptPath := filepath.Join(scriptDirectory, "failing-bowtie2")
	failingScript := "#!/bin/sh\necho '(ERR): mate file does not exist' >&2\nexit 1\n"
	require.NoError(testInstance, os.WriteFile(failingScriptPath, []byte(failingScript), 0o755))

	testCases := []struct {
		name           string
		executable     string
		environment    []string
		expectedSuffix string
		expectFailure  bool
	}{
		{name: "success", executable: alignerScriptPath},
		{name: "configured environment", executable: alignerScriptPath, environment: []string{"PAIRALIGN_TEST_MARKER=index from env"}, expectedSuffix: "index from env\n"},
		{name: "failure", executable: failingScriptPath, expectFailure: true},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(subTest *testing.T) {
			configuration := alignment.DefaultConfiguration()
			configuration.Executable = testCase.executable
			configuration.WorkingRoot = subTest.TempDir()
			configuration.Environment = testCase.environment

			recorder := &notificationRecorder{}
			executor, executorError := alignment.NewTaskExecutor(configuration, alignment.Dependencies{
				Notifier: recorder,
				Logger:   zap.NewNop(),
			})
			require.NoError(subTest, executorError)

			sample := writeSample(subTest, subTest.TempDir(), "Sample Ω 1")
			result, executeError := executor.Execute(context.Background(), sample)

			if testCase.expectFailure {
				var executionError alignment.ExecutionError
				require.ErrorAs(subTest, executeError, &executionError)
				require.Equal(subTest, 1, executionError.ExitCode)
				require.Contains(subTest, executionError.StandardError, "mate file does not exist")
				require.Len(subTest, recorder.recorded(), 1)
				return
			}

			require.NoError(subTest, executeError)
			content, readError := os.ReadFile(result.LocalPath)
			require.NoError(subTest, readError)
			require.Equal(subTest, expectedArtifactContent("Sample Ω 1")+testCase.expectedSuffix, string(content))
			require.Empty(subTest, recorder.recorded())
		})
	}
}
