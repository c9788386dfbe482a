package alignment_test

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/tyemirov/pairalign/internal/alignment"
	"github.com/tyemirov/pairalign/internal/execshell"
	"github.com/tyemirov/pairalign/internal/notify"
)

const (
	firstMateFlagConstant  = "-1"
	secondMateFlagConstant = "-2"
	outputFlagConstant     = "-S"
)

type alignerArguments struct {
	firstReadPath  string
	secondReadPath string
	outputPath     string
}

func parseAlignerArguments(arguments []string) alignerArguments {
	var parsed alignerArguments
	for index := 0; index+1 < len(arguments); index++ {
		switch arguments[index] {
		case firstMateFlagConstant:
			parsed.firstReadPath = arguments[index+1]
		case secondMateFlagConstant:
			parsed.secondReadPath = arguments[index+1]
		case outputFlagConstant:
			parsed.outputPath = arguments[index+1]
		}
	}
	return parsed
}

type alignerBehavior func(executionContext context.Context, command execshell.ShellCommand, arguments alignerArguments) (execshell.ExecutionResult, error)

// alignerStub stands in for the aligner process. By default it writes the concatenated reads to the -S path.
type alignerStub struct {
	behavior    alignerBehavior
	invocations atomic.Int64
	mutex       sync.Mutex
	commands    []execshell.ShellCommand
}

func (stub *alignerStub) Run(executionContext context.Context, command execshell.ShellCommand) (execshell.ExecutionResult, error) {
	stub.invocations.Add(1)
	stub.mutex.Lock()
	stub.commands = append(stub.commands, command)
	stub.mutex.Unlock()

	arguments := parseAlignerArguments(command.Details.Arguments)
	if stub.behavior != nil {
		return stub.behavior(executionContext, command, arguments)
	}
	return concatenateReads(arguments)
}

func (stub *alignerStub) recordedCommands() []execshell.ShellCommand {
	stub.mutex.Lock()
	defer stub.mutex.Unlock()
	return append([]execshell.ShellCommand(nil), stub.commands...)
}

func concatenateReads(arguments alignerArguments) (execshell.ExecutionResult, error) {
	firstRead, firstReadError := os.ReadFile(arguments.firstReadPath)
	if firstReadError != nil {
		return execshell.ExecutionResult{ExitCode: 1, StandardError: firstReadError.Error()}, nil
	}
	secondRead, secondReadError := os.ReadFile(arguments.secondReadPath)
	if secondReadError != nil {
		return execshell.ExecutionResult{ExitCode: 1, StandardError: secondReadError.Error()}, nil
	}
	if writeError := os.WriteFile(arguments.outputPath, append(firstRead, secondRead...), 0o600); writeError != nil {
		return execshell.ExecutionResult{ExitCode: 1, StandardError: writeError.Error()}, nil
	}
	return execshell.ExecutionResult{}, nil
}

type notificationRecorder struct {
	mutex         sync.Mutex
	notifications []notify.Notification
}

func (recorder *notificationRecorder) Notify(_ context.Context, notification notify.Notification) {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	recorder.notifications = append(recorder.notifications, notification)
}

func (recorder *notificationRecorder) recorded() []notify.Notification {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	return append([]notify.Notification(nil), recorder.notifications...)
}

type executorFixture struct {
	executor    *alignment.TaskExecutor
	stub        *alignerStub
	recorder    *notificationRecorder
	workingRoot string
}

func newExecutorFixture(testInstance *testing.T, configuration alignment.Configuration, behavior alignerBehavior) executorFixture {
	testInstance.Helper()

	workingRoot := filepath.Join(testInstance.TempDir(), "work")
	configuration.WorkingRoot = workingRoot

	stub := &alignerStub{behavior: behavior}
	shellExecutor, shellExecutorError := execshell.NewShellExecutor(zap.NewNop(), stub, false)
	require.NoError(testInstance, shellExecutorError)

	recorder := &notificationRecorder{}
	executor, executorError := alignment.NewTaskExecutor(configuration, alignment.Dependencies{
		Executor: shellExecutor,
		Notifier: recorder,
		Logger:   zap.NewNop(),
	})
	require.NoError(testInstance, executorError)

	return executorFixture{executor: executor, stub: stub, recorder: recorder, workingRoot: workingRoot}
}

func (fixture executorFixture) workspaceEntries(testInstance *testing.T) []os.DirEntry {
	testInstance.Helper()
	entries, readError := os.ReadDir(fixture.workingRoot)
	if os.IsNotExist(readError) {
		return nil
	}
	require.NoError(testInstance, readError)
	return entries
}

func writeSample(testInstance *testing.T, directory string, name string) alignment.Sample {
	testInstance.Helper()

	sampleDirectory := filepath.Join(directory, "reads")
	require.NoError(testInstance, os.MkdirAll(sampleDirectory, 0o755))

	firstReadPath := filepath.Join(sampleDirectory, name+"_R1.fastq")
	secondReadPath := filepath.Join(sampleDirectory, name+"_R2.fastq")
	require.NoError(testInstance, os.WriteFile(firstReadPath, []byte(fmt.Sprintf("@%s/1\nACGT\n", name)), 0o600))
	require.NoError(testInstance, os.WriteFile(secondReadPath, []byte(fmt.Sprintf("@%s/2\nTGCA\n", name)), 0o600))

	return alignment.Sample{Name: name, Read1: firstReadPath, Read2: secondReadPath}
}

func expectedArtifactContent(name string) string {
	return fmt.Sprintf("@%s/1\nACGT\n@%s/2\nTGCA\n", name, name)
}

func requirePOSIXShell(testInstance *testing.T) {
	testInstance.Helper()
	if runtime.GOOS == "windows" {
		testInstance.Skip("POSIX shell required")
	}
	if _, statError := os.Stat("/bin/sh"); statError != nil {
		testInstance.Skip("/bin/sh not available")
	}
}
