package version

import (
	"context"
	"errors"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"

	"github.com/tyemirov/pairalign/internal/execshell"
)

const (
	unknownVersionFallbackConstant = "unknown"
	buildInfoDevelVersionValue     = "devel"
	vcsRevisionSettingKeyConstant  = "vcs.revision"
	vcsModifiedSettingKeyConstant  = "vcs.modified"
	vcsModifiedTrueValueConstant   = "true"
	dirtySuffixConstant            = "-dirty"
	revisionPrefixConstant         = "rev-"
	shortRevisionLengthConstant    = 12
	toolVersionFlagConstant        = "--version"
	toolExecutorMissingMessage     = "tool executor not configured"
	toolExecutableMissingMessage   = "tool executable not provided"
	toolVersionOutputEmptyMessage  = "tool version output empty"
	develVersionTrimCharacters     = "()"
)

var (
	errToolExecutorMissing     = errors.New(toolExecutorMissingMessage)
	errToolExecutableMissing   = errors.New(toolExecutableMissingMessage)
	errToolVersionOutputAbsent = errors.New(toolVersionOutputEmptyMessage)
)

// BuildInfoProvider exposes runtime build metadata.
type BuildInfoProvider interface {
	Read() (*debug.BuildInfo, bool)
}

// CommandExecutor runs external tools.
type CommandExecutor interface {
	Execute(executionContext context.Context, command execshell.ShellCommand) (execshell.ExecutionResult, error)
}

// Detector resolves application and external tool version strings.
type Detector struct {
	buildInfoProvider BuildInfoProvider
	commandExecutor   CommandExecutor
}

// Dependencies describes the collaborators required for version detection.
type Dependencies struct {
	BuildInfoProvider BuildInfoProvider
	CommandExecutor   CommandExecutor
}

// NewDetector constructs a Detector with the supplied dependencies or sensible defaults.
func NewDetector(dependencies Dependencies) (*Detector, error) {
	provider := dependencies.BuildInfoProvider
	if provider == nil {
		provider = runtimeBuildInfoProvider{}
	}

	executor := dependencies.CommandExecutor
	if executor == nil {
		shellExecutor, creationError := execshell.NewShellExecutor(zap.NewNop(), execshell.NewOSCommandRunner(), false)
		if creationError != nil {
			return nil, creationError
		}
		executor = shellExecutor
	}

	return &Detector{
		buildInfoProvider: provider,
		commandExecutor:   executor,
	}, nil
}

// Detect resolves the application version using the supplied dependencies.
func Detect(executionContext context.Context, dependencies Dependencies) string {
	detector, detectorError := NewDetector(dependencies)
	if detectorError != nil {
		return unknownVersionFallbackConstant
	}
	return detector.Version(executionContext)
}

// Version returns the detected application version string.
func (detector *Detector) Version(_ context.Context) string {
	if detector == nil || detector.buildInfoProvider == nil {
		return unknownVersionFallbackConstant
	}

	buildInfo, available := detector.buildInfoProvider.Read()
	if !available || buildInfo == nil {
		return unknownVersionFallbackConstant
	}

	if moduleVersion := strings.TrimSpace(buildInfo.Main.Version); len(moduleVersion) > 0 && !strings.EqualFold(strings.Trim(moduleVersion, develVersionTrimCharacters), buildInfoDevelVersionValue) {
		return moduleVersion
	}

	if revisionVersion := versionFromRevision(buildInfo.Settings); len(revisionVersion) > 0 {
		return revisionVersion
	}

	return unknownVersionFallbackConstant
}

// ToolVersion returns the first non-empty line printed by `<executable> --version`.
func (detector *Detector) ToolVersion(executionContext context.Context, executable string) (string, error) {
	if detector == nil || detector.commandExecutor == nil {
		return "", errToolExecutorMissing
	}
	trimmedExecutable := strings.TrimSpace(executable)
	if len(trimmedExecutable) == 0 {
		return "", errToolExecutableMissing
	}

	executionResult, executionError := detector.commandExecutor.Execute(executionContext, execshell.ShellCommand{
		Name:    execshell.CommandName(trimmedExecutable),
		Details: execshell.CommandDetails{Arguments: []string{toolVersionFlagConstant}},
	})
	if executionError != nil {
		return "", executionError
	}

	for _, line := range strings.Split(executionResult.StandardOutput, "\n") {
		if trimmedLine := strings.TrimSpace(line); len(trimmedLine) > 0 {
			return trimmedLine, nil
		}
	}
	return "", errToolVersionOutputAbsent
}

func versionFromRevision(settings []debug.BuildSetting) string {
	var revision string
	var modified bool
	for _, setting := range settings {
		switch setting.Key {
		case vcsRevisionSettingKeyConstant:
			revision = strings.TrimSpace(setting.Value)
		case vcsModifiedSettingKeyConstant:
			modified = setting.Value == vcsModifiedTrueValueConstant
		}
	}
	if len(revision) == 0 {
		return ""
	}
	if len(revision) > shortRevisionLengthConstant {
		revision = revision[:shortRevisionLengthConstant]
	}
	if modified {
		revision += dirtySuffixConstant
	}
	return revisionPrefixConstant + revision
}

type runtimeBuildInfoProvider struct{}

func (runtimeBuildInfoProvider) Read() (*debug.BuildInfo, bool) {
	return debug.ReadBuildInfo()
}
