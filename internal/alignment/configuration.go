package alignment

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultExecutableConstant     = "bowtie2"
	defaultReferenceIndexConstant = "wuhan"
	defaultAlignmentModeConstant  = AlignmentModeVerySensitiveLocal
	defaultOutputFileNameConstant = "covid_assembly.sam"
	defaultOutputRootConstant     = "latch:///Assembly Outputs"

	localModeSuffixConstant      = "-local"
	localFlagConstant            = "--local"
	flagPrefixConstant           = "--"
	indexFlagConstant            = "-x"
	threadsFlagConstant          = "-p"
	firstMateFlagConstant        = "-1"
	secondMateFlagConstant       = "-2"
	outputFileFlagConstant       = "-S"
	logicalSeparatorConstant     = "/"
	environmentSeparatorConstant = "="

	unknownAlignmentModeTemplateConstant    = "unsupported alignment mode %q"
	negativeThreadsTemplateConstant         = "threads must not be negative: %d"
	negativeTimeoutTemplateConstant         = "timeout must not be negative: %s"
	outputFileNameInvalidMessageConstant    = "output file name must be a plain file name"
	referenceIndexMissingMessageConstant    = "reference index not provided"
	environmentEntryInvalidTemplateConstant = "environment entry must have the form NAME=VALUE: %q"
)

// AlignmentMode names an aligner sensitivity preset.
type AlignmentMode string

// Supported alignment presets. The -local variants additionally enable local alignment.
const (
	AlignmentModeVeryFast           AlignmentMode = "very-fast"
	AlignmentModeFast               AlignmentMode = "fast"
	AlignmentModeSensitive          AlignmentMode = "sensitive"
	AlignmentModeVerySensitive      AlignmentMode = "very-sensitive"
	AlignmentModeVeryFastLocal      AlignmentMode = "very-fast-local"
	AlignmentModeFastLocal          AlignmentMode = "fast-local"
	AlignmentModeSensitiveLocal     AlignmentMode = "sensitive-local"
	AlignmentModeVerySensitiveLocal AlignmentMode = "very-sensitive-local"
)

var supportedAlignmentModes = map[AlignmentMode]struct{}{
	AlignmentModeVeryFast:           {},
	AlignmentModeFast:               {},
	AlignmentModeSensitive:          {},
	AlignmentModeVerySensitive:      {},
	AlignmentModeVeryFastLocal:      {},
	AlignmentModeFastLocal:          {},
	AlignmentModeSensitiveLocal:     {},
	AlignmentModeVerySensitiveLocal: {},
}

// ErrInvalidConfiguration marks configuration values rejected by Validate.
var ErrInvalidConfiguration = errors.New("invalid alignment configuration")

// Local reports whether the preset runs the aligner in local mode.
func (mode AlignmentMode) Local() bool {
	return strings.HasSuffix(string(mode), localModeSuffixConstant)
}

// Configuration captures the alignment policy applied to every sample.
//
// Environment holds NAME=VALUE entries added to the aligner's inherited environment,
// for example BOWTIE2_INDEXES so a bare reference index resolves from any workspace.
type Configuration struct {
	Executable     string        `mapstructure:"executable"`
	ReferenceIndex string        `mapstructure:"reference_index"`
	AlignmentMode  AlignmentMode `mapstructure:"alignment_mode"`
	OutputFileName string        `mapstructure:"output_file_name"`
	OutputRoot     string        `mapstructure:"output_root"`
	WorkingRoot    string        `mapstructure:"working_root"`
	Threads        int           `mapstructure:"threads"`
	Timeout        time.Duration `mapstructure:"timeout"`
	Environment    []string      `mapstructure:"environment"`
}

// DefaultConfiguration returns the stock alignment policy.
func DefaultConfiguration() Configuration {
	return Configuration{
		Executable:     defaultExecutableConstant,
		ReferenceIndex: defaultReferenceIndexConstant,
		AlignmentMode:  defaultAlignmentModeConstant,
		OutputFileName: defaultOutputFileNameConstant,
		OutputRoot:     defaultOutputRootConstant,
		WorkingRoot:    os.TempDir(),
	}
}

// Sanitize trims string fields and fills empty ones with defaults.
func (configuration Configuration) Sanitize() Configuration {
	defaults := DefaultConfiguration()
	sanitized := configuration

	sanitized.Executable = stringOrDefault(configuration.Executable, defaults.Executable)
	sanitized.ReferenceIndex = stringOrDefault(configuration.ReferenceIndex, defaults.ReferenceIndex)
	sanitized.AlignmentMode = AlignmentMode(strings.ToLower(stringOrDefault(string(configuration.AlignmentMode), string(defaults.AlignmentMode))))
	sanitized.OutputFileName = stringOrDefault(configuration.OutputFileName, defaults.OutputFileName)
	sanitized.WorkingRoot = stringOrDefault(configuration.WorkingRoot, defaults.WorkingRoot)
	sanitized.OutputRoot = stringOrDefault(configuration.OutputRoot, defaults.OutputRoot)

	sanitized.Environment = nil
	for _, entry := range configuration.Environment {
		if trimmedEntry := strings.TrimSpace(entry); len(trimmedEntry) > 0 {
			sanitized.Environment = append(sanitized.Environment, trimmedEntry)
		}
	}

	return sanitized
}

// Validate reports configuration values that cannot produce a valid invocation.
func (configuration Configuration) Validate() error {
	if _, supported := supportedAlignmentModes[configuration.AlignmentMode]; !supported {
		return fmt.Errorf("%w: "+unknownAlignmentModeTemplateConstant, ErrInvalidConfiguration, configuration.AlignmentMode)
	}
	if len(strings.TrimSpace(configuration.ReferenceIndex)) == 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfiguration, referenceIndexMissingMessageConstant)
	}
	outputFileName := configuration.OutputFileName
	if len(outputFileName) == 0 || strings.ContainsAny(outputFileName, `/\`) || outputFileName == "." || outputFileName == ".." {
		return fmt.Errorf("%w: %s", ErrInvalidConfiguration, outputFileNameInvalidMessageConstant)
	}
	if configuration.Threads < 0 {
		return fmt.Errorf("%w: "+negativeThreadsTemplateConstant, ErrInvalidConfiguration, configuration.Threads)
	}
	if configuration.Timeout < 0 {
		return fmt.Errorf("%w: "+negativeTimeoutTemplateConstant, ErrInvalidConfiguration, configuration.Timeout)
	}
	for _, entry := range configuration.Environment {
		name, _, found := strings.Cut(entry, environmentSeparatorConstant)
		if !found || len(name) == 0 || strings.ContainsAny(name, " \t") {
			return fmt.Errorf("%w: "+environmentEntryInvalidTemplateConstant, ErrInvalidConfiguration, entry)
		}
	}
	return nil
}

// EnvironmentVariables returns the configured environment entries keyed by name.
// Later entries for the same name win. The result is nil when nothing is configured.
func (configuration Configuration) EnvironmentVariables() map[string]string {
	if len(configuration.Environment) == 0 {
		return nil
	}
	variables := make(map[string]string, len(configuration.Environment))
	for _, entry := range configuration.Environment {
		name, value, found := strings.Cut(entry, environmentSeparatorConstant)
		if !found || len(name) == 0 {
			continue
		}
		variables[name] = value
	}
	return variables
}

// Arguments builds the aligner argument vector for one paired-end invocation.
func (configuration Configuration) Arguments(firstReadPath string, secondReadPath string, outputPath string) []string {
	arguments := make([]string, 0, 12)
	if configuration.AlignmentMode.Local() {
		arguments = append(arguments, localFlagConstant)
	}
	arguments = append(arguments, flagPrefixConstant+string(configuration.AlignmentMode))
	arguments = append(arguments, indexFlagConstant, configuration.ReferenceIndex)
	if configuration.Threads > 0 {
		arguments = append(arguments, threadsFlagConstant, strconv.Itoa(configuration.Threads))
	}
	arguments = append(arguments,
		firstMateFlagConstant, firstReadPath,
		secondMateFlagConstant, secondReadPath,
		outputFileFlagConstant, outputPath,
	)
	return arguments
}

// LogicalLocation returns the durable storage key for a sample's artifact.
func (configuration Configuration) LogicalLocation(sampleName string) string {
	return LogicalLocation(configuration.OutputRoot, sampleName, configuration.OutputFileName)
}

// LogicalLocation returns <outputRoot>/<sampleName>/<outputFileName>. The root is
// used as given, including URI forms such as latch:///, and the sample name is used verbatim.
func LogicalLocation(outputRoot string, sampleName string, outputFileName string) string {
	root := outputRoot
	if !strings.HasSuffix(root, logicalSeparatorConstant) {
		root += logicalSeparatorConstant
	}
	return root + sampleName + logicalSeparatorConstant + outputFileName
}

func stringOrDefault(value string, fallback string) string {
	trimmed := strings.TrimSpace(value)
	if len(trimmed) == 0 {
		return fallback
	}
	return trimmed
}
