package cli_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tyemirov/pairalign/cmd/cli"
	"github.com/tyemirov/pairalign/internal/alignment"
)

const (
	testConfigurationFileNameConstant          = "config.yaml"
	testConfigurationSearchPathEnvironmentName = "PAIRALIGN_CONFIG_SEARCH_PATH"
	testApplicationNameConstant                = "pairalign"
	testRunCommandNameConstant                 = "run"
	testExistingConfigurationContentConstant   = "common:\n  log_level: info\n"
)

func isolateConfigurationSearch(testInstance *testing.T) string {
	testInstance.Helper()
	configurationDirectory := testInstance.TempDir()
	testInstance.Setenv(testConfigurationSearchPathEnvironmentName, configurationDirectory)
	return configurationDirectory
}

func resolveSymlinkedPath(testInstance *testing.T, path string) string {
	testInstance.Helper()
	resolvedPath, resolveError := filepath.EvalSymlinks(path)
	require.NoError(testInstance, resolveError)
	return resolvedPath
}

func TestApplicationUsesEmbeddedDefaults(testInstance *testing.T) {
	isolateConfigurationSearch(testInstance)

	application := cli.NewApplication()
	require.NoError(testInstance, application.InitializeForCommand(testRunCommandNameConstant))
	require.Empty(testInstance, application.ConfigFileUsed())

	configuration := application.Configuration()
	defaults := alignment.DefaultConfiguration()
	require.Equal(testInstance, "error", configuration.Common.LogLevel)
	require.Equal(testInstance, "structured", configuration.Common.LogFormat)
	require.Equal(testInstance, defaults.Executable, configuration.Alignment.Executable)
	require.Equal(testInstance, defaults.ReferenceIndex, configuration.Alignment.ReferenceIndex)
	require.Equal(testInstance, defaults.AlignmentMode, configuration.Alignment.AlignmentMode)
	require.Equal(testInstance, defaults.OutputFileName, configuration.Alignment.OutputFileName)
	require.Equal(testInstance, defaults.OutputRoot, configuration.Alignment.OutputRoot)
	require.Zero(testInstance, configuration.Alignment.Timeout)
	require.Zero(testInstance, configuration.Batch.Workers)
	require.Empty(testInstance, configuration.Alignment.Environment)
}

func TestApplicationConfigurationLayers(testInstance *testing.T) {
	testCases := []struct {
		name        string
		fileContent string
		environment map[string]string
		assertion   func(*testing.T, cli.ApplicationConfiguration)
	}{
		{
			name:        "configuration file overrides embedded defaults",
			fileContent: "alignment:\n  reference_index: hg38\n  alignment_mode: sensitive\nbatch:\n  workers: 3\n",
			assertion: func(t *testing.T, configuration cli.ApplicationConfiguration) {
				require.Equal(t, "hg38", configuration.Alignment.ReferenceIndex)
				require.Equal(t, alignment.AlignmentModeSensitive, configuration.Alignment.AlignmentMode)
				require.Equal(t, 3, configuration.Batch.Workers)
				require.Equal(t, "bowtie2", configuration.Alignment.Executable)
			},
		},
		{
			name:        "environment overrides configuration file",
			fileContent: "alignment:\n  threads: 2\n",
			environment: map[string]string{
				"PAIRALIGN_ALIGNMENT_THREADS":     "8",
				"PAIRALIGN_ALIGNMENT_TIMEOUT":     "90s",
				"PAIRALIGN_BATCH_MANIFEST":        "-",
				"PAIRALIGN_ALIGNMENT_ENVIRONMENT": "BOWTIE2_INDEXES=/refs,LC_ALL=C",
			},
			assertion: func(t *testing.T, configuration cli.ApplicationConfiguration) {
				require.Equal(t, []string{"BOWTIE2_INDEXES=/refs", "LC_ALL=C"}, configuration.Alignment.Environment)
				require.Equal(t, 8, configuration.Alignment.Threads)
				require.Equal(t, 90*time.Second, configuration.Alignment.Timeout)
				require.Equal(t, "-", configuration.Batch.Manifest)
			},
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(t *testing.T) {
			configurationDirectory := isolateConfigurationSearch(t)
			configurationPath := filepath.Join(configurationDirectory, testConfigurationFileNameConstant)
			require.NoError(t, os.WriteFile(configurationPath, []byte(testCase.fileContent), 0o600))
			for name, value := range testCase.environment {
				t.Setenv(name, value)
			}

			application := cli.NewApplication()
			require.NoError(t, application.InitializeForCommand(testRunCommandNameConstant))
			require.Equal(t, resolveSymlinkedPath(t, configurationPath), resolveSymlinkedPath(t, application.ConfigFileUsed()))

			testCase.assertion(t, application.Configuration())
		})
	}
}

func TestApplicationRejectsUnsupportedLogLevel(testInstance *testing.T) {
	configurationDirectory := isolateConfigurationSearch(testInstance)
	configurationPath := filepath.Join(configurationDirectory, testConfigurationFileNameConstant)
	require.NoError(testInstance, os.WriteFile(configurationPath, []byte("common:\n  log_level: loud\n"), 0o600))

	application := cli.NewApplication()
	initializationError := application.InitializeForCommand(testRunCommandNameConstant)
	require.Error(testInstance, initializationError)
	require.Contains(testInstance, initializationError.Error(), "unsupported log level")
}

func TestApplicationConfigurationInitialization(testInstance *testing.T) {
	embeddedConfigurationContent, configurationType := cli.EmbeddedDefaultConfiguration()
	require.NotEmpty(testInstance, embeddedConfigurationContent)
	require.Equal(testInstance, "yaml", configurationType)

	testCases := []struct {
		name            string
		arguments       []string
		existingContent string
		expectError     bool
		expectedContent []byte
	}{
		{
			name:            "writes embedded configuration",
			arguments:       []string{"--init"},
			expectedContent: embeddedConfigurationContent,
		},
		{
			name:            "refuses to overwrite without force",
			arguments:       []string{"--init"},
			existingContent: testExistingConfigurationContentConstant,
			expectError:     true,
			expectedContent: []byte(testExistingConfigurationContentConstant),
		},
		{
			name:            "overwrites with force",
			arguments:       []string{"--init", "--force"},
			existingContent: testExistingConfigurationContentConstant,
			expectedContent: embeddedConfigurationContent,
		},
	}

	for _, testCase := range testCases {
		testInstance.Run(testCase.name, func(t *testing.T) {
			workingDirectory := t.TempDir()
			t.Chdir(workingDirectory)
			t.Setenv(testConfigurationSearchPathEnvironmentName, t.TempDir())

			configurationPath := filepath.Join(workingDirectory, testConfigurationFileNameConstant)
			if len(testCase.existingContent) > 0 {
				require.NoError(t, os.WriteFile(configurationPath, []byte(testCase.existingContent), 0o600))
			}

			originalArguments := os.Args
			os.Args = append([]string{testApplicationNameConstant}, testCase.arguments...)
			t.Cleanup(func() {
				os.Args = originalArguments
			})

			executionError := cli.NewApplication().Execute()
			if testCase.expectError {
				require.Error(t, executionError)
				require.Contains(t, executionError.Error(), "already exists")
			} else {
				require.NoError(t, executionError)
			}

			fileContent, readError := os.ReadFile(configurationPath)
			require.NoError(t, readError)
			require.Equal(t, testCase.expectedContent, fileContent)
		})
	}
}
