package docs_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tyemirov/pairalign/internal/alignment"
)

const (
	documentationFileNameConstant    = "README.md"
	yamlFenceStartConstant           = "```yaml"
	yamlFenceEndConstant             = "```"
	configHeaderMarkerConstant       = "# config.yaml"
	parentDirectoryReferenceConstant = ".."
	missingHeaderMessageConstant     = "README example missing config header marker"
	missingStartFenceMessageConstant = "README example missing yaml fence start"
	missingEndFenceMessageConstant   = "README example missing yaml fence end"
)

type readmeApplicationConfiguration struct {
	Common    map[string]any `yaml:"common"`
	Alignment map[string]any `yaml:"alignment"`
	Batch     map[string]any `yaml:"batch"`
}

func TestReadmeConfigurationExampleIsValid(testInstance *testing.T) {
	workingDirectory, workingDirectoryError := os.Getwd()
	require.NoError(testInstance, workingDirectoryError)

	documentationPath := filepath.Join(workingDirectory, parentDirectoryReferenceConstant, documentationFileNameConstant)
	contentBytes, readError := os.ReadFile(documentationPath)
	require.NoError(testInstance, readError)

	contentText := string(contentBytes)
	headerIndex := strings.Index(contentText, configHeaderMarkerConstant)
	require.NotEqual(testInstance, -1, headerIndex, missingHeaderMessageConstant)

	fenceStartIndex := strings.LastIndex(contentText[:headerIndex], yamlFenceStartConstant)
	require.NotEqual(testInstance, -1, fenceStartIndex, missingStartFenceMessageConstant)

	fenceEndOffset := strings.Index(contentText[headerIndex:], yamlFenceEndConstant)
	require.NotEqual(testInstance, -1, fenceEndOffset, missingEndFenceMessageConstant)

	snippet := contentText[fenceStartIndex+len(yamlFenceStartConstant) : headerIndex+fenceEndOffset]

	var configuration readmeApplicationConfiguration
	require.NoError(testInstance, yaml.Unmarshal([]byte(snippet), &configuration))
	require.NotEmpty(testInstance, configuration.Common)
	require.NotEmpty(testInstance, configuration.Batch)

	alignmentConfiguration := alignment.DefaultConfiguration()
	decoder, decoderError := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:  mapstructure.StringToTimeDurationHookFunc(),
		ErrorUnused: true,
		Result:      &alignmentConfiguration,
	})
	require.NoError(testInstance, decoderError)
	require.NoError(testInstance, decoder.Decode(configuration.Alignment))

	require.NoError(testInstance, alignmentConfiguration.Sanitize().Validate())
	require.True(testInstance, alignmentConfiguration.AlignmentMode.Local())
}
