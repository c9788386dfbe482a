package utils

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	mapstructure "github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

const (
	configurationReadErrorTemplateConstant     = "unable to read configuration file %s: %w"
	configurationEmbeddedErrorTemplateConstant = "unable to merge embedded configuration: %w"
	configurationDecodeErrorTemplateConstant   = "unable to decode configuration: %w"
	configurationTargetMissingMessageConstant  = "configuration target not provided"
	configurationListSeparatorConstant         = ","
)

// ErrConfigurationTargetMissing indicates LoadConfiguration was called without a decode target.
var ErrConfigurationTargetMissing = errors.New(configurationTargetMissingMessageConstant)

// LoadedConfiguration reports where the effective configuration came from.
type LoadedConfiguration struct {
	ConfigFileUsed string
}

// ConfigurationLoader layers embedded defaults, a configuration file and environment variables.
//
// Precedence, lowest first: default values, embedded configuration, configuration file,
// environment variables. Environment variables use the prefix followed by the
// upper-cased key with dots replaced by underscores (common.log_level -> PREFIX_COMMON_LOG_LEVEL).
type ConfigurationLoader struct {
	configurationName string
	configurationType string
	environmentPrefix string
	searchPaths       []string
	embeddedData      []byte
	embeddedType      string
}

// NewConfigurationLoader constructs a loader for the named configuration file.
func NewConfigurationLoader(configurationName string, configurationType string, environmentPrefix string, searchPaths []string) *ConfigurationLoader {
	copiedSearchPaths := make([]string, 0, len(searchPaths))
	for _, searchPath := range searchPaths {
		trimmedPath := strings.TrimSpace(searchPath)
		if len(trimmedPath) == 0 {
			continue
		}
		copiedSearchPaths = append(copiedSearchPaths, trimmedPath)
	}

	return &ConfigurationLoader{
		configurationName: configurationName,
		configurationType: configurationType,
		environmentPrefix: environmentPrefix,
		searchPaths:       copiedSearchPaths,
	}
}

// SetEmbeddedConfiguration installs configuration content compiled into the binary.
func (loader *ConfigurationLoader) SetEmbeddedConfiguration(data []byte, configurationType string) {
	loader.embeddedData = append([]byte(nil), data...)
	loader.embeddedType = configurationType
}

// LoadConfiguration resolves the layered configuration and decodes it into target.
//
// An explicit configurationFilePath wins over the search paths. A missing file in the
// search paths is not an error; a missing explicit file is.
func (loader *ConfigurationLoader) LoadConfiguration(configurationFilePath string, defaultValues map[string]any, target any) (LoadedConfiguration, error) {
	if target == nil {
		return LoadedConfiguration{}, ErrConfigurationTargetMissing
	}

	configurationViper := viper.New()
	configurationViper.SetConfigType(loader.configurationType)

	for key, value := range defaultValues {
		configurationViper.SetDefault(key, value)
	}

	if len(loader.embeddedData) > 0 {
		embeddedType := loader.embeddedType
		if len(embeddedType) == 0 {
			embeddedType = loader.configurationType
		}
		configurationViper.SetConfigType(embeddedType)
		if mergeError := configurationViper.MergeConfig(bytes.NewReader(loader.embeddedData)); mergeError != nil {
			return LoadedConfiguration{}, fmt.Errorf(configurationEmbeddedErrorTemplateConstant, mergeError)
		}
		configurationViper.SetConfigType(loader.configurationType)
	}

	trimmedFilePath := strings.TrimSpace(configurationFilePath)
	if len(trimmedFilePath) > 0 {
		configurationViper.SetConfigFile(trimmedFilePath)
	} else {
		configurationViper.SetConfigName(loader.configurationName)
		for _, searchPath := range loader.searchPaths {
			configurationViper.AddConfigPath(searchPath)
		}
	}

	if len(trimmedFilePath) > 0 || len(loader.searchPaths) > 0 {
		if mergeError := configurationViper.MergeInConfig(); mergeError != nil {
			var notFoundError viper.ConfigFileNotFoundError
			if len(trimmedFilePath) > 0 || !errors.As(mergeError, &notFoundError) {
				return LoadedConfiguration{}, fmt.Errorf(configurationReadErrorTemplateConstant, trimmedFilePath, mergeError)
			}
		}
	}

	if len(loader.environmentPrefix) > 0 {
		configurationViper.SetEnvPrefix(loader.environmentPrefix)
		configurationViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
		configurationViper.AutomaticEnv()
		for _, key := range configurationViper.AllKeys() {
			_ = configurationViper.BindEnv(key)
		}
	}

	decodeHook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(configurationListSeparatorConstant),
	))
	if decodeError := configurationViper.Unmarshal(target, decodeHook); decodeError != nil {
		return LoadedConfiguration{}, fmt.Errorf(configurationDecodeErrorTemplateConstant, decodeError)
	}

	return LoadedConfiguration{ConfigFileUsed: configurationViper.ConfigFileUsed()}, nil
}
