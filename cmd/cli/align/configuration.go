package align

import (
	"strings"

	"github.com/tyemirov/pairalign/internal/alignment"
)

// BatchConfiguration captures batch-level settings for the run command.
type BatchConfiguration struct {
	Samples  string `mapstructure:"samples"`
	Manifest string `mapstructure:"manifest"`
	Workers  int    `mapstructure:"workers"`
}

// CommandConfiguration captures configuration values for the run command.
type CommandConfiguration struct {
	Alignment alignment.Configuration `mapstructure:"alignment"`
	Batch     BatchConfiguration      `mapstructure:"batch"`
}

// DefaultCommandConfiguration provides default run command settings.
func DefaultCommandConfiguration() CommandConfiguration {
	return CommandConfiguration{
		Alignment: alignment.DefaultConfiguration(),
	}
}

// Sanitize normalizes configuration values.
func (configuration CommandConfiguration) Sanitize() CommandConfiguration {
	sanitized := configuration
	sanitized.Alignment = configuration.Alignment.Sanitize()
	sanitized.Batch.Samples = strings.TrimSpace(configuration.Batch.Samples)
	sanitized.Batch.Manifest = strings.TrimSpace(configuration.Batch.Manifest)
	if sanitized.Batch.Workers < 0 {
		sanitized.Batch.Workers = 0
	}
	return sanitized
}
