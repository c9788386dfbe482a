package align

import (
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tyemirov/pairalign/internal/alignment"
	"github.com/tyemirov/pairalign/internal/reporting"
)

const (
	manifestStatusAlignedConstant       = "aligned"
	manifestStatusFailedConstant        = "failed"
	manifestStandardOutputConstant      = "-"
	manifestIndentConstant              = 2
	manifestFilePermissionsConstant     = 0o644
	manifestEncodeErrorTemplateConstant = "encode manifest: %w"
	manifestWriteErrorTemplateConstant  = "write manifest %s: %w"
)

// ManifestEntry records the outcome of one sample.
type ManifestEntry struct {
	Sample               string `yaml:"sample"`
	Status               string `yaml:"status"`
	LocalPath            string `yaml:"local_path,omitempty"`
	LogicalLocation      string `yaml:"logical_location,omitempty"`
	InvocationID         string `yaml:"invocation_id,omitempty"`
	DurationMilliseconds int64  `yaml:"duration_ms"`
	Error                string `yaml:"error,omitempty"`
}

// Manifest lists batch outcomes in input order together with the run summary.
type Manifest struct {
	RunIdentifier string                `yaml:"run_id,omitempty"`
	Samples       []ManifestEntry       `yaml:"samples"`
	Summary       reporting.SummaryData `yaml:"summary"`
}

// BuildManifest converts batch outcomes into a manifest.
func BuildManifest(outcomes alignment.Outcomes, summary reporting.SummaryData) Manifest {
	entries := make([]ManifestEntry, 0, len(outcomes))
	for _, outcome := range outcomes {
		entry := ManifestEntry{
			Sample:               outcome.Sample.Name,
			Status:               manifestStatusAlignedConstant,
			DurationMilliseconds: outcome.Duration.Milliseconds(),
		}
		if outcome.Succeeded() {
			entry.LocalPath = outcome.Result.LocalPath
			entry.LogicalLocation = outcome.Result.LogicalLocation
			entry.InvocationID = outcome.Result.InvocationID
		} else {
			entry.Status = manifestStatusFailedConstant
			if outcome.Err != nil {
				entry.Error = outcome.Err.Error()
			}
		}
		entries = append(entries, entry)
	}
	return Manifest{Samples: entries, Summary: summary}
}

// WriteManifest encodes the manifest as YAML.
func WriteManifest(writer io.Writer, manifest Manifest) error {
	encoder := yaml.NewEncoder(writer)
	encoder.SetIndent(manifestIndentConstant)
	if encodeError := encoder.Encode(manifest); encodeError != nil {
		return fmt.Errorf(manifestEncodeErrorTemplateConstant, encodeError)
	}
	if closeError := encoder.Close(); closeError != nil {
		return fmt.Errorf(manifestEncodeErrorTemplateConstant, closeError)
	}
	return nil
}

func writeManifestDestination(destination string, standardOutput io.Writer, manifest Manifest) error {
	if destination == manifestStandardOutputConstant {
		return WriteManifest(standardOutput, manifest)
	}

	manifestFile, openError := os.OpenFile(destination, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, manifestFilePermissionsConstant)
	if openError != nil {
		return fmt.Errorf(manifestWriteErrorTemplateConstant, destination, openError)
	}
	if writeError := WriteManifest(manifestFile, manifest); writeError != nil {
		_ = manifestFile.Close()
		return fmt.Errorf(manifestWriteErrorTemplateConstant, destination, writeError)
	}
	if closeError := manifestFile.Close(); closeError != nil {
		return fmt.Errorf(manifestWriteErrorTemplateConstant, destination, closeError)
	}
	return nil
}
