// Package samplesheet loads batches of paired-end samples from YAML or JSON documents.
package samplesheet

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/tyemirov/pairalign/internal/alignment"
)

const (
	readSheetTemplateConstant        = "read sample sheet %s: %w"
	decodeSheetTemplateConstant      = "decode sample sheet: %w"
	entryErrorTemplateConstant       = "sample sheet entry %d: %w"
	duplicateNameTemplateConstant    = "sample sheet entry %d: %w: %q (first seen at entry %d)"
	conflictingKeyTemplateConstant   = "%w: %s and %s"
	emptySheetMessageConstant        = "sample sheet contains no samples"
	missingNameMessageConstant       = "sample name missing"
	missingFirstReadMessageConstant  = "read1 path missing"
	missingSecondReadMessageConstant = "read2 path missing"
	duplicateNameMessageConstant     = "duplicate sample name"
	conflictingKeyMessageConstant    = "conflicting keys"
)

var (
	// ErrEmptySheet indicates a sheet without samples.
	ErrEmptySheet = errors.New(emptySheetMessageConstant)
	// ErrNameMissing indicates an entry without a name.
	ErrNameMissing = errors.New(missingNameMessageConstant)
	// ErrFirstReadMissing indicates an entry without a read1 path.
	ErrFirstReadMissing = errors.New(missingFirstReadMessageConstant)
	// ErrSecondReadMissing indicates an entry without a read2 path.
	ErrSecondReadMissing = errors.New(missingSecondReadMessageConstant)
	// ErrDuplicateName indicates two entries sharing a name.
	ErrDuplicateName = errors.New(duplicateNameMessageConstant)
	// ErrConflictingKeys indicates an entry that sets both a key and its alias.
	ErrConflictingKeys = errors.New(conflictingKeyMessageConstant)
)

type sheetEntry struct {
	Name       string `yaml:"name"`
	Read1      string `yaml:"read1"`
	Read2      string `yaml:"read2"`
	Read1Alias string `yaml:"r1"`
	Read2Alias string `yaml:"r2"`
}

type wrappedSheet struct {
	Samples []sheetEntry `yaml:"samples"`
}

// Load reads a sample sheet from disk. Relative read paths resolve against the sheet's directory.
func Load(sheetPath string) ([]alignment.Sample, error) {
	content, readError := os.ReadFile(sheetPath)
	if readError != nil {
		return nil, fmt.Errorf(readSheetTemplateConstant, sheetPath, readError)
	}
	return Decode(bytes.NewReader(content), filepath.Dir(sheetPath))
}

// Decode parses a sheet that is either a list of samples or a mapping with a samples list.
// JSON documents are accepted because they are valid YAML.
func Decode(reader io.Reader, baseDirectory string) ([]alignment.Sample, error) {
	content, readError := io.ReadAll(reader)
	if readError != nil {
		return nil, fmt.Errorf(decodeSheetTemplateConstant, readError)
	}

	var document yaml.Node
	if decodeError := yaml.Unmarshal(content, &document); decodeError != nil {
		return nil, fmt.Errorf(decodeSheetTemplateConstant, decodeError)
	}
	if len(document.Content) == 0 {
		return nil, ErrEmptySheet
	}

	var entries []sheetEntry
	root := document.Content[0]
	switch root.Kind {
	case yaml.SequenceNode:
		if decodeError := root.Decode(&entries); decodeError != nil {
			return nil, fmt.Errorf(decodeSheetTemplateConstant, decodeError)
		}
	default:
		var wrapped wrappedSheet
		if decodeError := root.Decode(&wrapped); decodeError != nil {
			return nil, fmt.Errorf(decodeSheetTemplateConstant, decodeError)
		}
		entries = wrapped.Samples
	}

	if len(entries) == 0 {
		return nil, ErrEmptySheet
	}

	samples := make([]alignment.Sample, 0, len(entries))
	firstSeen := make(map[string]int, len(entries))
	for entryIndex, entry := range entries {
		entryNumber := entryIndex + 1
		sample, entryError := entry.toSample(baseDirectory)
		if entryError != nil {
			return nil, fmt.Errorf(entryErrorTemplateConstant, entryNumber, entryError)
		}
		if previous, exists := firstSeen[sample.Name]; exists {
			return nil, fmt.Errorf(duplicateNameTemplateConstant, entryNumber, ErrDuplicateName, sample.Name, previous)
		}
		firstSeen[sample.Name] = entryNumber
		samples = append(samples, sample)
	}
	return samples, nil
}

func (entry sheetEntry) toSample(baseDirectory string) (alignment.Sample, error) {
	name := strings.TrimSpace(entry.Name)
	if len(name) == 0 {
		return alignment.Sample{}, ErrNameMissing
	}

	firstRead, firstReadError := pickAlias(entry.Read1, entry.Read1Alias, "read1", "r1")
	if firstReadError != nil {
		return alignment.Sample{}, firstReadError
	}
	if len(firstRead) == 0 {
		return alignment.Sample{}, ErrFirstReadMissing
	}

	secondRead, secondReadError := pickAlias(entry.Read2, entry.Read2Alias, "read2", "r2")
	if secondReadError != nil {
		return alignment.Sample{}, secondReadError
	}
	if len(secondRead) == 0 {
		return alignment.Sample{}, ErrSecondReadMissing
	}

	return alignment.Sample{
		Name:  name,
		Read1: resolvePath(baseDirectory, firstRead),
		Read2: resolvePath(baseDirectory, secondRead),
	}, nil
}

func pickAlias(primary string, alias string, primaryKey string, aliasKey string) (string, error) {
	trimmedPrimary := strings.TrimSpace(primary)
	trimmedAlias := strings.TrimSpace(alias)
	if len(trimmedPrimary) > 0 && len(trimmedAlias) > 0 && trimmedPrimary != trimmedAlias {
		return "", fmt.Errorf(conflictingKeyTemplateConstant, ErrConflictingKeys, primaryKey, aliasKey)
	}
	if len(trimmedPrimary) > 0 {
		return trimmedPrimary, nil
	}
	return trimmedAlias, nil
}

func resolvePath(baseDirectory string, readPath string) string {
	if filepath.IsAbs(readPath) || len(baseDirectory) == 0 {
		return readPath
	}
	return filepath.Join(baseDirectory, readPath)
}
