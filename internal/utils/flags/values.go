// Package flags resolves Cobra flag values together with whether the operator set them explicitly.
package flags

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

const boolFlagParseErrorTemplate = "unable to parse flag %q: %w"

// ErrFlagNotDefined indicates that the requested flag is not present on the command.
var ErrFlagNotDefined = errors.New("flag not defined")

// BoolFlag returns the flag value and whether it was changed on the command line.
func BoolFlag(command *cobra.Command, name string) (bool, bool, error) {
	flagSet, flag := locateFlag(command, name)
	if flag == nil {
		return false, false, ErrFlagNotDefined
	}
	value, err := flagSet.GetBool(name)
	if err == nil {
		return value, flag.Changed, nil
	}

	if flag.Value == nil {
		return false, false, err
	}

	parsedValue, parseError := strconv.ParseBool(strings.TrimSpace(flag.Value.String()))
	if parseError != nil {
		return false, false, fmt.Errorf(boolFlagParseErrorTemplate, name, parseError)
	}

	return parsedValue, flag.Changed, nil
}

func StringFlag(command *cobra.Command, name string) (string, bool, error) {
	flagSet, flag := locateFlag(command, name)
	if flag == nil {
		return "", false, ErrFlagNotDefined
	}
	value, err := flagSet.GetString(name)
	if err != nil {
		return "", false, err
	}
	return value, flag.Changed, nil
}

func IntFlag(command *cobra.Command, name string) (int, bool, error) {
	flagSet, flag := locateFlag(command, name)
	if flag == nil {
		return 0, false, ErrFlagNotDefined
	}
	value, err := flagSet.GetInt(name)
	if err != nil {
		return 0, false, err
	}
	return value, flag.Changed, nil
}

func DurationFlag(command *cobra.Command, name string) (time.Duration, bool, error) {
	flagSet, flag := locateFlag(command, name)
	if flag == nil {
		return 0, false, ErrFlagNotDefined
	}
	value, err := flagSet.GetDuration(name)
	if err != nil {
		return 0, false, err
	}
	return value, flag.Changed, nil
}

func StringArrayFlag(command *cobra.Command, name string) ([]string, bool, error) {
	flagSet, flag := locateFlag(command, name)
	if flag == nil {
		return nil, false, ErrFlagNotDefined
	}
	values, err := flagSet.GetStringArray(name)
	if err != nil {
		return nil, false, err
	}
	return values, flag.Changed, nil
}

// OverrideString replaces configured with the flag value when the flag was set explicitly.
func OverrideString(command *cobra.Command, name string, configured string) string {
	value, changed, err := StringFlag(command, name)
	if err != nil || !changed {
		return configured
	}
	return strings.TrimSpace(value)
}

// OverrideInt replaces configured with the flag value when the flag was set explicitly.
func OverrideInt(command *cobra.Command, name string, configured int) int {
	value, changed, err := IntFlag(command, name)
	if err != nil || !changed {
		return configured
	}
	return value
}

// OverrideDuration replaces configured with the flag value when the flag was set explicitly.
func OverrideDuration(command *cobra.Command, name string, configured time.Duration) time.Duration {
	value, changed, err := DurationFlag(command, name)
	if err != nil || !changed {
		return configured
	}
	return value
}

// OverrideStringArray replaces configured with the trimmed flag values when the flag was set explicitly.
func OverrideStringArray(command *cobra.Command, name string, configured []string) []string {
	values, changed, err := StringArrayFlag(command, name)
	if err != nil || !changed {
		return configured
	}
	trimmed := make([]string, 0, len(values))
	for _, value := range values {
		trimmed = append(trimmed, strings.TrimSpace(value))
	}
	return trimmed
}

func locateFlag(command *cobra.Command, name string) (*pflag.FlagSet, *pflag.Flag) {
	if command == nil {
		return nil, nil
	}

	candidateSets := []*pflag.FlagSet{
		command.Flags(),
		command.PersistentFlags(),
		command.InheritedFlags(),
	}

	if root := command.Root(); root != nil {
		candidateSets = append(candidateSets, root.PersistentFlags())
	}

	for _, set := range candidateSets {
		if set == nil {
			continue
		}
		if flag := set.Lookup(name); flag != nil {
			return set, flag
		}
	}

	return nil, nil
}
