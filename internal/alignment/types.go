// Package alignment runs a paired-end read aligner once per sample and fans a batch of samples out across workers.
package alignment

import (
	"os"
	"time"

	"go.uber.org/multierr"
)

// Sample is one paired-end sequencing unit supplied by the caller.
type Sample struct {
	Name  string
	Read1 string
	Read2 string
}

// AlignmentResult references the artifact produced for one sample.
// The workspace directory belongs to the caller once the result is returned.
type AlignmentResult struct {
	SampleName         string
	LocalPath          string
	LogicalLocation    string
	WorkspaceDirectory string
	InvocationID       string
}

// Discard removes the workspace that holds the local artifact.
func (result AlignmentResult) Discard() error {
	if len(result.WorkspaceDirectory) == 0 {
		return nil
	}
	return os.RemoveAll(result.WorkspaceDirectory)
}

// Outcome is the result of one sample in a batch: either Result or Err is set.
type Outcome struct {
	Index    int
	Sample   Sample
	Result   *AlignmentResult
	Err      error
	Duration time.Duration
}

// Succeeded reports whether the sample produced an artifact.
func (outcome Outcome) Succeeded() bool {
	return outcome.Err == nil && outcome.Result != nil
}

// Outcomes holds per-sample outcomes in input order.
type Outcomes []Outcome

// Succeeded returns the artifacts of successful samples in input order.
func (outcomes Outcomes) Succeeded() []AlignmentResult {
	results := make([]AlignmentResult, 0, len(outcomes))
	for _, outcome := range outcomes {
		if outcome.Succeeded() {
			results = append(results, *outcome.Result)
		}
	}
	return results
}

// Failed returns the failed outcomes in input order.
func (outcomes Outcomes) Failed() Outcomes {
	failed := make(Outcomes, 0)
	for _, outcome := range outcomes {
		if !outcome.Succeeded() {
			failed = append(failed, outcome)
		}
	}
	return failed
}

// Err combines every per-sample error; nil when all samples succeeded.
func (outcomes Outcomes) Err() error {
	var combined error
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			combined = multierr.Append(combined, outcome.Err)
		}
	}
	return combined
}
