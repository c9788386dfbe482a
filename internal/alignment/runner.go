package alignment

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	duplicateSampleMessageConstant = "duplicate sample name; later results overwrite earlier ones at the same logical location"
	batchStartMessageConstant      = "batch starting"
	batchCompleteMessageConstant   = "batch completed"
	sampleCountFieldNameConstant   = "samples"
	workerCountFieldNameConstant   = "workers"
	failureCountFieldNameConstant  = "failed"
	occurrencesFieldNameConstant   = "occurrences"
	notStartedTemplateConstant     = "sample %q not started: %w: %w"
)

// SampleExecutor processes one sample.
type SampleExecutor interface {
	Execute(executionContext context.Context, sample Sample) (AlignmentResult, error)
}

// OutcomeObserver receives each outcome as soon as its sample finishes. Calls are serialized.
type OutcomeObserver func(outcome Outcome)

// RunnerOptions tunes FanOutRunner.
type RunnerOptions struct {
	Workers  int
	Observer OutcomeObserver
	Logger   *zap.Logger
	Now      func() time.Time
}

// FanOutRunner executes a batch of samples concurrently and collects outcomes in input order.
type FanOutRunner struct {
	sampleExecutor SampleExecutor
	workers        int
	observer       OutcomeObserver
	logger         *zap.Logger
	now            func() time.Time
	observerMutex  sync.Mutex
}

// NewFanOutRunner constructs a FanOutRunner. Workers defaults to the number of CPUs.
func NewFanOutRunner(sampleExecutor SampleExecutor, options RunnerOptions) (*FanOutRunner, error) {
	if sampleExecutor == nil {
		return nil, ErrSampleExecutorNotConfigured
	}

	workers := options.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	logger := options.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}

	return &FanOutRunner{
		sampleExecutor: sampleExecutor,
		workers:        workers,
		observer:       options.Observer,
		logger:         logger,
		now:            now,
	}, nil
}

// RunAll attempts every sample and returns one outcome per sample, aligned with the input.
// A failed sample never cancels its siblings. When the context ends, samples that have not
// started yet fail with ErrInvocationCanceled and in-flight samples observe the cancellation.
func (runner *FanOutRunner) RunAll(executionContext context.Context, samples []Sample) Outcomes {
	if executionContext == nil {
		executionContext = context.Background()
	}

	outcomes := make(Outcomes, len(samples))
	if len(samples) == 0 {
		return outcomes
	}

	runner.warnDuplicateNames(samples)
	runner.logger.Info(batchStartMessageConstant,
		zap.Int(sampleCountFieldNameConstant, len(samples)),
		zap.Int(workerCountFieldNameConstant, runner.workers),
	)

	var workerGroup errgroup.Group
	workerGroup.SetLimit(runner.workers)

	for sampleIndex, sample := range samples {
		if executionContext.Err() != nil {
			outcomes[sampleIndex] = runner.notStarted(executionContext, sampleIndex, sample)
			runner.observe(outcomes[sampleIndex])
			continue
		}

		workerGroup.Go(func() error {
			if executionContext.Err() != nil {
				outcomes[sampleIndex] = runner.notStarted(executionContext, sampleIndex, sample)
				runner.observe(outcomes[sampleIndex])
				return nil
			}

			startTime := runner.now()
			result, executionError := runner.sampleExecutor.Execute(executionContext, sample)
			outcome := Outcome{
				Index:    sampleIndex,
				Sample:   sample,
				Err:      executionError,
				Duration: runner.now().Sub(startTime),
			}
			if executionError == nil {
				outcome.Result = &result
			}

			outcomes[sampleIndex] = outcome
			runner.observe(outcome)
			return nil
		})
	}

	_ = workerGroup.Wait()

	runner.logger.Info(batchCompleteMessageConstant,
		zap.Int(sampleCountFieldNameConstant, len(samples)),
		zap.Int(failureCountFieldNameConstant, len(outcomes.Failed())),
	)
	return outcomes
}

func (runner *FanOutRunner) notStarted(executionContext context.Context, sampleIndex int, sample Sample) Outcome {
	return Outcome{
		Index:  sampleIndex,
		Sample: sample,
		Err:    fmt.Errorf(notStartedTemplateConstant, sample.Name, ErrInvocationCanceled, executionContext.Err()),
	}
}

func (runner *FanOutRunner) observe(outcome Outcome) {
	if runner.observer == nil {
		return
	}
	runner.observerMutex.Lock()
	defer runner.observerMutex.Unlock()
	runner.observer(outcome)
}

func (runner *FanOutRunner) warnDuplicateNames(samples []Sample) {
	occurrences := make(map[string]int, len(samples))
	order := make([]string, 0, len(samples))
	for _, sample := range samples {
		if occurrences[sample.Name] == 0 {
			order = append(order, sample.Name)
		}
		occurrences[sample.Name]++
	}
	for _, sampleName := range order {
		if occurrences[sampleName] > 1 {
			runner.logger.Warn(duplicateSampleMessageConstant,
				zap.String(sampleFieldNameConstant, sampleName),
				zap.Int(occurrencesFieldNameConstant, occurrences[sampleName]),
			)
		}
	}
}
