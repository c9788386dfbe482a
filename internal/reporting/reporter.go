// Package reporting renders per-sample batch events and aggregates run statistics.
package reporting

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultLevelFieldWidth  = 5
	defaultEventFieldWidth  = 16
	defaultSampleFieldWidth = 24
	defaultTimestampLayout  = "15:04:05"
	unknownEventCode        = "UNKNOWN"
)

// Event codes emitted by the batch runner.
const (
	EventCodeSampleAligned = "SAMPLE_ALIGNED"
	EventCodeSampleFailed  = "SAMPLE_FAILED"
	EventCodeNotification  = "NOTIFICATION"
)

// EventLevel describes the severity of a reported event.
type EventLevel string

// Supported event levels.
const (
	EventLevelInfo  EventLevel = "INFO"
	EventLevelWarn  EventLevel = "WARN"
	EventLevelError EventLevel = "ERROR"
)

// Event captures the structured information associated with one sample.
type Event struct {
	Timestamp  time.Time
	Level      EventLevel
	Code       string
	SampleName string
	Message    string
	Details    map[string]string
}

// Reporter emits structured events.
type Reporter interface {
	Report(event Event)
}

// SummaryData captures aggregated reporter metrics suitable for export.
type SummaryData struct {
	TotalSamples         int                   `json:"total_samples" yaml:"total_samples"`
	SucceededSamples     int                   `json:"succeeded" yaml:"succeeded"`
	FailedSamples        int                   `json:"failed" yaml:"failed"`
	EventCounts          map[string]int        `json:"event_counts" yaml:"event_counts"`
	LevelCounts          map[EventLevel]int    `json:"level_counts" yaml:"level_counts"`
	DurationHuman        string                `json:"duration_human" yaml:"duration_human"`
	DurationMilliseconds int64                 `json:"duration_ms" yaml:"duration_ms"`
	SampleDurations      SampleDurationSummary `json:"sample_durations" yaml:"sample_durations"`
}

// SampleDurationSummary captures aggregated timing across processed samples.
type SampleDurationSummary struct {
	Count                       int   `json:"count" yaml:"count"`
	TotalDurationMilliseconds   int64 `json:"total_duration_ms" yaml:"total_duration_ms"`
	AverageDurationMilliseconds int64 `json:"average_duration_ms" yaml:"average_duration_ms"`
	MaximumDurationMilliseconds int64 `json:"max_duration_ms" yaml:"max_duration_ms"`
}

// ReporterOption customises StructuredReporter behaviour.
type ReporterOption func(*StructuredReporter)

// WithNowProvider overrides the time source used for timestamps and duration calculations.
func WithNowProvider(provider func() time.Time) ReporterOption {
	return func(reporter *StructuredReporter) {
		if provider != nil {
			reporter.now = provider
			reporter.startTime = provider()
		}
	}
}

// WithDetails toggles the machine-readable key=value suffix on each line.
func WithDetails(enabled bool) ReporterOption {
	return func(reporter *StructuredReporter) {
		reporter.includeDetails = enabled
	}
}

// StructuredReporter writes one line per event and keeps run statistics. Safe for concurrent use.
type StructuredReporter struct {
	outputWriter   io.Writer
	errorWriter    io.Writer
	includeDetails bool
	now            func() time.Time

	mutex         sync.Mutex
	startTime     time.Time
	eventCounts   map[string]int
	levelCounts   map[EventLevel]int
	seenSamples   map[string]struct{}
	succeeded     int
	failed        int
	durationCount int
	durationTotal time.Duration
	durationMax   time.Duration
}

// NewStructuredReporter constructs a StructuredReporter that writes to the provided sinks.
func NewStructuredReporter(output io.Writer, errors io.Writer, options ...ReporterOption) *StructuredReporter {
	if output == nil {
		output = os.Stdout
	}
	if errors == nil {
		errors = output
	}

	reporter := &StructuredReporter{
		outputWriter:   output,
		errorWriter:    errors,
		includeDetails: true,
		now:            time.Now,
		startTime:      time.Now(),
		eventCounts:    make(map[string]int),
		levelCounts:    make(map[EventLevel]int),
		seenSamples:    make(map[string]struct{}),
	}

	for _, option := range options {
		option(reporter)
	}

	return reporter
}

// RecordOutcome aggregates the final status and wall time of one sample.
func (reporter *StructuredReporter) RecordOutcome(sampleName string, duration time.Duration, failed bool) {
	if reporter == nil {
		return
	}
	if duration < 0 {
		duration = 0
	}

	reporter.mutex.Lock()
	defer reporter.mutex.Unlock()

	if trimmedName := strings.TrimSpace(sampleName); len(trimmedName) > 0 {
		reporter.seenSamples[trimmedName] = struct{}{}
	}
	if failed {
		reporter.failed++
	} else {
		reporter.succeeded++
	}
	reporter.durationCount++
	reporter.durationTotal += duration
	if duration > reporter.durationMax {
		reporter.durationMax = duration
	}
}

// Report writes the event and updates counters.
func (reporter *StructuredReporter) Report(event Event) {
	if reporter == nil {
		return
	}

	reporter.mutex.Lock()
	defer reporter.mutex.Unlock()

	timestamp := event.Timestamp
	if timestamp.IsZero() {
		timestamp = reporter.now()
	}

	level := normalizeLevel(event.Level)
	code := normalizeCode(event.Code)
	sampleName := strings.TrimSpace(event.SampleName)
	message := strings.TrimSpace(event.Message)

	if len(sampleName) > 0 {
		reporter.seenSamples[sampleName] = struct{}{}
	}
	reporter.eventCounts[code]++
	reporter.levelCounts[level]++

	writer := reporter.outputWriter
	if level == EventLevelError && reporter.errorWriter != nil {
		writer = reporter.errorWriter
	}

	line := formatHumanPart(timestamp, level, code, sampleName, message)
	if reporter.includeDetails {
		line = fmt.Sprintf("%s | %s", line, formatMachinePart(code, sampleName, event.Details))
	}
	fmt.Fprintln(writer, line)
}

// SummaryData produces a serializable snapshot of reporter metrics.
func (reporter *StructuredReporter) SummaryData() SummaryData {
	if reporter == nil {
		return SummaryData{
			EventCounts:   make(map[string]int),
			LevelCounts:   make(map[EventLevel]int),
			DurationHuman: "0s",
		}
	}

	reporter.mutex.Lock()
	defer reporter.mutex.Unlock()

	duration := reporter.now().Sub(reporter.startTime)
	if duration < 0 {
		duration = 0
	}

	sampleDurations := SampleDurationSummary{Count: reporter.durationCount}
	if reporter.durationCount > 0 {
		sampleDurations.TotalDurationMilliseconds = durationMilliseconds(reporter.durationTotal)
		sampleDurations.AverageDurationMilliseconds = durationMilliseconds(reporter.durationTotal / time.Duration(reporter.durationCount))
		sampleDurations.MaximumDurationMilliseconds = durationMilliseconds(reporter.durationMax)
	}

	eventCounts := make(map[string]int, len(reporter.eventCounts))
	for key, value := range reporter.eventCounts {
		eventCounts[key] = value
	}
	levelCounts := make(map[EventLevel]int, len(reporter.levelCounts))
	for key, value := range reporter.levelCounts {
		levelCounts[key] = value
	}

	return SummaryData{
		TotalSamples:         len(reporter.seenSamples),
		SucceededSamples:     reporter.succeeded,
		FailedSamples:        reporter.failed,
		EventCounts:          eventCounts,
		LevelCounts:          levelCounts,
		DurationHuman:        formatDuration(duration),
		DurationMilliseconds: durationMilliseconds(duration),
		SampleDurations:      sampleDurations,
	}
}

// Summary renders the aggregate statistics collected during reporting.
func (reporter *StructuredReporter) Summary() string {
	data := reporter.SummaryData()
	if data.TotalSamples == 0 && len(data.EventCounts) == 0 {
		return "Summary: total.samples=0 succeeded=0 failed=0 duration_human=0s duration_ms=0"
	}

	keys := make([]string, 0, len(data.EventCounts))
	for key := range data.EventCounts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys)+7)
	parts = append(parts, fmt.Sprintf("Summary: total.samples=%d", data.TotalSamples))
	parts = append(parts, fmt.Sprintf("succeeded=%d", data.SucceededSamples))
	parts = append(parts, fmt.Sprintf("failed=%d", data.FailedSamples))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%s=%d", key, data.EventCounts[key]))
	}

	parts = append(parts, fmt.Sprintf("%s=%d", EventLevelWarn, data.LevelCounts[EventLevelWarn]))
	parts = append(parts, fmt.Sprintf("%s=%d", EventLevelError, data.LevelCounts[EventLevelError]))
	parts = append(parts, fmt.Sprintf("duration_human=%s", data.DurationHuman))
	parts = append(parts, fmt.Sprintf("duration_ms=%d", data.DurationMilliseconds))

	return strings.Join(parts, " ")
}

// PrintSummary writes the computed summary to the primary output writer.
func (reporter *StructuredReporter) PrintSummary() {
	if reporter == nil {
		return
	}
	summary := reporter.Summary()

	reporter.mutex.Lock()
	defer reporter.mutex.Unlock()

	fmt.Fprintln(reporter.outputWriter, summary)
}

func formatDuration(value time.Duration) string {
	if value < 0 {
		value = 0
	}
	rounded := value.Round(time.Millisecond)
	if rounded == 0 && value > 0 {
		rounded = time.Millisecond
	}
	return rounded.String()
}

func durationMilliseconds(value time.Duration) int64 {
	if value < 0 {
		value = 0
	}
	rounded := value.Round(time.Millisecond)
	if rounded == 0 && value > 0 {
		rounded = time.Millisecond
	}
	return rounded.Milliseconds()
}

func formatHumanPart(timestamp time.Time, level EventLevel, code string, sampleName string, message string) string {
	levelField := fmt.Sprintf("%-*s", defaultLevelFieldWidth, string(level))
	codeField := fmt.Sprintf("%-*s", defaultEventFieldWidth, code)
	sampleField := fmt.Sprintf("%-*s", defaultSampleFieldWidth, sampleName)

	return strings.TrimRight(fmt.Sprintf("%s %s %s %s %s", timestamp.Format(defaultTimestampLayout), levelField, codeField, sampleField, message), " ")
}

func formatMachinePart(code string, sampleName string, details map[string]string) string {
	values := make(map[string]string, len(details)+2)
	values["event"] = code
	if len(sampleName) > 0 {
		values["sample"] = sampleName
	}

	for key, value := range details {
		values[key] = value
	}

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, key := range keys {
		value := values[key]
		if strings.ContainsAny(value, " \t\n") {
			value = fmt.Sprintf("%q", value)
		}
		pairs = append(pairs, fmt.Sprintf("%s=%s", key, value))
	}
	return strings.Join(pairs, " ")
}

func normalizeLevel(level EventLevel) EventLevel {
	switch EventLevel(strings.ToUpper(strings.TrimSpace(string(level)))) {
	case EventLevelWarn:
		return EventLevelWarn
	case EventLevelError:
		return EventLevelError
	default:
		return EventLevelInfo
	}
}

func normalizeCode(code string) string {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) == 0 {
		return unknownEventCode
	}
	uppercased := strings.ToUpper(trimmed)
	return strings.ReplaceAll(uppercased, " ", "_")
}
