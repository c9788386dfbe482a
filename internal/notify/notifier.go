// Package notify delivers operator-facing notifications about failed samples.
package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/tyemirov/pairalign/internal/reporting"
)

const (
	notificationLogMessageConstant = "operator notification"
	titleFieldNameConstant         = "title"
	bodyFieldNameConstant          = "body"
	sampleFieldNameConstant        = "sample"
	invocationFieldNameConstant    = "invocation_id"
	severityFieldNameConstant      = "severity"
	invocationDetailKeyConstant    = "invocation_id"
	titleDetailKeyConstant         = "title"
)

// Severity classifies a notification.
type Severity string

// Supported severities.
const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Notification is a fire-and-forget message addressed to an operator.
type Notification struct {
	Severity     Severity
	Title        string
	Body         string
	SampleName   string
	InvocationID string
}

// Notifier receives notifications. Implementations must not block for long and must be safe for concurrent use.
type Notifier interface {
	Notify(ctx context.Context, notification Notification)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, notification Notification)

// Notify calls the wrapped function.
func (function NotifierFunc) Notify(ctx context.Context, notification Notification) {
	if function != nil {
		function(ctx, notification)
	}
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Notification) {}

// Nop returns a notifier that discards every notification.
func Nop() Notifier {
	return nopNotifier{}
}

type multiNotifier struct {
	notifiers []Notifier
}

// Multi fans a notification out to every non-nil notifier in order.
func Multi(notifiers ...Notifier) Notifier {
	filtered := make([]Notifier, 0, len(notifiers))
	for _, notifier := range notifiers {
		if notifier != nil {
			filtered = append(filtered, notifier)
		}
	}
	return multiNotifier{notifiers: filtered}
}

func (notifier multiNotifier) Notify(ctx context.Context, notification Notification) {
	for _, target := range notifier.notifiers {
		target.Notify(ctx, notification)
	}
}

// LoggerNotifier writes notifications to a zap logger at a level matching their severity.
type LoggerNotifier struct {
	logger *zap.Logger
}

// NewLoggerNotifier constructs a LoggerNotifier; a nil logger discards output.
func NewLoggerNotifier(logger *zap.Logger) LoggerNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return LoggerNotifier{logger: logger}
}

// Notify logs the notification.
func (notifier LoggerNotifier) Notify(_ context.Context, notification Notification) {
	fields := []zap.Field{
		zap.String(severityFieldNameConstant, string(normalizeSeverity(notification.Severity))),
		zap.String(titleFieldNameConstant, notification.Title),
		zap.String(bodyFieldNameConstant, notification.Body),
		zap.String(sampleFieldNameConstant, notification.SampleName),
		zap.String(invocationFieldNameConstant, notification.InvocationID),
	}

	switch normalizeSeverity(notification.Severity) {
	case SeverityError:
		notifier.logger.Error(notificationLogMessageConstant, fields...)
	case SeverityWarning:
		notifier.logger.Warn(notificationLogMessageConstant, fields...)
	default:
		notifier.logger.Info(notificationLogMessageConstant, fields...)
	}
}

// ReporterNotifier forwards notifications to a structured reporter as NOTIFICATION events.
type ReporterNotifier struct {
	reporter reporting.Reporter
}

// NewReporterNotifier constructs a ReporterNotifier.
func NewReporterNotifier(reporter reporting.Reporter) ReporterNotifier {
	return ReporterNotifier{reporter: reporter}
}

// Notify reports the notification.
func (notifier ReporterNotifier) Notify(_ context.Context, notification Notification) {
	if notifier.reporter == nil {
		return
	}

	details := map[string]string{titleDetailKeyConstant: notification.Title}
	if len(notification.InvocationID) > 0 {
		details[invocationDetailKeyConstant] = notification.InvocationID
	}

	notifier.reporter.Report(reporting.Event{
		Level:      eventLevel(notification.Severity),
		Code:       reporting.EventCodeNotification,
		SampleName: notification.SampleName,
		Message:    notification.Body,
		Details:    details,
	})
}

func normalizeSeverity(severity Severity) Severity {
	switch severity {
	case SeverityError, SeverityWarning, SeverityInfo:
		return severity
	default:
		return SeverityInfo
	}
}

func eventLevel(severity Severity) reporting.EventLevel {
	switch normalizeSeverity(severity) {
	case SeverityError:
		return reporting.EventLevelError
	case SeverityWarning:
		return reporting.EventLevelWarn
	default:
		return reporting.EventLevelInfo
	}
}
