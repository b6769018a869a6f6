package security

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"k8s.io/klog/v2"

	"git.srvlab.io/whiskey/arraysync/pkg/utils"
)

// Logger provides centralized security event logging
type Logger struct {
	metrics *SecurityMetrics
}

var (
	globalLogger *Logger
	loggerOnce   sync.Once
)

// GetLogger returns the global security logger instance
func GetLogger() *Logger {
	loggerOnce.Do(func() {
		globalLogger = &Logger{
			metrics: GetMetrics(),
		}
	})
	return globalLogger
}

// NewLogger creates a security logger with its own metrics
func NewLogger() *Logger {
	return &Logger{
		metrics: NewSecurityMetrics(),
	}
}

// severityMap maps EventSeverity to the klog function used for it
var severityMap = map[EventSeverity]func(args ...interface{}){
	SeverityInfo:     func(args ...interface{}) { klog.V(2).Info(args...) },
	SeverityWarning:  klog.Warning,
	SeverityError:    klog.Error,
	SeverityCritical: klog.Error,
}

// LogEvent logs a security event with structured logging
func (l *Logger) LogEvent(event *SecurityEvent) {
	l.metrics.RecordEvent(event)

	logFunc, ok := severityMap[event.Severity]
	if !ok {
		logFunc = severityMap[SeverityInfo]
	}
	logFunc(l.formatLogMessage(event))

	// Critical events are also logged as JSON for easy parsing
	if event.Severity == SeverityCritical {
		if jsonBytes, err := json.Marshal(event); err == nil {
			klog.Errorf("CRITICAL_SECURITY_EVENT: %s", string(jsonBytes))
		}
	}
}

// formatLogMessage formats a security event as a structured log message.
// Addresses and errors are sanitized before they reach the log.
func (l *Logger) formatLogMessage(event *SecurityEvent) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[SECURITY] category=%s type=%s severity=%s outcome=%s msg=%q",
		event.Category, event.EventType, event.Severity, event.Outcome, event.Message)

	field := func(key, value string) {
		if value != "" {
			fmt.Fprintf(&b, " %s=%s", key, value)
		}
	}

	field("username", event.Username)
	field("source_ip", event.SourceIP)
	field("target_ip", event.TargetIP)
	field("storage_id", event.StorageID)
	field("storage_name", event.StorageName)
	field("serial_number", event.SerialNumber)
	field("operation", event.Operation)
	if event.Duration > 0 {
		fmt.Fprintf(&b, " duration_ms=%d", event.Duration.Milliseconds())
	}
	if event.Error != "" {
		fmt.Fprintf(&b, " error=%q", utils.SanitizeErrorMessage(event.Error))
	}

	keys := make([]string, 0, len(event.Details))
	for key := range event.Details {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		fmt.Fprintf(&b, " %s=%q", key, event.Details[key])
	}

	fmt.Fprintf(&b, " timestamp=%s", event.Timestamp.Format("2006-01-02T15:04:05.000Z"))
	return b.String()
}

// LogSSHConnectionSuccess logs a successful SSH login to an array
func (l *Logger) LogSSHConnectionSuccess(username, address string) {
	event := NewSecurityEvent(
		EventSSHConnectionSuccess,
		CategoryAuthentication,
		SeverityInfo,
		"SSH connection established",
	).WithIdentity(username, "").
		WithTarget(address).
		WithOutcome(OutcomeSuccess)
	l.LogEvent(event)
}

// LogSSHConnectionFailure logs an SSH connection that failed below authentication
func (l *Logger) LogSSHConnectionFailure(username, address string, err error) {
	event := NewSecurityEvent(
		EventSSHConnectionFailure,
		CategoryAuthentication,
		SeverityWarning,
		"SSH connection failed",
	).WithIdentity(username, "").
		WithTarget(address).
		WithOutcome(OutcomeFailure).
		WithError(err)
	l.LogEvent(event)
}

// LogSSHAuthFailure logs rejected credentials
func (l *Logger) LogSSHAuthFailure(username, address string, err error) {
	event := NewSecurityEvent(
		EventSSHAuthFailure,
		CategoryAuthentication,
		SeverityError,
		"SSH authentication rejected by array",
	).WithIdentity(username, "").
		WithTarget(address).
		WithOutcome(OutcomeDenied).
		WithError(err)
	l.LogEvent(event)
}

// LogSSHHostKeyMismatch logs an SSH host key mismatch (critical security event)
func (l *Logger) LogSSHHostKeyMismatch(address, expectedFingerprint, actualFingerprint string) {
	event := NewSecurityEvent(
		EventSSHHostKeyMismatch,
		CategorySecurityViolation,
		SeverityCritical,
		"SSH host key verification failed - possible MITM attack",
	).WithTarget(address).
		WithDetail("expected_fingerprint", expectedFingerprint).
		WithDetail("actual_fingerprint", actualFingerprint).
		WithOutcome(OutcomeDenied)
	l.LogEvent(event)
}

// OperationLogConfig defines the configuration for a logging operation
type OperationLogConfig struct {
	Operation   string
	Category    EventCategory
	SuccessType EventType
	FailureType EventType
	RequestType EventType
	SuccessSev  EventSeverity
	FailureSev  EventSeverity
	SuccessMsg  string
	FailureMsg  string
	RequestMsg  string
}

// operationConfigs defines the logging configuration for all operations
var operationConfigs = map[string]OperationLogConfig{
	"StorageRegister": {Operation: "RegisterStorage", Category: CategoryStorageOperation, SuccessType: EventStorageRegisterSuccess, FailureType: EventStorageRegisterFailure, RequestType: EventStorageRegisterRequest, SuccessSev: SeverityInfo, FailureSev: SeverityError, SuccessMsg: "Storage registered", FailureMsg: "Storage registration failed", RequestMsg: "Storage registration requested"},
	"StorageRemove":   {Operation: "RemoveStorage", Category: CategoryStorageOperation, SuccessType: EventStorageRemoveSuccess, FailureType: EventStorageRemoveFailure, RequestType: EventStorageRemoveRequest, SuccessSev: SeverityInfo, FailureSev: SeverityWarning, SuccessMsg: "Storage removed", FailureMsg: "Storage removal failed", RequestMsg: "Storage removal requested"},
	"DriverRebuild":   {Operation: "GetDriver", Category: CategoryStorageOperation, SuccessType: EventDriverRebuildSuccess, FailureType: EventDriverRebuildFailure, RequestType: EventDriverRebuildRequest, SuccessSev: SeverityInfo, FailureSev: SeverityError, SuccessMsg: "Driver rebuilt from stored access info", FailureMsg: "Driver rebuild failed", RequestMsg: "Driver rebuild requested"},
}

// EventField is a functional option for configuring SecurityEvent fields
type EventField func(*SecurityEvent)

// WithStorage sets storage information
func WithStorage(storageID, storageName, serialNumber string) EventField {
	return func(e *SecurityEvent) {
		e.StorageID = storageID
		e.StorageName = storageName
		e.SerialNumber = serialNumber
	}
}

// WithTarget sets the array address
func WithTarget(address string) EventField {
	return func(e *SecurityEvent) {
		e.TargetIP = address
	}
}

// WithDuration sets operation duration
func WithDuration(d time.Duration) EventField {
	return func(e *SecurityEvent) {
		e.Duration = d
	}
}

// WithError sets error information
func WithError(err error) EventField {
	return func(e *SecurityEvent) {
		if err != nil {
			e.Error = err.Error()
		}
	}
}

// LogOperation logs an operation using the table-driven configuration.
// OutcomeUnknown logs the request event of an operation that is starting.
func (l *Logger) LogOperation(config OperationLogConfig, outcome EventOutcome, fields ...EventField) {
	var eventType EventType
	var severity EventSeverity
	var message string

	switch outcome {
	case OutcomeSuccess:
		eventType = config.SuccessType
		severity = config.SuccessSev
		message = config.SuccessMsg
	case OutcomeFailure:
		eventType = config.FailureType
		severity = config.FailureSev
		message = config.FailureMsg
	default:
		eventType = config.RequestType
		severity = SeverityInfo
		message = config.RequestMsg
	}

	event := NewSecurityEvent(eventType, config.Category, severity, message)
	event.Operation = config.Operation
	event.Outcome = outcome

	for _, field := range fields {
		field(event)
	}

	l.LogEvent(event)
}

// LogStorageRegister logs storage registration events
func (l *Logger) LogStorageRegister(storageID, serialNumber, address string, outcome EventOutcome, err error, duration time.Duration) {
	l.LogOperation(operationConfigs["StorageRegister"], outcome,
		WithStorage(storageID, "", serialNumber),
		WithTarget(address),
		WithDuration(duration),
		WithError(err))
}

// LogStorageRemove logs storage removal events
func (l *Logger) LogStorageRemove(storageID string, outcome EventOutcome, err error) {
	l.LogOperation(operationConfigs["StorageRemove"], outcome,
		WithStorage(storageID, "", ""),
		WithError(err))
}

// LogDriverRebuild logs a driver rebuilt from persisted access info
func (l *Logger) LogDriverRebuild(storageID, address string, outcome EventOutcome, err error) {
	l.LogOperation(operationConfigs["DriverRebuild"], outcome,
		WithStorage(storageID, "", ""),
		WithTarget(address),
		WithError(err))
}

// LogSerialNumberMismatch logs a rebuilt driver that reached a different array
func (l *Logger) LogSerialNumberMismatch(storageID, expected, actual string) {
	l.LogSecurityViolation(
		EventSerialNumberMismatch,
		"Array serial number differs from registration",
		map[string]string{
			"storage_id": storageID,
			"expected":   expected,
			"actual":     actual,
		},
	)
}

// LogTrap logs an inbound SNMP trap and whether it was routed to a storage
func (l *Logger) LogTrap(sourceIP, storageID string, accepted bool, reason string) {
	eventType, severity, outcome, msg := EventTrapAccepted, SeverityInfo, OutcomeSuccess, "SNMP trap accepted"
	if !accepted {
		eventType, severity, outcome, msg = EventTrapRejected, SeverityWarning, OutcomeDenied, "SNMP trap rejected"
	}
	event := NewSecurityEvent(eventType, CategoryAlertIngress, severity, msg).
		WithIdentity("", sourceIP).
		WithStorage(storageID, "", "").
		WithOutcome(outcome)
	if reason != "" {
		event.WithDetail("reason", reason)
	}
	l.LogEvent(event)
}

// LogAlertCleared logs an alert cleared on an array
func (l *Logger) LogAlertCleared(storageID, alertID string, err error) {
	outcome, severity := OutcomeSuccess, SeverityInfo
	if err != nil {
		outcome, severity = OutcomeFailure, SeverityWarning
	}
	event := NewSecurityEvent(EventAlertCleared, CategoryAlertIngress, severity, "Alert clear requested").
		WithStorage(storageID, "", "").
		WithDetail("alert_id", alertID).
		WithOutcome(outcome).
		WithError(err)
	l.LogEvent(event)
}

// LogCircuitBreakerOpen logs an array whose circuit breaker opened
func (l *Logger) LogCircuitBreakerOpen(address string) {
	event := NewSecurityEvent(EventCircuitBreakerOpen, CategorySecurityViolation, SeverityWarning,
		"Circuit breaker opened for array").
		WithTarget(address).
		WithOutcome(OutcomeDenied)
	l.LogEvent(event)
}

// LogSecurityViolation logs security violations
func (l *Logger) LogSecurityViolation(eventType EventType, message string, details map[string]string) {
	event := NewSecurityEvent(
		eventType,
		CategorySecurityViolation,
		SeverityCritical,
		message,
	).WithOutcome(OutcomeDenied)

	for key, value := range details {
		event.WithDetail(key, value)
	}

	l.LogEvent(event)
}

// LogValidationFailure logs validation failures
func (l *Logger) LogValidationFailure(parameter, value, reason string) {
	l.LogSecurityViolation(
		EventValidationFailure,
		"Validation failure",
		map[string]string{
			"parameter": parameter,
			"value":     value,
			"reason":    reason,
		},
	)
}

// LogCommandInjectionAttempt logs a value refused as a remote command argument
func (l *Logger) LogCommandInjectionAttempt(parameter, value string) {
	l.LogSecurityViolation(
		EventCommandInjectionAttempt,
		"Refused unsafe command argument",
		map[string]string{
			"parameter": parameter,
			"value":     value,
		},
	)
}

// GetMetrics returns the security metrics this logger records into
func (l *Logger) GetMetrics() *SecurityMetrics {
	return l.metrics
}
