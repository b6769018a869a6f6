package security

import "time"

// EventCategory represents the category of a security event
type EventCategory string

const (
	// CategoryAuthentication represents authentication-related events
	CategoryAuthentication EventCategory = "authentication"

	// CategoryStorageOperation represents storage registration and removal
	CategoryStorageOperation EventCategory = "storage_operation"

	// CategoryAlertIngress represents inbound traps and alert actions
	CategoryAlertIngress EventCategory = "alert_ingress"

	// CategorySecurityViolation represents potential security violations
	CategorySecurityViolation EventCategory = "security_violation"
)

// EventSeverity represents the severity level of a security event
type EventSeverity string

const (
	SeverityInfo     EventSeverity = "info"
	SeverityWarning  EventSeverity = "warning"
	SeverityError    EventSeverity = "error"
	SeverityCritical EventSeverity = "critical"
)

// EventOutcome represents the outcome of a security event
type EventOutcome string

const (
	OutcomeSuccess EventOutcome = "success"
	OutcomeFailure EventOutcome = "failure"
	OutcomeDenied  EventOutcome = "denied"
	OutcomeUnknown EventOutcome = "unknown"
)

// EventType represents specific types of security events
type EventType string

const (
	// Authentication events
	EventSSHConnectionSuccess EventType = "ssh_connection_success"
	EventSSHConnectionFailure EventType = "ssh_connection_failure"
	EventSSHHostKeyMismatch   EventType = "ssh_host_key_mismatch"
	EventSSHAuthFailure       EventType = "ssh_auth_failure"

	// Storage operation events
	EventStorageRegisterRequest EventType = "storage_register_request"
	EventStorageRegisterSuccess EventType = "storage_register_success"
	EventStorageRegisterFailure EventType = "storage_register_failure"
	EventStorageRemoveRequest   EventType = "storage_remove_request"
	EventStorageRemoveSuccess   EventType = "storage_remove_success"
	EventStorageRemoveFailure   EventType = "storage_remove_failure"
	EventDriverRebuildRequest   EventType = "driver_rebuild_request"
	EventDriverRebuildSuccess   EventType = "driver_rebuild_success"
	EventDriverRebuildFailure   EventType = "driver_rebuild_failure"

	// Alert ingress events
	EventTrapAccepted EventType = "trap_accepted"
	EventTrapRejected EventType = "trap_rejected"
	EventAlertCleared EventType = "alert_cleared"

	// Security violation events
	EventValidationFailure       EventType = "validation_failure"
	EventCommandInjectionAttempt EventType = "command_injection_attempt"
	EventSerialNumberMismatch    EventType = "serial_number_mismatch"
	EventCircuitBreakerOpen      EventType = "circuit_breaker_open"
)

// SecurityEvent represents a security-relevant event in the system
type SecurityEvent struct {
	// Core event fields
	Timestamp time.Time     `json:"timestamp"`
	EventType EventType     `json:"event_type"`
	Category  EventCategory `json:"category"`
	Severity  EventSeverity `json:"severity"`
	Outcome   EventOutcome  `json:"outcome"`
	Message   string        `json:"message"`

	// Identity fields
	Username string `json:"username,omitempty"`
	SourceIP string `json:"source_ip,omitempty"`
	TargetIP string `json:"target_ip,omitempty"`

	// Resource fields
	StorageID    string `json:"storage_id,omitempty"`
	StorageName  string `json:"storage_name,omitempty"`
	SerialNumber string `json:"serial_number,omitempty"`

	// Operation details
	Operation string            `json:"operation,omitempty"`
	Duration  time.Duration     `json:"duration_ms,omitempty"`
	Error     string            `json:"error,omitempty"`
	Details   map[string]string `json:"details,omitempty"`
}

// NewSecurityEvent creates a new security event with timestamp
func NewSecurityEvent(eventType EventType, category EventCategory, severity EventSeverity, message string) *SecurityEvent {
	return &SecurityEvent{
		Timestamp: time.Now().UTC(),
		EventType: eventType,
		Category:  category,
		Severity:  severity,
		Message:   message,
		Details:   make(map[string]string),
	}
}

// WithOutcome sets the outcome for the event
func (e *SecurityEvent) WithOutcome(outcome EventOutcome) *SecurityEvent {
	e.Outcome = outcome
	return e
}

// WithIdentity sets identity information for the event
func (e *SecurityEvent) WithIdentity(username, sourceIP string) *SecurityEvent {
	e.Username = username
	e.SourceIP = sourceIP
	return e
}

// WithStorage sets storage information for the event
func (e *SecurityEvent) WithStorage(storageID, storageName, serialNumber string) *SecurityEvent {
	e.StorageID = storageID
	e.StorageName = storageName
	e.SerialNumber = serialNumber
	return e
}

// WithTarget sets the array address
func (e *SecurityEvent) WithTarget(targetIP string) *SecurityEvent {
	e.TargetIP = targetIP
	return e
}

// WithOperation sets operation details
func (e *SecurityEvent) WithOperation(operation string, duration time.Duration) *SecurityEvent {
	e.Operation = operation
	e.Duration = duration
	return e
}

// WithError sets error information
func (e *SecurityEvent) WithError(err error) *SecurityEvent {
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// WithDetail adds a custom detail field
func (e *SecurityEvent) WithDetail(key, value string) *SecurityEvent {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}
