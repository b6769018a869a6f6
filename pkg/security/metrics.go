package security

import (
	"sync"
	"time"
)

// SecurityMetrics counts security events by type and severity
type SecurityMetrics struct {
	mu sync.RWMutex

	byType     map[EventType]int64
	bySeverity map[EventSeverity]int64

	LastAuthFailure       time.Time
	LastSecurityViolation time.Time
}

var (
	globalMetrics *SecurityMetrics
	metricsOnce   sync.Once
)

// GetMetrics returns the global security metrics instance
func GetMetrics() *SecurityMetrics {
	metricsOnce.Do(func() {
		globalMetrics = NewSecurityMetrics()
	})
	return globalMetrics
}

// NewSecurityMetrics creates an empty metrics set
func NewSecurityMetrics() *SecurityMetrics {
	return &SecurityMetrics{
		byType:     make(map[EventType]int64),
		bySeverity: make(map[EventSeverity]int64),
	}
}

// RecordEvent records a security event in metrics
func (m *SecurityMetrics) RecordEvent(event *SecurityEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.byType[event.EventType]++
	m.bySeverity[event.Severity]++

	switch {
	case event.EventType == EventSSHAuthFailure:
		m.LastAuthFailure = event.Timestamp
	case event.Category == CategorySecurityViolation:
		m.LastSecurityViolation = event.Timestamp
	}
}

// Count returns how many events of eventType were recorded
func (m *SecurityMetrics) Count(eventType EventType) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.byType[eventType]
}

// CountBySeverity returns how many events of severity were recorded
func (m *SecurityMetrics) CountBySeverity(severity EventSeverity) int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.bySeverity[severity]
}

// Reset clears all counters
func (m *SecurityMetrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byType = make(map[EventType]int64)
	m.bySeverity = make(map[EventSeverity]int64)
	m.LastAuthFailure = time.Time{}
	m.LastSecurityViolation = time.Time{}
}
