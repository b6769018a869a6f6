package mock

import (
	"sync"

	"k8s.io/klog/v2"
)

// ErrorMode defines the type of error to inject
type ErrorMode int

const (
	// ErrorModeNone indicates no error injection
	ErrorModeNone ErrorMode = iota
	// ErrorModeCommandFail answers commands with a CLI error and exit status 1
	ErrorModeCommandFail
	// ErrorModeHang never answers, the client must time out
	ErrorModeHang
)

// ErrorInjector manages error injection for testing
type ErrorInjector struct {
	mode         ErrorMode
	operationNum int
	triggerAfter int
	mu           sync.Mutex
}

// NewErrorInjector creates a new error injector from configuration
func NewErrorInjector(config MockONTAPConfig) *ErrorInjector {
	return &ErrorInjector{
		mode:         ParseErrorMode(config.ErrorMode),
		triggerAfter: config.ErrorAfterN,
	}
}

// ParseErrorMode converts string error mode to ErrorMode constant
func ParseErrorMode(s string) ErrorMode {
	switch s {
	case "command_fail":
		return ErrorModeCommandFail
	case "hang":
		return ErrorModeHang
	case "none", "":
		return ErrorModeNone
	default:
		klog.Warningf("Unknown error mode %q, using none", s)
		return ErrorModeNone
	}
}

// SetMode switches the injection mode at runtime and resets the counter
func (e *ErrorInjector) SetMode(mode ErrorMode, after int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mode = mode
	e.triggerAfter = after
	e.operationNum = 0
}

// Next returns the mode to apply to the next command
func (e *ErrorInjector) Next() ErrorMode {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mode == ErrorModeNone {
		return ErrorModeNone
	}

	e.operationNum++
	if e.operationNum <= e.triggerAfter {
		return ErrorModeNone
	}
	return e.mode
}

// Reset resets the operation counter for test isolation
func (e *ErrorInjector) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.operationNum = 0
}
