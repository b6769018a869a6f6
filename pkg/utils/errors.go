package utils

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"k8s.io/klog/v2"
)

// Sentinel error kinds.
// Use errors.Is() to check for these rather than string matching.
var (
	// ErrTransport indicates the remote call to the array failed or timed out
	ErrTransport = errors.New("transport error")

	// ErrAuth indicates the array rejected the credentials
	ErrAuth = errors.New("authentication error")

	// ErrParse indicates the array returned output that could not be interpreted
	ErrParse = errors.New("parse error")

	// ErrUnsupportedDevice indicates no driver is registered for a manufacturer/model
	ErrUnsupportedDevice = errors.New("unsupported device")

	// ErrStorageNotFound indicates the storage id is not registered
	ErrStorageNotFound = errors.New("storage not found")

	// ErrStorageExists indicates a storage with the same serial number is already registered
	ErrStorageExists = errors.New("storage already registered")

	// ErrSerialMismatch indicates a rebuilt driver reached a different array than the one registered
	ErrSerialMismatch = errors.New("serial number mismatch")
)

// StorageError is the error type every driver operation returns. Kind is one of
// the sentinel kinds above and is matched through errors.Is.
type StorageError struct {
	// Kind is the sentinel this error classifies as
	Kind error

	// Op is the driver operation or remote command that failed
	Op string

	// Field names the offending key for parse errors
	Field string

	// Err is the underlying cause, may be nil
	Err error
}

// Error implements the error interface
func (e *StorageError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Op != "" {
		b.WriteString(" in ")
		b.WriteString(e.Op)
	}
	if e.Field != "" {
		fmt.Fprintf(&b, " (field %q)", e.Field)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause
func (e *StorageError) Unwrap() error {
	return e.Err
}

// Is reports whether target is the kind of this error
func (e *StorageError) Is(target error) bool {
	return target != nil && target == e.Kind
}

// NewTransportError creates a transport error. The cause message is sanitized
// because it usually carries addresses of the array.
func NewTransportError(op string, err error) *StorageError {
	if err != nil {
		err = SanitizeError(err)
	}
	return &StorageError{Kind: ErrTransport, Op: op, Err: err}
}

// NewAuthError creates an authentication error
func NewAuthError(op string, err error) *StorageError {
	if err != nil {
		err = SanitizeError(err)
	}
	return &StorageError{Kind: ErrAuth, Op: op, Err: err}
}

// NewParseError creates a parse error naming the offending field
func NewParseError(op, field string, err error) *StorageError {
	return &StorageError{Kind: ErrParse, Op: op, Field: field, Err: err}
}

// NewUnsupportedDeviceError creates an error for an unknown driver key
func NewUnsupportedDeviceError(key string) *StorageError {
	return &StorageError{Kind: ErrUnsupportedDevice, Op: "lookup driver", Field: key}
}

// IsTransportError reports whether err is a transport error
func IsTransportError(err error) bool {
	return errors.Is(err, ErrTransport)
}

// IsAuthError reports whether err is an authentication error
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuth)
}

// IsParseError reports whether err is a parse error
func IsParseError(err error) bool {
	return errors.Is(err, ErrParse)
}

// IsUnsupportedDeviceError reports whether err is an unsupported device error
func IsUnsupportedDeviceError(err error) bool {
	return errors.Is(err, ErrUnsupportedDevice)
}

// Classify maps an error to a StorageError at an adapter boundary. Errors that
// already carry a kind keep it and only gain the vendor context; anything else
// is treated as a transport failure.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		if se.Op == "" || se.Op == op {
			return &StorageError{Kind: se.Kind, Op: op, Field: se.Field, Err: se.Err}
		}
		return &StorageError{Kind: se.Kind, Op: op, Field: se.Field, Err: err}
	}
	return NewTransportError(op, err)
}

// SanitizedError wraps an error whose message has sensitive details removed.
// The original error stays reachable for errors.Is/As.
type SanitizedError struct {
	originalErr  error
	sanitizedMsg string
}

// Error returns the sanitized message
func (e *SanitizedError) Error() string {
	return e.sanitizedMsg
}

// Unwrap returns the original error for error unwrapping
func (e *SanitizedError) Unwrap() error {
	return e.originalErr
}

// GetOriginal returns the original unsanitized error
func (e *SanitizedError) GetOriginal() error {
	return e.originalErr
}

// Regular expressions for sanitization
var (
	// Match IPv4 addresses (e.g., 192.168.1.1, 10.0.0.1)
	ipv4Pattern = regexp.MustCompile(`\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}\b`)

	// Match IPv6 addresses (basic pattern)
	ipv6Pattern = regexp.MustCompile(`\b(?:[0-9a-fA-F]{1,4}:){7}[0-9a-fA-F]{1,4}\b`)

	// Unix: starts with / and contains at least one more path component
	unixPathPattern = regexp.MustCompile(`/[a-zA-Z0-9_\-]+(?:/[a-zA-Z0-9_.\-]+)*`)

	relativePathPattern = regexp.MustCompile(`\./[a-zA-Z0-9_.\-]+`)

	// Match hostnames and FQDNs
	hostnamePattern = regexp.MustCompile(`\b[a-z0-9]([a-z0-9\-]{0,61}[a-z0-9])?(\.[a-z0-9]([a-z0-9\-]{0,61}[a-z0-9])?)*\.(com|net|org|io|local|lan)\b`)

	// Match SSH key fingerprints
	fingerprintPattern = regexp.MustCompile(`SHA256:[A-Za-z0-9+/=]+`)

	whitespacePattern = regexp.MustCompile(`\s+`)
)

// SanitizeErrorMessage removes addresses, host names, key fingerprints and
// absolute paths from a message before it is logged or returned.
func SanitizeErrorMessage(msg string) string {
	msg = ipv4Pattern.ReplaceAllString(msg, "[IP-ADDRESS]")
	msg = ipv6Pattern.ReplaceAllString(msg, "[IP-ADDRESS]")
	msg = fingerprintPattern.ReplaceAllString(msg, "[FINGERPRINT]")
	msg = sanitizePaths(msg)
	msg = hostnamePattern.ReplaceAllString(msg, "[HOSTNAME]")
	msg = whitespacePattern.ReplaceAllString(msg, " ")
	return strings.TrimSpace(msg)
}

// sanitizePaths hides directory structure, keeping only the basename
func sanitizePaths(msg string) string {
	relativePaths := make(map[string]string)
	msg = relativePathPattern.ReplaceAllStringFunc(msg, func(path string) string {
		placeholder := fmt.Sprintf("__RELATIVE_PATH_%d__", len(relativePaths))
		relativePaths[placeholder] = path
		return placeholder
	})

	msg = unixPathPattern.ReplaceAllStringFunc(msg, func(path string) string {
		base := filepath.Base(path)
		if base != "." && base != "/" {
			return fmt.Sprintf("[PATH]/%s", base)
		}
		return "[PATH]"
	})

	for placeholder, originalPath := range relativePaths {
		msg = strings.ReplaceAll(msg, placeholder, originalPath)
	}
	return msg
}

// SanitizeError wraps an existing error with sanitization
func SanitizeError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := err.(*SanitizedError); ok {
		return err
	}
	return &SanitizedError{
		originalErr:  err,
		sanitizedMsg: SanitizeErrorMessage(err.Error()),
	}
}

// LogErrorDetails logs err under msg as a warning with addresses and paths
// sanitized. The unsanitized error is logged at -v=4.
func LogErrorDetails(msg string, err error) {
	if err == nil {
		return
	}
	se := SanitizeError(err).(*SanitizedError)
	klog.V(4).Infof("%s (internal: %v)", msg, se.GetOriginal())
	klog.Warningf("%s: %v", msg, se)
}
