package errors

import "errors"

// Code identifies a structured error type used across the application.
type Code string

const (
	// Generic codes
	CodeUnknown Code = "unknown"

	// Configuration / input errors
	CodeConfigurationError Code = "configuration_error"
	CodeInvalidInput       Code = "invalid_input"
	CodeInvalidSize        Code = "invalid_size"

	// Update pipeline errors
	CodeResolution      Code = "resolution_failed"
	CodeRateLimited     Code = "rate_limited"
	CodeUntrustedOrigin Code = "untrusted_origin"
	CodeTransport       Code = "transport_failed"
	CodeIntegrity       Code = "integrity_failed"
	CodeInstall         Code = "install_failed"
	CodeInstallCritical Code = "install_critical"

	// State store errors
	CodeStateStore Code = "state_store_failed"
)

// Severity groups codes by how loudly a caller must report them.
type Severity int

const (
	// SeverityRecoverable failures leave the installed program intact; retry later.
	SeverityRecoverable Severity = iota
	// SeverityCritical failures leave on-disk state unknown; manual reinstall needed.
	SeverityCritical
)

// String returns the string representation of a Severity.
func (s Severity) String() string {
	switch s {
	case SeverityCritical:
		return "critical"
	default:
		return "recoverable"
	}
}

// SeverityOf maps a code to its severity.
func SeverityOf(code Code) Severity {
	if code == CodeInstallCritical {
		return SeverityCritical
	}
	return SeverityRecoverable
}

// Error represents a structured error with a machine-readable code plus message.
type Error struct {
	Code    Code
	Message string
	Err     error
}

// Error implements the error interface.
func (e Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return string(e.Code)
}

// Unwrap returns the wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// New wraps an error with a code/message.
func New(code Code, msg string, err error) Error {
	return Error{Code: code, Message: msg, Err: err}
}

// CodeOf walks the error chain and returns the first structured code found.
func CodeOf(err error) Code {
	var structured Error
	if errors.As(err, &structured) {
		return structured.Code
	}
	return CodeUnknown
}

// IsCode reports whether the error (or its unwrap chain) matches the provided code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// IsCritical reports whether err carries a critical-severity code.
func IsCritical(err error) bool {
	return err != nil && SeverityOf(CodeOf(err)) == SeverityCritical
}
