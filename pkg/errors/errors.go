// Package errors provides structured error handling for balancewatch.
// It defines sentinel errors, exit codes, and helpers for adding
// context, details, and suggestions to errors.
//
//nolint:revive // Package name intentionally shadows stdlib for domain-specific error handling
package errors

import (
	"errors"
	"fmt"
	"sort"
)

// Exit codes returned by the CLI.
const (
	ExitSuccess  = 0 // Successful execution
	ExitGeneral  = 1 // General/unknown error
	ExitInput    = 2 // Invalid input
	ExitAuth     = 3 // Authentication failed
	ExitNotFound = 4 // Resource not found
	ExitStorage  = 5 // Durable state could not be read or written
)

// Error is the structured error type for balancewatch.
type Error struct {
	Code       string            // Machine-readable error code
	Message    string            // Human-readable message
	Details    map[string]string // Additional context
	Suggestion string            // Actionable suggestion for user
	Cause      error             // Underlying error
	ExitCode   int               // Exit code for CLI
}

func (e *Error) Error() string {
	msg := e.Message

	// Include details in error message (sorted for deterministic output)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			msg = fmt.Sprintf("%s (%s: %s)", msg, k, e.Details[k])
		}
	}

	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is implements errors.Is for Error.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Code == t.Code
	}
	return false
}

// Sentinel errors.
var (
	ErrGeneral = &Error{
		Code:     "GENERAL_ERROR",
		Message:  "an error occurred",
		ExitCode: ExitGeneral,
	}

	ErrInvalidInput = &Error{
		Code:     "INVALID_INPUT",
		Message:  "invalid input",
		ExitCode: ExitInput,
	}

	ErrAuthentication = &Error{
		Code:     "AUTHENTICATION_FAILED",
		Message:  "authentication failed",
		ExitCode: ExitAuth,
	}

	ErrNotFound = &Error{
		Code:     "NOT_FOUND",
		Message:  "resource not found",
		ExitCode: ExitNotFound,
	}

	// Config-specific errors.
	ErrConfigNotFound = &Error{
		Code:     "CONFIG_NOT_FOUND",
		Message:  "configuration file not found",
		ExitCode: ExitNotFound,
	}

	ErrConfigInvalid = &Error{
		Code:     "CONFIG_INVALID",
		Message:  "configuration file is invalid",
		ExitCode: ExitInput,
	}

	ErrUnknownConfigKey = &Error{
		Code:     "UNKNOWN_CONFIG_KEY",
		Message:  "unknown config key",
		ExitCode: ExitInput,
	}

	// Provider-specific errors.
	ErrProviderNotFound = &Error{
		Code:     "PROVIDER_NOT_FOUND",
		Message:  "provider not found",
		ExitCode: ExitNotFound,
	}

	ErrBalanceNotConfigured = &Error{
		Code:     "BALANCE_NOT_CONFIGURED",
		Message:  "provider has no balance source configured",
		ExitCode: ExitInput,
	}

	ErrBalanceUnavailable = &Error{
		Code:     "BALANCE_UNAVAILABLE",
		Message:  "balance provider not available",
		ExitCode: ExitInput,
	}

	ErrBalanceRefreshFailed = &Error{
		Code:     "BALANCE_REFRESH_FAILED",
		Message:  "balance refresh failed",
		ExitCode: ExitGeneral,
	}

	ErrInvalidSnapshot = &Error{
		Code:     "INVALID_SNAPSHOT",
		Message:  "invalid balance snapshot",
		ExitCode: ExitGeneral,
	}

	// Transport errors.
	ErrNetworkError = &Error{
		Code:     "NETWORK_ERROR",
		Message:  "network communication failed",
		ExitCode: ExitGeneral,
	}

	ErrUnexpectedStatus = &Error{
		Code:     "UNEXPECTED_STATUS",
		Message:  "unexpected HTTP status",
		ExitCode: ExitGeneral,
	}

	ErrRetryable = &Error{
		Code:     "RETRYABLE_ERROR",
		Message:  "retryable error",
		ExitCode: ExitGeneral,
	}

	ErrTimeout = &Error{
		Code:     "TIMEOUT",
		Message:  "operation timed out",
		ExitCode: ExitGeneral,
	}

	ErrRateLimited = &Error{
		Code:     "RATE_LIMITED",
		Message:  "rate limited",
		ExitCode: ExitGeneral,
	}

	// Storage errors.
	ErrStorage = &Error{
		Code:     "STORAGE_ERROR",
		Message:  "state storage failed",
		ExitCode: ExitStorage,
	}

	ErrCorruptState = &Error{
		Code:     "CORRUPT_STATE",
		Message:  "persisted state is corrupted",
		ExitCode: ExitStorage,
	}
)

// New creates a new Error with the given code and message.
func New(code, message string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		ExitCode: ExitGeneral,
	}
}

// Wrap wraps an error with additional context.
func Wrap(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}

	msg := fmt.Sprintf(format, args...)

	var se *Error
	if errors.As(err, &se) {
		return &Error{
			Code:       se.Code,
			Message:    fmt.Sprintf("%s: %s", msg, se.Message),
			Details:    se.Details,
			Suggestion: se.Suggestion,
			Cause:      err,
			ExitCode:   se.ExitCode,
		}
	}

	return &Error{
		Code:     "GENERAL_ERROR",
		Message:  msg,
		Cause:    err,
		ExitCode: ExitGeneral,
	}
}

// WrapWith classifies err under sentinel while keeping err as the cause,
// so both Is(result, sentinel) and errors.Is(result, err) hold.
func WrapWith(sentinel *Error, err error, format string, args ...any) error {
	if err == nil {
		return nil
	}

	return &Error{
		Code:       sentinel.Code,
		Message:    fmt.Sprintf(format, args...),
		Suggestion: sentinel.Suggestion,
		Cause:      err,
		ExitCode:   sentinel.ExitCode,
	}
}

// WithDetails adds details to an error.
func WithDetails(err error, details map[string]string) error {
	if err == nil {
		return nil
	}

	var se *Error
	if errors.As(err, &se) {
		return &Error{
			Code:       se.Code,
			Message:    se.Message,
			Details:    details,
			Suggestion: se.Suggestion,
			Cause:      se.Cause,
			ExitCode:   se.ExitCode,
		}
	}

	return &Error{
		Code:     "GENERAL_ERROR",
		Message:  err.Error(),
		Details:  details,
		Cause:    err,
		ExitCode: ExitGeneral,
	}
}

// WithSuggestion adds a suggestion to an error.
func WithSuggestion(err error, suggestion string) error {
	if err == nil {
		return nil
	}

	var se *Error
	if errors.As(err, &se) {
		return &Error{
			Code:       se.Code,
			Message:    se.Message,
			Details:    se.Details,
			Suggestion: suggestion,
			Cause:      se.Cause,
			ExitCode:   se.ExitCode,
		}
	}

	return &Error{
		Code:       "GENERAL_ERROR",
		Message:    err.Error(),
		Suggestion: suggestion,
		Cause:      err,
		ExitCode:   ExitGeneral,
	}
}

// ExitCode returns the appropriate exit code for an error.
func ExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}

	var se *Error
	if errors.As(err, &se) {
		return se.ExitCode
	}

	return ExitGeneral
}

// Code returns the error code for an error.
func Code(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Code
	}
	return "GENERAL_ERROR"
}

// Is wraps errors.Is for convenience.
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience.
func As(err error, target any) bool {
	return errors.As(err, target)
}
