package models

import (
	"errors"
	"fmt"
)

// Base errors
var (
	// Configuration errors
	ErrFatalConfig   = errors.New("fatal configuration error")
	ErrInvalidDevice = errors.New("invalid device entry")

	// Connection errors
	ErrConnect       = errors.New("device connection failed")
	ErrAuthRejected  = fmt.Errorf("%w: authentication rejected", ErrConnect)
	ErrTransportRead = errors.New("transport read failed")

	// Harvest errors
	ErrHarvestTimeout = errors.New("harvest did not complete")
	ErrOutputTooLarge = errors.New("harvest output exceeded limit")

	// Storage errors
	ErrStoreIO       = errors.New("backup store I/O error")
	ErrNoBackup      = errors.New("no backup found")
	ErrInvalidName   = errors.New("invalid snapshot name")
	ErrInvalidRetain = errors.New("retention count must not be negative")

	// Notification errors
	ErrNotifyFailed = errors.New("notification delivery failed")

	// System errors
	ErrDatabaseError = errors.New("database error")
)

// ErrorCode represents a machine-readable error code
type ErrorCode string

const (
	CodeFatalConfig    ErrorCode = "FATAL_CONFIG"
	CodeInvalidDevice  ErrorCode = "INVALID_DEVICE"
	CodeConnectFailed  ErrorCode = "CONNECT_FAILED"
	CodeAuthRejected   ErrorCode = "AUTH_REJECTED"
	CodeHarvestTimeout ErrorCode = "HARVEST_TIMEOUT"
	CodeTransportRead  ErrorCode = "TRANSPORT_READ"
	CodeStoreIO        ErrorCode = "STORE_IO"
	CodeNoBackup       ErrorCode = "NO_BACKUP"
	CodeNotFound       ErrorCode = "NOT_FOUND"
	CodeInvalidRequest ErrorCode = "INVALID_REQUEST"
	CodeInternalError  ErrorCode = "INTERNAL_ERROR"
)

// CodeFor maps an error chain to its code
func CodeFor(err error) ErrorCode {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrFatalConfig):
		return CodeFatalConfig
	case errors.Is(err, ErrInvalidDevice):
		return CodeInvalidDevice
	case errors.Is(err, ErrAuthRejected):
		return CodeAuthRejected
	case errors.Is(err, ErrConnect):
		return CodeConnectFailed
	case errors.Is(err, ErrHarvestTimeout), errors.Is(err, ErrOutputTooLarge):
		return CodeHarvestTimeout
	case errors.Is(err, ErrTransportRead):
		return CodeTransportRead
	case errors.Is(err, ErrNoBackup):
		return CodeNoBackup
	case errors.Is(err, ErrStoreIO):
		return CodeStoreIO
	default:
		return CodeInternalError
	}
}

// BackupError carries the device and step a failure happened in
type BackupError struct {
	Code  ErrorCode `json:"code"`
	Alias string    `json:"alias,omitempty"`
	Op    string    `json:"op"`
	Err   error     `json:"-"`
}

// NewBackupError wraps err for the given device and step
func NewBackupError(alias, op string, err error) *BackupError {
	return &BackupError{
		Code:  CodeFor(err),
		Alias: alias,
		Op:    op,
		Err:   err,
	}
}

// Error implements the error interface
func (e *BackupError) Error() string {
	if e.Alias != "" {
		return fmt.Sprintf("%s %s: %v", e.Alias, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the inner error
func (e *BackupError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is interface
func (e *BackupError) Is(target error) bool {
	t, ok := target.(*BackupError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// APIError represents a structured API error
type APIError struct {
	Code       ErrorCode              `json:"code"`
	Message    string                 `json:"message"`
	Details    map[string]interface{} `json:"details,omitempty"`
	RequestID  string                 `json:"request_id,omitempty"`
	InnerError error                  `json:"-"`
}

// Error implements the error interface
func (e *APIError) Error() string {
	if e.InnerError != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.InnerError)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the inner error
func (e *APIError) Unwrap() error {
	return e.InnerError
}

// NewAPIError creates a new API error
func NewAPIError(code ErrorCode, message string) *APIError {
	return &APIError{
		Code:    code,
		Message: message,
	}
}

// WithInner adds an inner error
func (e *APIError) WithInner(err error) *APIError {
	e.InnerError = err
	return e
}

// WithDetail adds a detail
func (e *APIError) WithDetail(key string, value interface{}) *APIError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// ValidationError represents a validation error
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Value   interface{} `json:"value,omitempty"`
}

// ValidationErrors represents multiple validation errors
type ValidationErrors struct {
	Errors []ValidationError `json:"errors"`
}

// Error implements the error interface
func (ve *ValidationErrors) Error() string {
	if len(ve.Errors) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s - %s", ve.Errors[0].Field, ve.Errors[0].Message)
}

// Unwrap lets errors.Is match ErrInvalidDevice
func (ve *ValidationErrors) Unwrap() error {
	return ErrInvalidDevice
}

// Add adds a validation error
func (ve *ValidationErrors) Add(field, message string, value interface{}) {
	ve.Errors = append(ve.Errors, ValidationError{
		Field:   field,
		Message: message,
		Value:   value,
	})
}

// HasErrors returns true if there are validation errors
func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

// NewValidationErrors creates a new ValidationErrors
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{
		Errors: make([]ValidationError, 0),
	}
}

// ErrorResponse represents an error response for HTTP APIs
type ErrorResponse struct {
	Success bool      `json:"success"`
	Error   *APIError `json:"error"`
}

// NewErrorResponse creates a new error response
func NewErrorResponse(err *APIError) *ErrorResponse {
	return &ErrorResponse{
		Success: false,
		Error:   err,
	}
}

// NewDeviceNotFoundError creates a device not found error
func NewDeviceNotFoundError(alias string) *APIError {
	return NewAPIError(CodeNotFound, "Device not found").WithDetail("alias", alias)
}

// NewSnapshotNotFoundError creates a snapshot not found error
func NewSnapshotNotFoundError(alias, name string) *APIError {
	return NewAPIError(CodeNoBackup, "Snapshot not found").
		WithDetail("alias", alias).
		WithDetail("name", name)
}
