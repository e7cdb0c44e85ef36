// Package errors provides error classification and the domain error taxonomy for onboard.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass represents the classification of errors for handling purposes
type ErrorClass int

const (
	// ErrorTransient represents temporary errors that may be retried
	ErrorTransient ErrorClass = iota
	// ErrorInvalid represents errors due to invalid input or configuration
	ErrorInvalid
	// ErrorFatal represents unrecoverable errors that should stop processing
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Registry and connectivity errors
var (
	ErrNoConnection        = errors.New("no connection available")
	ErrConnectionTimeout   = errors.New("connection timeout")
	ErrRegistryUnavailable = errors.New("registry unavailable")
	ErrKeyNotFound         = errors.New("key not found")
	ErrKeyExists           = errors.New("key already exists")
	ErrTxnAborted          = errors.New("registry transaction aborted")
)

// Configuration errors
var (
	ErrInvalidConfig   = errors.New("invalid configuration")
	ErrMissingConfig   = errors.New("missing required configuration")
	ErrProfileNotFound = errors.New("profile not found")
	ErrReservedName    = errors.New("reserved name")
)

// Discovery, catalog and deployment errors
var (
	// ErrNoDownstreamComponent is returned when a required interface binding
	// has a compatible component type but no running instance.
	ErrNoDownstreamComponent = errors.New("no downstream component")

	ErrMissingEntry             = errors.New("missing entry")
	ErrDuplicateEntry           = errors.New("duplicate entry")
	ErrFrozenEntry              = errors.New("entry is published and cannot be updated")
	ErrInvalidSpec              = errors.New("invalid specification")
	ErrInputsValidation         = errors.New("inputs validation failed")
	ErrDMaaPValidation          = errors.New("dmaap map validation failed")
	ErrUnsupportedComponentType = errors.New("unsupported component type")
	ErrDeployFailed             = errors.New("deployment failed")
	ErrParsingFailed            = errors.New("parsing failed")
)

// NoDownstreamError describes which binding could not be satisfied.
type NoDownstreamError struct {
	Component string
	ConfigKey string
	Chosen    string
}

func (e *NoDownstreamError) Error() string {
	return fmt.Sprintf("component %q config_key %q is compatible with downstream component %q "+
		"however there are no instances available for connecting", e.Component, e.ConfigKey, e.Chosen)
}

// Is reports whether target is ErrNoDownstreamComponent.
func (e *NoDownstreamError) Is(target error) bool {
	return target == ErrNoDownstreamComponent
}

// MissingInputsError lists deployment-time inputs that were expected but not supplied.
type MissingInputsError struct {
	Keys []string
}

func (e *MissingInputsError) Error() string {
	return fmt.Sprintf("inputs map is missing keys: %s", strings.Join(e.Keys, ", "))
}

// Is reports whether target is ErrInputsValidation.
func (e *MissingInputsError) Is(target error) bool {
	return target == ErrInputsValidation
}

// ClassifiedError wraps an error with its classification
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	if ce.Err == nil {
		return ce.Class.String() + " error"
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// IsTransient checks if an error is transient and should be retried
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorTransient
	}

	if errors.Is(err, ErrConnectionTimeout) ||
		errors.Is(err, ErrRegistryUnavailable) ||
		errors.Is(err, ErrNoConnection) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) {
		return true
	}

	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"timeout", "connection", "unavailable", "temporary"} {
		if strings.Contains(errStr, pattern) {
			return true
		}
	}
	return false
}

// IsFatal checks if an error is fatal and should stop processing
func IsFatal(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorFatal
	}

	return errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingConfig) ||
		errors.Is(err, ErrDeployFailed)
}

// IsInvalid checks if an error is due to invalid input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class == ErrorInvalid
	}

	return errors.Is(err, ErrInvalidSpec) ||
		errors.Is(err, ErrParsingFailed) ||
		errors.Is(err, ErrInputsValidation) ||
		errors.Is(err, ErrDMaaPValidation) ||
		errors.Is(err, ErrMissingEntry)
}

// Classify returns the error class for an error
func Classify(err error) ErrorClass {
	switch {
	case err == nil:
		return ErrorTransient
	case IsInvalid(err):
		return ErrorInvalid
	case IsFatal(err):
		return ErrorFatal
	default:
		return ErrorTransient
	}
}

func newClassified(class ErrorClass, err error, component, operation, message string) *ClassifiedError {
	return &ClassifiedError{
		Class:     class,
		Err:       err,
		Message:   message,
		Component: component,
		Operation: operation,
	}
}

// Wrap creates a standardized error with context following the pattern:
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorTransient, wrappedErr, component, method, wrappedErr.Error())
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorFatal, wrappedErr, component, method, wrappedErr.Error())
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrappedErr := Wrap(err, component, method, action)
	return newClassified(ErrorInvalid, wrappedErr, component, method, wrappedErr.Error())
}

// Invalid builds an invalid-class error from a message when there is no
// underlying cause to wrap.
func Invalid(component, method, message string) error {
	return WrapInvalid(errors.New(message), component, method, "validate")
}

// Is, As, New and Join re-export the standard library helpers.
var (
	Is   = errors.Is
	As   = errors.As
	New  = errors.New
	Join = errors.Join
)
