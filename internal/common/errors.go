package common

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorKind classifies failures so callers can decide whether a job fails,
// an analysis degrades, or an upload is rejected.
type ErrorKind string

const (
	KindValidation ErrorKind = "validation" // bad upload; never reaches the job store
	KindContent    ErrorKind = "content"    // unusable document; retrying cannot help
	KindUpstream   ErrorKind = "upstream"   // blob, model provider or database failed
	KindSchema     ErrorKind = "schema"     // model answered with the wrong shape
	KindNotFound   ErrorKind = "not_found"
	KindInternal   ErrorKind = "internal"
)

// AppError represents application-specific errors
type AppError struct {
	Kind    ErrorKind
	Code    string
	Message string
	Cause   error
}

func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Cause
}

// Common application errors
var (
	ErrNotFound     = errors.New("resource not found")
	ErrInvalidInput = errors.New("invalid input")
	ErrValidation   = errors.New("validation failed")
)

// Error constructors
func NewAppError(code, message string, cause error) *AppError {
	return &AppError{
		Kind:    kindFromCause(cause),
		Code:    code,
		Message: message,
		Cause:   cause,
	}
}

func newKind(kind ErrorKind, code, message string, cause error) *AppError {
	return &AppError{Kind: kind, Code: code, Message: message, Cause: cause}
}

func ValidationError(message string) *AppError {
	return newKind(KindValidation, "VALIDATION_ERROR", message, ErrValidation)
}

func ContentError(message string) *AppError {
	return newKind(KindContent, "CONTENT_ERROR", message, nil)
}

func UpstreamError(message string, cause error) *AppError {
	return newKind(KindUpstream, "UPSTREAM_ERROR", message, cause)
}

func SchemaError(message string, cause error) *AppError {
	return newKind(KindSchema, "SCHEMA_ERROR", message, cause)
}

func NotFound(message string) *AppError {
	return newKind(KindNotFound, "NOT_FOUND", message, ErrNotFound)
}

// KindOf returns the kind of the first AppError in err's chain.
// Bare sentinel errors are mapped as well; anything else is internal.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ae *AppError
	if errors.As(err, &ae) && ae.Kind != "" {
		return ae.Kind
	}
	return kindFromCause(err)
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// UserMessage is the message safe to show to polling clients.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var ae *AppError
	if errors.As(err, &ae) {
		return ae.Message
	}
	return err.Error()
}

// HTTPStatus maps an error onto the status code the HTTP surface answers with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func kindFromCause(cause error) ErrorKind {
	switch {
	case cause == nil:
		return KindInternal
	case errors.Is(cause, ErrNotFound):
		return KindNotFound
	case errors.Is(cause, ErrValidation), errors.Is(cause, ErrInvalidInput):
		return KindValidation
	default:
		return KindInternal
	}
}
