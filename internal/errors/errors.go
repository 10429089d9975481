// Package errors defines the error responses of the status API.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorType classifies errors returned by the status API.
type ErrorType string

const (
	ErrorTypeValidation  ErrorType = "VALIDATION_ERROR"
	ErrorTypeNotFound    ErrorType = "NOT_FOUND"
	ErrorTypeInternal    ErrorType = "INTERNAL_ERROR"
	ErrorTypeConflict    ErrorType = "CONFLICT"
	ErrorTypeServiceDown ErrorType = "SERVICE_DOWN"
	ErrorTypeMethod      ErrorType = "METHOD_NOT_ALLOWED"
	// ErrorTypeStreamFailed: the stream stopped on a fatal codec error.
	ErrorTypeStreamFailed ErrorType = "STREAM_FAILED"
	// ErrorTypeStreamRejected: the stream is alive but refused the request,
	// for example parameters sent after content.
	ErrorTypeStreamRejected ErrorType = "STREAM_REJECTED"
)

var statusByType = map[ErrorType]int{
	ErrorTypeValidation:     http.StatusBadRequest,
	ErrorTypeNotFound:       http.StatusNotFound,
	ErrorTypeInternal:       http.StatusInternalServerError,
	ErrorTypeConflict:       http.StatusConflict,
	ErrorTypeServiceDown:    http.StatusServiceUnavailable,
	ErrorTypeMethod:         http.StatusMethodNotAllowed,
	ErrorTypeStreamFailed:   http.StatusConflict,
	ErrorTypeStreamRejected: http.StatusUnprocessableEntity,
}

// Status returns the HTTP status answered for t.
func (t ErrorType) Status() int {
	if s, ok := statusByType[t]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// Coded is implemented by domain errors that carry a machine readable
// type, such as codec errors.
type Coded interface {
	error
	Code() string
	Fatal() bool
}

// AppError is an error carrying an API type and HTTP status.
type AppError struct {
	Type       ErrorType              `json:"type"`
	Message    string                 `json:"message"`
	Code       string                 `json:"code,omitempty"`
	Details    map[string]interface{} `json:"details,omitempty"`
	HTTPStatus int                    `json:"-"`
	Err        error                  `json:"-"`
}

func (e *AppError) Error() string {
	msg := string(e.Type) + ": " + e.Message
	if e.Err != nil {
		msg += " (caused by: " + e.Err.Error() + ")"
	}
	return msg
}

func (e *AppError) Unwrap() error { return e.Err }

// WithDetails merges details into the error.
func (e *AppError) WithDetails(details map[string]interface{}) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]interface{}, len(details))
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithCode sets the machine readable code.
func (e *AppError) WithCode(code string) *AppError {
	e.Code = code
	return e
}

// New creates an AppError answered with the type's status.
func New(errType ErrorType, message string) *AppError {
	return &AppError{Type: errType, Message: message, HTTPStatus: errType.Status()}
}

// Wrap is New with a cause.
func Wrap(err error, errType ErrorType, message string) *AppError {
	e := New(errType, message)
	e.Err = err
	return e
}

func NewValidationError(message string) *AppError {
	return New(ErrorTypeValidation, message)
}

func NewNotFoundError(resource string) *AppError {
	return New(ErrorTypeNotFound, resource+" not found")
}

func NewInternalError(message string) *AppError {
	return New(ErrorTypeInternal, message)
}

func WrapInternalError(err error, message string) *AppError {
	return Wrap(err, ErrorTypeInternal, message)
}

func NewConflictError(message string) *AppError {
	return New(ErrorTypeConflict, message)
}

func NewServiceDownError(service string) *AppError {
	return New(ErrorTypeServiceDown, service+" service is currently unavailable")
}

// WrapStreamError maps an error returned by a playback stream. A coded
// cause decides between STREAM_FAILED and STREAM_REJECTED and its code is
// copied into the response; uncoded causes count as failures.
func WrapStreamError(err error, stream string) *AppError {
	var coded Coded
	if errors.As(err, &coded) {
		t, verb := ErrorTypeStreamRejected, "rejected the request"
		if coded.Fatal() {
			t, verb = ErrorTypeStreamFailed, "failed"
		}
		return Wrap(err, t, fmt.Sprintf("%s stream %s", stream, verb)).
			WithCode(coded.Code()).
			WithDetails(map[string]interface{}{"stream": stream})
	}
	return Wrap(err, ErrorTypeStreamFailed, stream+" stream failed").
		WithDetails(map[string]interface{}{"stream": stream})
}

// GetAppError extracts an AppError from err's chain.
func GetAppError(err error) (*AppError, bool) {
	var appErr *AppError
	ok := errors.As(err, &appErr)
	return appErr, ok
}

// IsAppError reports whether err's chain contains an AppError.
func IsAppError(err error) bool {
	_, ok := GetAppError(err)
	return ok
}
