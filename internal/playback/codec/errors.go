package codec

import (
	"errors"
	"fmt"
)

// ErrorType classifies codec context failures.
type ErrorType string

const (
	ErrorTypeUnsupportedCodec    ErrorType = "UNSUPPORTED_CODEC"
	ErrorTypeNotImplemented      ErrorType = "NOT_IMPLEMENTED"
	ErrorTypeAlreadyInitialized  ErrorType = "ALREADY_INITIALIZED"
	ErrorTypeNotInitialized      ErrorType = "NOT_INITIALIZED"
	ErrorTypeDecoderOpenFailed   ErrorType = "DECODER_OPEN_FAILED"
	ErrorTypeConverterInitFailed ErrorType = "CONVERTER_INIT_FAILED"
	ErrorTypeInvalidFormat       ErrorType = "INVALID_FORMAT"

	ErrorTypeNotReady         ErrorType = "NOT_READY"
	ErrorTypeParametersLocked ErrorType = "PARAMETERS_LOCKED"
	ErrorTypeDecodeFailed     ErrorType = "DECODE_FAILED"
	ErrorTypeConversionFailed ErrorType = "CONVERSION_FAILED"
	ErrorTypeDisposed         ErrorType = "DISPOSED"
)

var fatalTypes = map[ErrorType]bool{
	ErrorTypeUnsupportedCodec:    true,
	ErrorTypeNotImplemented:      true,
	ErrorTypeAlreadyInitialized:  true,
	ErrorTypeNotInitialized:      true,
	ErrorTypeDecoderOpenFailed:   true,
	ErrorTypeConverterInitFailed: true,
	ErrorTypeInvalidFormat:       true,
}

// Error is a classified codec failure.
type Error struct {
	Type    ErrorType
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("codec %s: %s", e.Op, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches another *Error of the same type, so callers can compare
// against a bare &Error{Type: ...}.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Type == e.Type && t.Op == "" && t.Message == "" && t.Err == nil
}

// Code returns the error type as a string.
func (e *Error) Code() string {
	return string(e.Type)
}

// Fatal reports whether the failure leaves the stream unusable.
func (e *Error) Fatal() bool {
	return fatalTypes[e.Type]
}

func newError(t ErrorType, op, msg string, err error) *Error {
	return &Error{Type: t, Op: op, Message: msg, Err: err}
}

// TypeOf returns the ErrorType carried by err, or "" if err is not a
// codec error.
func TypeOf(err error) ErrorType {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Type
	}
	return ""
}

// IsType reports whether err is a codec error of type t.
func IsType(err error, t ErrorType) bool {
	return err != nil && TypeOf(err) == t
}

// IsFatal reports whether err is a codec error the stream cannot recover
// from.
func IsFatal(err error) bool {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Fatal()
	}
	return false
}
