package types

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// ID represents a unique identifier
type ID string

// NewID generates a new ID from a string
func NewID(s string) ID {
	return ID(s)
}

// String returns the string representation of the ID
func (i ID) String() string {
	return string(i)
}

// IsEmpty returns true if the ID is empty
func (i ID) IsEmpty() bool {
	return string(i) == ""
}

// GenerateID generates a new unique identifier
func GenerateID() ID {
	return ID(uuid.NewString())
}

// Timestamp represents a point in time
type Timestamp struct {
	time.Time
}

// NewTimestamp creates a new timestamp from the current time
func NewTimestamp() Timestamp {
	return Timestamp{Time: time.Now()}
}

// NewTimestampFromTime creates a new timestamp from a time.Time
func NewTimestampFromTime(t time.Time) Timestamp {
	return Timestamp{Time: t}
}

// IsZero returns true if the timestamp is zero
func (t Timestamp) IsZero() bool {
	return t.Time.IsZero()
}

// Error represents an error with a stable status code and optional cause.
// The code is what callers branch on; the message is diagnostic only.
type Error struct {
	Code    string
	Message string
	Err     error
}

// Error returns the error message
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error carrying the same code, so that
// errors.Is(err, softbus.ErrBadArgument) matches regardless of message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a new error with code and message
func NewError(code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// WrapError wraps an existing error with code and message
func WrapError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// IsErrCode checks if an error has a specific error code
func IsErrCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// GetErrorCode returns the error code from an error
func GetErrorCode(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Common error codes
const (
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeInvalidArgument   = "INVALID_ARGUMENT"
	ErrCodeInvalid           = "INVALID"
	ErrCodeInternal          = "INTERNAL"
	ErrCodeUnavailable       = "UNAVAILABLE"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeResourceExhausted = "RESOURCE_EXHAUSTED"
)

// Software bus status codes. These are returned unchanged to callers of the
// bus API and never depend on diagnostic detail.
const (
	ErrCodeBadArgument     = "BAD_ARGUMENT"
	ErrCodeMaxPipesMet     = "MAX_PIPES_MET"
	ErrCodePipeCreateError = "PIPE_CREATE_ERROR"
	ErrCodeMaxMsgsMet      = "MAX_MSGS_MET"
	ErrCodeMaxDestsMet     = "MAX_DESTS_MET"
	ErrCodeMsgTooBig       = "MSG_TOO_BIG"
	ErrCodeBufAllocError   = "BUF_ALLOC_ERROR"
	ErrCodeNoMessage       = "NO_MESSAGE"
	ErrCodeTimeOut         = "TIME_OUT"
	ErrCodePipeReadError   = "PIPE_READ_ERROR"
	ErrCodeBufferInvalid   = "BUFFER_INVALID"
	ErrCodeWrongMsgType    = "WRONG_MSG_TYPE"
)
