// Package errs classifies failures of the trading cycle.
//
// Codes map to how a failure is handled:
//   - Config: fatal at startup
//   - Venue: recovered per operation, logged
//   - Risk: the entry is skipped
//   - Persistence: logged with the full record
//   - Timeout: resolved by an explicit cancel
//   - NotFound, InvalidInput: returned to admin callers
package errs

import (
	"errors"
	"fmt"
)

type Code int

const (
	Unknown Code = iota
	Config
	Venue
	Risk
	Persistence
	Timeout
	NotFound
	InvalidInput
)

func (c Code) String() string {
	switch c {
	case Config:
		return "config"
	case Venue:
		return "venue"
	case Risk:
		return "risk"
	case Persistence:
		return "persistence"
	case Timeout:
		return "timeout"
	case NotFound:
		return "not_found"
	case InvalidInput:
		return "invalid_input"
	default:
		return "unknown"
	}
}

type Error struct {
	Code    Code
	Message string
	Cause   error
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

func Wrapf(code Code, cause error, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s error: %s: %v", e.Code, e.Message, e.Cause)
	}

	return fmt.Sprintf("%s error: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// CodeOf returns the code of the outermost *Error in the chain.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}

	return Unknown
}

// HasCode reports whether any *Error in the chain carries code.
func HasCode(err error, code Code) bool {
	for err != nil {
		var e *Error
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Cause
	}

	return false
}
