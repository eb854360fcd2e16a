package tracking

import (
	"errors"
	"strings"
)

type Kind string

const (
	KindInvalidInput Kind = "INVALID_INPUT"
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindNotFound     Kind = "NOT_FOUND"
	KindConflict     Kind = "CONFLICT"
	KindStorage      Kind = "STORAGE_ERROR"
)

// Error is returned by every engine operation. Fields names the inputs
// that failed validation.
type Error struct {
	Kind    Kind
	Message string
	Fields  []string
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(string(e.Kind)))
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any Error of the same kind, so callers can test against
// the Err* kind values.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

var (
	ErrInvalidInput = &Error{Kind: KindInvalidInput}
	ErrUnauthorized = &Error{Kind: KindUnauthorized}
	ErrNotFound     = &Error{Kind: KindNotFound}
	ErrConflict     = &Error{Kind: KindConflict}
	ErrStorage      = &Error{Kind: KindStorage}
)

// Errors a UserStore reports.
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrVersionConflict = errors.New("version conflict")
)

func invalidInput(msg string, fields ...string) *Error {
	return &Error{Kind: KindInvalidInput, Message: msg, Fields: fields}
}

func storageError(msg string, err error) *Error {
	return &Error{Kind: KindStorage, Message: msg, Err: err}
}

// KindOf reports the kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// NewError builds an error of the given kind for callers outside the
// engine that report through the same taxonomy.
func NewError(kind Kind, msg string, err error, fields ...string) *Error {
	return &Error{Kind: kind, Message: msg, Err: err, Fields: fields}
}
