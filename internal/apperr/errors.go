// Package apperr defines the error taxonomy shared by the orchestrator,
// the ingestion pipeline and the exemption service.
package apperr

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindUnknown Kind = iota
	KindInvalidRequest
	KindNotFound
	KindNothingToDo
	KindConflict
	KindDispatchFailed
	KindParseRecoveryExhausted
	KindReferentialViolation
)

func (k Kind) String() string {
	switch k {
	case KindInvalidRequest:
		return "invalid request"
	case KindNotFound:
		return "not found"
	case KindNothingToDo:
		return "nothing to do"
	case KindConflict:
		return "conflict"
	case KindDispatchFailed:
		return "dispatch failed"
	case KindParseRecoveryExhausted:
		return "parse recovery exhausted"
	case KindReferentialViolation:
		return "referential violation"
	default:
		return "unknown error"
	}
}

// Error implements "error", for the description see Error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (err *Error) Error() string {
	switch {
	case err.Msg != "" && err.Err != nil:
		return fmt.Sprintf("%s: %s: %v", err.Kind, err.Msg, err.Err)
	case err.Msg != "":
		return fmt.Sprintf("%s: %s", err.Kind, err.Msg)
	case err.Err != nil:
		return fmt.Sprintf("%s: %v", err.Kind, err.Err)
	default:
		return err.Kind.String()
	}
}

func (err *Error) Unwrap() error {
	return err.Err
}

// Is reports whether target is an *Error of the same Kind, so the sentinels
// below can be used with errors.Is regardless of message.
func (err *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == err.Kind
}

var (
	ErrInvalidRequest         = &Error{Kind: KindInvalidRequest}
	ErrNotFound               = &Error{Kind: KindNotFound}
	ErrNothingToDo            = &Error{Kind: KindNothingToDo}
	ErrConflict               = &Error{Kind: KindConflict}
	ErrDispatchFailed         = &Error{Kind: KindDispatchFailed}
	ErrParseRecoveryExhausted = &Error{Kind: KindParseRecoveryExhausted}
	ErrReferentialViolation   = &Error{Kind: KindReferentialViolation}
)

func New(kind Kind, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, format string, args ...any) error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

func InvalidRequest(format string, args ...any) error {
	return New(KindInvalidRequest, format, args...)
}

func NotFound(format string, args ...any) error {
	return New(KindNotFound, format, args...)
}

func NothingToDo(format string, args ...any) error {
	return New(KindNothingToDo, format, args...)
}

func Conflict(format string, args ...any) error {
	return New(KindConflict, format, args...)
}

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsClientError reports whether err is user-correctable (a 4xx-equivalent).
func IsClientError(err error) bool {
	switch KindOf(err) {
	case KindInvalidRequest, KindNotFound, KindNothingToDo, KindConflict:
		return true
	}
	return false
}
