package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies a failure the way the session boundary reacts to it.
type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation is rejected locally, before any network call.
	KindValidation
	// KindTransient is retried up to the retry bound, then surfaced.
	KindTransient
	// KindConflict means the remote state already matches the desired end
	// state; callers treat it as a successful no-op.
	KindConflict
	// KindAuth signals an expired or rejected session token.
	KindAuth
	// KindFatal is anything else once retries are exhausted.
	KindFatal
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTransient:
		return "transient"
	case KindConflict:
		return "conflict"
	case KindAuth:
		return "auth"
	case KindFatal:
		return "fatal"
	}
	return "unknown"
}

var (
	ErrSessionClosed  = errors.New("session closed")
	ErrNoPendingOffer = errors.New("no pending offer")
)

type Error struct {
	Kind Kind
	// Code is the structured backend error code when one was returned.
	Code string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

func Newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func Wrap(kind Kind, err error, msg string) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf returns the classification of err, KindUnknown when err carries none.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func IsValidation(err error) bool { return KindOf(err) == KindValidation }
func IsTransient(err error) bool  { return KindOf(err) == KindTransient }
func IsConflict(err error) bool   { return KindOf(err) == KindConflict }
func IsAuth(err error) bool       { return KindOf(err) == KindAuth }
