// Package apperr classifies domain failures so transport layers can map them
// to client-visible outcomes without inspecting individual sentinels.
package apperr

import (
	"github.com/go-faster/errors"
)

// Kind is a failure category.
type Kind string

const (
	KindInternal      Kind = "internal"
	KindValidation    Kind = "validation"
	KindNotFound      Kind = "not_found"
	KindForbidden     Kind = "forbidden"
	KindConflict      Kind = "conflict"
	KindUpstream      Kind = "upstream"
	KindTimeout       Kind = "timeout"
	KindPaymentFailed Kind = "payment_failed"
)

// Error is a categorised error with a client-safe message.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// New returns a categorised sentinel.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Errorf builds a categorised error with a formatted message.
func Errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: errors.Errorf(format, args...).Error()}
}

// ErrorKind implements Kinded.
func (e *Error) ErrorKind() Kind { return e.Kind }

// Kinded is implemented by typed domain errors that carry their own category.
// Their Error text must be safe to show to clients.
type Kinded interface {
	error
	ErrorKind() Kind
}

// KindOf walks the chain and returns the first category found, or
// KindInternal when err is uncategorised.
func KindOf(err error) Kind {
	var k Kinded
	if errors.As(err, &k) {
		return k.ErrorKind()
	}
	return KindInternal
}

// Message returns the client-safe message of the first categorised error in
// the chain. Uncategorised errors never leak their text.
func Message(err error) string {
	var k Kinded
	if errors.As(err, &k) {
		return k.Error()
	}
	return "internal server error"
}
