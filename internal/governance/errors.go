package governance

import (
	"errors"
	"fmt"

	"agora/governance/internal/store"
)

type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindAuthorization Kind = "authorization"
	KindInvariant     Kind = "invariant_violation"
	KindConflict      Kind = "conflict"
	KindNotFound      Kind = "not_found"
	KindInvalid       Kind = "invalid"
)

// Sentinels for errors.Is. Any *Error of the same kind matches.
var (
	ErrConfiguration = &Error{Kind: KindConfiguration}
	ErrAuthorization = &Error{Kind: KindAuthorization}
	ErrInvariant     = &Error{Kind: KindInvariant}
	ErrConflict      = &Error{Kind: KindConflict}
	ErrNotFound      = &Error{Kind: KindNotFound}
	ErrInvalid       = &Error{Kind: KindInvalid}
)

// Error is the only error type the engine returns to callers. Code is a
// stable machine-readable identifier; Details carries the ids needed to
// diagnose invariant violations.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.Code == "" {
		msg = string(e.Kind)
		if e.Message != "" {
			msg += ": " + e.Message
		}
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == "" && t.Kind == e.Kind
}

func newError(kind Kind, code, message string, details map[string]any) *Error {
	return &Error{Kind: kind, Code: code, Message: message, Details: details}
}

func invariant(code, message string, details map[string]any) *Error {
	return newError(KindInvariant, code, message, details)
}

func invalid(code, message string) *Error {
	return newError(KindInvalid, code, message, nil)
}

func notFound(code, message string) *Error {
	return newError(KindNotFound, code, message, nil)
}

func conflict(code, message string) *Error {
	return newError(KindConflict, code, message, nil)
}

// fromStore converts storage sentinels into engine errors and leaves
// engine errors and unexpected failures untouched.
func fromStore(op string, err error) error {
	if err == nil {
		return nil
	}
	var ge *Error
	if errors.As(err, &ge) {
		return err
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return &Error{Kind: KindNotFound, Code: "not_found", Message: op, Err: err}
	case errors.Is(err, store.ErrConflict):
		return &Error{Kind: KindConflict, Code: "conflict", Message: op, Err: err}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// KindOf reports the kind of err, or "" for errors the engine did not
// classify.
func KindOf(err error) Kind {
	var ge *Error
	if errors.As(err, &ge) {
		return ge.Kind
	}
	return ""
}

func isNotFound(err error) bool {
	return errors.Is(err, store.ErrNotFound) || errors.Is(err, ErrNotFound)
}

func isConflict(err error) bool {
	return errors.Is(err, store.ErrConflict) || errors.Is(err, ErrConflict)
}

func hasCode(err error, code string) bool {
	var ge *Error
	return errors.As(err, &ge) && ge.Code == code
}
