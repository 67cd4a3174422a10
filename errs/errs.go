// Package errs defines the error taxonomy shared by the venue adapters,
// the execution layer and the account synchronization loop. Callers
// classify failures with errors.Is against the Kind sentinels rather
// than matching venue-specific codes.
package errs

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind is a coarse failure class. Kinds are errors themselves so that
// errors.Is(err, errs.KindAuth) works on anything built by this package.
type Kind struct{ name string }

func (k *Kind) Error() string { return k.name }

var (
	KindConnection          = &Kind{"connection error"}
	KindAuth                = &Kind{"authentication error"}
	KindInsufficientBalance = &Kind{"insufficient balance"}
	KindUnsupportedVenue    = &Kind{"unsupported venue"}
	KindValidation          = &Kind{"validation error"}
	KindNotFound            = &Kind{"not found"}
	KindInvalidState        = &Kind{"invalid state"}
	KindRateLimit           = &Kind{"rate limited"}
)

// Error carries the failure class plus the venue and operation it came from.
type Error struct {
	Kind  *Kind
	Venue string
	Op    string
	Err   error
}

func (e *Error) Error() string {
	msg := e.Kind.name
	if e.Op != "" {
		msg = e.Op + ": " + msg
	}
	if e.Venue != "" {
		msg = e.Venue + ": " + msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches both the wrapped cause and the Kind sentinel.
func (e *Error) Is(target error) bool {
	if k, ok := target.(*Kind); ok {
		return e.Kind == k
	}
	return false
}

// New builds an Error with a formatted message as its cause.
func New(kind *Kind, venue, op, format string, args ...interface{}) error {
	return &Error{Kind: kind, Venue: venue, Op: op, Err: fmt.Errorf(format, args...)}
}

// Wrap attaches a kind, venue and operation to an existing error. A nil
// cause returns nil.
func Wrap(kind *Kind, venue, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Venue: venue, Op: op, Err: err}
}

// IsKind reports whether err carries the given kind anywhere in its chain.
func IsKind(err error, kind *Kind) bool {
	return errors.Is(err, kind)
}

// KindOf extracts the kind from an error chain, or nil when untyped.
func KindOf(err error) *Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return nil
}

// FromHTTPStatus maps an HTTP response status to the taxonomy. Statuses
// that do not indicate a recognised class come back as connection errors,
// the safest default for transport-level retries.
func FromHTTPStatus(status int, venue, op string, err error) error {
	if err == nil {
		err = fmt.Errorf("http status %d", status)
	}
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return Wrap(KindAuth, venue, op, err)
	case status == http.StatusNotFound:
		return Wrap(KindNotFound, venue, op, err)
	case status == http.StatusTooManyRequests || status == 418:
		return Wrap(KindRateLimit, venue, op, err)
	case status >= 400 && status < 500:
		return Wrap(KindValidation, venue, op, err)
	default:
		return Wrap(KindConnection, venue, op, err)
	}
}
