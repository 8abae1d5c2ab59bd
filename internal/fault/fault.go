// Package fault classifies errors returned by stages and their collaborators
// into the kinds the runner acts on: validation, fatal, transient, circuit_open
// and canceled.
package fault

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"google.golang.org/api/googleapi"
)

// Kind is the classification of an error.
type Kind string

const (
	// KindNone means no error.
	KindNone Kind = ""
	// KindValidation is a structural input check failure. Never retried.
	KindValidation Kind = "validation"
	// KindFatal covers malformed contracts and auth/permission failures. Never retried.
	KindFatal Kind = "fatal"
	// KindTransient covers timeouts, rate limits, 5xx and network resets. Retried.
	KindTransient Kind = "transient"
	// KindCircuitOpen is raised by a circuit breaker that refused to call its dependency.
	KindCircuitOpen Kind = "circuit_open"
	// KindCanceled means the run was cancelled by the operator.
	KindCanceled Kind = "canceled"
)

// Retryable reports whether errors of this kind may be retried.
func (k Kind) Retryable() bool {
	return k == KindTransient
}

// Kinder is implemented by errors that know their own kind.
type Kinder interface {
	FaultKind() Kind
}

// Error attaches an explicit kind to an underlying error.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// FaultKind implements Kinder.
func (e *Error) FaultKind() Kind {
	return e.Kind
}

// Wrap marks err with kind. A nil err stays nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Fatal marks err as non-retryable.
func Fatal(err error) error { return Wrap(KindFatal, err) }

// Transient marks err as retryable.
func Transient(err error) error { return Wrap(KindTransient, err) }

// Validation marks err as an input validation failure.
func Validation(err error) error { return Wrap(KindValidation, err) }

// Validationf formats a validation failure.
func Validationf(format string, args ...any) error {
	return Validation(fmt.Errorf(format, args...))
}

// statusCoder is implemented by HTTP collaborator errors.
type statusCoder interface {
	StatusCode() int
}

// Classify returns the kind of err. Explicit markers win over inferred kinds;
// anything unrecognised is treated as transient so the retry budget bounds it.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}

	var kinder Kinder
	if errors.As(err, &kinder) {
		if k := kinder.FaultKind(); k != KindNone {
			return k
		}
	}

	switch {
	case errors.Is(err, context.Canceled):
		return KindCanceled
	case errors.Is(err, context.DeadlineExceeded):
		return KindTransient
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return FromStatus(apiErr.Code)
	}
	var sc statusCoder
	if errors.As(err, &sc) {
		return FromStatus(sc.StatusCode())
	}

	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &syntaxErr) || errors.As(err, &typeErr) {
		return KindFatal
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTransient
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return KindTransient
	}

	return KindTransient
}

// FromStatus maps an HTTP status code to a kind.
func FromStatus(code int) Kind {
	switch {
	case code < 400:
		return KindNone
	case code == http.StatusRequestTimeout,
		code == http.StatusTooEarly,
		code == http.StatusTooManyRequests,
		code >= 500:
		return KindTransient
	default:
		return KindFatal
	}
}

// Is reports whether err classifies as kind.
func Is(err error, kind Kind) bool {
	return Classify(err) == kind
}
