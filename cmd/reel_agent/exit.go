package main

import (
	"errors"

	"github.com/jonathan/reel-forge/internal/fault"
)

// Process exit codes.
const (
	exitOK          = 0
	exitFailure     = 1
	exitValidation  = 2
	exitCircuitOpen = 3
)

// exitError pins the exit code of err.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }

func (e *exitError) Unwrap() error { return e.err }

// exitCode maps an error returned by a command to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	switch fault.Classify(err) {
	case fault.KindValidation:
		return exitValidation
	case fault.KindCircuitOpen:
		return exitCircuitOpen
	default:
		return exitFailure
	}
}
