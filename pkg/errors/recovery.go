// Package errors provides error handling utilities for the SED training pipeline.
//
// This file contains panic recovery utilities. The trainer runs every strategy
// phase (train, validate, test) through SafeExecute so that a panic inside a
// numeric backend surfaces as an ordinary error carrying the phase name and the
// stack trace instead of tearing down the process mid-checkpoint.
package errors

import (
	"fmt"
	"runtime/debug"

	"github.com/cockroachdb/errors"
)

// PanicError represents an error that was created from a recovered panic.
type PanicError struct {
	// PanicValue is the original value passed to panic()
	PanicValue interface{}
	// StackTrace contains the stack trace at the time of panic
	StackTrace string
	// Operation identifies where the panic was recovered
	Operation string
}

// Error implements the error interface for PanicError.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in %s: %v", e.Operation, e.PanicValue)
}

// String provides detailed information including stack trace.
func (e *PanicError) String() string {
	return fmt.Sprintf("panic in %s: %v\nStack trace:\n%s",
		e.Operation, e.PanicValue, e.StackTrace)
}

// NewPanicError creates a new PanicError with the given operation context and panic value.
func NewPanicError(operation string, panicValue interface{}) *PanicError {
	return &PanicError{
		PanicValue: panicValue,
		StackTrace: string(debug.Stack()),
		Operation:  operation,
	}
}

// Recover converts a panic into an error. It must be deferred with a pointer
// to the named error result of the enclosing function:
//
//	func (t *Trainer) runPhase() (err error) {
//	    defer errors.Recover(&err, "validate")
//	    ...
//	}
//
// If the function already returned an error, the panic is recorded as a
// wrapper around it so neither cause is lost.
func Recover(err *error, operation string) {
	if r := recover(); r != nil {
		if *err != nil {
			*err = errors.Wrapf(*err, "panic in %s: %v", operation, r)
			return
		}
		*err = NewPanicError(operation, r)
	}
}

// SafeExecute executes fn and converts any panic into a *PanicError.
//
// Example:
//
//	err := errors.SafeExecute("train_epoch", func() error {
//	    return strategy.TrainOneEpoch(ctx, epoch, limit)
//	})
func SafeExecute(operation string, fn func() error) (err error) {
	defer Recover(&err, operation)
	return fn()
}
