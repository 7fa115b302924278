package faults

import "errors"

// Class identifies the failure category of one processing error.
// Params: configuration/resolution/delivery/persistence constants.
// Returns: machine-readable class used for skip-vs-abort decisions.
type Class string

const (
	// ClassConfig marks missing or malformed configuration references.
	ClassConfig Class = "config"
	// ClassResolution marks recipient lookup failures (treated fail-open).
	ClassResolution Class = "resolution"
	// ClassDelivery marks delivery sink failures (terminal per task).
	ClassDelivery Class = "delivery"
	// ClassPersistence marks notice store failures (abort scheduling).
	ClassPersistence Class = "persistence"
)

// Error wraps a root cause with its failure class.
// Params: class tag and wrapped cause.
// Returns: typed error carrying taxonomy marker.
type Error struct {
	Class Class
	Err   error
}

// Error returns the wrapped error message.
// Params: none.
// Returns: string representation.
func (e Error) Error() string {
	if e.Err == nil {
		return string(e.Class) + " error"
	}
	return e.Err.Error()
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
// Params: none.
// Returns: wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// Mark wraps an error with a failure class.
// Params: class tag and source error.
// Returns: wrapped error or nil when input is nil.
func Mark(class Class, err error) error {
	if err == nil {
		return nil
	}
	return Error{Class: class, Err: err}
}

// ClassOf extracts the failure class from an error chain.
// Params: candidate error.
// Returns: class tag and true, or empty class when untagged.
func ClassOf(err error) (Class, bool) {
	if err == nil {
		return "", false
	}
	var tagged Error
	if !errors.As(err, &tagged) {
		return "", false
	}
	return tagged.Class, true
}

// Is reports whether the error carries the given class.
// Params: candidate error and class to test.
// Returns: true when the chain contains the class marker.
func Is(err error, class Class) bool {
	got, ok := ClassOf(err)
	return ok && got == class
}
