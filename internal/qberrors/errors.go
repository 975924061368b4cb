// Package qberrors provides the package-qualified error wrapping
// convention used throughout quixbyte, grounded on
// internal/tree/error.go's errorf/errorv helpers, and the sentinel error
// kinds a caller can test for with errors.Is.
package qberrors

import (
	"errors"
	"fmt"
)

// Sentinel error kinds, tested for with errors.Is by callers that need to
// distinguish, e.g., "not found" from a transport failure.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrConflict      = errors.New("conflict")
	ErrClosed        = errors.New("closed")
	ErrUnauthorized  = errors.New("unauthorized")
)

// Wrap annotates err with a package-qualified call site, matching the
// teacher's errorv(typeMethod, err) convention.
func Wrap(pkgMethod string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", pkgMethod, err)
}

// Newf builds a new, package-qualified error, matching the teacher's
// errorf(typeMethod, format, args...) convention.
func Newf(pkgMethod, format string, a ...interface{}) error {
	return fmt.Errorf("%s: %s", pkgMethod, fmt.Sprintf(format, a...))
}
