package extension

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrExtensionNotFound is returned when no source holds a package.
	ErrExtensionNotFound = errors.New("extension not found")

	// ErrNoMatchingVersion is returned when a package exists but no version
	// satisfies the request.
	ErrNoMatchingVersion = errors.New("no matching extension version")

	// ErrNoEntryPoint is returned when an extension's main file is missing.
	ErrNoEntryPoint = errors.New("extension has no entry point")

	// ErrInvalidManifest is returned for an unreadable or invalid manifest.
	ErrInvalidManifest = errors.New("invalid extension manifest")

	// ErrNoAttach is returned when an entry point defines no attach hook.
	ErrNoAttach = errors.New("extension defines no attach function")

	// ErrClosed is returned when using a disposed handle.
	ErrClosed = errors.New("extension handle closed")
)

// Error records which extension failed and at what stage.
type Error struct {
	Extension string
	Op        string
	Err       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("extension %s: %s: %v", e.Extension, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Err
}

// ExtensionLoadError carries every failure from one resolve, install or
// load pass.
type ExtensionLoadError struct {
	Errs []error
}

// Error implements the error interface.
func (e *ExtensionLoadError) Error() string {
	if len(e.Errs) == 1 {
		return "loading extensions: " + e.Errs[0].Error()
	}
	msgs := make([]string, len(e.Errs))
	for i, err := range e.Errs {
		msgs[i] = err.Error()
	}
	return fmt.Sprintf("loading extensions: %d errors: %s", len(e.Errs), strings.Join(msgs, "; "))
}

// Unwrap returns the nested failures.
func (e *ExtensionLoadError) Unwrap() []error {
	return e.Errs
}

// asLoadError wraps errs, flattening nested load errors.
func asLoadError(errs ...error) error {
	var flat []error
	for _, err := range errs {
		if err == nil {
			continue
		}
		var le *ExtensionLoadError
		if errors.As(err, &le) {
			flat = append(flat, le.Errs...)
			continue
		}
		flat = append(flat, err)
	}
	if len(flat) == 0 {
		return nil
	}
	return &ExtensionLoadError{Errs: flat}
}
