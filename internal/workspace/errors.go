package workspace

import (
	"errors"
	"fmt"
)

var (
	// ErrNotInitialized is returned by operations that need a workspace
	// root before Initialize has been called.
	ErrNotInitialized = errors.New("workspace not initialized")

	// ErrAlreadyInitialized is returned by a second Initialize.
	ErrAlreadyInitialized = errors.New("workspace already initialized")

	// ErrFileNotFound is returned by ResolvePath for a path that is not a
	// known project file.
	ErrFileNotFound = errors.New("file not found in project")

	// ErrClosed is returned after Close.
	ErrClosed = errors.New("workspace closed")
)

// LoadError is a project load failure. The previous project stays active.
type LoadError struct {
	Root string
	Err  error
}

// Error implements the error interface.
func (e *LoadError) Error() string {
	return fmt.Sprintf("loading project %s: %v", e.Root, e.Err)
}

// Unwrap returns the underlying error.
func (e *LoadError) Unwrap() error {
	return e.Err
}
