package filestore

import (
	"errors"
	"fmt"
)

var (
	// ErrDocumentNotOpen indicates the document has no overlay entry.
	ErrDocumentNotOpen = errors.New("document not open")

	// ErrDocumentClosed indicates an operation on a document after Close.
	ErrDocumentClosed = errors.New("document closed")

	// ErrInvalidPath indicates a path that could not be made absolute.
	ErrInvalidPath = errors.New("invalid path")
)

// PathError records the overlay operation and path that failed.
type PathError struct {
	Op   string
	Path string
	Err  error
}

// Error implements the error interface.
func (e *PathError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

// Unwrap returns the underlying error.
func (e *PathError) Unwrap() error {
	return e.Err
}

// IsNotOpen reports whether err is a document-not-open condition.
func IsNotOpen(err error) bool {
	return errors.Is(err, ErrDocumentNotOpen)
}
