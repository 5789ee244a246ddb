package config

import (
	"errors"
	"fmt"
)

// ErrInvalidConfiguration is matched by every ConfigurationError.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// ConfigurationError describes a malformed project configuration file or a
// missing required key.
type ConfigurationError struct {
	// Path is the configuration file.
	Path string
	// Line and Column locate a parse error, when known.
	Line   int
	Column int
	// Key names the offending setting, such as "extensions[1].package".
	Key string
	// Message describes the problem.
	Message string
	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *ConfigurationError) Error() string {
	where := e.Path
	if where == "" {
		where = FileName
	}
	switch {
	case e.Line > 0 && e.Column > 0:
		return fmt.Sprintf("%s at line %d, column %d: %s", where, e.Line, e.Column, e.Message)
	case e.Key != "":
		return fmt.Sprintf("%s: %s: %s", where, e.Key, e.Message)
	default:
		return fmt.Sprintf("%s: %s", where, e.Message)
	}
}

// Unwrap returns ErrInvalidConfiguration and the underlying error.
func (e *ConfigurationError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidConfiguration}
	}
	return []error{ErrInvalidConfiguration, e.Err}
}
