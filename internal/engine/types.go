// Package engine defines the project model the language server builds and
// queries, and ships a small line-oriented implementation of it.
//
// The orchestrator only relies on the Model interface: merge files in,
// compile, link, and answer step and method lookups. Project implements
// that interface for test files (*.as) and interaction files (*.asi), and
// exposes a Registry so extensions can contribute definitions.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// FileKind says which file set a path belongs to.
type FileKind int

const (
	FileKindTest FileKind = iota
	FileKindInteraction
)

// String returns the kind name.
func (k FileKind) String() string {
	switch k {
	case FileKindTest:
		return "test"
	case FileKindInteraction:
		return "interaction"
	default:
		return "unknown"
	}
}

// Severity of a compiler message.
type Severity int

const (
	SeverityError Severity = iota + 1
	SeverityWarning
	SeverityInfo
)

// String returns the severity name.
func (s Severity) String() string {
	switch s {
	case SeverityError:
		return "error"
	case SeverityWarning:
		return "warning"
	case SeverityInfo:
		return "info"
	default:
		return "unknown"
	}
}

// Message codes produced by Project.
const (
	CodeUnknownInteractionLine  = 10001
	CodeMethodOutsideScope      = 10002
	CodeInvalidStepDeclaration  = 10003
	CodeUnreadableFile          = 10004
	CodeNoMatchingStep          = 20001
	CodeContinuationWithoutStep = 20002
	CodeAmbiguousStep           = 20003
)

// Message is a compiler or linker message. Lines and columns are 1-based.
// EndLine and EndColumn are 0 when the message has no end position.
type Message struct {
	Path        string
	Severity    Severity
	Code        int
	Text        string
	StartLine   int
	StartColumn int
	EndLine     int
	EndColumn   int
}

// String formats the message for logs.
func (m Message) String() string {
	return fmt.Sprintf("%s:%d:%d: %s %05d: %s", m.Path, m.StartLine, m.StartColumn, m.Severity, m.Code, m.Text)
}

// Result is the outcome of a compile or link pass.
type Result struct {
	Messages []Message
}

// HasErrors reports whether any message is an error.
func (r *Result) HasErrors() bool {
	if r == nil {
		return false
	}
	for _, m := range r.Messages {
		if m.Severity == SeverityError {
			return true
		}
	}
	return false
}

// ForPath returns the messages attached to path, in order.
func (r *Result) ForPath(path string) []Message {
	if r == nil {
		return nil
	}
	var out []Message
	for _, m := range r.Messages {
		if m.Path == path {
			out = append(out, m)
		}
	}
	return out
}

// Content is source text plus the time it was last modified.
type Content struct {
	Text     string
	Modified time.Time
}

// ContentSource produces the current text for a file. Sources are invoked on
// every compile, so they see edits made after the file was merged.
type ContentSource func(ctx context.Context) (Content, error)

// StepType is the kind of a step.
type StepType int

const (
	StepTypeGiven StepType = iota + 1
	StepTypeWhen
	StepTypeThen
)

// String returns the keyword for the step type.
func (t StepType) String() string {
	switch t {
	case StepTypeGiven:
		return "Given"
	case StepTypeWhen:
		return "When"
	case StepTypeThen:
		return "Then"
	default:
		return ""
	}
}

// ParseStepType parses Given, When or Then, ignoring case.
func ParseStepType(s string) (StepType, bool) {
	switch strings.ToLower(s) {
	case "given":
		return StepTypeGiven, true
	case "when":
		return StepTypeWhen, true
	case "then":
		return StepTypeThen, true
	default:
		return 0, false
	}
}

// StepReference is a step as written in a test file.
type StepReference struct {
	Type StepType
	Text string
}

// MatchedArgument is an argument bound from reference text.
type MatchedArgument struct {
	Name string
	// Text is the raw source text without delimiters.
	Text string
	// Delimited is true when the source span was quoted.
	Delimited bool
	// Delimiter is the quote rune the span was opened with.
	Delimiter rune
}

// StepMatch is a candidate definition for a step reference. Arguments holds
// the bound arguments in declaration order; argument parts past its length
// are unbound. Placeholders maps placeholder names to bound values.
type StepMatch struct {
	Definition   *StepDefinition
	Exact        bool
	Arguments    []MatchedArgument
	Placeholders map[string]string
}

// MethodDefinition is an interaction method.
type MethodDefinition struct {
	Name        string
	Params      []string
	Scope       string
	Description string
	Source      string
	Line        int
}

// Signature renders the method as name(a, b).
func (m *MethodDefinition) Signature() string {
	return m.Name + "(" + strings.Join(m.Params, ", ") + ")"
}

// Registry accepts definitions contributed from outside the project's files.
type Registry interface {
	DefineStep(def StepDefinitionSpec) error
	DefineComponent(name string, traits ...string)
	DefineMethod(method MethodDefinition)
}

// StepDefinitionSpec describes a step definition to register.
type StepDefinitionSpec struct {
	Type        StepType
	Declaration string
	Description string
	Source      string
	// Components lists the valid values for the $component$ placeholder.
	// Empty means every known component.
	Components []string
}

// Model is the compiled project the workspace keeps current.
type Model interface {
	Registry

	// MergeFile adds or replaces a file. Re-merging a path replaces it.
	MergeFile(kind FileKind, path string, source ContentSource)

	// RemoveFile removes a file and reports whether it was present.
	RemoveFile(path string) bool

	// Compile parses every merged file. It checks ctx between files.
	Compile(ctx context.Context, log *slog.Logger) (*Result, error)

	// Link resolves step references against definitions.
	Link(ctx context.Context) (*Result, error)

	// MatchStepReference returns definitions matching ref, exact or partial.
	MatchStepReference(ref StepReference) []StepMatch

	// FindMethod looks up a method by name within scope.
	FindMethod(call, scope string) (*MethodDefinition, bool)
}
