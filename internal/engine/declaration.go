package engine

import (
	"errors"
	"fmt"
	"strings"
	"unicode"
)

// PartKind identifies a piece of a step declaration.
type PartKind int

const (
	PartWord PartKind = iota
	PartArgument
	PartPlaceholder
)

// Part is one token of a declaration. Text is the literal word, the
// argument name or the placeholder name.
type Part struct {
	Kind PartKind
	Text string
}

// ComponentPlaceholder is the placeholder name whose values are components.
const ComponentPlaceholder = "component"

// StepDefinition is a parsed step definition.
type StepDefinition struct {
	Type        StepType
	Declaration string
	Parts       []Part
	Description string
	Source      string
	Line        int

	// PlaceholderValues lists the valid values per placeholder name.
	PlaceholderValues map[string][]string
}

// ArgumentNames returns argument names in declaration order.
func (d *StepDefinition) ArgumentNames() []string {
	var names []string
	for _, p := range d.Parts {
		if p.Kind == PartArgument {
			names = append(names, p.Text)
		}
	}
	return names
}

// HasPlaceholders reports whether the declaration contains a placeholder.
func (d *StepDefinition) HasPlaceholders() bool {
	for _, p := range d.Parts {
		if p.Kind == PartPlaceholder {
			return true
		}
	}
	return false
}

var (
	errEmptyDeclaration  = errors.New("step declaration is empty")
	errUnterminatedToken = errors.New("unterminated argument or placeholder")
	errEmptyName         = errors.New("argument or placeholder has no name")
)

// ParseDeclaration splits a declaration such as
// "I click the $component$ named {name}" into parts.
func ParseDeclaration(decl string) ([]Part, error) {
	decl = strings.TrimSpace(decl)
	if decl == "" {
		return nil, errEmptyDeclaration
	}

	var parts []Part
	for _, field := range strings.Fields(decl) {
		switch {
		case strings.HasPrefix(field, "{"):
			if !strings.HasSuffix(field, "}") || len(field) < 2 {
				return nil, fmt.Errorf("%w: %q", errUnterminatedToken, field)
			}
			name := field[1 : len(field)-1]
			if !validName(name) {
				return nil, fmt.Errorf("%w: %q", errEmptyName, field)
			}
			parts = append(parts, Part{Kind: PartArgument, Text: name})
		case strings.HasPrefix(field, "$"):
			if !strings.HasSuffix(field, "$") || len(field) < 2 {
				return nil, fmt.Errorf("%w: %q", errUnterminatedToken, field)
			}
			name := field[1 : len(field)-1]
			if !validName(name) {
				return nil, fmt.Errorf("%w: %q", errEmptyName, field)
			}
			parts = append(parts, Part{Kind: PartPlaceholder, Text: name})
		default:
			parts = append(parts, Part{Kind: PartWord, Text: field})
		}
	}
	return parts, nil
}

func validName(name string) bool {
	if name == "" {
		return false
	}
	for _, r := range name {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_' && r != '-' {
			return false
		}
	}
	return true
}

// NewStepDefinition parses a declaration into a StepDefinition.
func NewStepDefinition(stepType StepType, decl string) (*StepDefinition, error) {
	parts, err := ParseDeclaration(decl)
	if err != nil {
		return nil, err
	}
	return &StepDefinition{
		Type:        stepType,
		Declaration: strings.TrimSpace(decl),
		Parts:       parts,
	}, nil
}
