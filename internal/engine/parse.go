package engine

import (
	"bufio"
	"fmt"
	"strings"
	"unicode"
)

// testStep is a step reference found in a test file.
type testStep struct {
	Ref       StepReference
	Line      int
	Column    int
	EndColumn int
	Keyword   string
}

type parsedTest struct {
	steps    []testStep
	messages []Message
}

// parseTestFile extracts step references. And/But continue the type of the
// preceding step; Feature, Scenario and other lines are ignored.
func parseTestFile(path, text string) *parsedTest {
	out := &parsedTest{}
	var last StepType

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()

		keyword, body, kwCol, textCol, ok := ParseStepLine(line)
		if !ok {
			if isSectionHeader(line) {
				last = 0
			}
			continue
		}

		stepType, isType := ParseStepType(keyword)
		if !isType {
			if last == 0 {
				out.messages = append(out.messages, Message{
					Path:        path,
					Severity:    SeverityError,
					Code:        CodeContinuationWithoutStep,
					Text:        fmt.Sprintf("%q must follow a Given, When or Then step", keyword),
					StartLine:   lineNo,
					StartColumn: kwCol,
					EndLine:     lineNo,
					EndColumn:   kwCol + len([]rune(keyword)) - 1,
				})
				continue
			}
			stepType = last
		}
		last = stepType

		body = strings.TrimRightFunc(body, unicode.IsSpace)
		end := textCol + len([]rune(body)) - 1
		if body == "" {
			end = 0
		}
		out.steps = append(out.steps, testStep{
			Ref:       StepReference{Type: stepType, Text: body},
			Line:      lineNo,
			Column:    textCol,
			EndColumn: end,
			Keyword:   keyword,
		})
	}
	return out
}

func isSectionHeader(line string) bool {
	trimmed := strings.TrimSpace(line)
	for _, prefix := range []string{"Feature:", "Scenario:", "Scenario Outline:", "Background:", "Examples:"} {
		if strings.HasPrefix(trimmed, prefix) {
			return true
		}
	}
	return false
}

type scopeKind int

const (
	scopeNone scopeKind = iota
	scopeTrait
	scopeComponent
)

type componentDecl struct {
	Name   string
	Traits []string
	Line   int
}

type pendingStep struct {
	Type        StepType
	Declaration string
	Description string
	Line        int
	Column      int
	ScopeKind   scopeKind
	ScopeName   string
}

type parsedInteraction struct {
	components []*componentDecl
	traits     []string
	methods    []MethodDefinition
	steps      []pendingStep
	messages   []Message
}

// parseInteractionFile reads Trait/Component blocks, their methods and the
// steps they declare. Lines starting with # are comments; a comment line
// directly above a Step or method becomes its description.
func parseInteractionFile(path, text string) *parsedInteraction {
	out := &parsedInteraction{}

	var (
		kind      scopeKind
		scopeName string
		component *componentDecl
		doc       string
	)

	errorAt := func(lineNo, col int, code int, format string, args ...any) {
		out.messages = append(out.messages, Message{
			Path:        path,
			Severity:    SeverityError,
			Code:        code,
			Text:        fmt.Sprintf(format, args...),
			StartLine:   lineNo,
			StartColumn: col,
		})
	}

	scanner := bufio.NewScanner(strings.NewReader(text))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		raw := scanner.Text()
		line := strings.TrimSpace(raw)
		col := len([]rune(raw)) - len([]rune(strings.TrimLeftFunc(raw, unicode.IsSpace))) + 1

		switch {
		case line == "":
			doc = ""
			continue

		case strings.HasPrefix(line, "#"):
			doc = strings.TrimSpace(strings.TrimPrefix(line, "#"))
			continue

		case strings.HasPrefix(line, "Trait:"):
			kind, scopeName, component = scopeTrait, strings.TrimSpace(strings.TrimPrefix(line, "Trait:")), nil
			out.traits = append(out.traits, scopeName)

		case strings.HasPrefix(line, "Component:"):
			scopeName = strings.TrimSpace(strings.TrimPrefix(line, "Component:"))
			kind = scopeComponent
			component = &componentDecl{Name: scopeName, Line: lineNo}
			out.components = append(out.components, component)

		case strings.HasPrefix(line, "traits:"):
			if component == nil {
				errorAt(lineNo, col, CodeUnknownInteractionLine, "traits can only be listed inside a Component")
				break
			}
			for _, t := range strings.Split(strings.TrimPrefix(line, "traits:"), ",") {
				if t = strings.TrimSpace(t); t != "" {
					component.Traits = append(component.Traits, t)
				}
			}

		case strings.HasPrefix(line, "Step:"):
			body := strings.TrimSpace(strings.TrimPrefix(line, "Step:"))
			word, decl, _ := strings.Cut(body, " ")
			stepType, ok := ParseStepType(word)
			if !ok {
				errorAt(lineNo, col, CodeInvalidStepDeclaration, "step declaration must start with Given, When or Then")
				break
			}
			out.steps = append(out.steps, pendingStep{
				Type:        stepType,
				Declaration: strings.TrimSpace(decl),
				Description: doc,
				Line:        lineNo,
				Column:      col,
				ScopeKind:   kind,
				ScopeName:   scopeName,
			})

		default:
			name, params, ok := parseMethodSignature(line)
			if !ok {
				errorAt(lineNo, col, CodeUnknownInteractionLine, "unrecognised interaction line %q", line)
				break
			}
			if kind == scopeNone {
				errorAt(lineNo, col, CodeMethodOutsideScope, "method %q must be declared inside a Trait or Component", name)
				break
			}
			out.methods = append(out.methods, MethodDefinition{
				Name:        name,
				Params:      params,
				Scope:       scopeName,
				Description: doc,
				Source:      path,
				Line:        lineNo,
			})
		}
		doc = ""
	}
	return out
}

// parseMethodSignature parses "name(a, b)" with an optional trailing body
// after "->".
func parseMethodSignature(line string) (string, []string, bool) {
	sig, _, _ := strings.Cut(line, "->")
	sig = strings.TrimSpace(sig)

	open := strings.IndexByte(sig, '(')
	if open <= 0 || !strings.HasSuffix(sig, ")") {
		return "", nil, false
	}
	name := sig[:open]
	if !validName(name) {
		return "", nil, false
	}

	var params []string
	for _, p := range strings.Split(sig[open+1:len(sig)-1], ",") {
		if p = strings.TrimSpace(p); p != "" {
			params = append(params, p)
		}
	}
	return name, params, true
}

// methodName strips an argument list from a call expression.
func methodName(call string) string {
	call = strings.TrimSpace(call)
	if idx := strings.IndexByte(call, '('); idx >= 0 {
		call = call[:idx]
	}
	return strings.TrimSpace(call)
}

// StepAt parses text as a test file and returns the step reference on the
// 1-based line, with And and But resolved to the type they continue, and
// the column its text starts at.
func StepAt(text string, line int) (ref StepReference, column int, ok bool) {
	for _, st := range parseTestFile("", text).steps {
		if st.Line == line {
			return st.Ref, st.Column, true
		}
		if st.Line > line {
			break
		}
	}
	return StepReference{}, 0, false
}
