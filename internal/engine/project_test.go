package engine

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func staticSource(text string) ContentSource {
	return func(context.Context) (Content, error) {
		return Content{Text: text}, nil
	}
}

const loginInteractions = `Trait: clickable
  # Clicks the element.
  click()
  Step: Given I click the $component$

Component: button
  traits: clickable
  press(times)

Component: field
  Step: Given I type {text} into the field
`

func buildProject(t *testing.T, files map[string]string) (*Project, *Result) {
	t.Helper()

	p := NewProject()
	for path, text := range files {
		kind := FileKindTest
		if len(path) > 4 && path[len(path)-4:] == ".asi" {
			kind = FileKindInteraction
		}
		p.MergeFile(kind, path, staticSource(text))
	}

	compiled, err := p.Compile(context.Background(), nil)
	require.NoError(t, err)
	linked, err := p.Link(context.Background())
	require.NoError(t, err)

	return p, &Result{Messages: append(compiled.Messages, linked.Messages...)}
}

func TestProject_CompileAndLinkClean(t *testing.T) {
	p, res := buildProject(t, map[string]string{
		"/ws/ui.asi": loginInteractions,
		"/ws/login.as": `Feature: Login
  Scenario: submit
    Given I click the button
    And I type 'admin' into the field
`,
	})

	assert.Empty(t, res.Messages)
	assert.Equal(t, []string{"button", "field"}, p.Components())
	assert.Len(t, p.StepDefinitions(StepTypeGiven), 2)
}

func TestProject_UnmatchedAndAmbiguousSteps(t *testing.T) {
	_, res := buildProject(t, map[string]string{
		"/ws/ui.asi": `Component: a
  Step: Then it is shown
  Step: Then it is {state}
`,
		"/ws/t.as": `Scenario: x
    Then it is shown
    Then nothing happens
`,
	})

	require.Len(t, res.Messages, 2)

	ambiguous := res.Messages[0]
	assert.Equal(t, CodeAmbiguousStep, ambiguous.Code)
	assert.Equal(t, SeverityWarning, ambiguous.Severity)
	assert.Equal(t, 2, ambiguous.StartLine)
	assert.Equal(t, 10, ambiguous.StartColumn)
	assert.Equal(t, 2, ambiguous.EndLine)
	assert.Equal(t, 20, ambiguous.EndColumn)

	missing := res.Messages[1]
	assert.Equal(t, CodeNoMatchingStep, missing.Code)
	assert.Equal(t, 3, missing.StartLine)
}

func TestProject_ContinuationWithoutStep(t *testing.T) {
	_, res := buildProject(t, map[string]string{
		"/ws/t.as": "Scenario: x\n  And something\n",
	})

	require.Len(t, res.Messages, 1)
	msg := res.Messages[0]
	assert.Equal(t, CodeContinuationWithoutStep, msg.Code)
	assert.Equal(t, SeverityError, msg.Severity)
	assert.Equal(t, 2, msg.StartLine)
	assert.Equal(t, 3, msg.StartColumn)
	assert.Equal(t, 5, msg.EndColumn)
}

func TestProject_InteractionErrors(t *testing.T) {
	_, res := buildProject(t, map[string]string{
		"/ws/bad.asi": `orphan()
Component: c
  this is not valid
  Step: Sometimes I fail
  Step: Given broken {arg
`,
	})

	var codes []int
	for _, m := range res.Messages {
		codes = append(codes, m.Code)
	}
	assert.Equal(t, []int{
		CodeMethodOutsideScope,
		CodeUnknownInteractionLine,
		CodeInvalidStepDeclaration,
		CodeInvalidStepDeclaration,
	}, codes)
	assert.True(t, res.HasErrors())
}

func TestProject_UnreadableFileReported(t *testing.T) {
	p := NewProject()
	p.MergeFile(FileKindTest, "/ws/gone.as", func(context.Context) (Content, error) {
		return Content{}, errors.New("permission denied")
	})

	res, err := p.Compile(context.Background(), nil)
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)
	assert.Equal(t, CodeUnreadableFile, res.Messages[0].Code)
	assert.Equal(t, "/ws/gone.as", res.Messages[0].Path)
}

func TestProject_CompileStopsOnCancel(t *testing.T) {
	p := NewProject()
	p.MergeFile(FileKindTest, "/ws/a.as", staticSource("Given x\n"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Compile(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProject_ContentSourceSeesLaterEdits(t *testing.T) {
	text := "Given a\n"
	p := NewProject()
	p.MergeFile(FileKindTest, "/ws/t.as", func(context.Context) (Content, error) {
		return Content{Text: text}, nil
	})
	require.NoError(t, p.DefineStep(StepDefinitionSpec{Type: StepTypeGiven, Declaration: "b"}))

	_, err := p.Compile(context.Background(), nil)
	require.NoError(t, err)
	res, err := p.Link(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Messages, 1)

	text = "Given b\n"
	_, err = p.Compile(context.Background(), nil)
	require.NoError(t, err)
	res, err = p.Link(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Messages)
}

func TestProject_RemoveFile(t *testing.T) {
	p := NewProject()
	p.MergeFile(FileKindTest, "/ws/t.as", staticSource(""))

	assert.True(t, p.RemoveFile("/ws/t.as"))
	assert.False(t, p.RemoveFile("/ws/t.as"))
	assert.Empty(t, p.Files())
}

func TestProject_PlaceholderValuesByScope(t *testing.T) {
	p, _ := buildProject(t, map[string]string{"/ws/ui.asi": loginInteractions})
	require.NoError(t, p.DefineStep(StepDefinitionSpec{
		Type:        StepTypeWhen,
		Declaration: "I focus the $component$",
	}))
	require.NoError(t, p.DefineStep(StepDefinitionSpec{
		Type:        StepTypeThen,
		Declaration: "the $component$ is visible",
		Components:  []string{"field"},
	}))
	_, err := p.Link(context.Background())
	require.NoError(t, err)

	byDecl := map[string][]string{}
	for _, d := range p.StepDefinitions(0) {
		if d.HasPlaceholders() {
			byDecl[d.Declaration] = d.PlaceholderValues[ComponentPlaceholder]
		}
	}

	assert.Equal(t, []string{"button"}, byDecl["I click the $component$"])
	assert.Equal(t, []string{"button", "field"}, byDecl["I focus the $component$"])
	assert.Equal(t, []string{"field"}, byDecl["the $component$ is visible"])
}

func TestProject_FindMethod(t *testing.T) {
	p, _ := buildProject(t, map[string]string{"/ws/ui.asi": loginInteractions})
	p.DefineMethod(MethodDefinition{Name: "wait", Params: []string{"ms"}})
	_, err := p.Link(context.Background())
	require.NoError(t, err)

	m, ok := p.FindMethod("press(3)", "button")
	require.True(t, ok)
	assert.Equal(t, "press(times)", m.Signature())

	m, ok = p.FindMethod("click()", "button")
	require.True(t, ok)
	assert.Equal(t, "clickable", m.Scope)
	assert.Equal(t, "Clicks the element.", m.Description)

	_, ok = p.FindMethod("wait", "field")
	assert.True(t, ok)

	_, ok = p.FindMethod("press", "field")
	assert.False(t, ok)
}

func TestMatchStepReference(t *testing.T) {
	p, _ := buildProject(t, map[string]string{"/ws/ui.asi": loginInteractions})

	tests := []struct {
		name      string
		text      string
		wantCount int
		wantExact bool
		wantArgs  []MatchedArgument
	}{
		{name: "empty matches all of type", text: "", wantCount: 2},
		{name: "partial word", text: "I cl", wantCount: 1},
		{name: "placeholder prefix", text: "I click the bu", wantCount: 1},
		{name: "placeholder bound", text: "I click the button", wantCount: 1, wantExact: true},
		{name: "unknown placeholder value", text: "I click the field ", wantCount: 0},
		{
			name:      "quoted argument",
			text:      `I type "hello world" `,
			wantCount: 1,
			wantArgs:  []MatchedArgument{{Name: "text", Text: "hello world", Delimited: true, Delimiter: '"'}},
		},
		{
			name:      "single quoted argument",
			text:      `I type 'C:\temp' `,
			wantCount: 1,
			wantArgs:  []MatchedArgument{{Name: "text", Text: `C:\temp`, Delimited: true, Delimiter: '\''}},
		},
		{name: "trailing words", text: "I click the button now", wantCount: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matches := p.MatchStepReference(StepReference{Type: StepTypeGiven, Text: tt.text})
			require.Len(t, matches, tt.wantCount)
			if tt.wantCount == 0 {
				return
			}
			assert.Equal(t, tt.wantExact, matches[0].Exact)
			if tt.wantArgs != nil {
				assert.Equal(t, tt.wantArgs, matches[0].Arguments)
			}
		})
	}
}

func TestParseStepLine(t *testing.T) {
	kw, text, kwCol, textCol, ok := ParseStepLine("    When  I press {x}")
	require.True(t, ok)
	assert.Equal(t, "When", kw)
	assert.Equal(t, "I press {x}", text)
	assert.Equal(t, 5, kwCol)
	assert.Equal(t, 11, textCol)

	_, _, _, _, ok = ParseStepLine("Scenario: nope")
	assert.False(t, ok)
}

func TestParseDeclaration(t *testing.T) {
	parts, err := ParseDeclaration("I click the $component$ named {name}")
	require.NoError(t, err)
	assert.Equal(t, []Part{
		{Kind: PartWord, Text: "I"},
		{Kind: PartWord, Text: "click"},
		{Kind: PartWord, Text: "the"},
		{Kind: PartPlaceholder, Text: "component"},
		{Kind: PartWord, Text: "named"},
		{Kind: PartArgument, Text: "name"},
	}, parts)

	for _, bad := range []string{"", "   ", "open {", "a {}", "the $$"} {
		_, err := ParseDeclaration(bad)
		assert.Error(t, err, bad)
	}
}

func TestStepAt(t *testing.T) {
	text := "Feature: login\n" +
		"  Scenario: ok\n" +
		"    Given I am on the login page\n" +
		"    And I type \"bob\" into the name\n" +
		"  Scenario: orphan\n" +
		"    But nothing\n"

	ref, col, ok := StepAt(text, 4)
	require.True(t, ok)
	assert.Equal(t, StepTypeGiven, ref.Type)
	assert.Equal(t, `I type "bob" into the name`, ref.Text)
	assert.Equal(t, 9, col)

	_, _, ok = StepAt(text, 2)
	assert.False(t, ok)
	_, _, ok = StepAt(text, 6)
	assert.False(t, ok, "continuation without a step has no type")
}

func TestHasPrefixFold(t *testing.T) {
	assert.True(t, hasPrefixFold("click", "CL"))
	// The Kelvin sign folds to k but encodes in three bytes.
	assert.True(t, hasPrefixFold("kelvin", "Kel"))
	assert.True(t, hasPrefixFold("Kelvin", "ke"))
	assert.True(t, hasPrefixFold("any", ""))
	assert.False(t, hasPrefixFold("cl", "click"))
	assert.False(t, hasPrefixFold("button", "bx"))
	assert.False(t, hasPrefixFold("K", "ke"))
}
