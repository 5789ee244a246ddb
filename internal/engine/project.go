package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"unicode"
)

type sourceFile struct {
	kind   FileKind
	source ContentSource
}

type extensionStep struct {
	def        *StepDefinition
	components []string
}

// Project is the line-oriented Model implementation. It is safe for
// concurrent use: queries take a read lock and see the last linked index.
type Project struct {
	mu sync.RWMutex

	files        map[string]sourceFile
	tests        map[string]*parsedTest
	interactions map[string]*parsedInteraction

	extSteps      []extensionStep
	extComponents map[string][]string
	extMethods    []MethodDefinition

	// Linked index, replaced wholesale by Link.
	steps      []*StepDefinition
	components map[string][]string
	methods    map[string]map[string]*MethodDefinition
}

var _ Model = (*Project)(nil)

// NewProject returns an empty project.
func NewProject() *Project {
	return &Project{
		files:         make(map[string]sourceFile),
		tests:         make(map[string]*parsedTest),
		interactions:  make(map[string]*parsedInteraction),
		extComponents: make(map[string][]string),
		components:    make(map[string][]string),
		methods:       make(map[string]map[string]*MethodDefinition),
	}
}

// MergeFile adds or replaces a file.
func (p *Project) MergeFile(kind FileKind, path string, source ContentSource) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.files[path] = sourceFile{kind: kind, source: source}
	delete(p.tests, path)
	delete(p.interactions, path)
}

// RemoveFile removes a file and its parsed output.
func (p *Project) RemoveFile(path string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.files[path]; !ok {
		return false
	}
	delete(p.files, path)
	delete(p.tests, path)
	delete(p.interactions, path)
	return true
}

// Files returns the merged paths in lexical order.
func (p *Project) Files() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	paths := make([]string, 0, len(p.files))
	for path := range p.files {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Compile reads and parses every merged file. Content sources are invoked
// without holding the project lock. A cancelled ctx stops the pass between
// files and returns ctx.Err() with the messages gathered so far.
func (p *Project) Compile(ctx context.Context, log *slog.Logger) (*Result, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}

	p.mu.RLock()
	paths := make([]string, 0, len(p.files))
	snapshot := make(map[string]sourceFile, len(p.files))
	for path, f := range p.files {
		paths = append(paths, path)
		snapshot[path] = f
	}
	p.mu.RUnlock()
	sort.Strings(paths)

	result := &Result{}
	tests := make(map[string]*parsedTest)
	interactions := make(map[string]*parsedInteraction)

	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		f := snapshot[path]
		content, err := f.source(ctx)
		if err != nil {
			log.Warn("could not read source file", "path", path, "error", err)
			result.Messages = append(result.Messages, Message{
				Path:        path,
				Severity:    SeverityError,
				Code:        CodeUnreadableFile,
				Text:        fmt.Sprintf("could not read file: %v", err),
				StartLine:   1,
				StartColumn: 1,
			})
			continue
		}

		switch f.kind {
		case FileKindTest:
			parsed := parseTestFile(path, content.Text)
			tests[path] = parsed
			result.Messages = append(result.Messages, parsed.messages...)
		case FileKindInteraction:
			parsed := parseInteractionFile(path, content.Text)
			interactions[path] = parsed
			result.Messages = append(result.Messages, parsed.messages...)
		}
	}

	p.mu.Lock()
	for path, parsed := range tests {
		if f, ok := p.files[path]; ok && f.kind == FileKindTest {
			p.tests[path] = parsed
		}
	}
	for path, parsed := range interactions {
		if f, ok := p.files[path]; ok && f.kind == FileKindInteraction {
			p.interactions[path] = parsed
		}
	}
	p.mu.Unlock()

	log.Debug("compiled project", "files", len(paths), "messages", len(result.Messages))
	return result, nil
}

// Link builds the definition index from the parsed files and extension
// registrations, then resolves every test step against it.
func (p *Project) Link(ctx context.Context) (*Result, error) {
	p.mu.RLock()
	paths := make([]string, 0, len(p.interactions))
	for path := range p.interactions {
		paths = append(paths, path)
	}
	sort.Strings(paths)

	components := make(map[string][]string, len(p.extComponents))
	for name, traits := range p.extComponents {
		components[name] = append([]string(nil), traits...)
	}
	for _, path := range paths {
		for _, c := range p.interactions[path].components {
			components[c.Name] = appendUnique(components[c.Name], c.Traits...)
		}
	}

	result := &Result{}
	var steps []*StepDefinition
	methods := make(map[string]map[string]*MethodDefinition)
	addMethod := func(m MethodDefinition) {
		scope := methods[m.Scope]
		if scope == nil {
			scope = make(map[string]*MethodDefinition)
			methods[m.Scope] = scope
		}
		def := m
		scope[m.Name] = &def
	}

	for _, ext := range p.extSteps {
		def := *ext.def
		def.PlaceholderValues = placeholderValues(&def, ext.components, components)
		steps = append(steps, &def)
	}
	for _, m := range p.extMethods {
		addMethod(m)
	}

	for _, path := range paths {
		parsed := p.interactions[path]
		for _, m := range parsed.methods {
			addMethod(m)
		}
		for _, ps := range parsed.steps {
			def, err := NewStepDefinition(ps.Type, ps.Declaration)
			if err != nil {
				result.Messages = append(result.Messages, Message{
					Path:        path,
					Severity:    SeverityError,
					Code:        CodeInvalidStepDeclaration,
					Text:        fmt.Sprintf("invalid step declaration: %v", err),
					StartLine:   ps.Line,
					StartColumn: ps.Column,
				})
				continue
			}
			def.Description = ps.Description
			def.Source = path
			def.Line = ps.Line
			def.PlaceholderValues = placeholderValues(def, scopeComponents(ps, components), components)
			steps = append(steps, def)
		}
	}

	testPaths := make([]string, 0, len(p.tests))
	for path := range p.tests {
		testPaths = append(testPaths, path)
	}
	sort.Strings(testPaths)
	tests := make(map[string]*parsedTest, len(testPaths))
	for _, path := range testPaths {
		tests[path] = p.tests[path]
	}
	p.mu.RUnlock()

	for _, path := range testPaths {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		for _, step := range tests[path].steps {
			result.Messages = append(result.Messages, checkReference(path, step, steps)...)
		}
	}

	p.mu.Lock()
	p.steps = steps
	p.components = components
	p.methods = methods
	p.mu.Unlock()

	return result, nil
}

func checkReference(path string, step testStep, defs []*StepDefinition) []Message {
	if step.Ref.Text == "" {
		return nil
	}

	exact := 0
	for _, m := range matchAll(defs, step.Ref) {
		if m.Exact {
			exact++
		}
	}

	msg := Message{
		Path:        path,
		Severity:    SeverityWarning,
		StartLine:   step.Line,
		StartColumn: step.Column,
		EndLine:     step.Line,
		EndColumn:   step.EndColumn,
	}
	switch {
	case exact == 0:
		msg.Code = CodeNoMatchingStep
		msg.Text = fmt.Sprintf("no %s step matches %q", step.Ref.Type, step.Ref.Text)
	case exact > 1:
		msg.Code = CodeAmbiguousStep
		msg.Text = fmt.Sprintf("%d %s steps match %q", exact, step.Ref.Type, step.Ref.Text)
	default:
		return nil
	}
	return []Message{msg}
}

// scopeComponents returns the components a step declared in an interaction
// file applies to. Nil means every component.
func scopeComponents(ps pendingStep, components map[string][]string) []string {
	switch ps.ScopeKind {
	case scopeComponent:
		return []string{ps.ScopeName}
	case scopeTrait:
		var out []string
		for name, traits := range components {
			if contains(traits, ps.ScopeName) {
				out = append(out, name)
			}
		}
		if out == nil {
			out = []string{}
		}
		sort.Strings(out)
		return out
	default:
		return nil
	}
}

func placeholderValues(def *StepDefinition, scoped []string, components map[string][]string) map[string][]string {
	if !def.HasPlaceholders() {
		return nil
	}
	values := scoped
	if values == nil {
		values = make([]string, 0, len(components))
		for name := range components {
			values = append(values, name)
		}
		sort.Strings(values)
	}
	return map[string][]string{ComponentPlaceholder: values}
}

// MatchStepReference matches ref against the last linked definitions.
func (p *Project) MatchStepReference(ref StepReference) []StepMatch {
	p.mu.RLock()
	defs := p.steps
	p.mu.RUnlock()

	return matchAll(defs, ref)
}

// StepDefinitions returns the linked definitions of the given type, or of
// every type when stepType is 0.
func (p *Project) StepDefinitions(stepType StepType) []*StepDefinition {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var out []*StepDefinition
	for _, d := range p.steps {
		if stepType == 0 || d.Type == stepType {
			out = append(out, d)
		}
	}
	return out
}

// FindMethod resolves call within scope. A component scope also searches the
// traits it declares; unscoped extension methods are searched last.
func (p *Project) FindMethod(call, scope string) (*MethodDefinition, bool) {
	name := methodName(call)
	if name == "" {
		return nil, false
	}

	p.mu.RLock()
	defer p.mu.RUnlock()

	lookup := append([]string{scope}, p.components[scope]...)
	if scope != "" {
		lookup = append(lookup, "")
	}
	for _, s := range lookup {
		if m, ok := p.methods[s][name]; ok {
			return m, true
		}
	}
	return nil, false
}

// DefineStep registers a step definition. It takes effect at the next Link.
func (p *Project) DefineStep(spec StepDefinitionSpec) error {
	if spec.Type == 0 {
		return fmt.Errorf("step %q: missing step type", spec.Declaration)
	}
	def, err := NewStepDefinition(spec.Type, spec.Declaration)
	if err != nil {
		return err
	}
	def.Description = spec.Description
	def.Source = spec.Source

	var components []string
	if len(spec.Components) > 0 {
		components = append([]string(nil), spec.Components...)
	}

	p.mu.Lock()
	p.extSteps = append(p.extSteps, extensionStep{def: def, components: components})
	p.mu.Unlock()
	return nil
}

// DefineComponent registers a component and its traits.
func (p *Project) DefineComponent(name string, traits ...string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	p.mu.Lock()
	p.extComponents[name] = appendUnique(p.extComponents[name], traits...)
	p.mu.Unlock()
}

// DefineMethod registers a method. An empty Scope makes it visible from
// every component.
func (p *Project) DefineMethod(method MethodDefinition) {
	if !validName(method.Name) {
		return
	}
	p.mu.Lock()
	p.extMethods = append(p.extMethods, method)
	p.mu.Unlock()
}

// Components returns the linked component names in lexical order.
func (p *Project) Components() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	out := make([]string, 0, len(p.components))
	for name := range p.components {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func appendUnique(dst []string, values ...string) []string {
	for _, v := range values {
		v = strings.TrimFunc(v, unicode.IsSpace)
		if v != "" && !contains(dst, v) {
			dst = append(dst, v)
		}
	}
	return dst
}

func contains(values []string, s string) bool {
	for _, v := range values {
		if v == s {
			return true
		}
	}
	return false
}
