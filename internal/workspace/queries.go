package workspace

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/autostep/autostep-lsp/internal/engine"
	"github.com/autostep/autostep-lsp/internal/lsp"
)

// ResolvePath returns the absolute path of a project file. Relative paths
// are taken from the workspace root.
func (s *Store) ResolvePath(path string) (string, error) {
	root, err := s.Root()
	if err != nil {
		return "", err
	}
	if !filepath.IsAbs(path) {
		path = s.vfs.Join(root, path)
	}
	abs, err := s.vfs.Abs(path)
	if err != nil {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}

	pc := s.current.Load()
	if pc == nil {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	if _, ok := findRoute(s, pc, abs); !ok {
		return "", fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	return abs, nil
}

// GetPossibleStepDefinitions returns the definitions matching ref in the
// last completed link, or nil before the first load.
func (s *Store) GetPossibleStepDefinitions(ref engine.StepReference) []engine.StepMatch {
	model := s.CurrentModel()
	if model == nil {
		return nil
	}
	return model.MatchStepReference(ref)
}

// GetMethodDefinition looks up an interaction method by call name within
// scope.
func (s *Store) GetMethodDefinition(call, scope string) (*engine.MethodDefinition, bool) {
	model := s.CurrentModel()
	if model == nil {
		return nil, false
	}
	return model.FindMethod(call, scope)
}

// Hover describes the definition an exactly matching step on the 0-based
// line refers to. It returns nil when there is nothing to show.
func (s *Store) Hover(path string, line int) *lsp.Hover {
	text, ok := s.documentText(path)
	if !ok {
		return nil
	}
	ref, column, ok := engine.StepAt(text, line+1)
	if !ok || ref.Text == "" {
		return nil
	}

	var exact []engine.StepMatch
	for _, m := range s.GetPossibleStepDefinitions(ref) {
		if m.Exact {
			exact = append(exact, m)
		}
	}
	if len(exact) == 0 {
		return nil
	}

	var b strings.Builder
	for i, m := range exact {
		if i > 0 {
			b.WriteString("\n\n---\n\n")
		}
		writeDefinitionMarkdown(&b, m.Definition)
	}

	lineText, _ := lsp.LineAt(text, line)
	start := lsp.UTF16Len(string([]rune(lineText)[:column-1]))
	return &lsp.Hover{
		Contents: lsp.MarkupContent{Kind: lsp.MarkupKindMarkdown, Value: b.String()},
		Range: &lsp.Range{
			Start: lsp.Position{Line: line, Character: start},
			End:   lsp.Position{Line: line, Character: lsp.UTF16Len(strings.TrimRight(lineText, " \t"))},
		},
	}
}

func writeDefinitionMarkdown(b *strings.Builder, def *engine.StepDefinition) {
	fmt.Fprintf(b, "**%s** `%s`", def.Type, def.Declaration)
	if def.Description != "" {
		b.WriteString("\n\n")
		b.WriteString(def.Description)
	}
	if def.Source != "" {
		fmt.Fprintf(b, "\n\n_Defined in %s_", def.Source)
	}
}

// Completion returns step completions for the cursor at pos. Only step
// lines complete; the text before the cursor is matched as a partial
// reference and each candidate replaces it.
func (s *Store) Completion(path string, pos lsp.Position) []lsp.CompletionItem {
	text, ok := s.documentText(path)
	if !ok {
		return nil
	}
	line, ok := lsp.LineAt(text, pos.Line)
	if !ok {
		return nil
	}
	prefix := lsp.LinePrefix(line, pos.Character)

	_, body, _, textCol, ok := engine.ParseStepLine(prefix)
	if !ok {
		return nil
	}

	// Resolve And/But against the lines above, ignoring text after the
	// cursor.
	lines := strings.Split(text, "\n")
	lines[pos.Line] = prefix
	ref, _, ok := engine.StepAt(strings.Join(lines[:pos.Line+1], "\n"), pos.Line+1)
	if !ok {
		return nil
	}
	ref.Text = body

	cands := lsp.SynthesizeCandidates(s.GetPossibleStepDefinitions(ref))
	if len(cands) == 0 {
		return nil
	}

	start := lsp.UTF16Len(string([]rune(prefix)[:textCol-1]))
	replace := &lsp.Range{
		Start: lsp.Position{Line: pos.Line, Character: start},
		End:   pos,
	}
	return lsp.CompletionItems(cands, replace)
}

// documentText returns the overlay text of path, or its disk content.
func (s *Store) documentText(path string) (string, bool) {
	if doc, ok := s.docs.Get(path); ok {
		return doc.Text(), true
	}
	data, err := s.vfs.ReadFile(path)
	if err != nil {
		return "", false
	}
	return string(data), true
}
