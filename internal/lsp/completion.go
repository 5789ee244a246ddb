package lsp

import (
	"fmt"
	"strings"

	"github.com/autostep/autostep-lsp/internal/engine"
)

// Candidate is one completion choice synthesised from a step match.
type Candidate struct {
	Definition *engine.StepDefinition

	// Label is shown to the user, Filter is matched against what was typed
	// and Insert is the text inserted on accept.
	Label  string
	Filter string
	Insert string

	// Snippet reports whether Insert uses snippet syntax.
	Snippet bool

	// Component is the component value this candidate was expanded for.
	Component string
}

// SynthesizeCandidates expands matches into completion candidates in match
// order.
func SynthesizeCandidates(matches []engine.StepMatch) []Candidate {
	var out []Candidate
	for _, m := range matches {
		if m.Definition == nil {
			continue
		}
		out = append(out, candidatesFor(m)...)
	}
	return out
}

func candidatesFor(m engine.StepMatch) []Candidate {
	def := m.Definition
	if len(def.ArgumentNames()) == 0 && !def.HasPlaceholders() {
		return []Candidate{{
			Definition: def,
			Label:      def.Declaration,
			Filter:     def.Declaration,
			Insert:     def.Declaration,
		}}
	}

	if !hasPart(def, engine.PartPlaceholder, engine.ComponentPlaceholder) {
		return []Candidate{synthesize(m, "")}
	}
	if bound := m.Placeholders[engine.ComponentPlaceholder]; bound != "" {
		return []Candidate{synthesize(m, bound)}
	}
	values := def.PlaceholderValues[engine.ComponentPlaceholder]
	if len(values) == 0 {
		return []Candidate{synthesize(m, "")}
	}

	out := make([]Candidate, 0, len(values))
	for _, v := range values {
		out = append(out, synthesize(m, v))
	}
	return out
}

// synthesize builds the three strings of a candidate in one pass over the
// declaration. component, when set, fills the component placeholder.
func synthesize(m engine.StepMatch, component string) Candidate {
	def := m.Definition
	var label, filter, snippet strings.Builder
	stop, arg := 0, 0

	tabStop := func(name string) {
		stop++
		fmt.Fprintf(&snippet, "${%d:%s}", stop, escapeSnippet(name))
	}

	for i, part := range def.Parts {
		if i > 0 {
			label.WriteByte(' ')
			filter.WriteByte(' ')
			snippet.WriteByte(' ')
		}

		switch part.Kind {
		case engine.PartWord:
			label.WriteString(part.Text)
			filter.WriteString(part.Text)
			snippet.WriteString(escapeSnippet(part.Text))

		case engine.PartArgument:
			if arg < len(m.Arguments) {
				bound := m.Arguments[arg]
				text := bound.Text
				if bound.Delimited {
					q := bound.Delimiter
					if q == 0 {
						q = '"'
					}
					text = string(q) + text + string(q)
				}
				label.WriteString(text)
				filter.WriteString(bound.Text)
				snippet.WriteString(escapeSnippet(text))
			} else {
				label.WriteString("{" + part.Text + "}")
				filter.WriteString(part.Text)
				tabStop(part.Text)
			}
			arg++

		case engine.PartPlaceholder:
			value := m.Placeholders[part.Text]
			if part.Text == engine.ComponentPlaceholder && component != "" {
				value = component
			}
			if value != "" {
				label.WriteString(value)
				filter.WriteString(value)
				snippet.WriteString(escapeSnippet(value))
			} else {
				label.WriteString("$" + part.Text + "$")
				filter.WriteString(part.Text)
				tabStop(part.Text)
			}
		}
	}

	c := Candidate{
		Definition: def,
		Label:      label.String(),
		Filter:     filter.String(),
		Insert:     snippet.String(),
		Snippet:    stop > 0,
		Component:  component,
	}
	if !c.Snippet {
		c.Insert = c.Label
	}
	return c
}

func hasPart(def *engine.StepDefinition, kind engine.PartKind, text string) bool {
	for _, p := range def.Parts {
		if p.Kind == kind && p.Text == text {
			return true
		}
	}
	return false
}

var snippetEscaper = strings.NewReplacer(`\`, `\\`, `$`, `\$`, `}`, `\}`)

func escapeSnippet(s string) string {
	return snippetEscaper.Replace(s)
}

// CompletionItems maps candidates to protocol items. replace, when not nil,
// is the range of the step text the items replace.
func CompletionItems(cands []Candidate, replace *Range) []CompletionItem {
	items := make([]CompletionItem, 0, len(cands))
	for i, c := range cands {
		item := CompletionItem{
			Label:            c.Label,
			Kind:             CompletionItemKindText,
			FilterText:       c.Filter,
			SortText:         fmt.Sprintf("%04d", i),
			InsertText:       c.Insert,
			InsertTextFormat: InsertTextFormatPlainText,
		}
		if c.Snippet {
			item.Kind = CompletionItemKindSnippet
			item.InsertTextFormat = InsertTextFormatSnippet
		}
		if c.Definition != nil {
			item.Detail = c.Definition.Type.String() + " " + c.Definition.Declaration
			if c.Definition.Description != "" {
				item.Documentation = &MarkupContent{Kind: MarkupKindMarkdown, Value: c.Definition.Description}
			}
		}
		if replace != nil {
			item.TextEdit = &TextEdit{Range: *replace, NewText: c.Insert}
		}
		items = append(items, item)
	}
	return items
}
