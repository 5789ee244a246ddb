package engine

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// refToken is a whitespace-separated word or a quoted span of reference text.
type refToken struct {
	Text      string
	Delimited bool
	Delimiter rune
	// Column is the 1-based column of the token's first character.
	Column int
	// EndColumn is the 1-based column of the token's last character.
	EndColumn int
}

// tokenizeReference splits reference text into tokens. A quote that is never
// closed runs to the end of the text. complete is false when the text does
// not end in whitespace, meaning the last token may still be being typed.
func tokenizeReference(text string) (tokens []refToken, complete bool) {
	runes := []rune(text)
	i := 0
	for i < len(runes) {
		if unicode.IsSpace(runes[i]) {
			i++
			continue
		}

		start := i
		if q := runes[i]; q == '"' || q == '\'' {
			i++
			for i < len(runes) && runes[i] != q {
				i++
			}
			end := i
			if i < len(runes) {
				i++
			}
			tokens = append(tokens, refToken{
				Text:      string(runes[start+1 : end]),
				Delimited: true,
				Delimiter: q,
				Column:    start + 1,
				EndColumn: i,
			})
			continue
		}

		for i < len(runes) && !unicode.IsSpace(runes[i]) {
			i++
		}
		tokens = append(tokens, refToken{
			Text:      string(runes[start:i]),
			Column:    start + 1,
			EndColumn: i,
		})
	}

	complete = len(runes) == 0 || unicode.IsSpace(runes[len(runes)-1])
	return tokens, complete
}

// matchDefinition matches tokens against def. A reference that runs out
// before the declaration does is a partial match. When complete is false the
// last token may be a prefix of the next word or placeholder value.
func matchDefinition(def *StepDefinition, tokens []refToken, complete bool) (StepMatch, bool) {
	m := StepMatch{Definition: def}
	ti := 0

	for _, part := range def.Parts {
		if ti == len(tokens) {
			return m, true
		}
		tok := tokens[ti]
		typing := ti == len(tokens)-1 && !complete

		switch part.Kind {
		case PartWord:
			if !tok.Delimited && strings.EqualFold(tok.Text, part.Text) {
				ti++
				continue
			}
			if typing && !tok.Delimited && hasPrefixFold(part.Text, tok.Text) {
				return m, true
			}
			return StepMatch{}, false

		case PartArgument:
			m.Arguments = append(m.Arguments, MatchedArgument{
				Name:      part.Text,
				Text:      tok.Text,
				Delimited: tok.Delimited,
				Delimiter: tok.Delimiter,
			})
			ti++

		case PartPlaceholder:
			values := def.PlaceholderValues[part.Text]
			if v, ok := findFold(values, tok.Text); ok && !tok.Delimited {
				if m.Placeholders == nil {
					m.Placeholders = make(map[string]string)
				}
				m.Placeholders[part.Text] = v
				ti++
				continue
			}
			if typing && !tok.Delimited && anyPrefixFold(values, tok.Text) {
				return m, true
			}
			return StepMatch{}, false
		}
	}

	if ti < len(tokens) {
		return StepMatch{}, false
	}
	m.Exact = true
	return m, true
}

// hasPrefixFold reports whether s starts with prefix under simple case
// folding. Runes are compared one at a time since folded forms may differ in
// encoded length.
func hasPrefixFold(s, prefix string) bool {
	for prefix != "" {
		if s == "" {
			return false
		}
		pr, pn := utf8.DecodeRuneInString(prefix)
		sr, sn := utf8.DecodeRuneInString(s)
		if !strings.EqualFold(string(sr), string(pr)) {
			return false
		}
		prefix, s = prefix[pn:], s[sn:]
	}
	return true
}

func findFold(values []string, s string) (string, bool) {
	for _, v := range values {
		if strings.EqualFold(v, s) {
			return v, true
		}
	}
	return "", false
}

func anyPrefixFold(values []string, prefix string) bool {
	for _, v := range values {
		if hasPrefixFold(v, prefix) {
			return true
		}
	}
	return false
}

// matchAll matches ref against defs, exact matches first.
func matchAll(defs []*StepDefinition, ref StepReference) []StepMatch {
	tokens, complete := tokenizeReference(ref.Text)

	var matches []StepMatch
	for _, def := range defs {
		if def.Type != ref.Type {
			continue
		}
		if m, ok := matchDefinition(def, tokens, complete); ok {
			matches = append(matches, m)
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Exact != matches[j].Exact {
			return matches[i].Exact
		}
		return matches[i].Definition.Declaration < matches[j].Definition.Declaration
	})
	return matches
}

// ParseStepLine parses a test-file line such as "  Given I log in" into its
// keyword and step text. keywordColumn and textColumn are 1-based.
func ParseStepLine(line string) (keyword, text string, keywordColumn, textColumn int, ok bool) {
	trimmed := strings.TrimLeftFunc(line, unicode.IsSpace)
	indent := len([]rune(line)) - len([]rune(trimmed))

	word := trimmed
	if idx := strings.IndexFunc(trimmed, unicode.IsSpace); idx >= 0 {
		word = trimmed[:idx]
	}
	if !isStepKeyword(word) {
		return "", "", 0, 0, false
	}

	rest := strings.TrimPrefix(trimmed, word)
	body := strings.TrimLeftFunc(rest, unicode.IsSpace)
	gap := len([]rune(rest)) - len([]rune(body))

	keywordColumn = indent + 1
	textColumn = keywordColumn + len([]rune(word)) + gap
	return word, body, keywordColumn, textColumn, true
}

func isStepKeyword(word string) bool {
	switch strings.ToLower(word) {
	case "given", "when", "then", "and", "but":
		return true
	default:
		return false
	}
}
