package lsp

import (
	"fmt"

	"github.com/autostep/autostep-lsp/internal/engine"
)

// DiagnosticSource names the server in published diagnostics.
const DiagnosticSource = "autostep"

// CodePrefix starts every diagnostic code.
const CodePrefix = "ASC"

// TranslateMessages converts compiler messages into protocol diagnostics.
// The result is never nil so it serialises as an empty list.
func TranslateMessages(msgs []engine.Message) []Diagnostic {
	out := make([]Diagnostic, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, TranslateMessage(m))
	}
	return out
}

// TranslateMessage converts one compiler message.
func TranslateMessage(m engine.Message) Diagnostic {
	start := Position{Line: zeroBased(m.StartLine), Character: zeroBased(m.StartColumn)}

	end := start
	if m.EndLine > 0 {
		end.Line = zeroBased(m.EndLine)
	}
	if m.EndColumn > 0 {
		// The stored end column is inclusive; ranges end one past it.
		end.Character = m.EndColumn + 1
	}

	return Diagnostic{
		Range:    Range{Start: start, End: end},
		Severity: translateSeverity(m.Severity),
		Code:     DiagnosticCode(m.Code),
		Source:   DiagnosticSource,
		Message:  m.Text,
	}
}

// DiagnosticCode formats a numeric message code, e.g. 20001 as "ASC20001".
func DiagnosticCode(code int) string {
	return fmt.Sprintf("%s%05d", CodePrefix, code)
}

func translateSeverity(s engine.Severity) DiagnosticSeverity {
	switch s {
	case engine.SeverityError:
		return DiagnosticSeverityError
	case engine.SeverityWarning:
		return DiagnosticSeverityWarning
	default:
		return DiagnosticSeverityInformation
	}
}

func zeroBased(n int) int {
	if n <= 0 {
		return 0
	}
	return n - 1
}
