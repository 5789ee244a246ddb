package lsp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autostep/autostep-lsp/internal/engine"
)

func TestTranslateMessage_NoEndColumnIsZeroWidth(t *testing.T) {
	d := TranslateMessage(engine.Message{
		Severity:    engine.SeverityWarning,
		Code:        20001,
		Text:        "no step definition matches",
		StartLine:   3,
		StartColumn: 5,
	})

	assert.Equal(t, Range{Start: Position{Line: 2, Character: 4}, End: Position{Line: 2, Character: 4}}, d.Range)
	assert.Equal(t, DiagnosticSeverityWarning, d.Severity)
	assert.Equal(t, "ASC20001", d.Code)
	assert.Equal(t, DiagnosticSource, d.Source)
	assert.Equal(t, "no step definition matches", d.Message)
}

func TestTranslateMessage_EndColumnIsOnePast(t *testing.T) {
	d := TranslateMessage(engine.Message{
		Severity:    engine.SeverityError,
		Code:        7,
		StartLine:   1,
		StartColumn: 5,
		EndLine:     2,
		EndColumn:   9,
	})

	assert.Equal(t, Position{Line: 0, Character: 4}, d.Range.Start)
	assert.Equal(t, Position{Line: 1, Character: 10}, d.Range.End)
	assert.Equal(t, DiagnosticSeverityError, d.Severity)
	assert.Equal(t, "ASC00007", d.Code)
}

func TestTranslateMessages(t *testing.T) {
	assert.NotNil(t, TranslateMessages(nil))

	diags := TranslateMessages([]engine.Message{
		{Severity: engine.SeverityInfo, Code: 1, StartLine: 1, StartColumn: 1},
		{Severity: engine.SeverityError, Code: 10001, StartLine: 4, StartColumn: 2, EndColumn: 3},
	})
	require.Len(t, diags, 2)
	assert.Equal(t, DiagnosticSeverityInformation, diags[0].Severity)
	assert.Equal(t, Position{Line: 3, Character: 4}, diags[1].Range.End)

	data, err := json.Marshal(TranslateMessages(nil))
	require.NoError(t, err)
	assert.Equal(t, "[]", string(data))
}
