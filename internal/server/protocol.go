package server

import (
	"github.com/autostep/autostep-lsp/internal/engine"
)

// Methods beyond the base protocol.
const (
	MethodWaitForBuild     = "autostep/waitForBuild"
	MethodStepDefinitions  = "autostep/stepDefinitions"
	MethodMethodDefinition = "autostep/methodDefinition"
	MethodBuildComplete    = "autostep/buildComplete"
)

// StepDefinitionsParams asks for the definitions a step reference may match.
type StepDefinitionsParams struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// StepDefinitionInfo describes one matching definition.
type StepDefinitionInfo struct {
	Type        string            `json:"type"`
	Declaration string            `json:"declaration"`
	Description string            `json:"description,omitempty"`
	Source      string            `json:"source,omitempty"`
	Line        int               `json:"line,omitempty"`
	Exact       bool              `json:"exact"`
	Arguments   map[string]string `json:"arguments,omitempty"`
}

// MethodDefinitionParams looks up an interaction method.
type MethodDefinitionParams struct {
	Call  string `json:"call"`
	Scope string `json:"scope"`
}

// MethodDefinitionInfo describes an interaction method.
type MethodDefinitionInfo struct {
	Name        string   `json:"name"`
	Signature   string   `json:"signature"`
	Params      []string `json:"params"`
	Scope       string   `json:"scope,omitempty"`
	Description string   `json:"description,omitempty"`
	Source      string   `json:"source,omitempty"`
	Line        int      `json:"line,omitempty"`
}

func stepDefinitionInfo(m engine.StepMatch) StepDefinitionInfo {
	info := StepDefinitionInfo{
		Type:        m.Definition.Type.String(),
		Declaration: m.Definition.Declaration,
		Description: m.Definition.Description,
		Source:      m.Definition.Source,
		Line:        m.Definition.Line,
		Exact:       m.Exact,
	}
	if len(m.Arguments) > 0 {
		info.Arguments = make(map[string]string, len(m.Arguments))
		for _, a := range m.Arguments {
			info.Arguments[a.Name] = a.Text
		}
	}
	return info
}

func methodDefinitionInfo(m *engine.MethodDefinition) *MethodDefinitionInfo {
	params := m.Params
	if params == nil {
		params = []string{}
	}
	return &MethodDefinitionInfo{
		Name:        m.Name,
		Signature:   m.Signature(),
		Params:      params,
		Scope:       m.Scope,
		Description: m.Description,
		Source:      m.Source,
		Line:        m.Line,
	}
}
