package workspace

import "github.com/autostep/autostep-lsp/internal/lsp"

// Notifier receives the store's outgoing events. Implementations must not
// block for long; calls arrive on background task goroutines.
type Notifier interface {
	// PublishDiagnostics replaces the diagnostics shown for an open document.
	PublishDiagnostics(path string, version int64, diagnostics []lsp.Diagnostic)

	// ShowError surfaces a failure to the user.
	ShowError(message string)

	// BuildCompleted fires once per completed build.
	BuildCompleted()
}

type nopNotifier struct{}

func (nopNotifier) PublishDiagnostics(string, int64, []lsp.Diagnostic) {}
func (nopNotifier) ShowError(string)                                   {}
func (nopNotifier) BuildCompleted()                                    {}
