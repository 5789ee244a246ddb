// Package filestore holds the open document overlay: the editor's unsaved
// view of files, which takes precedence over disk whenever source text is
// needed.
package filestore

import (
	"strings"
	"sync"
	"time"

	"github.com/autostep/autostep-lsp/internal/engine"
)

// Document is an open file. Its content replaces the file on disk for as
// long as it stays open.
type Document struct {
	mu sync.RWMutex

	// Path is the absolute path of the file.
	Path string

	// Version is incremented on each edit.
	Version int64

	content string

	// OpenedAt is when the document was opened.
	OpenedAt time.Time

	// ModifiedAt is when the content last changed.
	ModifiedAt time.Time

	closed bool
}

func newDocument(path, content string, now time.Time) *Document {
	return &Document{
		Path:       path,
		Version:    1,
		content:    content,
		OpenedAt:   now,
		ModifiedAt: now,
	}
}

// Text returns the current content.
func (d *Document) Text() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.content
}

// Snapshot returns the content together with its modification time.
func (d *Document) Snapshot() engine.Content {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return engine.Content{Text: d.content, Modified: d.ModifiedAt}
}

// GetVersion returns the edit version.
func (d *Document) GetVersion() int64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.Version
}

// IsClosed reports whether the document was closed.
func (d *Document) IsClosed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}

// Line returns the 0-based line of the content, without its line ending.
func (d *Document) Line(n int) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if n < 0 {
		return "", false
	}
	text := d.content
	for i := 0; i < n; i++ {
		idx := strings.IndexByte(text, '\n')
		if idx < 0 {
			return "", false
		}
		text = text[idx+1:]
	}
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		text = text[:idx]
	}
	return strings.TrimSuffix(text, "\r"), true
}

func (d *Document) setContent(content string, now time.Time) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrDocumentClosed
	}
	d.content = content
	d.Version++
	d.ModifiedAt = now
	return nil
}

func (d *Document) markClosed() {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
}
