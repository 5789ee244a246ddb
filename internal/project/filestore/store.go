package filestore

import (
	"sort"
	"sync"
	"time"

	"github.com/autostep/autostep-lsp/internal/engine"
	"github.com/autostep/autostep-lsp/internal/project/vfs"
)

// FileStore manages open documents. It is safe for concurrent use.
type FileStore struct {
	mu        sync.RWMutex
	documents map[string]*Document
	vfs       vfs.VFS
	now       func() time.Time

	onOpen  []func(doc *Document)
	onClose []func(path string)
}

// Option configures a FileStore.
type Option func(*FileStore)

// WithClock sets the time source used for modification timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *FileStore) {
		s.now = now
	}
}

// NewFileStore creates a FileStore that normalizes paths through v.
func NewFileStore(v vfs.VFS, opts ...Option) *FileStore {
	s := &FileStore{
		documents: make(map[string]*Document),
		vfs:       v,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *FileStore) abs(op, path string) (string, error) {
	absPath, err := s.vfs.Abs(path)
	if err != nil {
		return "", &PathError{Op: op, Path: path, Err: ErrInvalidPath}
	}
	return absPath, nil
}

// Open creates or replaces the overlay entry for path.
func (s *FileStore) Open(path, content string) (*Document, error) {
	absPath, err := s.abs("open", path)
	if err != nil {
		return nil, err
	}

	doc := newDocument(absPath, content, s.now())

	s.mu.Lock()
	if previous, ok := s.documents[absPath]; ok {
		previous.markClosed()
	}
	s.documents[absPath] = doc
	handlers := make([]func(doc *Document), len(s.onOpen))
	copy(handlers, s.onOpen)
	s.mu.Unlock()

	for _, handler := range handlers {
		handler(doc)
	}
	return doc, nil
}

// Edit replaces the content of an open document. Editing a path that is not
// open returns ErrDocumentNotOpen and leaves the overlay unchanged.
func (s *FileStore) Edit(path, content string) (*Document, error) {
	absPath, err := s.abs("edit", path)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	doc, ok := s.documents[absPath]
	s.mu.RUnlock()
	if !ok {
		return nil, &PathError{Op: "edit", Path: path, Err: ErrDocumentNotOpen}
	}

	if err := doc.setContent(content, s.now()); err != nil {
		return nil, &PathError{Op: "edit", Path: path, Err: ErrDocumentNotOpen}
	}
	return doc, nil
}

// Close removes the overlay entry for path.
func (s *FileStore) Close(path string) error {
	absPath, err := s.abs("close", path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	doc, ok := s.documents[absPath]
	if !ok {
		s.mu.Unlock()
		return &PathError{Op: "close", Path: path, Err: ErrDocumentNotOpen}
	}
	doc.markClosed()
	delete(s.documents, absPath)
	handlers := make([]func(path string), len(s.onClose))
	copy(handlers, s.onClose)
	s.mu.Unlock()

	for _, handler := range handlers {
		handler(absPath)
	}
	return nil
}

// Get returns a document by path if it is open.
func (s *FileStore) Get(path string) (*Document, bool) {
	absPath, err := s.vfs.Abs(path)
	if err != nil {
		return nil, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.documents[absPath]
	return doc, ok
}

// IsOpen returns true if the file is open.
func (s *FileStore) IsOpen(path string) bool {
	_, ok := s.Get(path)
	return ok
}

// Content returns the overlay content for path, if the path is open.
func (s *FileStore) Content(path string) (engine.Content, bool) {
	doc, ok := s.Get(path)
	if !ok {
		return engine.Content{}, false
	}
	return doc.Snapshot(), true
}

// OpenDocuments returns all open documents ordered by path.
func (s *FileStore) OpenDocuments() []*Document {
	s.mu.RLock()
	docs := make([]*Document, 0, len(s.documents))
	for _, doc := range s.documents {
		docs = append(docs, doc)
	}
	s.mu.RUnlock()

	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	return docs
}

// Count returns the number of open documents.
func (s *FileStore) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents)
}

// OnOpen registers a handler called after a document is opened.
func (s *FileStore) OnOpen(handler func(doc *Document)) {
	s.mu.Lock()
	s.onOpen = append(s.onOpen, handler)
	s.mu.Unlock()
}

// OnClose registers a handler called after a document is closed.
func (s *FileStore) OnClose(handler func(path string)) {
	s.mu.Lock()
	s.onClose = append(s.onClose, handler)
	s.mu.Unlock()
}
