package vfs

import (
	"io/fs"
	"path"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemFS implements VFS in memory. Paths are slash-separated and rooted at /.
//
// MemFS is safe for concurrent use.
type MemFS struct {
	mu    sync.RWMutex
	files map[string]*memFile
	now   func() time.Time
}

type memFile struct {
	content []byte
	modTime time.Time
}

// NewMemFS creates an empty in-memory file system.
func NewMemFS() *MemFS {
	return &MemFS{
		files: make(map[string]*memFile),
		now:   time.Now,
	}
}

var _ VFS = (*MemFS)(nil)

// AddFile creates or replaces a file.
func (m *MemFS) AddFile(filePath string, content string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.files[m.cleanPath(filePath)] = &memFile{content: []byte(content), modTime: m.now()}
}

// RemoveFile deletes a file. It reports whether the file existed.
func (m *MemFS) RemoveFile(filePath string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := m.cleanPath(filePath)
	_, ok := m.files[p]
	delete(m.files, p)
	return ok
}

// ReadFile reads the entire file content.
func (m *MemFS) ReadFile(filePath string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p := m.cleanPath(filePath)
	f, ok := m.files[p]
	if !ok {
		return nil, &fs.PathError{Op: "read", Path: p, Err: fs.ErrNotExist}
	}
	out := make([]byte, len(f.content))
	copy(out, f.content)
	return out, nil
}

// Stat returns file information. Directories exist implicitly when a file
// lives below them.
func (m *MemFS) Stat(filePath string) (FileInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p := m.cleanPath(filePath)
	if f, ok := m.files[p]; ok {
		return NewFileInfo(p, path.Base(p), int64(len(f.content)), f.modTime, false), nil
	}

	prefix := dirPrefix(p)
	for name := range m.files {
		if strings.HasPrefix(name, prefix) {
			return NewFileInfo(p, path.Base(p), 0, time.Time{}, true), nil
		}
	}
	return FileInfo{}, &fs.PathError{Op: "stat", Path: p, Err: fs.ErrNotExist}
}

// WalkFiles calls fn for each file below root in lexical order.
func (m *MemFS) WalkFiles(root string, fn WalkFunc) error {
	prefix := dirPrefix(m.cleanPath(root))

	m.mu.RLock()
	var infos []FileInfo
	for name, f := range m.files {
		if strings.HasPrefix(name, prefix) {
			infos = append(infos, NewFileInfo(name, path.Base(name), int64(len(f.content)), f.modTime, false))
		}
	}
	m.mu.RUnlock()

	sort.Slice(infos, func(i, j int) bool { return infos[i].Path() < infos[j].Path() })

	for _, info := range infos {
		if err := fn(info.Path(), info); err != nil {
			if err == SkipAll {
				return nil
			}
			return err
		}
	}
	return nil
}

// Abs returns the cleaned rooted path.
func (m *MemFS) Abs(filePath string) (string, error) {
	return m.cleanPath(filePath), nil
}

// Rel returns target relative to base.
func (m *MemFS) Rel(base, target string) (string, error) {
	base = m.cleanPath(base)
	target = m.cleanPath(target)
	if base == target {
		return ".", nil
	}
	prefix := dirPrefix(base)
	if !strings.HasPrefix(target, prefix) {
		return "", ErrNotUnderBase
	}
	return strings.TrimPrefix(target, prefix), nil
}

// Join joins path elements.
func (m *MemFS) Join(elem ...string) string {
	return path.Join(elem...)
}

func (m *MemFS) cleanPath(p string) string {
	p = path.Clean(p)
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func dirPrefix(dir string) string {
	if dir == "/" {
		return dir
	}
	return dir + "/"
}
