// Package vfs provides the file system abstraction used to read project files.
//
// The project only reads from disk: source text for the compiler, the
// configuration file, and the directory tree that glob file sets are
// expanded against. OSFS serves a real workspace; MemFS backs tests.
package vfs

import (
	"errors"
	"io/fs"
	"time"
)

// VFS is the read side of a file system.
type VFS interface {
	// ReadFile reads the entire file content.
	ReadFile(path string) ([]byte, error)

	// Stat returns file information.
	Stat(path string) (FileInfo, error)

	// WalkFiles calls fn for every regular file below root, in lexical order.
	// Returning SkipAll from fn stops the walk without error.
	WalkFiles(root string, fn WalkFunc) error

	// Abs returns the absolute, cleaned form of path.
	Abs(path string) (string, error)

	// Rel returns target relative to base, using forward slashes.
	Rel(base, target string) (string, error)

	// Join joins path elements.
	Join(elem ...string) string
}

// WalkFunc is called by WalkFiles. The path is absolute.
type WalkFunc func(path string, info FileInfo) error

// SkipAll stops a walk early.
var SkipAll = fs.SkipAll

// ErrNotUnderBase is returned by Rel when target is outside base.
var ErrNotUnderBase = errors.New("target is not under base")

// FileInfo describes a file or directory.
type FileInfo struct {
	path    string
	name    string
	size    int64
	modTime time.Time
	isDir   bool
}

// NewFileInfo creates a FileInfo.
func NewFileInfo(path, name string, size int64, modTime time.Time, isDir bool) FileInfo {
	return FileInfo{
		path:    path,
		name:    name,
		size:    size,
		modTime: modTime,
		isDir:   isDir,
	}
}

// Path returns the full path.
func (fi FileInfo) Path() string { return fi.path }

// Name returns the base name.
func (fi FileInfo) Name() string { return fi.name }

// Size returns the file size in bytes.
func (fi FileInfo) Size() int64 { return fi.size }

// ModTime returns the modification time.
func (fi FileInfo) ModTime() time.Time { return fi.modTime }

// IsDir returns true if this is a directory.
func (fi FileInfo) IsDir() bool { return fi.isDir }

// Exists reports whether path exists on v.
func Exists(v VFS, path string) bool {
	_, err := v.Stat(path)
	return err == nil
}

// IsNotExist reports whether err means a missing file.
func IsNotExist(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
