package filestore

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autostep/autostep-lsp/internal/project/vfs"
)

func newTestStore(t *testing.T) (*FileStore, *time.Time) {
	t.Helper()
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := NewFileStore(vfs.NewMemFS(), WithClock(func() time.Time { return now }))
	return s, &now
}

func TestFileStore_OpenEditClose(t *testing.T) {
	s, now := newTestStore(t)

	doc, err := s.Open("/ws/a.as", "Given x")
	require.NoError(t, err)
	assert.Equal(t, int64(1), doc.GetVersion())
	assert.True(t, s.IsOpen("/ws/a.as"))

	*now = now.Add(time.Minute)
	_, err = s.Edit("/ws/a.as", "Given y")
	require.NoError(t, err)

	content, ok := s.Content("/ws/a.as")
	require.True(t, ok)
	assert.Equal(t, "Given y", content.Text)
	assert.Equal(t, *now, content.Modified)
	assert.Equal(t, int64(2), doc.GetVersion())

	require.NoError(t, s.Close("/ws/a.as"))
	assert.False(t, s.IsOpen("/ws/a.as"))
	assert.True(t, doc.IsClosed())

	_, ok = s.Content("/ws/a.as")
	assert.False(t, ok)
}

func TestFileStore_EditUnopenedDocument(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Edit("/ws/never.as", "text")
	require.Error(t, err)
	assert.True(t, IsNotOpen(err))

	var pathErr *PathError
	require.True(t, errors.As(err, &pathErr))
	assert.Equal(t, "edit", pathErr.Op)
	assert.Equal(t, 0, s.Count())
}

func TestFileStore_CloseUnopenedDocument(t *testing.T) {
	s, _ := newTestStore(t)
	assert.ErrorIs(t, s.Close("/ws/never.as"), ErrDocumentNotOpen)
}

func TestFileStore_ReopenReplacesEntry(t *testing.T) {
	s, _ := newTestStore(t)

	first, err := s.Open("/ws/a.as", "one")
	require.NoError(t, err)
	second, err := s.Open("/ws/a.as", "two")
	require.NoError(t, err)

	assert.True(t, first.IsClosed())
	assert.Equal(t, 1, s.Count())

	got, ok := s.Get("/ws/a.as")
	require.True(t, ok)
	assert.Same(t, second, got)
	assert.Equal(t, "two", got.Text())
}

func TestFileStore_OpenDocumentsSorted(t *testing.T) {
	s, _ := newTestStore(t)
	for _, p := range []string{"/ws/c.as", "/ws/a.as", "/ws/b.asi"} {
		_, err := s.Open(p, "")
		require.NoError(t, err)
	}

	var paths []string
	for _, d := range s.OpenDocuments() {
		paths = append(paths, d.Path)
	}
	assert.Equal(t, []string{"/ws/a.as", "/ws/b.asi", "/ws/c.as"}, paths)
}

func TestFileStore_Handlers(t *testing.T) {
	s, _ := newTestStore(t)

	var opened, closed []string
	s.OnOpen(func(doc *Document) { opened = append(opened, doc.Path) })
	s.OnClose(func(path string) { closed = append(closed, path) })

	_, err := s.Open("/ws/a.as", "")
	require.NoError(t, err)
	require.NoError(t, s.Close("/ws/a.as"))

	assert.Equal(t, []string{"/ws/a.as"}, opened)
	assert.Equal(t, []string{"/ws/a.as"}, closed)
}

func TestDocument_Line(t *testing.T) {
	s, _ := newTestStore(t)
	doc, err := s.Open("/ws/a.as", "Feature: x\r\n  Given y\nlast")
	require.NoError(t, err)

	line, ok := doc.Line(1)
	require.True(t, ok)
	assert.Equal(t, "  Given y", line)

	line, ok = doc.Line(2)
	require.True(t, ok)
	assert.Equal(t, "last", line)

	_, ok = doc.Line(3)
	assert.False(t, ok)
}
