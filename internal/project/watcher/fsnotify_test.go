package watcher

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFSNotifyWatcher_RecursiveSkipsIgnored(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "lib"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, ".git", "objects"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "node_modules", "dep"), 0755))

	w, err := NewFSNotifyWatcher()
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.WatchRecursive(root))

	watched := w.WatchedPaths()
	assert.Contains(t, watched, root)
	assert.Contains(t, watched, filepath.Join(root, "lib"))
	assert.NotContains(t, watched, filepath.Join(root, ".git"))
	assert.NotContains(t, watched, filepath.Join(root, "node_modules"))
}

func TestFSNotifyWatcher_DeliversWrites(t *testing.T) {
	root := t.TempDir()

	w, err := NewFSNotifyWatcher()
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.WatchRecursive(root))

	target := filepath.Join(root, "init.lua")
	require.NoError(t, os.WriteFile(target, []byte("return {}"), 0644))

	require.Eventually(t, func() bool {
		for {
			select {
			case ev := <-w.Events():
				if ev.Path == target {
					return true
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFSNotifyWatcher_IgnoredFilesProduceNoEvents(t *testing.T) {
	root := t.TempDir()

	w, err := NewFSNotifyWatcher(WithIgnorePatterns([]string{"*.tmp"}))
	require.NoError(t, err)
	defer w.Close()
	require.NoError(t, w.WatchRecursive(root))

	require.NoError(t, os.WriteFile(filepath.Join(root, "scratch.tmp"), []byte("x"), 0644))
	marker := filepath.Join(root, "marker.lua")
	require.NoError(t, os.WriteFile(marker, []byte("x"), 0644))

	var seen []string
	require.Eventually(t, func() bool {
		for {
			select {
			case ev := <-w.Events():
				seen = append(seen, ev.Path)
				if ev.Path == marker {
					return true
				}
			default:
				return false
			}
		}
	}, 2*time.Second, 10*time.Millisecond)

	assert.NotContains(t, seen, filepath.Join(root, "scratch.tmp"))
}

func TestFSNotifyWatcher_Errors(t *testing.T) {
	w, err := NewFSNotifyWatcher()
	require.NoError(t, err)

	assert.ErrorIs(t, w.Watch(filepath.Join(t.TempDir(), "missing")), ErrPathNotExist)
	assert.ErrorIs(t, w.Unwatch("/not/watched"), ErrNotWatching)

	require.NoError(t, w.Close())
	require.NoError(t, w.Close())
	assert.ErrorIs(t, w.Watch(t.TempDir()), ErrWatcherClosed)
}

func TestFSNotifyWatcher_MaxWatches(t *testing.T) {
	w, err := NewFSNotifyWatcher(WithMaxWatches(1))
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, w.Watch(t.TempDir()))
	assert.ErrorIs(t, w.Watch(t.TempDir()), ErrMaxWatches)
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "write", OpWrite.String())
	assert.Equal(t, "create|rename", (OpCreate | OpRename).String())
	assert.Equal(t, "none", Op(0).String())
}
