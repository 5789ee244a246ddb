package fileset

import (
	"context"

	"github.com/autostep/autostep-lsp/internal/engine"
	"github.com/autostep/autostep-lsp/internal/project/vfs"
)

// Overlay supplies unsaved editor content for open documents.
type Overlay interface {
	Content(path string) (engine.Content, bool)
}

// OverlaySources returns a SourceFactory whose sources read the overlay
// first and fall back to disk. The lookup happens on every call, so a
// document opened after the merge is still seen.
func OverlaySources(overlay Overlay, v vfs.VFS) SourceFactory {
	return func(absPath string) engine.ContentSource {
		return func(ctx context.Context) (engine.Content, error) {
			if err := ctx.Err(); err != nil {
				return engine.Content{}, err
			}
			if overlay != nil {
				if c, ok := overlay.Content(absPath); ok {
					return c, nil
				}
			}
			return DiskContent(v, absPath)
		}
	}
}

// DiskContent reads absPath through v.
func DiskContent(v vfs.VFS, absPath string) (engine.Content, error) {
	data, err := v.ReadFile(absPath)
	if err != nil {
		return engine.Content{}, err
	}
	c := engine.Content{Text: string(data)}
	if info, err := v.Stat(absPath); err == nil {
		c.Modified = info.ModTime()
	}
	return c, nil
}
