package axsource

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/devicelab-dev/axrunner/pkg/core"
)

// DefaultSnapshot is the file used in directory mode when no app is named.
const DefaultSnapshot = "default.xml"

// FileResolver serves application roots from snapshot files.
//
// When Path is a file it is served for every app. When it is a directory, app
// "Mail" is read from Mail.xml and the default app from default.xml. Files are
// re-read on every call so each traversal sees a fresh tree.
type FileResolver struct {
	Path string
}

// ApplicationRoot implements core.RootResolver.
func (r *FileResolver) ApplicationRoot(ctx context.Context, app string) (*core.AppRoot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := r.snapshotPath(app)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return nil, core.ErrPermissionDenied.WithCause(err)
		}
		return nil, core.ErrTreeTraversal.WithMessage(fmt.Sprintf("cannot read snapshot for %q", app)).WithCause(err)
	}

	root, err := Parse(data)
	if err != nil {
		return nil, core.ErrTreeTraversal.WithCause(fmt.Errorf("%s: %w", path, err))
	}
	if root.App.Name == "" {
		root.App.Name = app
	}
	return root, nil
}

func (r *FileResolver) snapshotPath(app string) (string, error) {
	info, err := os.Stat(r.Path)
	if err != nil {
		if errors.Is(err, os.ErrPermission) {
			return "", core.ErrPermissionDenied.WithCause(err)
		}
		return "", core.ErrCapabilityUnavailable.WithMessage("snapshot source unavailable").WithCause(err)
	}
	if !info.IsDir() {
		return r.Path, nil
	}
	if app == "" {
		return filepath.Join(r.Path, DefaultSnapshot), nil
	}
	return filepath.Join(r.Path, filepath.Base(app)+".xml"), nil
}

// HasAccessibilityPermission implements core.CapabilityProbe: the snapshot
// source must exist and be readable.
func (r *FileResolver) HasAccessibilityPermission(ctx context.Context) bool {
	f, err := os.Open(r.Path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
