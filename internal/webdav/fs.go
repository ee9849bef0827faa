// Package webdav exposes each tenant's tree over WebDAV.
package webdav

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/net/webdav"

	"github.com/AlexanderSatryo135/myDrive/internal/auth"
	"github.com/AlexanderSatryo135/myDrive/internal/logging"
	"github.com/AlexanderSatryo135/myDrive/internal/metrics"
	"github.com/AlexanderSatryo135/myDrive/internal/vfs"
)

// TenantFS implements webdav.FileSystem on the root of the tenant carried in
// the request context. Every name is confined with vfs.Resolve.
type TenantFS struct {
	roots *vfs.Roots
}

var _ webdav.FileSystem = (*TenantFS)(nil)

// NewTenantFS creates a TenantFS over roots.
func NewTenantFS(roots *vfs.Roots) *TenantFS {
	return &TenantFS{roots: roots}
}

// resolve confines name under the tenant root. With entry set, a symlink in
// the final component is not followed. It also reports whether the result is
// the root itself.
func (t *TenantFS) resolve(ctx context.Context, name string, entry bool) (string, bool, error) {
	tenant := auth.Tenant(ctx)
	if tenant == "" {
		return "", false, os.ErrPermission
	}
	root, err := t.roots.Root(tenant)
	if err != nil {
		return "", false, osError(err)
	}

	var abs string
	if entry {
		abs, err = vfs.ResolveEntry(root, name)
	} else {
		abs, err = vfs.Resolve(root, name)
	}
	if errors.Is(err, vfs.ErrPathEscape) {
		metrics.RecordPathEscape()
		logging.WithContext(ctx).Warn("webdav path escape",
			zap.String("tenant", tenant), zap.String("path", name))
	}
	if err != nil {
		return "", false, osError(err)
	}
	return abs, abs == root, nil
}

// Mkdir creates a directory.
func (t *TenantFS) Mkdir(ctx context.Context, name string, perm os.FileMode) error {
	abs, isRoot, err := t.resolve(ctx, name, false)
	if err != nil {
		return err
	}
	if isRoot {
		return os.ErrExist
	}
	if hidden(name) {
		return os.ErrPermission
	}
	return os.Mkdir(abs, perm)
}

// OpenFile opens or creates a file.
func (t *TenantFS) OpenFile(ctx context.Context, name string, flag int, perm os.FileMode) (webdav.File, error) {
	abs, _, err := t.resolve(ctx, name, false)
	if err != nil {
		return nil, err
	}
	if flag&os.O_CREATE != 0 && hidden(name) {
		return nil, os.ErrPermission
	}
	f, err := os.OpenFile(abs, flag, perm)
	if err != nil {
		return nil, err
	}
	return &file{File: f}, nil
}

// RemoveAll removes a file or directory tree. The tenant root is refused.
func (t *TenantFS) RemoveAll(ctx context.Context, name string) error {
	abs, isRoot, err := t.resolve(ctx, name, true)
	if err != nil {
		return err
	}
	if isRoot {
		return os.ErrPermission
	}
	return os.RemoveAll(abs)
}

// Rename moves oldName to newName. The tenant root can be neither.
func (t *TenantFS) Rename(ctx context.Context, oldName, newName string) error {
	from, fromRoot, err := t.resolve(ctx, oldName, true)
	if err != nil {
		return err
	}
	to, toRoot, err := t.resolve(ctx, newName, true)
	if err != nil {
		return err
	}
	if fromRoot || toRoot || hidden(newName) {
		return os.ErrPermission
	}
	return os.Rename(from, to)
}

// Stat returns file info.
func (t *TenantFS) Stat(ctx context.Context, name string) (os.FileInfo, error) {
	abs, _, err := t.resolve(ctx, name, false)
	if err != nil {
		return nil, err
	}
	return os.Stat(abs)
}

// file hides in-progress upload temp files from directory listings.
type file struct {
	*os.File
}

func (f *file) Readdir(count int) ([]fs.FileInfo, error) {
	infos, err := f.File.Readdir(count)
	kept := infos[:0]
	for _, info := range infos {
		if !strings.HasPrefix(info.Name(), vfs.TempPrefix) {
			kept = append(kept, info)
		}
	}
	return kept, err
}

// hidden reports whether the last component of name collides with the
// upload temp file prefix.
func hidden(name string) bool {
	clean := vfs.CleanRel(name)
	if i := strings.LastIndexByte(clean, '/'); i >= 0 {
		clean = clean[i+1:]
	}
	return strings.HasPrefix(clean, vfs.TempPrefix)
}

// osError maps the vfs error kinds onto the os errors the webdav handler
// turns into status codes.
func osError(err error) error {
	switch {
	case errors.Is(err, vfs.ErrNotFound):
		return os.ErrNotExist
	case errors.Is(err, vfs.ErrPathEscape),
		errors.Is(err, vfs.ErrPermission),
		errors.Is(err, vfs.ErrRootProtected),
		errors.Is(err, vfs.ErrInvalidName):
		return os.ErrPermission
	case errors.Is(err, vfs.ErrAlreadyExists):
		return os.ErrExist
	}
	return err
}
