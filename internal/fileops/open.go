package fileops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"github.com/AlexanderSatryo135/myDrive/internal/archive"
	"github.com/AlexanderSatryo135/myDrive/internal/logging"
	"github.com/AlexanderSatryo135/myDrive/internal/vfs"
)

// errIsDirectory is the cause reported when a folder is opened as a file.
var errIsDirectory = errors.New("is a directory")

// File is an open regular file ready to be served. The caller must Close it.
type File struct {
	io.ReadSeekCloser

	Name        string
	Path        string
	Size        int64
	ModTime     time.Time
	ContentType string
}

// Open opens the regular file at rel for viewing or download. Folders fail
// with ErrInvalidName.
func (s *Service) Open(ctx context.Context, tenant, rel string) (*File, error) {
	root, err := s.roots.Root(tenant)
	if err != nil {
		return nil, err
	}
	abs, err := resolve(root, rel)
	if err != nil {
		return nil, err
	}
	return openFile(root, abs)
}

func openFile(root, abs string) (*File, error) {
	rel := vfs.Rel(root, abs)
	f, err := os.Open(abs)
	if err != nil {
		return nil, vfs.Classify("open", rel, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, vfs.Classify("open", rel, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, &vfs.PathError{Op: "open", Path: rel, Kind: vfs.ErrInvalidName, Err: errIsDirectory}
	}

	mtype, err := mimetype.DetectReader(f)
	if err != nil {
		f.Close()
		return nil, vfs.Classify("open", rel, err)
	}
	if _, err := f.Seek(0, io.SeekStart); err != nil {
		f.Close()
		return nil, vfs.Classify("open", rel, err)
	}

	return &File{
		ReadSeekCloser: f,
		Name:           info.Name(),
		Path:           rel,
		Size:           info.Size(),
		ModTime:        info.ModTime(),
		ContentType:    mtype.String(),
	}, nil
}

// Shared is the target of a redeemed share link: either a File or a folder
// that can be streamed as a zip archive.
type Shared struct {
	Name  string
	Path  string // Tenant-relative path after resolution, "" for the root
	IsDir bool
	File  *File

	dir string
}

// WriteZip streams the shared folder as a zip archive to w.
func (sh *Shared) WriteZip(w io.Writer) error {
	if !sh.IsDir {
		return fmt.Errorf("share %s is not a folder", sh.Name)
	}
	return archive.WriteDir(w, sh.dir)
}

// OpenShared resolves a share link's path under its creator's root. The path
// is confined again on every redemption: a target that was deleted, moved
// or now escapes the root is reported as ErrNotFound.
func (s *Service) OpenShared(ctx context.Context, tenant, rel string) (*Shared, error) {
	// The cause is logged, not wrapped, so an escape is indistinguishable
	// from a missing file to the caller.
	notFound := func(err error) error {
		logging.WithContext(ctx).Info("share target unavailable",
			zap.String("tenant", tenant), zap.String("path", rel), zap.Error(err))
		return &vfs.PathError{Op: "share", Path: vfs.CleanRel(rel), Kind: vfs.ErrNotFound}
	}

	root, err := s.roots.Root(tenant)
	if err != nil {
		return nil, notFound(err)
	}
	abs, err := resolve(root, rel)
	if err != nil {
		return nil, notFound(err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, notFound(err)
	}

	if info.IsDir() {
		name := filepath.Base(abs)
		if abs == root {
			name = tenant
		}
		return &Shared{Name: name, Path: vfs.Rel(root, abs), IsDir: true, dir: abs}, nil
	}
	f, err := openFile(root, abs)
	if err != nil {
		return nil, notFound(err)
	}
	return &Shared{Name: f.Name, Path: vfs.Rel(root, abs), File: f}, nil
}
