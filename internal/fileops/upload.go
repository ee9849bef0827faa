package fileops

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/AlexanderSatryo135/myDrive/internal/metrics"
	"github.com/AlexanderSatryo135/myDrive/internal/vfs"
)

// NextFile yields the next file of a multi-file upload. It returns io.EOF
// when there are no more files.
type NextFile func() (name string, body io.Reader, err error)

// Upload stores body as name inside the tenant-relative directory relDir and
// returns the stored file's tenant-relative path. name may contain "/" to
// place the file in subfolders, which are created as needed. An existing
// file of the same name is replaced.
func (s *Service) Upload(ctx context.Context, tenant, relDir, name string, body io.Reader) (string, error) {
	root, err := s.roots.Root(tenant)
	if err != nil {
		return "", err
	}
	c := &change{tenant: tenant, op: OpUpload}
	defer s.commit(ctx, c)

	r := s.upload(root, relDir, name, body)
	logItem(ctx, OpUpload, tenant, r)
	if !r.OK {
		return "", r.err
	}
	c.touch(r.Path)
	return r.Path, nil
}

// UploadAll stores every file yielded by next and emits one notification
// for the whole request. A failing file does not stop the others; an error
// from next itself ends the batch and is returned alongside the results so far.
func (s *Service) UploadAll(ctx context.Context, tenant, relDir string, next NextFile) (BatchResult, error) {
	var res BatchResult
	root, err := s.roots.Root(tenant)
	if err != nil {
		return res, err
	}
	c := &change{tenant: tenant, op: OpUpload}
	defer s.commit(ctx, c)

	for {
		name, body, err := next()
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			return res, err
		}
		r := s.upload(root, relDir, name, body)
		logItem(ctx, OpUpload, tenant, r)
		res.add(r)
		if r.OK {
			c.touch(r.Path)
		}
	}
}

func (s *Service) upload(root, relDir, name string, body io.Reader) ItemResult {
	display := path.Join(vfs.CleanRel(relDir), name)
	if err := validUploadName(name); err != nil {
		return failed(display, err)
	}

	target, err := resolve(root, vfs.Join(relDir, strings.ReplaceAll(name, `\`, "/")))
	if err != nil {
		return failed(display, err)
	}
	rel := vfs.Rel(root, target)
	if target == root {
		return failed(display, &vfs.PathError{Op: "upload", Path: display, Kind: vfs.ErrRootProtected})
	}

	n, err := writeAtomic(target, body)
	if err != nil {
		return failed(rel, vfs.Classify("upload", rel, err))
	}
	metrics.RecordUpload(n)
	return succeeded(rel, "")
}

// validUploadName rejects empty names and names with unusable components.
func validUploadName(name string) error {
	if strings.TrimSpace(name) == "" {
		return &vfs.PathError{Op: "upload", Path: name, Kind: vfs.ErrInvalidName}
	}
	for _, part := range strings.Split(strings.ReplaceAll(name, `\`, "/"), "/") {
		if err := vfs.ValidName(part); err != nil {
			return &vfs.PathError{Op: "upload", Path: name, Kind: vfs.ErrInvalidName}
		}
		if strings.HasPrefix(part, vfs.TempPrefix) {
			return &vfs.PathError{Op: "upload", Path: name, Kind: vfs.ErrInvalidName}
		}
	}
	return nil
}

// writeAtomic writes body to a temp file next to target and renames it into
// place, so readers never see a partial file.
func writeAtomic(target string, body io.Reader) (int64, error) {
	dir := filepath.Dir(target)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create dirs: %w", err)
	}

	tmp, err := os.CreateTemp(dir, vfs.TempPrefix+"*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create temp: %w", err)
	}
	tmpName := tmp.Name()

	n, err := io.Copy(tmp, body)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return n, fmt.Errorf("write: %w", err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return n, fmt.Errorf("chmod temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return n, fmt.Errorf("close temp: %w", err)
	}

	if err := os.Rename(tmpName, target); err != nil {
		os.Remove(tmpName)
		return n, fmt.Errorf("rename temp: %w", err)
	}
	return n, nil
}
