package fileops

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"

	cp "github.com/otiai10/copy"

	"github.com/AlexanderSatryo135/myDrive/internal/vfs"
)

// rename is os.Rename; tests swap it to simulate cross-device moves.
var rename = os.Rename

// CreateFolder creates the folder rawName, after sanitizing, inside relDir.
// Missing parents are created. If an entry with that name already exists
// the call succeeds without changing anything.
func (s *Service) CreateFolder(ctx context.Context, tenant, relDir, rawName string) ItemResult {
	c := &change{tenant: tenant, op: OpCreateFolder}
	defer s.commit(ctx, c)

	name := vfs.SanitizeName(rawName)
	display := path.Join(vfs.CleanRel(relDir), name)
	r := func() ItemResult {
		root, err := s.roots.Root(tenant)
		if err != nil {
			return failed(display, err)
		}
		if err := vfs.ValidName(name); err != nil {
			return failed(display, &vfs.PathError{Op: "mkdir", Path: rawName, Kind: vfs.ErrInvalidName})
		}
		target, err := entry(root, vfs.Join(relDir, name))
		if err != nil {
			return failed(display, err)
		}
		rel := vfs.Rel(root, target)
		if exists(target) {
			return succeeded(rel, "")
		}
		if err := os.MkdirAll(target, 0o755); err != nil {
			return failed(rel, vfs.Classify("mkdir", rel, err))
		}
		c.touch(rel)
		return succeeded(rel, "")
	}()
	logItem(ctx, OpCreateFolder, tenant, r)
	return r
}

// Rename renames oldName inside relDir to rawNewName after sanitizing it.
// It never overwrites: an existing target fails with ErrAlreadyExists.
// Failures are reported in the result, never as a panic or a partial rename.
func (s *Service) Rename(ctx context.Context, tenant, relDir, oldName, rawNewName string) ItemResult {
	c := &change{tenant: tenant, op: OpRename}
	defer s.commit(ctx, c)

	oldRel := path.Join(vfs.CleanRel(relDir), oldName)
	r := func() ItemResult {
		root, err := s.roots.Root(tenant)
		if err != nil {
			return failed(oldRel, err)
		}
		if err := singleName("rename", oldName); err != nil {
			return failed(oldRel, err)
		}
		newName := vfs.SanitizeName(rawNewName)
		if err := vfs.ValidName(newName); err != nil {
			return failed(oldRel, &vfs.PathError{Op: "rename", Path: rawNewName, Kind: vfs.ErrInvalidName})
		}

		src, err := entry(root, vfs.Join(relDir, oldName))
		if err != nil {
			return failed(oldRel, err)
		}
		if _, err := os.Lstat(src); err != nil {
			return failed(oldRel, vfs.Classify("rename", oldRel, err))
		}
		dst, err := entry(root, vfs.Join(relDir, newName))
		if err != nil {
			return failed(oldRel, err)
		}
		srcRel, dstRel := vfs.Rel(root, src), vfs.Rel(root, dst)
		if src == dst {
			return succeeded(srcRel, dstRel)
		}
		if exists(dst) {
			return failed(srcRel, &vfs.PathError{Op: "rename", Path: dstRel, Kind: vfs.ErrAlreadyExists})
		}
		if err := rename(src, dst); err != nil {
			return failed(srcRel, vfs.Classify("rename", srcRel, err))
		}
		c.touch(srcRel, dstRel)
		return succeeded(srcRel, dstRel)
	}()
	logItem(ctx, OpRename, tenant, r)
	return r
}

// Move moves every item into the directory destDir. Items are independent:
// one failure does not stop the others. BatchResult.Succeeded is the number
// of items moved.
func (s *Service) Move(ctx context.Context, tenant, destDir string, items []string) BatchResult {
	var res BatchResult
	c := &change{tenant: tenant, op: OpMove}
	defer s.commit(ctx, c)

	root, dest, err := s.destination(tenant, destDir)
	for _, item := range items {
		var r ItemResult
		if err != nil {
			// Without a usable destination every item fails the same way.
			r = failed(vfs.CleanRel(item), err)
		} else {
			r = s.move(root, dest, item)
		}
		logItem(ctx, OpMove, tenant, r)
		res.add(r)
		if r.OK {
			c.touch(r.Path, r.Target)
		}
	}
	return res
}

// destination resolves the target directory of a move.
func (s *Service) destination(tenant, destDir string) (root, dest string, err error) {
	if root, err = s.roots.Root(tenant); err != nil {
		return "", "", err
	}
	if dest, err = resolve(root, destDir); err != nil {
		return "", "", err
	}
	if err = requireDir(dest, destDir); err != nil {
		return "", "", err
	}
	return root, dest, nil
}

func (s *Service) move(root, dest, item string) ItemResult {
	display := vfs.CleanRel(item)
	src, err := entry(root, item)
	if err != nil {
		return failed(display, err)
	}
	if src == root {
		return failed(display, &vfs.PathError{Op: "move", Path: display, Kind: vfs.ErrRootProtected})
	}
	srcRel := vfs.Rel(root, src)
	info, err := os.Lstat(src)
	if err != nil {
		return failed(srcRel, vfs.Classify("move", srcRel, err))
	}

	target := filepath.Join(dest, filepath.Base(src))
	targetRel := vfs.Rel(root, target)
	if info.IsDir() && (dest == src || strings.HasPrefix(dest, src+string(filepath.Separator))) {
		return failed(srcRel, &vfs.PathError{Op: "move", Path: srcRel, Kind: vfs.ErrInvalidName,
			Err: errors.New("cannot move a folder into itself")})
	}
	if exists(target) {
		return failed(srcRel, &vfs.PathError{Op: "move", Path: targetRel, Kind: vfs.ErrAlreadyExists})
	}
	if err := moveEntry(src, target); err != nil {
		return failed(srcRel, vfs.Classify("move", srcRel, err))
	}
	return succeeded(srcRel, targetRel)
}

// moveEntry renames src to dst, falling back to copy and delete when they
// are on different filesystems.
func moveEntry(src, dst string) error {
	err := rename(src, dst)
	if err == nil || !errors.Is(err, syscall.EXDEV) {
		return err
	}
	opt := cp.Options{
		OnSymlink:     func(string) cp.SymlinkAction { return cp.Shallow },
		PreserveTimes: true,
	}
	if err := cp.Copy(src, dst, opt); err != nil {
		os.RemoveAll(dst)
		return fmt.Errorf("copy across devices: %w", err)
	}
	return os.RemoveAll(src)
}

// Delete removes the entry at rel: folders recursively, symlinks as links.
func (s *Service) Delete(ctx context.Context, tenant, rel string) ItemResult {
	c := &change{tenant: tenant, op: OpDelete}
	defer s.commit(ctx, c)

	root, err := s.roots.Root(tenant)
	if err != nil {
		return failed(vfs.CleanRel(rel), err)
	}
	r := s.remove(root, rel)
	logItem(ctx, OpDelete, tenant, r)
	if r.OK {
		c.touch(r.Path)
	}
	return r
}

// DeleteBatch deletes every path independently and emits one notification
// for the whole batch.
func (s *Service) DeleteBatch(ctx context.Context, tenant string, rels []string) BatchResult {
	var res BatchResult
	c := &change{tenant: tenant, op: OpDelete}
	defer s.commit(ctx, c)

	root, err := s.roots.Root(tenant)
	for _, rel := range rels {
		var r ItemResult
		if err != nil {
			r = failed(vfs.CleanRel(rel), err)
		} else {
			r = s.remove(root, rel)
		}
		logItem(ctx, OpDelete, tenant, r)
		res.add(r)
		if r.OK {
			c.touch(r.Path)
		}
	}
	return res
}

func (s *Service) remove(root, rel string) ItemResult {
	display := vfs.CleanRel(rel)
	abs, err := entry(root, rel)
	if err != nil {
		return failed(display, err)
	}
	if abs == root {
		return failed(display, &vfs.PathError{Op: "delete", Path: display, Kind: vfs.ErrRootProtected})
	}
	rel = vfs.Rel(root, abs)

	info, err := os.Lstat(abs)
	if err != nil {
		return failed(rel, vfs.Classify("delete", rel, err))
	}
	if info.IsDir() {
		err = os.RemoveAll(abs)
	} else {
		err = os.Remove(abs)
	}
	if err != nil {
		return failed(rel, vfs.Classify("delete", rel, err))
	}
	return succeeded(rel, "")
}

// singleName checks that name is one usable path component.
func singleName(op, name string) error {
	if vfs.ValidName(name) != nil || strings.ContainsAny(name, `/\`) {
		return &vfs.PathError{Op: op, Path: name, Kind: vfs.ErrInvalidName}
	}
	return nil
}

// requireDir fails unless abs is an existing directory.
func requireDir(abs, rel string) error {
	info, err := os.Stat(abs)
	if err != nil {
		return vfs.Classify("stat", vfs.CleanRel(rel), err)
	}
	if !info.IsDir() {
		return &vfs.PathError{Op: "stat", Path: vfs.CleanRel(rel), Kind: vfs.ErrNotFound,
			Err: errors.New("not a directory")}
	}
	return nil
}
