// Package vfs confines tenant-supplied paths to the tenant's storage root and
// produces directory listings for the file browser.
//
// Nothing in this package caches a resolution: every call re-derives the
// canonical tenant root and re-checks the requested path against it.
package vfs

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// maxLinkHops bounds how many dangling symlinks canonical will chase.
const maxLinkHops = 40

// Resolve joins requested onto root and returns the canonical absolute path,
// provided it is root itself or a descendant of root.
//
// requested is untrusted: backslashes are treated as separators, leading
// slashes do not make it absolute, and ".." segments and symlinks are
// resolved before the containment check. Paths that do not exist yet are
// resolved through their deepest existing ancestor. A path that lands outside
// root yields an error wrapping ErrPathEscape.
func Resolve(root, requested string) (string, error) {
	canonRoot, err := canonical(root, 0)
	if err != nil {
		return "", Classify("resolve", "", err)
	}
	if strings.ContainsRune(requested, 0) {
		return "", &PathError{Op: "resolve", Path: requested, Kind: ErrPathEscape}
	}

	rel := strings.ReplaceAll(requested, `\`, "/")
	target, err := canonical(filepath.Join(canonRoot, filepath.FromSlash(rel)), 0)
	if err != nil {
		return "", Classify("resolve", requested, err)
	}
	if !within(canonRoot, target) {
		return "", &PathError{Op: "resolve", Path: requested, Kind: ErrPathEscape}
	}
	return target, nil
}

// ResolveEntry is Resolve for operations on a directory entry itself: a
// symlink in the final component is not followed, so renaming or deleting a
// link acts on the link. requested must still pass Resolve, and ".." is
// applied against root exactly as Resolve applies it.
func ResolveEntry(root, requested string) (string, error) {
	if _, err := Resolve(root, requested); err != nil {
		return "", err
	}
	canonRoot, err := canonical(root, 0)
	if err != nil {
		return "", Classify("resolve", "", err)
	}

	rel := strings.ReplaceAll(requested, `\`, "/")
	joined := filepath.Join(canonRoot, filepath.FromSlash(rel))
	if joined == canonRoot {
		return canonRoot, nil
	}
	parent, err := canonical(filepath.Dir(joined), 0)
	if err != nil {
		return "", Classify("resolve", requested, err)
	}
	if !within(canonRoot, parent) {
		return "", &PathError{Op: "resolve", Path: requested, Kind: ErrPathEscape}
	}
	return filepath.Join(parent, filepath.Base(joined)), nil
}

// Join appends name to the tenant-relative dir without cleaning, so ".."
// in dir is later resolved against the tenant root instead of being
// clamped at "/".
func Join(dir, name string) string {
	if dir == "" {
		return name
	}
	return dir + "/" + name
}

// Rel returns abs relative to root in forward-slash form, "" for root itself.
func Rel(root, abs string) string {
	canonRoot, err := canonical(root, 0)
	if err != nil {
		canonRoot = filepath.Clean(root)
	}
	rel, err := filepath.Rel(canonRoot, abs)
	if err != nil || rel == "." {
		return ""
	}
	return filepath.ToSlash(rel)
}

// CleanRel normalizes a caller-supplied relative path for display: forward
// slashes, no leading slash, "" for the root. It does not confine anything;
// use Resolve for that.
func CleanRel(p string) string {
	p = strings.TrimSpace(strings.ReplaceAll(p, `\`, "/"))
	if p == "" {
		return ""
	}
	p = strings.TrimPrefix(path.Clean("/"+p), "/")
	if p == "." {
		return ""
	}
	return p
}

// ParentRel returns the tenant-relative parent of rel, "" at the top level.
func ParentRel(rel string) string {
	rel = CleanRel(rel)
	if rel == "" {
		return ""
	}
	parent := path.Dir(rel)
	if parent == "." {
		return ""
	}
	return parent
}

func within(root, target string) bool {
	if target == root {
		return true
	}
	if root == string(filepath.Separator) {
		return strings.HasPrefix(target, root)
	}
	return strings.HasPrefix(target, root+string(filepath.Separator))
}

// canonical resolves every symlink in p. Missing trailing components are kept
// verbatim on top of their deepest existing ancestor; a dangling symlink is
// followed to where it points so that creating through it is still checked.
func canonical(p string, hops int) (string, error) {
	p = filepath.Clean(p)
	resolved, err := filepath.EvalSymlinks(p)
	if err == nil {
		return resolved, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return "", err
	}

	if info, lerr := os.Lstat(p); lerr == nil && info.Mode()&fs.ModeSymlink != 0 {
		if hops >= maxLinkHops {
			return "", &fs.PathError{Op: "canonical", Path: p, Err: errors.New("too many links")}
		}
		dest, rerr := os.Readlink(p)
		if rerr != nil {
			return "", rerr
		}
		if !filepath.IsAbs(dest) {
			dest = filepath.Join(filepath.Dir(p), dest)
		}
		return canonical(dest, hops+1)
	}

	parent := filepath.Dir(p)
	if parent == p {
		return p, nil
	}
	base, err := canonical(parent, hops)
	if err != nil {
		return "", err
	}
	return filepath.Join(base, filepath.Base(p)), nil
}
