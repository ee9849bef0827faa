package vfs

import (
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// SizeUnknown is reported as the size of folders and unreadable entries.
const SizeUnknown int64 = -1

// TempPrefix marks in-flight upload files; they are never listed.
const TempPrefix = ".mydrive-"

// Node is one entry of a directory listing.
type Node struct {
	Name     string    `json:"name"`
	Path     string    `json:"path"`
	Kind     Kind      `json:"kind"`
	IsFolder bool      `json:"is_folder"`
	Size     int64     `json:"size"`
	Modified time.Time `json:"modified,omitzero"`

	SizeHuman     string `json:"size_human,omitempty"`
	ModifiedHuman string `json:"modified_human,omitempty"`
}

// List enumerates the direct children of absDir, an already resolved
// directory whose tenant-relative path is relDir. The result is sorted with
// SortNodes. Any failure to read the directory is reported as ErrUnavailable.
func List(absDir, relDir string) ([]Node, error) {
	relDir = CleanRel(relDir)
	entries, err := os.ReadDir(absDir)
	if err != nil {
		return nil, &PathError{Op: "list", Path: relDir, Kind: ErrUnavailable, Err: err}
	}

	nodes := make([]Node, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), TempPrefix) {
			continue
		}
		nodes = append(nodes, describe(absDir, relDir, e.Name()))
	}
	SortNodes(nodes)
	return nodes, nil
}

func describe(absDir, relDir, name string) Node {
	n := Node{
		Name: name,
		Path: path.Join(relDir, name),
		Kind: KindOfName(name),
		Size: SizeUnknown,
	}
	if relDir == "" {
		n.Path = name
	}

	info, err := os.Stat(filepath.Join(absDir, name))
	if err != nil {
		// Dangling symlink or vanished entry: listed as an opaque file.
		return n
	}
	if info.IsDir() {
		n.Kind = KindFolder
		n.IsFolder = true
		return n
	}
	n.Size = info.Size()
	n.Modified = info.ModTime()
	n.SizeHuman = humanize.Bytes(uint64(info.Size()))
	n.ModifiedHuman = humanize.Time(info.ModTime())
	return n
}

// SortNodes orders folders before files and, within each group, by name
// case-insensitively. Names equal under case folding fall back to byte order.
func SortNodes(nodes []Node) {
	slices.SortStableFunc(nodes, func(a, b Node) int {
		if a.IsFolder != b.IsFolder {
			if a.IsFolder {
				return -1
			}
			return 1
		}
		if c := strings.Compare(strings.ToLower(a.Name), strings.ToLower(b.Name)); c != 0 {
			return c
		}
		return strings.Compare(a.Name, b.Name)
	})
}
