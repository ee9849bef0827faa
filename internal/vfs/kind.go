package vfs

import (
	"path/filepath"
	"strings"
)

// Kind is the display classification of a node.
type Kind string

const (
	KindFolder Kind = "folder"
	KindImage  Kind = "image"
	KindVideo  Kind = "video"
	KindFile   Kind = "file" // generic file
)

var extKinds = map[string]Kind{
	"png":  KindImage,
	"jpg":  KindImage,
	"jpeg": KindImage,
	"gif":  KindImage,
	"webp": KindImage,
	"mp4":  KindVideo,
	"webm": KindVideo,
	"ogg":  KindVideo,
	"mov":  KindVideo,
	"mkv":  KindVideo,
}

// KindOfName classifies a file name by its extension, case-insensitively.
func KindOfName(name string) Kind {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	if k, ok := extKinds[ext]; ok {
		return k
	}
	return KindFile
}
