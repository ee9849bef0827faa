package fileops

import (
	"errors"

	"github.com/AlexanderSatryo135/myDrive/internal/vfs"
)

// Error codes reported in ItemResult.Code, one per error kind.
const (
	CodePathEscape     = "path_escape"
	CodeNotFound       = "not_found"
	CodePermission     = "permission_denied"
	CodeAlreadyExists  = "already_exists"
	CodeInvalidName    = "invalid_name"
	CodeUnavailable    = "unavailable"
	CodeRootProtected  = "root_protected"
	CodeStorageFailure = "storage_failure"
)

// Code returns the error code for err's kind, or "" for nil.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, vfs.ErrPathEscape):
		return CodePathEscape
	case errors.Is(err, vfs.ErrNotFound):
		return CodeNotFound
	case errors.Is(err, vfs.ErrPermission):
		return CodePermission
	case errors.Is(err, vfs.ErrAlreadyExists):
		return CodeAlreadyExists
	case errors.Is(err, vfs.ErrInvalidName):
		return CodeInvalidName
	case errors.Is(err, vfs.ErrUnavailable):
		return CodeUnavailable
	case errors.Is(err, vfs.ErrRootProtected):
		return CodeRootProtected
	default:
		return CodeStorageFailure
	}
}

// ItemResult is the outcome of one item of a file operation. Failures are
// reported here instead of aborting the request.
type ItemResult struct {
	Path   string `json:"path"`
	Target string `json:"target,omitempty"`
	OK     bool   `json:"ok"`
	Code   string `json:"code,omitempty"`
	Error  string `json:"error,omitempty"`

	err error
}

// Err returns the underlying error, nil on success.
func (r ItemResult) Err() error { return r.err }

func succeeded(path, target string) ItemResult {
	return ItemResult{Path: path, Target: target, OK: true}
}

func failed(path string, err error) ItemResult {
	return ItemResult{Path: path, Code: Code(err), Error: err.Error(), err: err}
}

// BatchResult aggregates per-item results of a batch operation.
type BatchResult struct {
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
	Items     []ItemResult `json:"items"`
}

func (b *BatchResult) add(r ItemResult) {
	if r.OK {
		b.Succeeded++
	} else {
		b.Failed++
	}
	b.Items = append(b.Items, r)
}
