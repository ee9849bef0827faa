package vfs

import (
	"errors"
	"io/fs"
	"syscall"
)

// Error kinds. Every error returned by this package and by fileops wraps
// exactly one of these, so callers can branch with errors.Is.
var (
	// ErrPathEscape means a requested path resolved outside the tenant root.
	ErrPathEscape = errors.New("path escapes tenant root")

	// ErrNotFound means the file or directory does not exist.
	ErrNotFound = errors.New("not found")

	// ErrPermission means the storage layer refused access.
	ErrPermission = errors.New("permission denied")

	// ErrAlreadyExists means an entry with the target name already exists.
	ErrAlreadyExists = errors.New("already exists")

	// ErrInvalidName means a name was empty or reduced to nothing usable.
	ErrInvalidName = errors.New("invalid name")

	// ErrUnavailable means a directory listing could not be produced.
	ErrUnavailable = errors.New("listing unavailable")

	// ErrRootProtected means the operation would remove or move the tenant root.
	ErrRootProtected = errors.New("tenant root cannot be modified")

	// ErrStorage is a generic I/O failure from the underlying filesystem.
	ErrStorage = errors.New("storage failure")
)

// PathError records a failed operation, its tenant-relative path, the
// error kind and the underlying cause.
type PathError struct {
	Op   string
	Path string
	Kind error
	Err  error
}

func (e *PathError) Error() string {
	msg := e.Op + " " + e.Path + ": " + e.Kind.Error()
	if e.Err != nil && e.Err != e.Kind {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *PathError) Unwrap() []error {
	if e.Err == nil || e.Err == e.Kind {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Classify wraps err in a *PathError whose Kind is derived from the OS error.
// Errors that already carry a kind are returned unchanged.
func Classify(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var pe *PathError
	if errors.As(err, &pe) {
		return err
	}
	return &PathError{Op: op, Path: path, Kind: KindOf(err), Err: err}
}

// KindOf maps an arbitrary error onto the error taxonomy.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrPathEscape, ErrNotFound, ErrPermission, ErrAlreadyExists,
		ErrInvalidName, ErrUnavailable, ErrRootProtected, ErrStorage,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return ErrNotFound
	case errors.Is(err, fs.ErrPermission):
		return ErrPermission
	case errors.Is(err, fs.ErrExist), errors.Is(err, syscall.ENOTEMPTY):
		return ErrAlreadyExists
	default:
		return ErrStorage
	}
}
