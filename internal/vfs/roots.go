package vfs

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// MaxTenantLen bounds tenant identifiers, which double as directory names.
const MaxTenantLen = 64

// Roots maps tenant identifiers to their storage roots under a common base
// directory. A tenant's root is created the first time it is asked for.
type Roots struct {
	base string
}

// NewRoots prepares the base directory and returns a Roots over it.
func NewRoots(base string) (*Roots, error) {
	if base == "" {
		return nil, fmt.Errorf("storage root is required")
	}
	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root %s: %w", base, err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root %s: %w", abs, err)
	}
	return &Roots{base: abs}, nil
}

// Base returns the absolute base directory holding every tenant root.
func (r *Roots) Base() string { return r.base }

// Root returns the canonical root directory of tenant, creating it if absent.
func (r *Roots) Root(tenant string) (string, error) {
	if err := ValidateTenant(tenant); err != nil {
		return "", err
	}
	dir := filepath.Join(r.base, tenant)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", Classify("root", "", err)
	}
	root, err := canonical(dir, 0)
	if err != nil {
		return "", Classify("root", "", err)
	}
	return root, nil
}

// ValidateTenant checks that tenant is usable as a single directory name:
// already sanitized, no spaces, not hidden and at most MaxTenantLen bytes.
func ValidateTenant(tenant string) error {
	if tenant == "" || len(tenant) > MaxTenantLen ||
		SanitizeName(tenant) != tenant ||
		strings.ContainsRune(tenant, ' ') ||
		strings.HasPrefix(tenant, ".") {
		return &PathError{Op: "tenant", Path: tenant, Kind: ErrInvalidName}
	}
	return nil
}
