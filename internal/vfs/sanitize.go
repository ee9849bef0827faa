package vfs

import "strings"

// SanitizeName keeps ASCII letters, digits, space, '.', '_' and '-' and
// drops every other character. The result may be empty; see ValidName.
func SanitizeName(raw string) string {
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if nameRuneAllowed(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func nameRuneAllowed(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == ' ', r == '.', r == '_', r == '-':
		return true
	}
	return false
}

// ValidName rejects names that cannot denote a new directory entry: empty,
// whitespace-only, "." and "..".
func ValidName(name string) error {
	switch strings.TrimSpace(name) {
	case "", ".", "..":
		return &PathError{Op: "name", Path: name, Kind: ErrInvalidName}
	}
	return nil
}
