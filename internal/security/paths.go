// Package security keeps identifiers from outside the process (plot IDs,
// acquisition dates) from placing files outside the output tree.
package security

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// ErrUnsafePath is returned for identifiers or joined paths that would
// leave their root directory.
var ErrUnsafePath = errors.New("unsafe path")

// maxSegment bounds a single path element built from an identifier.
const maxSegment = 128

// ValidateSegment checks that s can be used as exactly one path element.
func ValidateSegment(s string) error {
	switch {
	case s == "", s == ".", s == "..":
		return fmt.Errorf("%w: %q is not a path element", ErrUnsafePath, s)
	case strings.ContainsAny(s, `/\`+"\x00"):
		return fmt.Errorf("%w: %q contains a separator", ErrUnsafePath, s)
	case len(s) > maxSegment:
		return fmt.Errorf("%w: %d bytes exceeds %d", ErrUnsafePath, len(s), maxSegment)
	}
	return nil
}

// JoinWithin joins elems under root and rejects results that resolve
// outside root. The check is lexical so it applies equally to the
// in-memory filesystem.
func JoinWithin(root string, elems ...string) (string, error) {
	cleanRoot := filepath.Clean(root)
	joined := filepath.Join(append([]string{cleanRoot}, elems...)...)
	rel, err := filepath.Rel(cleanRoot, joined)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnsafePath, err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", fmt.Errorf("%w: %s escapes %s", ErrUnsafePath, joined, cleanRoot)
	}
	return joined, nil
}
