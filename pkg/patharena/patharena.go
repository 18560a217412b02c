// Package patharena implements safe path operations under a fixed
// storage root: joining a root-relative, forward-slash
// path without escaping the root, containment checks, and root-relative
// rendering.
package patharena

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"

	"golang.org/x/text/cases"

	"github.com/lpyedge/oxicloud/pkg/errtypes"
)

const maxSegmentBytes = 255

var folder = cases.Fold()

// Fold returns the Unicode case-folded form of s, used for
// case-insensitive name comparisons throughout FolderStore and
// SearchIndex, where sibling names compare case-insensitively.
func Fold(s string) string {
	return folder.String(s)
}

// Join resolves a POSIX-style, root-relative path rel against root,
// rejecting any segment equal to "..", absolute segments, NUL bytes, or
// segments longer than 255 bytes.
func Join(root, rel string) (string, error) {
	if rel == "" {
		return filepath.Clean(root), nil
	}
	if strings.HasPrefix(rel, "/") {
		return "", errtypes.InvariantViolation(fmt.Sprintf("absolute path not allowed: %q", rel))
	}
	if strings.ContainsRune(rel, 0) {
		return "", errtypes.InvariantViolation("path contains a NUL byte")
	}

	segments := strings.Split(rel, "/")
	cleaned := make([]string, 0, len(segments))
	for _, seg := range segments {
		switch seg {
		case "":
			return "", errtypes.InvariantViolation(fmt.Sprintf("empty path segment in %q", rel))
		case ".":
			continue
		case "..":
			return "", errtypes.InvariantViolation(fmt.Sprintf("path escapes storage root: %q", rel))
		}
		if len(seg) > maxSegmentBytes {
			return "", errtypes.InvariantViolation(fmt.Sprintf("path segment exceeds %d bytes: %q", maxSegmentBytes, seg))
		}
		cleaned = append(cleaned, seg)
	}

	return filepath.Join(root, filepath.FromSlash(strings.Join(cleaned, "/"))), nil
}

// Contains reports whether abs is contained within root, resolving
// symlinks where the path exists and falling back to lexical
// containment for paths that do not exist yet (e.g. a pending create
// target).
func Contains(root, abs string) (bool, error) {
	rRoot, err := resolve(root)
	if err != nil {
		return false, errtypes.IOError{Msg: "resolve root", Err: err}
	}
	rAbs, err := resolve(abs)
	if err != nil {
		return false, errtypes.IOError{Msg: "resolve path", Err: err}
	}

	rRoot = filepath.Clean(rRoot)
	rAbs = filepath.Clean(rAbs)
	if rAbs == rRoot {
		return true, nil
	}
	return strings.HasPrefix(rAbs, rRoot+string(filepath.Separator)), nil
}

func resolve(p string) (string, error) {
	real, err := filepath.EvalSymlinks(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// path may not exist yet (a pending create target); fall back
			// to lexical cleaning rather than failing containment checks.
			return filepath.Clean(p), nil
		}
		return "", err
	}
	return real, nil
}

// Relative returns the root-relative, forward-slash path of abs.
func Relative(root, abs string) (string, error) {
	rel, err := filepath.Rel(root, abs)
	if err != nil {
		return "", errtypes.IOError{Msg: "compute relative path", Err: err}
	}
	return filepath.ToSlash(rel), nil
}
