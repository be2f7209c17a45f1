// Package fsutil is the single chokepoint for turning client-supplied
// names into filesystem paths. Every path handed to file I/O anywhere in
// the server must come out of ResolveWithin.
package fsutil

import (
	"errors"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// ErrPathEscape reports any input whose resolved form would leave its
// root. Always a hard rejection, never downgraded.
var ErrPathEscape = errors.New("path escapes root")

// NormalizeRel cleans a slash- or backslash-separated relative path and
// rejects anything that is empty, absolute-looking, carries null bytes,
// or still points upward after cleaning. "../a.txt" is rejected rather
// than collapsed to "a.txt": an upward step is always hostile here.
func NormalizeRel(p string) (string, error) {
	p = strings.TrimSpace(p)
	if p == "" || strings.Contains(p, "\x00") {
		return "", ErrPathEscape
	}
	p = strings.ReplaceAll(p, "\\", "/")
	if strings.HasPrefix(p, "/") || filepath.IsAbs(p) {
		return "", ErrPathEscape
	}
	p = path.Clean(p)
	if p == "." || p == ".." || strings.HasPrefix(p, "../") {
		return "", ErrPathEscape
	}
	return p, nil
}

// SafeSegment reports whether name is usable as a single path element:
// non-empty, no separators, no traversal, no null bytes.
func SafeSegment(name string) error {
	if name == "" || name == "." || name == ".." {
		return ErrPathEscape
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return ErrPathEscape
	}
	return nil
}

// ResolveWithin returns the absolute path for rel under rootAbs, or
// ErrPathEscape. On top of NormalizeRel it verifies the joined path is a
// strict descendant of the root, and if part of the path already exists,
// follows symlinks and re-checks, so a link planted inside the root
// cannot smuggle a path out of it.
func ResolveWithin(rootAbs, rel string) (string, error) {
	clean, err := NormalizeRel(rel)
	if err != nil {
		return "", err
	}

	root := filepath.Clean(rootAbs)
	abs := filepath.Clean(filepath.Join(root, filepath.FromSlash(clean)))
	if !isDescendant(root, abs) {
		return "", ErrPathEscape
	}

	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return "", err
	}
	real, err := resolveExisting(abs)
	if err != nil {
		return "", err
	}
	if !isDescendant(realRoot, real) {
		return "", ErrPathEscape
	}
	return abs, nil
}

func isDescendant(root, abs string) bool {
	return abs != root && strings.HasPrefix(abs, root+string(filepath.Separator))
}

// resolveExisting follows symlinks on the longest existing prefix of abs
// and re-appends the missing tail, so not-yet-created paths (upload
// destinations) can still be checked.
func resolveExisting(abs string) (string, error) {
	p := abs
	var tail []string
	for {
		real, err := filepath.EvalSymlinks(p)
		if err == nil {
			for i := len(tail) - 1; i >= 0; i-- {
				real = filepath.Join(real, tail[i])
			}
			return real, nil
		}
		if !errors.Is(err, os.ErrNotExist) {
			return "", err
		}
		parent := filepath.Dir(p)
		if parent == p {
			return abs, nil
		}
		tail = append(tail, filepath.Base(p))
		p = parent
	}
}
