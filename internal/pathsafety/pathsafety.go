// Package pathsafety implements the lexical path-normalization and
// prefix-containment checks every archive extraction must route through.
package pathsafety

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnsafeName and ErrUnsafePath are wrapped by callers that refuse a
// package name or archive path, so errors.Is lets a caller (e.g. the
// transaction driver's force-depends policy) distinguish "refused as
// unsafe" from other failures without string-matching.
var (
	ErrUnsafeName = errors.New("unsafe package name")
	ErrUnsafePath = errors.New("unsafe archive path")
)

// PackageNameSafe reports whether n is a valid package name: a leading
// lowercase letter or digit followed by lowercase letters, digits, '.', '+'
// or '-'.
func PackageNameSafe(n string) bool {
	if n == "" {
		return false
	}
	for i, r := range n {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
		case i > 0 && (r == '.' || r == '+' || r == '-'):
		default:
			return false
		}
	}
	return true
}

// ArchivePathSafe reports whether p is safe to treat as an archive-relative
// path: non-empty, no newline or tab, and no two consecutive '.' characters
// anywhere (this blocks "..", "...", "..../" etc. without component parsing).
func ArchivePathSafe(p string) bool {
	if p == "" {
		return false
	}
	if strings.ContainsAny(p, "\n\t") {
		return false
	}
	for i := 0; i+1 < len(p); i++ {
		if p[i] == '.' && p[i+1] == '.' {
			return false
		}
	}
	return true
}

// SymlinkTargetSafe reports whether t is safe to record as a symlink target:
// non-empty, no newline or tab.
func SymlinkTargetSafe(t string) bool {
	return t != "" && !strings.ContainsAny(t, "\n\t")
}

// Normalize lexically normalizes p: splits on '/', drops '.' components,
// pops on '..', preserves absoluteness, and rejoins. It never touches the
// filesystem.
func Normalize(p string) string {
	absolute := strings.HasPrefix(p, "/")
	parts := strings.Split(p, "/")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		switch part {
		case "", ".":
			continue
		case "..":
			if len(out) > 0 {
				out = out[:len(out)-1]
			}
		default:
			out = append(out, part)
		}
	}
	joined := strings.Join(out, "/")
	if absolute {
		return "/" + joined
	}
	return joined
}

// ErrEscapesPrefix is returned by SafeJoin when the entry path would resolve
// outside prefix.
var ErrEscapesPrefix = fmt.Errorf("path escapes extraction directory")

// SafeJoin strips a leading "./" or "/" from entry, rejects an empty or bare
// "." entry, joins it onto prefix, normalizes the result, and verifies the
// result is equal to normalize(prefix) or starts with normalize(prefix)+"/".
// A zero-value (ok=false) return means "skip this entry" — not necessarily
// an error (a bare "." entry is a deliberate skip).
func SafeJoin(prefix, entry string) (resolved string, ok bool, err error) {
	for strings.HasPrefix(entry, "./") {
		entry = entry[2:]
	}
	entry = strings.TrimLeft(entry, "/")

	if entry == "" || entry == "." {
		return "", false, nil
	}

	if prefix == "" {
		return entry, true, nil
	}

	trimmedPrefix := strings.TrimRight(prefix, "/")
	if trimmedPrefix == "" {
		trimmedPrefix = "/"
	}

	combined := trimmedPrefix + "/" + entry
	resolved = Normalize(combined)
	normPrefix := Normalize(prefix)

	if resolved == normPrefix {
		return resolved, true, nil
	}
	if strings.HasPrefix(resolved, normPrefix+"/") {
		return resolved, true, nil
	}

	return "", false, fmt.Errorf("%w: %q", ErrEscapesPrefix, entry)
}
