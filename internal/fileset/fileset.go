// Package fileset implements a sorted-vector string set: cheap append
// during a build phase, then one sort, after which membership is a binary
// search. It backs the "protected files" accumulator that a transaction
// carries across its install/upgrade/remove steps.
package fileset

import (
	"sort"
	"strings"
)

// Set is a set of normalized archive-relative paths. The zero value is an
// empty, usable set.
type Set struct {
	paths  []string
	sorted bool
}

func normalize(p string) string {
	for strings.HasPrefix(p, "./") {
		p = p[2:]
	}
	return strings.TrimPrefix(p, "/")
}

// Add inserts path into the set. Amortized O(1); invalidates sortedness.
func (s *Set) Add(path string) {
	s.paths = append(s.paths, normalize(path))
	s.sorted = false
}

// AddAll inserts every path in paths.
func (s *Set) AddAll(paths []string) {
	for _, p := range paths {
		s.Add(p)
	}
}

// Sort sorts and deduplicates the underlying vector. Idempotent and cheap
// when already sorted. Contains, Len and Paths call it themselves, so an
// explicit call only moves the sorting cost to a chosen point.
func (s *Set) Sort() {
	if s.sorted {
		return
	}
	sort.Strings(s.paths)
	out := s.paths[:0]
	var prev string
	for i, p := range s.paths {
		if i == 0 || p != prev {
			out = append(out, p)
		}
		prev = p
	}
	s.paths = out
	s.sorted = true
}

// Contains reports whether path is in the set. O(log n) once sorted;
// callers that have not called Sort since the last Add pay an
// O(n log n) lazy sort on first use.
func (s *Set) Contains(path string) bool {
	s.Sort()
	target := normalize(path)
	i := sort.SearchStrings(s.paths, target)
	return i < len(s.paths) && s.paths[i] == target
}

// Len returns the number of distinct paths currently stored.
func (s *Set) Len() int {
	s.Sort()
	return len(s.paths)
}

// Paths returns the sorted, deduplicated contents. The caller must not
// mutate the returned slice.
func (s *Set) Paths() []string {
	s.Sort()
	return s.paths
}
