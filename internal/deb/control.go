// Package deb parses and renders Debian control-record stanzas: the shared
// grammar behind a repository's Packages index, a package's control file,
// and aept's own status file.
package deb

import (
	"sort"
	"strings"
)

// Record is an ordered Debian control-record stanza: a sequence of
// Key: value fields, where a field's value may continue onto following
// lines that begin with a space or tab (folded/multiline fields).
type Record struct {
	fields []field
	index  map[string]int // first occurrence, case-insensitive
}

type field struct {
	key   string
	value string
}

// NewRecord returns an empty Record.
func NewRecord() *Record {
	return &Record{index: make(map[string]int)}
}

// Get returns the value of key (case-insensitive), or "" if absent.
func (r *Record) Get(key string) string {
	if r == nil {
		return ""
	}
	if i, ok := r.index[strings.ToLower(key)]; ok {
		return r.fields[i].value
	}
	return ""
}

// Has reports whether key is present.
func (r *Record) Has(key string) bool {
	_, ok := r.index[strings.ToLower(key)]
	return ok
}

// Set inserts or overwrites key's value, preserving original field order on
// overwrite and appending on first insertion.
func (r *Record) Set(key, value string) {
	lk := strings.ToLower(key)
	if i, ok := r.index[lk]; ok {
		r.fields[i].value = value
		return
	}
	r.index[lk] = len(r.fields)
	r.fields = append(r.fields, field{key: key, value: value})
}

// Delete removes key if present.
func (r *Record) Delete(key string) {
	lk := strings.ToLower(key)
	i, ok := r.index[lk]
	if !ok {
		return
	}
	r.fields = append(r.fields[:i], r.fields[i+1:]...)
	delete(r.index, lk)
	for k, v := range r.index {
		if v > i {
			r.index[k] = v - 1
		}
	}
}

// Keys returns field keys in original order.
func (r *Record) Keys() []string {
	keys := make([]string, len(r.fields))
	for i, f := range r.fields {
		keys[i] = f.key
	}
	return keys
}

// String renders the record in Debian control-file format, preserving
// multi-line values (a value containing "\n " continuation text is
// rendered verbatim) and terminating with a single trailing newline.
func (r *Record) String() string {
	var b strings.Builder
	for _, f := range r.fields {
		b.WriteString(f.key)
		b.WriteString(": ")
		b.WriteString(f.value)
		b.WriteString("\n")
	}
	return b.String()
}

// ParseRecord parses a single stanza (no blank-line separators) into a
// Record, handling folded/multiline fields: a continuation line is any line
// beginning with a space or tab, and is appended to the current field's
// value with its own leading newline preserved.
func ParseRecord(stanza string) *Record {
	r := NewRecord()
	lines := strings.Split(stanza, "\n")

	var curKey string
	var curVal strings.Builder
	flush := func() {
		if curKey != "" {
			r.Set(curKey, strings.TrimRight(curVal.String(), "\n"))
		}
		curKey = ""
		curVal.Reset()
	}

	for _, line := range lines {
		if line == "" {
			continue
		}
		if (line[0] == ' ' || line[0] == '\t') && curKey != "" {
			curVal.WriteString("\n")
			curVal.WriteString(line)
			continue
		}
		flush()
		i := strings.IndexByte(line, ':')
		if i < 0 {
			continue
		}
		curKey = strings.TrimSpace(line[:i])
		curVal.WriteString(strings.TrimSpace(line[i+1:]))
	}
	flush()

	return r
}

// ParseStream splits content on blank-line (record-boundary) separators and
// parses each non-empty stanza into a Record, matching the Debian
// control-record stream grammar used by Packages indices and the status
// file.
func ParseStream(content string) []*Record {
	var records []*Record
	for _, stanza := range splitStanzas(content) {
		if strings.TrimSpace(stanza) == "" {
			continue
		}
		records = append(records, ParseRecord(stanza))
	}
	return records
}

// splitStanzas splits content on a blank physical line, i.e. one that is
// empty and not a continuation of a folded field (continuation lines start
// with whitespace, so an empty line is never itself a continuation).
func splitStanzas(content string) []string {
	lines := strings.Split(content, "\n")
	var stanzas []string
	var cur []string
	for _, line := range lines {
		if line == "" {
			if len(cur) > 0 {
				stanzas = append(stanzas, strings.Join(cur, "\n"))
				cur = nil
			}
			continue
		}
		cur = append(cur, line)
	}
	if len(cur) > 0 {
		stanzas = append(stanzas, strings.Join(cur, "\n"))
	}
	return stanzas
}

// SplitList splits a comma-separated control field value (Depends,
// Conflicts, etc.) into trimmed components.
func SplitList(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	res := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			res = append(res, p)
		}
	}
	return res
}

// Alternatives splits one Depends-style comma component further on "|"
// (OR-alternatives), trimming each and dropping any trailing
// version-constraint parenthetical, e.g. "a (>= 1.0) | b" -> ["a", "b"].
func Alternatives(component string) []string {
	parts := strings.Split(component, "|")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if i := strings.IndexByte(p, '('); i >= 0 {
			p = strings.TrimSpace(p[:i])
		}
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Constraint is a single version-constrained dependency reference, e.g. the
// "b (>= 1.0)" in "Depends: a, b (>= 1.0) | c".
type Constraint struct {
	Name     string
	Operator string // one of "", "=", ">=", "<=", ">>", "<<"
	Version  string
}

// ParseConstraint parses one alternative component ("name" or
// "name (op version)") into a Constraint. Unlike Alternatives, this keeps
// the operator/version instead of discarding them, for use by the solver
// when matching exact pins or version-bounded Depends.
func ParseConstraint(component string) Constraint {
	component = strings.TrimSpace(component)
	i := strings.IndexByte(component, '(')
	if i < 0 {
		return Constraint{Name: component}
	}
	name := strings.TrimSpace(component[:i])
	rest := strings.TrimSuffix(strings.TrimSpace(component[i+1:]), ")")
	fields := strings.Fields(rest)
	if len(fields) != 2 {
		return Constraint{Name: name}
	}
	return Constraint{Name: name, Operator: fields[0], Version: fields[1]}
}

// ParseDependencyList splits a comma-separated Depends/Conflicts-style field
// into its OR-groups, each itself a list of Constraint alternatives, e.g.
// "a, b (>= 1.0) | c" -> [["a"], ["b>=1.0", "c"]].
func ParseDependencyList(s string) [][]Constraint {
	var groups [][]Constraint
	for _, component := range SplitList(s) {
		var group []Constraint
		for _, alt := range strings.Split(component, "|") {
			group = append(group, ParseConstraint(alt))
		}
		groups = append(groups, group)
	}
	return groups
}

// SortedMD5Sums renders a "<md5hex>  <path>\n" block (note: two spaces,
// the conffile/md5sums line format) with entries sorted by path.
func SortedMD5Sums(byPath map[string]string) string {
	paths := make([]string, 0, len(byPath))
	for p := range byPath {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	var b strings.Builder
	for _, p := range paths {
		b.WriteString(byPath[p])
		b.WriteString("  ")
		b.WriteString(p)
		b.WriteString("\n")
	}
	return b.String()
}
