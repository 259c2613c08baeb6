// Package statusstore reads and writes aept's status file: a stream of
// Debian control records, one per installed package, each with at least
// Package/Version/Architecture/Status fields, built on the shared stanza
// grammar in internal/deb.
package statusstore

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aept-project/aept/internal/deb"
)

// State is a package's install state as recorded in Status: install ok
// <state>.
type State string

const (
	StateInstalled State = "installed"
	StateUnpacked  State = "unpacked"
)

// Store is a loaded, in-memory view of the status file.
type Store struct {
	path    string
	records []*deb.Record // order preserved; Package: field is the key
}

// Load reads path. Records are kept exactly as they appear on disk — an
// "unpacked" state persists across rewrites, still signalling "postinst
// failed", until the package itself is reinstalled or removed. The
// solver-facing normalization happens in InstalledStream, never here.
func Load(path string) (*Store, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &Store{path: path}, nil
		}
		return nil, fmt.Errorf("statusstore: read %s: %w", path, err)
	}

	return &Store{path: path, records: deb.ParseStream(string(content))}, nil
}

// Records returns the in-memory records, in file order, states as on disk.
func (s *Store) Records() []*deb.Record { return s.records }

// InstalledStream renders the records as the installed stream the solver
// loads, rewriting every "Status: install ok unpacked" line to
// "Status: install ok installed" so the solver treats the package as
// present. The store's own records are untouched: the on-disk "unpacked"
// survives every rewrite.
func (s *Store) InstalledStream() string {
	if s == nil {
		return ""
	}
	var b strings.Builder
	for _, r := range s.records {
		stanza := r.String()
		stanza = strings.ReplaceAll(stanza,
			"Status: install ok "+string(StateUnpacked)+"\n",
			"Status: install ok "+string(StateInstalled)+"\n")
		b.WriteString(stanza)
		b.WriteString("\n")
	}
	return b.String()
}

// Lookup returns the record for name, or nil.
func (s *Store) Lookup(name string) *deb.Record {
	for _, r := range s.records {
		if r.Get("Package") == name {
			return r
		}
	}
	return nil
}

// Add appends a control record with the given state for name. Any prior
// record for name must have been removed first by the caller; Add does not
// do this implicitly, so the Remove-then-Add sequencing stays explicit at
// each call site.
func (s *Store) Add(controlStanza string, state State) error {
	r := deb.ParseRecord(controlStanza)
	if r.Get("Package") == "" {
		return fmt.Errorf("statusstore: control record missing Package field")
	}
	r.Set("Status", "install ok "+string(state))
	s.records = append(s.records, r)
	return s.save()
}

// Remove drops the single record block whose Package: field matches name.
// Records are parsed as blank-line-delimited blocks and matched by any
// Package: field within the block, not only the first line.
func (s *Store) Remove(name string) error {
	out := s.records[:0]
	for _, r := range s.records {
		if r.Get("Package") == name {
			continue
		}
		out = append(out, r)
	}
	s.records = out
	return s.save()
}

// save rewrites the status file atomically: write to <path>.tmp, then
// rename.
func (s *Store) save() error {
	if s.path == "" {
		return nil
	}

	var b strings.Builder
	for _, r := range s.records {
		b.WriteString(r.String())
		b.WriteString("\n")
	}

	tmp := s.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("statusstore: mkdir: %w", err)
	}
	if err := os.WriteFile(tmp, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("statusstore: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("statusstore: rename %s: %w", tmp, err)
	}
	return nil
}
