// Package auxstore manages the per-package auxiliary files under info_dir
// (the ".list" file, control, and maintainer scripts), plus the
// auto-installed set and the version-pin set.
package auxstore

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/aept-project/aept/internal/archive"
	"github.com/aept-project/aept/internal/pathsafety"
)

// ListEntry mirrors one line of a package's "<name>.list" file:
// "<archive-path>\t<octal-mode>" or, for a symlink,
// "<archive-path>\t<octal-mode>\t<symlink-target>".
type ListEntry struct {
	Path          string
	Mode          os.FileMode
	SymlinkTarget string
}

// WriteList writes info_dir/<name>.list from entries, atomically.
func WriteList(infoDir, name string, entries []archive.DataEntry) error {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s\t%#o", e.Path, e.Mode.Perm())
		if e.SymlinkTarget != "" {
			b.WriteString("\t")
			b.WriteString(e.SymlinkTarget)
		}
		b.WriteString("\n")
	}
	return atomicWrite(filepath.Join(infoDir, name+".list"), b.String())
}

// ReadList reads info_dir/<name>.list. Returns (nil, nil) if absent.
func ReadList(infoDir, name string) ([]ListEntry, error) {
	path := filepath.Join(infoDir, name+".list")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("auxstore: open %s: %w", path, err)
	}
	defer f.Close()

	var entries []ListEntry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, "\t", 3)
		if len(parts) < 2 {
			continue
		}
		mode, err := strconv.ParseUint(parts[1], 8, 32)
		if err != nil {
			continue
		}
		e := ListEntry{Path: parts[0], Mode: os.FileMode(mode)}
		if len(parts) == 3 {
			e.SymlinkTarget = parts[2]
		}
		entries = append(entries, e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("auxstore: read %s: %w", path, err)
	}
	return entries, nil
}

// RemoveInfoFiles deletes every info_dir/<name>.{list,conffiles,control,
// preinst,postinst,prerm,postrm} file for name, ignoring missing files.
func RemoveInfoFiles(infoDir, name string) error {
	for _, ext := range []string{"list", "conffiles", "control", "preinst", "postinst", "prerm", "postrm"} {
		path := filepath.Join(infoDir, name+"."+ext)
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("auxstore: remove %s: %w", path, err)
		}
	}
	return nil
}

// WriteControlAndScripts moves the package's control file and any present
// maintainer scripts into info_dir as <name>.{control,preinst,...},
// preserving the executable bit on scripts.
func WriteControlAndScripts(infoDir, name, control, preinst, postinst, prerm, postrm string) error {
	if control != "" {
		if err := atomicWrite(filepath.Join(infoDir, name+".control"), control); err != nil {
			return err
		}
	}
	scripts := map[string]string{
		"preinst":  preinst,
		"postinst": postinst,
		"prerm":    prerm,
		"postrm":   postrm,
	}
	for ext, content := range scripts {
		if content == "" {
			continue
		}
		path := filepath.Join(infoDir, name+"."+ext)
		if err := os.WriteFile(path, []byte(content), 0755); err != nil {
			return fmt.Errorf("auxstore: write %s: %w", path, err)
		}
	}
	return nil
}

// AutoSet is the newline-delimited set of auto-installed package names.
type AutoSet struct {
	path  string
	names map[string]bool
}

// LoadAutoSet reads auto_file. A missing file is an empty set.
func LoadAutoSet(path string) (*AutoSet, error) {
	names, err := readNameSet(path)
	if err != nil {
		return nil, err
	}
	return &AutoSet{path: path, names: names}, nil
}

// Mark adds name to the auto-installed set and persists it.
func (a *AutoSet) Mark(name string) error {
	a.names[name] = true
	return a.save()
}

// Unmark removes name from the auto-installed set and persists it.
func (a *AutoSet) Unmark(name string) error {
	delete(a.names, name)
	return a.save()
}

// Is reports whether name is marked auto-installed.
func (a *AutoSet) Is(name string) bool { return a.names[name] }

// Names returns every currently auto-installed package name, unordered.
func (a *AutoSet) Names() []string {
	names := make([]string, 0, len(a.names))
	for n := range a.names {
		names = append(names, n)
	}
	return names
}

func (a *AutoSet) save() error {
	names := make([]string, 0, len(a.names))
	for n := range a.names {
		names = append(names, n)
	}
	return atomicWriteLines(a.path, names)
}

// Pin is a (name, version) constraint loaded from pin_file.
type Pin struct {
	Name    string
	Version string
}

// PinSet is the in-memory view of pin_file, keyed by package name.
type PinSet struct {
	path string
	pins map[string]string
}

// LoadPinSet reads pin_file ("<name> <version>" per line). A missing file
// is an empty set. Names and versions are not length-limited.
func LoadPinSet(path string) (*PinSet, error) {
	pins := make(map[string]string)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &PinSet{path: path, pins: pins}, nil
		}
		return nil, fmt.Errorf("auxstore: open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		pins[fields[0]] = fields[1]
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("auxstore: read %s: %w", path, err)
	}
	return &PinSet{path: path, pins: pins}, nil
}

// Lookup returns the pinned version for name, and whether a pin exists.
func (p *PinSet) Lookup(name string) (string, bool) {
	v, ok := p.pins[name]
	return v, ok
}

// Upsert pins name at version and persists the set.
func (p *PinSet) Upsert(name, version string) error {
	p.pins[name] = version
	return p.save()
}

// Remove drops any pin for name and persists the set.
func (p *PinSet) Remove(name string) error {
	delete(p.pins, name)
	return p.save()
}

// All returns every current pin.
func (p *PinSet) All() []Pin {
	out := make([]Pin, 0, len(p.pins))
	for n, v := range p.pins {
		out = append(out, Pin{Name: n, Version: v})
	}
	return out
}

func (p *PinSet) save() error {
	lines := make([]string, 0, len(p.pins))
	for n, v := range p.pins {
		lines = append(lines, n+" "+v)
	}
	return atomicWriteLines(p.path, lines)
}

func readNameSet(path string) (map[string]bool, error) {
	set := make(map[string]bool)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return set, nil
		}
		return nil, fmt.Errorf("auxstore: open %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !pathsafety.PackageNameSafe(line) {
			continue
		}
		set[line] = true
	}
	return set, sc.Err()
}

func atomicWriteLines(path string, lines []string) error {
	var b strings.Builder
	for _, l := range lines {
		b.WriteString(l)
		b.WriteString("\n")
	}
	return atomicWrite(path, b.String())
}

func atomicWrite(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("auxstore: mkdir: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0644); err != nil {
		return fmt.Errorf("auxstore: write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("auxstore: rename %s: %w", tmp, err)
	}
	return nil
}
