// Package conffile implements the three-way conffile MD5 decision table and
// the interactive prompt. Persistence (parse/load/save) follows
// internal/auxstore's atomic-write idiom, reusing internal/checksum for
// hashing.
package conffile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/aept-project/aept/internal/checksum"
	"github.com/aept-project/aept/internal/pathsafety"
)

// Entry is one conffile's saved record: its absolute path and the MD5 of
// the version that was shipped at the time it was recorded.
type Entry struct {
	Path string
	MD5  string
}

// ParseList reads a shipped control.tar "conffiles" file: one absolute path
// per line. Unsafe paths are warned away in the caller and skipped here.
func ParseList(content string) []string {
	var paths []string
	sc := bufio.NewScanner(strings.NewReader(content))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !pathsafety.ArchivePathSafe(line) {
			continue
		}
		paths = append(paths, line)
	}
	return paths
}

// Load reads infoDir/<name>.conffiles ("<md5hex> <path>" per line). A
// missing file yields a nil slice and no error.
func Load(infoDir, name string) ([]Entry, error) {
	path := filepath.Join(infoDir, name+".conffiles")
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("conffile: open %s: %w", path, err)
	}
	defer f.Close()

	var entries []Entry
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, " ", 2)
		if len(fields) != 2 {
			continue
		}
		entries = append(entries, Entry{MD5: fields[0], Path: fields[1]})
	}
	return entries, sc.Err()
}

// Save rewrites infoDir/<name>.conffiles atomically.
func Save(infoDir, name string, entries []Entry) error {
	var b strings.Builder
	for _, e := range entries {
		fmt.Fprintf(&b, "%s %s\n", e.MD5, e.Path)
	}
	path := filepath.Join(infoDir, name+".conffiles")
	tmp := path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("conffile: mkdir: %w", err)
	}
	if err := os.WriteFile(tmp, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("conffile: write %s: %w", tmp, err)
	}
	return os.Rename(tmp, path)
}

// MD5 streams path and returns its hex MD5, or "" if path does not exist.
func MD5(path string) (string, error) { return checksum.MD5Hex(path) }

// Lookup returns the saved MD5 for p within entries, or "" if absent.
func Lookup(entries []Entry, p string) string {
	for _, e := range entries {
		if e.Path == p {
			return e.MD5
		}
	}
	return ""
}

// Decision is the outcome of resolving one conffile's three-way state.
type Decision int

const (
	DecisionInstallNew Decision = iota
	DecisionKeepOld
	DecisionDefer
)

func (d Decision) String() string {
	switch d {
	case DecisionInstallNew:
		return "install new"
	case DecisionKeepOld:
		return "keep old"
	case DecisionDefer:
		return "defer"
	default:
		return "unknown"
	}
}

// Prompter asks the admin what to do with a conffile whose prior MD5
// matches neither the on-disk file nor the newly shipped one, and returns
// their decision. A nil Prompter (e.g. no TTY) always defers.
type Prompter interface {
	Prompt(onDiskPath, newPath string) (Decision, error)
}

// Resolve runs the three-way decision table for one conffile path P.
// oldMD5 is the MD5 recorded at the prior install (may be
// ""); onDiskPath/newPath are the live file and its just-extracted
// ".aept-new" companion (newPath may not exist, meaning no .aept-new was
// extracted this round). forceConfnew/forceConfold short-circuit the
// prompt; prompter is consulted only when both are false and the table
// reaches the "prompt" row.
func Resolve(oldMD5, onDiskPath, newPath string, forceConfnew, forceConfold bool, prompter Prompter) (Decision, error) {
	onDiskMD5, err := MD5(onDiskPath)
	if err != nil {
		return DecisionKeepOld, err
	}
	newMD5, err := MD5(newPath)
	if err != nil {
		return DecisionKeepOld, err
	}

	if onDiskMD5 == "" {
		return DecisionInstallNew, nil // absent on disk: install new
	}
	if newMD5 == "" {
		return DecisionKeepOld, nil // no .aept-new extracted: keep old
	}
	if onDiskMD5 == newMD5 {
		return DecisionKeepOld, nil // identical content: leave the on-disk file alone, drop .aept-new
	}

	oldMatchesOnDisk := oldMD5 != "" && oldMD5 == onDiskMD5
	if oldMatchesOnDisk {
		return DecisionInstallNew, nil // unmodified since last install: silently install new
	}

	oldMatchesNew := oldMD5 != "" && oldMD5 == newMD5
	if oldMatchesNew {
		return DecisionKeepOld, nil // package unchanged, user edited: keep old
	}

	if forceConfnew {
		return DecisionInstallNew, nil
	}
	if forceConfold {
		return DecisionKeepOld, nil
	}
	if prompter == nil {
		return DecisionDefer, nil // no TTY, no force flag: leave .aept-new for review
	}
	return prompter.Prompt(onDiskPath, newPath)
}

// Apply performs the filesystem effect of a Decision: "install new" renames
// newPath over onDiskPath; "keep old" unlinks newPath; "defer" does
// neither, leaving the .aept-new for the admin.
func Apply(decision Decision, onDiskPath, newPath string) error {
	switch decision {
	case DecisionInstallNew:
		if _, err := os.Stat(newPath); err != nil {
			return nil // nothing to install (no-op row never created .aept-new)
		}
		return os.Rename(newPath, onDiskPath)
	case DecisionKeepOld:
		if err := os.Remove(newPath); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("conffile: remove %s: %w", newPath, err)
		}
		return nil
	case DecisionDefer:
		return nil
	default:
		return fmt.Errorf("conffile: unknown decision %v", decision)
	}
}

// TTYPrompter implements Prompter against an interactive terminal: Y/I
// installs new, N/O keeps old (the default on bare Enter), D runs "diff -u"
// and re-prompts, Z spawns $SHELL and re-prompts.
type TTYPrompter struct {
	In  io.Reader
	Out io.Writer
}

func (t TTYPrompter) Prompt(onDiskPath, newPath string) (Decision, error) {
	r := bufio.NewReader(t.In)
	for {
		fmt.Fprintf(t.Out, "Configuration file %q differs from the package's version.\n", onDiskPath)
		fmt.Fprint(t.Out, "  Y/I  : install the package maintainer's version\n")
		fmt.Fprint(t.Out, "  N/O  : keep the currently-installed version (default)\n")
		fmt.Fprint(t.Out, "  D    : show the differences\n")
		fmt.Fprint(t.Out, "  Z    : start a shell to examine the situation\n")
		fmt.Fprint(t.Out, "What do you want to do? [N] ")

		line, _ := r.ReadString('\n')
		switch strings.ToUpper(strings.TrimSpace(line)) {
		case "Y", "I":
			return DecisionInstallNew, nil
		case "", "N", "O":
			return DecisionKeepOld, nil
		case "D":
			cmd := exec.Command("diff", "-u", onDiskPath, newPath)
			cmd.Stdout = t.Out
			cmd.Stderr = t.Out
			cmd.Run()
		case "Z":
			shell := os.Getenv("SHELL")
			if shell == "" {
				shell = "/bin/sh"
			}
			cmd := exec.Command(shell)
			cmd.Stdin = os.Stdin
			cmd.Stdout = t.Out
			cmd.Stderr = os.Stderr
			cmd.Run()
		default:
			fmt.Fprintln(t.Out, "Please answer Y, I, N, O, D, or Z.")
		}
	}
}
