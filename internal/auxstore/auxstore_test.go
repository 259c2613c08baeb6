package auxstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/aept-project/aept/internal/archive"
)

func TestWriteReadListRoundTrip(t *testing.T) {
	dir := t.TempDir()
	entries := []archive.DataEntry{
		{Path: "/usr/bin/hello", Mode: 0755},
		{Path: "/etc/hello.conf", Mode: 0644},
		{Path: "/usr/lib/hello.so", Mode: 0777, SymlinkTarget: "hello.so.1"},
	}
	if err := WriteList(dir, "hello", entries); err != nil {
		t.Fatalf("WriteList: %v", err)
	}

	got, err := ReadList(dir, "hello")
	if err != nil {
		t.Fatalf("ReadList: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("expected %d entries, got %d", len(entries), len(got))
	}
	if got[2].SymlinkTarget != "hello.so.1" {
		t.Errorf("expected symlink target preserved, got %q", got[2].SymlinkTarget)
	}
	if got[0].Mode.Perm() != 0755 {
		t.Errorf("expected mode 0755, got %o", got[0].Mode.Perm())
	}
}

func TestReadListMissing(t *testing.T) {
	dir := t.TempDir()
	got, err := ReadList(dir, "nope")
	if err != nil {
		t.Fatalf("ReadList: %v", err)
	}
	if got != nil {
		t.Errorf("expected nil for missing list, got %v", got)
	}
}

func TestRemoveInfoFiles(t *testing.T) {
	dir := t.TempDir()
	for _, ext := range []string{"list", "conffiles", "control", "postinst"} {
		if err := os.WriteFile(filepath.Join(dir, "hello."+ext), []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}
	if err := RemoveInfoFiles(dir, "hello"); err != nil {
		t.Fatalf("RemoveInfoFiles: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Errorf("expected info files all removed, got %v", entries)
	}
}

func TestWriteControlAndScriptsExecutable(t *testing.T) {
	dir := t.TempDir()
	err := WriteControlAndScripts(dir, "hello", "Package: hello\n", "", "#!/bin/sh\necho hi\n", "", "")
	if err != nil {
		t.Fatalf("WriteControlAndScripts: %v", err)
	}
	info, err := os.Stat(filepath.Join(dir, "hello.postinst"))
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm()&0111 == 0 {
		t.Error("expected postinst to be executable")
	}
	if _, err := os.Stat(filepath.Join(dir, "hello.preinst")); !os.IsNotExist(err) {
		t.Error("expected no preinst file when content is empty")
	}
}

func TestAutoSetMarkUnmark(t *testing.T) {
	path := filepath.Join(t.TempDir(), "auto_installed")
	a, err := LoadAutoSet(path)
	if err != nil {
		t.Fatal(err)
	}
	if a.Is("libfoo") {
		t.Error("expected libfoo not auto-installed yet")
	}
	if err := a.Mark("libfoo"); err != nil {
		t.Fatalf("Mark: %v", err)
	}

	reloaded, err := LoadAutoSet(path)
	if err != nil {
		t.Fatal(err)
	}
	if !reloaded.Is("libfoo") {
		t.Error("expected libfoo marked auto-installed after reload")
	}

	if err := reloaded.Unmark("libfoo"); err != nil {
		t.Fatalf("Unmark: %v", err)
	}
	reloaded2, _ := LoadAutoSet(path)
	if reloaded2.Is("libfoo") {
		t.Error("expected libfoo unmarked after reload")
	}
}

func TestPinSetUpsertRemoveLongValues(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pinned")
	p, err := LoadPinSet(path)
	if err != nil {
		t.Fatal(err)
	}

	longVersion := "1.0.0-really-long-upstream-revision-string-that-exceeds-two-hundred-and-fifty-five-characters-" +
		"aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa-r1"
	if err := p.Upsert("hello", longVersion); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	reloaded, err := LoadPinSet(path)
	if err != nil {
		t.Fatal(err)
	}
	v, ok := reloaded.Lookup("hello")
	if !ok || v != longVersion {
		t.Errorf("expected untruncated pin version, got %q (ok=%v)", v, ok)
	}

	if err := reloaded.Remove("hello"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	reloaded2, _ := LoadPinSet(path)
	if _, ok := reloaded2.Lookup("hello"); ok {
		t.Error("expected pin removed after reload")
	}
}

func TestPinSetAll(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pinned")
	p, _ := LoadPinSet(path)
	p.Upsert("a", "1.0")
	p.Upsert("b", "2.0")

	all := p.All()
	if len(all) != 2 {
		t.Fatalf("expected 2 pins, got %d", len(all))
	}
}
