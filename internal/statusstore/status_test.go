package statusstore

import (
	"os"
	"path/filepath"
	"testing"
)

func TestInstalledStreamNormalizesUnpacked(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status")
	content := "Package: hello\nVersion: 1.0\nArchitecture: noarch\nStatus: install ok unpacked\n\n" +
		"Package: other\nVersion: 2.0\nArchitecture: noarch\nStatus: install ok installed\n\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	s, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	r := s.Lookup("hello")
	if r == nil {
		t.Fatal("expected to find hello")
	}
	if r.Get("Status") != "install ok unpacked" {
		t.Errorf("records must keep the on-disk state, got %q", r.Get("Status"))
	}

	stream := s.InstalledStream()
	if contains(stream, "unpacked") {
		t.Errorf("installed stream should normalize unpacked away, got %q", stream)
	}
	if !contains(stream, "Package: hello") || !contains(stream, "Package: other") {
		t.Errorf("installed stream should carry every record, got %q", stream)
	}

	// A rewrite triggered by an unrelated package must not launder hello's
	// unpacked state to installed on disk.
	if err := s.Remove("other"); err != nil {
		t.Fatal(err)
	}
	onDisk, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !contains(string(onDisk), "unpacked") {
		t.Error("on-disk status should still say unpacked after rewriting an unrelated record")
	}
}

func contains(haystack, needle string) bool {
	return len(haystack) >= len(needle) && (func() bool {
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true
			}
		}
		return false
	})()
}

func TestAddRemoveUniqueness(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status")

	s, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Add("Package: hello\nVersion: 1.0\nArchitecture: noarch\n", StateInstalled); err != nil {
		t.Fatalf("Add: %v", err)
	}

	reloaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(reloaded.Records()) != 1 {
		t.Fatalf("expected 1 record after add, got %d", len(reloaded.Records()))
	}

	if err := reloaded.Remove("hello"); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	reloaded2, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(reloaded2.Records()) != 0 {
		t.Errorf("expected 0 records after remove, got %d", len(reloaded2.Records()))
	}
}

func TestStatusRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "status")
	content := "Package: a\nVersion: 1\nArchitecture: noarch\nStatus: install ok installed\n\nPackage: b\nVersion: 2\nArchitecture: noarch\nStatus: install ok installed\n\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	s1, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := s1.save(); err != nil {
		t.Fatal(err)
	}
	s2, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if len(s1.Records()) != len(s2.Records()) {
		t.Fatalf("round trip changed record count: %d vs %d", len(s1.Records()), len(s2.Records()))
	}
	for i := range s1.Records() {
		if s1.Records()[i].Get("Package") != s2.Records()[i].Get("Package") {
			t.Errorf("round trip mismatch at %d", i)
		}
	}
}
