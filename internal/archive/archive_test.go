package archive

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/aept-project/aept/internal/fileset"
)

func writeFixtureIPK(t *testing.T, controlEntries, dataEntries []TarEntry) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "pkg.ipk")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := BuildIPK(f, controlEntries, dataEntries); err != nil {
		t.Fatalf("BuildIPK: %v", err)
	}
	return path
}

func TestListDataPaths(t *testing.T) {
	path := writeFixtureIPK(t, []TarEntry{
		{Name: "control", Body: []byte("Package: hello\nVersion: 1.0\n")},
	}, []TarEntry{
		{Name: "./usr/bin/hello", Mode: 0755, Body: []byte("#!/bin/sh\n")},
	})

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	entries, err := r.ListDataPaths()
	if err != nil {
		t.Fatalf("ListDataPaths: %v", err)
	}
	if len(entries) != 1 || entries[0].Path != "./usr/bin/hello" {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestExtractAllPathEscapeRefused(t *testing.T) {
	// An .ipk crafted with traversal entries must extract none of them,
	// and legitimate entries in the same archive still land correctly.
	path := writeFixtureIPK(t, nil, []TarEntry{
		{Name: "../../tmp/escape", Mode: 0644, Body: []byte("evil")},
		{Name: "./usr/bin/legit", Mode: 0755, Body: []byte("ok")},
	})

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	dest := t.TempDir()
	tr, closer, err := r.OpenData()
	if err != nil {
		t.Fatal(err)
	}
	defer closer.Close()

	if _, err := ExtractAll(tr, dest, DataExtractFlags(false), nil, ""); err != nil {
		t.Fatalf("ExtractAll: %v", err)
	}

	if _, err := os.Stat(filepath.Join(filepath.Dir(dest), "tmp", "escape")); err == nil {
		t.Error("escape entry must not have been extracted outside dest")
	}
	if _, err := os.Stat(filepath.Join(dest, "usr", "bin", "legit")); err != nil {
		t.Errorf("legitimate entry should have been extracted: %v", err)
	}
}

func TestExtractAllConffileDiversion(t *testing.T) {
	path := writeFixtureIPK(t, nil, []TarEntry{
		{Name: "./etc/srv.conf", Mode: 0644, Body: []byte("C")},
	})

	r, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Close()

	dest := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dest, "etc"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dest, "etc", "srv.conf"), []byte("B"), 0644); err != nil {
		t.Fatal(err)
	}

	var cf fileset.Set
	cf.Add("./etc/srv.conf")

	tr, closer, err := r.OpenData()
	if err != nil {
		t.Fatal(err)
	}
	defer closer.Close()

	if _, err := ExtractAll(tr, dest, DataExtractFlags(false), &cf, ".aept-new"); err != nil {
		t.Fatalf("ExtractAll: %v", err)
	}

	onDisk, err := os.ReadFile(filepath.Join(dest, "etc", "srv.conf"))
	if err != nil || !bytes.Equal(onDisk, []byte("B")) {
		t.Errorf("existing conffile should be untouched, got %q, err %v", onDisk, err)
	}
	newFile, err := os.ReadFile(filepath.Join(dest, "etc", "srv.conf.aept-new"))
	if err != nil || !bytes.Equal(newFile, []byte("C")) {
		t.Errorf("new conffile content should land in .aept-new, got %q, err %v", newFile, err)
	}
}
