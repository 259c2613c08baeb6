package transaction

import (
	"context"
	"os"
	"testing"

	"github.com/aept-project/aept/internal/archive"
	"github.com/aept-project/aept/internal/auxstore"
	"github.com/aept-project/aept/internal/solver"
	"github.com/aept-project/aept/internal/statusstore"
)

func TestDriverInstallWithDependencyMarksAutoInstalled(t *testing.T) {
	// Installing "world" (which Depends: hello) leaves hello
	// auto-installed and world not.
	cfg := testConfig(t)

	helloPath := buildIPK(t, "Package: hello\nVersion: 1.0\nArchitecture: noarch\n",
		[]archive.TarEntry{{Name: "./usr/bin/hello", Mode: 0755, Body: []byte("x")}})
	worldPath := buildIPK(t, "Package: world\nVersion: 1.0\nArchitecture: noarch\nDepends: hello\n",
		[]archive.TarEntry{{Name: "./usr/bin/world", Mode: 0755, Body: []byte("x")}})

	store, err := statusstore.Load(cfg.StatusFile)
	if err != nil {
		t.Fatal(err)
	}
	auto, err := auxstore.LoadAutoSet(cfg.AutoFile)
	if err != nil {
		t.Fatal(err)
	}
	pins, err := auxstore.LoadPinSet(cfg.PinFile)
	if err != nil {
		t.Fatal(err)
	}

	d := &Driver{Config: cfg, Store: store, Auto: auto, Pins: pins}

	steps, err := d.Run(context.Background(), solver.JobInstall, []string{"world"}, []string{helloPath, worldPath})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(steps) != 2 {
		t.Fatalf("expected 2 steps, got %d: %#v", len(steps), steps)
	}

	if store.Lookup("hello") == nil || store.Lookup("world") == nil {
		t.Fatalf("both packages should be installed")
	}
	if !auto.Is("hello") {
		t.Error("hello should be auto-installed (pulled in as a dependency)")
	}
	if auto.Is("world") {
		t.Error("world should not be auto-installed (it was explicitly requested)")
	}
}

func TestDriverAutoremoveAfterRemovingDependent(t *testing.T) {
	// After installing world (-> hello auto), remove world,
	// then autoremove drops hello.
	cfg := testConfig(t)

	helloPath := buildIPK(t, "Package: hello\nVersion: 1.0\nArchitecture: noarch\n",
		[]archive.TarEntry{{Name: "./usr/bin/hello", Mode: 0755, Body: []byte("x")}})
	worldPath := buildIPK(t, "Package: world\nVersion: 1.0\nArchitecture: noarch\nDepends: hello\n",
		[]archive.TarEntry{{Name: "./usr/bin/world", Mode: 0755, Body: []byte("x")}})

	store, err := statusstore.Load(cfg.StatusFile)
	if err != nil {
		t.Fatal(err)
	}
	auto, err := auxstore.LoadAutoSet(cfg.AutoFile)
	if err != nil {
		t.Fatal(err)
	}
	pins, err := auxstore.LoadPinSet(cfg.PinFile)
	if err != nil {
		t.Fatal(err)
	}
	d := &Driver{Config: cfg, Store: store, Auto: auto, Pins: pins}

	if _, err := d.Run(context.Background(), solver.JobInstall, []string{"world"}, []string{helloPath, worldPath}); err != nil {
		t.Fatalf("install: %v", err)
	}

	if _, err := d.Run(context.Background(), solver.JobRemove, []string{"world"}, nil); err != nil {
		t.Fatalf("remove world: %v", err)
	}
	if store.Lookup("world") != nil {
		t.Fatal("world should be removed")
	}
	if store.Lookup("hello") == nil {
		t.Fatal("hello should still be installed after removing world")
	}

	removed, err := Autoremove(context.Background(), cfg, store, auto, pins, false, nil, nil)
	if err != nil {
		t.Fatalf("Autoremove: %v", err)
	}
	if len(removed) != 1 || removed[0] != "hello" {
		t.Fatalf("expected autoremove to drop hello, got %v", removed)
	}
	if store.Lookup("hello") != nil {
		t.Error("hello should be gone after autoremove")
	}
	if _, err := os.Stat(cfg.RootPath("/usr/bin/hello")); !os.IsNotExist(err) {
		t.Error("hello's file should have been unlinked")
	}
}

func TestDriverAutoremoveSurvivesMarkManual(t *testing.T) {
	// `mark manual hello` between remove and
	// autoremove means hello survives.
	cfg := testConfig(t)

	helloPath := buildIPK(t, "Package: hello\nVersion: 1.0\nArchitecture: noarch\n",
		[]archive.TarEntry{{Name: "./usr/bin/hello", Mode: 0755, Body: []byte("x")}})
	worldPath := buildIPK(t, "Package: world\nVersion: 1.0\nArchitecture: noarch\nDepends: hello\n",
		[]archive.TarEntry{{Name: "./usr/bin/world", Mode: 0755, Body: []byte("x")}})

	store, err := statusstore.Load(cfg.StatusFile)
	if err != nil {
		t.Fatal(err)
	}
	auto, err := auxstore.LoadAutoSet(cfg.AutoFile)
	if err != nil {
		t.Fatal(err)
	}
	pins, err := auxstore.LoadPinSet(cfg.PinFile)
	if err != nil {
		t.Fatal(err)
	}
	d := &Driver{Config: cfg, Store: store, Auto: auto, Pins: pins}

	if _, err := d.Run(context.Background(), solver.JobInstall, []string{"world"}, []string{helloPath, worldPath}); err != nil {
		t.Fatalf("install: %v", err)
	}
	if _, err := d.Run(context.Background(), solver.JobRemove, []string{"world"}, nil); err != nil {
		t.Fatalf("remove world: %v", err)
	}
	if err := auto.Unmark("hello"); err != nil {
		t.Fatal(err)
	}

	removed, err := Autoremove(context.Background(), cfg, store, auto, pins, false, nil, nil)
	if err != nil {
		t.Fatalf("Autoremove: %v", err)
	}
	if len(removed) != 0 {
		t.Fatalf("expected no removals once hello is manual, got %v", removed)
	}
	if store.Lookup("hello") == nil {
		t.Error("hello should survive autoremove once marked manual")
	}
}
