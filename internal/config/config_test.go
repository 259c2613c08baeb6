package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDirectives(t *testing.T) {
	dir := t.TempDir()
	confPath := filepath.Join(dir, "aept.conf")
	content := `# a comment
src/gz main https://example.com/main
src extra http://example.com/extra
option check_signature 0
option allow_downgrade 1
arch mips_24kc
arch mips_24kc
bogus directive here
`
	if err := os.WriteFile(confPath, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	var warnings []string
	cfg, err := Load(confPath, func(msg string) { warnings = append(warnings, msg) })
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(cfg.Sources) != 2 {
		t.Fatalf("expected 2 sources, got %d", len(cfg.Sources))
	}
	if !cfg.Sources[0].Gzip || cfg.Sources[0].Name != "main" {
		t.Errorf("unexpected first source: %+v", cfg.Sources[0])
	}
	if cfg.Sources[1].Gzip {
		t.Errorf("second source should not be gzip")
	}
	if cfg.CheckSignature {
		t.Error("check_signature should be false")
	}
	if !cfg.AllowDowngrade {
		t.Error("allow_downgrade should be true")
	}
	if len(cfg.Archs) != 1 || cfg.Archs[0] != "mips_24kc" {
		t.Errorf("expected deduplicated arch list, got %v", cfg.Archs)
	}
	if len(warnings) != 1 {
		t.Errorf("expected exactly one warning for the bogus directive, got %v", warnings)
	}
}

func TestApplyOfflineRootIdempotent(t *testing.T) {
	cfg := Default()
	cfg.OfflineRoot = "/tmp/offline"
	cfg.ApplyOfflineRoot()

	first := cfg.InfoDir
	cfg.ApplyOfflineRoot()
	if cfg.InfoDir != first {
		t.Errorf("ApplyOfflineRoot not idempotent: %q != %q", cfg.InfoDir, first)
	}
	if cfg.AutoFile == Default().AutoFile {
		t.Error("expected auto_file to be rewritten under offline_root")
	}
	if cfg.PinFile == Default().PinFile {
		t.Error("expected pin_file to be rewritten under offline_root")
	}
}

func TestValidateRejectsFileAsDir(t *testing.T) {
	dir := t.TempDir()
	regular := filepath.Join(dir, "not-a-dir")
	if err := os.WriteFile(regular, []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg := Default()
	cfg.InfoDir = regular
	if err := cfg.Validate(); err == nil {
		t.Error("expected Validate to reject a regular file standing in for info_dir")
	}
}

func TestLockExclusivity(t *testing.T) {
	dir := t.TempDir()
	cfg := Default()
	cfg.LockFile = filepath.Join(dir, "lock")

	l1, err := cfg.Lock()
	if err != nil {
		t.Fatalf("first Lock: %v", err)
	}
	defer l1.Unlock()

	cfg2 := Default()
	cfg2.LockFile = cfg.LockFile
	if _, err := cfg2.Lock(); err != ErrLockContended {
		t.Errorf("expected ErrLockContended, got %v", err)
	}
}
