package conffile

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestParseListSkipsUnsafePaths(t *testing.T) {
	list := ParseList("/etc/hello.conf\n../../etc/passwd\n/etc/other.conf\n")
	if len(list) != 2 {
		t.Fatalf("expected 2 safe paths, got %v", list)
	}
}

func TestLoadSaveRoundTrip(t *testing.T) {
	dir := t.TempDir()
	entries := []Entry{{Path: "/etc/hello.conf", MD5: "abc123"}}
	if err := Save(dir, "hello", entries); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := Load(dir, "hello")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(got) != 1 || got[0].MD5 != "abc123" {
		t.Errorf("unexpected round trip result: %v", got)
	}
}

func TestResolveAbsentOnDiskInstallsNew(t *testing.T) {
	dir := t.TempDir()
	onDisk := filepath.Join(dir, "hello.conf")
	d, err := Resolve("", onDisk, onDisk+".aept-new", false, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if d != DecisionInstallNew {
		t.Errorf("expected install new, got %v", d)
	}
}

func TestResolveNoAeptNewKeepsOld(t *testing.T) {
	dir := t.TempDir()
	onDisk := filepath.Join(dir, "hello.conf")
	writeFile(t, onDisk, "A")
	d, err := Resolve("", onDisk, onDisk+".aept-new", false, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if d != DecisionKeepOld {
		t.Errorf("expected keep old, got %v", d)
	}
}

func TestResolveIdenticalContentKeepsOld(t *testing.T) {
	dir := t.TempDir()
	onDisk := filepath.Join(dir, "hello.conf")
	newPath := onDisk + ".aept-new"
	writeFile(t, onDisk, "A")
	writeFile(t, newPath, "A")

	d, err := Resolve("", onDisk, newPath, false, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	// Identical content is a no-op on the live file: keep old drops the
	// .aept-new without disturbing the on-disk file.
	if d != DecisionKeepOld {
		t.Errorf("expected keep old for identical content, got %v", d)
	}
}

func TestResolveUnmodifiedSilentlyInstallsNew(t *testing.T) {
	dir := t.TempDir()
	onDisk := filepath.Join(dir, "hello.conf")
	newPath := onDisk + ".aept-new"
	writeFile(t, onDisk, "A")
	writeFile(t, newPath, "B")
	oldMD5, _ := MD5(onDisk) // old shipped version == current on-disk (unmodified by user)

	d, err := Resolve(oldMD5, onDisk, newPath, false, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if d != DecisionInstallNew {
		t.Errorf("expected silent install new for unmodified conffile, got %v", d)
	}
}

func TestResolvePackageUnchangedUserEditedKeepsOld(t *testing.T) {
	dir := t.TempDir()
	onDisk := filepath.Join(dir, "hello.conf")
	newPath := onDisk + ".aept-new"
	writeFile(t, onDisk, "user-edited")
	writeFile(t, newPath, "A") // same as what was originally shipped (old)
	oldMD5, _ := MD5(newPath) // old == new (package unchanged)

	d, err := Resolve(oldMD5, onDisk, newPath, false, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if d != DecisionKeepOld {
		t.Errorf("expected keep old (package unchanged, user edited), got %v", d)
	}
}

func TestResolveConflictingEditsDefersWithoutPrompter(t *testing.T) {
	dir := t.TempDir()
	onDisk := filepath.Join(dir, "hello.conf")
	newPath := onDisk + ".aept-new"
	writeFile(t, onDisk, "user-edited")
	writeFile(t, newPath, "new-upstream")

	d, err := Resolve("some-other-old-md5", onDisk, newPath, false, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if d != DecisionDefer {
		t.Errorf("expected defer with no TTY/prompter, got %v", d)
	}
}

func TestResolveForceConfnewOverridesPrompt(t *testing.T) {
	dir := t.TempDir()
	onDisk := filepath.Join(dir, "hello.conf")
	newPath := onDisk + ".aept-new"
	writeFile(t, onDisk, "user-edited")
	writeFile(t, newPath, "new-upstream")

	d, err := Resolve("some-other-old-md5", onDisk, newPath, true, false, nil)
	if err != nil {
		t.Fatal(err)
	}
	if d != DecisionInstallNew {
		t.Errorf("expected force_confnew to install new, got %v", d)
	}
}

func TestApplyInstallNewRenames(t *testing.T) {
	dir := t.TempDir()
	onDisk := filepath.Join(dir, "hello.conf")
	newPath := onDisk + ".aept-new"
	writeFile(t, onDisk, "old")
	writeFile(t, newPath, "new")

	if err := Apply(DecisionInstallNew, onDisk, newPath); err != nil {
		t.Fatal(err)
	}
	content, _ := os.ReadFile(onDisk)
	if string(content) != "new" {
		t.Errorf("expected new content installed, got %q", content)
	}
	if _, err := os.Stat(newPath); !os.IsNotExist(err) {
		t.Error("expected .aept-new consumed by rename")
	}
}

func TestApplyKeepOldUnlinksNew(t *testing.T) {
	dir := t.TempDir()
	onDisk := filepath.Join(dir, "hello.conf")
	newPath := onDisk + ".aept-new"
	writeFile(t, onDisk, "old")
	writeFile(t, newPath, "new")

	if err := Apply(DecisionKeepOld, onDisk, newPath); err != nil {
		t.Fatal(err)
	}
	content, _ := os.ReadFile(onDisk)
	if string(content) != "old" {
		t.Errorf("expected old content kept, got %q", content)
	}
	if _, err := os.Stat(newPath); !os.IsNotExist(err) {
		t.Error("expected .aept-new unlinked")
	}
}

func TestApplyDeferLeavesBothInPlace(t *testing.T) {
	dir := t.TempDir()
	onDisk := filepath.Join(dir, "hello.conf")
	newPath := onDisk + ".aept-new"
	writeFile(t, onDisk, "old")
	writeFile(t, newPath, "new")

	if err := Apply(DecisionDefer, onDisk, newPath); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(onDisk); err != nil {
		t.Error("expected old to remain")
	}
	if _, err := os.Stat(newPath); err != nil {
		t.Error("expected .aept-new to remain for review")
	}
}
