package solver

import "testing"

func pkgRecord(name, version, depends, provides, conflicts string) string {
	s := "Package: " + name + "\nVersion: " + version + "\nArchitecture: noarch\n"
	if depends != "" {
		s += "Depends: " + depends + "\n"
	}
	if provides != "" {
		s += "Provides: " + provides + "\n"
	}
	if conflicts != "" {
		s += "Conflicts: " + conflicts + "\n"
	}
	return s
}

func TestLoadRepoAndInstallResolvesDepends(t *testing.T) {
	p := New([]string{"noarch"})
	repo := pkgRecord("hello", "1.0", "libfoo (>= 1.0)", "", "") + "\n" +
		pkgRecord("libfoo", "1.2", "", "", "")
	p.LoadRepo("main", repo, 0)

	tx, err := p.Solve(Job{Kind: JobInstall, Names: []string{"hello"}}, false)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(tx.Install) != 2 {
		t.Fatalf("expected 2 installs (hello + libfoo), got %d: %v", len(tx.Install), tx.Install)
	}
	// libfoo must come before hello in the topological order.
	if tx.Install[len(tx.Install)-1].Name != "hello" {
		t.Errorf("expected hello last in install order, got %v", namesOf(tx.Install))
	}
}

func TestInstallUnsatisfiedDependencyIsProblem(t *testing.T) {
	p := New([]string{"noarch"})
	p.LoadRepo("main", pkgRecord("hello", "1.0", "missing-lib", "", ""), 0)

	_, err := p.Solve(Job{Kind: JobInstall, Names: []string{"hello"}}, false)
	if err == nil {
		t.Fatal("expected an unresolved-dependency error")
	}
}

func TestInstallProvidesMatch(t *testing.T) {
	p := New([]string{"noarch"})
	p.LoadRepo("main", pkgRecord("cpython", "3.12", "", "python", ""), 0)

	tx, err := p.Solve(Job{Kind: JobInstall, Names: []string{"python"}}, false)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(tx.Install) != 1 || tx.Install[0].Name != "cpython" {
		t.Errorf("expected cpython installed via provides match, got %v", namesOf(tx.Install))
	}
}

func archRecord(name, version, arch string) string {
	return "Package: " + name + "\nVersion: " + version + "\nArchitecture: " + arch + "\n"
}

func TestInstallFiltersForeignArch(t *testing.T) {
	p := New([]string{"mips_24kc"})
	p.LoadRepo("main", archRecord("hello", "2.0", "arm_cortex-a7")+"\n"+
		archRecord("hello", "1.0", "mips_24kc"), 0)

	tx, err := p.Solve(Job{Kind: JobInstall, Names: []string{"hello"}}, false)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(tx.Install) != 1 || tx.Install[0].Architecture != "mips_24kc" {
		t.Errorf("expected the mips_24kc candidate despite the higher foreign-arch version, got %v", tx.Install)
	}

	p2 := New([]string{"mips_24kc"})
	p2.LoadRepo("main", archRecord("hello", "1.0", "arm_cortex-a7"), 0)
	if _, err := p2.Solve(Job{Kind: JobInstall, Names: []string{"hello"}}, false); err == nil {
		t.Error("expected a problem when the only candidate is for a foreign architecture")
	}
}

func TestInstallNativeArchWinsVersionTie(t *testing.T) {
	p := New([]string{"mips_24kc"})
	p.LoadRepo("main", archRecord("hello", "1.0", "all")+"\n"+
		archRecord("hello", "1.0", "mips_24kc"), 0)

	tx, err := p.Solve(Job{Kind: JobInstall, Names: []string{"hello"}}, false)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(tx.Install) != 1 || tx.Install[0].Architecture != "mips_24kc" {
		t.Errorf("expected the native-arch candidate on a version tie, got %v", tx.Install)
	}
}

func TestUpgradeAllRespectsPinLock(t *testing.T) {
	p := New([]string{"noarch"})
	p.LoadInstalled(pkgRecord("hello", "1.0", "", "", ""))
	p.LoadRepo("main", pkgRecord("hello", "2.0", "", "", ""), 0)

	tx, err := p.Solve(Job{Kind: JobUpgradeAll, Pins: map[string]string{"hello": "1.0"}}, false)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(tx.Install) != 1 || tx.Install[0].Version != "1.0" {
		t.Errorf("expected pinned package held at 1.0, got %v", tx.Install)
	}
}

func TestUpgradeAllSkipsDowngradeByDefault(t *testing.T) {
	p := New([]string{"noarch"})
	p.LoadInstalled(pkgRecord("hello", "2.0", "", "", ""))
	p.LoadRepo("main", pkgRecord("hello", "1.0", "", "", ""), 0)

	tx, err := p.Solve(Job{Kind: JobUpgradeAll}, false)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if tx.Install[0].Version != "2.0" {
		t.Errorf("expected no downgrade without AllowDowngrade, got %v", tx.Install[0].Version)
	}
}

func TestForceDependsRetryAcceptsFirstSuggestion(t *testing.T) {
	p := New([]string{"noarch"})
	p.LoadRepo("main", pkgRecord("hello", "1.0", "libfoo", "", "")+"\n"+
		pkgRecord("libfoo", "1.0", "", "", ""), 0)

	_, err := p.Solve(Job{Kind: JobInstall, Names: []string{"hello", "nonexistent"}}, false)
	if err == nil {
		t.Fatal("expected an initial problem for nonexistent")
	}

	// Under force-depends the retry drops the name the first pass reported
	// as a problem and resolves the rest.
	tx, err := p.Solve(Job{Kind: JobInstall, Names: []string{"hello", "nonexistent"}}, true)
	if err != nil {
		t.Fatalf("Solve with force-depends: %v", err)
	}
	if len(tx.Install) != 2 {
		t.Errorf("expected hello+libfoo, got %v", namesOf(tx.Install))
	}
}

func TestRemoveProvidesMatch(t *testing.T) {
	p := New([]string{"noarch"})
	p.LoadInstalled(pkgRecord("cpython", "3.12", "", "python", ""))

	tx, err := p.Solve(Job{Kind: JobRemove, Names: []string{"python"}}, false)
	if err != nil {
		t.Fatalf("Solve: %v", err)
	}
	if len(tx.Remove) != 1 || tx.Remove[0] != "cpython" {
		t.Errorf("expected cpython removed via provides match, got %v", tx.Remove)
	}
}

func namesOf(sol []*Solvable) []string {
	out := make([]string, len(sol))
	for i, s := range sol {
		out[i] = s.Name
	}
	return out
}
