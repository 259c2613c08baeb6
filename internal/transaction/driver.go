package transaction

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"github.com/aept-project/aept/internal/archive"
	"github.com/aept-project/aept/internal/auxstore"
	"github.com/aept-project/aept/internal/checksum"
	"github.com/aept-project/aept/internal/conffile"
	"github.com/aept-project/aept/internal/config"
	"github.com/aept-project/aept/internal/download"
	"github.com/aept-project/aept/internal/fileset"
	"github.com/aept-project/aept/internal/repoindex"
	"github.com/aept-project/aept/internal/solver"
	"github.com/aept-project/aept/internal/statusstore"
)

// readLocalControl extracts just the "control" file out of a local .ipk's
// control.tar member, the minimal read Plan needs to register it as a
// solver candidate before any install/upgrade step touches the filesystem.
func readLocalControl(ipkPath string) (string, error) {
	ipk, err := archive.Open(ipkPath)
	if err != nil {
		return "", err
	}
	defer ipk.Close()

	hostTmp, err := os.MkdirTemp("", "aept-local-")
	if err != nil {
		return "", fmt.Errorf("transaction: mkdtemp: %w", err)
	}
	defer os.RemoveAll(hostTmp)

	if err := extractControlTo(ipk, hostTmp); err != nil {
		return "", fmt.Errorf("transaction: read local %s: %w", ipkPath, err)
	}
	return readFileString(filepath.Join(hostTmp, "control")), nil
}

// Summary reports how many packages a planned transaction touches, for the
// "N to install, M to upgrade, K to remove" confirmation prompt.
type Summary struct {
	Install   int
	Upgrade   int
	Downgrade int
	Remove    int
}

func summarize(steps []Step) Summary {
	var s Summary
	for _, st := range steps {
		switch st.(type) {
		case InstallStep:
			s.Install++
		case UpgradeStep:
			s.Upgrade++
		case DowngradeStep:
			s.Downgrade++
		case RemoveStep:
			s.Remove++
		}
	}
	return s
}

// Driver sequences the plan/confirm/download/execute pipeline across one
// or more named package requests. It is held open across a single aept
// invocation and talks to the package store, auto/pin sets, and network
// client it is constructed with.
type Driver struct {
	Config *config.Config
	Store  *statusstore.Store
	Auto   *auxstore.AutoSet
	Pins   *auxstore.PinSet
	Client *http.Client

	// ForceDepends makes a single force-depends retry available to Solve
	// and makes per-step failures during execution non-fatal.
	ForceDepends bool
	// AllowDowngrade extends d.Config.AllowDowngrade for a single call
	// without mutating the shared Config (the --allow-downgrade flag).
	AllowDowngrade bool
	// Confirm is asked to approve a plan whenever it affects more
	// packages than were explicitly named; nil always proceeds.
	Confirm func(steps []Step, summary Summary) bool
	// Prompter resolves conffile conflicts during Upgrade steps; nil
	// falls back to conffile.TTYPrompter{In: os.Stdin, Out: os.Stdout}
	// when stdin is a terminal, and to the defer decision otherwise.
	Prompter conffile.Prompter
	// NonInteractive suppresses both the plan confirmation and the
	// conffile prompt (conflicts defer, leaving .aept-new in place).
	NonInteractive bool
	ForceConfnew   bool
	ForceConfold   bool
	NoAction       bool
	DownloadOnly   bool
	NoCache        bool
	Purge          bool
	Log            Logf
}

// Plan resolves names and local .ipk paths (both empty for an upgrade-all)
// against the loaded indices and the status store, returning the classified
// step list a caller can summarize, confirm, and hand to execute. Local
// paths register through solver.Pool.LoadLocal so a command-line .ipk flows
// through resolution exactly like a repo package.
func (d *Driver) Plan(ctx context.Context, kind solver.JobKind, names []string, localPaths []string) (*solver.Pool, []Step, error) {
	pool := solver.New(d.Config.Archs)
	pool.LoadInstalled(d.Store.InstalledStream())
	for _, src := range d.Config.Sources {
		if !strings.HasPrefix(src.URL, "https://") {
			logf(d.Log, "warning: source %q (%s) is not HTTPS", src.Name, src.URL)
		}
	}
	if err := repoindex.LoadAll(pool, d.Config); err != nil {
		return nil, nil, err
	}

	var localIDs []*solver.Solvable
	for _, path := range localPaths {
		control, err := readLocalControl(path)
		if err != nil {
			return nil, nil, err
		}
		sv := pool.LoadLocal(control)
		sv.Record.Set("Filename", path)
		localIDs = append(localIDs, sv)
	}

	pins := make(map[string]string)
	if d.Pins != nil {
		for _, p := range d.Pins.All() {
			pins[p.Name] = p.Version
		}
	}

	job := solver.Job{Kind: kind, Names: names, LocalIDs: localIDs, Pins: pins, AllowDowngrade: d.Config.AllowDowngrade || d.AllowDowngrade}
	tx, err := pool.Solve(job, d.ForceDepends)
	if err != nil {
		return nil, nil, err
	}
	steps, err := Classify(tx, pool)
	if err != nil {
		return nil, nil, err
	}
	return pool, steps, nil
}

// Run executes the full plan/confirm/download/execute pipeline for an
// install/upgrade/remove request against names and local .ipk paths (all
// empty for an upgrade-all). requested holds the names the caller gave
// explicitly, used to decide whether a step was pulled in incidentally (and
// should be auto-marked) and whether the plan needs confirmation beyond
// what was asked for.
func (d *Driver) Run(ctx context.Context, kind solver.JobKind, names []string, localPaths []string) ([]Step, error) {
	requested := make(map[string]bool, len(names))
	for _, n := range names {
		requested[n] = true
	}

	_, steps, err := d.Plan(ctx, kind, names, localPaths)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return steps, nil
	}

	summary := summarize(steps)
	if !d.NonInteractive && d.Confirm != nil && len(steps) > len(requested) {
		if !d.Confirm(steps, summary) {
			return nil, nil
		}
	}
	if d.NoAction {
		return steps, nil
	}

	// An explicit request is a manual install, even if the package was
	// previously pulled in as a dependency.
	if d.Auto != nil {
		for _, n := range names {
			if d.Auto.Is(n) {
				if err := d.Auto.Unmark(n); err != nil {
					return nil, err
				}
			}
		}
	}

	downloaded, err := d.download(ctx, steps)
	if err != nil {
		return nil, err
	}
	if d.DownloadOnly {
		return steps, nil
	}

	return steps, d.execute(ctx, steps, downloaded, requested)
}

// download fetches and checksum-verifies every install/upgrade step's .ipk
// into cache_dir before anything touches the filesystem, aborting the whole
// transaction on the first failure: a half-applied transaction is worse
// than none.
func (d *Driver) download(ctx context.Context, steps []Step) (map[string]string, error) {
	paths := make(map[string]string, len(steps))
	for _, st := range steps {
		var sv *solver.Solvable
		switch s := st.(type) {
		case InstallStep:
			sv = s.Solvable
		case UpgradeStep:
			sv = s.Solvable
		case DowngradeStep:
			sv = s.Solvable
		default:
			continue
		}

		if sv.Local {
			paths[sv.Name] = sv.Record.Get("Filename")
			continue
		}

		// CacheDir is already offline-rooted by ApplyOfflineRoot.
		dest := filepath.Join(d.Config.CacheDir, repoindex.CacheFilename(sv))
		if err := ctx.Err(); err != nil {
			return nil, ErrInterrupted
		}
		if _, err := os.Stat(dest); err == nil && !d.NoCache {
			if checkCached(dest, sv) {
				paths[sv.Name] = dest
				continue
			}
		}

		url, err := repoindex.DownloadURL(d.Config, sv)
		if err != nil {
			return nil, err
		}
		if err := download.Download(ctx, d.Client, url, dest, sv.Name, logf2(d.Log)); err != nil {
			return nil, err
		}
		if sum, alg := indexChecksum(sv); sum != "" {
			if err := checksum.Verify(dest, sum, alg); err != nil {
				return nil, fmt.Errorf("transaction: download %s: %w", sv.Name, err)
			}
		}
		paths[sv.Name] = dest
	}
	return paths, nil
}

// indexChecksum returns the checksum the Packages record declares for sv,
// preferring SHA256 over MD5Sum when both are present.
func indexChecksum(sv *solver.Solvable) (string, checksum.Algorithm) {
	if sum := sv.Record.Get("SHA256"); sum != "" {
		return sum, checksum.SHA256
	}
	return sv.Record.Get("MD5Sum"), checksum.MD5
}

func checkCached(path string, sv *solver.Solvable) bool {
	sum, alg := indexChecksum(sv)
	if sum == "" {
		return true
	}
	return checksum.Verify(path, sum, alg) == nil
}

func logf2(l Logf) download.Logf {
	if l == nil {
		return nil
	}
	return download.Logf(l)
}

// execute runs steps in solver order, never reordering them (solver.Pool
// already interleaved installs and removes correctly), maintains the
// running protected set across the whole transaction, and auto-marks per
// the explicit request set.
func (d *Driver) execute(ctx context.Context, steps []Step, paths map[string]string, requested map[string]bool) error {
	protected := new(fileset.Set)
	for _, st := range steps {
		if err := ctx.Err(); err != nil {
			return ErrInterrupted
		}
		switch s := st.(type) {
		case InstallStep:
			if err := Install(ctx, d.Config, d.Store, paths[s.Solvable.Name], s.Solvable, "", protected, d.Log); err != nil {
				if d.ForceDepends {
					logf(d.Log, "warning: install %s failed, continuing: %v", s.Name(), err)
					continue
				}
				return err
			}
			d.discardIfNoCache(s.Solvable, paths)
			if !requested[s.Name()] && d.Auto != nil {
				if err := d.Auto.Mark(s.Name()); err != nil {
					return err
				}
			}
		case UpgradeStep:
			if err := Upgrade(ctx, d.Config, d.Store, paths[s.Solvable.Name], s.Solvable, s.Old, protected, d.prompter(), d.ForceConfnew, d.ForceConfold, d.Log); err != nil {
				if d.ForceDepends {
					logf(d.Log, "warning: upgrade %s failed, continuing: %v", s.Name(), err)
					continue
				}
				return err
			}
			d.discardIfNoCache(s.Solvable, paths)
		case DowngradeStep:
			if err := Upgrade(ctx, d.Config, d.Store, paths[s.Solvable.Name], s.Solvable, s.Old, protected, d.prompter(), d.ForceConfnew, d.ForceConfold, d.Log); err != nil {
				if d.ForceDepends {
					logf(d.Log, "warning: downgrade %s failed, continuing: %v", s.Name(), err)
					continue
				}
				return err
			}
			d.discardIfNoCache(s.Solvable, paths)
		case RemoveStep:
			if err := Remove(ctx, d.Config, d.Store, d.Auto, d.Pins, s.NamedPackage, "", protected, d.Purge, d.Log); err != nil {
				if d.ForceDepends {
					logf(d.Log, "warning: remove %s failed, continuing: %v", s.Name(), err)
					continue
				}
				return err
			}
		}
	}
	return nil
}

// discardIfNoCache unlinks a cached .ipk once its step has run: under
// no_cache the cache never retains a used package. Local command-line
// packages are never deleted.
func (d *Driver) discardIfNoCache(sv *solver.Solvable, paths map[string]string) {
	if !d.NoCache || sv.Local {
		return
	}
	if p := paths[sv.Name]; p != "" {
		os.Remove(p)
	}
}

func (d *Driver) prompter() conffile.Prompter {
	if d.Prompter != nil {
		return d.Prompter
	}
	if d.NonInteractive || !term.IsTerminal(int(os.Stdin.Fd())) {
		return nil // conffile.Resolve treats a nil prompter as defer
	}
	return conffile.TTYPrompter{In: os.Stdin, Out: os.Stdout}
}

// Reinstall re-applies the currently installed version of each name: a
// second pass through Upgrade with old version == new version. Conffile
// resolution still runs, just against identical MD5s — every row collapses
// to "identical, no-op" unless the on-disk file was locally modified. When
// no known candidate has the installed version, the highest candidate the
// solver picks is applied instead.
func (d *Driver) Reinstall(ctx context.Context, names []string) ([]Step, error) {
	pool := solver.New(d.Config.Archs)
	pool.LoadInstalled(d.Store.InstalledStream())
	if err := repoindex.LoadAll(pool, d.Config); err != nil {
		return nil, err
	}

	var steps []Step
	paths := make(map[string]string, len(names))
	for _, name := range names {
		old, ok := pool.InstalledVersion(name)
		if !ok {
			return nil, fmt.Errorf("transaction: reinstall %s: not installed", name)
		}
		job := solver.Job{Kind: solver.JobInstall, Names: []string{name}, Pins: map[string]string{name: old}}
		tx, err := pool.Solve(job, false)
		if err != nil {
			return nil, err
		}
		var sv *solver.Solvable
		for _, cand := range tx.Install {
			if cand.Name == name {
				sv = cand
				break
			}
		}
		if sv == nil {
			return nil, fmt.Errorf("transaction: reinstall %s: no candidate found", name)
		}
		steps = append(steps, UpgradeStep{Solvable: sv, Old: old})
		url, err := repoindex.DownloadURL(d.Config, sv)
		if err != nil {
			return nil, err
		}
		dest := filepath.Join(d.Config.CacheDir, repoindex.CacheFilename(sv))
		if err := download.Download(ctx, d.Client, url, dest, name, logf2(d.Log)); err != nil {
			return nil, err
		}
		paths[name] = dest
	}

	if d.NoAction {
		return steps, nil
	}
	protected := new(fileset.Set)
	for _, st := range steps {
		s := st.(UpgradeStep)
		if err := Upgrade(ctx, d.Config, d.Store, paths[s.Solvable.Name], s.Solvable, s.Old, protected, d.prompter(), d.ForceConfnew, d.ForceConfold, d.Log); err != nil {
			return steps, err
		}
	}
	return steps, nil
}

