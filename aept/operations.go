package aept

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/aept-project/aept/internal/auxstore"
	"github.com/aept-project/aept/internal/deb"
	"github.com/aept-project/aept/internal/pathsafety"
	"github.com/aept-project/aept/internal/repoindex"
	"github.com/aept-project/aept/internal/solver"
	"github.com/aept-project/aept/internal/transaction"
)

// InstallOptions carries the operation flags for install/upgrade.
type InstallOptions struct {
	Names          []string
	LocalPaths     []string
	ForceDepends   bool
	NoAction       bool
	DownloadOnly   bool
	NoCache        bool
	AllowDowngrade bool
	ForceConfnew   bool
	ForceConfold   bool
	Reinstall      bool
	NonInteractive bool
}

// Update refreshes every configured source's Packages index. Read-only
// against installed state, but still mutates lists_dir, so it takes the
// lock like any other network-touching operation.
func (c *Context) Update(ctx context.Context) error {
	return c.withLock(func() error {
		return repoindex.Update(ctx, c.Config, c.Client, transactionDownloadLogf(c))
	})
}

// Install resolves and applies opts.Names/opts.LocalPaths as an install job.
func (c *Context) Install(ctx context.Context, opts InstallOptions) ([]Step, error) {
	var steps []Step
	err := c.withLock(func() error {
		d := c.driver()
		d.ForceDepends = opts.ForceDepends
		d.NoAction = opts.NoAction
		d.DownloadOnly = opts.DownloadOnly
		d.NoCache = opts.NoCache
		d.ForceConfnew = opts.ForceConfnew
		d.ForceConfold = opts.ForceConfold
		d.AllowDowngrade = opts.AllowDowngrade
		d.NonInteractive = opts.NonInteractive

		s, err := d.Run(ctx, solver.JobInstall, opts.Names, opts.LocalPaths)
		if err != nil {
			return err
		}
		steps = s

		if opts.Reinstall && !opts.NoAction {
			covered := make(map[string]bool, len(s))
			for _, st := range s {
				covered[st.Name()] = true
			}
			var remaining []string
			for _, n := range opts.Names {
				if !covered[n] {
					remaining = append(remaining, n)
				}
			}
			if len(remaining) > 0 {
				reinstalled, err := d.Reinstall(ctx, remaining)
				if err != nil {
					return err
				}
				steps = append(steps, reinstalled...)
			}
		}
		return nil
	})
	return steps, err
}

// Upgrade resolves and applies an upgrade job; an empty opts.Names is
// upgrade-all.
func (c *Context) Upgrade(ctx context.Context, opts InstallOptions) ([]Step, error) {
	var steps []Step
	err := c.withLock(func() error {
		d := c.driver()
		d.ForceDepends = opts.ForceDepends
		d.NoAction = opts.NoAction
		d.DownloadOnly = opts.DownloadOnly
		d.NoCache = opts.NoCache
		d.ForceConfnew = opts.ForceConfnew
		d.ForceConfold = opts.ForceConfold
		d.AllowDowngrade = opts.AllowDowngrade
		d.NonInteractive = opts.NonInteractive

		kind := solver.JobUpgradeAll
		if len(opts.Names) > 0 || len(opts.LocalPaths) > 0 {
			kind = solver.JobInstall
		}
		s, err := d.Run(ctx, kind, opts.Names, opts.LocalPaths)
		steps = s
		return err
	})
	return steps, err
}

// RemoveOptions carries remove's flags.
type RemoveOptions struct {
	Names          []string
	Purge          bool
	ForceDepends   bool
	NoAction       bool
	NonInteractive bool
}

// Remove resolves and applies a removal job for opts.Names: each name
// removes the installed package of that name, or every installed package
// that Provides it. Reverse dependents are not added to the job.
func (c *Context) Remove(ctx context.Context, opts RemoveOptions) ([]Step, error) {
	var steps []Step
	err := c.withLock(func() error {
		d := c.driver()
		d.ForceDepends = opts.ForceDepends
		d.NoAction = opts.NoAction
		d.Purge = opts.Purge
		d.NonInteractive = opts.NonInteractive
		s, err := d.Run(ctx, solver.JobRemove, opts.Names, nil)
		steps = s
		return err
	})
	return steps, err
}

// Autoremove drops every auto-installed package no manually-installed
// package still depends on.
func (c *Context) Autoremove(ctx context.Context, forceDepends bool) ([]string, error) {
	var removed []string
	err := c.withLock(func() error {
		r, err := transaction.Autoremove(ctx, c.Config, c.store, c.auto, c.pins, forceDepends, c.confirmAutoremove, transaction.Logf(c.Log.Warnf))
		removed = r
		return err
	})
	return removed, err
}

func (c *Context) confirmAutoremove(candidates []string) bool {
	if c.Confirm == nil {
		return true
	}
	return c.Confirm(TransactionSummary{Remove: len(candidates)})
}

// PackageInfo is one row of List's output.
type PackageInfo struct {
	Name         string
	Version      string
	Architecture string
	Status       string
}

// List returns every installed package whose name matches pattern (a plain
// substring match; empty pattern matches everything), sorted by name.
func (c *Context) List(pattern string) []PackageInfo {
	var out []PackageInfo
	for _, r := range c.store.Records() {
		name := r.Get("Package")
		if pattern != "" && !strings.Contains(name, pattern) {
			continue
		}
		out = append(out, PackageInfo{
			Name:         name,
			Version:      r.Get("Version"),
			Architecture: r.Get("Architecture"),
			Status:       r.Get("Status"),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Show returns the full status record for name, or nil if not installed.
func (c *Context) Show(name string) *deb.Record {
	return c.store.Lookup(name)
}

// Mark sets or clears name's auto-installed bit (the `mark auto|manual`
// subcommand).
func (c *Context) Mark(name string, auto bool) error {
	if !pathsafety.PackageNameSafe(name) {
		return fmt.Errorf("aept: %w: %q", pathsafety.ErrUnsafeName, name)
	}
	return c.withLock(func() error {
		if auto {
			return c.auto.Mark(name)
		}
		return c.auto.Unmark(name)
	})
}

// Pin pins name at version.
func (c *Context) Pin(name, version string) error {
	if !pathsafety.PackageNameSafe(name) {
		return fmt.Errorf("aept: %w: %q", pathsafety.ErrUnsafeName, name)
	}
	return c.withLock(func() error { return c.pins.Upsert(name, version) })
}

// Unpin removes any pin on name.
func (c *Context) Unpin(name string) error {
	return c.withLock(func() error { return c.pins.Remove(name) })
}

// Clean deletes every cached .ipk under cache_dir.
func (c *Context) Clean() error {
	return c.withLock(c.clean)
}

func (c *Context) clean() error {
	dir := c.Config.CacheDir
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("aept: clean: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
			return fmt.Errorf("aept: clean: %w", err)
		}
	}
	return nil
}

// Files returns every archive path recorded in name's .list file.
func (c *Context) Files(name string) ([]auxstore.ListEntry, error) {
	return auxstore.ReadList(c.Config.InfoDir, name)
}

// Owns returns the name of the installed package that owns absPath, if any.
func (c *Context) Owns(absPath string) (string, error) {
	target, ok, err := pathsafety.SafeJoin(c.Config.RootPath("/"), absPath)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("aept: %w: %q", pathsafety.ErrUnsafePath, absPath)
	}
	for _, r := range c.store.Records() {
		name := r.Get("Package")
		entries, err := auxstore.ReadList(c.Config.InfoDir, name)
		if err != nil {
			return "", err
		}
		for _, e := range entries {
			resolved, ok, _ := pathsafety.SafeJoin(c.Config.RootPath("/"), e.Path)
			if ok && resolved == target {
				return name, nil
			}
		}
	}
	return "", nil
}

// PrintArchitecture returns the native (first-configured) architecture.
func (c *Context) PrintArchitecture() string {
	if len(c.Config.Archs) == 0 {
		return ""
	}
	return c.Config.Archs[0]
}

func transactionDownloadLogf(c *Context) func(format string, args ...any) {
	return c.Log.Warnf
}
