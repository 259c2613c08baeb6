package transaction

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aept-project/aept/internal/archive"
	"github.com/aept-project/aept/internal/auxstore"
	"github.com/aept-project/aept/internal/conffile"
	"github.com/aept-project/aept/internal/config"
	"github.com/aept-project/aept/internal/fileset"
	"github.com/aept-project/aept/internal/pathsafety"
	"github.com/aept-project/aept/internal/solver"
	"github.com/aept-project/aept/internal/statusstore"
)

const aeptNewSuffix = ".aept-new"

// Upgrade replaces an installed version of sv's package with the one at
// ipkPath, used both for genuine version changes and for a same-version
// reinstall where oldVersion == newVersion. protected accumulates every
// path this step writes and is consulted to avoid deleting a file an
// earlier step in the same transaction shipped; Upgrade both reads and
// writes it.
func Upgrade(ctx context.Context, cfg *config.Config, store *statusstore.Store, ipkPath string, sv *solver.Solvable, oldVersion string, protected *fileset.Set, prompter conffile.Prompter, forceConfnew, forceConfold bool, log Logf) error {
	name := sv.Name
	if !pathsafety.PackageNameSafe(name) {
		return fmt.Errorf("transaction: %w: %q", pathsafety.ErrUnsafeName, name)
	}
	newVersion := sv.Version

	hostTmp, chrootTmp, err := mkStepTmpDir(cfg)
	if err != nil {
		return err
	}
	defer os.RemoveAll(hostTmp)

	ipk, err := archive.Open(ipkPath)
	if err != nil {
		return err
	}
	defer ipk.Close()

	if err := extractControlTo(ipk, hostTmp); err != nil {
		return fmt.Errorf("transaction: upgrade %s: extract control: %w", name, err)
	}
	newControl := readFileString(filepath.Join(hostTmp, "control"))
	newScripts := readScripts(hostTmp)

	oldPrermHost := filepath.Join(cfg.InfoDir, name+".prerm")
	if _, err := runScript(ctx, cfg, oldPrermHost, chrootRel(cfg, oldPrermHost), "upgrade "+newVersion); err != nil {
		return fmt.Errorf("transaction: upgrade %s: old prerm: %w", name, err)
	}

	if _, err := runScript(ctx, cfg, filepath.Join(hostTmp, "preinst"), filepath.Join(chrootTmp, "preinst"), "upgrade "+oldVersion); err != nil {
		return fmt.Errorf("transaction: upgrade %s: new preinst: %w", name, err)
	}

	oldFiles, err := auxstore.ReadList(cfg.InfoDir, name)
	if err != nil {
		return fmt.Errorf("transaction: upgrade %s: read old list: %w", name, err)
	}

	newConffilePaths := conffile.ParseList(readFileString(filepath.Join(hostTmp, "conffiles")))
	newCF := new(fileset.Set)
	newCF.AddAll(newConffilePaths)
	oldCF, err := conffile.Load(cfg.InfoDir, name)
	if err != nil {
		return fmt.Errorf("transaction: upgrade %s: load old conffiles: %w", name, err)
	}

	root := cfg.RootPath("/")
	tr, closer, err := ipk.OpenData()
	if err != nil {
		return fmt.Errorf("transaction: upgrade %s: open data: %w", name, err)
	}
	if _, err := archive.ExtractAll(tr, root, archive.DataExtractFlags(cfg.IgnoreUID), newCF, aeptNewSuffix); err != nil {
		closer.Close()
		return fmt.Errorf("transaction: upgrade %s: extract data: %w", name, err)
	}
	closer.Close()

	newEntries, err := ipk.ListDataPaths()
	if err != nil {
		return fmt.Errorf("transaction: upgrade %s: list data paths: %w", name, err)
	}
	newFiles := new(fileset.Set)
	for _, e := range newEntries {
		newFiles.Add(e.Path)
	}

	var newCFEntries []conffile.Entry
	for _, p := range newConffilePaths {
		onDisk := cfg.RootPath(p)
		newPath := onDisk + aeptNewSuffix
		oldMD5 := conffile.Lookup(oldCF, onDisk)

		// The saved record always stores the shipped MD5 regardless of the
		// decision, so capture it before Apply potentially consumes the
		// .aept-new file; fall back to the on-disk file for the "no
		// .aept-new extracted" row where no .aept-new exists at all.
		shippedMD5, err := conffile.MD5(newPath)
		if err != nil {
			return err
		}
		if shippedMD5 == "" {
			shippedMD5, err = conffile.MD5(onDisk)
			if err != nil {
				return err
			}
		}

		decision, err := conffile.Resolve(oldMD5, onDisk, newPath, forceConfnew, forceConfold, prompter)
		if err != nil {
			return fmt.Errorf("transaction: upgrade %s: resolve conffile %s: %w", name, p, err)
		}
		if decision == conffile.DecisionDefer {
			logf(log, "warning: %s: conffile %s left as %s for review", name, onDisk, newPath)
		}
		if err := conffile.Apply(decision, onDisk, newPath); err != nil {
			return fmt.Errorf("transaction: upgrade %s: apply conffile %s: %w", name, p, err)
		}

		newCFEntries = append(newCFEntries, conffile.Entry{Path: onDisk, MD5: shippedMD5})
	}

	for _, e := range oldFiles {
		path := e.Path
		if protected != nil && protected.Contains(path) {
			continue
		}
		onDisk := onDiskPath(cfg, path)
		if onDisk == "" {
			continue
		}
		if saved := conffile.Lookup(oldCF, onDisk); saved != "" {
			cur, err := conffile.MD5(onDisk)
			if err == nil && cur != "" && cur != saved {
				continue // user-modified conffile: preserve
			}
		}
		if newFiles.Contains(path) {
			continue
		}
		if err := os.Remove(onDisk); err != nil && !os.IsNotExist(err) {
			logf(log, "warning: %s: remove stale %s: %v", name, onDisk, err)
		}
	}

	if protected != nil {
		protected.AddAll(newFiles.Paths())
	}

	oldPostrmHost := filepath.Join(cfg.InfoDir, name+".postrm")
	if _, err := runScript(ctx, cfg, oldPostrmHost, chrootRel(cfg, oldPostrmHost), "upgrade "+newVersion); err != nil {
		logf(log, "warning: %s: old postrm failed: %v", name, err)
	}

	// The old scripts are gone only now: the old postrm above still had to
	// run out of info_dir.
	if err := auxstore.RemoveInfoFiles(cfg.InfoDir, name); err != nil {
		return fmt.Errorf("transaction: upgrade %s: remove old info: %w", name, err)
	}
	if err := auxstore.WriteControlAndScripts(cfg.InfoDir, name, newControl, newScripts["preinst"], newScripts["postinst"], newScripts["prerm"], newScripts["postrm"]); err != nil {
		return err
	}
	if err := auxstore.WriteList(cfg.InfoDir, name, newEntries); err != nil {
		return err
	}
	if err := conffile.Save(cfg.InfoDir, name, newCFEntries); err != nil {
		return err
	}

	state := statusstore.StateInstalled
	newPostinstHost := filepath.Join(cfg.InfoDir, name+".postinst")
	if ran, err := runScript(ctx, cfg, newPostinstHost, chrootRel(cfg, newPostinstHost), "configure "+oldVersion); err != nil {
		if ran {
			logf(log, "warning: %s: new postinst failed: %v", name, err)
			state = statusstore.StateUnpacked
		} else {
			return err
		}
	}

	if store != nil {
		_ = store.Remove(name)
		if err := store.Add(newControl, state); err != nil {
			return fmt.Errorf("transaction: upgrade %s: status add: %w", name, err)
		}
	}
	return nil
}
