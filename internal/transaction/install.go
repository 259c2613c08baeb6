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

// Logf is a sink for the driver's progress/warning messages; nil is a
// valid no-op logger, matching internal/download's Logf convention.
type Logf func(format string, args ...any)

func logf(l Logf, format string, args ...any) {
	if l != nil {
		l(format, args...)
	}
}

// Install installs sv's package from ipkPath. oldVersion is "" for a fresh
// install, or the currently-installed version for a same-version reinstall
// (the scripts then see "upgrade <old_version>"). protected, if non-nil,
// receives every path this install writes, so a later Remove step in the
// same transaction does not delete it.
func Install(ctx context.Context, cfg *config.Config, store *statusstore.Store, ipkPath string, sv *solver.Solvable, oldVersion string, protected *fileset.Set, log Logf) error {
	name := sv.Name
	if !pathsafety.PackageNameSafe(name) {
		return fmt.Errorf("transaction: %w: %q", pathsafety.ErrUnsafeName, name)
	}

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
		return fmt.Errorf("transaction: install %s: extract control: %w", name, err)
	}
	control := readFileString(filepath.Join(hostTmp, "control"))
	scripts := readScripts(hostTmp)

	preinstAction := "install"
	configureAction := "configure"
	if oldVersion != "" {
		preinstAction = "upgrade " + oldVersion
		configureAction = "configure " + oldVersion
	}

	if _, err := runScript(ctx, cfg, filepath.Join(hostTmp, "preinst"), filepath.Join(chrootTmp, "preinst"), preinstAction); err != nil {
		return fmt.Errorf("transaction: install %s: preinst: %w", name, err)
	}

	root := cfg.RootPath("/")
	tr, closer, err := ipk.OpenData()
	if err != nil {
		return fmt.Errorf("transaction: install %s: open data: %w", name, err)
	}
	if _, err := archive.ExtractAll(tr, root, archive.DataExtractFlags(cfg.IgnoreUID), nil, ""); err != nil {
		closer.Close()
		return fmt.Errorf("transaction: install %s: extract data: %w", name, err)
	}
	closer.Close()

	entries, err := ipk.ListDataPaths()
	if err != nil {
		return fmt.Errorf("transaction: install %s: list data paths: %w", name, err)
	}
	if err := auxstore.WriteList(cfg.InfoDir, name, entries); err != nil {
		return err
	}

	conffilePaths := conffile.ParseList(readFileString(filepath.Join(hostTmp, "conffiles")))
	var cfEntries []conffile.Entry
	for _, p := range conffilePaths {
		onDisk := cfg.RootPath(p)
		md5, err := conffile.MD5(onDisk)
		if err != nil {
			return fmt.Errorf("transaction: install %s: md5 %s: %w", name, p, err)
		}
		cfEntries = append(cfEntries, conffile.Entry{Path: onDisk, MD5: md5})
	}
	if err := conffile.Save(cfg.InfoDir, name, cfEntries); err != nil {
		return err
	}

	if err := auxstore.WriteControlAndScripts(cfg.InfoDir, name, control, scripts["preinst"], scripts["postinst"], scripts["prerm"], scripts["postrm"]); err != nil {
		return err
	}

	state := statusstore.StateInstalled
	postinstHost := filepath.Join(cfg.InfoDir, name+".postinst")
	postinstChroot := chrootRel(cfg, postinstHost)
	if ran, err := runScript(ctx, cfg, postinstHost, postinstChroot, configureAction); err != nil {
		if ran {
			// postinst ran and failed: package stays on disk, marked
			// unpacked for reconfiguration, not a fatal install error.
			logf(log, "warning: %s postinst failed: %v", name, err)
			state = statusstore.StateUnpacked
		} else {
			return err
		}
	}

	if store != nil {
		_ = store.Remove(name)
		if err := store.Add(control, state); err != nil {
			return fmt.Errorf("transaction: install %s: status add: %w", name, err)
		}
	}

	if protected != nil {
		for _, e := range entries {
			protected.Add(e.Path)
		}
	}
	return nil
}

// extractControlTo opens ipk's control.tar.* and extracts it fully into
// dir.
func extractControlTo(ipk *archive.IPKReader, dir string) error {
	tr, closer, err := ipk.OpenControl()
	if err != nil {
		return err
	}
	defer closer.Close()
	_, err = archive.ExtractAll(tr, dir, archive.ControlExtractFlags(), nil, "")
	return err
}
