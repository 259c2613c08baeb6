package transaction

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aept-project/aept/internal/auxstore"
	"github.com/aept-project/aept/internal/conffile"
	"github.com/aept-project/aept/internal/config"
	"github.com/aept-project/aept/internal/fileset"
	"github.com/aept-project/aept/internal/pathsafety"
	"github.com/aept-project/aept/internal/statusstore"
)

// Remove removes the named package. newVersion is non-empty when this
// removal is the erase side of a replacement (scripts see "upgrade
// <newVersion>" instead of "remove"). protected is consulted to skip any
// path an earlier step in the same transaction has already claimed. purge,
// when set, drops the "preserve user-modified conffile" exception.
func Remove(ctx context.Context, cfg *config.Config, store *statusstore.Store, auto *auxstore.AutoSet, pins *auxstore.PinSet, name, newVersion string, protected *fileset.Set, purge bool, log Logf) error {
	if !pathsafety.PackageNameSafe(name) {
		return fmt.Errorf("transaction: %w: %q", pathsafety.ErrUnsafeName, name)
	}

	action := "remove"
	if newVersion != "" {
		action = "upgrade " + newVersion
	}

	prermHost := filepath.Join(cfg.InfoDir, name+".prerm")
	if _, err := runScript(ctx, cfg, prermHost, chrootRel(cfg, prermHost), action); err != nil {
		return fmt.Errorf("transaction: remove %s: prerm: %w", name, err)
	}

	cf, err := conffile.Load(cfg.InfoDir, name)
	if err != nil {
		return fmt.Errorf("transaction: remove %s: load conffiles: %w", name, err)
	}
	entries, err := auxstore.ReadList(cfg.InfoDir, name)
	if err != nil {
		return fmt.Errorf("transaction: remove %s: read list: %w", name, err)
	}

	for _, e := range entries {
		if !pathsafety.ArchivePathSafe(e.Path) {
			continue // self-defense: shouldn't be there, but never trust .list blindly
		}
		if protected != nil && protected.Contains(e.Path) {
			continue
		}
		onDisk := onDiskPath(cfg, e.Path)
		if onDisk == "" {
			continue
		}
		if saved := conffile.Lookup(cf, onDisk); saved != "" && !purge {
			cur, err := conffile.MD5(onDisk)
			if err == nil && cur != "" && cur != saved {
				continue // user-modified conffile, preserved unless purging
			}
		}
		if err := os.Remove(onDisk); err != nil && !os.IsNotExist(err) {
			logf(log, "debug: %s: remove %s: %v", name, onDisk, err)
		}
	}

	postrmHost := filepath.Join(cfg.InfoDir, name+".postrm")
	if _, err := runScript(ctx, cfg, postrmHost, chrootRel(cfg, postrmHost), action); err != nil {
		logf(log, "warning: %s: postrm failed: %v", name, err)
	}

	if err := auxstore.RemoveInfoFiles(cfg.InfoDir, name); err != nil {
		return fmt.Errorf("transaction: remove %s: remove info: %w", name, err)
	}

	if store != nil {
		if err := store.Remove(name); err != nil {
			return fmt.Errorf("transaction: remove %s: status remove: %w", name, err)
		}
	}
	if auto != nil {
		if err := auto.Unmark(name); err != nil {
			return fmt.Errorf("transaction: remove %s: auto unmark: %w", name, err)
		}
	}
	if pins != nil {
		if err := pins.Remove(name); err != nil {
			return fmt.Errorf("transaction: remove %s: pin remove: %w", name, err)
		}
	}
	return nil
}
