package transaction

import (
	"context"

	"github.com/aept-project/aept/internal/auxstore"
	"github.com/aept-project/aept/internal/config"
	"github.com/aept-project/aept/internal/fileset"
	"github.com/aept-project/aept/internal/solver"
	"github.com/aept-project/aept/internal/statusstore"
)

// Autoremove finds every installed, auto-marked package unreachable from a
// manually-installed root, confirms, and removes each in turn. A failure
// removing one candidate stops the run unless forceDepends. confirm
// receives the candidate list and returns whether to proceed; a nil
// confirm always proceeds.
func Autoremove(ctx context.Context, cfg *config.Config, store *statusstore.Store, auto *auxstore.AutoSet, pins *auxstore.PinSet, forceDepends bool, confirm func(candidates []string) bool, log Logf) ([]string, error) {
	pool := solver.New(cfg.Archs)
	pool.LoadInstalled(store.InstalledStream())

	autoNames := make(map[string]bool)
	for name := range listAutoNames(auto) {
		autoNames[name] = true
	}

	candidates := pool.AutoremoveCandidates(autoNames)
	if len(candidates) == 0 {
		return nil, nil
	}
	if confirm != nil && !confirm(candidates) {
		return nil, nil
	}

	var removed []string
	for _, name := range candidates {
		if err := ctx.Err(); err != nil {
			return removed, ErrInterrupted
		}
		if err := Remove(ctx, cfg, store, auto, pins, name, "", new(fileset.Set), false, log); err != nil {
			if forceDepends {
				logf(log, "warning: autoremove %s failed, continuing (force-depends): %v", name, err)
				continue
			}
			return removed, err
		}
		removed = append(removed, name)
	}
	return removed, nil
}

// listAutoNames is a small adapter so Autoremove can build a name set from
// auxstore.AutoSet without that type exposing its internal map.
func listAutoNames(auto *auxstore.AutoSet) map[string]bool {
	names := make(map[string]bool)
	if auto == nil {
		return names
	}
	for _, n := range auto.Names() {
		names[n] = true
	}
	return names
}
