// Package transaction implements aept's transaction engine: the
// install/upgrade/remove steps, autoremove, and the transaction driver that
// sequences them. Each step collapses its tmpdir and archive-reader
// lifetimes into defer-based scoped guards, so the step bodies read as the
// linear sequences they are.
package transaction

import (
	"errors"
	"fmt"

	"github.com/aept-project/aept/internal/pathsafety"
	"github.com/aept-project/aept/internal/solver"
)

// Step is a sum type over what the transaction driver can do with one
// solved entry.
type Step interface {
	isStep()
	// Name is the package name this step acts on.
	Name() string
}

// InstallStep installs a package with no prior installed version.
type InstallStep struct{ Solvable *solver.Solvable }

// UpgradeStep replaces an older installed version with a newer one.
type UpgradeStep struct {
	Solvable *solver.Solvable
	Old      string
}

// DowngradeStep replaces a newer installed version with an older one
// (only reachable when config.AllowDowngrade is set).
type DowngradeStep struct {
	Solvable *solver.Solvable
	Old      string
}

// RemoveStep removes an installed package with nothing replacing it.
type RemoveStep struct{ NamedPackage string }

// erasedStep is the "erase side" of an in-place Upgrade/Downgrade
// replacement, skipped during execution: the Upgrade/Downgrade step handles
// both sides atomically. It is unexported: Classify never needs to hand one
// to a caller, since the solver folds the erase side directly into
// UpgradeStep/DowngradeStep rather than emitting a separate transaction
// entry for it (see Classify).
type erasedStep struct {
	Solvable   *solver.Solvable
	ReplacedBy *solver.Solvable
}

func (InstallStep) isStep()   {}
func (UpgradeStep) isStep()   {}
func (DowngradeStep) isStep() {}
func (RemoveStep) isStep()    {}
func (erasedStep) isStep()    {}

func (s InstallStep) Name() string   { return s.Solvable.Name }
func (s UpgradeStep) Name() string   { return s.Solvable.Name }
func (s DowngradeStep) Name() string { return s.Solvable.Name }
func (s RemoveStep) Name() string    { return s.NamedPackage }
func (s erasedStep) Name() string    { return s.Solvable.Name }

// ErrUnsafeName re-exports pathsafety's sentinel under this package so
// callers that only import internal/transaction can errors.Is against it.
var ErrUnsafeName = pathsafety.ErrUnsafeName

// ErrInterrupted is returned when a caller's context is cancelled between
// transaction steps. In-flight steps always complete; the loop polls
// ctx.Err() only at step boundaries.
var ErrInterrupted = errors.New("transaction interrupted")

// Classify turns the solver's flat (Install, Remove) transaction into the
// Step sum type. Every solved Install entry is classified against the
// pool's installed set: absent -> InstallStep; present at a lower EVR ->
// UpgradeStep{Old}; present at a higher EVR -> DowngradeStep{Old}; present
// at the same EVR -> no step at all (nothing to do). Every solved Remove
// entry becomes a RemoveStep: the solver keeps install/upgrade and remove
// as disjoint job kinds, so a JobRemove never also produces a same-named
// Install entry and erasedStep is never constructed here.
func Classify(tx *solver.Transaction, pool *solver.Pool) ([]Step, error) {
	var steps []Step
	for _, sv := range tx.Install {
		old, installed := pool.InstalledVersion(sv.Name)
		if !installed {
			steps = append(steps, InstallStep{Solvable: sv})
			continue
		}
		if old == sv.Version {
			continue // already at this version: nothing to do
		}
		cmp, err := solver.CompareVersions(sv.Version, old)
		if err != nil {
			return nil, fmt.Errorf("transaction: classify %s: %w", sv.Name, err)
		}
		if cmp > 0 {
			steps = append(steps, UpgradeStep{Solvable: sv, Old: old})
		} else {
			steps = append(steps, DowngradeStep{Solvable: sv, Old: old})
		}
	}
	for _, name := range tx.Remove {
		steps = append(steps, RemoveStep{NamedPackage: name})
	}
	return steps, nil
}
