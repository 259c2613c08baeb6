// Package solver implements aept's dependency resolver: a pool of candidate
// packages loaded from repository indices, the installed set, and local
// .ipk files, against which install/upgrade-all/remove jobs are resolved
// into a transaction whose installs are topologically ordered. EVR comparison is delegated to
// github.com/knqyf263/go-deb-version; dependency-expression parsing lives
// in internal/deb.
package solver

import (
	"fmt"
	"sort"

	debversion "github.com/knqyf263/go-deb-version"

	"github.com/aept-project/aept/internal/deb"
)

// Solvable is one candidate package: a parsed control stanza plus the
// repository it came from.
type Solvable struct {
	Name         string
	Version      string
	Architecture string
	Record       *deb.Record
	SourceIndex  int // index of the configured source passed to LoadRepo; -1 for installed and local entries
	Local        bool
}

// Pool is the resolver's working set of known packages, built up by
// LoadRepo/LoadInstalled/LoadLocal before a job is solved.
type Pool struct {
	Archs     []string
	Repos     []string // repo names, in load order
	repo      map[string][]*Solvable
	installed map[string]*Solvable
	local     []*Solvable
}

// New constructs an empty pool for the given architecture list.
func New(archs []string) *Pool {
	return &Pool{
		Archs: archs,
		repo:  make(map[string][]*Solvable),
	}
}

// LoadRepo parses a Debian Packages stream into a new named repo, recording
// sourceIndex against every Solvable it yields so a solved candidate can be
// traced back to its download URL.
func (p *Pool) LoadRepo(name string, content string, sourceIndex int) {
	p.Repos = append(p.Repos, name)
	records := deb.ParseStream(content)
	solvables := make([]*Solvable, 0, len(records))
	for _, r := range records {
		solvables = append(solvables, &Solvable{
			Name:         r.Get("Package"),
			Version:      r.Get("Version"),
			Architecture: r.Get("Architecture"),
			Record:       r,
			SourceIndex:  sourceIndex,
		})
	}
	p.repo[name] = solvables
}

// LoadInstalled parses the (already-normalized) status stream into the
// pool's installed set.
func (p *Pool) LoadInstalled(content string) {
	p.installed = make(map[string]*Solvable)
	for _, r := range deb.ParseStream(content) {
		name := r.Get("Package")
		p.installed[name] = &Solvable{
			Name:         name,
			Version:      r.Get("Version"),
			Architecture: r.Get("Architecture"),
			Record:       r,
			SourceIndex:  -1,
		}
	}
}

// LoadLocal registers a locally-provided package (parsed from a standalone
// .ipk control stanza) as a synthetic "commandline" repo entry so local
// installs flow through the same resolution path as repo installs.
func (p *Pool) LoadLocal(control string) *Solvable {
	r := deb.ParseRecord(control)
	s := &Solvable{
		Name:         r.Get("Package"),
		Version:      r.Get("Version"),
		Architecture: r.Get("Architecture"),
		Record:       r,
		SourceIndex:  -1,
		Local:        true,
	}
	p.local = append(p.local, s)
	return s
}

func (p *Pool) allCandidates() []*Solvable {
	var all []*Solvable
	for _, name := range p.Repos {
		all = append(all, p.repo[name]...)
	}
	all = append(all, p.local...)
	return all
}

// provides reports the set of virtual/real names s satisfies: its own
// Package name plus every name in its Provides field.
func provides(s *Solvable) []string {
	names := []string{s.Name}
	for _, group := range deb.ParseDependencyList(s.Record.Get("Provides")) {
		for _, c := range group {
			names = append(names, c.Name)
		}
	}
	return names
}

func satisfies(s *Solvable, constraint deb.Constraint) bool {
	matched := false
	for _, name := range provides(s) {
		if name == constraint.Name {
			matched = true
			break
		}
	}
	if !matched {
		return false
	}
	if constraint.Operator == "" || constraint.Version == "" {
		return true
	}
	cmp, err := compareVersions(s.Version, constraint.Version)
	if err != nil {
		return false
	}
	switch constraint.Operator {
	case "=":
		return cmp == 0
	case ">=":
		return cmp >= 0
	case "<=":
		return cmp <= 0
	case ">>":
		return cmp > 0
	case "<<":
		return cmp < 0
	default:
		return false
	}
}

// archSatisfies reports whether a candidate built for arch is installable
// under the pool's configured architecture list. "all" and "noarch" are
// arch-independent; an empty configured list accepts everything.
func (p *Pool) archSatisfies(arch string) bool {
	if arch == "" || arch == "all" || arch == "noarch" {
		return true
	}
	if len(p.Archs) == 0 {
		return true
	}
	for _, a := range p.Archs {
		if a == arch {
			return true
		}
	}
	return false
}

// archRank orders installable architectures by their position in the
// configured list (the first entry is native); arch-independent packages
// rank after every configured architecture.
func (p *Pool) archRank(arch string) int {
	for i, a := range p.Archs {
		if a == arch {
			return i
		}
	}
	return len(p.Archs)
}

// InstalledVersion returns the version name is installed at, and whether it
// is installed at all, letting a caller outside this package (the
// transaction driver) classify a solved Install entry as a fresh install,
// an upgrade, or a downgrade without reaching into Pool internals.
func (p *Pool) InstalledVersion(name string) (string, bool) {
	s, ok := p.installed[name]
	if !ok {
		return "", false
	}
	return s.Version, true
}

// CompareVersions exposes Debian EVR comparison to callers outside this
// package.
func CompareVersions(a, b string) (int, error) { return compareVersions(a, b) }

func compareVersions(a, b string) (int, error) {
	va, err := debversion.NewVersion(a)
	if err != nil {
		return 0, fmt.Errorf("solver: parse version %q: %w", a, err)
	}
	vb, err := debversion.NewVersion(b)
	if err != nil {
		return 0, fmt.Errorf("solver: parse version %q: %w", b, err)
	}
	return va.Compare(vb), nil
}

// bestCandidate returns the highest-EVR candidate among all known Solvables
// (repos + local) whose Provides satisfies constraint and whose architecture
// is installable under the configured list, or nil if none does. Version
// ties break toward the more-native architecture.
func (p *Pool) bestCandidate(constraint deb.Constraint) *Solvable {
	var best *Solvable
	for _, s := range p.allCandidates() {
		if !p.archSatisfies(s.Architecture) {
			continue
		}
		if !satisfies(s, constraint) {
			continue
		}
		if best == nil {
			best = s
			continue
		}
		cmp, err := compareVersions(s.Version, best.Version)
		if err != nil {
			continue
		}
		if cmp > 0 || (cmp == 0 && p.archRank(s.Architecture) < p.archRank(best.Architecture)) {
			best = s
		}
	}
	return best
}

// exactMatch returns the candidate named name at exactly version, if any —
// used for pinned installs. Candidates for an unconfigured architecture are
// not eligible even at the pinned version.
func (p *Pool) exactMatch(name, version string) *Solvable {
	var best *Solvable
	for _, s := range p.allCandidates() {
		if s.Name != name || s.Version != version {
			continue
		}
		if !p.archSatisfies(s.Architecture) {
			continue
		}
		if best == nil || p.archRank(s.Architecture) < p.archRank(best.Architecture) {
			best = s
		}
	}
	return best
}

// JobKind distinguishes the three job shapes the resolver accepts.
type JobKind int

const (
	JobUpgradeAll JobKind = iota
	JobInstall
	JobRemove
)

// Job is one resolver request: an upgrade-all, or a set of install/remove
// names plus locally-loaded Solvables to install directly.
type Job struct {
	Kind           JobKind
	Names          []string    // for Install/Remove
	LocalIDs       []*Solvable // for Install: packages from LoadLocal to install directly
	Pins           map[string]string
	AllowDowngrade bool
}

// Problem describes one unsatisfiable constraint the resolver hit.
type Problem struct {
	Name   string
	Reason string
}

// Transaction is the resolver's output: Install entries in dependency order
// (dependencies before dependents), Remove entries in reverse name order.
// Depends edges between removed packages do not affect the Remove order.
type Transaction struct {
	Install []*Solvable
	Remove  []string
}

// ErrUnresolved is returned when Solve has outstanding Problems after any
// force-depends retry.
type ErrUnresolved struct {
	Problems []Problem
}

func (e *ErrUnresolved) Error() string {
	if len(e.Problems) == 1 {
		return fmt.Sprintf("solver: unresolved: %s: %s", e.Problems[0].Name, e.Problems[0].Reason)
	}
	return fmt.Sprintf("solver: %d unresolved problems", len(e.Problems))
}

// Solve resolves job against the pool, retrying once under force-depends if
// the first pass reports problems. Any remaining problems after the one
// retry are fatal.
func (p *Pool) Solve(job Job, forceDepends bool) (*Transaction, error) {
	tx, problems := p.solveOnce(job)
	if len(problems) == 0 {
		return tx, nil
	}
	if !forceDepends {
		return nil, &ErrUnresolved{Problems: problems}
	}

	// The "first suggested solution" for an unsatisfiable request is to
	// drop it: retry with every problematic name removed from the job.
	bad := make(map[string]bool, len(problems))
	for _, pr := range problems {
		bad[pr.Name] = true
	}
	retryJob := job
	retryJob.Names = make([]string, 0, len(job.Names))
	for _, n := range job.Names {
		if !bad[n] {
			retryJob.Names = append(retryJob.Names, n)
		}
	}
	tx, problems = p.solveOnce(retryJob)
	if len(problems) > 0 {
		return nil, &ErrUnresolved{Problems: problems}
	}
	return tx, nil
}

func (p *Pool) solveOnce(job Job) (*Transaction, []Problem) {
	switch job.Kind {
	case JobUpgradeAll:
		return p.solveUpgradeAll(job)
	case JobInstall:
		return p.solveInstall(job)
	case JobRemove:
		return p.solveRemove(job)
	default:
		return nil, []Problem{{Name: "", Reason: "unknown job kind"}}
	}
}

func (p *Pool) solveUpgradeAll(job Job) (*Transaction, []Problem) {
	var picks []*Solvable
	var problems []Problem

	for name, installed := range p.installed {
		if pinned, ok := job.Pins[name]; ok {
			// Pinned packages are held at the pinned version (LOCK).
			if exact := p.exactMatch(name, pinned); exact != nil {
				picks = append(picks, exact)
			} else {
				picks = append(picks, installed)
			}
			continue
		}
		best := p.bestCandidate(deb.Constraint{Name: name})
		if best == nil {
			picks = append(picks, installed)
			continue
		}
		cmp, err := compareVersions(best.Version, installed.Version)
		if err != nil {
			problems = append(problems, Problem{Name: name, Reason: err.Error()})
			continue
		}
		if cmp < 0 && !job.AllowDowngrade {
			picks = append(picks, installed)
			continue
		}
		picks = append(picks, best)
	}

	if len(problems) > 0 {
		return nil, problems
	}
	return p.order(picks, nil), nil
}

func (p *Pool) solveInstall(job Job) (*Transaction, []Problem) {
	var roots []*Solvable
	var problems []Problem

	for _, name := range job.Names {
		if pinned, ok := job.Pins[name]; ok {
			if exact := p.exactMatch(name, pinned); exact != nil {
				roots = append(roots, exact)
				continue
			}
		}
		best := p.bestCandidate(deb.Constraint{Name: name})
		if best == nil {
			problems = append(problems, Problem{Name: name, Reason: "no candidate provides this package"})
			continue
		}
		roots = append(roots, best)
	}
	roots = append(roots, job.LocalIDs...)

	if len(problems) > 0 {
		return nil, problems
	}

	closure, closureProblems := p.expandDepends(roots)
	if len(closureProblems) > 0 {
		return nil, closureProblems
	}
	return p.order(closure, nil), nil
}

// expandDepends performs a breadth-first expansion of Depends edges from
// roots, picking the highest-EVR candidate satisfying each dependency's
// Provides match.
func (p *Pool) expandDepends(roots []*Solvable) ([]*Solvable, []Problem) {
	seen := make(map[string]*Solvable)
	queue := append([]*Solvable{}, roots...)
	var problems []Problem

	for len(queue) > 0 {
		s := queue[0]
		queue = queue[1:]
		if _, ok := seen[s.Name]; ok {
			continue
		}
		seen[s.Name] = s

		if conflict := p.conflicting(s, seen); conflict != "" {
			problems = append(problems, Problem{Name: s.Name, Reason: "conflicts with " + conflict})
			continue
		}

		for _, group := range deb.ParseDependencyList(s.Record.Get("Depends")) {
			resolved := false
			for _, alt := range group {
				if _, ok := seen[alt.Name]; ok {
					resolved = true
					break
				}
				if best := p.bestCandidate(alt); best != nil {
					queue = append(queue, best)
					resolved = true
					break
				}
			}
			if !resolved {
				problems = append(problems, Problem{Name: s.Name, Reason: "unsatisfied dependency: " + groupString(group)})
			}
		}
	}

	out := make([]*Solvable, 0, len(seen))
	for _, s := range seen {
		out = append(out, s)
	}
	return out, problems
}

func groupString(group []deb.Constraint) string {
	names := make([]string, len(group))
	for i, c := range group {
		names[i] = c.Name
	}
	return fmt.Sprintf("%v", names)
}

func (p *Pool) conflicting(s *Solvable, seen map[string]*Solvable) string {
	for _, group := range deb.ParseDependencyList(s.Record.Get("Conflicts")) {
		for _, c := range group {
			if other, ok := seen[c.Name]; ok && other.Name != s.Name {
				return c.Name
			}
		}
	}
	return ""
}

func (p *Pool) solveRemove(job Job) (*Transaction, []Problem) {
	var names []string
	for _, name := range job.Names {
		if _, ok := p.installed[name]; ok {
			names = append(names, name)
			continue
		}
		// Provides-match: remove any installed package that provides name.
		matched := false
		for installedName, s := range p.installed {
			if satisfies(s, deb.Constraint{Name: name}) {
				names = append(names, installedName)
				matched = true
			}
		}
		if !matched {
			names = append(names, name) // not installed; Remove step treats this as a no-op
		}
	}
	return p.order(nil, names), nil
}

// AutoremoveCandidates finds auto-installed packages nothing depends on:
// every installed package not in autoNames is a root; everything reachable
// from a root via Depends edges, resolved against the installed set's
// Provides, is reachable too. Installed, auto-marked packages that are not
// reached are returned, sorted by name for determinism.
func (p *Pool) AutoremoveCandidates(autoNames map[string]bool) []string {
	reached := make(map[string]bool, len(p.installed))
	var visit func(name string)
	visit = func(name string) {
		if reached[name] {
			return
		}
		reached[name] = true
		s, ok := p.installed[name]
		if !ok {
			return
		}
		for _, group := range deb.ParseDependencyList(s.Record.Get("Depends")) {
			for _, c := range group {
				for instName, inst := range p.installed {
					if satisfies(inst, c) {
						visit(instName)
						break
					}
				}
			}
		}
	}
	for name := range p.installed {
		if !autoNames[name] {
			visit(name)
		}
	}

	var candidates []string
	for name := range p.installed {
		if autoNames[name] && !reached[name] {
			candidates = append(candidates, name)
		}
	}
	sort.Strings(candidates)
	return candidates
}

// order topologically sorts installs (dependencies before dependents), ties
// broken by name for determinism. Removals are returned in reverse name
// order; their Depends edges are not consulted.
func (p *Pool) order(installs []*Solvable, removes []string) *Transaction {
	sort.Slice(installs, func(i, j int) bool { return installs[i].Name < installs[j].Name })

	byName := make(map[string]*Solvable, len(installs))
	for _, s := range installs {
		byName[s.Name] = s
	}

	var ordered []*Solvable
	visited := make(map[string]bool)
	var visit func(s *Solvable)
	visit = func(s *Solvable) {
		if visited[s.Name] {
			return
		}
		visited[s.Name] = true
		for _, group := range deb.ParseDependencyList(s.Record.Get("Depends")) {
			for _, c := range group {
				if dep, ok := byName[c.Name]; ok {
					visit(dep)
					break
				}
			}
		}
		ordered = append(ordered, s)
	}
	for _, s := range installs {
		visit(s)
	}

	sort.Strings(removes)
	reversed := make([]string, len(removes))
	for i, n := range removes {
		reversed[len(removes)-1-i] = n
	}

	return &Transaction{Install: ordered, Remove: reversed}
}
