package apt

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Package is one entry of the package universe.
type Package struct {
	Name      string
	Version   string
	Installed bool
	// Available means an installable version is known from the indices.
	Available bool
	Essential bool
	// Depends holds alternatives groups: each inner slice is satisfied by
	// any one of its names.
	Depends   [][]string
	Conflicts []string
	Provides  []string
}

type mark int

const (
	markKeep mark = iota
	markInstall
	markDelete
)

// Backend applies committed changes to a real system.
type Backend interface {
	Update(ctx context.Context, fetch FetchObserver) (bool, error)
	Commit(ctx context.Context, changes Changes, fetch FetchObserver, install InstallObserver) (bool, error)
}

// Depcache is an in-memory dependency cache over a set of packages. It
// decides what is broken the way apt does: a package that will be present
// after the commit must have every dependency group satisfied and no
// conflicting package present.
type Depcache struct {
	mu        sync.Mutex
	pkgs      map[string]*Package
	providers map[string][]string
	marks     map[string]mark
	auto      map[string][]string // packages pulled in by MarkInstall of the key
	purge     bool
	backend   Backend
	logger    *slog.Logger
}

// NewDepcache builds a cache over pkgs. A nil logger uses slog.Default().
func NewDepcache(pkgs []Package, backend Backend, logger *slog.Logger) *Depcache {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Depcache{
		pkgs:      make(map[string]*Package, len(pkgs)),
		providers: make(map[string][]string),
		marks:     make(map[string]mark),
		auto:      make(map[string][]string),
		backend:   backend,
		logger:    logger,
	}
	for i := range pkgs {
		p := pkgs[i]
		d.pkgs[p.Name] = &p
	}
	d.indexProviders()
	return d
}

func (d *Depcache) indexProviders() {
	d.providers = make(map[string][]string)
	names := make([]string, 0, len(d.pkgs))
	for name := range d.pkgs {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range d.pkgs[name].Provides {
			d.providers[v] = append(d.providers[v], name)
		}
	}
}

// Package returns a copy of the named package.
func (d *Depcache) Package(name string) (Package, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pkgs[name]
	if !ok {
		return Package{}, false
	}
	return *p, true
}

// Names returns every package name in sorted order.
func (d *Depcache) Names() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	names := make([]string, 0, len(d.pkgs))
	for name := range d.pkgs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (d *Depcache) Has(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.pkgs[name]
	return ok
}

func (d *Depcache) IsInstalled(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pkgs[name]
	return ok && p.Installed
}

func (d *Depcache) MarkedInstall(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.marks[name] == markInstall
}

func (d *Depcache) MarkedDelete(name string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.marks[name] == markDelete
}

// present reports whether name will be on the system after a commit.
func (d *Depcache) present(name string) bool {
	p, ok := d.pkgs[name]
	if !ok {
		return false
	}
	switch d.marks[name] {
	case markInstall:
		return true
	case markDelete:
		return false
	}
	return p.Installed
}

// satisfied reports whether name, real or virtual, will be present.
func (d *Depcache) satisfied(name, except string) bool {
	if name != except && d.present(name) {
		return true
	}
	for _, prov := range d.providers[name] {
		if prov != except && d.present(prov) {
			return true
		}
	}
	return false
}

func (d *Depcache) broken(p *Package) bool {
	if !d.present(p.Name) {
		return false
	}
	for _, group := range p.Depends {
		ok := false
		for _, alt := range group {
			if d.satisfied(alt, "") {
				ok = true
				break
			}
		}
		if !ok {
			return true
		}
	}
	for _, c := range p.Conflicts {
		if d.satisfied(c, p.Name) {
			return true
		}
	}
	return false
}

func (d *Depcache) BrokenCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, p := range d.pkgs {
		if d.broken(p) {
			n++
		}
	}
	return n
}

// Broken returns the names of broken packages in sorted order.
func (d *Depcache) Broken() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []string
	for _, p := range d.pkgs {
		if d.broken(p) {
			out = append(out, p.Name)
		}
	}
	sort.Strings(out)
	return out
}

// MarkInstall selects name and, where possible, the dependencies it
// needs. Conflicts are not resolved; they leave the cache broken.
func (d *Depcache) MarkInstall(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pkgs[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrUnknownPackage)
	}
	if p.Installed {
		if d.marks[name] == markDelete {
			d.marks[name] = markKeep
		}
		return nil
	}
	if !p.Available {
		return fmt.Errorf("%s: %w", name, ErrNoCandidate)
	}
	d.marks[name] = markInstall
	d.auto[name] = nil
	d.installDeps(name, p, map[string]bool{name: true})
	return nil
}

func (d *Depcache) installDeps(root string, p *Package, seen map[string]bool) {
	for _, group := range p.Depends {
		satisfied := false
		for _, alt := range group {
			if d.satisfied(alt, "") {
				satisfied = true
				break
			}
		}
		if satisfied {
			continue
		}
		for _, alt := range group {
			cand := d.candidate(alt)
			if cand == nil || seen[cand.Name] {
				continue
			}
			seen[cand.Name] = true
			if cand.Installed {
				d.marks[cand.Name] = markKeep
			} else {
				d.marks[cand.Name] = markInstall
			}
			d.auto[root] = append(d.auto[root], cand.Name)
			d.installDeps(root, cand, seen)
			break
		}
	}
}

// candidate picks an installable package for name, resolving virtual
// packages through their first provider.
func (d *Depcache) candidate(name string) *Package {
	if p, ok := d.pkgs[name]; ok && (p.Available || p.Installed) {
		return p
	}
	for _, prov := range d.providers[name] {
		if p := d.pkgs[prov]; p.Available || p.Installed {
			return p
		}
	}
	return nil
}

// MarkDelete selects name for removal. With autoFix, packages broken by the
// removal are removed as well.
func (d *Depcache) MarkDelete(name string, autoFix, purge bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	p, ok := d.pkgs[name]
	if !ok {
		return fmt.Errorf("%s: %w", name, ErrUnknownPackage)
	}
	if p.Essential {
		return fmt.Errorf("%s: %w", name, ErrEssential)
	}
	if !p.Installed {
		d.marks[name] = markKeep
		return nil
	}
	d.marks[name] = markDelete
	if purge {
		d.purge = true
	}
	if !autoFix {
		return nil
	}
	for {
		fixed := false
		for _, other := range d.pkgs {
			if d.broken(other) {
				if other.Essential {
					return fmt.Errorf("%s needed by %s: %w", name, other.Name, ErrEssential)
				}
				d.marks[other.Name] = markDelete
				fixed = true
			}
		}
		if !fixed {
			return nil
		}
	}
}

// MarkKeep drops any pending change to name, along with dependencies that
// its MarkInstall pulled in.
func (d *Depcache) MarkKeep(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.marks[name] = markKeep
	for _, dep := range d.auto[name] {
		if d.marks[dep] == markInstall {
			d.marks[dep] = markKeep
		}
	}
	delete(d.auto, name)
}

func (d *Depcache) Changes() Changes {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.changes()
}

func (d *Depcache) changes() Changes {
	var c Changes
	for name, m := range d.marks {
		switch m {
		case markInstall:
			c.Install = append(c.Install, name)
		case markDelete:
			c.Remove = append(c.Remove, name)
		}
	}
	sort.Strings(c.Install)
	sort.Strings(c.Remove)
	c.Purge = d.purge && len(c.Remove) > 0
	return c
}

func (d *Depcache) Update(ctx context.Context, fetch FetchObserver) (bool, error) {
	if d.backend == nil {
		return true, nil
	}
	ok, err := d.backend.Update(ctx, fetch)
	if err != nil {
		return false, &TransactionError{Phase: "update", Err: err}
	}
	return ok, nil
}

// Commit hands the pending changes to the backend. On success the cache
// reflects the new installed state and all marks are cleared.
func (d *Depcache) Commit(ctx context.Context, fetch FetchObserver, install InstallObserver) (bool, error) {
	changes := d.Changes()
	if changes.Empty() {
		d.logger.Debug("nothing to commit")
		return true, nil
	}
	if d.backend == nil {
		return false, &TransactionError{Phase: "install", Err: fmt.Errorf("no backend configured")}
	}
	d.logger.Info("committing package changes", "install", changes.Install, "remove", changes.Remove)
	ok, err := d.backend.Commit(ctx, changes, fetch, install)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for _, name := range changes.Install {
		d.pkgs[name].Installed = true
	}
	for _, name := range changes.Remove {
		d.pkgs[name].Installed = false
	}
	d.marks = make(map[string]mark)
	d.auto = make(map[string][]string)
	d.purge = false
	return true, nil
}
