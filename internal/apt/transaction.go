package apt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Transaction drives a Cache through a batch of selections and a single
// commit. Every mark operation leaves the cache with no broken packages,
// reverting the selection when it cannot.
type Transaction struct {
	cache  Cache
	logger *slog.Logger

	mu        sync.Mutex
	committed bool
}

// NewTransaction wraps cache. A nil logger uses slog.Default().
func NewTransaction(cache Cache, logger *slog.Logger) *Transaction {
	if logger == nil {
		logger = slog.Default()
	}
	return &Transaction{cache: cache, logger: logger}
}

// Cache returns the underlying cache.
func (t *Transaction) Cache() Cache { return t.cache }

// MarkInstall selects name for installation. Unknown and already installed
// packages are left alone. When the cache rejects the selection or it
// breaks other packages, the selection is reverted and false is returned;
// that is not an error. ErrCacheInconsistent is returned only if the revert
// itself fails to restore consistency.
func (t *Transaction) MarkInstall(name string) (bool, error) {
	if !t.cache.Has(name) || t.cache.IsInstalled(name) {
		return false, nil
	}
	err := t.cache.MarkInstall(name)
	if err == nil && t.cache.BrokenCount() == 0 {
		return true, nil
	}
	t.logger.Warn("cannot install package, keeping current state",
		"package", name, "error", err, "broken", t.cache.Broken())
	t.cache.MarkKeep(name)
	if n := t.cache.BrokenCount(); n > 0 {
		return false, fmt.Errorf("reverting %s left %d broken packages: %w", name, n, ErrCacheInconsistent)
	}
	return false, nil
}

// MarkInstallAll calls MarkInstall for every name and returns those that
// were selected.
func (t *Transaction) MarkInstallAll(names []string) ([]string, error) {
	var marked []string
	for _, name := range names {
		ok, err := t.MarkInstall(name)
		if err != nil {
			return marked, err
		}
		if ok {
			marked = append(marked, name)
		}
	}
	return marked, nil
}

// MarkRemove selects the installed members of set for purge. A removal
// that breaks other packages is extended, once, to those packages when
// recursive is set or when all of them are themselves still waiting in
// set; otherwise, or when the extension breaks more packages, it is
// reverted. Passes repeat over the packages not yet
// removed, because earlier removals change what later ones break, until a
// pass removes nothing. It returns every package selected for removal.
func (t *Transaction) MarkRemove(set []string, recursive bool) ([]string, error) {
	remaining := make(map[string]bool, len(set))
	for _, name := range set {
		remaining[name] = true
	}
	all := make(map[string]bool)

	// each productive pass removes at least one requested package
	maxPasses := len(remaining) + 1
	for pass := 1; pass <= maxPasses; pass++ {
		removed := make(map[string]bool)
		for _, name := range sortedKeys(remaining) {
			if !t.cache.Has(name) || !t.cache.IsInstalled(name) {
				continue
			}
			extended, ok := t.removeOne(name, remaining, recursive)
			if ok {
				removed[name] = true
				for _, e := range extended {
					removed[e] = true
				}
			}
			if n := t.cache.BrokenCount(); n > 0 {
				return sortedKeys(all), fmt.Errorf("removing %s left %d broken packages: %w", name, n, ErrCacheInconsistent)
			}
		}
		t.logger.Debug("removal pass finished", "pass", pass, "removed", len(removed), "remaining", len(remaining))
		if len(removed) == 0 {
			break
		}
		before := len(remaining)
		for name := range removed {
			all[name] = true
			delete(remaining, name)
		}
		if len(remaining) == before || len(remaining) == 0 {
			break
		}
	}
	return sortedKeys(all), nil
}

// removeOne marks name for purge. When that breaks other packages, the
// removal is extended once to the packages broken at that point, where
// allowed. Anything still broken afterwards reverts every mark it made.
func (t *Transaction) removeOne(name string, remaining map[string]bool, recursive bool) ([]string, bool) {
	if err := t.cache.MarkDelete(name, false, true); err != nil {
		t.logger.Warn("cannot remove package", "package", name, "error", err)
		t.cache.MarkKeep(name)
		return nil, false
	}
	if t.cache.BrokenCount() == 0 {
		return nil, true
	}

	broken := t.cache.Broken()
	var extended []string
	var failed error
	if recursive || subset(broken, remaining) {
		for _, b := range broken {
			extended = append(extended, b)
			if err := t.cache.MarkDelete(b, false, true); err != nil {
				failed = err
				break
			}
		}
		if failed == nil {
			if n := t.cache.BrokenCount(); n > 0 {
				failed = fmt.Errorf("still %d broken after removing %v", n, broken)
			}
		}
	} else {
		failed = fmt.Errorf("would break %v", broken)
	}
	if failed == nil {
		return extended, true
	}

	t.logger.Info("reverting package removal", "package", name, "extended", extended, "reason", failed)
	for _, b := range extended {
		t.cache.MarkKeep(b)
	}
	t.cache.MarkKeep(name)
	return nil, false
}

// Update refreshes the package indices.
func (t *Transaction) Update(ctx context.Context, fetch FetchObserver) (bool, error) {
	return t.cache.Update(ctx, fetch)
}

// Changes returns the pending selections.
func (t *Transaction) Changes() Changes { return t.cache.Changes() }

// Commit applies the selections. It may be called once.
func (t *Transaction) Commit(ctx context.Context, fetch FetchObserver, install InstallObserver) (bool, error) {
	t.mu.Lock()
	if t.committed {
		t.mu.Unlock()
		return false, ErrCommitted
	}
	t.committed = true
	t.mu.Unlock()

	if fetch == nil {
		fetch = NopFetch{}
	}
	if install == nil {
		install = NopInstall{}
	}
	ok, err := t.cache.Commit(ctx, fetch, install)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return false, err
		}
		var te *TransactionError
		if !errors.As(err, &te) {
			err = &TransactionError{Phase: "install", Err: err}
		}
		return false, err
	}
	if !ok {
		t.logger.Warn("package transaction failed", "changes", t.cache.Changes())
	}
	return ok, nil
}

func subset(names []string, set map[string]bool) bool {
	for _, n := range names {
		if !set[n] {
			return false
		}
	}
	return true
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
