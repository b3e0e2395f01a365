package pipeline

import (
	"context"
	"fmt"

	"github.com/BadgerOps/liveinstall/internal/apt"
)

func (in *Installer) notifyPackages(stage string, changes apt.Changes, ok bool) {
	if in.packages != nil && !changes.Empty() {
		in.packages.PackagesCommitted(stage, changes, ok)
	}
}

// RemovePackages removes names from the target, extending the removal to
// broken dependents when recursive is set. It reports on a 0-5 bar of its
// own and returns false when the package transaction failed.
func (in *Installer) RemovePackages(ctx context.Context, stage string, names []string, recursive bool) (bool, error) {
	r := in.reporter
	in.ignore(r.Start(0, 5, titleTemplate))
	defer func() { in.ignore(r.Stop()) }()
	in.ignore(r.Info("liveinstall/install/find_removables", nil))

	cache, err := in.OpenCache(ctx)
	if err != nil {
		return false, err
	}
	tx := apt.NewTransaction(cache, in.logger)
	removed, err := tx.MarkRemove(names, recursive)
	if err != nil {
		return false, fmt.Errorf("selecting packages to remove: %w", err)
	}
	in.logger.Info("packages selected for removal", "stage", stage, "requested", len(names), "removed", removed)

	in.ignore(r.Set(1))
	in.ignore(r.Region(1, 5))
	fetch := apt.NewProgressFetch(r, titleTemplate, "", "liveinstall/install/fetch_remove", in.logger)
	install := apt.NewProgressInstall(r, titleTemplate, "liveinstall/install/apt_info", "liveinstall/install/apt_error_remove", in.logger)
	changes := tx.Changes()
	ok, err := tx.Commit(ctx, fetch, install)
	in.notifyPackages(stage, changes, ok && err == nil)
	if err != nil || !ok {
		return false, err
	}
	in.ignore(r.Set(5))
	return true, nil
}
