package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
)

// readManifest returns the package names of a filesystem manifest.
func readManifest(path string) (map[string]bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	out := make(map[string]bool)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := sc.Text()
		if strings.TrimSpace(line) == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out[strings.Fields(line)[0]] = true
	}
	return out, sc.Err()
}

// Extras returns the packages only the live system needs: those in the
// live manifest but not the desktop one, minus anything the installer
// installed itself.
func (in *Installer) Extras() ([]string, error) {
	live, err := readManifest(in.cfg.Paths.Manifest)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading live manifest: %w", err)
	}
	desktop, err := readManifest(in.cfg.Paths.ManifestDesktop)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading desktop manifest: %w", err)
	}
	keep, err := in.record.Load()
	if err != nil {
		return nil, err
	}
	var out []string
	for pkg := range live {
		if !desktop[pkg] && !keep[pkg] {
			out = append(out, pkg)
		}
	}
	sort.Strings(out)
	return out, nil
}

// extrasStage removes live-only packages. A failed removal is left for
// the user to sort out after the install.
func (in *Installer) extrasStage(ctx context.Context) error {
	extras, err := in.Extras()
	if err != nil || len(extras) == 0 {
		return err
	}
	ok, err := in.RemovePackages(ctx, "extras", extras, false)
	if err != nil {
		return err
	}
	if !ok {
		in.logger.Warn("removing live-only packages failed", "packages", extras)
	}
	return nil
}
