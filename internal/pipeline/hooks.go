package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BadgerOps/liveinstall/internal/progress"
	"github.com/BadgerOps/liveinstall/internal/sysexec"
)

// hooks lists the target-config hooks. Names containing a dot, such as
// dpkg leftovers, are skipped.
func hooks(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading hooks directory: %w", err)
	}
	var names []string
	for _, e := range entries {
		if !strings.Contains(e.Name(), ".") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

func executable(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Mode().IsRegular() && fi.Mode().Perm()&0o111 != 0
}

// hooksStage lets the live system repeat parts of its own configuration
// on the target. Hook failures are logged only.
func (in *Installer) hooksStage(ctx context.Context) error {
	dir := in.cfg.Install.HooksDir
	names, err := hooks(dir)
	if err != nil || len(names) == 0 {
		return err
	}
	r := in.reporter
	in.ignore(r.Start(0, len(names), titleTemplate))
	defer func() { in.ignore(r.Stop()) }()

	for _, name := range names {
		path := filepath.Join(dir, name)
		if !executable(path) {
			in.logger.Debug("skipping non-executable hook", "hook", path)
			in.ignore(r.Step(1))
			continue
		}
		in.ignore(r.Info("liveinstall/install/target_hook", progress.Vars{"SCRIPT": name}))
		c := sysexec.Command(path)
		c.Env = in.componentEnv()
		code, err := in.runner.Run(ctx, c)
		if err != nil {
			if isCancellation(err) {
				return err
			}
			in.logger.Warn("target hook failed to run", "hook", name, "error", err)
		} else if code != 0 {
			in.logger.Warn("target hook failed", "hook", name, "code", code)
		}
		in.ignore(r.Step(1))
	}
	return nil
}
