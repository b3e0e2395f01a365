package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
)

const ignoreTimeConflict = "/etc/apt/apt.conf.d/00IgnoreTimeConflict"

// aptStage keeps clock skew from failing signature checks until the
// install is over, then configures the target's sources.
func (in *Installer) aptStage(ctx context.Context) error {
	conf := `Acquire::gpgv::Options { "--ignore-time-conflict"; };` + "\n"
	if err := writeFile(in.targetPath(ignoreTimeConflict), []byte(conf), 0o644); err != nil {
		return fmt.Errorf("writing apt configuration: %w", err)
	}
	return in.runComponent(ctx, "apt", in.cfg.Components.AptSetup)
}

// cleanupStage removes what earlier stages left for the duration of the
// install.
func (in *Installer) cleanupStage(context.Context) error {
	err := os.Remove(in.targetPath(ignoreTimeConflict))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing apt time-conflict override: %w", err)
	}
	return nil
}
