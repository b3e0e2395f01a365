package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

const installerLogDir = "/var/log/installer"

// logsStage keeps the installer's logs on the installed system, readable
// by root only. Missing logs are not an error.
func (in *Installer) logsStage(context.Context) error {
	dir := in.targetPath(installerLogDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}
	for _, src := range in.cfg.Paths.LogFiles {
		dst := filepath.Join(dir, filepath.Base(src))
		if err := copyPreserving(src, dst); err != nil {
			in.logger.Error("failed to copy installation log file", "path", src, "error", err)
			continue
		}
		if err := os.Chmod(dst, 0o600); err != nil {
			in.logger.Error("restricting log file permissions", "path", dst, "error", err)
		}
	}
	return nil
}
