package pipeline

import (
	"context"
	"errors"
	"os"
)

// ErrNoBootloader means none of the configured bootloader installers exist.
var ErrNoBootloader = errors.New("no bootloader installer found")

func (in *Installer) bootloaderStage(ctx context.Context) error {
	var argv []string
	for _, candidate := range in.cfg.Components.Bootloaders {
		if len(candidate) == 0 {
			continue
		}
		if _, err := os.Stat(candidate[0]); err == nil {
			argv = candidate
			break
		}
	}
	if argv == nil {
		return &StageFailure{Stage: "bootloader", Err: ErrNoBootloader}
	}

	for _, dir := range []string{"/proc", "/dev"} {
		path := in.targetPath(dir)
		if err := in.mounts.mount(ctx, path, "--bind", dir); err != nil {
			in.logger.Warn("bind mount failed", "path", path, "error", err)
			continue
		}
		defer func() {
			if err := in.mounts.unmount(context.WithoutCancel(ctx), path, true); err != nil {
				in.logger.Warn("unmounting", "path", path, "error", err)
			}
		}()
	}
	return in.runComponent(ctx, "bootloader", argv)
}
