package pipeline

import (
	"context"
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/BadgerOps/liveinstall/internal/clone"
)

// CheckFreeSpace fails when the target has less room than configured.
func (in *Installer) CheckFreeSpace() error {
	need, err := in.cfg.MinFreeBytes()
	if err != nil || need == 0 {
		return err
	}
	free, err := clone.FreeSpace(in.Target())
	if err != nil {
		return fmt.Errorf("checking free space on %s: %w", in.Target(), err)
	}
	if free < need {
		return &StageFailure{
			Stage: "copy",
			Err:   fmt.Errorf("%s has %s free, %s required", in.Target(), humanize.IBytes(free), humanize.IBytes(need)),
		}
	}
	return nil
}

// Copy clones the source tree onto the target, resuming an interrupted
// copy if one is found.
func (in *Installer) Copy(ctx context.Context) (clone.Stats, error) {
	if err := in.CheckFreeSpace(); err != nil {
		return clone.Stats{}, err
	}
	if n, err := clone.RemovePartials(in.Target()); err != nil {
		return clone.Stats{}, err
	} else if n > 0 {
		in.logger.Info("removed partial files from an interrupted copy", "count", n)
	}
	c := clone.New(in.source, in.Target(), in.reporter, in.logger)
	stats, err := c.Run(ctx)
	if err != nil {
		return stats, err
	}
	in.logger.Info("copy finished",
		"entries", stats.Entries,
		"copied", stats.Copied,
		"skipped", stats.Skipped,
		"size", humanize.Bytes(uint64(stats.Bytes)),
		"duration", stats.Duration)
	return stats, nil
}

// CloneSource copies the source onto the target on its own, mounting the
// source first and unmounting it afterwards when it is not a plain
// directory.
func (in *Installer) CloneSource(ctx context.Context) (clone.Stats, error) {
	if err := in.mountSourceStage(ctx); err != nil {
		return clone.Stats{}, err
	}
	defer in.mounts.unmountAll(context.WithoutCancel(ctx))

	stats, err := in.Copy(ctx)
	if err != nil {
		return stats, err
	}
	return stats, in.unmountSourceStage(ctx)
}

func (in *Installer) copyStage(ctx context.Context) error {
	_, err := in.Copy(ctx)
	return err
}
