package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoSource means neither a source directory nor a filesystem image was
// found.
var ErrNoSource = errors.New("no source device found")

// resolveSource returns the explicit source, the first existing source
// candidate, or the mount point that mountSourceStage populates.
func (in *Installer) resolveSource() (string, bool) {
	if in.cfg.Install.Source != "" {
		return in.cfg.Install.Source, false
	}
	for _, dir := range in.cfg.Install.SourceCandidates {
		if fi, err := os.Stat(dir); err == nil && fi.IsDir() {
			return dir, false
		}
	}
	return in.cfg.Install.SourceMount, true
}

// loopDevice picks the device an image is attached to.
func loopDevice(image string) string {
	switch filepath.Ext(image) {
	case ".cloop":
		return "/dev/cloop1"
	case ".squashfs":
		return "/dev/loop3"
	}
	return ""
}

// squashfsMount returns the first squashfs mount point listed in a
// /proc/mounts style file.
func squashfsMount(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) >= 3 && fields[2] == "squashfs" {
			return fields[1], nil
		}
	}
	return "", sc.Err()
}

func (in *Installer) mountSourceStage(ctx context.Context) error {
	if !in.mountSource {
		in.logger.Info("using source directory", "source", in.source)
		return nil
	}
	if err := os.MkdirAll(in.source, 0o755); err != nil {
		return fmt.Errorf("creating source mount point: %w", err)
	}

	// A live system that already runs from a squashfs only needs a bind.
	lower, err := squashfsMount(in.cfg.Paths.Mounts)
	if err != nil {
		in.logger.Warn("reading mount table", "path", in.cfg.Paths.Mounts, "error", err)
	}
	if lower != "" {
		in.unionfs = true
		in.logger.Info("bind-mounting live filesystem", "from", lower, "source", in.source)
		return in.mounts.mount(ctx, in.source, "--bind", lower)
	}

	for _, image := range in.cfg.Install.FilesystemImages {
		fi, err := os.Stat(image)
		if err != nil || !fi.Mode().IsRegular() {
			continue
		}
		dev := loopDevice(image)
		if dev == "" {
			continue
		}
		in.logger.Info("mounting filesystem image", "image", image, "device", dev, "source", in.source)
		return in.mounts.attachLoop(ctx, dev, image, in.source)
	}
	return &StageFailure{Stage: "mount-source", Err: ErrNoSource}
}

func (in *Installer) unmountSourceStage(ctx context.Context) error {
	if !in.mountSource {
		return nil
	}
	if err := in.mounts.unmount(ctx, in.source, false); err != nil {
		return &StageFailure{Stage: "unmount-source", Err: err}
	}
	return nil
}
