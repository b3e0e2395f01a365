package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// resumePartition returns the largest swap partition in a /proc/swaps
// listing, or "" when there is none.
func resumePartition(r io.Reader) string {
	var (
		best     string
		bestSize int64
	)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		f := strings.Fields(sc.Text())
		if len(f) < 3 || f[1] != "partition" {
			continue
		}
		size, err := strconv.ParseInt(f[2], 10, 64)
		if err != nil {
			continue
		}
		if size > bestSize {
			best, bestSize = f[0], size
		}
	}
	return best
}

// writeResume points the initramfs at the resume partition, if the target
// has an initramfs configuration directory.
func (in *Installer) writeResume() error {
	f, err := os.Open(in.cfg.Paths.Swaps)
	if err != nil {
		in.logger.Debug("no swap listing", "path", in.cfg.Paths.Swaps, "error", err)
		return nil
	}
	resume := resumePartition(f)
	f.Close()
	if resume == "" {
		return nil
	}
	for _, dir := range []string{"/etc/initramfs-tools/conf.d", "/etc/mkinitramfs/conf.d"} {
		confDir := in.targetPath(dir)
		if fi, err := os.Stat(confDir); err != nil || !fi.IsDir() {
			continue
		}
		in.logger.Info("configuring resume partition", "device", resume)
		if err := os.WriteFile(filepath.Join(confDir, "resume"), []byte("RESUME="+resume+"\n"), 0o644); err != nil {
			return fmt.Errorf("writing resume configuration: %w", err)
		}
		return nil
	}
	return nil
}

func (in *Installer) hardwareStage(ctx context.Context) error {
	if err := in.runComponent(ctx, "hardware", in.cfg.Components.HwDetect); err != nil {
		return err
	}
	in.ignore(in.reporter.Info("liveinstall/install/hardware", nil))

	if argv := in.cfg.Components.RegisterModule; len(argv) > 0 {
		if err := in.runComponent(ctx, "register-module", argv); err != nil {
			if isCancellation(err) {
				return err
			}
			in.logger.Warn("registering modules failed", "error", err)
		}
	}

	if err := in.writeResume(); err != nil {
		return err
	}

	in.chroot(ctx, "mount", "-t", "proc", "proc", "/proc")
	in.chroot(ctx, "mount", "-t", "sysfs", "sysfs", "/sys")
	defer func() {
		bg := context.WithoutCancel(ctx)
		in.chroot(bg, "umount", "/proc")
		in.chroot(bg, "umount", "/sys")
	}()
	for _, pkg := range []string{"linux-image-" + in.kernel, "linux-restricted-modules-" + in.kernel} {
		in.chroot(ctx, "dpkg-reconfigure", "-fnoninteractive", pkg)
	}
	return ctx.Err()
}
