package pipeline

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/BadgerOps/liveinstall/internal/debconf"
)

var (
	kernelLinkRe  = regexp.MustCompile(`^(vmlinu[xz]|initrd\.img$)`)
	kernelImageRe = regexp.MustCompile(`^(vmlinu[xz]|initrd\.img)-`)
)

// readLines returns the trimmed non-empty lines of path. A missing file
// has no lines.
func readLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if line := strings.TrimSpace(sc.Text()); line != "" {
			out = append(out, line)
		}
	}
	return out, sc.Err()
}

func removeKernelLinks(dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if kernelLinkRe.MatchString(e.Name()) && e.Type()&fs.ModeSymlink != 0 {
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				return err
			}
		}
	}
	return nil
}

// fixKernelLinks recreates the vmlinuz and initrd.img symlinks after
// kernels were removed. Links live in /boot or in /, and the running
// kernel is preferred when several are installed.
func fixKernelLinks(target string, inBoot bool, kernel string) error {
	bootDir := filepath.Join(target, "boot")
	linkDir, prefix := target, "boot"
	if inBoot {
		linkDir, prefix = bootDir, ""
	}
	if err := removeKernelLinks(linkDir); err != nil {
		return fmt.Errorf("removing old kernel links: %w", err)
	}
	if linkDir != target {
		if err := removeKernelLinks(target); err != nil {
			return fmt.Errorf("removing old kernel links: %w", err)
		}
	}

	entries, err := os.ReadDir(bootDir)
	if err != nil {
		return fmt.Errorf("reading %s: %w", bootDir, err)
	}
	for _, e := range entries {
		m := kernelImageRe.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}
		dst := filepath.Join(linkDir, m[1])
		if _, err := os.Lstat(dst); err == nil {
			if !strings.HasSuffix(e.Name(), "-"+kernel) {
				continue
			}
			if err := os.Remove(dst); err != nil {
				return err
			}
		}
		if err := os.Symlink(filepath.Join(prefix, e.Name()), dst); err != nil {
			return fmt.Errorf("linking %s: %w", dst, err)
		}
	}
	return nil
}

// kernelsStage removes kernels the target cannot boot.
func (in *Installer) kernelsStage(ctx context.Context) error {
	r := in.reporter
	in.ignore(r.Start(0, 6, titleTemplate))
	defer func() { in.ignore(r.Stop()) }()
	in.ignore(r.Info("liveinstall/install/find_removables", nil))

	if err := in.runComponent(ctx, "kernels", in.cfg.Components.CheckKernels); err != nil {
		if isCancellation(err) {
			return err
		}
		in.logger.Warn("checking kernels failed", "error", err)
	}
	kernels, err := readLines(in.cfg.StatePath("remove-kernels"))
	if err != nil {
		return fmt.Errorf("reading kernels to remove: %w", err)
	}
	if len(kernels) == 0 {
		return nil
	}

	in.ignore(r.Set(1))
	in.ignore(r.Region(1, 5))
	ok, err := in.RemovePackages(ctx, "kernels", kernels, true)
	if err != nil {
		return err
	}
	if !ok {
		in.logger.Warn("removing unusable kernels failed", "kernels", kernels)
	}
	in.ignore(r.Set(5))

	inBoot, err := debconf.Bool(in.db, "base-installer/kernel/linux/link_in_boot", false)
	if err != nil {
		return err
	}
	if err := fixKernelLinks(in.Target(), inBoot, in.kernel); err != nil {
		return err
	}
	in.ignore(r.Set(6))
	return nil
}
