package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BadgerOps/liveinstall/internal/sysexec"
)

type mountPoint struct {
	path string
	loop string // loop device to detach after unmounting
}

// mounts remembers what an install run mounted so a failed run can still
// be torn down.
type mounts struct {
	runner sysexec.Runner
	logger *slog.Logger

	mu     sync.Mutex
	active []mountPoint
}

func newMounts(runner sysexec.Runner, logger *slog.Logger) *mounts {
	return &mounts{runner: runner, logger: logger}
}

// mount runs "mount args... path" and records path.
func (m *mounts) mount(ctx context.Context, path string, args ...string) error {
	argv := append(append([]string(nil), args...), path)
	if err := sysexec.Check(ctx, m.runner, sysexec.Command("mount", argv...)); err != nil {
		return fmt.Errorf("mounting %s: %w", path, err)
	}
	m.mu.Lock()
	m.active = append(m.active, mountPoint{path: path})
	m.mu.Unlock()
	return nil
}

// attachLoop binds image to dev and records it against path.
func (m *mounts) attachLoop(ctx context.Context, dev, image, path string) error {
	if err := sysexec.Check(ctx, m.runner, sysexec.Command("losetup", dev, image)); err != nil {
		return fmt.Errorf("attaching %s to %s: %w", image, dev, err)
	}
	if err := m.mount(ctx, path, dev); err != nil {
		if derr := sysexec.Check(ctx, m.runner, sysexec.Command("losetup", "-d", dev)); derr != nil {
			m.logger.Warn("detaching loop device", "device", dev, "error", derr)
		}
		return err
	}
	m.mu.Lock()
	m.active[len(m.active)-1].loop = dev
	m.mu.Unlock()
	return nil
}

// unmount unmounts path and detaches its loop device, if any.
func (m *mounts) unmount(ctx context.Context, path string, force bool) error {
	m.mu.Lock()
	idx := -1
	for i := len(m.active) - 1; i >= 0; i-- {
		if m.active[i].path == path {
			idx = i
			break
		}
	}
	var mp mountPoint
	if idx >= 0 {
		mp = m.active[idx]
		m.active = append(m.active[:idx], m.active[idx+1:]...)
	}
	m.mu.Unlock()

	args := []string{path}
	if force {
		args = []string{"-f", path}
	}
	if err := sysexec.Check(ctx, m.runner, sysexec.Command("umount", args...)); err != nil {
		return fmt.Errorf("unmounting %s: %w", path, err)
	}
	if mp.loop != "" {
		if err := sysexec.Check(ctx, m.runner, sysexec.Command("losetup", "-d", mp.loop)); err != nil {
			return fmt.Errorf("detaching loop device %s: %w", mp.loop, err)
		}
	}
	return nil
}

// unmountAll releases everything still mounted, newest first. Failures are
// logged.
func (m *mounts) unmountAll(ctx context.Context) {
	for {
		m.mu.Lock()
		n := len(m.active)
		if n == 0 {
			m.mu.Unlock()
			return
		}
		path := m.active[n-1].path
		m.mu.Unlock()
		m.logger.Info("unmounting leftover mount", "path", path)
		if err := m.unmount(ctx, path, true); err != nil {
			m.logger.Warn("cleanup unmount failed", "path", path, "error", err)
		}
	}
}

// paths lists the active mount points, oldest first.
func (m *mounts) paths() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.active))
	for i, mp := range m.active {
		out[i] = mp.path
	}
	return out
}
