package pipeline

import (
	"context"
	"path/filepath"

	"github.com/BadgerOps/liveinstall/internal/sysexec"
)

// componentEnv tells configuration components where the target is.
func (in *Installer) componentEnv() []string {
	return []string{
		"TARGET=" + in.Target(),
		"LIVEINSTALL_STATE_DIR=" + in.cfg.Install.StateDir,
		"LIVEINSTALL_KERNEL=" + in.kernel,
	}
}

// runComponent runs an external configuration component. A nonzero exit
// status becomes a *StageFailure. An empty argv is skipped.
func (in *Installer) runComponent(ctx context.Context, stage string, argv []string) error {
	if len(argv) == 0 {
		in.logger.Debug("no component configured", "stage", stage)
		return nil
	}
	c := sysexec.Command(argv[0], argv[1:]...)
	c.Env = in.componentEnv()
	code, err := in.runner.Run(ctx, c)
	if err != nil {
		if isCancellation(err) {
			return err
		}
		return &StageFailure{Stage: stage, Err: err}
	}
	if code != 0 {
		in.logger.Error("component failed", "stage", stage, "component", filepath.Base(argv[0]), "code", code)
		return &StageFailure{Stage: stage, Code: code}
	}
	return nil
}

// chroot runs a command inside the target and only logs failures.
func (in *Installer) chroot(ctx context.Context, name string, args ...string) bool {
	c := sysexec.Chroot(in.Target(), sysexec.Command(name, args...))
	if err := sysexec.Check(ctx, in.runner, c); err != nil {
		in.logger.Error("command in target failed", "command", c.String(), "error", err)
		return false
	}
	return true
}

func (in *Installer) localesStage(ctx context.Context) error {
	return in.runComponent(ctx, "locales", in.cfg.Components.Locales)
}

func (in *Installer) timezoneStage(ctx context.Context) error {
	if err := in.runComponent(ctx, "timezone", in.cfg.Components.Timezone); err != nil {
		return err
	}
	return in.runComponent(ctx, "clock", in.cfg.Components.Clock)
}

func (in *Installer) userStage(ctx context.Context) error {
	return in.runComponent(ctx, "user", in.cfg.Components.User)
}
