package apt

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/BadgerOps/liveinstall/internal/sysexec"
)

// ChrootBackend applies changes by running apt-get inside the target root.
// apt writes machine-readable progress to fd 3, which is relayed to the
// observers while the command runs.
type ChrootBackend struct {
	Root   string
	Runner sysexec.Runner
	// Options are extra "-o" settings passed to every apt-get call.
	Options []string

	logger *slog.Logger
}

// NewChrootBackend returns a backend for root. A nil logger uses
// slog.Default().
func NewChrootBackend(root string, runner sysexec.Runner, logger *slog.Logger) *ChrootBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &ChrootBackend{Root: root, Runner: runner, logger: logger}
}

// childEnv keeps dpkg maintainer scripts from asking questions. It only
// applies to the child process.
var childEnv = []string{
	"DEBIAN_FRONTEND=noninteractive",
	"DEBIAN_HAS_FRONTEND=",
	"DEBCONF_USE_CDEBCONF=",
}

func (b *ChrootBackend) baseArgs() []string {
	args := []string{"-y", "-o", "APT::Status-Fd=3", "-o", "Dpkg::Options::=--force-confold"}
	for _, o := range b.Options {
		args = append(args, "-o", o)
	}
	return args
}

func (b *ChrootBackend) Update(ctx context.Context, fetch FetchObserver) (bool, error) {
	args := append(b.baseArgs(), "update")
	fetch.Start()
	defer fetch.Stop()
	return b.run(ctx, args, fetch, NopInstall{})
}

func (b *ChrootBackend) Commit(ctx context.Context, changes Changes, fetch FetchObserver, install InstallObserver) (bool, error) {
	args := b.baseArgs()
	if changes.Purge {
		args = append(args, "--purge")
	}
	args = append(args, "install")
	args = append(args, changes.Install...)
	for _, name := range changes.Remove {
		// a trailing minus asks apt-get install to remove the package
		args = append(args, name+"-")
	}

	fetch.Start()
	install.StartUpdate()
	defer func() {
		fetch.Stop()
		install.FinishUpdate()
	}()
	return b.run(ctx, args, fetch, install)
}

func (b *ChrootBackend) run(ctx context.Context, args []string, fetch FetchObserver, install InstallObserver) (bool, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return false, fmt.Errorf("creating apt status pipe: %w", err)
	}
	defer pr.Close()

	cmd := sysexec.Chroot(b.Root, sysexec.Command("apt-get", args...))
	cmd.Env = childEnv
	cmd.ExtraFiles = []*os.File{pw}

	return relayStatus(ctx, b.logger, pr, fetch, install, func(ctx context.Context) (bool, error) {
		defer pw.Close()
		code, err := b.Runner.Run(ctx, cmd)
		if err != nil {
			return false, &TransactionError{Phase: "install", Err: err}
		}
		if code != 0 {
			b.logger.Warn("apt-get failed", "args", args, "code", code)
			return false, nil
		}
		return true, nil
	})
}
