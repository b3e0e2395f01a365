// Package pipeline runs an install: it copies the live filesystem onto the
// target and then configures the target, one stage at a time.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime/debug"

	"golang.org/x/sys/unix"

	"github.com/BadgerOps/liveinstall/internal/apt"
	"github.com/BadgerOps/liveinstall/internal/config"
	"github.com/BadgerOps/liveinstall/internal/debconf"
	"github.com/BadgerOps/liveinstall/internal/progress"
	"github.com/BadgerOps/liveinstall/internal/safety"
	"github.com/BadgerOps/liveinstall/internal/sysexec"
)

const (
	titleTemplate = "liveinstall/install/title"
	traceName     = "install.trace"
	recordName    = "apt-installed"
)

// PackageObserver is told about every package transaction an install
// commits.
type PackageObserver interface {
	PackagesCommitted(stage string, changes apt.Changes, ok bool)
}

// Options configure an Installer.
type Options struct {
	Config    *config.Config
	Reporter  progress.Reporter
	Runner    sysexec.Runner
	Questions debconf.Store
	Observer  Observer
	Packages  PackageObserver
	Logger    *slog.Logger
}

// Installer holds the state shared by the stages of one install run.
type Installer struct {
	cfg      *config.Config
	reporter progress.Reporter
	runner   sysexec.Runner
	db       debconf.Store
	observer Observer
	packages PackageObserver
	logger   *slog.Logger

	record *apt.Record
	mounts *mounts

	// OpenCache returns the package cache of the target system.
	OpenCache func(ctx context.Context) (apt.Cache, error)
	// Interfaces lists the network interfaces written to etc/iftab.
	Interfaces func() ([]NetInterface, error)

	source      string
	mountSource bool
	unionfs     bool
	kernel      string
	seq         *Sequencer
}

// NewInstaller validates opts and prepares an install run.
func NewInstaller(opts Options) (*Installer, error) {
	if opts.Config == nil {
		return nil, errors.New("pipeline: no configuration")
	}
	if opts.Runner == nil {
		return nil, errors.New("pipeline: no command runner")
	}
	if opts.Reporter == nil {
		opts.Reporter = progress.Discard
	}
	if opts.Questions == nil {
		opts.Questions = debconf.NewMapStore(nil)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	cfg := opts.Config
	if src := cfg.Install.Source; src != "" {
		fi, err := os.Stat(src)
		if err != nil {
			return nil, fmt.Errorf("source directory: %w", err)
		}
		if !fi.IsDir() {
			return nil, fmt.Errorf("source %s is not a directory", src)
		}
	}
	in := &Installer{
		cfg:      cfg,
		reporter: opts.Reporter,
		runner:   opts.Runner,
		db:       opts.Questions,
		observer: opts.Observer,
		packages: opts.Packages,
		logger:   opts.Logger,
		record:   apt.NewRecord(cfg.StatePath(recordName)),
		mounts:   newMounts(opts.Runner, opts.Logger),
		kernel:   cfg.Install.KernelVersion,
	}
	in.OpenCache = in.openTargetCache
	in.Interfaces = in.systemInterfaces
	if in.kernel == "" {
		in.kernel = runningKernel()
	}
	in.source, in.mountSource = in.resolveSource()
	return in, nil
}

func runningKernel() string {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err != nil {
		return ""
	}
	return unix.ByteSliceToString(uts.Release[:])
}

// Source returns the directory the copy stage reads from.
func (in *Installer) Source() string { return in.source }

// Target returns the root of the system being installed.
func (in *Installer) Target() string { return in.cfg.Install.Target }

// Record returns the installed-packages record.
func (in *Installer) Record() *apt.Record { return in.record }

// TracePath is where a failed run leaves its diagnostics.
func (in *Installer) TracePath() string { return in.cfg.StatePath(traceName) }

// Stages returns the install stages in the order they run.
func (in *Installer) Stages() []Stage {
	return []Stage{
		{Name: "mount-source", Start: 0, End: 1, Info: "liveinstall/install/mounting_source", Fatal: true, Run: in.mountSourceStage},
		{Name: "copy", Start: 1, End: 78, Fatal: true, Run: in.copyStage},
		{Name: "unmount-source", Start: 78, End: 79, Info: "liveinstall/install/cleanup", Fatal: true, Run: in.unmountSourceStage},
		{Name: "hooks", Start: 79, End: 80, Fatal: true, Run: in.hooksStage},
		{Name: "locales", Start: 80, End: 81, Info: "liveinstall/install/locales", Fatal: true, Run: in.localesStage},
		{Name: "network", Start: 81, End: 82, Info: "liveinstall/install/network", Fatal: true, Run: in.networkStage},
		{Name: "apt", Start: 82, End: 83, Info: "liveinstall/install/apt", Fatal: true, Run: in.aptStage},
		{Name: "langpacks", Start: 83, End: 87, Fatal: false, Run: in.languagePacksStage},
		{Name: "timezone", Start: 87, End: 88, Info: "liveinstall/install/timezone", Fatal: true, Run: in.timezoneStage},
		{Name: "keyboard", Start: 88, End: 90, Info: "liveinstall/install/keyboard", Fatal: true, Run: in.keyboardStage},
		{Name: "user", Start: 90, End: 91, Info: "liveinstall/install/user", Fatal: true, Run: in.userStage},
		{Name: "hardware", Start: 91, End: 95, Info: "liveinstall/install/hardware", Fatal: true, Run: in.hardwareStage},
		{Name: "kernels", Start: 95, End: 96, Fatal: true, Run: in.kernelsStage},
		{Name: "bootloader", Start: 96, End: 97, Info: "liveinstall/install/bootloader", Fatal: true, Run: in.bootloaderStage},
		{Name: "extras", Start: 97, End: 99, Info: "liveinstall/install/removing", Fatal: true, Run: in.extrasStage},
		{Name: "logs", Start: 99, End: 100, Info: "liveinstall/install/log_files", Fatal: true, Run: in.logsStage},
		{Name: "cleanup", Start: 100, End: 100, Fatal: true, Run: in.cleanupStage},
	}
}

// SetObservers replaces the stage and package observers. Call it before
// Run.
func (in *Installer) SetObservers(stages Observer, packages PackageObserver) {
	in.observer = stages
	in.packages = packages
}

// Sequencer returns the sequencer of the current run, or nil before Run.
func (in *Installer) Sequencer() *Sequencer { return in.seq }

// Run performs the whole install. Any failure other than cancellation, and
// any panic, leaves a trace file in the state directory.
func (in *Installer) Run(ctx context.Context) (err error) {
	if err := in.prepareState(); err != nil {
		return err
	}
	in.seq = NewSequencer(titleTemplate, in.Stages(), in.reporter, in.logger)
	in.seq.Observer = in.observer
	in.seq.Cleanup = func() {
		in.mounts.unmountAll(context.WithoutCancel(ctx))
	}

	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic during installation: %v", p)
			in.writeTrace(err, debug.Stack())
			return
		}
		if err != nil && !isCancellation(err) {
			in.writeTrace(err, nil)
		}
	}()
	return in.seq.Run(ctx)
}

func (in *Installer) prepareState() error {
	if err := os.MkdirAll(in.cfg.Install.StateDir, 0o755); err != nil {
		return fmt.Errorf("creating state directory: %w", err)
	}
	if err := removeTrace(in.TracePath()); err != nil {
		return err
	}
	return nil
}

func (in *Installer) writeTrace(err error, stack []byte) {
	if werr := writeTrace(in.TracePath(), err, stack); werr != nil {
		in.logger.Error("writing crash trace", "path", in.TracePath(), "error", werr)
		return
	}
	in.logger.Error("installation failed", "error", err, "trace", in.TracePath())
}

func (in *Installer) openTargetCache(context.Context) (apt.Cache, error) {
	pkgs, err := apt.LoadPackages(in.Target(), in.logger)
	if err != nil {
		return nil, fmt.Errorf("loading target package database: %w", err)
	}
	backend := apt.NewChrootBackend(in.Target(), in.runner, in.logger)
	return apt.NewDepcache(pkgs, backend, in.logger), nil
}

// targetPath maps a fixed system path, such as /etc/hostname, into the
// target root.
func (in *Installer) targetPath(p string) string {
	return safety.MustInTarget(in.Target(), p)
}

// ignore logs progress errors. Stages carry on without an observer.
func (in *Installer) ignore(err error) {
	if err != nil {
		in.logger.Debug("progress update failed", "error", err)
	}
}
