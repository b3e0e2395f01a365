package pipeline

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/BadgerOps/liveinstall/internal/apt"
	"github.com/BadgerOps/liveinstall/internal/config"
	"github.com/BadgerOps/liveinstall/internal/debconf"
	"github.com/BadgerOps/liveinstall/internal/progress"
	"github.com/BadgerOps/liveinstall/internal/sysexec"
)

// fakeRunner records commands instead of running them. Exit codes are
// looked up by program base name; debconf-communicate answers every
// command with success.
type fakeRunner struct {
	mu      sync.Mutex
	cmds    []string
	debconf []string
	codes   map[string]int
	hook    func(ctx context.Context, c sysexec.Cmd) (int, error)
}

func (f *fakeRunner) Run(ctx context.Context, c sysexec.Cmd) (int, error) {
	f.mu.Lock()
	f.cmds = append(f.cmds, c.String())
	hook := f.hook
	f.mu.Unlock()
	if hook != nil {
		if code, err := hook(ctx, c); code != 0 || err != nil {
			return code, err
		}
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	name := filepath.Base(c.Name)
	if c.Name == "chroot" && len(c.Args) > 1 {
		name = filepath.Base(c.Args[1])
	}
	if name == "debconf-communicate" && c.Stdin != nil {
		sc := bufio.NewScanner(c.Stdin)
		for sc.Scan() {
			f.mu.Lock()
			f.debconf = append(f.debconf, sc.Text())
			f.mu.Unlock()
			if c.Stdout != nil {
				io.WriteString(c.Stdout, "0\n")
			}
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.codes[name], nil
}

func (f *fakeRunner) commands() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cmds...)
}

func (f *fakeRunner) ran(prefix string) bool {
	for _, c := range f.commands() {
		if strings.HasPrefix(c, prefix) {
			return true
		}
	}
	return false
}

type collector struct {
	mu       sync.Mutex
	results  []Result
	packages []string
}

func (c *collector) StageFinished(r Result) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, r)
}

func (c *collector) PackagesCommitted(stage string, changes apt.Changes, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.packages = append(c.packages, fmt.Sprintf("%s install=%v remove=%v ok=%v", stage, changes.Install, changes.Remove, ok))
}

func (c *collector) status() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]string)
	for _, r := range c.results {
		out[r.Stage] = r.Status()
	}
	return out
}

type testEnv struct {
	root, source, target, state string
	cfg                         *config.Config
	runner                      *fakeRunner
	rec                         *progress.Recorder
	db                          *debconf.MapStore
	pkgs                        []apt.Package
	cache                       *apt.Depcache
	backend                     *apt.MemoryBackend
	obs                         *collector
}

func mustWrite(t *testing.T, path, data string, perm os.FileMode) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(data), perm); err != nil {
		t.Fatal(err)
	}
}

func pkg(name string, installed bool, deps ...string) apt.Package {
	p := apt.Package{Name: name, Installed: installed, Available: true}
	for _, d := range deps {
		p.Depends = append(p.Depends, []string{d})
	}
	return p
}

// newEnv lays out a live system, a target and a state directory below one
// temporary root, with every external program faked.
func newEnv(t *testing.T) *testEnv {
	t.Helper()
	root := t.TempDir()
	e := &testEnv{
		root:   root,
		source: filepath.Join(root, "rofs"),
		target: filepath.Join(root, "target"),
		state:  filepath.Join(root, "state"),
		runner: &fakeRunner{codes: map[string]int{}},
		rec:    &progress.Recorder{},
		obs:    &collector{},
	}

	mustWrite(t, filepath.Join(e.source, "etc/os-release"), "NAME=Live\n", 0o644)
	mustWrite(t, filepath.Join(e.source, "usr/bin/tool"), "#!/bin/sh\n", 0o755)
	mustWrite(t, filepath.Join(e.target, "boot/vmlinuz-6.8.0-1"), "kernel", 0o644)
	mustWrite(t, filepath.Join(e.target, "boot/initrd.img-6.8.0-1"), "initrd", 0o644)
	if err := os.MkdirAll(filepath.Join(e.target, "etc/initramfs-tools/conf.d"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.Symlink("boot/vmlinuz-old", filepath.Join(e.target, "vmlinuz")); err != nil {
		t.Fatal(err)
	}
	mustWrite(t, filepath.Join(e.state, "remove-kernels"), "linux-image-old\n", 0o644)
	mustWrite(t, filepath.Join(root, "interfaces"), "auto lo\n", 0o644)
	mustWrite(t, filepath.Join(root, "syslog"), "install log\n", 0o644)
	mustWrite(t, filepath.Join(root, "swaps"), "Filename Type Size Used Priority\n/dev/sda5 partition 1000 0 -2\n/dev/sdb2 partition 4000 0 -3\n/swapfile file 9000 0 -4\n", 0o644)
	mustWrite(t, filepath.Join(root, "mounts"), "proc /proc proc rw 0 0\n", 0o644)
	mustWrite(t, filepath.Join(root, "manifest"), "base-files 12\ncasper 1.0\nubiquity 2.0\n# comment\n\n", 0o644)
	mustWrite(t, filepath.Join(root, "manifest-desktop"), "base-files 12\n", 0o644)
	mustWrite(t, filepath.Join(root, "components/grub-installer"), "#!/bin/sh\n", 0o755)
	mustWrite(t, filepath.Join(root, "hooks/10-casper"), "#!/bin/sh\n", 0o755)
	mustWrite(t, filepath.Join(root, "hooks/20-disabled"), "#!/bin/sh\n", 0o644)
	mustWrite(t, filepath.Join(root, "hooks/30-old.dpkg-old"), "#!/bin/sh\n", 0o755)

	comp := func(name string) []string { return []string{filepath.Join(root, "components", name)} }
	cfg := config.DefaultConfig()
	cfg.Install.SourceCandidates = []string{e.source}
	cfg.Install.SourceMount = filepath.Join(root, "source")
	cfg.Install.FilesystemImages = nil
	cfg.Install.Target = e.target
	cfg.Install.StateDir = e.state
	cfg.Install.HooksDir = filepath.Join(root, "hooks")
	cfg.Install.KernelVersion = "6.8.0-1"
	cfg.Paths = config.PathsConfig{
		Mounts:          filepath.Join(root, "mounts"),
		Swaps:           filepath.Join(root, "swaps"),
		SysClassNet:     filepath.Join(root, "net"),
		Manifest:        filepath.Join(root, "manifest"),
		ManifestDesktop: filepath.Join(root, "manifest-desktop"),
		NetworkFiles:    []string{filepath.Join(root, "interfaces"), filepath.Join(root, "missing")},
		LogFiles:        []string{filepath.Join(root, "syslog"), filepath.Join(root, "partman")},
	}
	cfg.Components = config.ComponentsConfig{
		Locales:        comp("language-apply"),
		AptSetup:       comp("apt-setup"),
		Timezone:       comp("timezone-apply"),
		Clock:          comp("clock-setup"),
		Keyboard:       comp("kbd-chooser-apply"),
		User:           comp("usersetup-apply"),
		HwDetect:       comp("hw-detect"),
		RegisterModule: comp("register-module"),
		CheckKernels:   comp("check-kernels"),
		Bootloaders:    [][]string{comp("missing-installer"), comp("grub-installer")},
	}
	e.cfg = cfg

	e.db = debconf.NewMapStore(map[string]string{
		"netcfg/get_hostname":           "box",
		"debian-installer/locale":       "de_DE.UTF-8",
		"pkgsel/language-pack-patterns": "language-pack-gnome-$LL",
		"debian-installer/keymap":       "de",
	})

	base := pkg("base-files", true)
	base.Essential = true
	e.backend = apt.NewMemoryBackend(nil)
	e.pkgs = []apt.Package{
		base,
		pkg("casper", true),
		pkg("ubiquity", true, "casper"),
		pkg("linux-image-old", true),
		pkg("linux-restricted-modules-old", true, "linux-image-old"),
		pkg("language-pack-de", false, "language-pack-de-base"),
		pkg("language-pack-de-base", false),
		pkg("language-pack-gnome-de", false),
	}
	e.cache = apt.NewDepcache(e.pkgs, e.backend, nil)
	return e
}

func (e *testEnv) installer(t *testing.T) *Installer {
	t.Helper()
	in, err := NewInstaller(Options{
		Config:    e.cfg,
		Reporter:  e.rec,
		Runner:    e.runner,
		Questions: e.db,
		Observer:  e.obs,
		Packages:  e.obs,
	})
	if err != nil {
		t.Fatal(err)
	}
	in.OpenCache = func(context.Context) (apt.Cache, error) { return e.cache, nil }
	in.Interfaces = func() ([]NetInterface, error) {
		return []NetInterface{
			{Name: "eth0", MAC: net.HardwareAddr{0x52, 0x54, 0x00, 0x12, 0x34, 0x56}, Type: 1},
		}, nil
	}
	return in
}

// freshCaches makes every OpenCache call start from the initial package
// state, the way rereading the target's dpkg database drops the selections
// of a failed transaction.
func (e *testEnv) freshCaches(in *Installer) {
	in.OpenCache = func(context.Context) (apt.Cache, error) {
		return apt.NewDepcache(e.pkgs, e.backend, nil), nil
	}
}

func (e *testEnv) read(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(e.target, rel))
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}
