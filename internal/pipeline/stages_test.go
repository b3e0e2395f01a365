package pipeline

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/BadgerOps/liveinstall/internal/debconf"
)

func TestIftab(t *testing.T) {
	mac := func(last byte) net.HardwareAddr { return net.HardwareAddr{0x00, 0x16, 0x3e, 0x00, 0x00, last} }
	ifs := []NetInterface{
		{Name: "eth0", MAC: mac(1), Type: arphrdEther},
		{Name: "wlan0", MAC: mac(2), Type: 801},
		{Name: "bond0", MAC: mac(3), Type: arphrdEther},
		{Name: "bond1", MAC: mac(3), Type: arphrdEther},
		{Name: "tun0", Type: arphrdEther},
		{Name: "eth1", MAC: mac(4), Type: arphrdEther},
	}
	want := "# This file assigns persistent names to network interfaces.\n" +
		"# See iftab(5) for syntax.\n\n" +
		"eth0 mac 00:16:3e:00:00:01 arp 1\n" +
		"eth1 mac 00:16:3e:00:00:04 arp 1\n"
	if diff := cmp.Diff(want, iftab(ifs)); diff != "" {
		t.Errorf("iftab (-want +got):\n%s", diff)
	}
}

func TestHostsFile(t *testing.T) {
	got := hostsFile("kiosk")
	if !strings.HasPrefix(got, "127.0.0.1\tlocalhost\n127.0.1.1\tkiosk\n") {
		t.Errorf("hosts starts with %q", got)
	}
	if !strings.Contains(got, "::1     ip6-localhost ip6-loopback\n") {
		t.Error("IPv6 entries missing")
	}
}

func TestResumePartition(t *testing.T) {
	tests := []struct {
		name  string
		swaps string
		want  string
	}{
		{"none", "Filename Type Size Used Priority\n", ""},
		{"files only", "Filename Type Size Used Priority\n/swapfile file 2048 0 -2\n", ""},
		{"largest partition", "Filename Type Size Used Priority\n/dev/sda2 partition 512 0 -2\n/dev/sdb1 partition 4096 0 -3\n/dev/sdc1 partition 1024 0 -4\n", "/dev/sdb1"},
		{"bad size", "/dev/sda2 partition lots 0 -2\n/dev/sda3 partition 8 0 -3\n", "/dev/sda3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resumePartition(strings.NewReader(tt.swaps)); got != tt.want {
				t.Errorf("resumePartition = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestFixKernelLinks(t *testing.T) {
	t.Run("in root", func(t *testing.T) {
		target := t.TempDir()
		mustWrite(t, filepath.Join(target, "boot/vmlinuz-5.15.0-1"), "", 0o644)
		mustWrite(t, filepath.Join(target, "boot/vmlinuz-6.8.0-1"), "", 0o644)
		mustWrite(t, filepath.Join(target, "boot/initrd.img-6.8.0-1"), "", 0o644)
		mustWrite(t, filepath.Join(target, "boot/config-6.8.0-1"), "", 0o644)
		if err := os.Symlink("boot/vmlinuz-removed", filepath.Join(target, "vmlinuz")); err != nil {
			t.Fatal(err)
		}

		if err := fixKernelLinks(target, false, "6.8.0-1"); err != nil {
			t.Fatal(err)
		}
		for link, want := range map[string]string{
			"vmlinuz":    "boot/vmlinuz-6.8.0-1",
			"initrd.img": "boot/initrd.img-6.8.0-1",
		} {
			got, err := os.Readlink(filepath.Join(target, link))
			if err != nil || got != want {
				t.Errorf("%s -> %q (%v), want %q", link, got, err, want)
			}
		}
		if _, err := os.Lstat(filepath.Join(target, "config")); !errors.Is(err, os.ErrNotExist) {
			t.Error("linked a file that is not a kernel image")
		}
	})

	t.Run("in boot", func(t *testing.T) {
		target := t.TempDir()
		mustWrite(t, filepath.Join(target, "boot/vmlinuz-6.8.0-1"), "", 0o644)
		if err := os.Symlink("boot/vmlinuz-6.8.0-1", filepath.Join(target, "vmlinuz")); err != nil {
			t.Fatal(err)
		}

		if err := fixKernelLinks(target, true, "6.8.0-1"); err != nil {
			t.Fatal(err)
		}
		if got, err := os.Readlink(filepath.Join(target, "boot/vmlinuz")); err != nil || got != "vmlinuz-6.8.0-1" {
			t.Errorf("boot/vmlinuz -> %q (%v)", got, err)
		}
		if _, err := os.Lstat(filepath.Join(target, "vmlinuz")); !errors.Is(err, os.ErrNotExist) {
			t.Error("stale link in / kept")
		}
	})
}

func TestLanguages(t *testing.T) {
	tests := []struct {
		name    string
		answers map[string]string
		want    []string
		wantErr bool
	}{
		{
			name:    "explicit list",
			answers: map[string]string{"base-config/language-packs": "en, pt_BR", "debian-installer/locale": "de_DE"},
			want:    []string{"en", "pt_BR"},
		},
		{
			name:    "pkgsel list",
			answers: map[string]string{"base-config/language-packs": "", "pkgsel/language-packs": "fr"},
			want:    []string{"fr"},
		},
		{
			name:    "supported locales",
			answers: map[string]string{"localechooser/supported-locales": "sv_SE.UTF-8, en_US.UTF-8 sv_FI.UTF-8"},
			want:    []string{"en", "sv"},
		},
		{
			name:    "installer locale",
			answers: map[string]string{"debian-installer/locale": "es_ES.UTF-8"},
			want:    []string{"es"},
		},
		{
			name:    "nothing set",
			answers: map[string]string{},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := &Installer{db: debconf.NewMapStore(tt.answers)}
			got, err := in.languages()
			if tt.wantErr {
				if err == nil {
					t.Fatalf("languages = %v, want an error", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("languages (-want +got):\n%s", diff)
			}
		})
	}
}

func TestLanguagePackages(t *testing.T) {
	got := languagePackages([]string{"de", "fr"}, []string{"language-pack-gnome-$LL", "language-pack-kde-$LL-base"})
	want := []string{
		"language-pack-de", "language-pack-gnome-de", "language-pack-kde-de-base", "language-support-de",
		"language-pack-fr", "language-pack-gnome-fr", "language-pack-kde-fr-base", "language-support-fr",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("languagePackages (-want +got):\n%s", diff)
	}
}

func TestExtras(t *testing.T) {
	e := newEnv(t)
	in := e.installer(t)
	if err := in.Record().Append("casper"); err != nil {
		t.Fatal(err)
	}
	got, err := in.Extras()
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"ubiquity"}, got); diff != "" {
		t.Errorf("Extras (-want +got):\n%s", diff)
	}

	e.cfg.Paths.ManifestDesktop = filepath.Join(e.root, "absent")
	if got, err := in.Extras(); err != nil || got != nil {
		t.Errorf("Extras without a desktop manifest = %v, %v", got, err)
	}
}

func TestHooks(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"50-network", "10-casper", "20-x.dpkg-dist", "99-last"} {
		mustWrite(t, filepath.Join(dir, name), "", 0o755)
	}
	got, err := hooks(dir)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"10-casper", "50-network", "99-last"}, got); diff != "" {
		t.Errorf("hooks (-want +got):\n%s", diff)
	}
	if got, err := hooks(filepath.Join(dir, "missing")); err != nil || got != nil {
		t.Errorf("hooks of a missing directory = %v, %v", got, err)
	}
}

// sourceEnv points every source candidate at a missing directory so the
// installer has to mount the source itself.
func sourceEnv(t *testing.T) *testEnv {
	t.Helper()
	e := newEnv(t)
	e.cfg.Install.SourceCandidates = []string{filepath.Join(e.root, "no-rofs")}
	return e
}

func TestMountSourceBind(t *testing.T) {
	e := sourceEnv(t)
	mustWrite(t, e.cfg.Paths.Mounts, "proc /proc proc rw 0 0\n/dev/loop0 /rofs-lower squashfs ro 0 0\n", 0o644)
	in := e.installer(t)
	if in.Source() != e.cfg.Install.SourceMount {
		t.Fatalf("Source = %q", in.Source())
	}

	ctx := context.Background()
	if err := in.mountSourceStage(ctx); err != nil {
		t.Fatal(err)
	}
	if !in.unionfs {
		t.Error("unionfs not detected")
	}
	if err := in.unmountSourceStage(ctx); err != nil {
		t.Fatal(err)
	}
	want := []string{
		"mount --bind /rofs-lower " + in.Source(),
		"umount " + in.Source(),
	}
	if diff := cmp.Diff(want, e.runner.commands()); diff != "" {
		t.Errorf("commands (-want +got):\n%s", diff)
	}
}

func TestMountSourceImage(t *testing.T) {
	e := sourceEnv(t)
	image := filepath.Join(e.root, "cdrom/filesystem.squashfs")
	mustWrite(t, image, "hsqs", 0o644)
	e.cfg.Install.FilesystemImages = []string{filepath.Join(e.root, "cdrom/filesystem.cloop"), image}
	in := e.installer(t)

	ctx := context.Background()
	if err := in.mountSourceStage(ctx); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{in.Source()}, in.mounts.paths()); diff != "" {
		t.Errorf("mounts (-want +got):\n%s", diff)
	}
	in.mounts.unmountAll(ctx)
	want := []string{
		"losetup /dev/loop3 " + image,
		"mount /dev/loop3 " + in.Source(),
		"umount -f " + in.Source(),
		"losetup -d /dev/loop3",
	}
	if diff := cmp.Diff(want, e.runner.commands()); diff != "" {
		t.Errorf("commands (-want +got):\n%s", diff)
	}
	if len(in.mounts.paths()) != 0 {
		t.Error("mount still tracked after unmountAll")
	}
}

func TestMountSourceImageMountFails(t *testing.T) {
	e := sourceEnv(t)
	image := filepath.Join(e.root, "filesystem.cloop")
	mustWrite(t, image, "", 0o644)
	e.cfg.Install.FilesystemImages = []string{image}
	e.runner.codes["mount"] = 32
	in := e.installer(t)

	if err := in.mountSourceStage(context.Background()); err == nil {
		t.Fatal("expected an error")
	}
	if !e.runner.ran("losetup -d /dev/cloop1") {
		t.Error("loop device not detached after a failed mount")
	}
	if len(in.mounts.paths()) != 0 {
		t.Errorf("failed mount tracked: %v", in.mounts.paths())
	}
}

func TestMountSourceMissing(t *testing.T) {
	e := sourceEnv(t)
	in := e.installer(t)
	err := in.mountSourceStage(context.Background())
	if !errors.Is(err, ErrNoSource) {
		t.Fatalf("err = %v, want ErrNoSource", err)
	}
	var sf *StageFailure
	if !errors.As(err, &sf) || sf.Stage != "mount-source" {
		t.Errorf("err = %#v", err)
	}
}

func TestExplicitSource(t *testing.T) {
	e := newEnv(t)
	e.cfg.Install.Source = filepath.Join(e.root, "no-such-source")
	if _, err := NewInstaller(Options{Config: e.cfg, Runner: e.runner}); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("NewInstaller() = %v, want ErrNotExist", err)
	}

	explicit := filepath.Join(e.root, "tree")
	if err := os.MkdirAll(explicit, 0o755); err != nil {
		t.Fatal(err)
	}
	e.cfg.Install.Source = explicit
	in := e.installer(t)
	if in.Source() != explicit || in.mountSource {
		t.Errorf("Source() = %q, mountSource = %v", in.Source(), in.mountSource)
	}
}

func TestCloneSourceMountsImage(t *testing.T) {
	e := sourceEnv(t)
	image := filepath.Join(e.root, "cdrom/filesystem.squashfs")
	mustWrite(t, image, "hsqs", 0o644)
	e.cfg.Install.FilesystemImages = []string{image}
	in := e.installer(t)

	if _, err := in.CloneSource(context.Background()); err != nil {
		t.Fatalf("CloneSource() error: %v", err)
	}
	want := []string{
		"losetup /dev/loop3 " + image,
		"mount /dev/loop3 " + in.Source(),
		"umount " + in.Source(),
		"losetup -d /dev/loop3",
	}
	if diff := cmp.Diff(want, e.runner.commands()); diff != "" {
		t.Errorf("commands (-want +got):\n%s", diff)
	}
	if len(in.mounts.paths()) != 0 {
		t.Errorf("mounts left: %v", in.mounts.paths())
	}
}

func TestCloneSourceWithoutSource(t *testing.T) {
	e := sourceEnv(t)
	in := e.installer(t)

	if _, err := in.CloneSource(context.Background()); !errors.Is(err, ErrNoSource) {
		t.Fatalf("CloneSource() = %v, want ErrNoSource", err)
	}
	if len(e.runner.commands()) != 0 {
		t.Errorf("unexpected commands: %v", e.runner.commands())
	}
}

func TestRunComponent(t *testing.T) {
	e := newEnv(t)
	e.runner.codes["tool"] = 4
	in := e.installer(t)
	ctx := context.Background()

	if err := in.runComponent(ctx, "empty", nil); err != nil {
		t.Errorf("empty argv: %v", err)
	}
	err := in.runComponent(ctx, "tool", []string{"/usr/lib/tool", "--flag"})
	var sf *StageFailure
	if !errors.As(err, &sf) || sf.Code != 4 || sf.Stage != "tool" {
		t.Errorf("err = %v", err)
	}
	if !e.runner.ran("/usr/lib/tool --flag") {
		t.Error("component not run with its arguments")
	}

	canceled, cancel := context.WithCancel(ctx)
	cancel()
	if err := in.runComponent(canceled, "tool", []string{"/usr/lib/tool"}); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled err = %v", err)
	}
}

func TestBootloaderMissing(t *testing.T) {
	e := newEnv(t)
	e.cfg.Components.Bootloaders = [][]string{{filepath.Join(e.root, "nope")}, nil}
	in := e.installer(t)
	if err := in.bootloaderStage(context.Background()); !errors.Is(err, ErrNoBootloader) {
		t.Fatalf("err = %v, want ErrNoBootloader", err)
	}
	if len(e.runner.commands()) != 0 {
		t.Errorf("commands run without a bootloader: %v", e.runner.commands())
	}
}

func TestCheckFreeSpace(t *testing.T) {
	e := newEnv(t)
	e.cfg.Install.MinFreeSpace = "1000000 TB"
	in := e.installer(t)
	err := in.CheckFreeSpace()
	var sf *StageFailure
	if !errors.As(err, &sf) || sf.Stage != "copy" {
		t.Fatalf("err = %v", err)
	}

	e.cfg.Install.MinFreeSpace = ""
	if err := in.CheckFreeSpace(); err != nil {
		t.Errorf("disabled check: %v", err)
	}
}
