package config

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Frontend modes.
const (
	FrontendAuto    = "auto"
	FrontendDebconf = "debconf"
	FrontendConsole = "console"
	FrontendNone    = "none"
)

// Config is the top-level configuration
type Config struct {
	Install    InstallConfig     `yaml:"install"`
	Paths      PathsConfig       `yaml:"paths"`
	Components ComponentsConfig  `yaml:"components"`
	Frontend   FrontendConfig    `yaml:"frontend"`
	Store      StoreConfig       `yaml:"store"`
	Preseed    map[string]string `yaml:"preseed"`

	// PreseedURL is fetched at startup and merged over Preseed.
	PreseedURL      string `yaml:"preseed_url"`
	PreseedChecksum string `yaml:"preseed_checksum"`
}

// InstallConfig holds the source, target and state locations
type InstallConfig struct {
	// SourceCandidates are tried in order; the first existing directory is
	// copied as is. Otherwise SourceMount is populated from an image.
	SourceCandidates []string `yaml:"source_candidates"`
	SourceMount      string   `yaml:"source_mount"`
	FilesystemImages []string `yaml:"filesystem_images"`
	// Source, when set, replaces the candidates and must exist.
	Source          string `yaml:"source,omitempty"`
	Target          string `yaml:"target"`
	StateDir        string `yaml:"state_dir"`
	HooksDir        string `yaml:"hooks_dir"`
	DefaultHostname string `yaml:"default_hostname"`
	// KernelVersion overrides the running kernel release.
	KernelVersion string `yaml:"kernel_version"`
	// MinFreeSpace is a humanized size such as "4GB"; empty disables the check.
	MinFreeSpace string `yaml:"min_free_space"`
}

// PathsConfig holds host files the install stages read
type PathsConfig struct {
	Mounts          string   `yaml:"mounts"`
	Swaps           string   `yaml:"swaps"`
	SysClassNet     string   `yaml:"sys_class_net"`
	Manifest        string   `yaml:"manifest"`
	ManifestDesktop string   `yaml:"manifest_desktop"`
	NetworkFiles    []string `yaml:"network_files"`
	LogFiles        []string `yaml:"log_files"`
}

// ComponentsConfig holds the argv of every external configuration step.
// An empty argv skips the step.
type ComponentsConfig struct {
	Locales        []string   `yaml:"locales"`
	AptSetup       []string   `yaml:"apt_setup"`
	Timezone       []string   `yaml:"timezone"`
	Clock          []string   `yaml:"clock"`
	Keyboard       []string   `yaml:"keyboard"`
	User           []string   `yaml:"user"`
	HwDetect       []string   `yaml:"hw_detect"`
	RegisterModule []string   `yaml:"register_module"`
	CheckKernels   []string   `yaml:"check_kernels"`
	Bootloaders    [][]string `yaml:"bootloaders"`
}

// FrontendConfig selects how progress is reported
type FrontendConfig struct {
	Mode         string `yaml:"mode"`
	StatusListen string `yaml:"status_listen"`
}

// StoreConfig holds run history settings
type StoreConfig struct {
	DBPath string `yaml:"db_path"`
}

const componentDir = "/usr/lib/liveinstall/components"

func component(name string) []string {
	return []string{filepath.Join(componentDir, name)}
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Install: InstallConfig{
			SourceCandidates: []string{"/rofs", "/UNIONFS"},
			SourceMount:      "/source",
			FilesystemImages: []string{
				"/cdrom/casper/filesystem.cloop",
				"/cdrom/casper/filesystem.squashfs",
				"/cdrom/META/META.squashfs",
			},
			Target:          "/target",
			StateDir:        "/var/lib/liveinstall",
			HooksDir:        "/usr/lib/liveinstall/target-config",
			DefaultHostname: "ubuntu",
		},
		Paths: PathsConfig{
			Mounts:          "/proc/mounts",
			Swaps:           "/proc/swaps",
			SysClassNet:     "/sys/class/net",
			Manifest:        "/cdrom/casper/filesystem.manifest",
			ManifestDesktop: "/cdrom/casper/filesystem.manifest-desktop",
			NetworkFiles:    []string{"/etc/network/interfaces", "/etc/resolv.conf"},
			LogFiles:        []string{"/var/log/installer/syslog", "/var/log/partman", "/var/log/installer/version"},
		},
		Components: ComponentsConfig{
			Locales:        component("language-apply"),
			AptSetup:       component("apt-setup"),
			Timezone:       component("timezone-apply"),
			Clock:          component("clock-setup"),
			Keyboard:       component("kbd-chooser-apply"),
			User:           component("usersetup-apply"),
			HwDetect:       component("hw-detect"),
			RegisterModule: []string{"/usr/lib/liveinstall/debian-installer-utils/register-module.post-base-installer"},
			CheckKernels:   component("check-kernels"),
			Bootloaders:    [][]string{component("grub-installer"), component("yaboot-installer")},
		},
		Frontend: FrontendConfig{
			Mode: FrontendAuto,
		},
		Preseed: make(map[string]string),
	}
}

// Load reads a config file from the given path
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	if cfg.Preseed == nil {
		cfg.Preseed = make(map[string]string)
	}

	return cfg, nil
}

// FindConfigFile searches for a config file in standard locations
func FindConfigFile() (string, error) {
	searchPaths := []string{
		"liveinstall.yaml",
		"/etc/liveinstall/liveinstall.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		searchPaths = append(searchPaths,
			filepath.Join(home, ".config", "liveinstall", "liveinstall.yaml"),
		)
	}

	for _, path := range searchPaths {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", searchPaths)
}

// Validate checks values that would make an install run misbehave.
func (c *Config) Validate() error {
	for name, p := range map[string]string{
		"install.target":       c.Install.Target,
		"install.state_dir":    c.Install.StateDir,
		"install.source_mount": c.Install.SourceMount,
	} {
		if !filepath.IsAbs(p) {
			return fmt.Errorf("%s must be an absolute path, got %q", name, p)
		}
	}
	if filepath.Clean(c.Install.Target) == "/" {
		return fmt.Errorf("install.target must not be the root directory")
	}
	modes := []string{FrontendAuto, FrontendDebconf, FrontendConsole, FrontendNone}
	if !slices.Contains(modes, c.Frontend.Mode) {
		return fmt.Errorf("frontend.mode %q is not one of %v", c.Frontend.Mode, modes)
	}
	if _, err := c.MinFreeBytes(); err != nil {
		return err
	}
	return nil
}

// MinFreeBytes parses install.min_free_space. Zero means no check.
func (c *Config) MinFreeBytes() (uint64, error) {
	if c.Install.MinFreeSpace == "" {
		return 0, nil
	}
	n, err := humanize.ParseBytes(c.Install.MinFreeSpace)
	if err != nil {
		return 0, fmt.Errorf("install.min_free_space: %w", err)
	}
	return n, nil
}

// StatePath returns the absolute path of a file in the state directory.
func (c *Config) StatePath(name string) string {
	return filepath.Join(c.Install.StateDir, name)
}

// DBPath returns the run history database location.
func (c *Config) DBPath() string {
	if c.Store.DBPath != "" {
		return c.Store.DBPath
	}
	return c.StatePath("liveinstall.db")
}
