package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/liveinstall/internal/config"
	"github.com/BadgerOps/liveinstall/internal/download"
	"github.com/BadgerOps/liveinstall/internal/store"
)

var (
	// Global flags
	cfgPath   string
	logLevel  string
	logFormat string

	// Config overrides
	targetDir    string
	sourceDir    string
	stateDir     string
	frontendMode string
	statusListen string

	globalCfg   *config.Config
	globalStore *store.Store
)

var logger = slog.Default()

// NewRootCmd creates and returns the root command
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "liveinstall",
		Short: "Install a live system onto a target disk",
		Long: `liveinstall copies the running live filesystem onto a prepared target and
configures the result: locales, network, packages, keyboard, users, hardware,
kernels and the bootloader. Every run is recorded in a local history database.`,
		Example: `  liveinstall install
  liveinstall install --target /target --frontend console --status-listen 127.0.0.1:8080
  liveinstall copy --source /rofs --target /target
  liveinstall remove --recursive casper ubiquity
  liveinstall status --limit 5`,
		Version:      "0.1.0",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			setupLogging()

			if shouldSkipConfig(cmd.Name()) {
				return nil
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			applyOverrides(cfg)
			globalCfg = cfg

			if isConfigCmd(cmd) {
				return nil
			}

			if err := fetchPreseed(cmd.Context(), globalCfg, download.NewClient(logger)); err != nil {
				return err
			}

			if err := openStore(globalCfg); err != nil {
				return fmt.Errorf("failed to open run history: %w", err)
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeStore()
		},
	}

	cmd.PersistentFlags().StringVar(&cfgPath, "config", "", "path to config file (auto-discovered if not specified)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format (text or json)")
	cmd.PersistentFlags().StringVar(&targetDir, "target", "", "override the target root")
	cmd.PersistentFlags().StringVar(&sourceDir, "source", "", "override the source directory")
	cmd.PersistentFlags().StringVar(&stateDir, "state-dir", "", "override the state directory")
	cmd.PersistentFlags().StringVar(&frontendMode, "frontend", "", "progress frontend (auto, debconf, console, none)")
	cmd.PersistentFlags().StringVar(&statusListen, "status-listen", "", "serve install progress over HTTP on this address")

	cmd.AddCommand(
		newInstallCmd(),
		newCopyCmd(),
		newRemoveCmd(),
		newStatusCmd(),
		newConfigCmd(),
	)

	return cmd
}

func loadConfig() (*config.Config, error) {
	path := cfgPath
	if path == "" {
		var err error
		path, err = config.FindConfigFile()
		if err != nil {
			logger.Warn("config file not found, using defaults", "error", err)
			return config.DefaultConfig(), nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger.Debug("config loaded", "path", path)
	return cfg, nil
}

// applyOverrides copies the command-line overrides into cfg.
func applyOverrides(cfg *config.Config) {
	if targetDir != "" {
		cfg.Install.Target = targetDir
	}
	if sourceDir != "" {
		cfg.Install.Source = sourceDir
	}
	if stateDir != "" {
		cfg.Install.StateDir = stateDir
	}
	if frontendMode != "" {
		cfg.Frontend.Mode = frontendMode
	}
	if statusListen != "" {
		cfg.Frontend.StatusListen = statusListen
	}
}

// fetchPreseed downloads preseed_url, when set, and merges its answers
// over the configured ones.
func fetchPreseed(ctx context.Context, cfg *config.Config, client *download.Client) error {
	if cfg.PreseedURL == "" {
		return nil
	}
	res, err := client.Fetch(ctx, download.FetchOptions{
		URL:              cfg.PreseedURL,
		ExpectedChecksum: cfg.PreseedChecksum,
	})
	if err != nil {
		return fmt.Errorf("fetching preseed: %w", err)
	}
	answers, err := config.ParsePreseed(res.Data)
	if err != nil {
		return fmt.Errorf("parsing preseed from %s: %w", cfg.PreseedURL, err)
	}
	cfg.MergePreseed(answers)
	logger.Info("preseed merged", "url", cfg.PreseedURL, "answers", len(answers), "attempts", res.Attempts)
	return nil
}

func openStore(cfg *config.Config) error {
	dbPath := cfg.DBPath()
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", filepath.Dir(dbPath), err)
		}
	}
	st, err := store.New(dbPath, logger)
	if err != nil {
		return err
	}
	globalStore = st
	return nil
}

// closeStore closes the global store connection
func closeStore() {
	if globalStore != nil {
		if err := globalStore.Close(); err != nil {
			logger.Error("failed to close store", "error", err)
		}
		globalStore = nil
	}
}

// setupLogging initializes the slog logger based on flags
func setupLogging() {
	var level slog.Level
	switch strings.ToLower(logLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if strings.ToLower(logFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	}

	logger = slog.New(handler)
	slog.SetDefault(logger)
}

// shouldSkipConfig checks if a command should skip config loading
func shouldSkipConfig(cmdName string) bool {
	skipConfigCmds := map[string]bool{
		"help":       true,
		"version":    true,
		"completion": true,
	}
	return skipConfigCmds[cmdName]
}

// isConfigCmd reports whether cmd is "config" or one of its subcommands.
// Those only inspect the configuration and need neither preseed nor store.
func isConfigCmd(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		if c.Name() == "config" {
			return true
		}
	}
	return false
}
