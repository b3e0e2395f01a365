package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/liveinstall/internal/clone"
	"github.com/BadgerOps/liveinstall/internal/pipeline"
	"github.com/BadgerOps/liveinstall/internal/progress"
	"github.com/BadgerOps/liveinstall/internal/sysexec"
)

func newCopyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Copy the source filesystem onto the target only",
		Long: `Clone the source tree onto the target with console progress and a
time-remaining estimate. Ownership, permissions, timestamps, symlinks and
device nodes are preserved. An interrupted copy can be rerun; entries
already present are skipped and partial files are removed first.`,
		Example: `  liveinstall copy --source /rofs --target /target
  liveinstall copy --source /source --target /mnt/target --log-level debug`,
		Args: cobra.NoArgs,
		RunE: copyRun,
	}
	return cmd
}

func copyRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if err := globalCfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	in, err := pipeline.NewInstaller(pipeline.Options{
		Config:   globalCfg,
		Reporter: progress.NewConsole(os.Stderr),
		Runner:   sysexec.NewExec(logger),
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	hist, err := startHistory(globalStore, "copy", in.Source(), in.Target(), logger)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	stats, err := in.CloneSource(ctx)
	hist.finish(err, "copy")
	if err != nil {
		return err
	}
	printCopyStats(stats)
	return nil
}

func printCopyStats(stats clone.Stats) {
	fmt.Println("Copy Summary")
	fmt.Println("============")
	fmt.Printf("Entries:  %d\n", stats.Entries)
	fmt.Printf("Copied:   %d\n", stats.Copied)
	fmt.Printf("Skipped:  %d\n", stats.Skipped)
	fmt.Printf("Size:     %s\n", humanize.Bytes(uint64(stats.Bytes)))
	fmt.Printf("Duration: %s\n", formatDuration(stats.Duration))
}
