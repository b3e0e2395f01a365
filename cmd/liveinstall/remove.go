package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/liveinstall/internal/pipeline"
	"github.com/BadgerOps/liveinstall/internal/progress"
	"github.com/BadgerOps/liveinstall/internal/sysexec"
)

var removeRecursive bool

func newRemoveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "remove PKG...",
		Short: "Remove packages from the target system",
		Long: `Purge packages from the target. Packages whose removal would break
other installed packages are kept, unless --recursive is given, in which
case the broken dependents are removed as well. Selection repeats until no
further package can be removed, then the transaction is committed.`,
		Example: `  liveinstall remove casper ubiquity
  liveinstall remove --recursive linux-image-6.5.0-9-generic`,
		Args: cobra.MinimumNArgs(1),
		RunE: removeRun,
	}

	cmd.Flags().BoolVar(&removeRecursive, "recursive", false, "also remove packages that would be left broken")

	return cmd
}

func removeRun(cmd *cobra.Command, args []string) error {
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

	hist, err := startHistory(globalStore, "remove", "", in.Target(), logger)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	in.SetObservers(nil, hist)

	ok, err := in.RemovePackages(ctx, "remove", args, removeRecursive)
	if err == nil && !ok {
		err = &pipeline.StageFailure{Stage: "remove", Err: fmt.Errorf("package transaction failed")}
	}
	hist.finish(err, "remove")
	if err != nil {
		return err
	}
	fmt.Printf("Removed packages from %s\n", in.Target())
	return nil
}
