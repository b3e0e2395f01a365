package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/BadgerOps/liveinstall/internal/pipeline"
	"github.com/BadgerOps/liveinstall/internal/progress"
	"github.com/BadgerOps/liveinstall/internal/safety"
	"github.com/BadgerOps/liveinstall/internal/server"
	"github.com/BadgerOps/liveinstall/internal/sysexec"
)

func newInstallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Copy the live system to the target and configure it",
		Long: `Run every install stage in order: mount and copy the source, run the
target-config hooks, then configure locales, network, apt, language packs,
timezone, keyboard, users, hardware, kernels and the bootloader, remove
live-only packages and copy the installer logs.

A failed run leaves a trace in the state directory and exits with status 1.
Interrupting the run stops it after the current command and unmounts
everything it mounted.`,
		Example: `  liveinstall install
  liveinstall install --frontend console
  liveinstall install --status-listen 127.0.0.1:8080`,
		Args: cobra.NoArgs,
		RunE: installRun,
	}
	return cmd
}

func installRun(cmd *cobra.Command, args []string) error {
	if globalCfg == nil {
		return fmt.Errorf("config not loaded")
	}
	if err := globalCfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fe := newFrontend(globalCfg, os.Stdin, os.Stdout, os.Stderr, logger)
	if addr := globalCfg.Frontend.StatusListen; addr != "" {
		shutdown := startStatusServer(addr, fe.tracker)
		defer shutdown()
	}

	in, err := pipeline.NewInstaller(pipeline.Options{
		Config:    globalCfg,
		Reporter:  fe.reporter,
		Runner:    sysexec.NewExec(logger),
		Questions: fe.questions,
		Logger:    logger,
	})
	if err != nil {
		return err
	}
	return runInstall(ctx, in)
}

// runInstall runs in and records it in the run history.
func runInstall(ctx context.Context, in *pipeline.Installer) error {
	hist, err := startHistory(globalStore, "install", in.Source(), in.Target(), logger)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	in.SetObservers(hist, hist)

	runErr := in.Run(ctx)
	stage := ""
	if seq := in.Sequencer(); seq != nil {
		_, stage = seq.State()
	}
	hist.finish(runErr, stage)
	if runErr != nil {
		return runErr
	}
	fmt.Fprintf(os.Stderr, "Installation finished (run %d)\n", hist.run.ID)
	return nil
}

// startStatusServer serves tracker on addr and returns a function that
// stops the server.
func startStatusServer(addr string, tracker *progress.Tracker) func() {
	if !safety.IsLoopbackAddr(addr) {
		logger.Warn("status server listens on a non-loopback address; install progress and history are readable from the network", "addr", addr)
	}
	srv := server.NewServer(tracker, globalStore, logger)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		logger.Error("status server not started", "addr", addr, "error", err)
		return func() {}
	}
	go func() {
		if err := srv.Serve(ln); err != nil {
			logger.Error("status server failed", "error", err)
		}
	}()
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("status server shutdown", "error", err)
		}
	}
}
