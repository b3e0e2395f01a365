package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/BadgerOps/liveinstall/internal/store"
)

var (
	statusRunID string
	statusLimit int
)

func newStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Display install run history",
		Long: `Display recent install, copy and remove runs with their outcome. Use --run
with a run number or UUID to show the stages of one run and the packages it
installed or removed.`,
		Example: `  liveinstall status
  liveinstall status --limit 5
  liveinstall status --run 3
  liveinstall status --run 0b6f5c1e-8d7a-4c35-9a57-3f7f0fa4c2de`,
		Args: cobra.NoArgs,
		RunE: statusRun,
	}

	cmd.Flags().StringVar(&statusRunID, "run", "", "show one run by number or UUID")
	cmd.Flags().IntVar(&statusLimit, "limit", 20, "number of runs to list")

	return cmd
}

func statusRun(cmd *cobra.Command, args []string) error {
	if globalStore == nil {
		return fmt.Errorf("run history not opened")
	}
	if statusRunID != "" {
		run, err := lookupRun(globalStore, statusRunID)
		if err != nil {
			return err
		}
		return printRunDetail(globalStore, run)
	}
	if statusLimit <= 0 {
		return fmt.Errorf("--limit must be positive, got %d", statusLimit)
	}

	runs, err := globalStore.ListInstallRuns(statusLimit)
	if err != nil {
		return err
	}
	printRuns(runs)
	return nil
}

func lookupRun(st *store.Store, id string) (*store.InstallRun, error) {
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		run, err := st.GetInstallRun(n)
		if err != nil {
			return nil, fmt.Errorf("run %s: %w", id, err)
		}
		return run, nil
	}
	run, err := st.GetInstallRunByUUID(id)
	if err != nil {
		return nil, fmt.Errorf("run %s: %w", id, err)
	}
	return run, nil
}

func printRuns(runs []store.InstallRun) {
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return
	}

	fmt.Println("Install Runs")
	fmt.Println("============")
	fmt.Println("")
	fmt.Printf("%-6s %-8s %-10s %-14s %10s  %s\n", "Run", "Command", "Status", "Failed Stage", "Duration", "Started")
	fmt.Println(strings.Repeat("-", 72))

	for _, run := range runs {
		duration := "-"
		if !run.EndTime.IsZero() {
			duration = formatDuration(run.EndTime.Sub(run.StartTime))
		}
		failed := run.FailedStage
		if failed == "" {
			failed = "-"
		}
		fmt.Printf("%-6d %-8s %-10s %-14s %10s  %s\n",
			run.ID,
			run.Command,
			run.Status,
			failed,
			duration,
			humanize.Time(run.StartTime),
		)
	}

	fmt.Println("")
}

func printRunDetail(st *store.Store, run *store.InstallRun) error {
	stages, err := st.ListStageResults(run.ID)
	if err != nil {
		return err
	}
	actions, err := st.ListPackageActions(run.ID)
	if err != nil {
		return err
	}

	fmt.Printf("Run %d (%s)\n", run.ID, run.UUID)
	fmt.Println(strings.Repeat("=", 40))
	fmt.Printf("Command: %s\n", run.Command)
	fmt.Printf("Status:  %s\n", run.Status)
	if run.Source != "" {
		fmt.Printf("Source:  %s\n", run.Source)
	}
	fmt.Printf("Target:  %s\n", run.Target)
	fmt.Printf("Started: %s (%s)\n", run.StartTime.Format("2006-01-02 15:04:05"), humanize.Time(run.StartTime))
	if run.FailedStage != "" {
		fmt.Printf("Failed:  %s\n", run.FailedStage)
	}
	if run.ErrorMessage != "" {
		fmt.Printf("Error:   %s\n", run.ErrorMessage)
	}

	if len(stages) > 0 {
		fmt.Println("")
		fmt.Printf("%-16s %-10s %10s  %s\n", "Stage", "Status", "Duration", "Error")
		fmt.Println(strings.Repeat("-", 60))
		for _, s := range stages {
			fmt.Printf("%-16s %-10s %10s  %s\n", s.Stage, s.Status, formatDuration(s.Duration), s.ErrorMessage)
		}
	}

	if len(actions) > 0 {
		fmt.Println("")
		fmt.Printf("%-12s %-8s %-4s %s\n", "Stage", "Action", "OK", "Package")
		fmt.Println(strings.Repeat("-", 60))
		for _, a := range actions {
			ok := "yes"
			if !a.OK {
				ok = "no"
			}
			fmt.Printf("%-12s %-8s %-4s %s\n", a.Stage, a.Action, ok, a.Package)
		}
	}

	fmt.Println("")
	return nil
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(100 * time.Millisecond).String()
}
