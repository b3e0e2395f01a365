package main

import (
	"io"
	"log/slog"
	"os"

	"github.com/BadgerOps/liveinstall/internal/config"
	"github.com/BadgerOps/liveinstall/internal/debconf"
	"github.com/BadgerOps/liveinstall/internal/progress"
)

// frontend is where progress goes and where question answers come from.
type frontend struct {
	mode      string
	reporter  progress.Reporter
	questions debconf.Store
	tracker   *progress.Tracker
}

// resolveMode turns "auto" into debconf when a debconf frontend started
// us, and into console otherwise.
func resolveMode(mode string, getenv func(string) string) string {
	if mode != config.FrontendAuto && mode != "" {
		return mode
	}
	if getenv("DEBIAN_HAS_FRONTEND") != "" {
		return config.FrontendDebconf
	}
	return config.FrontendConsole
}

// newFrontend builds the reporter chain for cfg. The tracker is always
// part of it so the status server can follow the run. In debconf mode the
// protocol runs over stdin and stdout and configured preseed answers are
// pushed to the frontend's database.
func newFrontend(cfg *config.Config, stdin io.Reader, stdout, stderr io.Writer, logger *slog.Logger) *frontend {
	fe := &frontend{
		mode:    resolveMode(cfg.Frontend.Mode, os.Getenv),
		tracker: progress.NewTracker(),
	}
	switch fe.mode {
	case config.FrontendDebconf:
		client := debconf.NewClient(stdin, stdout)
		for q, v := range cfg.Preseed {
			if err := client.Set(q, v); err != nil {
				logger.Warn("preseeding question failed", "question", q, "error", err)
			}
		}
		fe.questions = client
		fe.reporter = progress.Multi(debconf.NewReporter(client, logger), fe.tracker)
	case config.FrontendConsole:
		fe.questions = debconf.NewMapStore(cfg.Preseed)
		fe.reporter = progress.Multi(progress.NewConsole(stderr), fe.tracker)
	default:
		fe.questions = debconf.NewMapStore(cfg.Preseed)
		fe.reporter = fe.tracker
	}
	logger.Debug("frontend selected", "mode", fe.mode)
	return fe
}
