package main

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/BadgerOps/liveinstall/internal/apt"
	"github.com/BadgerOps/liveinstall/internal/pipeline"
	"github.com/BadgerOps/liveinstall/internal/progress"
	"github.com/BadgerOps/liveinstall/internal/store"
)

// history records one run, its stages and its package transactions in the
// run history database. Write failures are logged; they never fail a run.
type history struct {
	store  *store.Store
	run    *store.InstallRun
	logger *slog.Logger
}

func startHistory(st *store.Store, command, source, target string, logger *slog.Logger) (*history, error) {
	run := &store.InstallRun{
		Command:   command,
		Source:    source,
		Target:    target,
		StartTime: time.Now(),
	}
	if err := st.CreateInstallRun(run); err != nil {
		return nil, err
	}
	logger.Info("run started", "run", run.ID, "uuid", run.UUID, "command", command)
	return &history{store: st, run: run, logger: logger}, nil
}

func (h *history) StageFinished(r pipeline.Result) {
	res := &store.StageResult{
		RunID:     h.run.ID,
		Stage:     r.Stage,
		Status:    r.Status(),
		Fatal:     r.Fatal,
		StartTime: r.Started,
		Duration:  r.Duration,
	}
	if r.Err != nil {
		res.ErrorMessage = r.Err.Error()
	}
	if err := h.store.AddStageResult(res); err != nil {
		h.logger.Warn("recording stage result", "stage", r.Stage, "error", err)
	}
}

func (h *history) PackagesCommitted(stage string, changes apt.Changes, ok bool) {
	for action, names := range map[string][]string{
		"install": changes.Install,
		"remove":  changes.Remove,
	} {
		if err := h.store.AddPackageActions(h.run.ID, stage, action, names, ok); err != nil {
			h.logger.Warn("recording package actions", "stage", stage, "action", action, "error", err)
		}
	}
}

// finish stores the outcome of the run. stage names where the run stopped
// when err does not say so itself.
func (h *history) finish(err error, stage string) {
	status, failed := runOutcome(err)
	if failed == "" && status != store.StatusSuccess {
		failed = stage
	}
	if ferr := h.store.FinishInstallRun(h.run, status, failed, err); ferr != nil {
		h.logger.Warn("recording run outcome", "run", h.run.ID, "error", ferr)
		return
	}
	h.logger.Info("run finished", "run", h.run.ID, "status", status, "stage", failed)
}

// runOutcome maps the error a run returned to its history status and the
// stage it failed in.
func runOutcome(err error) (status, stage string) {
	if err == nil {
		return store.StatusSuccess, ""
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, progress.ErrAborted) {
		return store.StatusCancelled, ""
	}
	var ie *pipeline.InstallError
	if errors.As(err, &ie) {
		return store.StatusFailed, ie.Stage
	}
	var sf *pipeline.StageFailure
	if errors.As(err, &sf) {
		return store.StatusFailed, sf.Stage
	}
	return store.StatusFailed, ""
}
