package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/BadgerOps/liveinstall/internal/store"
)

// RunJSON is the JSON representation of an install run.
type RunJSON struct {
	ID          int64     `json:"id"`
	UUID        string    `json:"uuid"`
	Command     string    `json:"command"`
	Source      string    `json:"source,omitempty"`
	Target      string    `json:"target,omitempty"`
	Status      string    `json:"status"`
	FailedStage string    `json:"failed_stage,omitempty"`
	Error       string    `json:"error,omitempty"`
	StartTime   time.Time `json:"start_time"`
	EndTime     time.Time `json:"end_time,omitempty"`
	Duration    string    `json:"duration,omitempty"`
	Started     string    `json:"started"`
}

// StageJSON is the JSON representation of a stage outcome.
type StageJSON struct {
	Stage    string `json:"stage"`
	Status   string `json:"status"`
	Fatal    bool   `json:"fatal"`
	Duration string `json:"duration"`
	Error    string `json:"error,omitempty"`
}

// PackageJSON is the JSON representation of a package action.
type PackageJSON struct {
	Stage   string `json:"stage"`
	Action  string `json:"action"`
	Package string `json:"package"`
	OK      bool   `json:"ok"`
}

// RunDetailJSON is a run with its stages and package actions.
type RunDetailJSON struct {
	RunJSON
	Stages   []StageJSON   `json:"stages"`
	Packages []PackageJSON `json:"packages"`
}

func runToJSON(run store.InstallRun) RunJSON {
	out := RunJSON{
		ID:          run.ID,
		UUID:        run.UUID,
		Command:     run.Command,
		Source:      run.Source,
		Target:      run.Target,
		Status:      run.Status,
		FailedStage: run.FailedStage,
		Error:       run.ErrorMessage,
		StartTime:   run.StartTime,
		EndTime:     run.EndTime,
		Started:     humanize.Time(run.StartTime),
	}
	if !run.EndTime.IsZero() {
		out.Duration = formatDuration(run.EndTime.Sub(run.StartTime))
	}
	return out
}

// formatDuration formats a duration in a human-readable way.
func formatDuration(d time.Duration) string {
	if d < time.Second {
		return fmt.Sprintf("%dms", d.Milliseconds())
	}
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	if d < time.Hour {
		return fmt.Sprintf("%.1fm", d.Minutes())
	}
	return fmt.Sprintf("%.1fh", d.Hours())
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

// handleAPIProgress returns the current progress snapshot.
func (s *Server) handleAPIProgress(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.tracker.Snapshot())
}

// handleAPIRuns lists recent runs, newest first.
func (s *Server) handleAPIRuns(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "run history is not available")
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			s.writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}

	runs, err := s.store.ListInstallRuns(limit)
	if err != nil {
		s.logger.Error("failed to list install runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	response := make([]RunJSON, 0, len(runs))
	for _, run := range runs {
		response = append(response, runToJSON(run))
	}
	s.writeJSON(w, http.StatusOK, response)
}

// handleAPIRun returns one run, addressed by numeric ID or UUID.
func (s *Server) handleAPIRun(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		s.writeError(w, http.StatusServiceUnavailable, "run history is not available")
		return
	}
	id := r.PathValue("id")

	var (
		run *store.InstallRun
		err error
	)
	if n, perr := strconv.ParseInt(id, 10, 64); perr == nil {
		run, err = s.store.GetInstallRun(n)
	} else {
		run, err = s.store.GetInstallRunByUUID(id)
	}
	if errors.Is(err, store.ErrNotFound) {
		s.writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		s.logger.Error("failed to load install run", "id", id, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	stages, err := s.store.ListStageResults(run.ID)
	if err != nil {
		s.logger.Error("failed to list stage results", "run", run.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}
	actions, err := s.store.ListPackageActions(run.ID)
	if err != nil {
		s.logger.Error("failed to list package actions", "run", run.ID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load run")
		return
	}

	detail := RunDetailJSON{
		RunJSON:  runToJSON(*run),
		Stages:   make([]StageJSON, 0, len(stages)),
		Packages: make([]PackageJSON, 0, len(actions)),
	}
	for _, st := range stages {
		detail.Stages = append(detail.Stages, StageJSON{
			Stage:    st.Stage,
			Status:   st.Status,
			Fatal:    st.Fatal,
			Duration: formatDuration(st.Duration),
			Error:    st.ErrorMessage,
		})
	}
	for _, a := range actions {
		detail.Packages = append(detail.Packages, PackageJSON{
			Stage:   a.Stage,
			Action:  a.Action,
			Package: a.Package,
			OK:      a.OK,
		})
	}
	s.writeJSON(w, http.StatusOK, detail)
}
