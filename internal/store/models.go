package store

import "time"

// Run statuses.
const (
	StatusRunning   = "running"
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// InstallRun records one install invocation
type InstallRun struct {
	ID           int64
	UUID         string
	Command      string // "install", "copy" or "remove"
	Source       string
	Target       string
	StartTime    time.Time
	EndTime      time.Time
	Status       string // "running", "success", "failed", "cancelled"
	FailedStage  string
	ErrorMessage string
}

// StageResult is the outcome of one stage of a run
type StageResult struct {
	ID           int64
	RunID        int64
	Stage        string
	Status       string // "succeeded", "failed", "ignored"
	Fatal        bool
	StartTime    time.Time
	Duration     time.Duration
	ErrorMessage string
}

// PackageAction is one package a run installed or removed
type PackageAction struct {
	ID      int64
	RunID   int64
	Stage   string
	Action  string // "install" or "remove"
	Package string
	OK      bool
}
