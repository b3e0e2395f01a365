package pipeline

import (
	"context"
	"time"
)

// Stage is one named step of an install run. It owns the [Start, End]
// window of the overall 0-100 progress bar.
type Stage struct {
	Name  string
	Start int
	End   int
	// Info is the message template shown when the stage begins. Stages
	// that report their own messages leave it empty.
	Info string
	// Fatal stages end the run when they fail; other failures are logged.
	Fatal bool
	Run   func(ctx context.Context) error
}

// State is the position of a Sequencer in its run.
type State int

const (
	StateNotStarted State = iota
	StateRunning
	StateFailed
	StateCompleted
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateRunning:
		return "running"
	case StateFailed:
		return "failed"
	case StateCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Result describes one finished stage.
type Result struct {
	Stage    string
	Fatal    bool
	Err      error
	Started  time.Time
	Duration time.Duration
}

// Status is "succeeded", "failed" or, for a non-fatal failure, "ignored".
func (r Result) Status() string {
	switch {
	case r.Err == nil:
		return "succeeded"
	case r.Fatal:
		return "failed"
	default:
		return "ignored"
	}
}

// Observer is told about every stage as it finishes.
type Observer interface {
	StageFinished(r Result)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(r Result)

func (f ObserverFunc) StageFinished(r Result) { f(r) }
