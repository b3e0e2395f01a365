package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/BadgerOps/liveinstall/internal/progress"
)

// ErrAlreadyRun is returned when a Sequencer is run a second time.
var ErrAlreadyRun = errors.New("sequencer already ran")

// Sequencer runs stages in order, each inside its own region of a single
// progress bar. A fatal failure stops the run with an *InstallError; a
// non-fatal one is logged and the run continues. Cancellation of ctx is
// returned as is.
type Sequencer struct {
	Title    string
	Stages   []Stage
	Reporter progress.Reporter
	Observer Observer
	// Cleanup runs exactly once after the run, whatever its outcome.
	Cleanup func()

	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	state   State
	current string
	results []Result
}

// NewSequencer creates a sequencer. A nil reporter discards progress and a
// nil logger uses slog.Default().
func NewSequencer(title string, stages []Stage, r progress.Reporter, logger *slog.Logger) *Sequencer {
	if r == nil {
		r = progress.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sequencer{
		Title:    title,
		Stages:   stages,
		Reporter: r,
		logger:   logger,
		now:      time.Now,
	}
}

// State returns the run state and the stage it refers to.
func (s *Sequencer) State() (State, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.current
}

// Results returns the stages finished so far.
func (s *Sequencer) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Result(nil), s.results...)
}

func (s *Sequencer) setState(st State, stage string) {
	s.mu.Lock()
	s.state, s.current = st, stage
	s.mu.Unlock()
}

// Validate checks that stage windows are ordered and inside 0-100.
func (s *Sequencer) Validate() error {
	prev := 0
	seen := make(map[string]bool, len(s.Stages))
	for _, st := range s.Stages {
		if st.Name == "" || st.Run == nil {
			return fmt.Errorf("stage %q has no name or no run function", st.Name)
		}
		if seen[st.Name] {
			return fmt.Errorf("duplicate stage %q", st.Name)
		}
		seen[st.Name] = true
		if st.Start < prev || st.End < st.Start || st.End > 100 {
			return fmt.Errorf("stage %s window %d-%d overlaps or is out of range", st.Name, st.Start, st.End)
		}
		prev = st.End
	}
	return nil
}

// Run executes every stage once.
func (s *Sequencer) Run(ctx context.Context) error {
	s.mu.Lock()
	if s.state != StateNotStarted {
		s.mu.Unlock()
		return ErrAlreadyRun
	}
	s.state = StateRunning
	s.mu.Unlock()

	if err := s.Validate(); err != nil {
		s.setState(StateFailed, "")
		return err
	}

	r := s.Reporter
	defer func() {
		if s.Cleanup != nil {
			s.Cleanup()
		}
		if stopErr := r.Stop(); stopErr != nil {
			s.logger.Debug("stopping progress", "error", stopErr)
		}
	}()
	s.ignore(r.Start(0, 100, s.Title))

	for _, st := range s.Stages {
		if err := ctx.Err(); err != nil {
			s.setState(StateFailed, st.Name)
			return err
		}
		s.setState(StateRunning, st.Name)
		progress.BeginStage(r, st.Name)
		s.ignore(r.Set(st.Start))
		if st.End > st.Start {
			s.ignore(r.Region(st.Start, st.End))
		}
		if st.Info != "" {
			s.ignore(r.Info(st.Info, nil))
		}

		s.logger.Info("stage starting", "stage", st.Name)
		started := s.now()
		runErr := st.Run(ctx)
		res := Result{Stage: st.Name, Fatal: st.Fatal, Err: runErr, Started: started, Duration: s.now().Sub(started)}
		s.mu.Lock()
		s.results = append(s.results, res)
		s.mu.Unlock()
		if s.Observer != nil {
			s.Observer.StageFinished(res)
		}

		if runErr == nil {
			s.logger.Info("stage finished", "stage", st.Name, "duration", res.Duration.Round(time.Millisecond))
			continue
		}
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(runErr, ctxErr) {
			s.setState(StateFailed, st.Name)
			return ctxErr
		}
		if !st.Fatal {
			s.logger.Warn("stage failed, continuing", "stage", st.Name, "error", runErr)
			continue
		}
		s.logger.Error("stage failed", "stage", st.Name, "error", runErr)
		s.setState(StateFailed, st.Name)
		return &InstallError{Stage: st.Name, Err: runErr}
	}

	s.ignore(r.Set(100))
	s.setState(StateCompleted, "")
	return nil
}

// ignore logs progress errors. Stages carry on without an observer.
func (s *Sequencer) ignore(err error) {
	if err != nil {
		s.logger.Debug("progress update failed", "error", err)
	}
}
