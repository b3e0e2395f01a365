// Package progress defines the staged progress sink shared by every part of
// the install pipeline, plus the reporters that render it.
//
// The model follows the debconf PROGRESS command set: a bar is started with
// a range and a title, values are set inside that range, a region of the
// current bar can be reserved for a nested bar, and informational messages
// are referenced by template name with variable substitutions.
package progress

import (
	"errors"
	"fmt"
)

// ErrAborted is returned by a reporter when its observer went away or asked
// for the current operation to be cancelled. Callers that can abort (apt
// fetches, for example) should stop; everybody else may keep going, the
// reporter stays silent afterwards.
var ErrAborted = errors.New("progress observer requested abort")

// Vars holds template substitutions for Info messages.
type Vars map[string]string

// Reporter is the narrow sink every stage reports through.
type Reporter interface {
	Start(min, max int, title string) error
	Region(start, end int) error
	Set(value int) error
	Step(n int) error
	Info(template string, vars Vars) error
	Stop() error
}

// StageNotifier is implemented by reporters that want to know which
// pipeline stage is running.
type StageNotifier interface {
	BeginStage(name string)
}

// BeginStage forwards the stage name to r if it cares.
func BeginStage(r Reporter, name string) {
	if sn, ok := r.(StageNotifier); ok {
		sn.BeginStage(name)
	}
}

// Kind identifies a progress event.
type Kind int

const (
	KindStart Kind = iota + 1
	KindStop
	KindSet
	KindRegion
	KindStep
	KindInfo
)

func (k Kind) String() string {
	switch k {
	case KindStart:
		return "START"
	case KindStop:
		return "STOP"
	case KindSet:
		return "SET"
	case KindRegion:
		return "REGION"
	case KindStep:
		return "STEP"
	case KindInfo:
		return "INFO"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Event is one progress call. Only the fields relevant to Kind are set.
type Event struct {
	Kind     Kind
	Min, Max int    // START range, REGION bounds
	Title    string // START
	Value    int    // SET value, STEP increment
	Template string // INFO
	Vars     Vars   // INFO substitutions
}

func (e Event) String() string {
	switch e.Kind {
	case KindStart:
		return fmt.Sprintf("START %d %d %s", e.Min, e.Max, e.Title)
	case KindRegion:
		return fmt.Sprintf("REGION %d %d", e.Min, e.Max)
	case KindSet, KindStep:
		return fmt.Sprintf("%s %d", e.Kind, e.Value)
	case KindInfo:
		return fmt.Sprintf("INFO %s", e.Template)
	default:
		return e.Kind.String()
	}
}

// Apply replays e against r.
func Apply(r Reporter, e Event) error {
	switch e.Kind {
	case KindStart:
		return r.Start(e.Min, e.Max, e.Title)
	case KindStop:
		return r.Stop()
	case KindSet:
		return r.Set(e.Value)
	case KindRegion:
		return r.Region(e.Min, e.Max)
	case KindStep:
		return r.Step(e.Value)
	case KindInfo:
		return r.Info(e.Template, e.Vars)
	default:
		return fmt.Errorf("unknown progress event kind %d", int(e.Kind))
	}
}

// Discard is a Reporter that drops everything.
var Discard Reporter = discard{}

type discard struct{}

func (discard) Start(int, int, string) error { return nil }
func (discard) Region(int, int) error        { return nil }
func (discard) Set(int) error                { return nil }
func (discard) Step(int) error               { return nil }
func (discard) Info(string, Vars) error      { return nil }
func (discard) Stop() error                  { return nil }
