package progress

import "sync"

// Recorder is a Reporter that keeps every event it receives. It is meant for
// tests and for replaying a run's progress later.
type Recorder struct {
	mu     sync.Mutex
	events []Event
	stages []string

	// Fail, when set, is consulted for every event; a non-nil result is
	// returned to the caller after the event has been recorded.
	Fail func(Event) error
}

func (r *Recorder) record(e Event) error {
	r.mu.Lock()
	r.events = append(r.events, e)
	fail := r.Fail
	r.mu.Unlock()
	if fail != nil {
		return fail(e)
	}
	return nil
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Stages returns the stage names announced through BeginStage.
func (r *Recorder) Stages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.stages))
	copy(out, r.stages)
	return out
}

// Values returns every SET value in order.
func (r *Recorder) Values() []int {
	var out []int
	for _, e := range r.Events() {
		if e.Kind == KindSet {
			out = append(out, e.Value)
		}
	}
	return out
}

// Count returns how many events of kind k were recorded.
func (r *Recorder) Count(k Kind) int {
	n := 0
	for _, e := range r.Events() {
		if e.Kind == k {
			n++
		}
	}
	return n
}

func (r *Recorder) BeginStage(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, name)
}

func (r *Recorder) Start(min, max int, title string) error {
	return r.record(Event{Kind: KindStart, Min: min, Max: max, Title: title})
}

func (r *Recorder) Region(start, end int) error {
	return r.record(Event{Kind: KindRegion, Min: start, Max: end})
}

func (r *Recorder) Set(value int) error {
	return r.record(Event{Kind: KindSet, Value: value})
}

func (r *Recorder) Step(n int) error {
	return r.record(Event{Kind: KindStep, Value: n})
}

func (r *Recorder) Info(template string, vars Vars) error {
	var cp Vars
	if vars != nil {
		cp = make(Vars, len(vars))
		for k, v := range vars {
			cp[k] = v
		}
	}
	return r.record(Event{Kind: KindInfo, Template: template, Vars: cp})
}

func (r *Recorder) Stop() error {
	return r.record(Event{Kind: KindStop})
}
