package progress

import (
	"sync"
	"time"
)

// Snapshot is a point-in-time copy of a Tracker, safe for JSON serialization.
type Snapshot struct {
	Active    bool      `json:"active"`
	Title     string    `json:"title,omitempty"`
	Stage     string    `json:"stage,omitempty"`
	Percent   float64   `json:"percent"`
	Template  string    `json:"template,omitempty"`
	Message   string    `json:"message,omitempty"`
	StartTime time.Time `json:"start_time"`
	Elapsed   string    `json:"elapsed"`
	Updated   time.Time `json:"updated"`
}

// Tracker is a Reporter that keeps the latest progress state for remote
// observers. Listeners call Wait to get a channel that is closed on the
// next update.
type Tracker struct {
	mu sync.Mutex

	scale     Scale
	catalog   Catalog
	title     string
	stage     string
	template  string
	message   string
	startTime time.Time
	updated   time.Time

	// close-and-replace notification channel
	notify chan struct{}
}

// NewTracker creates an idle tracker.
func NewTracker() *Tracker {
	return &Tracker{
		catalog: Messages,
		notify:  make(chan struct{}),
	}
}

// Snapshot returns a copy of the current state.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	var elapsed string
	if !t.startTime.IsZero() {
		elapsed = time.Since(t.startTime).Truncate(time.Second).String()
	}
	return Snapshot{
		Active:    t.scale.Depth() > 0,
		Title:     t.title,
		Stage:     t.stage,
		Percent:   t.scale.Percent(),
		Template:  t.template,
		Message:   t.message,
		StartTime: t.startTime,
		Elapsed:   elapsed,
		Updated:   t.updated,
	}
}

// Wait returns a channel that will be closed when the next update occurs.
func (t *Tracker) Wait() <-chan struct{} {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.notify
}

// signal must be called with t.mu held.
func (t *Tracker) signal() {
	t.updated = time.Now()
	close(t.notify)
	t.notify = make(chan struct{})
}

// BeginStage records the running pipeline stage.
func (t *Tracker) BeginStage(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.stage = name
	t.signal()
}

func (t *Tracker) Start(min, max int, title string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.scale.Depth() == 0 {
		t.startTime = time.Now()
		t.title = t.catalog.Render(title, nil)
	}
	t.scale.Start(min, max)
	t.signal()
	return nil
}

func (t *Tracker) Region(start, end int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scale.Region(start, end)
	return nil
}

func (t *Tracker) Set(value int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scale.Set(value)
	t.signal()
	return nil
}

func (t *Tracker) Step(n int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scale.Step(n)
	t.signal()
	return nil
}

func (t *Tracker) Info(template string, vars Vars) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.template = template
	t.message = t.catalog.Render(template, vars)
	t.signal()
	return nil
}

func (t *Tracker) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scale.Stop()
	t.signal()
	return nil
}
