package debconf

import (
	"errors"
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/BadgerOps/liveinstall/internal/progress"
)

// Progressor is the part of a debconf client a Reporter needs.
type Progressor interface {
	Subst(template, key, value string) error
	Progress(sub string, args ...string) error
}

// Reporter sends progress over the debconf protocol. When the frontend
// cancels, the call returns progress.ErrAborted. When the connection is
// lost, the first failing call returns progress.ErrAborted and the reporter
// drops everything afterwards.
type Reporter struct {
	mu     sync.Mutex
	db     Progressor
	logger *slog.Logger
	dead   bool
}

// NewReporter wraps db. A nil logger uses slog.Default().
func NewReporter(db Progressor, logger *slog.Logger) *Reporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reporter{db: db, logger: logger}
}

// Disconnected reports whether the frontend went away.
func (r *Reporter) Disconnected() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.dead
}

func (r *Reporter) progress(sub string, args ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dead {
		return nil
	}
	return r.check(sub, r.db.Progress(sub, args...))
}

// check must be called with r.mu held.
func (r *Reporter) check(sub string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrGoBack) {
		return progress.ErrAborted
	}
	var de *Error
	if errors.As(err, &de) {
		r.logger.Debug("debconf progress command rejected", "command", sub, "error", err)
		return nil
	}
	r.logger.Warn("debconf frontend disconnected, progress reporting stopped", "error", err)
	r.dead = true
	return progress.ErrAborted
}

func (r *Reporter) Start(min, max int, title string) error {
	return r.progress("START", strconv.Itoa(min), strconv.Itoa(max), title)
}

func (r *Reporter) Region(start, end int) error {
	return r.progress("REGION", strconv.Itoa(start), strconv.Itoa(end))
}

func (r *Reporter) Set(value int) error {
	return r.progress("SET", strconv.Itoa(value))
}

func (r *Reporter) Step(n int) error {
	return r.progress("STEP", strconv.Itoa(n))
}

func (r *Reporter) Info(template string, vars progress.Vars) error {
	r.mu.Lock()
	if !r.dead {
		keys := make([]string, 0, len(vars))
		for k := range vars {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if err := r.check("SUBST", r.db.Subst(template, k, vars[k])); err != nil {
				r.mu.Unlock()
				return err
			}
		}
	}
	r.mu.Unlock()
	return r.progress("INFO", template)
}

func (r *Reporter) Stop() error {
	return r.progress("STOP")
}
