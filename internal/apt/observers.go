package apt

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BadgerOps/liveinstall/internal/clone"
	"github.com/BadgerOps/liveinstall/internal/progress"
)

// ProgressFetch reports download progress as a bar of its own, with a
// time-remaining message once the rate has settled. An aborted reporter
// cancels the download.
type ProgressFetch struct {
	r            progress.Reporter
	title        string
	infoStarting string
	info         string
	logger       *slog.Logger

	started bool
	eta     *clone.Estimator
}

// NewProgressFetch creates a fetch observer. infoStarting may be empty.
func NewProgressFetch(r progress.Reporter, title, infoStarting, info string, logger *slog.Logger) *ProgressFetch {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgressFetch{r: r, title: title, infoStarting: infoStarting, info: info, logger: logger}
}

func (f *ProgressFetch) Start() {
	f.started = true
	f.eta = clone.NewEstimator(100*100, clock())
	_ = f.r.Start(0, 100, f.title)
	if f.infoStarting != "" {
		_ = f.r.Info(f.infoStarting, nil)
	}
}

func (f *ProgressFetch) Pulse(percent float64, status string) bool {
	if errors.Is(f.r.Set(int(percent)), progress.ErrAborted) {
		return false
	}
	if f.eta == nil {
		return true
	}
	remaining, ok := f.eta.Observe(clock(), int64(percent*100))
	if !ok {
		return true
	}
	err := f.r.Info(f.info, progress.Vars{"TIME": clone.FormatRemaining(remaining)})
	return !errors.Is(err, progress.ErrAborted)
}

func (f *ProgressFetch) Stop() {
	if f.started {
		f.started = false
		_ = f.r.Stop()
	}
}

// ProgressInstall reports dpkg progress and remembers package errors.
type ProgressInstall struct {
	r           progress.Reporter
	title       string
	info        string
	errTemplate string
	logger      *slog.Logger

	mu      sync.Mutex
	started bool
	errs    []string
}

// NewProgressInstall creates an install observer. errTemplate may be empty.
func NewProgressInstall(r progress.Reporter, title, info, errTemplate string, logger *slog.Logger) *ProgressInstall {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProgressInstall{r: r, title: title, info: info, errTemplate: errTemplate, logger: logger}
}

func (p *ProgressInstall) StartUpdate() {
	p.mu.Lock()
	p.started = true
	p.mu.Unlock()
	_ = p.r.Start(0, 100, p.title)
}

func (p *ProgressInstall) StatusChange(pkg string, percent float64, status string) {
	_ = p.r.Set(int(percent))
	_ = p.r.Info(p.info, progress.Vars{"DESCRIPTION": status})
}

func (p *ProgressInstall) Error(pkg, message string) {
	p.logger.Error("package error", "package", pkg, "message", message)
	p.mu.Lock()
	p.errs = append(p.errs, fmt.Sprintf("%s: %s", pkg, message))
	p.mu.Unlock()
	if p.errTemplate != "" {
		_ = p.r.Info(p.errTemplate, progress.Vars{"PACKAGE": pkg, "MESSAGE": message})
	}
}

func (p *ProgressInstall) Conffile(current, proposed string) {
	p.logger.Info("keeping modified configuration file", "file", current, "proposed", proposed)
}

func (p *ProgressInstall) FinishUpdate() {
	p.mu.Lock()
	started := p.started
	p.started = false
	p.mu.Unlock()
	if started {
		_ = p.r.Stop()
	}
}

// Errors returns the package errors seen so far.
func (p *ProgressInstall) Errors() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.errs...)
}
