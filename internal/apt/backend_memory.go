package apt

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

// MemoryBackend pretends to apply changes. It emits the same status stream
// apt-get would, so observers and the relay are exercised, and records
// every commit. It backs dry runs and tests.
type MemoryBackend struct {
	// FailFetch makes downloads fail; FailInstall fails the named package.
	FailFetch   bool
	FailInstall map[string]string
	// Conffiles maps a package to a conffile prompt it raises.
	Conffiles map[string]string

	logger *slog.Logger

	mu      sync.Mutex
	commits []Changes
	updates int
}

// NewMemoryBackend returns an empty backend. A nil logger uses
// slog.Default().
func NewMemoryBackend(logger *slog.Logger) *MemoryBackend {
	if logger == nil {
		logger = slog.Default()
	}
	return &MemoryBackend{logger: logger}
}

// Commits returns every successfully applied change set.
func (b *MemoryBackend) Commits() []Changes {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Changes(nil), b.commits...)
}

// Updates returns how many index updates ran.
func (b *MemoryBackend) Updates() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.updates
}

func (b *MemoryBackend) Update(ctx context.Context, fetch FetchObserver) (bool, error) {
	fetch.Start()
	defer fetch.Stop()
	pr, pw := io.Pipe()
	defer pr.Close()
	return relayStatus(ctx, b.logger, pr, fetch, NopInstall{}, func(ctx context.Context) (bool, error) {
		defer pw.Close()
		for pct := 0; pct <= 100; pct += 25 {
			if err := ctx.Err(); err != nil {
				return false, err
			}
			fmt.Fprintf(pw, "dlstatus:%d:%d:Retrieving index %d\n", pct/25+1, pct, pct/25+1)
		}
		if b.FailFetch {
			return false, nil
		}
		b.mu.Lock()
		b.updates++
		b.mu.Unlock()
		return true, nil
	})
}

func (b *MemoryBackend) Commit(ctx context.Context, changes Changes, fetch FetchObserver, install InstallObserver) (bool, error) {
	fetch.Start()
	install.StartUpdate()
	defer func() {
		fetch.Stop()
		install.FinishUpdate()
	}()

	pr, pw := io.Pipe()
	defer pr.Close()
	return relayStatus(ctx, b.logger, pr, fetch, install, func(ctx context.Context) (bool, error) {
		defer pw.Close()
		n := len(changes.Install)
		for i := range changes.Install {
			if err := ctx.Err(); err != nil {
				return false, err
			}
			fmt.Fprintf(pw, "dlstatus:%d:%.2f:Retrieving file %d of %d\n", i+1, float64(i+1)*100/float64(n), i+1, n)
		}
		if b.FailFetch && n > 0 {
			return false, nil
		}

		total := len(changes.Install) + len(changes.Remove)
		step := 0
		ok := true
		for _, name := range changes.Remove {
			step++
			fmt.Fprintf(pw, "pmstatus:%s:%.2f:Removing %s\n", name, float64(step)*100/float64(total), name)
		}
		for _, name := range changes.Install {
			step++
			if msg, bad := b.FailInstall[name]; bad {
				fmt.Fprintf(pw, "pmerror:%s:%.2f:%s\n", name, float64(step)*100/float64(total), msg)
				ok = false
				continue
			}
			if conf, has := b.Conffiles[name]; has {
				fmt.Fprintf(pw, "pmconffile:%s:%.2f:'%s' '%s.dpkg-new' 1 1\n", conf, float64(step)*100/float64(total), conf, conf)
			}
			fmt.Fprintf(pw, "pmstatus:%s:%.2f:Installing %s\n", name, float64(step)*100/float64(total), name)
		}
		if !ok {
			return false, nil
		}
		b.mu.Lock()
		b.commits = append(b.commits, changes)
		b.mu.Unlock()
		return true, nil
	})
}
