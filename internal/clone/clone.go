// Package clone copies a live filesystem tree onto the target root,
// preserving file types, ownership, permissions and timestamps, while
// reporting progress and an estimate of the time remaining.
package clone

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/BadgerOps/liveinstall/internal/progress"
)

// tempPrefix marks files that are still being written.
const tempPrefix = ".liveinstall-partial."

// Cloner reproduces Source under Target.
type Cloner struct {
	Source   string
	Target   string
	Reporter progress.Reporter

	logger *slog.Logger
	now    func() time.Time

	reportErr bool
}

// Stats summarizes a finished clone.
type Stats struct {
	Entries  int
	Bytes    int64
	Copied   int // regular files written
	Skipped  int // entries already present in the target
	Duration time.Duration
}

// New creates a Cloner. A nil reporter discards progress and a nil logger
// uses slog.Default().
func New(source, target string, reporter progress.Reporter, logger *slog.Logger) *Cloner {
	if reporter == nil {
		reporter = progress.Discard
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cloner{
		Source:   source,
		Target:   target,
		Reporter: reporter,
		logger:   logger,
		now:      time.Now,
	}
}

// report forwards a progress error to the log once; cloning carries on
// regardless of the observer.
func (c *Cloner) report(err error) {
	if err != nil && !c.reportErr {
		c.reportErr = true
		c.logger.Warn("progress observer failed, continuing copy", "error", err)
	}
}

// Scan walks the source tree and returns every entry below it along with
// the total size. Walk progress is reported as 0..10 on the current bar.
func (c *Cloner) Scan(ctx context.Context) ([]Entry, int64, error) {
	dirs := 0
	err := filepath.WalkDir(c.Source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			dirs++
		}
		return nil
	})
	if err != nil {
		return nil, 0, &CopyError{Path: c.Source, Op: "walk", Err: err}
	}
	if dirs == 0 {
		dirs = 1
	}

	var (
		entries  []Entry
		total    int64
		walkPos  int
		walkProg int
	)
	err = filepath.WalkDir(c.Source, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() {
			walkPos++
			if p := walkPos * 10 / dirs; p != walkProg {
				walkProg = p
				c.report(c.Reporter.Set(walkProg))
			}
		}
		if path == c.Source {
			return nil
		}
		rel, err := filepath.Rel(c.Source, path)
		if err != nil {
			return err
		}
		e, err := statEntry(path)
		if err != nil {
			return err
		}
		e.Rel = rel
		e.Source = path
		e.Target = filepath.Join(c.Target, rel)
		total += e.Size
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, 0, ctxErr
		}
		return nil, 0, &CopyError{Path: c.Source, Op: "walk", Err: err}
	}
	return entries, total, nil
}

// Run clones the whole tree. Entries already present in the target are
// not rewritten but get their ownership, mode and timestamps reapplied, so
// an interrupted run can simply be repeated.
func (c *Cloner) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	start := c.now()

	if _, err := os.Stat(c.Source); err != nil {
		return stats, &CopyError{Path: c.Source, Op: "stat", Err: err}
	}
	if err := os.MkdirAll(c.Target, 0o755); err != nil {
		return stats, &CopyError{Path: c.Target, Op: "mkdir", Err: err}
	}

	c.report(c.Reporter.Start(0, 100, "liveinstall/install/title"))
	defer func() { c.report(c.Reporter.Stop()) }()
	c.report(c.Reporter.Info("liveinstall/install/scanning", nil))

	entries, total, err := c.Scan(ctx)
	if err != nil {
		return stats, err
	}
	stats.Entries = len(entries)
	stats.Bytes = total

	c.report(c.Reporter.Set(10))
	c.report(c.Reporter.Info("liveinstall/install/copying", nil))

	old := setUmask(0)
	defer setUmask(old)

	var (
		copied   int64
		copyProg int
		dirTimes []Entry
		eta      = NewEstimator(total, c.now())
	)
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		wrote, err := c.copyEntry(e)
		if err != nil {
			return stats, err
		}
		switch {
		case wrote && e.Kind == KindRegular:
			stats.Copied++
		case !wrote:
			stats.Skipped++
		}

		copied += e.Size
		if err := applyOwnership(e); err != nil {
			return stats, err
		}
		if e.Kind == KindDirectory {
			dirTimes = append(dirTimes, e)
		}

		if total > 0 {
			if p := int(copied * 90 / total); p != copyProg {
				copyProg = p
				c.report(c.Reporter.Set(10 + copyProg))
			}
		}
		if remaining, ok := eta.Observe(c.now(), copied); ok {
			c.report(c.Reporter.Info("liveinstall/install/copying_time",
				progress.Vars{"TIME": FormatRemaining(remaining)}))
		}
	}

	for _, d := range dirTimes {
		if err := applyTimes(d.Target, d.Atime, d.Mtime); err != nil {
			return stats, err
		}
	}

	c.report(c.Reporter.Set(100))
	stats.Duration = c.now().Sub(start)
	c.logger.Info("clone complete",
		"source", c.Source, "target", c.Target,
		"entries", stats.Entries, "copied", stats.Copied, "skipped", stats.Skipped,
		"duration", stats.Duration)
	return stats, nil
}

// copyEntry creates e in the target unless something is already there. It
// reports whether anything was written.
func (c *Cloner) copyEntry(e Entry) (bool, error) {
	exists, err := lexists(e.Target)
	if err != nil {
		return false, &CopyError{Path: e.Target, Op: "lstat", Err: err}
	}

	switch e.Kind {
	case KindDirectory:
		if exists {
			if !isDir(e.Target) {
				return false, &CopyError{Path: e.Target, Op: "mkdir", Err: fs.ErrExist}
			}
			return false, nil
		}
		if err := mkdir(e.Target, e.Mode); err != nil {
			return false, &CopyError{Path: e.Target, Op: "mkdir", Err: err}
		}
		return true, nil
	}

	if exists {
		c.logger.Debug("target exists, not copying", "path", e.Rel)
		return false, nil
	}

	switch e.Kind {
	case KindSymlink:
		dest, err := os.Readlink(e.Source)
		if err != nil {
			return false, &CopyError{Path: e.Source, Op: "readlink", Err: err}
		}
		if err := os.Symlink(dest, e.Target); err != nil {
			return false, &CopyError{Path: e.Target, Op: "symlink", Err: err}
		}
	case KindCharDevice, KindBlockDevice, KindFIFO, KindSocket:
		if err := mknod(e); err != nil {
			return false, &CopyError{Path: e.Target, Op: "mknod", Err: err}
		}
	case KindRegular:
		if err := copyFile(e.Source, e.Target); err != nil {
			return false, err
		}
	default:
		return false, &CopyError{Path: e.Source, Op: "copy", Err: fmt.Errorf("unsupported file type %s", e.Kind)}
	}
	return true, nil
}

// copyFile writes src to a temporary sibling of dst and renames it into
// place, so dst only ever appears complete.
func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return &CopyError{Path: src, Op: "open", Err: err}
	}
	defer in.Close()

	// a short random name keeps room for names up to NAME_MAX
	out, err := os.CreateTemp(filepath.Dir(dst), tempPrefix+"*")
	if err != nil {
		return &CopyError{Path: dst, Op: "create", Err: err}
	}
	tmp := out.Name()
	defer func() {
		if err != nil {
			out.Close()
			os.Remove(tmp)
		}
	}()

	if _, err = io.Copy(out, in); err != nil {
		return &CopyError{Path: dst, Op: "write", Err: err}
	}
	if err = out.Close(); err != nil {
		return &CopyError{Path: dst, Op: "close", Err: err}
	}
	if err = os.Rename(tmp, dst); err != nil {
		return &CopyError{Path: dst, Op: "rename", Err: err}
	}
	return nil
}

// IsPartial reports whether name is a leftover temporary file from an
// interrupted copy.
func IsPartial(name string) bool {
	return len(name) > len(tempPrefix) && name[:len(tempPrefix)] == tempPrefix
}

// RemovePartials deletes temporary files an interrupted run left in the
// target tree.
func RemovePartials(target string) (int, error) {
	n := 0
	err := filepath.WalkDir(target, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() && IsPartial(d.Name()) {
			if err := os.Remove(path); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	if err != nil {
		return n, fmt.Errorf("removing partial files under %s: %w", target, err)
	}
	return n, nil
}
