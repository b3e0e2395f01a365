package apt

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Record is the append-only list of packages the installer explicitly
// installed. Later cleanup consults it so those packages are never removed
// as live-system leftovers.
type Record struct {
	path string
	mu   sync.Mutex
}

// NewRecord returns a record stored at path.
func NewRecord(path string) *Record {
	return &Record{path: path}
}

// Path returns the record file location.
func (r *Record) Path() string { return r.path }

// Append adds names to the record, one per line.
func (r *Record) Append(names ...string) error {
	if len(names) == 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(r.path), err)
	}
	f, err := os.OpenFile(r.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening installed-packages record: %w", err)
	}
	w := bufio.NewWriter(f)
	for _, n := range names {
		fmt.Fprintln(w, n)
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return fmt.Errorf("writing installed-packages record: %w", err)
	}
	return f.Close()
}

// Load returns the recorded names. A missing record is empty.
func (r *Record) Load() (map[string]bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, err := os.Open(r.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]bool{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening installed-packages record: %w", err)
	}
	defer f.Close()

	out := make(map[string]bool)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if name := strings.TrimSpace(sc.Text()); name != "" {
			out[name] = true
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("reading installed-packages record: %w", err)
	}
	return out, nil
}
