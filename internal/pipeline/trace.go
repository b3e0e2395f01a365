package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"
)

func isCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// writeTrace records a failed run for whoever supervises the installer.
func writeTrace(path string, err error, stack []byte) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Exception during installation at %s:\n", time.Now().UTC().Format(time.RFC3339))
	var ie *InstallError
	if errors.As(err, &ie) {
		fmt.Fprintf(&b, "stage: %s\n", ie.Stage)
	}
	var sf *StageFailure
	if errors.As(err, &sf) && sf.Code != 0 {
		fmt.Fprintf(&b, "exit status: %d\n", sf.Code)
	}
	fmt.Fprintf(&b, "error: %v\n", err)
	for e := errors.Unwrap(err); e != nil; e = errors.Unwrap(e) {
		fmt.Fprintf(&b, "  caused by (%T): %v\n", e, e)
	}
	if len(stack) > 0 {
		b.WriteString("\n")
		b.Write(stack)
	}
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func removeTrace(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("removing stale trace: %w", err)
	}
	return nil
}
