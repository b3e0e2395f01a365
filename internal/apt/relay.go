package apt

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"
)

type statusKind int

const (
	statusDownload statusKind = iota + 1 // dlstatus
	statusPackage                        // pmstatus
	statusError                          // pmerror
	statusConffile                       // pmconffile
)

// statusLine is one parsed line of apt's APT::Status-Fd stream.
type statusLine struct {
	kind    statusKind
	subject string // package, or conffile path
	percent float64
	message string
}

var conffileRe = regexp.MustCompile(`^\s*'(.*)'\s*'(.*)'.*$`)

// parseStatusLine parses "kind:subject:percent:message". It returns false
// for lines it does not understand.
func parseStatusLine(line string) (statusLine, bool) {
	parts := strings.SplitN(strings.TrimRight(line, "\r\n"), ":", 4)
	if len(parts) != 4 {
		return statusLine{}, false
	}
	var kind statusKind
	switch parts[0] {
	case "dlstatus":
		kind = statusDownload
	case "pmstatus":
		kind = statusPackage
	case "pmerror":
		kind = statusError
	case "pmconffile":
		kind = statusConffile
	default:
		return statusLine{}, false
	}
	pct, err := strconv.ParseFloat(parts[2], 64)
	if err != nil {
		return statusLine{}, false
	}
	return statusLine{kind: kind, subject: parts[1], percent: pct, message: strings.TrimSpace(parts[3])}, true
}

// scanStatus parses r line by line and sends every recognised status on
// out. It returns when r is exhausted.
func scanStatus(r io.Reader, out chan<- statusLine, logger *slog.Logger) error {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line, ok := parseStatusLine(sc.Text())
		if !ok {
			logger.Debug("ignoring apt status line", "line", sc.Text())
			continue
		}
		out <- line
	}
	return sc.Err()
}

// relayStatus runs fn while a background task turns the status stream on r
// into observer calls. fn must close the writing end of r when it returns.
// If the relay fails, the rest of the stream is discarded and fn carries on
// without progress. If the fetch observer asks to cancel, fn's context is
// cancelled and the result is a plain failure.
func relayStatus(ctx context.Context, logger *slog.Logger, r io.Reader, fetch FetchObserver, install InstallObserver, fn func(context.Context) (bool, error)) (bool, error) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	lines := make(chan statusLine)
	var g errgroup.Group
	g.Go(func() error {
		defer close(lines)
		if err := scanStatus(r, lines, logger); err != nil {
			logger.Warn("apt status relay stopped, progress reporting disabled", "error", err)
			_, _ = io.Copy(io.Discard, r)
		}
		return nil
	})

	var ok bool
	g.Go(func() error {
		var err error
		ok, err = fn(runCtx)
		return err
	})

	aborted := false
	for line := range lines {
		if aborted {
			continue
		}
		if !dispatchStatus(line, fetch, install) {
			logger.Info("package download cancelled by observer")
			aborted = true
			cancel()
		}
	}

	err := g.Wait()
	if aborted && ctx.Err() == nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ok, nil
}

func dispatchStatus(l statusLine, fetch FetchObserver, install InstallObserver) bool {
	switch l.kind {
	case statusDownload:
		return fetch.Pulse(l.percent, l.message)
	case statusPackage:
		install.StatusChange(l.subject, l.percent, l.message)
	case statusError:
		install.Error(l.subject, l.message)
	case statusConffile:
		if m := conffileRe.FindStringSubmatch(l.message); m != nil {
			install.Conffile(m[1], m[2])
		}
	}
	return true
}
