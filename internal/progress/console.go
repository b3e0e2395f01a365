package progress

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// writerIsTTY reports whether w is a terminal. Plain io.Writer values such
// as *bytes.Buffer are never terminals.
func writerIsTTY(w io.Writer) bool {
	type fder interface {
		Fd() uintptr
	}
	if f, ok := w.(fder); ok {
		return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
	}
	return false
}

// Console renders progress as a single-line bar on a terminal, or as plain
// log-style lines when the writer is not a terminal.
//
// Example: [=========>          ]  45% Copying files (3:12 remaining)...
type Console struct {
	mu      sync.Mutex
	w       io.Writer
	tty     bool
	width   int
	catalog Catalog
	scale   Scale

	title   string
	message string
	lastPct int
	dirty   bool

	titleColor *color.Color
	infoColor  *color.Color
}

// NewConsole creates a console reporter writing to w (os.Stderr when nil).
func NewConsole(w io.Writer) *Console {
	if w == nil {
		w = os.Stderr
	}
	tty := writerIsTTY(w)
	c := &Console{
		w:          w,
		tty:        tty,
		width:      40,
		catalog:    Messages,
		lastPct:    -1,
		titleColor: color.New(color.Bold),
		infoColor:  color.New(color.FgCyan),
	}
	if !tty {
		c.titleColor.DisableColor()
		c.infoColor.DisableColor()
	}
	return c
}

// SetCatalog replaces the message catalog used for Info templates.
func (c *Console) SetCatalog(cat Catalog) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.catalog = cat
}

func (c *Console) Start(min, max int, title string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scale.Start(min, max)
	if c.scale.Depth() == 1 || c.title == "" {
		c.title = c.catalog.Render(title, nil)
		c.line(c.titleColor.Sprint(c.title))
	}
	c.render(false)
	return nil
}

func (c *Console) Region(start, end int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scale.Region(start, end)
	return nil
}

func (c *Console) Set(value int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scale.Set(value)
	c.render(false)
	return nil
}

func (c *Console) Step(n int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scale.Step(n)
	c.render(false)
	return nil
}

func (c *Console) Info(template string, vars Vars) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := c.catalog.Render(template, vars)
	if msg == c.message {
		return nil
	}
	c.message = msg
	c.render(true)
	return nil
}

func (c *Console) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.scale.Stop()
	if c.scale.Depth() == 0 {
		if c.tty && c.dirty {
			fmt.Fprintln(c.w)
		}
		c.dirty = false
		c.title = ""
		c.message = ""
		c.lastPct = -1
	}
	return nil
}

// line writes a full line, terminating any bar currently drawn.
func (c *Console) line(s string) {
	if c.tty && c.dirty {
		fmt.Fprintln(c.w)
		c.dirty = false
	}
	fmt.Fprintln(c.w, s)
}

// render draws the bar (must be called with lock held). On non-terminals a
// line is only emitted when the message changes or the percentage crosses a
// multiple of ten.
func (c *Console) render(messageChanged bool) {
	pct := int(c.scale.Percent())
	if c.tty {
		if pct == c.lastPct && !messageChanged {
			return
		}
		c.lastPct = pct
		fmt.Fprintf(c.w, "\r\033[K%s %3d%% %s", c.bar(pct), pct, c.infoColor.Sprint(c.message))
		c.dirty = true
		return
	}

	if !messageChanged && (c.lastPct >= 0 && pct/10 == c.lastPct/10) {
		return
	}
	c.lastPct = pct
	if c.message != "" {
		fmt.Fprintf(c.w, "%3d%% %s\n", pct, c.message)
	} else {
		fmt.Fprintf(c.w, "%3d%%\n", pct)
	}
}

func (c *Console) bar(pct int) string {
	filled := pct * c.width / 100
	var b strings.Builder
	b.WriteByte('[')
	for i := 0; i < c.width; i++ {
		switch {
		case i < filled-1:
			b.WriteByte('=')
		case i == filled-1:
			b.WriteByte('>')
		default:
			b.WriteByte(' ')
		}
	}
	b.WriteByte(']')
	return b.String()
}
