// Package sysexec is the boundary between the installer and external
// programs. Everything that shells out goes through a Runner so tests can
// substitute a fake.
package sysexec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
)

// Cmd describes one program invocation.
type Cmd struct {
	Name string
	Args []string
	// Env entries are appended to the parent environment.
	Env   []string
	Dir   string
	Stdin io.Reader
	// Stdout and Stderr default to the runner's log when nil.
	Stdout io.Writer
	Stderr io.Writer
	// ExtraFiles become fds 3, 4, ... in the child.
	ExtraFiles []*os.File
}

func (c Cmd) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Runner runs a command to completion and returns its exit status. A
// nonzero status is not an error; err is only set when the program could
// not be started or was killed by ctx.
type Runner interface {
	Run(ctx context.Context, cmd Cmd) (int, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, cmd Cmd) (int, error)

func (f RunnerFunc) Run(ctx context.Context, cmd Cmd) (int, error) { return f(ctx, cmd) }

// Exec runs commands with os/exec.
type Exec struct {
	logger *slog.Logger
}

// NewExec returns an Exec runner. A nil logger uses slog.Default().
func NewExec(logger *slog.Logger) *Exec {
	if logger == nil {
		logger = slog.Default()
	}
	return &Exec{logger: logger}
}

func (e *Exec) Run(ctx context.Context, c Cmd) (int, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdin = c.Stdin
	cmd.ExtraFiles = c.ExtraFiles
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}

	var captured bytes.Buffer
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr
	if cmd.Stdout == nil {
		cmd.Stdout = &captured
	}
	if cmd.Stderr == nil {
		cmd.Stderr = &captured
	}

	e.logger.Debug("running command", "cmd", c.String())
	err := cmd.Run()
	if captured.Len() > 0 {
		e.logger.Debug("command output", "cmd", c.Name, "output", strings.TrimSpace(captured.String()))
	}
	if err == nil {
		return 0, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return -1, ctxErr
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		code := exitErr.ExitCode()
		e.logger.Warn("command exited nonzero", "cmd", c.String(), "code", code)
		return code, nil
	}
	return -1, fmt.Errorf("running %s: %w", c.Name, err)
}

// Chroot rewrites c to run inside root via chroot(8).
func Chroot(root string, c Cmd) Cmd {
	c.Args = append([]string{root, c.Name}, c.Args...)
	c.Name = "chroot"
	return c
}

// Command is shorthand for a Cmd with only a name and arguments.
func Command(name string, args ...string) Cmd {
	return Cmd{Name: name, Args: args}
}

// Check runs c and turns a nonzero exit status into an error.
func Check(ctx context.Context, r Runner, c Cmd) error {
	code, err := r.Run(ctx, c)
	if err != nil {
		return err
	}
	if code != 0 {
		return fmt.Errorf("%s exited with status %d", c.String(), code)
	}
	return nil
}
