package debconf

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/BadgerOps/liveinstall/internal/sysexec"
)

// Communicate runs debconf-communicate inside the target root and feeds it
// commands, one per line. It returns one response value per command; the
// first failing response is returned as an *Error alongside the values
// collected so far.
func Communicate(ctx context.Context, runner sysexec.Runner, target string, commands ...string) ([]string, error) {
	var in bytes.Buffer
	for _, c := range commands {
		if strings.Contains(c, "\n") {
			return nil, fmt.Errorf("debconf command %q contains a newline", c)
		}
		in.WriteString(c)
		in.WriteByte('\n')
	}

	var out bytes.Buffer
	cmd := sysexec.Chroot(target, sysexec.Command("debconf-communicate", "-fnoninteractive", "liveinstall"))
	cmd.Stdin = &in
	cmd.Stdout = &out
	code, err := runner.Run(ctx, cmd)
	if err != nil {
		return nil, fmt.Errorf("debconf-communicate in %s: %w", target, err)
	}

	var values []string
	sc := bufio.NewScanner(&out)
	for sc.Scan() {
		v, err := parseResponse(sc.Text())
		if err != nil {
			return values, err
		}
		values = append(values, v)
	}
	if code != 0 {
		return values, fmt.Errorf("debconf-communicate in %s exited with status %d", target, code)
	}
	if len(values) != len(commands) {
		return values, fmt.Errorf("debconf-communicate returned %d responses for %d commands", len(values), len(commands))
	}
	return values, nil
}

// CopyQuestion copies the answer to q from src into the target's debconf
// database and marks it seen so the target never asks again.
func CopyQuestion(ctx context.Context, runner sysexec.Runner, src Store, target, q string) error {
	v, err := src.Get(q)
	if err != nil {
		return fmt.Errorf("reading %s: %w", q, err)
	}
	_, err = Communicate(ctx, runner, target,
		fmt.Sprintf("SET %s %s", q, v),
		fmt.Sprintf("FSET %s seen true", q),
	)
	return err
}
