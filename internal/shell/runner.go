// Package shell runs external commands for the cycle. Nonzero exits are
// ordinary, inspectable results rather than errors; reports embed the
// output either way.
package shell

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
)

// Cmd describes one external command invocation.
type Cmd struct {
	Name  string
	Args  []string
	Dir   string   // working directory; empty inherits the process cwd
	Env   []string // full replacement environment; nil inherits ambient
	Stdin string
}

// String returns the display form used in report command blocks.
func (c Cmd) String() string {
	return strings.Join(append([]string{c.Name}, c.Args...), " ")
}

// Result is the observed outcome of a command. Output holds stdout and
// stderr merged in emission order (both streams share one buffer, so the
// interleaving is best effort, not byte-exact).
type Result struct {
	ExitCode int
	Output   string
}

// Runner executes external commands and spawns the one detached daemon.
type Runner struct{}

func New() *Runner {
	return &Runner{}
}

// Run executes c and blocks until it exits. A nonzero exit comes back in
// Result with a nil error. err is non-nil only when the process could not
// be started at all; Output then carries the failure text so callers can
// still embed it in a report.
func (r *Runner) Run(ctx context.Context, c Cmd) (Result, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Dir = c.Dir
	if c.Env != nil {
		cmd.Env = c.Env
	}
	if c.Stdin != "" {
		cmd.Stdin = strings.NewReader(c.Stdin)
	}

	var buf bytes.Buffer
	cmd.Stdout = &buf
	cmd.Stderr = &buf

	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return Result{ExitCode: exitErr.ExitCode(), Output: buf.String()}, nil
		}
		return Result{ExitCode: -1, Output: err.Error()}, err
	}
	return Result{ExitCode: 0, Output: buf.String()}, nil
}
