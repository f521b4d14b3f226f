package awg

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Runner abstracts external command execution so the adapter can be
// exercised without the awg binaries installed.
type Runner interface {
	// Output runs the command and returns its trimmed stdout.
	Output(ctx context.Context, name string, args ...string) (string, error)
	// OutputStdin runs the command with stdin fed from input.
	OutputStdin(ctx context.Context, input, name string, args ...string) (string, error)
}

// CommandError reports a failed external command, carrying enough
// detail to log without re-running it.
type CommandError struct {
	Name     string
	Args     []string
	ExitCode int // -1 when the process did not run or was killed
	Stderr   string
	Err      error
}

func (e *CommandError) Error() string {
	msg := fmt.Sprintf("%s %s: exit %d", e.Name, strings.Join(e.Args, " "), e.ExitCode)
	if e.Stderr != "" {
		msg += ": " + e.Stderr
	}
	return msg
}

func (e *CommandError) Unwrap() error { return e.Err }

// ExecRunner runs commands on the host. A positive Timeout bounds
// every invocation; a hung awg call must not wedge the reconcile loop.
type ExecRunner struct {
	Timeout time.Duration
}

func (r *ExecRunner) Output(ctx context.Context, name string, args ...string) (string, error) {
	return r.run(ctx, "", name, args...)
}

func (r *ExecRunner) OutputStdin(ctx context.Context, input, name string, args ...string) (string, error) {
	return r.run(ctx, input, name, args...)
}

func (r *ExecRunner) run(ctx context.Context, input, name string, args ...string) (string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if input != "" {
		cmd.Stdin = strings.NewReader(input)
	}

	if err := cmd.Run(); err != nil {
		cerr := &CommandError{
			Name:     name,
			Args:     args,
			ExitCode: -1,
			Stderr:   strings.TrimSpace(stderr.String()),
			Err:      err,
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			cerr.ExitCode = exitErr.ExitCode()
		}
		if ctx.Err() != nil {
			cerr.Err = ctx.Err()
		}
		return "", cerr
	}
	return strings.TrimSpace(stdout.String()), nil
}
