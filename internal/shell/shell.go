// Package shell runs external commands on behalf of the engine: typed
// command specs (argv, user, working directory) and user-supplied guard
// commands.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strings"
	"time"
)

// DefaultMaxOutput caps captured stdout/stderr per stream.
const DefaultMaxOutput = 1 << 20

// Command describes one process to start.
//
// When Args is non-empty it is executed directly with no shell. Otherwise
// Line is run through "sh -c". User, when set, names the account the process
// runs as; its HOME, USER and LOGNAME replace the caller's.
type Command struct {
	Args []string
	Line string
	User string
	Dir  string
	Env  []string
}

// String renders the command for logs.
func (c Command) String() string {
	if len(c.Args) > 0 {
		return strings.Join(c.Args, " ")
	}
	return c.Line
}

// Result is the outcome of a process that ran to completion.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// StderrTail returns the last n lines of stderr, for error messages.
func (r Result) StderrTail(n int) string {
	lines := strings.Split(strings.TrimRight(r.Stderr, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// Runner executes commands. The zero value is ready to use.
type Runner struct {
	// MaxOutput bounds captured bytes per stream; 0 means DefaultMaxOutput.
	MaxOutput int
	// WaitDelay bounds how long pipes are drained after the process is
	// killed on cancellation; 0 means 5s.
	WaitDelay time.Duration
}

// Run starts c and waits for it. A non-zero exit is reported in
// Result.ExitCode, not as an error; errors mean the process could not be
// started, or ctx ended before it finished (the whole process group is
// killed in that case and the ctx error is wrapped).
func (r *Runner) Run(ctx context.Context, c Command) (Result, error) {
	cmd, err := r.build(ctx, c)
	if err != nil {
		return Result{}, err
	}

	limit := r.MaxOutput
	if limit <= 0 {
		limit = DefaultMaxOutput
	}
	stdout := &limitedBuffer{limit: limit}
	stderr := &limitedBuffer{limit: limit}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	runErr := cmd.Run()
	res := Result{Stdout: stdout.String(), Stderr: stderr.String()}

	if ctxErr := ctx.Err(); ctxErr != nil {
		res.ExitCode = -1
		return res, fmt.Errorf("%s: %w", c, ctxErr)
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		return res, fmt.Errorf("%s: %w", c, runErr)
	}
	return res, nil
}

// Eval runs line through the shell and returns true when it exits 0.
// A non-zero exit is not treated as a Go error; only execution failures are.
func (r *Runner) Eval(ctx context.Context, line string) (bool, error) {
	res, err := r.Run(ctx, Command{Line: line})
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

func (r *Runner) build(ctx context.Context, c Command) (*exec.Cmd, error) {
	var cmd *exec.Cmd
	switch {
	case len(c.Args) > 0:
		cmd = exec.CommandContext(ctx, c.Args[0], c.Args[1:]...)
	case c.Line != "":
		cmd = exec.CommandContext(ctx, "sh", "-c", c.Line)
	default:
		return nil, errors.New("command is empty")
	}
	cmd.Dir = c.Dir
	cmd.Env = append(os.Environ(), c.Env...)

	if c.User != "" {
		u, err := user.Lookup(c.User)
		if err != nil {
			return nil, fmt.Errorf("run as %q: %w", c.User, err)
		}
		if err := runAs(cmd, u); err != nil {
			return nil, fmt.Errorf("run as %q: %w", c.User, err)
		}
		cmd.Env = append(cmd.Env, "HOME="+u.HomeDir, "USER="+u.Username, "LOGNAME="+u.Username)
		if cmd.Dir == "" {
			cmd.Dir = u.HomeDir
		}
	}

	isolate(cmd)
	cmd.WaitDelay = r.WaitDelay
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = 5 * time.Second
	}
	return cmd, nil
}

type limitedBuffer struct {
	buf       bytes.Buffer
	limit     int
	truncated bool
}

func (l *limitedBuffer) Write(p []byte) (int, error) {
	remaining := l.limit - l.buf.Len()
	if remaining <= 0 {
		l.truncated = true
		return len(p), nil
	}
	if len(p) > remaining {
		l.truncated = true
		l.buf.Write(p[:remaining])
		return len(p), nil
	}
	return l.buf.Write(p)
}

func (l *limitedBuffer) String() string {
	if l.truncated {
		return l.buf.String() + "\n[output truncated]"
	}
	return l.buf.String()
}
